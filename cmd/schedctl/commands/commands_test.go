package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"obsched/internal/command"
	"obsched/internal/eventbus"
	"obsched/internal/model"
	"obsched/internal/rpc"
	"obsched/internal/scheduler"
	"obsched/internal/storage"
	logx "obsched/pkg/logx"
)

func serveGlobal(t *testing.T) string {
	t.Helper()
	s, err := scheduler.New(scheduler.Config{Role: model.RoleGlobal}, scheduler.Deps{Store: storage.Nop(), Bus: eventbus.New(), Log: logx.Nop()})
	require.NoError(t, err)

	dir, err := os.MkdirTemp("/tmp", "ctl")
	require.NoError(t, err)
	sock := filepath.Join(dir, "g.sock")
	srv := rpc.NewServer(rpc.ServerConfig{Addr: sock}, command.NewDispatcher(s, logx.Nop()), logx.Nop())
	require.NoError(t, srv.Listen())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = srv.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = os.RemoveAll(dir)
	})
	return sock
}

func run(t *testing.T, sock string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd("test")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--addr", sock, "--timeout", "2s"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootShowsHelp(t *testing.T) {
	out, err := run(t, "/nonexistent")
	require.NoError(t, err)
	assert.Contains(t, out, "Usage:")
	assert.Contains(t, out, "init-db")
}

func TestSiteLifecycle(t *testing.T) {
	sock := serveGlobal(t)

	out, err := run(t, sock, "site", "add", `{"SITE-INFO":{"sitename":"lenghu","site_lon":93.9,"site_lat":38.6,"site_alt":4200}}`)
	require.NoError(t, err)
	id := strings.TrimSpace(out)
	assert.NotEmpty(t, id)

	out, err = run(t, sock, "site", "list")
	require.NoError(t, err)
	var sites []model.Site
	require.NoError(t, json.Unmarshal([]byte(out), &sites))
	require.Len(t, sites, 1)
	assert.Equal(t, "lenghu", sites[0].Name)

	_, err = run(t, sock, "site", "mask", "lenghu")
	require.NoError(t, err)
	_, err = run(t, sock, "site", "delete", id)
	require.NoError(t, err)

	out, err = run(t, sock, "site", "list")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &sites))
	assert.Empty(t, sites)

	_, err = run(t, sock, "site", "delete", "nowhere")
	assert.ErrorIs(t, err, scheduler.ErrNotFound)
}

func TestTargetFromFileAndPriority(t *testing.T) {
	sock := serveGlobal(t)
	doc := filepath.Join(t.TempDir(), "target.json")
	require.NoError(t, os.WriteFile(doc, []byte(`{"TARGET-INFO":{"targname":"m31","ra_targ":10.68,"dec_targ":41.27,"nside":16}}`), 0o600))

	out, err := run(t, sock, "target", "add", "@"+doc)
	require.NoError(t, err)
	id := strings.TrimSpace(out)

	_, err = run(t, sock, "target", "priority", id, "7")
	require.NoError(t, err)
	_, err = run(t, sock, "target", "mask", "--nside", "16", id)
	require.NoError(t, err)

	_, err = run(t, sock, "target", "priority", "abc", "1")
	assert.ErrorContains(t, err, "invalid target id")
}

func TestBlockPushPopAck(t *testing.T) {
	sock := serveGlobal(t)
	out, err := run(t, sock, "site", "add", `{"SITE-INFO":{"sitename":"s1"}}`)
	require.NoError(t, err)
	sid := strings.TrimSpace(out)

	block := `{"GENERAL-INFO":{"operate":"deliver","timestamp":1,"block_id":"blk-1","site_id":` + sid + `},
		"TASK-INFO":{"task_id":9,"targ_id":1,"tel_id":1,"site_id":` + sid + `,"status":1}}`
	_, err = run(t, sock, "block", "push", block)
	require.NoError(t, err)

	out, err = run(t, sock, "block", "pop", sid)
	require.NoError(t, err)
	assert.Contains(t, out, "blk-1")

	_, err = run(t, sock, "block", "ack", "blk-1")
	require.NoError(t, err)
}

func TestInitDBSqlite(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "scheduler.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(`
scheduler:
  role: global
rpc:
  addr: /tmp/unused.sock
handoff:
  sock_file: /tmp/unused-h.sock
database:
  driver: sqlite
  path: `+filepath.Join(dir, "sched.db")+`
logging:
  level: warn
  console: false
`), 0o600))

	root := NewRootCmd("test")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"init-db", "--config", cfg})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, root.ExecuteContext(ctx))
	assert.Contains(t, out.String(), "schema ready for role global")
	_, err := os.Stat(filepath.Join(dir, "sched.db"))
	assert.NoError(t, err)
}
