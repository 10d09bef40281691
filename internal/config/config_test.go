package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const siteYAML = `
scheduler:
  role: site
  description: north station
  site:
    site_id: 2
    sitename: lenghu
    site_lon: 93.9
    site_lat: 38.6
    site_alt: 4200
upstream:
  addr: /run/obsched/global.sock
database:
  driver: sqlite
  path: /var/lib/obsched/site.db
  busy_timeout: 2s
handoff:
  sock_file: /run/obsched/handoff.sock
  io_timeout: 5s
  reconnect_max: 30s
rpc:
  addr: /run/obsched/site.sock
  rate_per_sec: 50
logging:
  level: info
  console: true
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadYAML(t *testing.T) {
	p := writeFile(t, t.TempDir(), "obsched.yaml", siteYAML)
	cfg, err := NewManager(p).Load()
	require.NoError(t, err)

	assert.Equal(t, "site", cfg.Scheduler.Role)
	assert.Equal(t, uint64(2), cfg.Scheduler.Site.ID)
	assert.Equal(t, "lenghu", cfg.Scheduler.Site.Name)
	assert.InDelta(t, 38.6, cfg.Scheduler.Site.Lat, 1e-9)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 50, cfg.RPC.RatePerSec)
	assert.Equal(t, "5s", cfg.Handoff.IOTimeout)
}

func TestLoadJSON(t *testing.T) {
	p := writeFile(t, t.TempDir(), "obsched.json", `{
		"scheduler": {"role": "global"},
		"handoff": {"sock_file": "/tmp/h.sock", "max_task_in_block": 8},
		"rpc": {"network": "tcp", "addr": "127.0.0.1:7001"},
		"planner": {"enabled": true, "schedule": "@every 1m"},
		"logging": {"level": "debug"}
	}`)
	cfg, err := NewManager(p).Load()
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Handoff.MaxTaskInBlock)
	assert.True(t, cfg.Planner.Enabled)
}

func TestParseIsStrict(t *testing.T) {
	dir := t.TempDir()

	_, err := NewManager(writeFile(t, dir, "a.yaml", siteYAML+"\nbogus: 1\n")).Parse()
	assert.Error(t, err, "unknown keys are rejected")

	_, err = NewManager(writeFile(t, dir, "b.json", `{"rpc":{"addr":"x"}}{}`)).Parse()
	assert.Error(t, err, "trailing data is rejected")

	_, err = NewManager(filepath.Join(dir, "missing.yaml")).Parse()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Scheduler: SchedulerConfig{Role: "global"},
			Handoff:   HandoffConfig{SockFile: "/tmp/h.sock"},
			RPC:       RPCConfig{Addr: "/tmp/r.sock"},
		}
	}
	cases := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"ok", func(*Config) {}, ""},
		{"unknown role", func(c *Config) { c.Scheduler.Role = "moon" }, "scheduler.role"},
		{"site without id", func(c *Config) {
			c.Scheduler.Role = "site"
			c.Upstream.Addr = "x"
		}, "site_id"},
		{"unit without telescope", func(c *Config) {
			c.Scheduler.Role = "unit"
			c.Upstream.Addr = "x"
		}, "tel_id"},
		{"site without upstream", func(c *Config) {
			c.Scheduler.Role = "site"
			c.Scheduler.Site.ID = 2
		}, "upstream.addr"},
		{"no handoff socket", func(c *Config) { c.Handoff.SockFile = "" }, "handoff.sock_file"},
		{"no rpc addr", func(c *Config) { c.RPC.Addr = "" }, "rpc.addr"},
		{"bad network", func(c *Config) { c.RPC.Network = "udp" }, "rpc.network"},
		{"negative rate", func(c *Config) { c.RPC.RatePerSec = -1 }, "rate_per_sec"},
		{"bad duration", func(c *Config) { c.Handoff.IOTimeout = "soon" }, "handoff.io_timeout"},
		{"negative duration", func(c *Config) { c.Handoff.ReconnectMax = "-1s" }, "handoff.reconnect_max"},
		{"bad ack timeout", func(c *Config) { c.Handoff.AckTimeout = "later" }, "handoff.ack_timeout"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }, "database.driver"},
		{"sqlite without path", func(c *Config) { c.Database.Driver = "sqlite" }, "database.path"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"file log without path", func(c *Config) { c.Logging.File.Enabled = true }, "logging.file.path"},
		{"planner off global", func(c *Config) {
			c.Scheduler.Role = "unit"
			c.Scheduler.Telescope.ID = 1
			c.Upstream.Addr = "x"
			c.Planner.Enabled = true
		}, "planner"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := base()
			tc.mutate(c)
			err := Validate(c)
			if tc.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestParseDurationField(t *testing.T) {
	d, err := ParseDurationField("x", " ")
	require.NoError(t, err)
	assert.Zero(t, d)

	d, err = ParseDurationOrDefault("x", "", 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, d)

	d, err = ParseDurationOrDefault("x", "150ms", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 150*time.Millisecond, d)

	_, err = ParseDurationField("handoff.io_timeout", "ten")
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "handoff.io_timeout"))
}

func TestWatchPublishesValidChanges(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "obsched.yaml", siteYAML)
	m := NewManager(p)
	_, err := m.Load()
	require.NoError(t, err)

	sub := m.Subscribe(4)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()
	time.Sleep(100 * time.Millisecond)

	// An invalid edit is not published.
	writeFile(t, dir, "obsched.yaml", strings.Replace(siteYAML, "level: info", "level: loud", 1))
	select {
	case <-sub:
		t.Fatal("invalid config published")
	case <-time.After(600 * time.Millisecond):
	}
	assert.Equal(t, "info", m.Get().Logging.Level)

	writeFile(t, dir, "obsched.yaml", strings.Replace(siteYAML, "level: info", "level: debug", 1))
	select {
	case cfg := <-sub:
		assert.Equal(t, "debug", cfg.Logging.Level)
	case <-time.After(3 * time.Second):
		t.Fatal("reload not published")
	}
	assert.Equal(t, "debug", m.Get().Logging.Level)
}

func TestSummarizeChange(t *testing.T) {
	a := &Config{Logging: LoggingConfig{Level: "info"}, Database: DatabaseConfig{Driver: "mysql", Password: "secret"}}
	b := *a
	b.Logging.Level = "debug"
	b.Database.Host = "db:3306"

	changed, restart, attrs := SummarizeChange(a, &b)
	assert.ElementsMatch(t, []string{"logging", "database"}, changed)
	assert.Equal(t, []string{"database"}, restart)
	assert.NotEmpty(t, attrs)

	changed, _, _ = SummarizeChange(a, a)
	assert.Empty(t, changed)
}
