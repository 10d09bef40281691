package handoff

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"obsched/internal/eventbus"
	"obsched/internal/model"
	"obsched/internal/protocol"
	"obsched/internal/scheduler"
	"obsched/internal/storage"
	logx "obsched/pkg/logx"
)

type env struct {
	sock   string
	global *scheduler.Global
	bus    eventbus.Bus
	siteID uint64
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "ho")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	bus := eventbus.New()
	s, err := scheduler.New(scheduler.Config{Role: model.RoleGlobal, BlockPoll: 10 * time.Millisecond},
		scheduler.Deps{Store: storage.Nop(), Bus: bus, Log: logx.Nop()})
	require.NoError(t, err)
	g := s.(*scheduler.Global)
	sid, err := g.AddSite(context.Background(), []byte(`{"sitename":"s"}`))
	require.NoError(t, err)
	return &env{sock: filepath.Join(dir, "h.sock"), global: g, bus: bus, siteID: sid}
}

func (e *env) startServer(t *testing.T) func() {
	t.Helper()
	srv := NewServer(ServerConfig{SockFile: e.sock, IOTimeout: time.Second}, e.global, logx.Nop())
	require.NoError(t, srv.Listen())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = srv.Serve(ctx)
		close(done)
	}()
	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
	t.Cleanup(stop)
	return stop
}

func (e *env) submit(t *testing.T, telID uint64) string {
	t.Helper()
	b := &model.TaskBlock{SiteID: e.siteID, Tasks: []model.TaskRecord{{TargetID: 1, TelescopeID: telID}}}
	require.NoError(t, e.global.SubmitBlock(context.Background(), b))
	return b.ID
}

func newSite(t *testing.T, siteID uint64) (*scheduler.Site, uint64) {
	t.Helper()
	s, err := scheduler.New(scheduler.Config{Role: model.RoleSite, Site: model.Site{ID: siteID, Name: "s"}},
		scheduler.Deps{Store: storage.Nop(), Bus: eventbus.New(), Log: logx.Nop()})
	require.NoError(t, err)
	site := s.(*scheduler.Site)
	tel, err := site.AddTelescope(context.Background(), []byte(`{"telescop":"t1"}`))
	require.NoError(t, err)
	return site, tel
}

func runPuller(t *testing.T, e *env, site *scheduler.Site) {
	t.Helper()
	p := NewPuller(PullerConfig{
		SockFile:       e.sock,
		SiteID:         e.siteID,
		IOTimeout:      time.Second,
		InitialBackoff: 10 * time.Millisecond,
		ReconnectMax:   50 * time.Millisecond,
	}, site, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func request(t *testing.T, sock string, siteID uint64) net.Conn {
	t.Helper()
	conn, err := net.Dial("unix", sock)
	require.NoError(t, err)
	require.NoError(t, protocol.WriteFrame(conn, protocol.NewRequest(siteID, time.Now())))
	return conn
}

func TestPullerAppliesPendingBlock(t *testing.T) {
	e := newEnv(t)
	e.startServer(t)
	site, tel := newSite(t, e.siteID)
	e.submit(t, tel)

	runPuller(t, e, site)

	var task model.TaskRecord
	require.Eventually(t, func() bool {
		var err error
		task, err = site.GetTaskByTelescopeID(context.Background(), tel)
		return err == nil
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, model.TaskExecuting, task.Status)
	assert.Eventually(t, func() bool { return e.global.InflightBlocks() == 0 }, time.Second, 10*time.Millisecond)
	assert.False(t, e.global.HasPendingBlock(e.siteID))
}

func TestSecondRequesterDoesNotReceiveBlock(t *testing.T) {
	e := newEnv(t)
	e.startServer(t)

	a := request(t, e.sock, e.siteID)
	defer a.Close()
	b := request(t, e.sock, e.siteID)
	defer b.Close()
	time.Sleep(50 * time.Millisecond)

	id := e.submit(t, 1)

	var received atomic.Int32
	var wg sync.WaitGroup
	for _, c := range []net.Conn{a, b} {
		wg.Add(1)
		go func(c net.Conn) {
			defer wg.Done()
			_ = c.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
			var env protocol.Envelope
			if err := protocol.ReadFrame(c, &env); err != nil {
				return
			}
			got, err := env.Block()
			if err != nil || got.ID != id {
				return
			}
			received.Add(1)
			_ = c.SetDeadline(time.Time{})
			_ = protocol.WriteFrame(c, protocol.NewAcknowledge(got.ID, time.Now()))
		}(c)
	}
	wg.Wait()
	assert.Equal(t, int32(1), received.Load())
	assert.Eventually(t, func() bool { return e.global.InflightBlocks() == 0 }, time.Second, 10*time.Millisecond)
}

func TestBlockLostWhenSiteHangsUpBeforeAck(t *testing.T) {
	e := newEnv(t)
	lost, unsub := e.bus.Subscribe(4, eventbus.BlockLost)
	defer unsub()
	e.startServer(t)

	id := e.submit(t, 1)
	c := request(t, e.sock, e.siteID)
	var env protocol.Envelope
	require.NoError(t, protocol.ReadFrame(c, &env))
	require.NoError(t, c.Close())

	select {
	case ev := <-lost:
		assert.Equal(t, id, ev.Data.(eventbus.BlockData).BlockID)
	case <-time.After(2 * time.Second):
		t.Fatal("loss not reported")
	}
	assert.False(t, e.global.HasPendingBlock(e.siteID), "delivery is at most once")
	assert.Zero(t, e.global.InflightBlocks())
}

func TestWaitEndsWhenRequesterLeaves(t *testing.T) {
	e := newEnv(t)
	e.startServer(t)

	c := request(t, e.sock, e.siteID)
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, c.Close())
	time.Sleep(100 * time.Millisecond)

	e.submit(t, 1)
	time.Sleep(100 * time.Millisecond)
	assert.True(t, e.global.HasPendingBlock(e.siteID), "a departed requester must not claim the block")
}

func TestPullerReconnects(t *testing.T) {
	e := newEnv(t)
	site, tel := newSite(t, e.siteID)

	// Site comes up first; the global socket does not exist yet.
	runPuller(t, e, site)
	time.Sleep(100 * time.Millisecond)

	stop := e.startServer(t)
	e.submit(t, tel)
	require.Eventually(t, func() bool {
		_, err := site.GetTaskByTelescopeID(context.Background(), tel)
		return err == nil
	}, 3*time.Second, 20*time.Millisecond)

	stop()
	e.startServer(t)
	e.submit(t, tel)
	require.Eventually(t, func() bool {
		_, err := site.GetTaskByTelescopeID(context.Background(), tel)
		return err == nil
	}, 3*time.Second, 20*time.Millisecond)
}
