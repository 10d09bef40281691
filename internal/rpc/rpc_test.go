package rpc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"obsched/internal/scheduler"
	logx "obsched/pkg/logx"
)

func sockPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "rpc")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "s.sock")
}

func startServer(t *testing.T, cfg ServerConfig, h Handler) *Server {
	t.Helper()
	srv := NewServer(cfg, h, logx.Nop())
	require.NoError(t, srv.Listen())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("server did not stop")
		}
	})
	return srv
}

func echo() Handler {
	return HandlerFunc(func(_ context.Context, req Packet) (Packet, error) {
		switch req.Command {
		case AddSite:
			resp := req.Reply()
			resp.U64F0 = 42
			resp.Buf = req.Buf
			return resp, nil
		case DeleteSiteByID:
			return Packet{}, fmt.Errorf("delete site %d: %w", req.U64F0, scheduler.ErrNotFound)
		case ListSite:
			panic("boom")
		default:
			return Packet{}, scheduler.ErrNotSupported
		}
	})
}

func TestRoundTrip(t *testing.T) {
	path := sockPath(t)
	startServer(t, ServerConfig{Network: "unix", Addr: path}, echo())

	c := NewClient("unix", path, time.Second)
	defer c.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		resp, err := c.Call(ctx, Packet{Command: AddSite, Buf: []byte(`{"sitename":"x"}`)})
		require.NoError(t, err)
		assert.Equal(t, uint64(42), resp.U64F0)
		assert.Equal(t, AddSite, resp.Command)
		assert.JSONEq(t, `{"sitename":"x"}`, string(resp.Buf))
	}
}

func TestRemoteErrorMapsToSentinel(t *testing.T) {
	path := sockPath(t)
	startServer(t, ServerConfig{Network: "unix", Addr: path}, echo())

	c := NewClient("unix", path, time.Second)
	defer c.Close()

	_, err := c.Call(context.Background(), Packet{Command: DeleteSiteByID, U64F0: 9})
	require.Error(t, err)
	assert.True(t, errors.Is(err, scheduler.ErrNotFound))
	assert.False(t, IsTransport(err))

	var re *RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, CodeNotFound, re.Code)

	_, err = c.Call(context.Background(), Packet{Command: PushTaskBlock})
	assert.ErrorIs(t, err, scheduler.ErrNotSupported)

	// Connection survives declined commands.
	_, err = c.Call(context.Background(), Packet{Command: AddSite})
	assert.NoError(t, err)
}

func TestHandlerPanicIsInternal(t *testing.T) {
	path := sockPath(t)
	startServer(t, ServerConfig{Network: "unix", Addr: path}, echo())

	c := NewClient("unix", path, time.Second)
	defer c.Close()

	_, err := c.Call(context.Background(), Packet{Command: ListSite})
	var re *RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, CodeInternal, re.Code)
	assert.Nil(t, re.Unwrap())
}

func TestTransportError(t *testing.T) {
	c := NewClient("unix", filepath.Join(t.TempDir(), "absent.sock"), 200*time.Millisecond)
	_, err := c.Call(context.Background(), Packet{Command: AddSite})
	require.Error(t, err)
	assert.True(t, IsTransport(err))
	assert.False(t, errors.Is(err, scheduler.ErrNotFound))
}

func TestClientRedialsAfterServerRestart(t *testing.T) {
	path := sockPath(t)
	srv := NewServer(ServerConfig{Network: "unix", Addr: path}, echo(), logx.Nop())
	require.NoError(t, srv.Listen())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	c := NewClient("unix", path, time.Second)
	defer c.Close()
	_, err := c.Call(context.Background(), Packet{Command: AddSite})
	require.NoError(t, err)

	cancel()
	<-done

	_, err = c.Call(context.Background(), Packet{Command: AddSite})
	require.Error(t, err)
	assert.True(t, IsTransport(err))

	startServer(t, ServerConfig{Network: "unix", Addr: path}, echo())
	_, err = c.Call(context.Background(), Packet{Command: AddSite})
	assert.NoError(t, err)
}

func TestRateLimitDelaysRequests(t *testing.T) {
	path := sockPath(t)
	startServer(t, ServerConfig{Network: "unix", Addr: path, RatePerSec: 5}, echo())

	c := NewClient("unix", path, 5*time.Second)
	defer c.Close()

	start := time.Now()
	for i := 0; i < 7; i++ {
		_, err := c.Call(context.Background(), Packet{Command: AddSite})
		require.NoError(t, err)
	}
	// Burst of 5, then two more at 5/s.
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
}

func TestCodeOf(t *testing.T) {
	cases := []struct {
		err  error
		want Code
	}{
		{nil, CodeOK},
		{scheduler.ErrNotFound, CodeNotFound},
		{fmt.Errorf("x: %w", scheduler.ErrInvalidArgument), CodeInvalidArgument},
		{fmt.Errorf("put: %w: %w", scheduler.ErrIO, errors.New("disk")), CodeIO},
		{errors.New("other"), CodeInternal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CodeOf(tc.err), "%v", tc.err)
	}
}
