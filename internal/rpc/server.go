package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"obsched/internal/protocol"
	logx "obsched/pkg/logx"
)

// Handler serves one request. A non-nil error becomes the reply's error code.
type Handler interface {
	Serve(ctx context.Context, req Packet) (Packet, error)
}

type HandlerFunc func(ctx context.Context, req Packet) (Packet, error)

func (f HandlerFunc) Serve(ctx context.Context, req Packet) (Packet, error) { return f(ctx, req) }

type ServerConfig struct {
	Network string // "unix" or "tcp"
	Addr    string
	// RatePerSec limits requests per connection; 0 means unlimited.
	RatePerSec int
	// IdleTimeout closes connections that send nothing for this long.
	IdleTimeout time.Duration
}

type Server struct {
	cfg     ServerConfig
	handler Handler
	log     logx.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
}

func NewServer(cfg ServerConfig, h Handler, log logx.Logger) *Server {
	if cfg.Network == "" {
		cfg.Network = "unix"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, handler: h, log: log, conns: map[net.Conn]struct{}{}}
}

// Listen binds the configured address. A stale unix socket file is removed
// first.
func (s *Server) Listen() error {
	if s.cfg.Network == "unix" {
		_ = os.Remove(s.cfg.Addr)
	}
	ln, err := net.Listen(s.cfg.Network, s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s %s: %w", s.cfg.Network, s.cfg.Addr, err)
	}
	if s.cfg.Network == "unix" {
		if err := os.Chmod(s.cfg.Addr, 0o600); err != nil {
			_ = ln.Close()
			return fmt.Errorf("chmod socket: %w", err)
		}
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until ctx ends or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
		s.mu.Lock()
		ln = s.listener
		s.mu.Unlock()
	}

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	s.log.Info("rpc server listening", logx.String("network", s.cfg.Network), logx.String("addr", ln.Addr().String()))
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			s.log.Warn("accept failed", logx.Err(err))
			continue
		}
		s.track(conn, true)
		s.wg.Add(1)
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) track(c net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[c] = struct{}{}
	} else {
		delete(s.conns, c)
	}
}

// Close stops accepting and drops open connections.
func (s *Server) Close() error {
	s.mu.Lock()
	ln := s.listener
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	if ln == nil {
		return nil
	}
	err := ln.Close()
	if s.cfg.Network == "unix" {
		_ = os.Remove(s.cfg.Addr)
	}
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer s.track(conn, false)
	defer func() { _ = conn.Close() }()

	var limiter *rate.Limiter
	if s.cfg.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.RatePerSec), s.cfg.RatePerSec)
	}

	for {
		if s.cfg.IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}
		var req Packet
		if err := protocol.ReadFrame(conn, &req); err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				s.log.Debug("rpc connection closed", logx.Err(err))
			}
			return
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
		}
		resp := s.dispatch(ctx, req)
		if err := protocol.WriteFrame(conn, resp); err != nil {
			s.log.Debug("rpc write failed", logx.Err(err))
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req Packet) (resp Packet) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("rpc handler panic",
				logx.String("cmd", req.Command.String()),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
			resp = req.Reply()
			resp.ErrorCode = CodeInternal
			resp.Message = "internal error"
		}
	}()

	start := time.Now()
	out, err := s.handler.Serve(ctx, req)
	out.Seq, out.Command = req.Seq, req.Command
	if err != nil {
		out.ErrorCode = CodeOf(err)
		out.Message = err.Error()
		s.log.Debug("rpc command declined", logx.String("cmd", req.Command.String()), logx.Err(err))
	}
	s.log.Trace("rpc command served", logx.String("cmd", req.Command.String()), logx.Duration("took", time.Since(start)))
	return out
}
