package handoff

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"obsched/internal/model"
	"obsched/internal/protocol"
	logx "obsched/pkg/logx"
)

// Source hands out pending blocks. *scheduler.Global implements it.
type Source interface {
	NextTaskBlock(ctx context.Context, siteID uint64) (*model.TaskBlock, error)
	AckTaskBlock(ctx context.Context, blockID string) error
	LoseTaskBlock(ctx context.Context, blockID string, cause error)
}

type ServerConfig struct {
	SockFile string
	// IOTimeout bounds each frame read or write once a block is in flight.
	// Zero disables deadlines.
	IOTimeout time.Duration
}

type Server struct {
	cfg ServerConfig
	src Source
	log logx.Logger
	now func() time.Time

	mu    sync.Mutex
	ln    net.Listener
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

func NewServer(cfg ServerConfig, src Source, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, src: src, log: log, now: time.Now, conns: map[net.Conn]struct{}{}}
}

func (s *Server) Listen() error {
	_ = os.Remove(s.cfg.SockFile)
	ln, err := net.Listen("unix", s.cfg.SockFile)
	if err != nil {
		return fmt.Errorf("handoff listen %s: %w", s.cfg.SockFile, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	return nil
}

// Serve accepts site connections until ctx ends.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
		s.mu.Lock()
		ln = s.ln
		s.mu.Unlock()
	}
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	s.log.Info("handoff server listening", logx.String("sock", s.cfg.SockFile))
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			s.log.Warn("handoff accept failed", logx.Err(err))
			continue
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
		}()
	}
}

func (s *Server) Close() error {
	s.mu.Lock()
	ln := s.ln
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	if ln == nil {
		return nil
	}
	err := ln.Close()
	_ = os.Remove(s.cfg.SockFile)
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *Server) deadline(conn net.Conn) {
	if s.cfg.IOTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(s.cfg.IOTimeout))
	} else {
		_ = conn.SetDeadline(time.Time{})
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()

	for {
		// The site may sit idle between blocks, so the request read has no
		// deadline.
		_ = conn.SetDeadline(time.Time{})
		var req protocol.Envelope
		if err := protocol.ReadFrame(conn, &req); err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				s.log.Debug("handoff request read failed", logx.Err(err))
			}
			return
		}
		if err := req.Expect(protocol.OperateRequest); err != nil {
			s.log.Warn("handoff request rejected", logx.Err(err))
			return
		}
		siteID := req.General.SiteID
		log := s.log.With(logx.Uint64("site_id", siteID))

		b, err := s.wait(ctx, conn, siteID)
		if err != nil {
			log.Debug("handoff wait ended", logx.Err(err))
			return
		}
		log = log.With(logx.String("block_id", b.ID))

		s.deadline(conn)
		if err := protocol.WriteFrame(conn, protocol.NewDelivery(b, s.now())); err != nil {
			s.src.LoseTaskBlock(ctx, b.ID, err)
			return
		}
		var ack protocol.Envelope
		if err := protocol.ReadFrame(conn, &ack); err != nil {
			s.src.LoseTaskBlock(ctx, b.ID, err)
			return
		}
		if err := ack.Expect(protocol.OperateAcknowledge); err != nil {
			s.src.LoseTaskBlock(ctx, b.ID, err)
			return
		}
		if id := ack.General.BlockID; id != "" && id != b.ID {
			s.src.LoseTaskBlock(ctx, b.ID, fmt.Errorf("%w: acknowledged %q", protocol.ErrMalformed, id))
			return
		}
		if err := s.src.AckTaskBlock(ctx, b.ID); err != nil {
			log.Warn("handoff ack not recorded", logx.Err(err))
		}
	}
}

// wait blocks for the next block while watching the connection, so a site
// that hangs up stops the wait instead of claiming a block it cannot take.
func (s *Server) wait(ctx context.Context, conn net.Conn, siteID uint64) (*model.TaskBlock, error) {
	wctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	watched := make(chan struct{})
	go func() {
		defer close(watched)
		var one [1]byte
		_, err := conn.Read(one[:])
		if err == nil {
			err = fmt.Errorf("%w: data before delivery", protocol.ErrMalformed)
		}
		cancel(err)
	}()

	b, err := s.src.NextTaskBlock(wctx, siteID)

	// Unblock the watcher and make sure it did not see the peer leave.
	_ = conn.SetReadDeadline(time.Now())
	<-watched
	if cause := context.Cause(wctx); b != nil && cause != nil && !isTimeout(cause) {
		s.src.LoseTaskBlock(ctx, b.ID, cause)
		return nil, cause
	}
	if err != nil {
		if cause := context.Cause(wctx); cause != nil && !errors.Is(cause, context.Canceled) {
			return nil, cause
		}
		return nil, err
	}
	return b, nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
