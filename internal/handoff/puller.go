package handoff

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"

	"obsched/internal/model"
	"obsched/internal/protocol"
	logx "obsched/pkg/logx"
)

// Sink applies a received block. *scheduler.Site implements it.
type Sink interface {
	ApplyTaskBlock(ctx context.Context, b *model.TaskBlock) error
}

type PullerConfig struct {
	SockFile string
	SiteID   uint64
	// IOTimeout bounds request and acknowledgement writes. The wait for a
	// block has no deadline.
	IOTimeout      time.Duration
	InitialBackoff time.Duration
	ReconnectMax   time.Duration
}

// Puller keeps one connection to the global scheduler and applies every
// block it receives.
type Puller struct {
	cfg  PullerConfig
	sink Sink
	log  logx.Logger
	now  func() time.Time
}

func NewPuller(cfg PullerConfig, sink Sink, log logx.Logger) *Puller {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 100 * time.Millisecond
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Puller{cfg: cfg, sink: sink, log: log, now: time.Now}
}

func (p *Puller) backoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.InitialBackoff
	b.MaxInterval = p.cfg.ReconnectMax
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Run pulls blocks until ctx ends. Connection failures are retried forever.
func (p *Puller) Run(ctx context.Context) error {
	bo := p.backoff()
	for {
		got, err := p.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if got > 0 {
			bo.Reset()
		}
		wait := bo.NextBackOff()
		p.log.Warn("handoff session ended, reconnecting", logx.Err(err), logx.Duration("in", wait))
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// session runs request/deliver/ack rounds on one connection and reports how
// many blocks it applied before failing.
func (p *Puller) session(ctx context.Context) (int, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", p.cfg.SockFile)
	if err != nil {
		return 0, fmt.Errorf("dial %s: %w", p.cfg.SockFile, err)
	}
	defer func() { _ = conn.Close() }()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	p.log.Debug("handoff connected", logx.String("sock", p.cfg.SockFile))
	applied := 0
	for {
		b, err := p.round(conn)
		if err != nil {
			return applied, err
		}
		if err := p.sink.ApplyTaskBlock(ctx, b); err != nil {
			// Acknowledged already; there is no one to hand it back to.
			p.log.Error("apply task block failed", logx.String("block_id", b.ID), logx.Err(err))
		}
		applied++
	}
}

func (p *Puller) round(conn net.Conn) (*model.TaskBlock, error) {
	p.setDeadline(conn)
	if err := protocol.WriteFrame(conn, protocol.NewRequest(p.cfg.SiteID, p.now())); err != nil {
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	var env protocol.Envelope
	if err := protocol.ReadFrame(conn, &env); err != nil {
		return nil, err
	}
	b, err := env.Block()
	if err != nil {
		return nil, err
	}
	if b.ID == "" {
		return nil, errors.New("delivery without block id")
	}
	p.setDeadline(conn)
	if err := protocol.WriteFrame(conn, protocol.NewAcknowledge(b.ID, p.now())); err != nil {
		return nil, err
	}
	p.log.Info("task block received", logx.String("block_id", b.ID), logx.Int("tasks", len(b.Tasks)))
	return b, nil
}

func (p *Puller) setDeadline(conn net.Conn) {
	if p.cfg.IOTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(p.cfg.IOTimeout))
	}
}
