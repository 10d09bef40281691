// Package supervisor runs the daemon's long-lived loops under one context:
// named goroutines, panic recovery, optional cancel on first failure and
// restart with backoff for loops that should heal themselves.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	logx "obsched/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool

	firstErr atomic.Pointer[error]
	wg       sync.WaitGroup
	doneOnce sync.Once
	doneCh   chan struct{}

	mu    sync.Mutex
	loops map[string]*LoopStats
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option { return func(s *Supervisor) { s.log = log } }

// WithCancelOnError cancels every loop once any of them fails.
func WithCancelOnError(enabled bool) Option { return func(s *Supervisor) { s.cancelOnErr = enabled } }

// LoopStats is a best-effort view of one named loop.
type LoopStats struct {
	Name      string    `json:"name"`
	Running   bool      `json:"running"`
	Starts    uint64    `json:"starts"`
	Panics    uint64    `json:"panics"`
	LastStart time.Time `json:"last_start"`
	LastErr   string    `json:"last_err,omitempty"`
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel, log: logx.Nop(), doneCh: make(chan struct{}), loops: map[string]*LoopStats{}}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Err returns the first failure observed, if any.
func (s *Supervisor) Err() error {
	if p := s.firstErr.Load(); p != nil {
		return *p
	}
	return nil
}

func (s *Supervisor) fail(err error) {
	s.firstErr.CompareAndSwap(nil, &err)
	if s.cancelOnErr {
		s.cancel()
	}
}

func (s *Supervisor) note(name string, f func(*LoopStats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.loops[name]
	if st == nil {
		st = &LoopStats{Name: name}
		s.loops[name] = st
	}
	f(st)
}

// Snapshot lists every loop started so far, running ones first.
func (s *Supervisor) Snapshot() []LoopStats {
	s.mu.Lock()
	out := make([]LoopStats, 0, len(s.loops))
	for _, st := range s.loops {
		out = append(out, *st)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Running != out[j].Running {
			return out[i].Running
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Running counts loops currently executing.
func (s *Supervisor) Running() int {
	n := 0
	for _, st := range s.Snapshot() {
		if st.Running {
			n++
		}
	}
	return n
}

// runOnce executes fn, turning a panic into an error.
func (s *Supervisor) runOnce(name string, fn func(context.Context) error) (err error) {
	s.note(name, func(st *LoopStats) {
		st.Running = true
		st.Starts++
		st.LastStart = time.Now()
	})
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("loop panicked", logx.String("loop", name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
			s.note(name, func(st *LoopStats) { st.Panics++ })
		}
		s.note(name, func(st *LoopStats) {
			st.Running = false
			if err != nil {
				st.LastErr = err.Error()
			}
		})
	}()
	return fn(s.ctx)
}

// Go runs fn once. A returned error or panic is recorded as the
// supervisor's failure; context cancellation is a clean stop.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Debug("loop started", logx.String("loop", name))
		err := s.runOnce(name, fn)
		if err != nil && !errors.Is(err, context.Canceled) && s.ctx.Err() == nil {
			s.log.Error("loop failed", logx.String("loop", name), logx.Err(err))
			s.fail(fmt.Errorf("%s: %w", name, err))
			return
		}
		s.log.Debug("loop stopped", logx.String("loop", name))
	}()
}

// GoRestart reruns fn after failures with exponential backoff until the
// supervisor stops. A nil return ends the loop.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, minWait, maxWait time.Duration) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = minWait
		bo.MaxInterval = maxWait
		bo.MaxElapsedTime = 0
		bo.Reset()

		for {
			started := time.Now()
			err := s.runOnce(name, fn)
			if s.ctx.Err() != nil || err == nil || errors.Is(err, context.Canceled) {
				return
			}
			if time.Since(started) > maxWait {
				bo.Reset()
			}
			wait := bo.NextBackOff()
			s.log.Warn("loop restarting", logx.String("loop", name), logx.Duration("in", wait), logx.Err(err))
			t := time.NewTimer(wait)
			select {
			case <-s.ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
	}()
}

// Stop cancels every loop and waits for them within ctx.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

func (s *Supervisor) Wait(ctx context.Context) error {
	s.doneOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.doneCh)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.doneCh:
		return s.Err()
	}
}
