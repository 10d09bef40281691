// Package app assembles a scheduler daemon for one role from its config
// file and runs it under a supervisor.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"obsched/internal/command"
	"obsched/internal/config"
	"obsched/internal/eventbus"
	"obsched/internal/handoff"
	"obsched/internal/model"
	"obsched/internal/observability/metrics"
	"obsched/internal/planner"
	"obsched/internal/rpc"
	"obsched/internal/runtime/supervisor"
	"obsched/internal/scheduler"
	"obsched/internal/storage"
	logx "obsched/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	role  model.Role
	sched scheduler.Scheduler

	rpc      *rpc.Server
	upstream *rpc.Client
	handoff  *handoff.Server
	puller   *handoff.Puller
	planner  *planner.Service
	metrics  *metrics.Metrics
	debug    *metrics.Server

	ready atomic.Bool
}

// New loads the config and builds every component. Nothing listens or
// touches the store until Start.
func New(cfgPath string) (_ *App, err error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, root := logx.New(logConfig(cfg))
	role := model.ParseRole(cfg.Scheduler.Role)
	log := root.With(logx.String("role", role.String()))

	sc, err := StorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = store.Close()
		}
	}()

	bus := eventbus.New()
	schedCfg, err := schedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	sched, err := scheduler.New(schedCfg, scheduler.Deps{
		Store: store,
		Bus:   bus,
		Log:   log.With(logx.String("comp", "scheduler")),
	})
	if err != nil {
		return nil, err
	}

	rc, err := rpcServerConfig(cfg)
	if err != nil {
		return nil, err
	}
	a := &App{
		cfgm:  cfgm,
		log:   log.With(logx.String("comp", "app")),
		logs:  logSvc,
		bus:   bus,
		store: store,
		role:  role,
		sched: sched,
		rpc: rpc.NewServer(rc, command.NewDispatcher(sched, log.With(logx.String("comp", "command"))),
			log.With(logx.String("comp", "rpc"))),
	}

	probes := metrics.Probes{BusDropped: bus.Dropped}
	switch s := sched.(type) {
	case *scheduler.Global:
		hc, err := handoffServerConfig(cfg)
		if err != nil {
			return nil, err
		}
		a.handoff = handoff.NewServer(hc, s, log.With(logx.String("comp", "handoff")))
		a.planner = planner.New(plannerConfig(cfg), s, bus, log.With(logx.String("comp", "planner")))
		probes.Inflight = s.InflightBlocks
	case *scheduler.Site:
		pc, err := pullerConfig(cfg)
		if err != nil {
			return nil, err
		}
		a.puller = handoff.NewPuller(pc, s, log.With(logx.String("comp", "handoff")))
		probes.UplinkLost = s.UplinkDropped
	case *scheduler.Unit:
		probes.UplinkLost = s.UplinkDropped
	}
	if role != model.RoleGlobal {
		if a.upstream, err = upstreamClient(cfg); err != nil {
			return nil, err
		}
	}

	a.metrics = metrics.New(role.String(), probes)
	a.debug = metrics.NewServer(a.metrics.Registry(), a.ready.Load, log.With(logx.String("comp", "debug")))
	return a, nil
}

// Ready reports whether Start completed.
func (a *App) Ready() bool { return a.ready.Load() }

// Done is closed when the app stops, including on a fatal loop error.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	sctx := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if a.planner != nil {
			if err := a.planner.Validate(plannerConfig(cfg)); err != nil {
				return err
			}
		}
		return debugConfig(cfg).Validate()
	})

	if err := a.store.Migrate(ctx, a.role); err != nil {
		return fmt.Errorf("prepare schema: %w", err)
	}
	if err := a.sched.Load(ctx); err != nil {
		return fmt.Errorf("load registries: %w", err)
	}

	if err := a.rpc.Listen(); err != nil {
		return err
	}
	a.sup.Go("rpc.serve", a.rpc.Serve)

	switch s := a.sched.(type) {
	case *scheduler.Global:
		if err := a.handoff.Listen(); err != nil {
			return err
		}
		a.sup.Go("handoff.serve", a.handoff.Serve)
		ttl, err := ackTimeout(a.cfgm.Get())
		if err != nil {
			return err
		}
		a.sup.Go("handoff.expire", func(c context.Context) error { return a.expireInflight(c, s, ttl) })
		if err := a.planner.Start(sctx); err != nil {
			return err
		}
	case *scheduler.Site:
		a.sup.Go("handoff.pull", a.puller.Run)
		up := command.NewClient(a.upstream)
		a.sup.GoRestart("uplink", func(c context.Context) error { return s.RunUpstream(c, up) }, time.Second, 30*time.Second)
	case *scheduler.Unit:
		up := command.NewClient(a.upstream)
		a.sup.GoRestart("uplink", func(c context.Context) error { return s.RunUpstream(c, up) }, time.Second, 30*time.Second)
	}

	a.sup.Go("metrics.events", func(c context.Context) error { return a.metrics.Run(c, a.bus) })
	if err := a.debug.Apply(sctx, debugConfig(a.cfgm.Get())); err != nil {
		a.log.Warn("debug server not started", logx.Err(err))
	}

	a.sup.GoRestart("config.watch", a.cfgm.Watch, time.Second, 30*time.Second)
	sub := a.cfgm.Subscribe(4)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		return a.reloadLoop(c, sub)
	})
	a.sup.Go("events.log", a.logEvents)

	a.ready.Store(true)
	a.log.Info("scheduler started", logx.String("rpc", a.cfgm.Get().RPC.Addr))
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) error {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return nil
		case cfg, ok := <-sub:
			if !ok {
				return nil
			}
			changed, restart, attrs := config.SummarizeChange(last, cfg)
			if len(changed) == 0 {
				continue
			}
			fields := append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, attrs...)
			a.log.Info("config change applied", fields...)
			if len(restart) > 0 {
				a.log.Warn("config sections take effect after restart", logx.String("sections", strings.Join(restart, ",")))
			}
			a.logs.Apply(logConfig(cfg))
			if a.planner != nil {
				if err := a.planner.Apply(ctx, plannerConfig(cfg)); err != nil {
					a.log.Warn("planner reload failed", logx.Err(err))
				}
			}
			if err := a.debug.Apply(ctx, debugConfig(cfg)); err != nil {
				a.log.Warn("debug reload failed", logx.Err(err))
			}
			last = cfg
		}
	}
}

// expireInflight drops delivered blocks that were never acknowledged.
func (a *App) expireInflight(ctx context.Context, g *scheduler.Global, ttl time.Duration) error {
	every := ttl / 4
	if every < time.Second {
		every = time.Second
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if n := g.ExpireInflight(ttl); n > 0 {
				a.log.Warn("unacknowledged blocks expired", logx.Int("blocks", n), logx.Duration("ack_timeout", ttl))
			}
		}
	}
}

func (a *App) logEvents(ctx context.Context) error {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			a.log.Trace("event", logx.String("type", e.Type), logx.Any("data", e.Data))
		}
	}
}

// Stop shuts every component down. It is safe to call after a failed
// Start.
func (a *App) Stop(ctx context.Context) error {
	a.ready.Store(false)
	var errs []error
	if a.planner != nil {
		a.planner.Stop(ctx)
	}
	a.debug.Stop(ctx)
	if a.sup != nil {
		if err := a.sup.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	_ = a.rpc.Close()
	if a.handoff != nil {
		_ = a.handoff.Close()
	}
	if a.upstream != nil {
		_ = a.upstream.Close()
	}
	if err := a.sched.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, err)
	}
	a.log.Info("scheduler stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}
