// Package planner builds task blocks on the global tier. It fires on a cron
// schedule and whenever a site, telescope or target comes online, and gives
// each idle site one block drawn from the live targets by priority.
package planner

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"obsched/internal/eventbus"
	"obsched/internal/model"
	logx "obsched/pkg/logx"
)

// Board is the part of the global scheduler the planner drives.
type Board interface {
	ListSites(ctx context.Context) ([]model.Site, error)
	ListTelescopes(ctx context.Context) ([]model.Telescope, error)
	ListTargets(ctx context.Context) ([]model.Target, error)
	HasPendingBlock(siteID uint64) bool
	SubmitBlock(ctx context.Context, b *model.TaskBlock) error
}

type Config struct {
	Enabled bool
	// Schedule is a cron expression; seconds are optional.
	Schedule string
	Timezone string
	// MaxTasksPerBlock caps the tasks of one block.
	MaxTasksPerBlock int
}

const defaultMaxTasks = 16

type Service struct {
	board  Board
	bus    eventbus.Bus
	log    logx.Logger
	parser cron.Parser
	now    func() time.Time

	mu     sync.Mutex
	cfg    Config
	c      *cron.Cron
	cancel context.CancelFunc
	done   chan struct{}

	planMu sync.Mutex
	cursor map[uint64]int
}

func New(cfg Config, board Board, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		board:  board,
		bus:    bus,
		log:    log,
		cfg:    cfg,
		now:    time.Now,
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		cursor: map[uint64]int{},
	}
}

// Validate checks the schedule and timezone without starting anything.
func (s *Service) Validate(cfg Config) error {
	if !cfg.Enabled {
		return nil
	}
	if _, err := s.parser.Parse(cfg.Schedule); err != nil {
		return fmt.Errorf("planner schedule %q: %w", cfg.Schedule, err)
	}
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("planner timezone %q: %w", tz, err)
		}
	}
	return nil
}

// Start registers the schedule and the event trigger. It is a no-op when the
// planner is disabled or already running.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil || !s.cfg.Enabled {
		return nil
	}
	if err := s.Validate(s.cfg); err != nil {
		return err
	}
	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		loc, _ = time.LoadLocation(tz)
	}

	// The loop lives until Stop, not until the caller's context ends.
	rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	trigger := make(chan struct{}, 1)
	kick := func() {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}

	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	if _, err := c.AddFunc(s.cfg.Schedule, kick); err != nil {
		cancel()
		return fmt.Errorf("planner schedule %q: %w", s.cfg.Schedule, err)
	}

	var events <-chan eventbus.Event
	unsub := func() {}
	if s.bus != nil {
		events, unsub = s.bus.Subscribe(32, eventbus.EntityAdded, eventbus.EntityStatus)
	}

	s.c, s.cancel, s.done = c, cancel, make(chan struct{})
	go s.loop(rctx, trigger, events, unsub, kick, s.done)
	c.Start()
	s.log.Info("planner started", logx.String("schedule", s.cfg.Schedule), logx.String("tz", loc.String()))
	return nil
}

func (s *Service) loop(ctx context.Context, trigger <-chan struct{}, events <-chan eventbus.Event, unsub func(), kick func(), done chan struct{}) {
	defer close(done)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if d, ok := ev.Data.(eventbus.EntityData); ok && d.Kind != "task" && d.Status == int(model.StatusOK) {
				kick()
			}
		case <-trigger:
			if n, err := s.PlanOnce(ctx); err != nil {
				s.log.Warn("planning failed", logx.Err(err))
			} else if n > 0 {
				s.log.Debug("planning round", logx.Int("blocks", n))
			}
		}
	}
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c, cancel, done := s.c, s.cancel, s.done
	s.c, s.cancel, s.done = nil, nil, nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	cancel()
	<-done
	s.log.Info("planner stopped")
}

// Apply swaps the configuration and restarts the trigger if it changed.
func (s *Service) Apply(ctx context.Context, cfg Config) error {
	if err := s.Validate(cfg); err != nil {
		return err
	}
	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	running := s.c != nil
	s.mu.Unlock()

	if running && (old.Schedule != cfg.Schedule || old.Timezone != cfg.Timezone || !cfg.Enabled) {
		s.Stop(ctx)
		running = false
	}
	if !running && cfg.Enabled {
		return s.Start(ctx)
	}
	return nil
}

func (s *Service) maxTasks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.MaxTasksPerBlock > 0 {
		return s.cfg.MaxTasksPerBlock
	}
	return defaultMaxTasks
}

// PlanOnce submits one block to every live site that has none pending and
// returns how many were submitted.
func (s *Service) PlanOnce(ctx context.Context) (int, error) {
	s.planMu.Lock()
	defer s.planMu.Unlock()

	sites, err := s.board.ListSites(ctx)
	if err != nil {
		return 0, err
	}
	tels, err := s.board.ListTelescopes(ctx)
	if err != nil {
		return 0, err
	}
	targets, err := s.board.ListTargets(ctx)
	if err != nil {
		return 0, err
	}
	targets = liveTargets(targets)
	if len(targets) == 0 {
		return 0, nil
	}

	bySite := map[uint64][]model.Telescope{}
	for _, t := range tels {
		if t.Status == model.StatusOK {
			bySite[t.SiteID] = append(bySite[t.SiteID], t)
		}
	}

	submitted := 0
	limit := s.maxTasks()
	for _, site := range sites {
		if site.Status != model.StatusOK || s.board.HasPendingBlock(site.ID) {
			continue
		}
		own := bySite[site.ID]
		if len(own) == 0 {
			continue
		}
		b := s.build(site.ID, own, targets, limit)
		if err := s.board.SubmitBlock(ctx, b); err != nil {
			s.log.Warn("block submit failed", logx.Uint64("site_id", site.ID), logx.Err(err))
			continue
		}
		submitted++
	}
	return submitted, nil
}

// build pairs targets with the site's telescopes round robin. Successive
// blocks for a site start further down the target list so lower priorities
// also get time.
func (s *Service) build(siteID uint64, tels []model.Telescope, targets []model.Target, limit int) *model.TaskBlock {
	n := min(limit, len(targets))
	start := s.cursor[siteID] % len(targets)
	s.cursor[siteID] = start + n

	obs := model.EpochSeconds(s.now())
	b := &model.TaskBlock{SiteID: siteID}
	for i := 0; i < n; i++ {
		tg := targets[(start+i)%len(targets)]
		tel := tels[i%len(tels)]
		b.Targets = append(b.Targets, tg)
		b.Tasks = append(b.Tasks, model.TaskRecord{
			TargetID:    tg.ID,
			Nside:       tg.Nside,
			TelescopeID: tel.ID,
			SiteID:      siteID,
			ObsTime:     obs,
		})
	}
	return b
}

func liveTargets(in []model.Target) []model.Target {
	out := make([]model.Target, 0, len(in))
	for _, t := range in {
		if t.Status == model.StatusOK {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}
