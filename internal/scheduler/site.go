package scheduler

import (
	"context"
	"fmt"
	"sync"

	"obsched/internal/eventbus"
	"obsched/internal/model"
	"obsched/internal/protocol"
	"obsched/internal/storage"
	"obsched/pkg/adt"
	logx "obsched/pkg/logx"
)

type telescopeQueue struct {
	telID uint64
	q     *adt.Queue[model.TaskRecord]
}

// Site is the middle tier. It owns the telescopes of one site, caches the
// targets it was sent, and dispatches queued tasks to its telescopes.
type Site struct {
	unsupported
	*entities

	self    model.Site
	pending *adt.List[telescopeQueue]
	up      *uplink

	createMu sync.Mutex
}

func newSite(c core, cfg Config) *Site {
	c.log = c.log.With(logx.Uint64("site_id", cfg.Site.ID))
	return &Site{
		entities: &entities{core: c, reg: newRegistry(false)},
		self:     cfg.Site,
		pending:  adt.NewList[telescopeQueue](nil),
		up:       newUplink(c.log.With(logx.String("comp", "uplink"))),
	}
}

// Identity returns the configured site.
func (s *Site) Identity() model.Site { return s.self }

func (s *Site) Load(ctx context.Context) error {
	if err := s.load(ctx); err != nil {
		return err
	}
	// Generated tasks survive a restart and go back on their queues.
	requeued := 0
	s.reg.tasks.ForEach(func(t *model.TaskRecord) {
		if t.Status == model.TaskGenerated {
			s.telescopeQueue(t.TelescopeID, true).Push(*t)
			requeued++
		}
	})
	if requeued > 0 {
		s.log.Info("requeued generated tasks", logx.Int("tasks", requeued))
	}
	return nil
}

func (s *Site) Close() error {
	s.up.wake()
	s.pending.Clear()
	s.reg.clear()
	return nil
}

// RunUpstream forwards queued status documents to up until ctx ends.
func (s *Site) RunUpstream(ctx context.Context, up Upstream) error { return s.up.run(ctx, up) }

// UplinkDropped counts status documents that could not be forwarded.
func (s *Site) UplinkDropped() uint64 { return s.up.dropped.Load() }

func (s *Site) ListTelescopes(context.Context) ([]model.Telescope, error) {
	return s.listTelescopes(), nil
}

func (s *Site) AddTelescope(ctx context.Context, info []byte) (uint64, error) {
	return s.addTelescope(ctx, info, s.self.ID)
}

func (s *Site) DeleteTelescopeByID(ctx context.Context, id uint64) error {
	return s.setTelescopeStatus(ctx, id, model.StatusDelete)
}

func (s *Site) DeleteTelescopeByName(ctx context.Context, name string) error {
	id, err := s.telescopeID(name)
	if err != nil {
		return err
	}
	return s.DeleteTelescopeByID(ctx, id)
}

func (s *Site) MaskTelescopeByID(ctx context.Context, id uint64) error {
	return s.setTelescopeStatus(ctx, id, model.StatusMasked)
}

func (s *Site) MaskTelescopeByName(ctx context.Context, name string) error {
	id, err := s.telescopeID(name)
	if err != nil {
		return err
	}
	return s.MaskTelescopeByID(ctx, id)
}

func (s *Site) UnmaskTelescopeByID(ctx context.Context, id uint64) error {
	return s.setTelescopeStatus(ctx, id, model.StatusOK)
}

func (s *Site) UnmaskTelescopeByName(ctx context.Context, name string) error {
	id, err := s.telescopeID(name)
	if err != nil {
		return err
	}
	return s.UnmaskTelescopeByID(ctx, id)
}

func (s *Site) ListTargets(context.Context) ([]model.Target, error) { return s.listTargets(), nil }

func (s *Site) AddTaskRecord(ctx context.Context, info []byte) (uint64, error) {
	t, err := parseTask(info)
	if err != nil {
		return 0, err
	}
	t.SiteID = s.self.ID
	if err := s.putNewTask(ctx, &t); err != nil {
		return 0, err
	}
	return t.ID, nil
}

func (s *Site) UpdateTaskRecord(ctx context.Context, id uint64, info []byte) error {
	return s.updateTask(ctx, id, info)
}

// UpdateStatus applies the document locally and queues it for the global
// tier.
func (s *Site) UpdateStatus(_ context.Context, doc []byte, format model.Format) error {
	if err := s.updateStatus(doc, format); err != nil {
		return err
	}
	s.up.enqueue(doc)
	return nil
}

// ---- task blocks ----

func (s *Site) PushTaskBlock(ctx context.Context, doc []byte, format model.Format) error {
	if err := checkFormat(format); err != nil {
		return err
	}
	b, err := protocol.ParseBlock(doc)
	if err != nil {
		return badCommand(err)
	}
	return s.applyBlock(ctx, b, true)
}

// ApplyTaskBlock caches the block's targets and queues each task on its
// telescope. Tasks for telescopes this site does not own are skipped.
// Store failures are logged; the block is already acknowledged upstream.
func (s *Site) ApplyTaskBlock(ctx context.Context, b *model.TaskBlock) error {
	return s.applyBlock(ctx, b, false)
}

// applyBlock persists the block before touching memory. With strict set a
// store failure aborts the apply and nothing is cached or queued.
func (s *Site) applyBlock(ctx context.Context, b *model.TaskBlock, strict bool) error {
	if b == nil {
		return invalid("nil block")
	}
	log := s.log.With(logx.String("block_id", b.ID))

	targets := make([]model.Target, 0, len(b.Targets))
	for _, t := range b.Targets {
		t.Status = model.StatusOK
		if err := s.store.PutTarget(ctx, t); err != nil {
			if strict {
				return storeErr("cache target", err)
			}
			log.Warn("cache target failed", logx.Uint64("targ_id", t.ID), logx.Err(err))
		}
		targets = append(targets, t)
	}

	tasks := make([]model.TaskRecord, 0, len(b.Tasks))
	for _, t := range b.Tasks {
		tel, ok := s.reg.telescopes.FindFirstIf(telescopeByID(t.TelescopeID))
		if !ok || tel.SiteID != s.self.ID {
			log.Warn("task for foreign telescope skipped", logx.Uint64("task_id", t.ID), logx.Uint64("tel_id", t.TelescopeID))
			continue
		}
		t.SiteID = s.self.ID
		t.Status = model.TaskGenerated
		if err := s.store.PutTask(ctx, t); err != nil {
			if strict {
				return storeErr("record task", err)
			}
			log.Warn("record task failed", logx.Uint64("task_id", t.ID), logx.Err(err))
		}
		tasks = append(tasks, t)
	}

	for _, t := range targets {
		s.reg.upsertTarget(t)
	}
	for _, t := range tasks {
		s.reg.upsertTask(t)
		s.telescopeQueue(t.TelescopeID, true).Push(t)
	}

	s.publish(eventbus.BlockApplied, eventbus.BlockData{BlockID: b.ID, SiteID: s.self.ID, Tasks: len(tasks)})
	log.Info("task block applied", logx.Int("targets", len(targets)), logx.Int("tasks", len(tasks)))
	return nil
}

func (s *Site) telescopeQueue(telID uint64, create bool) *adt.Queue[model.TaskRecord] {
	match := func(v telescopeQueue) bool { return v.telID == telID }
	if v, ok := s.pending.FindFirstIf(match); ok || !create {
		return v.q
	}
	s.createMu.Lock()
	defer s.createMu.Unlock()
	if v, ok := s.pending.FindFirstIf(match); ok {
		return v.q
	}
	q := adt.NewQueue[model.TaskRecord]()
	s.pending.PushFront(telescopeQueue{telID: telID, q: q})
	return q
}

// GetTaskByTelescopeID hands the next queued task of a telescope to its
// unit and marks it EXECUTING.
func (s *Site) GetTaskByTelescopeID(ctx context.Context, id uint64) (model.TaskRecord, error) {
	tel, ok := s.reg.telescopes.FindFirstIf(telescopeByID(id))
	if !ok || tel.Status != model.StatusOK {
		return model.TaskRecord{}, notFound("telescope", id)
	}
	q := s.telescopeQueue(id, false)
	if q == nil {
		return model.TaskRecord{}, fmt.Errorf("pending task for telescope %d: %w", id, ErrNotFound)
	}
	t, ok := q.TryPop()
	if !ok {
		return model.TaskRecord{}, fmt.Errorf("pending task for telescope %d: %w", id, ErrNotFound)
	}

	t.Status = model.TaskExecuting
	s.reg.tasks.OperateFirstIf(taskByID(t.ID), func(v *model.TaskRecord) { v.Status = model.TaskExecuting })
	if err := s.store.SetStatus(ctx, storage.KindTask, t.ID, int(model.TaskExecuting)); err != nil {
		s.log.Warn("persist task dispatch failed", logx.Uint64("task_id", t.ID), logx.Err(err))
	}
	s.up.enqueue(taskStatusDoc(t.ID, model.TaskExecuting))
	s.entityEvent(eventbus.TaskDispatch, "task", t.ID, int(t.Status))
	return t, nil
}

func (s *Site) GetTaskByTelescopeName(ctx context.Context, name string) (model.TaskRecord, error) {
	id, err := s.telescopeID(name)
	if err != nil {
		return model.TaskRecord{}, err
	}
	return s.GetTaskByTelescopeID(ctx, id)
}
