package scheduler

import (
	"context"

	"obsched/internal/eventbus"
	"obsched/internal/model"
	"obsched/internal/protocol"
	"obsched/internal/storage"
	logx "obsched/pkg/logx"
)

// entities implements the registry commands shared by the global and site
// roles. Every mutation writes the store first and touches memory only
// when the write succeeded.
type entities struct {
	core
	reg *registry
}

func (e *entities) load(ctx context.Context) error {
	snap, err := e.store.Load(ctx, e.role)
	if err != nil {
		return storeErr("load", err)
	}
	if e.reg.sites != nil {
		for _, s := range snap.Sites {
			e.reg.sites.PushFront(s)
		}
	}
	for _, t := range snap.Telescopes {
		e.reg.telescopes.PushFront(t)
	}
	for _, t := range snap.Targets {
		e.reg.targets.PushFront(t)
	}
	for _, t := range snap.Tasks {
		e.reg.tasks.PushFront(t)
	}
	e.reg.siteIDs.seed(snap.MaxSiteID)
	e.reg.telescopeIDs.seed(snap.MaxTelescopeID)
	e.reg.taskIDs.seed(snap.MaxTaskID)

	e.log.Info("registries loaded",
		logx.Int("sites", len(snap.Sites)),
		logx.Int("telescopes", len(snap.Telescopes)),
		logx.Int("targets", len(snap.Targets)),
		logx.Int("tasks", len(snap.Tasks)),
	)
	return nil
}

// ---- sites ----

func (e *entities) listSites() []model.Site {
	return listLive(e.reg.sites, func(v model.Site) model.Status { return v.Status })
}

func (e *entities) addSite(ctx context.Context, info []byte) (uint64, error) {
	s, err := parseSite(info)
	if err != nil {
		return 0, err
	}
	s.ID = e.reg.siteIDs.next()
	s.Status = model.StatusOK
	if err := e.store.PutSite(ctx, s); err != nil {
		return 0, storeErr("add site", err)
	}
	e.reg.sites.PushFront(s)
	e.entityEvent(eventbus.EntityAdded, "site", s.ID, int(s.Status))
	e.log.Info("site added", logx.Uint64("site_id", s.ID), logx.String("name", s.Name))
	return s.ID, nil
}

func (e *entities) setSiteStatus(ctx context.Context, id uint64, st model.Status) error {
	if _, ok := e.reg.sites.FindFirstIf(siteByID(id)); !ok {
		return notFound("site", id)
	}
	if err := e.store.SetStatus(ctx, storage.KindSite, id, int(st)); err != nil {
		return storeErr("site status", err)
	}
	e.reg.sites.OperateFirstIf(siteByID(id), func(v *model.Site) { v.Status = st })
	e.entityEvent(eventbus.EntityStatus, "site", id, int(st))
	return nil
}

func (e *entities) siteID(name string) (uint64, error) {
	s, ok := e.reg.sites.FindFirstIf(siteByName(name))
	if !ok {
		return 0, notFoundName("site", name)
	}
	return s.ID, nil
}

// ---- telescopes ----

func (e *entities) listTelescopes() []model.Telescope {
	return listLive(e.reg.telescopes, func(v model.Telescope) model.Status { return v.Status })
}

// addTelescope registers a telescope. ownSite, when non-zero, overrides the
// site id of the payload.
func (e *entities) addTelescope(ctx context.Context, info []byte, ownSite uint64) (uint64, error) {
	t, err := parseTelescope(info)
	if err != nil {
		return 0, err
	}
	if ownSite != 0 {
		t.SiteID = ownSite
	} else if e.reg.sites != nil {
		if _, ok := e.reg.sites.FindFirstIf(siteByID(t.SiteID)); !ok {
			return 0, notFound("site", t.SiteID)
		}
	}
	t.ID = e.reg.telescopeIDs.next()
	t.Status = model.StatusOK
	if err := e.store.PutTelescope(ctx, t); err != nil {
		return 0, storeErr("add telescope", err)
	}
	e.reg.telescopes.PushFront(t)
	e.entityEvent(eventbus.EntityAdded, "telescope", t.ID, int(t.Status))
	e.log.Info("telescope added", logx.Uint64("tel_id", t.ID), logx.Uint64("site_id", t.SiteID), logx.String("name", t.Name))
	return t.ID, nil
}

func (e *entities) setTelescopeStatus(ctx context.Context, id uint64, st model.Status) error {
	if _, ok := e.reg.telescopes.FindFirstIf(telescopeByID(id)); !ok {
		return notFound("telescope", id)
	}
	if err := e.store.SetStatus(ctx, storage.KindTelescope, id, int(st)); err != nil {
		return storeErr("telescope status", err)
	}
	e.reg.telescopes.OperateFirstIf(telescopeByID(id), func(v *model.Telescope) { v.Status = st })
	e.entityEvent(eventbus.EntityStatus, "telescope", id, int(st))
	return nil
}

func (e *entities) telescopeID(name string) (uint64, error) {
	t, ok := e.reg.telescopes.FindFirstIf(telescopeByName(name))
	if !ok {
		return 0, notFoundName("telescope", name)
	}
	return t.ID, nil
}

// ---- targets ----

func (e *entities) listTargets() []model.Target {
	return listLive(e.reg.targets, func(v model.Target) model.Status { return v.Status })
}

func (e *entities) addTarget(ctx context.Context, info []byte) (uint64, error) {
	t, err := parseTarget(info)
	if err != nil {
		return 0, err
	}
	if err := e.putTarget(ctx, t); err != nil {
		return 0, err
	}
	return t.ID, nil
}

// putTarget persists t and then overwrites or inserts the registry entry.
func (e *entities) putTarget(ctx context.Context, t model.Target) error {
	t.Status = model.StatusOK
	if err := e.store.PutTarget(ctx, t); err != nil {
		return storeErr("add target", err)
	}
	e.reg.upsertTarget(t)
	e.entityEvent(eventbus.EntityAdded, "target", t.ID, int(t.Status))
	e.log.Debug("target stored", logx.Uint64("targ_id", t.ID), logx.Int64("nside", t.Nside), logx.String("name", t.Name))
	return nil
}

func (e *entities) setTargetStatus(ctx context.Context, id uint64, nside int64, st model.Status) error {
	if _, ok := e.reg.targets.FindFirstIf(targetByID(id, nside)); !ok {
		return notFound("target", id)
	}
	if err := e.store.SetStatus(ctx, storage.KindTarget, id, int(st)); err != nil {
		return storeErr("target status", err)
	}
	e.reg.targets.OperateFirstIf(targetByID(id, nside), func(v *model.Target) { v.Status = st })
	e.entityEvent(eventbus.EntityStatus, "target", id, int(st))
	return nil
}

func (e *entities) target(name string) (model.Target, error) {
	t, ok := e.reg.targets.FindFirstIf(targetByName(name))
	if !ok {
		return model.Target{}, notFoundName("target", name)
	}
	return t, nil
}

func (e *entities) setTargetPriority(ctx context.Context, id uint64, priority int) error {
	if _, ok := e.reg.targets.FindFirstIf(targetByID(id, 0)); !ok {
		return notFound("target", id)
	}
	if err := e.store.SetTargetPriority(ctx, id, priority); err != nil {
		return storeErr("target priority", err)
	}
	e.reg.targets.OperateFirstIf(targetByID(id, 0), func(v *model.Target) { v.Priority = priority })
	return nil
}

// ---- task records ----

func (e *entities) addTask(ctx context.Context, info []byte) (uint64, error) {
	t, err := parseTask(info)
	if err != nil {
		return 0, err
	}
	if err := e.putNewTask(ctx, &t); err != nil {
		return 0, err
	}
	return t.ID, nil
}

func (e *entities) putNewTask(ctx context.Context, t *model.TaskRecord) error {
	t.ID = e.reg.taskIDs.next()
	if err := e.store.PutTask(ctx, *t); err != nil {
		return storeErr("add task", err)
	}
	e.reg.upsertTask(*t)
	e.entityEvent(eventbus.EntityAdded, "task", t.ID, int(t.Status))
	return nil
}

func (e *entities) updateTask(ctx context.Context, id uint64, info []byte) error {
	cur, ok := e.reg.tasks.FindFirstIf(taskByID(id))
	if !ok {
		return notFound("task", id)
	}
	next, err := applyTaskPatch(cur, info)
	if err != nil {
		return err
	}
	if err := e.store.PutTask(ctx, next); err != nil {
		return storeErr("update task", err)
	}
	e.reg.tasks.OperateFirstIf(taskByID(id), func(v *model.TaskRecord) {
		v.Status, v.ObsTime, v.Description = next.Status, next.ObsTime, next.Description
	})
	e.entityEvent(eventbus.EntityStatus, "task", id, int(next.Status))
	return nil
}

// ---- status propagation ----

// applyStatus overwrites the status of every listed entity this scheduler
// holds. Unknown ids are skipped. It returns how many entities changed.
func (e *entities) applyStatus(u protocol.StatusUpdate) int {
	n := 0
	if e.reg.sites != nil {
		for _, c := range u.Sites {
			c := c
			if e.reg.sites.OperateFirstIf(
				func(v model.Site) bool { return v.ID == c.ID },
				func(v *model.Site) { v.Status = model.Status(c.Status) },
			) {
				n++
				e.entityEvent(eventbus.EntityStatus, "site", c.ID, c.Status)
			}
		}
	}
	for _, c := range u.Telescopes {
		c := c
		if e.reg.telescopes.OperateFirstIf(
			func(v model.Telescope) bool { return v.ID == c.ID },
			func(v *model.Telescope) { v.Status = model.Status(c.Status) },
		) {
			n++
			e.entityEvent(eventbus.EntityStatus, "telescope", c.ID, c.Status)
		}
	}
	for _, c := range u.Targets {
		c := c
		if e.reg.targets.OperateFirstIf(
			func(v model.Target) bool { return v.ID == c.ID && (c.Nside == 0 || v.Nside == c.Nside) },
			func(v *model.Target) { v.Status = model.Status(c.Status) },
		) {
			n++
			e.entityEvent(eventbus.EntityStatus, "target", c.ID, c.Status)
		}
	}
	for _, c := range u.Tasks {
		c := c
		if e.reg.tasks.OperateFirstIf(
			taskByID(c.ID),
			func(v *model.TaskRecord) { v.Status = model.TaskStatus(c.Status) },
		) {
			n++
			e.entityEvent(eventbus.EntityStatus, "task", c.ID, c.Status)
		}
	}
	return n
}

func (e *entities) updateStatus(doc []byte, format model.Format) error {
	if err := checkFormat(format); err != nil {
		return err
	}
	u, err := protocol.ParseStatus(doc)
	if err != nil {
		return badCommand(err)
	}
	n := e.applyStatus(u)
	e.publish(eventbus.StatusApplied, n)
	e.log.Debug("status applied", logx.Int("changed", n))
	return nil
}
