package scheduler

import (
	"sync"
	"sync/atomic"

	"obsched/internal/model"
	"obsched/pkg/adt"
)

// counter hands out identifiers. Values are never reused, even when the
// write that consumed one fails.
type counter struct{ v atomic.Uint64 }

func (c *counter) next() uint64 { return c.v.Add(1) }

// seed moves the counter past floor; it never moves backwards.
func (c *counter) seed(floor uint64) {
	for {
		cur := c.v.Load()
		if floor <= cur || c.v.CompareAndSwap(cur, floor) {
			return
		}
	}
}

// registry holds the entity lists of one scheduler. A nil list means the
// role does not keep that class.
type registry struct {
	sites      *adt.List[model.Site]
	telescopes *adt.List[model.Telescope]
	targets    *adt.List[model.Target]
	tasks      *adt.List[model.TaskRecord]

	siteIDs      counter
	telescopeIDs counter
	taskIDs      counter

	// upsertMu keeps two concurrent upserts of one id from both inserting.
	upsertMu sync.Mutex
}

func newRegistry(withSites bool) *registry {
	r := &registry{
		telescopes: adt.NewList[model.Telescope](nil),
		targets:    adt.NewList[model.Target](nil),
		tasks:      adt.NewList[model.TaskRecord](nil),
	}
	if withSites {
		r.sites = adt.NewList[model.Site](nil)
	}
	return r
}

// clear drops every entry. Called at teardown only.
func (r *registry) clear() {
	if r.sites != nil {
		r.sites.Clear()
	}
	r.telescopes.Clear()
	r.targets.Clear()
	r.tasks.Clear()
}

func live(s model.Status) bool { return s != model.StatusDelete }

func siteByID(id uint64) func(model.Site) bool {
	return func(v model.Site) bool { return v.ID == id && live(v.Status) }
}

func siteByName(name string) func(model.Site) bool {
	return func(v model.Site) bool { return v.Name == name && live(v.Status) }
}

func telescopeByID(id uint64) func(model.Telescope) bool {
	return func(v model.Telescope) bool { return v.ID == id && live(v.Status) }
}

func telescopeByName(name string) func(model.Telescope) bool {
	return func(v model.Telescope) bool { return v.Name == name && live(v.Status) }
}

func targetByID(id uint64, nside int64) func(model.Target) bool {
	return func(v model.Target) bool {
		return v.ID == id && (nside == 0 || v.Nside == nside) && live(v.Status)
	}
}

func targetByName(name string) func(model.Target) bool {
	return func(v model.Target) bool { return v.Name == name && live(v.Status) }
}

func taskByID(id uint64) func(model.TaskRecord) bool {
	return func(v model.TaskRecord) bool { return v.ID == id }
}

// upsertTarget overwrites the entry with t.ID in place or inserts it.
func (r *registry) upsertTarget(t model.Target) {
	r.upsertMu.Lock()
	defer r.upsertMu.Unlock()
	found := r.targets.OperateFirstIf(
		func(v model.Target) bool { return v.ID == t.ID },
		func(v *model.Target) { *v = t },
	)
	if !found {
		r.targets.PushFront(t)
	}
}

func (r *registry) upsertTask(t model.TaskRecord) {
	r.upsertMu.Lock()
	defer r.upsertMu.Unlock()
	found := r.tasks.OperateFirstIf(taskByID(t.ID), func(v *model.TaskRecord) { *v = t })
	if !found {
		r.tasks.PushFront(t)
	}
}

func (r *registry) upsertTelescope(t model.Telescope) {
	r.upsertMu.Lock()
	defer r.upsertMu.Unlock()
	found := r.telescopes.OperateFirstIf(
		func(v model.Telescope) bool { return v.ID == t.ID },
		func(v *model.Telescope) { *v = t },
	)
	if !found {
		r.telescopes.PushFront(t)
	}
}

func listLive[T any](l *adt.List[T], status func(T) model.Status) []T {
	out := make([]T, 0, l.Len())
	l.ForEach(func(v *T) {
		if live(status(*v)) {
			out = append(out, *v)
		}
	})
	return out
}
