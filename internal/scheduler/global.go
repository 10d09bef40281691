package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"obsched/internal/eventbus"
	"obsched/internal/model"
	"obsched/internal/protocol"
	"obsched/pkg/adt"
	logx "obsched/pkg/logx"
)

const defaultBlockPoll = 500 * time.Millisecond

// Global is the top tier. It owns every registry, plans work and hands task
// blocks to sites.
type Global struct {
	unsupported
	*entities

	board *blockBoard
	poll  time.Duration
}

func newGlobal(c core, cfg Config) *Global {
	poll := cfg.BlockPoll
	if poll <= 0 {
		poll = defaultBlockPoll
	}
	return &Global{
		entities: &entities{core: c, reg: newRegistry(true)},
		board:    newBlockBoard(),
		poll:     poll,
	}
}

func (g *Global) Load(ctx context.Context) error { return g.load(ctx) }

func (g *Global) Close() error {
	g.reg.clear()
	return nil
}

func (g *Global) ListSites(context.Context) ([]model.Site, error) { return g.listSites(), nil }

func (g *Global) AddSite(ctx context.Context, info []byte) (uint64, error) {
	return g.addSite(ctx, info)
}

func (g *Global) DeleteSiteByID(ctx context.Context, id uint64) error {
	return g.setSiteStatus(ctx, id, model.StatusDelete)
}

func (g *Global) DeleteSiteByName(ctx context.Context, name string) error {
	id, err := g.siteID(name)
	if err != nil {
		return err
	}
	return g.DeleteSiteByID(ctx, id)
}

func (g *Global) MaskSiteByID(ctx context.Context, id uint64) error {
	return g.setSiteStatus(ctx, id, model.StatusMasked)
}

func (g *Global) MaskSiteByName(ctx context.Context, name string) error {
	id, err := g.siteID(name)
	if err != nil {
		return err
	}
	return g.MaskSiteByID(ctx, id)
}

func (g *Global) UnmaskSiteByID(ctx context.Context, id uint64) error {
	return g.setSiteStatus(ctx, id, model.StatusOK)
}

func (g *Global) UnmaskSiteByName(ctx context.Context, name string) error {
	id, err := g.siteID(name)
	if err != nil {
		return err
	}
	return g.UnmaskSiteByID(ctx, id)
}

func (g *Global) ListTelescopes(context.Context) ([]model.Telescope, error) {
	return g.listTelescopes(), nil
}

func (g *Global) AddTelescope(ctx context.Context, info []byte) (uint64, error) {
	return g.addTelescope(ctx, info, 0)
}

func (g *Global) DeleteTelescopeByID(ctx context.Context, id uint64) error {
	return g.setTelescopeStatus(ctx, id, model.StatusDelete)
}

func (g *Global) DeleteTelescopeByName(ctx context.Context, name string) error {
	id, err := g.telescopeID(name)
	if err != nil {
		return err
	}
	return g.DeleteTelescopeByID(ctx, id)
}

func (g *Global) MaskTelescopeByID(ctx context.Context, id uint64) error {
	return g.setTelescopeStatus(ctx, id, model.StatusMasked)
}

func (g *Global) MaskTelescopeByName(ctx context.Context, name string) error {
	id, err := g.telescopeID(name)
	if err != nil {
		return err
	}
	return g.MaskTelescopeByID(ctx, id)
}

func (g *Global) UnmaskTelescopeByID(ctx context.Context, id uint64) error {
	return g.setTelescopeStatus(ctx, id, model.StatusOK)
}

func (g *Global) UnmaskTelescopeByName(ctx context.Context, name string) error {
	id, err := g.telescopeID(name)
	if err != nil {
		return err
	}
	return g.UnmaskTelescopeByID(ctx, id)
}

func (g *Global) ListTargets(context.Context) ([]model.Target, error) { return g.listTargets(), nil }

func (g *Global) AddTarget(ctx context.Context, info []byte) (uint64, error) {
	return g.addTarget(ctx, info)
}

func (g *Global) DeleteTargetByID(ctx context.Context, id uint64, nside int64) error {
	return g.setTargetStatus(ctx, id, nside, model.StatusDelete)
}

func (g *Global) DeleteTargetByName(ctx context.Context, name string) error {
	t, err := g.target(name)
	if err != nil {
		return err
	}
	return g.DeleteTargetByID(ctx, t.ID, t.Nside)
}

func (g *Global) MaskTargetByID(ctx context.Context, id uint64, nside int64) error {
	return g.setTargetStatus(ctx, id, nside, model.StatusMasked)
}

func (g *Global) MaskTargetByName(ctx context.Context, name string) error {
	t, err := g.target(name)
	if err != nil {
		return err
	}
	return g.MaskTargetByID(ctx, t.ID, t.Nside)
}

func (g *Global) UnmaskTargetByID(ctx context.Context, id uint64, nside int64) error {
	return g.setTargetStatus(ctx, id, nside, model.StatusOK)
}

func (g *Global) UnmaskTargetByName(ctx context.Context, name string) error {
	t, err := g.target(name)
	if err != nil {
		return err
	}
	return g.UnmaskTargetByID(ctx, t.ID, t.Nside)
}

func (g *Global) SetTargetPriority(ctx context.Context, id uint64, priority int) error {
	return g.setTargetPriority(ctx, id, priority)
}

func (g *Global) AddTaskRecord(ctx context.Context, info []byte) (uint64, error) {
	return g.addTask(ctx, info)
}

func (g *Global) UpdateTaskRecord(ctx context.Context, id uint64, info []byte) error {
	return g.updateTask(ctx, id, info)
}

func (g *Global) UpdateStatus(_ context.Context, doc []byte, format model.Format) error {
	return g.updateStatus(doc, format)
}

// ---- task blocks ----

func (g *Global) PushTaskBlock(ctx context.Context, doc []byte, format model.Format) error {
	if err := checkFormat(format); err != nil {
		return err
	}
	b, err := protocol.ParseBlock(doc)
	if err != nil {
		return badCommand(err)
	}
	return g.SubmitBlock(ctx, b)
}

// SubmitBlock records the block's targets and tasks and queues it for its
// site. Tasks without an id get one and start as GENERATED. Every new
// record is stored before any of them reaches the registry, so a store
// failure leaves neither registry nor board changed.
func (g *Global) SubmitBlock(ctx context.Context, b *model.TaskBlock) error {
	if b == nil {
		return invalid("nil block")
	}
	if b.SiteID != 0 {
		if _, ok := g.reg.sites.FindFirstIf(siteByID(b.SiteID)); !ok {
			return notFound("site", b.SiteID)
		}
	}

	targets := append([]model.Target(nil), b.Targets...)
	var fresh []model.Target
	for i := range targets {
		t := &targets[i]
		if t.ID == 0 {
			if err := assignTargetID(t); err != nil {
				return err
			}
		}
		if _, ok := g.reg.targets.FindFirstIf(targetByID(t.ID, t.Nside)); ok {
			continue
		}
		t.Status = model.StatusOK
		fresh = append(fresh, *t)
	}

	tasks := append([]model.TaskRecord(nil), b.Tasks...)
	var created []model.TaskRecord
	for i := range tasks {
		t := &tasks[i]
		if t.SiteID == 0 {
			t.SiteID = b.SiteID
		}
		if t.ID != 0 {
			continue
		}
		t.Status = model.TaskGenerated
		t.ID = g.reg.taskIDs.next()
		created = append(created, *t)
	}

	for _, t := range fresh {
		if err := g.store.PutTarget(ctx, t); err != nil {
			return storeErr("add target", err)
		}
	}
	for _, t := range created {
		if err := g.store.PutTask(ctx, t); err != nil {
			return storeErr("add task", err)
		}
	}

	for _, t := range fresh {
		g.reg.upsertTarget(t)
		g.entityEvent(eventbus.EntityAdded, "target", t.ID, int(t.Status))
	}
	for _, t := range created {
		g.reg.upsertTask(t)
		g.entityEvent(eventbus.EntityAdded, "task", t.ID, int(t.Status))
	}

	b.Targets, b.Tasks = targets, tasks
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = g.now()
	}
	g.board.push(b)
	g.publish(eventbus.BlockQueued, eventbus.BlockData{BlockID: b.ID, SiteID: b.SiteID, Tasks: len(b.Tasks)})
	g.log.Info("task block queued", logx.String("block_id", b.ID), logx.Uint64("site_id", b.SiteID), logx.Int("tasks", len(b.Tasks)))
	return nil
}

func (g *Global) PopTaskBlock(_ context.Context, siteID uint64) (*model.TaskBlock, error) {
	b, ok := g.board.tryPop(siteID)
	if !ok {
		return nil, fmt.Errorf("pending block for site %d: %w", siteID, ErrNotFound)
	}
	g.board.markDelivered(b, g.now())
	g.publish(eventbus.BlockSent, eventbus.BlockData{BlockID: b.ID, SiteID: siteID, Tasks: len(b.Tasks)})
	return b, nil
}

// NextTaskBlock waits until a block for siteID is pending or ctx ends.
func (g *Global) NextTaskBlock(ctx context.Context, siteID uint64) (*model.TaskBlock, error) {
	ready := g.board.waiter(siteID)
	for {
		b, err := g.PopTaskBlock(ctx, siteID)
		if err == nil {
			return b, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := ready.TimedPop(g.poll); err != nil && !errors.Is(err, adt.ErrTimeout) {
			return nil, err
		}
	}
}

func (g *Global) AckTaskBlock(_ context.Context, blockID string) error {
	b, ok := g.board.settle(blockID)
	if !ok {
		return fmt.Errorf("delivered block %q: %w", blockID, ErrNotFound)
	}
	g.publish(eventbus.BlockAcked, eventbus.BlockData{BlockID: b.ID, SiteID: b.SiteID, Tasks: len(b.Tasks)})
	g.log.Info("task block acknowledged", logx.String("block_id", b.ID), logx.Uint64("site_id", b.SiteID))
	return nil
}

// LoseTaskBlock forgets a delivered block whose acknowledgement will never
// come. Delivery is at-most-once: the block is not queued again.
func (g *Global) LoseTaskBlock(_ context.Context, blockID string, cause error) {
	if b, ok := g.board.settle(blockID); ok {
		g.lost(b, cause)
	}
}

func (g *Global) lost(b *model.TaskBlock, cause error) {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	g.publish(eventbus.BlockLost, eventbus.BlockData{BlockID: b.ID, SiteID: b.SiteID, Tasks: len(b.Tasks), Reason: reason})
	g.log.Warn("task block lost before acknowledgement",
		logx.String("block_id", b.ID), logx.Uint64("site_id", b.SiteID), logx.Int("tasks", len(b.Tasks)), logx.Err(cause))
}

// ExpireInflight loses every delivered block whose acknowledgement is
// older than ttl and returns how many were dropped.
func (g *Global) ExpireInflight(ttl time.Duration) int {
	stale := g.board.expire(g.now().Add(-ttl))
	for _, b := range stale {
		g.lost(b, fmt.Errorf("no acknowledgement within %s", ttl))
	}
	return len(stale)
}

// HasPendingBlock reports whether siteID still has an undelivered block.
func (g *Global) HasPendingBlock(siteID uint64) bool { return g.board.hasPending(siteID) }

// InflightBlocks counts blocks delivered but not yet acknowledged.
func (g *Global) InflightBlocks() int { return g.board.inflightCount() }
