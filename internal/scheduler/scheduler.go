// Package scheduler implements the observation scheduler in its three
// roles: global, site and unit.
//
// Each role is a separate type behind the Scheduler interface. Commands a
// role does not serve return ErrNotSupported without side effects.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"obsched/internal/eventbus"
	"obsched/internal/model"
	"obsched/internal/storage"
	logx "obsched/pkg/logx"
)

// Scheduler is the role-gated command surface.
type Scheduler interface {
	Role() model.Role
	// Load fills the registries from the store and seeds the id counters.
	Load(ctx context.Context) error
	Close() error

	ListSites(ctx context.Context) ([]model.Site, error)
	AddSite(ctx context.Context, info []byte) (uint64, error)
	DeleteSiteByID(ctx context.Context, id uint64) error
	DeleteSiteByName(ctx context.Context, name string) error
	MaskSiteByID(ctx context.Context, id uint64) error
	MaskSiteByName(ctx context.Context, name string) error
	UnmaskSiteByID(ctx context.Context, id uint64) error
	UnmaskSiteByName(ctx context.Context, name string) error

	ListTelescopes(ctx context.Context) ([]model.Telescope, error)
	AddTelescope(ctx context.Context, info []byte) (uint64, error)
	DeleteTelescopeByID(ctx context.Context, id uint64) error
	DeleteTelescopeByName(ctx context.Context, name string) error
	MaskTelescopeByID(ctx context.Context, id uint64) error
	MaskTelescopeByName(ctx context.Context, name string) error
	UnmaskTelescopeByID(ctx context.Context, id uint64) error
	UnmaskTelescopeByName(ctx context.Context, name string) error

	ListTargets(ctx context.Context) ([]model.Target, error)
	AddTarget(ctx context.Context, info []byte) (uint64, error)
	// Target lookups by id take the resolution as well; nside 0 matches any.
	DeleteTargetByID(ctx context.Context, id uint64, nside int64) error
	DeleteTargetByName(ctx context.Context, name string) error
	MaskTargetByID(ctx context.Context, id uint64, nside int64) error
	MaskTargetByName(ctx context.Context, name string) error
	UnmaskTargetByID(ctx context.Context, id uint64, nside int64) error
	UnmaskTargetByName(ctx context.Context, name string) error
	SetTargetPriority(ctx context.Context, id uint64, priority int) error

	AddTaskRecord(ctx context.Context, info []byte) (uint64, error)
	UpdateTaskRecord(ctx context.Context, id uint64, info []byte) error
	GetTaskByTelescopeID(ctx context.Context, id uint64) (model.TaskRecord, error)
	GetTaskByTelescopeName(ctx context.Context, name string) (model.TaskRecord, error)

	UpdateStatus(ctx context.Context, doc []byte, format model.Format) error
	PushTaskBlock(ctx context.Context, doc []byte, format model.Format) error
	// PopTaskBlock takes the next pending block for siteID without waiting.
	PopTaskBlock(ctx context.Context, siteID uint64) (*model.TaskBlock, error)
	AckTaskBlock(ctx context.Context, blockID string) error
}

// Upstream forwards status documents to the next tier up.
type Upstream interface {
	UpdateStatus(ctx context.Context, doc []byte, format model.Format) error
}

// Config is the role-specific identity of a scheduler.
type Config struct {
	Role model.Role

	// Site identity; required for the site role.
	Site model.Site
	// Telescope identity; required for the unit role.
	Telescope model.Telescope

	// BlockPoll bounds how long NextTaskBlock sleeps between checks.
	BlockPoll time.Duration
}

// Deps are the collaborators shared by every role.
type Deps struct {
	Store storage.Store
	Bus   eventbus.Bus
	Log   logx.Logger
	Now   func() time.Time
}

// New builds the scheduler for cfg.Role.
func New(cfg Config, deps Deps) (Scheduler, error) {
	c := newCore(cfg.Role, deps)
	switch cfg.Role {
	case model.RoleGlobal:
		return newGlobal(c, cfg), nil
	case model.RoleSite:
		if cfg.Site.ID == 0 {
			return nil, invalid("site role needs a site id")
		}
		return newSite(c, cfg), nil
	case model.RoleUnit:
		if cfg.Telescope.ID == 0 {
			return nil, invalid("unit role needs a telescope id")
		}
		return newUnit(c, cfg), nil
	default:
		return nil, fmt.Errorf("%w: unknown role %d", ErrInvalidArgument, int(cfg.Role))
	}
}

// core carries what every role needs.
type core struct {
	role  model.Role
	store storage.Store
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time
}

func newCore(role model.Role, deps Deps) core {
	c := core{role: role, store: deps.Store, bus: deps.Bus, log: deps.Log, now: deps.Now}
	if c.store == nil {
		c.store = storage.Nop()
	}
	if c.log.IsZero() {
		c.log = logx.Nop()
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.log = c.log.With(logx.String("role", role.String()))
	return c
}

func (c core) Role() model.Role { return c.role }

func (c core) publish(typ string, data any) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(eventbus.Event{Type: typ, Time: c.now(), Data: data})
}

func (c core) entityEvent(typ, kind string, id uint64, status int) {
	c.publish(typ, eventbus.EntityData{Kind: kind, ID: id, Status: status})
}

func checkFormat(format model.Format) error {
	if format != model.FormatJSON {
		return fmt.Errorf("%w: %d", ErrFormatNotSupported, format)
	}
	return nil
}
