package storage

import (
	"context"
	"errors"
	"time"

	"obsched/internal/model"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "mysql": DSN, or Host/User/Password/Name
//   - "sqlite": database file at Path
//
// If Driver is empty or "none", writes are accepted and dropped and loads
// return nothing.
type Config struct {
	Driver      string
	DSN         string
	Host        string
	User        string
	Password    string
	Name        string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	Tables      Tables
}

// Tables names the four entity tables.
type Tables struct {
	Site      string
	Telescope string
	Target    string
	Task      string
}

func (t Tables) withDefaults() Tables {
	if t.Site == "" {
		t.Site = "site"
	}
	if t.Telescope == "" {
		t.Telescope = "telescope"
	}
	if t.Target == "" {
		t.Target = "target"
	}
	if t.Task == "" {
		t.Task = "task"
	}
	return t
}

// Kind selects the table a status change applies to.
type Kind int

const (
	KindSite Kind = iota + 1
	KindTelescope
	KindTarget
	KindTask
)

func (k Kind) String() string {
	switch k {
	case KindSite:
		return "site"
	case KindTelescope:
		return "telescope"
	case KindTarget:
		return "target"
	case KindTask:
		return "task"
	default:
		return "unknown"
	}
}

// Snapshot is the persisted state loaded at scheduler start. Entities with
// status DELETE are left out; the Max* fields still account for them.
type Snapshot struct {
	Sites      []model.Site
	Telescopes []model.Telescope
	Targets    []model.Target
	Tasks      []model.TaskRecord

	MaxSiteID      uint64
	MaxTelescopeID uint64
	MaxTaskID      uint64
}

// Store is the persistence API used by the scheduler.
type Store interface {
	PutSite(ctx context.Context, s model.Site) error
	PutTelescope(ctx context.Context, t model.Telescope) error
	PutTarget(ctx context.Context, t model.Target) error
	PutTask(ctx context.Context, t model.TaskRecord) error
	SetStatus(ctx context.Context, kind Kind, id uint64, status int) error
	SetTargetPriority(ctx context.Context, id uint64, priority int) error

	// Load reads the tables owned by role.
	Load(ctx context.Context, role model.Role) (Snapshot, error)
	// Migrate creates the tables owned by role if they are missing.
	Migrate(ctx context.Context, role model.Role) error
	Close() error
}
