package storage

import (
	"context"

	"obsched/internal/model"
)

type nopStore struct{}

// Nop returns a store that accepts every write and loads nothing. Unit
// schedulers and deployments without a database use it.
func Nop() Store { return nopStore{} }

func (nopStore) PutSite(context.Context, model.Site) error            { return nil }
func (nopStore) PutTelescope(context.Context, model.Telescope) error  { return nil }
func (nopStore) PutTarget(context.Context, model.Target) error        { return nil }
func (nopStore) PutTask(context.Context, model.TaskRecord) error      { return nil }
func (nopStore) SetStatus(context.Context, Kind, uint64, int) error   { return nil }
func (nopStore) SetTargetPriority(context.Context, uint64, int) error { return nil }
func (nopStore) Load(context.Context, model.Role) (Snapshot, error)   { return Snapshot{}, nil }
func (nopStore) Migrate(context.Context, model.Role) error            { return nil }
func (nopStore) Close() error                                         { return nil }
