package scheduler

import (
	"context"

	"obsched/internal/model"
)

// unsupported answers every command with ErrNotSupported. Role types embed
// it and override what they serve.
type unsupported struct{}

func (unsupported) Load(context.Context) error { return nil }
func (unsupported) Close() error               { return nil }

func (unsupported) ListSites(context.Context) ([]model.Site, error) { return nil, ErrNotSupported }
func (unsupported) AddSite(context.Context, []byte) (uint64, error) { return 0, ErrNotSupported }
func (unsupported) DeleteSiteByID(context.Context, uint64) error    { return ErrNotSupported }
func (unsupported) DeleteSiteByName(context.Context, string) error  { return ErrNotSupported }
func (unsupported) MaskSiteByID(context.Context, uint64) error      { return ErrNotSupported }
func (unsupported) MaskSiteByName(context.Context, string) error    { return ErrNotSupported }
func (unsupported) UnmaskSiteByID(context.Context, uint64) error    { return ErrNotSupported }
func (unsupported) UnmaskSiteByName(context.Context, string) error  { return ErrNotSupported }

func (unsupported) ListTelescopes(context.Context) ([]model.Telescope, error) {
	return nil, ErrNotSupported
}
func (unsupported) AddTelescope(context.Context, []byte) (uint64, error) { return 0, ErrNotSupported }
func (unsupported) DeleteTelescopeByID(context.Context, uint64) error    { return ErrNotSupported }
func (unsupported) DeleteTelescopeByName(context.Context, string) error  { return ErrNotSupported }
func (unsupported) MaskTelescopeByID(context.Context, uint64) error      { return ErrNotSupported }
func (unsupported) MaskTelescopeByName(context.Context, string) error    { return ErrNotSupported }
func (unsupported) UnmaskTelescopeByID(context.Context, uint64) error    { return ErrNotSupported }
func (unsupported) UnmaskTelescopeByName(context.Context, string) error  { return ErrNotSupported }

func (unsupported) ListTargets(context.Context) ([]model.Target, error) { return nil, ErrNotSupported }
func (unsupported) AddTarget(context.Context, []byte) (uint64, error)   { return 0, ErrNotSupported }
func (unsupported) DeleteTargetByID(context.Context, uint64, int64) error {
	return ErrNotSupported
}
func (unsupported) DeleteTargetByName(context.Context, string) error { return ErrNotSupported }
func (unsupported) MaskTargetByID(context.Context, uint64, int64) error {
	return ErrNotSupported
}
func (unsupported) MaskTargetByName(context.Context, string) error { return ErrNotSupported }
func (unsupported) UnmaskTargetByID(context.Context, uint64, int64) error {
	return ErrNotSupported
}
func (unsupported) UnmaskTargetByName(context.Context, string) error       { return ErrNotSupported }
func (unsupported) SetTargetPriority(context.Context, uint64, int) error   { return ErrNotSupported }
func (unsupported) AddTaskRecord(context.Context, []byte) (uint64, error)  { return 0, ErrNotSupported }
func (unsupported) UpdateTaskRecord(context.Context, uint64, []byte) error { return ErrNotSupported }

func (unsupported) GetTaskByTelescopeID(context.Context, uint64) (model.TaskRecord, error) {
	return model.TaskRecord{}, ErrNotSupported
}
func (unsupported) GetTaskByTelescopeName(context.Context, string) (model.TaskRecord, error) {
	return model.TaskRecord{}, ErrNotSupported
}

func (unsupported) UpdateStatus(context.Context, []byte, model.Format) error  { return ErrNotSupported }
func (unsupported) PushTaskBlock(context.Context, []byte, model.Format) error { return ErrNotSupported }
func (unsupported) PopTaskBlock(context.Context, uint64) (*model.TaskBlock, error) {
	return nil, ErrNotSupported
}
func (unsupported) AckTaskBlock(context.Context, string) error { return ErrNotSupported }
