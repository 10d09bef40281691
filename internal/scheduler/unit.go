package scheduler

import (
	"context"

	"obsched/internal/model"
	"obsched/internal/protocol"
	logx "obsched/pkg/logx"
)

// Unit is the bottom tier, bound to a single telescope. It keeps no
// registries; status documents it receives are validated and passed up to
// its site.
type Unit struct {
	unsupported
	core

	self model.Telescope
	up   *uplink
}

func newUnit(c core, cfg Config) *Unit {
	c.log = c.log.With(logx.Uint64("tel_id", cfg.Telescope.ID))
	return &Unit{core: c, self: cfg.Telescope, up: newUplink(c.log.With(logx.String("comp", "uplink")))}
}

// Identity returns the configured telescope.
func (u *Unit) Identity() model.Telescope { return u.self }

func (u *Unit) Close() error {
	u.up.wake()
	return nil
}

func (u *Unit) RunUpstream(ctx context.Context, up Upstream) error { return u.up.run(ctx, up) }

func (u *Unit) UplinkDropped() uint64 { return u.up.dropped.Load() }

func (u *Unit) UpdateStatus(_ context.Context, doc []byte, format model.Format) error {
	if err := checkFormat(format); err != nil {
		return err
	}
	if _, err := protocol.ParseStatus(doc); err != nil {
		return badCommand(err)
	}
	u.up.enqueue(doc)
	return nil
}
