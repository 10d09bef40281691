package command

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"obsched/internal/model"
	"obsched/internal/protocol"
	"obsched/internal/rpc"
	"obsched/internal/scheduler"
	logx "obsched/pkg/logx"
)

type handlerFn func(ctx context.Context, req rpc.Packet) (rpc.Packet, error)

// Dispatcher serves rpc packets against one scheduler.
type Dispatcher struct {
	s        scheduler.Scheduler
	log      logx.Logger
	now      func() time.Time
	handlers map[rpc.Command]handlerFn
}

func NewDispatcher(s scheduler.Scheduler, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{s: s, log: log, now: time.Now}
	d.handlers = map[rpc.Command]handlerFn{
		rpc.ListSite:      listOf(s.ListSites),
		rpc.ListTelescope: listOf(s.ListTelescopes),
		rpc.ListTarget:    listOf(s.ListTargets),

		rpc.AddSite:       addOf(s.AddSite),
		rpc.AddTelescope:  addOf(s.AddTelescope),
		rpc.AddTarget:     addOf(s.AddTarget),
		rpc.AddTaskRecord: addOf(s.AddTaskRecord),

		rpc.SetTargetPriority:      d.setTargetPriority,
		rpc.UpdateTaskRecord:       d.updateTaskRecord,
		rpc.GetTaskByTelescopeID:   d.getTaskByID,
		rpc.GetTaskByTelescopeName: d.getTaskByName,
		rpc.UpdateStatus:           d.updateStatus,
		rpc.PushTaskBlock:          d.pushTaskBlock,
		rpc.PopTaskBlock:           d.popTaskBlock,
		rpc.TaskBlockAck:           d.ackTaskBlock,
	}
	for cmd, op := range statusCommands {
		d.handlers[cmd] = d.statusHandler(op)
	}
	return d
}

// Serve implements rpc.Handler.
func (d *Dispatcher) Serve(ctx context.Context, req rpc.Packet) (rpc.Packet, error) {
	h, ok := d.handlers[req.Command]
	if !ok {
		return rpc.Packet{}, fmt.Errorf("%w: unknown command %s", scheduler.ErrBadCommand, req.Command)
	}
	return h(ctx, req)
}

func listOf[T any](list func(context.Context) ([]T, error)) handlerFn {
	return func(ctx context.Context, req rpc.Packet) (rpc.Packet, error) {
		items, err := list(ctx)
		if err != nil {
			return rpc.Packet{}, err
		}
		if items == nil {
			items = []T{}
		}
		buf, err := json.Marshal(items)
		if err != nil {
			return rpc.Packet{}, err
		}
		resp := req.Reply()
		resp.Buf = buf
		resp.U32F0 = uint32(len(items))
		resp.Option = uint32(model.FormatJSON)
		return resp, nil
	}
}

func addOf(add func(context.Context, []byte) (uint64, error)) handlerFn {
	return func(ctx context.Context, req rpc.Packet) (rpc.Packet, error) {
		id, err := add(ctx, req.Buf)
		if err != nil {
			return rpc.Packet{}, err
		}
		resp := req.Reply()
		resp.U64F0 = id
		return resp, nil
	}
}

func (d *Dispatcher) statusHandler(op statusOp) handlerFn {
	return func(ctx context.Context, req rpc.Packet) (rpc.Packet, error) {
		var err error
		if op.byName {
			err = d.byName(op)(ctx, req.Str)
		} else {
			err = d.byID(ctx, op, req.U64F0, int64(req.U32F0))
		}
		if err != nil {
			return rpc.Packet{}, err
		}
		return req.Reply(), nil
	}
}

func (d *Dispatcher) byName(op statusOp) func(context.Context, string) error {
	s := d.s
	fns := map[Entity][3]func(context.Context, string) error{
		Site:      {s.DeleteSiteByName, s.MaskSiteByName, s.UnmaskSiteByName},
		Telescope: {s.DeleteTelescopeByName, s.MaskTelescopeByName, s.UnmaskTelescopeByName},
		Target:    {s.DeleteTargetByName, s.MaskTargetByName, s.UnmaskTargetByName},
	}
	return fns[op.entity][op.action]
}

func (d *Dispatcher) byID(ctx context.Context, op statusOp, id uint64, nside int64) error {
	s := d.s
	if op.entity == Target {
		fns := [3]func(context.Context, uint64, int64) error{s.DeleteTargetByID, s.MaskTargetByID, s.UnmaskTargetByID}
		return fns[op.action](ctx, id, nside)
	}
	fns := map[Entity][3]func(context.Context, uint64) error{
		Site:      {s.DeleteSiteByID, s.MaskSiteByID, s.UnmaskSiteByID},
		Telescope: {s.DeleteTelescopeByID, s.MaskTelescopeByID, s.UnmaskTelescopeByID},
	}
	return fns[op.entity][op.action](ctx, id)
}

func (d *Dispatcher) setTargetPriority(ctx context.Context, req rpc.Packet) (rpc.Packet, error) {
	if err := d.s.SetTargetPriority(ctx, req.U64F0, int(int32(req.U32F0))); err != nil {
		return rpc.Packet{}, err
	}
	return req.Reply(), nil
}

func (d *Dispatcher) updateTaskRecord(ctx context.Context, req rpc.Packet) (rpc.Packet, error) {
	if err := d.s.UpdateTaskRecord(ctx, req.U64F0, req.Buf); err != nil {
		return rpc.Packet{}, err
	}
	return req.Reply(), nil
}

func (d *Dispatcher) getTaskByID(ctx context.Context, req rpc.Packet) (rpc.Packet, error) {
	t, err := d.s.GetTaskByTelescopeID(ctx, req.U64F0)
	return taskReply(req, t, err)
}

func (d *Dispatcher) getTaskByName(ctx context.Context, req rpc.Packet) (rpc.Packet, error) {
	t, err := d.s.GetTaskByTelescopeName(ctx, req.Str)
	return taskReply(req, t, err)
}

func taskReply(req rpc.Packet, t model.TaskRecord, err error) (rpc.Packet, error) {
	if err != nil {
		return rpc.Packet{}, err
	}
	buf, err := json.Marshal(map[string]model.TaskRecord{protocol.KeyTask: t})
	if err != nil {
		return rpc.Packet{}, err
	}
	resp := req.Reply()
	resp.U64F0 = t.ID
	resp.Buf = buf
	resp.Option = uint32(model.FormatJSON)
	return resp, nil
}

func (d *Dispatcher) updateStatus(ctx context.Context, req rpc.Packet) (rpc.Packet, error) {
	if err := d.s.UpdateStatus(ctx, req.Buf, model.Format(req.Option)); err != nil {
		return rpc.Packet{}, err
	}
	return req.Reply(), nil
}

func (d *Dispatcher) pushTaskBlock(ctx context.Context, req rpc.Packet) (rpc.Packet, error) {
	if err := d.s.PushTaskBlock(ctx, req.Buf, model.Format(req.Option)); err != nil {
		return rpc.Packet{}, err
	}
	return req.Reply(), nil
}

func (d *Dispatcher) popTaskBlock(ctx context.Context, req rpc.Packet) (rpc.Packet, error) {
	b, err := d.s.PopTaskBlock(ctx, req.U64F0)
	if err != nil {
		return rpc.Packet{}, err
	}
	buf, err := json.Marshal(protocol.NewDelivery(b, d.now()))
	if err != nil {
		return rpc.Packet{}, err
	}
	resp := req.Reply()
	resp.Str = b.ID
	resp.U64F0 = b.SiteID
	resp.Buf = buf
	resp.Option = uint32(model.FormatJSON)
	d.log.Debug("task block popped over rpc", logx.String("block_id", b.ID), logx.Uint64("site_id", b.SiteID))
	return resp, nil
}

func (d *Dispatcher) ackTaskBlock(ctx context.Context, req rpc.Packet) (rpc.Packet, error) {
	if err := d.s.AckTaskBlock(ctx, req.Str); err != nil {
		return rpc.Packet{}, err
	}
	return req.Reply(), nil
}
