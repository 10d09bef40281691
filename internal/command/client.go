package command

import (
	"context"
	"encoding/json"
	"fmt"

	"obsched/internal/model"
	"obsched/internal/protocol"
	"obsched/internal/rpc"
	"obsched/internal/scheduler"
)

// Caller issues one rpc request.
type Caller interface {
	Call(ctx context.Context, req rpc.Packet) (rpc.Packet, error)
}

// Client is the typed side of the command table. It satisfies
// scheduler.Upstream so a lower tier can forward status through it.
type Client struct {
	c Caller
}

func NewClient(c Caller) *Client { return &Client{c: c} }

var _ scheduler.Upstream = (*Client)(nil)

func (c *Client) call(ctx context.Context, req rpc.Packet) (rpc.Packet, error) {
	return c.c.Call(ctx, req)
}

func list[T any](ctx context.Context, c *Client, cmd rpc.Command) ([]T, error) {
	resp, err := c.call(ctx, rpc.Packet{Command: cmd})
	if err != nil {
		return nil, err
	}
	var out []T
	if err := json.Unmarshal(resp.Buf, &out); err != nil {
		return nil, fmt.Errorf("%s reply: %w", cmd, err)
	}
	return out, nil
}

func (c *Client) ListSites(ctx context.Context) ([]model.Site, error) {
	return list[model.Site](ctx, c, rpc.ListSite)
}

func (c *Client) ListTelescopes(ctx context.Context) ([]model.Telescope, error) {
	return list[model.Telescope](ctx, c, rpc.ListTelescope)
}

func (c *Client) ListTargets(ctx context.Context) ([]model.Target, error) {
	return list[model.Target](ctx, c, rpc.ListTarget)
}

func (c *Client) add(ctx context.Context, cmd rpc.Command, info []byte) (uint64, error) {
	resp, err := c.call(ctx, rpc.Packet{Command: cmd, Buf: info, Option: uint32(model.FormatJSON)})
	if err != nil {
		return 0, err
	}
	return resp.U64F0, nil
}

func (c *Client) AddSite(ctx context.Context, info []byte) (uint64, error) {
	return c.add(ctx, rpc.AddSite, info)
}

func (c *Client) AddTelescope(ctx context.Context, info []byte) (uint64, error) {
	return c.add(ctx, rpc.AddTelescope, info)
}

func (c *Client) AddTarget(ctx context.Context, info []byte) (uint64, error) {
	return c.add(ctx, rpc.AddTarget, info)
}

func (c *Client) AddTaskRecord(ctx context.Context, info []byte) (uint64, error) {
	return c.add(ctx, rpc.AddTaskRecord, info)
}

// SetByID applies a status action to an entity by id. nside only matters for
// targets; 0 matches any resolution.
func (c *Client) SetByID(ctx context.Context, e Entity, a Action, id uint64, nside int64) error {
	cmd, ok := statusCommand(e, a, false)
	if !ok {
		return fmt.Errorf("%w: %s %s", scheduler.ErrBadCommand, a, e)
	}
	_, err := c.call(ctx, rpc.Packet{Command: cmd, U64F0: id, U32F0: uint32(nside)})
	return err
}

func (c *Client) SetByName(ctx context.Context, e Entity, a Action, name string) error {
	cmd, ok := statusCommand(e, a, true)
	if !ok {
		return fmt.Errorf("%w: %s %s", scheduler.ErrBadCommand, a, e)
	}
	_, err := c.call(ctx, rpc.Packet{Command: cmd, Str: name})
	return err
}

func (c *Client) SetTargetPriority(ctx context.Context, id uint64, priority int) error {
	_, err := c.call(ctx, rpc.Packet{Command: rpc.SetTargetPriority, U64F0: id, U32F0: uint32(int32(priority))})
	return err
}

func (c *Client) UpdateTaskRecord(ctx context.Context, id uint64, info []byte) error {
	_, err := c.call(ctx, rpc.Packet{Command: rpc.UpdateTaskRecord, U64F0: id, Buf: info, Option: uint32(model.FormatJSON)})
	return err
}

func (c *Client) GetTaskByTelescopeID(ctx context.Context, id uint64) (model.TaskRecord, error) {
	return c.task(ctx, rpc.Packet{Command: rpc.GetTaskByTelescopeID, U64F0: id})
}

func (c *Client) GetTaskByTelescopeName(ctx context.Context, name string) (model.TaskRecord, error) {
	return c.task(ctx, rpc.Packet{Command: rpc.GetTaskByTelescopeName, Str: name})
}

func (c *Client) task(ctx context.Context, req rpc.Packet) (model.TaskRecord, error) {
	resp, err := c.call(ctx, req)
	if err != nil {
		return model.TaskRecord{}, err
	}
	var doc map[string]model.TaskRecord
	if err := json.Unmarshal(resp.Buf, &doc); err != nil {
		return model.TaskRecord{}, fmt.Errorf("%s reply: %w", req.Command, err)
	}
	return doc[protocol.KeyTask], nil
}

func (c *Client) UpdateStatus(ctx context.Context, doc []byte, format model.Format) error {
	_, err := c.call(ctx, rpc.Packet{Command: rpc.UpdateStatus, Buf: doc, Option: uint32(format)})
	return err
}

func (c *Client) PushTaskBlock(ctx context.Context, doc []byte, format model.Format) error {
	_, err := c.call(ctx, rpc.Packet{Command: rpc.PushTaskBlock, Buf: doc, Option: uint32(format)})
	return err
}

// PopTaskBlock takes a pending block over rpc. The caller owns the ack.
func (c *Client) PopTaskBlock(ctx context.Context, siteID uint64) (*model.TaskBlock, error) {
	resp, err := c.call(ctx, rpc.Packet{Command: rpc.PopTaskBlock, U64F0: siteID})
	if err != nil {
		return nil, err
	}
	var env protocol.Envelope
	if err := json.Unmarshal(resp.Buf, &env); err != nil {
		return nil, fmt.Errorf("%s reply: %w", rpc.PopTaskBlock, err)
	}
	return env.Block()
}

func (c *Client) AckTaskBlock(ctx context.Context, blockID string) error {
	_, err := c.call(ctx, rpc.Packet{Command: rpc.TaskBlockAck, Str: blockID})
	return err
}
