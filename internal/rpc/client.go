package rpc

import (
	"context"
	"net"
	"sync"
	"time"

	"obsched/internal/protocol"
)

// Client issues synchronous calls over one reused connection. It redials
// after any transport failure.
type Client struct {
	network string
	addr    string
	timeout time.Duration

	mu   sync.Mutex
	conn net.Conn
	seq  uint64
}

func NewClient(network, addr string, timeout time.Duration) *Client {
	if network == "" {
		network = "unix"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{network: network, addr: addr, timeout: timeout}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) dropLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// Call sends req and waits for its reply. Declined commands come back as
// *RemoteError, unreachable peers as *TransportError.
func (c *Client) Call(ctx context.Context, req Packet) (Packet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		d := net.Dialer{Timeout: c.timeout}
		conn, err := d.DialContext(ctx, c.network, c.addr)
		if err != nil {
			return Packet{}, &TransportError{Op: "dial", Err: err}
		}
		c.conn = conn
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetDeadline(deadline)

	c.seq++
	req.Seq = c.seq
	if err := protocol.WriteFrame(c.conn, req); err != nil {
		c.dropLocked()
		return Packet{}, &TransportError{Op: "send", Err: err}
	}
	var resp Packet
	if err := protocol.ReadFrame(c.conn, &resp); err != nil {
		c.dropLocked()
		return Packet{}, &TransportError{Op: "receive", Err: err}
	}
	if resp.Seq != req.Seq {
		c.dropLocked()
		return Packet{}, &TransportError{Op: "receive", Err: errSeqMismatch{want: req.Seq, got: resp.Seq}}
	}
	if resp.ErrorCode != CodeOK {
		return resp, &RemoteError{Command: req.Command, Code: resp.ErrorCode, Message: resp.Message}
	}
	return resp, nil
}

type errSeqMismatch struct{ want, got uint64 }

func (e errSeqMismatch) Error() string { return "reply out of sequence" }
