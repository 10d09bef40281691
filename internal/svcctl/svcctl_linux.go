//go:build linux

package svcctl

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/coreos/go-systemd/v22/dbus"
)

// Manager talks to the system manager over D-Bus.
type Manager struct {
	mu       sync.RWMutex
	conn     *dbus.Conn
	prefixes []string
}

func New(ctx context.Context, prefixes []string) (*Manager, error) {
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect to systemd: %w", err)
	}
	if len(prefixes) == 0 {
		prefixes = DefaultPrefixes
	}
	return &Manager{conn: conn, prefixes: append([]string(nil), prefixes...)}, nil
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	return nil
}

func (m *Manager) connection() (*dbus.Conn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.conn == nil {
		return nil, fmt.Errorf("systemd connection is closed")
	}
	return m.conn, nil
}

type jobFunc func(ctx context.Context, name, mode string, ch chan<- string) (int, error)

// run queues a job and waits for systemd to report its result.
func (m *Manager) run(ctx context.Context, action, name string, job func(*dbus.Conn) jobFunc) error {
	unit, err := checkManaged(m.prefixes, name)
	if err != nil {
		return err
	}
	conn, err := m.connection()
	if err != nil {
		return err
	}
	done := make(chan string, 1)
	if _, err := job(conn)(ctx, unit, "replace", done); err != nil {
		return fmt.Errorf("%s %s: %w", action, unit, err)
	}
	select {
	case res := <-done:
		if res != "done" {
			return fmt.Errorf("%s %s: job %s", action, unit, res)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) Start(ctx context.Context, name string) error {
	return m.run(ctx, "start", name, func(c *dbus.Conn) jobFunc { return c.StartUnitContext })
}

func (m *Manager) Stop(ctx context.Context, name string) error {
	return m.run(ctx, "stop", name, func(c *dbus.Conn) jobFunc { return c.StopUnitContext })
}

func (m *Manager) Restart(ctx context.Context, name string) error {
	return m.run(ctx, "restart", name, func(c *dbus.Conn) jobFunc { return c.RestartUnitContext })
}

func (m *Manager) Status(ctx context.Context, name string) (Status, error) {
	unit, err := checkManaged(m.prefixes, name)
	if err != nil {
		return Status{}, err
	}
	conn, err := m.connection()
	if err != nil {
		return Status{}, err
	}
	props, err := conn.GetUnitPropertiesContext(ctx, unit)
	if err != nil {
		if strings.Contains(err.Error(), "NoSuchUnit") {
			return Status{Unit: unit, Active: "unknown", SubState: "not-found", LoadState: "not-found"}, nil
		}
		return Status{}, fmt.Errorf("status %s: %w", unit, err)
	}
	st := Status{
		Unit:        unit,
		Active:      stringProp(props, "ActiveState"),
		SubState:    stringProp(props, "SubState"),
		LoadState:   stringProp(props, "LoadState"),
		Description: stringProp(props, "Description"),
		ActiveSince: usecTime(props["ActiveEnterTimestamp"]),
		ExitedAt:    usecTime(props["InactiveEnterTimestamp"]),
	}
	if pid, ok := props["MainPID"].(uint32); ok {
		st.MainPID = pid
	}
	return st, nil
}

// List returns the status of every loaded managed unit.
func (m *Manager) List(ctx context.Context) ([]Status, error) {
	conn, err := m.connection()
	if err != nil {
		return nil, err
	}
	patterns := make([]string, 0, len(m.prefixes))
	for _, p := range m.prefixes {
		patterns = append(patterns, p+"*")
	}
	units, err := conn.ListUnitsByPatternsContext(ctx, nil, patterns)
	if err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	out := make([]Status, 0, len(units))
	for _, u := range units {
		out = append(out, Status{
			Unit:        u.Name,
			Active:      u.ActiveState,
			SubState:    u.SubState,
			LoadState:   u.LoadState,
			Description: u.Description,
		})
	}
	return out, nil
}
