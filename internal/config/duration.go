package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a Go duration string. Empty means zero.
// path names the field in errors, e.g. "handoff.io_timeout".
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %q is not a duration: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: %q is negative", path, raw)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

type durationField struct{ path, raw string }

func (c *Config) durationFields() []durationField {
	return []durationField{
		{"upstream.timeout", c.Upstream.Timeout},
		{"database.busy_timeout", c.Database.BusyTimeout},
		{"handoff.io_timeout", c.Handoff.IOTimeout},
		{"handoff.reconnect_max", c.Handoff.ReconnectMax},
		{"handoff.block_poll", c.Handoff.BlockPoll},
		{"handoff.ack_timeout", c.Handoff.AckTimeout},
		{"rpc.idle_timeout", c.RPC.IdleTimeout},
	}
}
