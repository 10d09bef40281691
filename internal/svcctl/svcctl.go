// Package svcctl starts, stops and inspects the scheduler's systemd units.
// Only units matching one of the configured name prefixes may be touched.
package svcctl

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnsupported = errors.New("svcctl: systemd control is linux only")
	ErrNotManaged  = errors.New("svcctl: unit is not managed")
)

// DefaultPrefixes covers the units shipped for the three scheduler roles.
var DefaultPrefixes = []string{"obsched-", "schedulerd"}

type Status struct {
	Unit        string
	Active      string // active, inactive, failed, ...
	SubState    string // running, dead, ...
	LoadState   string // loaded, not-found, ...
	Description string
	ActiveSince time.Time
	ExitedAt    time.Time
	MainPID     uint32
}

// Running reports whether the unit is up.
func (s Status) Running() bool { return s.Active == "active" }

func (s Status) String() string {
	line := fmt.Sprintf("%s %s (%s)", s.Unit, s.Active, s.SubState)
	switch {
	case s.LoadState == "not-found":
		return s.Unit + " not found"
	case s.Running() && !s.ActiveSince.IsZero():
		line += " since " + s.ActiveSince.Format(time.RFC3339)
	case !s.Running() && !s.ExitedAt.IsZero():
		line += " down since " + s.ExitedAt.Format(time.RFC3339)
	}
	if s.MainPID != 0 {
		line += fmt.Sprintf(" pid %d", s.MainPID)
	}
	return line
}

// UnitName appends ".service" when the name has no unit suffix.
func UnitName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || strings.Contains(name, ".") {
		return name
	}
	return name + ".service"
}

func managed(prefixes []string, unit string) bool {
	if unit == "" || strings.ContainsAny(unit, "/*?[") {
		return false
	}
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(unit, p) {
			return true
		}
	}
	return false
}

func checkManaged(prefixes []string, name string) (string, error) {
	unit := UnitName(name)
	if !managed(prefixes, unit) {
		return "", fmt.Errorf("%w: %q", ErrNotManaged, name)
	}
	return unit, nil
}

// systemd reports timestamps in microseconds since the epoch.
func usecTime(v any) time.Time {
	if ts, ok := v.(uint64); ok && ts > 0 {
		return time.UnixMicro(int64(ts))
	}
	return time.Time{}
}

func stringProp(props map[string]any, key string) string {
	s, _ := props[key].(string)
	return s
}
