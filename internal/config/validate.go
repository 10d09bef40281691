package config

import (
	"fmt"
	"strings"

	"obsched/internal/model"
	logx "obsched/pkg/logx"
)

// Validate checks what can be checked without touching the network or the
// database. It is run on load and before every hot reload is committed.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	role := model.ParseRole(cfg.Scheduler.Role)
	switch role {
	case model.RoleGlobal:
	case model.RoleUnknown:
		return fmt.Errorf("scheduler.role: unknown %q (want global, site or unit)", cfg.Scheduler.Role)
	case model.RoleSite:
		if cfg.Scheduler.Site.ID == 0 {
			return fmt.Errorf("scheduler.site.site_id is required for role site")
		}
	case model.RoleUnit:
		if cfg.Scheduler.Telescope.ID == 0 {
			return fmt.Errorf("scheduler.telescope.tel_id is required for role unit")
		}
	}
	if role != model.RoleGlobal && strings.TrimSpace(cfg.Upstream.Addr) == "" {
		return fmt.Errorf("upstream.addr is required for role %s", role)
	}
	if (role == model.RoleGlobal || role == model.RoleSite) && strings.TrimSpace(cfg.Handoff.SockFile) == "" {
		return fmt.Errorf("handoff.sock_file is required for role %s", role)
	}
	if strings.TrimSpace(cfg.RPC.Addr) == "" {
		return fmt.Errorf("rpc.addr is required")
	}
	for _, n := range []struct{ path, v string }{{"rpc.network", cfg.RPC.Network}, {"upstream.network", cfg.Upstream.Network}} {
		switch strings.TrimSpace(n.v) {
		case "", "unix", "tcp":
		default:
			return fmt.Errorf("%s: unsupported %q", n.path, n.v)
		}
	}
	if cfg.RPC.RatePerSec < 0 {
		return fmt.Errorf("rpc.rate_per_sec must be >= 0")
	}
	if cfg.Handoff.MaxTaskInBlock < 0 {
		return fmt.Errorf("handoff.max_task_in_block must be >= 0")
	}
	for _, d := range cfg.durationFields() {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Database.Driver)) {
	case "", "none", "mysql":
	case "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Database.Path) == "" && strings.TrimSpace(cfg.Database.DSN) == "" {
			return fmt.Errorf("database.path is required when database.driver=sqlite")
		}
	default:
		return fmt.Errorf("database.driver: unknown %q", cfg.Database.Driver)
	}
	if lvl := strings.TrimSpace(cfg.Logging.Level); lvl != "" && !logx.ValidLevel(lvl) {
		return fmt.Errorf("logging.level: unknown %q", lvl)
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		return fmt.Errorf("logging.file.path is required when logging.file.enabled=true")
	}
	if cfg.Planner.Enabled && role != model.RoleGlobal {
		return fmt.Errorf("planner runs on the global role only")
	}
	return nil
}
