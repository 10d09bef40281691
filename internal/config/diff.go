package config

import (
	"strings"

	logx "obsched/pkg/logx"
)

// Reloadable sections take effect without a restart; everything else is
// reported and applied on the next start.
var reloadable = map[string]bool{"logging": true, "planner": true, "debug": true}

// SummarizeChange lists the sections that differ between two configs and
// safe fields for logging. Secrets are never included.
func SummarizeChange(oldCfg, newCfg *Config) (changed []string, restart []string, attrs []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	mark := func(section string, differs bool, fields ...logx.Field) {
		if !differs {
			return
		}
		changed = append(changed, section)
		if !reloadable[section] {
			restart = append(restart, section)
		}
		attrs = append(attrs, fields...)
	}

	o, n := oldCfg, newCfg
	mark("scheduler", o.Scheduler.Role != n.Scheduler.Role ||
		o.Scheduler.Site != n.Scheduler.Site ||
		o.Scheduler.Telescope.ID != n.Scheduler.Telescope.ID ||
		o.Scheduler.Telescope.SiteID != n.Scheduler.Telescope.SiteID ||
		o.Scheduler.Telescope.Name != n.Scheduler.Telescope.Name ||
		o.Scheduler.Description != n.Scheduler.Description,
		logx.String("scheduler.role", n.Scheduler.Role))
	mark("upstream", o.Upstream != n.Upstream, logx.String("upstream.addr", n.Upstream.Addr))
	mark("database", o.Database != n.Database,
		logx.String("database.driver", n.Database.Driver),
		logx.Bool("database.password_set", strings.TrimSpace(n.Database.Password) != ""))
	mark("handoff", o.Handoff != n.Handoff, logx.String("handoff.sock_file", n.Handoff.SockFile))
	mark("rpc", o.RPC != n.RPC, logx.String("rpc.addr", n.RPC.Addr), logx.Int("rpc.rate_per_sec", n.RPC.RatePerSec))
	mark("planner", o.Planner != n.Planner,
		logx.Bool("planner.enabled", n.Planner.Enabled), logx.String("planner.schedule", n.Planner.Schedule))
	mark("logging", o.Logging != n.Logging,
		logx.String("logging.level", n.Logging.Level), logx.Bool("logging.file", n.Logging.File.Enabled))
	mark("debug", o.Debug != n.Debug, logx.Bool("debug.enabled", n.Debug.Enabled), logx.String("debug.addr", n.Debug.Addr))
	return changed, restart, attrs
}
