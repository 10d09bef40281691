package config

import "encoding/json"

// Config is the daemon configuration file. Durations are Go duration
// strings ("500ms", "10s").
type Config struct {
	Scheduler SchedulerConfig `json:"scheduler"`
	// Upstream is the rpc endpoint of the next tier up: global for a site,
	// site for a unit. Unused by the global role.
	Upstream UpstreamConfig `json:"upstream,omitempty"`
	Database DatabaseConfig `json:"database,omitempty"`
	Handoff  HandoffConfig  `json:"handoff,omitempty"`
	RPC      RPCConfig      `json:"rpc"`
	Planner  PlannerConfig  `json:"planner,omitempty"`
	Logging  LoggingConfig  `json:"logging"`
	Debug    DebugConfig    `json:"debug,omitempty"`
}

type SchedulerConfig struct {
	// Role is one of global, site, unit.
	Role        string            `json:"role"`
	Description string            `json:"description,omitempty"`
	Site        SiteIdentity      `json:"site,omitempty"`
	Telescope   TelescopeIdentity `json:"telescope,omitempty"`
}

// SiteIdentity names the site a site scheduler runs for.
type SiteIdentity struct {
	ID   uint64  `json:"site_id"`
	Name string  `json:"sitename"`
	Lon  float64 `json:"site_lon"`
	Lat  float64 `json:"site_lat"`
	Alt  float64 `json:"site_alt"`
}

// TelescopeIdentity names the telescope a unit scheduler runs for.
type TelescopeIdentity struct {
	ID          uint64          `json:"tel_id"`
	SiteID      uint64          `json:"site_id"`
	Name        string          `json:"telescop"`
	Description json.RawMessage `json:"tel_des,omitempty"`
}

type UpstreamConfig struct {
	Network string `json:"network,omitempty"` // unix (default) or tcp
	Addr    string `json:"addr"`
	Timeout string `json:"timeout,omitempty"`
}

// DatabaseConfig selects the persistent store. Driver "" or "none" keeps
// everything in memory.
//
// Example:
//
//	database: { driver: mysql, host: db:3306, user: sched, name: observe }
type DatabaseConfig struct {
	Driver      string       `json:"driver"`
	DSN         string       `json:"dsn,omitempty"`
	Host        string       `json:"host,omitempty"`
	User        string       `json:"user,omitempty"`
	Password    string       `json:"password,omitempty"`
	Name        string       `json:"name,omitempty"`
	Path        string       `json:"path,omitempty"`
	BusyTimeout string       `json:"busy_timeout,omitempty"`
	Tables      TablesConfig `json:"tables,omitempty"`
}

type TablesConfig struct {
	Site      string `json:"site,omitempty"`
	Telescope string `json:"telescope,omitempty"`
	Target    string `json:"target,omitempty"`
	Task      string `json:"task,omitempty"`
}

type HandoffConfig struct {
	SockFile     string `json:"sock_file"`
	IOTimeout    string `json:"io_timeout,omitempty"`
	ReconnectMax string `json:"reconnect_max,omitempty"`
	// BlockPoll bounds how long a waiting hand-off sleeps between checks.
	BlockPoll string `json:"block_poll,omitempty"`
	// AckTimeout is how long a delivered block may wait for its
	// acknowledgement before it is counted lost.
	AckTimeout     string `json:"ack_timeout,omitempty"`
	MaxTaskInBlock int    `json:"max_task_in_block,omitempty"`
}

type RPCConfig struct {
	Network     string `json:"network,omitempty"`
	Addr        string `json:"addr"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	IdleTimeout string `json:"idle_timeout,omitempty"`
}

type PlannerConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"`
	File    LoggingFile `json:"file,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// DebugConfig controls the loopback HTTP listener for /metrics and pprof.
type DebugConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Pprof   bool   `json:"pprof,omitempty"`
}
