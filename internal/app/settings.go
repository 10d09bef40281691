package app

import (
	"strings"
	"time"

	"obsched/internal/config"
	"obsched/internal/handoff"
	"obsched/internal/model"
	"obsched/internal/observability/metrics"
	"obsched/internal/planner"
	"obsched/internal/rpc"
	"obsched/internal/scheduler"
	"obsched/internal/storage"
	logx "obsched/pkg/logx"
)

// The mappers below turn a validated config into component settings. They
// only fail on values Validate cannot see.

func logConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    cfg.Logging.JSON,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	}
}

// StorageConfig maps the database section. schedctl init-db shares it.
func StorageConfig(cfg *config.Config) (storage.Config, error) {
	db := cfg.Database
	busy, err := config.ParseDurationOrDefault("database.busy_timeout", db.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(db.Driver)),
		DSN:         db.DSN,
		Host:        db.Host,
		User:        db.User,
		Password:    db.Password,
		Name:        db.Name,
		Path:        db.Path,
		BusyTimeout: busy,
		Tables: storage.Tables{
			Site:      db.Tables.Site,
			Telescope: db.Tables.Telescope,
			Target:    db.Tables.Target,
			Task:      db.Tables.Task,
		},
	}, nil
}

func schedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	poll, err := config.ParseDurationField("handoff.block_poll", cfg.Handoff.BlockPoll)
	if err != nil {
		return scheduler.Config{}, err
	}
	s, t := cfg.Scheduler.Site, cfg.Scheduler.Telescope
	return scheduler.Config{
		Role:      model.ParseRole(cfg.Scheduler.Role),
		Site:      model.Site{ID: s.ID, Name: s.Name, Lon: s.Lon, Lat: s.Lat, Alt: s.Alt},
		Telescope: model.Telescope{ID: t.ID, SiteID: t.SiteID, Name: t.Name, Description: t.Description},
		BlockPoll: poll,
	}, nil
}

func ackTimeout(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("handoff.ack_timeout", cfg.Handoff.AckTimeout, 5*time.Minute)
}

func rpcServerConfig(cfg *config.Config) (rpc.ServerConfig, error) {
	idle, err := config.ParseDurationField("rpc.idle_timeout", cfg.RPC.IdleTimeout)
	if err != nil {
		return rpc.ServerConfig{}, err
	}
	return rpc.ServerConfig{
		Network:     strings.TrimSpace(cfg.RPC.Network),
		Addr:        strings.TrimSpace(cfg.RPC.Addr),
		RatePerSec:  cfg.RPC.RatePerSec,
		IdleTimeout: idle,
	}, nil
}

func upstreamClient(cfg *config.Config) (*rpc.Client, error) {
	timeout, err := config.ParseDurationOrDefault("upstream.timeout", cfg.Upstream.Timeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	return rpc.NewClient(strings.TrimSpace(cfg.Upstream.Network), strings.TrimSpace(cfg.Upstream.Addr), timeout), nil
}

func handoffServerConfig(cfg *config.Config) (handoff.ServerConfig, error) {
	io, err := config.ParseDurationField("handoff.io_timeout", cfg.Handoff.IOTimeout)
	if err != nil {
		return handoff.ServerConfig{}, err
	}
	return handoff.ServerConfig{SockFile: cfg.Handoff.SockFile, IOTimeout: io}, nil
}

func pullerConfig(cfg *config.Config) (handoff.PullerConfig, error) {
	io, err := config.ParseDurationField("handoff.io_timeout", cfg.Handoff.IOTimeout)
	if err != nil {
		return handoff.PullerConfig{}, err
	}
	maxWait, err := config.ParseDurationOrDefault("handoff.reconnect_max", cfg.Handoff.ReconnectMax, 30*time.Second)
	if err != nil {
		return handoff.PullerConfig{}, err
	}
	return handoff.PullerConfig{
		SockFile:     cfg.Handoff.SockFile,
		SiteID:       cfg.Scheduler.Site.ID,
		IOTimeout:    io,
		ReconnectMax: maxWait,
	}, nil
}

func plannerConfig(cfg *config.Config) planner.Config {
	return planner.Config{
		Enabled:          cfg.Planner.Enabled,
		Schedule:         strings.TrimSpace(cfg.Planner.Schedule),
		Timezone:         strings.TrimSpace(cfg.Planner.Timezone),
		MaxTasksPerBlock: cfg.Handoff.MaxTaskInBlock,
	}
}

func debugConfig(cfg *config.Config) metrics.ServerConfig {
	return metrics.ServerConfig{Enabled: cfg.Debug.Enabled, Addr: strings.TrimSpace(cfg.Debug.Addr), Pprof: cfg.Debug.Pprof}
}
