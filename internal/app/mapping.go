package app

import (
	"time"

	"sendflow/internal/config"
	"sendflow/internal/server"
	"sendflow/internal/services/bulk"
	"sendflow/internal/services/engine"
)

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	grace, err := config.ParseDurationOrDefault("engine.grace_window", cfg.Engine.GraceWindow, 60*time.Second)
	if err != nil {
		return engine.Config{}, err
	}
	groupDelay, err := config.ParseDurationOrDefault("engine.group_send_delay", cfg.Engine.GroupSendDelay, 3*time.Second)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Workers:        cfg.Engine.Workers,
		QueueSize:      cfg.Engine.QueueSize,
		GraceWindow:    grace,
		GroupSendDelay: groupDelay,
		Timezone:       cfg.Engine.Timezone,
	}, nil
}

func mapBulkConfig(cfg *config.Config) (bulk.Config, error) {
	ttl, err := config.ParseDurationField("bulk.status_ttl", cfg.Bulk.StatusTTL)
	if err != nil {
		return bulk.Config{}, err
	}
	return bulk.Config{
		Workers:    cfg.Bulk.Workers,
		QueueSize:  cfg.Bulk.QueueSize,
		RatePerSec: cfg.Bulk.RatePerSec,
		StatusMax:  cfg.Bulk.StatusMax,
		StatusTTL:  ttl,
	}, nil
}

func mapServerConfig(cfg *config.Config) (server.Config, time.Duration, time.Duration, error) {
	read, err := config.ParseDurationField("server.read_timeout", cfg.Server.ReadTimeout)
	if err != nil {
		return server.Config{}, 0, 0, err
	}
	write, err := config.ParseDurationField("server.write_timeout", cfg.Server.WriteTimeout)
	if err != nil {
		return server.Config{}, 0, 0, err
	}
	idle, err := config.ParseDurationField("server.idle_timeout", cfg.Server.IdleTimeout)
	if err != nil {
		return server.Config{}, 0, 0, err
	}
	shutdown, err := config.ParseDurationOrDefault("server.shutdown_timeout", cfg.Server.ShutdownTimeout, 15*time.Second)
	if err != nil {
		return server.Config{}, 0, 0, err
	}
	bulkDelay, err := config.ParseDurationOrDefault("bulk.default_delay", cfg.Bulk.DefaultDelay, 3*time.Second)
	if err != nil {
		return server.Config{}, 0, 0, err
	}
	return server.Config{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
	}, bulkDelay, shutdown, nil
}
