// Package app wires the subsystem together: config, logging, storage,
// gateway, trigger engine, bulk dispatcher, and the HTTP API.
package app

import (
	"context"
	"sync"
	"time"

	"sendflow/internal/config"
	"sendflow/internal/gateway"
	"sendflow/internal/server"
	"sendflow/internal/services/bulk"
	"sendflow/internal/services/engine"
	"sendflow/internal/services/messaging"
	"sendflow/internal/storage"
	logx "sendflow/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	log  logx.Logger
	logs *logx.Service

	store storage.Store

	engine *engine.Service
	bulk   *bulk.Service
	http   *server.Service

	shutdownTimeout time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	gwTimeout, err := config.ParseDurationOrDefault("gateway.timeout", cfg.Gateway.Timeout, 15*time.Second)
	if err != nil {
		return nil, err
	}
	gw, err := gateway.New(gateway.Config{
		BaseURL:       cfg.Gateway.BaseURL,
		InstanceID:    cfg.Gateway.InstanceID,
		InstanceToken: cfg.Gateway.InstanceToken,
		ClientToken:   cfg.Gateway.ClientToken,
		SendTextURL:   cfg.Gateway.SendTextURL,
		Timeout:       gwTimeout,
		RetryMax:      cfg.Gateway.RetryMax,
	}, log.With(logx.String("comp", "gateway")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	exec := messaging.New(messaging.Config{Provider: cfg.Gateway.Provider},
		store, gw, log.With(logx.String("comp", "messaging")))

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	engineSvc := engine.New(engCfg, store, exec, log.With(logx.String("comp", "engine")))

	bulkCfg, err := mapBulkConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	bulkSvc := bulk.New(bulkCfg, store, exec, log.With(logx.String("comp", "bulk")))

	srvCfg, bulkDelay, shutdownTimeout, err := mapServerConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	httpSvc := server.New(srvCfg, engineSvc, bulkSvc, store, bulkDelay,
		log.With(logx.String("comp", "http")))

	return &App{
		cfgPath:         cfgPath,
		cfgm:            cfgm,
		log:             log,
		logs:            logSvc,
		store:           store,
		engine:          engineSvc,
		bulk:            bulkSvc,
		http:            httpSvc,
		shutdownTimeout: shutdownTimeout,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return config.Validate(cfg)
	})

	a.engine.Start(runCtx)
	if err := a.engine.Restore(runCtx); err != nil {
		a.log.Error("failed to restore schedules", logx.Err(err))
		cancel()
		return err
	}
	a.bulk.Start(runCtx)
	if err := a.http.Start(runCtx); err != nil {
		cancel()
		return err
	}

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		_ = a.cfgm.Watch(runCtx)
	}()
	sub := a.cfgm.Subscribe(8)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(runCtx, sub)
	}()

	a.log.Info("app started", logx.String("addr", a.http.Addr()))
	return nil
}

func (a *App) Stop(ctx context.Context) {
	if a.cancel != nil {
		a.cancel()
	}

	timeout := a.shutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Stop intake first, then the workers behind it.
	a.http.Stop(sctx)
	a.engine.Stop(sctx)
	a.bulk.Stop(sctx)
	a.wg.Wait()
	if err := a.store.Close(); err != nil {
		a.log.Warn("store close failed", logx.Err(err))
	}
	a.log.Info("app stopped")
}

// reloadLoop applies hot-reloadable sections of committed configs: logging
// and bulk pacing. Storage, gateway, engine, and server changes need a
// restart.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: only the newest config matters.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})

			if bulkCfg, err := mapBulkConfig(cfg); err != nil {
				a.log.Warn("invalid bulk config; keeping previous", logx.Err(err))
			} else {
				a.bulk.Apply(bulkCfg)
			}
			a.log.Info("config applied")
		}
	}
}
