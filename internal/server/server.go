// Package server exposes the scheduling subsystem over a JSON HTTP API.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	logx "sendflow/pkg/logx"
)

// Service is the HTTP front end. Construct with New, then Start.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger

	sched Scheduler
	bulk  Dispatcher
	dir   Directory

	defaultBulkDelay time.Duration

	ln  net.Listener
	srv *http.Server
}

func New(cfg Config, sched Scheduler, bulk Dispatcher, dir Directory, defaultBulkDelay time.Duration, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:              cfg,
		log:              log,
		sched:            sched,
		bulk:             bulk,
		dir:              dir,
		defaultBulkDelay: defaultBulkDelay,
	}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}

	addr := strings.TrimSpace(s.cfg.Addr)
	if addr == "" {
		addr = "127.0.0.1:8080"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:      s.routes(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	s.ln = ln
	s.srv = srv

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server stopped with error", logx.Err(err))
		}
	}()

	s.log.Info("http server started", logx.String("addr", ln.Addr().String()))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.ln = nil
	s.mu.Unlock()
	if srv == nil {
		return
	}
	if err := srv.Shutdown(ctx); err != nil {
		s.log.Warn("http server shutdown incomplete", logx.Err(err))
		_ = srv.Close()
		return
	}
	s.log.Info("http server stopped")
}

// Addr returns the bound listen address, empty when not started.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}
