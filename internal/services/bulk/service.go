package bulk

import (
	"context"
	"runtime/debug"
	"time"

	"golang.org/x/time/rate"

	logx "sendflow/pkg/logx"
)

func New(cfg Config, store Store, exec Executor, log logx.Logger) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = defaultRatePerSec
	}
	if cfg.StatusMax <= 0 {
		cfg.StatusMax = defaultStatusMax
	}
	if cfg.StatusTTL <= 0 {
		cfg.StatusTTL = defaultStatusTTL
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		store:   store,
		exec:    exec,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		queue:   make(chan job, cfg.QueueSize),
		status:  map[string]*jobStatus{},
	}
}

// Apply swaps in new pacing settings at runtime. Worker count changes take
// effect on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = defaultRatePerSec
	}
	if cfg.StatusMax <= 0 {
		cfg.StatusMax = s.cfg.StatusMax
	}
	if cfg.StatusTTL <= 0 {
		cfg.StatusTTL = s.cfg.StatusTTL
	}
	if cfg.Workers <= 0 {
		cfg.Workers = s.cfg.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = s.cfg.QueueSize
	}
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	// Detach from the boot context so jobs keep running after startup
	// returns; Stop cancels explicitly.
	s.runCtx, s.runCancel = context.WithCancel(context.WithoutCancel(ctx))

	queue := s.queue
	stopCh := s.stopCh
	runCtx := s.runCtx

	s.workerWG.Add(s.cfg.Workers)
	for i := 0; i < s.cfg.Workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in bulk worker",
						logx.Int("worker", idx),
						logx.Any("panic", r),
						logx.Stack(string(debug.Stack())))
				}
			}()
			s.worker(runCtx, stopCh, queue)
		}()
	}
	s.log.Info("service started",
		logx.Int("workers", s.cfg.Workers), logx.Int("rps", s.cfg.RatePerSec))
}

func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	stopCh := s.stopCh
	cancel := s.runCancel
	s.stopCh = nil
	s.runCtx = nil
	s.runCancel = nil
	s.mu.Unlock()

	close(stopCh)
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
	case <-ctx.Done():
		s.log.Warn("bulk stop timed out; workers draining in background")
	}
}
