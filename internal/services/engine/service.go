package engine

import (
	"context"
	"runtime/debug"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "sendflow/pkg/logx"
)

func New(cfg Config, store Store, exec Executor, log logx.Logger) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = defaultGraceWindow
	}
	if cfg.GroupSendDelay <= 0 {
		cfg.GroupSendDelay = defaultGroupSendDelay
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:   cfg,
		store: store,
		exec:  exec,
		log:   log,
		// Strict 5-field parser: minute hour dom month dow.
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		regs:   map[string]*registration{},
	}
}

// Start launches the cron runner and the worker pool. It must be called
// before any registration; call Restore right after to pick up persisted
// records.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	s.queue = make(chan task, s.cfg.QueueSize)
	s.stopCh = make(chan struct{})
	// Engine-owned context: callbacks never inherit request state from
	// whoever created the schedule.
	s.runCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	runCtx := s.runCtx
	stopCh := s.stopCh
	queue := s.queue

	s.workerWG.Add(s.cfg.Workers)
	for i := 0; i < s.cfg.Workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in engine worker",
						logx.Int("worker", idx),
						logx.Any("panic", r),
						logx.Stack(string(debug.Stack())))
				}
			}()
			s.worker(runCtx, stopCh, queue)
		}()
	}
	s.c.Start()
	s.log.Info("engine started", logx.Int("workers", s.cfg.Workers), logx.String("tz", loc.String()))
}

// Stop halts timers and workers. In-flight executions finish; they are
// never interrupted mid-send.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	c := s.c
	s.c = nil
	stopCh := s.stopCh
	cancel := s.cancel
	for _, reg := range s.regs {
		if reg.timer != nil {
			_ = reg.timer.Stop()
		}
	}
	s.regs = map[string]*registration{}
	s.mu.Unlock()

	start := time.Now()
	if c != nil {
		<-c.Stop().Done()
	}
	close(stopCh)

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("engine stopped", logx.Duration("took", time.Since(start)))
	case <-ctx.Done():
		// Workers drain in the background.
		if cancel != nil {
			cancel()
		}
		s.log.Warn("engine stop timed out; workers draining in background")
		return
	}
	if cancel != nil {
		cancel()
	}
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *Service) enqueue(t task) bool {
	s.mu.Lock()
	q := s.queue
	started := s.started
	s.mu.Unlock()
	if !started || q == nil {
		s.log.Debug("engine not running; dropping fire", logx.String("job", t.jobID))
		return false
	}
	select {
	case q <- t:
		return true
	default:
		s.log.Warn("engine queue full; dropping fire",
			logx.String("job", t.jobID), logx.Int("queue_len", len(q)), logx.Int("queue_cap", cap(q)))
		return false
	}
}
