package engine

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"sendflow/internal/schedule"
	"sendflow/internal/services/messaging"
	"sendflow/internal/storage"
	logx "sendflow/pkg/logx"
)

// Config controls the trigger engine.
type Config struct {
	Workers   int
	QueueSize int
	// GraceWindow bounds how late a one-time fire may still execute.
	GraceWindow time.Duration
	// GroupSendDelay is the pacing between member sends of a group record.
	GroupSendDelay time.Duration
	Timezone       string // IANA TZ for cron evaluation, e.g. "America/Sao_Paulo"
}

const (
	defaultWorkers        = 2
	defaultQueueSize      = 256
	defaultGraceWindow    = 60 * time.Second
	defaultGroupSendDelay = 3 * time.Second
)

// Executor performs one synchronous send. Retries, if any, are its own
// business; the engine only looks at Result.Success.
type Executor interface {
	Send(ctx context.Context, t messaging.Target, text string) messaging.Result
}

// Store is the slice of the persistence layer the engine needs.
type Store interface {
	CreateSchedule(ctx context.Context, r *schedule.Record) error
	GetSchedule(ctx context.Context, id int64) (schedule.Record, error)
	ListSchedules(ctx context.Context) ([]schedule.Record, error)
	ListSchedulesByStatus(ctx context.Context, st schedule.Status) ([]schedule.Record, error)
	UpdateSchedule(ctx context.Context, id int64, p storage.SchedulePatch) (schedule.Record, error)
	TransitionSchedule(ctx context.Context, id int64, to schedule.Status, from ...schedule.Status) (bool, error)
	SetLastRun(ctx context.Context, id int64, at time.Time) error
	GetContact(ctx context.Context, id int64) (storage.Contact, error)
	GetGroup(ctx context.Context, id int64) (storage.Group, error)
	GroupMembers(ctx context.Context, groupID int64) ([]storage.Contact, error)
}

// runState is the per-job-id overlap guard, shared between an active
// registration and any in-flight execution for the same key.
type runState struct {
	mu      sync.Mutex
	running bool
}

func (st *runState) tryAcquire() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.running {
		return false
	}
	st.running = true
	return true
}

func (st *runState) release() {
	st.mu.Lock()
	st.running = false
	st.mu.Unlock()
}

// registration is one live timer keyed by job id.
type registration struct {
	jobID    string
	recordID int64
	kind     schedule.ScheduleKind
	entryID  cron.EntryID // cron records
	timer    *time.Timer  // once records
	state    *runState
}

type task struct {
	recordID int64
	jobID    string
	kind     schedule.ScheduleKind
	runAt    time.Time // once records; zero for cron fires
	state    *runState
}

// Service is the trigger engine. Construct with New, Start once at boot,
// then Restore.
type Service struct {
	mu  sync.Mutex
	cfg Config

	store Store
	exec  Executor
	log   logx.Logger

	loc    *time.Location
	parser cron.Parser
	c      *cron.Cron
	regs   map[string]*registration

	queue    chan task
	stopCh   chan struct{}
	runCtx   context.Context
	cancel   context.CancelFunc
	workerWG sync.WaitGroup
	started  bool
}

// ListItem is a record enriched with its resolved target display info.
type ListItem struct {
	schedule.Record
	Target schedule.TargetInfo
}
