package bulk

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"sendflow/internal/services/messaging"
	"sendflow/internal/storage"
	logx "sendflow/pkg/logx"
)

// Config controls the bulk dispatcher.
type Config struct {
	Workers    int
	QueueSize  int
	RatePerSec int
	// StatusMax caps the in-memory job registry.
	StatusMax int
	// StatusTTL evicts terminal jobs older than this.
	StatusTTL time.Duration
}

const (
	defaultWorkers    = 2
	defaultQueueSize  = 64
	defaultRatePerSec = 10
	defaultStatusMax  = 200
	defaultStatusTTL  = 24 * time.Hour
)

// State is the lifecycle phase of a dispatch job.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// TargetResult is the outcome of one member send, in dispatch order.
type TargetResult struct {
	ContactID int64  `json:"contact_id"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	Status    string `json:"status"` // "sent", "failed" or "error"
	Error     string `json:"error,omitempty"`
}

// Snapshot is a point-in-time copy of a job's progress.
type Snapshot struct {
	Token       string         `json:"token"`
	GroupID     int64          `json:"group_id"`
	GroupName   string         `json:"group_name,omitempty"`
	State       State          `json:"state"`
	Total       int            `json:"total"`
	Sent        int            `json:"sent"`
	Failed      int            `json:"failed"`
	Error       string         `json:"error,omitempty"`
	Results     []TargetResult `json:"results"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   time.Time      `json:"started_at,omitzero"`
	CompletedAt time.Time      `json:"completed_at,omitzero"`
}

// Executor performs one synchronous send.
type Executor interface {
	Send(ctx context.Context, t messaging.Target, text string) messaging.Result
}

// Store is the slice of the persistence layer the dispatcher needs.
type Store interface {
	GetGroup(ctx context.Context, id int64) (storage.Group, error)
	GroupMembers(ctx context.Context, groupID int64) ([]storage.Contact, error)
}

type job struct {
	token   string
	groupID int64
	message string
	delay   time.Duration
	members []storage.Contact
}

type jobStatus struct {
	Snapshot
}

// Service is the bulk dispatcher. Construct with New, then Start.
type Service struct {
	mu sync.Mutex

	cfg   Config
	store Store
	exec  Executor
	log   logx.Logger

	limiter *rate.Limiter
	queue   chan job
	stopCh  chan struct{}

	statusMu sync.RWMutex
	status   map[string]*jobStatus

	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
}
