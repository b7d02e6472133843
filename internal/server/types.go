package server

import (
	"context"
	"time"

	"sendflow/internal/schedule"
	"sendflow/internal/services/bulk"
	"sendflow/internal/services/engine"
	"sendflow/internal/storage"
)

// Config controls the JSON API server.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Scheduler is the engine surface the API exposes.
type Scheduler interface {
	CreateOnce(ctx context.Context, in engine.CreateInput) (schedule.Record, error)
	CreateCron(ctx context.Context, in engine.CreateInput) (schedule.Record, error)
	Get(ctx context.Context, id int64) (engine.ListItem, error)
	List(ctx context.Context) ([]engine.ListItem, error)
	Cancel(ctx context.Context, id int64) (bool, error)
	Pause(ctx context.Context, id int64) (bool, error)
	Resume(ctx context.Context, id int64) (bool, error)
	Update(ctx context.Context, id int64, p storage.SchedulePatch) (schedule.Record, error)
}

// Dispatcher is the bulk surface the API exposes.
type Dispatcher interface {
	Dispatch(ctx context.Context, groupID int64, message string, delay time.Duration) string
	Status(token string) (bulk.Snapshot, bool)
}

// Directory is the contact/group surface the API exposes.
type Directory interface {
	CreateContact(ctx context.Context, c *storage.Contact) error
	ListContacts(ctx context.Context) ([]storage.Contact, error)
	CreateGroup(ctx context.Context, g *storage.Group) error
	ListGroups(ctx context.Context) ([]storage.Group, error)
	GroupMembers(ctx context.Context, groupID int64) ([]storage.Contact, error)
	RecentMessages(ctx context.Context, limit int) ([]storage.MessageEntry, error)
}

type scheduleRequest struct {
	Type         string `json:"type"` // "individual" or "group"
	ContactID    int64  `json:"contact_id,omitempty"`
	Phone        string `json:"phone,omitempty"`
	GroupID      int64  `json:"group_id,omitempty"`
	Message      string `json:"message"`
	ScheduleType string `json:"schedule_type"`         // "once" or "cron"
	RunAt        string `json:"run_at,omitempty"`      // RFC 3339
	CronExpr     string `json:"cron_expression,omitempty"`
}

type scheduleUpdateRequest struct {
	Message      *string `json:"message,omitempty"`
	ScheduleType *string `json:"schedule_type,omitempty"`
	RunAt        *string `json:"run_at,omitempty"`
	CronExpr     *string `json:"cron_expression,omitempty"`
}

type scheduleResponse struct {
	ID        int64               `json:"id"`
	JobID     string              `json:"job_id"`
	Type      string              `json:"type"`
	Target    schedule.TargetInfo `json:"target"`
	Message   string              `json:"message"`
	Schedule  string              `json:"schedule_type"`
	RunAt     *time.Time          `json:"run_at,omitempty"`
	CronExpr  string              `json:"cron_expression,omitempty"`
	Status    string              `json:"status"`
	LastRunAt *time.Time          `json:"last_run_at,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

type bulkRequest struct {
	GroupID int64  `json:"group_id"`
	Message string `json:"message"`
	// DelaySeconds paces member sends; omitted means the configured default.
	DelaySeconds *float64 `json:"delay_seconds,omitempty"`
}

type contactRequest struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	GroupID int64  `json:"group_id,omitempty"`
}

type groupRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}
