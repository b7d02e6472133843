package storage

import (
	"context"
	"time"

	logx "sendflow/pkg/logx"

	"sendflow/internal/schedule"
)

// Store is the persistence API used by the engine, the bulk tracker, and
// the HTTP layer.
type Store interface {
	// Schedules.
	CreateSchedule(ctx context.Context, r *schedule.Record) error
	GetSchedule(ctx context.Context, id int64) (schedule.Record, error)
	ListSchedules(ctx context.Context) ([]schedule.Record, error)
	ListSchedulesByStatus(ctx context.Context, st schedule.Status) ([]schedule.Record, error)
	UpdateSchedule(ctx context.Context, id int64, p SchedulePatch) (schedule.Record, error)
	// TransitionSchedule moves the record to status `to` iff its current
	// status is one of `from`. It reports whether the row changed.
	TransitionSchedule(ctx context.Context, id int64, to schedule.Status, from ...schedule.Status) (bool, error)
	SetLastRun(ctx context.Context, id int64, at time.Time) error

	// Directory.
	CreateContact(ctx context.Context, c *Contact) error
	GetContact(ctx context.Context, id int64) (Contact, error)
	ListContacts(ctx context.Context) ([]Contact, error)
	CreateGroup(ctx context.Context, g *Group) error
	GetGroup(ctx context.Context, id int64) (Group, error)
	ListGroups(ctx context.Context) ([]Group, error)
	// GroupMembers returns the group's current contacts in stable
	// (insertion) order.
	GroupMembers(ctx context.Context, groupID int64) ([]Contact, error)

	// Message audit log.
	AppendMessage(ctx context.Context, m *MessageEntry) error
	RecentMessages(ctx context.Context, limit int) ([]MessageEntry, error)

	Close() error
}

// Open initializes the SQLite store at cfg.Path.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	return openSQLite(cfg, log)
}
