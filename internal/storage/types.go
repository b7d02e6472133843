package storage

import (
	"errors"
	"time"

	"sendflow/internal/schedule"
)

// ErrNotFound is returned when an id does not resolve to a row.
var ErrNotFound = errors.New("not found")

// Config configures the store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Contact is one directory entry.
type Contact struct {
	ID        int64
	Name      string
	Phone     string // normalized E.164 digits
	GroupID   int64  // 0 when ungrouped
	CreatedAt time.Time
}

// Group is a named contact set used for bulk and group sends.
type Group struct {
	ID          int64
	Name        string
	Description string
	CreatedAt   time.Time
}

// MessageEntry is one audit row for an attempted send. Writes are
// fire-and-forget from the scheduling core's perspective.
type MessageEntry struct {
	ID                int64
	ContactID         int64 // 0 for raw-number sends
	Phone             string
	Content           string
	Status            string // sent, failed, error
	Provider          string
	ProviderMessageID string
	Error             string
	CreatedAt         time.Time
}

// SchedulePatch is a partial update for a schedule record. Nil fields are
// left untouched. Switching the schedule kind clears the other kind's
// timing field.
type SchedulePatch struct {
	Message  *string
	Schedule *schedule.ScheduleKind
	RunAt    *time.Time
	CronExpr *string
}

func (p SchedulePatch) Empty() bool {
	return p.Message == nil && p.Schedule == nil && p.RunAt == nil && p.CronExpr == nil
}
