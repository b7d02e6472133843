// Package schedule defines the durable send-job data model shared by the
// store, the trigger engine, and the API layer.
package schedule

import "time"

// Kind selects the send target class.
type Kind string

const (
	KindIndividual Kind = "individual"
	KindGroup      Kind = "group"
)

// ScheduleKind selects one-time vs recurring execution.
type ScheduleKind string

const (
	ScheduleOnce ScheduleKind = "once"
	ScheduleCron ScheduleKind = "cron"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCanceled  Status = "canceled"
	StatusFailed    Status = "failed"
	StatusPaused    Status = "paused"
)

func (s Status) String() string { return string(s) }

// Terminal reports whether no further transition is allowed out of s.
// Completed/failed are terminal for once records; cron records only leave
// "scheduled" through cancel/pause, never through firing.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCanceled, StatusFailed:
		return true
	}
	return false
}

type transition struct {
	from Status
	to   Status
}

var validTransitions = []transition{
	{StatusScheduled, StatusRunning},
	{StatusScheduled, StatusCompleted},
	{StatusScheduled, StatusFailed},
	{StatusScheduled, StatusCanceled},
	{StatusScheduled, StatusPaused},
	{StatusRunning, StatusCompleted},
	{StatusRunning, StatusFailed},
	{StatusRunning, StatusCanceled},
	{StatusPaused, StatusScheduled},
	{StatusPaused, StatusCanceled},
	{StatusPaused, StatusFailed},
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to Status) bool {
	for _, t := range validTransitions {
		if t.from == from && t.to == to {
			return true
		}
	}
	return false
}

// Record is one durable send-job definition.
//
// Exactly one target group of fields is set: ContactID or Phone when
// Kind == KindIndividual, GroupID when Kind == KindGroup. RunAt is used iff
// ScheduleKind == ScheduleOnce, CronExpr iff ScheduleKind == ScheduleCron.
type Record struct {
	ID        int64
	JobID     string // engine-facing trigger key, unique
	Kind      Kind
	Schedule  ScheduleKind
	ContactID int64 // 0 when unset
	Phone     string
	GroupID   int64 // 0 when unset
	Message   string
	RunAt     time.Time // zero when unset
	CronExpr  string
	Status    Status
	LastRunAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TargetInfo is the resolved display form of a record's target, attached to
// list responses.
type TargetInfo struct {
	Type   string `json:"type"` // "contact", "phone" or "group"
	Name   string `json:"name,omitempty"`
	Number string `json:"number,omitempty"`
}
