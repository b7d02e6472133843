package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// MaxMessageLen matches the downstream transport's text limit.
const MaxMessageLen = 4096

// ValidationError is returned for malformed create/update input. Nothing is
// persisted when one is returned.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return e.Field + ": " + e.Msg
}

func invalidf(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// cronParser accepts exactly the standard 5-field form
// (minute hour day-of-month month day-of-week). Descriptors like "@daily"
// and 6-field second specs are rejected on purpose.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateCronSpec checks expr is a well-formed 5-field cron expression and
// returns the parsed schedule for next-fire computation.
func ValidateCronSpec(expr string) (cron.Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, invalidf("cron_expression", "must have 5 fields (minute hour day month day-of-week), got %d", len(fields))
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, invalidf("cron_expression", "%v", err)
	}
	return sched, nil
}

// ValidateNew checks a record about to be persisted. now is the creation
// instant; a once record must fire strictly after it.
func ValidateNew(r Record, now time.Time) error {
	switch r.Kind {
	case KindIndividual:
		if r.ContactID == 0 && strings.TrimSpace(r.Phone) == "" {
			return invalidf("target", "individual schedules need a contact_id or phone")
		}
		if r.GroupID != 0 {
			return invalidf("target", "individual schedules must not set group_id")
		}
	case KindGroup:
		if r.GroupID == 0 {
			return invalidf("target", "group schedules need a group_id")
		}
		if r.ContactID != 0 || r.Phone != "" {
			return invalidf("target", "group schedules must not set contact_id or phone")
		}
	default:
		return invalidf("type", "must be %q or %q", KindIndividual, KindGroup)
	}

	if msg := strings.TrimSpace(r.Message); msg == "" {
		return invalidf("message", "cannot be empty")
	} else if len(r.Message) > MaxMessageLen {
		return invalidf("message", "cannot exceed %d characters", MaxMessageLen)
	}

	switch r.Schedule {
	case ScheduleOnce:
		if r.RunAt.IsZero() {
			return invalidf("run_at", "required for one-time schedules")
		}
		if !r.RunAt.After(now) {
			return invalidf("run_at", "must be in the future")
		}
		if r.CronExpr != "" {
			return invalidf("cron_expression", "must be empty for one-time schedules")
		}
	case ScheduleCron:
		if _, err := ValidateCronSpec(r.CronExpr); err != nil {
			return err
		}
		if !r.RunAt.IsZero() {
			return invalidf("run_at", "must be empty for cron schedules")
		}
	default:
		return invalidf("schedule_type", "must be %q or %q", ScheduleOnce, ScheduleCron)
	}

	return nil
}
