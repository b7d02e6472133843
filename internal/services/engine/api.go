package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sendflow/internal/schedule"
	"sendflow/internal/storage"
	logx "sendflow/pkg/logx"
	"sendflow/pkg/phone"
)

// CreateInput carries the caller-supplied fields of a new schedule.
type CreateInput struct {
	Kind      schedule.Kind
	ContactID int64
	Phone     string
	GroupID   int64
	Message   string
	RunAt     time.Time // one-time schedules
	CronExpr  string    // recurring schedules
}

// CreateOnce persists and registers a one-time schedule. RunAt must be
// strictly in the future at creation time.
func (s *Service) CreateOnce(ctx context.Context, in CreateInput) (schedule.Record, error) {
	return s.create(ctx, in, schedule.ScheduleOnce)
}

// CreateCron persists and registers a recurring schedule driven by a
// standard 5-field cron expression.
func (s *Service) CreateCron(ctx context.Context, in CreateInput) (schedule.Record, error) {
	return s.create(ctx, in, schedule.ScheduleCron)
}

func (s *Service) create(ctx context.Context, in CreateInput, sk schedule.ScheduleKind) (schedule.Record, error) {
	rec := schedule.Record{
		JobID:     uuid.NewString(),
		Kind:      in.Kind,
		Schedule:  sk,
		ContactID: in.ContactID,
		Phone:     in.Phone,
		GroupID:   in.GroupID,
		Message:   in.Message,
		RunAt:     in.RunAt,
		CronExpr:  in.CronExpr,
		Status:    schedule.StatusScheduled,
	}
	if rec.Phone != "" {
		norm, err := phone.NormalizeE164(rec.Phone)
		if err != nil {
			return schedule.Record{}, &schedule.ValidationError{Field: "phone", Msg: err.Error()}
		}
		rec.Phone = norm
	}
	if err := schedule.ValidateNew(rec, time.Now()); err != nil {
		return schedule.Record{}, err
	}
	if err := s.checkTarget(ctx, rec); err != nil {
		return schedule.Record{}, err
	}

	if err := s.store.CreateSchedule(ctx, &rec); err != nil {
		return schedule.Record{}, fmt.Errorf("persist schedule: %w", err)
	}
	if err := s.Register(rec); err != nil {
		s.failRecord(ctx, rec.ID, "registration failed")
		return schedule.Record{}, fmt.Errorf("register schedule %d: %w", rec.ID, err)
	}
	s.log.Info("schedule created",
		logx.Int64("id", rec.ID),
		logx.String("job", rec.JobID),
		logx.String("kind", string(rec.Kind)),
		logx.String("schedule", string(rec.Schedule)))
	return rec, nil
}

// checkTarget verifies the referenced contact or group exists before
// anything is written.
func (s *Service) checkTarget(ctx context.Context, rec schedule.Record) error {
	switch {
	case rec.ContactID != 0:
		if _, err := s.store.GetContact(ctx, rec.ContactID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return &schedule.ValidationError{Field: "contact_id", Msg: fmt.Sprintf("contact %d not found", rec.ContactID)}
			}
			return fmt.Errorf("look up contact %d: %w", rec.ContactID, err)
		}
	case rec.GroupID != 0:
		if _, err := s.store.GetGroup(ctx, rec.GroupID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return &schedule.ValidationError{Field: "group_id", Msg: fmt.Sprintf("group %d not found", rec.GroupID)}
			}
			return fmt.Errorf("look up group %d: %w", rec.GroupID, err)
		}
	}
	return nil
}

// Get returns one schedule with its resolved target.
func (s *Service) Get(ctx context.Context, id int64) (ListItem, error) {
	rec, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return ListItem{}, err
	}
	return ListItem{Record: rec, Target: s.resolveTarget(ctx, rec)}, nil
}

// List returns every schedule, newest first, each with its resolved target.
func (s *Service) List(ctx context.Context) ([]ListItem, error) {
	recs, err := s.store.ListSchedules(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]ListItem, 0, len(recs))
	for _, rec := range recs {
		items = append(items, ListItem{Record: rec, Target: s.resolveTarget(ctx, rec)})
	}
	return items, nil
}

func (s *Service) resolveTarget(ctx context.Context, rec schedule.Record) schedule.TargetInfo {
	switch {
	case rec.GroupID != 0:
		info := schedule.TargetInfo{Type: "group"}
		if g, err := s.store.GetGroup(ctx, rec.GroupID); err == nil {
			info.Name = g.Name
		}
		return info
	case rec.ContactID != 0:
		info := schedule.TargetInfo{Type: "contact"}
		if c, err := s.store.GetContact(ctx, rec.ContactID); err == nil {
			info.Name = c.Name
			info.Number = phone.FormatDisplay(c.Phone)
		}
		return info
	default:
		return schedule.TargetInfo{Type: "phone", Number: phone.FormatDisplay(rec.Phone)}
	}
}

// Cancel moves a schedule to canceled and drops its trigger. It reports
// whether the record actually changed; canceling an already-terminal
// record is a no-op.
func (s *Service) Cancel(ctx context.Context, id int64) (bool, error) {
	rec, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return false, err
	}
	ok, err := s.store.TransitionSchedule(ctx, id, schedule.StatusCanceled,
		schedule.StatusScheduled, schedule.StatusRunning, schedule.StatusPaused)
	if err != nil {
		return false, err
	}
	if ok {
		s.Unregister(rec.JobID)
		s.log.Info("schedule canceled", logx.Int64("id", id), logx.String("job", rec.JobID))
	}
	return ok, nil
}

// Pause suspends a scheduled record: the trigger is removed but the row
// stays, ready to Resume. Only "scheduled" records can pause.
func (s *Service) Pause(ctx context.Context, id int64) (bool, error) {
	rec, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return false, err
	}
	ok, err := s.store.TransitionSchedule(ctx, id, schedule.StatusPaused, schedule.StatusScheduled)
	if err != nil {
		return false, err
	}
	if ok {
		s.Unregister(rec.JobID)
		s.log.Info("schedule paused", logx.Int64("id", id), logx.String("job", rec.JobID))
	}
	return ok, nil
}

// Resume re-arms a paused record. A one-time record whose fire time has
// already passed cannot resume; it stays paused and Resume reports false.
func (s *Service) Resume(ctx context.Context, id int64) (bool, error) {
	rec, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return false, err
	}
	if rec.Status != schedule.StatusPaused {
		return false, nil
	}
	if rec.Schedule == schedule.ScheduleOnce && !rec.RunAt.After(time.Now()) {
		s.log.Warn("cannot resume; fire time already passed",
			logx.Int64("id", id), logx.Time("run_at", rec.RunAt))
		return false, nil
	}
	ok, err := s.store.TransitionSchedule(ctx, id, schedule.StatusScheduled, schedule.StatusPaused)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	rec.Status = schedule.StatusScheduled
	if err := s.Register(rec); err != nil {
		s.failRecord(ctx, id, "re-registration failed")
		return false, fmt.Errorf("register schedule %d: %w", id, err)
	}
	s.log.Info("schedule resumed", logx.Int64("id", id), logx.String("job", rec.JobID))
	return true, nil
}

// Update edits message and/or timing of a non-terminal, non-running
// record. A scheduled record is re-armed with the new timing; a paused
// record keeps its new definition until Resume.
func (s *Service) Update(ctx context.Context, id int64, p storage.SchedulePatch) (schedule.Record, error) {
	if p.Empty() {
		return schedule.Record{}, &schedule.ValidationError{Msg: "no fields to update"}
	}
	rec, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return schedule.Record{}, err
	}
	if rec.Status != schedule.StatusScheduled && rec.Status != schedule.StatusPaused {
		return schedule.Record{}, &schedule.ValidationError{
			Field: "status",
			Msg:   fmt.Sprintf("cannot update a %s schedule", rec.Status),
		}
	}

	// Apply the patch exactly the way the store will, so validation sees
	// the record that actually gets written.
	next := rec
	if p.Message != nil {
		next.Message = *p.Message
	}
	if p.Schedule != nil && *p.Schedule != next.Schedule {
		next.Schedule = *p.Schedule
		switch next.Schedule {
		case schedule.ScheduleOnce:
			next.CronExpr = ""
		case schedule.ScheduleCron:
			next.RunAt = time.Time{}
		}
	}
	if p.RunAt != nil {
		next.RunAt = *p.RunAt
	}
	if p.CronExpr != nil {
		next.CronExpr = *p.CronExpr
	}
	// A timing field of the other mode cannot ride along on the patch.
	switch next.Schedule {
	case schedule.ScheduleOnce:
		if p.CronExpr != nil && *p.CronExpr != "" {
			return schedule.Record{}, &schedule.ValidationError{
				Field: "cron_expression",
				Msg:   "not applicable to a one-time schedule",
			}
		}
	case schedule.ScheduleCron:
		if p.RunAt != nil && !p.RunAt.IsZero() {
			return schedule.Record{}, &schedule.ValidationError{
				Field: "run_at",
				Msg:   "not applicable to a recurring schedule",
			}
		}
	}
	if err := schedule.ValidateNew(next, time.Now()); err != nil {
		return schedule.Record{}, err
	}

	updated, err := s.store.UpdateSchedule(ctx, id, p)
	if err != nil {
		return schedule.Record{}, err
	}
	if updated.Status == schedule.StatusScheduled {
		if err := s.Register(updated); err != nil {
			s.failRecord(ctx, id, "re-registration failed")
			return schedule.Record{}, fmt.Errorf("register schedule %d: %w", id, err)
		}
	}
	s.log.Info("schedule updated", logx.Int64("id", id), logx.String("job", updated.JobID))
	return updated, nil
}
