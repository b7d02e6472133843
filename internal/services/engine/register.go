package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	logx "sendflow/pkg/logx"

	"sendflow/internal/schedule"
)

// Register builds a live timer for rec, keyed by its job id. An existing
// registration with the same key is replaced.
func (s *Service) Register(rec schedule.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.c == nil {
		return errors.New("engine not started")
	}
	s.unregisterLocked(rec.JobID)

	reg := &registration{
		jobID:    rec.JobID,
		recordID: rec.ID,
		kind:     rec.Schedule,
		state:    &runState{},
	}

	switch rec.Schedule {
	case schedule.ScheduleOnce:
		if rec.RunAt.IsZero() {
			return fmt.Errorf("schedule %d has no run_at", rec.ID)
		}
		delay := time.Until(rec.RunAt)
		if delay < 0 {
			// Late registration still fires immediately; the grace window
			// is enforced at execution time.
			delay = 0
		}
		runAt := rec.RunAt
		recordID := rec.ID
		jobID := rec.JobID
		reg.timer = time.AfterFunc(delay, func() {
			// A replaced or removed registration must not fire.
			s.mu.Lock()
			cur, ok := s.regs[jobID]
			if !ok || cur != reg {
				s.mu.Unlock()
				return
			}
			st := cur.state
			s.mu.Unlock()

			if !s.enqueue(task{recordID: recordID, jobID: jobID, kind: schedule.ScheduleOnce, runAt: runAt, state: st}) {
				s.failRecord(context.Background(), recordID, "fire dropped")
				s.Unregister(jobID)
			}
		})

	case schedule.ScheduleCron:
		recordID := rec.ID
		jobID := rec.JobID
		st := reg.state
		eid, err := s.c.AddFunc(rec.CronExpr, func() {
			// Overlap policy: a fire while the previous run for this key is
			// still executing is dropped, not queued.
			st.mu.Lock()
			running := st.running
			st.mu.Unlock()
			if running {
				s.log.Debug("fire skipped; previous run still in progress", logx.String("job", jobID))
				return
			}
			_ = s.enqueue(task{recordID: recordID, jobID: jobID, kind: schedule.ScheduleCron, state: st})
		})
		if err != nil {
			return fmt.Errorf("register cron %q: %w", rec.CronExpr, err)
		}
		reg.entryID = eid

	default:
		return fmt.Errorf("unknown schedule kind %q", rec.Schedule)
	}

	s.regs[rec.JobID] = reg
	s.log.Debug("schedule registered",
		logx.String("job", rec.JobID),
		logx.Int64("id", rec.ID),
		logx.String("kind", string(rec.Schedule)))
	return nil
}

// Unregister removes the live timer for jobID if present. Removing an
// unknown key is a no-op, not an error.
func (s *Service) Unregister(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unregisterLocked(jobID)
}

func (s *Service) unregisterLocked(jobID string) bool {
	reg, ok := s.regs[jobID]
	if !ok {
		return false
	}
	if reg.timer != nil {
		_ = reg.timer.Stop()
	}
	if reg.entryID != 0 && s.c != nil {
		s.c.Remove(reg.entryID)
	}
	delete(s.regs, jobID)
	return true
}

// Registered reports whether jobID currently has a live registration.
func (s *Service) Registered(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.regs[jobID]
	return ok
}

// NextFire returns the next fire time for a registered cron record, zero
// otherwise.
func (s *Service) NextFire(jobID string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.regs[jobID]
	if !ok || s.c == nil || reg.entryID == 0 {
		return time.Time{}
	}
	return s.c.Entry(reg.entryID).Next
}

// failRecord marks a record failed from any non-terminal status. Used for
// engine-internal failures; it never propagates.
func (s *Service) failRecord(ctx context.Context, id int64, reason string) {
	ok, err := s.store.TransitionSchedule(ctx, id, schedule.StatusFailed,
		schedule.StatusScheduled, schedule.StatusRunning, schedule.StatusPaused)
	if err != nil {
		s.log.Error("failed to mark schedule failed", logx.Int64("id", id), logx.Err(err))
		return
	}
	if ok {
		s.log.Warn("schedule marked failed", logx.Int64("id", id), logx.String("reason", reason))
	}
}
