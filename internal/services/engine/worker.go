package engine

import (
	"context"
	"runtime/debug"
	"time"

	"sendflow/internal/schedule"
	"sendflow/internal/services/messaging"
	logx "sendflow/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan task) {
	for {
		select {
		case <-stopCh:
			return
		case t := <-queue:
			s.execJob(ctx, t)
		}
	}
}

// execJob runs one fire. At most one execution per job id is in flight;
// a fire that finds a previous run still going is dropped.
func (s *Service) execJob(ctx context.Context, t task) {
	if !t.state.tryAcquire() {
		s.log.Debug("fire skipped; previous run still in progress", logx.String("job", t.jobID))
		return
	}
	defer t.state.release()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic executing schedule",
				logx.Int64("id", t.recordID),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())))
			s.failRecord(ctx, t.recordID, "panic during execution")
			s.Unregister(t.jobID)
		}
	}()

	switch t.kind {
	case schedule.ScheduleOnce:
		s.execOnce(ctx, t)
	case schedule.ScheduleCron:
		s.execCron(ctx, t)
	}
}

// execOnce drives the scheduled -> running -> completed/failed lifecycle of
// a one-time record and removes its trigger afterwards.
func (s *Service) execOnce(ctx context.Context, t task) {
	now := time.Now()
	if !t.runAt.IsZero() && now.Sub(t.runAt) > s.cfg.GraceWindow {
		s.log.Warn("fire too late; marking failed",
			logx.Int64("id", t.recordID),
			logx.Time("run_at", t.runAt),
			logx.Duration("late_by", now.Sub(t.runAt)))
		s.failRecord(ctx, t.recordID, "missed grace window")
		s.Unregister(t.jobID)
		return
	}

	ok, err := s.store.TransitionSchedule(ctx, t.recordID, schedule.StatusRunning, schedule.StatusScheduled)
	if err != nil {
		s.log.Error("failed to mark schedule running", logx.Int64("id", t.recordID), logx.Err(err))
		return
	}
	if !ok {
		// Canceled or paused between fire and pickup.
		s.log.Debug("schedule no longer runnable; skipping", logx.Int64("id", t.recordID))
		s.Unregister(t.jobID)
		return
	}

	success := s.dispatch(ctx, t.recordID)

	final := schedule.StatusCompleted
	if !success {
		final = schedule.StatusFailed
	}
	changed, err := s.store.TransitionSchedule(ctx, t.recordID, final, schedule.StatusRunning)
	if err != nil {
		s.log.Error("failed to finalize schedule", logx.Int64("id", t.recordID), logx.Err(err))
	} else if !changed {
		// A cancel landed mid-flight; its status wins.
		s.log.Debug("schedule finalized elsewhere", logx.Int64("id", t.recordID))
	}
	if err := s.store.SetLastRun(ctx, t.recordID, now); err != nil {
		s.log.Error("failed to record last run", logx.Int64("id", t.recordID), logx.Err(err))
	}
	s.Unregister(t.jobID)
	s.log.Info("one-time schedule executed",
		logx.Int64("id", t.recordID),
		logx.String("job", t.jobID),
		logx.Bool("success", success))
}

// execCron runs one fire of a recurring record. The record's status never
// changes from firing; failed runs are logged and the trigger stays armed.
func (s *Service) execCron(ctx context.Context, t task) {
	rec, err := s.store.GetSchedule(ctx, t.recordID)
	if err != nil {
		s.log.Error("failed to load schedule for fire", logx.Int64("id", t.recordID), logx.Err(err))
		return
	}
	if rec.Status != schedule.StatusScheduled {
		s.log.Debug("schedule not active; skipping fire",
			logx.Int64("id", t.recordID), logx.String("status", rec.Status.String()))
		return
	}

	success := s.dispatch(ctx, t.recordID)
	if err := s.store.SetLastRun(ctx, t.recordID, time.Now()); err != nil {
		s.log.Error("failed to record last run", logx.Int64("id", t.recordID), logx.Err(err))
	}
	s.log.Info("recurring schedule fired",
		logx.Int64("id", t.recordID),
		logx.String("job", t.jobID),
		logx.Bool("success", success))
}

// dispatch performs the actual send(s) for a record. Group records send to
// every member in order with a pacing delay between members; the run
// succeeds only when every member send succeeds.
func (s *Service) dispatch(ctx context.Context, recordID int64) bool {
	rec, err := s.store.GetSchedule(ctx, recordID)
	if err != nil {
		s.log.Error("failed to load schedule for send", logx.Int64("id", recordID), logx.Err(err))
		return false
	}

	switch rec.Kind {
	case schedule.KindGroup:
		return s.dispatchGroup(ctx, rec)
	default:
		var target messaging.Target
		if rec.ContactID != 0 {
			target = messaging.ToContactID(rec.ContactID)
		} else {
			target = messaging.ToPhone(rec.Phone)
		}
		res := s.exec.Send(ctx, target, rec.Message)
		if !res.Success {
			s.log.Warn("scheduled send failed",
				logx.Int64("id", rec.ID),
				logx.String("status", res.Status),
				logx.String("error", res.Error))
		}
		return res.Success
	}
}

func (s *Service) dispatchGroup(ctx context.Context, rec schedule.Record) bool {
	members, err := s.store.GroupMembers(ctx, rec.GroupID)
	if err != nil {
		s.log.Error("failed to load group members",
			logx.Int64("id", rec.ID), logx.Int64("group", rec.GroupID), logx.Err(err))
		return false
	}
	if len(members) == 0 {
		s.log.Warn("group has no members", logx.Int64("id", rec.ID), logx.Int64("group", rec.GroupID))
		return false
	}

	allOK := true
	for i := range members {
		m := members[i]
		res := s.exec.Send(ctx, messaging.ToContact(m), rec.Message)
		if !res.Success {
			allOK = false
			s.log.Warn("group member send failed",
				logx.Int64("id", rec.ID),
				logx.Int64("contact", m.ID),
				logx.String("error", res.Error))
		}
		if i < len(members)-1 && s.cfg.GroupSendDelay > 0 {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(s.cfg.GroupSendDelay):
			}
		}
	}
	return allOK
}
