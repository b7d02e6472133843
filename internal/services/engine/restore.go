package engine

import (
	"context"
	"time"

	"sendflow/internal/schedule"
	logx "sendflow/pkg/logx"
)

// Restore re-arms persisted schedules after a restart. One-time records
// whose fire time already passed are marked failed without executing;
// everything else still in "scheduled" gets a fresh trigger. Paused and
// terminal records are left alone.
func (s *Service) Restore(ctx context.Context) error {
	recs, err := s.store.ListSchedulesByStatus(ctx, schedule.StatusScheduled)
	if err != nil {
		return err
	}

	now := time.Now()
	restored, expired := 0, 0
	for _, rec := range recs {
		if rec.Schedule == schedule.ScheduleOnce && !rec.RunAt.After(now) {
			s.failRecord(ctx, rec.ID, "fire time passed while down")
			expired++
			continue
		}
		if err := s.Register(rec); err != nil {
			s.log.Error("failed to restore schedule",
				logx.Int64("id", rec.ID), logx.String("job", rec.JobID), logx.Err(err))
			s.failRecord(ctx, rec.ID, "registration failed on restore")
			continue
		}
		restored++
	}

	s.log.Info("schedules restored",
		logx.Int("restored", restored),
		logx.Int("expired", expired),
		logx.Int("total", len(recs)))
	return nil
}
