package bulk

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"sendflow/internal/services/messaging"
	"sendflow/internal/storage"
	logx "sendflow/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan job) {
	for {
		// fast-exit so stop wins over queued work
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case j := <-queue:
			s.execJob(ctx, j)
		}
	}
}

func (s *Service) execJob(ctx context.Context, j job) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in bulk job",
				logx.String("job", j.token),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())))
			s.failJob(j.token, fmt.Sprintf("panic: %v", r))
		}
	}()

	s.statusMu.Lock()
	if st, ok := s.status[j.token]; ok {
		st.State = StateRunning
		st.StartedAt = start
	}
	s.statusMu.Unlock()

	s.log.Info("bulk job started",
		logx.String("job", j.token),
		logx.Int64("group", j.groupID),
		logx.Int("total", len(j.members)))

	for i := range j.members {
		m := j.members[i]

		s.mu.Lock()
		lim := s.limiter
		s.mu.Unlock()
		if err := lim.Wait(ctx); err != nil {
			s.failJob(j.token, "dispatch interrupted")
			return
		}

		res := s.exec.Send(ctx, messaging.ToContact(m), j.message)
		s.record(j.token, m, res)

		if i < len(j.members)-1 && j.delay > 0 {
			tmr := time.NewTimer(j.delay)
			select {
			case <-ctx.Done():
				if !tmr.Stop() {
					<-tmr.C
				}
				s.failJob(j.token, "dispatch interrupted")
				return
			case <-tmr.C:
			}
		}
	}

	s.statusMu.Lock()
	var sent, failed int
	if st, ok := s.status[j.token]; ok {
		st.State = StateCompleted
		st.CompletedAt = time.Now()
		sent, failed = st.Sent, st.Failed
	}
	s.statusMu.Unlock()

	fields := []logx.Field{
		logx.String("job", j.token),
		logx.Int("sent", sent),
		logx.Int("failed", failed),
		logx.Duration("dur", time.Since(start)),
	}
	if failed > 0 {
		s.log.Warn("bulk job finished with failures", fields...)
	} else {
		s.log.Info("bulk job finished", fields...)
	}
}

func (s *Service) record(token string, m storage.Contact, res messaging.Result) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	st, ok := s.status[token]
	if !ok {
		return
	}
	if res.Success {
		st.Sent++
	} else {
		st.Failed++
	}
	st.Results = append(st.Results, TargetResult{
		ContactID: m.ID,
		Name:      m.Name,
		Phone:     m.Phone,
		Status:    res.Status,
		Error:     res.Error,
	})
}
