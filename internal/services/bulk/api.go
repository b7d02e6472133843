package bulk

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	logx "sendflow/pkg/logx"
)

// Dispatch resolves group membership and queues a fan-out job. It always
// returns a token: a group that cannot be resolved or has no members is
// recorded as an already-failed job rather than rejected.
func (s *Service) Dispatch(ctx context.Context, groupID int64, message string, delay time.Duration) string {
	now := time.Now()
	token := uuid.NewString()
	s.pruneStatus(now)

	st := &jobStatus{Snapshot: Snapshot{
		Token:     token,
		GroupID:   groupID,
		State:     StatePending,
		Results:   []TargetResult{},
		CreatedAt: now,
	}}
	s.statusMu.Lock()
	s.status[token] = st
	s.statusMu.Unlock()

	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		s.failJob(token, fmt.Sprintf("group %d not found", groupID))
		s.log.Warn("bulk dispatch rejected", logx.String("job", token), logx.Int64("group", groupID), logx.Err(err))
		return token
	}
	members, err := s.store.GroupMembers(ctx, groupID)
	if err != nil {
		s.failJob(token, fmt.Sprintf("load members of group %d: %v", groupID, err))
		return token
	}
	if len(members) == 0 {
		s.failJob(token, "group has no members")
		s.log.Warn("bulk dispatch rejected; empty group",
			logx.String("job", token), logx.Int64("group", groupID))
		return token
	}

	s.statusMu.Lock()
	st.GroupName = group.Name
	st.Total = len(members)
	s.statusMu.Unlock()

	s.mu.Lock()
	q := s.queue
	running := s.stopCh != nil
	s.mu.Unlock()
	j := job{token: token, groupID: groupID, message: message, delay: delay, members: members}
	if !running {
		s.failJob(token, "dispatcher not running")
		return token
	}
	select {
	case q <- j:
		s.log.Info("bulk job queued",
			logx.String("job", token),
			logx.Int64("group", groupID),
			logx.Int("total", len(members)),
			logx.Duration("delay", delay))
	default:
		s.failJob(token, "dispatch queue full")
		s.log.Warn("bulk queue full; dropping job",
			logx.String("job", token), logx.Int("queue_cap", cap(q)))
	}
	return token
}

// Status returns a copy of the job's current progress.
func (s *Service) Status(token string) (Snapshot, bool) {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	st, ok := s.status[token]
	if !ok {
		return Snapshot{}, false
	}
	cp := st.Snapshot
	cp.Results = append([]TargetResult(nil), st.Results...)
	return cp, true
}

// failJob marks a job terminally failed before or during execution.
func (s *Service) failJob(token, reason string) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	st, ok := s.status[token]
	if !ok {
		return
	}
	st.State = StateFailed
	st.Error = reason
	st.CompletedAt = time.Now()
}
