package bulk

import (
	"sort"
	"time"
)

// pruneStatus bounds the job registry: terminal jobs past the TTL are
// dropped, then the oldest-finished jobs until the cap holds. Pending and
// running jobs are never evicted by the cap pass.
func (s *Service) pruneStatus(now time.Time) {
	s.mu.Lock()
	max := s.cfg.StatusMax
	ttl := s.cfg.StatusTTL
	s.mu.Unlock()

	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	if len(s.status) == 0 {
		return
	}

	for token, st := range s.status {
		if st.State != StateCompleted && st.State != StateFailed {
			continue
		}
		ref := st.CompletedAt
		if ref.IsZero() {
			ref = st.CreatedAt
		}
		if now.Sub(ref) > ttl {
			delete(s.status, token)
		}
	}

	if len(s.status) <= max {
		return
	}

	type kv struct {
		token string
		t     time.Time
	}
	items := make([]kv, 0, len(s.status))
	for token, st := range s.status {
		if st.State != StateCompleted && st.State != StateFailed {
			continue
		}
		t := st.CompletedAt
		if t.IsZero() {
			t = st.CreatedAt
		}
		items = append(items, kv{token: token, t: t})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].t.Before(items[j].t) })

	excess := len(s.status) - max
	for i := 0; i < excess && i < len(items); i++ {
		delete(s.status, items[i].token)
	}
}
