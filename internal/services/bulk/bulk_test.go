package bulk

import (
	"context"
	"sync"
	"testing"
	"time"

	"sendflow/internal/services/messaging"
	"sendflow/internal/storage"
	logx "sendflow/pkg/logx"
)

type memStore struct {
	mu      sync.Mutex
	groups  map[int64]storage.Group
	members map[int64][]storage.Contact
}

func newMemStore() *memStore {
	return &memStore{groups: map[int64]storage.Group{}, members: map[int64][]storage.Contact{}}
}

func (m *memStore) GetGroup(ctx context.Context, id int64) (storage.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[id]
	if !ok {
		return storage.Group{}, storage.ErrNotFound
	}
	return g, nil
}

func (m *memStore) GroupMembers(ctx context.Context, groupID int64) ([]storage.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]storage.Contact(nil), m.members[groupID]...), nil
}

type fakeExec struct {
	mu     sync.Mutex
	calls  []string
	failOn map[string]bool
}

func (e *fakeExec) Send(ctx context.Context, t messaging.Target, text string) messaging.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	phone := ""
	name := ""
	var id int64
	if t.Contact != nil {
		phone, name, id = t.Contact.Phone, t.Contact.Name, t.Contact.ID
	}
	e.calls = append(e.calls, phone)
	if e.failOn[phone] {
		return messaging.Result{Status: "failed", Error: "rejected", ContactID: id, ContactName: name, Phone: phone}
	}
	return messaging.Result{Success: true, Status: "sent", ContactID: id, ContactName: name, Phone: phone}
}

func seedGroup(st *memStore) {
	st.groups[1] = storage.Group{ID: 1, Name: "team"}
	st.members[1] = []storage.Contact{
		{ID: 10, Name: "a", Phone: "5511999990001"},
		{ID: 11, Name: "b", Phone: "5511999990002"},
		{ID: 12, Name: "c", Phone: "5511999990003"},
	}
}

func startDispatcher(t *testing.T, st Store, exec Executor, cfg Config) *Service {
	t.Helper()
	s := New(cfg, st, exec, logx.Nop())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitTerminal(t *testing.T, s *Service, token string) Snapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		snap, ok := s.Status(token)
		if !ok {
			t.Fatalf("job %s disappeared", token)
		}
		if snap.State == StateCompleted || snap.State == StateFailed {
			return snap
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal state", token)
	return Snapshot{}
}

func TestDispatchCompletes(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	seedGroup(st)
	exec := &fakeExec{}
	s := startDispatcher(t, st, exec, Config{RatePerSec: 1000})

	token := s.Dispatch(context.Background(), 1, "hello", 0)
	snap := waitTerminal(t, s, token)

	if snap.State != StateCompleted {
		t.Fatalf("State = %s, want completed (error: %s)", snap.State, snap.Error)
	}
	if snap.Total != 3 || snap.Sent != 3 || snap.Failed != 0 {
		t.Fatalf("counters = total %d sent %d failed %d", snap.Total, snap.Sent, snap.Failed)
	}
	if snap.GroupName != "team" {
		t.Fatalf("GroupName = %q", snap.GroupName)
	}
	if len(snap.Results) != 3 {
		t.Fatalf("results = %d, want 3", len(snap.Results))
	}
	// Stable member order.
	for i, want := range []int64{10, 11, 12} {
		if snap.Results[i].ContactID != want {
			t.Fatalf("results out of order: %+v", snap.Results)
		}
	}
	if snap.StartedAt.IsZero() || snap.CompletedAt.IsZero() {
		t.Fatalf("timestamps missing: %+v", snap)
	}
}

func TestDispatchCountsFailures(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	seedGroup(st)
	exec := &fakeExec{failOn: map[string]bool{"5511999990002": true}}
	s := startDispatcher(t, st, exec, Config{RatePerSec: 1000})

	token := s.Dispatch(context.Background(), 1, "hello", 0)
	snap := waitTerminal(t, s, token)

	if snap.State != StateCompleted {
		t.Fatalf("State = %s, want completed", snap.State)
	}
	if snap.Sent != 2 || snap.Failed != 1 {
		t.Fatalf("counters = sent %d failed %d", snap.Sent, snap.Failed)
	}
	if snap.Sent+snap.Failed != snap.Total {
		t.Fatalf("counters do not add up: %+v", snap)
	}
	if snap.Results[1].Status != "failed" || snap.Results[1].Error != "rejected" {
		t.Fatalf("failure not recorded per target: %+v", snap.Results[1])
	}
}

func TestDispatchUnknownGroup(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	s := startDispatcher(t, st, &fakeExec{}, Config{})

	token := s.Dispatch(context.Background(), 42, "hello", 0)
	snap, ok := s.Status(token)
	if !ok {
		t.Fatal("job missing for unknown group")
	}
	if snap.State != StateFailed {
		t.Fatalf("State = %s, want failed", snap.State)
	}
	if snap.CompletedAt.IsZero() {
		t.Fatal("failed job missing CompletedAt")
	}
}

func TestDispatchEmptyGroup(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	st.groups[2] = storage.Group{ID: 2, Name: "empty"}
	s := startDispatcher(t, st, &fakeExec{}, Config{})

	token := s.Dispatch(context.Background(), 2, "hello", 0)
	snap, ok := s.Status(token)
	if !ok {
		t.Fatal("job missing for empty group")
	}
	if snap.State != StateFailed {
		t.Fatalf("State = %s, want failed", snap.State)
	}
}

func TestStatusUnknownToken(t *testing.T) {
	t.Parallel()
	s := startDispatcher(t, newMemStore(), &fakeExec{}, Config{})
	if _, ok := s.Status("nope"); ok {
		t.Fatal("unknown token reported as found")
	}
}

func TestDispatchPacing(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	seedGroup(st)
	exec := &fakeExec{}
	s := startDispatcher(t, st, exec, Config{RatePerSec: 1000})

	delay := 60 * time.Millisecond
	start := time.Now()
	token := s.Dispatch(context.Background(), 1, "hello", delay)
	snap := waitTerminal(t, s, token)
	took := time.Since(start)

	if snap.Sent != 3 {
		t.Fatalf("Sent = %d", snap.Sent)
	}
	// Two gaps between three members; no delay after the last.
	if took < 2*delay {
		t.Fatalf("run took %v, want at least %v", took, 2*delay)
	}
}

func TestPruneEvictsTerminalJobs(t *testing.T) {
	t.Parallel()
	s := New(Config{StatusMax: 2, StatusTTL: time.Hour}, newMemStore(), &fakeExec{}, logx.Nop())

	now := time.Now()
	s.statusMu.Lock()
	s.status["old"] = &jobStatus{Snapshot: Snapshot{
		Token: "old", State: StateCompleted, CompletedAt: now.Add(-2 * time.Hour),
	}}
	s.status["done1"] = &jobStatus{Snapshot: Snapshot{
		Token: "done1", State: StateCompleted, CompletedAt: now.Add(-2 * time.Minute),
	}}
	s.status["done2"] = &jobStatus{Snapshot: Snapshot{
		Token: "done2", State: StateCompleted, CompletedAt: now.Add(-time.Minute),
	}}
	s.status["live"] = &jobStatus{Snapshot: Snapshot{
		Token: "live", State: StateRunning, CreatedAt: now,
	}}
	s.statusMu.Unlock()

	s.pruneStatus(now)

	if _, ok := s.Status("old"); ok {
		t.Fatal("TTL-expired job not evicted")
	}
	if _, ok := s.Status("live"); !ok {
		t.Fatal("running job must never be evicted")
	}
	s.statusMu.RLock()
	n := len(s.status)
	s.statusMu.RUnlock()
	if n > 3 {
		t.Fatalf("registry size = %d after prune", n)
	}
	if _, ok := s.Status("done2"); !ok {
		t.Fatal("newest finished job should survive the cap pass")
	}
}
