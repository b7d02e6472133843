package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sendflow/internal/schedule"
	"sendflow/internal/services/messaging"
	"sendflow/internal/storage"
	logx "sendflow/pkg/logx"
)

type memStore struct {
	mu       sync.Mutex
	nextID   int64
	records  map[int64]schedule.Record
	contacts map[int64]storage.Contact
	groups   map[int64]storage.Group
	members  map[int64][]storage.Contact
}

func newMemStore() *memStore {
	return &memStore{
		records:  map[int64]schedule.Record{},
		contacts: map[int64]storage.Contact{},
		groups:   map[int64]storage.Group{},
		members:  map[int64][]storage.Contact{},
	}
}

func (m *memStore) CreateSchedule(ctx context.Context, r *schedule.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	r.ID = m.nextID
	now := time.Now()
	r.CreatedAt = now
	r.UpdatedAt = now
	m.records[r.ID] = *r
	return nil
}

func (m *memStore) GetSchedule(ctx context.Context, id int64) (schedule.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return schedule.Record{}, storage.ErrNotFound
	}
	return r, nil
}

func (m *memStore) ListSchedules(ctx context.Context) ([]schedule.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]schedule.Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	return out, nil
}

func (m *memStore) ListSchedulesByStatus(ctx context.Context, st schedule.Status) ([]schedule.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []schedule.Record
	for _, r := range m.records {
		if r.Status == st {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) UpdateSchedule(ctx context.Context, id int64, p storage.SchedulePatch) (schedule.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return schedule.Record{}, storage.ErrNotFound
	}
	if p.Message != nil {
		r.Message = *p.Message
	}
	if p.Schedule != nil && *p.Schedule != r.Schedule {
		r.Schedule = *p.Schedule
		switch r.Schedule {
		case schedule.ScheduleOnce:
			r.CronExpr = ""
		case schedule.ScheduleCron:
			r.RunAt = time.Time{}
		}
	}
	if p.RunAt != nil {
		r.RunAt = *p.RunAt
	}
	if p.CronExpr != nil {
		r.CronExpr = *p.CronExpr
	}
	r.UpdatedAt = time.Now()
	m.records[id] = r
	return r, nil
}

func (m *memStore) TransitionSchedule(ctx context.Context, id int64, to schedule.Status, from ...schedule.Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if r.Status == f {
			r.Status = to
			r.UpdatedAt = time.Now()
			m.records[id] = r
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) SetLastRun(ctx context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return storage.ErrNotFound
	}
	r.LastRunAt = at
	m.records[id] = r
	return nil
}

func (m *memStore) GetContact(ctx context.Context, id int64) (storage.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	if !ok {
		return storage.Contact{}, storage.ErrNotFound
	}
	return c, nil
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

func (m *memStore) status(t *testing.T, id int64) schedule.Status {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		t.Fatalf("record %d missing", id)
	}
	return r.Status
}

type fakeExec struct {
	mu    sync.Mutex
	calls []messaging.Target
	fail  bool
}

func (e *fakeExec) Send(ctx context.Context, t messaging.Target, text string) messaging.Result {
	e.mu.Lock()
	e.calls = append(e.calls, t)
	fail := e.fail
	e.mu.Unlock()
	if fail {
		return messaging.Result{Status: "error", Error: "boom"}
	}
	return messaging.Result{Success: true, Status: "sent"}
}

func (e *fakeExec) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

// blockingExec parks every send until release is closed, so a test can
// hold a run in flight.
type blockingExec struct {
	entered chan struct{}
	release chan struct{}
	mu      sync.Mutex
	calls   int
}

func (e *blockingExec) Send(ctx context.Context, t messaging.Target, text string) messaging.Result {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	e.entered <- struct{}{}
	<-e.release
	return messaging.Result{Success: true, Status: "sent"}
}

func (e *blockingExec) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func startEngine(t *testing.T, store Store, exec Executor, cfg Config) *Service {
	t.Helper()
	s := New(cfg, store, exec, logx.Nop())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestCreateOnceValidation(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	st.contacts[1] = storage.Contact{ID: 1, Name: "alice", Phone: "5511999990001"}
	s := startEngine(t, st, &fakeExec{}, Config{})
	ctx := context.Background()

	var verr *schedule.ValidationError

	_, err := s.CreateOnce(ctx, CreateInput{
		Kind: schedule.KindIndividual, ContactID: 1, Message: "hi",
		RunAt: time.Now().Add(-time.Minute),
	})
	if !errors.As(err, &verr) {
		t.Fatalf("past run_at: got %v, want validation error", err)
	}

	_, err = s.CreateOnce(ctx, CreateInput{
		Kind: schedule.KindIndividual, ContactID: 99, Message: "hi",
		RunAt: time.Now().Add(time.Hour),
	})
	if !errors.As(err, &verr) {
		t.Fatalf("unknown contact: got %v, want validation error", err)
	}

	_, err = s.CreateOnce(ctx, CreateInput{
		Kind: schedule.KindIndividual, Phone: "abc", Message: "hi",
		RunAt: time.Now().Add(time.Hour),
	})
	if !errors.As(err, &verr) {
		t.Fatalf("bad phone: got %v, want validation error", err)
	}

	if recs, _ := st.ListSchedules(ctx); len(recs) != 0 {
		t.Fatalf("invalid input persisted %d records", len(recs))
	}
}

func TestCreateCronValidation(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	s := startEngine(t, st, &fakeExec{}, Config{})

	var verr *schedule.ValidationError
	_, err := s.CreateCron(context.Background(), CreateInput{
		Kind: schedule.KindIndividual, Phone: "5511999990001", Message: "hi",
		CronExpr: "@daily",
	})
	if !errors.As(err, &verr) {
		t.Fatalf("descriptor expr: got %v, want validation error", err)
	}
}

func TestOnceLifecycle(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	exec := &fakeExec{}
	s := startEngine(t, st, exec, Config{})
	ctx := context.Background()

	rec, err := s.CreateOnce(ctx, CreateInput{
		Kind: schedule.KindIndividual, Phone: "5511999990001", Message: "hi",
		RunAt: time.Now().Add(80 * time.Millisecond),
	})
	if err != nil {
		t.Fatalf("CreateOnce: %v", err)
	}
	if !s.Registered(rec.JobID) {
		t.Fatal("record not registered after create")
	}

	eventually(t, 3*time.Second, func() bool {
		return st.status(t, rec.ID) == schedule.StatusCompleted
	}, "record never completed")

	if exec.count() != 1 {
		t.Fatalf("executor calls = %d, want 1", exec.count())
	}
	if s.Registered(rec.JobID) {
		t.Fatal("one-time record still registered after execution")
	}
	got, _ := st.GetSchedule(ctx, rec.ID)
	if got.LastRunAt.IsZero() {
		t.Fatal("LastRunAt not recorded")
	}
}

func TestOnceFailureMarksFailed(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	exec := &fakeExec{fail: true}
	s := startEngine(t, st, exec, Config{})

	rec, err := s.CreateOnce(context.Background(), CreateInput{
		Kind: schedule.KindIndividual, Phone: "5511999990001", Message: "hi",
		RunAt: time.Now().Add(50 * time.Millisecond),
	})
	if err != nil {
		t.Fatalf("CreateOnce: %v", err)
	}

	eventually(t, 3*time.Second, func() bool {
		return st.status(t, rec.ID) == schedule.StatusFailed
	}, "record never failed")
}

func TestOnceGraceWindow(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	exec := &fakeExec{}
	s := startEngine(t, st, exec, Config{GraceWindow: 50 * time.Millisecond})

	// Persisted record whose fire time is long past: registration still
	// fires immediately, but execution refuses it.
	rec := schedule.Record{
		JobID: "late", Kind: schedule.KindIndividual, Schedule: schedule.ScheduleOnce,
		Phone: "5511999990001", Message: "hi",
		RunAt: time.Now().Add(-time.Minute), Status: schedule.StatusScheduled,
	}
	if err := st.CreateSchedule(context.Background(), &rec); err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}
	if err := s.Register(rec); err != nil {
		t.Fatalf("Register: %v", err)
	}

	eventually(t, 3*time.Second, func() bool {
		return st.status(t, rec.ID) == schedule.StatusFailed
	}, "late record never marked failed")
	if exec.count() != 0 {
		t.Fatal("late fire must not reach the executor")
	}
}

func TestGroupDispatch(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	st.groups[5] = storage.Group{ID: 5, Name: "team"}
	st.members[5] = []storage.Contact{
		{ID: 1, Name: "a", Phone: "5511999990001"},
		{ID: 2, Name: "b", Phone: "5511999990002"},
		{ID: 3, Name: "c", Phone: "5511999990003"},
	}
	exec := &fakeExec{}
	s := startEngine(t, st, exec, Config{GroupSendDelay: time.Millisecond})

	rec, err := s.CreateOnce(context.Background(), CreateInput{
		Kind: schedule.KindGroup, GroupID: 5, Message: "hi",
		RunAt: time.Now().Add(50 * time.Millisecond),
	})
	if err != nil {
		t.Fatalf("CreateOnce: %v", err)
	}

	eventually(t, 3*time.Second, func() bool {
		return st.status(t, rec.ID) == schedule.StatusCompleted
	}, "group record never completed")
	if exec.count() != 3 {
		t.Fatalf("executor calls = %d, want 3", exec.count())
	}
}

func TestCancelBeforeFire(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	exec := &fakeExec{}
	s := startEngine(t, st, exec, Config{})
	ctx := context.Background()

	rec, err := s.CreateOnce(ctx, CreateInput{
		Kind: schedule.KindIndividual, Phone: "5511999990001", Message: "hi",
		RunAt: time.Now().Add(150 * time.Millisecond),
	})
	if err != nil {
		t.Fatalf("CreateOnce: %v", err)
	}

	changed, err := s.Cancel(ctx, rec.ID)
	if err != nil || !changed {
		t.Fatalf("Cancel = (%v, %v)", changed, err)
	}
	if s.Registered(rec.JobID) {
		t.Fatal("canceled record still registered")
	}

	// Canceling again is a no-op.
	changed, err = s.Cancel(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if changed {
		t.Fatal("second cancel should report no change")
	}

	time.Sleep(300 * time.Millisecond)
	if exec.count() != 0 {
		t.Fatal("canceled record executed")
	}
	if got := st.status(t, rec.ID); got != schedule.StatusCanceled {
		t.Fatalf("status = %s, want canceled", got)
	}
}

func TestPauseAndResume(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	s := startEngine(t, st, &fakeExec{}, Config{})
	ctx := context.Background()

	rec, err := s.CreateCron(ctx, CreateInput{
		Kind: schedule.KindIndividual, Phone: "5511999990001", Message: "hi",
		CronExpr: "0 9 * * *",
	})
	if err != nil {
		t.Fatalf("CreateCron: %v", err)
	}

	var nextBefore time.Time
	eventually(t, 2*time.Second, func() bool {
		nextBefore = s.NextFire(rec.JobID)
		return !nextBefore.IsZero()
	}, "registered cron record has no next fire")

	changed, err := s.Pause(ctx, rec.ID)
	if err != nil || !changed {
		t.Fatalf("Pause = (%v, %v)", changed, err)
	}
	if s.Registered(rec.JobID) {
		t.Fatal("paused record still registered")
	}
	if !s.NextFire(rec.JobID).IsZero() {
		t.Fatal("paused record still reports a next fire")
	}
	if got := st.status(t, rec.ID); got != schedule.StatusPaused {
		t.Fatalf("status = %s, want paused", got)
	}

	// Pausing again is a no-op.
	if changed, _ := s.Pause(ctx, rec.ID); changed {
		t.Fatal("second pause should report no change")
	}

	changed, err = s.Resume(ctx, rec.ID)
	if err != nil || !changed {
		t.Fatalf("Resume = (%v, %v)", changed, err)
	}
	if !s.Registered(rec.JobID) {
		t.Fatal("resumed record not registered")
	}
	if got := st.status(t, rec.ID); got != schedule.StatusScheduled {
		t.Fatalf("status = %s, want scheduled", got)
	}

	// The same expression re-arms to the same fire time.
	var nextAfter time.Time
	eventually(t, 2*time.Second, func() bool {
		nextAfter = s.NextFire(rec.JobID)
		return !nextAfter.IsZero()
	}, "resumed cron record has no next fire")
	if !nextAfter.Equal(nextBefore) {
		t.Fatalf("next fire moved across pause/resume: %v -> %v", nextBefore, nextAfter)
	}
}

func TestResumeExpiredOnceStaysPaused(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	s := startEngine(t, st, &fakeExec{}, Config{})
	ctx := context.Background()

	rec := schedule.Record{
		JobID: "expired", Kind: schedule.KindIndividual, Schedule: schedule.ScheduleOnce,
		Phone: "5511999990001", Message: "hi",
		RunAt: time.Now().Add(-time.Hour), Status: schedule.StatusPaused,
	}
	if err := st.CreateSchedule(ctx, &rec); err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}

	changed, err := s.Resume(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if changed {
		t.Fatal("expired one-time record must not resume")
	}
	if got := st.status(t, rec.ID); got != schedule.StatusPaused {
		t.Fatalf("status = %s, want paused", got)
	}
}

func TestUpdateSchedule(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	s := startEngine(t, st, &fakeExec{}, Config{})
	ctx := context.Background()

	rec, err := s.CreateCron(ctx, CreateInput{
		Kind: schedule.KindIndividual, Phone: "5511999990001", Message: "old",
		CronExpr: "0 9 * * *",
	})
	if err != nil {
		t.Fatalf("CreateCron: %v", err)
	}

	msg := "new"
	got, err := s.Update(ctx, rec.ID, storage.SchedulePatch{Message: &msg})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Message != "new" {
		t.Fatalf("Message = %q", got.Message)
	}
	if !s.Registered(rec.JobID) {
		t.Fatal("updated record lost its registration")
	}

	var verr *schedule.ValidationError
	if _, err := s.Update(ctx, rec.ID, storage.SchedulePatch{}); !errors.As(err, &verr) {
		t.Fatalf("empty patch: got %v, want validation error", err)
	}

	bad := "not a cron"
	if _, err := s.Update(ctx, rec.ID, storage.SchedulePatch{CronExpr: &bad}); !errors.As(err, &verr) {
		t.Fatalf("bad cron patch: got %v, want validation error", err)
	}

	// Terminal records reject updates.
	if _, err := st.TransitionSchedule(ctx, rec.ID, schedule.StatusCanceled, schedule.StatusScheduled); err != nil {
		t.Fatalf("TransitionSchedule: %v", err)
	}
	if _, err := s.Update(ctx, rec.ID, storage.SchedulePatch{Message: &msg}); !errors.As(err, &verr) {
		t.Fatalf("update of canceled record: got %v, want validation error", err)
	}
}

func TestUpdateRejectsInactiveModeField(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	s := startEngine(t, st, &fakeExec{}, Config{})
	ctx := context.Background()

	once, err := s.CreateOnce(ctx, CreateInput{
		Kind: schedule.KindIndividual, Phone: "5511999990001", Message: "hi",
		RunAt: time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateOnce: %v", err)
	}
	recurring, err := s.CreateCron(ctx, CreateInput{
		Kind: schedule.KindIndividual, Phone: "5511999990001", Message: "hi",
		CronExpr: "0 9 * * *",
	})
	if err != nil {
		t.Fatalf("CreateCron: %v", err)
	}

	var verr *schedule.ValidationError

	// A cron expression has no business on a one-time record; it must be
	// rejected before anything is written.
	bad := "not a cron"
	if _, err := s.Update(ctx, once.ID, storage.SchedulePatch{CronExpr: &bad}); !errors.As(err, &verr) {
		t.Fatalf("cron_expr on once record: got %v, want validation error", err)
	}
	got, err := st.GetSchedule(ctx, once.ID)
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}
	if got.CronExpr != "" || got.Schedule != schedule.ScheduleOnce {
		t.Fatalf("once record mutated: cron_expr=%q schedule=%s", got.CronExpr, got.Schedule)
	}

	// Likewise run_at on a recurring record.
	at := time.Now().Add(time.Hour)
	if _, err := s.Update(ctx, recurring.ID, storage.SchedulePatch{RunAt: &at}); !errors.As(err, &verr) {
		t.Fatalf("run_at on cron record: got %v, want validation error", err)
	}
	got, err = st.GetSchedule(ctx, recurring.ID)
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}
	if !got.RunAt.IsZero() || got.Schedule != schedule.ScheduleCron {
		t.Fatalf("cron record mutated: run_at=%v schedule=%s", got.RunAt, got.Schedule)
	}

	// Switching mode with the new mode's field in the same patch stays legal.
	kind := schedule.ScheduleCron
	expr := "30 8 * * 1"
	updated, err := s.Update(ctx, once.ID, storage.SchedulePatch{Schedule: &kind, CronExpr: &expr})
	if err != nil {
		t.Fatalf("mode switch: %v", err)
	}
	if updated.Schedule != schedule.ScheduleCron || updated.CronExpr != expr || !updated.RunAt.IsZero() {
		t.Fatalf("mode switch result: %+v", updated)
	}
}

func TestRestore(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	exec := &fakeExec{}
	s := startEngine(t, st, exec, Config{})
	ctx := context.Background()

	pastDue := schedule.Record{
		JobID: "past", Kind: schedule.KindIndividual, Schedule: schedule.ScheduleOnce,
		Phone: "5511999990001", Message: "hi",
		RunAt: time.Now().Add(-time.Hour), Status: schedule.StatusScheduled,
	}
	future := schedule.Record{
		JobID: "future", Kind: schedule.KindIndividual, Schedule: schedule.ScheduleOnce,
		Phone: "5511999990001", Message: "hi",
		RunAt: time.Now().Add(time.Hour), Status: schedule.StatusScheduled,
	}
	recurring := schedule.Record{
		JobID: "cron", Kind: schedule.KindIndividual, Schedule: schedule.ScheduleCron,
		Phone: "5511999990001", Message: "hi",
		CronExpr: "0 9 * * *", Status: schedule.StatusScheduled,
	}
	paused := schedule.Record{
		JobID: "paused", Kind: schedule.KindIndividual, Schedule: schedule.ScheduleCron,
		Phone: "5511999990001", Message: "hi",
		CronExpr: "0 9 * * *", Status: schedule.StatusPaused,
	}
	for _, r := range []*schedule.Record{&pastDue, &future, &recurring, &paused} {
		if err := st.CreateSchedule(ctx, r); err != nil {
			t.Fatalf("CreateSchedule: %v", err)
		}
	}

	if err := s.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if got := st.status(t, pastDue.ID); got != schedule.StatusFailed {
		t.Fatalf("past-due status = %s, want failed", got)
	}
	if exec.count() != 0 {
		t.Fatal("past-due record must not execute on restore")
	}
	if !s.Registered(future.JobID) {
		t.Fatal("future once record not restored")
	}
	if !s.Registered(recurring.JobID) {
		t.Fatal("cron record not restored")
	}
	if s.Registered(paused.JobID) {
		t.Fatal("paused record should not be restored")
	}
}

func TestRunStateOverlapGuard(t *testing.T) {
	t.Parallel()
	st := &runState{}
	if !st.tryAcquire() {
		t.Fatal("first acquire should succeed")
	}
	if st.tryAcquire() {
		t.Fatal("second acquire should be refused while running")
	}
	st.release()
	if !st.tryAcquire() {
		t.Fatal("acquire after release should succeed")
	}
}

func TestConcurrentFireForSameJobDropped(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	exec := &blockingExec{entered: make(chan struct{}, 1), release: make(chan struct{})}
	s := startEngine(t, st, exec, Config{Workers: 2})
	ctx := context.Background()

	rec, err := s.CreateOnce(ctx, CreateInput{
		Kind: schedule.KindIndividual, Phone: "5511999990001", Message: "hi",
		RunAt: time.Now().Add(30 * time.Millisecond),
	})
	if err != nil {
		t.Fatalf("CreateOnce: %v", err)
	}

	select {
	case <-exec.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first fire never reached the executor")
	}

	// The registration stays live while the send is in flight; feed a
	// second fire for the same job through the queue.
	s.mu.Lock()
	reg, ok := s.regs[rec.JobID]
	s.mu.Unlock()
	if !ok {
		t.Fatal("registration gone while run in flight")
	}
	if !s.enqueue(task{recordID: rec.ID, jobID: rec.JobID, kind: schedule.ScheduleOnce, runAt: rec.RunAt, state: reg.state}) {
		t.Fatal("enqueue refused duplicate fire")
	}
	// The free worker must drain and drop the duplicate without sending.
	eventually(t, 5*time.Second, func() bool { return len(s.queue) == 0 }, "duplicate fire never drained")

	close(exec.release)
	eventually(t, 5*time.Second, func() bool {
		return st.status(t, rec.ID) == schedule.StatusCompleted
	}, "record never completed")
	if got := exec.count(); got != 1 {
		t.Fatalf("executor calls = %d, want 1 (overlapping fire must be dropped)", got)
	}
}

func TestRegisterReplacesExisting(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	s := startEngine(t, st, &fakeExec{}, Config{})
	ctx := context.Background()

	rec := schedule.Record{
		JobID: "dup", Kind: schedule.KindIndividual, Schedule: schedule.ScheduleOnce,
		Phone: "5511999990001", Message: "hi",
		RunAt: time.Now().Add(time.Hour), Status: schedule.StatusScheduled,
	}
	if err := st.CreateSchedule(ctx, &rec); err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}
	if err := s.Register(rec); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Register(rec); err != nil {
		t.Fatalf("Register (replace): %v", err)
	}
	if !s.Registered(rec.JobID) {
		t.Fatal("record not registered")
	}
	if !s.Unregister(rec.JobID) {
		t.Fatal("Unregister should report removal")
	}
	if s.Unregister(rec.JobID) {
		t.Fatal("second Unregister should be a no-op")
	}
}
