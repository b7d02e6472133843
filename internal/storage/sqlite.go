package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "sendflow/pkg/logx"

	_ "modernc.org/sqlite"

	"sendflow/internal/schedule"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- Schedules ----

const scheduleCols = `id, job_id, kind, schedule_kind, contact_id, phone, group_id,
	message, run_at, cron_expr, status, last_run_at, created_at, updated_at`

func (s *sqliteStore) CreateSchedule(ctx context.Context, r *schedule.Record) error {
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO schedules(job_id, kind, schedule_kind, contact_id, phone, group_id,
		 message, run_at, cron_expr, status, last_run_at, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.JobID, string(r.Kind), string(r.Schedule), nullID(r.ContactID), nullStr(r.Phone), nullID(r.GroupID),
		r.Message, nullTime(r.RunAt), nullStr(r.CronExpr), string(r.Status), nullTime(r.LastRunAt),
		fmtTime(now), fmtTime(now),
	)
	if err != nil {
		return err
	}
	r.ID, err = res.LastInsertId()
	return err
}

func (s *sqliteStore) GetSchedule(ctx context.Context, id int64) (schedule.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduleCols+` FROM schedules WHERE id = ?`, id)
	return scanSchedule(row)
}

func (s *sqliteStore) ListSchedules(ctx context.Context) ([]schedule.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scheduleCols+` FROM schedules ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSchedules(rows)
}

func (s *sqliteStore) ListSchedulesByStatus(ctx context.Context, st schedule.Status) ([]schedule.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scheduleCols+` FROM schedules WHERE status = ? ORDER BY id`, string(st))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSchedules(rows)
}

func (s *sqliteStore) UpdateSchedule(ctx context.Context, id int64, p SchedulePatch) (schedule.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return schedule.Record{}, err
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := scanSchedule(tx.QueryRowContext(ctx, `SELECT `+scheduleCols+` FROM schedules WHERE id = ?`, id))
	if err != nil {
		return schedule.Record{}, err
	}

	if p.Message != nil {
		rec.Message = *p.Message
	}
	if p.Schedule != nil && *p.Schedule != rec.Schedule {
		rec.Schedule = *p.Schedule
		// Mode switch clears the previous mode's timing field.
		switch rec.Schedule {
		case schedule.ScheduleOnce:
			rec.CronExpr = ""
		case schedule.ScheduleCron:
			rec.RunAt = time.Time{}
		}
	}
	if p.RunAt != nil {
		rec.RunAt = *p.RunAt
	}
	if p.CronExpr != nil {
		rec.CronExpr = *p.CronExpr
	}
	rec.UpdatedAt = time.Now().UTC()

	_, err = tx.ExecContext(ctx,
		`UPDATE schedules SET message=?, schedule_kind=?, run_at=?, cron_expr=?, updated_at=? WHERE id=?`,
		rec.Message, string(rec.Schedule), nullTime(rec.RunAt), nullStr(rec.CronExpr), fmtTime(rec.UpdatedAt), id,
	)
	if err != nil {
		return schedule.Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return schedule.Record{}, err
	}
	return rec, nil
}

func (s *sqliteStore) TransitionSchedule(ctx context.Context, id int64, to schedule.Status, from ...schedule.Status) (bool, error) {
	if len(from) == 0 {
		return false, errors.New("transition needs at least one source status")
	}
	args := make([]any, 0, len(from)+3)
	args = append(args, string(to), fmtTime(time.Now().UTC()), id)
	ph := make([]string, len(from))
	for i, f := range from {
		ph[i] = "?"
		args = append(args, string(f))
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET status=?, updated_at=? WHERE id=? AND status IN (`+strings.Join(ph, ",")+`)`,
		args...,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqliteStore) SetLastRun(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET last_run_at=?, updated_at=? WHERE id=?`,
		fmtTime(at), fmtTime(time.Now().UTC()), id)
	return err
}

// ---- Directory ----

func (s *sqliteStore) CreateContact(ctx context.Context, c *Contact) error {
	now := time.Now().UTC()
	c.CreatedAt = now
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO contacts(name, phone, group_id, created_at) VALUES(?,?,?,?)`,
		c.Name, c.Phone, nullID(c.GroupID), fmtTime(now))
	if err != nil {
		return err
	}
	c.ID, err = res.LastInsertId()
	return err
}

func (s *sqliteStore) GetContact(ctx context.Context, id int64) (Contact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, phone, group_id, created_at FROM contacts WHERE id = ?`, id)
	return scanContact(row)
}

func (s *sqliteStore) ListContacts(ctx context.Context) ([]Contact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, phone, group_id, created_at FROM contacts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CreateGroup(ctx context.Context, g *Group) error {
	now := time.Now().UTC()
	g.CreatedAt = now
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO groups(name, description, created_at) VALUES(?,?,?)`,
		g.Name, nullStr(g.Description), fmtTime(now))
	if err != nil {
		return err
	}
	g.ID, err = res.LastInsertId()
	return err
}

func (s *sqliteStore) GetGroup(ctx context.Context, id int64) (Group, error) {
	var g Group
	var desc sql.NullString
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, created_at FROM groups WHERE id = ?`, id).
		Scan(&g.ID, &g.Name, &desc, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Group{}, ErrNotFound
	}
	if err != nil {
		return Group{}, err
	}
	g.Description = desc.String
	g.CreatedAt = parseTime(created)
	return g, nil
}

func (s *sqliteStore) ListGroups(ctx context.Context) ([]Group, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, created_at FROM groups ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Group
	for rows.Next() {
		var g Group
		var desc sql.NullString
		var created string
		if err := rows.Scan(&g.ID, &g.Name, &desc, &created); err != nil {
			return nil, err
		}
		g.Description = desc.String
		g.CreatedAt = parseTime(created)
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GroupMembers(ctx context.Context, groupID int64) ([]Contact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, phone, group_id, created_at FROM contacts WHERE group_id = ? ORDER BY id`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ---- Message log ----

func (s *sqliteStore) AppendMessage(ctx context.Context, m *MessageEntry) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages(contact_id, phone, content, status, provider, provider_message_id, err, created_at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		nullID(m.ContactID), nullStr(m.Phone), m.Content, m.Status,
		nullStr(m.Provider), nullStr(m.ProviderMessageID), nullStr(m.Error), fmtTime(m.CreatedAt))
	if err != nil {
		return err
	}
	m.ID, err = res.LastInsertId()
	return err
}

func (s *sqliteStore) RecentMessages(ctx context.Context, limit int) ([]MessageEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, contact_id, phone, content, status, provider, provider_message_id, err, created_at
		 FROM messages ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MessageEntry
	for rows.Next() {
		var m MessageEntry
		var cid sql.NullInt64
		var phoneCol, provider, pmid, errCol sql.NullString
		var created string
		if err := rows.Scan(&m.ID, &cid, &phoneCol, &m.Content, &m.Status, &provider, &pmid, &errCol, &created); err != nil {
			return nil, err
		}
		m.ContactID = cid.Int64
		m.Phone = phoneCol.String
		m.Provider = provider.String
		m.ProviderMessageID = pmid.String
		m.Error = errCol.String
		m.CreatedAt = parseTime(created)
		out = append(out, m)
	}
	return out, rows.Err()
}

// ---- scan/format helpers ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (schedule.Record, error) {
	var r schedule.Record
	var kind, scheduleKind, status string
	var contactID, groupID sql.NullInt64
	var phoneCol, cronExpr sql.NullString
	var runAt, lastRun sql.NullString
	var created, updated string

	err := row.Scan(&r.ID, &r.JobID, &kind, &scheduleKind, &contactID, &phoneCol, &groupID,
		&r.Message, &runAt, &cronExpr, &status, &lastRun, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return schedule.Record{}, ErrNotFound
	}
	if err != nil {
		return schedule.Record{}, err
	}
	r.Kind = schedule.Kind(kind)
	r.Schedule = schedule.ScheduleKind(scheduleKind)
	r.Status = schedule.Status(status)
	r.ContactID = contactID.Int64
	r.GroupID = groupID.Int64
	r.Phone = phoneCol.String
	r.CronExpr = cronExpr.String
	if runAt.Valid {
		r.RunAt = parseTime(runAt.String)
	}
	if lastRun.Valid {
		r.LastRunAt = parseTime(lastRun.String)
	}
	r.CreatedAt = parseTime(created)
	r.UpdatedAt = parseTime(updated)
	return r, nil
}

func collectSchedules(rows *sql.Rows) ([]schedule.Record, error) {
	var out []schedule.Record
	for rows.Next() {
		r, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanContact(row rowScanner) (Contact, error) {
	var c Contact
	var gid sql.NullInt64
	var created string
	err := row.Scan(&c.ID, &c.Name, &c.Phone, &gid, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Contact{}, ErrNotFound
	}
	if err != nil {
		return Contact{}, err
	}
	c.GroupID = gid.Int64
	c.CreatedAt = parseTime(created)
	return c, nil
}

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullID(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return fmtTime(t)
}
