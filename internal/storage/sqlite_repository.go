package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sandeepkv93/remindd/internal/model"
)

const sqliteTimeLayout = time.RFC3339Nano

type SQLiteRepository struct {
	db *sql.DB
}

var _ Repository = (*SQLiteRepository)(nil)

func NewSQLiteRepository(db *sql.DB) (*SQLiteRepository, error) {
	if db == nil {
		return nil, errors.New("storage: nil db")
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

// OpenSQLite opens path and applies pending migrations.
func OpenSQLite(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Single writer; the cache is small and writes are rare.
	db.SetMaxOpenConns(1)
	if err := MigrateUp(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	repo, err := NewSQLiteRepository(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func (r *SQLiteRepository) ReplaceReminders(ctx context.Context, in []model.Reminder, cachedAt time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM reminders`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO reminders (id, task_text, scheduled_at, status, cached_at)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, rem := range in {
		if _, err := stmt.ExecContext(ctx, rem.ID, rem.TaskText, mustTime(rem.ScheduledAt), string(rem.Status), mustTime(cachedAt)); err != nil {
			return fmt.Errorf("cache reminder %d: %w", rem.ID, err)
		}
	}
	return tx.Commit()
}

func (r *SQLiteRepository) ListReminders(ctx context.Context, filter ReminderListFilter) ([]model.Reminder, error) {
	query := `SELECT id, task_text, scheduled_at, status FROM reminders`
	args := make([]any, 0, 3)
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY scheduled_at ASC, id ASC`
	query += applyPagination(&args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Reminder, 0)
	for rows.Next() {
		item, scanErr := scanReminder(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) GetReminder(ctx context.Context, id int64) (model.Reminder, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, task_text, scheduled_at, status FROM reminders WHERE id = ?`, id)
	rem, err := scanReminder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Reminder{}, ErrNotFound
		}
		return model.Reminder{}, err
	}
	return rem, nil
}

// CachedAt returns when the reminder cache was last written.
func (r *SQLiteRepository) CachedAt(ctx context.Context) (time.Time, error) {
	var raw sql.NullString
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(cached_at) FROM reminders`).Scan(&raw); err != nil {
		return time.Time{}, err
	}
	at, err := parseNullableTime(raw)
	if err != nil {
		return time.Time{}, err
	}
	if at == nil {
		return time.Time{}, ErrNotFound
	}
	return *at, nil
}

func (r *SQLiteRepository) SaveFollowUp(ctx context.Context, rec model.FollowUpRecord) error {
	var due *time.Time
	if !rec.DueAt.IsZero() {
		due = &rec.DueAt
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO follow_ups (reminder_id, task_text, state, due_at, declines, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(reminder_id) DO UPDATE SET
			task_text = excluded.task_text,
			state = excluded.state,
			due_at = excluded.due_at,
			declines = excluded.declines,
			updated_at = excluded.updated_at`,
		rec.ReminderID, rec.TaskText, string(rec.State), nullTime(due), rec.Declines, mustTime(rec.UpdatedAt),
	)
	return err
}

func (r *SQLiteRepository) GetFollowUp(ctx context.Context, reminderID int64) (model.FollowUpRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT reminder_id, task_text, state, due_at, declines, updated_at
		FROM follow_ups WHERE reminder_id = ?`, reminderID)
	rec, err := scanFollowUp(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.FollowUpRecord{}, ErrNotFound
		}
		return model.FollowUpRecord{}, err
	}
	return rec, nil
}

func (r *SQLiteRepository) DeleteFollowUp(ctx context.Context, reminderID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM follow_ups WHERE reminder_id = ?`, reminderID)
	return err
}

func (r *SQLiteRepository) ListFollowUps(ctx context.Context) ([]model.FollowUpRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT reminder_id, task_text, state, due_at, declines, updated_at
		FROM follow_ups ORDER BY reminder_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.FollowUpRecord, 0)
	for rows.Next() {
		rec, scanErr := scanFollowUp(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) SaveSnooze(ctx context.Context, rec model.SnoozeRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO snoozes (reminder_id, task_text, until_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(reminder_id) DO UPDATE SET
			task_text = excluded.task_text,
			until_at = excluded.until_at,
			updated_at = excluded.updated_at`,
		rec.ReminderID, rec.TaskText, mustTime(rec.Until), mustTime(rec.UpdatedAt),
	)
	return err
}

func (r *SQLiteRepository) DeleteSnooze(ctx context.Context, reminderID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM snoozes WHERE reminder_id = ?`, reminderID)
	return err
}

func (r *SQLiteRepository) ListSnoozes(ctx context.Context) ([]model.SnoozeRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT reminder_id, task_text, until_at, updated_at
		FROM snoozes ORDER BY reminder_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.SnoozeRecord, 0)
	for rows.Next() {
		var rec model.SnoozeRecord
		var until, updated string
		if err := rows.Scan(&rec.ReminderID, &rec.TaskText, &until, &updated); err != nil {
			return nil, err
		}
		if rec.Until, err = parseRequiredTime(until); err != nil {
			return nil, err
		}
		if rec.UpdatedAt, err = parseRequiredTime(updated); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) SaveRun(ctx context.Context, in SyncRun) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_runs (run_id, started_at, source, total, scheduled, skipped, failed, rearmed, swept, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.RunID, mustTime(in.StartedAt), in.Source, in.Total, in.Scheduled, in.Skipped, in.Failed, in.Rearmed, in.Swept, in.Error,
	)
	return err
}

func (r *SQLiteRepository) ListRuns(ctx context.Context, filter SyncRunListFilter) ([]SyncRun, error) {
	query := `SELECT run_id, started_at, source, total, scheduled, skipped, failed, rearmed, swept, error FROM sync_runs ORDER BY started_at DESC`
	args := make([]any, 0, 2)
	query += applyPagination(&args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]SyncRun, 0)
	for rows.Next() {
		var run SyncRun
		var started string
		if err := rows.Scan(&run.RunID, &started, &run.Source, &run.Total, &run.Scheduled, &run.Skipped, &run.Failed, &run.Rearmed, &run.Swept, &run.Error); err != nil {
			return nil, err
		}
		if run.StartedAt, err = parseRequiredTime(started); err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReminder(s scanner) (model.Reminder, error) {
	var out model.Reminder
	var scheduled string
	var status string
	if err := s.Scan(&out.ID, &out.TaskText, &scheduled, &status); err != nil {
		return model.Reminder{}, err
	}
	scheduledAt, err := parseRequiredTime(scheduled)
	if err != nil {
		return model.Reminder{}, err
	}
	out.ScheduledAt = scheduledAt
	out.Status = model.Status(status)
	return out, nil
}

func scanFollowUp(s scanner) (model.FollowUpRecord, error) {
	var out model.FollowUpRecord
	var state string
	var due sql.NullString
	var updated string
	if err := s.Scan(&out.ReminderID, &out.TaskText, &state, &due, &out.Declines, &updated); err != nil {
		return model.FollowUpRecord{}, err
	}
	dueAt, err := parseNullableTime(due)
	if err != nil {
		return model.FollowUpRecord{}, err
	}
	updatedAt, err := parseRequiredTime(updated)
	if err != nil {
		return model.FollowUpRecord{}, err
	}
	if dueAt != nil {
		out.DueAt = *dueAt
	}
	out.State = model.FollowUpState(state)
	out.UpdatedAt = updatedAt
	return out, nil
}

func nullTime(v *time.Time) any {
	if v == nil {
		return nil
	}
	return v.UTC().Format(sqliteTimeLayout)
}

func mustTime(v time.Time) string {
	return v.UTC().Format(sqliteTimeLayout)
}

func parseNullableTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	tm, err := time.Parse(sqliteTimeLayout, v.String)
	if err != nil {
		return nil, err
	}
	return &tm, nil
}

func parseRequiredTime(v string) (time.Time, error) {
	return time.Parse(sqliteTimeLayout, v)
}

func applyPagination(args *[]any, limit, offset int) string {
	sql := ""
	if limit > 0 {
		sql += " LIMIT ?"
		*args = append(*args, limit)
	}
	if offset > 0 {
		if limit <= 0 {
			sql += " LIMIT -1"
		}
		sql += " OFFSET ?"
		*args = append(*args, offset)
	}
	return sql
}
