package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sandeepkv93/remindd/internal/model"
)

func setupRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "remindd-test.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := MigrateUp(db); err != nil {
		t.Fatalf("migrate up: %v", err)
	}

	repo, err := NewSQLiteRepository(db)
	if err != nil {
		t.Fatalf("new repo: %v", err)
	}
	return repo
}

func parseRFC3339(t *testing.T, value string) time.Time {
	t.Helper()
	out, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("parse time: %v", err)
	}
	return out
}

func TestReminderCacheReplaceAndList(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	cachedAt := parseRFC3339(t, "2026-01-17T11:00:00Z")

	if _, err := repo.CachedAt(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for empty cache, got %v", err)
	}

	first := []model.Reminder{
		{ID: 2, TaskText: "later", ScheduledAt: parseRFC3339(t, "2026-01-17T13:00:00Z"), Status: model.StatusPending},
		{ID: 1, TaskText: "sooner", ScheduledAt: parseRFC3339(t, "2026-01-17T12:00:00Z"), Status: model.StatusPending},
		{ID: 3, TaskText: "finished", ScheduledAt: parseRFC3339(t, "2026-01-17T09:00:00Z"), Status: model.StatusDone},
	}
	if err := repo.ReplaceReminders(ctx, first, cachedAt); err != nil {
		t.Fatalf("replace: %v", err)
	}

	got, err := repo.ListReminders(ctx, ReminderListFilter{Status: string(model.StatusPending)})
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(got) != 2 || got[0].ID != 1 || got[1].ID != 2 {
		t.Fatalf("expected pending reminders ordered by time, got %+v", got)
	}
	if !got[0].ScheduledAt.Equal(first[1].ScheduledAt) || got[0].Status != model.StatusPending {
		t.Fatalf("unexpected reminder: %+v", got[0])
	}

	at, err := repo.CachedAt(ctx)
	if err != nil || !at.Equal(cachedAt) {
		t.Fatalf("expected cachedAt %s, got %s err=%v", cachedAt, at, err)
	}

	if err := repo.ReplaceReminders(ctx, first[:1], cachedAt.Add(time.Minute)); err != nil {
		t.Fatalf("second replace: %v", err)
	}
	all, err := repo.ListReminders(ctx, ReminderListFilter{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 1 || all[0].ID != 2 {
		t.Fatalf("expected replace to drop missing reminders, got %+v", all)
	}

	page, err := repo.ListReminders(ctx, ReminderListFilter{Offset: 1})
	if err != nil {
		t.Fatalf("list offset: %v", err)
	}
	if len(page) != 0 {
		t.Fatalf("expected empty page, got %+v", page)
	}
}

func TestReplaceRemindersRollsBackOnDuplicate(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	now := parseRFC3339(t, "2026-01-17T11:00:00Z")
	keep := []model.Reminder{{ID: 1, ScheduledAt: now, Status: model.StatusPending}}
	if err := repo.ReplaceReminders(ctx, keep, now); err != nil {
		t.Fatalf("replace: %v", err)
	}
	dup := []model.Reminder{
		{ID: 5, ScheduledAt: now, Status: model.StatusPending},
		{ID: 5, ScheduledAt: now, Status: model.StatusPending},
	}
	if err := repo.ReplaceReminders(ctx, dup, now); err == nil {
		t.Fatal("expected duplicate ids to fail")
	}
	got, err := repo.ListReminders(ctx, ReminderListFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("expected previous cache kept, got %+v", got)
	}
}

func TestFollowUpUpsertAndDelete(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	due := parseRFC3339(t, "2026-01-17T12:30:00Z")
	updated := parseRFC3339(t, "2026-01-17T12:00:00Z")

	rec := model.FollowUpRecord{ReminderID: 7, TaskText: "call the bank", State: model.FollowUpAwaiting, DueAt: due, UpdatedAt: updated}
	if err := repo.SaveFollowUp(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	rec.Declines = 1
	rec.DueAt = due.Add(30 * time.Minute)
	if err := repo.SaveFollowUp(ctx, rec); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := repo.GetFollowUp(ctx, 7)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Declines != 1 || !got.DueAt.Equal(rec.DueAt) || got.State != model.FollowUpAwaiting {
		t.Fatalf("unexpected follow-up: %+v", got)
	}

	confirmed := model.FollowUpRecord{ReminderID: 8, State: model.FollowUpConfirmed, UpdatedAt: updated}
	if err := repo.SaveFollowUp(ctx, confirmed); err != nil {
		t.Fatalf("save confirmed: %v", err)
	}
	list, err := repo.ListFollowUps(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ReminderID != 7 || !list[1].DueAt.IsZero() {
		t.Fatalf("unexpected list: %+v", list)
	}

	if err := repo.DeleteFollowUp(ctx, 7); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.GetFollowUp(ctx, 7); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSyncRunLog(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	base := parseRFC3339(t, "2026-01-17T11:00:00Z")
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		run := SyncRun{RunID: id, StartedAt: base.Add(time.Duration(i) * time.Minute), Source: "backend", Total: 3, Scheduled: i}
		if err := repo.SaveRun(ctx, run); err != nil {
			t.Fatalf("save run %s: %v", id, err)
		}
	}
	runs, err := repo.ListRuns(ctx, SyncRunListFilter{Limit: 2})
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != "run-c" || runs[1].RunID != "run-b" {
		t.Fatalf("expected newest runs first, got %+v", runs)
	}
	if err := repo.SaveRun(ctx, SyncRun{RunID: "run-a", StartedAt: base}); err == nil {
		t.Fatal("expected duplicate run id to fail")
	}
}

func TestSnoozeLedgerRows(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	now := parseRFC3339(t, "2026-01-17T12:00:00Z")

	if err := repo.SaveSnooze(ctx, model.SnoozeRecord{ReminderID: 42, TaskText: "water plants", Until: now.Add(10 * time.Minute), UpdatedAt: now}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := repo.SaveSnooze(ctx, model.SnoozeRecord{ReminderID: 42, TaskText: "water plants", Until: now.Add(20 * time.Minute), UpdatedAt: now}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := repo.SaveSnooze(ctx, model.SnoozeRecord{ReminderID: 12_345, Until: now.Add(time.Hour), UpdatedAt: now}); err != nil {
		t.Fatalf("save large id: %v", err)
	}

	recs, err := repo.ListSnoozes(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 2 || recs[0].ReminderID != 42 || !recs[0].Until.Equal(now.Add(20*time.Minute)) || recs[0].TaskText != "water plants" {
		t.Fatalf("unexpected snoozes: %+v", recs)
	}

	if err := repo.DeleteSnooze(ctx, 42); err != nil {
		t.Fatalf("delete: %v", err)
	}
	recs, err = repo.ListSnoozes(ctx)
	if err != nil || len(recs) != 1 || recs[0].ReminderID != 12_345 {
		t.Fatalf("expected only 12345 left, got %+v err=%v", recs, err)
	}
}

func TestGetReminder(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	at := parseRFC3339(t, "2026-01-17T12:00:00Z")
	if err := repo.ReplaceReminders(ctx, []model.Reminder{{ID: 42, TaskText: "water plants", ScheduledAt: at, Status: model.StatusPending}}, at); err != nil {
		t.Fatalf("replace: %v", err)
	}
	got, err := repo.GetReminder(ctx, 42)
	if err != nil || got.TaskText != "water plants" {
		t.Fatalf("unexpected reminder %+v err=%v", got, err)
	}
	if _, err := repo.GetReminder(ctx, 43); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOpenSQLiteMigrates(t *testing.T) {
	repo, err := OpenSQLite(filepath.Join(t.TempDir(), "open.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer repo.Close()
	if _, err := repo.ListFollowUps(context.Background()); err != nil {
		t.Fatalf("expected migrated schema, got %v", err)
	}
}
