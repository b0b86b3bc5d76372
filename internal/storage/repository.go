package storage

import (
	"context"
	"errors"
	"time"

	"github.com/sandeepkv93/remindd/internal/model"
)

var ErrNotFound = errors.New("storage: not found")

type Repository interface {
	// ReplaceReminders swaps the cached reminder list in one transaction.
	ReplaceReminders(ctx context.Context, in []model.Reminder, cachedAt time.Time) error
	ListReminders(ctx context.Context, filter ReminderListFilter) ([]model.Reminder, error)
	GetReminder(ctx context.Context, id int64) (model.Reminder, error)
	CachedAt(ctx context.Context) (time.Time, error)

	SaveFollowUp(ctx context.Context, rec model.FollowUpRecord) error
	GetFollowUp(ctx context.Context, reminderID int64) (model.FollowUpRecord, error)
	DeleteFollowUp(ctx context.Context, reminderID int64) error
	ListFollowUps(ctx context.Context) ([]model.FollowUpRecord, error)

	SaveSnooze(ctx context.Context, rec model.SnoozeRecord) error
	DeleteSnooze(ctx context.Context, reminderID int64) error
	ListSnoozes(ctx context.Context) ([]model.SnoozeRecord, error)

	SaveRun(ctx context.Context, in SyncRun) error
	ListRuns(ctx context.Context, filter SyncRunListFilter) ([]SyncRun, error)
}
