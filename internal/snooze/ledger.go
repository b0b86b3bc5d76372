// Package snooze keeps the deadline of every snoozed alarm so that a
// reconciliation pass, which clears the whole alarm table, can put the
// snoozed trigger back instead of the original one.
package snooze

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sandeepkv93/remindd/internal/model"
)

// Store persists snooze deadlines across restarts.
type Store interface {
	SaveSnooze(ctx context.Context, rec model.SnoozeRecord) error
	DeleteSnooze(ctx context.Context, reminderID int64) error
	ListSnoozes(ctx context.Context) ([]model.SnoozeRecord, error)
}

type Option func(*Ledger)

func WithStore(s Store) Option {
	return func(l *Ledger) { l.store = s }
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

type Ledger struct {
	store  Store
	now    func() time.Time
	logger *zap.Logger

	mu      sync.Mutex
	records map[int64]model.SnoozeRecord
}

func NewLedger(opts ...Option) *Ledger {
	l := &Ledger{
		now:     time.Now,
		logger:  zap.NewNop(),
		records: make(map[int64]model.SnoozeRecord),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record stores the new deadline for reminderID, replacing an earlier one.
// An empty task text keeps the text already on record.
func (l *Ledger) Record(ctx context.Context, reminderID int64, until time.Time, taskText string) error {
	l.mu.Lock()
	if taskText == "" {
		taskText = l.records[reminderID].TaskText
	}
	rec := model.SnoozeRecord{ReminderID: reminderID, TaskText: taskText, Until: until.UTC(), UpdatedAt: l.now().UTC()}
	l.records[reminderID] = rec
	l.mu.Unlock()

	if l.store == nil {
		return nil
	}
	if err := l.store.SaveSnooze(ctx, rec); err != nil {
		return fmt.Errorf("snooze: save %d: %w", reminderID, err)
	}
	return nil
}

// Clear forgets reminderID. Clearing an unknown id is a no-op.
func (l *Ledger) Clear(ctx context.Context, reminderID int64) error {
	l.mu.Lock()
	_, ok := l.records[reminderID]
	delete(l.records, reminderID)
	l.mu.Unlock()

	if !ok || l.store == nil {
		return nil
	}
	if err := l.store.DeleteSnooze(ctx, reminderID); err != nil {
		return fmt.Errorf("snooze: delete %d: %w", reminderID, err)
	}
	return nil
}

func (l *Ledger) Get(reminderID int64) (model.SnoozeRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[reminderID]
	return rec, ok
}

// SnoozedUntil returns the deadline of a snooze that has not fired yet.
func (l *Ledger) SnoozedUntil(reminderID int64) (time.Time, bool) {
	rec, ok := l.Get(reminderID)
	if !ok || !rec.Until.After(l.now()) {
		return time.Time{}, false
	}
	return rec.Until, true
}

func (l *Ledger) Records() []model.SnoozeRecord {
	l.mu.Lock()
	out := make([]model.SnoozeRecord, 0, len(l.records))
	for _, rec := range l.records {
		out = append(out, rec)
	}
	l.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ReminderID < out[j].ReminderID })
	return out
}

// Sweep drops the records of reminders that are no longer pending and of
// snoozes whose deadline has passed.
func (l *Ledger) Sweep(ctx context.Context, pending []model.Reminder) (int, error) {
	live := make(map[int64]bool, len(pending))
	for _, r := range pending {
		if r.Schedulable() {
			live[r.ID] = true
		}
	}
	now := l.now()

	l.mu.Lock()
	var drop []int64
	for id, rec := range l.records {
		if !live[id] || !rec.Until.After(now) {
			drop = append(drop, id)
		}
	}
	for _, id := range drop {
		delete(l.records, id)
	}
	l.mu.Unlock()

	var errs []error
	if l.store != nil {
		for _, id := range drop {
			if err := l.store.DeleteSnooze(ctx, id); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if len(drop) > 0 {
		l.logger.Info("snoozes swept", zap.Int("count", len(drop)))
	}
	return len(drop), errors.Join(errs...)
}

// Restore loads persisted deadlines. Nothing is armed here; the next
// reconciliation pass arms what is still due.
func (l *Ledger) Restore(ctx context.Context) (int, error) {
	if l.store == nil {
		return 0, nil
	}
	recs, err := l.store.ListSnoozes(ctx)
	if err != nil {
		return 0, fmt.Errorf("snooze: restore: %w", err)
	}
	l.mu.Lock()
	for _, rec := range recs {
		rec.Until = rec.Until.UTC()
		l.records[rec.ReminderID] = rec
	}
	l.mu.Unlock()
	l.logger.Info("snoozes restored", zap.Int("count", len(recs)))
	return len(recs), nil
}
