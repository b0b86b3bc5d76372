// Package reconcile rebuilds the alarm table from the reminder list. A pass
// clears every entry and re-arms what is still due, so running it twice in a
// row leaves the table unchanged.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/sandeepkv93/remindd/internal/ids"
	"github.com/sandeepkv93/remindd/internal/model"
	"github.com/sandeepkv93/remindd/internal/scheduler"
)

var ErrSourceFailed = errors.New("reconcile: fetching reminders failed")

// Source lists the reminders the backend still considers pending.
type Source interface {
	ListReminders(ctx context.Context) ([]model.Reminder, error)
}

// FollowUps is the follow-up machine's reconciliation hook.
type FollowUps interface {
	Reconcile(ctx context.Context, pending []model.Reminder) (rearmed, swept int, err error)
}

// Snoozes tells a pass which pending reminders were snoozed past their
// original trigger.
type Snoozes interface {
	SnoozedUntil(reminderID int64) (time.Time, bool)
	Sweep(ctx context.Context, pending []model.Reminder) (int, error)
}

type Observer interface {
	ObserveReconcile(report Report, err error)
}

type Item struct {
	ReminderID int64             `json:"reminderId"`
	AlarmID    int32             `json:"alarmId,omitempty"`
	Outcome    scheduler.Outcome `json:"outcome,omitempty"`
	TriggerAt  time.Time         `json:"triggerAt,omitzero"`
	Snoozed    bool              `json:"snoozed,omitempty"`
	Skipped    string            `json:"skipped,omitempty"`
	Error      string            `json:"error,omitempty"`
}

type Report struct {
	RunID         string        `json:"runId"`
	StartedAt     time.Time     `json:"startedAt"`
	Duration      time.Duration `json:"duration"`
	Total         int           `json:"total"`
	Scheduled     int           `json:"scheduled"`
	SkippedStale  int           `json:"skippedStale"`
	SkippedStatus int           `json:"skippedStatus"`
	Rejected      int           `json:"rejected"`
	Failed        int           `json:"failed"`
	Snoozed       int           `json:"snoozed"`
	Rearmed       int           `json:"rearmed"`
	Swept         int           `json:"swept"`
	Items         []Item        `json:"items"`
}

type Config struct {
	Adapter     scheduler.Adapter
	Namespace   ids.Namespace
	FollowUps   FollowUps
	Snoozes     Snoozes
	MinLeadTime time.Duration
	Now         func() time.Time
	Logger      *zap.Logger
	Observer    Observer
}

type Policy struct {
	cfg Config
	sem *semaphore.Weighted
}

func NewPolicy(cfg Config) *Policy {
	if cfg.MinLeadTime <= 0 {
		cfg.MinLeadTime = scheduler.DefaultMinLeadTime
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Policy{cfg: cfg, sem: semaphore.NewWeighted(1)}
}

// Reconcile clears the alarm table and re-arms every pending reminder whose
// trigger lies beyond the lead time. A snoozed reminder is armed at the later
// of its trigger and its snooze deadline. Passes never overlap; a second
// caller waits for the first to finish.
func (p *Policy) Reconcile(ctx context.Context, reminders []model.Reminder) (Report, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return Report{}, err
	}
	defer p.sem.Release(1)

	start := p.cfg.Now()
	report := Report{RunID: uuid.NewString(), StartedAt: start.UTC(), Total: len(reminders)}
	log := p.cfg.Logger.With(zap.String("run_id", report.RunID))

	if err := p.cfg.Adapter.CancelAll(ctx); err != nil {
		p.observe(report, err)
		return report, fmt.Errorf("reconcile: cancel all: %w", err)
	}

	pending := make([]model.Reminder, 0, len(reminders))
	for _, r := range reminders {
		item := Item{ReminderID: r.ID}
		if err := r.Validate(); err != nil {
			item.Error = err.Error()
			report.Rejected++
			report.Items = append(report.Items, item)
			log.Warn("rejecting reminder", zap.Int64("reminder_id", r.ID), zap.Error(err))
			continue
		}
		if !r.Schedulable() {
			item.Skipped = string(r.Status)
			report.SkippedStatus++
			report.Items = append(report.Items, item)
			continue
		}
		pending = append(pending, r)

		item.AlarmID = p.cfg.Namespace.Initial(r.ID)
		trigger := p.trigger(r, &item)
		if trigger.Sub(p.cfg.Now()) < p.cfg.MinLeadTime {
			item.Skipped = string(scheduler.OutcomeSkippedStale)
			report.SkippedStale++
			report.Items = append(report.Items, item)
			continue
		}
		item.TriggerAt = trigger
		outcome, err := p.cfg.Adapter.Schedule(ctx, scheduler.Request{
			ID:        item.AlarmID,
			TriggerAt: trigger,
			Payload:   model.AlarmPayload(r),
		})
		switch {
		case err != nil:
			item.Error = err.Error()
			report.Failed++
			log.Error("scheduling reminder failed", zap.Int64("reminder_id", r.ID), zap.Error(err))
		case outcome == scheduler.OutcomeSkippedStale:
			item.Skipped = string(outcome)
			report.SkippedStale++
		default:
			item.Outcome = outcome
			report.Scheduled++
			if item.Snoozed {
				report.Snoozed++
			}
		}
		report.Items = append(report.Items, item)
	}

	var followErr error
	if p.cfg.FollowUps != nil {
		report.Rearmed, report.Swept, followErr = p.cfg.FollowUps.Reconcile(ctx, pending)
		if followErr != nil {
			log.Warn("follow-up reconciliation incomplete", zap.Error(followErr))
		}
	}
	if p.cfg.Snoozes != nil {
		if n, err := p.cfg.Snoozes.Sweep(ctx, pending); err != nil {
			log.Warn("snooze sweep incomplete", zap.Int("swept", n), zap.Error(err))
		}
	}

	report.Duration = p.cfg.Now().Sub(start)
	log.Info("reconciled",
		zap.Int("total", report.Total),
		zap.Int("scheduled", report.Scheduled),
		zap.Int("skipped_stale", report.SkippedStale),
		zap.Int("failed", report.Failed),
		zap.Int("snoozed", report.Snoozed),
		zap.Int("rearmed", report.Rearmed),
		zap.Int("swept", report.Swept),
	)
	p.observe(report, followErr)
	return report, followErr
}

// Sync fetches the reminder list and reconciles against it. A failed fetch
// leaves the alarm table untouched.
func (p *Policy) Sync(ctx context.Context, src Source) (Report, error) {
	reminders, err := src.ListReminders(ctx)
	if err != nil {
		p.observe(Report{}, err)
		return Report{}, fmt.Errorf("%w: %w", ErrSourceFailed, err)
	}
	return p.Reconcile(ctx, reminders)
}

// trigger picks when r should ring. A snooze deadline that the lead time
// would reject is pushed out to the lead time, since the pass just cancelled
// the alarm that would have fired it.
func (p *Policy) trigger(r model.Reminder, item *Item) time.Time {
	if p.cfg.Snoozes == nil {
		return r.ScheduledAt
	}
	until, ok := p.cfg.Snoozes.SnoozedUntil(r.ID)
	if !ok || !until.After(r.ScheduledAt) {
		return r.ScheduledAt
	}
	item.Snoozed = true
	if floor := p.cfg.Now().Add(p.cfg.MinLeadTime + time.Second); until.Before(floor) {
		return floor
	}
	return until
}

func (p *Policy) observe(r Report, err error) {
	if p.cfg.Observer != nil {
		p.cfg.Observer.ObserveReconcile(r, err)
	}
}
