package actions

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sandeepkv93/remindd/internal/delivery"
	"github.com/sandeepkv93/remindd/internal/ids"
	"github.com/sandeepkv93/remindd/internal/model"
	"github.com/sandeepkv93/remindd/internal/scheduler"
)

const (
	DefaultSnoozeDuration = 10 * time.Minute
	DefaultLeaseCeiling   = 30 * time.Second
)

// Surface is the part of the delivery surface the router drives.
type Surface interface {
	StopAlarm(id int32, state delivery.State) bool
	Dismiss(id int32)
}

// FollowUps is the part of the follow-up machine the router drives.
type FollowUps interface {
	Start(ctx context.Context, reminderID int64, taskText string) (model.FollowUpPrompt, error)
	Confirm(ctx context.Context, reminderID int64) error
	Decline(ctx context.Context, reminderID int64) (model.FollowUpPrompt, error)
}

// Snoozes records snooze deadlines so a later reconciliation re-arms them.
type Snoozes interface {
	Record(ctx context.Context, reminderID int64, until time.Time, taskText string) error
	Clear(ctx context.Context, reminderID int64) error
}

// TaskTexts finds the text of a reminder when an action arrives without one.
type TaskTexts interface {
	TaskText(ctx context.Context, reminderID int64) (string, bool)
}

type TaskTextFunc func(ctx context.Context, reminderID int64) (string, bool)

func (f TaskTextFunc) TaskText(ctx context.Context, reminderID int64) (string, bool) {
	return f(ctx, reminderID)
}

type Observer interface {
	ObserveAction(kind string, err error)
}

type RouterConfig struct {
	Adapter        scheduler.Adapter
	Surface        Surface
	FollowUps      FollowUps
	Snoozes        Snoozes
	Texts          TaskTexts
	Namespace      ids.Namespace
	WakeLock       delivery.WakeLock
	SnoozeDuration time.Duration
	LeaseCeiling   time.Duration
	Now            func() time.Time
	Logger         *zap.Logger
	Observer       Observer
}

// Router turns user actions into surface, scheduler and follow-up calls.
type Router struct {
	cfg RouterConfig
}

func NewRouter(cfg RouterConfig) *Router {
	if cfg.SnoozeDuration <= 0 {
		cfg.SnoozeDuration = DefaultSnoozeDuration
	}
	if cfg.LeaseCeiling <= 0 {
		cfg.LeaseCeiling = DefaultLeaseCeiling
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Router{cfg: cfg}
}

// Handle processes one message under a wake lease.
func (r *Router) Handle(ctx context.Context, m Message) (Result, error) {
	if r.cfg.WakeLock != nil {
		lease, err := r.cfg.WakeLock.Acquire(fmt.Sprintf("action:%d", m.NotificationID), r.cfg.LeaseCeiling)
		if err != nil {
			r.cfg.Logger.Warn("action lease unavailable", zap.Error(err))
		} else {
			defer lease.Release()
		}
	}

	action, err := Parse(m)
	if err != nil {
		r.observe("invalid", err)
		return Result{}, err
	}
	res, err := Execute(ctx, action, r.handlers())
	r.observe(string(action.Kind), err)
	log := r.cfg.Logger.With(zap.String("action", string(action.Kind)), zap.Int64("reminder_id", action.ReminderID))
	if err != nil {
		log.Warn("action failed", zap.Error(err))
		return res, err
	}
	log.Info("action handled", zap.String("result", res.Message))
	return res, nil
}

// Run handles messages until ctx ends or in is closed. Failed messages are
// logged and do not stop the loop.
func (r *Router) Run(ctx context.Context, in <-chan Message) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-in:
			if !ok {
				return nil
			}
			_, _ = r.Handle(ctx, m)
		}
	}
}

func (r *Router) handlers() Handlers {
	return Handlers{
		Done:    r.done,
		Snooze:  r.snooze,
		Confirm: r.confirm,
		Decline: r.decline,
	}
}

func (r *Router) done(ctx context.Context, a Action) (Result, error) {
	initial := r.cfg.Namespace.Initial(a.ReminderID)
	r.stop(initial, delivery.StateStopped)
	if err := r.cfg.Adapter.Cancel(ctx, initial); err != nil {
		r.cfg.Logger.Warn("cancel fired alarm failed", zap.Int32("id", initial), zap.Error(err))
	}
	if r.cfg.Snoozes != nil {
		if err := r.cfg.Snoozes.Clear(ctx, a.ReminderID); err != nil {
			r.cfg.Logger.Warn("clearing snooze failed", zap.Int64("reminder_id", a.ReminderID), zap.Error(err))
		}
	}
	prompt, err := r.cfg.FollowUps.Start(ctx, a.ReminderID, r.taskText(ctx, a))
	if err != nil {
		return Result{}, err
	}
	return Result{Message: "follow-up armed", Prompt: &prompt}, nil
}

func (r *Router) snooze(ctx context.Context, a Action) (Result, error) {
	initial := r.cfg.Namespace.Initial(a.ReminderID)
	r.stop(initial, delivery.StateSnoozed)
	text := r.taskText(ctx, a)
	until := r.cfg.Now().UTC().Add(r.cfg.SnoozeDuration)
	req := scheduler.Request{
		ID:        initial,
		TriggerAt: until,
		Payload:   model.AlarmPayload(model.Reminder{ID: a.ReminderID, TaskText: text}),
	}
	outcome, err := r.cfg.Adapter.Snooze(ctx, req, r.cfg.SnoozeDuration)
	if err != nil {
		return Result{}, err
	}
	if r.cfg.Snoozes != nil {
		if err := r.cfg.Snoozes.Record(ctx, a.ReminderID, until, text); err != nil {
			r.cfg.Logger.Warn("recording snooze failed", zap.Int64("reminder_id", a.ReminderID), zap.Error(err))
		}
	}
	return Result{Message: "snoozed", Outcome: outcome}, nil
}

func (r *Router) confirm(ctx context.Context, a Action) (Result, error) {
	if err := r.cfg.FollowUps.Confirm(ctx, a.ReminderID); err != nil {
		return Result{}, err
	}
	if r.cfg.Surface != nil {
		r.cfg.Surface.Dismiss(r.cfg.Namespace.FollowUp(a.ReminderID))
	}
	return Result{Message: "confirmed"}, nil
}

func (r *Router) decline(ctx context.Context, a Action) (Result, error) {
	if r.cfg.Surface != nil {
		r.cfg.Surface.Dismiss(r.cfg.Namespace.FollowUp(a.ReminderID))
	}
	prompt, err := r.cfg.FollowUps.Decline(ctx, a.ReminderID)
	if err != nil {
		return Result{}, err
	}
	return Result{Message: "follow-up re-armed", Prompt: &prompt}, nil
}

func (r *Router) taskText(ctx context.Context, a Action) string {
	if a.TaskText != "" || r.cfg.Texts == nil {
		return a.TaskText
	}
	if text, ok := r.cfg.Texts.TaskText(ctx, a.ReminderID); ok {
		return text
	}
	return ""
}

func (r *Router) stop(id int32, state delivery.State) {
	if r.cfg.Surface == nil {
		return
	}
	r.cfg.Surface.StopAlarm(id, state)
	r.cfg.Surface.Dismiss(id)
}

func (r *Router) observe(kind string, err error) {
	if r.cfg.Observer != nil {
		r.cfg.Observer.ObserveAction(kind, err)
	}
}
