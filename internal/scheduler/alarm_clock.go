package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sandeepkv93/remindd/internal/ids"
)

// AlarmClockAdapter arms user-visible clock alarms, which fire through deep
// power saving, and falls back to an allow-while-idle alarm and then to a
// plain timed notification.
type AlarmClockAdapter struct {
	host AlarmManager
	gate ExactChecker
	ns   ids.Namespace
	opts Options
}

func NewAlarmClockAdapter(host AlarmManager, gate ExactChecker, ns ids.Namespace, opts Options) *AlarmClockAdapter {
	return &AlarmClockAdapter{host: host, gate: gate, ns: ns, opts: opts.withDefaults()}
}

func (a *AlarmClockAdapter) Name() string { return string(PlatformAlarmClock) }

func (a *AlarmClockAdapter) SnoozesNatively() bool { return false }

func (a *AlarmClockAdapter) Schedule(ctx context.Context, req Request) (Outcome, error) {
	if err := req.validate(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	log := a.opts.Logger.With(zap.Int32("id", req.ID), zap.Time("trigger_at", req.TriggerAt))
	if a.opts.stale(req.TriggerAt) {
		log.Debug("skipping stale trigger")
		a.opts.observe(a.Name(), OutcomeSkippedStale, nil)
		return OutcomeSkippedStale, nil
	}

	var errs []error
	if a.gate == nil || a.gate.CanScheduleExact() {
		showID := a.ns.ID(req.Payload.ReminderID, ids.RoleLaunch)
		err := a.host.SetAlarmClock(req.entry(KindAlarmClock), showID)
		if err == nil {
			a.opts.observe(a.Name(), OutcomeAlarmClock, nil)
			return OutcomeAlarmClock, nil
		}
		errs = append(errs, fmt.Errorf("alarm clock: %w", err))
		log.Warn("alarm clock refused, falling back", zap.Error(err))
	} else {
		errs = append(errs, ErrExactDenied)
	}

	idleErr := a.host.SetAndAllowWhileIdle(req.entry(KindAllowWhileIdle))
	if idleErr == nil {
		a.opts.observe(a.Name(), OutcomeAllowWhileIdle, nil)
		return OutcomeAllowWhileIdle, nil
	}
	errs = append(errs, fmt.Errorf("allow while idle: %w", idleErr))
	log.Warn("allow-while-idle refused, falling back to notification", zap.Error(idleErr))

	notifyErr := a.host.Notify(req.entry(KindNotification))
	if notifyErr == nil {
		a.opts.observe(a.Name(), OutcomeNotification, nil)
		return OutcomeNotification, nil
	}
	errs = append(errs, fmt.Errorf("notification: %w", notifyErr))

	err := fmt.Errorf("%w: %w", ErrSchedulingFailed, errors.Join(errs...))
	a.opts.observe(a.Name(), "", err)
	return "", err
}

func (a *AlarmClockAdapter) Snooze(ctx context.Context, req Request, d time.Duration) (Outcome, error) {
	if d <= 0 {
		d = a.opts.SnoozeCountdown
	}
	req.TriggerAt = a.opts.Now().UTC().Add(d)
	return a.Schedule(ctx, req)
}

func (a *AlarmClockAdapter) Cancel(ctx context.Context, id int32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.host.Cancel(id)
	a.opts.observeCancel(a.Name(), false)
	return nil
}

func (a *AlarmClockAdapter) CancelAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.host.CancelAll()
	a.opts.observeCancel(a.Name(), true)
	return nil
}
