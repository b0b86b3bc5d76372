package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/sandeepkv93/remindd/internal/ids"
)

// AlarmObjectAdapter schedules declarative host alarms. The host owns the
// snooze button; the adapter only supplies the countdown. Initial alarms also
// get a backup notification so a refused alarm object still alerts.
type AlarmObjectAdapter struct {
	kit  AlarmKit
	ns   ids.Namespace
	opts Options
}

func NewAlarmObjectAdapter(kit AlarmKit, ns ids.Namespace, opts Options) *AlarmObjectAdapter {
	return &AlarmObjectAdapter{kit: kit, ns: ns, opts: opts.withDefaults()}
}

func (a *AlarmObjectAdapter) Name() string { return string(PlatformAlarmObject) }

func (a *AlarmObjectAdapter) SnoozesNatively() bool { return true }

func (a *AlarmObjectAdapter) Schedule(ctx context.Context, req Request) (Outcome, error) {
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

	// Follow-up prompts are notifications, not alarms.
	if req.Payload.IsFollowUp {
		if err := a.kit.ScheduleNotification(req.entry(KindNotification)); err != nil {
			err = fmt.Errorf("%w: notification: %w", ErrSchedulingFailed, err)
			a.opts.observe(a.Name(), "", err)
			return "", err
		}
		a.opts.observe(a.Name(), OutcomeNotification, nil)
		return OutcomeNotification, nil
	}

	obj := AlarmObject{Entry: req.entry(KindAlarmObject), SnoozeFor: a.opts.SnoozeCountdown}
	obj.Metadata = map[string]string{
		"reminder_id":  strconv.FormatInt(req.Payload.ReminderID, 10),
		"task_text":    req.Payload.TaskText,
		"is_follow_up": strconv.FormatBool(req.Payload.IsFollowUp),
	}
	objErr := a.kit.ScheduleAlarm(obj)
	if objErr != nil {
		log.Warn("alarm object refused, relying on backup notification", zap.Error(objErr))
	}

	backup := req.entry(KindNotification)
	backup.ID = a.ns.Backup(req.Payload.ReminderID)
	backupErr := a.kit.ScheduleNotification(backup)

	switch {
	case objErr == nil:
		if backupErr != nil {
			log.Warn("backup notification refused", zap.Error(backupErr))
		}
		a.opts.observe(a.Name(), OutcomeAlarmObject, nil)
		return OutcomeAlarmObject, nil
	case backupErr == nil:
		a.opts.observe(a.Name(), OutcomeBackupOnly, nil)
		return OutcomeBackupOnly, nil
	default:
		err := fmt.Errorf("%w: %w", ErrSchedulingFailed, errors.Join(
			fmt.Errorf("alarm object: %w", objErr),
			fmt.Errorf("backup notification: %w", backupErr),
		))
		a.opts.observe(a.Name(), "", err)
		return "", err
	}
}

// Snooze asks the host to apply its own snooze. Only when the host no longer
// knows the alarm is a fresh alarm object armed with the same countdown.
func (a *AlarmObjectAdapter) Snooze(ctx context.Context, req Request, _ time.Duration) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	err := a.kit.Snooze(req.ID)
	if err == nil {
		a.opts.observe(a.Name(), OutcomeNativeSnooze, nil)
		return OutcomeNativeSnooze, nil
	}
	a.opts.Logger.Info("host does not know alarm, re-arming", zap.Int32("id", req.ID), zap.Error(err))
	req.TriggerAt = a.opts.Now().UTC().Add(a.opts.SnoozeCountdown)
	return a.Schedule(ctx, req)
}

func (a *AlarmObjectAdapter) Cancel(ctx context.Context, id int32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.kit.Cancel(id)
	if rid, role, ok := a.ns.Decode(id); ok && role == ids.RoleInitial {
		a.kit.Cancel(a.ns.Backup(rid))
	}
	a.opts.observeCancel(a.Name(), false)
	return nil
}

func (a *AlarmObjectAdapter) CancelAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.kit.CancelAll()
	a.opts.observeCancel(a.Name(), true)
	return nil
}
