package scheduler

import (
	"errors"
	"time"
)

var (
	ErrExactDenied  = errors.New("scheduler: exact alarms not permitted")
	ErrUnknownAlarm = errors.New("scheduler: unknown alarm id")
)

// ExactChecker reports whether the host currently grants exact scheduling.
type ExactChecker interface {
	CanScheduleExact() bool
}

// AlarmManager is the host surface behind the alarm-clock adapter: a
// user-visible clock alarm, an inexact allow-while-idle alarm and a plain
// timed notification, all addressed by id.
type AlarmManager interface {
	// SetAlarmClock arms a user-visible clock alarm. showID addresses the
	// screen opened when the user taps the clock indicator.
	SetAlarmClock(e Entry, showID int32) error
	SetAndAllowWhileIdle(e Entry) error
	Notify(e Entry) error
	Cancel(id int32)
	CancelAll()
}

// AlarmObject is a declarative, host-managed alarm. The host owns its snooze
// button and re-arms the alarm after SnoozeFor when it is pressed.
type AlarmObject struct {
	Entry
	SnoozeFor time.Duration
}

// AlarmKit is the host surface behind the alarm-object adapter.
type AlarmKit interface {
	ScheduleAlarm(obj AlarmObject) error
	ScheduleNotification(e Entry) error
	// Snooze applies the countdown supplied when the alarm was scheduled.
	Snooze(id int32) error
	Cancel(id int32)
	CancelAll()
}
