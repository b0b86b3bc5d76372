package model

import "time"

// SnoozeRecord remembers when a snoozed alarm is due again. The backend
// status stays pending while a reminder is snoozed, so this is the only
// place the new trigger lives.
type SnoozeRecord struct {
	ReminderID int64
	TaskText   string
	Until      time.Time
	UpdatedAt  time.Time
}
