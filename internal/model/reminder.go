package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sandeepkv93/remindd/internal/ids"
)

var (
	ErrInvalidStatus        = errors.New("model: invalid reminder status")
	ErrInvalidReminderID    = errors.New("model: reminder id out of range")
	ErrInvalidScheduledTime = errors.New("model: invalid scheduled time")
)

type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusSnoozed Status = "snoozed"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusDone, StatusSnoozed:
		return true
	default:
		return false
	}
}

// ParseStatus normalizes the collaborator's status strings. The legacy
// "completed" value is reported as done.
func ParseStatus(raw string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending", "":
		return StatusPending, nil
	case "done", "completed":
		return StatusDone, nil
	case "snoozed":
		return StatusSnoozed, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
}

type Reminder struct {
	ID          int64
	TaskText    string
	ScheduledAt time.Time
	Status      Status
}

func (r Reminder) Validate() error {
	if r.ID <= 0 || r.ID > ids.MaxReminderID {
		return fmt.Errorf("%w: %d", ErrInvalidReminderID, r.ID)
	}
	if r.ScheduledAt.IsZero() {
		return fmt.Errorf("%w: scheduled_time_utc is required", ErrInvalidScheduledTime)
	}
	if !r.Status.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, r.Status)
	}
	return nil
}

// Schedulable reports whether the reminder may own an initial alarm.
func (r Reminder) Schedulable() bool {
	return r.Status == StatusPending
}

var scheduledTimeLayouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
}

// ParseScheduledTime accepts the collaborator's timestamp variants: space or
// "T" separated, optional fractional seconds, optional zone. A missing zone
// means UTC.
func ParseScheduledTime(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrInvalidScheduledTime)
	}
	if len(s) > 10 && s[10] == ' ' {
		s = s[:10] + "T" + strings.TrimSpace(s[11:])
	}
	if strings.HasSuffix(s, " UTC") {
		s = strings.TrimSuffix(s, " UTC") + "Z"
	}
	if strings.HasSuffix(s, "z") {
		s = strings.TrimSuffix(s, "z") + "Z"
	}
	for _, layout := range scheduledTimeLayouts {
		tm, err := time.Parse(layout, s)
		if err == nil {
			return tm.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidScheduledTime, raw)
}
