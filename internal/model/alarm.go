package model

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultAlarmTitle  = "Reminder"
	DefaultFollowTitle = "Did you finish it?"
)

// Payload travels with every scheduled entry and comes back with the fire.
type Payload struct {
	Title      string
	Body       string
	ReminderID int64
	TaskText   string
	IsFollowUp bool
}

type ScheduledAlarm struct {
	ID        int32
	TriggerAt time.Time
	Payload   Payload
}

type FollowUpPrompt struct {
	ID         int32
	ReminderID int64
	DueAt      time.Time
	TaskText   string
}

// AlarmPayload builds the payload of a reminder's initial alarm.
func AlarmPayload(r Reminder) Payload {
	body := strings.TrimSpace(r.TaskText)
	if body == "" {
		body = fmt.Sprintf("Reminder #%d", r.ID)
	}
	return Payload{
		Title:      DefaultAlarmTitle,
		Body:       body,
		ReminderID: r.ID,
		TaskText:   r.TaskText,
	}
}

func FollowUpPayload(reminderID int64, taskText string) Payload {
	body := strings.TrimSpace(taskText)
	if body == "" {
		body = fmt.Sprintf("Reminder #%d", reminderID)
	}
	return Payload{
		Title:      DefaultFollowTitle,
		Body:       body,
		ReminderID: reminderID,
		TaskText:   taskText,
		IsFollowUp: true,
	}
}
