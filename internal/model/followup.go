package model

import "time"

type FollowUpState string

const (
	FollowUpNone      FollowUpState = "none"
	FollowUpAwaiting  FollowUpState = "awaiting_confirmation"
	FollowUpConfirmed FollowUpState = "confirmed"
)

// FollowUpRecord is the persisted state of one reminder's confirmation loop.
type FollowUpRecord struct {
	ReminderID int64
	TaskText   string
	State      FollowUpState
	DueAt      time.Time
	Declines   int
	UpdatedAt  time.Time
}
