package actions

import (
	"fmt"
	"strings"

	"github.com/sandeepkv93/remindd/internal/ids"
)

type Kind string

const (
	KindDone    Kind = "done"
	KindSnooze  Kind = "snooze"
	KindConfirm Kind = "confirm"
	KindDecline Kind = "decline"
)

type ErrorCode string

const (
	ErrCodeUnknownAction   ErrorCode = "unknown_action"
	ErrCodeMissingReminder ErrorCode = "missing_reminder"
	ErrCodeInvalidArgument ErrorCode = "invalid_argument"
	ErrCodeHandlerMissing  ErrorCode = "handler_missing"
)

type ActionError struct {
	Code    ErrorCode
	Message string
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Message is an inbound action from a notification button, a tap or the
// alarm screen.
type Message struct {
	ActionID       string `json:"actionId"`
	NotificationID int32  `json:"notificationId"`
	Extra          Extra  `json:"extra"`
}

type Extra struct {
	ReminderID int64  `json:"reminderId,omitempty"`
	TaskText   string `json:"taskText,omitempty"`
	IsFollowUp bool   `json:"isFollowUp,omitempty"`
}

type Action struct {
	Kind           Kind
	ReminderID     int64
	NotificationID int32
	TaskText       string
	FollowUp       bool
	Raw            string
}

// Parse normalizes a raw message into an Action. A tap opens nothing by
// itself: on an alarm it snoozes, on a follow-up prompt it declines.
func Parse(m Message) (Action, error) {
	raw := m.ActionID
	rid := m.Extra.ReminderID
	followUp := m.Extra.IsFollowUp

	// With a reminder id in hand every role is recognisable, action targets
	// included. Without one only alarm-table ids can be decoded.
	var role ids.Role
	var decoded bool
	if rid > 0 {
		role, decoded = ids.RoleOf(m.NotificationID, rid)
	} else {
		rid, role, decoded = ids.Resolve(m.NotificationID)
	}
	if decoded && role == ids.RoleFollowUp {
		followUp = true
	}
	if rid <= 0 {
		return Action{}, &ActionError{Code: ErrCodeMissingReminder, Message: fmt.Sprintf("no reminder id for notification %d", m.NotificationID)}
	}
	if rid > ids.MaxReminderID {
		return Action{}, &ActionError{Code: ErrCodeInvalidArgument, Message: fmt.Sprintf("reminder id %d outside namespace", rid)}
	}

	name := normalize(raw)
	if name == "" && decoded {
		// Action-target ids carry the action themselves.
		switch role {
		case ids.RoleDone:
			name = "done"
		case ids.RoleSnooze:
			name = "snooze"
		}
	}

	var kind Kind
	switch name {
	case "done", "complete", "completed", "finish", "finished":
		kind = KindDone
		if followUp {
			kind = KindConfirm
		}
	case "snooze", "later", "remind_later":
		kind = KindSnooze
		if followUp {
			kind = KindDecline
		}
	case "confirm", "yes", "reminder_yes":
		kind = KindConfirm
	case "decline", "no", "not_yet", "reminder_no":
		kind = KindDecline
	case "", "tap", "open", "show", "dismiss":
		kind = KindSnooze
		if followUp {
			kind = KindDecline
		}
	default:
		return Action{}, &ActionError{Code: ErrCodeUnknownAction, Message: fmt.Sprintf("unsupported action: %s", raw)}
	}

	if kind == KindConfirm || kind == KindDecline {
		followUp = true
	}

	return Action{
		Kind:           kind,
		ReminderID:     rid,
		NotificationID: m.NotificationID,
		TaskText:       m.Extra.TaskText,
		FollowUp:       followUp,
		Raw:            raw,
	}, nil
}

// normalize strips host package prefixes such as com.example.ACTION_DONE.
func normalize(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.LastIndex(s, "."); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimPrefix(s, "action_")
	s = strings.ReplaceAll(s, "-", "_")
	return s
}
