// Package ids derives every alarm, action and notification id from a
// reminder id. Nothing else in the module may invent ids for the host.
package ids

import "fmt"

// MaxReminderID is the largest reminder id for which the alarm-table ranges
// (initial, follow-up and backup) stay disjoint. Action-target ids are not
// alarm-table entries; above 9,999 they may alias another reminder's initial
// id, so they are only ever matched against a known reminder id.
const MaxReminderID = 999_999

type Role int

const (
	RoleInitial Role = iota
	RoleDone
	RoleSnooze
	RoleLaunch
	RoleFollowUp
	RoleBackup
)

func (r Role) String() string {
	switch r {
	case RoleInitial:
		return "initial"
	case RoleDone:
		return "done"
	case RoleSnooze:
		return "snooze"
	case RoleLaunch:
		return "launch"
	case RoleFollowUp:
		return "follow_up"
	case RoleBackup:
		return "backup"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Roles lists every role in table order.
func Roles() []Role {
	return []Role{RoleInitial, RoleDone, RoleSnooze, RoleLaunch, RoleFollowUp, RoleBackup}
}

// Variant selects the per-platform follow-up offset.
type Variant int

const (
	VariantAlarmClock Variant = iota
	VariantAlarmObject
)

const (
	offsetDone              = 10_000
	offsetSnooze            = 20_000
	offsetLaunch            = 100_000
	offsetFollowUpClock     = 1_000_000
	offsetFollowUpAlarmKit  = 2_000_000
	offsetBackup            = 3_000_000
	alarmTableOffsetCeiling = 4_000_000
)

type Namespace struct {
	Variant Variant
}

func New(v Variant) Namespace {
	return Namespace{Variant: v}
}

func (n Namespace) offset(role Role) int64 {
	switch role {
	case RoleDone:
		return offsetDone
	case RoleSnooze:
		return offsetSnooze
	case RoleLaunch:
		return offsetLaunch
	case RoleFollowUp:
		if n.Variant == VariantAlarmObject {
			return offsetFollowUpAlarmKit
		}
		return offsetFollowUpClock
	case RoleBackup:
		return offsetBackup
	default:
		return 0
	}
}

// ID returns the host id for a reminder's role.
func (n Namespace) ID(reminderID int64, role Role) int32 {
	return int32(reminderID + n.offset(role))
}

func (n Namespace) Initial(reminderID int64) int32  { return n.ID(reminderID, RoleInitial) }
func (n Namespace) FollowUp(reminderID int64) int32 { return n.ID(reminderID, RoleFollowUp) }
func (n Namespace) Backup(reminderID int64) int32   { return n.ID(reminderID, RoleBackup) }

// Decode maps an alarm-table id (initial, follow-up or backup) back to its
// reminder. Ids in the action-target ranges decode as initial ids of larger
// reminders; the alarm table never holds action targets.
func (n Namespace) Decode(id int32) (int64, Role, bool) {
	v := int64(id)
	if v <= 0 || v >= alarmTableOffsetCeiling {
		return 0, 0, false
	}
	for _, role := range []Role{RoleBackup, RoleFollowUp} {
		off := n.offset(role)
		if v > off && v-off <= MaxReminderID {
			return v - off, role, true
		}
	}
	if v <= MaxReminderID {
		return v, RoleInitial, true
	}
	return 0, 0, false
}

type Entry struct {
	Role Role
	ID   int32
}

// Table lists every role id for one reminder.
func (n Namespace) Table(reminderID int64) []Entry {
	out := make([]Entry, 0, len(Roles()))
	for _, role := range Roles() {
		out = append(out, Entry{Role: role, ID: n.ID(reminderID, role)})
	}
	return out
}

// Resolve maps an alarm-table id, for either variant, back to its reminder.
// The alarm-table ranges do not overlap, so no variant is needed. Action
// targets are resolved with RoleOf instead.
func Resolve(id int32) (int64, Role, bool) {
	v := int64(id)
	ranges := []struct {
		role Role
		off  int64
	}{
		{RoleBackup, offsetBackup},
		{RoleFollowUp, offsetFollowUpAlarmKit},
		{RoleFollowUp, offsetFollowUpClock},
		{RoleInitial, 0},
	}
	for _, r := range ranges {
		if v > r.off && v-r.off <= MaxReminderID {
			return v - r.off, r.role, true
		}
	}
	return 0, 0, false
}

// RoleOf reports which role id plays for reminderID, in either variant.
func RoleOf(id int32, reminderID int64) (Role, bool) {
	if reminderID <= 0 || reminderID > MaxReminderID {
		return 0, false
	}
	switch int64(id) - reminderID {
	case 0:
		return RoleInitial, true
	case offsetDone:
		return RoleDone, true
	case offsetSnooze:
		return RoleSnooze, true
	case offsetLaunch:
		return RoleLaunch, true
	case offsetFollowUpClock, offsetFollowUpAlarmKit:
		return RoleFollowUp, true
	case offsetBackup:
		return RoleBackup, true
	default:
		return 0, false
	}
}
