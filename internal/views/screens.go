package views

import (
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/sandeepkv93/remindd/internal/delivery"
)

// Decision is what the user chose on the alarm screen. Action is one of the
// delivery action names, or "tap" when the screen was dismissed.
type Decision struct {
	AlarmID    int32
	ReminderID int64
	TaskText   string
	FollowUp   bool
	Action     string
}

const ActionTap = "tap"

type keyMap struct {
	Done     key.Binding
	Snooze   key.Binding
	Confirm  key.Binding
	Decline  key.Binding
	Dismiss  key.Binding
	followUp bool
}

func newKeyMap(followUp bool) keyMap {
	return keyMap{
		Done:     key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "done")),
		Snooze:   key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "snooze")),
		Confirm:  key.NewBinding(key.WithKeys("y"), key.WithHelp("y", "yes, finished")),
		Decline:  key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "not yet")),
		Dismiss:  key.NewBinding(key.WithKeys("enter", "esc", "ctrl+c"), key.WithHelp("enter", "dismiss")),
		followUp: followUp,
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	if k.followUp {
		return []key.Binding{k.Confirm, k.Decline, k.Dismiss}
	}
	return []key.Binding{k.Done, k.Snooze, k.Dismiss}
}

func (k keyMap) FullHelp() [][]key.Binding { return [][]key.Binding{k.ShortHelp()} }

type tickMsg time.Time

// AlarmScreen is the full-screen alarm. It reports exactly one Decision and
// quits.
type AlarmScreen struct {
	alert   delivery.Alert
	keys    keyMap
	help    help.Model
	started time.Time
	now     time.Time
	width   int
	decided bool
	sink    chan<- Decision
}

func NewAlarmScreen(a delivery.Alert, sink chan<- Decision) AlarmScreen {
	now := time.Now()
	return AlarmScreen{
		alert:   a,
		keys:    newKeyMap(a.IsFollowUp),
		help:    help.New(),
		started: now,
		now:     now,
		sink:    sink,
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m AlarmScreen) Init() tea.Cmd {
	return tick()
}

func (m AlarmScreen) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil
	case tickMsg:
		m.now = time.Time(msg)
		return m, tick()
	case tea.KeyMsg:
		action := m.actionFor(msg)
		if action == "" {
			return m, nil
		}
		return m.decide(action)
	}
	return m, nil
}

func (m AlarmScreen) actionFor(msg tea.KeyMsg) string {
	switch {
	case key.Matches(msg, m.keys.Dismiss):
		return ActionTap
	case m.alert.IsFollowUp && key.Matches(msg, m.keys.Confirm):
		return delivery.ActionConfirm
	case m.alert.IsFollowUp && key.Matches(msg, m.keys.Decline):
		return delivery.ActionDecline
	case !m.alert.IsFollowUp && key.Matches(msg, m.keys.Done):
		return delivery.ActionDone
	case !m.alert.IsFollowUp && key.Matches(msg, m.keys.Snooze):
		return delivery.ActionSnooze
	default:
		return ""
	}
}

func (m AlarmScreen) decide(action string) (tea.Model, tea.Cmd) {
	if m.decided {
		return m, tea.Quit
	}
	m.decided = true
	if m.sink != nil {
		d := Decision{
			AlarmID:    m.alert.ID,
			ReminderID: m.alert.ReminderID,
			TaskText:   m.alert.TaskText,
			FollowUp:   m.alert.IsFollowUp,
			Action:     action,
		}
		select {
		case m.sink <- d:
		default:
		}
	}
	return m, tea.Quit
}

func (m AlarmScreen) View() string {
	return RenderAlarm(AlarmData{
		Title:      m.alert.Title,
		TaskText:   m.alert.TaskText,
		ReminderID: m.alert.ReminderID,
		Elapsed:    m.now.Sub(m.started),
		FollowUp:   m.alert.IsFollowUp,
		Help:       m.help.View(m.keys),
		Width:      m.width,
	})
}
