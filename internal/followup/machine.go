// Package followup runs the confirmation loop that starts when the user marks
// an alarm done: a prompt fires every delay until the user confirms.
package followup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sandeepkv93/remindd/internal/ids"
	"github.com/sandeepkv93/remindd/internal/model"
	"github.com/sandeepkv93/remindd/internal/scheduler"
)

var (
	ErrNotAwaiting = errors.New("followup: reminder is not awaiting confirmation")
	ErrStatusWrite = errors.New("followup: status write failed")
)

const (
	DefaultDelay     = 30 * time.Minute
	DefaultRearmLead = 10 * time.Second
)

type State = model.FollowUpState

const (
	StateNone      = model.FollowUpNone
	StateAwaiting  = model.FollowUpAwaiting
	StateConfirmed = model.FollowUpConfirmed
)

// StatusWriter is the reminder collaborator's write side.
type StatusWriter interface {
	SetStatus(ctx context.Context, reminderID int64, status model.Status) error
}

// Store persists follow-up state across restarts.
type Store interface {
	SaveFollowUp(ctx context.Context, rec model.FollowUpRecord) error
	DeleteFollowUp(ctx context.Context, reminderID int64) error
	ListFollowUps(ctx context.Context) ([]model.FollowUpRecord, error)
}

type Observer interface {
	ObserveFollowUp(event string)
}

type Option func(*Machine)

func WithDelay(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.delay = d
		}
	}
}

// WithRearmLead sets how far ahead a prompt whose due time already passed is
// re-armed after reconciliation.
func WithRearmLead(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.rearmLead = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

func WithStore(s Store) Option {
	return func(m *Machine) { m.store = s }
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Machine) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(m *Machine) { m.observer = o }
}

type entry struct {
	state      State
	taskText   string
	dueAt      time.Time
	declines   int
	confirming bool
}

// Machine is the only component that schedules follow-up prompts.
type Machine struct {
	adapter   scheduler.Adapter
	ns        ids.Namespace
	writer    StatusWriter
	store     Store
	delay     time.Duration
	rearmLead time.Duration
	now       func() time.Time
	logger    *zap.Logger
	observer  Observer

	mu      sync.Mutex
	entries map[int64]*entry
}

func NewMachine(adapter scheduler.Adapter, ns ids.Namespace, writer StatusWriter, opts ...Option) *Machine {
	m := &Machine{
		adapter:   adapter,
		ns:        ns,
		writer:    writer,
		delay:     DefaultDelay,
		rearmLead: DefaultRearmLead,
		now:       time.Now,
		logger:    zap.NewNop(),
		entries:   make(map[int64]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Machine) Delay() time.Duration { return m.delay }

// Start begins the loop for reminderID. An existing prompt is superseded by
// id, so at most one prompt per reminder is ever armed.
func (m *Machine) Start(ctx context.Context, reminderID int64, taskText string) (model.FollowUpPrompt, error) {
	due := m.now().UTC().Add(m.delay)
	prompt, err := m.arm(ctx, reminderID, taskText, due)
	if err != nil {
		return model.FollowUpPrompt{}, err
	}

	m.mu.Lock()
	e := &entry{state: StateAwaiting, taskText: taskText, dueAt: due}
	m.entries[reminderID] = e
	rec := e.record(reminderID, m.now())
	m.mu.Unlock()

	m.persist(ctx, rec)
	m.observe("started")
	m.logger.Info("follow-up started", zap.Int64("reminder_id", reminderID), zap.Time("due_at", due))
	return prompt, nil
}

// Decline re-arms the prompt one delay from now under the same id.
func (m *Machine) Decline(ctx context.Context, reminderID int64) (model.FollowUpPrompt, error) {
	prompt, err := m.again(ctx, reminderID)
	if err != nil {
		return model.FollowUpPrompt{}, err
	}
	m.mu.Lock()
	if e, ok := m.entries[reminderID]; ok {
		e.declines++
	}
	m.mu.Unlock()
	m.observe("declined")
	return prompt, nil
}

// Fired records that a prompt went off. The next prompt is armed right away
// so an ignored prompt keeps coming back.
func (m *Machine) Fired(ctx context.Context, reminderID int64) (model.FollowUpPrompt, error) {
	prompt, err := m.again(ctx, reminderID)
	if err != nil {
		return model.FollowUpPrompt{}, err
	}
	m.observe("fired")
	return prompt, nil
}

func (m *Machine) again(ctx context.Context, reminderID int64) (model.FollowUpPrompt, error) {
	m.mu.Lock()
	e, ok := m.entries[reminderID]
	if !ok || e.state != StateAwaiting {
		m.mu.Unlock()
		return model.FollowUpPrompt{}, fmt.Errorf("%w: %d", ErrNotAwaiting, reminderID)
	}
	text := e.taskText
	m.mu.Unlock()

	due := m.now().UTC().Add(m.delay)
	prompt, err := m.arm(ctx, reminderID, text, due)
	if err != nil {
		return model.FollowUpPrompt{}, err
	}

	m.mu.Lock()
	var rec model.FollowUpRecord
	if e, ok := m.entries[reminderID]; ok && e.state == StateAwaiting {
		e.dueAt = due
		rec = e.record(reminderID, m.now())
	}
	m.mu.Unlock()
	if rec.ReminderID != 0 {
		m.persist(ctx, rec)
	}
	return prompt, nil
}

// Confirm writes the done status exactly once and ends the loop. Confirming
// an already confirmed reminder is a no-op. When the write fails the prompt
// is re-armed and the reminder stays awaiting.
func (m *Machine) Confirm(ctx context.Context, reminderID int64) error {
	m.mu.Lock()
	e, ok := m.entries[reminderID]
	switch {
	case ok && (e.state == StateConfirmed || e.confirming):
		m.mu.Unlock()
		return nil
	case !ok || e.state != StateAwaiting:
		m.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNotAwaiting, reminderID)
	}
	e.confirming = true
	m.mu.Unlock()

	log := m.logger.With(zap.Int64("reminder_id", reminderID))
	if err := m.writer.SetStatus(ctx, reminderID, model.StatusDone); err != nil {
		m.mu.Lock()
		e.confirming = false
		m.mu.Unlock()
		log.Warn("status write failed, keeping follow-up", zap.Error(err))
		m.observe("confirm_failed")
		if _, rearmErr := m.again(ctx, reminderID); rearmErr != nil {
			log.Error("re-arming follow-up failed", zap.Error(rearmErr))
		}
		return fmt.Errorf("%w: %w", ErrStatusWrite, err)
	}

	if err := m.adapter.Cancel(ctx, m.ns.FollowUp(reminderID)); err != nil {
		log.Warn("cancel follow-up prompt failed", zap.Error(err))
	}
	m.mu.Lock()
	e.confirming = false
	e.state = StateConfirmed
	rec := e.record(reminderID, m.now())
	m.mu.Unlock()

	m.persist(ctx, rec)
	m.observe("confirmed")
	log.Info("reminder confirmed")
	return nil
}

func (m *Machine) State(reminderID int64) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[reminderID]; ok {
		return e.state
	}
	return StateNone
}

// Prompt returns the armed prompt for reminderID, if any.
func (m *Machine) Prompt(reminderID int64) (model.FollowUpPrompt, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[reminderID]
	if !ok || e.state != StateAwaiting {
		return model.FollowUpPrompt{}, false
	}
	return model.FollowUpPrompt{
		ID:         m.ns.FollowUp(reminderID),
		ReminderID: reminderID,
		DueAt:      e.dueAt,
		TaskText:   e.taskText,
	}, true
}

// Records lists the follow-up state of every tracked reminder.
func (m *Machine) Records() []model.FollowUpRecord {
	m.mu.Lock()
	now := m.now()
	out := make([]model.FollowUpRecord, 0, len(m.entries))
	for id, e := range m.entries {
		out = append(out, e.record(id, now))
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ReminderID < out[j].ReminderID })
	return out
}

// Reconcile runs after the alarm table was cleared. Prompts of reminders
// still pending are re-armed; state of reminders that disappeared or are no
// longer pending is swept.
func (m *Machine) Reconcile(ctx context.Context, pending []model.Reminder) (rearmed, swept int, err error) {
	live := make(map[int64]string, len(pending))
	for _, r := range pending {
		if r.Status == model.StatusPending {
			live[r.ID] = r.TaskText
		}
	}

	type rearm struct {
		id   int64
		text string
		due  time.Time
	}
	var toRearm []rearm
	var toSweep []int64

	m.mu.Lock()
	for id, e := range m.entries {
		text, ok := live[id]
		if !ok {
			toSweep = append(toSweep, id)
			continue
		}
		if e.state == StateAwaiting {
			if text == "" {
				text = e.taskText
			}
			toRearm = append(toRearm, rearm{id: id, text: text, due: e.dueAt})
		}
	}
	for _, id := range toSweep {
		delete(m.entries, id)
	}
	m.mu.Unlock()

	var errs []error
	for _, id := range toSweep {
		if cerr := m.adapter.Cancel(ctx, m.ns.FollowUp(id)); cerr != nil {
			errs = append(errs, cerr)
		}
		if m.store != nil {
			if derr := m.store.DeleteFollowUp(ctx, id); derr != nil {
				errs = append(errs, derr)
			}
		}
		m.observe("swept")
	}
	for _, r := range toRearm {
		due := r.due
		if floor := m.now().UTC().Add(m.rearmLead); due.Before(floor) {
			due = floor
		}
		if _, aerr := m.arm(ctx, r.id, r.text, due); aerr != nil {
			errs = append(errs, aerr)
			continue
		}
		m.mu.Lock()
		if e, ok := m.entries[r.id]; ok {
			e.dueAt = due
			e.taskText = r.text
		}
		m.mu.Unlock()
		rearmed++
		m.observe("rearmed")
	}
	if len(toSweep) > 0 || rearmed > 0 {
		m.logger.Info("follow-ups reconciled", zap.Int("rearmed", rearmed), zap.Int("swept", len(toSweep)))
	}
	return rearmed, len(toSweep), errors.Join(errs...)
}

// Restore loads persisted state and re-arms awaiting prompts.
func (m *Machine) Restore(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	recs, err := m.store.ListFollowUps(ctx)
	if err != nil {
		return 0, fmt.Errorf("followup: restore: %w", err)
	}
	restored := 0
	var errs []error
	for _, rec := range recs {
		if rec.State != StateAwaiting && rec.State != StateConfirmed {
			continue
		}
		e := &entry{state: rec.State, taskText: rec.TaskText, dueAt: rec.DueAt.UTC(), declines: rec.Declines}
		if rec.State == StateAwaiting {
			due := e.dueAt
			if floor := m.now().UTC().Add(m.rearmLead); due.Before(floor) {
				due = floor
			}
			if _, err := m.arm(ctx, rec.ReminderID, rec.TaskText, due); err != nil {
				errs = append(errs, err)
			}
			e.dueAt = due
		}
		m.mu.Lock()
		m.entries[rec.ReminderID] = e
		m.mu.Unlock()
		restored++
	}
	m.logger.Info("follow-ups restored", zap.Int("count", restored))
	return restored, errors.Join(errs...)
}

func (m *Machine) arm(ctx context.Context, reminderID int64, taskText string, due time.Time) (model.FollowUpPrompt, error) {
	prompt := model.FollowUpPrompt{
		ID:         m.ns.FollowUp(reminderID),
		ReminderID: reminderID,
		DueAt:      due,
		TaskText:   taskText,
	}
	_, err := m.adapter.Schedule(ctx, scheduler.Request{
		ID:        prompt.ID,
		TriggerAt: due,
		Payload:   model.FollowUpPayload(reminderID, taskText),
	})
	if err != nil {
		return model.FollowUpPrompt{}, fmt.Errorf("followup: arm prompt %d: %w", prompt.ID, err)
	}
	return prompt, nil
}

func (m *Machine) persist(ctx context.Context, rec model.FollowUpRecord) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveFollowUp(ctx, rec); err != nil {
		m.logger.Warn("persist follow-up failed", zap.Int64("reminder_id", rec.ReminderID), zap.Error(err))
	}
}

func (m *Machine) observe(event string) {
	if m.observer != nil {
		m.observer.ObserveFollowUp(event)
	}
}

func (e *entry) record(reminderID int64, now time.Time) model.FollowUpRecord {
	return model.FollowUpRecord{
		ReminderID: reminderID,
		TaskText:   e.taskText,
		State:      e.state,
		DueAt:      e.dueAt,
		Declines:   e.declines,
		UpdatedAt:  now.UTC(),
	}
}
