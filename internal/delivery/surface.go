// Package delivery rings alarms and shows follow-up prompts. The Surface is a
// small state machine: Idle, Ringing, then one of Stopped, Snoozed or
// TimedOut. Every resource taken for a ring is released exactly once.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sandeepkv93/remindd/internal/ids"
)

var (
	ErrAlreadyRinging    = errors.New("delivery: alarm already ringing")
	ErrNotRinging        = errors.New("delivery: alarm not ringing")
	ErrInvalidTransition = errors.New("delivery: invalid state transition")
	ErrClosed            = errors.New("delivery: surface closed")
)

const (
	DefaultRingCeiling     = 30 * time.Second
	DefaultWakeLockCeiling = 60 * time.Second
)

// DefaultVibration alternates off and on durations and repeats.
var DefaultVibration = []time.Duration{0, 1000 * time.Millisecond, 500 * time.Millisecond, 1000 * time.Millisecond}

type State string

const (
	StateIdle     State = "idle"
	StateRinging  State = "ringing"
	StateStopped  State = "stopped"
	StateSnoozed  State = "snoozed"
	StateTimedOut State = "timed_out"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateSnoozed || s == StateTimedOut
}

// Alert is what the surface shows for one fire.
type Alert struct {
	ID         int32
	ReminderID int64
	Title      string
	Body       string
	TaskText   string
	IsFollowUp bool
}

// Action buttons attached to an indicator.
const (
	ActionDone    = "done"
	ActionSnooze  = "snooze"
	ActionConfirm = "confirm"
	ActionDecline = "decline"
)

// Notice is a persistent indicator entry.
type Notice struct {
	ID         int32
	ReminderID int64
	Title      string
	Body       string
	Actions    []string
	Persistent bool
}

type Presenter interface {
	Present(ctx context.Context, a Alert) (dismiss func(), err error)
}

type Sounder interface {
	PlayLoop(ctx context.Context, a Alert) (stop func(), err error)
}

type Vibrator interface {
	Vibrate(ctx context.Context, pattern []time.Duration) (stop func(), err error)
}

type Indicator interface {
	Show(n Notice) error
	Remove(id int32)
}

type Lease interface {
	Release()
}

type WakeLock interface {
	Acquire(tag string, ceiling time.Duration) (Lease, error)
}

type FullScreenChecker interface {
	CanShowFullScreen() bool
}

// Observer receives delivery transitions.
type Observer interface {
	ObserveAlarmState(state string)
}

// Outputs groups the device surfaces. Any of them may be nil.
type Outputs struct {
	Presenter Presenter
	Sounder   Sounder
	Vibrator  Vibrator
	Indicator Indicator
	WakeLock  WakeLock
}

type Config struct {
	RingCeiling     time.Duration
	WakeLockCeiling time.Duration
	Vibration       []time.Duration
	// Namespace maps backup-notification fires onto their initial alarm id.
	Namespace ids.Namespace
}

func (c Config) withDefaults() Config {
	if c.RingCeiling <= 0 {
		c.RingCeiling = DefaultRingCeiling
	}
	if c.WakeLockCeiling <= 0 {
		c.WakeLockCeiling = DefaultWakeLockCeiling
	}
	if len(c.Vibration) == 0 {
		c.Vibration = DefaultVibration
	}
	return c
}

type Option func(*Surface)

func WithLogger(l *zap.Logger) Option {
	return func(s *Surface) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(s *Surface) { s.observer = o }
}

func WithClock(now func() time.Time) Option {
	return func(s *Surface) {
		if now != nil {
			s.now = now
		}
	}
}

type Surface struct {
	out      Outputs
	gate     FullScreenChecker
	cfg      Config
	logger   *zap.Logger
	observer Observer
	now      func() time.Time

	mu     sync.Mutex
	active *Handle
	closed bool
}

func NewSurface(out Outputs, gate FullScreenChecker, cfg Config, opts ...Option) *Surface {
	s := &Surface{
		out:    out,
		gate:   gate,
		cfg:    cfg.withDefaults(),
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle owns the resources of one ring.
type Handle struct {
	Alert     Alert
	StartedAt time.Time

	mu    sync.Mutex
	state State
	timer *time.Timer
	stops []func()
	done  chan struct{}
}

func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Done is closed once the ring reaches a terminal state.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

func (s *Surface) initialID(id int32) int32 {
	rid, role, ok := s.cfg.Namespace.Decode(id)
	if ok && role == ids.RoleBackup {
		return s.cfg.Namespace.Initial(rid)
	}
	return id
}

// Start rings a. A fire for the id already ringing is refused; any other
// ringing alarm is forced to Stopped first.
func (s *Surface) Start(ctx context.Context, a Alert) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.ID = s.initialID(a.ID)
	log := s.logger.With(zap.Int32("alarm_id", a.ID), zap.Int64("reminder_id", a.ReminderID))

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	prev := s.active
	if prev != nil && prev.Alert.ID == a.ID && prev.State() == StateRinging {
		s.mu.Unlock()
		log.Debug("duplicate fire ignored")
		return nil, fmt.Errorf("%w: %d", ErrAlreadyRinging, a.ID)
	}
	h := &Handle{
		Alert:     a,
		StartedAt: s.now(),
		state:     StateRinging,
		done:      make(chan struct{}),
	}
	s.active = h
	s.mu.Unlock()

	if prev != nil {
		if s.finish(prev, StateStopped) {
			log.Info("previous alarm stopped by new fire", zap.Int32("previous_id", prev.Alert.ID))
		}
	}

	if s.out.WakeLock != nil {
		lease, err := s.out.WakeLock.Acquire(fmt.Sprintf("alarm:%d", a.ID), s.cfg.WakeLockCeiling)
		if err != nil {
			log.Warn("wake lease unavailable", zap.Error(err))
		} else {
			h.track(lease.Release)
		}
	}

	if s.out.Presenter != nil && (s.gate == nil || s.gate.CanShowFullScreen()) {
		if dismiss, err := s.out.Presenter.Present(ctx, a); err != nil {
			log.Warn("full-screen presentation failed", zap.Error(err))
		} else if dismiss != nil {
			h.track(dismiss)
		}
	}
	if s.out.Sounder != nil {
		if stop, err := s.out.Sounder.PlayLoop(ctx, a); err != nil {
			log.Warn("alarm sound failed", zap.Error(err))
		} else if stop != nil {
			h.track(stop)
		}
	}
	if s.out.Vibrator != nil {
		if stop, err := s.out.Vibrator.Vibrate(ctx, s.cfg.Vibration); err != nil {
			log.Warn("vibration failed", zap.Error(err))
		} else if stop != nil {
			h.track(stop)
		}
	}
	if s.out.Indicator != nil {
		err := s.out.Indicator.Show(Notice{
			ID:         a.ID,
			ReminderID: a.ReminderID,
			Title:      a.Title,
			Body:       a.Body,
			Actions:    []string{ActionDone, ActionSnooze},
			Persistent: true,
		})
		if err != nil {
			log.Warn("indicator failed", zap.Error(err))
		}
	}

	h.mu.Lock()
	if h.state == StateRinging {
		h.timer = time.AfterFunc(s.cfg.RingCeiling, func() {
			if s.finish(h, StateTimedOut) {
				log.Info("alarm timed out")
			}
		})
	}
	h.mu.Unlock()

	s.observe(StateRinging)
	log.Info("alarm ringing")
	return h, nil
}

// Stop ends h as Stopped or Snoozed. Only the action router calls it.
func (s *Surface) Stop(h *Handle, state State) error {
	if state != StateStopped && state != StateSnoozed {
		return fmt.Errorf("%w: %s", ErrInvalidTransition, state)
	}
	if h == nil || !s.finish(h, state) {
		return ErrNotRinging
	}
	return nil
}

// StopAlarm stops the ringing alarm with id, mapping backup ids first. It
// reports whether an alarm was stopped.
func (s *Surface) StopAlarm(id int32, state State) bool {
	id = s.initialID(id)
	s.mu.Lock()
	h := s.active
	s.mu.Unlock()
	if h == nil || h.Alert.ID != id {
		return false
	}
	return s.Stop(h, state) == nil
}

// Active returns the ringing handle, if any.
func (s *Surface) Active() (*Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil || s.active.State() != StateRinging {
		return nil, false
	}
	return s.active, true
}

// Dismiss removes the indicator for id; the router calls it after done and
// snooze so a timed-out alert does not linger.
func (s *Surface) Dismiss(id int32) {
	if s.out.Indicator != nil {
		s.out.Indicator.Remove(s.initialID(id))
	}
}

// Prompt shows a follow-up prompt: an indicator with confirm and decline and
// no sound loop.
func (s *Surface) Prompt(ctx context.Context, a Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if s.out.Indicator == nil {
		s.logger.Warn("no indicator for follow-up prompt", zap.Int32("prompt_id", a.ID))
		return nil
	}
	return s.out.Indicator.Show(Notice{
		ID:         a.ID,
		ReminderID: a.ReminderID,
		Title:      a.Title,
		Body:       a.Body,
		Actions:    []string{ActionConfirm, ActionDecline},
		Persistent: true,
	})
}

func (s *Surface) Close() {
	s.mu.Lock()
	s.closed = true
	h := s.active
	s.mu.Unlock()
	if h != nil {
		s.finish(h, StateStopped)
	}
}

// finish moves h from Ringing to state and reports whether it did.
func (s *Surface) finish(h *Handle, state State) bool {
	h.mu.Lock()
	if h.state != StateRinging {
		h.mu.Unlock()
		return false
	}
	h.state = state
	if h.timer != nil {
		h.timer.Stop()
	}
	stops := h.stops
	h.stops = nil
	h.mu.Unlock()

	for i := len(stops) - 1; i >= 0; i-- {
		stops[i]()
	}
	if state != StateTimedOut && s.out.Indicator != nil {
		s.out.Indicator.Remove(h.Alert.ID)
	}
	close(h.done)

	s.mu.Lock()
	if s.active == h {
		s.active = nil
	}
	s.mu.Unlock()
	s.observe(state)
	return true
}

// track registers a release func. A handle that already left Ringing
// releases it at once.
func (h *Handle) track(release func()) {
	h.mu.Lock()
	if h.state == StateRinging {
		h.stops = append(h.stops, release)
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()
	release()
}

func (s *Surface) observe(state State) {
	if s.observer != nil {
		s.observer.ObserveAlarmState(string(state))
	}
}
