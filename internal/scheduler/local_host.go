package scheduler

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// LocalHost serves both host contracts from an in-process Engine. Exact
// primitives are refused while the gatekeeper denies exact scheduling.
type LocalHost struct {
	engine *Engine
	gate   ExactChecker
	now    func() time.Time
	logger *zap.Logger

	mu      sync.Mutex
	objects map[int32]AlarmObject
}

func NewLocalHost(engine *Engine, gate ExactChecker, now func() time.Time, logger *zap.Logger) *LocalHost {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalHost{
		engine:  engine,
		gate:    gate,
		now:     now,
		logger:  logger,
		objects: make(map[int32]AlarmObject),
	}
}

func (h *LocalHost) exactAllowed() bool {
	return h.gate == nil || h.gate.CanScheduleExact()
}

func (h *LocalHost) SetAlarmClock(e Entry, showID int32) error {
	if !h.exactAllowed() {
		return ErrExactDenied
	}
	e.Kind = KindAlarmClock
	meta := make(map[string]string, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		meta[k] = v
	}
	meta["show_id"] = fmt.Sprint(showID)
	e.Metadata = meta
	return h.arm(e)
}

func (h *LocalHost) SetAndAllowWhileIdle(e Entry) error {
	e.Kind = KindAllowWhileIdle
	return h.arm(e)
}

func (h *LocalHost) Notify(e Entry) error {
	e.Kind = KindNotification
	return h.arm(e)
}

func (h *LocalHost) ScheduleAlarm(obj AlarmObject) error {
	if !h.exactAllowed() {
		return ErrExactDenied
	}
	obj.Kind = KindAlarmObject
	if err := h.arm(obj.Entry); err != nil {
		return err
	}
	h.mu.Lock()
	h.objects[obj.ID] = obj
	h.mu.Unlock()
	return nil
}

func (h *LocalHost) ScheduleNotification(e Entry) error {
	return h.Notify(e)
}

// Snooze re-arms a known alarm object after its own countdown.
func (h *LocalHost) Snooze(id int32) error {
	h.mu.Lock()
	obj, ok := h.objects[id]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownAlarm, id)
	}
	obj.TriggerAt = h.now().UTC().Add(obj.SnoozeFor)
	h.logger.Debug("host snooze", zap.Int32("id", id), zap.Duration("countdown", obj.SnoozeFor))
	return h.arm(obj.Entry)
}

func (h *LocalHost) Cancel(id int32) {
	h.engine.Cancel(id)
	h.mu.Lock()
	delete(h.objects, id)
	h.mu.Unlock()
}

func (h *LocalHost) CancelAll() {
	n := h.engine.CancelAll()
	h.mu.Lock()
	h.objects = make(map[int32]AlarmObject)
	h.mu.Unlock()
	h.logger.Debug("host cancel all", zap.Int("removed", n))
}

// Pending exposes the alarm table for inspection.
func (h *LocalHost) Pending() []Entry {
	return h.engine.Pending()
}

func (h *LocalHost) arm(e Entry) error {
	return h.engine.Schedule(e)
}
