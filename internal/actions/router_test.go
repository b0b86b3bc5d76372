package actions

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sandeepkv93/remindd/internal/delivery"
	"github.com/sandeepkv93/remindd/internal/followup"
	"github.com/sandeepkv93/remindd/internal/ids"
	"github.com/sandeepkv93/remindd/internal/model"
	"github.com/sandeepkv93/remindd/internal/scheduler"
	"github.com/sandeepkv93/remindd/internal/snooze"
)

type statusWriter struct {
	mu    sync.Mutex
	calls []int64
}

func (w *statusWriter) SetStatus(_ context.Context, id int64, _ model.Status) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, id)
	return nil
}

type surface struct {
	stopped   map[int32]delivery.State
	dismissed []int32
}

func (s *surface) StopAlarm(id int32, state delivery.State) bool {
	s.stopped[id] = state
	return true
}

func (s *surface) Dismiss(id int32) { s.dismissed = append(s.dismissed, id) }

type harness struct {
	now     time.Time
	engine  *scheduler.Engine
	machine *followup.Machine
	writer  *statusWriter
	surface *surface
	lock    *delivery.LeaseLock
	snoozes *snooze.Ledger
	texts   map[int64]string
	router  *Router
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{now: time.Date(2026, 1, 17, 12, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return h.now }
	h.engine = scheduler.NewEngine(8)
	host := scheduler.NewLocalHost(h.engine, nil, clock, nil)
	ns := ids.New(ids.VariantAlarmClock)
	adapter := scheduler.NewAlarmClockAdapter(host, nil, ns, scheduler.Options{Now: clock})
	h.writer = &statusWriter{}
	h.machine = followup.NewMachine(adapter, ns, h.writer, followup.WithClock(clock))
	h.surface = &surface{stopped: make(map[int32]delivery.State)}
	h.lock = delivery.NewLeaseLock(nil)
	h.snoozes = snooze.NewLedger(snooze.WithClock(clock))
	h.texts = map[int64]string{42: "water plants"}
	h.router = NewRouter(RouterConfig{
		Adapter:   adapter,
		Surface:   h.surface,
		FollowUps: h.machine,
		Snoozes:   h.snoozes,
		Texts: TaskTextFunc(func(_ context.Context, id int64) (string, bool) {
			text, ok := h.texts[id]
			return text, ok
		}),
		Namespace: ns,
		WakeLock:  h.lock,
		Now:       clock,
	})
	return h
}

func TestSnoozeNeverCreatesFollowUp(t *testing.T) {
	h := newHarness(t)
	res, err := h.router.Handle(context.Background(), Message{ActionID: "snooze", NotificationID: 42, Extra: Extra{ReminderID: 42}})
	if err != nil {
		t.Fatalf("snooze: %v", err)
	}
	if res.Outcome != scheduler.OutcomeAlarmClock {
		t.Fatalf("unexpected outcome %s", res.Outcome)
	}
	pending := h.engine.Pending()
	if len(pending) != 1 || pending[0].ID != 42 {
		t.Fatalf("expected one alarm at id 42, got %+v", pending)
	}
	if !pending[0].TriggerAt.Equal(h.now.Add(10 * time.Minute)) {
		t.Fatalf("snoozed alarm at %s", pending[0].TriggerAt)
	}
	if h.machine.State(42) != followup.StateNone {
		t.Fatal("snooze must not start a follow-up")
	}
	if h.surface.stopped[42] != delivery.StateSnoozed {
		t.Fatalf("expected surface snoozed, got %q", h.surface.stopped[42])
	}
	if h.lock.Held() != 0 {
		t.Fatal("expected lease released")
	}
}

func TestDoneStartsExactlyOneFollowUp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := h.router.Handle(ctx, Message{ActionID: "done", NotificationID: 42}); err != nil {
			t.Fatalf("done: %v", err)
		}
	}
	pending := h.engine.Pending()
	if len(pending) != 1 || pending[0].ID != 1_000_042 {
		t.Fatalf("expected one follow-up prompt, got %+v", pending)
	}
	if !pending[0].TriggerAt.Equal(h.now.Add(30 * time.Minute)) {
		t.Fatalf("prompt at %s", pending[0].TriggerAt)
	}
	if h.surface.stopped[42] != delivery.StateStopped {
		t.Fatal("expected surface stopped")
	}
}

func TestConfirmEndsLoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.router.Handle(ctx, Message{ActionID: "done", NotificationID: 42}); err != nil {
		t.Fatalf("done: %v", err)
	}
	for i := 0; i < 3; i++ {
		h.now = h.now.Add(30 * time.Minute)
		if _, err := h.router.Handle(ctx, Message{ActionID: "tap", NotificationID: 1_000_042}); err != nil {
			t.Fatalf("decline %d: %v", i, err)
		}
		if h.engine.Len() != 1 {
			t.Fatalf("decline %d: expected a single prompt, got %+v", i, h.engine.Pending())
		}
	}
	for i := 0; i < 2; i++ {
		if _, err := h.router.Handle(ctx, Message{ActionID: "reminder_yes", NotificationID: 1_000_042}); err != nil {
			t.Fatalf("confirm: %v", err)
		}
	}
	if len(h.writer.calls) != 1 || h.writer.calls[0] != 42 {
		t.Fatalf("expected one status write for 42, got %v", h.writer.calls)
	}
	if h.engine.Len() != 0 {
		t.Fatalf("expected no prompts after confirm, got %+v", h.engine.Pending())
	}
}

func TestSnoozeRecordsDeadlineAndKeepsTaskText(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.router.Handle(ctx, Message{ActionID: "tap", NotificationID: 42}); err != nil {
		t.Fatalf("tap: %v", err)
	}
	entry, ok := h.engine.Get(42)
	if !ok || entry.Payload.TaskText != "water plants" || entry.Payload.Body != "water plants" {
		t.Fatalf("expected the stored task text on the snoozed alarm, got %+v ok=%v", entry.Payload, ok)
	}
	rec, ok := h.snoozes.Get(42)
	if !ok || !rec.Until.Equal(h.now.Add(10*time.Minute)) || rec.TaskText != "water plants" {
		t.Fatalf("expected snooze recorded, got %+v ok=%v", rec, ok)
	}

	if _, err := h.router.Handle(ctx, Message{ActionID: "done", NotificationID: 42}); err != nil {
		t.Fatalf("done: %v", err)
	}
	if _, ok := h.snoozes.Get(42); ok {
		t.Fatal("done must clear the snooze")
	}
	prompt, ok := h.machine.Prompt(42)
	if !ok || prompt.TaskText != "water plants" {
		t.Fatalf("expected follow-up to carry the stored text, got %+v ok=%v", prompt, ok)
	}
}

func TestSnoozePrefersMessageText(t *testing.T) {
	h := newHarness(t)
	if _, err := h.router.Handle(context.Background(), Message{ActionID: "snooze", NotificationID: 42, Extra: Extra{TaskText: "repot fern"}}); err != nil {
		t.Fatalf("snooze: %v", err)
	}
	entry, ok := h.engine.Get(42)
	if !ok || entry.Payload.TaskText != "repot fern" {
		t.Fatalf("unexpected payload %+v ok=%v", entry.Payload, ok)
	}
}

func TestRunReleasesLeaseOnFailure(t *testing.T) {
	h := newHarness(t)
	in := make(chan Message, 2)
	in <- Message{ActionID: "confirm", NotificationID: 1_000_005}
	in <- Message{ActionID: "bogus", NotificationID: 5}
	close(in)
	if err := h.router.Run(context.Background(), in); err != nil {
		t.Fatalf("run: %v", err)
	}
	if h.lock.Held() != 0 {
		t.Fatalf("expected all leases released, held=%d", h.lock.Held())
	}
}
