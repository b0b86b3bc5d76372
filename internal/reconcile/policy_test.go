package reconcile

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/sandeepkv93/remindd/internal/actions"
	"github.com/sandeepkv93/remindd/internal/delivery"
	"github.com/sandeepkv93/remindd/internal/followup"
	"github.com/sandeepkv93/remindd/internal/ids"
	"github.com/sandeepkv93/remindd/internal/model"
	"github.com/sandeepkv93/remindd/internal/scheduler"
	"github.com/sandeepkv93/remindd/internal/snooze"
)

type writer struct {
	mu    sync.Mutex
	calls []string
}

func (w *writer) SetStatus(_ context.Context, id int64, status model.Status) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, fmt.Sprintf("%d:%s", id, status))
	return nil
}

func (w *writer) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.calls)
}

type sliceSource struct {
	reminders []model.Reminder
	err       error
}

func (s sliceSource) ListReminders(context.Context) ([]model.Reminder, error) {
	return s.reminders, s.err
}

type world struct {
	mu      sync.Mutex
	now     time.Time
	engine  *scheduler.Engine
	adapter scheduler.Adapter
	machine *followup.Machine
	snoozes *snooze.Ledger
	writer  *writer
	policy  *Policy
	ns      ids.Namespace
}

func (w *world) Now() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.now
}

func (w *world) set(t time.Time) {
	w.mu.Lock()
	w.now = t
	w.mu.Unlock()
}

func newWorld(t *testing.T, now time.Time) *world {
	t.Helper()
	w := &world{now: now, ns: ids.New(ids.VariantAlarmClock)}
	w.engine = scheduler.NewEngine(8)
	host := scheduler.NewLocalHost(w.engine, nil, w.Now, nil)
	w.adapter = scheduler.NewAlarmClockAdapter(host, nil, w.ns, scheduler.Options{Now: w.Now})
	w.writer = &writer{}
	w.machine = followup.NewMachine(w.adapter, w.ns, w.writer, followup.WithClock(w.Now))
	w.snoozes = snooze.NewLedger(snooze.WithClock(w.Now))
	w.policy = NewPolicy(Config{Adapter: w.adapter, Namespace: w.ns, FollowUps: w.machine, Snoozes: w.snoozes, Now: w.Now})
	return w
}

func (w *world) router() *actions.Router {
	return actions.NewRouter(actions.RouterConfig{
		Adapter:   w.adapter,
		Surface:   nopSurface{},
		FollowUps: w.machine,
		Snoozes:   w.snoozes,
		Namespace: w.ns,
		Now:       w.Now,
	})
}

func at(s string) time.Time {
	t, err := model.ParseScheduledTime(s)
	if err != nil {
		panic(err)
	}
	return t
}

func pending(id int64, when string) model.Reminder {
	return model.Reminder{ID: id, TaskText: "task", ScheduledAt: at(when), Status: model.StatusPending}
}

func TestReconcileIsIdempotent(t *testing.T) {
	w := newWorld(t, at("2026-01-17 11:00:00"))
	list := []model.Reminder{
		pending(1, "2026-01-17 12:00:00"),
		pending(2, "2026-01-17 13:00:00"),
		pending(3, "2026-01-18 09:30:00"),
	}
	first, err := w.policy.Reconcile(context.Background(), list)
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	snapshot := w.engine.Pending()
	second, err := w.policy.Reconcile(context.Background(), list)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if !reflect.DeepEqual(snapshot, w.engine.Pending()) {
		t.Fatalf("alarm table changed between passes:\n%+v\n%+v", snapshot, w.engine.Pending())
	}
	if first.Scheduled != 3 || second.Scheduled != 3 || first.RunID == second.RunID {
		t.Fatalf("unexpected reports: %+v %+v", first, second)
	}
}

func TestReconcileLeadTimeGuard(t *testing.T) {
	w := newWorld(t, at("2026-01-17 11:59:57"))
	report, err := w.policy.Reconcile(context.Background(), []model.Reminder{pending(1, "2026-01-17 12:00:00")})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.SkippedStale != 1 || report.Scheduled != 0 || w.engine.Len() != 0 {
		t.Fatalf("expected no timer for a trigger 3s away: %+v table=%+v", report, w.engine.Pending())
	}
}

func TestReconcileFiltersStatusesAndInvalid(t *testing.T) {
	w := newWorld(t, at("2026-01-17 11:00:00"))
	done := pending(2, "2026-01-17 12:00:00")
	done.Status = model.StatusDone
	snoozed := pending(3, "2026-01-17 12:00:00")
	snoozed.Status = model.StatusSnoozed
	bad := pending(0, "2026-01-17 12:00:00")
	huge := pending(1_000_000, "2026-01-17 12:00:00")

	report, err := w.policy.Reconcile(context.Background(), []model.Reminder{pending(1, "2026-01-17 12:00:00"), done, snoozed, bad, huge})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.Scheduled != 1 || report.SkippedStatus != 2 || report.Rejected != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(report.Items) != 5 {
		t.Fatalf("expected an item per reminder, got %d", len(report.Items))
	}
}

func TestReconcileArmsFiveDigitReminderIDs(t *testing.T) {
	w := newWorld(t, at("2026-01-17 11:00:00"))
	report, err := w.policy.Reconcile(context.Background(), []model.Reminder{
		pending(12_345, "2026-01-17 12:00:00"),
		pending(20_042, "2026-01-17 12:30:00"),
		pending(42, "2026-01-17 13:00:00"),
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.Scheduled != 3 || report.Rejected != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	for _, id := range []int32{12_345, 20_042, 42} {
		if _, ok := w.engine.Get(id); !ok {
			t.Fatalf("expected alarm %d armed, table=%+v", id, w.engine.Pending())
		}
	}
}

func TestSnoozeSurvivesPeriodicReconcile(t *testing.T) {
	w := newWorld(t, at("2026-01-17 11:00:00"))
	ctx := context.Background()
	list := []model.Reminder{pending(42, "2026-01-17 12:00:00")}
	if _, err := w.policy.Reconcile(ctx, list); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	w.set(at("2026-01-17 12:00:00"))
	w.engine.Cancel(42)
	if _, err := w.router().Handle(ctx, actions.Message{ActionID: "snooze", NotificationID: 42}); err != nil {
		t.Fatalf("snooze: %v", err)
	}

	w.set(at("2026-01-17 12:05:00"))
	report, err := w.policy.Reconcile(ctx, list)
	if err != nil {
		t.Fatalf("reconcile after snooze: %v", err)
	}
	entry, ok := w.engine.Get(42)
	if !ok || !entry.TriggerAt.Equal(at("2026-01-17 12:10:00")) {
		t.Fatalf("expected 42 still armed at 12:10, got %+v ok=%v report=%+v", entry, ok, report)
	}
	if report.Scheduled != 1 || report.Snoozed != 1 || report.SkippedStale != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if w.engine.Len() != 1 {
		t.Fatalf("expected exactly one alarm, got %+v", w.engine.Pending())
	}

	// Once the snooze deadline has passed the record is swept.
	w.set(at("2026-01-17 12:10:30"))
	if _, err := w.policy.Reconcile(ctx, list); err != nil {
		t.Fatalf("reconcile after deadline: %v", err)
	}
	if _, ok := w.snoozes.Get(42); ok {
		t.Fatal("expected fired snooze swept")
	}
	if w.engine.Len() != 0 {
		t.Fatalf("expected no alarm after the snooze fired, got %+v", w.engine.Pending())
	}
}

func TestSnoozeOfFinishedReminderIsDropped(t *testing.T) {
	w := newWorld(t, at("2026-01-17 12:00:00"))
	ctx := context.Background()
	if _, err := w.router().Handle(ctx, actions.Message{ActionID: "snooze", NotificationID: 42}); err != nil {
		t.Fatalf("snooze: %v", err)
	}
	done := pending(42, "2026-01-17 12:00:00")
	done.Status = model.StatusDone
	if _, err := w.policy.Reconcile(ctx, []model.Reminder{done}); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if w.engine.Len() != 0 {
		t.Fatalf("expected no alarm for a finished reminder, got %+v", w.engine.Pending())
	}
	if _, ok := w.snoozes.Get(42); ok {
		t.Fatal("expected snooze record swept")
	}
}

func TestSnoozeDeadlineInsideLeadTimeIsPushedOut(t *testing.T) {
	w := newWorld(t, at("2026-01-17 12:00:00"))
	ctx := context.Background()
	if err := w.snoozes.Record(ctx, 42, at("2026-01-17 12:00:02"), "task"); err != nil {
		t.Fatalf("record: %v", err)
	}
	report, err := w.policy.Reconcile(ctx, []model.Reminder{pending(42, "2026-01-17 11:00:00")})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	entry, ok := w.engine.Get(42)
	if !ok || entry.TriggerAt.Before(at("2026-01-17 12:00:05")) {
		t.Fatalf("expected snooze re-armed past the lead time, got %+v ok=%v report=%+v", entry, ok, report)
	}
}

func TestSnoozeSurvivesAlarmObjectReconcile(t *testing.T) {
	w := newWorld(t, at("2026-01-17 11:00:00"))
	w.ns = ids.New(ids.VariantAlarmObject)
	host := scheduler.NewLocalHost(w.engine, nil, w.Now, nil)
	w.adapter = scheduler.NewAlarmObjectAdapter(host, w.ns, scheduler.Options{Now: w.Now, SnoozeCountdown: 10 * time.Minute})
	w.machine = followup.NewMachine(w.adapter, w.ns, w.writer, followup.WithClock(w.Now))
	w.policy = NewPolicy(Config{Adapter: w.adapter, Namespace: w.ns, FollowUps: w.machine, Snoozes: w.snoozes, Now: w.Now})
	ctx := context.Background()
	list := []model.Reminder{pending(42, "2026-01-17 12:00:00")}
	if _, err := w.policy.Reconcile(ctx, list); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	w.set(at("2026-01-17 12:00:00"))
	if _, err := w.router().Handle(ctx, actions.Message{ActionID: "snooze", NotificationID: 42}); err != nil {
		t.Fatalf("snooze: %v", err)
	}
	w.set(at("2026-01-17 12:05:00"))
	if _, err := w.policy.Reconcile(ctx, list); err != nil {
		t.Fatalf("reconcile after snooze: %v", err)
	}
	entry, ok := w.engine.Get(42)
	if !ok || !entry.TriggerAt.Equal(at("2026-01-17 12:10:00")) {
		t.Fatalf("expected 42 armed at 12:10, got %+v ok=%v", entry, ok)
	}
}

func TestReconcileSweepsFollowUpsOfDeletedReminders(t *testing.T) {
	w := newWorld(t, at("2026-01-17 11:00:00"))
	ctx := context.Background()
	if _, err := w.machine.Start(ctx, 5, "old task"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := w.machine.Start(ctx, 6, "kept task"); err != nil {
		t.Fatalf("start: %v", err)
	}

	report, err := w.policy.Reconcile(ctx, []model.Reminder{pending(6, "2026-01-17 10:00:00")})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.Swept != 1 || report.Rearmed != 1 {
		t.Fatalf("expected 1 swept and 1 rearmed, got %+v", report)
	}
	if _, ok := w.engine.Get(w.ns.FollowUp(5)); ok {
		t.Fatal("follow-up of a deleted reminder must not survive reconciliation")
	}
	if _, ok := w.engine.Get(w.ns.FollowUp(6)); !ok {
		t.Fatal("follow-up of a pending reminder must be re-armed")
	}
	if w.machine.State(5) != followup.StateNone {
		t.Fatal("expected state swept")
	}
}

func TestSyncSourceFailureLeavesTable(t *testing.T) {
	w := newWorld(t, at("2026-01-17 11:00:00"))
	ctx := context.Background()
	if _, err := w.policy.Sync(ctx, sliceSource{reminders: []model.Reminder{pending(1, "2026-01-17 12:00:00")}}); err != nil {
		t.Fatalf("sync: %v", err)
	}
	_, err := w.policy.Sync(ctx, sliceSource{err: errors.New("offline")})
	if !errors.Is(err, ErrSourceFailed) {
		t.Fatalf("expected ErrSourceFailed, got %v", err)
	}
	if w.engine.Len() != 1 {
		t.Fatalf("expected table untouched, got %+v", w.engine.Pending())
	}
}

func TestConcurrentPassesSerialize(t *testing.T) {
	w := newWorld(t, at("2026-01-17 11:00:00"))
	list := []model.Reminder{pending(1, "2026-01-17 12:00:00"), pending(2, "2026-01-17 12:30:00")}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := w.policy.Reconcile(context.Background(), list); err != nil {
				t.Errorf("reconcile: %v", err)
			}
		}()
	}
	wg.Wait()
	if w.engine.Len() != 2 {
		t.Fatalf("expected exactly two alarms, got %+v", w.engine.Pending())
	}
}

func TestEndToEndReminderSeven(t *testing.T) {
	w := newWorld(t, at("2026-01-17T11:00:00Z"))
	ctx := context.Background()
	surface := nopSurface{}
	router := actions.NewRouter(actions.RouterConfig{
		Adapter:   w.adapter,
		Surface:   surface,
		FollowUps: w.machine,
		Namespace: w.ns,
		Now:       w.Now,
	})

	reminder := model.Reminder{ID: 7, TaskText: "call the bank", Status: model.StatusPending}
	reminder.ScheduledAt = at("2026-01-17 12:00:00")
	if _, err := w.policy.Reconcile(ctx, []model.Reminder{reminder}); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	entry, ok := w.engine.Get(7)
	if !ok || !entry.TriggerAt.Equal(at("2026-01-17T12:00:00Z")) {
		t.Fatalf("expected id 7 at 12:00:00Z, got %+v ok=%v", entry, ok)
	}

	// The alarm fires and leaves the table.
	w.set(at("2026-01-17T12:00:00Z"))
	w.engine.Cancel(7)

	if _, err := router.Handle(ctx, actions.Message{ActionID: "done", NotificationID: 7, Extra: actions.Extra{ReminderID: 7, TaskText: "call the bank"}}); err != nil {
		t.Fatalf("done: %v", err)
	}
	entry, ok = w.engine.Get(1_000_007)
	if !ok || !entry.TriggerAt.Equal(at("2026-01-17T12:30:00Z")) {
		t.Fatalf("expected follow-up 1000007 at 12:30:00Z, got %+v ok=%v", entry, ok)
	}

	w.set(at("2026-01-17T12:30:05Z"))
	w.engine.Cancel(1_000_007)
	if _, err := router.Handle(ctx, actions.Message{ActionID: "decline", NotificationID: 1_000_007, Extra: actions.Extra{ReminderID: 7, IsFollowUp: true}}); err != nil {
		t.Fatalf("decline: %v", err)
	}
	entry, ok = w.engine.Get(1_000_007)
	if !ok || !entry.TriggerAt.Equal(at("2026-01-17T13:00:05Z")) {
		t.Fatalf("expected follow-up 1000007 at 13:00:05Z, got %+v ok=%v", entry, ok)
	}

	w.set(at("2026-01-17T13:00:10Z"))
	if _, err := router.Handle(ctx, actions.Message{ActionID: "confirm", NotificationID: 1_000_007, Extra: actions.Extra{ReminderID: 7, IsFollowUp: true}}); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if w.writer.count() != 1 || w.writer.calls[0] != "7:done" || w.machine.State(7) != followup.StateConfirmed {
		t.Fatalf("expected one status write, got %v", w.writer.calls)
	}
	if _, ok := w.engine.Get(1_000_007); ok {
		t.Fatal("expected follow-up 1000007 cancelled")
	}
}

type nopSurface struct{}

func (nopSurface) StopAlarm(int32, delivery.State) bool { return false }
func (nopSurface) Dismiss(int32)                         {}
