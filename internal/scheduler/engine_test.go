package scheduler

import (
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestEngineEmitsInTriggerOrder(t *testing.T) {
	engine := NewEngine(8)
	engine.Start()
	defer engine.Stop()

	now := time.Now().UTC()
	if err := engine.Schedule(Entry{ID: 2, TriggerAt: now.Add(80 * time.Millisecond)}); err != nil {
		t.Fatalf("schedule later: %v", err)
	}
	if err := engine.Schedule(Entry{ID: 1, TriggerAt: now.Add(20 * time.Millisecond)}); err != nil {
		t.Fatalf("schedule sooner: %v", err)
	}

	first := waitEntry(t, engine.C(), time.Second)
	second := waitEntry(t, engine.C(), time.Second)
	if first.ID != 1 || second.ID != 2 {
		t.Fatalf("unexpected order: first=%d second=%d", first.ID, second.ID)
	}
	if engine.Len() != 0 {
		t.Fatalf("expected fired entries to leave the table, got %d", engine.Len())
	}
}

func TestEngineScheduleReplacesSameID(t *testing.T) {
	engine := NewEngine(4)
	now := time.Now().UTC()

	for i := 1; i <= 5; i++ {
		if err := engine.Schedule(Entry{ID: 42, TriggerAt: now.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("schedule %d: %v", i, err)
		}
	}
	pending := engine.Pending()
	if len(pending) != 1 {
		t.Fatalf("expected one live entry for id 42, got %d", len(pending))
	}
	if !pending[0].TriggerAt.Equal(now.Add(5 * time.Minute)) {
		t.Fatalf("expected last schedule to win, got %s", pending[0].TriggerAt)
	}
}

func TestEngineCancelAndCancelAll(t *testing.T) {
	engine := NewEngine(4)
	now := time.Now().UTC()
	for _, id := range []int32{3, 1, 2} {
		if err := engine.Schedule(Entry{ID: id, TriggerAt: now.Add(time.Duration(id) * time.Hour)}); err != nil {
			t.Fatalf("schedule %d: %v", id, err)
		}
	}

	if !engine.Cancel(2) {
		t.Fatal("expected cancel of armed id to report true")
	}
	if engine.Cancel(2) {
		t.Fatal("expected second cancel to report false")
	}
	if _, ok := engine.Get(2); ok {
		t.Fatal("expected id 2 gone")
	}
	pending := engine.Pending()
	if len(pending) != 2 || pending[0].ID != 1 || pending[1].ID != 3 {
		t.Fatalf("unexpected pending after cancel: %+v", pending)
	}

	if n := engine.CancelAll(); n != 2 {
		t.Fatalf("expected cancel all to remove 2, got %d", n)
	}
	if n := engine.CancelAll(); n != 0 {
		t.Fatalf("expected idempotent cancel all, got %d", n)
	}
}

func TestEngineCancelledEntryNeverFires(t *testing.T) {
	engine := NewEngine(4)
	engine.Start()
	defer engine.Stop()

	now := time.Now().UTC()
	if err := engine.Schedule(Entry{ID: 9, TriggerAt: now.Add(30 * time.Millisecond)}); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	engine.Cancel(9)

	select {
	case ev := <-engine.C():
		t.Fatalf("cancelled entry fired: %+v", ev)
	case <-time.After(120 * time.Millisecond):
	}
}

func TestEngineNonBlockingDropsWhenConsumerIsSlow(t *testing.T) {
	engine := NewEngine(1)
	engine.Start()
	defer engine.Stop()

	now := time.Now().UTC().Add(20 * time.Millisecond)
	for i := 0; i < 25; i++ {
		if err := engine.Schedule(Entry{ID: int32(i + 1), TriggerAt: now}); err != nil {
			t.Fatalf("schedule entry: %v", err)
		}
	}

	time.Sleep(120 * time.Millisecond)
	if engine.Dropped() == 0 {
		t.Fatalf("expected dropped entries > 0, got %d", engine.Dropped())
	}
}

func TestScheduleValidatesTriggerTime(t *testing.T) {
	engine := NewEngine(1)
	if err := engine.Schedule(Entry{ID: 1}); err != ErrInvalidTriggerTime {
		t.Fatalf("expected ErrInvalidTriggerTime, got %v", err)
	}
}

func TestScheduleAfterStop(t *testing.T) {
	engine := NewEngine(1)
	engine.Start()
	engine.Stop()
	if err := engine.Schedule(Entry{ID: 1, TriggerAt: time.Now().Add(time.Minute)}); err != ErrEngineStopped {
		t.Fatalf("expected ErrEngineStopped, got %v", err)
	}
}

func waitEntry(t *testing.T, ch <-chan Entry, timeout time.Duration) Entry {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for entry")
		return Entry{}
	}
}
