package scheduler

import (
	"container/heap"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sandeepkv93/remindd/internal/model"
)

var (
	ErrInvalidTriggerTime = errors.New("scheduler: invalid trigger time")
	ErrEngineStopped      = errors.New("scheduler: engine stopped")
)

// Kind records which host primitive armed an entry.
type Kind string

const (
	KindAlarmClock     Kind = "alarm_clock"
	KindAllowWhileIdle Kind = "allow_while_idle"
	KindNotification   Kind = "notification"
	KindAlarmObject    Kind = "alarm_object"
)

// Entry is one row of the alarm table.
type Entry struct {
	ID        int32
	Kind      Kind
	TriggerAt time.Time
	Payload   model.Payload
	Metadata  map[string]string
}

type queueItem struct {
	entry Entry
	index int
}

type priorityQueue []*queueItem

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	a, b := pq[i].entry, pq[j].entry
	if a.TriggerAt.Equal(b.TriggerAt) {
		return a.ID < b.ID
	}
	return a.TriggerAt.Before(b.TriggerAt)
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *priorityQueue) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*pq)
	*pq = append(*pq, item)
}

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*pq = old[0 : n-1]
	return item
}

// Engine is an in-process alarm table. Entries are keyed by id: scheduling
// an id that is already armed replaces it, so an id is live at most once.
type Engine struct {
	mu      sync.Mutex
	queue   priorityQueue
	byID    map[int32]*queueItem
	out     chan Entry
	wakeup  chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
	stopped bool
	dropped uint64
	fired   uint64
}

func NewEngine(bufferSize int) *Engine {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Engine{
		queue:  make(priorityQueue, 0),
		byID:   make(map[int32]*queueItem),
		out:    make(chan Entry, bufferSize),
		wakeup: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// C delivers fired entries. A fired entry is no longer in the table.
func (e *Engine) C() <-chan Entry {
	return e.out
}

func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.started = true
	heap.Init(&e.queue)
	go e.loop()
}

func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started || e.stopped {
		e.stopped = true
		e.mu.Unlock()
		return
	}
	e.stopped = true
	close(e.stopCh)
	e.mu.Unlock()
	<-e.doneCh
}

func (e *Engine) Schedule(entry Entry) error {
	if entry.TriggerAt.IsZero() {
		return ErrInvalidTriggerTime
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return ErrEngineStopped
	}

	if item, ok := e.byID[entry.ID]; ok {
		item.entry = entry
		heap.Fix(&e.queue, item.index)
	} else {
		item := &queueItem{entry: entry}
		heap.Push(&e.queue, item)
		e.byID[entry.ID] = item
	}
	e.signalWakeup()
	return nil
}

// Cancel removes id from the table and reports whether it was armed.
func (e *Engine) Cancel(id int32) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	item, ok := e.byID[id]
	if !ok {
		return false
	}
	heap.Remove(&e.queue, item.index)
	delete(e.byID, id)
	e.signalWakeup()
	return true
}

// CancelAll empties the table and returns how many entries were armed.
func (e *Engine) CancelAll() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.queue)
	e.queue = make(priorityQueue, 0)
	e.byID = make(map[int32]*queueItem)
	e.signalWakeup()
	return n
}

func (e *Engine) Get(id int32) (Entry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	item, ok := e.byID[id]
	if !ok {
		return Entry{}, false
	}
	return item.entry, true
}

// Pending returns a snapshot of armed entries ordered by trigger time.
func (e *Engine) Pending() []Entry {
	e.mu.Lock()
	out := make([]Entry, 0, len(e.queue))
	for _, item := range e.queue {
		out = append(out, item.entry)
	}
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].TriggerAt.Equal(out[j].TriggerAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].TriggerAt.Before(out[j].TriggerAt)
	})
	return out
}

func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

func (e *Engine) Dropped() uint64 {
	return atomic.LoadUint64(&e.dropped)
}

func (e *Engine) Fired() uint64 {
	return atomic.LoadUint64(&e.fired)
}

func (e *Engine) loop() {
	defer close(e.doneCh)
	defer close(e.out)

	var timer *time.Timer
	for {
		next, hasNext := e.peek()
		if !hasNext {
			select {
			case <-e.wakeup:
				continue
			case <-e.stopCh:
				stopTimer(timer)
				return
			}
		}

		wait := time.Until(next.TriggerAt)
		if wait < 0 {
			wait = 0
		}
		timer = resetTimer(timer, wait)

		select {
		case <-timer.C:
			due := e.popDue(time.Now().UTC())
			for _, ev := range due {
				select {
				case e.out <- ev:
					atomic.AddUint64(&e.fired, 1)
				default:
					atomic.AddUint64(&e.dropped, 1)
				}
			}
		case <-e.wakeup:
			continue
		case <-e.stopCh:
			stopTimer(timer)
			return
		}
	}
}

func (e *Engine) signalWakeup() {
	select {
	case e.wakeup <- struct{}{}:
	default:
	}
}

func (e *Engine) peek() (Entry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return Entry{}, false
	}
	return e.queue[0].entry, true
}

func (e *Engine) popDue(now time.Time) []Entry {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Entry, 0)
	for len(e.queue) > 0 {
		next := e.queue[0].entry
		if next.TriggerAt.After(now) {
			break
		}
		item := heap.Pop(&e.queue).(*queueItem)
		delete(e.byID, item.entry.ID)
		out = append(out, item.entry)
	}
	return out
}

func resetTimer(timer *time.Timer, d time.Duration) *time.Timer {
	if timer == nil {
		return time.NewTimer(d)
	}
	stopTimer(timer)
	timer.Reset(d)
	return timer
}

func stopTimer(timer *time.Timer) {
	if timer == nil {
		return
	}
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
}
