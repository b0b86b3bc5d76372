package delivery

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BellSounder rings the terminal bell until stopped.
type BellSounder struct {
	W        io.Writer
	Interval time.Duration
}

func (b BellSounder) PlayLoop(ctx context.Context, _ Alert) (func(), error) {
	if b.W == nil {
		return nil, fmt.Errorf("delivery: bell sounder has no writer")
	}
	interval := b.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			_, _ = io.WriteString(b.W, "\a")
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}, nil
}

// LogVibrator stands in for a vibration motor on hosts without one.
type LogVibrator struct {
	Logger *zap.Logger
}

func (v LogVibrator) Vibrate(_ context.Context, pattern []time.Duration) (func(), error) {
	if v.Logger != nil {
		v.Logger.Debug("vibration started", zap.Durations("pattern", pattern))
	}
	return func() {
		if v.Logger != nil {
			v.Logger.Debug("vibration stopped")
		}
	}, nil
}

// ExecIndicator posts desktop notifications through notify-send or
// osascript. Desktop notifications cannot be withdrawn, so Remove only
// forgets the id.
type ExecIndicator struct {
	run func(name string, args ...string) error

	mu    sync.Mutex
	shown map[int32]Notice
}

func NewExecIndicator() *ExecIndicator {
	return &ExecIndicator{
		run: func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		},
		shown: make(map[int32]Notice),
	}
}

func (e *ExecIndicator) Show(n Notice) error {
	e.mu.Lock()
	e.shown[n.ID] = n
	e.mu.Unlock()

	body := n.Body
	if len(n.Actions) > 0 {
		body = fmt.Sprintf("%s\n[%s]", body, strings.Join(n.Actions, " / "))
	}
	switch runtime.GOOS {
	case "linux":
		args := []string{n.Title, body}
		if n.Persistent {
			args = append([]string{"--urgency=critical"}, args...)
		}
		return e.run("notify-send", args...)
	case "darwin":
		script := fmt.Sprintf(`display notification "%s" with title "%s"`, escapeAppleScript(body), escapeAppleScript(n.Title))
		return e.run("osascript", "-e", script)
	default:
		return nil
	}
}

func (e *ExecIndicator) Remove(id int32) {
	e.mu.Lock()
	delete(e.shown, id)
	e.mu.Unlock()
}

// Shown lists the ids currently displayed.
func (e *ExecIndicator) Shown() []int32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]int32, 0, len(e.shown))
	for id := range e.shown {
		out = append(out, id)
	}
	return out
}

// appleScriptEscaper escapes backslashes as well as quotes; a trailing
// backslash would otherwise swallow the closing quote.
var appleScriptEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func escapeAppleScript(s string) string {
	return appleScriptEscaper.Replace(s)
}

// LeaseLock hands out wake leases that expire on their own after the
// ceiling.
type LeaseLock struct {
	logger *zap.Logger

	mu   sync.Mutex
	held map[string]int
}

func NewLeaseLock(logger *zap.Logger) *LeaseLock {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LeaseLock{logger: logger, held: make(map[string]int)}
}

func (l *LeaseLock) Acquire(tag string, ceiling time.Duration) (Lease, error) {
	if ceiling <= 0 {
		return nil, fmt.Errorf("delivery: lease ceiling must be positive")
	}
	l.mu.Lock()
	l.held[tag]++
	l.mu.Unlock()

	lease := &timedLease{lock: l, tag: tag}
	lease.mu.Lock()
	lease.timer = time.AfterFunc(ceiling, func() {
		l.logger.Warn("wake lease hit ceiling", zap.String("tag", tag), zap.Duration("ceiling", ceiling))
		lease.Release()
	})
	lease.mu.Unlock()
	return lease, nil
}

// Held reports how many leases are outstanding.
func (l *LeaseLock) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.held {
		n += c
	}
	return n
}

func (l *LeaseLock) drop(tag string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[tag] <= 1 {
		delete(l.held, tag)
		return
	}
	l.held[tag]--
}

type timedLease struct {
	lock *LeaseLock
	tag  string

	mu       sync.Mutex
	timer    *time.Timer
	released bool
}

func (t *timedLease) Release() {
	t.mu.Lock()
	if t.released {
		t.mu.Unlock()
		return
	}
	t.released = true
	if t.timer != nil {
		t.timer.Stop()
	}
	t.mu.Unlock()
	t.lock.drop(t.tag)
}
