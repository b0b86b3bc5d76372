// Package permission tracks the host's exact-scheduling and full-screen
// capabilities. A missing capability is never an error; callers degrade.
package permission

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Host is the OS surface that answers capability queries and opens the
// matching settings screens.
type Host interface {
	ExactAlarmsAllowed() bool
	FullScreenAllowed() bool
	OpenExactAlarmSettings() error
	OpenOverlaySettings() error
}

type Snapshot struct {
	CanScheduleExact  bool      `json:"canScheduleExact"`
	CanShowFullScreen bool      `json:"canDrawFullScreen"`
	TakenAt           time.Time `json:"takenAt"`
}

func (s Snapshot) complete() bool {
	return s.CanScheduleExact && s.CanShowFullScreen
}

type Banner struct {
	MissingExact      bool   `json:"missingExact"`
	MissingFullScreen bool   `json:"missingFullScreen"`
	Message           string `json:"message"`
}

type Gatekeeper struct {
	host   Host
	logger *zap.Logger
	now    func() time.Time

	mu        sync.Mutex
	snapshot  Snapshot
	polled    bool
	dismissed bool
}

type Option func(*Gatekeeper)

func WithLogger(l *zap.Logger) Option {
	return func(g *Gatekeeper) {
		if l != nil {
			g.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *Gatekeeper) {
		if now != nil {
			g.now = now
		}
	}
}

func NewGatekeeper(host Host, opts ...Option) *Gatekeeper {
	g := &Gatekeeper{
		host:   host,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gatekeeper) CanScheduleExact() bool {
	return g.current().CanScheduleExact
}

func (g *Gatekeeper) CanShowFullScreen() bool {
	return g.current().CanShowFullScreen
}

// Snapshot returns the last polled capability set, polling once if needed.
func (g *Gatekeeper) Snapshot() Snapshot {
	return g.current()
}

// Refresh re-polls the host. Call it whenever the app returns to the
// foreground, since permission requests never report back.
func (g *Gatekeeper) Refresh() Snapshot {
	next := Snapshot{TakenAt: g.now().UTC()}
	if g.host != nil {
		next.CanScheduleExact = g.host.ExactAlarmsAllowed()
		next.CanShowFullScreen = g.host.FullScreenAllowed()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.polled && (next.CanScheduleExact != g.snapshot.CanScheduleExact || next.CanShowFullScreen != g.snapshot.CanShowFullScreen) {
		g.dismissed = false
		g.logger.Info("capabilities changed",
			zap.Bool("exact", next.CanScheduleExact),
			zap.Bool("full_screen", next.CanShowFullScreen),
		)
	}
	g.snapshot = next
	g.polled = true
	return next
}

func (g *Gatekeeper) current() Snapshot {
	g.mu.Lock()
	if g.polled {
		s := g.snapshot
		g.mu.Unlock()
		return s
	}
	g.mu.Unlock()
	return g.Refresh()
}

// RequestExactPermission opens the host's exact alarm settings. It does not
// wait for the user.
func (g *Gatekeeper) RequestExactPermission() error {
	if g.host == nil {
		return nil
	}
	g.logger.Info("opening exact alarm settings")
	return g.host.OpenExactAlarmSettings()
}

func (g *Gatekeeper) RequestOverlayPermission() error {
	if g.host == nil {
		return nil
	}
	g.logger.Info("opening overlay settings")
	return g.host.OpenOverlaySettings()
}

// Banner returns the permission banner while a capability is missing and the
// user has not dismissed it.
func (g *Gatekeeper) Banner() (Banner, bool) {
	s := g.current()
	g.mu.Lock()
	dismissed := g.dismissed
	g.mu.Unlock()
	if s.complete() || dismissed {
		return Banner{}, false
	}
	b := Banner{MissingExact: !s.CanScheduleExact, MissingFullScreen: !s.CanShowFullScreen}
	switch {
	case b.MissingExact && b.MissingFullScreen:
		b.Message = "Alarms may arrive late and cannot cover the lock screen. Allow exact alarms and display over other apps."
	case b.MissingExact:
		b.Message = "Alarms may arrive late. Allow exact alarms in settings."
	default:
		b.Message = "Alarms cannot cover the lock screen. Allow display over other apps in settings."
	}
	return b, true
}

// DismissBanner hides the banner until the capability set changes.
func (g *Gatekeeper) DismissBanner() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dismissed = true
}

// StaticHost answers capability queries from configuration. Desktop hosts
// have no settings screens, so the open calls only log.
type StaticHost struct {
	Exact      bool
	FullScreen bool
	Logger     *zap.Logger
}

func (h StaticHost) ExactAlarmsAllowed() bool { return h.Exact }
func (h StaticHost) FullScreenAllowed() bool  { return h.FullScreen }

func (h StaticHost) OpenExactAlarmSettings() error {
	if h.Logger != nil {
		h.Logger.Warn("exact alarms are controlled by configuration on this host", zap.String("key", "exact_alarms_allowed"))
	}
	return nil
}

func (h StaticHost) OpenOverlaySettings() error {
	if h.Logger != nil {
		h.Logger.Warn("full-screen alerts are controlled by configuration on this host", zap.String("key", "full_screen_allowed"))
	}
	return nil
}
