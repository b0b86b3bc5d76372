package permission

import (
	"testing"
)

type fakeHost struct {
	exact, full         bool
	exactOpens, overlay int
}

func (h *fakeHost) ExactAlarmsAllowed() bool { return h.exact }
func (h *fakeHost) FullScreenAllowed() bool  { return h.full }
func (h *fakeHost) OpenExactAlarmSettings() error {
	h.exactOpens++
	return nil
}
func (h *fakeHost) OpenOverlaySettings() error {
	h.overlay++
	return nil
}

func TestGatekeeperCachesUntilRefresh(t *testing.T) {
	host := &fakeHost{exact: false, full: true}
	g := NewGatekeeper(host)
	if g.CanScheduleExact() {
		t.Fatal("expected exact scheduling denied")
	}

	host.exact = true
	if g.CanScheduleExact() {
		t.Fatal("expected cached snapshot before refresh")
	}
	if s := g.Refresh(); !s.CanScheduleExact {
		t.Fatalf("expected refreshed snapshot to allow exact, got %+v", s)
	}
	if !g.CanScheduleExact() {
		t.Fatal("expected exact scheduling allowed after refresh")
	}
}

func TestGatekeeperRequestsDoNotBlock(t *testing.T) {
	host := &fakeHost{}
	g := NewGatekeeper(host)
	if err := g.RequestExactPermission(); err != nil {
		t.Fatalf("request exact: %v", err)
	}
	if err := g.RequestOverlayPermission(); err != nil {
		t.Fatalf("request overlay: %v", err)
	}
	if host.exactOpens != 1 || host.overlay != 1 {
		t.Fatalf("expected settings opened once each, got exact=%d overlay=%d", host.exactOpens, host.overlay)
	}
	if g.CanScheduleExact() {
		t.Fatal("request must not flip the capability by itself")
	}
}

func TestBannerLifecycle(t *testing.T) {
	host := &fakeHost{exact: false, full: true}
	g := NewGatekeeper(host)

	b, ok := g.Banner()
	if !ok || !b.MissingExact || b.MissingFullScreen || b.Message == "" {
		t.Fatalf("unexpected banner: %+v ok=%v", b, ok)
	}

	g.DismissBanner()
	if _, ok := g.Banner(); ok {
		t.Fatal("expected banner hidden after dismiss")
	}

	g.Refresh()
	if _, ok := g.Banner(); ok {
		t.Fatal("expected banner to stay dismissed while capabilities are unchanged")
	}

	host.full = false
	g.Refresh()
	b, ok = g.Banner()
	if !ok || !b.MissingExact || !b.MissingFullScreen {
		t.Fatalf("expected banner to return after capability change, got %+v ok=%v", b, ok)
	}

	host.exact, host.full = true, true
	g.Refresh()
	if _, ok := g.Banner(); ok {
		t.Fatal("expected no banner with full capabilities")
	}
}

func TestNilHostDegrades(t *testing.T) {
	g := NewGatekeeper(nil)
	if g.CanScheduleExact() || g.CanShowFullScreen() {
		t.Fatal("expected nil host to report no capabilities")
	}
	if err := g.RequestExactPermission(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
