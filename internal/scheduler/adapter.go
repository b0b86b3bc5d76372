package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sandeepkv93/remindd/internal/ids"
	"github.com/sandeepkv93/remindd/internal/model"
)

var (
	ErrSchedulingFailed = errors.New("scheduler: every scheduling primitive failed")
	ErrInvalidRequest   = errors.New("scheduler: invalid request")
	ErrUnknownPlatform  = errors.New("scheduler: unknown platform")
)

const (
	DefaultMinLeadTime     = 5 * time.Second
	DefaultSnoozeCountdown = 10 * time.Minute
)

type Outcome string

const (
	OutcomeAlarmClock     Outcome = "alarm_clock"
	OutcomeAllowWhileIdle Outcome = "allow_while_idle"
	OutcomeNotification   Outcome = "notification"
	OutcomeAlarmObject    Outcome = "alarm_object"
	OutcomeBackupOnly     Outcome = "backup_notification"
	OutcomeNativeSnooze   Outcome = "native_snooze"
	OutcomeSkippedStale   Outcome = "skipped_stale"
)

// Armed reports whether the outcome left a live entry in the alarm table.
func (o Outcome) Armed() bool {
	return o != "" && o != OutcomeSkippedStale
}

type Request struct {
	ID        int32
	TriggerAt time.Time
	Payload   model.Payload
}

func (r Request) validate() error {
	if r.ID <= 0 {
		return fmt.Errorf("%w: id %d", ErrInvalidRequest, r.ID)
	}
	if r.TriggerAt.IsZero() {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, ErrInvalidTriggerTime)
	}
	return nil
}

func (r Request) entry(kind Kind) Entry {
	return Entry{ID: r.ID, Kind: kind, TriggerAt: r.TriggerAt.UTC(), Payload: r.Payload}
}

// Adapter is the single scheduling contract shared by both platforms.
type Adapter interface {
	Name() string
	Schedule(ctx context.Context, req Request) (Outcome, error)
	Cancel(ctx context.Context, id int32) error
	CancelAll(ctx context.Context) error
	// Snooze re-arms req.ID after d. Adapters whose host owns snooze ignore d
	// and use the countdown supplied at schedule time.
	Snooze(ctx context.Context, req Request, d time.Duration) (Outcome, error)
	SnoozesNatively() bool
}

// Observer receives scheduling telemetry.
type Observer interface {
	ObserveSchedule(adapter, outcome string, err error)
	ObserveCancel(adapter string, all bool)
}

type Options struct {
	MinLeadTime     time.Duration
	SnoozeCountdown time.Duration
	Now             func() time.Time
	Logger          *zap.Logger
	Observer        Observer
}

func (o Options) withDefaults() Options {
	if o.MinLeadTime <= 0 {
		o.MinLeadTime = DefaultMinLeadTime
	}
	if o.SnoozeCountdown <= 0 {
		o.SnoozeCountdown = DefaultSnoozeCountdown
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// stale reports whether trigger sits inside the minimum lead time.
func (o Options) stale(trigger time.Time) bool {
	return trigger.Sub(o.Now()) < o.MinLeadTime
}

func (o Options) observe(adapter string, outcome Outcome, err error) {
	if o.Observer != nil {
		o.Observer.ObserveSchedule(adapter, string(outcome), err)
	}
}

func (o Options) observeCancel(adapter string, all bool) {
	if o.Observer != nil {
		o.Observer.ObserveCancel(adapter, all)
	}
}

type Platform string

const (
	PlatformAlarmClock  Platform = "alarm_clock"
	PlatformAlarmObject Platform = "alarm_object"
)

func ParsePlatform(raw string) (Platform, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "alarm_clock", "android", "a", "":
		return PlatformAlarmClock, nil
	case "alarm_object", "ios", "b":
		return PlatformAlarmObject, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPlatform, raw)
	}
}

func (p Platform) Variant() ids.Variant {
	if p == PlatformAlarmObject {
		return ids.VariantAlarmObject
	}
	return ids.VariantAlarmClock
}

// Host bundles whichever host surfaces are available; New picks the one the
// platform needs.
type Host struct {
	AlarmManager AlarmManager
	AlarmKit     AlarmKit
	Gate         ExactChecker
}

// New selects the adapter for platform once, at startup.
func New(platform Platform, host Host, opts Options) (Adapter, error) {
	ns := ids.New(platform.Variant())
	switch platform {
	case PlatformAlarmClock:
		if host.AlarmManager == nil {
			return nil, errors.New("scheduler: alarm clock platform needs an AlarmManager")
		}
		return NewAlarmClockAdapter(host.AlarmManager, host.Gate, ns, opts), nil
	case PlatformAlarmObject:
		if host.AlarmKit == nil {
			return nil, errors.New("scheduler: alarm object platform needs an AlarmKit")
		}
		return NewAlarmObjectAdapter(host.AlarmKit, ns, opts), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, platform)
	}
}

// ScheduleBatch schedules every request and returns how many were armed.
// Failures do not stop the batch.
func ScheduleBatch(ctx context.Context, a Adapter, reqs []Request) (int, []error) {
	scheduled := 0
	var errs []error
	for _, req := range reqs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		outcome, err := a.Schedule(ctx, req)
		if err != nil {
			errs = append(errs, fmt.Errorf("alarm %d: %w", req.ID, err))
			continue
		}
		if outcome.Armed() {
			scheduled++
		}
	}
	return scheduled, errs
}
