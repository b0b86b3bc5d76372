// Package app wires the scheduling, delivery, action and reconciliation
// components into one runtime and supervises its loops.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sandeepkv93/remindd/internal/actions"
	"github.com/sandeepkv93/remindd/internal/backend"
	"github.com/sandeepkv93/remindd/internal/bridge"
	"github.com/sandeepkv93/remindd/internal/config"
	"github.com/sandeepkv93/remindd/internal/delivery"
	"github.com/sandeepkv93/remindd/internal/followup"
	"github.com/sandeepkv93/remindd/internal/ids"
	"github.com/sandeepkv93/remindd/internal/metrics"
	"github.com/sandeepkv93/remindd/internal/permission"
	"github.com/sandeepkv93/remindd/internal/reconcile"
	"github.com/sandeepkv93/remindd/internal/scheduler"
	"github.com/sandeepkv93/remindd/internal/snooze"
	"github.com/sandeepkv93/remindd/internal/storage"
	"github.com/sandeepkv93/remindd/internal/views"
)

const inboxSize = 32

type Option func(*options)

type options struct {
	source   reconcile.Source
	writer   followup.StatusWriter
	outputs  *delivery.Outputs
	now      func() time.Time
	registry *prometheus.Registry
}

// WithSource replaces the backend reminder list.
func WithSource(src reconcile.Source) Option {
	return func(o *options) { o.source = src }
}

// WithStatusWriter replaces the backend status write.
func WithStatusWriter(w followup.StatusWriter) Option {
	return func(o *options) { o.writer = w }
}

// WithOutputs replaces the desktop delivery outputs.
func WithOutputs(out delivery.Outputs) Option {
	return func(o *options) { o.outputs = &out }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

type Runtime struct {
	cfg    config.Config
	logger *zap.Logger
	now    func() time.Time

	ns        ids.Namespace
	gate      *permission.Gatekeeper
	engine    *scheduler.Engine
	adapter   scheduler.Adapter
	surface   *delivery.Surface
	presenter *views.AlarmPresenter
	wake      delivery.WakeLock
	followUps *followup.Machine
	snoozes   *snooze.Ledger
	router    *actions.Router
	policy    *reconcile.Policy
	repo      *storage.SQLiteRepository
	source    reconcile.Source
	registry  *prometheus.Registry
	bridge    *bridge.Server
	inbox     chan actions.Message
}

func New(cfg config.Config, logger *zap.Logger, opts ...Option) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	platform, err := scheduler.ParsePlatform(cfg.Platform)
	if err != nil {
		return nil, err
	}

	repo, err := storage.OpenSQLite(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if o.source == nil || o.writer == nil {
		client, err := backend.NewClient(cfg.Backend.URL,
			backend.WithToken(cfg.Backend.Token),
			backend.WithLogger(logger.Named("backend")),
		)
		if err != nil {
			_ = repo.Close()
			return nil, err
		}
		if o.source == nil {
			o.source = client
		}
		if o.writer == nil {
			o.writer = client
		}
	}

	reg := o.registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	m := metrics.MustNewMetrics(reg)

	r := &Runtime{
		cfg:      cfg,
		logger:   logger,
		now:      o.now,
		ns:       ids.New(platform.Variant()),
		repo:     repo,
		registry: reg,
		inbox:    make(chan actions.Message, inboxSize),
	}
	r.source = backend.NewCachedSource(o.source, repo, o.now, logger.Named("cache"))

	r.gate = permission.NewGatekeeper(
		permission.StaticHost{Exact: cfg.ExactAlarmsAllowed, FullScreen: cfg.FullScreenAllowed, Logger: logger},
		permission.WithLogger(logger.Named("permission")),
		permission.WithClock(o.now),
	)

	r.engine = scheduler.NewEngine(cfg.SchedulerBuffer)
	metrics.TrackAlarmTable(reg, r.engine.Len)
	host := scheduler.NewLocalHost(r.engine, r.gate, o.now, logger.Named("host"))
	r.adapter, err = scheduler.New(platform, scheduler.Host{AlarmManager: host, AlarmKit: host, Gate: r.gate}, scheduler.Options{
		MinLeadTime:     cfg.MinLeadTime,
		SnoozeCountdown: cfg.SnoozeDuration,
		Now:             o.now,
		Logger:          logger.Named("scheduler"),
		Observer:        m,
	})
	if err != nil {
		_ = repo.Close()
		return nil, err
	}

	out := r.desktopOutputs(o.outputs)
	r.wake = out.WakeLock
	r.surface = delivery.NewSurface(out, r.gate, delivery.Config{
		RingCeiling:     cfg.RingCeiling,
		WakeLockCeiling: cfg.WakeLockCeiling,
		Namespace:       r.ns,
	}, delivery.WithLogger(logger.Named("delivery")), delivery.WithObserver(m), delivery.WithClock(o.now))

	r.followUps = followup.NewMachine(r.adapter, r.ns, o.writer,
		followup.WithDelay(cfg.FollowUpDelay),
		followup.WithClock(o.now),
		followup.WithStore(repo),
		followup.WithLogger(logger.Named("followup")),
		followup.WithObserver(m),
	)

	r.snoozes = snooze.NewLedger(
		snooze.WithStore(repo),
		snooze.WithClock(o.now),
		snooze.WithLogger(logger.Named("snooze")),
	)

	r.router = actions.NewRouter(actions.RouterConfig{
		Adapter:        r.adapter,
		Surface:        r.surface,
		FollowUps:      r.followUps,
		Snoozes:        r.snoozes,
		Texts:          actions.TaskTextFunc(r.taskText),
		Namespace:      r.ns,
		WakeLock:       r.wake,
		SnoozeDuration: cfg.SnoozeDuration,
		LeaseCeiling:   cfg.WakeLockCeiling,
		Now:            o.now,
		Logger:         logger.Named("actions"),
		Observer:       m,
	})

	r.policy = reconcile.NewPolicy(reconcile.Config{
		Adapter:     r.adapter,
		Namespace:   r.ns,
		FollowUps:   r.followUps,
		Snoozes:     r.snoozes,
		MinLeadTime: cfg.MinLeadTime,
		Now:         o.now,
		Logger:      logger.Named("reconcile"),
		Observer:    m,
	})

	r.bridge = bridge.NewServer(bridge.Config{
		Addr:         cfg.ListenAddr,
		Capabilities: r.gate,
		Actions:      r.router,
		Sync:         r.Sync,
		Alarms:       r.engine,
		Runs:         repo,
		Gatherer:     reg,
		Logger:       logger.Named("bridge"),
	})
	return r, nil
}

func (r *Runtime) desktopOutputs(override *delivery.Outputs) delivery.Outputs {
	if override != nil {
		return *override
	}
	out := delivery.Outputs{
		Sounder:  delivery.BellSounder{W: os.Stderr},
		Vibrator: delivery.LogVibrator{Logger: r.logger.Named("vibration")},
		WakeLock: delivery.NewLeaseLock(r.logger.Named("wakelock")),
	}
	if r.cfg.DesktopNotifications {
		out.Indicator = delivery.NewExecIndicator()
	}
	if r.cfg.TerminalAlert {
		r.presenter = views.NewAlarmPresenter(views.WithPresenterLogger(r.logger.Named("views")))
		out.Presenter = r.presenter
	}
	return out
}

// taskText finds the stored text of a reminder for actions that arrive
// without one.
func (r *Runtime) taskText(ctx context.Context, reminderID int64) (string, bool) {
	if rec, ok := r.snoozes.Get(reminderID); ok && rec.TaskText != "" {
		return rec.TaskText, true
	}
	if p, ok := r.followUps.Prompt(reminderID); ok && p.TaskText != "" {
		return p.TaskText, true
	}
	rem, err := r.repo.GetReminder(ctx, reminderID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			r.logger.Warn("reminder cache lookup failed", zap.Int64("reminder_id", reminderID), zap.Error(err))
		}
		return "", false
	}
	return rem.TaskText, rem.TaskText != ""
}

func (r *Runtime) Namespace() ids.Namespace { return r.ns }

func (r *Runtime) Pending() []scheduler.Entry { return r.engine.Pending() }

func (r *Runtime) Bridge() *bridge.Server { return r.bridge }

// HandleAction routes one action message synchronously.
func (r *Runtime) HandleAction(ctx context.Context, m actions.Message) (actions.Result, error) {
	return r.router.Handle(ctx, m)
}

// Submit queues an action message for the action loop.
func (r *Runtime) Submit(ctx context.Context, m actions.Message) error {
	select {
	case r.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sync runs one reconciliation pass and records it in the run log.
func (r *Runtime) Sync(ctx context.Context) (reconcile.Report, error) {
	r.gate.Refresh()
	report, err := r.policy.Sync(ctx, r.source)
	run := storage.SyncRun{
		RunID:     report.RunID,
		StartedAt: report.StartedAt,
		Source:    "backend",
		Total:     report.Total,
		Scheduled: report.Scheduled,
		Skipped:   report.SkippedStale + report.SkippedStatus,
		Failed:    report.Failed + report.Rejected,
		Rearmed:   report.Rearmed,
		Swept:     report.Swept,
	}
	if run.RunID == "" {
		run.RunID = fmt.Sprintf("failed-%d", r.now().UnixNano())
		run.StartedAt = r.now().UTC()
	}
	if err != nil {
		run.Error = err.Error()
	}
	if saveErr := r.repo.SaveRun(ctx, run); saveErr != nil {
		r.logger.Warn("recording sync run failed", zap.Error(saveErr))
	}
	return report, err
}

// Run restores follow-ups and snoozes, reconciles once and then serves fires,
// actions, periodic syncs and the bridge until ctx ends.
func (r *Runtime) Run(ctx context.Context) error {
	r.engine.Start()
	defer r.engine.Stop()
	defer r.surface.Close()

	if n, err := r.followUps.Restore(ctx); err != nil {
		r.logger.Warn("restoring follow-ups incomplete", zap.Int("restored", n), zap.Error(err))
	}
	if n, err := r.snoozes.Restore(ctx); err != nil {
		r.logger.Warn("restoring snoozes failed", zap.Int("restored", n), zap.Error(err))
	}
	if report, err := r.Sync(ctx); err != nil {
		r.logger.Warn("initial sync failed", zap.Error(err))
	} else {
		r.logger.Info("initial sync done", zap.String("run_id", report.RunID), zap.Int("scheduled", report.Scheduled))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.fireLoop(gctx) })
	g.Go(func() error { return r.router.Run(gctx, r.inbox) })
	if r.presenter != nil {
		g.Go(func() error { return r.decisionLoop(gctx) })
	}
	if r.cfg.SyncInterval > 0 {
		g.Go(func() error { return r.syncLoop(gctx) })
	}
	if r.cfg.ListenAddr != "" {
		g.Go(func() error { return r.bridge.Run(gctx) })
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (r *Runtime) Close() error {
	r.surface.Close()
	return r.repo.Close()
}

func (r *Runtime) fireLoop(ctx context.Context) error {
	fires := r.engine.C()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-fires:
			if !ok {
				return nil
			}
			r.Dispatch(ctx, e)
		}
	}
}

// Dispatch hands one fired entry to the delivery surface. Follow-up prompts
// are shown as indicators and immediately re-armed.
func (r *Runtime) Dispatch(ctx context.Context, e scheduler.Entry) {
	alert := delivery.Alert{
		ID:         e.ID,
		ReminderID: e.Payload.ReminderID,
		Title:      e.Payload.Title,
		Body:       e.Payload.Body,
		TaskText:   e.Payload.TaskText,
		IsFollowUp: e.Payload.IsFollowUp,
	}
	if rid, role, ok := ids.Resolve(e.ID); ok {
		if alert.ReminderID == 0 {
			alert.ReminderID = rid
		}
		if role == ids.RoleFollowUp {
			alert.IsFollowUp = true
		}
	}
	log := r.logger.With(zap.Int32("alarm_id", e.ID), zap.Int64("reminder_id", alert.ReminderID))

	if !alert.IsFollowUp {
		if _, err := r.surface.Start(ctx, alert); err != nil {
			if errors.Is(err, delivery.ErrAlreadyRinging) {
				log.Debug("fire ignored", zap.Error(err))
				return
			}
			log.Warn("alarm delivery failed", zap.Error(err))
		}
		return
	}

	if r.wake != nil {
		if lease, err := r.wake.Acquire(fmt.Sprintf("prompt:%d", e.ID), r.cfg.WakeLockCeiling); err == nil {
			defer lease.Release()
		}
	}
	if err := r.surface.Prompt(ctx, alert); err != nil {
		log.Warn("follow-up prompt failed", zap.Error(err))
	}
	if _, err := r.followUps.Fired(ctx, alert.ReminderID); err != nil {
		log.Info("follow-up not re-armed", zap.Error(err))
	}
}

func (r *Runtime) decisionLoop(ctx context.Context) error {
	decisions := r.presenter.Decisions()
	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-decisions:
			msg := actions.Message{
				ActionID:       d.Action,
				NotificationID: d.AlarmID,
				Extra:          actions.Extra{ReminderID: d.ReminderID, TaskText: d.TaskText, IsFollowUp: d.FollowUp},
			}
			if err := r.Submit(ctx, msg); err != nil {
				return nil
			}
		}
	}
}

func (r *Runtime) syncLoop(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Sync(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("periodic sync failed", zap.Error(err))
			}
		}
	}
}
