// Package metrics exposes Prometheus collectors for scheduling, delivery,
// actions, follow-ups and reconciliation.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sandeepkv93/remindd/internal/reconcile"
)

const namespace = "remindd"

// Metrics implements the observer interfaces of the scheduler, delivery,
// actions, followup and reconcile packages.
type Metrics struct {
	schedules       *prometheus.CounterVec
	cancels         *prometheus.CounterVec
	alarmStates     *prometheus.CounterVec
	actions         *prometheus.CounterVec
	followUps       *prometheus.CounterVec
	reconciles      *prometheus.CounterVec
	reconcileItems  *prometheus.CounterVec
	reconcileLength prometheus.Histogram
}

// MustNewMetrics registers the collectors with reg. Collectors that are
// already registered are reused.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		schedules: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "schedule_total",
			Help:      "Scheduling attempts by adapter and outcome.",
		}, []string{"adapter", "outcome"}),
		cancels: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "cancel_total",
			Help:      "Cancellations by adapter and scope.",
		}, []string{"adapter", "scope"}),
		alarmStates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "transitions_total",
			Help:      "Delivery surface transitions by target state.",
		}, []string{"state"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "actions",
			Name:      "handled_total",
			Help:      "Handled user actions by kind and result.",
		}, []string{"kind", "result"}),
		followUps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "followup",
			Name:      "events_total",
			Help:      "Follow-up machine events.",
		}, []string{"event"}),
		reconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "runs_total",
			Help:      "Reconciliation passes by result.",
		}, []string{"result"}),
		reconcileItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "reminders_total",
			Help:      "Reminders seen by reconciliation, by disposition.",
		}, []string{"disposition"}),
		reconcileLength: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "duration_seconds",
			Help:      "Duration of reconciliation passes.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	m.schedules = register(reg, m.schedules)
	m.cancels = register(reg, m.cancels)
	m.alarmStates = register(reg, m.alarmStates)
	m.actions = register(reg, m.actions)
	m.followUps = register(reg, m.followUps)
	m.reconciles = register(reg, m.reconciles)
	m.reconcileItems = register(reg, m.reconcileItems)
	m.reconcileLength = register(reg, m.reconcileLength)
	return m
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// TrackAlarmTable exports the live alarm table size.
func TrackAlarmTable(reg prometheus.Registerer, size func() int) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "alarm_table_entries",
		Help:      "Entries currently armed in the alarm table.",
	}, func() float64 { return float64(size()) })
	_ = register(reg, prometheus.Collector(g))
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) ObserveSchedule(adapter, outcome string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		outcome = "failed"
	}
	m.schedules.WithLabelValues(adapter, outcome).Inc()
}

func (m *Metrics) ObserveCancel(adapter string, all bool) {
	if m == nil {
		return
	}
	scope := "one"
	if all {
		scope = "all"
	}
	m.cancels.WithLabelValues(adapter, scope).Inc()
}

func (m *Metrics) ObserveAlarmState(state string) {
	if m == nil {
		return
	}
	m.alarmStates.WithLabelValues(state).Inc()
}

func (m *Metrics) ObserveAction(kind string, err error) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(kind, result(err)).Inc()
}

func (m *Metrics) ObserveFollowUp(event string) {
	if m == nil {
		return
	}
	m.followUps.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveReconcile(r reconcile.Report, err error) {
	if m == nil {
		return
	}
	m.reconciles.WithLabelValues(result(err)).Inc()
	if r.RunID == "" {
		return
	}
	m.reconcileLength.Observe(r.Duration.Seconds())
	for disposition, n := range map[string]int{
		"scheduled":      r.Scheduled,
		"skipped_stale":  r.SkippedStale,
		"skipped_status": r.SkippedStatus,
		"rejected":       r.Rejected,
		"failed":         r.Failed,
	} {
		if n > 0 {
			m.reconcileItems.WithLabelValues(disposition).Add(float64(n))
		}
	}
}
