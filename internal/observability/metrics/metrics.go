// Package metrics exposes Prometheus collectors for reconcile passes and
// reminder delivery. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "dosebot"

type Metrics struct {
	reg *prometheus.Registry

	reconcileDuration *prometheus.HistogramVec
	reconcileErrors   *prometheus.CounterVec
	reminderOps       *prometheus.CounterVec
	deliveries        *prometheus.CounterVec
	pending           prometheus.Gauge
	queueDepth        prometheus.Gauge
	schedules         prometheus.Gauge
}

// New builds the collectors on a private registry (plus Go and process
// collectors) so tests can create as many instances as they like.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		reconcileDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "planner",
			Name:      "reconcile_duration_seconds",
			Help:      "Duration of reconcile passes by trigger.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		}, []string{"trigger"}),
		reconcileErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "planner",
			Name:      "reconcile_errors_total",
			Help:      "Per-reminder errors encountered during reconcile passes.",
		}, []string{"stage"}),
		reminderOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "planner",
			Name:      "reminder_ops_total",
			Help:      "Reminder operations by outcome (posted, cancelled, missed, acknowledged, snoozed).",
		}, []string{"op", "kind"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "deliveries_total",
			Help:      "Delivery attempts by result.",
		}, []string{"result"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "pending_reminders",
			Help:      "Reminders armed, queued or in flight.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "queue_depth",
			Help:      "Fired reminders waiting for a worker.",
		}),
		schedules: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "treatment",
			Name:      "schedules",
			Help:      "Schedules currently loaded.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.reconcileDuration, m.reconcileErrors, m.reminderOps, m.deliveries,
		m.pending, m.queueDepth, m.schedules,
	)
	return m
}

// Registry is what the debug server exposes on /metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) ObserveReconcile(trigger string, took time.Duration) {
	if m == nil {
		return
	}
	m.reconcileDuration.WithLabelValues(trigger).Observe(took.Seconds())
}

func (m *Metrics) ReconcileError(stage string) {
	if m == nil {
		return
	}
	m.reconcileErrors.WithLabelValues(stage).Inc()
}

func (m *Metrics) ReminderOp(op, kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reminderOps.WithLabelValues(op, kind).Add(float64(n))
}

func (m *Metrics) Delivery(result string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(result).Inc()
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) SetSchedules(n int) {
	if m == nil {
		return
	}
	m.schedules.Set(float64(n))
}
