// Package metrics exposes Prometheus collectors for pocketd activity.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fentz26/pocketd/internal/models"
)

const namespace = "pocketd"

// Metrics holds every collector the daemon reports. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	lockTransitions *prometheus.CounterVec
	lockHeld        prometheus.Gauge
	taskRuns        *prometheus.CounterVec
	taskDuration    prometheus.Histogram
	triaged         *prometheus.CounterVec
	queueLength     prometheus.Gauge
	polls           *prometheus.CounterVec
}

// MustNew constructs Metrics and registers it with reg. Registration errors
// panic, matching promauto.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		lockTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lock_transitions_total",
				Help:      "Device lock transitions by owner kind and event.",
			},
			[]string{"kind", "event"},
		),
		lockHeld: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "lock_held",
				Help:      "1 while someone holds the device lock.",
			},
		),
		taskRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "task_runs_total",
				Help:      "Scheduled task executions by outcome.",
			},
			[]string{"status"},
		),
		taskDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "task_duration_seconds",
				Help:      "Wall time of scheduled task executions, including skips.",
				Buckets:   []float64{0.1, 1, 5, 15, 30, 60, 120, 300},
			},
		),
		triaged: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "notifications",
				Name:      "triaged_total",
				Help:      "Notifications processed by the triage queue, by decision.",
			},
			[]string{"action"},
		),
		queueLength: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "notifications",
				Name:      "queue_length",
				Help:      "Notifications waiting for triage.",
			},
		),
		polls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "notifications",
				Name:      "polls_total",
				Help:      "Notification polls by result.",
			},
			[]string{"result"},
		),
	}

	reg.MustRegister(
		m.lockTransitions,
		m.lockHeld,
		m.taskRuns,
		m.taskDuration,
		m.triaged,
		m.queueLength,
		m.polls,
	)
	return m
}

// LockTransition counts one lock transition.
func (m *Metrics) LockTransition(kind models.OwnerKind, event string) {
	if m == nil {
		return
	}
	m.lockTransitions.WithLabelValues(string(kind), event).Inc()
}

// LockHeld sets the lock_held gauge.
func (m *Metrics) LockHeld(held bool) {
	if m == nil {
		return
	}
	if held {
		m.lockHeld.Set(1)
	} else {
		m.lockHeld.Set(0)
	}
}

// TaskRun records one scheduled task execution.
func (m *Metrics) TaskRun(status models.RunStatus, d time.Duration) {
	if m == nil {
		return
	}
	m.taskRuns.WithLabelValues(string(status)).Inc()
	m.taskDuration.Observe(d.Seconds())
}

// Triaged counts one triage decision. Labels outside the known set are
// counted as "other" so agent output cannot mint new series.
func (m *Metrics) Triaged(action string) {
	if m == nil {
		return
	}
	m.triaged.WithLabelValues(triageLabel(action)).Inc()
}

func triageLabel(action string) string {
	switch action {
	case models.TriageIgnore, models.TriageLog, models.TriageAlert,
		models.TriageAct, models.TriageSkip, models.TriageError:
		return action
	}
	return "other"
}

// QueueLength sets the pending triage queue length.
func (m *Metrics) QueueLength(n int) {
	if m == nil {
		return
	}
	m.queueLength.Set(float64(n))
}

// Poll counts one notification poll; ok is false when the poll failed.
func (m *Metrics) Poll(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.polls.WithLabelValues(result).Inc()
}
