package fsm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric outcome label values.
const (
	outcomeSuccess  = "success"
	outcomeRollback = "rollback"
	outcomeFailure  = "failure"
	outcomeError    = "error"
)

//nolint:gochecknoglobals // Prometheus metrics are registered once at init.
var (
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fsm_transitions_total",
		Help: "Total number of state transitions by machine, from_state, and to_state",
	}, []string{"machine", "from_state", "to_state"})

	applyDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fsm_apply_event_duration_seconds",
		Help:    "Duration of event application by machine and outcome",
		Buckets: []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	}, []string{"machine", "outcome"})

	applyTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fsm_apply_event_total",
		Help: "Total number of applied events by machine and outcome (success, rollback, failure, or error)",
	}, []string{"machine", "outcome"})
)
