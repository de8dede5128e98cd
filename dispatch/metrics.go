package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeSuccess   = "success"
	outcomeCancelled = "cancelled"
	outcomeError     = "error"
)

//nolint:gochecknoglobals // Prometheus metrics are registered once at init.
var (
	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fsm_dispatcher_queue_depth",
		Help: "Number of event requests currently queued",
	}, []string{"dispatcher"})

	processedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fsm_dispatcher_processed_total",
		Help: "Total number of event requests processed by outcome (success, cancelled, or error)",
	}, []string{"dispatcher", "outcome"})

	processingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fsm_dispatcher_processing_duration_seconds",
		Help:    "Duration of event request processing",
		Buckets: []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
	}, []string{"dispatcher"})
)
