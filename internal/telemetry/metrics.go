package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the worker.
type Metrics struct {
	DispatchTotal      *prometheus.CounterVec
	DispatchDurationMs *prometheus.HistogramVec
	UpstreamTotal      *prometheus.CounterVec
	BroadcastTotal     *prometheus.CounterVec
	RetryTotal         *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		DispatchTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chatrelay_dispatch_total",
			Help: "Total bus messages dispatched, by operation and outcome.",
		}, []string{"type", "outcome"}),

		DispatchDurationMs: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatrelay_dispatch_duration_ms",
			Help:    "Handler duration in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000, 30000},
		}, []string{"type"}),

		UpstreamTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chatrelay_upstream_total",
			Help: "Total upstream API calls, by operation and status class.",
		}, []string{"operation", "status"}),

		BroadcastTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chatrelay_broadcast_total",
			Help: "Total state broadcasts sent to listening contexts.",
		}, []string{"type"}),

		RetryTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chatrelay_retry_total",
			Help: "Total send retries caused by disconnect-class failures.",
		}, []string{"component"}),
	}
}

// RecordDispatch records one handled bus message.
func (m *Metrics) RecordDispatch(msgType, outcome string, durationMs float64) {
	m.DispatchTotal.WithLabelValues(msgType, outcome).Inc()
	m.DispatchDurationMs.WithLabelValues(msgType).Observe(durationMs)
}

// RecordBroadcast records one broadcast fan-out.
func (m *Metrics) RecordBroadcast(msgType string) {
	m.BroadcastTotal.WithLabelValues(msgType).Inc()
}

// RecordUpstream records one upstream API call by operation and status class.
func (m *Metrics) RecordUpstream(operation, status string) {
	m.UpstreamTotal.WithLabelValues(operation, status).Inc()
}

// RecordRetry records one disconnect-triggered send retry.
func (m *Metrics) RecordRetry(component string) {
	m.RetryTotal.WithLabelValues(component).Inc()
}
