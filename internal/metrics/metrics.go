// Package metrics holds the Prometheus collectors for the pulse service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PulsesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulses_created_total",
			Help: "Total number of pulses persisted",
		},
	)

	PulsesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulses_rejected_total",
			Help: "Total number of rejected pulse submissions",
		},
		[]string{"reason"}, // validation, rate_limited, store
	)

	PulseDeletes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_deletes_total",
			Help: "Total number of owner delete attempts by outcome",
		},
		[]string{"result"}, // ok, not_found, forbidden, error
	)

	RetentionSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "retention_swept_pulses_total",
			Help: "Total number of pulses removed by the retention sweep",
		},
	)

	RetentionFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "retention_sweep_failures_total",
			Help: "Total number of failed retention sweeps",
		},
	)

	RetentionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "retention_sweep_duration_seconds",
			Help:    "Duration of retention sweeps in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RateLimitSources = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rate_limit_tracked_sources",
			Help: "Number of sources currently tracked by the write admission controller",
		},
	)

	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_clients",
			Help: "Number of connected websocket viewers",
		},
	)

	BroadcastDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_dropped_total",
			Help: "Messages dropped because a viewer's send buffer was full",
		},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "route", "status_code"},
	)
)

// RecordAPIRequest records one served request
func RecordAPIRequest(method, route, statusCode string, d time.Duration) {
	APIRequestDuration.WithLabelValues(method, route, statusCode).Observe(d.Seconds())
}

// RecordSweep records the outcome of one retention sweep
func RecordSweep(removed int64, d time.Duration, err error) {
	RetentionDuration.Observe(d.Seconds())
	if err != nil {
		RetentionFailures.Inc()
		return
	}
	RetentionSwept.Add(float64(removed))
}
