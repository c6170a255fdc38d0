package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lookback_events_skipped_total",
			Help: "Calendar events skipped during normalization",
		},
		[]string{"reason"},
	)

	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lookback_sync_runs_total",
			Help: "Calendar sync runs by kind and result",
		},
		[]string{"kind", "result"},
	)

	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lookback_sync_duration_seconds",
			Help:    "Duration of calendar sync runs in seconds",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"kind"},
	)

	SyncQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lookback_sync_queue_pending",
			Help: "Sync requests delivered but not yet acknowledged",
		},
	)

	SyncStreamLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lookback_sync_stream_length",
			Help: "Entries retained in the sync request stream",
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lookback_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lookback_http_requests_total",
			Help: "HTTP requests by route template and status code",
		},
		[]string{"route", "code"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lookback_http_request_duration_seconds",
			Help:    "HTTP request latency by route template",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

// RecordSkippedEvent counts one event dropped by the normalizer.
func RecordSkippedEvent(reason string) {
	EventsSkipped.WithLabelValues(reason).Inc()
}

// RecordSync records the outcome and duration of one sync run.
func RecordSync(kind string, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	SyncRuns.WithLabelValues(kind, result).Inc()
	SyncDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordHTTPRequest records one served request.
func RecordHTTPRequest(route string, status int, duration time.Duration) {
	HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	HTTPDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// SetCircuitBreakerState publishes a breaker state as a gauge value.
func SetCircuitBreakerState(name string, state int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}
