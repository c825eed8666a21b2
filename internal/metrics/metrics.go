// Package metrics defines the Prometheus collectors of the sync core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Event stream metrics
var (
	StreamState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tempmail_stream_state",
			Help: "Event stream connection state (0 disconnected, 1 connecting, 2 connected)",
		},
	)

	StreamConnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tempmail_stream_connect_attempts_total",
			Help: "Event stream connection attempts by result",
		},
		[]string{"result"},
	)

	StreamEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tempmail_stream_events_total",
			Help: "Event stream payloads received by kind",
		},
		[]string{"kind"},
	)
)

// Poller and refresh metrics
var (
	PollCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tempmail_poll_cycles_total",
			Help: "Fallback poller cycles by result",
		},
		[]string{"result"},
	)

	RefreshFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tempmail_refresh_fetches_total",
			Help: "Arbiter list fetches by trigger and result",
		},
		[]string{"trigger", "result"},
	)

	FetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tempmail_fetch_duration_seconds",
			Help:    "Duration of message list fetches",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)
)

// Arbiter metrics
var (
	SyncState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tempmail_sync_state",
			Help: "Arbiter state (0 connecting, 1 live, 2 degraded polling, 3 degraded no fallback)",
		},
	)

	NewMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tempmail_new_messages_total",
			Help: "New message notifications emitted by channel",
		},
		[]string{"channel"},
	)

	DuplicatesSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tempmail_duplicate_notifications_suppressed_total",
			Help: "New message notifications dropped because the id was already announced",
		},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
