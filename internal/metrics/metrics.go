// Package metrics exposes Prometheus counters/histograms for the agent's
// negotiation core and directory client.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// NegotiationsTotal counts completed negotiations by outcome mode.
	NegotiationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gann_negotiations_total",
			Help: "Total number of completed session negotiations",
		},
		[]string{"role", "mode"}, // role: initiator|responder, mode: direct|relay|failed
	)

	// NegotiationDuration tracks how long a negotiation took to resolve.
	NegotiationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gann_negotiation_duration_seconds",
			Help:    "Negotiation duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"role", "mode"},
	)

	// ActiveSessions tracks currently open session handles by mode.
	ActiveSessions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gann_active_sessions",
			Help: "Number of currently open session handles",
		},
		[]string{"mode"},
	)

	// SignalingEventsDropped counts inbound frames dropped as malformed
	// (unparseable, unrecognised event, or null payload). Well-formed frames
	// are always dispatched regardless of rate limiting; see
	// SignalingEventsOverLimit for the observational counterpart.
	SignalingEventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gann_signaling_events_dropped_total",
			Help: "Total number of inbound signaling frames dropped",
		},
		[]string{"reason"}, // reason: malformed
	)

	// SignalingEventsOverLimit counts inbound frames that exceeded their
	// per-event-type rate limit. These frames are still dispatched exactly
	// once; this counter is purely observational, for abuse monitoring.
	SignalingEventsOverLimit = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gann_signaling_events_over_limit_total",
			Help: "Total number of inbound signaling frames that exceeded their rate limit (still dispatched)",
		},
		[]string{"key"},
	)

	// DirectoryRequestsTotal counts directory HTTP calls by operation and
	// outcome.
	DirectoryRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gann_directory_requests_total",
			Help: "Total number of directory HTTP requests",
		},
		[]string{"operation", "status"},
	)

	// HeartbeatsSent counts outbound heartbeat reports.
	HeartbeatsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gann_heartbeats_sent_total",
			Help: "Total number of heartbeat reports sent to the directory",
		},
		[]string{"status"},
	)
)

// Handler returns the Prometheus scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordNegotiation records one completed negotiation's outcome and
// duration, and adjusts the active-session gauge.
func RecordNegotiation(role, mode string, durationSeconds float64) {
	NegotiationsTotal.WithLabelValues(role, mode).Inc()
	NegotiationDuration.WithLabelValues(role, mode).Observe(durationSeconds)
	if mode == "direct" || mode == "relay" {
		ActiveSessions.WithLabelValues(mode).Inc()
	}
}

// RecordSessionClosed decrements the active-session gauge for mode.
func RecordSessionClosed(mode string) {
	ActiveSessions.WithLabelValues(mode).Dec()
}

// RecordEventDropped records one dropped inbound signaling frame.
func RecordEventDropped(reason string) {
	SignalingEventsDropped.WithLabelValues(reason).Inc()
}

// RecordEventOverLimit records one inbound signaling frame that exceeded its
// rate limit. The frame is still dispatched; this is observational only.
func RecordEventOverLimit(key string) {
	SignalingEventsOverLimit.WithLabelValues(key).Inc()
}

// RecordDirectoryRequest records one directory HTTP call outcome.
func RecordDirectoryRequest(operation, status string) {
	DirectoryRequestsTotal.WithLabelValues(operation, status).Inc()
}

// RecordHeartbeat records one outbound heartbeat attempt.
func RecordHeartbeat(status string) {
	HeartbeatsSent.WithLabelValues(status).Inc()
}
