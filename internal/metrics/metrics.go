// Package metrics provides Prometheus instrumentation for the chat relay.
// It exposes a gauge for connection state, counters for frame and reply
// throughput, and a histogram for completion latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionUp is 1 while the link has an active connection, 0 otherwise.
	ConnectionUp = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_connection_up",
		Help: "Whether the relay currently holds a live server connection",
	})

	// ConnectsTotal counts successful connection establishments, including
	// reconnects after a loss.
	ConnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_connects_total",
		Help: "Total number of successful connection establishments",
	})

	// ProbesTotal counts liveness probes answered at the transport layer.
	ProbesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_probes_total",
		Help: "Total number of liveness probes answered",
	})

	// EventsTotal counts decoded inbound events, labeled by event type.
	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_events_total",
		Help: "Total number of decoded inbound events",
	}, []string{"type"})

	// DecodeFailuresTotal counts inbound frames (or array elements) that
	// could not be decoded and were dropped.
	DecodeFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_decode_failures_total",
		Help: "Total number of inbound payloads dropped as undecodable",
	})

	// RepliesTotal counts auto-reply outcomes, labeled by status:
	// "sent", "completion_failed", "send_failed", or "throttled".
	RepliesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_replies_total",
		Help: "Total number of auto-reply attempts by outcome",
	}, []string{"status"})

	// CompletionLatency records completion request latency in seconds.
	CompletionLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_completion_latency_seconds",
		Help:    "Completion request latency in seconds",
		Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 30},
	})

	// TrackedSenders tracks the number of senders with a transcript in the
	// history store.
	TrackedSenders = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_tracked_senders",
		Help: "Current number of senders with an in-memory transcript",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionUp,
		ConnectsTotal,
		ProbesTotal,
		EventsTotal,
		DecodeFailuresTotal,
		RepliesTotal,
		CompletionLatency,
		TrackedSenders,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
