// Package metrics provides Prometheus instrumentation for the Loqui
// realtime gateway. It exposes gauges for connection and presence counts,
// counters for event throughput, and histograms for latency tracking.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "loqui_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// OnlineUsers tracks the number of users this instance considers online
	// or inactive.
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "loqui_online_users",
		Help: "Current number of users with a live presence record",
	})

	// EventsTotal counts inbound client events processed, labeled by event type.
	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loqui_events_total",
		Help: "Total number of client events processed",
	}, []string{"type"})

	// EventErrors counts events rejected with an error, labeled by error code.
	EventErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loqui_event_errors_total",
		Help: "Total number of client events rejected",
	}, []string{"code"})

	// SendLatency records message persist-and-broadcast latency in seconds.
	SendLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "loqui_send_latency_seconds",
		Help:    "Message persist and broadcast latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// BroadcastsTotal counts server events fanned out to rooms, labeled by
	// origin: "local" or "remote".
	BroadcastsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loqui_broadcasts_total",
		Help: "Total number of room broadcasts delivered",
	}, []string{"origin"})

	// ActiveRooms tracks the number of rooms with at least one local member.
	ActiveRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "loqui_active_rooms",
		Help: "Current number of rooms with local members",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		OnlineUsers,
		EventsTotal,
		EventErrors,
		SendLatency,
		BroadcastsTotal,
		ActiveRooms,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
