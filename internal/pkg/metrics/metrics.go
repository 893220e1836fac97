/*
Package metrics defines the Prometheus collectors of the server and the /metrics handler.

Collectors are registered on the default registry at package init, labelled by room variant.
*/
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "roomsync"

var (
	// RoomsActive counts running room loops.
	RoomsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rooms_active",
		Help:      "Number of running room actors.",
	}, []string{"variant"})

	// Connections counts open WebSocket connections attached to rooms.
	Connections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connections",
		Help:      "Number of open room connections.",
	}, []string{"variant"})

	// Broadcasts counts snapshot flushes sent.
	Broadcasts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcasts_total",
		Help:      "Snapshot broadcasts sent.",
	}, []string{"variant"})

	// DroppedFlushes counts flushes suppressed by the minimum broadcast interval.
	DroppedFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dropped_flushes_total",
		Help:      "Snapshot flushes dropped by the broadcast throttle.",
	}, []string{"variant"})

	// RejectedConnections counts connections refused because the room was full.
	RejectedConnections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rejected_connections_total",
		Help:      "Connections rejected at capacity.",
	}, []string{"variant"})

	// FilteredMouseUpdates counts position updates below the distance threshold.
	FilteredMouseUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "filtered_mouse_updates_total",
		Help:      "Mouse updates discarded by delta compression.",
	}, []string{"variant"})

	// MalformedMessages counts inbound messages handed to the fallback handler.
	MalformedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "malformed_messages_total",
		Help:      "Inbound messages that could not be decoded or validated.",
	}, []string{"variant"})

	// GraceTransitions counts users entering their reconnection grace window, by reason.
	GraceTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "grace_transitions_total",
		Help:      "Users moved into the reconnection grace window.",
	}, []string{"variant", "reason"})
)

// Handler exposes Prometheus metrics at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
