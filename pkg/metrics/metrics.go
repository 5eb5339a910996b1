// Package metrics exposes Prometheus collectors for the live session engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsAppliedTotal counts change events merged into a snapshot.
	EventsAppliedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livesession_events_applied_total",
		Help: "Total number of events merged into session snapshots",
	}, []string{"stream"})

	// EventsDroppedTotal counts malformed or unknown events rejected by the reconciler.
	EventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livesession_events_dropped_total",
		Help: "Total number of events dropped by the reconciler",
	}, []string{"stream"})

	// ActionsDeniedTotal counts privileged actions rejected by the capability gate.
	ActionsDeniedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livesession_actions_denied_total",
		Help: "Total number of privileged actions denied",
	}, []string{"action"})

	// ExternalFailuresTotal counts analysis and recording backend failures.
	ExternalFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livesession_external_failures_total",
		Help: "Total number of external service failures",
	}, []string{"service"})

	// RoomsActive is the number of sessions with an open engine on this instance.
	RoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livesession_rooms_active",
		Help: "Current number of open session rooms",
	})

	// WebsocketConnections is the number of connected realtime clients.
	WebsocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livesession_websocket_connections",
		Help: "Current number of WebSocket connections",
	})
)
