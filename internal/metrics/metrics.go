// Package metrics exposes Prometheus instruments for room and connection
// activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "typerace"

var (
	ActiveRooms = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_rooms",
		Help:      "Rooms currently open, by kind.",
	}, []string{"kind"})

	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connections",
		Help:      "Open websocket connections.",
	})

	RacesStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "races_started_total",
		Help:      "Races that left the countdown, by room kind.",
	}, []string{"kind"})

	RacesCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "races_completed_total",
		Help:      "Races that reached results, by room kind.",
	}, []string{"kind"})

	ResultsRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "results_recorded_total",
		Help:      "Race results written to durable storage.",
	})

	PersistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "persist_failures_total",
		Help:      "Race records that could not be written or were dropped.",
	})

	BroadcastDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcast_drops_total",
		Help:      "Events dropped because a client send buffer was full.",
	})

	BufferExtensions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "buffer_extensions_total",
		Help:      "Timed-race text extensions sent to members.",
	})

	Takeovers = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_takeovers_total",
		Help:      "Connections closed because the same player connected again.",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
