package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the chat fan-out core.
//
// Naming convention: namespace_subsystem_name
// - namespace: chat (application-level grouping)
// - subsystem: websocket, hub, bus, ratelimit, http (feature-level grouping)
// - name: specific metric (connections_active, events_total, etc.)
//
// Metric Types:
// - Gauge: Current state (connections, locally subscribed rooms)
// - Counter: Cumulative events (messages, evictions, bus traffic)
// - Histogram: Latency distributions (HTTP handling time)

var (
	// ActiveConnections tracks the current number of live WebSocket sessions.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chat",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// LocalRooms tracks rooms with at least one locally connected subscriber.
	LocalRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chat",
		Subsystem: "hub",
		Name:      "rooms_active",
		Help:      "Rooms with at least one locally subscribed user",
	})

	// SocketEvents counts inbound client frames by type and outcome.
	SocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat",
		Subsystem: "websocket",
		Name:      "events_total",
		Help:      "Total WebSocket frames processed",
	}, []string{"event_type", "status"})

	// SessionEvictions counts sessions replaced by the per-user cap.
	SessionEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chat",
		Subsystem: "websocket",
		Name:      "session_evictions_total",
		Help:      "Sessions evicted because the per-user connection cap was exceeded",
	})

	// BusPublished counts bus publishes by channel kind (room|user).
	BusPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat",
		Subsystem: "bus",
		Name:      "published_total",
		Help:      "Messages published to the pub/sub bus",
	}, []string{"channel_kind"})

	// BusPublishFailures counts dropped publishes (bus failure or open breaker).
	BusPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chat",
		Subsystem: "bus",
		Name:      "publish_failures_total",
		Help:      "Bus publishes dropped due to errors or an open circuit breaker",
	})

	// BusReceived counts messages the bridge absorbed from the bus.
	BusReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat",
		Subsystem: "bus",
		Name:      "received_total",
		Help:      "Messages received from the pub/sub bus",
	}, []string{"channel_kind"})

	// CircuitBreakerState exposes breaker states (0=closed, 1=open, 2=half-open).
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "chat",
		Subsystem: "bus",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"name"})

	// RateLimited counts refused events by limiting axis.
	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat",
		Subsystem: "ratelimit",
		Name:      "refusals_total",
		Help:      "Events refused by a rate limiter",
	}, []string{"axis"})

	// RateLimitStoreFailures counts shared-store limiter failures (fail-open).
	RateLimitStoreFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chat",
		Subsystem: "ratelimit",
		Name:      "store_failures_total",
		Help:      "Shared-store limiter failures that were allowed through",
	})

	// HTTPRequestDuration tracks control-plane handler latency.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chat",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Time spent handling HTTP requests",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"method", "path", "status"})
)

func IncConnection() {
	ActiveConnections.Inc()
}

func DecConnection() {
	ActiveConnections.Dec()
}
