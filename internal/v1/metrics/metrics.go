// Package metrics declares the Prometheus instrumentation for the signaling
// broker. Kept close to the business logic packages that increment it, the
// same convention the teacher used for its video-conferencing metrics.
//
// Naming convention: namespace_subsystem_name
//   - namespace: signaling (application-level grouping)
//   - subsystem: websocket, room, queue, connection, circuit_breaker,
//     rate_limit, redis (feature-level grouping)
//   - name: specific metric (connections_active, depth, by_state, ...)
//
// Metric Types:
//   - Gauge: current state (connections, rooms, queue depth)
//   - Counter: cumulative events (messages processed, candidates dropped)
//   - Histogram: latency distributions (drain batch duration)
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveWebSocketConnections tracks the current number of active gateway sockets.
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of active rooms.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomMembers tracks the current member count per room.
	RoomMembers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "room",
		Name:      "members_count",
		Help:      "Number of members in each room",
	}, []string{"room_id"})

	// RoomConnectionRatioWarnings counts times a room's pairwise connection
	// count fell outside the expected ratio band against its member count
	// (spec §3 testable property).
	RoomConnectionRatioWarnings = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "room",
		Name:      "connection_ratio_warnings_total",
		Help:      "Total times a room's connection count fell outside the expected ratio band",
	}, []string{"room_id"})

	// WebsocketEvents tracks the total number of WebSocket ingress events processed.
	WebsocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "websocket",
		Name:      "events_total",
		Help:      "Total WebSocket events processed",
	}, []string{"event_type", "status"})

	// MessageProcessingDuration tracks time spent processing an ingress message.
	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "signaling",
		Subsystem: "websocket",
		Name:      "message_processing_seconds",
		Help:      "Time spent processing WebSocket messages",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event_type"})

	// QueueDepth tracks the current pending message count of a room's queue.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Current number of pending signaling messages in a room's queue",
	}, []string{"room_id"})

	// QueueCandidatesDropped counts ice-candidate entries dropped by the backpressure trim.
	QueueCandidatesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "queue",
		Name:      "candidates_dropped_total",
		Help:      "Total ice-candidate messages dropped due to backpressure",
	}, []string{"room_id"})

	// QueueDrainBatchDuration tracks processing time of one drain tick for a room.
	QueueDrainBatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "signaling",
		Subsystem: "queue",
		Name:      "drain_batch_seconds",
		Help:      "Time spent processing one drain-tick batch for a room",
		Buckets:   prometheus.DefBuckets,
	}, []string{"room_id"})

	// ConnectionsByState tracks the connection health directory partitioned
	// by state (mirrors getConnectionStats, spec §4.5).
	ConnectionsByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "connection",
		Name:      "by_state",
		Help:      "Current number of tracked pairwise connections by state",
	}, []string{"state"})

	// ReconnectAttempts counts triggerReconnection calls made by the health tracker.
	ReconnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "connection",
		Name:      "reconnect_attempts_total",
		Help:      "Total reconnection attempts triggered by the health tracker",
	}, []string{"room_id"})

	// FallbackActiveConnections tracks connections currently relaying over websocket fallback.
	FallbackActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "connection",
		Name:      "fallback_active",
		Help:      "Current number of pairwise connections using websocket fallback relay",
	})

	// RelayFramesForwarded counts relay-data frames forwarded while in fallback mode.
	RelayFramesForwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "connection",
		Name:      "relay_frames_forwarded_total",
		Help:      "Total relay-data frames forwarded over the fallback relay",
	}, []string{"room_id"})

	// WebrtcConnectionAttempts tracks the total number of state transitions
	// observed for pairwise connections, by resulting state.
	WebrtcConnectionAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "webrtc",
		Name:      "connection_attempts_total",
		Help:      "Total WebRTC connection state transitions observed",
	}, []string{"status"})

	// CircuitBreakerState tracks the current state of a named circuit breaker.
	// 0: Closed (Healthy), 1: Open (Failure), 2: Half-Open (Recovering)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of the circuit breaker (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"service"})

	// CircuitBreakerFailures tracks the total number of requests rejected by the circuit breaker.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "circuit_breaker",
		Name:      "failures_total",
		Help:      "Total requests rejected by the circuit breaker",
	}, []string{"service"})

	// RateLimitExceeded tracks the total number of requests that exceeded the rate limit.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total number of requests that exceeded the rate limit",
	}, []string{"endpoint", "reason"})

	// RateLimitRequests tracks the total number of requests checked against the rate limiter.
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "rate_limit",
		Name:      "requests_total",
		Help:      "Total number of requests checked against the rate limiter",
	}, []string{"endpoint"})

	// RedisOperationsTotal tracks the total number of Redis bus operations.
	RedisOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "redis",
		Name:      "operations_total",
		Help:      "Total number of Redis operations",
	}, []string{"operation", "status"})

	// RedisOperationDuration tracks the duration of Redis bus operations.
	RedisOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "signaling",
		Subsystem: "redis",
		Name:      "operation_duration_seconds",
		Help:      "Duration of Redis operations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
