package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ecochat_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// TransportConnected is 1 while the STOMP session is established.
	TransportConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ecochat_transport_connected",
		Help: "Whether the push channel is currently connected",
	})

	// TransportReconnects counts reconnect attempts after a failure or drop.
	TransportReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ecochat_transport_reconnects_total",
		Help: "Total number of push channel reconnect attempts",
	})

	// TransportFrames counts STOMP frames by direction and command.
	TransportFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ecochat_transport_frames_total",
		Help: "Total STOMP frames by direction and command",
	}, []string{"direction", "command"})

	// HandlerPanics counts recovered panics in push handlers.
	HandlerPanics = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ecochat_handler_panics_total",
		Help: "Total number of recovered panics in push event handlers",
	}, []string{"source"})

	// PushEvents counts push events by type.
	PushEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ecochat_push_events_total",
		Help: "Total push events handled by type",
	}, []string{"event_type"})

	// OptimisticMessages counts optimistic sends by outcome.
	OptimisticMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ecochat_optimistic_messages_total",
		Help: "Optimistic messages by outcome (sent, confirmed, rolled_back, publish_failed)",
	}, []string{"outcome"})

	// StaleResponses counts REST responses dropped because a newer state superseded them.
	StaleResponses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ecochat_stale_responses_total",
		Help: "Total REST responses discarded as stale",
	}, []string{"component"})

	// APIRequestLatency records REST latency by operation and status class.
	APIRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ecochat_api_request_latency_seconds",
		Help:    "REST request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "status"})

	// APIErrors counts failed REST calls by operation and error code.
	APIErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ecochat_api_errors_total",
		Help: "Total failed REST calls by operation and code",
	}, []string{"operation", "code"})
)
