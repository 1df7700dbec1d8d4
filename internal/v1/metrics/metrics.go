// Package metrics declares the process's Prometheus instruments.
//
// Naming convention: namespace_subsystem_name.
//   - namespace: watch_together
//   - subsystem: registry, room, signaling, blobstore, ratelimit, redis, circuit_breaker
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveSignalingConnections tracks open signaling channels.
	ActiveSignalingConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "watch_together",
		Subsystem: "signaling",
		Name:      "connections_active",
		Help:      "Current number of open signaling channels",
	})

	// ActiveRooms tracks rooms currently held by the Registry.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "watch_together",
		Subsystem: "registry",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomParticipants tracks participant count per room.
	RoomParticipants = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "watch_together",
		Subsystem: "room",
		Name:      "participants_count",
		Help:      "Number of participants in each room",
	}, []string{"room_code"})

	// SignalingEvents counts inbound/outbound messages processed.
	SignalingEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "watch_together",
		Subsystem: "signaling",
		Name:      "events_total",
		Help:      "Total signaling events processed",
	}, []string{"event_type", "status"})

	// MessageProcessingDuration tracks per-message dispatch latency.
	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "watch_together",
		Subsystem: "signaling",
		Name:      "message_processing_seconds",
		Help:      "Time spent routing one inbound signaling message",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event_type"})

	// ReadySyncBarrierDuration tracks how long SYNCING lasted per commit reason.
	ReadySyncBarrierDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "watch_together",
		Subsystem: "room",
		Name:      "ready_sync_barrier_seconds",
		Help:      "Duration of the ready-sync barrier before it committed to PLAYING",
		Buckets:   []float64{.1, .5, 1, 2, 5, 10, 20, 30, 60},
	}, []string{"commit_reason"})

	// UploadBytesTotal counts bytes accepted by the blob store.
	UploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "watch_together",
		Subsystem: "blobstore",
		Name:      "upload_bytes_total",
		Help:      "Total bytes accepted by upload",
	})

	// DownloadBytesTotal counts bytes served by range-read downloads.
	DownloadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "watch_together",
		Subsystem: "blobstore",
		Name:      "download_bytes_total",
		Help:      "Total bytes served by download",
	})

	// UploadsRejectedTotal counts uploads rejected for exceeding the size cap.
	UploadsRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "watch_together",
		Subsystem: "blobstore",
		Name:      "uploads_rejected_total",
		Help:      "Total uploads rejected for exceeding the size cap",
	})

	// CircuitBreakerState tracks the bus circuit breaker: 0 closed, 1 open, 2 half-open.
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "watch_together",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of the circuit breaker (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"service"})

	// CircuitBreakerFailures counts requests rejected by the circuit breaker.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "watch_together",
		Subsystem: "circuit_breaker",
		Name:      "failures_total",
		Help:      "Total requests rejected by the circuit breaker",
	}, []string{"service"})

	// RateLimitExceeded counts join attempts rejected by the rate limiter.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "watch_together",
		Subsystem: "ratelimit",
		Name:      "exceeded_total",
		Help:      "Total join attempts rejected by the rate limiter",
	}, []string{"endpoint"})

	// RateLimitRequests counts join attempts checked against the rate limiter.
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "watch_together",
		Subsystem: "ratelimit",
		Name:      "requests_total",
		Help:      "Total join attempts checked against the rate limiter",
	}, []string{"endpoint"})

	// RedisOperationsTotal counts Redis bus operations.
	RedisOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "watch_together",
		Subsystem: "redis",
		Name:      "operations_total",
		Help:      "Total Redis operations",
	}, []string{"operation", "status"})

	// RedisOperationDuration tracks Redis bus operation latency.
	RedisOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "watch_together",
		Subsystem: "redis",
		Name:      "operation_duration_seconds",
		Help:      "Duration of Redis operations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
)

func IncConnection() {
	ActiveSignalingConnections.Inc()
}

func DecConnection() {
	ActiveSignalingConnections.Dec()
}
