// Package metrics provides Prometheus metrics for the flowpulse service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SimsTotal counts simulations created.
	SimsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "flowpulse",
			Subsystem: "simulator",
			Name:      "sims_total",
			Help:      "Total number of simulations created",
		},
	)

	// SimsActive tracks currently running simulations.
	SimsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "flowpulse",
			Subsystem: "simulator",
			Name:      "sims_active",
			Help:      "Number of currently running simulations",
		},
	)

	// WavesTotal counts propagation waves stepped.
	WavesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "flowpulse",
			Subsystem: "simulator",
			Name:      "waves_total",
			Help:      "Total number of propagation waves stepped",
		},
	)

	// EdgeActivationsTotal counts edges activated across all waves.
	EdgeActivationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "flowpulse",
			Subsystem: "simulator",
			Name:      "edge_activations_total",
			Help:      "Total number of edge activations",
		},
	)

	// LoopRestartsTotal counts auto-loop restarts.
	LoopRestartsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "flowpulse",
			Subsystem: "simulator",
			Name:      "loop_restarts_total",
			Help:      "Total number of auto-loop restarts",
		},
	)

	// EventsTotal counts events emitted by type.
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowpulse",
			Subsystem: "simulator",
			Name:      "events_total",
			Help:      "Total number of events emitted",
		},
		[]string{"type"},
	)

	// SSEConnectionsActive tracks open event streams.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "flowpulse",
			Subsystem: "api",
			Name:      "sse_connections_active",
			Help:      "Number of open SSE event streams",
		},
	)

	// SSEConnectionDuration tracks how long event streams stay open.
	SSEConnectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "flowpulse",
			Subsystem: "api",
			Name:      "sse_connection_duration_seconds",
			Help:      "SSE stream duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowpulse",
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "flowpulse",
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// StoreOperations counts simstore operations.
	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowpulse",
			Subsystem: "simulator",
			Name:      "store_operations_total",
			Help:      "Total number of simulation store operations",
		},
		[]string{"operation", "result"}, // operation: create, update, delete; result: success, error
	)
)
