// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Engine metrics
	StepsProcessed  *prometheus.CounterVec
	SignalsEmitted  prometheus.Counter
	FillsSimulated  prometheus.Counter
	OrdersRejected  *prometheus.CounterVec
	RunsTotal       *prometheus.CounterVec
	ActiveRuns      prometheus.Gauge
	StepDuration    prometheus.Histogram
	SlippageBpsAbs  prometheus.Histogram
	HeartbeatAborts prometheus.Counter

	// Checkpoint metrics
	CheckpointsCommitted prometheus.Counter
	CheckpointDuration   prometheus.Histogram
	OrphanRowsDeleted    prometheus.Counter
	ResumesTotal         prometheus.Counter

	// Lifecycle metrics
	TransitionsRecorded *prometheus.CounterVec
	InvalidTransitions  prometheus.Counter

	// Scheduler metrics
	RunsClaimed       prometheus.Counter
	LockAcquireFailed prometheus.Counter
	LeaseExtendFailed prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Market data metrics
	WSReconnects     prometheus.Counter
	TicksReceived    prometheus.Counter
	BookFetchErrors  prometheus.Counter
	TelemetryDropped prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "market_sim_lab"
	}

	return &Metrics{
		// Engine metrics
		StepsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "steps_processed_total",
			Help:      "Total number of simulation steps processed by mode",
		}, []string{"mode"}),
		SignalsEmitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "signals_emitted_total",
			Help:      "Total number of strategy signals emitted",
		}),
		FillsSimulated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "fills_simulated_total",
			Help:      "Total number of fills simulated",
		}),
		OrdersRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "orders_rejected_total",
			Help:      "Total number of orders rejected by reason",
		}, []string{"reason"}),
		RunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "runs_total",
			Help:      "Total number of runs by terminal status",
		}, []string{"status"}),
		ActiveRuns: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "active_runs",
			Help:      "Number of runs currently executing",
		}),
		StepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "step_duration_seconds",
			Help:      "Simulation step duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		SlippageBpsAbs: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "slippage_bps_abs",
			Help:      "Absolute slippage of simulated fills in basis points",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		HeartbeatAborts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "heartbeat_aborts_total",
			Help:      "Total number of runs stopped after a heartbeat status re-read",
		}),

		// Checkpoint metrics
		CheckpointsCommitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkpoint",
			Name:      "committed_total",
			Help:      "Total number of checkpoint units committed",
		}),
		CheckpointDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "checkpoint",
			Name:      "commit_duration_seconds",
			Help:      "Checkpoint commit duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		OrphanRowsDeleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkpoint",
			Name:      "orphan_rows_deleted_total",
			Help:      "Total number of orphan output rows deleted during resume",
		}),
		ResumesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkpoint",
			Name:      "resumes_total",
			Help:      "Total number of runs resumed from a checkpoint",
		}),

		// Lifecycle metrics
		TransitionsRecorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "transitions_recorded_total",
			Help:      "Total number of order status transitions recorded by reason",
		}, []string{"reason"}),
		InvalidTransitions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "invalid_transitions_total",
			Help:      "Total number of transitions recorded with valid=false",
		}),

		// Scheduler metrics
		RunsClaimed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "runs_claimed_total",
			Help:      "Total number of pending runs claimed",
		}),
		LockAcquireFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "lock_acquire_failed_total",
			Help:      "Total number of failed run lock acquisitions",
		}),
		LeaseExtendFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "lease_extend_failed_total",
			Help:      "Total number of failed lock lease extensions",
		}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Market data metrics
		WSReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "marketdata",
			Name:      "ws_reconnects_total",
			Help:      "Total number of market data WebSocket reconnects",
		}),
		TicksReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "marketdata",
			Name:      "ticks_received_total",
			Help:      "Total number of price ticks received",
		}),
		BookFetchErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "marketdata",
			Name:      "book_fetch_errors_total",
			Help:      "Total number of order book fetch failures",
		}),
		TelemetryDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "marketdata",
			Name:      "telemetry_dropped_total",
			Help:      "Total number of telemetry events dropped",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
