package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Throughput metrics - Track ingestion volume
var (
	EventsFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "registry_events_fetched_total",
		Help: "Total number of raw ledger events fetched from RPC",
	})

	EventsProjected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_events_projected_total",
			Help: "Total number of events projected into registry records by action family",
		},
		[]string{"action"},
	)

	TransactionsStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "registry_transactions_stored_total",
		Help: "Total number of transactions upserted",
	})

	OperationsStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "registry_operations_stored_total",
		Help: "Total number of operations upserted",
	})
)

// Queue metrics - Track job lifecycle
var (
	JobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_jobs_enqueued_total",
			Help: "Total number of ingestion jobs enqueued by type",
		},
		[]string{"type"},
	)

	JobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_jobs_failed_total",
			Help: "Total number of job executions that returned an error",
		},
		[]string{"type"},
	)

	JobsDead = promauto.NewCounter(prometheus.CounterOpts{
		Name: "registry_jobs_dead_total",
		Help: "Total number of bounded jobs dropped after exhausting attempts",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "registry_queue_depth",
		Help: "Number of jobs currently pending in the ingestion queue",
	})
)

// State metrics - Track ingestion position
var (
	CheckpointLedger = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "registry_checkpoint_ledger",
		Help: "Last ledger sequence fully processed and checkpointed",
	})

	LatestRPCLedger = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "registry_latest_rpc_ledger",
		Help: "Latest ledger sequence reported by the RPC endpoint",
	})
)

// Performance metrics
var (
	BatchFlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "registry_batch_flush_duration_seconds",
		Help:    "Time taken to flush one decoded event batch to storage",
		Buckets: prometheus.DefBuckets,
	})

	RPCRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "registry_rpc_request_duration_seconds",
			Help:    "Latency of upstream RPC calls by method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

// Error metrics
var (
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_errors_total",
			Help: "Total number of errors by component",
		},
		[]string{"component"},
	)

	EventsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "registry_events_skipped_total",
		Help: "Total number of events skipped because their payload could not be decoded",
	})
)
