package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for margincore.
type Metrics struct {
	// Core processing
	OpsApplied   *prometheus.CounterVec
	OpsRejected  *prometheus.CounterVec
	OpDuration   *prometheus.HistogramVec
	CoreSequence prometheus.Gauge
	HealthValue  *prometheus.GaugeVec

	// Ingestion
	IngestToApply   *prometheus.HistogramVec
	NATSPullLatency *prometheus.HistogramVec
	PublishDrops    prometheus.Counter

	// Channels & backpressure
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ProjectionDrops     prometheus.Counter
	PersistBackpressure prometheus.Counter

	// Persistence
	PersistOpsWritten   prometheus.Counter
	PersistBatchDur     prometheus.Histogram
	PersistErrors       *prometheus.CounterVec
	PersistLastSequence prometheus.Gauge

	// Snapshots
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotLastSeq   prometheus.Gauge
	ReplayOpsTotal    prometheus.Counter

	// Query API
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		OpsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_core_ops_applied_total",
			Help: "Operations committed by the core",
		}, []string{"kind"}),

		OpsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_core_ops_rejected_total",
			Help: "Operations rejected (dedup, ordering, validation)",
		}, []string{"kind", "code"}),

		OpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "margin_core_op_duration_seconds",
			Help:    "Time to process one instruction",
			Buckets: latencyBuckets,
		}, []string{"kind"}),

		CoreSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "margin_core_sequence",
			Help: "Current global sequence number",
		}),

		HealthValue: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "margin_core_last_health",
			Help: "Most recent computed account health, by health type",
		}, []string{"health_type"}),

		IngestToApply: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "margin_ingest_to_apply_seconds",
			Help:    "Receive to core apply complete",
			Buckets: latencyBuckets,
		}, []string{"kind"}),

		NATSPullLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "margin_nats_pull_latency_seconds",
			Help:    "NATS pull request latency",
			Buckets: latencyBuckets,
		}, []string{"subject"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "margin_publish_drops_total",
			Help: "Outbound events dropped due to full publish channel",
		}),

		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "margin_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "margin_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ProjectionDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "margin_projection_drops_total",
			Help: "Outputs dropped due to full projection channel",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "margin_persist_backpressure_total",
			Help: "Times the core blocked on the persist channel",
		}),

		PersistOpsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "margin_persist_ops_written_total",
			Help: "Operations written to Postgres",
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "margin_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "margin_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "margin_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "margin_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "margin_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		ReplayOpsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "margin_replay_ops_total",
			Help: "Operations replayed on startup",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "margin_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
}
