package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the credit ledger.
type Metrics struct {
	// --- Core processing ---
	CoreCommandsApplied  *prometheus.CounterVec
	CoreCommandsRejected *prometheus.CounterVec
	CoreCommandDuration  *prometheus.HistogramVec
	CoreStateHashDur     prometheus.Histogram
	CoreSequence         prometheus.Gauge
	CoreTick             prometheus.Gauge

	// --- Channel & backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ProjectionDrops     prometheus.Counter
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency & ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter
	CommandSequenceGap    *prometheus.CounterVec
	CommandOutOfOrder     *prometheus.CounterVec

	// --- Loans ---
	LoansOpened   *prometheus.CounterVec
	LoansRepaid   *prometheus.CounterVec
	LoansCalled   *prometheus.CounterVec
	LoansForgiven *prometheus.CounterVec
	BookIssuance  *prometheus.GaugeVec

	// --- Auctions ---
	AuctionsStarted  *prometheus.CounterVec
	AuctionsSettled  *prometheus.CounterVec
	AuctionsForgiven *prometheus.CounterVec

	// --- Solvency ---
	SurplusBuffer         prometheus.Gauge
	DevaluationMultiplier prometheus.Gauge
	TotalIssuance         prometheus.Gauge
	LossesAbsorbed        *prometheus.CounterVec
	ProfitDistributed     *prometheus.CounterVec

	// --- Persistence ---
	PersistEventsWritten prometheus.Counter
	PersistBatchSize     prometheus.Histogram
	PersistBatchDur      prometheus.Histogram
	PersistErrors        *prometheus.CounterVec
	PersistRetry         prometheus.Counter
	PersistLastSequence  prometheus.Gauge

	// --- Snapshot & recovery ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		CoreCommandsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_core_commands_applied_total",
			Help: "Commands successfully applied by core",
		}, []string{"command_type"}),

		CoreCommandsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_core_commands_rejected_total",
			Help: "Commands rejected (dedup, gap, validation)",
		}, []string{"command_type", "reason"}),

		CoreCommandDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "credit_core_command_apply_duration_seconds",
			Help:    "Time to apply a single command in core",
			Buckets: latencyBuckets,
		}, []string{"command_type"}),

		CoreStateHashDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "credit_core_state_hash_duration_seconds",
			Help:    "Time to compute state hash",
			Buckets: latencyBuckets,
		}),

		CoreSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "credit_core_sequence",
			Help: "Current core sequence number",
		}),

		CoreTick: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "credit_core_tick",
			Help: "Latest clock tick applied by core",
		}),

		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "credit_channel_size",
			Help: "Current channel occupancy",
		}, []string{"channel"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "credit_channel_capacity",
			Help: "Channel capacity",
		}, []string{"channel"}),

		ProjectionDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "credit_projection_drops_total",
			Help: "Outputs dropped on the projection channel",
		}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "credit_publish_drops_total",
			Help: "Outputs dropped on the publish channel",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "credit_persist_backpressure_total",
			Help: "Blocking sends on the persist channel",
		}),

		IdempotencyDuplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_idempotency_duplicates_total",
			Help: "Duplicate commands detected",
		}, []string{"command_type", "tier"}),

		DedupLRUSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "credit_dedup_lru_size",
			Help: "Idempotency LRU entry count",
		}),

		DedupLRUEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "credit_dedup_lru_evictions_total",
			Help: "Idempotency LRU evictions",
		}),

		CommandSequenceGap: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_command_sequence_gap_total",
			Help: "Source sequence gaps detected",
		}, []string{"partition"}),

		CommandOutOfOrder: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_command_out_of_order_total",
			Help: "Out-of-order commands rejected",
		}, []string{"partition"}),

		LoansOpened: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_loans_opened_total",
			Help: "Loans opened",
		}, []string{"term"}),

		LoansRepaid: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_loans_repaid_total",
			Help: "Loans fully repaid",
		}, []string{"term"}),

		LoansCalled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_loans_called_total",
			Help: "Loans called into liquidation",
		}, []string{"term"}),

		LoansForgiven: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_loans_forgiven_total",
			Help: "Loans written off",
		}, []string{"term"}),

		BookIssuance: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "credit_book_issuance",
			Help: "Outstanding principal per loan book",
		}, []string{"term"}),

		AuctionsStarted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_auctions_started_total",
			Help: "Auctions started",
		}, []string{"term"}),

		AuctionsSettled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_auctions_settled_total",
			Help: "Auctions settled by a bid",
		}, []string{"term"}),

		AuctionsForgiven: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_auctions_forgiven_total",
			Help: "Auctions ended with zero recovery",
		}, []string{"term"}),

		SurplusBuffer: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "credit_surplus_buffer",
			Help: "Global first-loss surplus buffer",
		}),

		DevaluationMultiplier: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "credit_devaluation_multiplier",
			Help: "Devaluation multiplier, WAD-scaled",
		}),

		TotalIssuance: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "credit_total_issuance",
			Help: "Outstanding principal across all books",
		}),

		LossesAbsorbed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_losses_absorbed_total",
			Help: "Realized losses reported to the solvency ledger",
		}, []string{"term"}),

		ProfitDistributed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_profit_distributed_total",
			Help: "Realized profit reported to the solvency ledger",
		}, []string{"term"}),

		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "credit_persist_events_written_total",
			Help: "Envelopes written to the event log",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "credit_persist_batch_size",
			Help:    "Envelopes per persisted batch",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "credit_persist_batch_duration_seconds",
			Help:    "Time to persist a batch of envelopes",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_persist_errors_total",
			Help: "Persistence errors by kind",
		}, []string{"kind"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "credit_persist_retries_total",
			Help: "Persistence retry attempts",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "credit_persist_last_sequence",
			Help: "Highest sequence durably persisted",
		}),

		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "credit_snapshots_taken_total",
			Help: "State snapshots written",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "credit_snapshot_duration_seconds",
			Help:    "Time to write a snapshot",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),

		SnapshotLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "credit_snapshot_last_sequence",
			Help: "Sequence covered by the latest snapshot",
		}),

		ReplayEventsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "credit_replay_events_total",
			Help: "Envelopes replayed during recovery",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_query_requests_total",
			Help: "Query API requests",
		}, []string{"endpoint"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "credit_query_duration_seconds",
			Help:    "Query API latency",
			Buckets: latencyBuckets,
		}, []string{"endpoint"}),

		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_query_errors_total",
			Help: "Query API errors",
		}, []string{"endpoint", "kind"}),
	}
}
