package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the stabilizer service.
type Metrics struct {
	// --- Operation processing ---
	OpsApplied  *prometheus.CounterVec
	OpsRejected *prometheus.CounterVec
	OpDuration  *prometheus.HistogramVec
	Sequence    prometheus.Gauge

	// --- Vault risk state ---
	EquityRatio     *prometheus.GaugeVec
	DebtValue       *prometheus.GaugeVec
	CallAmount      *prometheus.GaugeVec
	LoanLimitBreach *prometheus.GaugeVec
	DefaultedVaults prometheus.Gauge

	// --- Debt lifecycle ---
	FeePaidTotal      *prometheus.CounterVec
	MarginCalls       prometheus.Counter
	Liquidations      prometheus.Counter
	LiquidationShort  prometheus.Counter

	// --- Channels & fan-out ---
	ChannelSize  *prometheus.GaugeVec
	PublishDrops prometheus.Counter

	// --- Persistence ---
	PersistEventsWritten prometheus.Counter
	PersistErrors        *prometheus.CounterVec
	PersistBatchSize     prometheus.Histogram
	PersistLastSequence  prometheus.Gauge
	SnapshotTaken        prometheus.Counter
	SnapshotDuration     prometheus.Histogram

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics on the default registry.
func NewMetrics() *Metrics {
	opBuckets := []float64{
		0.000005, 0.00001, 0.000025, 0.00005, 0.0001,
		0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		OpsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stab_ops_applied_total",
			Help: "Vault operations successfully applied",
		}, []string{"op"}),
		OpsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stab_ops_rejected_total",
			Help: "Vault operations rejected, by violated precondition",
		}, []string{"op", "reason"}),
		OpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stab_op_duration_seconds",
			Help:    "Operation apply latency",
			Buckets: opBuckets,
		}, []string{"op"}),
		Sequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "stab_sequence",
			Help: "Last assigned event sequence",
		}),

		EquityRatio: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stab_vault_equity_ratio",
			Help: "Current equity ratio per vault (1.0 == 100%)",
		}, []string{"vault"}),
		DebtValue: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stab_vault_debt",
			Help: "Outstanding debt per vault, pegged units (approximate float)",
		}, []string{"vault"}),
		CallAmount: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stab_vault_call_amount",
			Help: "Outstanding margin-call amount per vault (approximate float)",
		}, []string{"vault"}),
		LoanLimitBreach: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stab_vault_loan_limit_breach",
			Help: "1 when borrowed principal exceeds the advisory loan limit",
		}, []string{"vault"}),
		DefaultedVaults: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "stab_defaulted_vaults",
			Help: "Vaults currently in the defaulted state",
		}),

		FeePaidTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stab_fee_paid_total",
			Help: "Spread fee settled to the treasury (approximate float)",
		}, []string{"vault"}),
		MarginCalls: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stab_margin_calls_total",
			Help: "Margin calls issued",
		}),
		Liquidations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stab_liquidations_total",
			Help: "Completed liquidations",
		}),
		LiquidationShort: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stab_liquidation_shortfalls_total",
			Help: "Liquidations rejected because the payout could not be assembled",
		}),

		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stab_channel_size",
			Help: "Current fan-out channel depth",
		}, []string{"channel"}),
		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stab_publish_drops_total",
			Help: "Outbound events dropped because the publish channel was full",
		}),

		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stab_persist_events_written_total",
			Help: "Events written to the Postgres event log",
		}),
		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stab_persist_errors_total",
			Help: "Persistence failures by kind",
		}, []string{"kind"}),
		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "stab_persist_batch_size",
			Help:    "Events per flushed batch",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		}),
		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "stab_persist_last_sequence",
			Help: "Last sequence durably written",
		}),
		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stab_snapshots_taken_total",
			Help: "State snapshots written",
		}),
		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "stab_snapshot_duration_seconds",
			Help:    "Snapshot write latency",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stab_query_requests_total",
			Help: "Read-side requests by endpoint",
		}, []string{"endpoint"}),
		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stab_query_duration_seconds",
			Help:    "Read-side request latency",
			Buckets: opBuckets,
		}, []string{"endpoint"}),
	}
}
