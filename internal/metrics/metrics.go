package metrics

import (
	"context"
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	// RunsTotal counts runs by outcome (success or error kind)
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xchain_stake_runs_total",
			Help: "Total number of workflow runs",
		},
		[]string{"outcome"},
	)

	// RunDuration tracks end-to-end run time
	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "xchain_stake_run_duration_seconds",
			Help:    "Workflow run duration in seconds",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
		},
	)

	// StageTransitions counts state-machine transitions by target state
	StageTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xchain_stake_stage_transitions_total",
			Help: "Total number of workflow state transitions",
		},
		[]string{"state"},
	)

	// StageDuration tracks how long each state was occupied
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "xchain_stake_stage_duration_seconds",
			Help:    "Time spent in each workflow state",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"state"},
	)

	// TransactionsSent counts source-chain transactions sent by the route executor
	TransactionsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xchain_stake_transactions_sent_total",
			Help: "Total number of transactions sent",
		},
		[]string{"operation", "status"},
	)

	// BridgePolls counts bridge status queries
	BridgePolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xchain_stake_bridge_status_polls_total",
			Help: "Total number of bridge status queries",
		},
		[]string{"status"},
	)

	// PollAttempts counts batch confirmation queries
	PollAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "xchain_stake_batch_poll_attempts_total",
			Help: "Total number of batch confirmation queries",
		},
	)

	// BatchFee tracks the last estimated batch fee in base units of the gas token
	BatchFee = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "xchain_stake_batch_fee",
			Help: "Last estimated batch fee in base units",
		},
	)

	// Balance tracks balances observed by the run, in human units
	Balance = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "xchain_stake_balance",
			Help: "Observed balance by chain and token",
		},
		[]string{"chain", "token"},
	)

	// ErrorsTotal counts errors by kind
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xchain_stake_errors_total",
			Help: "Total number of errors",
		},
		[]string{"stage", "kind"},
	)

	// GasUsed tracks gas used for source-chain transactions
	GasUsed = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "xchain_stake_gas_used",
			Help:    "Gas used for source-chain transactions",
			Buckets: []float64{21000, 50000, 100000, 200000, 300000, 500000, 1000000},
		},
		[]string{"operation"},
	)
)

// SetBatchFee records a fee given in base units.
func SetBatchFee(fee *big.Int) {
	if fee == nil {
		return
	}
	f, _ := new(big.Float).SetInt(fee).Float64()
	BatchFee.Set(f)
}

// Push sends the default registry to a Pushgateway under the given job, grouped by run.
// An empty url disables pushing.
func Push(ctx context.Context, url, job, runID string) error {
	if url == "" {
		return nil
	}
	return push.New(url, job).
		Gatherer(prometheus.DefaultGatherer).
		Grouping("run_id", runID).
		PushContext(ctx)
}
