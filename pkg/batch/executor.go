// Package batch assembles the destination-chain calls into one atomic smart-account
// batch, gates it on fee affordability, submits it and waits for it to be mined.
package batch

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/chainsafe/xchain-stake/internal/metrics"
	apperrors "github.com/chainsafe/xchain-stake/pkg/app/errors"
	"github.com/chainsafe/xchain-stake/pkg/txbuilder"
	"go.uber.org/zap"
)

const (
	defaultPollInterval    = time.Second
	defaultMaxPollAttempts = 900
)

// ErrBatchPending is the only poll outcome that is retried.
var ErrBatchPending = errors.New("batch not yet mined")

// Config controls submission and confirmation polling.
type Config struct {
	PollInterval    time.Duration
	MaxPollAttempts uint
	// DryRun stops after the fee check and leaves the batch unsubmitted.
	DryRun bool
}

// Executor runs a single batch through the gateway.
type Executor struct {
	gateway Gateway
	cfg     Config
	logger  *zap.Logger
}

// NewExecutor creates a new batch executor
func NewExecutor(gateway Gateway, cfg Config, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaxPollAttempts == 0 {
		cfg.MaxPollAttempts = defaultMaxPollAttempts
	}
	return &Executor{gateway: gateway, cfg: cfg, logger: logger}
}

// Execute appends the calls, estimates the batch fee, checks that expectedGasOutput
// covers it and submits the batch. Nothing is submitted when the fee is not covered.
func (e *Executor) Execute(ctx context.Context, calls Calls, expectedGasOutput *big.Int) (*Receipt, error) {
	if expectedGasOutput == nil {
		expectedGasOutput = new(big.Int)
	}
	ordered := calls.Ordered()
	for i, call := range ordered {
		if len(call.Data) == 0 {
			return nil, apperrors.ConfigurationError(nil, "batch call is empty",
				apperrors.F("call", CallNames[i]))
		}
	}

	e.gateway.ClearBatch()
	for i, call := range ordered {
		if err := e.gateway.AddBatchCall(ctx, call); err != nil {
			e.gateway.ClearBatch()
			return nil, apperrors.ExecutionFailureError(err, "gateway rejected batch call",
				apperrors.F("call", CallNames[i]),
				apperrors.F("to", call.To.Hex()))
		}
		e.logger.Debug("Batch call added",
			zap.String("call", CallNames[i]),
			zap.String("to", call.To.Hex()),
			zap.Int("data_len", len(call.Data)))
	}

	receipt := &Receipt{Calls: ordered}

	estimation, err := e.gateway.EstimateBatch(ctx)
	if err == nil && (estimation == nil || estimation.FeeAmount == nil) {
		err = errors.New("estimation carries no fee amount")
	}
	if err != nil {
		e.gateway.ClearBatch()
		return nil, apperrors.ExecutionFailureError(err, "batch estimation failed",
			apperrors.F("calls", len(ordered)))
	}
	receipt.EstimatedFee = estimation.FeeAmount
	metrics.SetBatchFee(estimation.FeeAmount)

	e.logger.Info("Batch estimated",
		zap.Int("calls", len(ordered)),
		zap.String("fee", estimation.FeeAmount.String()),
		zap.String("expected_gas_output", expectedGasOutput.String()))

	if expectedGasOutput.Cmp(estimation.FeeAmount) < 0 {
		e.gateway.ClearBatch()
		return nil, apperrors.FeeShortfallError(nil, "swapped gas token would not cover the batch fee",
			apperrors.F("expected_gas_output", expectedGasOutput),
			apperrors.F("estimated_fee", estimation.FeeAmount))
	}

	if e.cfg.DryRun {
		e.logger.Info("Dry run, batch not submitted")
		e.gateway.ClearBatch()
		return receipt, nil
	}

	submitted, err := e.gateway.SubmitBatch(ctx)
	if err != nil {
		return nil, apperrors.ExecutionFailureError(err, "batch submission rejected",
			apperrors.F("estimated_fee", estimation.FeeAmount))
	}
	receipt.BatchHash = submitted.Hash
	e.logger.Info("Batch submitted",
		zap.String("batch_hash", submitted.Hash),
		zap.String("state", submitted.State))

	if submitted.TransactionHash == "" {
		txHash, attempts, err := e.WaitForConfirmation(ctx, submitted.Hash)
		receipt.PollAttempts = attempts
		if err != nil {
			return nil, err
		}
		submitted.TransactionHash = txHash
	}

	receipt.TransactionHash = submitted.TransactionHash
	receipt.Confirmed = true
	e.logger.Info("Batch executed",
		zap.String("batch_hash", submitted.Hash),
		zap.String("tx_hash", receipt.TransactionHash),
		zap.Int("poll_attempts", receipt.PollAttempts))

	return receipt, nil
}

// WaitForConfirmation polls the gateway at a fixed interval until the batch has a
// transaction hash. Each poll is one request; only a pending batch is polled again.
// It returns the transaction hash and the number of status queries issued.
func (e *Executor) WaitForConfirmation(ctx context.Context, batchHash string) (string, int, error) {
	var (
		txHash   string
		attempts int
	)

	err := retry.Do(
		func() error {
			attempts++
			metrics.PollAttempts.Inc()
			b, err := e.gateway.GetBatch(ctx, batchHash)
			if err != nil {
				return err
			}
			if b == nil || b.TransactionHash == "" {
				return ErrBatchPending
			}
			txHash = b.TransactionHash
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(e.cfg.MaxPollAttempts),
		retry.Delay(e.cfg.PollInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, ErrBatchPending)
		}),
		retry.OnRetry(func(n uint, _ error) {
			e.logger.Debug("Batch not mined yet", zap.String("batch_hash", batchHash), zap.Uint("attempt", n+1))
		}),
	)
	if err == nil {
		return txHash, attempts, nil
	}

	switch {
	case errors.Is(err, ErrBatchPending):
		return "", attempts, apperrors.ExecutionFailureError(err, "batch not confirmed within the poll budget",
			apperrors.F("batch_hash", batchHash),
			apperrors.F("attempts", attempts),
			apperrors.F("interval", e.cfg.PollInterval))
	case ctx.Err() != nil:
		return "", attempts, apperrors.ExecutionFailureError(ctx.Err(), "confirmation polling cancelled",
			apperrors.F("batch_hash", batchHash),
			apperrors.F("attempts", attempts))
	default:
		return "", attempts, apperrors.ExecutionFailureError(fmt.Errorf("get batch: %w", err), "batch status query failed",
			apperrors.F("batch_hash", batchHash),
			apperrors.F("attempts", attempts))
	}
}

// NewCalls builds the six-call batch from its parts in batch order.
func NewCalls(approveTotal, swapGas, swapGovernance, approveStake, stake, transfer txbuilder.Call) Calls {
	return Calls{
		ApproveTotal:   approveTotal,
		SwapGas:        swapGas,
		SwapGovernance: swapGovernance,
		ApproveStake:   approveStake,
		Stake:          stake,
		Transfer:       transfer,
	}
}
