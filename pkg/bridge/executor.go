// Package bridge executes a selected cross-chain route step by step on the source chain.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/chainsafe/xchain-stake/internal/metrics"
	apperrors "github.com/chainsafe/xchain-stake/pkg/app/errors"
	"github.com/chainsafe/xchain-stake/pkg/chain"
	"github.com/chainsafe/xchain-stake/pkg/ethereum"
	"github.com/chainsafe/xchain-stake/pkg/lifi"
	"github.com/chainsafe/xchain-stake/pkg/txbuilder"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

const (
	defaultStatusPollInterval = 10 * time.Second
	defaultMaxStatusPolls     = 360

	processTokenAllowance = "TOKEN_ALLOWANCE"
	processSwap           = "SWAP"
	processCrossChain     = "CROSS_CHAIN"
)

// ErrTransferPending is the only status outcome that is polled again.
var ErrTransferPending = errors.New("transfer not yet received")

// StepClient populates step transactions and reports transfer status.
type StepClient interface {
	GetStepTransaction(ctx context.Context, step lifi.Step) (*lifi.Step, error)
	GetStatus(ctx context.Context, req lifi.StatusRequest) (*lifi.StatusResponse, error)
}

// ChainClient signs and sends source-chain transactions.
type ChainClient interface {
	Address() common.Address
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	SendTransaction(ctx context.Context, req ethereum.TxRequest) (*types.Transaction, error)
	WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

// UpdateFunc observes route progress after every execution change.
type UpdateFunc func(route *lifi.Route)

// Config controls status polling
type Config struct {
	StatusPollInterval time.Duration
	MaxStatusPolls     uint
}

// Executor runs routes
type Executor struct {
	steps   StepClient
	chain   ChainClient
	builder *txbuilder.Builder
	cfg     Config
	logger  *zap.Logger
}

// NewExecutor creates a new route executor
func NewExecutor(steps StepClient, chainClient ChainClient, builder *txbuilder.Builder, cfg Config, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.StatusPollInterval <= 0 {
		cfg.StatusPollInterval = defaultStatusPollInterval
	}
	if cfg.MaxStatusPolls == 0 {
		cfg.MaxStatusPolls = defaultMaxStatusPolls
	}
	return &Executor{steps: steps, chain: chainClient, builder: builder, cfg: cfg, logger: logger}
}

// ExecuteRoute executes every step of route in order. onUpdate, when set, is called
// after each change of a step's execution record.
func (e *Executor) ExecuteRoute(ctx context.Context, route *lifi.Route, onUpdate UpdateFunc) (*lifi.Route, error) {
	if route == nil || len(route.Steps) == 0 {
		return nil, apperrors.RouteUnavailableError(nil, "route has no steps")
	}
	notify := func() {
		if onUpdate != nil {
			onUpdate(route)
		}
	}

	for i := range route.Steps {
		step := &route.Steps[i]
		step.Execution = &lifi.Execution{Status: lifi.ExecutionPending}
		notify()

		if err := e.executeStep(ctx, step, notify); err != nil {
			step.Execution.Status = lifi.ExecutionFailed
			notify()
			return route, apperrors.ExecutionFailureError(err, "route step failed",
				apperrors.F("route_id", route.ID),
				apperrors.F("step", i),
				apperrors.F("tool", step.Tool))
		}

		step.Execution.Status = lifi.ExecutionDone
		notify()
	}
	return route, nil
}

func (e *Executor) executeStep(ctx context.Context, step *lifi.Step, notify func()) error {
	populated, err := e.steps.GetStepTransaction(ctx, *step)
	if err != nil {
		return fmt.Errorf("get step transaction: %w", err)
	}
	if populated.TransactionRequest == nil {
		return errors.New("step has no transaction request")
	}
	execution := step.Execution
	*step = *populated
	step.Execution = execution

	fromToken := step.Action.FromToken.ToChainToken()
	amount, ok := new(big.Int).SetString(step.Action.FromAmount, 10)
	if !ok {
		return fmt.Errorf("invalid step amount %q", step.Action.FromAmount)
	}

	if !fromToken.IsNative() {
		if err := e.ensureAllowance(ctx, step, fromToken, amount, notify); err != nil {
			return err
		}
	}

	req, err := toTxRequest(step.TransactionRequest)
	if err != nil {
		return err
	}
	crossChain := step.Action.FromChainID != step.Action.ToChainID
	req.Operation = strings.ToLower(processSwap)
	if crossChain {
		req.Operation = "bridge"
	}

	process := e.startProcess(step, processSwap)
	if crossChain {
		process.Type = processCrossChain
	}

	tx, err := e.chain.SendTransaction(ctx, req)
	if err != nil {
		return fmt.Errorf("send step transaction: %w", err)
	}
	process.TxHash = tx.Hash().Hex()
	notify()

	receipt, err := e.chain.WaitMined(ctx, tx)
	if err != nil {
		return err
	}
	metrics.GasUsed.WithLabelValues(req.Operation).Observe(float64(receipt.GasUsed))

	e.logger.Info("Step transaction mined",
		zap.String("tool", step.Tool),
		zap.String("tx_hash", process.TxHash),
		zap.Stringer("block", receipt.BlockNumber))

	if crossChain {
		status, err := e.WaitForReceiving(ctx, lifi.StatusRequest{
			Bridge:    step.Tool,
			FromChain: step.Action.FromChainID,
			ToChain:   step.Action.ToChainID,
			TxHash:    process.TxHash,
		})
		if err != nil {
			return err
		}
		e.logger.Info("Transfer received",
			zap.String("tool", step.Tool),
			zap.String("receiving_tx_hash", status.Receiving.TxHash),
			zap.String("amount", status.Receiving.Amount))
	}

	process.Status = lifi.ExecutionDone
	return nil
}

// ensureAllowance approves the step's approval address for amount when the current
// allowance is lower.
func (e *Executor) ensureAllowance(ctx context.Context, step *lifi.Step, token chain.Token, amount *big.Int, notify func()) error {
	if !common.IsHexAddress(step.Estimate.ApprovalAddress) {
		return fmt.Errorf("invalid approval address %q", step.Estimate.ApprovalAddress)
	}
	spender := common.HexToAddress(step.Estimate.ApprovalAddress)

	allowance, err := e.chain.Allowance(ctx, token.Address, e.chain.Address(), spender)
	if err != nil {
		return fmt.Errorf("check allowance: %w", err)
	}
	if allowance.Cmp(amount) >= 0 {
		return nil
	}

	call, err := e.builder.BuildApprove(token.Address, spender, amount)
	if err != nil {
		return err
	}
	process := e.startProcess(step, processTokenAllowance)
	tx, err := e.chain.SendTransaction(ctx, ethereum.TxRequest{Operation: "approve", To: call.To, Data: call.Data})
	if err != nil {
		return fmt.Errorf("send approval: %w", err)
	}
	process.TxHash = tx.Hash().Hex()
	notify()

	if _, err := e.chain.WaitMined(ctx, tx); err != nil {
		return err
	}
	process.Status = lifi.ExecutionDone
	notify()

	e.logger.Info("Token approved",
		zap.String("token", token.Symbol),
		zap.String("spender", spender.Hex()),
		zap.String("amount", amount.String()))
	return nil
}

// startProcess appends a pending process to the step and returns it.
func (e *Executor) startProcess(step *lifi.Step, kind string) *lifi.Process {
	step.Execution.Process = append(step.Execution.Process, lifi.Process{Type: kind, Status: lifi.ExecutionPending})
	return &step.Execution.Process[len(step.Execution.Process)-1]
}

// WaitForReceiving polls the transfer status at a fixed interval until the destination
// side reports DONE. FAILED and INVALID are terminal.
func (e *Executor) WaitForReceiving(ctx context.Context, req lifi.StatusRequest) (*lifi.StatusResponse, error) {
	var status *lifi.StatusResponse

	err := retry.Do(
		func() error {
			s, err := e.steps.GetStatus(ctx, req)
			if err != nil {
				if errors.Is(err, lifi.ErrNotFound) {
					metrics.BridgePolls.WithLabelValues(lifi.StatusNotFound).Inc()
					return ErrTransferPending
				}
				return err
			}
			metrics.BridgePolls.WithLabelValues(s.Status).Inc()

			switch s.Status {
			case lifi.StatusDone:
				status = s
				return nil
			case lifi.StatusFailed, lifi.StatusInvalid:
				return fmt.Errorf("transfer %s: %s %s", req.TxHash, s.Status, s.Substatus)
			default:
				return ErrTransferPending
			}
		},
		retry.Context(ctx),
		retry.Attempts(e.cfg.MaxStatusPolls),
		retry.Delay(e.cfg.StatusPollInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, ErrTransferPending)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("wait for transfer %s: %w", req.TxHash, err)
	}
	return status, nil
}

func toTxRequest(tr *lifi.TransactionRequest) (ethereum.TxRequest, error) {
	if !common.IsHexAddress(tr.To) {
		return ethereum.TxRequest{}, fmt.Errorf("invalid transaction target %q", tr.To)
	}
	data, err := hexutil.Decode(tr.Data)
	if err != nil {
		return ethereum.TxRequest{}, fmt.Errorf("invalid transaction data: %w", err)
	}
	req := ethereum.TxRequest{To: common.HexToAddress(tr.To), Data: data}

	if req.Value, err = parseQuantity(tr.Value); err != nil {
		return ethereum.TxRequest{}, fmt.Errorf("invalid value: %w", err)
	}
	if req.GasPrice, err = parseQuantity(tr.GasPrice); err != nil {
		return ethereum.TxRequest{}, fmt.Errorf("invalid gas price: %w", err)
	}
	gasLimit, err := parseQuantity(tr.GasLimit)
	if err != nil {
		return ethereum.TxRequest{}, fmt.Errorf("invalid gas limit: %w", err)
	}
	if gasLimit != nil {
		req.GasLimit = gasLimit.Uint64()
	}
	return req, nil
}

// parseQuantity accepts 0x-prefixed hex or decimal. Empty yields nil.
func parseQuantity(s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, ok := new(big.Int).SetString(s[2:], 16)
		if !ok {
			return nil, fmt.Errorf("malformed hex quantity %q", s)
		}
		return v, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("malformed quantity %q", s)
	}
	return v, nil
}
