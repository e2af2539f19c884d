// Package orchestrator drives one run end to end: bridge the stablecoin to the smart
// account, split it into the gas and governance swaps, stake, and forward the receipt
// token back to the key-based wallet.
package orchestrator

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/chainsafe/xchain-stake/internal/metrics"
	apperrors "github.com/chainsafe/xchain-stake/pkg/app/errors"
	"github.com/chainsafe/xchain-stake/pkg/batch"
	"github.com/chainsafe/xchain-stake/pkg/bridge"
	"github.com/chainsafe/xchain-stake/pkg/chain"
	"github.com/chainsafe/xchain-stake/pkg/lifi"
	"github.com/chainsafe/xchain-stake/pkg/planner"
	"github.com/chainsafe/xchain-stake/pkg/quote"
	"github.com/chainsafe/xchain-stake/pkg/txbuilder"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Directory resolves chains and tokens and lists bridge routes
type Directory interface {
	GetChain(ctx context.Context, chainID uint64) (chain.Chain, error)
	GetToken(ctx context.Context, chainID uint64, token string) (chain.Token, error)
	GetRoutes(ctx context.Context, req lifi.RoutesRequest) ([]lifi.Route, error)
}

// RouteExecutor executes a selected route with the key-based wallet
type RouteExecutor interface {
	ExecuteRoute(ctx context.Context, route *lifi.Route, onUpdate bridge.UpdateFunc) (*lifi.Route, error)
}

// AccountResolver computes the smart-account address of the key-based wallet
type AccountResolver interface {
	ComputeAccount(ctx context.Context) (common.Address, error)
}

// BalanceReader reads token balances
type BalanceReader interface {
	BalanceOf(ctx context.Context, token chain.Token, owner common.Address) (*big.Int, error)
}

// QuotePairer quotes the gas and governance legs under one approval address
type QuotePairer interface {
	QuotePair(ctx context.Context, gasLeg, stakeLeg quote.Leg) (*quote.Quote, *quote.Quote, error)
}

// BatchRunner estimates, gates and submits the destination batch
type BatchRunner interface {
	Execute(ctx context.Context, calls batch.Calls, expectedGasOutput *big.Int) (*batch.Receipt, error)
}

// Config holds the run parameters. Amounts are in human units of the stablecoin.
type Config struct {
	SourceChainID      uint64
	DestinationChainID uint64

	SourceStablecoin      string
	DestinationStablecoin string
	// GasToken empty means the destination chain's native token.
	GasToken        string
	GovernanceToken string
	ReceiptToken    string

	BridgeAmount   string
	Reserve        string
	Cap            string
	AllowedBridges []string
	Integrator     string
	Slippage       float64

	// SkipBridge starts from an already funded smart account.
	SkipBridge bool
}

// Deps are the collaborators of a run
type Deps struct {
	Directory           Directory
	Routes              RouteExecutor
	Accounts            AccountResolver
	SourceBalances      BalanceReader
	DestinationBalances BalanceReader
	Quotes              QuotePairer
	Batch               BatchRunner
	Builder             *txbuilder.Builder
	Selector            RouteSelector
	Settlement          SettlementPolicy
}

// Tokens are the resolved tokens of a run
type Tokens struct {
	Source       chain.Chain
	Destination  chain.Chain
	SourceStable chain.Token
	DestStable   chain.Token
	Gas          chain.Token
	Governance   chain.Token
	Receipt      chain.Token
}

// Result is what a run observed and did
type Result struct {
	State          State
	Owner          common.Address
	Account        common.Address
	Tokens         Tokens
	Route          *lifi.Route
	BridgedBalance *big.Int
	Plan           *planner.AmountPlan
	GasQuote       *quote.Quote
	StakeQuote     *quote.Quote
	Calls          batch.Calls
	Receipt        *batch.Receipt
	// ReceiptBalance is the key-based wallet's receipt-token balance after the batch.
	ReceiptBalance *big.Int
}

// Orchestrator runs the workflow once per Run call. It is not safe for concurrent Runs.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	owner  common.Address
	logger *zap.Logger

	state   State
	entered time.Time
}

// New creates a new orchestrator acting for the key-based wallet owner
func New(cfg Config, deps Deps, owner common.Address, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Selector == nil {
		deps.Selector = FirstRoute{}
	}
	if deps.Settlement == nil {
		deps.Settlement = SingleRead{}
	}
	return &Orchestrator{cfg: cfg, deps: deps, owner: owner, logger: logger}
}

// State returns the current state
func (o *Orchestrator) State() State {
	return o.state
}

// Run executes the workflow. On failure the returned error carries the stage it
// failed in and the partial result is still returned.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	o.state = StateIdle
	o.entered = start
	res := &Result{Owner: o.owner}

	err := o.run(ctx, res)
	res.State = o.state

	outcome := "success"
	if err != nil {
		outcome = apperrors.KindOf(err).String()
	}
	metrics.RunsTotal.WithLabelValues(outcome).Inc()
	metrics.RunDuration.Observe(time.Since(start).Seconds())
	return res, err
}

func (o *Orchestrator) run(ctx context.Context, res *Result) error {
	tokens, err := o.resolve(ctx)
	if err != nil {
		return o.fail(err)
	}
	res.Tokens = *tokens

	account, err := o.deps.Accounts.ComputeAccount(ctx)
	if err != nil {
		return o.fail(apperrors.ExecutionFailureError(err, "failed to compute smart account"))
	}
	res.Account = account

	if o.cfg.SkipBridge {
		o.logger.Info("Bridge skipped, using the smart account balance")
	} else {
		if res.Route, err = o.bridge(ctx, tokens, account); err != nil {
			return o.fail(err)
		}
	}

	balance, err := o.deps.Settlement.Settle(ctx, func(ctx context.Context) (*big.Int, error) {
		return o.deps.DestinationBalances.BalanceOf(ctx, tokens.DestStable, account)
	})
	if err != nil {
		return o.fail(classify(err, apperrors.KindExecutionFailure, "failed to read bridged balance"))
	}
	balance = orZero(balance)
	res.BridgedBalance = balance
	o.observeBalance(tokens.Destination, tokens.DestStable, balance)
	o.transition(StateBridgeSettled)

	o.transition(StatePlanning)
	plan, err := o.plan(tokens.DestStable, balance)
	if err != nil {
		return o.fail(err)
	}
	res.Plan = plan

	o.transition(StateQuoting)
	gasQuote, stakeQuote, err := o.deps.Quotes.QuotePair(ctx,
		quote.Leg{
			Name:      "gas",
			Chain:     tokens.Destination.ID,
			Owner:     account,
			FromToken: tokens.DestStable,
			ToToken:   tokens.Gas,
			Amount:    plan.GasSwapAmount,
		},
		quote.Leg{
			Name:      "stake",
			Chain:     tokens.Destination.ID,
			Owner:     account,
			FromToken: tokens.DestStable,
			ToToken:   tokens.Governance,
			Amount:    plan.StakeSwapAmount,
		})
	if err != nil {
		return o.fail(classify(err, apperrors.KindExecutionFailure, "quoting failed"))
	}
	res.GasQuote, res.StakeQuote = gasQuote, stakeQuote

	o.transition(StateBatchBuilding)
	calls, err := o.buildCalls(tokens, gasQuote, stakeQuote)
	if err != nil {
		return o.fail(err)
	}
	res.Calls = calls

	receipt, err := o.deps.Batch.Execute(ctx, calls, gasQuote.ToAmountMin)
	if err != nil {
		return o.fail(classify(err, apperrors.KindExecutionFailure, "batch execution failed"))
	}
	res.Receipt = receipt
	if !receipt.Confirmed {
		o.logger.Info("Batch estimated but not submitted",
			zap.String("fee", receipt.EstimatedFee.String()))
		return nil
	}

	o.transition(StateBatchSubmitted)
	o.transition(StateConfirmed)

	res.ReceiptBalance = o.report(ctx, tokens)
	return nil
}

// resolve looks up both chains and every token of the run.
func (o *Orchestrator) resolve(ctx context.Context) (*Tokens, error) {
	var (
		t   Tokens
		err error
	)
	if t.Source, err = o.deps.Directory.GetChain(ctx, o.cfg.SourceChainID); err != nil {
		return nil, lookupError(err, "source chain", o.cfg.SourceChainID)
	}
	if t.Destination, err = o.deps.Directory.GetChain(ctx, o.cfg.DestinationChainID); err != nil {
		return nil, lookupError(err, "destination chain", o.cfg.DestinationChainID)
	}

	lookups := []struct {
		name    string
		chainID uint64
		token   string
		out     *chain.Token
	}{
		{"source stablecoin", t.Source.ID, o.cfg.SourceStablecoin, &t.SourceStable},
		{"destination stablecoin", t.Destination.ID, o.cfg.DestinationStablecoin, &t.DestStable},
		{"governance token", t.Destination.ID, o.cfg.GovernanceToken, &t.Governance},
		{"receipt token", t.Destination.ID, o.cfg.ReceiptToken, &t.Receipt},
	}
	if o.cfg.GasToken != "" {
		lookups = append(lookups, struct {
			name    string
			chainID uint64
			token   string
			out     *chain.Token
		}{"gas token", t.Destination.ID, o.cfg.GasToken, &t.Gas})
	} else {
		t.Gas = t.Destination.NativeToken
	}

	for _, l := range lookups {
		if *l.out, err = o.deps.Directory.GetToken(ctx, l.chainID, l.token); err != nil {
			return nil, lookupError(err, l.name, l.token)
		}
	}

	o.logger.Info("Tokens resolved",
		zap.String("source_chain", t.Source.Name),
		zap.String("destination_chain", t.Destination.Name),
		zap.Stringer("source_stablecoin", t.SourceStable),
		zap.Stringer("destination_stablecoin", t.DestStable),
		zap.Stringer("gas_token", t.Gas),
		zap.Stringer("governance_token", t.Governance),
		zap.Stringer("receipt_token", t.Receipt))
	return &t, nil
}

// bridge requests routes, selects one and executes it with the key-based wallet.
func (o *Orchestrator) bridge(ctx context.Context, t *Tokens, account common.Address) (*lifi.Route, error) {
	o.transition(StateRouteRequested)

	amount, err := t.SourceStable.ParseAmount(o.cfg.BridgeAmount)
	if err != nil {
		return nil, apperrors.ConfigurationError(err, "invalid bridge amount",
			apperrors.F("bridge_amount", o.cfg.BridgeAmount))
	}

	held, err := o.deps.SourceBalances.BalanceOf(ctx, t.SourceStable, o.owner)
	if err != nil {
		return nil, apperrors.ExecutionFailureError(err, "failed to read source balance")
	}
	held = orZero(held)
	o.observeBalance(t.Source, t.SourceStable, held)
	if held.Cmp(amount) < 0 {
		return nil, apperrors.InsufficientFundsError(nil, "source wallet cannot cover the bridge amount",
			apperrors.F("available", t.SourceStable.Format(held)),
			apperrors.F("required", t.SourceStable.Format(amount)))
	}

	routes, err := o.deps.Directory.GetRoutes(ctx, lifi.RoutesRequest{
		FromChainID:      t.Source.ID,
		FromTokenAddress: t.SourceStable.Address.Hex(),
		FromAddress:      o.owner.Hex(),
		FromAmount:       amount.String(),
		ToChainID:        t.Destination.ID,
		ToTokenAddress:   t.DestStable.Address.Hex(),
		ToAddress:        account.Hex(),
		Options: lifi.RoutesOptions{
			Integrator: o.cfg.Integrator,
			Slippage:   o.cfg.Slippage,
			Bridges:    &lifi.AllowDeny{Allow: o.cfg.AllowedBridges},
		},
	})
	if err != nil {
		return nil, apperrors.RouteUnavailableError(err, "route request failed")
	}
	if len(routes) == 0 {
		return nil, apperrors.RouteUnavailableError(nil, "no route found",
			apperrors.F("from_chain", t.Source.ID),
			apperrors.F("to_chain", t.Destination.ID),
			apperrors.F("allowed_bridges", o.cfg.AllowedBridges))
	}
	route, err := o.deps.Selector.Select(routes)
	if err != nil {
		return nil, classify(err, apperrors.KindRouteUnavailable, "route selection failed")
	}

	o.logger.Info("Route selected",
		zap.String("route_id", route.ID),
		zap.Int("candidates", len(routes)),
		zap.Int("steps", len(route.Steps)),
		zap.String("from_amount", t.SourceStable.Format(amount)),
		zap.String("to_amount_min", route.ToAmountMin))

	o.transition(StateBridgeExecuting)
	executed, err := o.deps.Routes.ExecuteRoute(ctx, route, o.logProgress)
	if err != nil {
		return route, classify(err, apperrors.KindExecutionFailure, "route execution failed")
	}
	return executed, nil
}

func (o *Orchestrator) logProgress(route *lifi.Route) {
	exec := route.LastExecution()
	if exec == nil {
		return
	}
	fields := []zap.Field{zap.String("route_id", route.ID), zap.String("status", exec.Status)}
	if n := len(exec.Process); n > 0 {
		p := exec.Process[n-1]
		fields = append(fields,
			zap.String("process", p.Type),
			zap.String("process_status", p.Status),
			zap.String("tx_hash", p.TxHash))
	}
	o.logger.Info("Route progress", fields...)
}

func (o *Orchestrator) plan(stable chain.Token, balance *big.Int) (*planner.AmountPlan, error) {
	reserve, err := stable.ParseAmount(o.cfg.Reserve)
	if err != nil {
		return nil, apperrors.ConfigurationError(err, "invalid reserve", apperrors.F("reserve", o.cfg.Reserve))
	}
	var stakeCap *big.Int
	if o.cfg.Cap != "" {
		if stakeCap, err = stable.ParseAmount(o.cfg.Cap); err != nil {
			return nil, apperrors.ConfigurationError(err, "invalid cap", apperrors.F("cap", o.cfg.Cap))
		}
	}

	plan, err := planner.Plan(balance, reserve, stakeCap)
	if err != nil {
		return nil, err
	}
	o.logger.Info("Amounts planned",
		zap.String("available", stable.Format(plan.Available)),
		zap.String("gas_swap", stable.Format(plan.GasSwapAmount)),
		zap.String("stake_swap", stable.Format(plan.StakeSwapAmount)))
	return plan, nil
}

// buildCalls lays out the batch. The approval covers both swaps because they share
// one approval address; stake, its approval and the transfer use the governance
// leg's minimum output.
func (o *Orchestrator) buildCalls(t *Tokens, gas, stake *quote.Quote) (batch.Calls, error) {
	b := o.deps.Builder
	total := new(big.Int).Add(gas.FromAmount, stake.FromAmount)

	approveTotal, err := b.BuildApprove(t.DestStable.Address, gas.ApprovalAddress, total)
	if err != nil {
		return batch.Calls{}, apperrors.ConfigurationError(err, "failed to build approve call")
	}
	approveStake, err := b.BuildApprove(t.Governance.Address, b.StakingContract(), stake.ToAmountMin)
	if err != nil {
		return batch.Calls{}, apperrors.ConfigurationError(err, "failed to build stake approval")
	}
	stakeCall, err := b.BuildStake(stake.ToAmountMin)
	if err != nil {
		return batch.Calls{}, apperrors.ConfigurationError(err, "failed to build stake call")
	}
	transfer, err := b.BuildTransfer(t.Receipt.Address, o.owner, stake.ToAmountMin)
	if err != nil {
		return batch.Calls{}, apperrors.ConfigurationError(err, "failed to build transfer call")
	}

	o.logger.Info("Batch built",
		zap.String("approve_total", t.DestStable.Format(total)),
		zap.String("gas_out_min", t.Gas.Format(gas.ToAmountMin)),
		zap.String("stake", t.Governance.Format(stake.ToAmountMin)),
		zap.String("recipient", o.owner.Hex()))

	return batch.NewCalls(approveTotal, *gas.Call, *stake.Call, approveStake, stakeCall, transfer), nil
}

// report reads the receipt-token balance of the key-based wallet. A failed read is
// logged only; the batch is already final.
func (o *Orchestrator) report(ctx context.Context, t *Tokens) *big.Int {
	balance, err := o.deps.DestinationBalances.BalanceOf(ctx, t.Receipt, o.owner)
	if err != nil {
		o.logger.Warn("Failed to read receipt token balance", zap.Error(err))
		return nil
	}
	balance = orZero(balance)
	o.observeBalance(t.Destination, t.Receipt, balance)
	o.logger.Info("Run complete",
		zap.String("owner", o.owner.Hex()),
		zap.String("receipt_balance", t.Receipt.Format(balance)))
	return balance
}

func (o *Orchestrator) transition(to State) {
	from := o.state
	if !canTransition(from, to) {
		o.logger.Error("Illegal state transition",
			zap.Stringer("from", from),
			zap.Stringer("to", to))
		return
	}
	now := time.Now()
	metrics.StageDuration.WithLabelValues(from.String()).Observe(now.Sub(o.entered).Seconds())
	metrics.StageTransitions.WithLabelValues(to.String()).Inc()
	o.state, o.entered = to, now

	o.logger.Info("State transition",
		zap.Stringer("from", from),
		zap.Stringer("to", to))
}

// fail stamps err with the current stage and moves to StateFailed.
func (o *Orchestrator) fail(err error) error {
	stage := o.state
	err = apperrors.WithStage(err, stage.String())
	metrics.ErrorsTotal.WithLabelValues(stage.String(), apperrors.KindOf(err).String()).Inc()
	o.transition(StateFailed)

	fields := []zap.Field{zap.Error(err)}
	var runErr *apperrors.RunError
	if errors.As(err, &runErr) {
		fields = append(fields, runErr.ZapFields()...)
	}
	o.logger.Error("Run failed", fields...)
	return err
}

func (o *Orchestrator) observeBalance(c chain.Chain, token chain.Token, balance *big.Int) {
	if balance == nil {
		return
	}
	f, _ := token.FromBaseUnits(balance).Float64()
	metrics.Balance.WithLabelValues(c.Name, token.Symbol).Set(f)
}

// classify keeps an already classified error and wraps anything else as kind.
func classify(err error, kind apperrors.Kind, message string) error {
	if apperrors.KindOf(err) != apperrors.KindUnknown {
		return err
	}
	switch kind {
	case apperrors.KindRouteUnavailable:
		return apperrors.RouteUnavailableError(err, message)
	default:
		return apperrors.ExecutionFailureError(err, message)
	}
}

func lookupError(err error, what string, key any) error {
	if errors.Is(err, lifi.ErrNotFound) {
		return apperrors.ConfigurationError(err, what+" not found", apperrors.F("key", key))
	}
	return apperrors.ExecutionFailureError(err, "failed to resolve "+what, apperrors.F("key", key))
}
