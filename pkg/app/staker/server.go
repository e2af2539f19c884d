// Package staker implements app.Runner for a single bridge-and-stake run.
package staker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chainsafe/xchain-stake/internal/metrics"
	"github.com/chainsafe/xchain-stake/pkg/app"
	apperrors "github.com/chainsafe/xchain-stake/pkg/app/errors"
	"github.com/chainsafe/xchain-stake/pkg/batch"
	"github.com/chainsafe/xchain-stake/pkg/bridge"
	"github.com/chainsafe/xchain-stake/pkg/chain"
	"github.com/chainsafe/xchain-stake/pkg/config"
	"github.com/chainsafe/xchain-stake/pkg/ethereum"
	"github.com/chainsafe/xchain-stake/pkg/gateway"
	"github.com/chainsafe/xchain-stake/pkg/lifi"
	"github.com/chainsafe/xchain-stake/pkg/orchestrator"
	"github.com/chainsafe/xchain-stake/pkg/quote"
	"github.com/chainsafe/xchain-stake/pkg/txbuilder"
	"github.com/chainsafe/xchain-stake/pkg/wallet"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultMetricsPushTimeout = 10 * time.Second

// Server holds configuration for the run.
type Server struct {
	cfg *config.Config
}

var _ app.Runner = (*Server)(nil)

// NewServer initializes a new Server.
func NewServer(cfg *config.Config) *Server {
	return &Server{cfg: cfg}
}

// Run wires the clients and executes one run. It returns when the run finishes, fails,
// or an OS shutdown signal cancels it.
func (s *Server) Run() error {
	if s.cfg == nil {
		return apperrors.ConfigurationError(nil, "nil config")
	}
	cfg := s.cfg

	// The secret is checked before any network call.
	if err := cfg.ValidateSecret(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := uuid.NewString()
	logger, err := config.NewLogger(cfg.Logging, zap.String("run_id", runID))
	if err != nil {
		return apperrors.ConfigurationError(err, "create logger")
	}
	defer func() { _ = logger.Sync() }()

	w, err := wallet.FromMnemonic(cfg.Wallet.Mnemonic, cfg.Wallet.DerivationPath)
	if err != nil {
		return apperrors.ConfigurationError(err, "derive wallet",
			apperrors.F("derivation_path", cfg.Wallet.DerivationPath))
	}
	logger.Info("Starting bridge-and-stake run",
		zap.String("owner", w.Address().Hex()),
		zap.Uint64("source_chain", cfg.Source.ChainID),
		zap.Uint64("destination_chain", cfg.Destination.ChainID),
		zap.Bool("skip_bridge", cfg.Bridge.Skip),
		zap.Bool("dry_run", cfg.Batch.DryRun))

	lifiClient := lifi.NewClient(lifi.Config{
		BaseURL: cfg.LiFi.BaseURL,
		APIKey:  cfg.LiFi.APIKey,
		Timeout: cfg.LiFi.Timeout,
	}, logger)

	sourceCfg, err := withRPC(ctx, lifiClient, cfg.Source)
	if err != nil {
		return err
	}
	sourceClient, err := ethereum.NewClient(ctx, &sourceCfg, w.PrivateKey(), logger)
	if err != nil {
		return apperrors.ExecutionFailureError(err, "initialize source chain client")
	}
	defer sourceClient.Close()

	destCfg, err := withRPC(ctx, lifiClient, cfg.Destination)
	if err != nil {
		return err
	}
	destClient, err := ethereum.NewClient(ctx, &destCfg, nil, logger)
	if err != nil {
		return apperrors.ExecutionFailureError(err, "initialize destination chain client")
	}
	defer destClient.Close()

	builder, err := txbuilder.New(common.HexToAddress(cfg.Tokens.StakingContract))
	if err != nil {
		return apperrors.ConfigurationError(err, "create transaction builder")
	}

	selector, err := orchestrator.NewRouteSelector(cfg.Bridge.RouteSelection)
	if err != nil {
		return err
	}
	settlement, err := orchestrator.NewSettlementPolicy(cfg.Settlement.Mode,
		cfg.Settlement.StableReads, cfg.Settlement.Interval, cfg.Settlement.MaxAttempts)
	if err != nil {
		return err
	}

	gw := gateway.NewClient(gateway.Config{
		BaseURL: cfg.Gateway.BaseURL,
		APIKey:  cfg.Gateway.APIKey,
		ChainID: cfg.Destination.ChainID,
		Timeout: cfg.Gateway.Timeout,
	}, w, logger)

	orch := orchestrator.New(NewOrchestratorConfig(cfg), orchestrator.Deps{
		Directory: lifiClient,
		Routes: bridge.NewExecutor(lifiClient, sourceClient, builder, bridge.Config{
			StatusPollInterval: cfg.Bridge.StatusPollInterval,
			MaxStatusPolls:     cfg.Bridge.MaxStatusPolls,
		}, logger),
		Accounts:            gw,
		SourceBalances:      sourceClient,
		DestinationBalances: destClient,
		Quotes: quote.NewCoordinator(lifiClient, quote.Options{
			Slippage:       cfg.Swap.Slippage,
			Integrator:     cfg.Bridge.Integrator,
			AllowExchanges: cfg.Swap.AllowedExchanges,
		}, logger),
		Batch: batch.NewExecutor(gw, batch.Config{
			PollInterval:    cfg.Batch.PollInterval,
			MaxPollAttempts: cfg.Batch.MaxPollAttempts,
			DryRun:          cfg.Batch.DryRun,
		}, logger),
		Builder:    builder,
		Selector:   selector,
		Settlement: settlement,
	}, w.Address(), logger)

	res, runErr := orch.Run(ctx)
	if runErr == nil {
		logger.Info("Run finished", zap.Stringer("state", res.State))
	}

	s.pushMetrics(logger, runID)
	return runErr
}

// NewOrchestratorConfig maps the file configuration onto the run parameters.
func NewOrchestratorConfig(cfg *config.Config) orchestrator.Config {
	return orchestrator.Config{
		SourceChainID:         cfg.Source.ChainID,
		DestinationChainID:    cfg.Destination.ChainID,
		SourceStablecoin:      cfg.Tokens.SourceStablecoin,
		DestinationStablecoin: cfg.Tokens.DestinationStablecoin,
		GasToken:              cfg.Tokens.GasToken,
		GovernanceToken:       cfg.Tokens.GovernanceToken,
		ReceiptToken:          cfg.Tokens.ReceiptToken,
		BridgeAmount:          cfg.Plan.BridgeAmount,
		Reserve:               cfg.Plan.Reserve,
		Cap:                   cfg.Plan.Cap,
		AllowedBridges:        cfg.Bridge.AllowedBridges,
		Integrator:            cfg.Bridge.Integrator,
		Slippage:              cfg.Swap.Slippage,
		SkipBridge:            cfg.Bridge.Skip,
	}
}

type chainDirectory interface {
	GetChain(ctx context.Context, chainID uint64) (chain.Chain, error)
}

// withRPC fills an empty RPC URL with the first one the routing service publishes.
func withRPC(ctx context.Context, dir chainDirectory, c config.ChainConfig) (config.ChainConfig, error) {
	if c.RPCURL != "" {
		return c, nil
	}
	ch, err := dir.GetChain(ctx, c.ChainID)
	if err != nil {
		return c, apperrors.ConfigurationError(err, "resolve chain RPC", apperrors.F("chain_id", c.ChainID))
	}
	if len(ch.RPCURLs) == 0 {
		return c, apperrors.ConfigurationError(nil, "no RPC URL configured or published",
			apperrors.F("chain_id", c.ChainID))
	}
	c.RPCURL = ch.RPCURLs[0]
	return c, nil
}

func (s *Server) pushMetrics(logger *zap.Logger, runID string) {
	if s.cfg.Metrics.PushgatewayURL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultMetricsPushTimeout)
	defer cancel()
	if err := metrics.Push(ctx, s.cfg.Metrics.PushgatewayURL, s.cfg.Metrics.Job, runID); err != nil {
		logger.Warn("Failed to push metrics", zap.Error(fmt.Errorf("push to %s: %w", s.cfg.Metrics.PushgatewayURL, err)))
		return
	}
	logger.Debug("Metrics pushed", zap.String("job", s.cfg.Metrics.Job))
}
