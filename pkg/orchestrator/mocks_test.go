package orchestrator

import (
	"context"
	"math/big"

	"github.com/chainsafe/xchain-stake/pkg/batch"
	"github.com/chainsafe/xchain-stake/pkg/bridge"
	"github.com/chainsafe/xchain-stake/pkg/chain"
	"github.com/chainsafe/xchain-stake/pkg/lifi"
	"github.com/chainsafe/xchain-stake/pkg/txbuilder"
	"github.com/ethereum/go-ethereum/common"
)

// MockDirectory is a mock implementation of Directory
type MockDirectory struct {
	GetChainFunc  func(ctx context.Context, chainID uint64) (chain.Chain, error)
	GetTokenFunc  func(ctx context.Context, chainID uint64, token string) (chain.Token, error)
	GetRoutesFunc func(ctx context.Context, req lifi.RoutesRequest) ([]lifi.Route, error)
}

func (m *MockDirectory) GetChain(ctx context.Context, chainID uint64) (chain.Chain, error) {
	if m.GetChainFunc != nil {
		return m.GetChainFunc(ctx, chainID)
	}
	return chain.Chain{}, nil
}

func (m *MockDirectory) GetToken(ctx context.Context, chainID uint64, token string) (chain.Token, error) {
	if m.GetTokenFunc != nil {
		return m.GetTokenFunc(ctx, chainID, token)
	}
	return chain.Token{}, nil
}

func (m *MockDirectory) GetRoutes(ctx context.Context, req lifi.RoutesRequest) ([]lifi.Route, error) {
	if m.GetRoutesFunc != nil {
		return m.GetRoutesFunc(ctx, req)
	}
	return nil, nil
}

// MockRouteExecutor is a mock implementation of RouteExecutor
type MockRouteExecutor struct {
	ExecuteRouteFunc func(ctx context.Context, route *lifi.Route, onUpdate bridge.UpdateFunc) (*lifi.Route, error)
}

func (m *MockRouteExecutor) ExecuteRoute(ctx context.Context, route *lifi.Route, onUpdate bridge.UpdateFunc) (*lifi.Route, error) {
	if m.ExecuteRouteFunc != nil {
		return m.ExecuteRouteFunc(ctx, route, onUpdate)
	}
	return route, nil
}

// MockAccountResolver is a mock implementation of AccountResolver
type MockAccountResolver struct {
	ComputeAccountFunc func(ctx context.Context) (common.Address, error)
}

func (m *MockAccountResolver) ComputeAccount(ctx context.Context) (common.Address, error) {
	if m.ComputeAccountFunc != nil {
		return m.ComputeAccountFunc(ctx)
	}
	return common.Address{}, nil
}

// MockBalanceReader is a mock implementation of BalanceReader
type MockBalanceReader struct {
	BalanceOfFunc func(ctx context.Context, token chain.Token, owner common.Address) (*big.Int, error)
}

func (m *MockBalanceReader) BalanceOf(ctx context.Context, token chain.Token, owner common.Address) (*big.Int, error) {
	if m.BalanceOfFunc != nil {
		return m.BalanceOfFunc(ctx, token, owner)
	}
	return new(big.Int), nil
}

// MockQuoteClient is a mock implementation of quote.Client
type MockQuoteClient struct {
	GetQuoteFunc func(ctx context.Context, req lifi.QuoteRequest) (*lifi.Step, error)
}

func (m *MockQuoteClient) GetQuote(ctx context.Context, req lifi.QuoteRequest) (*lifi.Step, error) {
	if m.GetQuoteFunc != nil {
		return m.GetQuoteFunc(ctx, req)
	}
	return nil, nil
}

// MockGateway is a mock implementation of batch.Gateway that records added calls
type MockGateway struct {
	EstimateBatchFunc func(ctx context.Context) (*batch.Estimation, error)
	SubmitBatchFunc   func(ctx context.Context) (*batch.SubmittedBatch, error)
	GetBatchFunc      func(ctx context.Context, hash string) (*batch.SubmittedBatch, error)

	Added     []txbuilder.Call
	Submitted int
}

func (m *MockGateway) AddBatchCall(_ context.Context, call txbuilder.Call) error {
	m.Added = append(m.Added, call)
	return nil
}

func (m *MockGateway) ClearBatch() {}

func (m *MockGateway) EstimateBatch(ctx context.Context) (*batch.Estimation, error) {
	if m.EstimateBatchFunc != nil {
		return m.EstimateBatchFunc(ctx)
	}
	return &batch.Estimation{FeeAmount: new(big.Int)}, nil
}

func (m *MockGateway) SubmitBatch(ctx context.Context) (*batch.SubmittedBatch, error) {
	m.Submitted++
	if m.SubmitBatchFunc != nil {
		return m.SubmitBatchFunc(ctx)
	}
	return &batch.SubmittedBatch{Hash: "0xbatch"}, nil
}

func (m *MockGateway) GetBatch(ctx context.Context, hash string) (*batch.SubmittedBatch, error) {
	if m.GetBatchFunc != nil {
		return m.GetBatchFunc(ctx, hash)
	}
	return &batch.SubmittedBatch{Hash: hash}, nil
}
