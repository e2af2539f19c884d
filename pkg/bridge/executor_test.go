package bridge

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	apperrors "github.com/chainsafe/xchain-stake/pkg/app/errors"
	"github.com/chainsafe/xchain-stake/pkg/ethereum"
	"github.com/chainsafe/xchain-stake/pkg/lifi"
	"github.com/chainsafe/xchain-stake/pkg/txbuilder"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	owner    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	router   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	usdcAddr = "0x04068DA6C83AFCFA0e13ba15A6696662335D5B75"
)

type mockStepClient struct {
	GetStepTransactionFunc func(ctx context.Context, step lifi.Step) (*lifi.Step, error)
	GetStatusFunc          func(ctx context.Context, req lifi.StatusRequest) (*lifi.StatusResponse, error)
}

func (m *mockStepClient) GetStepTransaction(ctx context.Context, step lifi.Step) (*lifi.Step, error) {
	return m.GetStepTransactionFunc(ctx, step)
}

func (m *mockStepClient) GetStatus(ctx context.Context, req lifi.StatusRequest) (*lifi.StatusResponse, error) {
	return m.GetStatusFunc(ctx, req)
}

type mockChainClient struct {
	allowance *big.Int
	sent      []ethereum.TxRequest
	reverted  bool
}

func (m *mockChainClient) Address() common.Address { return owner }

func (m *mockChainClient) Allowance(_ context.Context, _, _, _ common.Address) (*big.Int, error) {
	return m.allowance, nil
}

func (m *mockChainClient) SendTransaction(_ context.Context, req ethereum.TxRequest) (*types.Transaction, error) {
	m.sent = append(m.sent, req)
	return types.NewTx(&types.LegacyTx{Nonce: uint64(len(m.sent)), To: &req.To, Data: req.Data}), nil
}

func (m *mockChainClient) WaitMined(_ context.Context, tx *types.Transaction) (*types.Receipt, error) {
	if m.reverted {
		return nil, errors.New("transaction reverted")
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: tx.Hash(), BlockNumber: big.NewInt(1), GasUsed: 100000}, nil
}

func bridgeStep() lifi.Step {
	return lifi.Step{
		ID:   "step-1",
		Tool: "connext",
		Action: lifi.Action{
			FromChainID: 250,
			ToChainID:   137,
			FromToken:   lifi.Token{Address: usdcAddr, ChainID: 250, Symbol: "USDC", Decimals: 6},
			FromAmount:  "1000000",
		},
		Estimate: lifi.Estimate{ApprovalAddress: router.Hex()},
	}
}

func populate(_ context.Context, step lifi.Step) (*lifi.Step, error) {
	step.TransactionRequest = &lifi.TransactionRequest{
		To:       router.Hex(),
		Data:     "0xdeadbeef",
		Value:    "0x0",
		GasLimit: "0x0f4240",
	}
	return &step, nil
}

func newTestExecutor(t *testing.T, steps StepClient, chainClient ChainClient, polls uint) *Executor {
	t.Helper()
	builder, err := txbuilder.New(common.HexToAddress("0x4D70a031Fc76DA6a9bC0C922101A05FA95c3A227"))
	require.NoError(t, err)
	return NewExecutor(steps, chainClient, builder, Config{StatusPollInterval: time.Millisecond, MaxStatusPolls: polls}, zap.NewNop())
}

func TestExecuteRoute_ApprovesThenBridges(t *testing.T) {
	statuses := []string{lifi.StatusPending, lifi.StatusPending, lifi.StatusDone}
	var polls int
	steps := &mockStepClient{
		GetStepTransactionFunc: populate,
		GetStatusFunc: func(_ context.Context, req lifi.StatusRequest) (*lifi.StatusResponse, error) {
			assert.Equal(t, "connext", req.Bridge)
			assert.Equal(t, uint64(250), req.FromChain)
			assert.Equal(t, uint64(137), req.ToChain)
			s := &lifi.StatusResponse{Status: statuses[polls]}
			polls++
			return s, nil
		},
	}
	chainClient := &mockChainClient{allowance: big.NewInt(0)}

	var updates []string
	route := &lifi.Route{ID: "route-1", Steps: []lifi.Step{bridgeStep()}}
	out, err := newTestExecutor(t, steps, chainClient, 5).ExecuteRoute(context.Background(), route, func(r *lifi.Route) {
		updates = append(updates, r.LastExecution().Status)
	})
	require.NoError(t, err)

	require.Len(t, chainClient.sent, 2)
	assert.Equal(t, "approve", chainClient.sent[0].Operation)
	assert.Equal(t, common.HexToAddress(usdcAddr), chainClient.sent[0].To)
	assert.Equal(t, "bridge", chainClient.sent[1].Operation)
	assert.Equal(t, router, chainClient.sent[1].To)
	assert.Equal(t, uint64(1_000_000), chainClient.sent[1].GasLimit)
	assert.Equal(t, 3, polls)

	exec := out.LastExecution()
	require.NotNil(t, exec)
	assert.Equal(t, lifi.ExecutionDone, exec.Status)
	require.Len(t, exec.Process, 2)
	assert.Equal(t, "TOKEN_ALLOWANCE", exec.Process[0].Type)
	assert.Equal(t, "CROSS_CHAIN", exec.Process[1].Type)
	assert.Equal(t, lifi.ExecutionDone, exec.Process[1].Status)
	assert.NotEmpty(t, exec.Process[1].TxHash)

	assert.Equal(t, lifi.ExecutionPending, updates[0])
	assert.Equal(t, lifi.ExecutionDone, updates[len(updates)-1])
}

func TestExecuteRoute_SkipsApprovalWhenAllowed(t *testing.T) {
	steps := &mockStepClient{
		GetStepTransactionFunc: populate,
		GetStatusFunc: func(context.Context, lifi.StatusRequest) (*lifi.StatusResponse, error) {
			return &lifi.StatusResponse{Status: lifi.StatusDone}, nil
		},
	}
	chainClient := &mockChainClient{allowance: big.NewInt(1_000_000)}

	_, err := newTestExecutor(t, steps, chainClient, 1).ExecuteRoute(context.Background(), &lifi.Route{Steps: []lifi.Step{bridgeStep()}}, nil)
	require.NoError(t, err)
	require.Len(t, chainClient.sent, 1)
	assert.Equal(t, "bridge", chainClient.sent[0].Operation)
}

func TestExecuteRoute_TransferFailed(t *testing.T) {
	steps := &mockStepClient{
		GetStepTransactionFunc: populate,
		GetStatusFunc: func(context.Context, lifi.StatusRequest) (*lifi.StatusResponse, error) {
			return &lifi.StatusResponse{Status: lifi.StatusFailed, Substatus: "REFUNDED"}, nil
		},
	}
	chainClient := &mockChainClient{allowance: big.NewInt(1_000_000)}

	route := &lifi.Route{Steps: []lifi.Step{bridgeStep()}}
	_, err := newTestExecutor(t, steps, chainClient, 10).ExecuteRoute(context.Background(), route, nil)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindExecutionFailure))
	assert.Contains(t, err.Error(), "REFUNDED")
	assert.Equal(t, lifi.ExecutionFailed, route.LastExecution().Status)
}

func TestExecuteRoute_StatusPollingBounded(t *testing.T) {
	var polls int
	steps := &mockStepClient{
		GetStepTransactionFunc: populate,
		GetStatusFunc: func(context.Context, lifi.StatusRequest) (*lifi.StatusResponse, error) {
			polls++
			return nil, lifi.ErrNotFound
		},
	}
	chainClient := &mockChainClient{allowance: big.NewInt(1_000_000)}

	_, err := newTestExecutor(t, steps, chainClient, 3).ExecuteRoute(context.Background(), &lifi.Route{Steps: []lifi.Step{bridgeStep()}}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransferPending)
	assert.Equal(t, 3, polls)
}

func TestExecuteRoute_SameChainSwapDoesNotPoll(t *testing.T) {
	step := bridgeStep()
	step.Action.ToChainID = step.Action.FromChainID
	step.Action.FromToken = lifi.Token{Address: "0x0000000000000000000000000000000000000000", ChainID: 250, Symbol: "FTM", Decimals: 18}

	steps := &mockStepClient{
		GetStepTransactionFunc: populate,
		GetStatusFunc: func(context.Context, lifi.StatusRequest) (*lifi.StatusResponse, error) {
			t.Fatal("status must not be polled for a same-chain step")
			return nil, nil
		},
	}
	chainClient := &mockChainClient{}

	_, err := newTestExecutor(t, steps, chainClient, 1).ExecuteRoute(context.Background(), &lifi.Route{Steps: []lifi.Step{step}}, nil)
	require.NoError(t, err)
	require.Len(t, chainClient.sent, 1)
	assert.Equal(t, "swap", chainClient.sent[0].Operation)
}

func TestExecuteRoute_RevertFails(t *testing.T) {
	steps := &mockStepClient{GetStepTransactionFunc: populate}
	chainClient := &mockChainClient{allowance: big.NewInt(1_000_000), reverted: true}

	_, err := newTestExecutor(t, steps, chainClient, 1).ExecuteRoute(context.Background(), &lifi.Route{Steps: []lifi.Step{bridgeStep()}}, nil)
	assert.True(t, apperrors.Is(err, apperrors.KindExecutionFailure))
}

func TestExecuteRoute_EmptyRoute(t *testing.T) {
	_, err := newTestExecutor(t, &mockStepClient{}, &mockChainClient{}, 1).ExecuteRoute(context.Background(), &lifi.Route{}, nil)
	assert.True(t, apperrors.Is(err, apperrors.KindRouteUnavailable))
}

func TestParseQuantity(t *testing.T) {
	v, err := parseQuantity("0x0f4240")
	require.NoError(t, err)
	assert.Equal(t, "1000000", v.String())

	v, err = parseQuantity("1000000")
	require.NoError(t, err)
	assert.Equal(t, "1000000", v.String())

	v, err = parseQuantity("")
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = parseQuantity("0xzz")
	assert.Error(t, err)
}
