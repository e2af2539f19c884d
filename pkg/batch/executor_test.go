package batch

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	apperrors "github.com/chainsafe/xchain-stake/pkg/app/errors"
	"github.com/chainsafe/xchain-stake/pkg/txbuilder"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockGateway struct {
	mock.Mock
	added []txbuilder.Call
}

func (m *mockGateway) AddBatchCall(ctx context.Context, call txbuilder.Call) error {
	m.added = append(m.added, call)
	return m.Called(ctx, call).Error(0)
}

func (m *mockGateway) ClearBatch() {
	m.Called()
}

func (m *mockGateway) EstimateBatch(ctx context.Context) (*Estimation, error) {
	args := m.Called(ctx)
	est, _ := args.Get(0).(*Estimation)
	return est, args.Error(1)
}

func (m *mockGateway) SubmitBatch(ctx context.Context) (*SubmittedBatch, error) {
	args := m.Called(ctx)
	b, _ := args.Get(0).(*SubmittedBatch)
	return b, args.Error(1)
}

func (m *mockGateway) GetBatch(ctx context.Context, hash string) (*SubmittedBatch, error) {
	args := m.Called(ctx, hash)
	b, _ := args.Get(0).(*SubmittedBatch)
	return b, args.Error(1)
}

func call(b byte) txbuilder.Call {
	return txbuilder.Call{To: common.BytesToAddress([]byte{b}), Data: []byte{b, b}}
}

func testCalls() Calls {
	return NewCalls(call(1), call(2), call(3), call(4), call(5), call(6))
}

func newGateway(fee int64) *mockGateway {
	g := &mockGateway{}
	g.On("ClearBatch").Return().Maybe()
	g.On("AddBatchCall", mock.Anything, mock.Anything).Return(nil)
	g.On("EstimateBatch", mock.Anything).Return(&Estimation{FeeAmount: big.NewInt(fee)}, nil)
	return g
}

func fastConfig(attempts uint) Config {
	return Config{PollInterval: time.Millisecond, MaxPollAttempts: attempts}
}

func TestExecute_FixedCallOrder(t *testing.T) {
	g := newGateway(10)
	g.On("SubmitBatch", mock.Anything).Return(&SubmittedBatch{Hash: "0xbatch", TransactionHash: "0xtx"}, nil).Once()

	// Slots are filled in reverse to show the order comes from the slot, not the caller.
	calls := Calls{}
	calls.Transfer = call(6)
	calls.Stake = call(5)
	calls.ApproveStake = call(4)
	calls.SwapGovernance = call(3)
	calls.SwapGas = call(2)
	calls.ApproveTotal = call(1)

	receipt, err := NewExecutor(g, fastConfig(5), zap.NewNop()).Execute(context.Background(), calls, big.NewInt(10))
	require.NoError(t, err)

	want := []txbuilder.Call{call(1), call(2), call(3), call(4), call(5), call(6)}
	assert.Equal(t, want, g.added)
	assert.Equal(t, want, receipt.Calls)
	assert.Equal(t, "0xtx", receipt.TransactionHash)
	assert.True(t, receipt.Confirmed)
	g.AssertNotCalled(t, "GetBatch", mock.Anything, mock.Anything)
}

func TestExecute_FeeShortfall(t *testing.T) {
	g := newGateway(60_000_000_000_000_000)

	_, err := NewExecutor(g, fastConfig(5), zap.NewNop()).Execute(context.Background(), testCalls(), big.NewInt(50_000_000_000_000_000))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindFeeShortfall))
	g.AssertNotCalled(t, "SubmitBatch", mock.Anything)
}

func TestExecute_FeeBoundaryPasses(t *testing.T) {
	g := newGateway(60)
	g.On("SubmitBatch", mock.Anything).Return(&SubmittedBatch{Hash: "0xbatch", TransactionHash: "0xtx"}, nil).Once()

	receipt, err := NewExecutor(g, fastConfig(5), zap.NewNop()).Execute(context.Background(), testCalls(), big.NewInt(60))
	require.NoError(t, err)
	assert.Equal(t, "60", receipt.EstimatedFee.String())
	g.AssertCalled(t, "SubmitBatch", mock.Anything)
}

func TestExecute_PollsUntilMined(t *testing.T) {
	const pending = 4
	g := newGateway(1)
	g.On("SubmitBatch", mock.Anything).Return(&SubmittedBatch{Hash: "0xbatch"}, nil).Once()
	g.On("GetBatch", mock.Anything, "0xbatch").Return(&SubmittedBatch{Hash: "0xbatch", State: "Queued"}, nil).Times(pending)
	g.On("GetBatch", mock.Anything, "0xbatch").Return(&SubmittedBatch{Hash: "0xbatch", TransactionHash: "0xmined"}, nil).Once()

	receipt, err := NewExecutor(g, fastConfig(10), zap.NewNop()).Execute(context.Background(), testCalls(), big.NewInt(1))
	require.NoError(t, err)

	assert.Equal(t, "0xmined", receipt.TransactionHash)
	assert.Equal(t, pending+1, receipt.PollAttempts)
	g.AssertNumberOfCalls(t, "GetBatch", pending+1)
}

func TestWaitForConfirmation_FailureIsNotRetried(t *testing.T) {
	g := &mockGateway{}
	g.On("GetBatch", mock.Anything, "0xbatch").Return(nil, errors.New("gateway down")).Once()

	_, attempts, err := NewExecutor(g, fastConfig(10), zap.NewNop()).WaitForConfirmation(context.Background(), "0xbatch")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindExecutionFailure))
	assert.Contains(t, err.Error(), "gateway down")
	assert.Equal(t, 1, attempts)
	g.AssertNumberOfCalls(t, "GetBatch", 1)
}

func TestWaitForConfirmation_Bounded(t *testing.T) {
	g := &mockGateway{}
	g.On("GetBatch", mock.Anything, "0xbatch").Return(&SubmittedBatch{Hash: "0xbatch"}, nil)

	_, attempts, err := NewExecutor(g, fastConfig(3), zap.NewNop()).WaitForConfirmation(context.Background(), "0xbatch")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindExecutionFailure))
	assert.ErrorIs(t, err, ErrBatchPending)
	assert.Equal(t, 3, attempts)
}

func TestWaitForConfirmation_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g := &mockGateway{}
	g.On("GetBatch", mock.Anything, "0xbatch").Run(func(mock.Arguments) { cancel() }).Return(&SubmittedBatch{Hash: "0xbatch"}, nil)

	cfg := Config{PollInterval: time.Hour, MaxPollAttempts: 10}
	_, _, err := NewExecutor(g, cfg, zap.NewNop()).WaitForConfirmation(ctx, "0xbatch")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecute_DryRun(t *testing.T) {
	g := newGateway(1)
	cfg := fastConfig(1)
	cfg.DryRun = true

	receipt, err := NewExecutor(g, cfg, zap.NewNop()).Execute(context.Background(), testCalls(), big.NewInt(1))
	require.NoError(t, err)
	assert.False(t, receipt.Confirmed)
	assert.Len(t, receipt.Calls, 6)
	g.AssertNotCalled(t, "SubmitBatch", mock.Anything)
}

func TestExecute_SubmitRejected(t *testing.T) {
	g := newGateway(1)
	g.On("SubmitBatch", mock.Anything).Return(nil, errors.New("nonce too low")).Once()

	_, err := NewExecutor(g, fastConfig(1), zap.NewNop()).Execute(context.Background(), testCalls(), big.NewInt(1))
	assert.True(t, apperrors.Is(err, apperrors.KindExecutionFailure))
}

func TestExecute_EmptyCallRejected(t *testing.T) {
	g := &mockGateway{}
	calls := testCalls()
	calls.Stake = txbuilder.Call{}

	_, err := NewExecutor(g, fastConfig(1), zap.NewNop()).Execute(context.Background(), calls, big.NewInt(1))
	assert.True(t, apperrors.Is(err, apperrors.KindConfiguration))
	assert.Empty(t, g.added)
}
