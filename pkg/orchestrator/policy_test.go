package orchestrator

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	apperrors "github.com/chainsafe/xchain-stake/pkg/app/errors"
	"github.com/chainsafe/xchain-stake/pkg/lifi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequence(values ...int64) (BalanceFunc, *int) {
	calls := 0
	return func(context.Context) (*big.Int, error) {
		v := values[len(values)-1]
		if calls < len(values) {
			v = values[calls]
		}
		calls++
		return big.NewInt(v), nil
	}, &calls
}

func TestFirstRoute(t *testing.T) {
	route, err := FirstRoute{}.Select([]lifi.Route{{ID: "a"}, {ID: "b"}})
	require.NoError(t, err)
	assert.Equal(t, "a", route.ID)

	_, err = FirstRoute{}.Select(nil)
	assert.True(t, apperrors.Is(err, apperrors.KindRouteUnavailable))
}

func TestSingleRead(t *testing.T) {
	read, calls := sequence(0, 5)
	balance, err := SingleRead{}.Settle(context.Background(), read)
	require.NoError(t, err)
	assert.Equal(t, "0", balance.String())
	assert.Equal(t, 1, *calls)
}

func TestSettle_NilBalanceIsZero(t *testing.T) {
	calls := 0
	read := func(context.Context) (*big.Int, error) {
		calls++
		return nil, nil
	}

	balance, err := SingleRead{}.Settle(context.Background(), read)
	require.NoError(t, err)
	assert.Zero(t, balance.Sign())

	_, err = StableRead{Reads: 1, Interval: time.Millisecond, MaxAttempts: 2}.Settle(context.Background(), read)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindExecutionFailure))
	assert.Equal(t, 3, calls)
}

func TestStableRead_WaitsForRepeatedNonZero(t *testing.T) {
	read, calls := sequence(0, 5, 7, 7)
	policy := StableRead{Reads: 2, Interval: time.Millisecond, MaxAttempts: 10}

	balance, err := policy.Settle(context.Background(), read)
	require.NoError(t, err)
	assert.Equal(t, "7", balance.String())
	assert.Equal(t, 4, *calls)
}

func TestStableRead_Bounded(t *testing.T) {
	read, calls := sequence(0)
	policy := StableRead{Reads: 1, Interval: time.Millisecond, MaxAttempts: 3}

	_, err := policy.Settle(context.Background(), read)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindExecutionFailure))
	assert.Equal(t, 3, *calls)
}

func TestStableRead_ReadErrorIsFatal(t *testing.T) {
	calls := 0
	read := func(context.Context) (*big.Int, error) {
		calls++
		return nil, errors.New("rpc down")
	}
	_, err := StableRead{Reads: 2, Interval: time.Millisecond, MaxAttempts: 5}.Settle(context.Background(), read)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rpc down")
	assert.Equal(t, 1, calls)
}

func TestPolicyFactories(t *testing.T) {
	selector, err := NewRouteSelector("first")
	require.NoError(t, err)
	assert.IsType(t, FirstRoute{}, selector)

	_, err = NewRouteSelector("cheapest")
	assert.True(t, apperrors.Is(err, apperrors.KindConfiguration))

	policy, err := NewSettlementPolicy("stable", 3, time.Second, 10)
	require.NoError(t, err)
	assert.Equal(t, StableRead{Reads: 3, Interval: time.Second, MaxAttempts: 10}, policy)

	policy, err = NewSettlementPolicy("single", 0, 0, 0)
	require.NoError(t, err)
	assert.IsType(t, SingleRead{}, policy)

	_, err = NewSettlementPolicy("eventually", 0, 0, 0)
	assert.True(t, apperrors.Is(err, apperrors.KindConfiguration))
}

func TestStateTransitions(t *testing.T) {
	assert.True(t, canTransition(StateIdle, StateRouteRequested))
	assert.True(t, canTransition(StateIdle, StateBridgeSettled))
	assert.True(t, canTransition(StateBatchSubmitted, StateConfirmed))
	assert.True(t, canTransition(StateQuoting, StateFailed))
	assert.False(t, canTransition(StateIdle, StateQuoting))
	assert.False(t, canTransition(StateConfirmed, StateFailed))
	assert.False(t, canTransition(StateFailed, StateIdle))

	assert.Equal(t, "BridgeExecuting", StateBridgeExecuting.String())
	assert.Equal(t, "Unknown", State(42).String())
	assert.True(t, StateFailed.IsTerminal())
	assert.False(t, StateBatchBuilding.IsTerminal())
}
