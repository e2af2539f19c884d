package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/avast/retry-go/v4"
	apperrors "github.com/chainsafe/xchain-stake/pkg/app/errors"
	"github.com/chainsafe/xchain-stake/pkg/lifi"
)

// RouteSelector picks the route to execute among the candidates returned by the
// routing service.
type RouteSelector interface {
	Select(routes []lifi.Route) (*lifi.Route, error)
}

// FirstRoute selects the first route as returned by the routing service. No cost
// comparison is made.
type FirstRoute struct{}

// Select implements RouteSelector
func (FirstRoute) Select(routes []lifi.Route) (*lifi.Route, error) {
	if len(routes) == 0 {
		return nil, apperrors.RouteUnavailableError(nil, "no routes to select from")
	}
	route := routes[0]
	return &route, nil
}

// NewRouteSelector returns the selector registered under name.
func NewRouteSelector(name string) (RouteSelector, error) {
	switch name {
	case "", "first":
		return FirstRoute{}, nil
	default:
		return nil, apperrors.ConfigurationError(nil, "unknown route selection",
			apperrors.F("route_selection", name))
	}
}

// BalanceFunc reads the current destination balance.
type BalanceFunc func(ctx context.Context) (*big.Int, error)

// SettlementPolicy decides when the bridged balance can be planned against.
type SettlementPolicy interface {
	Settle(ctx context.Context, read BalanceFunc) (*big.Int, error)
}

// SingleRead reads the balance once right after the bridge reports completion.
type SingleRead struct{}

// Settle implements SettlementPolicy
func (SingleRead) Settle(ctx context.Context, read BalanceFunc) (*big.Int, error) {
	balance, err := read(ctx)
	if err != nil {
		return nil, err
	}
	return orZero(balance), nil
}

// orZero treats a missing balance as zero.
func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

var errNotSettled = errors.New("balance not settled")

// StableRead polls until Reads consecutive reads return the same non-zero balance,
// giving up after MaxAttempts reads.
type StableRead struct {
	Reads       int
	Interval    time.Duration
	MaxAttempts uint
}

// Settle implements SettlementPolicy
func (p StableRead) Settle(ctx context.Context, read BalanceFunc) (*big.Int, error) {
	reads := p.Reads
	if reads < 1 {
		reads = 1
	}
	attempts := p.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}

	var (
		last   *big.Int
		streak int
		total  uint
	)
	err := retry.Do(
		func() error {
			total++
			balance, err := read(ctx)
			if err != nil {
				return err
			}
			balance = orZero(balance)
			switch {
			case balance.Sign() <= 0:
				streak = 0
			case last != nil && balance.Cmp(last) == 0:
				streak++
			default:
				streak = 1
			}
			last = balance
			if streak < reads {
				return errNotSettled
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(p.Interval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, errNotSettled)
		}),
	)
	switch {
	case err == nil:
		return last, nil
	case errors.Is(err, errNotSettled):
		return nil, apperrors.ExecutionFailureError(err, "bridged balance did not settle",
			apperrors.F("reads", total),
			apperrors.F("last_balance", last))
	case ctx.Err() != nil:
		return nil, apperrors.ExecutionFailureError(ctx.Err(), "settlement polling cancelled")
	default:
		return nil, fmt.Errorf("read balance: %w", err)
	}
}

// NewSettlementPolicy returns the policy registered under mode.
func NewSettlementPolicy(mode string, reads int, interval time.Duration, maxAttempts uint) (SettlementPolicy, error) {
	switch mode {
	case "", "single":
		return SingleRead{}, nil
	case "stable":
		return StableRead{Reads: reads, Interval: interval, MaxAttempts: maxAttempts}, nil
	default:
		return nil, apperrors.ConfigurationError(nil, "unknown settlement mode",
			apperrors.F("mode", mode))
	}
}
