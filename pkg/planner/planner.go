// Package planner splits the bridged balance between the gas-token swap and the
// governance-token swap.
package planner

import (
	"math/big"

	apperrors "github.com/chainsafe/xchain-stake/pkg/app/errors"
)

// AmountPlan is the split of an available balance. GasSwapAmount+StakeSwapAmount never
// exceeds Available.
type AmountPlan struct {
	Available       *big.Int
	GasSwapAmount   *big.Int
	StakeSwapAmount *big.Int
}

// Total returns the amount the plan spends.
func (p *AmountPlan) Total() *big.Int {
	return new(big.Int).Add(p.GasSwapAmount, p.StakeSwapAmount)
}

// Plan reserves a fixed amount for the gas swap and assigns the remainder, optionally
// capped, to the stake swap. A nil cap means uncapped.
func Plan(available, reserve, stakeCap *big.Int) (*AmountPlan, error) {
	if available == nil {
		available = new(big.Int)
	}
	if reserve == nil || reserve.Sign() < 0 {
		return nil, apperrors.ConfigurationError(nil, "gas reserve must be a non-negative amount",
			apperrors.F("reserve", reserve))
	}
	if stakeCap != nil && stakeCap.Sign() < 0 {
		return nil, apperrors.ConfigurationError(nil, "stake cap must be a non-negative amount",
			apperrors.F("cap", stakeCap))
	}

	remainder := new(big.Int).Sub(available, reserve)
	if remainder.Sign() < 0 {
		return nil, apperrors.InsufficientFundsError(nil, "available balance does not cover the gas reserve",
			apperrors.F("available", available),
			apperrors.F("reserve", reserve),
			apperrors.F("shortfall", new(big.Int).Neg(remainder)))
	}

	stake := remainder
	if stakeCap != nil && stakeCap.Cmp(remainder) < 0 {
		stake = new(big.Int).Set(stakeCap)
	}

	return &AmountPlan{
		Available:       new(big.Int).Set(available),
		GasSwapAmount:   new(big.Int).Set(reserve),
		StakeSwapAmount: stake,
	}, nil
}
