// Package chain holds the chain and token identities shared by every stage of a run.
package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// NativeAsset is the address sentinel used for a chain's native gas token.
var NativeAsset = common.Address{}

// Chain identifies an EVM chain and its native gas token.
type Chain struct {
	ID          uint64
	Key         string
	Name        string
	NativeToken Token
	RPCURLs     []string
}

// Token identifies a token contract (or the native asset) on a chain.
type Token struct {
	ChainID  uint64
	Address  common.Address
	Decimals int32
	Symbol   string
	Name     string
}

// IsNative reports whether the token is the chain's native asset.
func (t Token) IsNative() bool {
	return t.Address == NativeAsset
}

// ToBaseUnits converts a human amount into the token's smallest unit, truncating
// anything below the token's precision.
func (t Token) ToBaseUnits(amount decimal.Decimal) *big.Int {
	return amount.Shift(t.Decimals).Truncate(0).BigInt()
}

// FromBaseUnits converts an amount in the token's smallest unit into a human amount.
func (t Token) FromBaseUnits(amount *big.Int) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -t.Decimals)
}

// ParseAmount parses a human amount such as "0.2" into base units.
func (t Token) ParseAmount(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse %s amount %q: %w", t.Symbol, s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("negative %s amount %q", t.Symbol, s)
	}
	return t.ToBaseUnits(d), nil
}

// Format renders base units as "<amount> <symbol>".
func (t Token) Format(amount *big.Int) string {
	return t.FromBaseUnits(amount).String() + " " + t.Symbol
}

func (t Token) String() string {
	return fmt.Sprintf("%s(%s@%d)", t.Symbol, t.Address.Hex(), t.ChainID)
}
