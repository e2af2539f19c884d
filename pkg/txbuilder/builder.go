// Package txbuilder turns contract calls into unsigned {to, data} call descriptors.
//
// Nothing here talks to a chain. The same inputs always produce the same bytes.
package txbuilder

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/chainsafe/xchain-stake/pkg/ethereum/contracts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ErrNilAmount is returned when a builder is called without an amount.
var ErrNilAmount = errors.New("amount is required")

// Call is an unsigned, chain-agnostic contract call.
type Call struct {
	To   common.Address
	Data []byte
}

// DataHex returns the calldata as 0x-prefixed hex.
func (c Call) DataHex() string {
	return hexutil.Encode(c.Data)
}

// Builder builds ERC-20 and staking calls. The staking contract is fixed at construction.
type Builder struct {
	stakingContract common.Address
	erc20           abi.ABI
	staking         abi.ABI
}

// New creates a Builder targeting the given staking helper contract.
func New(stakingContract common.Address) (*Builder, error) {
	erc20, err := contracts.ERC20()
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	staking, err := contracts.StakingHelper()
	if err != nil {
		return nil, fmt.Errorf("parse staking abi: %w", err)
	}
	return &Builder{
		stakingContract: stakingContract,
		erc20:           erc20,
		staking:         staking,
	}, nil
}

// StakingContract returns the contract BuildStake targets.
func (b *Builder) StakingContract() common.Address {
	return b.stakingContract
}

// BuildApprove lets spender move up to amount of token on the caller's behalf.
func (b *Builder) BuildApprove(token, spender common.Address, amount *big.Int) (Call, error) {
	return b.pack(b.erc20, token, "approve", spender, amount)
}

// BuildTransfer moves amount of token from the caller to the recipient.
func (b *Builder) BuildTransfer(token, to common.Address, amount *big.Int) (Call, error) {
	return b.pack(b.erc20, token, "transfer", to, amount)
}

// BuildStake stakes amount of the governance token through the staking helper.
func (b *Builder) BuildStake(amount *big.Int) (Call, error) {
	return b.pack(b.staking, b.stakingContract, "stake", amount)
}

func (b *Builder) pack(contract abi.ABI, to common.Address, method string, args ...any) (Call, error) {
	if amount, ok := args[len(args)-1].(*big.Int); !ok || amount == nil {
		return Call{}, fmt.Errorf("%s: %w", method, ErrNilAmount)
	}
	data, err := contract.Pack(method, args...)
	if err != nil {
		return Call{}, fmt.Errorf("pack %s: %w", method, err)
	}
	return Call{To: to, Data: data}, nil
}
