// Package contracts holds the ABI fragments used to build calldata and read token state.
package contracts

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ERC20ABI is the subset of the ERC-20 interface the workflow calls.
const ERC20ABI = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
	{"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}
]`

// StakingHelperABI is the single-call staking helper: it stakes the caller's
// governance tokens and mints the receipt token 1:1 to the caller.
const StakingHelperABI = `[
	{"inputs":[{"internalType":"uint256","name":"_amount","type":"uint256"}],"name":"stake","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

var (
	erc20Once   sync.Once
	erc20ABI    abi.ABI
	erc20Err    error
	stakingOnce sync.Once
	stakingABI  abi.ABI
	stakingErr  error
)

// ERC20 returns the parsed ERC-20 ABI.
func ERC20() (abi.ABI, error) {
	erc20Once.Do(func() {
		erc20ABI, erc20Err = abi.JSON(strings.NewReader(ERC20ABI))
	})
	return erc20ABI, erc20Err
}

// StakingHelper returns the parsed staking helper ABI.
func StakingHelper() (abi.ABI, error) {
	stakingOnce.Do(func() {
		stakingABI, stakingErr = abi.JSON(strings.NewReader(StakingHelperABI))
	})
	return stakingABI, stakingErr
}
