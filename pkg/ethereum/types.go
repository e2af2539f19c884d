package ethereum

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// Backend is the subset of the RPC client used here. Both ethclient.Client and the
// simulated backend satisfy it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// TxRequest describes a transaction to sign and send
type TxRequest struct {
	// Operation labels the transaction in logs and metrics.
	Operation string
	To        common.Address
	Data      []byte
	Value     *big.Int
	GasLimit  uint64
	// GasPrice overrides the suggested price; the configured maximum still applies.
	GasPrice *big.Int
}
