package batch

import (
	"context"
	"math/big"

	"github.com/chainsafe/xchain-stake/pkg/txbuilder"
)

// Gateway is the smart-account meta-transaction gateway. Calls accumulate in the
// gateway's pending batch until it is submitted.
type Gateway interface {
	AddBatchCall(ctx context.Context, call txbuilder.Call) error
	ClearBatch()
	EstimateBatch(ctx context.Context) (*Estimation, error)
	SubmitBatch(ctx context.Context) (*SubmittedBatch, error)
	GetBatch(ctx context.Context, hash string) (*SubmittedBatch, error)
}

// Estimation is the gateway's fee estimate for the pending batch.
type Estimation struct {
	FeeAmount *big.Int
	GasPrice  *big.Int
	GasLimit  uint64
}

// SubmittedBatch is the gateway's view of a submitted batch. TransactionHash stays
// empty until the batch has been mined.
type SubmittedBatch struct {
	Hash            string
	State           string
	TransactionHash string
}

// Calls names every slot of the batch. Execute appends them in the fixed order
// ApproveTotal, SwapGas, SwapGovernance, ApproveStake, Stake, Transfer.
type Calls struct {
	ApproveTotal   txbuilder.Call
	SwapGas        txbuilder.Call
	SwapGovernance txbuilder.Call
	ApproveStake   txbuilder.Call
	Stake          txbuilder.Call
	Transfer       txbuilder.Call
}

// CallNames lists the slot names in batch order.
var CallNames = []string{
	"approve_total",
	"swap_gas",
	"swap_governance",
	"approve_stake",
	"stake",
	"transfer",
}

// Ordered returns the calls in batch order.
func (c Calls) Ordered() []txbuilder.Call {
	return []txbuilder.Call{
		c.ApproveTotal,
		c.SwapGas,
		c.SwapGovernance,
		c.ApproveStake,
		c.Stake,
		c.Transfer,
	}
}

// Receipt is the outcome of Execute.
type Receipt struct {
	Calls           []txbuilder.Call
	EstimatedFee    *big.Int
	BatchHash       string
	TransactionHash string
	Confirmed       bool
	PollAttempts    int
}
