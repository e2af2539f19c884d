// Package quote requests the two swap legs of a run and checks that they can be
// executed under one shared allowance.
package quote

import (
	"context"
	"fmt"
	"math/big"

	apperrors "github.com/chainsafe/xchain-stake/pkg/app/errors"
	"github.com/chainsafe/xchain-stake/pkg/chain"
	"github.com/chainsafe/xchain-stake/pkg/lifi"
	"github.com/chainsafe/xchain-stake/pkg/txbuilder"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
)

// Client is the quoting service.
type Client interface {
	GetQuote(ctx context.Context, req lifi.QuoteRequest) (*lifi.Step, error)
}

// Options are forwarded to the quoting service without interpretation.
type Options struct {
	Slippage       float64
	Integrator     string
	AllowExchanges []string
}

// Leg is one swap of the run.
type Leg struct {
	Name      string
	Chain     uint64
	Owner     common.Address
	FromToken chain.Token
	ToToken   chain.Token
	Amount    *big.Int
}

// Quote is an unsigned swap instruction plus the spender that must be approved first.
type Quote struct {
	Leg             Leg
	Tool            string
	FromAmount      *big.Int
	ToAmount        *big.Int
	ToAmountMin     *big.Int
	ApprovalAddress common.Address
	Call            *txbuilder.Call
}

// Coordinator requests quotes leg by leg.
type Coordinator struct {
	client Client
	opts   Options
	logger *zap.Logger
}

// NewCoordinator creates a new quote coordinator
func NewCoordinator(client Client, opts Options, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{client: client, opts: opts, logger: logger}
}

// Quote requests a quote for a single leg.
func (c *Coordinator) Quote(ctx context.Context, leg Leg) (*Quote, error) {
	if leg.Amount == nil || leg.Amount.Sign() <= 0 {
		return nil, apperrors.InsufficientFundsError(nil, "swap amount must be positive",
			apperrors.F("leg", leg.Name),
			apperrors.F("amount", leg.Amount))
	}

	step, err := c.client.GetQuote(ctx, lifi.QuoteRequest{
		FromChain:      leg.Chain,
		FromToken:      leg.FromToken.Address.Hex(),
		FromAddress:    leg.Owner.Hex(),
		FromAmount:     leg.Amount.String(),
		ToChain:        leg.Chain,
		ToToken:        leg.ToToken.Address.Hex(),
		Slippage:       c.opts.Slippage,
		Integrator:     c.opts.Integrator,
		AllowExchanges: c.opts.AllowExchanges,
	})
	if err != nil {
		return nil, apperrors.ExecutionFailureError(err, "quote request failed",
			apperrors.F("leg", leg.Name),
			apperrors.F("from_token", leg.FromToken.Symbol),
			apperrors.F("to_token", leg.ToToken.Symbol),
			apperrors.F("amount", leg.Amount))
	}

	q, err := fromStep(leg, step)
	if err != nil {
		return nil, apperrors.ExecutionFailureError(err, "malformed quote",
			apperrors.F("leg", leg.Name))
	}

	c.logger.Info("Swap quote",
		zap.String("leg", leg.Name),
		zap.String("tool", q.Tool),
		zap.String("from", leg.FromToken.Format(q.FromAmount)),
		zap.String("to_min", leg.ToToken.Format(q.ToAmountMin)),
		zap.String("approval_address", q.ApprovalAddress.Hex()))

	return q, nil
}

// QuotePair requests the gas leg, then the stake leg, and validates them together.
// On error no quote is returned, so no call can be built from a mismatched pair.
func (c *Coordinator) QuotePair(ctx context.Context, gasLeg, stakeLeg Leg) (*Quote, *Quote, error) {
	gasQuote, err := c.Quote(ctx, gasLeg)
	if err != nil {
		return nil, nil, err
	}
	stakeQuote, err := c.Quote(ctx, stakeLeg)
	if err != nil {
		return nil, nil, err
	}
	if err := Validate(gasQuote, stakeQuote); err != nil {
		return nil, nil, err
	}
	return gasQuote, stakeQuote, nil
}

// Validate checks that both quotes carry an executable call and name the same spender.
func Validate(a, b *Quote) error {
	for _, q := range []*Quote{a, b} {
		if q == nil || q.Call == nil {
			name := "unknown"
			if q != nil {
				name = q.Leg.Name
			}
			return apperrors.QuoteMismatchError(nil, "quote has no executable transaction",
				apperrors.F("leg", name))
		}
	}
	if a.ApprovalAddress != b.ApprovalAddress {
		return apperrors.QuoteMismatchError(nil, "swap quotes require different spenders",
			apperrors.F(a.Leg.Name+"_approval_address", a.ApprovalAddress.Hex()),
			apperrors.F(b.Leg.Name+"_approval_address", b.ApprovalAddress.Hex()))
	}
	return nil
}

func fromStep(leg Leg, step *lifi.Step) (*Quote, error) {
	if step == nil {
		return nil, fmt.Errorf("empty quote")
	}
	fromAmount, err := parseAmount("fromAmount", step.Estimate.FromAmount)
	if err != nil {
		return nil, err
	}
	toAmount, err := parseAmount("toAmount", step.Estimate.ToAmount)
	if err != nil {
		return nil, err
	}
	toAmountMin, err := parseAmount("toAmountMin", step.Estimate.ToAmountMin)
	if err != nil {
		return nil, err
	}
	if !common.IsHexAddress(step.Estimate.ApprovalAddress) {
		return nil, fmt.Errorf("invalid approvalAddress %q", step.Estimate.ApprovalAddress)
	}

	q := &Quote{
		Leg:             leg,
		Tool:            step.Tool,
		FromAmount:      fromAmount,
		ToAmount:        toAmount,
		ToAmountMin:     toAmountMin,
		ApprovalAddress: common.HexToAddress(step.Estimate.ApprovalAddress),
	}
	if tx := step.TransactionRequest; tx != nil && tx.To != "" {
		data, err := hexutil.Decode(tx.Data)
		if err != nil {
			return nil, fmt.Errorf("decode transaction data: %w", err)
		}
		q.Call = &txbuilder.Call{To: common.HexToAddress(tx.To), Data: data}
	}
	return q, nil
}

func parseAmount(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid %s %q", field, s)
	}
	return v, nil
}
