package lifi

import (
	"github.com/chainsafe/xchain-stake/pkg/chain"
	"github.com/ethereum/go-ethereum/common"
)

// Token is the token shape returned by the API.
type Token struct {
	Address  string `json:"address"`
	ChainID  uint64 `json:"chainId"`
	Symbol   string `json:"symbol"`
	Decimals int32  `json:"decimals"`
	Name     string `json:"name"`
	PriceUSD string `json:"priceUSD,omitempty"`
}

// ToChainToken converts an API token into a chain.Token.
func (t Token) ToChainToken() chain.Token {
	return chain.Token{
		ChainID:  t.ChainID,
		Address:  common.HexToAddress(t.Address),
		Decimals: t.Decimals,
		Symbol:   t.Symbol,
		Name:     t.Name,
	}
}

// Chain is the chain shape returned by the API.
type Chain struct {
	ID          uint64 `json:"id"`
	Key         string `json:"key"`
	Name        string `json:"name"`
	Coin        string `json:"coin"`
	NativeToken Token  `json:"nativeToken"`
	Metamask    struct {
		RPCURLs []string `json:"rpcUrls"`
	} `json:"metamask"`
}

// ToChain converts an API chain into a chain.Chain.
func (c Chain) ToChain() chain.Chain {
	return chain.Chain{
		ID:          c.ID,
		Key:         c.Key,
		Name:        c.Name,
		NativeToken: c.NativeToken.ToChainToken(),
		RPCURLs:     c.Metamask.RPCURLs,
	}
}

type chainsResponse struct {
	Chains []Chain `json:"chains"`
}

// RoutesRequest asks for bridge routes between two chain/token pairs.
type RoutesRequest struct {
	FromChainID      uint64        `json:"fromChainId"`
	FromTokenAddress string        `json:"fromTokenAddress"`
	FromAddress      string        `json:"fromAddress"`
	FromAmount       string        `json:"fromAmount"`
	ToChainID        uint64        `json:"toChainId"`
	ToTokenAddress   string        `json:"toTokenAddress"`
	ToAddress        string        `json:"toAddress"`
	Options          RoutesOptions `json:"options"`
}

// RoutesOptions are forwarded to the routing service unchanged.
type RoutesOptions struct {
	Integrator string     `json:"integrator,omitempty"`
	Slippage   float64    `json:"slippage,omitempty"`
	Bridges    *AllowDeny `json:"bridges,omitempty"`
	Exchanges  *AllowDeny `json:"exchanges,omitempty"`
}

// AllowDeny restricts the tools a route may use.
type AllowDeny struct {
	Allow []string `json:"allow,omitempty"`
	Deny  []string `json:"deny,omitempty"`
}

type routesResponse struct {
	Routes []Route `json:"routes"`
}

// Route is an ordered sequence of bridge steps.
type Route struct {
	ID          string `json:"id"`
	FromChainID uint64 `json:"fromChainId"`
	FromAmount  string `json:"fromAmount"`
	ToChainID   uint64 `json:"toChainId"`
	ToAmount    string `json:"toAmount"`
	ToAmountMin string `json:"toAmountMin"`
	FromAddress string `json:"fromAddress"`
	ToAddress   string `json:"toAddress"`
	Steps       []Step `json:"steps"`
}

// LastExecution returns the execution of the last step that has started, or nil.
func (r *Route) LastExecution() *Execution {
	var last *Execution
	for i := range r.Steps {
		if r.Steps[i].Execution != nil {
			last = r.Steps[i].Execution
		}
	}
	return last
}

// Step is one provider action of a route. A quote is a single step.
type Step struct {
	ID                 string              `json:"id"`
	Type               string              `json:"type"`
	Tool               string              `json:"tool"`
	Action             Action              `json:"action"`
	Estimate           Estimate            `json:"estimate"`
	IncludedSteps      []Step              `json:"includedSteps,omitempty"`
	TransactionRequest *TransactionRequest `json:"transactionRequest,omitempty"`
	Execution          *Execution          `json:"execution,omitempty"`
}

// Action describes what a step moves.
type Action struct {
	FromChainID uint64  `json:"fromChainId"`
	ToChainID   uint64  `json:"toChainId"`
	FromToken   Token   `json:"fromToken"`
	ToToken     Token   `json:"toToken"`
	FromAmount  string  `json:"fromAmount"`
	FromAddress string  `json:"fromAddress,omitempty"`
	ToAddress   string  `json:"toAddress,omitempty"`
	Slippage    float64 `json:"slippage,omitempty"`
}

// Estimate carries the amounts a step is expected to produce.
type Estimate struct {
	Tool              string  `json:"tool,omitempty"`
	FromAmount        string  `json:"fromAmount"`
	ToAmount          string  `json:"toAmount"`
	ToAmountMin       string  `json:"toAmountMin"`
	ApprovalAddress   string  `json:"approvalAddress"`
	ExecutionDuration float64 `json:"executionDuration,omitempty"`
}

// TransactionRequest is the unsigned transaction that executes a step.
type TransactionRequest struct {
	From     string `json:"from,omitempty"`
	To       string `json:"to"`
	ChainID  uint64 `json:"chainId,omitempty"`
	Data     string `json:"data"`
	Value    string `json:"value,omitempty"`
	GasLimit string `json:"gasLimit,omitempty"`
	GasPrice string `json:"gasPrice,omitempty"`
}

// Execution statuses reported for a step.
const (
	ExecutionPending        = "PENDING"
	ExecutionActionRequired = "ACTION_REQUIRED"
	ExecutionDone           = "DONE"
	ExecutionFailed         = "FAILED"
)

// Execution is the client-side progress record of a step.
type Execution struct {
	Status  string    `json:"status"`
	Process []Process `json:"process"`
}

// Process is one on-chain action within a step execution.
type Process struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	TxHash  string `json:"txHash,omitempty"`
	Message string `json:"message,omitempty"`
}

// QuoteRequest asks for a same-chain swap quote.
type QuoteRequest struct {
	FromChain      uint64
	FromToken      string
	FromAddress    string
	FromAmount     string
	ToChain        uint64
	ToToken        string
	Slippage       float64
	Integrator     string
	AllowExchanges []string
}

// Status values of a cross-chain transfer.
const (
	StatusNotFound = "NOT_FOUND"
	StatusInvalid  = "INVALID"
	StatusPending  = "PENDING"
	StatusDone     = "DONE"
	StatusFailed   = "FAILED"
)

// StatusRequest identifies a cross-chain transfer by its sending transaction.
type StatusRequest struct {
	Bridge    string
	FromChain uint64
	ToChain   uint64
	TxHash    string
}

// StatusResponse reports the progress of a cross-chain transfer.
type StatusResponse struct {
	Status    string `json:"status"`
	Substatus string `json:"substatus,omitempty"`
	Sending   struct {
		TxHash string `json:"txHash"`
	} `json:"sending"`
	Receiving struct {
		TxHash string `json:"txHash"`
		Amount string `json:"amount"`
	} `json:"receiving"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
