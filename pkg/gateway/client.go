// Package gateway is a client for the smart-account meta-transaction gateway. Calls are
// accumulated locally, estimated and signed as one batch, then relayed by the gateway.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/chainsafe/xchain-stake/pkg/batch"
	"github.com/chainsafe/xchain-stake/pkg/txbuilder"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const defaultTimeout = 30 * time.Second

var (
	// ErrEmptyBatch is returned when estimating or submitting without calls.
	ErrEmptyBatch = errors.New("batch has no calls")
	// ErrNotEstimated is returned when submitting a batch that has not been estimated.
	ErrNotEstimated = errors.New("batch has not been estimated")
)

// Signer signs batch hashes on behalf of the smart account owner.
type Signer interface {
	Address() common.Address
	SignHash(hash []byte) ([]byte, error)
}

// Config contains the settings required to reach the gateway.
type Config struct {
	BaseURL string
	APIKey  string
	ChainID uint64
	Timeout time.Duration
}

type callDTO struct {
	To   string `json:"to"`
	Data string `json:"data"`
}

type accountResponse struct {
	Address string `json:"address"`
	State   string `json:"state"`
}

type estimationDTO struct {
	Hash      string `json:"hash"`
	FeeAmount string `json:"feeAmount"`
	GasPrice  string `json:"gasPrice"`
	GasLimit  uint64 `json:"gasLimit"`
	ExpiresAt int64  `json:"expiresAt"`
}

type batchDTO struct {
	Hash        string `json:"hash"`
	State       string `json:"state"`
	Transaction *struct {
		Hash string `json:"hash"`
	} `json:"transaction,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
}

// Client implements batch.Gateway over the gateway REST API.
type Client struct {
	http    *resty.Client
	cfg     Config
	signer  Signer
	logger  *zap.Logger
	account common.Address

	mu         sync.Mutex
	calls      []txbuilder.Call
	estimation *estimationDTO
}

var _ batch.Gateway = (*Client)(nil)

// NewClient creates a gateway client acting for the signer's smart account.
func NewClient(cfg Config, signer Signer, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		httpClient.SetHeader("x-api-key", cfg.APIKey)
	}
	return &Client{http: httpClient, cfg: cfg, signer: signer, logger: logger}
}

// ComputeAccount resolves the smart-account address owned by the signer.
func (c *Client) ComputeAccount(ctx context.Context) (common.Address, error) {
	var out accountResponse
	err := c.post(ctx, "/accounts/compute", map[string]any{
		"chainId": c.cfg.ChainID,
		"owner":   c.signer.Address().Hex(),
	}, &out)
	if err != nil {
		return common.Address{}, fmt.Errorf("compute account: %w", err)
	}
	if !common.IsHexAddress(out.Address) {
		return common.Address{}, fmt.Errorf("compute account: invalid address %q", out.Address)
	}
	account := common.HexToAddress(out.Address)

	c.mu.Lock()
	c.account = account
	c.mu.Unlock()

	c.logger.Info("Smart account computed",
		zap.String("owner", c.signer.Address().Hex()),
		zap.String("account", account.Hex()),
		zap.String("state", out.State))
	return account, nil
}

// AddBatchCall appends a call to the pending batch.
func (c *Client) AddBatchCall(_ context.Context, call txbuilder.Call) error {
	if call.To == (common.Address{}) {
		return errors.New("call target is the zero address")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
	c.estimation = nil
	return nil
}

// ClearBatch drops the pending batch.
func (c *Client) ClearBatch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = nil
	c.estimation = nil
}

// EstimateBatch asks the gateway to price the pending batch.
func (c *Client) EstimateBatch(ctx context.Context) (*batch.Estimation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.calls) == 0 {
		return nil, ErrEmptyBatch
	}

	var out estimationDTO
	err := c.post(ctx, "/batches/estimate", map[string]any{
		"chainId": c.cfg.ChainID,
		"account": c.account.Hex(),
		"calls":   toDTOs(c.calls),
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("estimate batch: %w", err)
	}

	fee, ok := new(big.Int).SetString(out.FeeAmount, 10)
	if !ok {
		return nil, fmt.Errorf("estimate batch: invalid fee amount %q", out.FeeAmount)
	}
	est := &batch.Estimation{FeeAmount: fee, GasLimit: out.GasLimit}
	if gp, ok := new(big.Int).SetString(out.GasPrice, 10); ok {
		est.GasPrice = gp
	}
	c.estimation = &out
	return est, nil
}

// SubmitBatch signs the estimated batch and hands it to the gateway for relaying.
func (c *Client) SubmitBatch(ctx context.Context) (*batch.SubmittedBatch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.calls) == 0 {
		return nil, ErrEmptyBatch
	}
	if c.estimation == nil {
		return nil, ErrNotEstimated
	}

	hash, err := hexutil.Decode(c.estimation.Hash)
	if err != nil {
		return nil, fmt.Errorf("decode batch hash: %w", err)
	}
	signature, err := c.signer.SignHash(accounts.TextHash(hash))
	if err != nil {
		return nil, fmt.Errorf("sign batch: %w", err)
	}

	var out batchDTO
	err = c.post(ctx, "/batches", map[string]any{
		"chainId":    c.cfg.ChainID,
		"account":    c.account.Hex(),
		"calls":      toDTOs(c.calls),
		"estimation": c.estimation,
		"signature":  hexutil.Encode(signature),
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("submit batch: %w", err)
	}

	c.calls = nil
	c.estimation = nil
	return out.toSubmitted(), nil
}

// GetBatch fetches the state of a submitted batch.
func (c *Client) GetBatch(ctx context.Context, hash string) (*batch.SubmittedBatch, error) {
	var out batchDTO
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("hash", hash).
		SetResult(&out).
		SetError(&apiError{}).
		Get("/batches/{hash}")
	if err := check(resp, err); err != nil {
		return nil, fmt.Errorf("get batch %s: %w", hash, err)
	}
	return out.toSubmitted(), nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(out).
		SetError(&apiError{}).
		Post(path)
	return check(resp, err)
}

func check(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if !resp.IsError() {
		return nil
	}
	msg := resp.Status()
	if apiErr, ok := resp.Error().(*apiError); ok && apiErr.Message != "" {
		msg = apiErr.Message
	}
	return fmt.Errorf("gateway error %d: %s", resp.StatusCode(), msg)
}

func toDTOs(calls []txbuilder.Call) []callDTO {
	out := make([]callDTO, len(calls))
	for i, call := range calls {
		out[i] = callDTO{To: call.To.Hex(), Data: call.DataHex()}
	}
	return out
}

func (b batchDTO) toSubmitted() *batch.SubmittedBatch {
	s := &batch.SubmittedBatch{Hash: b.Hash, State: b.State}
	if b.Transaction != nil {
		s.TransactionHash = b.Transaction.Hash
	}
	return s
}
