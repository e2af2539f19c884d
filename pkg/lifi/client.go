// Package lifi is a REST client for the LI.FI routing, quoting and status API.
package lifi

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chainsafe/xchain-stake/pkg/chain"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	// DefaultBaseURL is the public LI.FI API endpoint.
	DefaultBaseURL = "https://li.quest/v1"

	apiKeyHeader   = "x-lifi-api-key"
	defaultTimeout = 30 * time.Second
)

// ErrNotFound is returned when the API does not know the requested chain or token.
var ErrNotFound = errors.New("not found")

// Config contains the settings required to reach the API.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client talks to the LI.FI API.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// NewClient creates a new API client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		httpClient.SetHeader(apiKeyHeader, cfg.APIKey)
	}

	return &Client{http: httpClient, logger: logger}
}

// GetChains lists every chain the API supports.
func (c *Client) GetChains(ctx context.Context) ([]Chain, error) {
	var out chainsResponse
	if err := c.get(ctx, "/chains", nil, &out); err != nil {
		return nil, fmt.Errorf("get chains: %w", err)
	}
	return out.Chains, nil
}

// GetChain looks up a chain by id.
func (c *Client) GetChain(ctx context.Context, chainID uint64) (chain.Chain, error) {
	chains, err := c.GetChains(ctx)
	if err != nil {
		return chain.Chain{}, err
	}
	for _, ch := range chains {
		if ch.ID == chainID {
			return ch.ToChain(), nil
		}
	}
	return chain.Chain{}, fmt.Errorf("chain %d: %w", chainID, ErrNotFound)
}

// GetToken resolves a token by symbol or address on a chain.
func (c *Client) GetToken(ctx context.Context, chainID uint64, token string) (chain.Token, error) {
	var out Token
	err := c.get(ctx, "/token", map[string]string{
		"chain": strconv.FormatUint(chainID, 10),
		"token": token,
	}, &out)
	if err != nil {
		return chain.Token{}, fmt.Errorf("get token %s on chain %d: %w", token, chainID, err)
	}
	return out.ToChainToken(), nil
}

// GetRoutes asks for bridge routes. The response order is the API's own.
func (c *Client) GetRoutes(ctx context.Context, req RoutesRequest) ([]Route, error) {
	c.logger.Debug("Requesting routes",
		zap.Uint64("from_chain", req.FromChainID),
		zap.Uint64("to_chain", req.ToChainID),
		zap.String("from_amount", req.FromAmount),
		zap.String("to_address", req.ToAddress))

	var out routesResponse
	if err := c.post(ctx, "/advanced/routes", req, &out); err != nil {
		return nil, fmt.Errorf("get routes: %w", err)
	}
	return out.Routes, nil
}

// GetStepTransaction fills in the transaction request of a route step.
func (c *Client) GetStepTransaction(ctx context.Context, step Step) (*Step, error) {
	step.Execution = nil
	var out Step
	if err := c.post(ctx, "/advanced/stepTransaction", step, &out); err != nil {
		return nil, fmt.Errorf("get step transaction %s: %w", step.ID, err)
	}
	return &out, nil
}

// GetQuote asks for a single-step swap quote.
func (c *Client) GetQuote(ctx context.Context, req QuoteRequest) (*Step, error) {
	params := map[string]string{
		"fromChain":   strconv.FormatUint(req.FromChain, 10),
		"toChain":     strconv.FormatUint(req.ToChain, 10),
		"fromToken":   req.FromToken,
		"toToken":     req.ToToken,
		"fromAddress": req.FromAddress,
		"fromAmount":  req.FromAmount,
	}
	if req.Slippage > 0 {
		params["slippage"] = strconv.FormatFloat(req.Slippage, 'f', -1, 64)
	}
	if req.Integrator != "" {
		params["integrator"] = req.Integrator
	}
	if len(req.AllowExchanges) > 0 {
		params["allowExchanges"] = strings.Join(req.AllowExchanges, ",")
	}

	var out Step
	if err := c.get(ctx, "/quote", params, &out); err != nil {
		return nil, fmt.Errorf("get quote %s -> %s: %w", req.FromToken, req.ToToken, err)
	}
	return &out, nil
}

// GetStatus reports the progress of a cross-chain transfer.
func (c *Client) GetStatus(ctx context.Context, req StatusRequest) (*StatusResponse, error) {
	params := map[string]string{"txHash": req.TxHash}
	if req.Bridge != "" {
		params["bridge"] = req.Bridge
	}
	if req.FromChain != 0 {
		params["fromChain"] = strconv.FormatUint(req.FromChain, 10)
	}
	if req.ToChain != 0 {
		params["toChain"] = strconv.FormatUint(req.ToChain, 10)
	}

	var out StatusResponse
	if err := c.get(ctx, "/status", params, &out); err != nil {
		return nil, fmt.Errorf("get status %s: %w", req.TxHash, err)
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, path string, params map[string]string, out any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(out).
		SetError(&apiError{}).
		Get(path)
	return c.check(resp, err)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(out).
		SetError(&apiError{}).
		Post(path)
	return c.check(resp, err)
}

func (c *Client) check(resp *resty.Response, err error) error {
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
	if resp.StatusCode() == 404 {
		return fmt.Errorf("%s: %w", msg, ErrNotFound)
	}
	return fmt.Errorf("api error %d: %s", resp.StatusCode(), msg)
}
