package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/chainsafe/xchain-stake/internal/metrics"
	"github.com/chainsafe/xchain-stake/pkg/chain"
	"github.com/chainsafe/xchain-stake/pkg/config"
	"github.com/chainsafe/xchain-stake/pkg/ethereum/contracts"
	gethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// ErrReadOnly is returned when a transaction is requested from a client without a key.
var ErrReadOnly = errors.New("client has no signing key")

// Client represents an EVM chain client
type Client struct {
	config     *config.ChainConfig
	backend    Backend
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
	logger     *zap.Logger
}

// NewClient dials the chain RPC. A nil privateKey yields a read-only client.
func NewClient(ctx context.Context, cfg *config.ChainConfig, privateKey *ecdsa.PrivateKey, logger *zap.Logger) (*Client, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC %s: %w", cfg.RPCURL, err)
	}
	c, err := NewClientWithBackend(ctx, client, cfg, privateKey, logger)
	if err != nil {
		client.Close()
		return nil, err
	}
	c.logger.Info("Connected to chain",
		zap.Uint64("chain_id", c.chainID.Uint64()),
		zap.String("rpc_url", cfg.RPCURL),
		zap.String("address", c.address.Hex()))
	return c, nil
}

// NewClientWithBackend wraps an existing backend.
func NewClientWithBackend(ctx context.Context, backend Backend, cfg *config.ChainConfig, privateKey *ecdsa.PrivateKey, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{config: cfg, backend: backend, privateKey: privateKey, logger: logger}
	if privateKey != nil {
		c.address = crypto.PubkeyToAddress(privateKey.PublicKey)
	}

	if cfg.ChainID != 0 {
		c.chainID = new(big.Int).SetUint64(cfg.ChainID)
		return c, nil
	}
	id, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	c.chainID = id
	return c, nil
}

// Close closes the underlying RPC connection
func (c *Client) Close() {
	if closer, ok := c.backend.(interface{ Close() }); ok {
		closer.Close()
	}
}

// Address returns the signing address, or the zero address for read-only clients.
func (c *Client) Address() common.Address {
	return c.address
}

// ChainID returns the chain the client signs for
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// GetTransactor returns a transaction signer
func (c *Client) GetTransactor(ctx context.Context) (*bind.TransactOpts, error) {
	if c.privateKey == nil {
		return nil, ErrReadOnly
	}

	auth, err := bind.NewKeyedTransactorWithChainID(c.privateKey, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}

	// Get nonce
	nonce, err := c.backend.PendingNonceAt(ctx, c.address)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	auth.Nonce = new(big.Int).SetUint64(nonce)
	auth.GasLimit = c.config.GasLimit
	auth.Context = ctx

	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to suggest gas price: %w", err)
	}
	auth.GasPrice, err = c.capGasPrice(gasPrice)
	if err != nil {
		return nil, err
	}

	return auth, nil
}

// capGasPrice applies the configured maximum gas price, if any.
func (c *Client) capGasPrice(gasPrice *big.Int) (*big.Int, error) {
	if c.config.MaxGasPrice == "" {
		return gasPrice, nil
	}
	maxGasPrice, ok := new(big.Int).SetString(c.config.MaxGasPrice, 10)
	if !ok {
		return nil, fmt.Errorf("invalid max gas price %q", c.config.MaxGasPrice)
	}
	if gasPrice.Cmp(maxGasPrice) > 0 {
		c.logger.Warn("Gas price exceeds maximum",
			zap.String("price", gasPrice.String()),
			zap.String("max", maxGasPrice.String()))
		return maxGasPrice, nil
	}
	return gasPrice, nil
}

// SendTransaction signs and broadcasts a legacy transaction. A zero gasLimit falls back
// to the configured limit, then to an estimate.
func (c *Client) SendTransaction(ctx context.Context, req TxRequest) (*types.Transaction, error) {
	auth, err := c.GetTransactor(ctx)
	if err != nil {
		return nil, err
	}

	value := req.Value
	if value == nil {
		value = new(big.Int)
	}
	if req.GasPrice != nil && req.GasPrice.Sign() > 0 {
		if auth.GasPrice, err = c.capGasPrice(req.GasPrice); err != nil {
			return nil, err
		}
	}

	gasLimit := req.GasLimit
	if gasLimit == 0 {
		gasLimit = auth.GasLimit
	}
	if gasLimit == 0 {
		gasLimit, err = c.backend.EstimateGas(ctx, gethereum.CallMsg{
			From:  c.address,
			To:    &req.To,
			Value: value,
			Data:  req.Data,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to estimate gas: %w", err)
		}
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    auth.Nonce.Uint64(),
		To:       &req.To,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: auth.GasPrice,
		Data:     req.Data,
	})
	signed, err := auth.Signer(c.address, tx)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		metrics.TransactionsSent.WithLabelValues(req.Operation, "rejected").Inc()
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}
	metrics.TransactionsSent.WithLabelValues(req.Operation, "sent").Inc()

	c.logger.Info("Transaction sent",
		zap.String("operation", req.Operation),
		zap.String("tx_hash", signed.Hash().Hex()),
		zap.String("to", req.To.Hex()),
		zap.Uint64("nonce", signed.Nonce()),
		zap.Uint64("gas_limit", gasLimit))

	return signed, nil
}

// WaitMined blocks until the transaction is mined and fails when it reverted.
func (c *Client) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	if c.config.ReceiptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.ReceiptTimeout)
		defer cancel()
	}

	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("transaction %s reverted in block %s", tx.Hash().Hex(), receipt.BlockNumber)
	}
	return receipt, nil
}

// BalanceOf returns the owner's balance of token in base units. The native asset is read
// with eth_getBalance, everything else through the ERC-20 balanceOf view.
func (c *Client) BalanceOf(ctx context.Context, token chain.Token, owner common.Address) (*big.Int, error) {
	if token.IsNative() {
		balance, err := c.backend.BalanceAt(ctx, owner, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to get %s balance: %w", token.Symbol, err)
		}
		return balance, nil
	}
	return c.callUint(ctx, token.Address, "balanceOf", owner)
}

// Allowance returns how much spender may move of owner's token.
func (c *Client) Allowance(ctx context.Context, token common.Address, owner, spender common.Address) (*big.Int, error) {
	return c.callUint(ctx, token, "allowance", owner, spender)
}

func (c *Client) callUint(ctx context.Context, token common.Address, method string, args ...any) (*big.Int, error) {
	erc20, err := contracts.ERC20()
	if err != nil {
		return nil, err
	}
	input, err := erc20.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	out, err := c.backend.CallContract(ctx, gethereum.CallMsg{To: &token, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s on %s: %w", method, token.Hex(), err)
	}
	values, err := erc20.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unexpected %s output length %d", method, len(values))
	}
	amount, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %s output type %T", method, values[0])
	}
	return amount, nil
}
