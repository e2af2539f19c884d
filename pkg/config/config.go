package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	apperrors "github.com/chainsafe/xchain-stake/pkg/app/errors"
	"github.com/cosmos/go-bip39"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// MnemonicEnv is the environment variable holding the wallet secret phrase.
const MnemonicEnv = "MNEMONIC"

// Config represents the run configuration
type Config struct {
	Logging     LoggingConfig    `yaml:"logging"`
	Wallet      WalletConfig     `yaml:"wallet"`
	Source      ChainConfig      `yaml:"source" default:"{\"ChainID\":250}"`
	Destination ChainConfig      `yaml:"destination" default:"{\"ChainID\":137}"`
	Tokens      TokensConfig     `yaml:"tokens"`
	LiFi        LiFiConfig       `yaml:"lifi"`
	Gateway     GatewayConfig    `yaml:"gateway"`
	Plan        PlanConfig       `yaml:"plan"`
	Bridge      BridgeConfig     `yaml:"bridge"`
	Swap        SwapConfig       `yaml:"swap"`
	Batch       BatchConfig      `yaml:"batch"`
	Settlement  SettlementConfig `yaml:"settlement"`
	Metrics     MetricsConfig    `yaml:"metrics"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format     string `yaml:"format" default:"console" validate:"oneof=json console"`
	OutputPath string `yaml:"output_path" default:"stdout"`
}

// WalletConfig contains the key-based wallet settings. The mnemonic is normally
// supplied through the MNEMONIC environment variable.
type WalletConfig struct {
	Mnemonic       string `yaml:"mnemonic"`
	DerivationPath string `yaml:"derivation_path" default:"m/44'/60'/0'/0/0" validate:"required"`
}

// ChainConfig contains per-chain RPC settings. An empty RPCURL falls back to the
// first RPC URL the routing service publishes for the chain.
type ChainConfig struct {
	ChainID        uint64        `yaml:"chain_id" validate:"required"`
	RPCURL         string        `yaml:"rpc_url" validate:"omitempty,url"`
	GasLimit       uint64        `yaml:"gas_limit"`
	MaxGasPrice    string        `yaml:"max_gas_price" validate:"omitempty,numeric"`
	ReceiptTimeout time.Duration `yaml:"receipt_timeout" default:"10m"`
}

// TokensConfig names the tokens of the workflow by symbol or address.
type TokensConfig struct {
	SourceStablecoin      string `yaml:"source_stablecoin" default:"USDC" validate:"required"`
	DestinationStablecoin string `yaml:"destination_stablecoin" default:"USDC" validate:"required"`
	// GasToken defaults to the destination chain's native token.
	GasToken        string `yaml:"gas_token"`
	GovernanceToken string `yaml:"governance_token" default:"0x4e78011Ce80ee02d2c3e649Fb657E45898257815" validate:"required"`
	ReceiptToken    string `yaml:"receipt_token" default:"0xb0C22d8D350C67420f06F48936654f567C73E8C8" validate:"required"`
	StakingContract string `yaml:"staking_contract" default:"0x4D70a031Fc76DA6a9bC0C922101A05FA95c3A227" validate:"required,eth_addr"`
}

// LiFiConfig contains the routing/quoting API settings
type LiFiConfig struct {
	BaseURL string        `yaml:"base_url" default:"https://li.quest/v1" validate:"required,url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout" default:"30s"`
}

// GatewayConfig contains the smart-account gateway settings
type GatewayConfig struct {
	BaseURL string        `yaml:"base_url" validate:"required,url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout" default:"30s"`
}

// PlanConfig contains the amounts of the run, in human units of the stablecoin.
type PlanConfig struct {
	BridgeAmount string `yaml:"bridge_amount" default:"1" validate:"required,numeric"`
	Reserve      string `yaml:"reserve" default:"0.2" validate:"required,numeric"`
	// Cap bounds the governance-token swap. Empty means uncapped.
	Cap string `yaml:"cap" validate:"omitempty,numeric"`
}

// BridgeConfig contains the bridge leg settings
type BridgeConfig struct {
	AllowedBridges     []string      `yaml:"allowed_bridges" default:"[\"connext\"]" validate:"min=1,dive,required"`
	Integrator         string        `yaml:"integrator" default:"lifi-pillar"`
	RouteSelection     string        `yaml:"route_selection" default:"first" validate:"oneof=first"`
	StatusPollInterval time.Duration `yaml:"status_poll_interval" default:"10s"`
	MaxStatusPolls     uint          `yaml:"max_status_polls" default:"360" validate:"min=1"`
	Skip               bool          `yaml:"skip"`
}

// SwapConfig contains the quoting parameters forwarded to the quoting service
type SwapConfig struct {
	Slippage         float64  `yaml:"slippage" default:"0.003" validate:"gte=0,lt=1"`
	AllowedExchanges []string `yaml:"allowed_exchanges" default:"[\"paraswap\"]"`
}

// BatchConfig contains batch submission settings
type BatchConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval" default:"1s"`
	MaxPollAttempts uint          `yaml:"max_poll_attempts" default:"900" validate:"min=1"`
	DryRun          bool          `yaml:"dry_run"`
}

// SettlementConfig controls how the bridged balance is observed on the destination chain
type SettlementConfig struct {
	Mode        string        `yaml:"mode" default:"single" validate:"oneof=single stable"`
	Interval    time.Duration `yaml:"interval" default:"5s"`
	StableReads int           `yaml:"stable_reads" default:"2" validate:"min=1"`
	MaxAttempts uint          `yaml:"max_attempts" default:"60" validate:"min=1"`
}

// MetricsConfig contains the optional Pushgateway settings
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url" validate:"omitempty,url"`
	Job            string `yaml:"job" default:"xchain_stake"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return nil, apperrors.ConfigurationError(err, "failed to read config file",
			apperrors.F("path", configPath))
	}
	return Parse(raw)
}

// Parse applies defaults, decodes raw YAML, applies environment overrides and validates.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		return nil, apperrors.ConfigurationError(err, "failed to apply defaults")
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, apperrors.ConfigurationError(err, "failed to unmarshal config")
	}

	if secret := strings.TrimSpace(os.Getenv(MnemonicEnv)); secret != "" {
		cfg.Wallet.Mnemonic = secret
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, apperrors.ConfigurationError(err, "config validation failed")
	}
	return &cfg, nil
}

// ValidateSecret checks that a well-formed secret phrase is present. It must pass
// before any network call is made.
func (c *Config) ValidateSecret() error {
	mnemonic := strings.Join(strings.Fields(c.Wallet.Mnemonic), " ")
	if mnemonic == "" {
		return apperrors.ConfigurationError(nil,
			fmt.Sprintf("please specify a mnemonic phrase in the %s environment variable", MnemonicEnv))
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return apperrors.ConfigurationError(nil, "mnemonic phrase is not a valid BIP-39 mnemonic",
			apperrors.F("words", len(strings.Fields(mnemonic))))
	}
	c.Wallet.Mnemonic = mnemonic
	return nil
}
