package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pivot-protocol/walletcore/core"
)

// Config holds the full application configuration. Defaults cover local
// operation; a yaml file and PIVOT_* environment variables override them.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Redis    RedisConfig    `yaml:"redis"`
	Wallet   WalletConfig   `yaml:"wallet"`
	Security SecurityConfig `yaml:"security"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Watcher  WatcherConfig  `yaml:"watcher"`

	Chains         []core.ChainConfig `yaml:"chains"`
	DefaultChain   string             `yaml:"defaultChain"`
	EnableTestnets bool               `yaml:"enableTestnets"`
	TrustedDomains []string           `yaml:"trustedDomains"`
	Debug          bool               `yaml:"debug"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// RedisConfig configures the session store and event stream backend.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// WalletConfig configures the in-process signer and session lifetimes.
type WalletConfig struct {
	// ProjectID identifies the dapp towards remote wallet bridges.
	ProjectID string `yaml:"projectId"`
	Label     string `yaml:"label"`

	SessionTTL   time.Duration `yaml:"sessionTTL"`
	ChallengeTTL time.Duration `yaml:"challengeTTL"`
}

// SecurityConfig bounds what transactions and messages are accepted.
type SecurityConfig struct {
	MaxValueWei     string        `yaml:"maxValueWei"`
	MinGasLimit     uint64        `yaml:"minGasLimit"`
	MaxGasLimit     uint64        `yaml:"maxGasLimit"`
	MaxGasPriceGwei int64         `yaml:"maxGasPriceGwei"`
	MaxDataLength   int           `yaml:"maxDataLength"`
	MaxMessageLen   int           `yaml:"maxMessageLen"`
	RateLimit       int           `yaml:"rateLimit"`
	RateWindow      time.Duration `yaml:"rateWindow"`
	BlockThreshold  int           `yaml:"blockThreshold"`
	BlockBase       time.Duration `yaml:"blockBase"`
	BlockCap        time.Duration `yaml:"blockCap"`
	IdleReset       time.Duration `yaml:"idleReset"`
}

// MonitorConfig configures the network health probe loop.
type MonitorConfig struct {
	Interval   time.Duration `yaml:"interval"`
	RetryDelay time.Duration `yaml:"retryDelay"`
	RetryCap   time.Duration `yaml:"retryCap"`
	MaxRetries int           `yaml:"maxRetries"`
}

// WatcherConfig configures transaction confirmation tracking.
type WatcherConfig struct {
	InitialDelay time.Duration `yaml:"initialDelay"`
	PollInterval time.Duration `yaml:"pollInterval"`
	MaxAttempts  int           `yaml:"maxAttempts"`
}

// Default returns the built-in configuration with the supported mainnet
// chains registered.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080"},
		Redis:  RedisConfig{URL: "redis://localhost:6379/0"},
		Wallet: WalletConfig{
			Label:        "Pivot Signer",
			SessionTTL:   24 * time.Hour,
			ChallengeTTL: 5 * time.Minute,
		},
		Security: SecurityConfig{
			MaxValueWei:     "10000000000000000000", // 10 ether
			MinGasLimit:     21_000,
			MaxGasLimit:     10_000_000,
			MaxGasPriceGwei: 1_000,
			MaxDataLength:   100_000,
			MaxMessageLen:   10_000,
			RateLimit:       10,
			RateWindow:      time.Minute,
			BlockThreshold:  5,
			BlockBase:       30 * time.Minute,
			BlockCap:        24 * time.Hour,
			IdleReset:       time.Hour,
		},
		Monitor: MonitorConfig{
			Interval:   30 * time.Second,
			RetryDelay: 2 * time.Second,
			RetryCap:   60 * time.Second,
			MaxRetries: 3,
		},
		Watcher: WatcherConfig{
			InitialDelay: 5 * time.Second,
			PollInterval: 15 * time.Second,
			MaxAttempts:  100,
		},
		Chains:       MainnetChains(),
		DefaultChain: "0x1",
		TrustedDomains: []string{
			"pivotprotocol.io",
			"app.pivotprotocol.io",
		},
	}
}

// MainnetChains lists the chains supported out of the box.
func MainnetChains() []core.ChainConfig {
	return []core.ChainConfig{
		{
			ID:               "0x1",
			Label:            "Ethereum",
			Token:            "ETH",
			RPCURL:           "https://ethereum.publicnode.com",
			BlockExplorerURL: "https://etherscan.io",
		},
		{
			ID:               "0x89",
			Label:            "Polygon",
			Token:            "MATIC",
			RPCURL:           "https://polygon-rpc.com",
			BlockExplorerURL: "https://polygonscan.com",
		},
		{
			ID:               "0xa4b1",
			Label:            "Arbitrum One",
			Token:            "ETH",
			RPCURL:           "https://arb1.arbitrum.io/rpc",
			BlockExplorerURL: "https://arbiscan.io",
		},
		{
			ID:               "0x38",
			Label:            "BNB Chain",
			Token:            "BNB",
			RPCURL:           "https://bsc-dataseed1.binance.org",
			BlockExplorerURL: "https://bscscan.com",
		},
	}
}

// TestnetChains lists the test networks enabled by EnableTestnets.
func TestnetChains() []core.ChainConfig {
	return []core.ChainConfig{
		{
			ID:               "0x5",
			Label:            "Goerli",
			Token:            "ETH",
			RPCURL:           "https://ethereum-goerli.publicnode.com",
			BlockExplorerURL: "https://goerli.etherscan.io",
			Testnet:          true,
		},
		{
			ID:               "0x13881",
			Label:            "Mumbai",
			Token:            "MATIC",
			RPCURL:           "https://rpc-mumbai.maticvigil.com",
			BlockExplorerURL: "https://mumbai.polygonscan.com",
			Testnet:          true,
		},
	}
}

// Load builds the configuration from defaults, an optional yaml file, and
// environment overrides, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if cfg.EnableTestnets {
		cfg.Chains = append(cfg.Chains, TestnetChains()...)
	}

	if _, ok := cfg.ChainByID(cfg.DefaultChain); !ok {
		return nil, fmt.Errorf("default chain %s is not configured", cfg.DefaultChain)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PIVOT_SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("PIVOT_REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("PIVOT_PROJECT_ID"); v != "" {
		c.Wallet.ProjectID = v
	}
	if v := os.Getenv("PIVOT_DEFAULT_CHAIN"); v != "" {
		c.DefaultChain = v
	}
	if v := os.Getenv("PIVOT_ENABLE_TESTNETS"); v != "" {
		c.EnableTestnets, _ = strconv.ParseBool(v)
	}
	if v := os.Getenv("PIVOT_DEBUG"); v != "" {
		c.Debug, _ = strconv.ParseBool(v)
	}
}

// ChainByID looks a chain up by its hex id, case-insensitively.
func (c *Config) ChainByID(id string) (core.ChainConfig, bool) {
	for _, chain := range c.Chains {
		if strings.EqualFold(chain.ID, id) {
			return chain, true
		}
	}
	return core.ChainConfig{}, false
}

// IsSupported reports whether a chain id is configured.
func (c *Config) IsSupported(id string) bool {
	_, ok := c.ChainByID(id)
	return ok
}

// IsMainnet reports whether the chain id names a configured mainnet chain.
func (c *Config) IsMainnet(id string) bool {
	chain, ok := c.ChainByID(id)
	return ok && !chain.Testnet
}

// IsTestnet reports whether the chain id names a configured test network.
func (c *Config) IsTestnet(id string) bool {
	chain, ok := c.ChainByID(id)
	return ok && chain.Testnet
}
