package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 24*time.Hour, cfg.Wallet.SessionTTL)
	assert.Equal(t, 5*time.Minute, cfg.Wallet.ChallengeTTL)
	assert.Equal(t, "10000000000000000000", cfg.Security.MaxValueWei)
	assert.Equal(t, 10, cfg.Security.RateLimit)
	assert.Equal(t, 30*time.Second, cfg.Monitor.Interval)
	assert.Equal(t, 100, cfg.Watcher.MaxAttempts)
	assert.Len(t, cfg.Chains, 4)
	assert.Equal(t, "0x1", cfg.DefaultChain)
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/pivot.yaml")
	assert.Error(t, err)
}

func TestLoadFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pivot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9999"
defaultChain: "0x89"
enableTestnets: true
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, "0x89", cfg.DefaultChain)
	assert.Len(t, cfg.Chains, 6, "testnets appended")
	assert.True(t, cfg.IsTestnet("0x5"))
	assert.True(t, cfg.IsTestnet("0x13881"))
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PIVOT_SERVER_ADDR", ":7000")
	t.Setenv("PIVOT_DEFAULT_CHAIN", "0x38")
	t.Setenv("PIVOT_DEBUG", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, "0x38", cfg.DefaultChain)
	assert.True(t, cfg.Debug)
}

func TestLoadRejectsUnknownDefaultChain(t *testing.T) {
	t.Setenv("PIVOT_DEFAULT_CHAIN", "0xdead")

	_, err := Load("")
	assert.Error(t, err)
}

func TestChainLookups(t *testing.T) {
	cfg := Default()

	chain, ok := cfg.ChainByID("0x89")
	require.True(t, ok)
	assert.Equal(t, "Polygon", chain.Label)

	// Case-insensitive.
	chain, ok = cfg.ChainByID("0XA4B1")
	require.True(t, ok)
	assert.Equal(t, "Arbitrum One", chain.Label)

	_, ok = cfg.ChainByID("0xdead")
	assert.False(t, ok)

	assert.True(t, cfg.IsSupported("0x1"))
	assert.True(t, cfg.IsMainnet("0x38"))
	assert.False(t, cfg.IsTestnet("0x1"))
	assert.False(t, cfg.IsMainnet("0x5"))
}
