package service

import (
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pivot-protocol/walletcore/config"
	"github.com/pivot-protocol/walletcore/core"
)

func newSecurityService() *SecurityService {
	return NewSecurityService(config.Default().Security, testLogger())
}

func addr(s string) *common.Address {
	a := common.HexToAddress(s)
	return &a
}

func TestValidateTransactionAcceptsNormalTransfer(t *testing.T) {
	svc := newSecurityService()

	result := svc.ValidateTransaction(core.TransactionRequest{
		To:       addr("0x742d35Cc6634C0532925a3b844Bc454e4438f44e"),
		Value:    big.NewInt(params.Ether),
		GasLimit: 21_000,
	})

	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
}

func TestValidateTransactionLimits(t *testing.T) {
	svc := newSecurityService()
	to := addr("0x742d35Cc6634C0532925a3b844Bc454e4438f44e")

	eleven, ok := new(big.Int).SetString("11000000000000000000", 10)
	require.True(t, ok)

	tests := []struct {
		name string
		req  core.TransactionRequest
	}{
		{"zero address recipient", core.TransactionRequest{To: addr("0x0000000000000000000000000000000000000000")}},
		{"negative value", core.TransactionRequest{To: to, Value: big.NewInt(-1)}},
		{"value over limit", core.TransactionRequest{To: to, Value: eleven}},
		{"gas limit too low", core.TransactionRequest{To: to, GasLimit: 20_999}},
		{"gas limit too high", core.TransactionRequest{To: to, GasLimit: 10_000_001}},
		{"gas price over cap", core.TransactionRequest{To: to, GasPrice: new(big.Int).Mul(big.NewInt(1001), big.NewInt(params.GWei))}},
		{"max fee over cap", core.TransactionRequest{To: to, MaxFeePerGas: new(big.Int).Mul(big.NewInt(1001), big.NewInt(params.GWei))}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := svc.ValidateTransaction(tt.req)
			assert.False(t, result.Valid)
			assert.NotEmpty(t, result.Errors)
		})
	}
}

func TestValidateTransactionBoundaryValues(t *testing.T) {
	svc := newSecurityService()
	to := addr("0x742d35Cc6634C0532925a3b844Bc454e4438f44e")

	ten, ok := new(big.Int).SetString("10000000000000000000", 10)
	require.True(t, ok)

	// Exactly at the limits passes.
	result := svc.ValidateTransaction(core.TransactionRequest{
		To:       to,
		Value:    ten,
		GasLimit: 10_000_000,
		GasPrice: new(big.Int).Mul(big.NewInt(1000), big.NewInt(params.GWei)),
	})
	assert.True(t, result.Valid, "findings: %v", result.Errors)
}

func TestValidateTransactionDangerousData(t *testing.T) {
	svc := newSecurityService()
	to := addr("0x742d35Cc6634C0532925a3b844Bc454e4438f44e")

	deployer := hexutil.MustDecode("0x608060405234801561001057600080fd5b50")
	result := svc.ValidateTransaction(core.TransactionRequest{To: to, Data: deployer})
	assert.False(t, result.Valid)

	// Contract deployment without a recipient is a warning, not an error.
	result = svc.ValidateTransaction(core.TransactionRequest{Data: []byte{0x60, 0x01}})
	assert.True(t, result.Valid)
	assert.NotEmpty(t, result.Warnings)
}

func TestValidateSigningMessage(t *testing.T) {
	svc := newSecurityService()

	check := svc.ValidateSigningMessage("Welcome! Please sign this message to log in.")
	assert.True(t, check.Safe)
	assert.Empty(t, check.Warnings)

	check = svc.ValidateSigningMessage(`Click <script>steal()</script> here`)
	assert.NotContains(t, check.Sanitized, "<script>")
	assert.True(t, check.Safe, "a single finding is tolerated")

	// Three findings cross the refusal threshold.
	check = svc.ValidateSigningMessage(`<script>x()</script> javascript:alert(1) enter your seed phrase`)
	assert.False(t, check.Safe)
	assert.GreaterOrEqual(t, len(check.Warnings), 3)
}

func TestValidateSigningMessageRefusesOverLength(t *testing.T) {
	svc := newSecurityService()
	limit := config.Default().Security.MaxMessageLen

	check := svc.ValidateSigningMessage(strings.Repeat("a", limit))
	assert.True(t, check.Safe, "exactly at the limit passes")

	check = svc.ValidateSigningMessage(strings.Repeat("a", limit+1))
	assert.False(t, check.Safe)
	assert.Empty(t, check.Sanitized, "nothing of an over-length message survives")
	assert.NotEmpty(t, check.Warnings)
}

func TestCheckRateLimitWindow(t *testing.T) {
	svc := newSecurityService()

	base := time.Now()
	svc.now = func() time.Time { return base }

	for i := 0; i < 10; i++ {
		allowed, resetIn := svc.CheckRateLimit("k")
		assert.True(t, allowed, "attempt %d should pass", i+1)
		assert.Zero(t, resetIn)
	}
	allowed, resetIn := svc.CheckRateLimit("k")
	assert.False(t, allowed, "11th attempt must be limited")
	assert.Equal(t, time.Minute, resetIn)

	// A different key has its own window.
	allowed, _ = svc.CheckRateLimit("other")
	assert.True(t, allowed)

	// Just before the window rolls the key is still limited, with almost no
	// wait left.
	svc.now = func() time.Time { return base.Add(time.Minute - time.Millisecond) }
	allowed, resetIn = svc.CheckRateLimit("k")
	assert.False(t, allowed)
	assert.Equal(t, time.Millisecond, resetIn)

	svc.now = func() time.Time { return base.Add(time.Minute) }
	allowed, _ = svc.CheckRateLimit("k")
	assert.True(t, allowed)
}

func TestSuspiciousActivityEscalation(t *testing.T) {
	svc := newSecurityService()

	base := time.Now()
	now := base
	svc.now = func() time.Time { return now }

	for i := 0; i < 4; i++ {
		svc.TrackSuspiciousActivity("attacker", "probe")
	}
	assert.False(t, svc.IsBlocked("attacker"), "below threshold")

	// Fifth event crosses the threshold: blocked for 30 minutes.
	svc.TrackSuspiciousActivity("attacker", "probe")
	assert.True(t, svc.IsBlocked("attacker"))

	now = base.Add(29 * time.Minute)
	assert.True(t, svc.IsBlocked("attacker"))
	now = base.Add(31 * time.Minute)
	assert.False(t, svc.IsBlocked("attacker"))

	// Sixth event doubles the block.
	svc.TrackSuspiciousActivity("attacker", "probe")
	blockStart := now
	now = blockStart.Add(59 * time.Minute)
	assert.True(t, svc.IsBlocked("attacker"))
	now = blockStart.Add(61 * time.Minute)
	assert.False(t, svc.IsBlocked("attacker"))
}

func TestSuspiciousActivityIdleReset(t *testing.T) {
	svc := newSecurityService()

	base := time.Now()
	now := base
	svc.now = func() time.Time { return now }

	for i := 0; i < 4; i++ {
		svc.TrackSuspiciousActivity("k", "probe")
	}

	// After an hour of quiet the count starts over.
	now = base.Add(time.Hour + time.Minute)
	for i := 0; i < 4; i++ {
		svc.TrackSuspiciousActivity("k", "probe")
	}
	assert.False(t, svc.IsBlocked("k"))
}

func TestChecksumAddress(t *testing.T) {
	svc := newSecurityService()

	got, err := svc.ChecksumAddress("0x742d35cc6634c0532925a3b844bc454e4438f44e")
	require.NoError(t, err)
	assert.Equal(t, "0x742d35Cc6634C0532925a3b844Bc454e4438f44e", got)

	_, err = svc.ChecksumAddress("nope")
	assert.Error(t, err)
}
