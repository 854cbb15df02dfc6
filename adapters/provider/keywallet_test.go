package provider

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pivot-protocol/walletcore/core"
)

var testChains = []core.ChainConfig{
	{ID: "0x1", Label: "Ethereum", Token: "ETH", RPCURL: "http://localhost:8545"},
	{ID: "0x89", Label: "Polygon", Token: "MATIC", RPCURL: "http://localhost:8546"},
}

func newTestWallet(t *testing.T) *KeyWallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	w, err := NewKeyWallet(key, "Test Signer", testChains, "0x1")
	require.NoError(t, err)
	return w
}

func TestNewKeyWalletRequiresKnownDefault(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	_, err = NewKeyWallet(key, "Test", testChains, "0xdead")
	assert.Error(t, err)

	// Chain ids match case-insensitively.
	_, err = NewKeyWallet(key, "Test", testChains, "0X1")
	assert.NoError(t, err)
}

func TestSignMessageRecoverable(t *testing.T) {
	w := newTestWallet(t)
	message := []byte("Welcome to Pivot Protocol!")

	sig, err := w.SignMessage(context.Background(), message)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.GreaterOrEqual(t, sig[64], byte(27), "v is wallet style")

	recovery := append([]byte(nil), sig...)
	recovery[64] -= 27
	pub, err := crypto.SigToPub(accounts.TextHash(message), recovery)
	require.NoError(t, err)
	assert.Equal(t, w.Address(), crypto.PubkeyToAddress(*pub))
}

func TestSwitchChainRegistry(t *testing.T) {
	w := newTestWallet(t)
	ctx := context.Background()

	// Disconnected switches only update the registry position.
	require.NoError(t, w.SwitchChain(ctx, "0x89"))
	w.mu.Lock()
	assert.Equal(t, "0x89", w.chainID)
	w.mu.Unlock()

	err := w.SwitchChain(ctx, "0xa4b1")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.NewWalletError(core.CodeUnsupportedChain, ""))

	require.NoError(t, w.AddChain(ctx, core.ChainConfig{
		ID: "0xA4B1", Label: "Arbitrum One", Token: "ETH", RPCURL: "http://localhost:8547",
	}))
	assert.NoError(t, w.SwitchChain(ctx, "0xa4b1"))
}

func TestSendTransactionRequiresConnection(t *testing.T) {
	w := newTestWallet(t)

	_, err := w.SendTransaction(context.Background(), core.TransactionRequest{})
	assert.ErrorIs(t, err, core.ErrNotConnected)
}

func TestSubscribeDelivery(t *testing.T) {
	w := newTestWallet(t)

	ch := make(chan core.ConnectionState, 4)
	cancel := w.Subscribe(ch)

	w.mu.Lock()
	w.notifyLocked(core.ConnectionState{Connected: true, ChainID: "0x1"})
	w.mu.Unlock()

	select {
	case state := <-ch:
		assert.True(t, state.Connected)
	default:
		t.Fatal("no state delivered")
	}

	cancel()
	w.mu.Lock()
	w.notifyLocked(core.ConnectionState{})
	w.mu.Unlock()
	assert.Empty(t, ch)
}

func TestParseChainID(t *testing.T) {
	id, err := parseChainID("0x1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, id.Int64())

	id, err = parseChainID("0xA4B1")
	require.NoError(t, err)
	assert.EqualValues(t, 42161, id.Int64())

	_, err = parseChainID("mainnet")
	assert.Error(t, err)
}
