package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pivot-protocol/walletcore/adapters/store"
	"github.com/pivot-protocol/walletcore/core"
	"github.com/pivot-protocol/walletcore/metrics"
)

func newAuthService(t *testing.T) (*AuthService, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	svc := NewAuthService(mem, mem, &fakePublisher{}, newSecurityService(), metrics.NewNop(),
		testLogger(), 24*time.Hour, 5*time.Minute)
	return svc, mem
}

func TestChallengeSignatureRoundTrip(t *testing.T) {
	svc, _ := newAuthService(t)
	ctx := context.Background()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	challenge, err := svc.IssueChallenge(ctx, address)
	require.NoError(t, err)
	assert.Contains(t, challenge.Message, address)
	assert.Contains(t, challenge.Message, challenge.Nonce)

	session, err := svc.Verify(ctx, address, "Test Wallet", "0x1", signPersonal(key, challenge.Message))
	require.NoError(t, err)

	assert.Equal(t, address, session.Address)
	assert.Equal(t, "Test Wallet", session.WalletLabel)
	assert.Equal(t, "0x1", session.ChainID)
	assert.True(t, core.ValidSessionToken(session.Token))
	assert.False(t, session.Expired(time.Now()))

	loaded, err := svc.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, session.Token, loaded.Token)
}

func TestVerifyWithoutChallenge(t *testing.T) {
	svc, _ := newAuthService(t)

	_, err := svc.Verify(context.Background(), "0x0000000000000000000000000000000000000001", "", "", "0x00")
	assert.ErrorIs(t, err, core.ErrChallengeMissing)
}

func TestChallengeIsSingleUse(t *testing.T) {
	svc, _ := newAuthService(t)
	ctx := context.Background()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	challenge, err := svc.IssueChallenge(ctx, address)
	require.NoError(t, err)
	sig := signPersonal(key, challenge.Message)

	_, err = svc.Verify(ctx, address, "", "", sig)
	require.NoError(t, err)

	_, err = svc.Verify(ctx, address, "", "", sig)
	assert.ErrorIs(t, err, core.ErrChallengeMissing)
}

func TestFailedVerifyConsumesChallenge(t *testing.T) {
	svc, _ := newAuthService(t)
	ctx := context.Background()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	challenge, err := svc.IssueChallenge(ctx, address)
	require.NoError(t, err)

	// Signature from a different key does not match the address.
	other, err := crypto.GenerateKey()
	require.NoError(t, err)

	_, err = svc.Verify(ctx, address, "", "", signPersonal(other, challenge.Message))
	assert.ErrorIs(t, err, core.NewWalletError(core.CodeInvalidSignature, ""))

	// The correct signature no longer works either; the challenge is gone.
	_, err = svc.Verify(ctx, address, "", "", signPersonal(key, challenge.Message))
	assert.ErrorIs(t, err, core.ErrChallengeMissing)
}

func TestExpiredChallenge(t *testing.T) {
	svc, _ := newAuthService(t)
	ctx := context.Background()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	challenge, err := svc.IssueChallenge(ctx, address)
	require.NoError(t, err)

	expiry := time.UnixMilli(challenge.Expires)

	// One millisecond before the boundary the challenge is still valid, one
	// after it is not.
	svc.now = func() time.Time { return expiry }
	sig := signPersonal(key, challenge.Message)
	_, err = svc.Verify(ctx, address, "", "", sig)
	require.NoError(t, err)

	challenge, err = svc.IssueChallenge(ctx, address)
	require.NoError(t, err)
	svc.now = func() time.Time { return time.UnixMilli(challenge.Expires).Add(time.Millisecond) }
	_, err = svc.Verify(ctx, address, "", "", signPersonal(key, challenge.Message))
	assert.ErrorIs(t, err, core.ErrChallengeExpired)
}

func TestIssueChallengeRejectsBadAddress(t *testing.T) {
	svc, _ := newAuthService(t)

	_, err := svc.IssueChallenge(context.Background(), "not-an-address")
	require.Error(t, err)
	// No signature was involved yet, so the failure is not a signature error.
	assert.NotErrorIs(t, err, core.NewWalletError(core.CodeInvalidSignature, ""))
}

func TestRepeatedInvalidSignaturesBlock(t *testing.T) {
	svc, _ := newAuthService(t)
	ctx := context.Background()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()
	other, err := crypto.GenerateKey()
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		challenge, err := svc.IssueChallenge(ctx, address)
		require.NoError(t, err)
		_, err = svc.Verify(ctx, address, "", "", signPersonal(other, challenge.Message))
		assert.ErrorIs(t, err, core.NewWalletError(core.CodeInvalidSignature, ""), "attempt %d", i+1)
	}

	// The sixth attempt is refused before the signature is even inspected,
	// a correct one included.
	challenge, err := svc.IssueChallenge(ctx, address)
	require.NoError(t, err)
	_, err = svc.Verify(ctx, address, "", "", signPersonal(key, challenge.Message))
	assert.ErrorIs(t, err, core.NewWalletError(core.CodeAuthRejected, ""))
}

func TestIssueChallengeReplacesOutstanding(t *testing.T) {
	svc, _ := newAuthService(t)
	ctx := context.Background()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	first, err := svc.IssueChallenge(ctx, address)
	require.NoError(t, err)
	second, err := svc.IssueChallenge(ctx, address)
	require.NoError(t, err)
	require.NotEqual(t, first.Nonce, second.Nonce)

	// The first challenge's signature fails: only the latest one is live.
	_, err = svc.Verify(ctx, address, "", "", signPersonal(key, first.Message))
	assert.Error(t, err)
}

func TestSessionLazyExpiry(t *testing.T) {
	svc, mem := newAuthService(t)
	ctx := context.Background()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	challenge, err := svc.IssueChallenge(ctx, address)
	require.NoError(t, err)
	session, err := svc.Verify(ctx, address, "", "", signPersonal(key, challenge.Message))
	require.NoError(t, err)

	svc.now = func() time.Time { return session.ExpiresAt().Add(time.Second) }

	loaded, err := svc.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded)

	// The expired record was deleted, not just hidden.
	raw, err := mem.LoadSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestLogoutPublishesEvent(t *testing.T) {
	mem := store.NewMemoryStore()
	pub := &fakePublisher{}
	svc := NewAuthService(mem, mem, pub, newSecurityService(), metrics.NewNop(), testLogger(),
		24*time.Hour, 5*time.Minute)
	ctx := context.Background()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	challenge, err := svc.IssueChallenge(ctx, address)
	require.NoError(t, err)
	_, err = svc.Verify(ctx, address, "", "", signPersonal(key, challenge.Message))
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, "test"))

	assert.Equal(t, 1, pub.logoutCount())
	loaded, err := svc.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestUpdateSessionChain(t *testing.T) {
	svc, _ := newAuthService(t)
	ctx := context.Background()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	challenge, err := svc.IssueChallenge(ctx, address)
	require.NoError(t, err)
	_, err = svc.Verify(ctx, address, "", "0x1", signPersonal(key, challenge.Message))
	require.NoError(t, err)

	require.NoError(t, svc.UpdateSessionChain(ctx, "0x89"))

	session, err := svc.GetSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0x89", session.ChainID)
}

func TestEnforceAddressBinding(t *testing.T) {
	svc, _ := newAuthService(t)
	ctx := context.Background()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	challenge, err := svc.IssueChallenge(ctx, address)
	require.NoError(t, err)
	_, err = svc.Verify(ctx, address, "", "", signPersonal(key, challenge.Message))
	require.NoError(t, err)

	// Same address in a different case keeps the session.
	cleared, err := svc.EnforceAddressBinding(ctx, strings.ToUpper(address))
	require.NoError(t, err)
	assert.False(t, cleared)

	cleared, err = svc.EnforceAddressBinding(ctx, "0x0000000000000000000000000000000000000002")
	require.NoError(t, err)
	assert.True(t, cleared)

	session, err := svc.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, session)
}
