package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"github.com/pivot-protocol/walletcore/core"
	"github.com/pivot-protocol/walletcore/metrics"
	"github.com/pivot-protocol/walletcore/ports"
)

// AuthService implements challenge-response wallet authentication. A wallet
// proves address control by signing a one-time challenge message; success
// yields a time-bounded session persisted in the session store.
type AuthService struct {
	sessions   ports.SessionStore
	challenges ports.ChallengeStore
	events     ports.EventPublisher
	security   *SecurityService
	metrics    *metrics.Metrics
	log        *logrus.Entry

	sessionTTL   time.Duration
	challengeTTL time.Duration

	now func() time.Time
}

// NewAuthService creates an authentication service. security may be nil;
// repeated invalid signatures then go untracked.
func NewAuthService(
	sessions ports.SessionStore,
	challenges ports.ChallengeStore,
	events ports.EventPublisher,
	security *SecurityService,
	m *metrics.Metrics,
	log *logrus.Logger,
	sessionTTL, challengeTTL time.Duration,
) *AuthService {
	return &AuthService{
		sessions:     sessions,
		challenges:   challenges,
		events:       events,
		security:     security,
		metrics:      m,
		log:          log.WithField("component", "auth"),
		sessionTTL:   sessionTTL,
		challengeTTL: challengeTTL,
		now:          time.Now,
	}
}

// IssueChallenge creates a fresh challenge for the address, replacing any
// outstanding one.
func (s *AuthService) IssueChallenge(ctx context.Context, address string) (*core.Challenge, error) {
	if !core.IsValidAddress(address) {
		return nil, core.NewWalletError(core.CodeUnknown, fmt.Sprintf("invalid address %q", address))
	}

	nonceBytes := make([]byte, 32)
	if _, err := rand.Read(nonceBytes); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	nonce := hexutil.Encode(nonceBytes)

	now := s.now()
	challenge := &core.Challenge{
		Nonce:   nonce,
		Message: core.ChallengeMessage(address, nonce, now),
		Expires: now.Add(s.challengeTTL).UnixMilli(),
	}

	if err := s.challenges.SaveChallenge(ctx, challenge); err != nil {
		return nil, fmt.Errorf("failed to store challenge: %w", err)
	}
	return challenge, nil
}

// Verify checks a signature over the outstanding challenge and establishes a
// session on success. The challenge is consumed regardless of the outcome, so
// every attempt needs a fresh one. Repeated invalid signatures escalate into
// a temporary block on the address.
func (s *AuthService) Verify(ctx context.Context, address, walletLabel, chainID, signature string) (*core.Session, error) {
	authKey := "auth:" + strings.ToLower(address)
	if s.security != nil && s.security.IsBlocked(authKey) {
		s.metrics.AuthAttempts.WithLabelValues("blocked").Inc()
		return nil, core.NewWalletError(core.CodeAuthRejected, "authentication temporarily blocked")
	}

	challenge, err := s.challenges.LoadChallenge(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load challenge: %w", err)
	}
	if challenge == nil {
		s.metrics.AuthAttempts.WithLabelValues("missing_challenge").Inc()
		return nil, core.ErrChallengeMissing
	}

	if challenge.Expired(s.now()) {
		_ = s.challenges.DeleteChallenge(ctx)
		s.metrics.AuthAttempts.WithLabelValues("expired_challenge").Inc()
		return nil, core.ErrChallengeExpired
	}

	// Consume before checking the signature: a failed attempt must not be
	// retryable against the same challenge.
	if err := s.challenges.DeleteChallenge(ctx); err != nil {
		return nil, fmt.Errorf("failed to consume challenge: %w", err)
	}

	recovered, err := recoverSigner(challenge.Message, signature)
	if err != nil {
		s.recordInvalidSignature(authKey)
		return nil, core.WrapWalletError(core.CodeInvalidSignature, "signature verification failed", err)
	}
	if !strings.EqualFold(recovered, address) {
		s.recordInvalidSignature(authKey)
		return nil, core.NewWalletError(core.CodeInvalidSignature, "signature does not match the address")
	}

	token := hexutil.Encode(crypto.Keccak256([]byte(address + ":" + signature + ":" + challenge.Nonce)))

	session := &core.Session{
		Address:     address,
		WalletLabel: walletLabel,
		Token:       token,
		Expires:     s.now().Add(s.sessionTTL).UnixMilli(),
		ChainID:     chainID,
	}
	if err := s.sessions.SaveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	s.metrics.AuthAttempts.WithLabelValues("success").Inc()
	s.log.WithField("address", core.FormatAddress(address, 4)).Info("session established")
	return session, nil
}

func (s *AuthService) recordInvalidSignature(authKey string) {
	s.metrics.AuthAttempts.WithLabelValues("invalid_signature").Inc()
	if s.security != nil {
		s.security.TrackSuspiciousActivity(authKey, "invalid signature")
	}
}

// recoverSigner recovers the address that produced a personal-message
// signature over message.
func recoverSigner(message, signature string) (string, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return "", fmt.Errorf("malformed signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return "", fmt.Errorf("signature has %d bytes, want %d", len(sig), crypto.SignatureLength)
	}

	// Wallets return v as 27/28; recovery wants 0/1.
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig = append([]byte(nil), sig...)
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return "", fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}

// GetSession returns the current session, or nil when none exists. An expired
// session is deleted on the way out.
func (s *AuthService) GetSession(ctx context.Context) (*core.Session, error) {
	session, err := s.sessions.LoadSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session == nil {
		return nil, nil
	}

	if session.Expired(s.now()) {
		if err := s.sessions.DeleteSession(ctx); err != nil {
			return nil, fmt.Errorf("failed to clear expired session: %w", err)
		}
		return nil, nil
	}
	return session, nil
}

// Logout destroys the session and any outstanding challenge and announces
// the invalidation.
func (s *AuthService) Logout(ctx context.Context, reason string) error {
	session, err := s.sessions.LoadSession(ctx)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	if err := s.sessions.DeleteSession(ctx); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if err := s.challenges.DeleteChallenge(ctx); err != nil {
		return fmt.Errorf("failed to delete challenge: %w", err)
	}

	if session != nil {
		if err := s.events.PublishLogout(ctx, session.Address, reason); err != nil {
			s.log.WithError(err).Warn("failed to publish logout event")
		}
	}
	return nil
}

// UpdateSessionChain records the active chain on the session so a restore
// lands on the chain the user last used.
func (s *AuthService) UpdateSessionChain(ctx context.Context, chainID string) error {
	session, err := s.GetSession(ctx)
	if err != nil || session == nil {
		return err
	}

	session.ChainID = chainID
	return s.sessions.SaveSession(ctx, session)
}

// EnforceAddressBinding clears the session when the connected account no
// longer matches it. It reports whether the session was cleared.
func (s *AuthService) EnforceAddressBinding(ctx context.Context, activeAddress string) (bool, error) {
	session, err := s.GetSession(ctx)
	if err != nil || session == nil {
		return false, err
	}

	if strings.EqualFold(session.Address, activeAddress) {
		return false, nil
	}

	s.log.WithFields(logrus.Fields{
		"session": core.FormatAddress(session.Address, 4),
		"active":  core.FormatAddress(activeAddress, 4),
	}).Warn("account switched, invalidating session")

	if err := s.Logout(ctx, "address mismatch"); err != nil {
		return false, err
	}
	return true, nil
}
