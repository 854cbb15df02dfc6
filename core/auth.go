package core

import (
	"fmt"
	"time"
)

// Session is a locally persisted, time-bounded proof of wallet authentication.
// The persisted layout is fixed: a single JSON object under the session key.
type Session struct {
	Address     string `json:"address"`
	WalletLabel string `json:"walletLabel"`
	Token       string `json:"token"`
	Expires     int64  `json:"expires"` // epoch milliseconds
	ChainID     string `json:"chainId,omitempty"`
}

// ExpiresAt returns the session expiry as a time.
func (s *Session) ExpiresAt() time.Time {
	return time.UnixMilli(s.Expires)
}

// Expired reports whether the session is past its expiry at the given instant.
func (s *Session) Expired(now time.Time) bool {
	return now.UnixMilli() > s.Expires
}

// Challenge is a one-time, expiring message a wallet must sign to prove
// address control. It lives only in volatile storage and may be consumed once.
type Challenge struct {
	Nonce   string `json:"nonce"`
	Message string `json:"message"`
	Expires int64  `json:"expires"` // epoch milliseconds
}

// Expired reports whether the challenge is past its expiry at the given instant.
func (c *Challenge) Expired(now time.Time) bool {
	return now.UnixMilli() > c.Expires
}

// ChallengeMessage builds the human-readable text a wallet is asked to sign.
// It embeds the address, nonce and issuance timestamp so the signature is
// bound to a single authentication attempt.
func ChallengeMessage(address, nonce string, issuedAt time.Time) string {
	return fmt.Sprintf(`Welcome to Pivot Protocol!

This request will not trigger a blockchain transaction or cost any gas fees.

Your authentication status will be stored for 24 hours.

Wallet address:
%s

Nonce:
%s

Timestamp:
%s`, address, nonce, issuedAt.UTC().Format(time.RFC3339))
}
