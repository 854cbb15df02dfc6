package tokenizer

import "github.com/golang-jwt/jwt/v5"

// SessionClaims combines standard claims with wallet session fields.
type SessionClaims struct {
	jwt.RegisteredClaims
	WalletLabel string `json:"wallet_label,omitempty"`
	ChainID     string `json:"chain_id,omitempty"`
}
