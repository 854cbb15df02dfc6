package core

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// IsValidAddress reports whether s is a well-formed hex Ethereum address.
func IsValidAddress(s string) bool {
	return common.IsHexAddress(s)
}

// FormatAddress shortens an address for display: 0xAB12…CD34.
func FormatAddress(address string, chars int) string {
	if address == "" {
		return ""
	}
	if chars <= 0 {
		chars = 4
	}
	if len(address) <= 2+2*chars {
		return address
	}
	return fmt.Sprintf("%s…%s", address[:chars+2], address[len(address)-chars:])
}

// ValidSessionToken checks that a token is a 32-byte hex string with
// reasonable entropy. The token is an opaque local capability marker; this
// only guards against corrupted or trivially forged values.
func ValidSessionToken(token string) bool {
	b, err := hexutil.Decode(token)
	if err != nil || len(b) != 32 {
		return false
	}

	unique := make(map[byte]struct{}, len(b))
	for _, c := range b {
		unique[c] = struct{}{}
	}
	return len(unique) >= 20
}
