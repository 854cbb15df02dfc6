package ports

import "github.com/pivot-protocol/walletcore/core"

// Tokenizer converts a session into a bearer token for the HTTP surface and
// back. The session's own token field is an opaque local marker and is not
// embedded in the bearer token.
type Tokenizer interface {
	SessionToToken(session *core.Session) (string, error)
	TokenToSession(token string) (*core.Session, error)
}
