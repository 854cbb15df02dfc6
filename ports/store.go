package ports

import (
	"context"

	"github.com/pivot-protocol/walletcore/core"
)

// SessionStore persists the single durable session record.
// Load returns (nil, nil) when no record exists.
type SessionStore interface {
	SaveSession(ctx context.Context, session *core.Session) error
	LoadSession(ctx context.Context) (*core.Session, error)
	DeleteSession(ctx context.Context) error
}

// ChallengeStore holds the at-most-one outstanding challenge in volatile
// storage. Saving replaces any prior challenge. Load returns (nil, nil) when
// none is stored.
type ChallengeStore interface {
	SaveChallenge(ctx context.Context, challenge *core.Challenge) error
	LoadChallenge(ctx context.Context) (*core.Challenge, error)
	DeleteChallenge(ctx context.Context) error
}
