package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pivot-protocol/walletcore/core"
	"github.com/redis/go-redis/v9"
)

const sessionKey = "pivot:auth:session"

// RedisStore is a Redis implementation of the durable session store. The
// record is a single JSON object at a fixed key, expiring with the session.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore creates a new Redis session store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		key:    sessionKey,
	}
}

// SaveSession stores the session record with a TTL matching its expiry.
func (s *RedisStore) SaveSession(ctx context.Context, session *core.Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	ttl := time.Until(session.ExpiresAt())
	if ttl <= 0 {
		return fmt.Errorf("session already expired")
	}

	if err := s.client.Set(ctx, s.key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// LoadSession returns the stored session, or nil when none exists.
func (s *RedisStore) LoadSession(ctx context.Context) (*core.Session, error) {
	payload, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var session core.Session
	if err := json.Unmarshal(payload, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

// DeleteSession removes the session record.
func (s *RedisStore) DeleteSession(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
