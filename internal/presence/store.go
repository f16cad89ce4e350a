package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix is the Redis key prefix for presence records.
const KeyPrefix = "presence:"

// Store persists presence records. Records are exclusively owned by the
// Tracker; nothing else reads or writes them.
type Store interface {
	// Put writes the user's state and arms the record's TTL.
	Put(ctx context.Context, userID, state string, ttl time.Duration) error
	// Refresh extends the record's TTL without changing state.
	Refresh(ctx context.Context, userID string, ttl time.Duration) error
	// Delete removes the record, implying offline.
	Delete(ctx context.Context, userID string) error
}

// RedisStore keeps presence records as Redis hashes with a key TTL, so a
// crashed gateway's records expire on their own.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a presence store over the given Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Put(ctx context.Context, userID, state string, ttl time.Duration) error {
	key := KeyPrefix + userID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key,
		"state", state,
		"expires_at", time.Now().Add(ttl).Unix(),
	)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence: put %s: %w", userID, err)
	}
	return nil
}

func (s *RedisStore) Refresh(ctx context.Context, userID string, ttl time.Duration) error {
	key := KeyPrefix + userID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "expires_at", time.Now().Add(ttl).Unix())
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence: refresh %s: %w", userID, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, KeyPrefix+userID).Err(); err != nil {
		return fmt.Errorf("presence: delete %s: %w", userID, err)
	}
	return nil
}
