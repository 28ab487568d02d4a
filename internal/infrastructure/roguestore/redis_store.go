// Package roguestore is the Redis implementation of the rogue guard's
// counter and pause storage, shared across workers.
package roguestore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/supportdeck/agent-server/internal/domain/rogue"
)

const (
	windowKeyPrefix = "agent:rogue:window:"
	pauseKeyPrefix  = "agent:rogue:pause:"
)

// incrScript resets the window when now has moved past it, then increments.
// Reset and increment run as one script so concurrent senders agree on the
// window boundary. ARGV[1] = now millis, ARGV[2] = window millis.
var incrScript = redis.NewScript(`
local start = redis.call('HGET', KEYS[1], 'ws')
if (not start) or (tonumber(ARGV[1]) - tonumber(start) >= tonumber(ARGV[2])) then
  redis.call('HSET', KEYS[1], 'ws', ARGV[1], 'n', 0)
end
local n = redis.call('HINCRBY', KEYS[1], 'n', 1)
redis.call('PEXPIRE', KEYS[1], ARGV[2] * 2)
return n
`)

// RedisStore implements rogue.Store.
type RedisStore struct {
	client redis.UniversalClient
	window time.Duration
}

var _ rogue.Store = (*RedisStore)(nil)

// NewRedisStore builds a store with the given window size.
func NewRedisStore(client redis.UniversalClient, window time.Duration) *RedisStore {
	return &RedisStore{client: client, window: window}
}

// IncrWindow implements rogue.Store.
func (s *RedisStore) IncrWindow(ctx context.Context, conversationID string, now time.Time) (int64, error) {
	return incrScript.Run(ctx, s.client,
		[]string{windowKeyPrefix + conversationID},
		now.UnixMilli(), s.window.Milliseconds(),
	).Int64()
}

// SetPause implements rogue.Store. The key's TTL doubles as the pause expiry
// so stale pauses clean themselves up.
func (s *RedisStore) SetPause(ctx context.Context, conversationID string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	return s.client.Set(ctx, pauseKeyPrefix+conversationID,
		until.UTC().Format(time.RFC3339Nano), ttl).Err()
}

// PausedUntil implements rogue.Store.
func (s *RedisStore) PausedUntil(ctx context.Context, conversationID string) (time.Time, bool, error) {
	val, err := s.client.Get(ctx, pauseKeyPrefix+conversationID).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}

	until, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}, false, err
	}
	return until, true, nil
}

// ClearPause implements rogue.Store.
func (s *RedisStore) ClearPause(ctx context.Context, conversationID string) error {
	return s.client.Del(ctx, pauseKeyPrefix+conversationID).Err()
}
