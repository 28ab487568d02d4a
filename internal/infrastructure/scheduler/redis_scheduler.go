// Package scheduler is the Redis-backed wake schedule. Wakes are delivery
// hints, not work items: losing one is recovered by the reconciliation sweep,
// and a duplicate wake finds an empty queue and does nothing.
package scheduler

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const wakeKey = "agent:wakes"

// claimScript pops up to ARGV[2] members due at or before ARGV[1]. Claim and
// removal happen in one script so two workers never claim the same wake.
var claimScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
if #due > 0 then
  redis.call('ZREM', KEYS[1], unpack(due))
end
return due
`)

// RedisScheduler implements wake scheduling on a sorted set keyed by
// conversation id, scored by due time.
type RedisScheduler struct {
	client redis.UniversalClient
	log    zerolog.Logger
}

// NewRedisScheduler builds a scheduler over the shared client.
func NewRedisScheduler(client redis.UniversalClient, log zerolog.Logger) *RedisScheduler {
	return &RedisScheduler{
		client: client,
		log:    log.With().Str("component", "wake-scheduler").Logger(),
	}
}

// ScheduleWake records a wake for the conversation. ZADD LT keeps the
// earliest due time when a wake is already scheduled, so a retry wake cannot
// push out an immediate one.
func (s *RedisScheduler) ScheduleWake(ctx context.Context, conversationID string, delay time.Duration) error {
	due := time.Now().Add(delay)
	return s.client.ZAddLT(ctx, wakeKey, redis.Z{
		Score:  float64(due.UnixMilli()),
		Member: conversationID,
	}).Err()
}

// ClaimDue atomically claims up to limit conversations whose wake is due.
func (s *RedisScheduler) ClaimDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	res, err := claimScript.Run(ctx, s.client, []string{wakeKey}, now.UnixMilli(), limit).StringSlice()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	return res, nil
}
