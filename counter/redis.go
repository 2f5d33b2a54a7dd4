package counter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrementWindow runs INCR and, when the key has no expiry, PEXPIRE in one
// script so a counter can never be left without a TTL.
var incrementWindow = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisStore is a [Store] backed by Redis. It works against a single node,
// a sentinel setup, or a cluster through [redis.UniversalClient].
type RedisStore struct {
	redis redis.UniversalClient
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{redis: client}
}

// IncrementWindow increments key and anchors its TTL at window in one
// round trip.
func (s *RedisStore) IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if window <= 0 {
		return 0, 0, fmt.Errorf("counter: window must be > 0")
	}
	res, err := incrementWindow.Run(ctx, s.redis, []string{key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("%w: unexpected script reply %v", ErrUnavailable, res)
	}
	return res[0], time.Duration(res[1]) * time.Millisecond, nil
}

// Get reads the counter value.
func (s *RedisStore) Get(ctx context.Context, key string) (int64, bool, error) {
	count, err := s.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return count, true, nil
}

// TTL reads the remaining key lifetime.
func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.redis.PTTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	// go-redis reports -1/-2 sentinels as negative durations.
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// Delete removes keys in one round trip.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
