package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// hitScript increments the key and starts its expiry on the first hit of a
// window, returning {count, remaining ttl in ms} in one round trip.
var hitScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisStore shares buckets between service instances. Keys expire with the
// window, so eviction is left to Redis.
type RedisStore struct {
	client redis.Scripter
	prefix string
}

// NewRedisStore constructs a store writing keys under prefix.
func NewRedisStore(client redis.Scripter, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Hit(ctx context.Context, key string, window time.Duration, now time.Time) (Bucket, error) {
	res, err := hitScript.Run(ctx, s.client, []string{s.prefix + ":" + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Bucket{}, fmt.Errorf("redis hit: %w", err)
	}
	if len(res) != 2 {
		return Bucket{}, fmt.Errorf("redis hit: unexpected reply %v", res)
	}
	remaining := time.Duration(res[1]) * time.Millisecond
	return Bucket{
		Key:         key,
		WindowStart: now.Add(remaining - window),
		Count:       int(res[0]),
	}, nil
}
