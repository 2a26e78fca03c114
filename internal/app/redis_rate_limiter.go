/**
 * @description
 * This file implements the Redis-backed rate limiter used to throttle payment
 * initiation per payer phone. The counter increment and TTL handling run in a
 * single Lua script so concurrent initiations across service instances share
 * one atomic budget.
 *
 * @dependencies
 * - context, fmt, time: Standard Go libraries.
 * - github.com/redis/go-redis/v9: Redis client.
 */

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// rateLimitScript increments the counter for a key, arms the TTL on first use
// and returns the current count plus the remaining window in milliseconds.
var rateLimitScript = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
return {current, ttl}
`)

// RedisRateLimiter implements RateLimiter on top of Redis. A nil limiter is
// safe to call and never limits.
type RedisRateLimiter struct {
	client *redis.Client
	prefix string
}

// NewRedisRateLimiter wires the limiter to an existing Redis client.
func NewRedisRateLimiter(client *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{client: client, prefix: "paylink:rate_limit"}
}

// ConsumeRateLimit consumes one unit of the budget for (scope, subject) and
// returns the count within the current window along with the seconds until the
// window resets.
func (l *RedisRateLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	if l == nil || l.client == nil {
		return 0, 0, nil
	}

	key := fmt.Sprintf("%s:%s:%s", l.prefix, scope, subject)
	res, err := rateLimitScript.Run(ctx, l.client, []string{key}, window.Milliseconds()).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("rate limit script: %w", err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("rate limit script: unexpected reply %v", res)
	}
	count, _ := values[0].(int64)
	ttlMillis, _ := values[1].(int64)

	retryAfter := 0
	if ttlMillis > 0 {
		retryAfter = int((time.Duration(ttlMillis) * time.Millisecond).Round(time.Second).Seconds())
		if retryAfter == 0 {
			retryAfter = 1
		}
	}
	return int(count), retryAfter, nil
}
