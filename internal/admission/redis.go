package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// quotaScript initializes today's counter from the daily limit on first
// touch, then decrements only if the result stays non-negative. Running as
// one script makes check-and-decrement atomic under concurrent callers.
// Returns the new remaining count, -1 for unlimited, or -2-remaining when
// the request cost exceeds what is left (the counter is untouched).
var quotaScript = redis.NewScript(`
local remaining = redis.call("GET", KEYS[1])
if remaining == false then
  redis.call("SET", KEYS[1], ARGV[1], "EX", ARGV[3])
  remaining = ARGV[1]
end
remaining = tonumber(remaining)
if remaining == -1 then
  return -1
end
local units = tonumber(ARGV[2])
if remaining < units then
  return -2 - remaining
end
return redis.call("DECRBY", KEYS[1], units)
`)

// rateBucketScript refills the token bucket to the limit when absent, then
// consumes one token if available. The one-second expiry is the refill.
// Returns 1 when a token was consumed, 0 when the bucket is empty.
var rateBucketScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current == false then
  redis.call("SET", KEYS[1], ARGV[1], "EX", 1)
  current = tonumber(ARGV[1])
end
current = tonumber(current)
if current > 0 then
  redis.call("DECR", KEYS[1])
  return 1
end
return 0
`)

// redisQuota consumes daily quota through the scripted transaction.
type redisQuota struct {
	client *redis.Client
}

// Consume decrements units from the counter, initializing it from limit.
func (q *redisQuota) Consume(ctx context.Context, key string, limit, units int, now time.Time) (int, error) {
	if q == nil || q.client == nil {
		return 0, errors.New("admission redis: no client")
	}
	ttl := secondsUntilEndOfDay(now)
	res, errEval := quotaScript.Run(ctx, q.client, []string{key}, limit, units, ttl).Result()
	if errEval != nil {
		return 0, errEval
	}
	remaining, errCast := castScriptInt(res)
	if errCast != nil {
		return 0, errCast
	}
	return remaining, nil
}

// redisRate consumes rate tokens through the scripted token bucket.
type redisRate struct {
	client *redis.Client
}

// Take consumes one token from the bucket, refilling it to limit each second.
func (r *redisRate) Take(ctx context.Context, key string, limit int) (bool, error) {
	if r == nil || r.client == nil {
		return false, errors.New("admission redis: no client")
	}
	res, errEval := rateBucketScript.Run(ctx, r.client, []string{key}, limit).Result()
	if errEval != nil {
		return false, errEval
	}
	taken, errCast := castScriptInt(res)
	if errCast != nil {
		return false, errCast
	}
	return taken == 1, nil
}

func castScriptInt(res any) (int, error) {
	switch v := res.(type) {
	case int64:
		return int(v), nil
	case int:
		return v, nil
	case uint64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("admission redis: unexpected response type %T", res)
	}
}

// secondsUntilEndOfDay returns the counter TTL so quota expires at midnight.
func secondsUntilEndOfDay(now time.Time) int {
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
	seconds := int(next.Sub(now).Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}
