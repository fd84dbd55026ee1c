package app

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var syncTriggerRateLimitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// SyncTriggerLimiter throttles manual sync triggers per workspace. It is a
// politeness mechanism toward the aggregator, not a correctness one: overlap
// safety comes from the ledger's uniqueness constraint.
type SyncTriggerLimiter interface {
	ConsumeSyncTrigger(ctx context.Context, workspaceID string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// RedisSyncTriggerLimiter implements distributed trigger limiting using Redis.
type RedisSyncTriggerLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisSyncTriggerLimiter(client redis.UniversalClient, prefix string) *RedisSyncTriggerLimiter {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "centavo:sync_trigger"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	return &RedisSyncTriggerLimiter{
		client: client,
		prefix: trimmedPrefix,
	}
}

func (r *RedisSyncTriggerLimiter) ConsumeSyncTrigger(ctx context.Context, workspaceID string, limit int, window time.Duration) (int, int, error) {
	if r == nil || r.client == nil || limit <= 0 || window <= 0 {
		return 0, 0, nil
	}
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		return 0, 0, nil
	}

	windowMs := window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	key := fmt.Sprintf("%s:%s", r.prefix, workspaceID)
	rawResult, err := syncTriggerRateLimitScript.Run(ctx, r.client, []string{key}, windowMs).Result()
	if err != nil {
		return 0, 0, err
	}

	values, ok := rawResult.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected redis limiter response shape: %T", rawResult)
	}
	currentCount, ok := values[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected redis limiter count type: %T", values[0])
	}
	ttlMs, ok := values[1].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected redis limiter ttl type: %T", values[1])
	}

	retryAfter := int(math.Ceil(float64(ttlMs) / 1000.0))
	return int(currentCount), retryAfter, nil
}
