package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// consumeScript increments the window counter and arms the penalty key once
// capacity is exceeded. Returns {allowed, retryAfterMillis}.
//
// KEYS[1] counter, KEYS[2] block marker
// ARGV[1] capacity, ARGV[2] window ms, ARGV[3] penalty ms
var consumeScript = redis.NewScript(`
local blocked = redis.call('PTTL', KEYS[2])
if blocked > 0 then
  local wttl = redis.call('PTTL', KEYS[1])
  return {0, math.max(blocked, wttl)}
end
local count = redis.call('INCR', KEYS[1])
local wttl = redis.call('PTTL', KEYS[1])
if count == 1 or wttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  wttl = tonumber(ARGV[2])
end
if count <= tonumber(ARGV[1]) then
  return {1, 0}
end
local penalty = tonumber(ARGV[3])
if penalty > 0 then
  redis.call('SET', KEYS[2], '1', 'PX', penalty)
end
return {0, math.max(wttl, penalty)}
`)

// RedisBackend shares counters across processes. Each consumption is one
// script evaluation so it is atomic per key.
type RedisBackend struct {
	client redis.Scripter
	prefix string
}

func NewRedisBackend(client redis.Scripter, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "quota"
	}
	return &RedisBackend{client: client, prefix: prefix}
}

func (r *RedisBackend) Consume(ctx context.Context, key string, b Budget) (Decision, error) {
	counterKey := fmt.Sprintf("%s:{%s}:count", r.prefix, key)
	blockKey := fmt.Sprintf("%s:{%s}:block", r.prefix, key)

	res, err := consumeScript.Run(ctx, r.client,
		[]string{counterKey, blockKey},
		b.Capacity, b.Window.Milliseconds(), b.Penalty.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("redis consume %s: %w", key, err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("redis consume %s: unexpected reply %v", key, res)
	}

	if res[0] == 1 {
		return Decision{Allowed: true}, nil
	}
	return Decision{RetryAfter: msToDuration(res[1])}, nil
}

func msToDuration(ms int64) time.Duration {
	if ms < 0 {
		ms = 0
	}
	return time.Duration(ms) * time.Millisecond
}
