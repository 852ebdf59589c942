package usage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counts: map[string]int{}}
}

func (m *MemoryStore) CurrentUsage(_ context.Context, repID, period string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[repID+"|"+period], nil
}

func (m *MemoryStore) IncrementIfBelow(_ context.Context, repID, period string, limit int) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := repID + "|" + period
	if m.counts[key] >= limit {
		return m.counts[key], false, nil
	}
	m.counts[key]++
	return m.counts[key], true, nil
}

const usageKeyPrefix = "dealintel:usage:"

// Keys outlive their month so late reads still see the final count.
const usageKeyTTL = 62 * 24 * time.Hour

var incrementScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if current >= tonumber(ARGV[1]) then
	return {current, 0}
end
current = redis.call("INCR", KEYS[1])
redis.call("PEXPIRE", KEYS[1], ARGV[2])
return {current, 1}
`)

// RedisStore keeps counters in Redis and increments them with a Lua script
// so the limit check and the increment are one step.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func usageKey(repID, period string) string {
	return usageKeyPrefix + period + ":" + repID
}

func (r *RedisStore) CurrentUsage(ctx context.Context, repID, period string) (int, error) {
	n, err := r.client.Get(ctx, usageKey(repID, period)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get usage: %w", err)
	}
	return n, nil
}

func (r *RedisStore) IncrementIfBelow(ctx context.Context, repID, period string, limit int) (int, bool, error) {
	res, err := incrementScript.Run(ctx, r.client, []string{usageKey(repID, period)}, limit, usageKeyTTL.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("increment usage: %w", err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("increment usage: unexpected reply %v", res)
	}
	return int(res[0]), res[1] == 1, nil
}
