package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// hitLuaScript opens or advances a window stored as a hash
// {start, count} in milliseconds. It runs atomically on the server, so
// concurrent hits for one key never lose an increment.
const hitLuaScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])

local start = tonumber(redis.call("HGET", key, "start") or "-1")
local count

if start >= 0 and now - start < window then
    count = redis.call("HINCRBY", key, "count", 1)
else
    start = now
    count = 1
    redis.call("HSET", key, "start", ARGV[1], "count", 1)
end

redis.call("PEXPIRE", key, window - (now - start))

return {count, start}
`

// RedisStore keeps windows in Redis so the limit is shared by every
// gateway process.
type RedisStore struct {
	client redis.Scripter
	prefix string
	script *redis.Script
}

// NewRedisStore returns a store using client. Keys are prefix + identity.
func NewRedisStore(client redis.Scripter, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit:submit:"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		script: redis.NewScript(hitLuaScript),
	}
}

// NewRedisStoreFromURL connects to redisURL and verifies the connection.
func NewRedisStoreFromURL(ctx context.Context, redisURL, prefix string) (*RedisStore, *redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewRedisStore(client, prefix), client, nil
}

func (s *RedisStore) Hit(ctx context.Context, key string, now time.Time, window time.Duration) (Window, error) {
	res, err := s.script.Run(ctx, s.client,
		[]string{s.prefix + key},
		now.UnixMilli(),
		window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Window{}, fmt.Errorf("rate window hit failed: %w", err)
	}
	if len(res) != 2 {
		return Window{}, fmt.Errorf("rate window hit: unexpected reply %v", res)
	}
	return Window{Count: int(res[0]), Start: time.UnixMilli(res[1])}, nil
}
