package ratelimit

import (
	"context"
	_ "embed"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

//go:embed counter.lua
var counterScript string

// redisKeyPrefix namespaces counter keys away from session-store keys that
// may share the same cluster.
const redisKeyPrefix = "rl:"

// RedisStore is the production CounterStore: one Lua round-trip per check so
// INCR and window-TTL arming are atomic. Every call carries a bounded timeout.
type RedisStore struct {
	client    *redis.Client
	scriptSHA string
	timeout   time.Duration
}

// NewRedisStore pings the client and preloads the counter script. timeout
// bounds each subsequent store call; zero means 500ms.
func NewRedisStore(client *redis.Client, timeout time.Duration) (*RedisStore, error) {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	sha, err := client.ScriptLoad(ctx, counterScript).Result()
	if err != nil {
		return nil, err
	}
	return &RedisStore{client: client, scriptSHA: sha, timeout: timeout}, nil
}

// Incr atomically increments the counter for key, arming the window TTL on
// the first hit of a window.
func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	redisKey := redisKeyPrefix + key
	windowMs := window.Milliseconds()

	res, err := s.client.EvalSha(ctx, s.scriptSHA, []string{redisKey}, windowMs).Result()
	if err != nil && redis.HasErrorPrefix(err, "NOSCRIPT") {
		// Script cache flushed (e.g. Redis restart); reload inline.
		res, err = s.client.Eval(ctx, counterScript, []string{redisKey}, windowMs).Result()
	}
	if err != nil {
		return 0, time.Time{}, err
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return 0, time.Time{}, errors.New("ratelimit: unexpected counter script reply")
	}
	count, _ := values[0].(int64)
	ttlMs, _ := values[1].(int64)
	return count, time.Now().Add(time.Duration(ttlMs) * time.Millisecond), nil
}

// Reset deletes the counter for key.
func (s *RedisStore) Reset(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Del(ctx, redisKeyPrefix+key).Err()
}
