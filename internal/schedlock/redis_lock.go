package schedlock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Compare-and-mutate scripts: both verify the stored token before
// touching the key, so an expired-and-reacquired lease is never
// extended or released by the old holder.
var (
	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// RedisLock is a Redis-backed implementation of Lock.
type RedisLock struct {
	client *redis.Client
	prefix string
}

// NewRedisLock creates a Redis lock manager. prefix namespaces the
// lease keys, e.g. "simlock".
func NewRedisLock(client *redis.Client, prefix string) *RedisLock {
	if prefix == "" {
		prefix = "simlock"
	}
	return &RedisLock{client: client, prefix: prefix}
}

func (l *RedisLock) key(name string) string {
	return l.prefix + ":" + name
}

// Acquire takes the lease via SET NX PX.
func (l *RedisLock) Acquire(ctx context.Context, name, token string, ttl time.Duration) error {
	ok, err := l.client.SetNX(ctx, l.key(name), token, ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return ErrNotAcquired
	}
	return nil
}

// Extend renews the TTL if the token still owns the lease.
func (l *RedisLock) Extend(ctx context.Context, name, token string, ttl time.Duration) error {
	res, err := extendScript.Run(ctx, l.client, []string{l.key(name)}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", name, err)
	}
	if res == 0 {
		return ErrNotHeld
	}
	return nil
}

// Release deletes the lease if the token owns it.
func (l *RedisLock) Release(ctx context.Context, name, token string) error {
	res, err := releaseScript.Run(ctx, l.client, []string{l.key(name)}, token).Int64()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	if res == 0 {
		return ErrNotHeld
	}
	return nil
}

var _ Lock = (*RedisLock)(nil)
