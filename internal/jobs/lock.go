// Package jobs provides short-lived distributed locks keyed by external job handle.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockKeyFormat = "echolog:jobs:lock:%s"

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker grants mutually exclusive work on a job handle.
type Locker interface {
	// TryLock returns ok=false when another holder owns the lock. release
	// is never nil and is safe to call more than once.
	TryLock(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error)
}

// RedisLocker implements Locker with SET NX PX.
type RedisLocker struct {
	client *redis.Client
}

// NewRedisLocker wraps a redis client.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

// TryLock implements Locker.
func (l *RedisLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	key := fmt.Sprintf(lockKeyFormat, name)
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return func() {}, false, fmt.Errorf("jobs: acquire lock: %w", err)
	}
	if !ok {
		return func() {}, false, nil
	}
	released := false
	return func() {
		if released {
			return
		}
		released = true
		// The caller's context may already be cancelled at release time.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err()
	}, true, nil
}

// NoopLocker always grants the lock. Used when redis is not configured; the
// database unique index still prevents duplicate rows.
type NoopLocker struct{}

// TryLock implements Locker.
func (NoopLocker) TryLock(context.Context, string, time.Duration) (func(), bool, error) {
	return func() {}, true, nil
}
