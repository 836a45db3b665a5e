package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client), srv
}

func TestTryLockIsExclusiveUntilReleased(t *testing.T) {
	locker, _ := newLocker(t)
	ctx := context.Background()

	release, ok, err := locker.TryLock(ctx, "operations/1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first lock, got ok=%v err=%v", ok, err)
	}
	if _, ok2, _ := locker.TryLock(ctx, "operations/1", time.Minute); ok2 {
		t.Fatalf("expected second lock to be refused")
	}
	if _, okOther, _ := locker.TryLock(ctx, "operations/2", time.Minute); !okOther {
		t.Fatalf("expected lock on a different job")
	}

	release()
	release()
	if _, ok3, _ := locker.TryLock(ctx, "operations/1", time.Minute); !ok3 {
		t.Fatalf("expected lock after release")
	}
}

func TestExpiredLockIsNotReleasedByStaleHolder(t *testing.T) {
	locker, srv := newLocker(t)
	ctx := context.Background()

	staleRelease, _, _ := locker.TryLock(ctx, "op", time.Second)
	srv.FastForward(2 * time.Second)

	_, ok, _ := locker.TryLock(ctx, "op", time.Minute)
	if !ok {
		t.Fatalf("expected lock after expiry")
	}
	staleRelease()
	if _, okAgain, _ := locker.TryLock(ctx, "op", time.Minute); okAgain {
		t.Fatalf("stale release must not drop the new holder's lock")
	}
}

func TestTryLockReportsRedisErrors(t *testing.T) {
	locker, srv := newLocker(t)
	srv.Close()
	release, ok, err := locker.TryLock(context.Background(), "op", time.Second)
	if err == nil || ok || release == nil {
		t.Fatalf("expected error with non-nil release, got ok=%v err=%v", ok, err)
	}
}
