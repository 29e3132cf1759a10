package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *RedisLocker) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, NewRedisLocker(client)
}

func TestRedisLockerExclusive(t *testing.T) {
	_, locker := setupRedis(t)
	ctx := context.Background()

	release, err := locker.TryLock(ctx, "send:w1", time.Minute)
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}
	if _, err := locker.TryLock(ctx, "send:w1", time.Minute); !errors.Is(err, ErrHeld) {
		t.Fatalf("expected ErrHeld, got %v", err)
	}
	if _, err := locker.TryLock(ctx, "send:w2", time.Minute); err != nil {
		t.Fatalf("other key should be free: %v", err)
	}

	release()
	release()

	if _, err := locker.TryLock(ctx, "send:w1", time.Minute); err != nil {
		t.Fatalf("lock after release: %v", err)
	}
}

func TestRedisLockerExpiredLeaseDoesNotReleaseNewHolder(t *testing.T) {
	mr, locker := setupRedis(t)
	ctx := context.Background()

	staleRelease, err := locker.TryLock(ctx, "send:w1", time.Second)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	mr.FastForward(2 * time.Second)

	if _, err := locker.TryLock(ctx, "send:w1", time.Minute); err != nil {
		t.Fatalf("lock after expiry: %v", err)
	}
	staleRelease()

	if _, err := locker.TryLock(ctx, "send:w1", time.Minute); !errors.Is(err, ErrHeld) {
		t.Fatalf("stale release must not free the new lease, got %v", err)
	}
}

func TestMemoryLockerExpiry(t *testing.T) {
	l := NewMemoryLocker()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.clock = func() time.Time { return now }
	ctx := context.Background()

	if _, err := l.TryLock(ctx, "k", time.Second); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, err := l.TryLock(ctx, "k", time.Second); !errors.Is(err, ErrHeld) {
		t.Fatalf("expected ErrHeld, got %v", err)
	}
	now = now.Add(2 * time.Second)
	if _, err := l.TryLock(ctx, "k", time.Second); err != nil {
		t.Fatalf("lock after expiry: %v", err)
	}
}
