package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func assertMutualExclusion(t *testing.T, l Locker) {
	t.Helper()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		holders int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "session-a")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			mu.Lock()
			holders++
			if holders > maxSeen {
				maxSeen = holders
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			holders--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Fatalf("expected at most one holder, saw %d", maxSeen)
	}
}

func TestStripedLockerMutualExclusion(t *testing.T) {
	assertMutualExclusion(t, NewStripedLocker(0))
}

func TestStripedLockerRespectsContext(t *testing.T) {
	l := NewStripedLocker(1)
	unlock, err := l.Lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "b"); err == nil {
		t.Fatalf("expected context error while stripe is held")
	}
}

func TestStripedLockerUnlockIdempotent(t *testing.T) {
	l := NewStripedLocker(4)
	unlock, _ := l.Lock(context.Background(), "k")
	unlock()
	unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlock2, err := l.Lock(ctx, "k")
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	unlock2()
}

func newRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client, time.Second), mr
}

func TestRedisLockerMutualExclusion(t *testing.T) {
	l, _ := newRedisLocker(t)
	l.retryDelay = time.Millisecond
	assertMutualExclusion(t, l)
}

func TestRedisLockerReleaseChecksToken(t *testing.T) {
	l, mr := newRedisLocker(t)
	unlock, err := l.Lock(context.Background(), "s1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	// 模拟锁过期后被其它实例持有
	if err := mr.Set(keyPrefix+"s1", "other-owner"); err != nil {
		t.Fatalf("set: %v", err)
	}
	unlock()

	got, err := mr.Get(keyPrefix + "s1")
	if err != nil || got != "other-owner" {
		t.Fatalf("foreign lock must survive release, got %q %v", got, err)
	}
}

func TestRedisLockerTimesOutWhileHeld(t *testing.T) {
	l, _ := newRedisLocker(t)
	unlock, err := l.Lock(context.Background(), "s2")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "s2"); err == nil {
		t.Fatalf("expected timeout while lock is held")
	}
}
