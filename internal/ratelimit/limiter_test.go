package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

type failingStore struct{}

func (failingStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	return 0, time.Time{}, errors.New("store down")
}

func (failingStore) Reset(ctx context.Context, key string) error {
	return errors.New("store down")
}

func TestLimiterCheck(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	store.nowF = func() time.Time { return base }
	l := NewLimiter(store)
	l.nowF = store.nowF
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		d, err := l.Check(ctx, "k", 3, time.Minute)
		if err != nil {
			t.Fatalf("Check %d: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
		if d.Remaining != 3-i {
			t.Errorf("request %d: remaining = %d, want %d", i, d.Remaining, 3-i)
		}
		if d.RetryAfter != 0 {
			t.Errorf("request %d: retryAfter = %v on an allowed request", i, d.RetryAfter)
		}
	}

	d, err := l.Check(ctx, "k", 3, time.Minute)
	if err != nil {
		t.Fatalf("Check over limit: %v", err)
	}
	if d.Allowed {
		t.Fatal("4th request should be denied")
	}
	if d.Remaining != 0 {
		t.Errorf("remaining = %d, want 0", d.Remaining)
	}
	if d.RetryAfter != time.Minute {
		t.Errorf("retryAfter = %v, want %v", d.RetryAfter, time.Minute)
	}
	if want := base.Add(time.Minute); !d.ResetAt.Equal(want) {
		t.Errorf("resetAt = %v, want %v", d.ResetAt, want)
	}
}

func TestLimiterWindowExpiry(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	store.nowF = func() time.Time { return now }
	l := NewLimiter(store)
	l.nowF = store.nowF
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := l.Check(ctx, "k", 2, time.Minute); err != nil {
			t.Fatal(err)
		}
	}
	if d, _ := l.Check(ctx, "k", 2, time.Minute); d.Allowed {
		t.Fatal("should be denied while window is live")
	}

	now = now.Add(time.Minute) // window elapsed, counter restarts
	d, err := l.Check(ctx, "k", 2, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed || d.Remaining != 1 {
		t.Errorf("after expiry: allowed=%v remaining=%d, want fresh window", d.Allowed, d.Remaining)
	}
}

func TestLimiterKeysIndependent(t *testing.T) {
	l := NewLimiter(NewMemoryStore())
	ctx := context.Background()

	if d, _ := l.Check(ctx, "a", 1, time.Minute); !d.Allowed {
		t.Fatal("first request on key a should pass")
	}
	if d, _ := l.Check(ctx, "a", 1, time.Minute); d.Allowed {
		t.Fatal("second request on key a should be denied")
	}
	if d, _ := l.Check(ctx, "b", 1, time.Minute); !d.Allowed {
		t.Error("key b must not share key a's counter")
	}
}

func TestLimiterResetKey(t *testing.T) {
	l := NewLimiter(NewMemoryStore())
	ctx := context.Background()

	_, _ = l.Check(ctx, "k", 1, time.Minute)
	if d, _ := l.Check(ctx, "k", 1, time.Minute); d.Allowed {
		t.Fatal("should be denied before reset")
	}
	if err := l.ResetKey(ctx, "k"); err != nil {
		t.Fatalf("ResetKey: %v", err)
	}
	if d, _ := l.Check(ctx, "k", 1, time.Minute); !d.Allowed {
		t.Error("should be allowed after reset")
	}
}

func TestLimiterStoreError(t *testing.T) {
	l := NewLimiter(failingStore{})
	if _, err := l.Check(context.Background(), "k", 1, time.Minute); err == nil {
		t.Fatal("store failure must surface as an error")
	}
}

func TestMemoryStoreSweep(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	store.nowF = func() time.Time { return now }
	ctx := context.Background()

	_, _, _ = store.Incr(ctx, "old", time.Minute)
	now = now.Add(30 * time.Second)
	_, _, _ = store.Incr(ctx, "live", time.Minute)

	now = now.Add(45 * time.Second) // "old" expired, "live" still has 15s
	store.Sweep()

	store.mu.Lock()
	_, oldThere := store.counters["old"]
	_, liveThere := store.counters["live"]
	store.mu.Unlock()
	if oldThere {
		t.Error("expired counter survived sweep")
	}
	if !liveThere {
		t.Error("live counter removed by sweep")
	}
}
