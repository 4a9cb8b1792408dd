package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of one counter check, with the quota metadata the
// middleware exposes as response headers.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter answers allow/deny for a key against a max-per-window policy. The
// store, not application memory, is the counting authority.
type Limiter struct {
	store CounterStore
	nowF  func() time.Time
}

// NewLimiter returns a Limiter backed by store.
func NewLimiter(store CounterStore) *Limiter {
	return &Limiter{store: store, nowF: time.Now}
}

// Check atomically increments the counter for key and compares the
// post-increment count to max. Errors are store failures; the caller decides
// fail-open or fail-closed.
func (l *Limiter) Check(ctx context.Context, key string, max int, window time.Duration) (Decision, error) {
	count, resetAt, err := l.store.Incr(ctx, key, window)
	if err != nil {
		return Decision{}, err
	}
	remaining := int(int64(max) - count)
	if remaining < 0 {
		remaining = 0
	}
	retryAfter := time.Duration(0)
	if count > int64(max) {
		retryAfter = resetAt.Sub(l.nowF())
		if retryAfter < 0 {
			retryAfter = 0
		}
	}
	return Decision{
		Allowed:    count <= int64(max),
		Limit:      max,
		Remaining:  remaining,
		ResetAt:    resetAt,
		RetryAfter: retryAfter,
	}, nil
}

// ResetKey deletes the counter for key. Used by tests and the manual reset
// endpoint.
func (l *Limiter) ResetKey(ctx context.Context, key string) error {
	return l.store.Reset(ctx, key)
}
