package ratelimit

import (
	"context"
	"time"
)

// CounterStore is the window-counter authority shared by all instances.
// Incr must be atomic across concurrent callers for the same key: two
// concurrent requests must never both observe count 1.
type CounterStore interface {
	// Incr increments the counter for key, starting a fresh window of the
	// given duration if the key has no live window, and returns the
	// post-increment count and the window's reset time.
	Incr(ctx context.Context, key string, window time.Duration) (count int64, resetAt time.Time, err error)
	// Reset deletes the counter for key. Used by tests and the manual
	// reset endpoint; normal operation relies on TTL expiry.
	Reset(ctx context.Context, key string) error
}
