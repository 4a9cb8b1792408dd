package security

import (
	"context"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// Hasher hashes and verifies passwords using bcrypt. bcrypt is CPU-bound, so
// concurrent hashing is gated by a bounded semaphore: a login storm queues on
// the semaphore instead of saturating every core and starving request
// handling. Callers must not log or persist plaintext passwords.
type Hasher struct {
	cost int
	sem  *semaphore.Weighted
}

// NewHasher returns a Hasher with the given bcrypt cost (4-31; cost 12 is a
// reasonable default for interactive login) and at most maxConcurrent
// in-flight bcrypt operations.
func NewHasher(cost, maxConcurrent int) *Hasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Hasher{cost: cost, sem: semaphore.NewWeighted(int64(maxConcurrent))}
}

// Cost returns the configured bcrypt cost.
func (h *Hasher) Cost() int { return h.cost }

// Hash produces a bcrypt hash of password, waiting for a worker slot first.
// Returns ctx.Err() if the context is cancelled while queued.
func (h *Hasher) Hash(ctx context.Context, password []byte) (string, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer h.sem.Release(1)
	b, err := bcrypt.GenerateFromPassword(password, h.cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Compare verifies password against the stored hash, waiting for a worker
// slot first. Returns nil on match; bcrypt.ErrMismatchedHashAndPassword or
// another error otherwise. The comparison itself is constant-time.
func (h *Hasher) Compare(ctx context.Context, hash string, password []byte) error {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer h.sem.Release(1)
	return bcrypt.CompareHashAndPassword([]byte(hash), password)
}
