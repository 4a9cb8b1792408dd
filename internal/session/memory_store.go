package session

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	session   *UserSession
	refresh   string
	expiresAt time.Time
}

// MemoryStore is the in-memory Store used in tests. It honors TTL expiry via
// an injectable clock.
type MemoryStore struct {
	mu   sync.Mutex
	m    map[string]*memoryEntry
	ttl  time.Duration
	nowF func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory session store.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryStore{m: make(map[string]*memoryEntry), ttl: ttl, nowF: time.Now}
}

func (s *MemoryStore) entry(userID string) *memoryEntry {
	e, ok := s.m[userID]
	if !ok || s.nowF().After(e.expiresAt) {
		return nil
	}
	return e
}

func (s *MemoryStore) liveOrNew(userID string) *memoryEntry {
	if e := s.entry(userID); e != nil {
		return e
	}
	e := &memoryEntry{}
	s.m[userID] = e
	return e
}

// SaveSession replaces the user's session and refreshes the TTL.
func (s *MemoryStore) SaveSession(ctx context.Context, sess *UserSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *sess
	e := s.liveOrNew(sess.UserID)
	e.session = &copied
	e.expiresAt = s.nowF().Add(s.ttl)
	return nil
}

// GetSession returns the user's session, or nil when absent or expired.
func (s *MemoryStore) GetSession(ctx context.Context, userID string) (*UserSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(userID)
	if e == nil || e.session == nil {
		return nil, nil
	}
	copied := *e.session
	return &copied, nil
}

// DeleteSession removes the user's session.
func (s *MemoryStore) DeleteSession(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.m[userID]; ok {
		e.session = nil
		if e.refresh == "" {
			delete(s.m, userID)
		}
	}
	return nil
}

// SaveRefreshToken stores the hash of the user's only valid refresh token.
func (s *MemoryStore) SaveRefreshToken(ctx context.Context, userID, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.liveOrNew(userID)
	e.refresh = tokenHash
	e.expiresAt = s.nowF().Add(s.ttl)
	return nil
}

// GetRefreshToken returns the stored hash, or "" when absent.
func (s *MemoryStore) GetRefreshToken(ctx context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(userID)
	if e == nil {
		return "", nil
	}
	return e.refresh, nil
}

// DeleteRefreshToken removes the user's refresh-token record.
func (s *MemoryStore) DeleteRefreshToken(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.m[userID]; ok {
		e.refresh = ""
		if e.session == nil {
			delete(s.m, userID)
		}
	}
	return nil
}
