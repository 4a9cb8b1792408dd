package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key prefixes are disjoint from the rate limiter's "rl:" namespace even when
// both share one Redis cluster.
const (
	sessionKeyPrefix = "sess:"
	refreshKeyPrefix = "refresh:"
)

// RedisStore is the production session Store.
type RedisStore struct {
	client  *redis.Client
	ttl     time.Duration
	timeout time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore pings the client and returns a store whose records expire
// after ttl. timeout bounds each call; zero means one second.
func NewRedisStore(client *redis.Client, ttl, timeout time.Duration) (*RedisStore, error) {
	if ttl <= 0 {
		return nil, errors.New("session: ttl must be positive")
	}
	if timeout <= 0 {
		timeout = time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisStore{client: client, ttl: ttl, timeout: timeout}, nil
}

// SaveSession writes the session under the user's key with a fresh TTL,
// replacing any prior session.
func (s *RedisStore) SaveSession(ctx context.Context, sess *UserSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.client.Set(ctx, sessionKeyPrefix+sess.UserID, data, s.ttl).Err()
}

// GetSession returns the user's session, or nil when absent or expired.
func (s *RedisStore) GetSession(ctx context.Context, userID string) (*UserSession, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	val, err := s.client.Get(ctx, sessionKeyPrefix+userID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var sess UserSession
	if err := json.Unmarshal([]byte(val), &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// DeleteSession removes the user's session.
func (s *RedisStore) DeleteSession(ctx context.Context, userID string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.client.Del(ctx, sessionKeyPrefix+userID).Err()
}

// SaveRefreshToken stores the hash of the user's only valid refresh token.
func (s *RedisStore) SaveRefreshToken(ctx context.Context, userID, tokenHash string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.client.Set(ctx, refreshKeyPrefix+userID, tokenHash, s.ttl).Err()
}

// GetRefreshToken returns the stored hash, or "" when absent.
func (s *RedisStore) GetRefreshToken(ctx context.Context, userID string) (string, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	val, err := s.client.Get(ctx, refreshKeyPrefix+userID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", err
	}
	return val, nil
}

// DeleteRefreshToken removes the user's refresh-token record.
func (s *RedisStore) DeleteRefreshToken(ctx context.Context, userID string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.client.Del(ctx, refreshKeyPrefix+userID).Err()
}

func (s *RedisStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}
