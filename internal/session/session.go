// Package session stores one UserSession and one refresh-token record per
// user in a fast key-value store with TTL expiry.
package session

import (
	"context"
	"time"

	"github.com/fanzeco/auth-service/internal/user/domain"
)

// UserSession is the server-side record of an authenticated user's current
// state, independent of which specific access token is live. Overwritten on
// every login; last-writer-wins across processes is tolerated.
type UserSession struct {
	UserID         string                  `json:"userId"`
	Username       string                  `json:"username"`
	Email          string                  `json:"email"`
	Role           string                  `json:"role"`
	PlatformAccess []domain.PlatformAccess `json:"platformAccess"`
	LastActivity   time.Time               `json:"lastActivity"`
	IP             string                  `json:"ip"`
	UserAgent      string                  `json:"userAgent"`
}

// Store is the fast-store interface for sessions and refresh-token records.
// Missing records are (nil, nil) / ("", nil), never errors. Exactly one
// refresh-token record exists per user; saving replaces any prior one.
type Store interface {
	SaveSession(ctx context.Context, s *UserSession) error
	GetSession(ctx context.Context, userID string) (*UserSession, error)
	DeleteSession(ctx context.Context, userID string) error
	// SaveRefreshToken stores the hash of the user's only valid refresh
	// token, superseding any previous one.
	SaveRefreshToken(ctx context.Context, userID, tokenHash string) error
	GetRefreshToken(ctx context.Context, userID string) (string, error)
	DeleteRefreshToken(ctx context.Context, userID string) error
}
