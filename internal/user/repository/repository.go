// Package repository persists users and platform-access grants.
package repository

import (
	"context"
	"time"

	"github.com/fanzeco/auth-service/internal/user/domain"
)

// Repository is the narrow relational-store interface the auth service
// depends on. Missing rows are (nil, nil), never errors.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	// Create persists the user and its initial platform-access grants in
	// one transaction, so a half-created account can never exist.
	Create(ctx context.Context, u *domain.User, access []domain.PlatformAccess) error
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	UpsertPlatformAccess(ctx context.Context, userID string, access domain.PlatformAccess) error
	ListPlatformAccess(ctx context.Context, userID string) ([]domain.PlatformAccess, error)
}
