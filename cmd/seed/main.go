// seed inserts development sample data for local testing.
// Idempotent: skips inserts if the dev user (dev@example.com) already exists.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/fanzeco/auth-service/internal/config"
	"github.com/fanzeco/auth-service/internal/db"
	"github.com/fanzeco/auth-service/internal/security"
	"github.com/fanzeco/auth-service/internal/user/domain"
	"github.com/fanzeco/auth-service/internal/user/repository"
)

const (
	devUserEmail = "dev@example.com"
	devUsername  = "devcreator"
	devPassword  = "devpassword1"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is not set; create a .env or set DATABASE_URL")
		os.Exit(1)
	}

	pool, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	ctx := context.Background()
	users := repository.NewPostgresRepository(pool)

	existing, err := users.GetByEmail(ctx, devUserEmail)
	if err != nil {
		log.Fatalf("seed: %v", err)
	}
	if existing != nil {
		log.Printf("seed: dev user already exists (%s); nothing to do", devUserEmail)
		return
	}

	hasher := security.NewHasher(cfg.BcryptCost, cfg.BcryptMaxConcurrent)
	hashed, err := hasher.Hash(ctx, []byte(devPassword))
	if err != nil {
		log.Fatalf("seed: hash: %v", err)
	}

	now := time.Now().UTC()
	user := &domain.User{
		ID:           uuid.New().String(),
		Username:     devUsername,
		Email:        devUserEmail,
		PasswordHash: hashed,
		Role:         domain.RoleCreator,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	access := []domain.PlatformAccess{
		{
			Platform:     "fanz",
			AccessLevel:  "standard",
			Permissions:  domain.DefaultPermissions("fanz"),
			SubscribedAt: now,
			Active:       true,
		},
		{
			Platform:     "fanz-live",
			AccessLevel:  "premium",
			Permissions:  append(domain.DefaultPermissions("fanz-live"), "fanz-live:stream"),
			SubscribedAt: now,
			Active:       true,
		},
	}
	if err := users.Create(ctx, user, access); err != nil {
		log.Fatalf("seed: create: %v", err)
	}
	log.Printf("seed: created dev user %s (password %q)", devUserEmail, devPassword)
}
