package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/fanzeco/auth-service/internal/user/domain"
)

// PostgresRepository implements Repository against Postgres.
type PostgresRepository struct {
	db *sql.DB
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository returns a user repository that uses the given db for
// persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const userColumns = "id, username, email, password_hash, role, last_login_at, created_at, updated_at"

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getOne(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id)
}

// GetByEmail returns the user with the given email, or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getOne(ctx, "SELECT "+userColumns+" FROM users WHERE email = $1", email)
}

// GetByUsername returns the user with the given username, or nil if not found.
func (r *PostgresRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.getOne(ctx, "SELECT "+userColumns+" FROM users WHERE username = $1", username)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg any) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, query, arg)
	var u domain.User
	var lastLogin sql.NullTime
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &lastLogin, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	return &u, nil
}

// Create persists the user and its initial platform-access grants in one
// transaction. The user must have ID set; it is not assigned here.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User, access []domain.PlatformAccess) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, username, email, password_hash, role, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.Role, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return err
	}
	for _, a := range access {
		if err := upsertAccessTx(ctx, tx, u.ID, a); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// UpdateLastLogin stamps the user's last successful login.
func (r *PostgresRepository) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE users SET last_login_at = $2, updated_at = $2 WHERE id = $1", id, at)
	return err
}

// UpsertPlatformAccess inserts or replaces the (user, platform) grant.
func (r *PostgresRepository) UpsertPlatformAccess(ctx context.Context, userID string, access domain.PlatformAccess) error {
	return upsertAccessTx(ctx, r.db, userID, access)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertAccessTx(ctx context.Context, ex execer, userID string, a domain.PlatformAccess) error {
	perms, err := json.Marshal(a.Permissions)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx,
		`INSERT INTO platform_access (user_id, platform, access_level, permissions, subscribed_at, active)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id, platform) DO UPDATE
		 SET access_level = EXCLUDED.access_level,
		     permissions = EXCLUDED.permissions,
		     active = EXCLUDED.active`,
		userID, a.Platform, a.AccessLevel, perms, a.SubscribedAt, a.Active,
	)
	return err
}

// ListPlatformAccess returns the user's grants, newest subscription first.
func (r *PostgresRepository) ListPlatformAccess(ctx context.Context, userID string) ([]domain.PlatformAccess, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT platform, access_level, permissions, subscribed_at, active
		 FROM platform_access WHERE user_id = $1 ORDER BY subscribed_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PlatformAccess
	for rows.Next() {
		var a domain.PlatformAccess
		var perms []byte
		if err := rows.Scan(&a.Platform, &a.AccessLevel, &perms, &a.SubscribedAt, &a.Active); err != nil {
			return nil, err
		}
		if len(perms) > 0 {
			if err := json.Unmarshal(perms, &a.Permissions); err != nil {
				return nil, err
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
