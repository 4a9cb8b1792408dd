// Package auth implements registration, login, token refresh, validation,
// logout, and platform-access grants on top of the relational user store and
// the fast session store.
package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fanzeco/auth-service/internal/security"
	"github.com/fanzeco/auth-service/internal/session"
	"github.com/fanzeco/auth-service/internal/user/domain"
	"github.com/fanzeco/auth-service/internal/user/repository"
)

// Sentinel errors; the handler maps them to HTTP status codes.
var (
	ErrAccountExists       = errors.New("email or username already registered")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidRefreshToken = errors.New("invalid or expired refresh token")
	ErrInvalidAccessToken  = errors.New("invalid or expired access token")
)

// ValidationError is a field-level request problem, returned with 400.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// TokenPair is one issued access+refresh pair.
type TokenPair struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Result is the outcome of Register, Login, or Refresh.
type Result struct {
	User           *domain.User
	Tokens         TokenPair
	PlatformAccess []domain.PlatformAccess
}

// Validation is the contract other services call to authorize a request.
type Validation struct {
	Valid          bool
	User           *session.UserSession
	PlatformAccess []domain.PlatformAccess
}

// Service orchestrates the user repository, session store, password hasher,
// and token provider. Failed-attempt lockout is not modeled here; the rate
// limiter owns that entirely.
type Service struct {
	users    repository.Repository
	sessions session.Store
	hasher   *security.Hasher
	tokens   *security.TokenProvider
	logger   *slog.Logger
}

// NewService returns a Service with the given dependencies.
func NewService(users repository.Repository, sessions session.Store, hasher *security.Hasher, tokens *security.TokenProvider, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{users: users, sessions: sessions, hasher: hasher, tokens: tokens, logger: logger}
}

// RegisterInput carries a registration request plus client metadata for the
// session record.
type RegisterInput struct {
	Username  string
	Email     string
	Password  string
	Role      string
	Platform  string
	IP        string
	UserAgent string
}

// Register creates the user with default platform access, issues tokens, and
// writes the session. Duplicate email or username fails with
// ErrAccountExists. The user row and its access grants are written in one
// transaction; a session-store failure after that surfaces as an error so the
// client never holds tokens it cannot validate.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Result, error) {
	email := strings.TrimSpace(strings.ToLower(in.Email))
	username := strings.TrimSpace(in.Username)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}
	role := domain.Role(in.Role)
	if role == "" {
		role = domain.RoleFan
	}
	platform := strings.TrimSpace(in.Platform)
	if platform == "" {
		return nil, &ValidationError{Field: "platform", Msg: "platform is required"}
	}

	if existing, err := s.users.GetByEmail(ctx, email); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, ErrAccountExists
	}
	if existing, err := s.users.GetByUsername(ctx, username); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, ErrAccountExists
	}

	hashed, err := s.hasher.Hash(ctx, []byte(in.Password))
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	user := &domain.User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: hashed,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := user.Validate(); err != nil {
		return nil, err
	}
	access := []domain.PlatformAccess{{
		Platform:     platform,
		AccessLevel:  "standard",
		Permissions:  domain.DefaultPermissions(platform),
		SubscribedAt: now,
		Active:       true,
	}}
	if err := s.users.Create(ctx, user, access); err != nil {
		return nil, err
	}

	tokens, err := s.issueAndStore(ctx, user, access, in.IP, in.UserAgent)
	if err != nil {
		return nil, err
	}
	return &Result{User: user, Tokens: tokens, PlatformAccess: access}, nil
}

// LoginInput carries a login request plus client metadata.
type LoginInput struct {
	Email     string
	Password  string
	IP        string
	UserAgent string
}

// Login authenticates by email/password and returns fresh tokens plus the
// user's available platforms. Unknown email and wrong password fail
// identically to prevent account enumeration. The new session and refresh
// record overwrite any prior ones, invalidating the previous refresh token.
func (s *Service) Login(ctx context.Context, in LoginInput) (*Result, error) {
	email := strings.TrimSpace(strings.ToLower(in.Email))
	if email == "" || in.Password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}
	if err := s.hasher.Compare(ctx, user.PasswordHash, []byte(in.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	now := time.Now().UTC()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		// Non-fatal: the stamp is informational.
		s.logger.Warn("last-login update failed", slog.String("error", err.Error()))
	}
	access, err := s.users.ListPlatformAccess(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	tokens, err := s.issueAndStore(ctx, user, access, in.IP, in.UserAgent)
	if err != nil {
		return nil, err
	}
	return &Result{User: user, Tokens: tokens, PlatformAccess: access}, nil
}

// Refresh verifies the refresh token against the signing secret and the
// single stored record for its user, then rotates it: a new refresh token is
// issued and stored, so the presented one cannot be replayed.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Result, error) {
	if refreshToken == "" {
		return nil, ErrInvalidRefreshToken
	}
	claims, err := s.tokens.ValidateRefresh(refreshToken)
	if err != nil {
		return nil, ErrInvalidRefreshToken
	}
	stored, err := s.sessions.GetRefreshToken(ctx, claims.UserID)
	if err != nil {
		// Fail closed: an unreachable store must not verify tokens.
		s.logger.Error("refresh-token lookup failed", slog.String("error", err.Error()))
		return nil, ErrInvalidRefreshToken
	}
	if stored == "" || !security.RefreshTokenHashEqual(refreshToken, stored) {
		return nil, ErrInvalidRefreshToken
	}

	sess, err := s.sessions.GetSession(ctx, claims.UserID)
	if err != nil || sess == nil {
		return nil, ErrInvalidRefreshToken
	}

	newRefresh, _, err := s.tokens.IssueRefresh(claims.UserID)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.SaveRefreshToken(ctx, claims.UserID, security.HashRefreshToken(newRefresh)); err != nil {
		return nil, err
	}
	accessToken, expiresAt, err := s.tokens.IssueAccess(claims.UserID, sess.Username, sess.Role)
	if err != nil {
		return nil, err
	}

	sess.LastActivity = time.Now().UTC()
	if err := s.sessions.SaveSession(ctx, sess); err != nil {
		s.logger.Warn("session refresh write failed", slog.String("error", err.Error()))
	}
	return &Result{
		Tokens: TokenPair{AccessToken: accessToken, RefreshToken: newRefresh, ExpiresAt: expiresAt},
	}, nil
}

// Logout best-effort decodes the access token and deletes the user's session
// and refresh record. It never fails: an invalid, expired, or missing token
// must not block a client from clearing its local state.
func (s *Service) Logout(ctx context.Context, accessToken string) {
	claims := security.DecodeUnverifiedClaims(accessToken)
	if claims == nil || claims.UserID == "" {
		return
	}
	if err := s.sessions.DeleteSession(ctx, claims.UserID); err != nil {
		s.logger.Warn("session delete failed", slog.String("error", err.Error()))
	}
	if err := s.sessions.DeleteRefreshToken(ctx, claims.UserID); err != nil {
		s.logger.Warn("refresh-token delete failed", slog.String("error", err.Error()))
	}
}

// Validate verifies the access token and requires a live session for its
// subject. Store failures fail closed (invalid), never crash.
func (s *Service) Validate(ctx context.Context, token string) Validation {
	claims, err := s.tokens.ValidateAccess(token)
	if err != nil {
		return Validation{}
	}
	sess, err := s.sessions.GetSession(ctx, claims.UserID)
	if err != nil {
		s.logger.Error("session lookup failed", slog.String("error", err.Error()))
		return Validation{}
	}
	if sess == nil {
		return Validation{}
	}
	return Validation{Valid: true, User: sess, PlatformAccess: sess.PlatformAccess}
}

// GrantPlatformAccess upserts the (user, platform) grant and updates the
// session copy immediately, so reads within the session TTL see the grant.
func (s *Service) GrantPlatformAccess(ctx context.Context, accessToken, platform string, permissions []string) ([]domain.PlatformAccess, error) {
	claims, err := s.tokens.ValidateAccess(accessToken)
	if err != nil {
		return nil, ErrInvalidAccessToken
	}
	platform = strings.TrimSpace(platform)
	if platform == "" {
		return nil, &ValidationError{Field: "platform", Msg: "platform is required"}
	}
	if len(permissions) == 0 {
		permissions = domain.DefaultPermissions(platform)
	}
	grant := domain.PlatformAccess{
		Platform:     platform,
		AccessLevel:  "standard",
		Permissions:  permissions,
		SubscribedAt: time.Now().UTC(),
		Active:       true,
	}
	if err := s.users.UpsertPlatformAccess(ctx, claims.UserID, grant); err != nil {
		return nil, err
	}
	access, err := s.users.ListPlatformAccess(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}

	if sess, serr := s.sessions.GetSession(ctx, claims.UserID); serr == nil && sess != nil {
		sess.PlatformAccess = access
		sess.LastActivity = time.Now().UTC()
		if werr := s.sessions.SaveSession(ctx, sess); werr != nil {
			s.logger.Warn("session access update failed", slog.String("error", werr.Error()))
		}
	}
	return access, nil
}

// Profile returns the user row and grants for a valid access token.
func (s *Service) Profile(ctx context.Context, accessToken string) (*domain.User, []domain.PlatformAccess, error) {
	claims, err := s.tokens.ValidateAccess(accessToken)
	if err != nil {
		return nil, nil, ErrInvalidAccessToken
	}
	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, nil, err
	}
	if user == nil {
		return nil, nil, ErrInvalidAccessToken
	}
	access, err := s.users.ListPlatformAccess(ctx, claims.UserID)
	if err != nil {
		return nil, nil, err
	}
	return user, access, nil
}

// issueAndStore issues an access+refresh pair and writes the session and
// refresh record. An error here aborts the caller: tokens must not outlive a
// failed session write.
func (s *Service) issueAndStore(ctx context.Context, user *domain.User, access []domain.PlatformAccess, ip, userAgent string) (TokenPair, error) {
	accessToken, expiresAt, err := s.tokens.IssueAccess(user.ID, user.Username, string(user.Role))
	if err != nil {
		return TokenPair{}, err
	}
	refreshToken, _, err := s.tokens.IssueRefresh(user.ID)
	if err != nil {
		return TokenPair{}, err
	}
	sess := &session.UserSession{
		UserID:         user.ID,
		Username:       user.Username,
		Email:          user.Email,
		Role:           string(user.Role),
		PlatformAccess: access,
		LastActivity:   time.Now().UTC(),
		IP:             ip,
		UserAgent:      userAgent,
	}
	if err := s.sessions.SaveSession(ctx, sess); err != nil {
		return TokenPair{}, err
	}
	if err := s.sessions.SaveRefreshToken(ctx, user.ID, security.HashRefreshToken(refreshToken)); err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: accessToken, RefreshToken: refreshToken, ExpiresAt: expiresAt}, nil
}

func validateEmail(email string) error {
	if email == "" {
		return &ValidationError{Field: "email", Msg: "email is required"}
	}
	const simpleEmail = `^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`
	if ok, _ := regexp.MatchString(simpleEmail, email); !ok {
		return &ValidationError{Field: "email", Msg: "invalid email format"}
	}
	return nil
}

func validateUsername(username string) error {
	if len(username) < 3 {
		return &ValidationError{Field: "username", Msg: "username must be at least 3 characters"}
	}
	for _, r := range username {
		valid := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.'
		if !valid {
			return &ValidationError{Field: "username", Msg: "username may only contain letters, digits, and ._-"}
		}
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < 8 {
		return &ValidationError{Field: "password", Msg: "password must be at least 8 characters"}
	}
	var hasLetter, hasNumber bool
	for _, r := range password {
		switch {
		case (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z'):
			hasLetter = true
		case r >= '0' && r <= '9':
			hasNumber = true
		}
	}
	if !hasLetter || !hasNumber {
		return &ValidationError{Field: "password", Msg: "password must contain at least one letter and one number"}
	}
	return nil
}
