package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed, expired, or
	// fails signature/issuer/audience checks.
	ErrInvalidToken = errors.New("invalid token")
)

const (
	// TokenTypeAccess marks short-lived bearer tokens.
	TokenTypeAccess = "access"
	// TokenTypeRefresh marks long-lived tokens used solely to mint new
	// access tokens.
	TokenTypeRefresh = "refresh"
)

// Claims holds the JWT claims issued by this service. Type distinguishes
// access from refresh tokens and is enforced on verification.
type Claims struct {
	jwt.RegisteredClaims
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
	Role     string `json:"role,omitempty"`
	Type     string `json:"type"`
}

// TokenProvider issues and verifies HS256-signed access and refresh tokens
// with a fixed issuer and audience.
type TokenProvider struct {
	secret     []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewTokenProvider returns a TokenProvider signing with the given shared
// secret. issuer and audience are set on claims and enforced on verification.
func NewTokenProvider(secret []byte, issuer, audience string, accessTTL, refreshTTL time.Duration) *TokenProvider {
	return &TokenProvider{
		secret:     secret,
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// IssueAccess issues a short-lived access token for the user.
func (p *TokenProvider) IssueAccess(userID, username, role string) (token string, expiresAt time.Time, err error) {
	return p.issue(userID, username, role, TokenTypeAccess, p.accessTTL)
}

// IssueRefresh issues a long-lived refresh token for the user. The jti is
// fresh on every call, so a newly issued refresh token never equals the one
// it supersedes.
func (p *TokenProvider) IssueRefresh(userID string) (token string, expiresAt time.Time, err error) {
	return p.issue(userID, "", "", TokenTypeRefresh, p.refreshTTL)
}

func (p *TokenProvider) issue(userID, username, role, typ string, ttl time.Duration) (string, time.Time, error) {
	jti, err := generateJTI()
	if err != nil {
		return "", time.Time{}, err
	}
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID:   userID,
		Username: username,
		Role:     role,
		Type:     typ,
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(p.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateAccess verifies signature, expiry, issuer, audience, and token type
// of an access token. Returns the claims or ErrInvalidToken.
func (p *TokenProvider) ValidateAccess(tokenString string) (*Claims, error) {
	return p.validate(tokenString, TokenTypeAccess)
}

// ValidateRefresh verifies signature, expiry, issuer, audience, and token
// type of a refresh token. Returns the claims or ErrInvalidToken.
func (p *TokenProvider) ValidateRefresh(tokenString string) (*Claims, error) {
	return p.validate(tokenString, TokenTypeRefresh)
}

func (p *TokenProvider) validate(tokenString, typ string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return p.secret, nil
	}, jwt.WithIssuer(p.issuer), jwt.WithAudience(p.audience))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Type != typ {
		return nil, ErrInvalidToken
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	return claims, nil
}

// ExtractBearer returns the token from an Authorization header value, or ""
// if the value is missing or not a Bearer scheme.
func ExtractBearer(header string) string {
	const bearerPrefix = "bearer "
	v := strings.TrimSpace(header)
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
