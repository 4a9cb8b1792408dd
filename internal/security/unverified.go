package security

import (
	"github.com/golang-jwt/jwt/v5"
)

// UnverifiedClaims holds claims decoded without signature verification.
// This type exists solely for rate-limit partitioning and bypass tagging,
// where a forged token changes at most which counter a request lands in.
// Authorization must always go through TokenProvider.ValidateAccess.
type UnverifiedClaims struct {
	UserID   string
	TenantID string
	Issuer   string
	Audience []string
	Service  string
}

// DecodeUnverifiedClaims decodes a JWT payload WITHOUT verifying its
// signature. Returns nil for anything that does not parse as a JWT.
func DecodeUnverifiedClaims(tokenString string) *UnverifiedClaims {
	if tokenString == "" {
		return nil
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil
	}
	out := &UnverifiedClaims{}
	if v, ok := claims["userId"].(string); ok && v != "" {
		out.UserID = v
	} else if v, ok := claims["sub"].(string); ok {
		out.UserID = v
	}
	if v, ok := claims["tenantId"].(string); ok {
		out.TenantID = v
	}
	if v, ok := claims["iss"].(string); ok {
		out.Issuer = v
	}
	if v, ok := claims["svc"].(string); ok {
		out.Service = v
	}
	switch aud := claims["aud"].(type) {
	case string:
		out.Audience = []string{aud}
	case []interface{}:
		for _, a := range aud {
			if s, ok := a.(string); ok {
				out.Audience = append(out.Audience, s)
			}
		}
	}
	return out
}
