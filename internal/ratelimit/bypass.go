package ratelimit

import (
	"github.com/gin-gonic/gin"

	"github.com/fanzeco/auth-service/internal/security"
)

// apiKeyHeader carries the internal-service API key checked against the
// bypass allowlist.
const apiKeyHeader = "X-API-Key"

// Bypass reason tags, recorded with every exemption so bypass abuse stays
// detectable after the fact.
const (
	BypassReasonAPIKey   = "api-key"
	BypassReasonAudience = "jwt-aud"
	BypassReasonService  = "jwt-svc"
	BypassReasonIssuer   = "jwt-iss"
)

// BypassEvaluator exempts trusted internal callers from rate limiting.
//
// JWT claims are inspected without signature verification: a bypass only
// skips counting, never authorization, so the worst a forged claim buys is
// an uncounted request that still has to pass real auth. This is a
// deliberate, narrow trust boundary; do not widen it.
type BypassEvaluator struct {
	cfg BypassConfig
}

// NewBypassEvaluator returns an evaluator for the given bypass configuration.
func NewBypassEvaluator(cfg BypassConfig) *BypassEvaluator {
	return &BypassEvaluator{cfg: cfg}
}

// Evaluate checks the request against the trust list. First match wins:
// API key, then JWT audience, service claim, issuer. When bypass is disabled
// it returns false without inspecting the request. userID is the unverified
// subject, for audit only.
func (e *BypassEvaluator) Evaluate(c *gin.Context) (reason, userID string, ok bool) {
	if !e.cfg.Enabled {
		return "", "", false
	}

	if key := c.GetHeader(apiKeyHeader); key != "" {
		for _, allowed := range e.cfg.APIKeys {
			if key == allowed {
				return BypassReasonAPIKey, "", true
			}
		}
	}

	claims := security.DecodeUnverifiedClaims(security.ExtractBearer(c.GetHeader("Authorization")))
	if claims == nil {
		return "", "", false
	}
	for _, aud := range claims.Audience {
		if e.trusted(aud) {
			return BypassReasonAudience, claims.UserID, true
		}
	}
	if e.cfg.ServiceClaim != "" && claims.Service == e.cfg.ServiceClaim {
		return BypassReasonService, claims.UserID, true
	}
	// The trusted-audience list doubles as the trusted-issuer list.
	if e.trusted(claims.Issuer) {
		return BypassReasonIssuer, claims.UserID, true
	}
	return "", "", false
}

func (e *BypassEvaluator) trusted(v string) bool {
	if v == "" {
		return false
	}
	for _, t := range e.cfg.TrustedAudiences {
		if v == t {
			return true
		}
	}
	return false
}
