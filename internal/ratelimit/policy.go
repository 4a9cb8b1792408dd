// Package ratelimit implements the multi-dimensional request rate limiter:
// per-category policies, privacy-preserving key generation, counter stores
// (Redis with a memory fallback), bypass evaluation for trusted internal
// callers, and an observability recorder.
package ratelimit

import (
	"fmt"
	"time"
)

// Category groups endpoints by how aggressively they are limited.
type Category string

const (
	// CategorySensitive covers credential-entry endpoints (login, register).
	CategorySensitive Category = "sensitive"
	// CategoryToken covers token-lifecycle endpoints (refresh, validate).
	CategoryToken Category = "token"
	// CategoryStandard covers everything else needing only coarse throttling.
	CategoryStandard Category = "standard"
)

// DefaultHMACSecret is the fallback key-hashing secret. Running production
// with this value is surfaced as a startup warning by Policy.Warnings.
const DefaultHMACSecret = "fanz-rl-dev-secret"

// CategoryLimits holds the thresholds for one category. AccountMax applies to
// the account dimension for sensitive endpoints and the user dimension for
// token endpoints; zero disables that dimension. LongWindow/LongMax add a
// secondary longer-window IP or user check; zero disables it.
type CategoryLimits struct {
	Window     time.Duration
	IPMax      int
	AccountMax int
	LongWindow time.Duration
	LongMax    int
}

// BypassConfig lists the trust anchors that exempt internal callers from
// limiting. TrustedAudiences doubles as the trusted-issuer list.
type BypassConfig struct {
	Enabled          bool
	TrustedAudiences []string
	ServiceClaim     string
	APIKeys          []string
}

// TenantLimits optionally adds a per-tenant rule to the standard chain for
// multi-tenant deployments. Zero Max disables it.
type TenantLimits struct {
	Max    int
	Window time.Duration
}

// Policy is the immutable rate-limit configuration, built once at startup and
// read-only afterwards.
type Policy struct {
	Enabled        bool
	Categories     map[Category]CategoryLimits
	Tenant         TenantLimits
	Bypass         BypassConfig
	HMACSecret     string
	LoggingEnabled bool
	LoggingLevel   string
	// StoreTimeout bounds each counter-store call.
	StoreTimeout time.Duration
}

// DefaultPolicy returns the policy used when no environment overrides are set.
func DefaultPolicy() Policy {
	return Policy{
		Enabled: true,
		Categories: map[Category]CategoryLimits{
			CategorySensitive: {
				Window:     time.Minute,
				IPMax:      5,
				AccountMax: 3,
				LongWindow: time.Hour,
				LongMax:    20,
			},
			CategoryToken: {
				Window:     time.Minute,
				IPMax:      30,
				AccountMax: 60,
				LongWindow: 15 * time.Minute,
				LongMax:    500,
			},
			CategoryStandard: {
				Window: time.Minute,
				IPMax:  60,
			},
		},
		Bypass:         BypassConfig{},
		HMACSecret:     DefaultHMACSecret,
		LoggingEnabled: true,
		LoggingLevel:   "warn",
		StoreTimeout:   500 * time.Millisecond,
	}
}

// Limits returns the limits for category, falling back to standard when the
// category is unknown.
func (p Policy) Limits(c Category) CategoryLimits {
	if l, ok := p.Categories[c]; ok {
		return l
	}
	return p.Categories[CategoryStandard]
}

// Validate returns an error for values that make the policy unusable.
// Insecure-but-valid settings are reported by Warnings instead.
func (p Policy) Validate() error {
	for cat, l := range p.Categories {
		if l.Window <= 0 {
			return fmt.Errorf("ratelimit: %s window must be positive", cat)
		}
		if l.IPMax < 0 || l.AccountMax < 0 || l.LongMax < 0 {
			return fmt.Errorf("ratelimit: %s thresholds must not be negative", cat)
		}
		if l.LongMax > 0 && l.LongWindow <= 0 {
			return fmt.Errorf("ratelimit: %s long-window threshold set without a long window", cat)
		}
	}
	if p.Tenant.Max > 0 && p.Tenant.Window <= 0 {
		return fmt.Errorf("ratelimit: tenant threshold set without a window")
	}
	if p.StoreTimeout <= 0 {
		return fmt.Errorf("ratelimit: store timeout must be positive")
	}
	return nil
}

// Warnings reports insecure-but-valid configuration for the given environment.
// Callers log these at startup; they never fail the process.
func (p Policy) Warnings(env string) []string {
	var ws []string
	if env == "production" && p.HMACSecret == DefaultHMACSecret {
		ws = append(ws, "rate-limit HMAC secret is the built-in default; set RL_HMAC_SECRET")
	}
	if p.Bypass.Enabled && len(p.Bypass.APIKeys) == 0 && len(p.Bypass.TrustedAudiences) == 0 && p.Bypass.ServiceClaim == "" {
		ws = append(ws, "rate-limit bypass is enabled but no API keys, audiences, or service claim are configured; no caller can bypass")
	}
	if !p.Enabled {
		ws = append(ws, "rate limiting is globally disabled (RATE_LIMIT_ENABLED=false)")
	}
	return ws
}
