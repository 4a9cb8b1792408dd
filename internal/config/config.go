// Package config loads and validates app config from env and an optional .env
// file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/fanzeco/auth-service/internal/ratelimit"
)

// DefaultJWTSecret is the fallback signing secret. Running production with it
// is surfaced as a startup warning.
const DefaultJWTSecret = "fanz-dev-jwt-secret"

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// Ecosystem tags rate-limit responses with the platform name.
	Ecosystem string `mapstructure:"ECOSYSTEM"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisURL is the Redis connection URL for sessions and counters.
	RedisURL string `mapstructure:"REDIS_URL"`
	// JWTSecret signs access and refresh tokens (HS256).
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// JWTIssuer is the iss claim; enforced on verification.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim; enforced on verification.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTExpiry is the access token lifetime (e.g. "15m").
	JWTExpiry string `mapstructure:"JWT_EXPIRY"`
	// RefreshTokenExpiry is the refresh token lifetime (e.g. "168h").
	RefreshTokenExpiry string `mapstructure:"REFRESH_TOKEN_EXPIRY"`
	// SessionTTL is how long a user session lives in the fast store.
	SessionTTL string `mapstructure:"SESSION_TTL"`
	// BcryptCost is the bcrypt cost factor (4-31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// BcryptMaxConcurrent bounds in-flight bcrypt operations.
	BcryptMaxConcurrent int `mapstructure:"BCRYPT_MAX_CONCURRENT"`
	// AdminEnabled exposes the manual counter-reset endpoint. Test/staging
	// tooling only.
	AdminEnabled bool `mapstructure:"RATE_LIMIT_ADMIN_ENABLED"`

	// Parsed durations and the rate-limit policy, filled by Load.
	AccessTTL   time.Duration    `mapstructure:"-"`
	RefreshTTL  time.Duration    `mapstructure:"-"`
	SessionTTLd time.Duration    `mapstructure:"-"`
	RateLimit   ratelimit.Policy `mapstructure:"-"`
	// Warnings holds insecure-but-valid settings for startup logging.
	Warnings []string `mapstructure:"-"`
}

// Load reads .env (if present), then builds and validates Config from the
// environment via Viper. Missing .env is ignored (e.g. in CI). Env vars
// override .env. Clearly invalid values fail; insecure defaults only warn.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("ECOSYSTEM", "fanz")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("JWT_SECRET", DefaultJWTSecret)
	v.SetDefault("JWT_ISSUER", "fanz-auth")
	v.SetDefault("JWT_AUDIENCE", "fanz-ecosystem")
	v.SetDefault("JWT_EXPIRY", "15m")
	v.SetDefault("REFRESH_TOKEN_EXPIRY", "168h") // 7d
	v.SetDefault("SESSION_TTL", "24h")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("BCRYPT_MAX_CONCURRENT", 4)
	v.SetDefault("RATE_LIMIT_ADMIN_ENABLED", false)

	setRateLimitDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if cfg.BcryptMaxConcurrent <= 0 {
		return nil, errors.New("config: BCRYPT_MAX_CONCURRENT must be positive")
	}

	var err error
	if cfg.AccessTTL, err = parsePositiveDuration("JWT_EXPIRY", cfg.JWTExpiry); err != nil {
		return nil, err
	}
	if cfg.RefreshTTL, err = parsePositiveDuration("REFRESH_TOKEN_EXPIRY", cfg.RefreshTokenExpiry); err != nil {
		return nil, err
	}
	if cfg.SessionTTLd, err = parsePositiveDuration("SESSION_TTL", cfg.SessionTTL); err != nil {
		return nil, err
	}

	policy, err := loadRateLimitPolicy(v)
	if err != nil {
		return nil, err
	}
	cfg.RateLimit = policy

	if cfg.Env == "production" && cfg.JWTSecret == DefaultJWTSecret {
		cfg.Warnings = append(cfg.Warnings, "JWT secret is the built-in default; set JWT_SECRET")
	}
	cfg.Warnings = append(cfg.Warnings, policy.Warnings(cfg.Env)...)

	return &cfg, nil
}

func setRateLimitDefaults(v *viper.Viper) {
	d := ratelimit.DefaultPolicy()
	v.SetDefault("RATE_LIMIT_ENABLED", d.Enabled)
	v.SetDefault("RL_HMAC_SECRET", d.HMACSecret)
	v.SetDefault("RL_LOGGING_ENABLED", d.LoggingEnabled)
	v.SetDefault("RL_LOGGING_LEVEL", d.LoggingLevel)
	v.SetDefault("RL_STORE_TIMEOUT", d.StoreTimeout)

	s := d.Categories[ratelimit.CategorySensitive]
	v.SetDefault("RL_SENSITIVE_WINDOW", s.Window)
	v.SetDefault("RL_SENSITIVE_IP_MAX", s.IPMax)
	v.SetDefault("RL_SENSITIVE_ACCOUNT_MAX", s.AccountMax)
	v.SetDefault("RL_SENSITIVE_LONG_WINDOW", s.LongWindow)
	v.SetDefault("RL_SENSITIVE_LONG_MAX", s.LongMax)

	t := d.Categories[ratelimit.CategoryToken]
	v.SetDefault("RL_TOKEN_WINDOW", t.Window)
	v.SetDefault("RL_TOKEN_IP_MAX", t.IPMax)
	v.SetDefault("RL_TOKEN_USER_MAX", t.AccountMax)
	v.SetDefault("RL_TOKEN_LONG_WINDOW", t.LongWindow)
	v.SetDefault("RL_TOKEN_LONG_MAX", t.LongMax)

	st := d.Categories[ratelimit.CategoryStandard]
	v.SetDefault("RL_STANDARD_WINDOW", st.Window)
	v.SetDefault("RL_STANDARD_IP_MAX", st.IPMax)

	v.SetDefault("RL_TENANT_MAX", 0)
	v.SetDefault("RL_TENANT_WINDOW", time.Minute)

	v.SetDefault("RL_BYPASS_ENABLED", false)
	v.SetDefault("RL_BYPASS_JWT_AUD", "")
	v.SetDefault("RL_BYPASS_SERVICE_CLAIM", "")
	v.SetDefault("RL_BYPASS_API_KEYS", "")
}

func loadRateLimitPolicy(v *viper.Viper) (ratelimit.Policy, error) {
	p := ratelimit.Policy{
		Enabled: v.GetBool("RATE_LIMIT_ENABLED"),
		Categories: map[ratelimit.Category]ratelimit.CategoryLimits{
			ratelimit.CategorySensitive: {
				Window:     v.GetDuration("RL_SENSITIVE_WINDOW"),
				IPMax:      v.GetInt("RL_SENSITIVE_IP_MAX"),
				AccountMax: v.GetInt("RL_SENSITIVE_ACCOUNT_MAX"),
				LongWindow: v.GetDuration("RL_SENSITIVE_LONG_WINDOW"),
				LongMax:    v.GetInt("RL_SENSITIVE_LONG_MAX"),
			},
			ratelimit.CategoryToken: {
				Window:     v.GetDuration("RL_TOKEN_WINDOW"),
				IPMax:      v.GetInt("RL_TOKEN_IP_MAX"),
				AccountMax: v.GetInt("RL_TOKEN_USER_MAX"),
				LongWindow: v.GetDuration("RL_TOKEN_LONG_WINDOW"),
				LongMax:    v.GetInt("RL_TOKEN_LONG_MAX"),
			},
			ratelimit.CategoryStandard: {
				Window: v.GetDuration("RL_STANDARD_WINDOW"),
				IPMax:  v.GetInt("RL_STANDARD_IP_MAX"),
			},
		},
		Tenant: ratelimit.TenantLimits{
			Max:    v.GetInt("RL_TENANT_MAX"),
			Window: v.GetDuration("RL_TENANT_WINDOW"),
		},
		Bypass: ratelimit.BypassConfig{
			Enabled:          v.GetBool("RL_BYPASS_ENABLED"),
			TrustedAudiences: splitList(v.GetString("RL_BYPASS_JWT_AUD")),
			ServiceClaim:     v.GetString("RL_BYPASS_SERVICE_CLAIM"),
			APIKeys:          splitList(v.GetString("RL_BYPASS_API_KEYS")),
		},
		HMACSecret:     v.GetString("RL_HMAC_SECRET"),
		LoggingEnabled: v.GetBool("RL_LOGGING_ENABLED"),
		LoggingLevel:   v.GetString("RL_LOGGING_LEVEL"),
		StoreTimeout:   v.GetDuration("RL_STORE_TIMEOUT"),
	}
	if err := p.Validate(); err != nil {
		return ratelimit.Policy{}, fmt.Errorf("config: %w", err)
	}
	return p, nil
}

func parsePositiveDuration(name, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("config: %s is not a valid duration: %q", name, value)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: %s must be positive", name)
	}
	return d, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
