package ratelimit

import (
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fanzeco/auth-service/internal/security"
)

// KeyFunc derives a partition key from a request.
type KeyFunc func(c *gin.Context) string

// Rule is one limiter in a route's chain: a key strategy plus a
// max-per-window threshold.
type Rule struct {
	Dimension string
	Key       KeyFunc
	Max       int
	Window    time.Duration
}

// ErrorCode is the machine-readable code on every 429 body.
const ErrorCode = "RATE_LIMITED"

// deniedBody is the 429 response contract.
type deniedBody struct {
	Error        string     `json:"error"`
	Code         string     `json:"code"`
	Message      string     `json:"message"`
	Category     Category   `json:"category"`
	RetryAfterMs int64      `json:"retryAfterMs"`
	Meta         deniedMeta `json:"meta"`
	Ecosystem    string     `json:"ecosystem"`
}

type deniedMeta struct {
	Route     string    `json:"route"`
	Limit     int       `json:"limit"`
	ResetTime time.Time `json:"resetTime"`
}

func categoryMessage(c Category) string {
	switch c {
	case CategorySensitive:
		return "too many authentication attempts, please try again later"
	case CategoryToken:
		return "too many token requests, please slow down"
	default:
		return "too many requests"
	}
}

// Middleware builds per-route limiter chains from the policy.
type Middleware struct {
	limiter   *Limiter
	bypass    *BypassEvaluator
	recorder  *Recorder
	keys      *KeyGenerator
	policy    Policy
	logger    *slog.Logger
	ecosystem string
}

// NewMiddleware wires the limiter pipeline. ecosystem tags 429 bodies with
// the platform name.
func NewMiddleware(limiter *Limiter, bypass *BypassEvaluator, recorder *Recorder, keys *KeyGenerator, policy Policy, logger *slog.Logger, ecosystem string) *Middleware {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Middleware{
		limiter:   limiter,
		bypass:    bypass,
		recorder:  recorder,
		keys:      keys,
		policy:    policy,
		logger:    logger,
		ecosystem: ecosystem,
	}
}

// ForCategory returns the standard limiter chain for a category, per policy:
// sensitive gets IP + account + long-window IP; token gets IP + user +
// long-window user; standard gets IP (plus tenant when configured). The
// layered chain stops single-IP brute force, distributed same-account
// stuffing, and slow distributed attacks the short window misses.
func (m *Middleware) ForCategory(category Category, endpoint string) gin.HandlerFunc {
	l := m.policy.Limits(category)
	prefix := string(category) + ":"
	longPrefix := string(category) + ":long:"

	var rules []Rule
	if l.IPMax > 0 {
		rules = append(rules, Rule{
			Dimension: "ip",
			Key:       func(c *gin.Context) string { return m.keys.IP(c, prefix) },
			Max:       l.IPMax,
			Window:    l.Window,
		})
	}
	if l.AccountMax > 0 {
		switch category {
		case CategoryToken:
			rules = append(rules, Rule{
				Dimension: "user",
				Key:       func(c *gin.Context) string { return m.keys.User(c, prefix) },
				Max:       l.AccountMax,
				Window:    l.Window,
			})
		default:
			rules = append(rules, Rule{
				Dimension: "account",
				Key:       func(c *gin.Context) string { return m.keys.Account(c, prefix) },
				Max:       l.AccountMax,
				Window:    l.Window,
			})
		}
	}
	if category == CategoryStandard && m.policy.Tenant.Max > 0 && m.policy.Tenant.Window > 0 {
		rules = append(rules, Rule{
			Dimension: "tenant",
			Key:       func(c *gin.Context) string { return m.keys.Tenant(c, prefix) },
			Max:       m.policy.Tenant.Max,
			Window:    m.policy.Tenant.Window,
		})
	}
	if l.LongMax > 0 && l.LongWindow > 0 {
		if category == CategoryToken {
			rules = append(rules, Rule{
				Dimension: "user-long",
				Key:       func(c *gin.Context) string { return m.keys.User(c, longPrefix) },
				Max:       l.LongMax,
				Window:    l.LongWindow,
			})
		} else {
			rules = append(rules, Rule{
				Dimension: "ip-long",
				Key:       func(c *gin.Context) string { return m.keys.IP(c, longPrefix) },
				Max:       l.LongMax,
				Window:    l.LongWindow,
			})
		}
	}
	return m.Handler(category, endpoint, rules...)
}

// Handler composes an explicit rule chain for one route. Bypass is consulted
// first; every rule must pass and the first denial short-circuits, so later
// rules are never evaluated.
func (m *Middleware) Handler(category Category, endpoint string, rules ...Rule) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.policy.Enabled {
			c.Next()
			return
		}
		if reason, userID, ok := m.bypass.Evaluate(c); ok {
			m.recorder.RecordBypass(endpoint, MaskIP(clientIP(c)), reason, MaskForLogging(userID, 4))
			c.Next()
			return
		}

		var tightest Decision
		haveDecision := false
		for _, rule := range rules {
			key := rule.Key(c)
			d, err := m.limiter.Check(c.Request.Context(), key, rule.Max, rule.Window)
			if err != nil {
				// Fail open: the limiter is advisory and the auth path
				// remains the security backstop. This must stay loud.
				m.logger.Error("rate limit store unavailable, allowing request",
					slog.String("endpoint", endpoint),
					slog.String("dimension", rule.Dimension),
					slog.String("error", err.Error()),
				)
				continue
			}
			if !d.Allowed {
				m.deny(c, category, endpoint, rule.Dimension, d)
				return
			}
			if !haveDecision || d.Remaining < tightest.Remaining {
				tightest = d
				haveDecision = true
			}
		}
		if haveDecision {
			setQuotaHeaders(c, tightest)
			m.recorder.RecordSuccess(category, endpoint, tightest.Remaining)
		}
		c.Next()
	}
}

func (m *Middleware) deny(c *gin.Context, category Category, endpoint, dimension string, d Decision) {
	setQuotaHeaders(c, d)
	retryMs := d.RetryAfter.Milliseconds()
	if retryMs < 0 {
		retryMs = 0
	}
	c.Header("Retry-After", strconv.FormatInt(int64(math.Ceil(d.RetryAfter.Seconds())), 10))

	maskedIP := MaskIP(clientIP(c))
	maskedUser := ""
	if claims := security.DecodeUnverifiedClaims(security.ExtractBearer(c.GetHeader("Authorization"))); claims != nil && claims.UserID != "" {
		maskedUser = MaskForLogging(claims.UserID, 4)
	}
	m.recorder.RecordExceeded(Event{
		Category:  category,
		Endpoint:  endpoint,
		IP:        maskedIP,
		UserID:    maskedUser,
		Limit:     d.Limit,
		Remaining: d.Remaining,
		ResetAt:   d.ResetAt,
	})
	m.logger.Log(c.Request.Context(), denialLogLevel(m.policy), "request rate limited",
		slog.String("endpoint", endpoint),
		slog.String("category", string(category)),
		slog.String("dimension", dimension),
		slog.String("ip", maskedIP),
		slog.String("userId", maskedUser),
		slog.String("userAgent", MaskUserAgent(c.Request.UserAgent())),
	)

	c.AbortWithStatusJSON(http.StatusTooManyRequests, deniedBody{
		Error:        "rate limit exceeded",
		Code:         ErrorCode,
		Message:      categoryMessage(category),
		Category:     category,
		RetryAfterMs: retryMs,
		Meta: deniedMeta{
			Route:     endpoint,
			Limit:     d.Limit,
			ResetTime: d.ResetAt.UTC(),
		},
		Ecosystem: m.ecosystem,
	})
}

func denialLogLevel(p Policy) slog.Level {
	if !p.LoggingEnabled {
		return slog.LevelDebug
	}
	switch p.LoggingLevel {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

func setQuotaHeaders(c *gin.Context, d Decision) {
	resetIn := int64(math.Ceil(time.Until(d.ResetAt).Seconds()))
	if resetIn < 0 {
		resetIn = 0
	}
	limit := strconv.Itoa(d.Limit)
	remaining := strconv.Itoa(d.Remaining)
	c.Header("RateLimit-Limit", limit)
	c.Header("RateLimit-Remaining", remaining)
	c.Header("RateLimit-Reset", strconv.FormatInt(resetIn, 10))
	c.Header("X-RateLimit-Limit", limit)
	c.Header("X-RateLimit-Remaining", remaining)
	c.Header("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}
