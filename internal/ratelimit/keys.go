package ratelimit

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/fanzeco/auth-service/internal/security"
)

// Dimension names a key-generation strategy for composite keys.
type Dimension string

const (
	DimensionIP      Dimension = "ip"
	DimensionAccount Dimension = "account"
	DimensionUser    Dimension = "user"
	DimensionTenant  Dimension = "tenant"
)

// tenantHeader carries an explicit tenant id, preferred over JWT claims.
const tenantHeader = "X-Tenant-Id"

// bodyCacheKey caches the peeked request body in the gin context so several
// limiters on one route read it once.
const bodyCacheKey = "ratelimit.body"

// maxBodyPeek bounds how much of the body the key generator will read.
const maxBodyPeek = 64 << 10

// KeyGenerator derives deterministic, privacy-preserving partition keys from
// a request. Account identifiers are always HMAC-hashed before becoming a
// storage key; no method ever fails, every malformed input degrades to IP
// keying.
type KeyGenerator struct {
	secret []byte
}

// NewKeyGenerator returns a KeyGenerator hashing account identifiers with the
// given HMAC secret.
func NewKeyGenerator(secret string) *KeyGenerator {
	return &KeyGenerator{secret: []byte(secret)}
}

// IP returns prefix + "ip:" + client IP, or "unknown" when the IP cannot be
// determined. IPs are not hashed: they are low-cardinality, legitimate
// throttling identifiers.
func (g *KeyGenerator) IP(c *gin.Context, prefix string) string {
	return prefix + "ip:" + clientIP(c)
}

// Account reads email or username from the JSON body (lower-cased, trimmed)
// and returns prefix + "account:" + HMAC-SHA256 hex digest. When neither is
// present the key degrades to IP under a "fallback:" sub-prefix, so raw PII
// never becomes a storage key.
func (g *KeyGenerator) Account(c *gin.Context, prefix string) string {
	id := accountIdentifier(c)
	if id == "" {
		return g.IP(c, prefix+"fallback:")
	}
	return prefix + "account:" + g.hmacHex(id)
}

// User partitions by the userId claim of an unverified-but-decoded bearer
// JWT. The token is deliberately not signature-checked here: a forged token
// only moves the request to a different counter, and authorization happens
// later on the verified path. Absent or unparseable tokens degrade to IP
// under a "fallback:" sub-prefix.
func (g *KeyGenerator) User(c *gin.Context, prefix string) string {
	claims := security.DecodeUnverifiedClaims(security.ExtractBearer(c.GetHeader("Authorization")))
	if claims == nil || claims.UserID == "" {
		return g.IP(c, prefix+"fallback:")
	}
	return prefix + "user:" + claims.UserID
}

// Tenant prefers the X-Tenant-Id header, then a tenantId JWT claim, then
// degrades to IP under a "fallback:" sub-prefix.
func (g *KeyGenerator) Tenant(c *gin.Context, prefix string) string {
	if t := strings.TrimSpace(c.GetHeader(tenantHeader)); t != "" {
		return prefix + "tenant:" + t
	}
	claims := security.DecodeUnverifiedClaims(security.ExtractBearer(c.GetHeader("Authorization")))
	if claims != nil && claims.TenantID != "" {
		return prefix + "tenant:" + claims.TenantID
	}
	return g.IP(c, prefix+"fallback:")
}

// Composite joins shortened per-dimension fragments with "+" for multi-factor
// policies. Account hashes are truncated to 8 hex chars; a missing dimension
// contributes "-".
func (g *KeyGenerator) Composite(c *gin.Context, prefix string, dims ...Dimension) string {
	frags := make([]string, 0, len(dims))
	for _, d := range dims {
		frag := "-"
		switch d {
		case DimensionIP:
			frag = clientIP(c)
		case DimensionAccount:
			if id := accountIdentifier(c); id != "" {
				frag = g.hmacHex(id)[:8]
			}
		case DimensionUser:
			if claims := security.DecodeUnverifiedClaims(security.ExtractBearer(c.GetHeader("Authorization"))); claims != nil && claims.UserID != "" {
				frag = claims.UserID
			}
		case DimensionTenant:
			if t := strings.TrimSpace(c.GetHeader(tenantHeader)); t != "" {
				frag = t
			} else if claims := security.DecodeUnverifiedClaims(security.ExtractBearer(c.GetHeader("Authorization"))); claims != nil && claims.TenantID != "" {
				frag = claims.TenantID
			}
		}
		frags = append(frags, frag)
	}
	return prefix + "composite:" + strings.Join(frags, "+")
}

func (g *KeyGenerator) hmacHex(identifier string) string {
	mac := hmac.New(sha256.New, g.secret)
	mac.Write([]byte(identifier))
	return hex.EncodeToString(mac.Sum(nil))
}

func clientIP(c *gin.Context) string {
	ip := c.ClientIP()
	if ip == "" {
		return "unknown"
	}
	return ip
}

// accountIdentifier peeks the JSON body for an email or username without
// consuming it for the downstream handler.
func accountIdentifier(c *gin.Context) string {
	body := peekBody(c)
	if len(body) == 0 {
		return ""
	}
	var payload struct {
		Email    string `json:"email"`
		Username string `json:"username"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	id := payload.Email
	if id == "" {
		id = payload.Username
	}
	return strings.ToLower(strings.TrimSpace(id))
}

func peekBody(c *gin.Context) []byte {
	if cached, ok := c.Get(bodyCacheKey); ok {
		b, _ := cached.([]byte)
		return b
	}
	if c.Request == nil || c.Request.Body == nil {
		return nil
	}
	b, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyPeek))
	if err != nil {
		b = nil
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(b))
	c.Set(bodyCacheKey, b)
	return b
}
