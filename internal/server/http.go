// Package server assembles the HTTP router: auth routes with their limiter
// chains, liveness, metrics, and rate-limit health.
package server

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fanzeco/auth-service/internal/auth/handler"
	"github.com/fanzeco/auth-service/internal/ratelimit"
)

// Deps holds everything the router needs.
type Deps struct {
	Auth      *handler.Handler
	RateLimit *ratelimit.Middleware
	Recorder  *ratelimit.Recorder
	Limiter   *ratelimit.Limiter
	// AdminEnabled exposes the manual counter-reset endpoint; test and
	// staging tooling only.
	AdminEnabled bool
	Logger       *slog.Logger
}

// New builds the gin engine. Endpoint categories drive which limiter chains
// apply: credential entry is sensitive, token lifecycle is token, the rest is
// standard. Liveness and metrics are never limited.
func New(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	mw := d.RateLimit
	authGroup := r.Group("/api/auth")
	authGroup.POST("/register", mw.ForCategory(ratelimit.CategorySensitive, "auth.register"), d.Auth.Register)
	authGroup.POST("/login", mw.ForCategory(ratelimit.CategorySensitive, "auth.login"), d.Auth.Login)
	authGroup.POST("/refresh", mw.ForCategory(ratelimit.CategoryToken, "auth.refresh"), d.Auth.Refresh)
	authGroup.POST("/validate", mw.ForCategory(ratelimit.CategoryToken, "auth.validate"), d.Auth.Validate)
	authGroup.POST("/logout", mw.ForCategory(ratelimit.CategoryStandard, "auth.logout"), d.Auth.Logout)
	authGroup.POST("/platform-access", mw.ForCategory(ratelimit.CategoryStandard, "auth.platform-access"), d.Auth.GrantPlatformAccess)

	r.GET("/api/user/profile", mw.ForCategory(ratelimit.CategoryStandard, "user.profile"), d.Auth.Profile)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/metrics", func(c *gin.Context) {
		if c.Query("format") == "json" {
			c.JSON(http.StatusOK, d.Recorder.JSON())
			return
		}
		c.Header("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		c.String(http.StatusOK, d.Recorder.PrometheusText())
	})

	r.GET("/health/rate-limit", func(c *gin.Context) {
		health := d.Recorder.Health()
		status := http.StatusOK
		if health.Status == "critical" {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, health)
	})

	if d.AdminEnabled {
		r.POST("/admin/rate-limit/reset", func(c *gin.Context) {
			var req struct {
				Key string `json:"key" binding:"required"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
				return
			}
			if err := d.Limiter.ResetKey(c.Request.Context(), req.Key); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "reset failed"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"reset": req.Key})
		})
	}

	return r
}
