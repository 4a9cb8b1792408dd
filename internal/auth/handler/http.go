// Package handler exposes the auth service over HTTP and maps service errors
// to status codes.
package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fanzeco/auth-service/internal/auth"
	"github.com/fanzeco/auth-service/internal/security"
	"github.com/fanzeco/auth-service/internal/user/domain"
)

// Handler serves the /api/auth and /api/user routes.
type Handler struct {
	svc    *auth.Service
	logger *slog.Logger
}

// New returns a Handler for the given service.
func New(svc *auth.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handler{svc: svc, logger: logger}
}

// userView is the sanitized user shape returned to clients.
type userView struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	Role        string     `json:"role"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
}

func viewOf(u *domain.User) userView {
	return userView{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		Role:        string(u.Role),
		LastLoginAt: u.LastLoginAt,
	}
}

type registerRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Role     string `json:"role"`
	Platform string `json:"platform"`
}

// Register handles POST /api/auth/register.
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	platform := req.Platform
	if platform == "" {
		platform = "fanz"
	}
	res, err := h.svc.Register(c.Request.Context(), auth.RegisterInput{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		Role:      req.Role,
		Platform:  platform,
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"user":           viewOf(res.User),
		"tokens":         res.Tokens,
		"platformAccess": res.PlatformAccess,
	})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login handles POST /api/auth/login.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.svc.Login(c.Request.Context(), auth.LoginInput{
		Email:     req.Email,
		Password:  req.Password,
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":           viewOf(res.User),
		"tokens":         res.Tokens,
		"platformAccess": res.PlatformAccess,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// Refresh handles POST /api/auth/refresh.
func (h *Handler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.svc.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokens": res.Tokens})
}

type validateRequest struct {
	Token string `json:"token" binding:"required"`
}

// Validate handles POST /api/auth/validate.
func (h *Handler) Validate(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	v := h.svc.Validate(c.Request.Context(), req.Token)
	if !v.Valid {
		c.JSON(http.StatusOK, gin.H{"valid": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"valid": true,
		"user": gin.H{
			"id":       v.User.UserID,
			"username": v.User.Username,
			"email":    v.User.Email,
			"role":     v.User.Role,
		},
		"platformAccess": v.PlatformAccess,
	})
}

// Logout handles POST /api/auth/logout. Always 200: logout is idempotent and
// must never block a client from clearing local state.
func (h *Handler) Logout(c *gin.Context) {
	token := security.ExtractBearer(c.GetHeader("Authorization"))
	h.svc.Logout(c.Request.Context(), token)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type grantRequest struct {
	Platform    string   `json:"platform" binding:"required"`
	Permissions []string `json:"permissions"`
}

// GrantPlatformAccess handles POST /api/auth/platform-access.
func (h *Handler) GrantPlatformAccess(c *gin.Context) {
	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	token := security.ExtractBearer(c.GetHeader("Authorization"))
	access, err := h.svc.GrantPlatformAccess(c.Request.Context(), token, req.Platform, req.Permissions)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"platformAccess": access})
}

// Profile handles GET /api/user/profile.
func (h *Handler) Profile(c *gin.Context) {
	token := security.ExtractBearer(c.GetHeader("Authorization"))
	user, access, err := h.svc.Profile(c.Request.Context(), token)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":           viewOf(user),
		"platformAccess": access,
	})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "detail": err.Error()})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	var ve *auth.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "field": ve.Field, "message": ve.Msg})
	case errors.Is(err, auth.ErrAccountExists):
		c.JSON(http.StatusConflict, gin.H{"error": "email or username already registered"})
	case errors.Is(err, auth.ErrInvalidCredentials):
		// Uniform message: never reveal whether the email exists.
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
	case errors.Is(err, auth.ErrInvalidRefreshToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired refresh token"})
	case errors.Is(err, auth.ErrInvalidAccessToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired access token"})
	default:
		h.logger.Error("request failed", slog.String("path", c.FullPath()), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
