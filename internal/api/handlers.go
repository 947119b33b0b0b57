// Package api contains the HTTP API handlers for the task portal
package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aethra/taskportal/internal/auth"
	"github.com/aethra/taskportal/internal/config"
	"github.com/aethra/taskportal/internal/engine"
	"github.com/aethra/taskportal/internal/errors"
	"github.com/aethra/taskportal/internal/export"
	"github.com/aethra/taskportal/internal/logger"
	"github.com/aethra/taskportal/internal/models"
	"github.com/aethra/taskportal/internal/ui"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Version is reported by the health endpoint
const Version = "1.0.0"

const currentUserKey = "current_user"

// Handler contains all API handlers
type Handler struct {
	cfg         *config.Config
	svc         *engine.Services
	jwtService  *auth.JWTService
	exporter    *export.Exporter
	rateLimiter *LoginRateLimiter
}

// NewHandler creates the handler set for svc
func NewHandler(cfg *config.Config, svc *engine.Services) *Handler {
	return &Handler{
		cfg:         cfg,
		svc:         svc,
		jwtService:  auth.NewJWTService(cfg.Auth),
		exporter:    export.New(cfg.Reports),
		rateLimiter: NewLoginRateLimiter(),
	}
}

// Close stops background helpers
func (h *Handler) Close() {
	h.rateLimiter.Stop()
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

// RequestLogger logs every request once it completes
func (h *Handler) RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		}
		if u := currentUser(c); u != nil {
			fields = append(fields, zap.String("user", u.Username))
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.L().Error("request", fields...)
			return
		}
		logger.L().Info("request", fields...)
	}
}

// sessionToken reads the bearer header first, then the session cookie
func (h *Handler) sessionToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if cookie, err := c.Cookie(h.cfg.Auth.CookieName); err == nil {
		return cookie
	}
	return ""
}

// RequireAuthMiddleware loads the session user. Browsers are redirected to
// the login page, API clients get a 401.
func (h *Handler) RequireAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := h.sessionToken(c)
		if token == "" {
			h.unauthenticated(c, "authentication required")
			return
		}
		claims, err := h.jwtService.ValidateAccessToken(token)
		if err != nil {
			h.unauthenticated(c, "invalid or expired session")
			return
		}
		user, err := h.svc.Users.Get(c.Request.Context(), claims.UserID)
		if err != nil || !user.IsActive {
			h.unauthenticated(c, "account not found or inactive")
			return
		}
		c.Set(currentUserKey, user)
		c.Next()
	}
}

func wantsHTML(c *gin.Context) bool {
	return strings.Contains(c.GetHeader("Accept"), "text/html")
}

func (h *Handler) unauthenticated(c *gin.Context, message string) {
	if wantsHTML(c) {
		c.Redirect(http.StatusFound, "/login?next="+url.QueryEscape(c.Request.URL.RequestURI()))
		c.Abort()
		return
	}
	status, body := errors.ToHTTPError(errors.NewUnauthorizedError(message))
	c.AbortWithStatusJSON(status, body)
}

// =============================================================================
// HELPERS
// =============================================================================

func currentUser(c *gin.Context) *models.User {
	v, ok := c.Get(currentUserKey)
	if !ok {
		return nil
	}
	u, _ := v.(*models.User)
	return u
}

// requestContext carries the caller address into activity entries
func requestContext(c *gin.Context) context.Context {
	return engine.WithClientIP(c.Request.Context(), c.ClientIP())
}

// respondError renders err as the standard error body. Internal errors are
// logged and never leak their message.
func respondError(c *gin.Context, err error) {
	status, body := errors.ToHTTPError(err)
	if status >= http.StatusInternalServerError {
		logger.L().Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(status, body)
}

func bindJSON(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		respondError(c, errors.NewBadRequestError("invalid request body"))
		return false
	}
	return true
}

func paramID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		respondError(c, errors.NewBadRequestError("invalid "+name))
		return uuid.Nil, false
	}
	return id, true
}

// queryUUID parses an optional id from the query string
func queryUUID(c *gin.Context, key string) (*uuid.UUID, bool) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		respondError(c, errors.NewValidationError(key, "invalid id"))
		return nil, false
	}
	return &id, true
}

func parseIntParam(value string, defaultValue int) int {
	if value == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return i
}

func pageParam(c *gin.Context) int {
	return parseIntParam(c.Query("page"), 1)
}

// =============================================================================
// HEALTH & DASHBOARD
// =============================================================================

// Health returns the health status
// GET /api/health
func (h *Handler) Health(c *gin.Context) {
	status := "ok"
	if sqlDB, err := h.svc.DB.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  status,
		"service": "taskportal",
		"version": Version,
	})
}

// Dashboard returns the role specific landing page data
// GET /dashboard
func (h *Handler) Dashboard(c *gin.Context) {
	d, err := h.svc.Dashboard.Build(requestContext(c), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// LoginPage serves the sign in page browsers are redirected to
// GET /login
func (h *Handler) LoginPage(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := ui.RenderLogin(c.Writer, ui.LoginData{
		CompanyName: h.cfg.Reports.CompanyName,
		Next:        c.Query("next"),
	}); err != nil {
		logger.L().Error("rendering login page", zap.Error(err))
	}
}
