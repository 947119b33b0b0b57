package api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aethra/taskportal/internal/auth"
	"github.com/aethra/taskportal/internal/engine"
	"github.com/aethra/taskportal/internal/errors"
	"github.com/aethra/taskportal/internal/models"
	"github.com/gin-gonic/gin"
)

const (
	maxLoginAttempts = 5
	loginWindow      = 5 * time.Minute
	loginBlock       = 15 * time.Minute
)

// LoginRateLimiter implements rate limiting for login attempts
type LoginRateLimiter struct {
	attempts map[string]*loginAttempt
	mu       sync.Mutex
	now      func() time.Time
	done     chan struct{}
	stopOnce sync.Once
}

type loginAttempt struct {
	count     int
	firstTry  time.Time
	blockedAt *time.Time
}

// NewLoginRateLimiter creates a new rate limiter
func NewLoginRateLimiter() *LoginRateLimiter {
	rl := &LoginRateLimiter{
		attempts: make(map[string]*loginAttempt),
		now:      time.Now,
		done:     make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// Allow checks if a login attempt is allowed. It returns the attempts left in
// the window and, when blocked, how long until the next try.
func (rl *LoginRateLimiter) Allow(key string) (bool, int, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	attempt, exists := rl.attempts[key]
	if !exists {
		rl.attempts[key] = &loginAttempt{count: 1, firstTry: now}
		return true, maxLoginAttempts - 1, 0
	}

	if attempt.blockedAt != nil {
		if elapsed := now.Sub(*attempt.blockedAt); elapsed < loginBlock {
			return false, 0, loginBlock - elapsed
		}
		attempt.count = 1
		attempt.firstTry = now
		attempt.blockedAt = nil
		return true, maxLoginAttempts - 1, 0
	}

	if now.Sub(attempt.firstTry) > loginWindow {
		attempt.count = 1
		attempt.firstTry = now
		return true, maxLoginAttempts - 1, 0
	}

	attempt.count++
	if attempt.count > maxLoginAttempts {
		attempt.blockedAt = &now
		return false, 0, loginBlock
	}
	return true, maxLoginAttempts - attempt.count, 0
}

// Reset resets the attempts for a key (on successful login)
func (rl *LoginRateLimiter) Reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.attempts, key)
}

// Stop ends the cleanup goroutine
func (rl *LoginRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.done) })
}

// cleanup removes old entries periodically
func (rl *LoginRateLimiter) cleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.mu.Lock()
			now := rl.now()
			for key, attempt := range rl.attempts {
				if now.Sub(attempt.firstTry) > 2*loginBlock {
					delete(rl.attempts, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// LoginRequest represents login credentials
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RefreshRequest represents a token refresh request
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

func (h *Handler) setSessionCookie(c *gin.Context, token string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cfg.Auth.CookieName, token, maxAge, "/", "", h.cfg.Auth.CookieSecure, true)
}

func (h *Handler) issueSession(c *gin.Context, status int, user *models.User) {
	tokens, err := h.jwtService.GenerateTokenPair(user)
	if err != nil {
		respondError(c, errors.NewInternalError(err))
		return
	}
	h.setSessionCookie(c, tokens.AccessToken, int(h.jwtService.AccessExpiry().Seconds()))
	c.JSON(status, gin.H{"success": true, "user": user, "tokens": tokens})
}

// Login authenticates a user and starts a session
// POST /auth/login
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.NewValidationError("username", "username and password are required"))
		return
	}

	rateLimitKey := c.ClientIP() + ":" + strings.ToLower(strings.TrimSpace(req.Username))
	allowed, remaining, retryAfter := h.rateLimiter.Allow(rateLimitKey)
	if !allowed {
		c.Header("Retry-After", retryAfter.Round(time.Second).String())
		c.JSON(http.StatusTooManyRequests, gin.H{
			"success":     false,
			"error":       "TOO_MANY_ATTEMPTS",
			"message":     "too many login attempts, please wait before trying again",
			"retry_after": retryAfter.Seconds(),
		})
		return
	}

	user, err := h.svc.Users.Authenticate(requestContext(c), req.Username, req.Password)
	if err != nil {
		status, body := errors.ToHTTPError(err)
		if status == http.StatusUnauthorized {
			body["attempts_remaining"] = remaining
		}
		c.JSON(status, body)
		return
	}

	h.rateLimiter.Reset(rateLimitKey)
	h.issueSession(c, http.StatusOK, user)
}

// Register creates an inactive account that waits for admin approval
// POST /auth/register
func (h *Handler) Register(c *gin.Context) {
	var in engine.RegisterInput
	if !bindJSON(c, &in) {
		return
	}
	user, err := h.svc.Users.Register(requestContext(c), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"user":    user,
		"message": "Registration successful. Your account is awaiting admin approval.",
	})
}

// RefreshToken issues a new token pair from a refresh token
// POST /auth/refresh
func (h *Handler) RefreshToken(c *gin.Context) {
	var req RefreshRequest
	if !bindJSON(c, &req) {
		return
	}
	claims, err := h.jwtService.ValidateRefreshToken(req.RefreshToken)
	if err != nil {
		respondError(c, errors.NewUnauthorizedError("invalid refresh token"))
		return
	}
	user, err := h.svc.Users.Get(c.Request.Context(), claims.UserID)
	if err != nil || !user.IsActive {
		respondError(c, errors.NewUnauthorizedError("user not found or disabled"))
		return
	}
	h.issueSession(c, http.StatusOK, user)
}

// GetMe returns the current authenticated user
// GET /auth/me
func (h *Handler) GetMe(c *gin.Context) {
	user := currentUser(c)
	unread, err := h.svc.Notifications.UnreadCount(c.Request.Context(), user.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":                 user,
		"unread_notifications": unread,
		"can_manage_divisions": auth.CanManageDivisions(user),
	})
}

// Logout clears the session cookie. Bearer clients discard their tokens.
// POST /auth/logout
func (h *Handler) Logout(c *gin.Context) {
	h.setSessionCookie(c, "", -1)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "logged out successfully"})
}
