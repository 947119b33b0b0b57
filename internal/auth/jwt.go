// Package auth provides authentication and permission rules for the portal
package auth

import (
	"fmt"
	"time"

	"github.com/aethra/taskportal/internal/config"
	"github.com/aethra/taskportal/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const issuer = "taskportal"

// Claims represents the session token claims
type Claims struct {
	UserID     uuid.UUID   `json:"user_id"`
	Username   string      `json:"username"`
	Role       models.Role `json:"role"`
	DivisionID *uuid.UUID  `json:"division_id,omitempty"`
	Refresh    bool        `json:"refresh,omitempty"`
	jwt.RegisteredClaims
}

// TokenPair represents access and refresh tokens
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	TokenType    string    `json:"token_type"`
}

// JWTService handles JWT operations
type JWTService struct {
	secretKey          []byte
	accessTokenExpiry  time.Duration
	refreshTokenExpiry time.Duration
}

// NewJWTService creates a JWT service from the auth config
func NewJWTService(cfg config.AuthConfig) *JWTService {
	access := cfg.AccessExpiry()
	if access <= 0 {
		access = 24 * time.Hour
	}
	return &JWTService{
		secretKey:          []byte(cfg.JWTSecret),
		accessTokenExpiry:  access,
		refreshTokenExpiry: 7 * access,
	}
}

// AccessExpiry returns the access token lifetime
func (s *JWTService) AccessExpiry() time.Duration {
	return s.accessTokenExpiry
}

func (s *JWTService) sign(u *models.User, refresh bool, now, expires time.Time) (string, error) {
	claims := &Claims{
		UserID:     u.ID,
		Username:   u.Username,
		Role:       u.Role,
		DivisionID: u.DivisionID,
		Refresh:    refresh,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   u.ID.String(),
			ID:        uuid.New().String(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secretKey)
}

// GenerateTokenPair generates access and refresh tokens for u
func (s *JWTService) GenerateTokenPair(u *models.User) (*TokenPair, error) {
	now := time.Now()
	accessExpiresAt := now.Add(s.accessTokenExpiry)

	access, err := s.sign(u, false, now, accessExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}
	refresh, err := s.sign(u, true, now, now.Add(s.refreshTokenExpiry))
	if err != nil {
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    accessExpiresAt,
		TokenType:    "Bearer",
	}, nil
}

// ValidateToken validates a JWT token and returns the claims
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secretKey, nil
	}, jwt.WithIssuer(issuer))

	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	return claims, nil
}

// ValidateAccessToken rejects refresh tokens used as session tokens
func (s *JWTService) ValidateAccessToken(tokenString string) (*Claims, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Refresh {
		return nil, fmt.Errorf("refresh token cannot be used for access")
	}
	return claims, nil
}

// ValidateRefreshToken accepts only refresh tokens
func (s *JWTService) ValidateRefreshToken(tokenString string) (*Claims, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh token: %w", err)
	}
	if !claims.Refresh {
		return nil, fmt.Errorf("invalid refresh token: not a refresh token")
	}
	return claims, nil
}

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword verifies a password against a bcrypt hash
func CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
