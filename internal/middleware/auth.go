// Package middleware provides authentication, rate limiting, logging and
// tracing middleware shared by both servers.
package middleware

import (
	"errors"
	"strings"
	"time"

	"feedsync/internal/config"
	"feedsync/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

var cfg *config.Config

// InitMiddleware initializes authentication middleware with the given config.
func InitMiddleware(c *config.Config) {
	cfg = c
}

// GenerateToken issues an HS256 token whose subject is userID.
func GenerateToken(secret, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

var (
	errMissingSubject = errors.New("Invalid token structure - missing subject")
	errSubjectType    = errors.New("Invalid token subject type")
)

// parseToken validates tokenString and returns its subject.
func parseToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid signing method")
		}
		return []byte(cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return "", errors.New("Invalid or expired token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("Invalid token claims")
	}
	subClaim, ok := claims["sub"]
	if !ok {
		return "", errMissingSubject
	}
	sub, ok := subClaim.(string)
	if !ok {
		return "", errSubjectType
	}
	if strings.TrimSpace(sub) == "" {
		return "", errMissingSubject
	}
	return sub, nil
}

func bearer(c *fiber.Ctx) (string, error) {
	authHeader := c.Get(fiber.HeaderAuthorization)
	if authHeader == "" {
		return "", errors.New("Authorization header required")
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", errors.New("Invalid authorization header format")
	}
	return parts[1], nil
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return models.RespondWithError(c, fiber.StatusUnauthorized, models.NewNotAuthenticatedError(msg))
}

// AuthRequired is a middleware that enforces authentication for protected routes.
// It stores the subject in Locals("userID") and the raw token in Locals("token").
func AuthRequired(c *fiber.Ctx) error {
	tok, err := bearer(c)
	if err != nil {
		return unauthorized(c, err.Error())
	}
	sub, err := parseToken(tok)
	if err != nil {
		return unauthorized(c, err.Error())
	}
	c.Locals("userID", sub)
	c.Locals("token", tok)
	return c.Next()
}

// OptionalAuth identifies the caller when a valid token is present and lets
// anonymous requests through. A present but invalid token is rejected.
func OptionalAuth(c *fiber.Ctx) error {
	if c.Get(fiber.HeaderAuthorization) == "" {
		return c.Next()
	}
	return AuthRequired(c)
}

// WebSocketAuthRequired is middleware that validates JWT tokens from query parameters for WebSocket connections.
func WebSocketAuthRequired(c *fiber.Ctx) error {
	tok := c.Query("token")
	if tok == "" {
		var err error
		if tok, err = bearer(c); err != nil {
			return unauthorized(c, "Token required")
		}
	}
	sub, err := parseToken(tok)
	if err != nil {
		return unauthorized(c, err.Error())
	}
	c.Locals("userID", sub)
	c.Locals("token", tok)
	return c.Next()
}

// UserID returns the authenticated subject, or "" for anonymous callers.
func UserID(c *fiber.Ctx) string {
	uid, _ := c.Locals("userID").(string)
	return uid
}

// Token returns the caller's raw bearer token.
func Token(c *fiber.Ctx) string {
	tok, _ := c.Locals("token").(string)
	return tok
}
