// Package auth provides JWT validation for the StreamHaven operator API.
// Token issuance (registration, OTP, login) lives in the upstream identity
// service; this package only verifies tokens minted there and gates
// administrator-only endpoints.
package auth

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// RoleAdmin is the role claim required by every mutating staging endpoint.
const RoleAdmin = "admin"

// Claims represents JWT claims for a StreamHaven user.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// IsAdmin reports whether the claims carry the administrator role.
func (c *Claims) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// GenerateToken creates a signed JWT for the given user id and role.
// Used by the seed tooling and by tests; production tokens come from the
// upstream identity service, which signs with the same shared secret.
func GenerateToken(userID uuid.UUID, role string) (string, error) {
	secret := os.Getenv("AUTH_JWT_SECRET")
	if secret == "" {
		return "", errors.New("AUTH_JWT_SECRET not set")
	}

	expiry := 15 * time.Minute
	if v := os.Getenv("AUTH_JWT_EXPIRY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			expiry = d
		}
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			Issuer:    "streamhaven",
		},
		Role: role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ValidateToken parses and validates a JWT access token.
// Returns the parsed claims or an error if the token is invalid/expired.
func ValidateToken(tokenStr string) (*Claims, error) {
	secret := os.Getenv("AUTH_JWT_SECRET")
	if secret == "" {
		return nil, errors.New("AUTH_JWT_SECRET not set")
	}

	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}
