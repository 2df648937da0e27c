// middleware.go — HTTP middleware for admin gate enforcement.
// Provides Bearer token extraction and claims context injection.
package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// contextKey is an unexported type to avoid context key collisions.
type contextKey string

const claimsKey contextKey = "auth_claims"

// RequireAdmin is an HTTP middleware that validates the Bearer JWT in the
// Authorization header and requires the administrator role. On success,
// injects the parsed claims into the request context. On failure, responds
// with 401/403 JSON.
func RequireAdmin(next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenStr := extractBearerToken(r)
		if tokenStr == "" {
			WriteError(w, http.StatusUnauthorized, "missing_token", "Authorization header required")
			return
		}

		claims, err := ValidateToken(tokenStr)
		if err != nil {
			WriteError(w, http.StatusUnauthorized, "invalid_token", "Invalid or expired token")
			return
		}
		if !claims.IsAdmin() {
			WriteError(w, http.StatusForbidden, "forbidden", "administrator role required")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// ClaimsFromContext extracts JWT claims from the request context.
// Returns nil if RequireAdmin middleware was not applied.
func ClaimsFromContext(ctx context.Context) *Claims {
	if c, ok := ctx.Value(claimsKey).(*Claims); ok {
		return c
	}
	return nil
}

// UserIDFromContext extracts the user UUID from JWT claims in context.
// Returns uuid.Nil if not authenticated.
func UserIDFromContext(ctx context.Context) uuid.UUID {
	claims := ClaimsFromContext(ctx)
	if claims == nil {
		return uuid.Nil
	}
	id, _ := uuid.Parse(claims.Subject)
	return id
}

// extractBearerToken pulls the token out of "Authorization: Bearer <token>".
func extractBearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}

// WriteError writes a JSON error body in the shared response shape.
func WriteError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": msg})
}
