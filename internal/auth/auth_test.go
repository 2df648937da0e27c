// auth_test.go — Token validation and admin-gate middleware tests.
package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func setSecret(t *testing.T) {
	t.Helper()
	t.Setenv("AUTH_JWT_SECRET", "test-secret-test-secret-test-secret!")
}

func TestGenerateValidate_RoundTrip(t *testing.T) {
	setSecret(t)
	id := uuid.New()

	tok, err := GenerateToken(id, RoleAdmin)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ValidateToken(tok)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.Subject != id.String() {
		t.Errorf("subject: got %q, want %q", claims.Subject, id.String())
	}
	if !claims.IsAdmin() {
		t.Error("expected admin role claim to survive the round trip")
	}
}

func TestValidateToken_RejectsGarbage(t *testing.T) {
	setSecret(t)
	if _, err := ValidateToken("not.a.jwt"); err == nil {
		t.Error("expected error for malformed token")
	}
}

func TestValidateToken_RejectsWrongSecret(t *testing.T) {
	setSecret(t)
	tok, err := GenerateToken(uuid.New(), RoleAdmin)
	if err != nil {
		t.Fatal(err)
	}
	t.Setenv("AUTH_JWT_SECRET", "a-different-secret-a-different-secret")
	if _, err := ValidateToken(tok); err == nil {
		t.Error("expected validation failure with a different secret")
	}
}

func TestRequireAdmin_MissingToken(t *testing.T) {
	setSecret(t)
	h := RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run without a token")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin/staging/process", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}

func TestRequireAdmin_NonAdminRole(t *testing.T) {
	setSecret(t)
	tok, err := GenerateToken(uuid.New(), "viewer")
	if err != nil {
		t.Fatal(err)
	}
	h := RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run for non-admin role")
	}))
	req := httptest.NewRequest(http.MethodPost, "/admin/staging/process", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rr.Code)
	}
}

func TestRequireAdmin_AdminPasses(t *testing.T) {
	setSecret(t)
	id := uuid.New()
	tok, err := GenerateToken(id, RoleAdmin)
	if err != nil {
		t.Fatal(err)
	}

	var gotID uuid.UUID
	h := RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodPost, "/admin/staging/process", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if gotID != id {
		t.Errorf("context user id: got %s, want %s", gotID, id)
	}
}
