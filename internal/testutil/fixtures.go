// fixtures.go — Test data helpers: fake video payloads and admin tokens.
package testutil

import (
	"math/rand"
	"testing"

	"github.com/google/uuid"

	"github.com/adrian-purnama/streamhaven-be/internal/auth"
)

// VideoBytes returns n pseudo-random bytes with a deterministic seed, so
// chunk-splitting tests can reassemble and compare.
func VideoBytes(t *testing.T, n int) []byte {
	t.Helper()
	r := rand.New(rand.NewSource(int64(n)))
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil {
		t.Fatalf("generate payload: %v", err)
	}
	return b
}

// SplitChunks splits payload into chunks of at most size bytes.
func SplitChunks(payload []byte, size int) [][]byte {
	var out [][]byte
	for len(payload) > 0 {
		n := size
		if n > len(payload) {
			n = len(payload)
		}
		out = append(out, payload[:n])
		payload = payload[n:]
	}
	return out
}

// AdminToken mints an admin JWT for handler tests. Requires AUTH_JWT_SECRET
// in the environment; set it with t.Setenv before calling.
func AdminToken(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	token, err := auth.GenerateToken(userID, auth.RoleAdmin)
	if err != nil {
		t.Fatalf("mint admin token: %v", err)
	}
	return token
}
