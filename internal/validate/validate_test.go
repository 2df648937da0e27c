// validate_test.go — Unit tests for input validators.
package validate

import (
	"strings"
	"testing"
)

func TestNonEmptyString(t *testing.T) {
	if err := NonEmptyString("title", "Inception"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := NonEmptyString("title", "   "); err == nil {
		t.Error("expected error for whitespace-only value")
	}
}

func TestMaxLength(t *testing.T) {
	if err := MaxLength("filename", strings.Repeat("a", 255), 255); err != nil {
		t.Errorf("unexpected error at boundary: %v", err)
	}
	if err := MaxLength("filename", strings.Repeat("a", 256), 255); err == nil {
		t.Error("expected error above max length")
	}
}

func TestIntRange(t *testing.T) {
	if err := IntRange("totalChunks", 1, 1, 10000); err != nil {
		t.Errorf("unexpected error at lower bound: %v", err)
	}
	if err := IntRange("totalChunks", 0, 1, 10000); err == nil {
		t.Error("expected error below range")
	}
	if err := IntRange("totalChunks", 10001, 1, 10000); err == nil {
		t.Error("expected error above range")
	}
}

func TestUUID(t *testing.T) {
	if err := UUID("id", "550e8400-e29b-41d4-a716-446655440000"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := UUID("id", "not-a-uuid"); err == nil {
		t.Error("expected error for invalid UUID")
	}
}

func TestFilename(t *testing.T) {
	cases := []struct {
		value string
		ok    bool
	}{
		{"movie.mp4", true},
		{"My Movie (2024).mkv", true},
		{"", false},
		{"../etc/passwd", false},
		{"dir/movie.mp4", false},
		{`dir\movie.mp4`, false},
		{strings.Repeat("a", 300) + ".mp4", false},
	}
	for _, c := range cases {
		err := Filename("filename", c.value)
		if c.ok && err != nil {
			t.Errorf("Filename(%q): unexpected error %v", c.value, err)
		}
		if !c.ok && err == nil {
			t.Errorf("Filename(%q): expected error", c.value)
		}
	}
}

func TestMultiError_Collects(t *testing.T) {
	var m MultiError
	m.Add(nil)
	if m.HasErrors() {
		t.Error("nil add must not record an error")
	}
	m.Add(NonEmptyString("title", ""))
	m.Add(UUID("id", "nope"))
	if len(m.Errors) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(m.Errors))
	}
	if !strings.Contains(m.Error(), " | ") {
		t.Error("expected pipe-delimited summary")
	}
}
