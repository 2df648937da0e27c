// Package validate provides shared input validation for StreamHaven HTTP handlers.
package validate

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ValidationError describes a single field validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// MultiError collects multiple validation errors for a single request.
type MultiError struct {
	Errors []ValidationError
}

// Add appends a validation error. If err is nil, Add is a no-op.
func (m *MultiError) Add(err error) {
	if err == nil {
		return
	}
	if ve, ok := err.(*ValidationError); ok {
		m.Errors = append(m.Errors, *ve)
	} else {
		m.Errors = append(m.Errors, ValidationError{Field: "request", Message: err.Error()})
	}
}

// HasErrors reports whether any errors have been collected.
func (m *MultiError) HasErrors() bool { return len(m.Errors) > 0 }

// Error returns a pipe-delimited summary of all errors.
func (m *MultiError) Error() string {
	parts := make([]string, len(m.Errors))
	for i, e := range m.Errors {
		parts[i] = e.Error()
	}
	return strings.Join(parts, " | ")
}

// NonEmptyString validates that value is not empty or whitespace-only.
func NonEmptyString(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{Field: field, Message: "must not be empty"}
	}
	return nil
}

// MaxLength validates that value contains at most max bytes.
func MaxLength(field, value string, max int) error {
	if len(value) > max {
		return &ValidationError{Field: field, Message: fmt.Sprintf("must be at most %d characters", max)}
	}
	return nil
}

// IntRange validates that value lies in [min, max].
func IntRange(field string, value, min, max int) error {
	if value < min || value > max {
		return &ValidationError{Field: field, Message: fmt.Sprintf("must be between %d and %d", min, max)}
	}
	return nil
}

// UUID validates that value parses as a UUID.
func UUID(field, value string) error {
	if _, err := uuid.Parse(value); err != nil {
		return &ValidationError{Field: field, Message: "must be a valid UUID"}
	}
	return nil
}

// Filename validates an uploaded filename: non-empty, bounded, and free of
// path separators or traversal sequences.
func Filename(field, value string) error {
	if err := NonEmptyString(field, value); err != nil {
		return err
	}
	if err := MaxLength(field, value, 255); err != nil {
		return err
	}
	if strings.ContainsAny(value, "/\\") || strings.Contains(value, "..") {
		return &ValidationError{Field: field, Message: "must not contain path separators"}
	}
	return nil
}
