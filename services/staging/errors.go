// errors.go — Sentinel errors for the staging service.
// The HTTP layer maps these onto status codes; pipeline internals classify
// every failure into one of them or into a per-item status update.
package staging

import "errors"

var (
	// ErrInvalidMime rejects intake of a content type outside the allow-list.
	ErrInvalidMime = errors.New("staging: content type not allowed")

	// ErrTooLarge rejects intake of a file above the configured ceiling.
	ErrTooLarge = errors.New("staging: file exceeds maximum size")

	// ErrNoSession is returned for a chunk with index > 0 when no assembly
	// session exists for its upload id. The client must resend chunk 0.
	ErrNoSession = errors.New("staging: no assembly session for upload id")

	// ErrChunkGap is returned when a chunk arrives whose predecessors have
	// not been received. The append-stream design requires in-order delivery;
	// the error names the missing indexes rather than waiting forever.
	ErrChunkGap = errors.New("staging: missing earlier chunks")

	// ErrRunActive is returned by the controller when a drain run is already
	// in progress. Callers should poll progress instead of retrying.
	ErrRunActive = errors.New("staging: a publish run is already active")

	// ErrNotFound is returned when a staging item, or its blob, does not exist.
	ErrNotFound = errors.New("staging: item not found")
)
