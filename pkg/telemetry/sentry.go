// sentry.go — Sentry error tracking for the StreamHaven backend.
//
// Usage in main.go:
//
//	telemetry.InitSentry(os.Getenv("SENTRY_DSN"), "staging", version)
//	defer telemetry.Flush()
//
// Usage in pipeline code:
//
//	telemetry.CaptureError(err, map[string]string{
//	    "staging_id": item.ID,
//	    "operation":  "publish",
//	})
package telemetry

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
)

// InitSentry initializes the Sentry SDK for a named service.
// Call once at process startup. dsn may be empty — Sentry will be disabled.
// release should be the git SHA or version tag (e.g. "v0.3.1" or "abc1234").
func InitSentry(dsn, serviceName, release string) error {
	env := os.Getenv("STREAMHAVEN_ENV")
	if env == "" {
		env = "development"
	}

	if dsn == "" {
		// Sentry disabled — not an error. Log and continue.
		fmt.Fprintf(os.Stderr, "[telemetry] SENTRY_DSN not set — Sentry disabled for %s\n", serviceName)
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: env,
		Release:     release,

		// Sample 20% of transactions for performance monitoring.
		TracesSampleRate: 0.2,

		// Attach stack traces to all captured messages (not just panics).
		AttachStacktrace: true,

		// Default tags applied to every event from this service.
		Tags: map[string]string{
			"service": serviceName,
		},
	})
	if err != nil {
		return fmt.Errorf("sentry.Init: %w", err)
	}

	return nil
}

// CaptureError sends an error to Sentry with optional context tags.
// tags may include: staging_id, upload_id, slug, operation.
// Safe to call when Sentry is disabled (dsn was empty).
func CaptureError(err error, tags map[string]string) {
	if err == nil {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}

// Flush waits for buffered Sentry events to be sent. Call with defer in main():
//
//	defer telemetry.Flush()
func Flush() {
	sentry.Flush(2 * time.Second)
}

// PanicRecoveryMiddleware is an HTTP middleware that catches panics, reports them
// to Sentry with request context, and returns a 500 response.
func PanicRecoveryMiddleware(serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					hub := sentry.CurrentHub().Clone()
					hub.Scope().SetRequest(r)
					hub.Scope().SetTag("service", serviceName)
					hub.Scope().SetTag("panic", "true")

					var err error
					switch v := rec.(type) {
					case error:
						err = v
					default:
						err = fmt.Errorf("panic: %v", v)
					}
					hub.CaptureException(err)

					// Flush immediately so the event is sent before the response.
					hub.Flush(2 * time.Second)

					http.Error(w, "internal server error", http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
