// routes.go — Route registration for the staging service.
//
// Admin routes (require admin JWT):
//   POST   /admin/staging/upload         — whole-file intake (multipart)
//   POST   /admin/staging/upload/chunk   — chunked intake (multipart, metadata on chunk 0)
//   GET    /admin/staging                — list staging items
//   GET    /admin/staging/{id}/download  — stream a staged file back
//   DELETE /admin/staging/{id}           — delete one item (row + blob)
//   POST   /admin/staging/process        — trigger a publish run (409 while running)
//   GET    /admin/staging/progress       — run + upload state snapshot
//   POST   /admin/staging/purge          — abort sessions, delete all items
//   POST   /admin/staging/reconcile      — reset stranded uploading rows to pending
//   GET    /admin/published              — list published records
//   POST   /admin/published/sync         — poll host readiness for not-ready records
//
// Public:
//   GET /health
//   GET /metrics
package staging

import (
	"net/http"

	"github.com/adrian-purnama/streamhaven-be/internal/auth"
	"github.com/adrian-purnama/streamhaven-be/internal/metrics"
	"github.com/adrian-purnama/streamhaven-be/pkg/telemetry"
)

// Routes builds the service handler with middleware applied.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	admin := func(h http.HandlerFunc) http.Handler {
		return auth.RequireAdmin(h)
	}

	mux.Handle("POST /admin/staging/upload", admin(s.handleUploadFile))
	mux.Handle("POST /admin/staging/upload/chunk", admin(s.handleUploadChunk))
	mux.Handle("GET /admin/staging", admin(s.handleListStaging))
	mux.Handle("GET /admin/staging/{id}/download", admin(s.handleDownload))
	mux.Handle("DELETE /admin/staging/{id}", admin(s.handleDeleteStaging))
	mux.Handle("POST /admin/staging/process", admin(s.handleProcess))
	mux.Handle("GET /admin/staging/progress", admin(s.handleProgress))
	mux.Handle("POST /admin/staging/purge", admin(s.handlePurge))
	mux.Handle("POST /admin/staging/reconcile", admin(s.handleReconcile))
	mux.Handle("GET /admin/published", admin(s.handleListPublished))
	mux.Handle("POST /admin/published/sync", admin(s.handleSyncPublished))

	recovery := telemetry.PanicRecoveryMiddleware("streamhaven-staging")
	return recovery(metrics.Middleware(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "streamhaven-staging",
	})
}
