// handlers_admin.go — Admin HTTP handlers: queue inspection, publish run
// control, purge/reconcile maintenance and published record views.
package staging

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/adrian-purnama/streamhaven-be/internal/auth"
	"github.com/adrian-purnama/streamhaven-be/internal/validate"
	"github.com/adrian-purnama/streamhaven-be/pkg/audit"
)

// handleListStaging handles GET /admin/staging.
// Query: status (repeatable), limit, skip.
func (s *Server) handleListStaging(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var statuses []Status
	for _, raw := range q["status"] {
		st := Status(raw)
		if !st.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_status", fmt.Sprintf("unknown status %q", raw))
			return
		}
		statuses = append(statuses, st)
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	skip, _ := strconv.Atoi(q.Get("skip"))

	items, total, err := s.ledger.List(r.Context(), ListParams{
		Statuses: statuses,
		Limit:    limit,
		Skip:     skip,
	})
	if err != nil {
		s.log.Error("staging list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "could not list staging items")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"total": total,
	})
}

// handleDownload handles GET /admin/staging/{id}/download.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := validate.UUID("id", id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}

	rc, contentType, filename, err := s.ledger.OpenRead(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "staging item not found")
			return
		}
		s.log.Error("staging download failed", "staging_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "download_failed", "could not open staged file")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if _, err := io.Copy(w, rc); err != nil {
		// Headers are gone; the client sees a truncated body.
		s.log.Warn("staging download interrupted", "staging_id", id, "error", err)
	}
}

// handleDeleteStaging handles DELETE /admin/staging/{id}. Idempotent.
func (s *Server) handleDeleteStaging(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := validate.UUID("id", id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}

	if err := s.ledger.Delete(r.Context(), id); err != nil {
		s.log.Error("staging delete failed", "staging_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "delete_failed", "could not delete staging item")
		return
	}

	s.auditAction(r, "staging.delete", "staging_item", id, nil)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

// handleProcess handles POST /admin/staging/process: triggers a drain run.
// The run executes synchronously inside this request; clients poll
// /admin/staging/progress from another connection for live state.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	if ok, retry := s.limiter.CheckProcessTrigger(r.Context(), clientIP(r)); !ok {
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many run triggers, slow down")
		return
	}

	summary, err := s.controller.Drain(r.Context())
	if err != nil {
		if errors.Is(err, ErrRunActive) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":   "run_active",
				"message": "a publish run is already in progress",
				"state":   s.runs.State(),
			})
			return
		}
		s.log.Error("publish run failed to start", "error", err)
		writeError(w, http.StatusInternalServerError, "run_failed", "could not start publish run")
		return
	}

	s.auditAction(r, "staging.process", "publish_run", "", map[string]interface{}{
		"processed":    summary.Processed,
		"failed":       summary.Failed,
		"quotaStopped": summary.QuotaStopped,
	})
	writeJSON(w, http.StatusOK, summary)
}

// handleProgress handles GET /admin/staging/progress. Never errors; always
// returns the last known state of both trackers.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"run":    s.runs.State(),
		"upload": s.uploads.State(),
	})
}

// handlePurge handles POST /admin/staging/purge: aborts in-flight assembly
// sessions, clears upload state, deletes every staging item and blob, and
// sweeps orphaned temp artifacts.
func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	aborted := s.assembler.Purge()

	deleted, err := s.ledger.DeleteAll(r.Context())
	if err != nil {
		s.log.Error("purge failed", "deleted_before_error", deleted, "error", err)
		writeError(w, http.StatusInternalServerError, "purge_failed",
			fmt.Sprintf("purge stopped after %d items", deleted))
		return
	}

	s.auditAction(r, "staging.purge", "staging_item", "", map[string]interface{}{
		"sessionsAborted": aborted,
		"itemsDeleted":    deleted,
	})
	s.log.Info("staging purged", "sessions_aborted", aborted, "items_deleted", deleted)
	writeJSON(w, http.StatusOK, map[string]int{
		"sessionsAborted": aborted,
		"itemsDeleted":    deleted,
	})
}

// handleReconcile handles POST /admin/staging/reconcile: returns rows
// stranded in uploading by a crashed run to pending. Refused while a run is
// active, because that run legitimately owns its uploading rows.
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if s.runs.State().IsRunning {
		writeError(w, http.StatusConflict, "run_active", "cannot reconcile while a publish run is in progress")
		return
	}

	n, err := s.ledger.ResetStaleUploading(r.Context())
	if err != nil {
		s.log.Error("reconcile failed", "error", err)
		writeError(w, http.StatusInternalServerError, "reconcile_failed", "could not reset stranded items")
		return
	}

	s.auditAction(r, "staging.reconcile", "staging_item", "", map[string]interface{}{
		"itemsReset": n,
	})
	writeJSON(w, http.StatusOK, map[string]int64{"itemsReset": n})
}

// handleListPublished handles GET /admin/published.
func (s *Server) handleListPublished(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	skip, _ := strconv.Atoi(r.URL.Query().Get("skip"))

	recs, total, err := s.published.List(r.Context(), limit, skip)
	if err != nil {
		s.log.Error("published list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "could not list published records")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"records": recs,
		"total":   total,
	})
}

// handleSyncPublished handles POST /admin/published/sync.
func (s *Server) handleSyncPublished(w http.ResponseWriter, r *http.Request) {
	checked, flipped, err := s.published.SyncReadiness(r.Context(), s.host, s.log)
	if err != nil {
		s.log.Error("readiness sync failed", "error", err)
		writeError(w, http.StatusInternalServerError, "sync_failed", "could not sync readiness")
		return
	}

	s.auditAction(r, "published.sync", "published_record", "", map[string]interface{}{
		"checked": checked,
		"flipped": flipped,
	})
	writeJSON(w, http.StatusOK, map[string]int{"checked": checked, "flipped": flipped})
}

// auditAction writes a best-effort audit row for the authenticated admin.
func (s *Server) auditAction(r *http.Request, action, resourceType, resourceID string, details map[string]interface{}) {
	actorID := ""
	if claims := auth.ClaimsFromContext(r.Context()); claims != nil {
		actorID = claims.Subject
	}
	if err := audit.LogActionWithRequest(r, s.db, "admin", actorID, action, resourceType, resourceID, details); err != nil {
		s.log.Warn("audit write failed", "action", action, "error", err)
	}
}
