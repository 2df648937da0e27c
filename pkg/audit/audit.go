// audit.go — Audit trail for StreamHaven operator actions.
//
// Every administrative action that changes staging state is written to the
// audit_log table via LogAction: intake completions, drain triggers, purges,
// reconciliations, readiness syncs.
//
// Actor types: "admin" | "system"
// Action naming convention: "{resource}.{verb}"
//   e.g. "staging.purge", "staging.process", "published.sync"
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

// LogAction inserts a row into the audit_log table.
//
// On error the failure is logged by the caller but NOT propagated — audit
// writes are best-effort and must never cause a user-visible error.
func LogAction(
	ctx context.Context,
	db *sql.DB,
	actorType, actorID, action, resourceType, resourceID string,
	details map[string]interface{},
) error {
	if db == nil {
		// No database wired means auditing is disabled, not an error.
		return nil
	}

	detailsJSON, err := json.Marshal(details)
	if err != nil {
		detailsJSON = []byte("{}")
	}

	var actorUUID, resourceUUID *uuid.UUID

	if actorID != "" {
		if id, parseErr := uuid.Parse(actorID); parseErr == nil {
			actorUUID = &id
		}
	}
	if resourceID != "" {
		if id, parseErr := uuid.Parse(resourceID); parseErr == nil {
			resourceUUID = &id
		}
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO audit_log (
			actor_type, actor_id, action,
			resource_type, resource_id, details
		) VALUES ($1, $2, $3, $4, $5, $6)`,
		actorType, actorUUID, action,
		resourceType, resourceUUID, string(detailsJSON),
	)
	return err
}

// LogActionWithRequest is a convenience wrapper that also captures the
// request's IP address and User-Agent.
func LogActionWithRequest(
	r *http.Request,
	db *sql.DB,
	actorType, actorID, action, resourceType, resourceID string,
	details map[string]interface{},
) error {
	if db == nil {
		return nil
	}

	detailsJSON, err := json.Marshal(details)
	if err != nil {
		detailsJSON = []byte("{}")
	}

	var actorUUID, resourceUUID *uuid.UUID

	if actorID != "" {
		if id, parseErr := uuid.Parse(actorID); parseErr == nil {
			actorUUID = &id
		}
	}
	if resourceID != "" {
		if id, parseErr := uuid.Parse(resourceID); parseErr == nil {
			resourceUUID = &id
		}
	}

	// Real IP: X-Forwarded-For first (set by the fronting proxy), then RemoteAddr.
	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		ip = r.RemoteAddr
	}
	ua := r.Header.Get("User-Agent")

	_, err = db.ExecContext(r.Context(), `
		INSERT INTO audit_log (
			actor_type, actor_id, action,
			resource_type, resource_id, details,
			ip_address, user_agent
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		actorType, actorUUID, action,
		resourceType, resourceUUID, string(detailsJSON),
		ip, ua,
	)
	return err
}
