// hearth/handlers/auditlog.go

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"hearth/audit"
	"hearth/auth"
	"hearth/models"
	"hearth/utils"
)

type auditEntryView struct {
	ID         int64              `json:"id"`
	Timestamp  string             `json:"timestamp"`
	Actor      string             `json:"actor"`
	ActorRole  models.Role        `json:"actor_role"`
	Action     models.AuditAction `json:"action"`
	Resource   string             `json:"resource"`
	ResourceID string             `json:"resource_id,omitempty"`
	Details    string             `json:"details,omitempty"`
	Result     models.AuditResult `json:"result"`
	Error      string             `json:"error,omitempty"`
}

func toAuditView(e models.AuditEntry) auditEntryView {
	v := auditEntryView{
		ID:        e.ID,
		Timestamp: e.Timestamp.Format(time.RFC3339),
		Actor:     e.Actor,
		ActorRole: e.ActorRole,
		Action:    e.Action,
		Resource:  e.Resource,
		Details:   e.Details,
		Result:    e.Result,
	}
	if e.ResourceID.Valid {
		v.ResourceID = e.ResourceID.String
	}
	if e.ErrorMessage.Valid {
		v.Error = e.ErrorMessage.String
	}
	return v
}

// parseAuditFilters builds query filters from URL parameters. Unknown or
// malformed values are simply ignored rather than rejected.
func parseAuditFilters(r *http.Request) audit.Filters {
	q := r.URL.Query()
	f := audit.Filters{
		ActorSubstring:    q.Get("actor"),
		ResourceSubstring: q.Get("resource"),
	}
	if a := models.AuditAction(q.Get("action")); a.Valid() {
		f.Action = a
	}
	switch models.AuditResult(q.Get("result")) {
	case models.ResultSuccess:
		f.Result = models.ResultSuccess
	case models.ResultFailure:
		f.Result = models.ResultFailure
	case models.ResultPartial:
		f.Result = models.ResultPartial
	}
	if t, err := time.Parse(time.RFC3339, q.Get("from")); err == nil {
		f.From = t
	}
	if t, err := time.Parse(time.RFC3339, q.Get("to")); err == nil {
		f.To = t
	}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		f.Limit = n
	}
	return f
}

// HandleAuditQuery returns matching audit entries, newest first. Viewing
// the trail is itself an audited action.
func HandleAuditQuery(w http.ResponseWriter, r *http.Request, app App) {
	actor, actorRole := currentActor(r)
	role, err := app.Registry().Require(actor, actorRole, auth.CapViewAuditLogs)
	if err != nil {
		respondError(w, app, err)
		return
	}

	entries, err := app.Audit().Query(parseAuditFilters(r))
	if err != nil {
		app.Logger().Error("Audit query failed", "error", err)
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"}, app)
		return
	}

	app.Audit().Record(models.AuditEntry{
		Actor: actor, ActorRole: role,
		Action: models.ActionAuditLogViewed, Resource: "audit_log",
		Details: fmt.Sprintf("%d entries returned", len(entries)),
		Result:  models.ResultSuccess,
	})

	views := make([]auditEntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, toAuditView(e))
	}
	respondJSON(w, http.StatusOK, views, app)
}

// HandleAuditSummary returns aggregate statistics over an optional range.
func HandleAuditSummary(w http.ResponseWriter, r *http.Request, app App) {
	actor, actorRole := currentActor(r)
	role, err := app.Registry().Require(actor, actorRole, auth.CapViewAuditLogs)
	if err != nil {
		respondError(w, app, err)
		return
	}

	f := parseAuditFilters(r)
	summary, err := app.Audit().Summarize(f.From, f.To)
	if err != nil {
		app.Logger().Error("Audit summary failed", "error", err)
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"}, app)
		return
	}

	app.Audit().Record(models.AuditEntry{
		Actor: actor, ActorRole: role,
		Action: models.ActionAuditLogViewed, Resource: "audit_log",
		Details: "summary", Result: models.ResultSuccess,
	})

	recent := make([]auditEntryView, 0, len(summary.MostRecent))
	for _, e := range summary.MostRecent {
		recent = append(recent, toAuditView(e))
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"total_actions":        summary.TotalActions,
		"counts_by_type":       summary.CountsByType,
		"counts_by_actor":      summary.CountsByActor,
		"success_rate_percent": summary.SuccessRatePercent,
		"most_recent":          recent,
	}, app)
}

// HandleAuditClear wipes the audit trail, leaving one entry documenting the
// wipe itself.
func HandleAuditClear(w http.ResponseWriter, r *http.Request, app App) {
	actor, actorRole := currentActor(r)
	removed, err := app.Audit().Clear(actor, actorRole)
	if err != nil {
		respondError(w, app, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"status": "cleared", "removed": removed}, app)
}

// HandleAuditExport serializes the full trail and ships it to the
// configured storage backend.
func HandleAuditExport(w http.ResponseWriter, r *http.Request, app App) {
	actor, actorRole := currentActor(r)
	role, err := app.Registry().Require(actor, actorRole, auth.CapManageSystemSettings)
	if err != nil {
		app.Audit().Record(models.AuditEntry{
			Actor: actor, ActorRole: role,
			Action: models.ActionDataExported, Resource: "audit_log",
			Result:       models.ResultFailure,
			ErrorMessage: toNullString(err.Error()),
		})
		respondError(w, app, err)
		return
	}

	entries, err := app.Audit().Query(audit.Filters{})
	if err != nil {
		app.Logger().Error("Audit export query failed", "error", err)
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"}, app)
		return
	}
	views := make([]auditEntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, toAuditView(e))
	}
	data, err := json.MarshalIndent(views, "", "  ")
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"}, app)
		return
	}

	name := fmt.Sprintf("audit-export-%s.json", utils.GetTime().UTC().Format("20060102-150405"))
	location, err := app.Storage().Save(r.Context(), name, data, "application/json")
	if err != nil {
		app.Logger().Error("Audit export upload failed", "error", err)
		app.Audit().Record(models.AuditEntry{
			Actor: actor, ActorRole: role,
			Action: models.ActionDataExported, Resource: "audit_log",
			Result:       models.ResultFailure,
			ErrorMessage: toNullString(err.Error()),
		})
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "export failed"}, app)
		return
	}

	app.Audit().Record(models.AuditEntry{
		Actor: actor, ActorRole: role,
		Action: models.ActionDataExported, Resource: "audit_log",
		Details: fmt.Sprintf("%d entries to %s", len(views), location),
		Result:  models.ResultSuccess,
	})
	respondJSON(w, http.StatusOK, map[string]interface{}{"status": "exported", "location": location, "entries": len(views)}, app)
}
