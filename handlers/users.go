// hearth/handlers/users.go

package handlers

import (
	"errors"
	"net/http"

	"hearth/auth"
	"hearth/models"

	"github.com/go-chi/chi/v5"
)

type userView struct {
	Username  string      `json:"username"`
	Role      models.Role `json:"role"`
	CreatedAt string      `json:"created_at"`
}

// HandleListUsers returns every account, highest role first. Read-only, so
// it is capability-checked but produces no audit entry.
func HandleListUsers(w http.ResponseWriter, r *http.Request, app App) {
	actor, actorRole := currentActor(r)
	if _, err := app.Registry().Require(actor, actorRole, auth.CapViewUserList); err != nil {
		respondError(w, app, err)
		return
	}

	list, err := app.DB().ListAccounts()
	if err != nil {
		app.Logger().Error("Failed to list accounts", "error", err)
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"}, app)
		return
	}
	views := make([]userView, 0, len(list))
	for _, a := range list {
		views = append(views, userView{Username: a.Username, Role: a.Role, CreatedAt: a.CreatedAt.Format("2006-01-02 15:04:05")})
	}
	respondJSON(w, http.StatusOK, views, app)
}

// HandleCreateStaff creates a moderator or admin account.
func HandleCreateStaff(w http.ResponseWriter, r *http.Request, app App) {
	actor, actorRole := currentActor(r)

	var req struct {
		Username string      `json:"username"`
		Password string      `json:"password"`
		Role     models.Role `json:"role"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, app, err)
		return
	}
	if !validCredentials(req.Username, req.Password) {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid username or password format"}, app)
		return
	}
	if req.Role != models.RoleModerator && req.Role != models.RoleAdmin {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "role must be moderator or admin"}, app)
		return
	}

	if err := app.Accounts().CreateStaff(actor, actorRole, req.Username, req.Password, req.Role); err != nil {
		respondError(w, app, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"username": req.Username, "role": string(req.Role)}, app)
}

// HandleDeleteUser removes an account and revokes its sessions.
func HandleDeleteUser(w http.ResponseWriter, r *http.Request, app App) {
	actor, actorRole := currentActor(r)
	target := chi.URLParam(r, "username")
	if target == "" {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "missing username"}, app)
		return
	}

	if err := app.Accounts().DeleteAccount(actor, actorRole, target); err != nil {
		respondError(w, app, err)
		return
	}
	app.Sessions().RevokeUser(target)
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"}, app)
}

// HandleChangeRole changes an account's role. Existing sessions for the
// target are revoked so the old role cannot linger in a live session.
func HandleChangeRole(w http.ResponseWriter, r *http.Request, app App) {
	actor, actorRole := currentActor(r)
	target := chi.URLParam(r, "username")

	var req struct {
		Role models.Role `json:"role"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, app, err)
		return
	}
	if !req.Role.Valid() {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown role"}, app)
		return
	}

	if err := app.Accounts().ChangeRole(actor, actorRole, target, req.Role); err != nil {
		respondError(w, app, err)
		return
	}
	app.Sessions().RevokeUser(target)
	respondJSON(w, http.StatusOK, map[string]string{"username": target, "role": string(req.Role)}, app)
}

// HandleChangePassword sets a new password for an account. Users may change
// their own; changing another account's password is an admin operation.
func HandleChangePassword(w http.ResponseWriter, r *http.Request, app App) {
	actor, actorRole := currentActor(r)
	target := chi.URLParam(r, "username")

	var req struct {
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, app, err)
		return
	}
	if !validCredentials(target, req.Password) {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid username or password format"}, app)
		return
	}

	if err := app.Accounts().ChangePassword(actor, actorRole, target, req.Password); err != nil {
		respondError(w, app, err)
		return
	}
	// Old sessions die with the old password.
	app.Sessions().RevokeUser(target)
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"}, app)
}

// HandleAdminOverview is the staff panel landing view: store-wide counts.
// Read-only, so it is capability-checked but produces no audit entry.
func HandleAdminOverview(w http.ResponseWriter, r *http.Request, app App) {
	actor, actorRole := currentActor(r)
	if _, err := app.Registry().Require(actor, actorRole, auth.CapViewAdminPanel); err != nil {
		respondError(w, app, err)
		return
	}

	stats, err := app.DB().GetStats()
	if err != nil {
		app.Logger().Error("Failed to collect overview stats", "error", err)
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"}, app)
		return
	}
	respondJSON(w, http.StatusOK, stats, app)
}

// HandleWhoami reports the session's identity and effective capabilities.
func HandleWhoami(w http.ResponseWriter, r *http.Request, app App) {
	actor, role := currentActor(r)
	if actor == "" {
		respondError(w, app, errors.New("no active session"))
		return
	}
	caps := []auth.Capability{}
	for _, c := range auth.AllCapabilities() {
		if d, err := app.Registry().Check(actor, role, c); err == nil && d.Allowed {
			caps = append(caps, c)
		}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"username":     actor,
		"role":         role,
		"capabilities": caps,
	}, app)
}
