// hearth/handlers/auth.go

package handlers

import (
	"database/sql"
	"net/http"

	"hearth/config"
	"hearth/models"
	"hearth/utils"
)

func validCredentials(username, password string) bool {
	return username != "" && len(username) <= config.MaxUsernameLen &&
		password != "" && len(password) <= config.MaxPasswordLen
}

// HandleRegister creates a plain user account. Open to anyone; rate limited
// by client IP alongside login.
func HandleRegister(w http.ResponseWriter, r *http.Request, app App) {
	if !app.RateLimiter().GetLimiter(utils.GetIPAddress(r)).Allow() {
		respondJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many attempts, slow down"}, app)
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, app, err)
		return
	}
	if !validCredentials(req.Username, req.Password) {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid username or password format"}, app)
		return
	}
	if err := app.Accounts().Register(req.Username, req.Password); err != nil {
		respondError(w, app, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"username": req.Username, "role": string(models.RoleUser)}, app)
}

// HandleLogin authenticates a username/password pair and issues a session
// cookie. Staff logins, successful or not, land in the audit trail as
// admin_login entries. Banned identities cannot log in.
func HandleLogin(w http.ResponseWriter, r *http.Request, app App) {
	if !app.RateLimiter().GetLimiter(utils.GetIPAddress(r)).Allow() {
		respondJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many attempts, slow down"}, app)
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, app, err)
		return
	}
	if !validCredentials(req.Username, req.Password) {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid username or password format"}, app)
		return
	}

	account, err := app.Accounts().Authenticate(req.Username, req.Password)
	if err != nil {
		// Failed staff logins are worth the audit entry; failures for
		// unknown or plain-user names are just noise.
		if role := app.Registry().ResolveRole(req.Username); role.Rank() >= models.RoleModerator.Rank() {
			app.Audit().Record(models.AuditEntry{
				Actor: req.Username, ActorRole: role,
				Action: models.ActionAdminLogin, Resource: "session",
				Result:       models.ResultFailure,
				ErrorMessage: sql.NullString{String: err.Error(), Valid: true},
			})
		}
		respondError(w, app, err)
		return
	}

	if app.Bans().IsBanned(account.Username) {
		if account.Role.Rank() >= models.RoleModerator.Rank() {
			app.Audit().Record(models.AuditEntry{
				Actor: account.Username, ActorRole: account.Role,
				Action: models.ActionAdminLogin, Resource: "session",
				Result:       models.ResultFailure,
				ErrorMessage: sql.NullString{String: "account is banned", Valid: true},
			})
		}
		respondJSON(w, http.StatusForbidden, map[string]string{"error": "account is banned"}, app)
		return
	}

	token := app.Sessions().Create(account.Username, account.Role)
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  utils.GetTime().Add(app.Sessions().TTL),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})

	if account.Role.Rank() >= models.RoleModerator.Rank() {
		app.Audit().Record(models.AuditEntry{
			Actor: account.Username, ActorRole: account.Role,
			Action: models.ActionAdminLogin, Resource: "session",
			Result: models.ResultSuccess,
		})
	}
	app.Logger().Info("Login", "username", account.Username, "role", account.Role)
	respondJSON(w, http.StatusOK, map[string]string{"username": account.Username, "role": string(account.Role)}, app)
}

// HandleLogout revokes the current session.
func HandleLogout(w http.ResponseWriter, r *http.Request, app App) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"}, app)
		return
	}
	actor, role := currentActor(r)
	app.Sessions().Revoke(cookie.Value)
	http.SetCookie(w, &http.Cookie{
		Name: SessionCookieName, Value: "", Path: "/", MaxAge: -1,
		HttpOnly: true, Secure: r.TLS != nil, SameSite: http.SameSiteLaxMode,
	})

	if actor != "" && role.Rank() >= models.RoleModerator.Rank() {
		app.Audit().Record(models.AuditEntry{
			Actor: actor, ActorRole: role,
			Action: models.ActionAdminLogout, Resource: "session",
			Result: models.ResultSuccess,
		})
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"}, app)
}
