// hearth/handlers/handlers.go

package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"hearth/accounts"
	"hearth/audit"
	"hearth/auth"
	"hearth/database"
	"hearth/migrate"
	"hearth/models"
	"hearth/moderation"
	"hearth/utils"

	"github.com/go-chi/chi/v5"
)

// App is an interface that defines the dependencies our handlers need.
type App interface {
	DB() *database.DatabaseService
	Registry() *auth.Registry
	Audit() *audit.Recorder
	Accounts() *accounts.Manager
	Moderation() *moderation.Engine
	Bans() *moderation.BanManager
	Migrator() *migrate.Migrator
	Sessions() *models.SessionStore
	RateLimiter() *models.RateLimiter
	Storage() utils.StorageService
	Logger() *slog.Logger
}

// respondJSON sends a JSON response with a given status code.
func respondJSON(w http.ResponseWriter, status int, payload interface{}, app App) {
	response, err := json.Marshal(payload)
	if err != nil {
		app.Logger().Error("Failed to marshal JSON payload", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		if _, werr := w.Write([]byte(`{"error":"Failed to marshal JSON response"}`)); werr != nil {
			app.Logger().Error("Failed to write internal server error response", "error", werr)
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(response); err != nil {
		app.Logger().Error("Failed to write JSON response", "error", err)
	}
}

// respondError maps a service error onto a status code and JSON body.
// Permission denials always come back as the same generic message so the
// response leaks nothing about which check failed.
func respondError(w http.ResponseWriter, app App, err error) {
	switch {
	case errors.Is(err, auth.ErrDenied):
		respondJSON(w, http.StatusForbidden, map[string]string{"error": "access denied"}, app)
	case errors.Is(err, auth.ErrUnknownCapability):
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"}, app)
	case errors.Is(err, database.ErrLastAdmin):
		respondJSON(w, http.StatusConflict, map[string]string{"error": err.Error()}, app)
	case errors.Is(err, database.ErrAccountExists):
		respondJSON(w, http.StatusConflict, map[string]string{"error": err.Error()}, app)
	case errors.Is(err, accounts.ErrBadCredentials):
		respondJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()}, app)
	default:
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()}, app)
	}
}

// decodeJSON reads a small JSON request body into dst. An empty body is
// fine; dst keeps its zero values.
func decodeJSON(r *http.Request, dst interface{}) error {
	defer func() {
		_ = r.Body.Close()
	}()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 64*1024))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return errors.New("invalid request body")
	}
	return nil
}

func toNullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// pathID parses a numeric {param} from the URL.
func pathID(r *http.Request, param string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid " + param)
	}
	return id, nil
}

// MakeHandler adapts an App-aware handler to http.HandlerFunc.
func MakeHandler(app App, fn func(http.ResponseWriter, *http.Request, App)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fn(w, r, app)
	}
}
