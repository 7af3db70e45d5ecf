// hearth/handlers/middleware.go

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"hearth/models"
	"hearth/utils"

	"github.com/go-chi/chi/v5/middleware"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

const (
	ActorKey     ContextKey = "actor"
	ActorRoleKey ContextKey = "actorRole"

	SessionCookieName = "hearth_session"
)

// SessionMiddleware resolves the session cookie, if any, into the actor
// username and role. Requests without a valid session proceed anonymously
// as plain users; individual operations enforce their own capabilities.
func SessionMiddleware(app App) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err == nil && cookie.Value != "" {
				if username, role, ok := app.Sessions().Lookup(cookie.Value); ok {
					ctx := context.WithValue(r.Context(), ActorKey, username)
					ctx = context.WithValue(ctx, ActorRoleKey, role)
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSession rejects requests that did not resolve to an account.
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Context().Value(ActorKey).(string); !ok {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// currentActor returns the session identity, or ("", RoleUser) for
// anonymous requests.
func currentActor(r *http.Request) (string, models.Role) {
	actor, _ := r.Context().Value(ActorKey).(string)
	role, ok := r.Context().Value(ActorRoleKey).(models.Role)
	if !ok {
		role = models.RoleUser
	}
	return actor, role
}

// viewerRole is the role used to decide whether hidden content is masked.
func viewerRole(r *http.Request) models.Role {
	_, role := currentActor(r)
	return role
}

// NewStructuredLogger returns a chi middleware that logs each request
// through slog with the request id attached.
func NewStructuredLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("Request served",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration_ms", time.Since(start).Milliseconds(),
					"ip", utils.GetIPAddress(r),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
