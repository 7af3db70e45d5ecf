// hearth/handlers/router.go

package handlers

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func SetupRouter(app App) *chi.Mux {
	mux := chi.NewRouter()

	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(NewStructuredLogger(app.Logger()))
	mux.Use(middleware.Recoverer)
	mux.Use(SessionMiddleware(app))

	// Session endpoints
	mux.Post("/api/register", MakeHandler(app, HandleRegister))
	mux.Post("/api/login", MakeHandler(app, HandleLogin))
	mux.Post("/api/logout", MakeHandler(app, HandleLogout))

	// Public forum reads
	mux.Get("/api/boards", MakeHandler(app, HandleListBoards))
	mux.Get("/api/boards/{boardID}", MakeHandler(app, HandleGetBoard))
	mux.Get("/api/topics/{topicID}", MakeHandler(app, HandleGetTopic))
	mux.Get("/api/posts/{postID}", MakeHandler(app, HandleGetPost))

	// Content submission
	mux.Group(func(r chi.Router) {
		r.Use(RequireSession)
		r.Get("/api/whoami", MakeHandler(app, HandleWhoami))
		r.Post("/api/boards/{boardID}/topics", MakeHandler(app, HandleCreateTopic))
		r.Post("/api/topics/{topicID}/posts", MakeHandler(app, HandleReply))
		r.Post("/api/users/{username}/password", MakeHandler(app, HandleChangePassword))
	})

	// Staff and admin surface. Capability enforcement lives in the service
	// layer; the route group only requires a session.
	mux.Route("/api/admin", func(r chi.Router) {
		r.Use(RequireSession)

		r.Get("/overview", MakeHandler(app, HandleAdminOverview))

		r.Get("/users", MakeHandler(app, HandleListUsers))
		r.Post("/users", MakeHandler(app, HandleCreateStaff))
		r.Delete("/users/{username}", MakeHandler(app, HandleDeleteUser))
		r.Put("/users/{username}/role", MakeHandler(app, HandleChangeRole))

		r.Post("/posts/{postID}/hide", MakeHandler(app, HandleHidePost))
		r.Put("/posts/{postID}", MakeHandler(app, HandleEditPost))
		r.Delete("/posts/{postID}", MakeHandler(app, HandleDeletePost))
		r.Post("/topics/{topicID}/pin", MakeHandler(app, HandlePinTopic))
		r.Post("/topics/{topicID}/lock", MakeHandler(app, HandleLockTopic))
		r.Delete("/topics/{topicID}", MakeHandler(app, HandleDeleteTopic))
		r.Post("/users/{username}/warn", MakeHandler(app, HandleWarnUser))
		r.Get("/moderation/{kind}/{targetID}", MakeHandler(app, HandleModerationLog))

		r.Post("/users/{username}/ban", MakeHandler(app, HandleBan))
		r.Delete("/users/{username}/ban", MakeHandler(app, HandleUnban))
		r.Get("/users/{username}/ban", MakeHandler(app, HandleBanStatus))
		r.Get("/bans", MakeHandler(app, HandleBanList))

		r.Get("/audit", MakeHandler(app, HandleAuditQuery))
		r.Get("/audit/summary", MakeHandler(app, HandleAuditSummary))
		r.Delete("/audit", MakeHandler(app, HandleAuditClear))
		r.Post("/audit/export", MakeHandler(app, HandleAuditExport))

		r.Post("/boards", MakeHandler(app, HandleCreateBoard))
		r.Delete("/boards/{boardID}", MakeHandler(app, HandleDeleteBoard))
		r.Put("/boards/{boardID}", MakeHandler(app, HandleUpdateBoard))

		r.Post("/backup", MakeHandler(app, HandleDatabaseBackup))
	})

	return mux
}
