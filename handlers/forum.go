// hearth/handlers/forum.go

package handlers

import (
	"database/sql"
	"fmt"
	"net/http"
	"regexp"

	"hearth/auth"
	"hearth/config"
	"hearth/models"
	"hearth/utils"

	"github.com/go-chi/chi/v5"
)

var boardIDPattern = regexp.MustCompile(`^[a-z0-9-]{1,32}$`)

// HandleListBoards returns every board with its counters.
func HandleListBoards(w http.ResponseWriter, r *http.Request, app App) {
	boards, err := app.DB().ListBoards()
	if err != nil {
		app.Logger().Error("Failed to list boards", "error", err)
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"}, app)
		return
	}
	respondJSON(w, http.StatusOK, boards, app)
}

// HandleGetBoard returns one board and its topics, pinned first.
func HandleGetBoard(w http.ResponseWriter, r *http.Request, app App) {
	boardID := chi.URLParam(r, "boardID")
	board, err := app.DB().GetBoard(boardID)
	if err != nil {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()}, app)
		return
	}
	topics, err := app.DB().GetTopicsForBoard(boardID)
	if err != nil {
		app.Logger().Error("Failed to list topics", "board", boardID, "error", err)
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"}, app)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"board": board, "topics": topics}, app)
}

// HandleGetTopic returns a topic with its posts, hidden content masked for
// non-moderator viewers.
func HandleGetTopic(w http.ResponseWriter, r *http.Request, app App) {
	topicID, err := pathID(r, "topicID")
	if err != nil {
		respondError(w, app, err)
		return
	}
	topic, err := app.DB().GetTopic(topicID, viewerRole(r))
	if err != nil {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()}, app)
		return
	}
	respondJSON(w, http.StatusOK, topic, app)
}

// HandleGetPost returns a single post, masked for the viewer.
func HandleGetPost(w http.ResponseWriter, r *http.Request, app App) {
	postID, err := pathID(r, "postID")
	if err != nil {
		respondError(w, app, err)
		return
	}
	post, err := app.DB().GetPost(postID, viewerRole(r))
	if err != nil {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()}, app)
		return
	}
	respondJSON(w, http.StatusOK, post, app)
}

// HandleCreateTopic opens a new topic with its first post. Requires a
// session; banned identities cannot submit content.
func HandleCreateTopic(w http.ResponseWriter, r *http.Request, app App) {
	actor, _ := currentActor(r)
	boardID := chi.URLParam(r, "boardID")

	if app.Bans().IsBanned(actor) {
		respondJSON(w, http.StatusForbidden, map[string]string{"error": "account is banned"}, app)
		return
	}

	var req struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, app, err)
		return
	}
	if req.Title == "" || len(req.Title) > config.MaxTopicTitle {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid title length"}, app)
		return
	}
	if req.Content == "" || len(req.Content) > config.MaxPostLen {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid content length"}, app)
		return
	}
	if _, err := app.DB().GetBoard(boardID); err != nil {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()}, app)
		return
	}

	tx, err := app.DB().DB.Begin()
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"}, app)
		return
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && rerr != sql.ErrTxDone {
			app.Logger().Error("Failed to rollback topic creation", "error", rerr)
		}
	}()

	topicID, postID, err := app.DB().CreateTopicTx(tx, boardID, req.Title, actor, req.Content, utils.GetSQLTime(), nil)
	if err != nil {
		respondError(w, app, err)
		return
	}
	if err := tx.Commit(); err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"}, app)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{"topic_id": topicID, "post_id": postID}, app)
}

// HandleReply appends a post to a topic. Locked topics accept replies only
// from moderators and admins.
func HandleReply(w http.ResponseWriter, r *http.Request, app App) {
	actor, actorRole := currentActor(r)
	topicID, err := pathID(r, "topicID")
	if err != nil {
		respondError(w, app, err)
		return
	}

	if app.Bans().IsBanned(actor) {
		respondJSON(w, http.StatusForbidden, map[string]string{"error": "account is banned"}, app)
		return
	}

	var req struct {
		Content string `json:"content"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, app, err)
		return
	}
	if req.Content == "" || len(req.Content) > config.MaxPostLen {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid content length"}, app)
		return
	}

	topic, err := app.DB().GetTopic(topicID, actorRole)
	if err != nil {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()}, app)
		return
	}
	if topic.Locked && actorRole.Rank() < models.RoleModerator.Rank() {
		respondJSON(w, http.StatusForbidden, map[string]string{"error": "topic is locked"}, app)
		return
	}

	tx, err := app.DB().DB.Begin()
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"}, app)
		return
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && rerr != sql.ErrTxDone {
			app.Logger().Error("Failed to rollback reply", "error", rerr)
		}
	}()

	postID, err := app.DB().AddPostTx(tx, topicID, topic.BoardID, actor, req.Content, utils.GetSQLTime(), nil)
	if err != nil {
		respondError(w, app, err)
		return
	}
	if err := tx.Commit(); err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"}, app)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{"post_id": postID}, app)
}

// HandleCreateBoard creates a board. Admin only; audited in the same
// transaction as the insert.
func HandleCreateBoard(w http.ResponseWriter, r *http.Request, app App) {
	actor, actorRole := currentActor(r)

	var req struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description"`
		SortOrder   int    `json:"sort_order"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, app, err)
		return
	}
	if !boardIDPattern.MatchString(req.ID) || req.Name == "" {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid board id or name"}, app)
		return
	}

	role, err := app.Registry().Require(actor, actorRole, auth.CapCreateForums)
	if err != nil {
		app.Audit().Record(models.AuditEntry{
			Actor: actor, ActorRole: role,
			Action: models.ActionForumCreated, Resource: "board",
			ResourceID: toNullString(req.ID), Result: models.ResultFailure,
			ErrorMessage: toNullString(err.Error()),
		})
		respondError(w, app, err)
		return
	}

	tx, err := app.DB().DB.Begin()
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"}, app)
		return
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && rerr != sql.ErrTxDone {
			app.Logger().Error("Failed to rollback board creation", "error", rerr)
		}
	}()

	if err := app.DB().CreateBoardTx(tx, req.ID, req.Name, req.Description, req.SortOrder); err != nil {
		respondError(w, app, err)
		return
	}
	if err := app.Audit().RecordTx(tx, models.AuditEntry{
		Actor: actor, ActorRole: role,
		Action: models.ActionForumCreated, Resource: "board",
		ResourceID: toNullString(req.ID),
		Details:    fmt.Sprintf("name: %s", req.Name),
		Result:     models.ResultSuccess,
	}); err != nil {
		respondError(w, app, err)
		return
	}
	if err := tx.Commit(); err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"}, app)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"id": req.ID, "name": req.Name}, app)
}

// HandleDeleteBoard removes a board and everything on it. Admin only.
func HandleDeleteBoard(w http.ResponseWriter, r *http.Request, app App) {
	actor, actorRole := currentActor(r)
	boardID := chi.URLParam(r, "boardID")

	role, err := app.Registry().Require(actor, actorRole, auth.CapDeleteForums)
	if err != nil {
		app.Audit().Record(models.AuditEntry{
			Actor: actor, ActorRole: role,
			Action: models.ActionForumDeleted, Resource: "board",
			ResourceID: toNullString(boardID), Result: models.ResultFailure,
			ErrorMessage: toNullString(err.Error()),
		})
		respondError(w, app, err)
		return
	}

	tx, err := app.DB().DB.Begin()
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"}, app)
		return
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && rerr != sql.ErrTxDone {
			app.Logger().Error("Failed to rollback board deletion", "error", rerr)
		}
	}()

	if err := app.DB().DeleteBoardTx(tx, boardID); err != nil {
		respondError(w, app, err)
		return
	}
	if err := app.Audit().RecordTx(tx, models.AuditEntry{
		Actor: actor, ActorRole: role,
		Action: models.ActionForumDeleted, Resource: "board",
		ResourceID: toNullString(boardID),
		Result:     models.ResultSuccess,
	}); err != nil {
		respondError(w, app, err)
		return
	}
	if err := tx.Commit(); err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"}, app)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"}, app)
}

// HandleUpdateBoard updates a board's name and description. Admin only.
func HandleUpdateBoard(w http.ResponseWriter, r *http.Request, app App) {
	actor, actorRole := currentActor(r)
	boardID := chi.URLParam(r, "boardID")

	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, app, err)
		return
	}
	if req.Name == "" {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"}, app)
		return
	}

	role, err := app.Registry().Require(actor, actorRole, auth.CapManageForumSettings)
	if err != nil {
		app.Audit().Record(models.AuditEntry{
			Actor: actor, ActorRole: role,
			Action: models.ActionForumSettingsChanged, Resource: "board",
			ResourceID: toNullString(boardID), Result: models.ResultFailure,
			ErrorMessage: toNullString(err.Error()),
		})
		respondError(w, app, err)
		return
	}

	tx, err := app.DB().DB.Begin()
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"}, app)
		return
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && rerr != sql.ErrTxDone {
			app.Logger().Error("Failed to rollback board update", "error", rerr)
		}
	}()

	if err := app.DB().UpdateBoardSettingsTx(tx, boardID, req.Name, req.Description, actor); err != nil {
		respondError(w, app, err)
		return
	}
	if err := app.Audit().RecordTx(tx, models.AuditEntry{
		Actor: actor, ActorRole: role,
		Action: models.ActionForumSettingsChanged, Resource: "board",
		ResourceID: toNullString(boardID),
		Details:    fmt.Sprintf("name: %s", req.Name),
		Result:     models.ResultSuccess,
	}); err != nil {
		respondError(w, app, err)
		return
	}
	if err := tx.Commit(); err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"}, app)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"}, app)
}

// HandleDatabaseBackup snapshots the live database. Admin only.
func HandleDatabaseBackup(w http.ResponseWriter, r *http.Request, app App) {
	actor, actorRole := currentActor(r)
	role, err := app.Registry().Require(actor, actorRole, auth.CapManageSystemSettings)
	if err != nil {
		app.Audit().Record(models.AuditEntry{
			Actor: actor, ActorRole: role,
			Action: models.ActionBackupCreated, Resource: "database",
			Result:       models.ResultFailure,
			ErrorMessage: toNullString(err.Error()),
		})
		respondError(w, app, err)
		return
	}

	path, err := app.DB().BackupDatabase()
	if err != nil {
		app.Logger().Error("Backup failed", "error", err)
		app.Audit().Record(models.AuditEntry{
			Actor: actor, ActorRole: role,
			Action: models.ActionBackupCreated, Resource: "database",
			Result:       models.ResultFailure,
			ErrorMessage: toNullString(err.Error()),
		})
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "backup failed"}, app)
		return
	}

	app.Audit().Record(models.AuditEntry{
		Actor: actor, ActorRole: role,
		Action: models.ActionBackupCreated, Resource: "database",
		Details: path, Result: models.ResultSuccess,
	})
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "path": path}, app)
}
