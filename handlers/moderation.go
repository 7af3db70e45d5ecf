// hearth/handlers/moderation.go

package handlers

import (
	"net/http"
	"time"

	"hearth/auth"
	"hearth/config"
	"hearth/models"

	"github.com/go-chi/chi/v5"
)

// HandleHidePost toggles a post's hidden flag.
func HandleHidePost(w http.ResponseWriter, r *http.Request, app App) {
	actor, actorRole := currentActor(r)
	postID, err := pathID(r, "postID")
	if err != nil {
		respondError(w, app, err)
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, app, err)
		return
	}

	hidden, err := app.Moderation().HidePost(actor, actorRole, postID, req.Reason)
	if err != nil {
		respondError(w, app, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"post_id": postID, "hidden": hidden}, app)
}

// HandleEditPost replaces a post's content.
func HandleEditPost(w http.ResponseWriter, r *http.Request, app App) {
	actor, actorRole := currentActor(r)
	postID, err := pathID(r, "postID")
	if err != nil {
		respondError(w, app, err)
		return
	}
	var req struct {
		Content string `json:"content"`
		Reason  string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, app, err)
		return
	}
	if req.Content == "" || len(req.Content) > config.MaxPostLen {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid content length"}, app)
		return
	}

	if err := app.Moderation().EditPost(actor, actorRole, postID, req.Content, req.Reason); err != nil {
		respondError(w, app, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"post_id": postID, "edited": true}, app)
}

// HandleDeletePost permanently removes a post. Admin only.
func HandleDeletePost(w http.ResponseWriter, r *http.Request, app App) {
	actor, actorRole := currentActor(r)
	postID, err := pathID(r, "postID")
	if err != nil {
		respondError(w, app, err)
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, app, err)
		return
	}

	if err := app.Moderation().DeletePost(actor, actorRole, postID, req.Reason); err != nil {
		respondError(w, app, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"}, app)
}

// HandlePinTopic toggles a topic's pinned flag.
func HandlePinTopic(w http.ResponseWriter, r *http.Request, app App) {
	actor, actorRole := currentActor(r)
	topicID, err := pathID(r, "topicID")
	if err != nil {
		respondError(w, app, err)
		return
	}
	pinned, err := app.Moderation().PinTopic(actor, actorRole, topicID)
	if err != nil {
		respondError(w, app, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"topic_id": topicID, "pinned": pinned}, app)
}

// HandleLockTopic toggles a topic's locked flag.
func HandleLockTopic(w http.ResponseWriter, r *http.Request, app App) {
	actor, actorRole := currentActor(r)
	topicID, err := pathID(r, "topicID")
	if err != nil {
		respondError(w, app, err)
		return
	}
	locked, err := app.Moderation().LockTopic(actor, actorRole, topicID)
	if err != nil {
		respondError(w, app, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"topic_id": topicID, "locked": locked}, app)
}

// HandleDeleteTopic permanently removes a topic and its posts. Admin only.
func HandleDeleteTopic(w http.ResponseWriter, r *http.Request, app App) {
	actor, actorRole := currentActor(r)
	topicID, err := pathID(r, "topicID")
	if err != nil {
		respondError(w, app, err)
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, app, err)
		return
	}

	if err := app.Moderation().DeleteTopic(actor, actorRole, topicID, req.Reason); err != nil {
		respondError(w, app, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"}, app)
}

// HandleWarnUser appends a warning to a user's moderation record.
func HandleWarnUser(w http.ResponseWriter, r *http.Request, app App) {
	actor, actorRole := currentActor(r)
	target := chi.URLParam(r, "username")

	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, app, err)
		return
	}
	if req.Reason == "" || len(req.Reason) > config.MaxReasonLen {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "a reason is required"}, app)
		return
	}

	if err := app.Moderation().WarnUser(actor, actorRole, target, req.Reason); err != nil {
		respondError(w, app, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "warned", "username": target}, app)
}

// HandleModerationLog returns the append-only action history of one target.
func HandleModerationLog(w http.ResponseWriter, r *http.Request, app App) {
	actor, actorRole := currentActor(r)
	if _, err := app.Registry().Require(actor, actorRole, auth.CapViewModerationLogs); err != nil {
		respondError(w, app, err)
		return
	}

	kind := models.TargetKind(chi.URLParam(r, "kind"))
	switch kind {
	case models.TargetPost, models.TargetTopic, models.TargetUser:
	default:
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown target kind"}, app)
		return
	}
	targetID := chi.URLParam(r, "targetID")

	actions, err := app.Moderation().ActionsFor(kind, targetID)
	if err != nil {
		app.Logger().Error("Failed to load moderation log", "kind", kind, "target", targetID, "error", err)
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"}, app)
		return
	}
	respondJSON(w, http.StatusOK, actions, app)
}

// HandleBan suspends a user. duration_ms <= 0 means permanent.
func HandleBan(w http.ResponseWriter, r *http.Request, app App) {
	actor, actorRole := currentActor(r)
	target := chi.URLParam(r, "username")

	var req struct {
		Reason     string `json:"reason"`
		DurationMs int64  `json:"duration_ms"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, app, err)
		return
	}
	if req.Reason == "" || len(req.Reason) > config.MaxReasonLen {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "a reason is required"}, app)
		return
	}

	duration := time.Duration(req.DurationMs) * time.Millisecond
	if _, err := app.Bans().Ban(target, req.Reason, duration, actor, actorRole); err != nil {
		respondError(w, app, err)
		return
	}
	// A banned identity should not keep a live session.
	app.Sessions().RevokeUser(target)
	respondJSON(w, http.StatusOK, map[string]string{"status": "banned", "username": target}, app)
}

// HandleUnban lifts an active ban.
func HandleUnban(w http.ResponseWriter, r *http.Request, app App) {
	actor, actorRole := currentActor(r)
	target := chi.URLParam(r, "username")

	if _, err := app.Bans().Unban(target, actor, actorRole); err != nil {
		respondError(w, app, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "unbanned", "username": target}, app)
}

type banView struct {
	Username  string `json:"username"`
	Reason    string `json:"reason"`
	BannedBy  string `json:"banned_by"`
	BannedAt  string `json:"banned_at"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

func toBanView(b models.Ban) banView {
	v := banView{
		Username: b.TargetUsername,
		Reason:   b.Reason,
		BannedBy: b.BannedBy,
		BannedAt: b.BannedAt.Format(time.RFC3339),
	}
	if b.ExpiresAt.Valid {
		v.ExpiresAt = b.ExpiresAt.Time.Format(time.RFC3339)
	}
	return v
}

// HandleBanList returns all ban records split into active and expired.
func HandleBanList(w http.ResponseWriter, r *http.Request, app App) {
	actor, actorRole := currentActor(r)
	if _, err := app.Registry().Require(actor, actorRole, auth.CapBanUsers); err != nil {
		respondError(w, app, err)
		return
	}

	active, expired, err := app.Bans().ListBans()
	if err != nil {
		app.Logger().Error("Failed to list bans", "error", err)
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"}, app)
		return
	}
	activeViews := make([]banView, 0, len(active))
	for _, b := range active {
		activeViews = append(activeViews, toBanView(b))
	}
	expiredViews := make([]banView, 0, len(expired))
	for _, b := range expired {
		expiredViews = append(expiredViews, toBanView(b))
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"active": activeViews, "expired": expiredViews}, app)
}

// HandleBanStatus reports whether a user is currently banned, applying the
// lazy-expiry rule as a side effect.
func HandleBanStatus(w http.ResponseWriter, r *http.Request, app App) {
	actor, actorRole := currentActor(r)
	if _, err := app.Registry().Require(actor, actorRole, auth.CapBanUsers); err != nil {
		respondError(w, app, err)
		return
	}
	target := chi.URLParam(r, "username")
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"username": target,
		"banned":   app.Bans().IsBanned(target),
	}, app)
}
