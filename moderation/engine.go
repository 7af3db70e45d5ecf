// hearth/moderation/engine.go
package moderation

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"

	"hearth/audit"
	"hearth/auth"
	"hearth/database"
	"hearth/models"
	"hearth/utils"

	"github.com/google/uuid"
)

// Engine applies moderation transitions to forum content. Every transition
// runs as one transaction holding the capability check, the state change,
// an appended ModerationAction row, and one audit entry. A per-entity lock
// serializes concurrent writers of the same item.
type Engine struct {
	ds       *database.DatabaseService
	registry *auth.Registry
	recorder *audit.Recorder
	locks    *models.EntityLocks
	logger   *slog.Logger
}

func NewEngine(ds *database.DatabaseService, registry *auth.Registry, recorder *audit.Recorder, logger *slog.Logger) *Engine {
	return &Engine{
		ds:       ds,
		registry: registry,
		recorder: recorder,
		locks:    models.NewEntityLocks(),
		logger:   logger,
	}
}

// deny records the failure entry for a blocked transition and returns the
// denial unchanged.
func (e *Engine) deny(actor string, role models.Role, action models.AuditAction, resource, resourceID string, err error) error {
	e.recorder.Record(models.AuditEntry{
		Actor: actor, ActorRole: role,
		Action: action, Resource: resource,
		ResourceID:   sql.NullString{String: resourceID, Valid: resourceID != ""},
		Result:       models.ResultFailure,
		ErrorMessage: sql.NullString{String: err.Error(), Valid: true},
	})
	return err
}

// appendActionTx appends one immutable ModerationAction row. Rows are never
// overwritten; the actions list is strictly append-only.
func appendActionTx(tx *sql.Tx, a models.ModerationAction) error {
	if !a.Type.Valid() {
		return fmt.Errorf("invalid moderation action type %q", a.Type)
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = utils.GetSQLTime()
	}
	_, err := tx.Exec(
		"INSERT INTO moderation_actions (id, target_kind, target_id, action, moderator, reason, original_content, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		a.ID, a.TargetKind, a.TargetID, a.Type, a.Moderator, a.Reason, a.OriginalContent, a.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append moderation action: %w", err)
	}
	return nil
}

// ActionsFor returns the append-only action history of one target.
func (e *Engine) ActionsFor(kind models.TargetKind, targetID string) ([]models.ModerationAction, error) {
	rows, err := e.ds.DB.Query(
		"SELECT id, target_kind, target_id, action, moderator, reason, original_content, created_at FROM moderation_actions WHERE target_kind = ? AND target_id = ? ORDER BY created_at ASC, id ASC",
		kind, targetID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			e.logger.Error("Failed to close rows in ActionsFor", "error", err)
		}
	}()

	var actions []models.ModerationAction
	for rows.Next() {
		var a models.ModerationAction
		if err := rows.Scan(&a.ID, &a.TargetKind, &a.TargetID, &a.Type, &a.Moderator, &a.Reason, &a.OriginalContent, &a.Timestamp); err != nil {
			e.logger.Error("Failed to scan moderation action row", "error", err)
			continue
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// HidePost toggles a post between visible and hidden. Returns the new
// hidden state.
func (e *Engine) HidePost(actor string, actorRole models.Role, postID int64, reason string) (bool, error) {
	unlock := e.locks.Lock(fmt.Sprintf("post:%d", postID))
	defer unlock()

	role, err := e.registry.Require(actor, actorRole, auth.CapModeratePosts)
	if err != nil {
		return false, e.deny(actor, role, models.ActionPostHidden, "post", strconv.FormatInt(postID, 10), err)
	}

	tx, err := e.ds.DB.Begin()
	if err != nil {
		return false, err
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && rerr != sql.ErrTxDone {
			e.logger.Error("Failed to rollback transaction in HidePost", "error", rerr)
		}
	}()

	res, err := tx.Exec("UPDATE posts SET hidden = NOT hidden WHERE id = ?", postID)
	if err != nil {
		return false, fmt.Errorf("failed to toggle hidden: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return false, fmt.Errorf("post %d not found", postID)
	}
	var hidden bool
	if err := tx.QueryRow("SELECT hidden FROM posts WHERE id = ?", postID).Scan(&hidden); err != nil {
		return false, err
	}

	id := strconv.FormatInt(postID, 10)
	if err := appendActionTx(tx, models.ModerationAction{
		TargetKind: models.TargetPost, TargetID: id,
		Type: models.ModActionHide, Moderator: actor,
		Reason: sql.NullString{String: reason, Valid: reason != ""},
	}); err != nil {
		return false, err
	}

	auditAction := models.ActionPostUnhidden
	if hidden {
		auditAction = models.ActionPostHidden
	}
	if err := e.recorder.RecordTx(tx, models.AuditEntry{
		Actor: actor, ActorRole: role,
		Action: auditAction, Resource: "post",
		ResourceID: sql.NullString{String: id, Valid: true},
		Details:    reason, Result: models.ResultSuccess,
	}); err != nil {
		return false, err
	}
	return hidden, tx.Commit()
}

// EditPost replaces a post's content. The edited flag is sticky, and
// original_content always holds the text immediately prior to the most
// recent edit, not the first-ever content.
func (e *Engine) EditPost(actor string, actorRole models.Role, postID int64, newContent, reason string) error {
	unlock := e.locks.Lock(fmt.Sprintf("post:%d", postID))
	defer unlock()

	role, err := e.registry.Require(actor, actorRole, auth.CapModeratePosts)
	if err != nil {
		return e.deny(actor, role, models.ActionPostEdited, "post", strconv.FormatInt(postID, 10), err)
	}

	tx, err := e.ds.DB.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && rerr != sql.ErrTxDone {
			e.logger.Error("Failed to rollback transaction in EditPost", "error", rerr)
		}
	}()

	var prior string
	if err := tx.QueryRow("SELECT content FROM posts WHERE id = ?", postID).Scan(&prior); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("post %d not found", postID)
		}
		return err
	}
	if _, err := tx.Exec("UPDATE posts SET content = ?, original_content = ?, edited = 1 WHERE id = ?",
		newContent, prior, postID); err != nil {
		return fmt.Errorf("failed to edit post: %w", err)
	}

	id := strconv.FormatInt(postID, 10)
	if err := appendActionTx(tx, models.ModerationAction{
		TargetKind: models.TargetPost, TargetID: id,
		Type: models.ModActionEdit, Moderator: actor,
		Reason:          sql.NullString{String: reason, Valid: reason != ""},
		OriginalContent: sql.NullString{String: prior, Valid: true},
	}); err != nil {
		return err
	}
	if err := e.recorder.RecordTx(tx, models.AuditEntry{
		Actor: actor, ActorRole: role,
		Action: models.ActionPostEdited, Resource: "post",
		ResourceID: sql.NullString{String: id, Valid: true},
		Details:    reason, Result: models.ResultSuccess,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// WarnUser appends a warn action to the target user's moderation record.
// It mutates no content state.
func (e *Engine) WarnUser(actor string, actorRole models.Role, target, reason string) error {
	unlock := e.locks.Lock("user:" + target)
	defer unlock()

	role, err := e.registry.Require(actor, actorRole, auth.CapModeratePosts)
	if err != nil {
		return e.deny(actor, role, models.ActionUserWarned, "user", target, err)
	}

	tx, err := e.ds.DB.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && rerr != sql.ErrTxDone {
			e.logger.Error("Failed to rollback transaction in WarnUser", "error", rerr)
		}
	}()

	if err := appendActionTx(tx, models.ModerationAction{
		TargetKind: models.TargetUser, TargetID: target,
		Type: models.ModActionWarn, Moderator: actor,
		Reason: sql.NullString{String: reason, Valid: reason != ""},
	}); err != nil {
		return err
	}
	if err := e.recorder.RecordTx(tx, models.AuditEntry{
		Actor: actor, ActorRole: role,
		Action: models.ActionUserWarned, Resource: "user",
		ResourceID: sql.NullString{String: target, Valid: true},
		Details:    reason, Result: models.ResultSuccess,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// DeletePost permanently removes a post. Moderators may hide but not
// delete: deletion requires admin regardless of MODERATE_POSTS.
func (e *Engine) DeletePost(actor string, actorRole models.Role, postID int64, reason string) error {
	unlock := e.locks.Lock(fmt.Sprintf("post:%d", postID))
	defer unlock()

	id := strconv.FormatInt(postID, 10)
	role, err := e.registry.Require(actor, actorRole, auth.CapModeratePosts)
	if err != nil {
		return e.deny(actor, role, models.ActionPostDeleted, "post", id, err)
	}
	if role != models.RoleAdmin {
		err := fmt.Errorf("%w: permanent deletion requires role admin", auth.ErrDenied)
		return e.deny(actor, role, models.ActionPostDeleted, "post", id, err)
	}

	tx, err := e.ds.DB.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && rerr != sql.ErrTxDone {
			e.logger.Error("Failed to rollback transaction in DeletePost", "error", rerr)
		}
	}()

	var topicID int64
	var boardID string
	if err := tx.QueryRow("SELECT topic_id, board_id FROM posts WHERE id = ?", postID).Scan(&topicID, &boardID); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("post %d not found", postID)
		}
		return err
	}

	if _, err := tx.Exec("DELETE FROM posts WHERE id = ?", postID); err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}

	// Recompute the owning topic's last-post metadata from what remains,
	// falling back to the topic's own creation time when no posts are left.
	var lastAt sql.NullTime
	if err := tx.QueryRow("SELECT MAX(created_at) FROM posts WHERE topic_id = ?", topicID).Scan(&lastAt); err != nil {
		return err
	}
	if lastAt.Valid {
		if _, err := tx.Exec("UPDATE topics SET updated_at = ? WHERE id = ?", lastAt.Time, topicID); err != nil {
			return err
		}
	} else {
		if _, err := tx.Exec("UPDATE topics SET updated_at = created_at WHERE id = ?", topicID); err != nil {
			return err
		}
	}
	if err := e.ds.RecomputeBoardCountersTx(tx, boardID); err != nil {
		return err
	}

	if err := appendActionTx(tx, models.ModerationAction{
		TargetKind: models.TargetPost, TargetID: id,
		Type: models.ModActionDelete, Moderator: actor,
		Reason: sql.NullString{String: reason, Valid: reason != ""},
	}); err != nil {
		return err
	}
	if err := e.recorder.RecordTx(tx, models.AuditEntry{
		Actor: actor, ActorRole: role,
		Action: models.ActionPostDeleted, Resource: "post",
		ResourceID: sql.NullString{String: id, Valid: true},
		Details:    reason, Result: models.ResultSuccess,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// PinTopic toggles a topic between pinned and unpinned. Returns the new
// pinned state.
func (e *Engine) PinTopic(actor string, actorRole models.Role, topicID int64) (bool, error) {
	return e.toggleTopic(actor, actorRole, topicID, "pinned", models.ModActionPin,
		models.ActionTopicPinned, models.ActionTopicUnpinned)
}

// LockTopic toggles a topic between locked and unlocked. Returns the new
// locked state.
func (e *Engine) LockTopic(actor string, actorRole models.Role, topicID int64) (bool, error) {
	return e.toggleTopic(actor, actorRole, topicID, "locked", models.ModActionLock,
		models.ActionTopicLocked, models.ActionTopicUnlocked)
}

func (e *Engine) toggleTopic(actor string, actorRole models.Role, topicID int64, column string, modAction models.ModerationActionType, onAction, offAction models.AuditAction) (bool, error) {
	unlock := e.locks.Lock(fmt.Sprintf("topic:%d", topicID))
	defer unlock()

	id := strconv.FormatInt(topicID, 10)
	role, err := e.registry.Require(actor, actorRole, auth.CapModerateTopics)
	if err != nil {
		return false, e.deny(actor, role, onAction, "topic", id, err)
	}

	tx, err := e.ds.DB.Begin()
	if err != nil {
		return false, err
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && rerr != sql.ErrTxDone {
			e.logger.Error("Failed to rollback topic toggle", "column", column, "error", rerr)
		}
	}()

	// column is one of the two fixed names above, never caller input.
	res, err := tx.Exec(fmt.Sprintf("UPDATE topics SET %s = NOT %s WHERE id = ?", column, column), topicID)
	if err != nil {
		return false, fmt.Errorf("failed to toggle %s: %w", column, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return false, fmt.Errorf("topic %d not found", topicID)
	}
	var state bool
	if err := tx.QueryRow(fmt.Sprintf("SELECT %s FROM topics WHERE id = ?", column), topicID).Scan(&state); err != nil {
		return false, err
	}

	if err := appendActionTx(tx, models.ModerationAction{
		TargetKind: models.TargetTopic, TargetID: id,
		Type: modAction, Moderator: actor,
	}); err != nil {
		return false, err
	}
	auditAction := offAction
	if state {
		auditAction = onAction
	}
	if err := e.recorder.RecordTx(tx, models.AuditEntry{
		Actor: actor, ActorRole: role,
		Action: auditAction, Resource: "topic",
		ResourceID: sql.NullString{String: id, Valid: true},
		Result:     models.ResultSuccess,
	}); err != nil {
		return false, err
	}
	return state, tx.Commit()
}

// DeleteTopic permanently removes a topic and cascades to all its posts,
// adjusting the owning board's counters by the counts that existed at
// deletion time. Admin only.
func (e *Engine) DeleteTopic(actor string, actorRole models.Role, topicID int64, reason string) error {
	unlock := e.locks.Lock(fmt.Sprintf("topic:%d", topicID))
	defer unlock()

	id := strconv.FormatInt(topicID, 10)
	role, err := e.registry.Require(actor, actorRole, auth.CapModerateTopics)
	if err != nil {
		return e.deny(actor, role, models.ActionTopicDeleted, "topic", id, err)
	}
	if role != models.RoleAdmin {
		err := fmt.Errorf("%w: permanent deletion requires role admin", auth.ErrDenied)
		return e.deny(actor, role, models.ActionTopicDeleted, "topic", id, err)
	}

	tx, err := e.ds.DB.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && rerr != sql.ErrTxDone {
			e.logger.Error("Failed to rollback transaction in DeleteTopic", "error", rerr)
		}
	}()

	var boardID string
	if err := tx.QueryRow("SELECT board_id FROM topics WHERE id = ?", topicID).Scan(&boardID); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("topic %d not found", topicID)
		}
		return err
	}

	var postCount int
	if err := tx.QueryRow("SELECT COUNT(*) FROM posts WHERE topic_id = ?", topicID).Scan(&postCount); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM posts WHERE topic_id = ?", topicID); err != nil {
		return fmt.Errorf("failed to delete topic posts: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM topics WHERE id = ?", topicID); err != nil {
		return fmt.Errorf("failed to delete topic: %w", err)
	}
	if err := e.ds.RecomputeBoardCountersTx(tx, boardID); err != nil {
		return err
	}

	if err := appendActionTx(tx, models.ModerationAction{
		TargetKind: models.TargetTopic, TargetID: id,
		Type: models.ModActionDelete, Moderator: actor,
		Reason: sql.NullString{String: reason, Valid: reason != ""},
	}); err != nil {
		return err
	}
	if err := e.recorder.RecordTx(tx, models.AuditEntry{
		Actor: actor, ActorRole: role,
		Action: models.ActionTopicDeleted, Resource: "topic",
		ResourceID: sql.NullString{String: id, Valid: true},
		Details:    fmt.Sprintf("%s (cascaded %d posts)", reason, postCount),
		Result:     models.ResultSuccess,
	}); err != nil {
		return err
	}
	return tx.Commit()
}
