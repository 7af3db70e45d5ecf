// hearth/moderation/bans.go
package moderation

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"hearth/audit"
	"hearth/auth"
	"hearth/config"
	"hearth/database"
	"hearth/models"
	"hearth/utils"
)

// BanManager tracks suspension state per identity. Every ban and unban
// attempt, successful or not, is audited with the reason and the computed
// duration string. Per-username locks serialize traffic for the same
// target.
type BanManager struct {
	ds       *database.DatabaseService
	registry *auth.Registry
	recorder *audit.Recorder
	locks    *models.EntityLocks
	logger   *slog.Logger
}

func NewBanManager(ds *database.DatabaseService, registry *auth.Registry, recorder *audit.Recorder, logger *slog.Logger) *BanManager {
	return &BanManager{
		ds:       ds,
		registry: registry,
		recorder: recorder,
		locks:    models.NewEntityLocks(),
		logger:   logger,
	}
}

// durationString renders a ban duration for the audit trail: "permanent"
// or the millisecond count.
func durationString(d time.Duration) string {
	if d <= 0 {
		return "permanent"
	}
	return strconv.FormatInt(d.Milliseconds(), 10)
}

func (bm *BanManager) audit(actor string, role models.Role, action models.AuditAction, target, details string, result models.AuditResult, errMsg string) {
	bm.recorder.Record(models.AuditEntry{
		Actor: actor, ActorRole: role,
		Action: action, Resource: "user",
		ResourceID:   sql.NullString{String: target, Valid: true},
		Details:      details,
		Result:       result,
		ErrorMessage: sql.NullString{String: errMsg, Valid: errMsg != ""},
	})
}

// Ban suspends a target identity. Preconditions, checked in order, each a
// distinct failure mode: the moderator holds BAN_USERS; the target is not
// an admin (unbannable, always); the target is a moderator only if the
// banning actor is an admin. duration <= 0 means permanent.
func (bm *BanManager) Ban(target, reason string, duration time.Duration, moderator string, moderatorRole models.Role) (bool, error) {
	unlock := bm.locks.Lock("ban:" + target)
	defer unlock()

	details := fmt.Sprintf("reason: %s, duration: %s", reason, durationString(duration))

	role, err := bm.registry.Require(moderator, moderatorRole, auth.CapBanUsers)
	if err != nil {
		bm.audit(moderator, role, models.ActionUserBanned, target, details, models.ResultFailure, err.Error())
		return false, err
	}

	targetRole := bm.registry.ResolveRole(target)
	if targetRole == models.RoleAdmin {
		err := fmt.Errorf("%w: administrators cannot be banned", auth.ErrDenied)
		bm.audit(moderator, role, models.ActionUserBanned, target, details, models.ResultFailure, err.Error())
		return false, err
	}
	if targetRole == models.RoleModerator && role != models.RoleAdmin {
		err := fmt.Errorf("%w: only an admin may ban a moderator", auth.ErrDenied)
		bm.audit(moderator, role, models.ActionUserBanned, target, details, models.ResultFailure, err.Error())
		return false, err
	}

	var expiresAt sql.NullTime
	if duration > 0 {
		expiresAt.Time = utils.GetSQLTime().Add(duration)
		expiresAt.Valid = true
	}

	tx, err := bm.ds.DB.Begin()
	if err != nil {
		return false, err
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && rerr != sql.ErrTxDone {
			bm.logger.Error("Failed to rollback transaction in Ban", "error", rerr)
		}
	}()

	_, err = tx.Exec(`INSERT INTO bans (target_username, reason, banned_by, banned_at, expires_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(target_username) DO UPDATE SET reason=excluded.reason, banned_by=excluded.banned_by, banned_at=excluded.banned_at, expires_at=excluded.expires_at`,
		target, reason, moderator, utils.GetSQLTime(), expiresAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert ban: %w", err)
	}
	if err := bm.recorder.RecordTx(tx, models.AuditEntry{
		Actor: moderator, ActorRole: role,
		Action: models.ActionUserBanned, Resource: "user",
		ResourceID: sql.NullString{String: target, Valid: true},
		Details:    details, Result: models.ResultSuccess,
	}); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}

	bm.logger.Info("Ban applied", "target", target, "moderator", moderator, "duration", durationString(duration))
	return true, nil
}

// Unban lifts an active ban. Requires BAN_USERS and an existing active
// record.
func (bm *BanManager) Unban(target, moderator string, moderatorRole models.Role) (bool, error) {
	unlock := bm.locks.Lock("ban:" + target)
	defer unlock()
	return bm.unbanLocked(target, moderator, moderatorRole, "", false)
}

func (bm *BanManager) unbanLocked(target, moderator string, moderatorRole models.Role, details string, allowExpired bool) (bool, error) {
	role, err := bm.registry.Require(moderator, moderatorRole, auth.CapBanUsers)
	if err != nil {
		bm.audit(moderator, role, models.ActionUserUnbanned, target, details, models.ResultFailure, err.Error())
		return false, err
	}

	ban, ok, err := bm.getBan(target)
	if err != nil {
		return false, err
	}
	if !ok || (!allowExpired && !ban.Active(utils.GetSQLTime())) {
		err := fmt.Errorf("no active ban for '%s'", target)
		bm.audit(moderator, role, models.ActionUserUnbanned, target, details, models.ResultFailure, err.Error())
		return false, err
	}

	tx, err := bm.ds.DB.Begin()
	if err != nil {
		return false, err
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && rerr != sql.ErrTxDone {
			bm.logger.Error("Failed to rollback transaction in Unban", "error", rerr)
		}
	}()

	if _, err := tx.Exec("DELETE FROM bans WHERE target_username = ?", target); err != nil {
		return false, fmt.Errorf("failed to remove ban: %w", err)
	}
	if err := bm.recorder.RecordTx(tx, models.AuditEntry{
		Actor: moderator, ActorRole: role,
		Action: models.ActionUserUnbanned, Resource: "user",
		ResourceID: sql.NullString{String: target, Valid: true},
		Details:    details, Result: models.ResultSuccess,
	}); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}

	bm.logger.Info("Ban lifted", "target", target, "moderator", moderator)
	return true, nil
}

func (bm *BanManager) getBan(target string) (models.Ban, bool, error) {
	var b models.Ban
	err := bm.ds.DB.QueryRow(
		"SELECT target_username, reason, banned_by, banned_at, expires_at FROM bans WHERE target_username = ?",
		target).Scan(&b.TargetUsername, &b.Reason, &b.BannedBy, &b.BannedAt, &b.ExpiresAt)
	if err == sql.ErrNoRows {
		return b, false, nil
	}
	if err != nil {
		return b, false, fmt.Errorf("db error getting ban for '%s': %w", target, err)
	}
	return b, true, nil
}

// GetBan returns the ban record for a target, if one exists, active or not.
func (bm *BanManager) GetBan(target string) (models.Ban, bool, error) {
	return bm.getBan(target)
}

// IsBanned applies the lazy-expiry rule: an expired record is treated as
// inactive and removed as a side effect, attributed to the system actor,
// so stale records never accumulate.
func (bm *BanManager) IsBanned(target string) bool {
	unlock := bm.locks.Lock("ban:" + target)
	defer unlock()

	ban, ok, err := bm.getBan(target)
	if err != nil {
		bm.logger.Error("Ban lookup failed", "target", target, "error", err)
		return false
	}
	if !ok {
		return false
	}
	if ban.Active(utils.GetSQLTime()) {
		return true
	}

	// Self-heal: remove the stale record as the system actor.
	if _, err := bm.unbanLocked(target, config.SystemActor, models.RoleAdmin, "ban expired", true); err != nil {
		bm.logger.Error("Failed to remove expired ban", "target", target, "error", err)
	}
	return false
}

// ListBans returns all ban records, newest first, split into active and
// expired by the given instant.
func (bm *BanManager) ListBans() (active, expired []models.Ban, err error) {
	rows, err := bm.ds.DB.Query(
		"SELECT target_username, reason, banned_by, banned_at, expires_at FROM bans ORDER BY banned_at DESC")
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			bm.logger.Error("Failed to close rows in ListBans", "error", cerr)
		}
	}()

	now := utils.GetSQLTime()
	for rows.Next() {
		var b models.Ban
		if err := rows.Scan(&b.TargetUsername, &b.Reason, &b.BannedBy, &b.BannedAt, &b.ExpiresAt); err != nil {
			bm.logger.Error("Failed to scan ban row", "error", err)
			continue
		}
		if b.Active(now) {
			active = append(active, b)
		} else {
			expired = append(expired, b)
		}
	}
	return active, expired, rows.Err()
}
