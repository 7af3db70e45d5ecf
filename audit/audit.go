// hearth/audit/audit.go
package audit

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"hearth/auth"
	"hearth/config"
	"hearth/database"
	"hearth/models"
	"hearth/utils"
)

// Recorder owns the append-only audit trail. Writes outside a business
// transaction never fail observably: an inability to log must not block an
// action that already happened, so failures go to the internal log channel.
type Recorder struct {
	ds         *database.DatabaseService
	registry   *auth.Registry
	logger     *slog.Logger
	maxEntries int
}

func NewRecorder(ds *database.DatabaseService, registry *auth.Registry, maxEntries int, logger *slog.Logger) *Recorder {
	if maxEntries <= 0 {
		maxEntries = config.DefaultAuditMaxEntries
	}
	return &Recorder{ds: ds, registry: registry, logger: logger, maxEntries: maxEntries}
}

// RecordTx appends one entry inside the caller's transaction so the audit
// write commits or rolls back together with the business mutation.
func (rec *Recorder) RecordTx(tx *sql.Tx, e models.AuditEntry) error {
	if !e.Action.Valid() {
		return fmt.Errorf("unknown audit action %q", e.Action)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = utils.GetSQLTime()
	}
	_, err := tx.Exec(
		"INSERT INTO audit_log (created_at, actor, actor_role, action, resource, resource_id, details, result, error_message) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		e.Timestamp, e.Actor, e.ActorRole, e.Action, e.Resource, e.ResourceID, e.Details, e.Result, e.ErrorMessage)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	// Retention runs in the same transaction as the insert, so the cap
	// holds on every write path. A failed prune must not block the business
	// mutation that already happened.
	if _, err := tx.Exec(
		"DELETE FROM audit_log WHERE id NOT IN (SELECT id FROM audit_log ORDER BY id DESC LIMIT ?)",
		rec.maxEntries); err != nil {
		rec.logger.Error("Audit retention prune failed", "error", err)
	}
	return nil
}

// Record appends one entry in its own transaction. It never returns an
// error; storage failures are swallowed and logged.
func (rec *Recorder) Record(e models.AuditEntry) {
	tx, err := rec.ds.DB.Begin()
	if err != nil {
		rec.logger.Error("Audit write skipped: could not begin transaction", "action", e.Action, "error", err)
		return
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && rerr != sql.ErrTxDone {
			rec.logger.Error("Failed to rollback audit transaction", "error", rerr)
		}
	}()
	if err := rec.RecordTx(tx, e); err != nil {
		rec.logger.Error("Audit write failed", "action", e.Action, "actor", e.Actor, "error", err)
		return
	}
	if err := tx.Commit(); err != nil {
		rec.logger.Error("Audit commit failed", "action", e.Action, "actor", e.Actor, "error", err)
		return
	}
}

// Filters narrows a Query. Zero values mean "no constraint"; set filters
// are ANDed.
type Filters struct {
	ActorSubstring    string
	Action            models.AuditAction
	ResourceSubstring string
	From, To          time.Time
	Result            models.AuditResult
	Limit             int
}

// Query returns matching entries newest-first, ties broken by insertion
// order.
func (rec *Recorder) Query(f Filters) ([]models.AuditEntry, error) {
	query := "SELECT id, created_at, actor, actor_role, action, resource, resource_id, details, result, error_message FROM audit_log"
	var clauses []string
	var args []interface{}

	if f.ActorSubstring != "" {
		clauses = append(clauses, "actor LIKE ?")
		args = append(args, "%"+f.ActorSubstring+"%")
	}
	if f.Action != "" {
		clauses = append(clauses, "action = ?")
		args = append(args, f.Action)
	}
	if f.ResourceSubstring != "" {
		clauses = append(clauses, "resource LIKE ?")
		args = append(args, "%"+f.ResourceSubstring+"%")
	}
	if !f.From.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, f.To)
	}
	if f.Result != "" {
		clauses = append(clauses, "result = ?")
		args = append(args, f.Result)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := rec.ds.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			rec.logger.Error("Failed to close rows in audit Query", "error", err)
		}
	}()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Actor, &e.ActorRole, &e.Action, &e.Resource, &e.ResourceID, &e.Details, &e.Result, &e.ErrorMessage); err != nil {
			rec.logger.Error("Failed to scan audit row", "error", err)
			continue
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Summary aggregates the trail over an optional date range.
type Summary struct {
	TotalActions       int
	CountsByType       map[models.AuditAction]int
	CountsByActor      map[string]int
	SuccessRatePercent float64
	MostRecent         []models.AuditEntry
}

// Summarize computes totals, per-type and per-actor counts, the success
// rate, and the most recent entries.
func (rec *Recorder) Summarize(from, to time.Time) (*Summary, error) {
	entries, err := rec.Query(Filters{From: from, To: to})
	if err != nil {
		return nil, err
	}

	s := &Summary{
		CountsByType:  make(map[models.AuditAction]int),
		CountsByActor: make(map[string]int),
	}
	successes := 0
	for _, e := range entries {
		s.TotalActions++
		s.CountsByType[e.Action]++
		s.CountsByActor[e.Actor]++
		if e.Result == models.ResultSuccess {
			successes++
		}
	}
	if s.TotalActions > 0 {
		s.SuccessRatePercent = float64(successes) / float64(s.TotalActions) * 100
	}
	if len(entries) > config.AuditSummaryRecent {
		s.MostRecent = entries[:config.AuditSummaryRecent]
	} else {
		s.MostRecent = entries
	}
	return s, nil
}

// Clear wipes the trail. It is itself a privileged, audited action: the
// same transaction that deletes every entry inserts exactly one new entry
// recording who cleared and how many entries were removed, so the trail is
// never literally empty.
func (rec *Recorder) Clear(actor string, actorRole models.Role) (int64, error) {
	resolvedRole, err := rec.registry.Require(actor, actorRole, auth.CapManageSystemSettings)
	if err != nil {
		rec.Record(models.AuditEntry{
			Actor: actor, ActorRole: resolvedRole,
			Action: models.ActionSystemSettingsChanged, Resource: "audit_log",
			Details: "audit log clear denied", Result: models.ResultFailure,
			ErrorMessage: sql.NullString{String: err.Error(), Valid: true},
		})
		return 0, err
	}

	tx, err := rec.ds.DB.Begin()
	if err != nil {
		return 0, err
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && rerr != sql.ErrTxDone {
			rec.logger.Error("Failed to rollback audit clear", "error", rerr)
		}
	}()

	res, err := tx.Exec("DELETE FROM audit_log")
	if err != nil {
		return 0, fmt.Errorf("failed to clear audit log: %w", err)
	}
	removed, _ := res.RowsAffected()

	err = rec.RecordTx(tx, models.AuditEntry{
		Actor: actor, ActorRole: resolvedRole,
		Action: models.ActionSystemSettingsChanged, Resource: "audit_log",
		Details: fmt.Sprintf("audit log cleared, %d entries removed", removed),
		Result:  models.ResultSuccess,
	})
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return removed, nil
}
