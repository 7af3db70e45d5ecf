// hearth/accounts/manager.go
package accounts

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"hearth/audit"
	"hearth/auth"
	"hearth/database"
	"hearth/models"
	"hearth/utils"
)

// ErrBadCredentials is returned on any authentication failure. Deliberately
// carries no detail about which part was wrong.
var ErrBadCredentials = errors.New("invalid username or password")

// Manager wraps the account store with the privileged, audited operations:
// staff creation, deletion, role changes, and password changes.
type Manager struct {
	ds       *database.DatabaseService
	registry *auth.Registry
	recorder *audit.Recorder
	logger   *slog.Logger
}

func NewManager(ds *database.DatabaseService, registry *auth.Registry, recorder *audit.Recorder, logger *slog.Logger) *Manager {
	return &Manager{ds: ds, registry: registry, recorder: recorder, logger: logger}
}

func (m *Manager) deny(actor string, role models.Role, action models.AuditAction, target string, err error) error {
	m.recorder.Record(models.AuditEntry{
		Actor: actor, ActorRole: role,
		Action: action, Resource: "user",
		ResourceID:   sql.NullString{String: target, Valid: true},
		Result:       models.ResultFailure,
		ErrorMessage: sql.NullString{String: err.Error(), Valid: true},
	})
	return err
}

// Register creates a plain user account. Self-registration is not a
// privileged action and is not audited.
func (m *Manager) Register(username, password string) error {
	hash, err := utils.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	tx, err := m.ds.DB.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && rerr != sql.ErrTxDone {
			m.logger.Error("Failed to rollback registration", "error", rerr)
		}
	}()
	if err := m.ds.CreateAccountTx(tx, username, models.RoleUser, hash); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateStaff creates a moderator or admin account. The capability depends
// on the role being granted.
func (m *Manager) CreateStaff(actor string, actorRole models.Role, username, password string, role models.Role) error {
	cap := auth.CapCreateModerator
	if role == models.RoleAdmin {
		cap = auth.CapCreateAdmin
	}
	resolved, err := m.registry.Require(actor, actorRole, cap)
	if err != nil {
		return m.deny(actor, resolved, models.ActionUserCreated, username, err)
	}

	hash, err := utils.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	tx, err := m.ds.DB.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && rerr != sql.ErrTxDone {
			m.logger.Error("Failed to rollback staff creation", "error", rerr)
		}
	}()
	if err := m.ds.CreateAccountTx(tx, username, role, hash); err != nil {
		return err
	}
	if err := m.recorder.RecordTx(tx, models.AuditEntry{
		Actor: actor, ActorRole: resolved,
		Action: models.ActionUserCreated, Resource: "user",
		ResourceID: sql.NullString{String: username, Valid: true},
		Details:    fmt.Sprintf("role: %s", role),
		Result:     models.ResultSuccess,
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	m.logger.Info("Staff account created", "username", username, "role", role, "by", actor)
	return nil
}

// DeleteAccount removes an account. The capability depends on the target's
// role; removing the last administrator is refused.
func (m *Manager) DeleteAccount(actor string, actorRole models.Role, target string) error {
	targetRole := m.registry.ResolveRole(target)
	cap := auth.CapDeleteModerator
	if targetRole == models.RoleAdmin {
		cap = auth.CapDeleteAdmin
	}
	resolved, err := m.registry.Require(actor, actorRole, cap)
	if err != nil {
		return m.deny(actor, resolved, models.ActionUserDeleted, target, err)
	}

	tx, err := m.ds.DB.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && rerr != sql.ErrTxDone {
			m.logger.Error("Failed to rollback account deletion", "error", rerr)
		}
	}()
	if err := m.ds.DeleteAccountTx(tx, target); err != nil {
		if errors.Is(err, database.ErrLastAdmin) {
			// Invariant violation, not a denial: audit and surface the
			// specific, actionable message.
			m.recorder.Record(models.AuditEntry{
				Actor: actor, ActorRole: resolved,
				Action: models.ActionUserDeleted, Resource: "user",
				ResourceID:   sql.NullString{String: target, Valid: true},
				Result:       models.ResultFailure,
				ErrorMessage: sql.NullString{String: err.Error(), Valid: true},
			})
		}
		return err
	}
	if err := m.recorder.RecordTx(tx, models.AuditEntry{
		Actor: actor, ActorRole: resolved,
		Action: models.ActionUserDeleted, Resource: "user",
		ResourceID: sql.NullString{String: target, Valid: true},
		Details:    fmt.Sprintf("deleted role: %s", targetRole),
		Result:     models.ResultSuccess,
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	m.logger.Info("Account deleted", "username", target, "by", actor)
	return nil
}

// ChangeRole updates an account's role. It is strictly a metadata update:
// credentials are never altered as a side effect of a role change.
func (m *Manager) ChangeRole(actor string, actorRole models.Role, target string, newRole models.Role) error {
	resolved, err := m.registry.Require(actor, actorRole, auth.CapChangeUserRole)
	if err != nil {
		return m.deny(actor, resolved, models.ActionUserRoleChanged, target, err)
	}

	tx, err := m.ds.DB.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && rerr != sql.ErrTxDone {
			m.logger.Error("Failed to rollback role change", "error", rerr)
		}
	}()
	oldRole, err := m.ds.UpdateRoleTx(tx, target, newRole)
	if err != nil {
		if errors.Is(err, database.ErrLastAdmin) {
			m.recorder.Record(models.AuditEntry{
				Actor: actor, ActorRole: resolved,
				Action: models.ActionUserRoleChanged, Resource: "user",
				ResourceID:   sql.NullString{String: target, Valid: true},
				Result:       models.ResultFailure,
				ErrorMessage: sql.NullString{String: err.Error(), Valid: true},
			})
		}
		return err
	}
	if err := m.recorder.RecordTx(tx, models.AuditEntry{
		Actor: actor, ActorRole: resolved,
		Action: models.ActionUserRoleChanged, Resource: "user",
		ResourceID: sql.NullString{String: target, Valid: true},
		Details:    fmt.Sprintf("%s -> %s", oldRole, newRole),
		Result:     models.ResultSuccess,
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	m.logger.Info("Role changed", "username", target, "from", oldRole, "to", newRole, "by", actor)
	return nil
}

// ChangePassword replaces a password hash. An account may change its own
// password; changing anyone else's requires CHANGE_USER_ROLE.
func (m *Manager) ChangePassword(actor string, actorRole models.Role, target, newPassword string) error {
	resolved := actorRole
	if actor != target {
		var err error
		resolved, err = m.registry.Require(actor, actorRole, auth.CapChangeUserRole)
		if err != nil {
			return m.deny(actor, resolved, models.ActionPasswordChanged, target, err)
		}
	}

	hash, err := utils.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	tx, err := m.ds.DB.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && rerr != sql.ErrTxDone {
			m.logger.Error("Failed to rollback password change", "error", rerr)
		}
	}()
	if err := m.ds.UpdatePasswordTx(tx, target, hash); err != nil {
		return err
	}
	if err := m.recorder.RecordTx(tx, models.AuditEntry{
		Actor: actor, ActorRole: resolved,
		Action: models.ActionPasswordChanged, Resource: "user",
		ResourceID: sql.NullString{String: target, Valid: true},
		Result:     models.ResultSuccess,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// Authenticate verifies a username/password pair against the store.
func (m *Manager) Authenticate(username, password string) (*models.Account, error) {
	account, err := m.ds.GetAccount(username)
	if err != nil {
		return nil, ErrBadCredentials
	}
	if !utils.CheckPassword(password, account.PasswordHash) {
		return nil, ErrBadCredentials
	}
	return account, nil
}
