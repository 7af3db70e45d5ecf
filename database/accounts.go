// hearth/database/accounts.go
package database

import (
	"database/sql"
	"errors"
	"fmt"

	"hearth/models"
	"hearth/utils"
)

// ErrLastAdmin is returned when a deletion or demotion would leave the
// system without any administrator.
var ErrLastAdmin = errors.New("cannot remove the last administrator")

// ErrAccountExists is returned when creating an account whose username is
// already taken.
var ErrAccountExists = errors.New("account already exists")

// GetAccount fetches a single account by username.
func (ds *DatabaseService) GetAccount(username string) (*models.Account, error) {
	var a models.Account
	err := ds.DB.QueryRow(
		"SELECT username, role, password_hash, registered, created_at FROM accounts WHERE username = ?",
		username).Scan(&a.Username, &a.Role, &a.PasswordHash, &a.Registered, &a.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("account '%s' not found", username)
		}
		return nil, fmt.Errorf("db error getting account '%s': %w", username, err)
	}
	return &a, nil
}

// ListAccounts returns all accounts ordered by role rank then username.
func (ds *DatabaseService) ListAccounts() ([]models.Account, error) {
	rows, err := ds.DB.Query(`
		SELECT username, role, password_hash, registered, created_at FROM accounts
		ORDER BY CASE role WHEN 'admin' THEN 0 WHEN 'moderator' THEN 1 ELSE 2 END, username`)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			ds.logger.Error("Failed to close rows in ListAccounts", "error", err)
		}
	}()

	var accounts []models.Account
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.Username, &a.Role, &a.PasswordHash, &a.Registered, &a.CreatedAt); err != nil {
			ds.logger.Error("Failed to scan account row", "error", err)
			continue
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// CreateAccountTx inserts a new account inside an existing transaction.
func (ds *DatabaseService) CreateAccountTx(tx *sql.Tx, username string, role models.Role, passwordHash string) error {
	if !role.Valid() {
		return fmt.Errorf("invalid role %q", role)
	}
	var exists int
	if err := tx.QueryRow("SELECT COUNT(*) FROM accounts WHERE username = ?", username).Scan(&exists); err != nil {
		return err
	}
	if exists > 0 {
		return ErrAccountExists
	}
	_, err := tx.Exec("INSERT INTO accounts (username, role, password_hash, registered, created_at) VALUES (?, ?, ?, 1, ?)",
		username, role, passwordHash, utils.GetSQLTime())
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

// DeleteAccountTx removes an account, refusing to remove the last admin.
func (ds *DatabaseService) DeleteAccountTx(tx *sql.Tx, username string) error {
	var role models.Role
	if err := tx.QueryRow("SELECT role FROM accounts WHERE username = ?", username).Scan(&role); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("account '%s' not found", username)
		}
		return err
	}
	if role == models.RoleAdmin {
		var adminCount int
		if err := tx.QueryRow("SELECT COUNT(*) FROM accounts WHERE role = 'admin'").Scan(&adminCount); err != nil {
			return err
		}
		if adminCount <= 1 {
			return ErrLastAdmin
		}
	}
	if _, err := tx.Exec("DELETE FROM accounts WHERE username = ?", username); err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return nil
}

// UpdateRoleTx changes an account's role. It is a metadata-only update:
// credentials are never altered as a side effect of a role change. Demoting
// the last admin is refused.
func (ds *DatabaseService) UpdateRoleTx(tx *sql.Tx, username string, newRole models.Role) (models.Role, error) {
	if !newRole.Valid() {
		return "", fmt.Errorf("invalid role %q", newRole)
	}
	var oldRole models.Role
	if err := tx.QueryRow("SELECT role FROM accounts WHERE username = ?", username).Scan(&oldRole); err != nil {
		if err == sql.ErrNoRows {
			return "", fmt.Errorf("account '%s' not found", username)
		}
		return "", err
	}
	if oldRole == models.RoleAdmin && newRole != models.RoleAdmin {
		var adminCount int
		if err := tx.QueryRow("SELECT COUNT(*) FROM accounts WHERE role = 'admin'").Scan(&adminCount); err != nil {
			return "", err
		}
		if adminCount <= 1 {
			return "", ErrLastAdmin
		}
	}
	if _, err := tx.Exec("UPDATE accounts SET role = ? WHERE username = ?", newRole, username); err != nil {
		return "", fmt.Errorf("failed to update role: %w", err)
	}
	return oldRole, nil
}

// UpdatePasswordTx replaces an account's password hash.
func (ds *DatabaseService) UpdatePasswordTx(tx *sql.Tx, username, passwordHash string) error {
	res, err := tx.Exec("UPDATE accounts SET password_hash = ? WHERE username = ?", passwordHash, username)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("account '%s' not found", username)
	}
	return nil
}

// EnsureBootstrapAdmin creates the initial admin account if no admin exists.
// Called once at startup; a no-op on an already-provisioned store.
func (ds *DatabaseService) EnsureBootstrapAdmin(username, passwordHash string) error {
	var adminCount int
	if err := ds.DB.QueryRow("SELECT COUNT(*) FROM accounts WHERE role = 'admin'").Scan(&adminCount); err != nil {
		return err
	}
	if adminCount > 0 {
		return nil
	}
	tx, err := ds.DB.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && rerr != sql.ErrTxDone {
			ds.logger.Error("Failed to rollback bootstrap admin transaction", "error", rerr)
		}
	}()
	if err := ds.CreateAccountTx(tx, username, models.RoleAdmin, passwordHash); err != nil {
		return err
	}
	ds.logger.Info("Bootstrap admin account created", "username", username)
	return tx.Commit()
}
