package accounts

import (
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"hearth/audit"
	"hearth/auth"
	"hearth/database"
	"hearth/models"
)

func newTestManager(t *testing.T) (*Manager, *database.DatabaseService) {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	ds, err := database.InitDB(filepath.Join(dir, "test.db")+"?_journal_mode=WAL&_foreign_keys=on", dir, logger)
	if err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}
	t.Cleanup(func() {
		if err := ds.DB.Close(); err != nil {
			t.Errorf("Failed to close test database: %v", err)
		}
	})
	registry := auth.NewRegistry(ds, logger)
	recorder := audit.NewRecorder(ds, registry, 1000, logger)
	return NewManager(ds, registry, recorder, logger), ds
}

func auditCount(t *testing.T, ds *database.DatabaseService, action models.AuditAction, result models.AuditResult) int {
	t.Helper()
	var n int
	if err := ds.DB.QueryRow(
		"SELECT COUNT(*) FROM audit_log WHERE action = ? AND result = ?", action, result).Scan(&n); err != nil {
		t.Fatal(err)
	}
	return n
}

func TestRegisterAndAuthenticate(t *testing.T) {
	m, _ := newTestManager(t)

	if err := m.Register("newbie", "hunter2hunter2"); err != nil {
		t.Fatal(err)
	}

	t.Run("correct password", func(t *testing.T) {
		account, err := m.Authenticate("newbie", "hunter2hunter2")
		if err != nil {
			t.Fatal(err)
		}
		if account.Role != models.RoleUser {
			t.Errorf("Self-registered accounts must be plain users, got %s", account.Role)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		if _, err := m.Authenticate("newbie", "wrong"); !errors.Is(err, ErrBadCredentials) {
			t.Fatalf("Expected ErrBadCredentials, got %v", err)
		}
	})

	t.Run("unknown user", func(t *testing.T) {
		if _, err := m.Authenticate("nobody", "whatever"); !errors.Is(err, ErrBadCredentials) {
			t.Fatalf("Expected ErrBadCredentials, got %v", err)
		}
	})
}

func TestCreateStaff(t *testing.T) {
	m, ds := newTestManager(t)
	if err := ds.EnsureBootstrapAdmin("root", "x"); err != nil {
		t.Fatal(err)
	}

	t.Run("admin creates a moderator", func(t *testing.T) {
		if err := m.CreateStaff("root", models.RoleAdmin, "mod", "secret-secret", models.RoleModerator); err != nil {
			t.Fatal(err)
		}
		account, err := ds.GetAccount("mod")
		if err != nil {
			t.Fatal(err)
		}
		if account.Role != models.RoleModerator {
			t.Errorf("Expected moderator, got %s", account.Role)
		}
		if n := auditCount(t, ds, models.ActionUserCreated, models.ResultSuccess); n != 1 {
			t.Errorf("Expected 1 user_created entry, got %d", n)
		}
	})

	t.Run("moderator cannot create staff", func(t *testing.T) {
		err := m.CreateStaff("mod", models.RoleModerator, "mod2", "secret-secret", models.RoleModerator)
		if !errors.Is(err, auth.ErrDenied) {
			t.Fatalf("Expected ErrDenied, got %v", err)
		}
		if n := auditCount(t, ds, models.ActionUserCreated, models.ResultFailure); n != 1 {
			t.Errorf("Denied attempt must be audited, got %d failure entries", n)
		}
	})
}

func TestDeleteAccount(t *testing.T) {
	m, ds := newTestManager(t)
	if err := ds.EnsureBootstrapAdmin("root", "x"); err != nil {
		t.Fatal(err)
	}
	if err := m.CreateStaff("root", models.RoleAdmin, "mod", "secret-secret", models.RoleModerator); err != nil {
		t.Fatal(err)
	}

	t.Run("admin deletes a moderator", func(t *testing.T) {
		if err := m.DeleteAccount("root", models.RoleAdmin, "mod"); err != nil {
			t.Fatal(err)
		}
		if _, err := ds.GetAccount("mod"); err == nil {
			t.Fatal("Account should be gone")
		}
	})

	t.Run("last admin cannot delete itself", func(t *testing.T) {
		err := m.DeleteAccount("root", models.RoleAdmin, "root")
		if !errors.Is(err, database.ErrLastAdmin) {
			t.Fatalf("Expected ErrLastAdmin, got %v", err)
		}
		// The refusal carries a specific message and is audited as a failure.
		if n := auditCount(t, ds, models.ActionUserDeleted, models.ResultFailure); n != 1 {
			t.Errorf("Expected the refusal in the audit trail, got %d entries", n)
		}
	})
}

func TestChangeRole(t *testing.T) {
	m, ds := newTestManager(t)
	if err := ds.EnsureBootstrapAdmin("root", "x"); err != nil {
		t.Fatal(err)
	}
	if err := m.Register("casey", "plain-password"); err != nil {
		t.Fatal(err)
	}
	before, err := ds.GetAccount("casey")
	if err != nil {
		t.Fatal(err)
	}

	t.Run("promotion is metadata only", func(t *testing.T) {
		if err := m.ChangeRole("root", models.RoleAdmin, "casey", models.RoleModerator); err != nil {
			t.Fatal(err)
		}
		after, err := ds.GetAccount("casey")
		if err != nil {
			t.Fatal(err)
		}
		if after.Role != models.RoleModerator {
			t.Errorf("Expected moderator, got %s", after.Role)
		}
		if after.PasswordHash != before.PasswordHash {
			t.Error("Role change must not rewrite credentials")
		}
	})

	t.Run("old and new role land in the audit details", func(t *testing.T) {
		var details string
		err := ds.DB.QueryRow(
			"SELECT details FROM audit_log WHERE action = ? ORDER BY id DESC LIMIT 1",
			models.ActionUserRoleChanged).Scan(&details)
		if err != nil {
			t.Fatal(err)
		}
		if details != "user -> moderator" {
			t.Errorf("Expected transition in details, got %q", details)
		}
	})

	t.Run("non-admin denied", func(t *testing.T) {
		err := m.ChangeRole("casey", models.RoleModerator, "casey", models.RoleAdmin)
		if !errors.Is(err, auth.ErrDenied) {
			t.Fatalf("Expected ErrDenied, got %v", err)
		}
	})
}

func TestChangePassword(t *testing.T) {
	m, ds := newTestManager(t)
	if err := ds.EnsureBootstrapAdmin("root", "x"); err != nil {
		t.Fatal(err)
	}
	if err := m.Register("dana", "first-password"); err != nil {
		t.Fatal(err)
	}

	t.Run("self change allowed", func(t *testing.T) {
		if err := m.ChangePassword("dana", models.RoleUser, "dana", "second-password"); err != nil {
			t.Fatal(err)
		}
		if _, err := m.Authenticate("dana", "second-password"); err != nil {
			t.Fatal("New password should authenticate")
		}
		if _, err := m.Authenticate("dana", "first-password"); err == nil {
			t.Fatal("Old password must stop working")
		}
	})

	t.Run("changing another account needs admin", func(t *testing.T) {
		err := m.ChangePassword("dana", models.RoleUser, "root", "hijacked")
		if !errors.Is(err, auth.ErrDenied) {
			t.Fatalf("Expected ErrDenied, got %v", err)
		}
		if err := m.ChangePassword("root", models.RoleAdmin, "dana", "reset-by-admin"); err != nil {
			t.Fatal(err)
		}
		if _, err := m.Authenticate("dana", "reset-by-admin"); err != nil {
			t.Fatal("Admin reset should authenticate")
		}
	})
}
