package auth

import (
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"hearth/database"
	"hearth/models"
)

func newTestRegistry(t *testing.T) (*Registry, *database.DatabaseService) {
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
	return NewRegistry(ds, logger), ds
}

func createAccount(t *testing.T, ds *database.DatabaseService, username string, role models.Role) {
	t.Helper()
	tx, err := ds.DB.Begin()
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && rerr != sql.ErrTxDone {
			t.Fatal(rerr)
		}
	}()
	if err := ds.CreateAccountTx(tx, username, role, "x"); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func TestRoleOrdering(t *testing.T) {
	if !(models.RoleUser.Rank() < models.RoleModerator.Rank()) {
		t.Error("user must rank below moderator")
	}
	if !(models.RoleModerator.Rank() < models.RoleAdmin.Rank()) {
		t.Error("moderator must rank below admin")
	}
	if models.Role("janitor").Rank() != 0 {
		t.Error("unknown role must rank below every known role")
	}
}

// Higher roles hold every capability of lower roles: there is no capability
// a moderator has that an admin lacks.
func TestCapabilityMonotonicity(t *testing.T) {
	reg, _ := newTestRegistry(t)

	for _, cap := range AllCapabilities() {
		modDecision, err := reg.Check("m", models.RoleModerator, cap)
		if err != nil {
			t.Fatalf("Check(%s) failed: %v", cap, err)
		}
		adminDecision, err := reg.Check("a", models.RoleAdmin, cap)
		if err != nil {
			t.Fatalf("Check(%s) failed: %v", cap, err)
		}
		if modDecision.Allowed && !adminDecision.Allowed {
			t.Errorf("Capability %s allowed for moderator but not admin", cap)
		}
		userDecision, err := reg.Check("u", models.RoleUser, cap)
		if err != nil {
			t.Fatal(err)
		}
		if userDecision.Allowed {
			t.Errorf("Capability %s must never be granted to a plain user", cap)
		}
	}
}

func TestCheckKnownCapabilities(t *testing.T) {
	reg, _ := newTestRegistry(t)

	cases := []struct {
		role    models.Role
		cap     Capability
		allowed bool
	}{
		{models.RoleModerator, CapModeratePosts, true},
		{models.RoleModerator, CapBanUsers, true},
		{models.RoleModerator, CapCreateAdmin, false},
		{models.RoleModerator, CapViewAuditLogs, false},
		{models.RoleAdmin, CapCreateAdmin, true},
		{models.RoleAdmin, CapViewAuditLogs, true},
		{models.RoleUser, CapModeratePosts, false},
	}
	for _, tc := range cases {
		d, err := reg.Check("someone", tc.role, tc.cap)
		if err != nil {
			t.Fatalf("Check(%s, %s) errored: %v", tc.role, tc.cap, err)
		}
		if d.Allowed != tc.allowed {
			t.Errorf("Check(%s, %s): expected allowed=%v, got %v (%s)", tc.role, tc.cap, tc.allowed, d.Allowed, d.Reason)
		}
	}
}

func TestUnknownCapabilityIsHardError(t *testing.T) {
	reg, _ := newTestRegistry(t)

	_, err := reg.Check("root", models.RoleAdmin, Capability("LAUNCH_MISSILES"))
	if !errors.Is(err, ErrUnknownCapability) {
		t.Fatalf("Expected ErrUnknownCapability, got %v", err)
	}

	// Never a silent denial: Require surfaces the same hard error, not
	// ErrDenied.
	_, err = reg.Require("root", models.RoleAdmin, Capability("LAUNCH_MISSILES"))
	if errors.Is(err, ErrDenied) {
		t.Fatal("Unknown capability must not be reported as a plain denial")
	}
	if !errors.Is(err, ErrUnknownCapability) {
		t.Fatalf("Expected ErrUnknownCapability from Require, got %v", err)
	}
}

func TestResolveRole(t *testing.T) {
	reg, ds := newTestRegistry(t)
	createAccount(t, ds, "mia", models.RoleModerator)

	t.Run("account row wins", func(t *testing.T) {
		if got := reg.ResolveRole("mia"); got != models.RoleModerator {
			t.Errorf("Expected moderator, got %s", got)
		}
	})
	t.Run("absent actor is a plain user", func(t *testing.T) {
		if got := reg.ResolveRole("stranger"); got != models.RoleUser {
			t.Errorf("Expected user, got %s", got)
		}
	})
	t.Run("empty session role triggers resolution", func(t *testing.T) {
		d, err := reg.Check("mia", "", CapModeratePosts)
		if err != nil {
			t.Fatal(err)
		}
		if !d.Allowed || d.ResolvedRole != models.RoleModerator {
			t.Errorf("Expected resolution to moderator, got %+v", d)
		}
	})
}

func TestRequireDenialWrapsErrDenied(t *testing.T) {
	reg, _ := newTestRegistry(t)

	role, err := reg.Require("pat", models.RoleUser, CapBanUsers)
	if !errors.Is(err, ErrDenied) {
		t.Fatalf("Expected ErrDenied, got %v", err)
	}
	if role != models.RoleUser {
		t.Errorf("Expected resolved role user, got %s", role)
	}
}
