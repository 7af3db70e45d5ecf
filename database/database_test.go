package database

import (
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"hearth/models"
	"hearth/utils"
)

func newTestDB(t *testing.T) *DatabaseService {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db") + "?_journal_mode=WAL&_foreign_keys=on"
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	ds, err := InitDB(dbPath, dir, logger)
	if err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}
	t.Cleanup(func() {
		if err := ds.DB.Close(); err != nil {
			t.Errorf("Failed to close test database: %v", err)
		}
	})
	return ds
}

func mustCreateAccount(t *testing.T, ds *DatabaseService, username string, role models.Role) {
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
		t.Fatalf("Failed to create account %s: %v", username, err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func TestInitDBSeedsBoards(t *testing.T) {
	ds := newTestDB(t)

	boards, err := ds.ListBoards()
	if err != nil {
		t.Fatal(err)
	}
	if len(boards) != len(DefaultBoards) {
		t.Fatalf("Expected %d seeded boards, got %d", len(DefaultBoards), len(boards))
	}
	for i, b := range boards {
		if b.TopicCount != 0 || b.PostCount != 0 {
			t.Errorf("Board %s should start with zero counters, got %d/%d", b.ID, b.TopicCount, b.PostCount)
		}
		if b.ID != DefaultBoards[i].ID {
			t.Errorf("Board %d: expected id %s, got %s", i, DefaultBoards[i].ID, b.ID)
		}
	}
}

func TestLastAdminGuard(t *testing.T) {
	ds := newTestDB(t)
	mustCreateAccount(t, ds, "alice", models.RoleAdmin)

	t.Run("cannot delete last admin", func(t *testing.T) {
		tx, _ := ds.DB.Begin()
		defer func() { _ = tx.Rollback() }()
		if err := ds.DeleteAccountTx(tx, "alice"); !errors.Is(err, ErrLastAdmin) {
			t.Fatalf("Expected ErrLastAdmin, got %v", err)
		}
	})

	t.Run("cannot demote last admin", func(t *testing.T) {
		tx, _ := ds.DB.Begin()
		defer func() { _ = tx.Rollback() }()
		if _, err := ds.UpdateRoleTx(tx, "alice", models.RoleModerator); !errors.Is(err, ErrLastAdmin) {
			t.Fatalf("Expected ErrLastAdmin, got %v", err)
		}
	})

	t.Run("second admin unblocks both", func(t *testing.T) {
		mustCreateAccount(t, ds, "bob", models.RoleAdmin)
		tx, _ := ds.DB.Begin()
		defer func() { _ = tx.Rollback() }()
		oldRole, err := ds.UpdateRoleTx(tx, "alice", models.RoleUser)
		if err != nil {
			t.Fatalf("Demotion with two admins should succeed: %v", err)
		}
		if oldRole != models.RoleAdmin {
			t.Errorf("Expected old role admin, got %s", oldRole)
		}
	})
}

func TestRoleChangeKeepsPassword(t *testing.T) {
	ds := newTestDB(t)
	mustCreateAccount(t, ds, "root", models.RoleAdmin)
	mustCreateAccount(t, ds, "carol", models.RoleModerator)

	before, err := ds.GetAccount("carol")
	if err != nil {
		t.Fatal(err)
	}

	tx, _ := ds.DB.Begin()
	if _, err := ds.UpdateRoleTx(tx, "carol", models.RoleUser); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	after, err := ds.GetAccount("carol")
	if err != nil {
		t.Fatal(err)
	}
	if after.Role != models.RoleUser {
		t.Errorf("Expected role user, got %s", after.Role)
	}
	if after.PasswordHash != before.PasswordHash {
		t.Error("Role change must not touch the password hash")
	}
}

func TestDuplicateAccountRejected(t *testing.T) {
	ds := newTestDB(t)
	mustCreateAccount(t, ds, "dave", models.RoleUser)

	tx, _ := ds.DB.Begin()
	defer func() { _ = tx.Rollback() }()
	if err := ds.CreateAccountTx(tx, "dave", models.RoleUser, "y"); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("Expected ErrAccountExists, got %v", err)
	}
}

func TestEnsureBootstrapAdmin(t *testing.T) {
	ds := newTestDB(t)

	if err := ds.EnsureBootstrapAdmin("admin", "hash1"); err != nil {
		t.Fatal(err)
	}
	a, err := ds.GetAccount("admin")
	if err != nil {
		t.Fatal(err)
	}
	if a.Role != models.RoleAdmin {
		t.Fatalf("Expected bootstrap account to be admin, got %s", a.Role)
	}

	// Second call is a no-op even with a different username.
	if err := ds.EnsureBootstrapAdmin("other", "hash2"); err != nil {
		t.Fatal(err)
	}
	if _, err := ds.GetAccount("other"); err == nil {
		t.Error("Bootstrap must not create a second admin when one exists")
	}
}

func TestTopicAndPostCounters(t *testing.T) {
	ds := newTestDB(t)
	now := utils.GetSQLTime()

	tx, _ := ds.DB.Begin()
	topicID, _, err := ds.CreateTopicTx(tx, "general", "hello", "eve", "first", now, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ds.AddPostTx(tx, topicID, "general", "frank", "second", now, nil); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	board, err := ds.GetBoard("general")
	if err != nil {
		t.Fatal(err)
	}
	if board.TopicCount != 1 || board.PostCount != 2 {
		t.Errorf("Expected counters 1/2, got %d/%d", board.TopicCount, board.PostCount)
	}
	if !board.LastPostID.Valid {
		t.Error("Expected last_post_id to be set")
	}

	t.Run("recompute matches incremental counts", func(t *testing.T) {
		tx, _ := ds.DB.Begin()
		if err := ds.RecomputeBoardCountersTx(tx, "general"); err != nil {
			t.Fatal(err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatal(err)
		}
		again, err := ds.GetBoard("general")
		if err != nil {
			t.Fatal(err)
		}
		if again.TopicCount != board.TopicCount || again.PostCount != board.PostCount {
			t.Errorf("Recompute drifted: %d/%d vs %d/%d",
				again.TopicCount, again.PostCount, board.TopicCount, board.PostCount)
		}
	})
}

func TestHiddenContentMasking(t *testing.T) {
	ds := newTestDB(t)
	now := utils.GetSQLTime()

	tx, _ := ds.DB.Begin()
	_, postID, err := ds.CreateTopicTx(tx, "random", "secrets", "gina", "the real text", now, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tx.Exec("UPDATE posts SET hidden = 1 WHERE id = ?", postID); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	t.Run("plain user sees placeholder", func(t *testing.T) {
		p, err := ds.GetPost(postID, models.RoleUser)
		if err != nil {
			t.Fatal(err)
		}
		if p.Content == "the real text" {
			t.Error("Hidden content leaked to a plain user")
		}
		if !p.Hidden {
			t.Error("Hidden flag should still be visible")
		}
	})

	t.Run("moderator sees raw content", func(t *testing.T) {
		p, err := ds.GetPost(postID, models.RoleModerator)
		if err != nil {
			t.Fatal(err)
		}
		if p.Content != "the real text" {
			t.Errorf("Moderator should see original content, got %q", p.Content)
		}
	})

	t.Run("masking applies in topic reads too", func(t *testing.T) {
		topic, err := ds.GetTopic(1, models.RoleUser)
		if err != nil {
			t.Fatal(err)
		}
		for _, p := range topic.Posts {
			if p.ID == postID && p.Content == "the real text" {
				t.Error("Hidden content leaked through GetTopic")
			}
		}
	})
}
