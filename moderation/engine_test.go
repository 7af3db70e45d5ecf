package moderation

import (
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"testing"

	"hearth/audit"
	"hearth/auth"
	"hearth/config"
	"hearth/database"
	"hearth/models"
	"hearth/utils"
)

type testStack struct {
	ds       *database.DatabaseService
	registry *auth.Registry
	recorder *audit.Recorder
	engine   *Engine
	bans     *BanManager
}

func newTestStack(t *testing.T) *testStack {
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
	return &testStack{
		ds:       ds,
		registry: registry,
		recorder: recorder,
		engine:   NewEngine(ds, registry, recorder, logger),
		bans:     NewBanManager(ds, registry, recorder, logger),
	}
}

func (s *testStack) createAccount(t *testing.T, username string, role models.Role) {
	t.Helper()
	tx, err := s.ds.DB.Begin()
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && rerr != sql.ErrTxDone {
			t.Fatal(rerr)
		}
	}()
	if err := s.ds.CreateAccountTx(tx, username, role, "x"); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func (s *testStack) createPost(t *testing.T, boardID, author, content string) (topicID, postID int64) {
	t.Helper()
	tx, err := s.ds.DB.Begin()
	if err != nil {
		t.Fatal(err)
	}
	topicID, postID, err = s.ds.CreateTopicTx(tx, boardID, "topic", author, content, utils.GetSQLTime(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	return topicID, postID
}

func (s *testStack) auditCount(t *testing.T, action models.AuditAction) int {
	t.Helper()
	var n int
	if err := s.ds.DB.QueryRow("SELECT COUNT(*) FROM audit_log WHERE action = ?", action).Scan(&n); err != nil {
		t.Fatal(err)
	}
	return n
}

func TestRetentionCapHoldsAcrossTransitions(t *testing.T) {
	s := newTestStack(t)
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	recorder := audit.NewRecorder(s.ds, s.registry, 5, logger)
	engine := NewEngine(s.ds, s.registry, recorder, logger)

	s.createAccount(t, "mod", models.RoleModerator)
	_, postID := s.createPost(t, "general", "poster", "spicy take")

	for i := 0; i < 20; i++ {
		if _, err := engine.HidePost("mod", models.RoleModerator, postID, "cooldown"); err != nil {
			t.Fatalf("Toggle %d failed: %v", i, err)
		}
	}

	var total int
	if err := s.ds.DB.QueryRow("SELECT COUNT(*) FROM audit_log").Scan(&total); err != nil {
		t.Fatal(err)
	}
	if total != 5 {
		t.Fatalf("Expected the trail capped at 5 after 20 transitions, got %d entries", total)
	}
}

func TestHidePostToggle(t *testing.T) {
	s := newTestStack(t)
	s.createAccount(t, "mod", models.RoleModerator)
	_, postID := s.createPost(t, "general", "poster", "spicy take")

	hidden, err := s.engine.HidePost("mod", models.RoleModerator, postID, "too spicy")
	if err != nil {
		t.Fatal(err)
	}
	if !hidden {
		t.Fatal("First toggle should hide the post")
	}

	t.Run("non-moderator sees placeholder", func(t *testing.T) {
		p, err := s.ds.GetPost(postID, models.RoleUser)
		if err != nil {
			t.Fatal(err)
		}
		if p.Content != config.HiddenPlaceholder {
			t.Errorf("Expected placeholder, got %q", p.Content)
		}
	})

	t.Run("even number of toggles restores visibility", func(t *testing.T) {
		hidden, err := s.engine.HidePost("mod", models.RoleModerator, postID, "")
		if err != nil {
			t.Fatal(err)
		}
		if hidden {
			t.Fatal("Second toggle should unhide")
		}
		p, err := s.ds.GetPost(postID, models.RoleUser)
		if err != nil {
			t.Fatal(err)
		}
		if p.Content != "spicy take" {
			t.Errorf("Original content should be back, got %q", p.Content)
		}
	})

	t.Run("both directions audited distinctly", func(t *testing.T) {
		if n := s.auditCount(t, models.ActionPostHidden); n != 1 {
			t.Errorf("Expected 1 post_hidden entry, got %d", n)
		}
		if n := s.auditCount(t, models.ActionPostUnhidden); n != 1 {
			t.Errorf("Expected 1 post_unhidden entry, got %d", n)
		}
	})

	t.Run("plain user denied and the attempt audited", func(t *testing.T) {
		_, err := s.engine.HidePost("rando", models.RoleUser, postID, "")
		if !errors.Is(err, auth.ErrDenied) {
			t.Fatalf("Expected ErrDenied, got %v", err)
		}
		var n int
		if err := s.ds.DB.QueryRow(
			"SELECT COUNT(*) FROM audit_log WHERE action = ? AND result = ?",
			models.ActionPostHidden, models.ResultFailure).Scan(&n); err != nil {
			t.Fatal(err)
		}
		if n != 1 {
			t.Errorf("Expected the denied attempt in the audit trail, got %d entries", n)
		}
	})
}

func TestEditPostKeepsImmediatelyPriorContent(t *testing.T) {
	s := newTestStack(t)
	s.createAccount(t, "mod", models.RoleModerator)
	_, postID := s.createPost(t, "general", "poster", "v1")

	if err := s.engine.EditPost("mod", models.RoleModerator, postID, "v2", "cleanup"); err != nil {
		t.Fatal(err)
	}
	if err := s.engine.EditPost("mod", models.RoleModerator, postID, "v3", "more cleanup"); err != nil {
		t.Fatal(err)
	}

	p, err := s.ds.GetPost(postID, models.RoleModerator)
	if err != nil {
		t.Fatal(err)
	}
	if p.Content != "v3" {
		t.Errorf("Expected content v3, got %q", p.Content)
	}
	// original_content tracks the text before the most recent edit, not the
	// first-ever text.
	if !p.OriginalContent.Valid || p.OriginalContent.String != "v2" {
		t.Errorf("Expected original_content v2, got %+v", p.OriginalContent)
	}
	if !p.Edited {
		t.Error("Edited flag should be sticky")
	}

	actions, err := s.engine.ActionsFor(models.TargetPost, strconv.FormatInt(postID, 10))
	if err != nil {
		t.Fatal(err)
	}
	var edits int
	for _, a := range actions {
		if a.Type == models.ModActionEdit {
			edits++
		}
	}
	if edits != 2 {
		t.Errorf("Expected 2 append-only edit actions, got %d", edits)
	}
}

func TestDeletePostRequiresAdmin(t *testing.T) {
	s := newTestStack(t)
	s.createAccount(t, "mod", models.RoleModerator)
	s.createAccount(t, "root", models.RoleAdmin)
	_, postID := s.createPost(t, "general", "poster", "doomed")

	t.Run("moderator may hide but not delete", func(t *testing.T) {
		err := s.engine.DeletePost("mod", models.RoleModerator, postID, "nope")
		if !errors.Is(err, auth.ErrDenied) {
			t.Fatalf("Expected ErrDenied, got %v", err)
		}
		if _, err := s.ds.GetPost(postID, models.RoleAdmin); err != nil {
			t.Fatal("Post must survive a denied deletion")
		}
	})

	t.Run("admin delete adjusts counters", func(t *testing.T) {
		before, err := s.ds.GetBoard("general")
		if err != nil {
			t.Fatal(err)
		}
		if err := s.engine.DeletePost("root", models.RoleAdmin, postID, "violation"); err != nil {
			t.Fatal(err)
		}
		if _, err := s.ds.GetPost(postID, models.RoleAdmin); err == nil {
			t.Fatal("Post should be gone")
		}
		after, err := s.ds.GetBoard("general")
		if err != nil {
			t.Fatal(err)
		}
		if after.PostCount != before.PostCount-1 {
			t.Errorf("Expected post count %d, got %d", before.PostCount-1, after.PostCount)
		}
	})

	t.Run("action history outlives the post", func(t *testing.T) {
		actions, err := s.engine.ActionsFor(models.TargetPost, strconv.FormatInt(postID, 10))
		if err != nil {
			t.Fatal(err)
		}
		if len(actions) == 0 || actions[len(actions)-1].Type != models.ModActionDelete {
			t.Error("Expected a surviving delete action record")
		}
	})
}

func TestTopicToggles(t *testing.T) {
	s := newTestStack(t)
	s.createAccount(t, "mod", models.RoleModerator)
	topicID, _ := s.createPost(t, "games", "poster", "round one")

	pinned, err := s.engine.PinTopic("mod", models.RoleModerator, topicID)
	if err != nil {
		t.Fatal(err)
	}
	if !pinned {
		t.Error("Expected pinned after first toggle")
	}
	locked, err := s.engine.LockTopic("mod", models.RoleModerator, topicID)
	if err != nil {
		t.Fatal(err)
	}
	if !locked {
		t.Error("Expected locked after first toggle")
	}

	topic, err := s.ds.GetTopic(topicID, models.RoleUser)
	if err != nil {
		t.Fatal(err)
	}
	if !topic.Pinned || !topic.Locked {
		t.Errorf("Expected pinned+locked, got %v/%v", topic.Pinned, topic.Locked)
	}

	if _, err := s.engine.LockTopic("mod", models.RoleModerator, topicID); err != nil {
		t.Fatal(err)
	}
	if n := s.auditCount(t, models.ActionTopicUnlocked); n != 1 {
		t.Errorf("Expected 1 topic_unlocked entry, got %d", n)
	}
}

func TestDeleteTopicCascades(t *testing.T) {
	s := newTestStack(t)
	s.createAccount(t, "root", models.RoleAdmin)
	topicID, _ := s.createPost(t, "ideas", "poster", "op")

	tx, _ := s.ds.DB.Begin()
	if _, err := s.ds.AddPostTx(tx, topicID, "ideas", "friend", "reply", utils.GetSQLTime(), nil); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	if err := s.engine.DeleteTopic("root", models.RoleAdmin, topicID, "spam"); err != nil {
		t.Fatal(err)
	}

	board, err := s.ds.GetBoard("ideas")
	if err != nil {
		t.Fatal(err)
	}
	if board.TopicCount != 0 || board.PostCount != 0 {
		t.Errorf("Expected zeroed counters after cascade, got %d/%d", board.TopicCount, board.PostCount)
	}
	var orphaned int
	if err := s.ds.DB.QueryRow("SELECT COUNT(*) FROM posts WHERE topic_id = ?", topicID).Scan(&orphaned); err != nil {
		t.Fatal(err)
	}
	if orphaned != 0 {
		t.Errorf("Expected no orphaned posts, got %d", orphaned)
	}
}

func TestWarnUser(t *testing.T) {
	s := newTestStack(t)
	s.createAccount(t, "mod", models.RoleModerator)

	if err := s.engine.WarnUser("mod", models.RoleModerator, "rowdy", "tone it down"); err != nil {
		t.Fatal(err)
	}

	actions, err := s.engine.ActionsFor(models.TargetUser, "rowdy")
	if err != nil {
		t.Fatal(err)
	}
	if len(actions) != 1 || actions[0].Type != models.ModActionWarn {
		t.Fatalf("Expected one warn action, got %+v", actions)
	}
	if n := s.auditCount(t, models.ActionUserWarned); n != 1 {
		t.Errorf("Expected 1 user_warned audit entry, got %d", n)
	}
}
