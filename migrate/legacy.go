// hearth/migrate/legacy.go
package migrate

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"hearth/database"
	"hearth/models"
)

// ErrUnmappedCategory aborts a migration when a legacy post carries a
// category with no board mapping. Silent remapping would misfile content,
// so this fails loud.
var ErrUnmappedCategory = errors.New("legacy category has no board mapping")

// categoryBoards maps old flat-forum categories onto the fixed board set.
var categoryBoards = map[string]string{
	"general":  "general",
	"chat":     "general",
	"games":    "games",
	"arcade":   "games",
	"feelings": "feelings",
	"mood":     "feelings",
	"ideas":    "ideas",
	"plans":    "ideas",
	"random":   "random",
	"misc":     "random",
}

// Migrator performs the one-shot transform of the flat legacy post+reply
// dataset into the Board → Topic → Post hierarchy.
type Migrator struct {
	ds     *database.DatabaseService
	logger *slog.Logger
}

func NewMigrator(ds *database.DatabaseService, logger *slog.Logger) *Migrator {
	return &Migrator{ds: ds, logger: logger}
}

// Run migrates legacy data if, and only if, normalized storage is empty and
// legacy rows exist. The entire migration is one transaction: on any error
// nothing is persisted. Legacy tables are left untouched for manual
// verification. Returns the number of legacy posts migrated (0 when
// skipped).
func (m *Migrator) Run() (int, error) {
	var topicCount int
	if err := m.ds.DB.QueryRow("SELECT COUNT(*) FROM topics").Scan(&topicCount); err != nil {
		return 0, fmt.Errorf("could not inspect normalized storage: %w", err)
	}
	if topicCount > 0 {
		// Normalized data already exists: skip unconditionally. Idempotence
		// comes from this check, not from comparing content.
		return 0, nil
	}

	legacy, err := m.loadLegacyPosts()
	if err != nil {
		return 0, err
	}
	if len(legacy) == 0 {
		return 0, nil
	}

	m.logger.Info("Starting legacy forum migration", "legacy_posts", len(legacy))

	tx, err := m.ds.DB.Begin()
	if err != nil {
		return 0, err
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && rerr != sql.ErrTxDone {
			m.logger.Error("Failed to rollback migration transaction", "error", rerr)
		}
	}()

	touched := make(map[string]bool)
	for _, lp := range legacy {
		boardID, ok := categoryBoards[lp.Category]
		if !ok {
			return 0, fmt.Errorf("%w: %q (legacy post %d)", ErrUnmappedCategory, lp.Category, lp.ID)
		}
		touched[boardID] = true

		topicID, _, err := m.ds.CreateTopicTx(tx, boardID, lp.Title, lp.Author, lp.Content, lp.CreatedAt, lp.Reactions)
		if err != nil {
			return 0, fmt.Errorf("failed to migrate legacy post %d: %w", lp.ID, err)
		}
		for _, reply := range lp.Replies {
			if _, err := m.ds.AddPostTx(tx, topicID, boardID, reply.Author, reply.Content, reply.CreatedAt, reply.Reactions); err != nil {
				return 0, fmt.Errorf("failed to migrate reply %d of legacy post %d: %w", reply.ID, lp.ID, err)
			}
		}
	}

	// Counters carried through the per-row inserts are discarded: rebuild
	// every touched board's counts and last-post purely from the generated
	// topics and posts. Never trust a running counter from legacy data.
	for boardID := range touched {
		if err := m.ds.RecomputeBoardCountersTx(tx, boardID); err != nil {
			return 0, fmt.Errorf("failed to recompute counters for board %q: %w", boardID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit migration: %w", err)
	}

	m.logger.Info("Legacy forum migration complete", "migrated_posts", len(legacy), "boards", len(touched))
	return len(legacy), nil
}

// loadLegacyPosts reads the flat dataset with its replies attached.
func (m *Migrator) loadLegacyPosts() ([]models.LegacyPost, error) {
	rows, err := m.ds.DB.Query(
		"SELECT id, category, title, author, content, reactions, created_at FROM legacy_posts ORDER BY id ASC")
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			m.logger.Error("Failed to close rows loading legacy posts", "error", cerr)
		}
	}()

	var posts []models.LegacyPost
	index := make(map[int64]int)
	for rows.Next() {
		var lp models.LegacyPost
		var reactions string
		if err := rows.Scan(&lp.ID, &lp.Category, &lp.Title, &lp.Author, &lp.Content, &reactions, &lp.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan legacy post: %w", err)
		}
		lp.Reactions, err = decodeReactions(reactions)
		if err != nil {
			return nil, fmt.Errorf("legacy post %d: %w", lp.ID, err)
		}
		index[lp.ID] = len(posts)
		posts = append(posts, lp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(posts) == 0 {
		return posts, nil
	}

	replyRows, err := m.ds.DB.Query(
		"SELECT id, legacy_post_id, author, content, reactions, created_at FROM legacy_replies ORDER BY legacy_post_id ASC, id ASC")
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := replyRows.Close(); cerr != nil {
			m.logger.Error("Failed to close rows loading legacy replies", "error", cerr)
		}
	}()

	for replyRows.Next() {
		var r models.LegacyReply
		var parentID int64
		var reactions string
		if err := replyRows.Scan(&r.ID, &parentID, &r.Author, &r.Content, &reactions, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan legacy reply: %w", err)
		}
		r.Reactions, err = decodeReactions(reactions)
		if err != nil {
			return nil, fmt.Errorf("legacy reply %d: %w", r.ID, err)
		}
		i, ok := index[parentID]
		if !ok {
			return nil, fmt.Errorf("legacy reply %d references missing legacy post %d", r.ID, parentID)
		}
		posts[i].Replies = append(posts[i].Replies, r)
	}
	return posts, replyRows.Err()
}

// decodeReactions parses a legacy reactions column strictly. The migration
// is all-or-nothing, so malformed data aborts instead of quietly dropping
// reactions.
func decodeReactions(raw string) (map[string]int, error) {
	reactions := map[string]int{}
	if raw == "" {
		return reactions, nil
	}
	if err := json.Unmarshal([]byte(raw), &reactions); err != nil {
		return nil, fmt.Errorf("malformed reactions payload %q: %w", raw, err)
	}
	return reactions, nil
}
