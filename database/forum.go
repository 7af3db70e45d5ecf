// hearth/database/forum.go
package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"hearth/config"
	"hearth/models"
	"hearth/utils"
)

// CanSeeHidden reports whether a viewer role gets raw hidden content.
// Enforced here, at the read boundary, not in the UI.
func CanSeeHidden(viewer models.Role) bool {
	return viewer.Rank() >= models.RoleModerator.Rank()
}

func decodeReactions(raw string) map[string]int {
	reactions := map[string]int{}
	if raw == "" {
		return reactions
	}
	if err := json.Unmarshal([]byte(raw), &reactions); err != nil {
		return map[string]int{}
	}
	return reactions
}

func encodeReactions(reactions map[string]int) string {
	if len(reactions) == 0 {
		return "{}"
	}
	raw, err := json.Marshal(reactions)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// maskPost applies the hidden-content placeholder for non-moderator viewers.
func maskPost(p *models.Post, viewer models.Role) {
	if p.Hidden && !CanSeeHidden(viewer) {
		p.Content = config.HiddenPlaceholder
		p.OriginalContent = sql.NullString{}
	}
}

// GetBoard fetches one board with its denormalized counters.
func (ds *DatabaseService) GetBoard(boardID string) (*models.Board, error) {
	var b models.Board
	err := ds.DB.QueryRow(
		"SELECT id, name, description, topic_count, post_count, last_post_id, last_post_at, sort_order FROM boards WHERE id = ?",
		boardID).Scan(&b.ID, &b.Name, &b.Description, &b.TopicCount, &b.PostCount, &b.LastPostID, &b.LastPostAt, &b.SortOrder)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("board '%s' not found", boardID)
		}
		return nil, fmt.Errorf("db error getting board '%s': %w", boardID, err)
	}
	return &b, nil
}

// ListBoards returns all boards in sort order.
func (ds *DatabaseService) ListBoards() ([]models.Board, error) {
	rows, err := ds.DB.Query(
		"SELECT id, name, description, topic_count, post_count, last_post_id, last_post_at, sort_order FROM boards ORDER BY sort_order, id")
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			ds.logger.Error("Failed to close rows in ListBoards", "error", err)
		}
	}()

	var boards []models.Board
	for rows.Next() {
		var b models.Board
		if err := rows.Scan(&b.ID, &b.Name, &b.Description, &b.TopicCount, &b.PostCount, &b.LastPostID, &b.LastPostAt, &b.SortOrder); err != nil {
			ds.logger.Error("Failed to scan board row", "error", err)
			continue
		}
		boards = append(boards, b)
	}
	return boards, rows.Err()
}

// CreateBoardTx inserts a new board.
func (ds *DatabaseService) CreateBoardTx(tx *sql.Tx, id, name, description string, sortOrder int) error {
	_, err := tx.Exec("INSERT INTO boards (id, name, description, sort_order) VALUES (?, ?, ?, ?)",
		id, name, description, sortOrder)
	if err != nil {
		return fmt.Errorf("failed to create board '%s': %w", id, err)
	}
	return nil
}

// DeleteBoardTx removes a board; topics and posts cascade via foreign keys.
func (ds *DatabaseService) DeleteBoardTx(tx *sql.Tx, boardID string) error {
	res, err := tx.Exec("DELETE FROM boards WHERE id = ?", boardID)
	if err != nil {
		return fmt.Errorf("failed to delete board '%s': %w", boardID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("board '%s' not found", boardID)
	}
	return nil
}

// UpdateBoardSettingsTx updates a board's name and description.
func (ds *DatabaseService) UpdateBoardSettingsTx(tx *sql.Tx, boardID, name, description, updatedBy string) error {
	res, err := tx.Exec("UPDATE boards SET name = ?, description = ?, updated_by = ?, updated_at = ? WHERE id = ?",
		name, description, updatedBy, utils.GetSQLTime(), boardID)
	if err != nil {
		return fmt.Errorf("failed to update board '%s': %w", boardID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("board '%s' not found", boardID)
	}
	return nil
}

// CreateTopicTx inserts a topic plus its opening post and keeps the owning
// board's counters in step, all inside the caller's transaction.
func (ds *DatabaseService) CreateTopicTx(tx *sql.Tx, boardID, title, author, content string, createdAt time.Time, reactions map[string]int) (topicID, postID int64, err error) {
	res, err := tx.Exec("INSERT INTO topics (board_id, title, author, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		boardID, title, author, createdAt, createdAt)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to insert topic: %w", err)
	}
	topicID, err = res.LastInsertId()
	if err != nil {
		return 0, 0, err
	}
	postID, err = ds.AddPostTx(tx, topicID, boardID, author, content, createdAt, reactions)
	if err != nil {
		return 0, 0, err
	}
	if _, err := tx.Exec("UPDATE boards SET topic_count = topic_count + 1 WHERE id = ?", boardID); err != nil {
		return 0, 0, fmt.Errorf("failed to bump topic count: %w", err)
	}
	return topicID, postID, nil
}

// AddPostTx inserts a post and updates the topic and board metadata the
// post implies.
func (ds *DatabaseService) AddPostTx(tx *sql.Tx, topicID int64, boardID, author, content string, createdAt time.Time, reactions map[string]int) (int64, error) {
	res, err := tx.Exec("INSERT INTO posts (topic_id, board_id, author, content, reactions, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		topicID, boardID, author, content, encodeReactions(reactions), createdAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert post: %w", err)
	}
	postID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if _, err := tx.Exec("UPDATE topics SET updated_at = ? WHERE id = ?", createdAt, topicID); err != nil {
		return 0, fmt.Errorf("failed to touch topic: %w", err)
	}
	if _, err := tx.Exec("UPDATE boards SET post_count = post_count + 1, last_post_id = ?, last_post_at = ? WHERE id = ?",
		postID, createdAt, boardID); err != nil {
		return 0, fmt.Errorf("failed to bump post count: %w", err)
	}
	return postID, nil
}

// GetPost fetches a single post, masking hidden content for the viewer.
func (ds *DatabaseService) GetPost(postID int64, viewer models.Role) (*models.Post, error) {
	var p models.Post
	var reactions string
	err := ds.DB.QueryRow(
		"SELECT id, topic_id, board_id, author, content, original_content, hidden, edited, reactions, created_at FROM posts WHERE id = ?",
		postID).Scan(&p.ID, &p.TopicID, &p.BoardID, &p.Author, &p.Content, &p.OriginalContent, &p.Hidden, &p.Edited, &reactions, &p.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("post %d not found", postID)
		}
		return nil, fmt.Errorf("db error getting post %d: %w", postID, err)
	}
	p.Reactions = decodeReactions(reactions)
	maskPost(&p, viewer)
	return &p, nil
}

// GetTopic fetches a topic and all its posts, masking hidden posts for the
// viewer.
func (ds *DatabaseService) GetTopic(topicID int64, viewer models.Role) (*models.Topic, error) {
	var t models.Topic
	err := ds.DB.QueryRow(
		"SELECT id, board_id, title, author, pinned, locked, created_at, updated_at FROM topics WHERE id = ?",
		topicID).Scan(&t.ID, &t.BoardID, &t.Title, &t.Author, &t.Pinned, &t.Locked, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("topic %d not found", topicID)
		}
		return nil, fmt.Errorf("db error getting topic %d: %w", topicID, err)
	}

	rows, err := ds.DB.Query(
		"SELECT id, topic_id, board_id, author, content, original_content, hidden, edited, reactions, created_at FROM posts WHERE topic_id = ? ORDER BY id ASC",
		topicID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			ds.logger.Error("Failed to close rows in GetTopic", "error", err)
		}
	}()

	for rows.Next() {
		var p models.Post
		var reactions string
		if err := rows.Scan(&p.ID, &p.TopicID, &p.BoardID, &p.Author, &p.Content, &p.OriginalContent, &p.Hidden, &p.Edited, &reactions, &p.CreatedAt); err != nil {
			ds.logger.Error("Failed to scan post row", "error", err)
			continue
		}
		p.Reactions = decodeReactions(reactions)
		maskPost(&p, viewer)
		t.Posts = append(t.Posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTopicsForBoard returns a board's topics, pinned first then most
// recently active.
func (ds *DatabaseService) GetTopicsForBoard(boardID string) ([]models.Topic, error) {
	rows, err := ds.DB.Query(
		"SELECT id, board_id, title, author, pinned, locked, created_at, updated_at FROM topics WHERE board_id = ? ORDER BY pinned DESC, updated_at DESC",
		boardID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			ds.logger.Error("Failed to close rows in GetTopicsForBoard", "error", err)
		}
	}()

	var topics []models.Topic
	for rows.Next() {
		var t models.Topic
		if err := rows.Scan(&t.ID, &t.BoardID, &t.Title, &t.Author, &t.Pinned, &t.Locked, &t.CreatedAt, &t.UpdatedAt); err != nil {
			ds.logger.Error("Failed to scan topic row", "error", err)
			continue
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

// RecomputeBoardCountersTx rebuilds a board's denormalized counters and
// last-post metadata from the live topic and post rows.
func (ds *DatabaseService) RecomputeBoardCountersTx(tx *sql.Tx, boardID string) error {
	var topicCount, postCount int
	if err := tx.QueryRow("SELECT COUNT(*) FROM topics WHERE board_id = ?", boardID).Scan(&topicCount); err != nil {
		return err
	}
	if err := tx.QueryRow("SELECT COUNT(*) FROM posts WHERE board_id = ?", boardID).Scan(&postCount); err != nil {
		return err
	}
	var lastID sql.NullInt64
	var lastAt sql.NullTime
	err := tx.QueryRow("SELECT id, created_at FROM posts WHERE board_id = ? ORDER BY created_at DESC, id DESC LIMIT 1", boardID).
		Scan(&lastID, &lastAt)
	if err != nil && err != sql.ErrNoRows {
		return err
	}
	_, err = tx.Exec("UPDATE boards SET topic_count = ?, post_count = ?, last_post_id = ?, last_post_at = ? WHERE id = ?",
		topicCount, postCount, lastID, lastAt, boardID)
	if err != nil {
		return fmt.Errorf("failed to recompute counters for board '%s': %w", boardID, err)
	}
	return nil
}
