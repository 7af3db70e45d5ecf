// hearth/database/database.go
package database

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"hearth/models"
	"hearth/utils"

	_ "github.com/mattn/go-sqlite3"
)

// DatabaseService is the injected persistence port for all components. It is
// the single logical store of record.
type DatabaseService struct {
	DB        *sql.DB
	logger    *slog.Logger
	backupDir string
}

// DefaultBoards is the fixed board set seeded at startup; the legacy
// migrator maps old categories onto exactly these five.
var DefaultBoards = []models.Board{
	{ID: "general", Name: "General", Description: "Day-to-day chatter.", SortOrder: 1},
	{ID: "games", Name: "Game Corner", Description: "Scores, rematches and trash talk.", SortOrder: 2},
	{ID: "feelings", Name: "Feelings", Description: "Check-ins and support.", SortOrder: 3},
	{ID: "ideas", Name: "Ideas & Plans", Description: "Trips, projects, someday lists.", SortOrder: 4},
	{ID: "random", Name: "Random", Description: "Everything else.", SortOrder: 5},
}

// InitDB connects to the database, runs migrations, and seeds default data.
func InitDB(dataSourceName, backupDir string, logger *slog.Logger) (*DatabaseService, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, err
	}

	// Run the base schema to ensure all tables exist.
	if _, err = db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to execute base schema: %w", err)
	}

	// Run versioned migrations
	if err := runMigrations(db, logger); err != nil {
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	// Seed the fixed board set if absent
	var boardCount int
	if err := db.QueryRow("SELECT COUNT(*) FROM boards").Scan(&boardCount); err == nil && boardCount == 0 {
		for _, b := range DefaultBoards {
			_, err := db.Exec("INSERT INTO boards (id, name, description, sort_order) VALUES (?, ?, ?, ?)",
				b.ID, b.Name, b.Description, b.SortOrder)
			if err != nil {
				return nil, fmt.Errorf("failed to seed board %q: %w", b.ID, err)
			}
		}
	}

	logger.Info("Database initialized")

	return &DatabaseService{
		DB:        db,
		logger:    logger,
		backupDir: backupDir,
	}, nil
}

// BackupDatabase performs an online backup of the live SQLite database using
// VACUUM INTO and returns the backup file path.
func (ds *DatabaseService) BackupDatabase() (string, error) {
	if ds.backupDir == "" {
		return "", fmt.Errorf("backup directory is not configured")
	}
	if err := os.MkdirAll(ds.backupDir, 0755); err != nil {
		return "", fmt.Errorf("could not create backup directory %s: %w", ds.backupDir, err)
	}

	timestamp := time.Now().UTC().Format("2006-01-02_15-04-05")
	backupFilename := fmt.Sprintf("hearth_backup_%s.db", timestamp)
	backupPath := filepath.Join(ds.backupDir, backupFilename)

	ds.logger.Info("Starting database backup", "destination", backupPath)

	_, err := ds.DB.Exec("VACUUM INTO ?", backupPath)
	if err != nil {
		// If backup fails, attempt to remove the potentially incomplete file
		if removeErr := os.Remove(backupPath); removeErr != nil && !os.IsNotExist(removeErr) {
			ds.logger.Error("Failed to remove incomplete backup file", "path", backupPath, "error", removeErr)
		}
		return "", fmt.Errorf("VACUUM INTO command failed: %w", err)
	}

	return backupPath, nil
}

// Stats is a snapshot of store-wide counts for the admin overview panel.
type Stats struct {
	Accounts     int `json:"accounts"`
	Admins       int `json:"admins"`
	Moderators   int `json:"moderators"`
	Boards       int `json:"boards"`
	Topics       int `json:"topics"`
	Posts        int `json:"posts"`
	ActiveBans   int `json:"active_bans"`
	AuditEntries int `json:"audit_entries"`
}

// GetStats collects the counts shown on the admin overview.
func (ds *DatabaseService) GetStats() (*Stats, error) {
	s := &Stats{}
	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM accounts", &s.Accounts},
		{"SELECT COUNT(*) FROM accounts WHERE role = 'admin'", &s.Admins},
		{"SELECT COUNT(*) FROM accounts WHERE role = 'moderator'", &s.Moderators},
		{"SELECT COUNT(*) FROM boards", &s.Boards},
		{"SELECT COUNT(*) FROM topics", &s.Topics},
		{"SELECT COUNT(*) FROM posts", &s.Posts},
		{"SELECT COUNT(*) FROM bans WHERE expires_at IS NULL OR expires_at > ?", &s.ActiveBans},
		{"SELECT COUNT(*) FROM audit_log", &s.AuditEntries},
	}
	now := utils.GetSQLTime()
	for _, q := range queries {
		var err error
		if q.dest == &s.ActiveBans {
			err = ds.DB.QueryRow(q.query, now).Scan(q.dest)
		} else {
			err = ds.DB.QueryRow(q.query).Scan(q.dest)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to collect stats: %w", err)
		}
	}
	return s, nil
}

// runMigrations applies all un-applied migrations.
func runMigrations(db *sql.DB, logger *slog.Logger) error {
	var latestVersion uint
	err := db.QueryRow("SELECT version FROM schema_migrations ORDER BY version DESC LIMIT 1").Scan(&latestVersion)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("could not get db version: %w", err)
	}

	logger.Info("Current database schema version", "version", latestVersion)

	for _, m := range allMigrations {
		if m.Version > latestVersion {
			logger.Info("Applying migration", "version", m.Version)
			tx, err := db.Begin()
			if err != nil {
				return err
			}

			if _, err := tx.Exec(m.Query); err != nil {
				if rerr := tx.Rollback(); rerr != nil {
					logger.Error("Failed to rollback migration", "version", m.Version, "error", rerr)
				}
				return fmt.Errorf("failed to apply migration v%d: %w", m.Version, err)
			}
			if _, err := tx.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)", m.Version, utils.GetSQLTime()); err != nil {
				if rerr := tx.Rollback(); rerr != nil {
					logger.Error("Failed to rollback migration record", "version", m.Version, "error", rerr)
				}
				return fmt.Errorf("failed to record migration v%d: %w", m.Version, err)
			}

			if err := tx.Commit(); err != nil {
				return fmt.Errorf("failed to commit migration v%d: %w", m.Version, err)
			}
			logger.Info("Successfully applied migration", "version", m.Version)
		}
	}
	return nil
}
