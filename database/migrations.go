// hearth/database/migrations.go
package database

// migration represents a single database schema migration.
type migration struct {
	Version uint
	Query   string
}

// allMigrations holds all schema changes in order.
var allMigrations = []migration{
	{
		Version: 1,
		Query: `
-- Track which account last changed a board's settings
ALTER TABLE boards ADD COLUMN updated_by TEXT;
ALTER TABLE boards ADD COLUMN updated_at DATETIME;

CREATE INDEX IF NOT EXISTS idx_mod_actions_moderator ON moderation_actions(moderator);
		`,
	},
}
