package database

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	username TEXT PRIMARY KEY,
	role TEXT NOT NULL DEFAULT 'user',
	password_hash TEXT NOT NULL,
	registered BOOLEAN DEFAULT 1,
	created_at DATETIME
);
CREATE TABLE IF NOT EXISTS boards (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT,
	topic_count INTEGER DEFAULT 0,
	post_count INTEGER DEFAULT 0,
	last_post_id INTEGER,
	last_post_at DATETIME,
	sort_order INTEGER DEFAULT 0
);
CREATE TABLE IF NOT EXISTS topics (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	board_id TEXT NOT NULL,
	title TEXT,
	author TEXT,
	pinned BOOLEAN DEFAULT 0,
	locked BOOLEAN DEFAULT 0,
	created_at DATETIME,
	updated_at DATETIME,
	FOREIGN KEY (board_id) REFERENCES boards(id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS posts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	topic_id INTEGER NOT NULL,
	board_id TEXT NOT NULL,
	author TEXT,
	content TEXT,
	original_content TEXT, -- text immediately prior to the most recent edit
	hidden BOOLEAN DEFAULT 0,
	edited BOOLEAN DEFAULT 0,
	reactions TEXT DEFAULT '{}',
	created_at DATETIME,
	FOREIGN KEY (topic_id) REFERENCES topics(id) ON DELETE CASCADE,
	FOREIGN KEY (board_id) REFERENCES boards(id) ON DELETE CASCADE
);
-- Bans are keyed by target username; a NULL expires_at means permanent.
CREATE TABLE IF NOT EXISTS bans (
	target_username TEXT PRIMARY KEY,
	reason TEXT,
	banned_by TEXT,
	banned_at DATETIME,
	expires_at DATETIME
);
-- Append-only record of every moderation transition. Rows outlive the
-- content they refer to.
CREATE TABLE IF NOT EXISTS moderation_actions (
	id TEXT PRIMARY KEY,
	target_kind TEXT NOT NULL,
	target_id TEXT NOT NULL,
	action TEXT NOT NULL,
	moderator TEXT NOT NULL,
	reason TEXT,
	original_content TEXT,
	created_at DATETIME NOT NULL
);
-- Append-only audit trail. The autoincrement id is the insertion order and
-- breaks wall-clock timestamp ties.
CREATE TABLE IF NOT EXISTS audit_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at DATETIME NOT NULL,
	actor TEXT NOT NULL,
	actor_role TEXT NOT NULL,
	action TEXT NOT NULL,
	resource TEXT NOT NULL,
	resource_id TEXT,
	details TEXT,
	result TEXT NOT NULL,
	error_message TEXT
);
-- Flat legacy dataset, preserved untouched after migration for manual
-- verification.
CREATE TABLE IF NOT EXISTS legacy_posts (
	id INTEGER PRIMARY KEY,
	category TEXT NOT NULL,
	title TEXT,
	author TEXT,
	content TEXT,
	reactions TEXT DEFAULT '{}',
	created_at DATETIME
);
CREATE TABLE IF NOT EXISTS legacy_replies (
	id INTEGER PRIMARY KEY,
	legacy_post_id INTEGER NOT NULL,
	author TEXT,
	content TEXT,
	reactions TEXT DEFAULT '{}',
	created_at DATETIME,
	FOREIGN KEY (legacy_post_id) REFERENCES legacy_posts(id)
);
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at DATETIME
);

-- --- INDEXES ---
CREATE INDEX IF NOT EXISTS idx_topics_board ON topics(board_id, pinned DESC, updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_posts_topic ON posts(topic_id);
CREATE INDEX IF NOT EXISTS idx_posts_board ON posts(board_id);
CREATE INDEX IF NOT EXISTS idx_mod_actions_target ON moderation_actions(target_kind, target_id);
CREATE INDEX IF NOT EXISTS idx_audit_time ON audit_log(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_log(action);
CREATE INDEX IF NOT EXISTS idx_legacy_replies_post ON legacy_replies(legacy_post_id);
`
