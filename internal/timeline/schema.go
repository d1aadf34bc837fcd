package timeline

import "time"

// Entry is one audit record: a rendered notification and where it came from.
type Entry struct {
	ID        int64     `json:"id"`
	EventID   string    `json:"event_id"` // Notification ID
	Kind      string    `json:"kind"`     // voice_created, member_joined, message_deleted, ...
	GuildID   string    `json:"guild_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Metadata  string    `json:"metadata,omitempty"` // JSON blob of notification fields
	CreatedAt time.Time `json:"created_at"`
}

// Schema creates the audit tables.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id TEXT UNIQUE NOT NULL,
	kind TEXT NOT NULL,
	guild_id TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_audit_log_created ON audit_log(created_at);
CREATE INDEX IF NOT EXISTS idx_audit_log_guild ON audit_log(guild_id, created_at);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS scheduled_jobs (
	name TEXT PRIMARY KEY,
	last_status TEXT NOT NULL,
	last_tick DATETIME NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
