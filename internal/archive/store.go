// Package archive implements the embedded conversation-and-event archive.
// A single SQLite file holds messages, events, sessions and scanner state;
// the Store is its sole writer.
package archive

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	. "github.com/roelfdiedericks/clawvault/internal/logging"
)

// Store wraps the archive database
type Store struct {
	db   *sql.DB
	path string
}

// StoreConfig configures the archive database
type StoreConfig struct {
	Path        string
	BusyTimeout int // milliseconds
}

// Schema version for migrations
const currentSchemaVersion = 2

// Open opens (or creates) the archive database at cfg.Path
func Open(cfg StoreConfig) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	timeout := cfg.BusyTimeout
	if timeout == 0 {
		timeout = 5000
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on", cfg.Path, timeout))
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	// Verify the file is actually usable before handing it out
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open archive at %s: %w", cfg.Path, err)
	}

	// Belt and suspenders: the DSN flags only apply to new connections
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		L_warn("archive: failed to enable WAL mode", "error", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		L_warn("archive: failed to enable foreign keys", "error", err)
	}

	store := &Store{db: db, path: cfg.Path}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	L_info("archive: store opened", "path", cfg.Path)
	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	L_debug("archive: closing store")
	return s.db.Close()
}

// DB returns the underlying database connection for external use
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the on-disk location of the archive
func (s *Store) Path() string {
	return s.path
}

// migrate runs database migrations
func (s *Store) migrate() error {
	var version int
	err := s.db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err != nil {
		// Table doesn't exist, start from scratch
		version = 0
	}

	if version >= currentSchemaVersion {
		L_debug("archive: schema up to date", "version", version)
		return nil
	}

	L_info("archive: migrating schema", "from", version, "to", currentSchemaVersion)

	migrations := []func(*sql.DB) error{
		migrateV1,
		migrateV2,
	}

	for i := version; i < len(migrations); i++ {
		if err := migrations[i](s.db); err != nil {
			return fmt.Errorf("migration v%d failed: %w", i+1, err)
		}
		L_debug("archive: applied migration", "version", i+1)
	}

	return nil
}

// migrateV1 creates the initial schema
func migrateV1(db *sql.DB) error {
	schema := `
	-- Schema version tracking
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	);
	INSERT INTO schema_version (version, applied_at) VALUES (1, ?);

	-- Messages table
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY,
		message_id TEXT NOT NULL UNIQUE,
		internal_id TEXT,
		session_key TEXT NOT NULL DEFAULT '',
		session_id TEXT,
		direction TEXT NOT NULL DEFAULT 'inbound',
		sender_id TEXT,
		sender_name TEXT,
		recipient_id TEXT,
		recipient_name TEXT,
		channel TEXT NOT NULL DEFAULT '',
		device_id TEXT,
		content_type TEXT NOT NULL DEFAULT 'text',
		content_text TEXT NOT NULL DEFAULT '',
		raw_json TEXT,
		fingerprint TEXT NOT NULL,
		reply_to_id TEXT,
		thread_id TEXT,
		timestamp INTEGER NOT NULL,
		edited_at INTEGER,
		deleted_at INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_fingerprint ON messages(fingerprint);
	CREATE INDEX IF NOT EXISTS idx_messages_sender_time ON messages(sender_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_key, timestamp);
	CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel);
	CREATE INDEX IF NOT EXISTS idx_messages_time ON messages(timestamp);

	-- Attachments table
	CREATE TABLE IF NOT EXISTS attachments (
		id INTEGER PRIMARY KEY,
		message_id INTEGER NOT NULL,
		type TEXT NOT NULL DEFAULT '',
		file_path TEXT,
		url TEXT,
		filename TEXT,
		size INTEGER,
		mime_type TEXT,
		thumbnail_path TEXT,
		metadata TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (message_id) REFERENCES messages(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_attachments_message ON attachments(message_id);

	-- Reactions table: one active reaction per (message, emoji, user)
	CREATE TABLE IF NOT EXISTS reactions (
		id INTEGER PRIMARY KEY,
		message_id INTEGER NOT NULL,
		emoji TEXT NOT NULL,
		user_id TEXT NOT NULL,
		user_name TEXT,
		added_at INTEGER NOT NULL,
		removed_at INTEGER,
		UNIQUE (message_id, emoji, user_id),
		FOREIGN KEY (message_id) REFERENCES messages(id) ON DELETE CASCADE
	);

	-- Edits table (append-only)
	CREATE TABLE IF NOT EXISTS edits (
		id INTEGER PRIMARY KEY,
		message_id INTEGER NOT NULL,
		previous_content TEXT NOT NULL,
		edited_at INTEGER NOT NULL,
		FOREIGN KEY (message_id) REFERENCES messages(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_edits_message ON edits(message_id);

	-- Events table
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY,
		event_id TEXT NOT NULL UNIQUE,
		parent_event_id TEXT REFERENCES events(event_id),
		session_key TEXT NOT NULL DEFAULT '',
		session_id TEXT,
		event_type TEXT NOT NULL,
		event_subtype TEXT,
		timestamp INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		raw_json TEXT NOT NULL DEFAULT '',
		role TEXT,
		tool_name TEXT,
		model_provider TEXT,
		model_id TEXT,
		is_error INTEGER NOT NULL DEFAULT 0,
		size_bytes INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);
	CREATE INDEX IF NOT EXISTS idx_events_parent ON events(parent_event_id);
	CREATE INDEX IF NOT EXISTS idx_events_session_key ON events(session_key);

	-- Thinking blocks: large payloads factored out of listing paths
	CREATE TABLE IF NOT EXISTS thinking_blocks (
		event_id TEXT PRIMARY KEY REFERENCES events(event_id) ON DELETE CASCADE,
		content TEXT NOT NULL DEFAULT '',
		signature TEXT,
		content_size INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	-- Usage stats satellite
	CREATE TABLE IF NOT EXISTS usage_stats (
		event_id TEXT PRIMARY KEY REFERENCES events(event_id) ON DELETE CASCADE,
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		cache_read_tokens INTEGER NOT NULL DEFAULT 0,
		cache_write_tokens INTEGER NOT NULL DEFAULT 0,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		input_cost REAL NOT NULL DEFAULT 0,
		output_cost REAL NOT NULL DEFAULT 0,
		cache_read_cost REAL NOT NULL DEFAULT 0,
		cache_write_cost REAL NOT NULL DEFAULT 0,
		total_cost REAL NOT NULL DEFAULT 0,
		model_provider TEXT,
		model_id TEXT,
		timestamp INTEGER NOT NULL DEFAULT 0
	);

	-- Sessions table
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		session_key TEXT NOT NULL DEFAULT '',
		session_type TEXT NOT NULL DEFAULT 'main',
		parent_session_id TEXT,
		label TEXT,
		agent_id TEXT,
		model TEXT,
		started_at INTEGER NOT NULL DEFAULT 0,
		ended_at INTEGER,
		status TEXT NOT NULL DEFAULT 'active',
		title TEXT,
		summary TEXT,
		message_count INTEGER NOT NULL DEFAULT 0,
		event_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_key ON sessions(session_key);
	CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at);

	-- Scanner state: watermarks and backfill audit log
	CREATE TABLE IF NOT EXISTS scanner_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	-- FTS5 over message content
	CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
		content_text,
		content='messages',
		content_rowid='id'
	);

	CREATE TRIGGER IF NOT EXISTS messages_ai AFTER INSERT ON messages BEGIN
		INSERT INTO messages_fts(rowid, content_text)
		VALUES (NEW.id, NEW.content_text);
	END;
	CREATE TRIGGER IF NOT EXISTS messages_ad AFTER DELETE ON messages BEGIN
		INSERT INTO messages_fts(messages_fts, rowid, content_text)
		VALUES ('delete', OLD.id, OLD.content_text);
	END;
	CREATE TRIGGER IF NOT EXISTS messages_au AFTER UPDATE OF content_text ON messages BEGIN
		INSERT INTO messages_fts(messages_fts, rowid, content_text)
		VALUES ('delete', OLD.id, OLD.content_text);
		INSERT INTO messages_fts(rowid, content_text)
		VALUES (NEW.id, NEW.content_text);
	END;
	`

	_, err := db.Exec(schema, time.Now().UnixMilli())
	return err
}

// migrateV2 adds session full-text search over title and summary
func migrateV2(db *sql.DB) error {
	schema := `
	CREATE VIRTUAL TABLE IF NOT EXISTS sessions_fts USING fts5(
		title,
		summary,
		id UNINDEXED
	);

	CREATE TRIGGER IF NOT EXISTS sessions_ai AFTER INSERT ON sessions BEGIN
		INSERT INTO sessions_fts(rowid, title, summary, id)
		VALUES (NEW.rowid, COALESCE(NEW.title, ''), COALESCE(NEW.summary, ''), NEW.id);
	END;
	CREATE TRIGGER IF NOT EXISTS sessions_ad AFTER DELETE ON sessions BEGIN
		DELETE FROM sessions_fts WHERE rowid = OLD.rowid;
	END;
	CREATE TRIGGER IF NOT EXISTS sessions_au AFTER UPDATE ON sessions BEGIN
		DELETE FROM sessions_fts WHERE rowid = OLD.rowid;
		INSERT INTO sessions_fts(rowid, title, summary, id)
		VALUES (NEW.rowid, COALESCE(NEW.title, ''), COALESCE(NEW.summary, ''), NEW.id);
	END;

	INSERT INTO schema_version (version, applied_at) VALUES (2, ?);
	`

	_, err := db.Exec(schema, time.Now().UnixMilli())
	return err
}

// Helper functions

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullInt64(n int64) interface{} {
	if n == 0 {
		return nil
	}
	return n
}

func nowMilli() int64 {
	return time.Now().UnixMilli()
}
