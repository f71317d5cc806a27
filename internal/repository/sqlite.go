package repository

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

// NewSQLiteDB creates and initializes a SQLite database
func NewSQLiteDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}

	// Create tables
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func createTables(db *sql.DB) error {
	schema := `
	-- Users table
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		display_name TEXT NOT NULL,
		api_key TEXT UNIQUE NOT NULL,
		api_key_hash TEXT NOT NULL,
		password_hash TEXT,
		is_admin INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		is_active INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_users_api_key_hash ON users(api_key_hash);
	CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);

	-- Libraries: one versioned counter row per library
	CREATE TABLE IF NOT EXISTS libraries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		type TEXT NOT NULL DEFAULT 'user',
		version INTEGER NOT NULL DEFAULT 0,
		locked INTEGER NOT NULL DEFAULT 0,
		last_modified DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_libraries_owner_id ON libraries(owner_id);

	-- Data objects: items, collections, searches, settings
	CREATE TABLE IF NOT EXISTS objects (
		library_id INTEGER NOT NULL REFERENCES libraries(id) ON DELETE CASCADE,
		object_type TEXT NOT NULL,
		key TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		data TEXT NOT NULL DEFAULT '{}',
		deleted INTEGER NOT NULL DEFAULT 0,
		date_added DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		date_modified DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (library_id, object_type, key)
	);

	CREATE INDEX IF NOT EXISTS idx_objects_library_version ON objects(library_id, version);

	-- Legacy sync sessions (durable fallback behind the session cache)
	CREATE TABLE IF NOT EXISTS sync_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		ip_address TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_used_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_sync_sessions_user_id ON sync_sessions(user_id);

	-- Per-user sync locks, owned by the background queue processor.
	-- This server only observes them.
	CREATE TABLE IF NOT EXISTS sync_locks (
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		session_id TEXT,
		acquired_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, kind)
	);

	-- Queued sync jobs drained by the background queue processor
	CREATE TABLE IF NOT EXISTS sync_queue (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		session_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		payload TEXT,
		status TEXT NOT NULL DEFAULT 'queued',
		error_code TEXT,
		error_message TEXT,
		enqueued_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		finished_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_sync_queue_session ON sync_queue(session_id, status);
	CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status);

	-- Deduplicated stored files: one row per (hash, zip)
	CREATE TABLE IF NOT EXISTS storage_files (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		hash TEXT NOT NULL,
		zip INTEGER NOT NULL DEFAULT 0,
		size INTEGER NOT NULL,
		filename TEXT NOT NULL,
		mtime INTEGER NOT NULL DEFAULT 0,
		content_type TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (hash, zip)
	);

	-- Item-to-file links; items reference shared storage rows
	CREATE TABLE IF NOT EXISTS item_files (
		library_id INTEGER NOT NULL REFERENCES libraries(id) ON DELETE CASCADE,
		item_key TEXT NOT NULL,
		storage_file_id INTEGER NOT NULL REFERENCES storage_files(id),
		linked_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (library_id, item_key)
	);

	CREATE INDEX IF NOT EXISTS idx_item_files_storage ON item_files(storage_file_id);
	`

	_, err := db.Exec(schema)
	return err
}
