package repository

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq"
)

// NewPostgresDB creates and initializes a PostgreSQL database connection
func NewPostgresDB(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	if err := createTablesPostgres(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func createTablesPostgres(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		display_name TEXT NOT NULL,
		api_key TEXT UNIQUE NOT NULL,
		api_key_hash TEXT NOT NULL,
		password_hash TEXT,
		is_admin BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE INDEX IF NOT EXISTS idx_users_api_key_hash ON users(api_key_hash);
	CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);

	CREATE TABLE IF NOT EXISTS libraries (
		id BIGSERIAL PRIMARY KEY,
		owner_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		type TEXT NOT NULL DEFAULT 'user',
		version BIGINT NOT NULL DEFAULT 0,
		locked BOOLEAN NOT NULL DEFAULT FALSE,
		last_modified TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_libraries_owner_id ON libraries(owner_id);

	CREATE TABLE IF NOT EXISTS objects (
		library_id BIGINT NOT NULL REFERENCES libraries(id) ON DELETE CASCADE,
		object_type TEXT NOT NULL,
		key TEXT NOT NULL,
		version BIGINT NOT NULL DEFAULT 0,
		data TEXT NOT NULL DEFAULT '{}',
		deleted BOOLEAN NOT NULL DEFAULT FALSE,
		date_added TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		date_modified TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (library_id, object_type, key)
	);

	CREATE INDEX IF NOT EXISTS idx_objects_library_version ON objects(library_id, version);

	CREATE TABLE IF NOT EXISTS sync_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		ip_address TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_used_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_sync_sessions_user_id ON sync_sessions(user_id);

	CREATE TABLE IF NOT EXISTS sync_locks (
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		session_id TEXT,
		acquired_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (user_id, kind)
	);

	CREATE TABLE IF NOT EXISTS sync_queue (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		session_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		payload TEXT,
		status TEXT NOT NULL DEFAULT 'queued',
		error_code TEXT,
		error_message TEXT,
		enqueued_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		finished_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_sync_queue_session ON sync_queue(session_id, status);
	CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status);

	CREATE TABLE IF NOT EXISTS storage_files (
		id BIGSERIAL PRIMARY KEY,
		hash TEXT NOT NULL,
		zip BOOLEAN NOT NULL DEFAULT FALSE,
		size BIGINT NOT NULL,
		filename TEXT NOT NULL,
		mtime BIGINT NOT NULL DEFAULT 0,
		content_type TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (hash, zip)
	);

	CREATE TABLE IF NOT EXISTS item_files (
		library_id BIGINT NOT NULL REFERENCES libraries(id) ON DELETE CASCADE,
		item_key TEXT NOT NULL,
		storage_file_id BIGINT NOT NULL REFERENCES storage_files(id),
		linked_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (library_id, item_key)
	);

	CREATE INDEX IF NOT EXISTS idx_item_files_storage ON item_files(storage_file_id);
	`

	_, err := db.Exec(schema)
	return err
}
