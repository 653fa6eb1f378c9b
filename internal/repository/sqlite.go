package repository

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

// NewSQLiteDB creates and initializes the agent's durable store
func NewSQLiteDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// WAL lets the foreground and background contexts share the file
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, err
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func createTables(db *sql.DB) error {
	schema := `
	-- Pending photo captures awaiting delivery
	CREATE TABLE IF NOT EXISTS pending_photos (
		local_id INTEGER PRIMARY KEY AUTOINCREMENT,
		blob BLOB NOT NULL,
		mime_type TEXT NOT NULL DEFAULT 'image/jpeg',
		latitude REAL,
		longitude REAL,
		place_id INTEGER,
		status TEXT NOT NULL DEFAULT 'pending',
		retry_count INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_pending_photos_status ON pending_photos(status);
	CREATE INDEX IF NOT EXISTS idx_pending_photos_created_at ON pending_photos(created_at);

	-- Pending comments awaiting delivery
	CREATE TABLE IF NOT EXISTS pending_comments (
		local_id INTEGER PRIMARY KEY AUTOINCREMENT,
		city_id INTEGER NOT NULL,
		place_id INTEGER NOT NULL,
		description TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		retry_count INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_pending_comments_status ON pending_comments(status);
	CREATE INDEX IF NOT EXISTS idx_pending_comments_created_at ON pending_comments(created_at);

	-- Sync metadata (last sync time, device identity, control key hash)
	CREATE TABLE IF NOT EXISTS sync_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	`

	_, err := db.Exec(schema)
	return err
}
