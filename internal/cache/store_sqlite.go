package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"

	_ "github.com/mattn/go-sqlite3"
)

const activeGenerationKey = "active_generation"

// SQLiteStore keeps cached responses in a SQLite file owned by the background
// context. The foreground context never writes here.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if needed initializes) the cache database
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS cache_entries (
		partition TEXT NOT NULL,
		key TEXT NOT NULL,
		generation TEXT NOT NULL,
		status INTEGER NOT NULL,
		headers TEXT NOT NULL,
		body BLOB NOT NULL,
		stored_at DATETIME NOT NULL,
		PRIMARY KEY (partition, key)
	);

	CREATE INDEX IF NOT EXISTS idx_cache_entries_generation ON cache_entries(generation);

	CREATE TABLE IF NOT EXISTS cache_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

// Get returns the cached entry for the key, or (nil, nil) when there is no
// entry belonging to the active generation.
func (s *SQLiteStore) Get(ctx context.Context, partition Partition, key string) (*Entry, error) {
	active, err := s.ActiveGeneration(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT generation, status, headers, body, stored_at
		FROM cache_entries WHERE partition = ? AND key = ? AND generation = ?
	`

	var entry Entry
	var headers string
	err = s.db.QueryRowContext(ctx, query, partition, key, active).Scan(
		&entry.Generation,
		&entry.Status,
		&headers,
		&entry.Body,
		&entry.StoredAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	entry.Header = http.Header{}
	if err := json.Unmarshal([]byte(headers), &entry.Header); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Put stores an entry under its generation, replacing any previous entry for
// the same key.
func (s *SQLiteStore) Put(ctx context.Context, partition Partition, key string, entry *Entry) error {
	headers, err := json.Marshal(entry.Header)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO cache_entries (partition, key, generation, status, headers, body, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(partition, key) DO UPDATE SET
			generation = excluded.generation,
			status = excluded.status,
			headers = excluded.headers,
			body = excluded.body,
			stored_at = excluded.stored_at
	`

	_, err = s.db.ExecContext(ctx, query,
		partition, key, entry.Generation, entry.Status, string(headers), entry.Body, entry.StoredAt)
	return err
}

// ActivateGeneration switches the active generation and purges superseded
// entries in one transaction.
func (s *SQLiteStore) ActivateGeneration(ctx context.Context, generation string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cache_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, activeGenerationKey, generation)
	if err != nil {
		return 0, err
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE generation != ?`, generation)
	if err != nil {
		return 0, err
	}
	purged, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(purged), nil
}

// ActiveGeneration returns the current generation token ("" before the first
// activation).
func (s *SQLiteStore) ActiveGeneration(ctx context.Context) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM cache_meta WHERE key = ?`, activeGenerationKey).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// Close releases the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
