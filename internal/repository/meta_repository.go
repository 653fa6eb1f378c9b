package repository

import (
	"context"
	"database/sql"
)

// Well-known sync_meta keys
const (
	MetaLastSyncAt     = "last_sync_at"
	MetaAgentID        = "agent_id"
	MetaControlKeyHash = "control_key_hash"
)

// MetaRepository stores small sync metadata as key/value pairs
type MetaRepository struct {
	db DB
}

// NewMetaRepository creates a new MetaRepository
func NewMetaRepository(db DB) *MetaRepository {
	return &MetaRepository{db: db}
}

// Get retrieves a metadata value; missing keys return ""
func (r *MetaRepository) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM sync_meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// Set inserts or updates a metadata value
func (r *MetaRepository) Set(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO sync_meta (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`

	_, err := r.db.ExecContext(ctx, query, key, value)
	return err
}
