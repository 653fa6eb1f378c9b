package repository

import (
	"context"
	"database/sql"

	"github.com/truetrek/agent/internal/models"
)

// QueueRepository is the SQLite-backed durable queue store. Every mutation is
// a single atomic statement scoped to one item; the foreground and background
// contexts coordinate through this store only.
type QueueRepository struct {
	db DB
}

// NewQueueRepository creates a new QueueRepository
func NewQueueRepository(db DB) *QueueRepository {
	return &QueueRepository{db: db}
}

func tableFor(kind models.Kind) (string, error) {
	switch kind {
	case models.KindPhoto:
		return "pending_photos", nil
	case models.KindComment:
		return "pending_comments", nil
	default:
		return "", models.ErrUnknownKind
	}
}

// EnqueuePhoto persists a captured photo with status=pending and returns its
// local id. A storage failure propagates so the capture UI can tell the user
// the capture was not saved.
func (r *QueueRepository) EnqueuePhoto(ctx context.Context, photo *models.PendingPhoto) (int64, error) {
	query := `
		INSERT INTO pending_photos (blob, mime_type, latitude, longitude, place_id, status, retry_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		photo.Blob,
		photo.MimeType,
		photo.Latitude,
		photo.Longitude,
		photo.PlaceID,
		models.StatusPending,
		photo.CreatedAt,
	)
	if err != nil {
		return 0, err
	}

	localID, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	photo.LocalID = localID
	photo.Status = models.StatusPending
	return localID, nil
}

// EnqueueComment persists a comment with status=pending and returns its local id
func (r *QueueRepository) EnqueueComment(ctx context.Context, comment *models.PendingComment) (int64, error) {
	query := `
		INSERT INTO pending_comments (city_id, place_id, description, status, retry_count, created_at)
		VALUES (?, ?, ?, ?, 0, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		comment.CityID,
		comment.PlaceID,
		comment.Description,
		models.StatusPending,
		comment.CreatedAt,
	)
	if err != nil {
		return 0, err
	}

	localID, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	comment.LocalID = localID
	comment.Status = models.StatusPending
	return localID, nil
}

// ListPendingPhotos returns pending photos oldest first
func (r *QueueRepository) ListPendingPhotos(ctx context.Context) ([]*models.PendingPhoto, error) {
	return r.listPhotos(ctx, models.StatusPending)
}

// ListFailedPhotos returns failed photos oldest first
func (r *QueueRepository) ListFailedPhotos(ctx context.Context) ([]*models.PendingPhoto, error) {
	return r.listPhotos(ctx, models.StatusFailed)
}

func (r *QueueRepository) listPhotos(ctx context.Context, status models.Status) ([]*models.PendingPhoto, error) {
	query := `
		SELECT local_id, blob, mime_type, latitude, longitude, place_id, status, retry_count, error, created_at
		FROM pending_photos WHERE status = ?
		ORDER BY created_at ASC, local_id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var photos []*models.PendingPhoto
	for rows.Next() {
		photo, err := scanPhoto(rows)
		if err != nil {
			return nil, err
		}
		photos = append(photos, photo)
	}
	return photos, rows.Err()
}

// ListPendingComments returns pending comments oldest first
func (r *QueueRepository) ListPendingComments(ctx context.Context) ([]*models.PendingComment, error) {
	return r.listComments(ctx, models.StatusPending)
}

// ListFailedComments returns failed comments oldest first
func (r *QueueRepository) ListFailedComments(ctx context.Context) ([]*models.PendingComment, error) {
	return r.listComments(ctx, models.StatusFailed)
}

func (r *QueueRepository) listComments(ctx context.Context, status models.Status) ([]*models.PendingComment, error) {
	query := `
		SELECT local_id, city_id, place_id, description, status, retry_count, error, created_at
		FROM pending_comments WHERE status = ?
		ORDER BY created_at ASC, local_id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var comments []*models.PendingComment
	for rows.Next() {
		comment, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		comments = append(comments, comment)
	}
	return comments, rows.Err()
}

// GetPhoto retrieves a single pending photo by local id
func (r *QueueRepository) GetPhoto(ctx context.Context, localID int64) (*models.PendingPhoto, error) {
	query := `
		SELECT local_id, blob, mime_type, latitude, longitude, place_id, status, retry_count, error, created_at
		FROM pending_photos WHERE local_id = ?
	`

	photo, err := scanPhoto(r.db.QueryRowContext(ctx, query, localID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return photo, nil
}

// GetComment retrieves a single pending comment by local id
func (r *QueueRepository) GetComment(ctx context.Context, localID int64) (*models.PendingComment, error) {
	query := `
		SELECT local_id, city_id, place_id, description, status, retry_count, error, created_at
		FROM pending_comments WHERE local_id = ?
	`

	comment, err := scanComment(r.db.QueryRowContext(ctx, query, localID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return comment, nil
}

// Transition moves an item through the status state machine. Illegal moves
// return *models.InvalidTransitionError; the guarded UPDATE makes a
// pending -> syncing claim exclusive even across processes.
func (r *QueueRepository) Transition(ctx context.Context, kind models.Kind, localID int64, to models.Status, errMsg string) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}

	from, err := r.currentStatus(ctx, table, localID)
	if err != nil {
		return err
	}
	if !models.CanTransition(from, to) {
		return &models.InvalidTransitionError{Kind: kind, LocalID: localID, From: from, To: to}
	}

	var result sql.Result
	switch to {
	case models.StatusSyncing:
		result, err = r.db.ExecContext(ctx,
			`UPDATE `+table+` SET status = ? WHERE local_id = ? AND status = ?`,
			models.StatusSyncing, localID, models.StatusPending)
	case models.StatusFailed:
		result, err = r.db.ExecContext(ctx,
			`UPDATE `+table+` SET status = ?, retry_count = retry_count + 1, error = ? WHERE local_id = ? AND status = ?`,
			models.StatusFailed, errMsg, localID, models.StatusSyncing)
	case models.StatusPending:
		// retry: retry_count is preserved, last error cleared
		result, err = r.db.ExecContext(ctx,
			`UPDATE `+table+` SET status = ?, error = NULL WHERE local_id = ? AND status = ?`,
			models.StatusPending, localID, models.StatusFailed)
	default:
		return &models.InvalidTransitionError{Kind: kind, LocalID: localID, From: from, To: to}
	}
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Lost a race: re-read for an accurate error
		actual, readErr := r.currentStatus(ctx, table, localID)
		if readErr != nil {
			return readErr
		}
		return &models.InvalidTransitionError{Kind: kind, LocalID: localID, From: actual, To: to}
	}
	return nil
}

// Remove deletes an item; used only after a successful delivery
func (r *QueueRepository) Remove(ctx context.Context, kind models.Kind, localID int64) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE local_id = ?`, localID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return models.ErrItemNotFound
	}
	return nil
}

// CountPending returns the number of pending items across all kinds
func (r *QueueRepository) CountPending(ctx context.Context) (int, error) {
	query := `
		SELECT (SELECT COUNT(*) FROM pending_photos WHERE status = ?)
		     + (SELECT COUNT(*) FROM pending_comments WHERE status = ?)
	`

	var count int
	err := r.db.QueryRowContext(ctx, query, models.StatusPending, models.StatusPending).Scan(&count)
	return count, err
}

// CountByStatus returns the item count for one kind and status
func (r *QueueRepository) CountByStatus(ctx context.Context, kind models.Kind, status models.Status) (int, error) {
	table, err := tableFor(kind)
	if err != nil {
		return 0, err
	}

	var count int
	err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table+` WHERE status = ?`, status).Scan(&count)
	return count, err
}

func (r *QueueRepository) currentStatus(ctx context.Context, table string, localID int64) (models.Status, error) {
	var status models.Status
	err := r.db.QueryRowContext(ctx, `SELECT status FROM `+table+` WHERE local_id = ?`, localID).Scan(&status)
	if err == sql.ErrNoRows {
		return "", models.ErrItemNotFound
	}
	if err != nil {
		return "", err
	}
	return status, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPhoto(row rowScanner) (*models.PendingPhoto, error) {
	var photo models.PendingPhoto
	var errMsg sql.NullString
	err := row.Scan(
		&photo.LocalID,
		&photo.Blob,
		&photo.MimeType,
		&photo.Latitude,
		&photo.Longitude,
		&photo.PlaceID,
		&photo.Status,
		&photo.RetryCount,
		&errMsg,
		&photo.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	photo.Error = errMsg.String
	return &photo, nil
}

func scanComment(row rowScanner) (*models.PendingComment, error) {
	var comment models.PendingComment
	var errMsg sql.NullString
	err := row.Scan(
		&comment.LocalID,
		&comment.CityID,
		&comment.PlaceID,
		&comment.Description,
		&comment.Status,
		&comment.RetryCount,
		&errMsg,
		&comment.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	comment.Error = errMsg.String
	return &comment, nil
}
