package repository

import (
	"context"
	"database/sql"

	"github.com/truetrek/agent/internal/models"
)

// DB is the subset of *sql.DB the repositories use. It is also satisfied by
// *observability.TraceDB so store operations can carry spans.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// QueueRepo defines durable persistence for pending captures
type QueueRepo interface {
	EnqueuePhoto(ctx context.Context, photo *models.PendingPhoto) (int64, error)
	EnqueueComment(ctx context.Context, comment *models.PendingComment) (int64, error)
	ListPendingPhotos(ctx context.Context) ([]*models.PendingPhoto, error)
	ListPendingComments(ctx context.Context) ([]*models.PendingComment, error)
	ListFailedPhotos(ctx context.Context) ([]*models.PendingPhoto, error)
	ListFailedComments(ctx context.Context) ([]*models.PendingComment, error)
	GetPhoto(ctx context.Context, localID int64) (*models.PendingPhoto, error)
	GetComment(ctx context.Context, localID int64) (*models.PendingComment, error)
	Transition(ctx context.Context, kind models.Kind, localID int64, to models.Status, errMsg string) error
	Remove(ctx context.Context, kind models.Kind, localID int64) error
	CountPending(ctx context.Context) (int, error)
	CountByStatus(ctx context.Context, kind models.Kind, status models.Status) (int, error)
}

// MetaRepo defines access to the small sync metadata table
type MetaRepo interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}
