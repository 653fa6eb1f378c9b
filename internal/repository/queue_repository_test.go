package repository

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/truetrek/agent/internal/models"
)

func setupTestDB(t *testing.T) (*sql.DB, string) {
	dbPath := filepath.Join(t.TempDir(), "agent.db")
	db, err := NewSQLiteDB(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, dbPath
}

func testPhoto(t *testing.T) *models.PendingPhoto {
	photo, err := models.NewPendingPhoto([]byte("fake image bytes"), "image/png", nil, nil, nil)
	require.NoError(t, err)
	return photo
}

func testComment(t *testing.T, description string) *models.PendingComment {
	comment, err := models.NewPendingComment(1, 2, description)
	require.NoError(t, err)
	return comment
}

func TestQueueRepository_Enqueue(t *testing.T) {
	ctx := context.Background()

	t.Run("assigns increasing local ids", func(t *testing.T) {
		db, _ := setupTestDB(t)
		repo := NewQueueRepository(db)

		id1, err := repo.EnqueueComment(ctx, testComment(t, "first"))
		require.NoError(t, err)
		id2, err := repo.EnqueueComment(ctx, testComment(t, "second"))
		require.NoError(t, err)

		assert.Greater(t, id2, id1)
	})

	t.Run("persists photo payload fields", func(t *testing.T) {
		db, _ := setupTestDB(t)
		repo := NewQueueRepository(db)

		lat, lng := 48.8584, 2.2945
		placeID := int64(42)
		photo, err := models.NewPendingPhoto([]byte{0x89, 0x50, 0x4e, 0x47}, "image/png", &lat, &lng, &placeID)
		require.NoError(t, err)

		id, err := repo.EnqueuePhoto(ctx, photo)
		require.NoError(t, err)

		stored, err := repo.GetPhoto(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, []byte{0x89, 0x50, 0x4e, 0x47}, stored.Blob)
		assert.Equal(t, "image/png", stored.MimeType)
		require.NotNil(t, stored.Latitude)
		assert.InDelta(t, lat, *stored.Latitude, 0.0001)
		require.NotNil(t, stored.PlaceID)
		assert.Equal(t, placeID, *stored.PlaceID)
		assert.Equal(t, models.StatusPending, stored.Status)
		assert.Equal(t, 0, stored.RetryCount)
	})

	t.Run("survives reopening the store", func(t *testing.T) {
		db, dbPath := setupTestDB(t)
		repo := NewQueueRepository(db)

		_, err := repo.EnqueueComment(ctx, testComment(t, "durable"))
		require.NoError(t, err)
		require.NoError(t, db.Close())

		reopened, err := NewSQLiteDB(dbPath)
		require.NoError(t, err)
		defer reopened.Close()

		pending, err := NewQueueRepository(reopened).ListPendingComments(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "durable", pending[0].Description)
	})
}

func TestQueueRepository_ListPending(t *testing.T) {
	ctx := context.Background()

	t.Run("returns items oldest first", func(t *testing.T) {
		db, _ := setupTestDB(t)
		repo := NewQueueRepository(db)

		base := time.Now().UTC().Add(-time.Hour)
		for i, text := range []string{"t1", "t2", "t3"} {
			comment := testComment(t, text)
			comment.CreatedAt = base.Add(time.Duration(i) * time.Minute)
			_, err := repo.EnqueueComment(ctx, comment)
			require.NoError(t, err)
		}

		pending, err := repo.ListPendingComments(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 3)
		assert.Equal(t, "t1", pending[0].Description)
		assert.Equal(t, "t2", pending[1].Description)
		assert.Equal(t, "t3", pending[2].Description)
	})

	t.Run("excludes non-pending items", func(t *testing.T) {
		db, _ := setupTestDB(t)
		repo := NewQueueRepository(db)

		id, err := repo.EnqueueComment(ctx, testComment(t, "claimed"))
		require.NoError(t, err)
		_, err = repo.EnqueueComment(ctx, testComment(t, "still pending"))
		require.NoError(t, err)

		require.NoError(t, repo.Transition(ctx, models.KindComment, id, models.StatusSyncing, ""))

		pending, err := repo.ListPendingComments(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "still pending", pending[0].Description)
	})
}

func TestQueueRepository_Transition(t *testing.T) {
	ctx := context.Background()

	t.Run("full failure cycle increments retry count once", func(t *testing.T) {
		db, _ := setupTestDB(t)
		repo := NewQueueRepository(db)

		id, err := repo.EnqueueComment(ctx, testComment(t, "will fail"))
		require.NoError(t, err)

		require.NoError(t, repo.Transition(ctx, models.KindComment, id, models.StatusSyncing, ""))
		require.NoError(t, repo.Transition(ctx, models.KindComment, id, models.StatusFailed, "server error: 500"))

		stored, err := repo.GetComment(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusFailed, stored.Status)
		assert.Equal(t, 1, stored.RetryCount)
		assert.Equal(t, "server error: 500", stored.Error)
	})

	t.Run("retry preserves retry count and clears error", func(t *testing.T) {
		db, _ := setupTestDB(t)
		repo := NewQueueRepository(db)

		id, err := repo.EnqueueComment(ctx, testComment(t, "retry me"))
		require.NoError(t, err)
		require.NoError(t, repo.Transition(ctx, models.KindComment, id, models.StatusSyncing, ""))
		require.NoError(t, repo.Transition(ctx, models.KindComment, id, models.StatusFailed, "timeout"))

		require.NoError(t, repo.Transition(ctx, models.KindComment, id, models.StatusPending, ""))

		stored, err := repo.GetComment(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, stored.Status)
		assert.Equal(t, 1, stored.RetryCount)
		assert.Empty(t, stored.Error)
	})

	t.Run("rejects illegal transitions", func(t *testing.T) {
		db, _ := setupTestDB(t)
		repo := NewQueueRepository(db)

		id, err := repo.EnqueueComment(ctx, testComment(t, "strict"))
		require.NoError(t, err)

		// pending -> failed is not legal
		err = repo.Transition(ctx, models.KindComment, id, models.StatusFailed, "nope")
		var invalid *models.InvalidTransitionError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, models.StatusPending, invalid.From)
		assert.Equal(t, models.StatusFailed, invalid.To)

		// pending -> syncing -> syncing double claim is rejected
		require.NoError(t, repo.Transition(ctx, models.KindComment, id, models.StatusSyncing, ""))
		err = repo.Transition(ctx, models.KindComment, id, models.StatusSyncing, "")
		require.ErrorAs(t, err, &invalid)
	})

	t.Run("returns not found for unknown item", func(t *testing.T) {
		db, _ := setupTestDB(t)
		repo := NewQueueRepository(db)

		err := repo.Transition(ctx, models.KindComment, 999, models.StatusSyncing, "")
		assert.ErrorIs(t, err, models.ErrItemNotFound)
	})

	t.Run("rejects unknown kind", func(t *testing.T) {
		db, _ := setupTestDB(t)
		repo := NewQueueRepository(db)

		err := repo.Transition(ctx, models.Kind("video"), 1, models.StatusSyncing, "")
		assert.ErrorIs(t, err, models.ErrUnknownKind)
	})
}

func TestQueueRepository_Remove(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes the row", func(t *testing.T) {
		db, _ := setupTestDB(t)
		repo := NewQueueRepository(db)

		id, err := repo.EnqueuePhoto(ctx, testPhoto(t))
		require.NoError(t, err)

		require.NoError(t, repo.Remove(ctx, models.KindPhoto, id))

		stored, err := repo.GetPhoto(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, stored)
	})

	t.Run("returns not found for missing row", func(t *testing.T) {
		db, _ := setupTestDB(t)
		repo := NewQueueRepository(db)

		err := repo.Remove(ctx, models.KindPhoto, 12345)
		assert.ErrorIs(t, err, models.ErrItemNotFound)
	})
}

func TestQueueRepository_CountPending(t *testing.T) {
	ctx := context.Background()

	t.Run("sums across kinds", func(t *testing.T) {
		db, _ := setupTestDB(t)
		repo := NewQueueRepository(db)

		_, err := repo.EnqueuePhoto(ctx, testPhoto(t))
		require.NoError(t, err)
		_, err = repo.EnqueueComment(ctx, testComment(t, "hello"))
		require.NoError(t, err)

		count, err := repo.CountPending(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})

	t.Run("ignores failed items", func(t *testing.T) {
		db, _ := setupTestDB(t)
		repo := NewQueueRepository(db)

		id, err := repo.EnqueueComment(ctx, testComment(t, "broken"))
		require.NoError(t, err)
		require.NoError(t, repo.Transition(ctx, models.KindComment, id, models.StatusSyncing, ""))
		require.NoError(t, repo.Transition(ctx, models.KindComment, id, models.StatusFailed, "err"))

		count, err := repo.CountPending(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, count)

		failed, err := repo.CountByStatus(ctx, models.KindComment, models.StatusFailed)
		require.NoError(t, err)
		assert.Equal(t, 1, failed)
	})
}

func TestMetaRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("missing key returns empty", func(t *testing.T) {
		db, _ := setupTestDB(t)
		repo := NewMetaRepository(db)

		value, err := repo.Get(ctx, MetaLastSyncAt)
		require.NoError(t, err)
		assert.Empty(t, value)
	})

	t.Run("set then get round-trips and overwrites", func(t *testing.T) {
		db, _ := setupTestDB(t)
		repo := NewMetaRepository(db)

		require.NoError(t, repo.Set(ctx, MetaAgentID, "agent-1"))
		require.NoError(t, repo.Set(ctx, MetaAgentID, "agent-2"))

		value, err := repo.Get(ctx, MetaAgentID)
		require.NoError(t, err)
		assert.Equal(t, "agent-2", value)
	})
}
