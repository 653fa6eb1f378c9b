package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/truetrek/agent/internal/models"
	"github.com/truetrek/agent/internal/observability"
	"github.com/truetrek/agent/internal/repository"
)

// fakeDelivery records delivery order and fails items on demand
type fakeDelivery struct {
	mu       sync.Mutex
	order    []string
	failWith map[int64]error
}

func newFakeDelivery() *fakeDelivery {
	return &fakeDelivery{failWith: make(map[int64]error)}
}

func (f *fakeDelivery) DeliverPhoto(ctx context.Context, photo *models.PendingPhoto) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = append(f.order, "photo")
	return f.failWith[photo.LocalID]
}

func (f *fakeDelivery) DeliverComment(ctx context.Context, comment *models.PendingComment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = append(f.order, "comment")
	return f.failWith[comment.LocalID]
}

func (f *fakeDelivery) deliveryOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

// fixedConnectivity is a Connectivity stub with a settable state
type fixedConnectivity struct {
	online bool
}

func (c *fixedConnectivity) Online() bool { return c.online }

func setupSyncService(t *testing.T, delivery DeliveryClient, online bool) (*SyncService, repository.QueueRepo, *EventBus) {
	t.Helper()

	db, err := repository.NewSQLiteDB(filepath.Join(t.TempDir(), "sync_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	queueRepo := repository.NewQueueRepository(db)
	metaRepo := repository.NewMetaRepository(db)
	bus := NewEventBus()

	metrics, err := observability.NewSyncMetrics()
	require.NoError(t, err)

	svc := NewSyncService(queueRepo, metaRepo, delivery, &fixedConnectivity{online: online}, bus, metrics, 5*time.Second)
	return svc, queueRepo, bus
}

func enqueueTestPhoto(t *testing.T, repo repository.QueueRepo) int64 {
	t.Helper()
	photo, err := models.NewPendingPhoto([]byte("jpeg-bytes"), "image/jpeg", nil, nil, nil)
	require.NoError(t, err)
	id, err := repo.EnqueuePhoto(context.Background(), photo)
	require.NoError(t, err)
	return id
}

func enqueueTestComment(t *testing.T, repo repository.QueueRepo) int64 {
	t.Helper()
	comment, err := models.NewPendingComment(7, 13, "lovely harbor views")
	require.NoError(t, err)
	id, err := repo.EnqueueComment(context.Background(), comment)
	require.NoError(t, err)
	return id
}

func TestSyncAllDeliversAndRemoves(t *testing.T) {
	delivery := newFakeDelivery()
	svc, repo, _ := setupSyncService(t, delivery, true)
	ctx := context.Background()

	enqueueTestPhoto(t, repo)
	enqueueTestComment(t, repo)

	report, err := svc.SyncAll(ctx)
	require.NoError(t, err)
	assert.True(t, report.DidRun())
	assert.Equal(t, 1, report.Photos.Synced)
	assert.Equal(t, 1, report.Comments.Synced)
	assert.Equal(t, 0, report.TotalFailed())

	count, err := repo.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestSyncAllPhotosBeforeComments(t *testing.T) {
	delivery := newFakeDelivery()
	svc, repo, _ := setupSyncService(t, delivery, true)
	ctx := context.Background()

	enqueueTestComment(t, repo)
	enqueueTestPhoto(t, repo)
	enqueueTestPhoto(t, repo)
	enqueueTestComment(t, repo)

	_, err := svc.SyncAll(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"photo", "photo", "comment", "comment"}, delivery.deliveryOrder())
}

func TestSyncAllSkipsWhenOffline(t *testing.T) {
	delivery := newFakeDelivery()
	svc, repo, _ := setupSyncService(t, delivery, false)
	ctx := context.Background()

	enqueueTestPhoto(t, repo)

	report, err := svc.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.SkipOffline, report.Skipped)
	assert.Empty(t, delivery.deliveryOrder())

	// Item stays pending untouched
	count, err := repo.CountByStatus(ctx, models.KindPhoto, models.StatusPending)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSyncAllInProgressGuard(t *testing.T) {
	delivery := newFakeDelivery()
	svc, _, _ := setupSyncService(t, delivery, true)

	svc.inProgress.Store(true)
	report, err := svc.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.SkipInProgress, report.Skipped)
	svc.inProgress.Store(false)
}

func TestSyncAllFailureDoesNotAbortBatch(t *testing.T) {
	delivery := newFakeDelivery()
	svc, repo, _ := setupSyncService(t, delivery, true)
	ctx := context.Background()

	firstID := enqueueTestPhoto(t, repo)
	badID := enqueueTestPhoto(t, repo)
	lastID := enqueueTestPhoto(t, repo)
	delivery.failWith[badID] = errors.New("Description can't be blank")

	report, err := svc.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Photos.Synced)
	assert.Equal(t, 1, report.Photos.Failed)

	// Failed item keeps its error and retry count; delivered item is gone
	failed, err := repo.GetPhoto(ctx, badID)
	require.NoError(t, err)
	require.NotNil(t, failed)
	assert.Equal(t, models.StatusFailed, failed.Status)
	assert.Equal(t, 1, failed.RetryCount)
	assert.Equal(t, "Description can't be blank", failed.Error)

	for _, id := range []int64{firstID, lastID} {
		gone, err := repo.GetPhoto(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, gone)
	}
}

func TestOfflineCaptureThenRestoreDrainsQueue(t *testing.T) {
	delivery := newFakeDelivery()

	db, err := repository.NewSQLiteDB(filepath.Join(t.TempDir(), "e2e_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	queueRepo := repository.NewQueueRepository(db)
	metaRepo := repository.NewMetaRepository(db)
	bus := NewEventBus()
	conn := &fixedConnectivity{online: false}

	metrics, err := observability.NewSyncMetrics()
	require.NoError(t, err)

	svc := NewSyncService(queueRepo, metaRepo, delivery, conn, bus, metrics, 5*time.Second)
	ctx := context.Background()

	// Captured while offline
	enqueueTestPhoto(t, queueRepo)
	enqueueTestComment(t, queueRepo)

	count, err := queueRepo.CountPending(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	report, err := svc.SyncAll(ctx)
	require.NoError(t, err)
	require.Equal(t, models.SkipOffline, report.Skipped)

	synced := make(chan models.Event, 8)
	unsub := bus.Subscribe(func(evt models.Event) {
		if evt.Type == models.EventItemSynced {
			synced <- evt
		}
	})
	defer unsub()

	// Connectivity restored; the watcher would fire SyncAll once
	conn.online = true
	report, err = svc.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.TotalSynced())

	var kinds []models.Kind
	timeout := time.After(2 * time.Second)
	for len(kinds) < 2 {
		select {
		case evt := <-synced:
			kinds = append(kinds, evt.Kind)
		case <-timeout:
			t.Fatal("timed out waiting for item_synced events")
		}
	}
	assert.Equal(t, []models.Kind{models.KindPhoto, models.KindComment}, kinds)

	count, err = queueRepo.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestSyncAllPublishesLifecycleEvents(t *testing.T) {
	delivery := newFakeDelivery()
	svc, repo, bus := setupSyncService(t, delivery, true)
	ctx := context.Background()

	badID := enqueueTestPhoto(t, repo)
	delivery.failWith[badID] = errors.New("server error: 500")

	events := make(chan models.Event, 32)
	unsub := bus.Subscribe(func(evt models.Event) {
		events <- evt
	})
	defer unsub()

	_, err := svc.SyncAll(ctx)
	require.NoError(t, err)

	var types []models.EventType
	timeout := time.After(2 * time.Second)
	for len(types) < 4 {
		select {
		case evt := <-events:
			types = append(types, evt.Type)
		case <-timeout:
			t.Fatalf("timed out, got events: %v", types)
		}
	}

	assert.Equal(t, []models.EventType{
		models.EventSyncStarted,
		models.EventItemSyncing,
		models.EventItemFailed,
		models.EventSyncCompleted,
	}, types)
}

func TestRetryFailedResetsAndDrains(t *testing.T) {
	delivery := newFakeDelivery()
	svc, repo, _ := setupSyncService(t, delivery, true)
	ctx := context.Background()

	id := enqueueTestPhoto(t, repo)
	delivery.failWith[id] = errors.New("server error: 503")

	report, err := svc.SyncAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Photos.Failed)

	// Server recovers; retry should reset the item and deliver it
	delete(delivery.failWith, id)

	report, err = svc.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Photos.Synced)

	gone, err := repo.GetPhoto(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestRetryFailedWithEmptyQueue(t *testing.T) {
	delivery := newFakeDelivery()
	svc, _, _ := setupSyncService(t, delivery, true)

	report, err := svc.RetryFailed(context.Background())
	require.NoError(t, err)
	assert.True(t, report.DidRun())
	assert.Equal(t, 0, report.TotalSynced())
	assert.Equal(t, 0, report.TotalFailed())
}
