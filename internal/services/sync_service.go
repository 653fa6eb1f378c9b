package services

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/truetrek/agent/internal/models"
	"github.com/truetrek/agent/internal/observability"
	"github.com/truetrek/agent/internal/repository"
)

// SyncService drains the capture queues to the server. At most one drain
// runs at a time; concurrent callers get a skipped report instead of a
// second drain.
type SyncService struct {
	queueRepo    repository.QueueRepo
	metaRepo     repository.MetaRepo
	delivery     DeliveryClient
	connectivity Connectivity
	bus          *EventBus
	metrics      *observability.SyncMetrics

	itemTimeout time.Duration
	inProgress  atomic.Bool
}

// NewSyncService creates a new SyncService
func NewSyncService(
	queueRepo repository.QueueRepo,
	metaRepo repository.MetaRepo,
	delivery DeliveryClient,
	connectivity Connectivity,
	bus *EventBus,
	metrics *observability.SyncMetrics,
	itemTimeout time.Duration,
) *SyncService {
	if itemTimeout <= 0 {
		itemTimeout = 60 * time.Second
	}

	return &SyncService{
		queueRepo:    queueRepo,
		metaRepo:     metaRepo,
		delivery:     delivery,
		connectivity: connectivity,
		bus:          bus,
		metrics:      metrics,
		itemTimeout:  itemTimeout,
	}
}

// InProgress reports whether a drain is currently running
func (s *SyncService) InProgress() bool {
	return s.inProgress.Load()
}

// SyncAll drains pending photos, then pending comments. A drain already in
// progress or an unreachable server yields a skipped report, never an error.
func (s *SyncService) SyncAll(ctx context.Context) (*models.SyncReport, error) {
	if !s.inProgress.CompareAndSwap(false, true) {
		return &models.SyncReport{Skipped: models.SkipInProgress}, nil
	}
	defer s.inProgress.Store(false)

	if !s.connectivity.Online() {
		return &models.SyncReport{Skipped: models.SkipOffline}, nil
	}

	ctx, span := observability.StartSpan(ctx, "sync.all")
	defer span.End()

	s.bus.Publish(models.Event{Type: models.EventSyncStarted})
	s.metrics.RecordSyncRun(ctx)

	report := &models.SyncReport{}
	report.Photos = s.drainPhotos(ctx)
	report.Comments = s.drainComments(ctx)

	if err := s.metaRepo.Set(ctx, repository.MetaLastSyncAt, time.Now().UTC().Format(time.RFC3339)); err != nil {
		observability.WithField("error", err.Error()).Warn("Failed to record last sync time")
	}

	s.bus.Publish(models.Event{Type: models.EventSyncCompleted, Report: report})
	s.publishPendingCount(ctx)

	observability.WithFields(map[string]interface{}{
		"synced": report.TotalSynced(),
		"failed": report.TotalFailed(),
	}).Info("Sync run completed")

	observability.SetSuccess(span)
	return report, nil
}

// RetryFailed moves every failed item back to pending and runs a drain
func (s *SyncService) RetryFailed(ctx context.Context) (*models.SyncReport, error) {
	photos, err := s.queueRepo.ListFailedPhotos(ctx)
	if err != nil {
		return nil, err
	}
	for _, photo := range photos {
		if err := s.queueRepo.Transition(ctx, models.KindPhoto, photo.LocalID, models.StatusPending, ""); err != nil {
			observability.WithFields(map[string]interface{}{
				"item_id": photo.LocalID,
				"error":   err.Error(),
			}).Warn("Failed to reset photo for retry")
		}
	}

	comments, err := s.queueRepo.ListFailedComments(ctx)
	if err != nil {
		return nil, err
	}
	for _, comment := range comments {
		if err := s.queueRepo.Transition(ctx, models.KindComment, comment.LocalID, models.StatusPending, ""); err != nil {
			observability.WithFields(map[string]interface{}{
				"item_id": comment.LocalID,
				"error":   err.Error(),
			}).Warn("Failed to reset comment for retry")
		}
	}

	return s.SyncAll(ctx)
}

// drainPhotos delivers every pending photo, isolating per-item failures
func (s *SyncService) drainPhotos(ctx context.Context) models.KindResult {
	var result models.KindResult

	photos, err := s.queueRepo.ListPendingPhotos(ctx)
	if err != nil {
		s.publishSyncError(err)
		return result
	}

	for _, photo := range photos {
		if s.syncItem(ctx, models.KindPhoto, photo.LocalID, func(itemCtx context.Context) error {
			return s.delivery.DeliverPhoto(itemCtx, photo)
		}) {
			result.Synced++
		} else {
			result.Failed++
		}
	}

	return result
}

// drainComments delivers every pending comment, isolating per-item failures
func (s *SyncService) drainComments(ctx context.Context) models.KindResult {
	var result models.KindResult

	comments, err := s.queueRepo.ListPendingComments(ctx)
	if err != nil {
		s.publishSyncError(err)
		return result
	}

	for _, comment := range comments {
		if s.syncItem(ctx, models.KindComment, comment.LocalID, func(itemCtx context.Context) error {
			return s.delivery.DeliverComment(itemCtx, comment)
		}) {
			result.Synced++
		} else {
			result.Failed++
		}
	}

	return result
}

// syncItem claims one item, delivers it, and records the outcome. Returns
// true when the server accepted the item and it was removed from the queue.
func (s *SyncService) syncItem(ctx context.Context, kind models.Kind, localID int64, deliver func(context.Context) error) bool {
	if err := s.queueRepo.Transition(ctx, kind, localID, models.StatusSyncing, ""); err != nil {
		// Claimed by someone else or gone; not a delivery failure
		observability.WithFields(map[string]interface{}{
			"kind":    string(kind),
			"item_id": localID,
			"error":   err.Error(),
		}).Warn("Skipping item that could not be claimed")
		return false
	}

	s.bus.Publish(models.Event{Type: models.EventItemSyncing, Kind: kind, LocalID: localID})

	itemCtx, cancel := context.WithTimeout(ctx, s.itemTimeout)
	err := deliver(itemCtx)
	cancel()

	if err != nil {
		s.metrics.RecordDelivery(ctx, string(kind), false)
		if terr := s.queueRepo.Transition(ctx, kind, localID, models.StatusFailed, err.Error()); terr != nil {
			observability.WithFields(map[string]interface{}{
				"kind":    string(kind),
				"item_id": localID,
				"error":   terr.Error(),
			}).Error("Failed to mark item as failed")
		}
		s.bus.Publish(models.Event{Type: models.EventItemFailed, Kind: kind, LocalID: localID, Error: err.Error()})
		return false
	}

	s.metrics.RecordDelivery(ctx, string(kind), true)
	if err := s.queueRepo.Remove(ctx, kind, localID); err != nil {
		observability.WithFields(map[string]interface{}{
			"kind":    string(kind),
			"item_id": localID,
			"error":   err.Error(),
		}).Error("Delivered item could not be removed from queue")
		return false
	}

	s.bus.Publish(models.Event{Type: models.EventItemSynced, Kind: kind, LocalID: localID})
	return true
}

// publishSyncError reports a storage-level failure on the bus
func (s *SyncService) publishSyncError(err error) {
	observability.WithField("error", err.Error()).Error("Sync run storage failure")
	s.bus.Publish(models.Event{Type: models.EventSyncError, Error: err.Error()})
}

// publishPendingCount pushes the current badge count to subscribers
func (s *SyncService) publishPendingCount(ctx context.Context) {
	count, err := s.queueRepo.CountPending(ctx)
	if err != nil {
		return
	}
	s.bus.Publish(models.Event{Type: models.EventPendingChanged, PendingCount: count})
}
