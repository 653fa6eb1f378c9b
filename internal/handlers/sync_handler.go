package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/truetrek/agent/internal/models"
	"github.com/truetrek/agent/internal/repository"
	"github.com/truetrek/agent/internal/services"
)

// SyncHandler exposes the queue status and manual sync controls
type SyncHandler struct {
	syncService  *services.SyncService
	queueRepo    repository.QueueRepo
	metaRepo     repository.MetaRepo
	connectivity services.Connectivity
}

// NewSyncHandler creates a new SyncHandler
func NewSyncHandler(
	syncService *services.SyncService,
	queueRepo repository.QueueRepo,
	metaRepo repository.MetaRepo,
	connectivity services.Connectivity,
) *SyncHandler {
	return &SyncHandler{
		syncService:  syncService,
		queueRepo:    queueRepo,
		metaRepo:     metaRepo,
		connectivity: connectivity,
	}
}

// Status returns queue counts and connectivity state
// @Summary Queue status
// @Description Returns pending and failed counts per kind, connectivity, and the time of the last completed sync
// @Tags sync
// @Produce json
// @Success 200 {object} models.QueueStatusResponse "Current status"
// @Failure 500 {object} models.ErrorResponse "Storage failure"
// @Security ApiKeyAuth
// @Router /api/sync/status [get]
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	pendingPhotos, err := h.queueRepo.CountByStatus(ctx, models.KindPhoto, models.StatusPending)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "Failed to read queue status.")
		return
	}
	pendingComments, err := h.queueRepo.CountByStatus(ctx, models.KindComment, models.StatusPending)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "Failed to read queue status.")
		return
	}
	failedPhotos, err := h.queueRepo.CountByStatus(ctx, models.KindPhoto, models.StatusFailed)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "Failed to read queue status.")
		return
	}
	failedComments, err := h.queueRepo.CountByStatus(ctx, models.KindComment, models.StatusFailed)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "Failed to read queue status.")
		return
	}

	response := models.QueueStatusResponse{
		Online:          h.connectivity.Online(),
		SyncInProgress:  h.syncService.InProgress(),
		PendingPhotos:   pendingPhotos,
		PendingComments: pendingComments,
		PendingTotal:    pendingPhotos + pendingComments,
		FailedPhotos:    failedPhotos,
		FailedComments:  failedComments,
	}

	if raw, err := h.metaRepo.Get(ctx, repository.MetaLastSyncAt); err == nil && raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			response.LastSyncAt = &ts
		}
	}

	h.respondJSON(w, http.StatusOK, response)
}

// Trigger starts a manual sync run
// @Summary Trigger a sync
// @Description Drains the pending queues now. Reports a skip reason when a drain is already running or the server is unreachable.
// @Tags sync
// @Produce json
// @Success 202 {object} models.SyncTriggerResponse "Sync outcome"
// @Failure 500 {object} models.ErrorResponse "Sync failure"
// @Security ApiKeyAuth
// @Router /api/sync [post]
func (h *SyncHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	report, err := h.syncService.SyncAll(r.Context())
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "Sync failed: "+err.Error())
		return
	}

	h.respondJSON(w, http.StatusAccepted, models.SyncTriggerResponse{Report: report})
}

// Retry resets failed items and starts a sync run
// @Summary Retry failed items
// @Description Moves every failed item back to pending and drains the queues
// @Tags sync
// @Produce json
// @Success 202 {object} models.SyncTriggerResponse "Sync outcome"
// @Failure 500 {object} models.ErrorResponse "Retry failure"
// @Security ApiKeyAuth
// @Router /api/sync/retry [post]
func (h *SyncHandler) Retry(w http.ResponseWriter, r *http.Request) {
	report, err := h.syncService.RetryFailed(r.Context())
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "Retry failed: "+err.Error())
		return
	}

	h.respondJSON(w, http.StatusAccepted, models.SyncTriggerResponse{Report: report})
}

// Failed lists items whose last delivery attempt was rejected
// @Summary List failed items
// @Description Returns failed items with their stored error and retry count
// @Tags sync
// @Produce json
// @Success 200 {object} models.FailedItemsResponse "Failed items"
// @Failure 500 {object} models.ErrorResponse "Storage failure"
// @Security ApiKeyAuth
// @Router /api/queue/failed [get]
func (h *SyncHandler) Failed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	photos, err := h.queueRepo.ListFailedPhotos(ctx)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "Failed to list queue items.")
		return
	}
	comments, err := h.queueRepo.ListFailedComments(ctx)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "Failed to list queue items.")
		return
	}

	if photos == nil {
		photos = []*models.PendingPhoto{}
	}
	if comments == nil {
		comments = []*models.PendingComment{}
	}

	h.respondJSON(w, http.StatusOK, models.FailedItemsResponse{
		Photos:   photos,
		Comments: comments,
	})
}

func (h *SyncHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *SyncHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, models.ErrorResponse{Error: message})
}
