package models

import "time"

// EnqueueResult is returned after a capture is durably queued
type EnqueueResult struct {
	LocalID  int64     `json:"localId"`
	Kind     Kind      `json:"kind"`
	Status   Status    `json:"status"`
	QueuedAt time.Time `json:"queuedAt"`
}

// EnqueueCommentRequest is the request body for queueing a comment capture
type EnqueueCommentRequest struct {
	CityID      int64  `json:"cityId"`
	PlaceID     int64  `json:"placeId"`
	Description string `json:"description"`
}

// QueueStatusResponse is returned by GET /api/sync/status
type QueueStatusResponse struct {
	Online          bool       `json:"online"`
	SyncInProgress  bool       `json:"syncInProgress"`
	PendingPhotos   int        `json:"pendingPhotos"`
	PendingComments int        `json:"pendingComments"`
	PendingTotal    int        `json:"pendingTotal"`
	FailedPhotos    int        `json:"failedPhotos"`
	FailedComments  int        `json:"failedComments"`
	LastSyncAt      *time.Time `json:"lastSyncAt,omitempty"`
}

// FailedItemsResponse is returned by GET /api/queue/failed
type FailedItemsResponse struct {
	Photos   []*PendingPhoto   `json:"photos"`
	Comments []*PendingComment `json:"comments"`
}

// SyncTriggerResponse is returned when a sync is requested over the API
type SyncTriggerResponse struct {
	Report *SyncReport `json:"report"`
}

// HealthResponse is returned by health check
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}
