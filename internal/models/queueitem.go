package models

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies which queue a pending item belongs to
type Kind string

const (
	KindPhoto   Kind = "photo"
	KindComment Kind = "comment"
)

// Valid reports whether k is a known queue kind
func (k Kind) Valid() bool {
	return k == KindPhoto || k == KindComment
}

// Status represents the sync lifecycle state of a queued item
type Status string

const (
	StatusPending Status = "pending"
	StatusSyncing Status = "syncing"
	StatusFailed  Status = "failed"
)

// Valid reports whether s is a persistable status. Successfully synced items
// are deleted rather than stored, so there is no "synced" status on disk.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusSyncing || s == StatusFailed
}

// legalTransitions maps each status to the statuses it may move to.
// The syncing -> removed path goes through Remove, not Transition.
var legalTransitions = map[Status][]Status{
	StatusPending: {StatusSyncing},
	StatusSyncing: {StatusFailed},
	StatusFailed:  {StatusPending},
}

// CanTransition reports whether moving from -> to is a legal status change
func CanTransition(from, to Status) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// PendingPhoto is a captured photo waiting to be delivered to the server
type PendingPhoto struct {
	LocalID    int64     `json:"localId"`
	Blob       []byte    `json:"-"`
	MimeType   string    `json:"mimeType"`
	Latitude   *float64  `json:"latitude,omitempty"`
	Longitude  *float64  `json:"longitude,omitempty"`
	PlaceID    *int64    `json:"placeId,omitempty"`
	Status     Status    `json:"status"`
	RetryCount int       `json:"retryCount"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// NewPendingPhoto creates a pending photo ready for enqueueing
func NewPendingPhoto(blob []byte, mimeType string, lat, lng *float64, placeID *int64) (*PendingPhoto, error) {
	if len(blob) == 0 {
		return nil, ErrEmptyPhotoBlob
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return &PendingPhoto{
		Blob:      blob,
		MimeType:  mimeType,
		Latitude:  lat,
		Longitude: lng,
		PlaceID:   placeID,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// PendingComment is a comment waiting to be delivered to the server
type PendingComment struct {
	LocalID     int64     `json:"localId"`
	CityID      int64     `json:"cityId"`
	PlaceID     int64     `json:"placeId"`
	Description string    `json:"description"`
	Status      Status    `json:"status"`
	RetryCount  int       `json:"retryCount"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// MaxCommentLength matches the server-side limit so obviously oversized
// comments are rejected before they ever enter the queue.
const MaxCommentLength = 2000

// NewPendingComment creates a pending comment ready for enqueueing
func NewPendingComment(cityID, placeID int64, description string) (*PendingComment, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, ErrEmptyComment
	}
	if len(description) > MaxCommentLength {
		return nil, ErrCommentTooLong
	}
	if cityID <= 0 || placeID <= 0 {
		return nil, ErrInvalidCommentTarget
	}
	return &PendingComment{
		CityID:      cityID,
		PlaceID:     placeID,
		Description: description,
		Status:      StatusPending,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// InvalidTransitionError is returned when a status change violates the
// queue item state machine.
type InvalidTransitionError struct {
	Kind    Kind
	LocalID int64
	From    Status
	To      Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for %s %d: %s -> %s", e.Kind, e.LocalID, e.From, e.To)
}

// Errors
type QueueError struct {
	Message string
}

func (e QueueError) Error() string {
	return e.Message
}

var (
	ErrEmptyPhotoBlob       = QueueError{"photo blob cannot be empty"}
	ErrEmptyComment         = QueueError{"comment description cannot be empty"}
	ErrCommentTooLong       = QueueError{"comment description exceeds maximum length"}
	ErrInvalidCommentTarget = QueueError{"comment requires a city and place"}
	ErrUnknownKind          = QueueError{"unknown queue kind"}
	ErrItemNotFound         = QueueError{"queue item not found"}
)
