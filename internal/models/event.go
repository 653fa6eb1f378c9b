package models

import "time"

// EventType identifies a sync lifecycle event published on the event bus
type EventType string

const (
	EventSyncStarted    EventType = "sync_started"
	EventSyncCompleted  EventType = "sync_completed"
	EventSyncError      EventType = "sync_error"
	EventItemSyncing    EventType = "item_syncing"
	EventItemSynced     EventType = "item_synced"
	EventItemFailed     EventType = "item_failed"
	EventOnline         EventType = "online"
	EventOffline        EventType = "offline"
	EventPendingChanged EventType = "pending_changed"
)

// Event is a single sync lifecycle notification. Only the fields relevant
// to the event type are populated.
type Event struct {
	Type         EventType   `json:"type"`
	Kind         Kind        `json:"kind,omitempty"`
	LocalID      int64       `json:"localId,omitempty"`
	Error        string      `json:"error,omitempty"`
	Report       *SyncReport `json:"report,omitempty"`
	PendingCount int         `json:"pendingCount,omitempty"`
	At           time.Time   `json:"at"`
}

// SkipReason explains why a SyncAll call did no work
type SkipReason string

const (
	SkipNone       SkipReason = ""
	SkipInProgress SkipReason = "in_progress"
	SkipOffline    SkipReason = "offline"
)

// KindResult counts delivery outcomes for one queue kind within a single drain
type KindResult struct {
	Synced int `json:"synced"`
	Failed int `json:"failed"`
}

// SyncReport aggregates the outcome of one SyncAll invocation
type SyncReport struct {
	Skipped  SkipReason `json:"skipped,omitempty"`
	Photos   KindResult `json:"photos"`
	Comments KindResult `json:"comments"`
}

// DidRun reports whether the drain actually executed
func (r *SyncReport) DidRun() bool {
	return r.Skipped == SkipNone
}

// TotalSynced returns the number of items delivered across all kinds
func (r *SyncReport) TotalSynced() int {
	return r.Photos.Synced + r.Comments.Synced
}

// TotalFailed returns the number of items that failed across all kinds
func (r *SyncReport) TotalFailed() int {
	return r.Photos.Failed + r.Comments.Failed
}
