package cache

import (
	"context"
	"net/http"
	"time"
)

// Entry is one cached response. Entries are tagged with the generation they
// were stored under; entries from a superseded generation are never served.
type Entry struct {
	Status     int         `json:"status"`
	Header     http.Header `json:"header"`
	Body       []byte      `json:"body"`
	Generation string      `json:"generation"`
	StoredAt   time.Time   `json:"storedAt"`
}

// Store is the versioned cache behind the proxy. Get returns (nil, nil) on a
// miss, including hits that belong to a non-active generation.
type Store interface {
	Get(ctx context.Context, partition Partition, key string) (*Entry, error)
	Put(ctx context.Context, partition Partition, key string, entry *Entry) error

	// ActivateGeneration makes generation the active one and purges every
	// entry stored under any other generation. Returns the purge count.
	ActivateGeneration(ctx context.Context, generation string) (int, error)
	ActiveGeneration(ctx context.Context) (string, error)

	Close() error
}

// Key builds the request identity used as a cache key
func Key(method, url string) string {
	return method + " " + url
}
