package cache

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingOrigin struct {
	server *httptest.Server
	hits   atomic.Int64
}

func newCountingOrigin(t *testing.T, handler http.HandlerFunc) *countingOrigin {
	origin := &countingOrigin{}
	origin.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin.hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(origin.server.Close)
	return origin
}

func setupProxy(t *testing.T, origin string, generation string) (*Proxy, Store) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	proxy, err := NewProxy(store, NewClassifier([]string{"cloudinary.com"}), origin, generation, nil)
	require.NoError(t, err)
	_, err = proxy.Activate(context.Background())
	require.NoError(t, err)
	return proxy, store
}

func doProxy(proxy *Proxy, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	proxy.ServeHTTP(w, r)
	return w
}

func TestProxy_CacheFirst(t *testing.T) {
	t.Run("static asset is served from cache after first fetch", func(t *testing.T) {
		origin := newCountingOrigin(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/css")
			io.WriteString(w, "body{}")
		})
		proxy, _ := setupProxy(t, origin.server.URL, "v1")

		first := doProxy(proxy, http.MethodGet, "/assets/app-abc.css", nil)
		assert.Equal(t, http.StatusOK, first.Code)
		assert.Equal(t, "MISS", first.Header().Get("X-Cache"))

		second := doProxy(proxy, http.MethodGet, "/assets/app-abc.css", nil)
		assert.Equal(t, http.StatusOK, second.Code)
		assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
		assert.Equal(t, "body{}", second.Body.String())
		assert.Equal(t, "text/css", second.Header().Get("Content-Type"))

		assert.Equal(t, int64(1), origin.hits.Load())
	})

	t.Run("media failure degrades to an empty placeholder", func(t *testing.T) {
		origin := newCountingOrigin(t, func(w http.ResponseWriter, r *http.Request) {})
		origin.server.Close()
		proxy, _ := setupProxy(t, origin.server.URL, "v1")

		resp := doProxy(proxy, http.MethodGet, "/uploads/photo.jpg", nil)
		assert.Equal(t, http.StatusNotFound, resp.Code)
		assert.Empty(t, resp.Body.String())
	})
}

func TestProxy_NetworkFirst(t *testing.T) {
	t.Run("prefers the network and stores a copy", func(t *testing.T) {
		origin := newCountingOrigin(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			io.WriteString(w, "<html>fresh</html>")
		})
		proxy, _ := setupProxy(t, origin.server.URL, "v1")

		resp := doProxy(proxy, http.MethodGet, "/cities/1/places/2", map[string]string{"Accept": "text/html"})
		assert.Equal(t, http.StatusOK, resp.Code)
		assert.Equal(t, "MISS", resp.Header().Get("X-Cache"))

		// Take the origin away: the stored copy answers
		origin.server.Close()
		resp = doProxy(proxy, http.MethodGet, "/cities/1/places/2", map[string]string{"Accept": "text/html"})
		assert.Equal(t, http.StatusOK, resp.Code)
		assert.Equal(t, "HIT", resp.Header().Get("X-Cache"))
		assert.Equal(t, "<html>fresh</html>", resp.Body.String())
	})

	t.Run("falls back to the offline page when nothing is cached", func(t *testing.T) {
		origin := newCountingOrigin(t, func(w http.ResponseWriter, r *http.Request) {})
		origin.server.Close()
		proxy, _ := setupProxy(t, origin.server.URL, "v1")

		resp := doProxy(proxy, http.MethodGet, "/never/seen", map[string]string{"Accept": "text/html"})
		assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
		assert.Contains(t, resp.Body.String(), "offline")
	})
}

func TestProxy_GenerationIsolation(t *testing.T) {
	origin := newCountingOrigin(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/css")
		io.WriteString(w, "body{}")
	})
	proxy, store := setupProxy(t, origin.server.URL, "v1")

	// Populate under v1
	doProxy(proxy, http.MethodGet, "/assets/app.css", nil)
	assert.Equal(t, int64(1), origin.hits.Load())

	// New deployment: v2 takes over, v1 entries are purged
	purged, err := proxy.ActivateGeneration(context.Background(), "v2")
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	resp := doProxy(proxy, http.MethodGet, "/assets/app.css", nil)
	assert.Equal(t, "MISS", resp.Header().Get("X-Cache"), "stale generation must not be served")
	assert.Equal(t, int64(2), origin.hits.Load())

	active, err := store.ActiveGeneration(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v2", active)
}

func TestProxy_Passthrough(t *testing.T) {
	t.Run("non-GET goes straight to the origin and is never cached", func(t *testing.T) {
		origin := newCountingOrigin(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
		})
		proxy, store := setupProxy(t, origin.server.URL, "v1")

		resp := doProxy(proxy, http.MethodPost, "/cities/1/places/2/comments", nil)
		assert.Equal(t, http.StatusCreated, resp.Code)
		assert.Empty(t, resp.Header().Get("X-Cache"))

		for _, partition := range []Partition{PartitionStatic, PartitionMedia, PartitionPages} {
			entry, err := store.Get(context.Background(), partition, Key(http.MethodPost, origin.server.URL+"/cities/1/places/2/comments"))
			require.NoError(t, err)
			assert.Nil(t, entry)
		}
		assert.Equal(t, int64(1), origin.hits.Load())
	})

	t.Run("API reads are not intercepted", func(t *testing.T) {
		origin := newCountingOrigin(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"ok":true}`)
		})
		proxy, _ := setupProxy(t, origin.server.URL, "v1")

		for i := 0; i < 2; i++ {
			resp := doProxy(proxy, http.MethodGet, "/api/notifications", map[string]string{"Accept": "application/json"})
			assert.Equal(t, http.StatusOK, resp.Code)
			assert.Empty(t, resp.Header().Get("X-Cache"))
		}
		assert.Equal(t, int64(2), origin.hits.Load(), "every call must hit the origin")
	})
}

func TestProxy_Precache(t *testing.T) {
	origin := newCountingOrigin(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "missing") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		io.WriteString(w, "ok: "+r.URL.Path)
	})
	proxy, store := setupProxy(t, origin.server.URL, "v1")

	require.NoError(t, proxy.Precache(context.Background(), []string{"/", "/manifest.json", "/missing"}))

	entry, err := store.Get(context.Background(), PartitionStatic, Key(http.MethodGet, origin.server.URL+"/manifest.json"))
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "ok: /manifest.json", string(entry.Body))

	// Non-2xx responses are not precached
	entry, err = store.Get(context.Background(), PartitionStatic, Key(http.MethodGet, origin.server.URL+"/missing"))
	require.NoError(t, err)
	assert.Nil(t, entry)
}
