package cache

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/truetrek/agent/internal/observability"
)

// offlinePage is the static fallback served when a navigation has no network
// and no cached copy.
const offlinePage = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>You're offline</title>
  <style>
    body { font-family: system-ui, sans-serif; text-align: center; padding: 4rem 1rem; color: #333; }
    h1 { font-size: 1.5rem; }
  </style>
</head>
<body>
  <h1>You're offline</h1>
  <p>This page isn't available right now. Your captures are saved and will sync once you're back online.</p>
</body>
</html>`

// Proxy intercepts read requests from the app shell and answers them from the
// versioned cache using per-class strategies. It is the only writer of the
// cache store.
type Proxy struct {
	store      Store
	classifier *Classifier
	origin     *url.URL
	client     *http.Client
	metrics    *observability.CacheMetrics

	mu         sync.RWMutex
	generation string
}

// NewProxy creates a cache proxy in front of origin. generation is the deploy
// token new entries are stamped with; it becomes active on Activate.
func NewProxy(store Store, classifier *Classifier, origin string, generation string, client *http.Client) (*Proxy, error) {
	originURL, err := url.Parse(origin)
	if err != nil {
		return nil, err
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	metrics, err := observability.NewCacheMetrics()
	if err != nil {
		return nil, err
	}
	return &Proxy{
		store:      store,
		classifier: classifier,
		origin:     originURL,
		client:     client,
		metrics:    metrics,
		generation: generation,
	}, nil
}

// Generation returns the generation new entries are stamped with
func (p *Proxy) Generation() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.generation
}

// Activate makes the proxy's generation the active one, purging entries from
// superseded generations.
func (p *Proxy) Activate(ctx context.Context) (int, error) {
	return p.ActivateGeneration(ctx, p.Generation())
}

// ActivateGeneration switches to the given generation immediately. Used for
// the force-activate control message.
func (p *Proxy) ActivateGeneration(ctx context.Context, generation string) (int, error) {
	p.mu.Lock()
	p.generation = generation
	p.mu.Unlock()

	purged, err := p.store.ActivateGeneration(ctx, generation)
	if err != nil {
		return 0, err
	}
	observability.WithFields(map[string]interface{}{
		"generation": generation,
		"purged":     purged,
	}).Info("Cache generation activated")
	return purged, nil
}

// Precache fetches the given origin paths into the static partition so the
// app shell and offline page are available before first use.
func (p *Proxy) Precache(ctx context.Context, paths []string) error {
	for _, path := range paths {
		target := p.origin.ResolveReference(&url.URL{Path: path})
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
		if err != nil {
			return err
		}
		entry, err := p.fetch(req)
		if err != nil {
			observability.WithField("path", path).Warnf("Precache fetch failed: %v", err)
			continue
		}
		if entry.Status >= 200 && entry.Status < 300 {
			if err := p.store.Put(ctx, PartitionStatic, Key(http.MethodGet, target.String()), entry); err != nil {
				return err
			}
		}
	}
	return nil
}

// ServeHTTP dispatches a request to its class strategy
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target := p.effectiveURL(r)
	class := p.classifier.Classify(r)

	switch class {
	case ClassStatic, ClassMedia:
		p.cacheFirst(w, r, class, target)
	case ClassPage:
		p.networkFirst(w, r, target)
	default:
		p.passthrough(w, r, target)
	}
}

// effectiveURL resolves the incoming request against the origin; absolute
// URLs (forward-proxy style, e.g. remote media hosts) are used as-is.
func (p *Proxy) effectiveURL(r *http.Request) *url.URL {
	if r.URL.IsAbs() {
		return r.URL
	}
	return p.origin.ResolveReference(&url.URL{Path: r.URL.Path, RawQuery: r.URL.RawQuery})
}

// cacheFirst serves the cached copy when present; otherwise fetches, stores a
// successful response, and returns it. Media fetch failures degrade to an
// empty placeholder instead of an error.
func (p *Proxy) cacheFirst(w http.ResponseWriter, r *http.Request, class RequestClass, target *url.URL) {
	key := Key(r.Method, target.String())
	partition := class.Partition()

	if entry, err := p.store.Get(r.Context(), partition, key); err == nil && entry != nil {
		p.metrics.RecordLookup(r.Context(), class.String(), true)
		writeEntry(w, entry, true)
		return
	} else if err != nil {
		observability.WithField("key", key).Warnf("Cache read failed: %v", err)
	}
	p.metrics.RecordLookup(r.Context(), class.String(), false)

	entry, err := p.forward(r, target)
	if err != nil {
		if class == ClassMedia {
			// Placeholder keeps image slots from breaking the page
			w.WriteHeader(http.StatusNotFound)
			return
		}
		http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
		return
	}

	if entry.Status >= 200 && entry.Status < 300 {
		if err := p.store.Put(r.Context(), partition, key, entry); err != nil {
			observability.WithField("key", key).Warnf("Cache write failed: %v", err)
		}
	}
	writeEntry(w, entry, false)
}

// networkFirst prefers a fresh page, stores a copy of any success, and falls
// back to the most recent cached copy, then the static offline page.
func (p *Proxy) networkFirst(w http.ResponseWriter, r *http.Request, target *url.URL) {
	key := Key(r.Method, target.String())

	entry, err := p.forward(r, target)
	if err == nil {
		if entry.Status >= 200 && entry.Status < 300 {
			if putErr := p.store.Put(r.Context(), PartitionPages, key, entry); putErr != nil {
				observability.WithField("key", key).Warnf("Cache write failed: %v", putErr)
			}
		}
		writeEntry(w, entry, false)
		return
	}

	if cached, getErr := p.store.Get(r.Context(), PartitionPages, key); getErr == nil && cached != nil {
		p.metrics.RecordLookup(r.Context(), ClassPage.String(), true)
		writeEntry(w, cached, true)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusServiceUnavailable)
	io.Copy(w, bytes.NewReader([]byte(offlinePage)))
}

// passthrough forwards the request untouched and never caches
func (p *Proxy) passthrough(w http.ResponseWriter, r *http.Request, target *url.URL) {
	req, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	copyHeader(req.Header, r.Header)

	resp, err := p.client.Do(req)
	if err != nil {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

// forward fetches target on behalf of r and buffers the response as an Entry
func (p *Proxy) forward(r *http.Request, target *url.URL) (*Entry, error) {
	req, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), nil)
	if err != nil {
		return nil, err
	}
	copyHeader(req.Header, r.Header)
	return p.fetch(req)
}

func (p *Proxy) fetch(req *http.Request) (*Entry, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &Entry{
		Status:     resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
		Generation: p.Generation(),
		StoredAt:   time.Now().UTC(),
	}, nil
}

func writeEntry(w http.ResponseWriter, entry *Entry, fromCache bool) {
	copyHeader(w.Header(), entry.Header)
	if fromCache {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	w.WriteHeader(entry.Status)
	w.Write(entry.Body)
}

func copyHeader(dst, src http.Header) {
	for k, values := range src {
		// Hop-by-hop headers stay per-connection
		if k == "Connection" || k == "Keep-Alive" || k == "Transfer-Encoding" || k == "Upgrade" {
			continue
		}
		for _, v := range values {
			dst.Add(k, v)
		}
	}
}
