package services

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/truetrek/agent/internal/config"
	"github.com/truetrek/agent/internal/models"
	"github.com/truetrek/agent/internal/observability"
)

// Connectivity reports whether the TrueTrek server is currently reachable
type Connectivity interface {
	Online() bool
}

// ConnectivityWatcher probes the server's health endpoint on an interval and
// publishes online/offline events on transitions. A restored connection
// triggers exactly one queue drain.
type ConnectivityWatcher struct {
	probeURL string
	interval time.Duration
	client   *http.Client
	bus      *EventBus
	online   atomic.Bool

	// OnOnline is invoked once per offline -> online transition
	OnOnline func()
}

// NewConnectivityWatcher creates a watcher for the configured server
func NewConnectivityWatcher(cfg config.Server, bus *EventBus) *ConnectivityWatcher {
	interval := time.Duration(cfg.ProbeIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 15 * time.Second
	}

	probePath := cfg.ProbePath
	if probePath == "" {
		probePath = "/up"
	}

	return &ConnectivityWatcher{
		probeURL: strings.TrimRight(cfg.BaseURL, "/") + probePath,
		interval: interval,
		client:   &http.Client{Timeout: 5 * time.Second},
		bus:      bus,
	}
}

// Online returns the result of the most recent probe
func (w *ConnectivityWatcher) Online() bool {
	return w.online.Load()
}

// Run probes until the context is cancelled. The first probe happens
// immediately so startup state is accurate.
func (w *ConnectivityWatcher) Run(ctx context.Context) {
	w.check(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.check(ctx)
		}
	}
}

// check runs one probe and publishes an event if the state changed
func (w *ConnectivityWatcher) check(ctx context.Context) {
	reachable := w.probe(ctx)
	was := w.online.Swap(reachable)
	if was == reachable {
		return
	}

	if reachable {
		observability.WithField("probe_url", w.probeURL).Info("Server reachable, connection restored")
		w.bus.Publish(models.Event{Type: models.EventOnline})
		if w.OnOnline != nil {
			w.OnOnline()
		}
	} else {
		observability.WithField("probe_url", w.probeURL).Warn("Server unreachable, going offline")
		w.bus.Publish(models.Event{Type: models.EventOffline})
	}
}

// probe issues one HEAD request against the health endpoint
func (w *ConnectivityWatcher) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, w.probeURL, nil)
	if err != nil {
		return false
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()

	return resp.StatusCode < 500
}
