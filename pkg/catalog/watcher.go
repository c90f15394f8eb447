// SPDX-License-Identifier: Apache-2.0
package catalog

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Watcher polls skill directories for changes and rebuilds the catalog when
// something moved. The swap is atomic, so readers keep a consistent view
// throughout.
type Watcher struct {
	builder  *Builder
	catalog  *Catalog
	roots    []string
	interval time.Duration
	log      *slog.Logger

	mu       sync.Mutex
	lastScan map[string]time.Time
	cancel   context.CancelFunc
	done     chan struct{}
}

// WatcherOption configures the watcher.
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatcherLogger sets the watcher logger.
func WithWatcherLogger(log *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.log = log }
}

// NewWatcher builds a watcher over the given skill roots.
func NewWatcher(builder *Builder, catalog *Catalog, roots []string, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		builder:  builder,
		catalog:  catalog,
		roots:    roots,
		interval: 2 * time.Second,
		log:      slog.Default(),
		lastScan: map[string]time.Time{},
	}
	for _, opt := range opts {
		opt(w)
	}
	for _, root := range roots {
		w.lastScan[root] = rootMTime(root)
	}
	return w
}

// Start begins polling. Stop or ctx cancellation ends it.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	done := make(chan struct{})
	w.done = done
	go w.loop(ctx, done)
	w.log.Info("catalog.watcher.start",
		slog.Int("roots", len(w.roots)),
		slog.Duration("interval", w.interval))
}

// Stop ends polling and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	done := w.done
	w.cancel = nil
	w.done = nil
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (w *Watcher) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info("catalog.watcher.stop")
			return
		case <-ticker.C:
			if !w.changed() {
				continue
			}
			w.log.Info("catalog.watcher.reload")
			if err := w.builder.Rebuild(ctx, w.catalog); err != nil {
				w.log.Warn("catalog.watcher.rebuild_failed", slog.String("error", err.Error()))
			}
		}
	}
}

// changed reports whether any root's newest mtime advanced since the last
// scan, updating the scan marks.
func (w *Watcher) changed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	dirty := false
	for _, root := range w.roots {
		at := rootMTime(root)
		if at.After(w.lastScan[root]) {
			w.lastScan[root] = at
			dirty = true
		}
	}
	return dirty
}

func rootMTime(root string) time.Time {
	var newest time.Time
	_ = filepath.Walk(root, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		return nil
	})
	return newest
}
