// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher polls the config file for modification-time changes and reloads
// through the same layered path the daemon booted with, so file, profile and
// env layers stay consistent across reloads. A reload that fails to parse
// keeps the previous config.
type Watcher struct {
	reload   func() (*Config, error)
	paths    []string
	interval time.Duration
	log      *slog.Logger

	mu      sync.RWMutex
	current *Config
	modTime map[string]time.Time
	subs    []func(*Config)

	stopCh chan struct{}
	doneCh chan struct{}
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatchInterval sets the polling interval.
func WithWatchInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatchLogger sets the watcher logger.
func WithWatchLogger(log *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.log = log }
}

// NewWatcher builds a watcher over the given files. reload is invoked when
// any of them changes; it is expected to re-run the boot-time load.
func NewWatcher(initial *Config, reload func() (*Config, error), paths []string, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		reload:   reload,
		paths:    paths,
		interval: time.Second,
		log:      slog.Default(),
		current:  initial,
		modTime:  make(map[string]time.Time, len(paths)),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	for _, p := range paths {
		if info, err := os.Stat(p); err == nil {
			w.modTime[p] = info.ModTime()
		}
	}
	return w
}

// Current returns the most recently loaded config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnChange registers a callback invoked with each successfully reloaded
// config. Callbacks run on the watcher goroutine.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	w.subs = append(w.subs, fn)
	w.mu.Unlock()
}

// Start begins polling. Stop or ctx cancellation ends it.
func (w *Watcher) Start(ctx context.Context) {
	go w.loop(ctx)
}

// Stop halts polling and waits for the watcher goroutine to exit.
func (w *Watcher) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.doneCh)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if w.changed() {
				w.apply()
			}
		}
	}
}

// changed reports whether any watched file has a newer mtime than last seen.
// A missing file is not a change; it may be mid-rewrite.
func (w *Watcher) changed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	dirty := false
	for _, p := range w.paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		if last, seen := w.modTime[p]; !seen || info.ModTime().After(last) {
			w.modTime[p] = info.ModTime()
			dirty = true
		}
	}
	return dirty
}

func (w *Watcher) apply() {
	cfg, err := w.reload()
	if err != nil {
		w.log.Error("config.reload.failed", "error", err.Error())
		return
	}
	w.mu.Lock()
	w.current = cfg
	subs := make([]func(*Config), len(w.subs))
	copy(subs, w.subs)
	w.mu.Unlock()
	w.log.Info("config.reloaded", "paths", len(w.paths))
	for _, fn := range subs {
		fn(cfg)
	}
}

// CLIPath extracts the --config value from daemon CLI args, so callers can
// watch the same file LoadWithCLI read.
func CLIPath(args []string) string {
	flags, _, err := parseCLIOverrides(args)
	if err != nil {
		return ""
	}
	return flags.configPath
}
