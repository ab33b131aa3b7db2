// watcher.go: Argus-backed source change watcher for hot reload
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package lazyload

import (
	"sync"
	"time"

	"github.com/agilira/argus"
)

// SourceWatcherOptions configures a SourceWatcher.
type SourceWatcherOptions struct {
	// PollInterval controls how often Argus polls watched sources.
	// Defaults to 2s, plenty for plugin files that change on deploys.
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`

	// Logger receives watcher diagnostics. Defaults to the loader's.
	Logger Logger `json:"-" yaml:"-"`
}

// SourceWatcher watches a loader's scanned plugin sources and flags the
// corresponding identifiers stale when they change on disk, so the next
// access re-materializes them without a full Clear.
//
// The loader already detects newer mtimes on access by itself; the
// watcher exists for long-running daemons that want changed plugins
// flagged even while nothing is accessing them (and for filesystems whose
// mtime granularity is too coarse for the on-access check).
//
// The staleness flag is set through LazyLoader.MarkStalePath, which only
// toggles a map entry; actual re-materialization still happens on the
// caller's goroutine at the next access, preserving the loader's
// single-threaded execution model.
type SourceWatcher struct {
	loader  *LazyLoader
	watcher *argus.Watcher
	logger  Logger

	mu      sync.Mutex
	running bool
	watched map[string]struct{}
}

// NewSourceWatcher builds a watcher over every candidate source the
// loader's scan produced.
func NewSourceWatcher(loader *LazyLoader, opts SourceWatcherOptions) *SourceWatcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = loader.logger
	}

	maxWatched := loader.mapping.Len()
	if maxWatched < 1 {
		maxWatched = 1
	}
	watcher := argus.New(argus.Config{
		PollInterval:    opts.PollInterval,
		MaxWatchedFiles: maxWatched,
		ErrorHandler: func(err error, path string) {
			logger.Warn("Source watching error", "file", path, "error", err)
		},
	})

	return &SourceWatcher{
		loader:  loader,
		watcher: watcher,
		logger:  logger,
		watched: make(map[string]struct{}),
	}
}

// Start registers every scanned source with Argus and begins polling.
func (w *SourceWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	for _, cand := range w.loader.mapping.entries {
		path := cand.path
		if _, dup := w.watched[path]; dup {
			continue
		}
		if err := w.watcher.Watch(path, w.handleChange); err != nil {
			w.logger.Warn("Cannot watch plugin source", "file", path, "error", err)
			continue
		}
		w.watched[path] = struct{}{}
	}

	if err := w.watcher.Start(); err != nil {
		return err
	}
	w.running = true
	w.logger.Debug("Source watcher started", "files", len(w.watched))
	return nil
}

// Stop halts polling. The watcher cannot be restarted after Stop; build a
// fresh one after a Clear, which may have changed the candidate set
// anyway.
func (w *SourceWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return nil
	}
	w.running = false
	return w.watcher.Stop()
}

// handleChange flags the changed source's identifier stale. Deletions are
// left to Clear: the loader keeps serving the loaded namespace for a
// vanished file rather than churning.
func (w *SourceWatcher) handleChange(event argus.ChangeEvent) {
	if event.IsDelete {
		w.logger.Debug("Plugin source deleted, awaiting Clear", "file", event.Path)
		return
	}
	w.logger.Debug("Plugin source changed, flagging stale", "file", event.Path)
	w.loader.MarkStalePath(event.Path)
}
