// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package logpipeline

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// discoveryInterval is the glob re-scan cadence from spec.md §4.1.
const discoveryInterval = 5 * time.Second

// Discoverer enumerates files matching one or more glob patterns and
// spawns a Follower for each newly-seen file, supplementing the polling
// scan with fsnotify create events for faster pickup.
type Discoverer struct {
	globs  []string
	logger *slog.Logger

	handle func(line string, kind LineKind)

	mu      sync.Mutex
	started map[string]context.CancelFunc
}

// LineKind tells the pipeline which parser family produced a line, so
// error-log lines never reach the ban decision procedure.
type LineKind int

const (
	// LineKindAccess marks a line read from an access-log file.
	LineKindAccess LineKind = iota
	// LineKindError marks a line read from an error-log file.
	LineKindError
)

// NewDiscoverer builds a Discoverer over globs. Each watched file is
// classified as access or error log by the classify function passed to Run.
func NewDiscoverer(globs []string, logger *slog.Logger, handle func(line string, kind LineKind)) *Discoverer {
	return &Discoverer{
		globs:   globs,
		logger:  logger,
		handle:  handle,
		started: make(map[string]context.CancelFunc),
	}
}

// Run scans and watches until ctx is cancelled.
func (d *Discoverer) Run(ctx context.Context, classify func(path string) LineKind) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.logger.Warn("logpipeline: fsnotify unavailable, falling back to polling only", "category", "pipeline", "error", err)
		watcher = nil
	}
	if watcher != nil {
		defer watcher.Close()
		for _, dir := range uniqueDirs(d.globs) {
			if err := watcher.Add(dir); err != nil {
				d.logger.Warn("logpipeline: watch dir failed", "category", "pipeline", "dir", dir, "error", err)
			}
		}
	}

	d.scan(ctx, classify)

	ticker := time.NewTicker(discoveryInterval)
	defer ticker.Stop()

	var events chan fsnotify.Event
	var errs chan error
	if watcher != nil {
		events = watcher.Events
		errs = watcher.Errors
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.scan(ctx, classify)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				d.scan(ctx, classify)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			d.logger.Warn("logpipeline: fsnotify error", "category", "pipeline", "error", err)
		}
	}
}

func (d *Discoverer) scan(ctx context.Context, classify func(path string) LineKind) {
	seen := map[string]bool{}
	for _, pattern := range d.globs {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			d.logger.Warn("logpipeline: glob failed", "category", "pipeline", "pattern", pattern, "error", err)
			continue
		}
		for _, path := range matches {
			seen[path] = true
			d.maybeSpawn(ctx, path, classify(path))
		}
	}
}

func (d *Discoverer) maybeSpawn(ctx context.Context, path string, kind LineKind) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.started[path]; ok {
		return
	}

	follower, err := NewFollower(path, d.logger)
	if err != nil {
		d.logger.Warn("logpipeline: opening new file failed", "category", "pipeline", "path", path, "error", err)
		return
	}

	followerCtx, cancel := context.WithCancel(ctx)
	d.started[path] = cancel
	go follower.Run(followerCtx, func(line string) { d.handle(line, kind) })
}

func uniqueDirs(globs []string) []string {
	seen := map[string]bool{}
	var dirs []string
	for _, g := range globs {
		dir := filepath.Dir(g)
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}
	return dirs
}
