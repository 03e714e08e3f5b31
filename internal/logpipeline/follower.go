// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package logpipeline

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// pollInterval is how often a Follower re-stats its file to look for new
// data, truncation, or rotation.
const pollInterval = time.Second

// Follower tails a single file from its current end, surviving rotation
// (a new file replacing the old inode at the same path) and truncation
// (the file shrinking under it), per spec.md §4.1.
type Follower struct {
	path   string
	logger *slog.Logger

	file   *os.File
	info   os.FileInfo
	offset int64
}

// NewFollower opens path and seeks to its current end, so only lines
// written after the follower starts are delivered.
func NewFollower(path string, logger *slog.Logger) (*Follower, error) {
	f := &Follower{path: path, logger: logger}
	if err := f.openAtEnd(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Follower) openAtEnd() error {
	file, err := os.Open(f.path)
	if err != nil {
		return err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return err
	}
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		file.Close()
		return err
	}
	f.file = file
	f.info = info
	f.offset = info.Size()
	return nil
}

func (f *Follower) reopen() error {
	if f.file != nil {
		f.file.Close()
	}
	var lastErr error
	// Temporary absence (mid-rotation) is retried with backoff rather than
	// surfaced as a fatal follower error.
	for _, backoff := range []time.Duration{0, 100 * time.Millisecond, 500 * time.Millisecond} {
		if backoff > 0 {
			time.Sleep(backoff)
		}
		file, err := os.Open(f.path)
		if err != nil {
			lastErr = err
			continue
		}
		info, err := file.Stat()
		if err != nil {
			file.Close()
			lastErr = err
			continue
		}
		f.file = file
		f.info = info
		f.offset = 0
		return nil
	}
	return lastErr
}

// Run reads newly-appended lines until ctx is cancelled, invoking handle
// for each complete line. Transient I/O conditions (absence, truncation,
// rotation) never stop it; it returns only when ctx is cancelled.
func (f *Follower) Run(ctx context.Context, handle func(line string)) {
	defer func() {
		if f.file != nil {
			f.file.Close()
		}
	}()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.poll(handle)
		}
	}
}

func (f *Follower) poll(handle func(line string)) {
	currentInfo, err := os.Stat(f.path)
	if err != nil {
		// Temporary absence: leave the open handle as-is and retry next tick.
		return
	}

	if f.info == nil || !os.SameFile(f.info, currentInfo) {
		f.logger.Info("logpipeline: file rotation detected, reopening", "category", "pipeline", "path", f.path)
		if err := f.reopen(); err != nil {
			f.logger.Warn("logpipeline: reopen after rotation failed", "category", "pipeline", "path", f.path, "error", err)
			return
		}
	} else if currentInfo.Size() < f.offset {
		f.logger.Info("logpipeline: truncation detected, rewinding", "category", "pipeline", "path", f.path)
		if _, err := f.file.Seek(0, io.SeekStart); err != nil {
			return
		}
		f.offset = 0
	}

	f.readAvailable(handle)
	if info, err := f.file.Stat(); err == nil {
		f.info = info
	}
}

func (f *Follower) readAvailable(handle func(line string)) {
	reader := bufio.NewReader(f.file)
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 && line[len(line)-1] == '\n' {
			f.offset += int64(len(line))
			handle(trimNewline(line))
			continue
		}
		if err == io.EOF {
			// Partial (unterminated) line: rewind so it is re-read once
			// completed, rather than splitting it across two handle calls.
			if len(line) > 0 {
				_, _ = f.file.Seek(f.offset, io.SeekStart)
			}
			return
		}
		if err != nil {
			return
		}
	}
}

func trimNewline(s string) string {
	n := len(s)
	if n > 0 && s[n-1] == '\n' {
		n--
	}
	if n > 0 && s[n-1] == '\r' {
		n--
	}
	return s[:n]
}
