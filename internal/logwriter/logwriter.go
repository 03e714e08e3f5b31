// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package logwriter is the Log Pipeline's single-consumer batcher (spec.md
// §5): it drains logpipeline's LogLine/ErrorLine channels into the
// application's own log-output directory, 8 KiB-buffered and flushed on
// batch size (50) or a 1 s timeout, one file per sink. internal/logview
// serves these files back out over the control-plane's tail API.
package logwriter

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nginxshield/nginxshield/internal/logpipeline"
)

// BatchSize and FlushInterval are the log batcher's flush triggers.
const (
	BatchSize     = 50
	FlushInterval = 1 * time.Second
	bufferSize    = 8 * 1024
)

// Sink names, one file per concern under the app log directory.
const (
	AccessLog    = "access.log"
	WhitelistLog = "whitelist.log"
	ErrorLog     = "error.log"
)

// Writer owns buffered, append-only handles for every sink file.
type Writer struct {
	dir    string
	logger *slog.Logger
	files  map[string]*bufferedFile
}

type bufferedFile struct {
	f   *os.File
	buf *bufio.Writer
}

// New opens (creating as needed) the sink files under dir.
func New(dir string, logger *slog.Logger) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logwriter: preparing log directory: %w", err)
	}
	w := &Writer{dir: dir, logger: logger, files: make(map[string]*bufferedFile)}
	for _, name := range []string{AccessLog, WhitelistLog, ErrorLog} {
		if err := w.open(name); err != nil {
			w.Close()
			return nil, err
		}
	}
	return w, nil
}

func (w *Writer) open(name string) error {
	f, err := os.OpenFile(filepath.Join(w.dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("logwriter: opening %s: %w", name, err)
	}
	w.files[name] = &bufferedFile{f: f, buf: bufio.NewWriterSize(f, bufferSize)}
	return nil
}

// Close flushes and closes every sink file.
func (w *Writer) Close() {
	for _, bf := range w.files {
		bf.buf.Flush()
		bf.f.Close()
	}
}

func (w *Writer) writeLine(name, line string) {
	bf, ok := w.files[name]
	if !ok {
		return
	}
	if _, err := bf.buf.WriteString(line + "\n"); err != nil {
		w.logger.Warn("logwriter: write failed", "category", "pipeline", "sink", name, "error", err)
	}
}

func (w *Writer) flushAll() {
	for name, bf := range w.files {
		if err := bf.buf.Flush(); err != nil {
			w.logger.Warn("logwriter: flush failed", "category", "pipeline", "sink", name, "error", err)
		}
	}
}

// Run drains lines and errs onto the sink files until ctx is cancelled,
// flushing on batch size, on a 1 s timer, and once more on shutdown.
func (w *Writer) Run(ctx context.Context, lines <-chan logpipeline.LogLine, errs <-chan logpipeline.ErrorEvent) {
	defer w.flushAll()

	ticker := time.NewTicker(FlushInterval)
	defer ticker.Stop()

	pending := 0
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			w.writeLine(sinkFor(line), formatLogLine(line))
			pending++
			if pending >= BatchSize {
				w.flushAll()
				pending = 0
			}
		case ev, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.writeLine(ErrorLog, formatErrorEvent(ev))
			pending++
			if pending >= BatchSize {
				w.flushAll()
				pending = 0
			}
		case <-ticker.C:
			if pending > 0 {
				w.flushAll()
				pending = 0
			}
		}
	}
}

func sinkFor(line logpipeline.LogLine) string {
	if line.Whitelisted {
		return WhitelistLog
	}
	return AccessLog
}

func formatLogLine(line logpipeline.LogLine) string {
	ev := line.Event
	return fmt.Sprintf("[%s] %s %d %s %q dangerous=%t errors=%d banned=%t client=%s/%s bot=%t",
		line.Timestamp.UTC().Format(time.RFC3339), ev.IP, ev.HTTPCode, ev.Domain, ev.URL, line.Dangerous, line.Errors, line.Banned,
		line.Client.Browser, line.Client.OS, line.Client.Bot)
}

func formatErrorEvent(ev logpipeline.ErrorEvent) string {
	return fmt.Sprintf("[%s] client:%s level:%s server:%s request:%q upstream:%q",
		time.Now().UTC().Format(time.RFC3339), ev.IP, ev.Level, ev.Domain, ev.URL, ev.Upstream)
}
