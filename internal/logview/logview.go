// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package logview serves the control-plane's live-tail API (spec.md §4.7,
// "Logs: list available log files, tail with limit/offset/search, per-file
// stats, search") over the application's own log output directory — the
// sinks the Log Pipeline's async log writer and batchers write to, as
// opposed to the upstream NGINX files the pipeline tails.
package logview

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// FileInfo describes one log file available for tailing.
type FileInfo struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Stats summarizes one log file: its metadata plus a line count.
type Stats struct {
	FileInfo
	LineCount int `json:"line_count"`
}

// Viewer reads log files from a single directory.
type Viewer struct {
	dir string
}

// New builds a Viewer over dir.
func New(dir string) *Viewer {
	return &Viewer{dir: dir}
}

// List returns every regular file directly under the log directory,
// newest first.
func (v *Viewer) List() ([]FileInfo, error) {
	entries, err := os.ReadDir(v.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("logview: reading log directory: %w", err)
	}

	var out []FileInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, FileInfo{Name: entry.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModTime.After(out[j].ModTime) })
	return out, nil
}

// Stats reports size, mtime, and line count for one named log file.
func (v *Viewer) Stats(name string) (Stats, error) {
	path, err := v.resolve(name)
	if err != nil {
		return Stats{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return Stats{}, fmt.Errorf("logview: stat %s: %w", name, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return Stats{}, fmt.Errorf("logview: opening %s: %w", name, err)
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		count++
	}

	return Stats{
		FileInfo:  FileInfo{Name: name, Size: info.Size(), ModTime: info.ModTime()},
		LineCount: count,
	}, nil
}

// Tail returns up to limit lines starting at offset lines from the end of
// the named file (offset 0 is the most recent line), optionally filtered
// to lines containing search (case-insensitive). Lines are returned
// oldest-first within the returned page.
func (v *Viewer) Tail(name string, limit, offset int, search string) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	lines, err := v.readAllLines(name)
	if err != nil {
		return nil, err
	}

	if search != "" {
		lines = filterContains(lines, search)
	}

	// Reverse to newest-first so offset/limit page backward from the tail.
	reversed := make([]string, len(lines))
	for i, l := range lines {
		reversed[len(lines)-1-i] = l
	}

	if offset >= len(reversed) {
		return []string{}, nil
	}
	end := offset + limit
	if end > len(reversed) {
		end = len(reversed)
	}
	page := reversed[offset:end]

	// Restore chronological order for the page returned to the caller.
	out := make([]string, len(page))
	for i, l := range page {
		out[len(page)-1-i] = l
	}
	return out, nil
}

// Search returns every line in the named file containing search
// (case-insensitive), capped at limit matches, most recent first.
func (v *Viewer) Search(name, search string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 500
	}
	lines, err := v.readAllLines(name)
	if err != nil {
		return nil, err
	}
	matches := filterContains(lines, search)

	out := make([]string, 0, limit)
	for i := len(matches) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, matches[i])
	}
	return out, nil
}

func (v *Viewer) readAllLines(name string) ([]string, error) {
	path, err := v.resolve(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("logview: opening %s: %w", name, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

func filterContains(lines []string, search string) []string {
	needle := strings.ToLower(search)
	var out []string
	for _, l := range lines {
		if strings.Contains(strings.ToLower(l), needle) {
			out = append(out, l)
		}
	}
	return out
}

// resolve rejects path traversal and returns the absolute path of name
// within the log directory.
func (v *Viewer) resolve(name string) (string, error) {
	if name == "" || name != filepath.Base(name) {
		return "", fmt.Errorf("logview: invalid file name %q", name)
	}
	return filepath.Join(v.dir, name), nil
}
