// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package patterns implements the Pattern Registry: four flat pattern files
// (classify-UA, classify-URL, dangerous-UA, dangerous-URL), each one JSON
// object per line, each entry a compiled regex plus a human label.
package patterns

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind is one of the four pattern sets the registry tracks.
type Kind string

const (
	KindClassifyUA   Kind = "ua"
	KindClassifyURL  Kind = "url"
	KindDangerousUA  Kind = "ua_dangerous"
	KindDangerousURL Kind = "url_dangerous"
)

var allKinds = []Kind{KindClassifyUA, KindClassifyURL, KindDangerousUA, KindDangerousURL}

// Entry is a single pattern: a regex source string, its compiled form, and
// metadata. Compiled is nil when the source string failed to compile; such
// entries are still listed (for operator visibility) but never matched.
type Entry struct {
	ID          string    `json:"id"`
	Pattern     string    `json:"pattern"`
	Description string    `json:"description"`
	Type        Kind      `json:"type"`
	CreatedAt   time.Time `json:"createdAt"`
	Compiled    *regexp.Regexp `json:"-"`
}

// Registry holds the four pattern sets, each backed by its own file.
type Registry struct {
	paths map[Kind]string

	mu      sync.RWMutex
	entries map[Kind][]Entry
	// validCount/totalCount back the validity ratio exposed by Stats.
	validCount map[Kind]int
	totalCount map[Kind]int
}

// Paths names the four backing files by kind.
type Paths struct {
	ClassifyUA   string
	ClassifyURL  string
	DangerousUA  string
	DangerousURL string
}

func (p Paths) forKind(k Kind) string {
	switch k {
	case KindClassifyUA:
		return p.ClassifyUA
	case KindClassifyURL:
		return p.ClassifyURL
	case KindDangerousUA:
		return p.DangerousUA
	case KindDangerousURL:
		return p.DangerousURL
	}
	return ""
}

// Load reads all four pattern files; a missing file loads as an empty set
// and is not created.
func Load(p Paths) (*Registry, error) {
	r := &Registry{
		paths:      map[Kind]string{},
		entries:    map[Kind][]Entry{},
		validCount: map[Kind]int{},
		totalCount: map[Kind]int{},
	}
	for _, k := range allKinds {
		path := p.forKind(k)
		if path == "" {
			return nil, fmt.Errorf("patterns: no path configured for kind %q", k)
		}
		r.paths[k] = path
		if err := r.loadKind(k); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) loadKind(k Kind) error {
	path := r.paths[k]
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		r.entries[k] = nil
		return nil
	}
	if err != nil {
		return fmt.Errorf("opening pattern file %s: %w", path, err)
	}
	defer f.Close()

	var entries []Entry
	valid, total := 0, 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entry, ok := parseLine(line, k)
		if !ok {
			continue
		}
		total++
		entry.Compiled, err = regexp.Compile(entry.Pattern)
		if err != nil {
			entry.Compiled = nil
		} else {
			valid++
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading pattern file %s: %w", path, err)
	}

	r.mu.Lock()
	r.entries[k] = entries
	r.validCount[k] = valid
	r.totalCount[k] = total
	r.mu.Unlock()
	return nil
}

// parseLine parses one JSON-object-per-line pattern entry. Legacy lines of
// the form "pattern = description" (no JSON) are accepted as a bare pattern
// with the text after "=" as its description.
func parseLine(line string, k Kind) (Entry, bool) {
	var e Entry
	if err := json.Unmarshal([]byte(line), &e); err == nil && e.Pattern != "" {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.Type == "" {
			e.Type = k
		}
		return e, true
	}

	if idx := strings.Index(line, "="); idx > 0 {
		pattern := strings.TrimSpace(line[:idx])
		desc := strings.TrimSpace(line[idx+1:])
		if pattern == "" {
			return Entry{}, false
		}
		return Entry{
			ID:          uuid.NewString(),
			Pattern:     pattern,
			Description: desc,
			Type:        k,
			CreatedAt:   time.Now().UTC(),
		}, true
	}
	return Entry{}, false
}

// Reload re-reads all four pattern files from disk, picking up edits made by
// another process (e.g. the control plane's patterns API) sharing the same
// files. Callers that cache derived state (internal/detector) must call
// their own Refresh afterward.
func (r *Registry) Reload() error {
	for _, k := range allKinds {
		if err := r.loadKind(k); err != nil {
			return err
		}
	}
	return nil
}

// List returns all entries for a kind, newest first omitted (file order
// preserved).
func (r *Registry) List(k Kind) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, len(r.entries[k]))
	copy(out, r.entries[k])
	return out
}

// ListAll returns every entry across all four kinds.
func (r *Registry) ListAll() map[Kind][]Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[Kind][]Entry, len(allKinds))
	for _, k := range allKinds {
		entries := make([]Entry, len(r.entries[k]))
		copy(entries, r.entries[k])
		out[k] = entries
	}
	return out
}

// Stats reports, per kind, how many entries compiled successfully.
type Stats struct {
	Valid int
	Total int
}

func (r *Registry) Stats(k Kind) Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{Valid: r.validCount[k], Total: r.totalCount[k]}
}

// Add compiles and appends a new entry, persisting the file atomically.
func (r *Registry) Add(k Kind, pattern, description string) (Entry, error) {
	compiled, err := regexp.Compile(pattern)
	if err != nil {
		return Entry{}, fmt.Errorf("compiling pattern %q: %w", pattern, err)
	}
	entry := Entry{
		ID:          uuid.NewString(),
		Pattern:     pattern,
		Description: description,
		Type:        k,
		CreatedAt:   time.Now().UTC(),
		Compiled:    compiled,
	}

	r.mu.Lock()
	r.entries[k] = append(r.entries[k], entry)
	r.totalCount[k]++
	r.validCount[k]++
	snapshot := append([]Entry(nil), r.entries[k]...)
	r.mu.Unlock()

	if err := r.persist(k, snapshot); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// Remove deletes the entry with the given id, persisting the file.
func (r *Registry) Remove(k Kind, id string) error {
	r.mu.Lock()
	entries := r.entries[k]
	idx := -1
	for i, e := range entries {
		if e.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		r.mu.Unlock()
		return fmt.Errorf("patterns: entry %q not found", id)
	}
	removed := entries[idx]
	entries = append(entries[:idx], entries[idx+1:]...)
	r.entries[k] = entries
	r.totalCount[k]--
	if removed.Compiled != nil {
		r.validCount[k]--
	}
	snapshot := append([]Entry(nil), entries...)
	r.mu.Unlock()

	return r.persist(k, snapshot)
}

// Update replaces the pattern/description of an existing entry by id.
func (r *Registry) Update(k Kind, id, pattern, description string) (Entry, error) {
	compiled, err := regexp.Compile(pattern)
	if err != nil {
		return Entry{}, fmt.Errorf("compiling pattern %q: %w", pattern, err)
	}

	r.mu.Lock()
	entries := r.entries[k]
	idx := -1
	for i, e := range entries {
		if e.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		r.mu.Unlock()
		return Entry{}, fmt.Errorf("patterns: entry %q not found", id)
	}
	wasValid := entries[idx].Compiled != nil
	entries[idx].Pattern = pattern
	entries[idx].Description = description
	entries[idx].Compiled = compiled
	if !wasValid {
		r.validCount[k]++
	}
	updated := entries[idx]
	snapshot := append([]Entry(nil), entries...)
	r.mu.Unlock()

	if err := r.persist(k, snapshot); err != nil {
		return Entry{}, err
	}
	return updated, nil
}

// persist atomically rewrites the backing file for kind k (write-temp +
// rename), one JSON object per line.
func (r *Registry) persist(k Kind, entries []Entry) error {
	path := r.paths[k]
	tmp := path + ".tmp." + strconv.FormatInt(time.Now().UnixNano(), 10)

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating temp pattern file: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, e := range entries {
		data, err := json.Marshal(struct {
			ID          string    `json:"id"`
			Pattern     string    `json:"pattern"`
			Description string    `json:"description"`
			Type        Kind      `json:"type"`
			CreatedAt   time.Time `json:"createdAt"`
		}{e.ID, e.Pattern, e.Description, e.Type, e.CreatedAt})
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
			return fmt.Errorf("marshaling pattern entry: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
			return fmt.Errorf("writing pattern entry: %w", err)
		}
		if _, err := w.WriteString("\n"); err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
			return fmt.Errorf("writing pattern entry: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("flushing pattern file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("closing pattern file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("renaming pattern file: %w", err)
	}
	return nil
}
