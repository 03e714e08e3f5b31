// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package detector implements classification and the dangerous-request
// detector from spec.md §4.2: compiled-regex matching against user-agent
// and URL pattern sets, with a literal-substring fallback for patterns that
// never compiled, and memoization of repeat (ua, url) pairs.
package detector

import (
	"strings"
	"sync"

	"github.com/nginxshield/nginxshield/internal/patterns"
)

// compiledSet partitions a kind's entries into regex-capable and
// literal-substring fallback lists, built once per registry snapshot.
type compiledSet struct {
	regexes   []*patterns.Entry
	fallbacks []string
}

func buildSet(entries []patterns.Entry) compiledSet {
	var set compiledSet
	for i := range entries {
		e := &entries[i]
		if e.Compiled != nil {
			set.regexes = append(set.regexes, e)
		} else if e.Pattern != "" {
			set.fallbacks = append(set.fallbacks, strings.ToLower(e.Pattern))
		}
	}
	return set
}

func (s compiledSet) matchesAny(text string) bool {
	for _, e := range s.regexes {
		if e.Compiled.MatchString(text) {
			return true
		}
	}
	lower := strings.ToLower(text)
	for _, f := range s.fallbacks {
		if strings.Contains(lower, f) {
			return true
		}
	}
	return false
}

// memoKey is the cache key for a single (ua, url) classification.
type memoKey struct {
	ua  string
	url string
}

// Detector classifies request UA/URL pairs and flags dangerous ones. It
// rebuilds its compiled sets whenever the registry is reloaded by calling
// Refresh.
type Detector struct {
	registry *patterns.Registry

	mu           sync.RWMutex
	classifyUA   compiledSet
	classifyURL  compiledSet
	dangerousUA  compiledSet
	dangerousURL compiledSet

	memoMu sync.Mutex
	memo   map[memoKey]bool
}

// New builds a Detector from the current state of registry. Call Refresh
// after the registry's patterns change (add/remove/update).
func New(registry *patterns.Registry) *Detector {
	d := &Detector{registry: registry, memo: make(map[memoKey]bool)}
	d.Refresh()
	return d
}

// Refresh rebuilds the compiled sets from the registry's current entries
// and clears the memoization cache, since stale results could otherwise
// survive a pattern edit.
func (d *Detector) Refresh() {
	all := d.registry.ListAll()

	d.mu.Lock()
	d.classifyUA = buildSet(all[patterns.KindClassifyUA])
	d.classifyURL = buildSet(all[patterns.KindClassifyURL])
	d.dangerousUA = buildSet(all[patterns.KindDangerousUA])
	d.dangerousURL = buildSet(all[patterns.KindDangerousURL])
	d.mu.Unlock()

	d.memoMu.Lock()
	d.memo = make(map[memoKey]bool)
	d.memoMu.Unlock()
}

// ClassifyUA reports whether ua matches any classify-UA pattern.
func (d *Detector) ClassifyUA(ua string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.classifyUA.matchesAny(ua)
}

// ClassifyURL reports whether url matches any classify-URL pattern.
func (d *Detector) ClassifyURL(url string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.classifyURL.matchesAny(url)
}

// IsDangerous reports whether (ua, url) is dangerous: regex-any on UA,
// substring-any on UA, regex-any on URL, substring-any on URL, short-
// circuiting on the first hit. The result is memoized per (ua, url) pair.
func (d *Detector) IsDangerous(ua, url string) bool {
	key := memoKey{ua: ua, url: url}

	d.memoMu.Lock()
	if v, ok := d.memo[key]; ok {
		d.memoMu.Unlock()
		return v
	}
	d.memoMu.Unlock()

	d.mu.RLock()
	result := d.dangerousUA.matchesAny(ua) || d.dangerousURL.matchesAny(url)
	d.mu.RUnlock()

	d.memoMu.Lock()
	d.memo[key] = result
	d.memoMu.Unlock()

	return result
}
