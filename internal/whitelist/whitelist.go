// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package whitelist implements the Whitelist Engine from spec.md §4.4: a
// persistent set of {IP, CIDR, domain} entries with a separate cadence for
// domain-to-IP resolution. The in-memory snapshot is rebuilt from the store
// after each Add or Remove made through the Engine and at the end of each
// RefreshDomains pass; there is no mtime-based reload, so rows written to
// the store by another process appear only at the next such rebuild.
package whitelist

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/nginxshield/nginxshield/internal/store"
	"github.com/nginxshield/nginxshield/internal/util"
)

// snapshot is the immutable, atomically-swapped in-memory representation
// built from the static entry set plus the last resolved domain IPs.
type snapshot struct {
	ips     map[string]struct{}
	cidrs   []*net.IPNet
	domains map[string]string // domain -> resolved IP
}

func (s *snapshot) contains(candidate string) bool {
	if s == nil {
		return false
	}
	if _, ok := s.ips[candidate]; ok {
		return true
	}
	ip := net.ParseIP(candidate)
	if ip != nil {
		for _, cidr := range s.cidrs {
			if cidr.Contains(ip) {
				return true
			}
		}
	}
	for _, resolved := range s.domains {
		if resolved == candidate {
			return true
		}
	}
	return false
}

// Engine serves membership tests against a live whitelist snapshot, backed
// by the store and refreshed on a cadence. Reads take a shared lock only
// for the pointer swap; the snapshot itself is immutable once built.
type Engine struct {
	q      *store.Queries
	logger *slog.Logger

	mu   sync.RWMutex
	live *snapshot
}

// New constructs an Engine and performs an initial load from the store.
func New(q *store.Queries, logger *slog.Logger) (*Engine, error) {
	e := &Engine{q: q, logger: logger}
	if err := e.Reload(context.Background()); err != nil {
		return nil, err
	}
	return e, nil
}

// Contains reports whether candidate (an IP string) is whitelisted.
func (e *Engine) Contains(candidate string) bool {
	e.mu.RLock()
	s := e.live
	e.mu.RUnlock()
	return s.contains(candidate)
}

// Reload rebuilds the in-memory snapshot from the store's static entries,
// preserving previously-resolved domain IPs, and swaps it in atomically.
func (e *Engine) Reload(ctx context.Context) error {
	entries, err := e.q.ListWhitelistEntries(ctx)
	if err != nil {
		return fmt.Errorf("whitelist: listing entries: %w", err)
	}
	meta, err := e.q.ListWhitelistMetadata(ctx)
	if err != nil {
		return fmt.Errorf("whitelist: listing metadata: %w", err)
	}

	next := &snapshot{
		ips:     map[string]struct{}{},
		domains: map[string]string{},
	}
	for _, m := range meta {
		next.domains[m.ResolvedDomain] = m.ResolvedIP
	}
	for _, en := range entries {
		switch en.EntryType {
		case store.WhitelistEntryIP:
			next.ips[en.Value] = struct{}{}
		case store.WhitelistEntryCIDR:
			_, network, err := net.ParseCIDR(en.Value)
			if err != nil {
				e.logger.Warn("whitelist: skipping malformed cidr", "category", "whitelist", "value", en.Value, "error", err)
				continue
			}
			next.cidrs = append(next.cidrs, network)
		case store.WhitelistEntryDomain:
			if _, ok := next.domains[en.Value]; !ok {
				next.domains[en.Value] = ""
			}
		}
	}

	e.mu.Lock()
	e.live = next
	e.mu.Unlock()
	return nil
}

// RefreshDomains re-resolves every domain entry's IP, isolating per-domain
// failures so one bad domain never blocks the rest (spec.md §7).
func (e *Engine) RefreshDomains(ctx context.Context) {
	entries, err := e.q.ListWhitelistEntries(ctx)
	if err != nil {
		e.logger.Error("whitelist: listing entries for domain refresh failed", "category", "whitelist", "error", err)
		return
	}

	for _, en := range entries {
		if en.EntryType != store.WhitelistEntryDomain {
			continue
		}
		ips, err := net.DefaultResolver.LookupHost(ctx, en.Value)
		if err != nil || len(ips) == 0 {
			e.logger.Warn("whitelist: domain resolve failed", "category", "whitelist", "domain", en.Value, "error", err)
			continue
		}
		if err := e.q.UpsertWhitelistMetadata(ctx, store.WhitelistMetadata{
			ResolvedDomain: en.Value,
			ResolvedIP:     ips[0],
			ResolvedAt:     time.Now().UTC(),
		}); err != nil {
			e.logger.Error("whitelist: persisting resolved domain failed", "category", "whitelist", "domain", en.Value, "error", err)
			continue
		}
	}

	if err := e.Reload(ctx); err != nil {
		e.logger.Error("whitelist: reload after domain refresh failed", "category", "whitelist", "error", err)
	}
}

// Add validates and inserts a new whitelist entry, then reloads the snapshot.
func (e *Engine) Add(ctx context.Context, entryType store.WhitelistEntryType, value, description string) (store.WhitelistEntry, error) {
	if err := validate(entryType, value); err != nil {
		return store.WhitelistEntry{}, err
	}
	entry, err := e.q.CreateWhitelistEntry(ctx, store.CreateWhitelistEntryParams{
		EntryType:   entryType,
		Value:       value,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return store.WhitelistEntry{}, err
	}
	_ = e.Reload(ctx)
	return entry, nil
}

// Remove deletes an entry and reloads the snapshot.
func (e *Engine) Remove(ctx context.Context, entryType store.WhitelistEntryType, value string) error {
	if err := e.q.DeleteWhitelistEntry(ctx, entryType, value); err != nil {
		return err
	}
	return e.Reload(ctx)
}

func validate(entryType store.WhitelistEntryType, value string) error {
	switch entryType {
	case store.WhitelistEntryIP:
		if !util.IsValidIP(value) {
			return fmt.Errorf("invalid ip %q", value)
		}
	case store.WhitelistEntryCIDR:
		if !util.IsValidCIDR(value) {
			return fmt.Errorf("invalid cidr %q", value)
		}
	case store.WhitelistEntryDomain:
		if value == "" || strings.ContainsAny(value, " \t\n") {
			return fmt.Errorf("invalid domain %q", value)
		}
	default:
		return fmt.Errorf("unknown whitelist entry type %q", entryType)
	}
	return nil
}
