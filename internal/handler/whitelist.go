// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nginxshield/nginxshield/internal/apperr"
	"github.com/nginxshield/nginxshield/internal/store"
	"github.com/nginxshield/nginxshield/internal/whitelist"
)

// WhitelistHandler implements spec.md §4.7's whitelist resource.
type WhitelistHandler struct {
	Engine *whitelist.Engine
	Store  *store.Queries
}

// List handles GET /whitelist.
func (h *WhitelistHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Store.ListWhitelistEntries(r.Context())
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindStore, "listing whitelist entries", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// Search handles GET /whitelist/search?q=.
func (h *WhitelistHandler) Search(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Store.ListWhitelistEntries(r.Context())
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindStore, "listing whitelist entries", err))
		return
	}
	q := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))
	if q == "" {
		writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
		return
	}
	matched := entries[:0:0]
	for _, e := range entries {
		if strings.Contains(strings.ToLower(e.Value), q) || strings.Contains(strings.ToLower(e.Description), q) {
			matched = append(matched, e)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": matched})
}

// Metadata handles GET /whitelist/metadata: last-resolved domain IPs.
func (h *WhitelistHandler) Metadata(w http.ResponseWriter, r *http.Request) {
	meta, err := h.Store.ListWhitelistMetadata(r.Context())
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindStore, "listing whitelist metadata", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"metadata": meta})
}

// Stats handles GET /whitelist/stats.
func (h *WhitelistHandler) Stats(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Store.ListWhitelistEntries(r.Context())
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindStore, "listing whitelist entries", err))
		return
	}
	counts := map[store.WhitelistEntryType]int{}
	for _, e := range entries {
		counts[e.EntryType]++
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":  len(entries),
		"ip":     counts[store.WhitelistEntryIP],
		"cidr":   counts[store.WhitelistEntryCIDR],
		"domain": counts[store.WhitelistEntryDomain],
	})
}

type whitelistEntryRequest struct {
	EntryType   store.WhitelistEntryType `json:"entry_type"`
	Value       string                   `json:"value"`
	Description string                   `json:"description"`
}

// Add handles POST /whitelist.
func (h *WhitelistHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req whitelistEntryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	entry, err := h.Engine.Add(r.Context(), req.EntryType, req.Value, req.Description)
	if err != nil {
		writeError(w, classifyWhitelistErr(err))
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// Remove handles DELETE /whitelist/{type}/{value}.
func (h *WhitelistHandler) Remove(w http.ResponseWriter, r *http.Request) {
	entryType := store.WhitelistEntryType(chi.URLParam(r, "type"))
	value := chi.URLParam(r, "value")
	if err := h.Engine.Remove(r.Context(), entryType, value); err != nil {
		writeError(w, classifyWhitelistErr(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Update handles PUT /whitelist/{type}/{value}: replaces the entry's
// description by removing and re-adding it (whitelist entries are keyed
// by type+value; only the description is mutable).
func (h *WhitelistHandler) Update(w http.ResponseWriter, r *http.Request) {
	entryType := store.WhitelistEntryType(chi.URLParam(r, "type"))
	value := chi.URLParam(r, "value")

	var req struct {
		Description string `json:"description"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := h.Engine.Remove(r.Context(), entryType, value); err != nil && !errors.Is(err, store.ErrNotFound) {
		writeError(w, classifyWhitelistErr(err))
		return
	}
	entry, err := h.Engine.Add(r.Context(), entryType, value, req.Description)
	if err != nil {
		writeError(w, classifyWhitelistErr(err))
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func classifyWhitelistErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return apperr.New(apperr.KindNotFound, "whitelist entry not found")
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.Wrap(apperr.KindValidation, err.Error(), err)
}
