// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nginxshield/nginxshield/internal/apperr"
	"github.com/nginxshield/nginxshield/internal/patterns"
)

// PatternsHandler implements spec.md §4.7's patterns resource.
type PatternsHandler struct {
	Registry *patterns.Registry
}

// List handles GET /patterns and GET /patterns/{kind}.
func (h *PatternsHandler) List(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	if kind == "" {
		writeJSON(w, http.StatusOK, h.Registry.ListAll())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": h.Registry.List(patterns.Kind(kind))})
}

// Stats handles GET /patterns/{kind}/stats.
func (h *PatternsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	kind := patterns.Kind(chi.URLParam(r, "kind"))
	writeJSON(w, http.StatusOK, h.Registry.Stats(kind))
}

type patternRequest struct {
	Pattern     string `json:"pattern"`
	Description string `json:"description"`
}

// Add handles POST /patterns/{kind}.
func (h *PatternsHandler) Add(w http.ResponseWriter, r *http.Request) {
	kind := patterns.Kind(chi.URLParam(r, "kind"))
	var req patternRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	entry, err := h.Registry.Add(kind, req.Pattern, req.Description)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindValidation, "adding pattern", err))
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// Update handles PUT /patterns/{kind}/{id}.
func (h *PatternsHandler) Update(w http.ResponseWriter, r *http.Request) {
	kind := patterns.Kind(chi.URLParam(r, "kind"))
	id := chi.URLParam(r, "id")
	var req patternRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	entry, err := h.Registry.Update(kind, id, req.Pattern, req.Description)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindValidation, "updating pattern", err))
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// Remove handles DELETE /patterns/{kind}/{id}.
func (h *PatternsHandler) Remove(w http.ResponseWriter, r *http.Request) {
	kind := patterns.Kind(chi.URLParam(r, "kind"))
	id := chi.URLParam(r, "id")
	if err := h.Registry.Remove(kind, id); err != nil {
		writeError(w, apperr.Wrap(apperr.KindNotFound, "removing pattern", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
