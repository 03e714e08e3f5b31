// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nginxshield/nginxshield/internal/apperr"
	"github.com/nginxshield/nginxshield/internal/logview"
)

// LogsHandler implements spec.md §4.7's logs resource: list available log
// files, tail with limit/offset/search, per-file stats, and search.
type LogsHandler struct {
	Viewer *logview.Viewer
}

// List handles GET /logs.
func (h *LogsHandler) List(w http.ResponseWriter, r *http.Request) {
	files, err := h.Viewer.List()
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindStore, "listing log files", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

// Stats handles GET /logs/{name}/stats.
func (h *LogsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	stats, err := h.Viewer.Stats(name)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindNotFound, "log file not found", err))
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Tail handles GET /logs/{name}/tail?limit=&offset=&search=.
func (h *LogsHandler) Tail(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)
	search := r.URL.Query().Get("search")

	lines, err := h.Viewer.Tail(name, limit, offset, search)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindNotFound, "log file not found", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lines": lines})
}

// Search handles GET /logs/{name}/search?q=&limit=.
func (h *LogsHandler) Search(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	query := r.URL.Query().Get("q")
	limit := queryInt(r, "limit", 500)

	matches, err := h.Viewer.Search(name, query, limit)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindNotFound, "log file not found", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lines": matches})
}
