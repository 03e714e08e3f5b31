// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"net/http"

	"github.com/nginxshield/nginxshield/internal/apperr"
	"github.com/nginxshield/nginxshield/internal/config"
)

// ConfigHandler implements spec.md §4.7's config resource.
type ConfigHandler struct {
	Store *config.Store
}

// Get handles GET /config.
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Store.Get())
}

// Replace handles PUT /config.
func (h *ConfigHandler) Replace(w http.ResponseWriter, r *http.Request) {
	var d config.Domain
	if err := decodeJSON(r, &d); err != nil {
		writeError(w, err)
		return
	}
	if err := h.Store.Save(d); err != nil {
		writeError(w, apperr.Wrap(apperr.KindStore, "saving config", err))
		return
	}
	writeJSON(w, http.StatusOK, h.Store.Get())
}
