// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"net/http"

	"github.com/nginxshield/nginxshield/internal/apperr"
	"github.com/nginxshield/nginxshield/internal/secureconfig"
)

// SecureConfigHandler implements spec.md §4.7's secure-config resource.
type SecureConfigHandler struct {
	Store *secureconfig.Store
}

// Get handles GET /secure-config. It supports "?format=yaml" for a YAML
// export suitable for checking into version control.
func (h *SecureConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeExport(w, r, http.StatusOK, h.Store.Get())
}

// Toggle handles PUT /secure-config.
func (h *SecureConfigHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	var d secureconfig.Domain
	if err := decodeJSON(r, &d); err != nil {
		writeError(w, err)
		return
	}
	if err := h.Store.Save(d); err != nil {
		writeError(w, apperr.Wrap(apperr.KindStore, "saving secure config", err))
		return
	}
	writeJSON(w, http.StatusOK, h.Store.Get())
}
