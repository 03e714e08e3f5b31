// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"net/http"

	"github.com/nginxshield/nginxshield/internal/apperr"
	"github.com/nginxshield/nginxshield/internal/mail"
)

// MailHandler implements spec.md §4.7's mail-config resource.
type MailHandler struct {
	Store *mail.Store
}

// Get handles GET /mail-config. It supports "?format=yaml" for a YAML
// export suitable for checking into version control.
func (h *MailHandler) Get(w http.ResponseWriter, r *http.Request) {
	cfg := h.Store.Get()
	cfg.Password = "" // never echo the SMTP secret back
	writeExport(w, r, http.StatusOK, cfg)
}

// Replace handles PUT /mail-config.
func (h *MailHandler) Replace(w http.ResponseWriter, r *http.Request) {
	var cfg mail.Config
	if err := decodeJSON(r, &cfg); err != nil {
		writeError(w, err)
		return
	}
	if cfg.Password == "" {
		cfg.Password = h.Store.Get().Password // preserve existing secret on blank submit
	}
	if err := h.Store.Save(cfg); err != nil {
		writeError(w, apperr.Wrap(apperr.KindStore, "saving mail config", err))
		return
	}
	resp := h.Store.Get()
	resp.Password = ""
	writeJSON(w, http.StatusOK, resp)
}
