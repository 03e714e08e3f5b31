// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package geo

import (
	"encoding/json"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// DefaultHTTPAddr is the Geo HTTP surface's default bind address.
const DefaultHTTPAddr = ":8889"

// HTTPHandler builds the chi router serving GET /<ip> and GET /favicon.ico,
// per spec.md §4.6.
func HTTPHandler(engine *Engine, faviconPath string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		if faviconPath == "" {
			http.NotFound(w, r)
			return
		}
		if _, err := os.Stat(faviconPath); err != nil {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, faviconPath)
	})

	r.Get("/{ip}", func(w http.ResponseWriter, r *http.Request) {
		ip := chi.URLParam(r, "ip")
		start := time.Now()

		result, asnCIDRs, found := engine.Lookup(ip)
		w.Header().Set("Content-Type", "application/json")
		if !found {
			status := http.StatusNotFound
			if net.ParseIP(ip) == nil {
				status = http.StatusBadRequest
			}
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success":            false,
				"query_time_seconds": time.Since(start).Seconds(),
			})
			return
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":            true,
			"result":             result,
			"asn_cidrs":          asnCIDRs,
			"query_time_seconds": time.Since(start).Seconds(),
		})
	})

	return r
}
