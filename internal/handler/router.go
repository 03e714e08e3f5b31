// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	appmiddleware "github.com/nginxshield/nginxshield/internal/middleware"
)

// Handlers bundles every resource handler the control-plane router wires
// up, per spec.md §4.7.
type Handlers struct {
	Auth      *AuthHandler
	Bans      *BansHandler
	Whitelist *WhitelistHandler
	Patterns  *PatternsHandler
	Config    *ConfigHandler
	Mail      *MailHandler
	Secure    *SecureConfigHandler
	System    *SystemHandler
	Logs      *LogsHandler
	Services  *ServicesHandler
}

// NewRouter builds the control-plane chi router. Every endpoint other than
// /login (and its TOTP/backup-code follow-ups) requires a valid session
// token, per spec.md §4.8. isDev relaxes HSTS for local/plain-HTTP testing;
// production deployments always run behind TLS. csrf protects every
// state-changing request (including /login) via Fetch-metadata checks.
func NewRouter(h Handlers, sessions appmiddleware.SessionManager, isDev bool, csrfCfg appmiddleware.CSRFConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))
	r.Use(appmiddleware.SecurityHeaders(appmiddleware.DefaultSecurityHeadersConfig(isDev)))
	r.Use(chimiddleware.Compress(5, "application/json"))
	r.Use(appmiddleware.CSRF(csrfCfg))

	r.Route("/login", func(r chi.Router) {
		r.Post("/", h.Auth.Login)
		r.Post("/verify-totp", h.Auth.VerifyTOTP)
		r.Post("/verify-backup-codes", h.Auth.VerifyBackupCodes)
	})

	r.Group(func(r chi.Router) {
		r.Use(appmiddleware.RequireSession(sessions))

		r.Post("/logout", h.Auth.Logout)
		r.Post("/change-password", h.Auth.ChangePassword)
		r.Route("/totp", func(r chi.Router) {
			r.Post("/setup", h.Auth.TOTPSetup)
			r.Post("/confirm", h.Auth.TOTPConfirm)
			r.Post("/disable", h.Auth.TOTPDisable)
			r.Post("/regenerate-backup-codes", h.Auth.TOTPRegenerateBackupCodes)
		})

		r.Route("/bans", func(r chi.Router) {
			r.Get("/", h.Bans.List)
			r.Get("/stats", h.Bans.Stats)
			r.Get("/counts", h.Bans.Counts)
			r.Get("/fail2ban-status", h.Bans.Fail2BanStatus)
			r.Get("/geo-info/{ip}", h.Bans.GeoInfo)
			r.Get("/check-status/{ip}", h.Bans.CheckStatus)
			r.Post("/manual", h.Bans.ManualBan)
			r.Post("/manual/bulk", h.Bans.BulkManualBan)
			r.Post("/unban", h.Bans.Unban)
			r.Route("/cidr", func(r chi.Router) {
				r.Post("/ban-multiple", h.Bans.BanMultipleCIDRs)
				r.Post("/unban-ips", h.Bans.UnbanIPs)
				r.Post("/check-ips", h.Bans.CheckIPs)
			})
		})

		r.Route("/whitelist", func(r chi.Router) {
			r.Get("/", h.Whitelist.List)
			r.Get("/search", h.Whitelist.Search)
			r.Get("/metadata", h.Whitelist.Metadata)
			r.Get("/stats", h.Whitelist.Stats)
			r.Post("/", h.Whitelist.Add)
			r.Put("/{type}/{value}", h.Whitelist.Update)
			r.Delete("/{type}/{value}", h.Whitelist.Remove)
		})

		r.Route("/patterns", func(r chi.Router) {
			r.Get("/", h.Patterns.List)
			r.Route("/{kind}", func(r chi.Router) {
				r.Get("/", h.Patterns.List)
				r.Get("/stats", h.Patterns.Stats)
				r.Post("/", h.Patterns.Add)
				r.Put("/{id}", h.Patterns.Update)
				r.Delete("/{id}", h.Patterns.Remove)
			})
		})

		r.Route("/config", func(r chi.Router) {
			r.Get("/", h.Config.Get)
			r.Put("/", h.Config.Replace)
		})

		r.Route("/mail-config", func(r chi.Router) {
			r.Get("/", h.Mail.Get)
			r.Put("/", h.Mail.Replace)
		})

		r.Route("/secure-config", func(r chi.Router) {
			r.Get("/", h.Secure.Get)
			r.Put("/", h.Secure.Toggle)
		})

		r.Route("/system", func(r chi.Router) {
			r.Get("/", h.System.Snapshot)
			r.Get("/history", h.System.History)
		})

		r.Route("/logs", func(r chi.Router) {
			r.Get("/", h.Logs.List)
			r.Get("/{name}/stats", h.Logs.Stats)
			r.Get("/{name}/tail", h.Logs.Tail)
			r.Get("/{name}/search", h.Logs.Search)
		})

		r.Route("/services", func(r chi.Router) {
			r.Get("/restarts", h.Services.PendingRestarts)
			r.Post("/{name}/restart", h.Services.RequestRestart)
			r.Get("/{name}/restart-status", h.Services.RestartStatus)
		})
	})

	return r
}
