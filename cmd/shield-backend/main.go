// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nginxshield/nginxshield/internal/ban"
	"github.com/nginxshield/nginxshield/internal/config"
	"github.com/nginxshield/nginxshield/internal/fail2ban"
	"github.com/nginxshield/nginxshield/internal/geo"
	"github.com/nginxshield/nginxshield/internal/handler"
	"github.com/nginxshield/nginxshield/internal/ipstate"
	"github.com/nginxshield/nginxshield/internal/logging"
	"github.com/nginxshield/nginxshield/internal/logview"
	"github.com/nginxshield/nginxshield/internal/mail"
	appmiddleware "github.com/nginxshield/nginxshield/internal/middleware"
	"github.com/nginxshield/nginxshield/internal/patterns"
	"github.com/nginxshield/nginxshield/internal/scheduler"
	"github.com/nginxshield/nginxshield/internal/secureconfig"
	"github.com/nginxshield/nginxshield/internal/session"
	"github.com/nginxshield/nginxshield/internal/store"
	"github.com/nginxshield/nginxshield/internal/supervisor"
	"github.com/nginxshield/nginxshield/internal/sysmonitor"
	"github.com/nginxshield/nginxshield/internal/totp"
	"github.com/nginxshield/nginxshield/internal/whitelist"
)

var (
	appVersion   = "dev"
	appGitCommit = "unknown"
	appBuildTime = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	flag.BoolVar(showVersion, "v", false, "Show version information (shorthand)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("shield-backend %s (commit: %s, built: %s)\n", appVersion, appGitCommit, appBuildTime)
		os.Exit(0)
	}

	if err := run(); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.LoadProcess()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	db, err := store.NewDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer func(db *sql.DB) {
		if err := db.Close(); err != nil {
			slog.Error("error closing database connection", "error", err)
		}
	}(db)

	if err := store.Migrate(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	queries := store.New(db)

	textHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger = slog.New(logging.NewEventLogHandler(textHandler, queries))
	slog.SetDefault(logger)

	domainStore, err := config.NewStore(cfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("loading conf.local: %w", err)
	}

	mailStore, err := mail.NewStore(cfg.MailConfigPath)
	if err != nil {
		return fmt.Errorf("loading mail config: %w", err)
	}

	secureStore, err := secureconfig.NewStore(cfg.SecureConfigPath)
	if err != nil {
		return fmt.Errorf("loading secure config: %w", err)
	}

	sessions := session.NewManager([]byte(cfg.SessionSecret), secureStore)

	if err := appmiddleware.ValidateTrustedOrigins(cfg.TrustedOrigins); err != nil {
		return fmt.Errorf("validating trusted origins: %w", err)
	}
	csrfCfg := appmiddleware.DefaultCSRFConfig([]byte(cfg.SessionSecret), cfg.TrustedOrigins, cfg.IsDevelopment())

	totpService, err := totp.NewService(queries, cfg.TOTPKey)
	if err != nil {
		return fmt.Errorf("initializing totp service: %w", err)
	}

	whitelistEngine, err := whitelist.New(queries, logger)
	if err != nil {
		return fmt.Errorf("loading whitelist: %w", err)
	}

	patternPaths := patterns.Paths{
		ClassifyUA:   filepath.Join(cfg.PatternsDir, "classify_ua.pattern"),
		ClassifyURL:  filepath.Join(cfg.PatternsDir, "classify_url.pattern"),
		DangerousUA:  filepath.Join(cfg.PatternsDir, "ua.dangerous"),
		DangerousURL: filepath.Join(cfg.PatternsDir, "url.dangerous"),
	}
	patternRegistry, err := patterns.Load(patternPaths)
	if err != nil {
		return fmt.Errorf("loading patterns: %w", err)
	}

	geoEngine := geo.New()
	if err := geoEngine.LoadCSVOrCache(cfg.GeoCSVPath, cfg.GeoCachePath); err != nil {
		slog.Warn("geo dataset unavailable, geo-info lookups will be empty", "error", err)
	}

	f2bClient := &fail2ban.Client{}

	domain := domainStore.Get()
	ipStateMgr := ipstate.New(ipstate.Options{
		TimeFrame:    time.Duration(domain.TimeFrame) * time.Second,
		AllowedCodes: codesToSet(domain.CodesToAllow),
	})

	orch := ban.New(ban.Options{
		Queries:  queries,
		Fail2Ban: f2bClient,
		Geo:      geoEngine,
		IPState:  ipStateMgr,
		Mailer:   mail.NewSender(mailStore),
		JailName: domain.JailName,
		Logger:   logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go orch.Run(ctx)

	sysMonitor := sysmonitor.New(filepath.Join(cfg.AppLogDir, "system_samples.csv"), f2bClient, "127.0.0.1:80")
	logViewer := logview.New(cfg.AppLogDir)

	svisor := supervisor.New(cfg.SentinelDir, []supervisor.ChildSpec{
		{Name: "analyzer", Path: cfg.AnalyzerBinPath},
		{Name: "geolocate", Path: cfg.GeolocateBinPath},
	}, logger)
	if err := svisor.Start(ctx); err != nil {
		return fmt.Errorf("starting supervised children: %w", err)
	}
	go svisor.Run(ctx)

	sched := scheduler.New(logger)
	if err := sched.Register(
		scheduler.Task{Name: "system-sample", Spec: "0 * * * * *", Fn: func() {
			snap, err := sysMonitor.Snapshot(ctx)
			if err != nil {
				logger.Warn("system snapshot failed", "category", "system", "error", err)
				return
			}
			if err := sysMonitor.RecordSample(sysmonitor.Sample{
				Timestamp:    time.Now().UTC(),
				CPUUsage:     snap.CPUUsage,
				RAMUsage:     snap.RAMUsage,
				TemperatureC: snap.TemperatureC,
			}); err != nil {
				logger.Warn("system sample record failed", "category", "system", "error", err)
			}
		}},
		scheduler.Task{Name: "system-sample-retention", Spec: "0 0 3 * * *", Fn: func() {
			if _, err := sysMonitor.Cleanup(time.Now().UTC()); err != nil {
				logger.Warn("system sample retention sweep failed", "category", "system", "error", err)
			}
		}},
		scheduler.Task{Name: "totp-session-sweep", Spec: "0 * * * * *", Fn: func() {
			if removed := totpService.Sessions().Sweep(); removed > 0 {
				logger.Debug("totp setup session sweep", "category", "system", "removed", removed)
			}
		}},
		scheduler.Task{Name: "secure-config-refresh", Spec: "*/30 * * * * *", Fn: func() {
			if err := secureStore.Refresh(); err != nil {
				logger.Warn("secure config refresh failed", "category", "system", "error", err)
			}
		}},
		scheduler.Task{Name: "mail-config-refresh", Spec: "*/30 * * * * *", Fn: func() {
			if err := mailStore.Refresh(); err != nil {
				logger.Warn("mail config refresh failed", "category", "system", "error", err)
			}
		}},
	); err != nil {
		return fmt.Errorf("registering scheduler tasks: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	handlers := handler.Handlers{
		Auth: &handler.AuthHandler{
			Store:    queries,
			TOTP:     totpService,
			Sessions: sessions,
		},
		Bans: &handler.BansHandler{
			Queries:  queries,
			Orch:     orch,
			Fail2Ban: f2bClient,
			Geo:      geoEngine,
			IPState:  ipStateMgr,
			JailName: domain.JailName,
		},
		Whitelist: &handler.WhitelistHandler{Engine: whitelistEngine, Store: queries},
		Patterns:  &handler.PatternsHandler{Registry: patternRegistry},
		Config:    &handler.ConfigHandler{Store: domainStore},
		Mail:      &handler.MailHandler{Store: mailStore},
		Secure:    &handler.SecureConfigHandler{Store: secureStore},
		System:    &handler.SystemHandler{Monitor: sysMonitor},
		Logs:      &handler.LogsHandler{Viewer: logViewer},
		Services:  &handler.ServicesHandler{SentinelDir: cfg.SentinelDir},
	}

	router := handler.NewRouter(handlers, sessions, cfg.IsDevelopment(), csrfCfg)

	srv := &http.Server{
		Addr:              cfg.ServerAddr(),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		slog.Info("starting control-plane server", "addr", cfg.ServerAddr(), "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down control-plane server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("control-plane server stopped")
	return nil
}

func codesToSet(codes []int) map[int]bool {
	set := make(map[int]bool, len(codes))
	for _, c := range codes {
		set[c] = true
	}
	return set
}
