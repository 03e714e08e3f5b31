// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Command shield-analyzer runs the Log Pipeline side of the system:
// discovery + tailing of nginx access/error logs, classification, IP-state
// tracking, and ban submission, plus the own-log batcher that the
// control-plane's live-tail API reads from. It is the child process the
// backend's Service Supervisor restarts under the "analyzer" sentinel name.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nginxshield/nginxshield/internal/ban"
	"github.com/nginxshield/nginxshield/internal/cache"
	"github.com/nginxshield/nginxshield/internal/config"
	"github.com/nginxshield/nginxshield/internal/detector"
	"github.com/nginxshield/nginxshield/internal/fail2ban"
	"github.com/nginxshield/nginxshield/internal/geo"
	"github.com/nginxshield/nginxshield/internal/ipstate"
	"github.com/nginxshield/nginxshield/internal/logging"
	"github.com/nginxshield/nginxshield/internal/logpipeline"
	"github.com/nginxshield/nginxshield/internal/logwriter"
	"github.com/nginxshield/nginxshield/internal/mail"
	"github.com/nginxshield/nginxshield/internal/patterns"
	"github.com/nginxshield/nginxshield/internal/scheduler"
	"github.com/nginxshield/nginxshield/internal/store"
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
		fmt.Printf("shield-analyzer %s (commit: %s, built: %s)\n", appVersion, appGitCommit, appBuildTime)
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

	db, err := store.NewDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func(db *sql.DB) {
		if err := db.Close(); err != nil {
			slog.Error("error closing database connection", "error", err)
		}
	}(db)
	queries := store.New(db)

	textHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger = slog.New(logging.NewEventLogHandler(textHandler, queries))
	slog.SetDefault(logger)

	domainStore, err := config.NewStore(cfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("loading conf.local: %w", err)
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
	classifier := detector.New(patternRegistry)

	classifyCache, err := cache.NewCache(cache.Config{
		Type:             cacheType(cfg.RedisURL),
		RedisURL:         cfg.RedisURL,
		Prefix:           cfg.CachePrefix,
		DefaultTTL:       time.Duration(cfg.CacheTTL) * time.Second,
		MaxSize:          cfg.CacheMaxSize,
		CleanupInterval:  time.Minute,
		FallbackToMemory: true,
	})
	if err != nil {
		return fmt.Errorf("initializing classification cache: %w", err)
	}
	defer classifyCache.Close()

	geoEngine := geo.New()
	if err := geoEngine.LoadCSVOrCache(cfg.GeoCSVPath, cfg.GeoCachePath); err != nil {
		slog.Warn("geo dataset unavailable, ban enrichment will be empty", "error", err)
	}

	f2bClient := &fail2ban.Client{}
	mailStore, err := mail.NewStore(cfg.MailConfigPath)
	if err != nil {
		return fmt.Errorf("loading mail config: %w", err)
	}

	domain := domainStore.Get()
	ipStateMgr := ipstate.New(ipstate.Options{
		TimeFrame:           time.Duration(domain.TimeFrame) * time.Second,
		AllowedCodes:        codesToSet(domain.CodesToAllow),
		InactivityThreshold: time.Duration(domain.TimeFrame) * time.Second * 10,
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

	pipeline := logpipeline.New(logpipeline.Options{
		Whitelist:          whitelistEngine,
		Detector:           classifier,
		IPState:            ipStateMgr,
		ClassifyCache:      classifyCache,
		MaxRequests:        domain.MaxRequests,
		EnableWhitelistLog: domain.EnableWhitelistLog,
		Logger:             logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go orch.Run(ctx)
	go bridgeBanRequests(ctx, pipeline, orch, logger)

	writer, err := logwriter.New(cfg.AppLogDir, logger)
	if err != nil {
		return fmt.Errorf("opening own-log sinks: %w", err)
	}
	defer writer.Close()
	go writer.Run(ctx, pipeline.LogLines, pipeline.ErrorLines)

	discoverer := logpipeline.NewDiscoverer(logGlobs(domain.LogDir), logger, pipeline.HandleLine)
	go discoverer.Run(ctx, classifyLogFile)

	sched := scheduler.New(logger)
	if err := sched.Register(
		scheduler.Task{Name: "config-refresh", Spec: "*/30 * * * * *", Fn: func() {
			if err := domainStore.Refresh(); err != nil {
				logger.Warn("conf.local refresh failed", "category", "system", "error", err)
			}
		}},
		scheduler.Task{Name: "whitelist-domain-refresh", Spec: "0 */5 * * * *", Fn: func() {
			whitelistEngine.RefreshDomains(ctx)
		}},
		scheduler.Task{Name: "pattern-refresh", Spec: "0 * * * * *", Fn: func() {
			if err := patternRegistry.Reload(); err != nil {
				logger.Warn("pattern registry refresh failed", "category", "system", "error", err)
				return
			}
			classifier.Refresh()
		}},
		scheduler.Task{Name: "ip-state-sweep", Spec: "0 * * * * *", Fn: func() {
			if removed := ipStateMgr.Sweep(); removed > 0 {
				logger.Debug("ip state sweep", "category", "system", "removed", removed)
			}
		}},
	); err != nil {
		return fmt.Errorf("registering scheduler tasks: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	slog.Info("shield-analyzer started", "log_dir", domain.LogDir, "jail", domain.JailName)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down shield-analyzer...")
	cancel()
	time.Sleep(200 * time.Millisecond) // let Run loops flush their final batch
	return nil
}

// bridgeBanRequests forwards the pipeline's automatic ban decisions into the
// orchestrator's batcher, fire-and-forget (spec.md §4.1 step 6).
func bridgeBanRequests(ctx context.Context, p *logpipeline.Pipeline, orch *ban.Orchestrator, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-p.BanRequests:
			submitted := orch.Submit(ban.Request{
				Kind:   ban.KindBanAutomatic,
				IP:     req.IP,
				Reason: req.Reason,
				Domain: req.Domain,
				UA:     req.UA,
				Code:   req.Code,
				URL:    req.URL,
			})
			if !submitted {
				logger.Warn("ban orchestrator queue full, dropping automatic ban request", "category", "pipeline", "ip", req.IP)
			}
		}
	}
}

// logGlobs returns the access/error-log glob patterns the discoverer scans,
// derived from the domain config's log directory.
func logGlobs(logDir string) []string {
	return []string{
		filepath.Join(logDir, "*.access.log"),
		filepath.Join(logDir, "*.error.log"),
	}
}

// classifyLogFile tags a discovered file as access or error based on its
// name, matching the globs built by logGlobs.
func classifyLogFile(path string) logpipeline.LineKind {
	if filepath.Ext(filepath.Base(path)) == ".log" {
		base := filepath.Base(path)
		if len(base) > len(".error.log") && base[len(base)-len(".error.log"):] == ".error.log" {
			return logpipeline.LineKindError
		}
	}
	return logpipeline.LineKindAccess
}

func cacheType(redisURL string) string {
	if redisURL != "" {
		return "redis"
	}
	return "memory"
}

func codesToSet(codes []int) map[int]bool {
	set := make(map[int]bool, len(codes))
	for _, c := range codes {
		set[c] = true
	}
	return set
}
