// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Command shield-geolocate serves the Geo-Lookup Engine from spec.md §4.6
// over TCP (newline-less JSON request/response) and HTTP (GET /<ip>). It is
// the child process the backend's Service Supervisor restarts under the
// "geolocate" sentinel name.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nginxshield/nginxshield/internal/config"
	"github.com/nginxshield/nginxshield/internal/geo"
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
		fmt.Printf("shield-geolocate %s (commit: %s, built: %s)\n", appVersion, appGitCommit, appBuildTime)
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

	engine := geo.New()
	if err := engine.LoadCSVOrCache(cfg.GeoCSVPath, cfg.GeoCachePath); err != nil {
		return fmt.Errorf("loading geo dataset: %w", err)
	}
	stats := engine.Stats()
	logger.Info("geo dataset loaded", "v4_rows", stats.V4Rows, "v6_rows", stats.V6Rows, "asn_count", stats.ASNCount)

	tcpSrv := geo.NewTCPServer(engine, logger)
	tcpListener, err := net.Listen("tcp", cfg.GeoTCPAddr)
	if err != nil {
		return fmt.Errorf("binding geo tcp listener: %w", err)
	}
	go func() {
		logger.Info("geo tcp listener started", "addr", cfg.GeoTCPAddr)
		if err := tcpSrv.Serve(tcpListener); err != nil {
			logger.Error("geo tcp server stopped unexpectedly", "error", err)
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.GeoHTTPAddr,
		Handler:           geo.HTTPHandler(engine, ""),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	go func() {
		logger.Info("geo http listener started", "addr", cfg.GeoHTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("geo http server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down shield-geolocate...")
	_ = tcpListener.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}

	logger.Info("shield-geolocate stopped")
	return nil
}
