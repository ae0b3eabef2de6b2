// Package main provides the entry point for the Flare server. It loads
// configuration, sets up logging and the audit log, assembles the
// analysis pipeline, and serves the HTTP API until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/noam-bash/flare-saferun/internal/assess"
	"github.com/noam-bash/flare-saferun/internal/auditlog"
	"github.com/noam-bash/flare-saferun/internal/config"
	"github.com/noam-bash/flare-saferun/internal/logging"
	"github.com/noam-bash/flare-saferun/internal/metrics"
	"github.com/noam-bash/flare-saferun/internal/server"
)

const shutdownGrace = 5 * time.Second

var (
	configPath = flag.String("config", "", "path to TOML config file")
	envFile    = flag.String("env-file", "", "path to environment file")
	listenAddr = flag.String("listen", "", "listen address (overrides config)")
	logLevel   = flag.String("log-level", "", "log level (debug, info, warn, error; overrides config)")
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "flare: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			return fmt.Errorf("failed to load env file: %w", err)
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if *listenAddr != "" {
		cfg.Server.Listen = *listenAddr
	}
	if *logLevel != "" {
		cfg.Server.LogLevel = *logLevel
	}

	closeLogs, err := logging.Setup(logging.Options{
		Level:    cfg.Server.LogLevel,
		JSONFile: cfg.Server.LogFile,
	})
	if err != nil {
		return err
	}
	defer func() { _ = closeLogs() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	svcCfg, err := cfg.AssessServiceConfig()
	if err != nil {
		return err
	}
	service, err := assess.NewService(svcCfg, assess.WithCacheMetrics(m))
	if err != nil {
		return err
	}

	audit, store, err := setupAuditLog(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := audit.Close(); err != nil {
			slog.Warn("audit log close failed", "error", err)
		}
		if store != nil {
			_ = store.Close()
		}
	}()

	srv := &http.Server{
		Addr:    cfg.Server.Listen,
		Handler: server.New(service, audit, store, m).Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("flare listening", "addr", cfg.Server.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func loadConfig() (*config.Config, error) {
	if *configPath == "" {
		if env := os.Getenv("FLARE_CONFIG"); env != "" {
			*configPath = env
		}
	}
	if *configPath == "" {
		return config.Default(), nil
	}
	return config.Load(*configPath)
}

// setupAuditLog opens the configured audit backends. The SQLite store is
// opened twice: one connection feeds the async writer, the other serves
// the read-only dashboard.
func setupAuditLog(cfg *config.Config) (*auditlog.Logger, *auditlog.SQLiteBackend, error) {
	var backends []auditlog.Backend

	if cfg.Server.AuditJSONL != "" {
		jsonl, err := auditlog.NewJSONLBackend(cfg.Server.AuditJSONL)
		if err != nil {
			return nil, nil, err
		}
		backends = append(backends, jsonl)
	}

	var store *auditlog.SQLiteBackend
	if cfg.Server.AuditSQLite != "" {
		writer, err := auditlog.NewSQLiteBackend(cfg.Server.AuditSQLite)
		if err != nil {
			return nil, nil, err
		}
		backends = append(backends, writer)

		store, err = auditlog.NewSQLiteBackend(cfg.Server.AuditSQLite)
		if err != nil {
			return nil, nil, err
		}
	}

	return auditlog.New(backends...), store, nil
}
