package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/crategate/crategate/internal/api"
	"github.com/crategate/crategate/internal/artifact"
	"github.com/crategate/crategate/internal/config"
	"github.com/crategate/crategate/internal/engine"
	"github.com/crategate/crategate/internal/job"
	"github.com/crategate/crategate/internal/logger"
	"github.com/crategate/crategate/internal/queue"
	"github.com/crategate/crategate/internal/sqlitedb"
)

func main() {
	var (
		envFile = pflag.String("env-file", ".env", "dotenv file loaded before reading the environment")
		listen  = pflag.String("listen", "", "listen address, overrides CRATEGATE_LISTEN_ADDR")
	)
	pflag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.ListenAddr = *listen
	}

	logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	db, err := sqlitedb.Open(cfg.DBPath)
	if err != nil {
		slog.Error("database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	store, err := job.NewSQLiteStore(db)
	if err != nil {
		slog.Error("job store", "error", err)
		os.Exit(1)
	}
	artifacts, err := artifact.NewSQLiteStore(db)
	if err != nil {
		slog.Error("artifact store", "error", err)
		os.Exit(1)
	}

	engines, err := buildEngines(cfg)
	if err != nil {
		slog.Error("engines", "error", err)
		os.Exit(1)
	}

	q := queue.New(cfg, store, artifacts, engines)

	if err := q.Recovery(context.Background()); err != nil {
		slog.Error("recovery", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	q.StartCleanup(ctx)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      api.NewHandler(store, artifacts, q, cfg).Routes(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: cfg.EngineTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		slog.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
		cancel()
	}()

	slog.Info("crategate listening", "addr", cfg.ListenAddr, "base_path", cfg.BasePath)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	// Jobs still running are left RUNNING and failed by Recovery on next boot.
	q.Wait()
	slog.Info("stopped")
}

// buildEngines prefers the remote engines when their URLs are set and falls
// back to the built-in validator and the catalogue exporter.
func buildEngines(cfg *config.Config) (queue.Engines, error) {
	var e queue.Engines

	if cfg.ValidatorURL != "" {
		e.Validator = engine.NewRemoteValidator(cfg.ValidatorURL, cfg.EngineTimeout)
		slog.Info("validator", "type", "remote", "url", cfg.ValidatorURL)
	} else {
		e.Validator = engine.StructuralValidator{}
		slog.Info("validator", "type", "structural")
	}

	switch {
	case cfg.ExporterURL != "":
		e.Exporter = engine.NewRemoteExporter(cfg.ExporterURL, cfg.EngineTimeout)
		slog.Info("exporter", "type", "remote", "url", cfg.ExporterURL)
	case cfg.CatalogPath != "":
		catalog, err := engine.LoadCatalog(cfg.CatalogPath)
		if err != nil {
			return e, err
		}
		e.Exporter = &engine.CatalogExporter{Catalog: catalog}
		slog.Info("exporter", "type", "catalog", "path", cfg.CatalogPath, "objects", catalog.Len())
	default:
		e.Exporter = &engine.CatalogExporter{Catalog: engine.NewCatalog(nil)}
		slog.Warn("no exporter configured, every identifier will be reported as not found")
	}

	return e, nil
}
