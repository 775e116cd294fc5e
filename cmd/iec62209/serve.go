// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/iec62209/pkg/logging"
	"github.com/AleutianAI/iec62209/pkg/ux"
	"github.com/AleutianAI/iec62209/services/sar"
	"github.com/AleutianAI/iec62209/services/sar/cache"
	"github.com/AleutianAI/iec62209/services/sar/config"
	"github.com/AleutianAI/iec62209/services/sar/engine"
	"github.com/AleutianAI/iec62209/services/sar/observability"
	"github.com/AleutianAI/iec62209/services/sar/outcomes"
	"github.com/AleutianAI/iec62209/services/sar/report"
	"github.com/AleutianAI/iec62209/services/sar/telemetry"
)

// readHeaderTimeout bounds how long a client may take to send headers.
const readHeaderTimeout = 10 * time.Second

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if port > 0 {
		cfg.Server.Addr = fmt.Sprintf(":%d", port)
	}

	level, _ := logging.ParseLevel(cfg.Log.Level)
	log := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Folders.Log,
		Service: "iec62209",
		JSON:    cfg.Log.JSON,
	})
	defer log.Close()
	logger := log.Slog()
	slog.SetDefault(logger)
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg.Telemetry.ServiceVersion = version
	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("Failed to flush telemetry", "error", err)
		}
	}()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	printBanner(os.Stdout, cfg)
	return a.serve(ctx, cfg.Server)
}

// =============================================================================
// Application
// =============================================================================

// app is the wired service with everything it must release on exit.
type app struct {
	svc     *sar.Service
	router  *gin.Engine
	gc      *cache.GCRunner
	closers []func() error
	logger  *slog.Logger
}

// buildApp wires the service from cfg.
//
// # Description
//
// Creates the engine client, the pdflatex typesetter, the artifact cache,
// the report archive and the outcome recorder, then the service and its
// router. Optional parts are skipped when their configuration is empty:
// no archive without an output folder or bucket, no outcomes without an
// InfluxDB URL.
//
// # Outputs
//
//   - *app: must be closed with Close.
//   - error: the cache or the GCS client could not be opened.
func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{logger: logger}

	client := engine.NewClient(engine.ClientConfig{
		BaseURL: cfg.Engine.URL,
		Timeout: cfg.Engine.Timeout,
		Observe: observability.ObserveEngineCall,
	})

	typesetter := &report.PDFLaTeX{
		Binary:  cfg.Report.Binary,
		MaxRuns: cfg.Report.MaxRuns,
		Timeout: cfg.Report.Timeout,
		Logger:  logger,
		Observe: observability.ObserveTypeset,
	}

	var store *cache.Store
	if !cfg.Cache.Disabled {
		cc := cache.InMemoryConfig()
		if cfg.Cache.Dir != "" {
			cc = cache.DefaultConfig()
			cc.Path = cfg.Cache.Dir
		}
		cc.TTL = cfg.Cache.TTL
		cc.Logger = logger
		var err error
		store, err = cache.Open(cc)
		if err != nil {
			return nil, fmt.Errorf("failed to open the artifact cache: %w", err)
		}
		store.Observe = observability.ObserveCacheLookup
		a.closers = append(a.closers, store.Close)

		a.gc, err = store.GCRunner()
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	var sink report.Sink
	switch {
	case cfg.Archive.Bucket != "":
		gcs, err := report.NewGCSSink(ctx, cfg.Archive.Bucket, cfg.Archive.Prefix, cfg.Archive.CredentialsFile)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, gcs.Close)
		sink = gcs
	case cfg.Folders.Output != "":
		fs, err := report.NewFileSink(cfg.Folders.Output)
		if err != nil {
			a.Close()
			return nil, err
		}
		sink = fs
	}

	var recorder outcomes.Recorder
	if cfg.Outcomes.Enabled() {
		recorder = outcomes.NewInflux(cfg.Outcomes)
	}

	svc, err := sar.NewService(sar.ServiceConfig{
		Engine:         client,
		Typesetter:     typesetter,
		Cache:          store,
		Sink:           sink,
		Recorder:       recorder,
		StagingDir:     cfg.Folders.Input,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		RateLimit:      rate.Limit(cfg.RateLimit.RPS),
		Burst:          cfg.RateLimit.Burst,
		Version:        version,
		Logger:         logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.svc = svc
	a.closers = append(a.closers, func() error { svc.Close(); return nil })
	a.router = sar.NewRouter(svc)
	return a, nil
}

// serve runs the HTTP server, and the cache GC when enabled, until ctx is
// cancelled or the listener fails. In-flight requests get
// cfg.ShutdownTimeout to finish.
func (a *app) serve(ctx context.Context, cfg config.ServerConfig) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           a.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("Starting iec62209 server", slog.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("Shutting down iec62209 server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if a.gc != nil {
		g.Go(func() error { return a.gc.Run(gctx) })
	}
	return g.Wait()
}

// Close releases everything buildApp opened, last opened first.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// =============================================================================
// Banner
// =============================================================================

func printBanner(f *os.File, cfg config.Config) {
	ux.NewPrinter(f).Box("IEC 62209 validation service "+version, bannerFields(cfg))
}

func bannerFields(cfg config.Config) []ux.Field {
	reports := "not archived"
	switch {
	case cfg.Archive.Bucket != "":
		reports = "gs://" + cfg.Archive.Bucket + "/" + cfg.Archive.Prefix
	case cfg.Folders.Output != "":
		reports = cfg.Folders.Output
	}

	artifacts := "in memory"
	switch {
	case cfg.Cache.Disabled:
		artifacts = "disabled"
	case cfg.Cache.Dir != "":
		artifacts = cfg.Cache.Dir
	}

	outcomeStore := "off"
	if cfg.Outcomes.Enabled() {
		outcomeStore = cfg.Outcomes.URL
	}

	return []ux.Field{
		{Label: "Listening", Value: cfg.Server.Addr},
		{Label: "Engine", Value: cfg.Engine.URL},
		{Label: "Reports", Value: reports},
		{Label: "Cache", Value: artifacts},
		{Label: "Outcomes", Value: outcomeStore},
	}
}
