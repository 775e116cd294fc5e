// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sar serves the IEC 62209 model validation workflow over HTTP.
//
// One Service holds the single analysis session of a bench. Handlers
// translate requests into lifecycle operations, serve plots and reports,
// and map classified errors to HTTP responses.
package sar

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/iec62209/services/sar/cache"
	"github.com/AleutianAI/iec62209/services/sar/engine"
	"github.com/AleutianAI/iec62209/services/sar/lifecycle"
	"github.com/AleutianAI/iec62209/services/sar/observability"
	"github.com/AleutianAI/iec62209/services/sar/outcomes"
	"github.com/AleutianAI/iec62209/services/sar/report"
)

// ServiceName identifies the service in traces and /meta.
const ServiceName = "iec62209-service"

// ServiceSummary is reported by /meta.
const ServiceSummary = "Web service for IEC 62209 SAR measurement system validation"

// =============================================================================
// Configuration
// =============================================================================

// ServiceConfig configures the Service.
type ServiceConfig struct {
	// Engine is required.
	Engine engine.Engine

	// Typesetter renders PDF reports. Report endpoints fail with an IO
	// error when nil.
	Typesetter report.Typesetter

	// Cache stores rendered plots and reports. Nil disables caching.
	Cache *cache.Store

	// Sink archives every rendered report. Nil disables archiving.
	Sink report.Sink

	// Recorder stores validation outcomes. Defaults to outcomes.Noop.
	Recorder outcomes.Recorder

	// StagingDir receives uploads while they are parsed. Defaults to
	// os.TempDir().
	StagingDir string

	// MaxUploadBytes bounds a multipart upload. Default: 32 MiB.
	MaxUploadBytes int64

	// RateLimit and Burst limit compute-heavy endpoints. Zero disables
	// limiting.
	RateLimit rate.Limit
	Burst     int

	// Version is reported by /meta and /health.
	Version string

	Logger *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

func applyServiceDefaults(cfg *ServiceConfig) {
	if cfg.Recorder == nil {
		cfg.Recorder = outcomes.Noop{}
	}
	if cfg.StagingDir == "" {
		cfg.StagingDir = os.TempDir()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 32 << 20
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
}

// =============================================================================
// Service
// =============================================================================

// Service owns the analysis session and its collaborators.
//
// # Thread Safety
//
// Safe for concurrent use. Session state is serialized by the lifecycle.
type Service struct {
	cfg       ServiceConfig
	lc        *lifecycle.Lifecycle
	assembler *report.Assembler
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// NewService creates a Service with an empty session.
//
// # Outputs
//
//   - error: non-nil when cfg.Engine is nil.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Engine == nil {
		return nil, errors.New("sar: engine is required")
	}
	applyServiceDefaults(&cfg)

	lc, err := lifecycle.New(lifecycle.Config{
		Engine:  cfg.Engine,
		Logger:  cfg.Logger,
		Observe: observability.ObserveLifecycle,
	})
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg: cfg,
		lc:  lc,
		assembler: &report.Assembler{
			Engine:     cfg.Engine,
			Typesetter: cfg.Typesetter,
			Now:        cfg.Now,
		},
		logger: cfg.Logger.With("component", "sar"),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(cfg.RateLimit, burst)
	}
	return s, nil
}

// Lifecycle exposes the session.
func (s *Service) Lifecycle() *lifecycle.Lifecycle { return s.lc }

// Close releases the outcome recorder.
func (s *Service) Close() {
	s.cfg.Recorder.Close()
}

// NewRouter builds the gin engine serving every route of s.
//
// # Description
//
// Requests are traced with otelgin and counted per route template.
// Panics are recovered and answered with 500.
func NewRouter(s *Service) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(otelgin.Middleware(ServiceName))
	router.Use(observability.GinMiddleware())
	RegisterRoutes(router, NewHandlers(s))
	return router
}

// artifact returns a rendered artifact, through the cache when one is
// configured.
func (s *Service) artifact(ctx context.Context, kind string, generation uint64, name string, render cache.RenderFunc) ([]byte, error) {
	if s.cfg.Cache == nil {
		return render(ctx)
	}
	return s.cfg.Cache.GetOrRender(ctx, kind, cache.Key(kind, generation, name), render)
}

// record stores an outcome and logs a failure; outcomes never fail a
// request.
func (s *Service) record(ctx context.Context, logger *slog.Logger, o outcomes.Outcome) {
	if err := s.cfg.Recorder.Record(ctx, o); err != nil {
		logger.Warn("Failed to record outcome", "stage", o.Stage, "error", err)
	}
}

// recordVerdict stores the outcome of stage from the current session.
func (s *Service) recordVerdict(ctx context.Context, logger *slog.Logger, stage report.Stage, accepted, passed bool) {
	snap := s.lc.Snapshot()
	o := outcomes.New(stage.String(), s.cfg.Now())
	o.Accepted, o.Passed = accepted, passed
	if snap.Metadata != nil {
		o.SystemName = snap.Metadata.SystemName
		o.PhantomType = snap.Metadata.PhantomType
	}
	switch stage {
	case report.StageCreation:
		o.Samples = snap.Training.Len()
		if snap.GoodFit != nil {
			nrmse := snap.GoodFit.NRMSE
			o.NRMSE = &nrmse
		}
	case report.StageConfirmation:
		o.Samples = snap.Test.Len()
		if snap.Stats != nil {
			st := *snap.Stats
			o.PValue, o.Location, o.Scale = &st.PValue, &st.Location, &st.Scale
		}
	case report.StageVerification:
		o.Samples = snap.Critical.Len()
	}
	s.record(ctx, logger, o)
}
