// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability holds the Prometheus collectors of the SAR
// validation service and the hooks that feed them.
package observability

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/iec62209/services/sar/engine"
	"github.com/AleutianAI/iec62209/services/sar/sarerr"
)

const namespace = "iec62209"

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	// requestsTotal counts HTTP requests.
	// Labels: route (gin full path), status
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route and status",
	}, []string{"route", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"route"})

	// engineCalls counts analysis engine calls.
	// Labels: op, outcome (ok, unavailable, engine_error, error)
	engineCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "calls_total",
		Help:      "Analysis engine calls by operation and outcome",
	}, []string{"op", "outcome"})

	engineDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "call_duration_seconds",
		Help:      "Analysis engine call latency by operation",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"op"})

	// lifecycleOps counts session operations.
	// Labels: op, code (OK or an error code)
	lifecycleOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "lifecycle",
		Name:      "operations_total",
		Help:      "Lifecycle operations by outcome code",
	}, []string{"op", "code"})

	typesetRuns = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "report",
		Name:      "typeset_runs",
		Help:      "pdflatex passes per typesetting job",
		Buckets:   []float64{1, 2, 3, 4, 5, 10},
	})

	typesetDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "report",
		Name:      "typeset_duration_seconds",
		Help:      "Typesetting job latency by outcome",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	}, []string{"outcome"})

	// cacheLookups counts rendered artifact cache lookups.
	// Labels: kind (png, pdf), result (hit, miss)
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Artifact cache lookups by kind and result",
	}, []string{"kind", "result"})

	rateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the rate limiter",
	}, []string{"route"})
)

// =============================================================================
// Hooks
// =============================================================================

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}

// ObserveEngineCall matches engine.ClientConfig.Observe.
func ObserveEngineCall(op engine.Op, d time.Duration, err error) {
	label := "ok"
	var engErr *engine.Error
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrUnavailable):
		label = "unavailable"
	case errors.As(err, &engErr):
		label = "engine_error"
	default:
		label = "error"
	}
	engineCalls.WithLabelValues(string(op), label).Inc()
	engineDuration.WithLabelValues(string(op)).Observe(d.Seconds())
}

// ObserveLifecycle matches lifecycle.Config.Observe.
func ObserveLifecycle(op string, err error) {
	code := "OK"
	if err != nil {
		code = sarerr.Code(err)
	}
	lifecycleOps.WithLabelValues(op, code).Inc()
}

// ObserveTypeset matches report.PDFLaTeX.Observe.
func ObserveTypeset(runs int, d time.Duration, err error) {
	if runs > 0 {
		typesetRuns.Observe(float64(runs))
	}
	typesetDuration.WithLabelValues(outcome(err)).Observe(d.Seconds())
}

// ObserveCacheLookup records a hit or miss for an artifact kind.
func ObserveCacheLookup(kind string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(kind, result).Inc()
}

// ObserveRateLimited records a rejected request.
func ObserveRateLimited(route string) {
	rateLimited.WithLabelValues(route).Inc()
}

// GinMiddleware records request counts and latency per route template.
// Unmatched routes are recorded as "unmatched".
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		requestsTotal.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
		requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}
