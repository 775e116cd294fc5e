// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/iec62209/services/sar/dataset"
	"github.com/AleutianAI/iec62209/services/sar/engine"
	"github.com/AleutianAI/iec62209/services/sar/lifecycle"
	"github.com/AleutianAI/iec62209/services/sar/report"
	"github.com/AleutianAI/iec62209/services/sar/telemetry"
)

const (
	contentTypePNG = "image/png"
	contentTypePDF = "application/pdf"
	contentTypeCSV = "text/csv; charset=utf-8"
	contentTypeTXT = "text/plain; charset=utf-8"
)

// metaTimeout bounds the engine metadata lookup of /meta.
const metaTimeout = 5 * time.Second

// Handlers contains the HTTP handlers of the validation service.
type Handlers struct {
	svc *Service
}

// NewHandlers creates handlers for the given service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// =============================================================================
// Sample planning
// =============================================================================

// HandleGenerate handles POST /<role>-set-generation/generate.
//
// Description:
//
//	Plans a sample with the analysis engine. Missing fields of the body
//	take the default frequency range of 300 to 6000 MHz.
//
// Request Body:
//
//	engine.SampleConfig
//
// Response:
//
//	200 OK: dataset.Table
//	400 Bad Request: Malformed or invalid parameters
//	500 Internal Server Error: The engine failed to generate the sample
func (h *Handlers) HandleGenerate(role dataset.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := h.requestLogger(c, "HandleGenerate").With("role", role)

		cfg := engine.DefaultSampleConfig()
		if err := c.ShouldBindJSON(&cfg); err != nil {
			abortInvalid(c, logger, "Malformed parameters", err)
			return
		}

		tbl, err := h.svc.lc.Generate(c.Request.Context(), role, cfg)
		if err != nil {
			abortWithError(c, logger, err)
			return
		}
		logger.Info("Sample planned", "rows", len(tbl.Rows))
		c.JSON(http.StatusOK, tbl)
	}
}

// HandlePlannedData handles GET /<role>-set-generation/data.
func (h *Handlers) HandlePlannedData(role dataset.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		tbl, err := h.svc.lc.PlannedTable(role)
		if err != nil {
			abortWithError(c, h.requestLogger(c, "HandlePlannedData"), err)
			return
		}
		c.JSON(http.StatusOK, tbl)
	}
}

// HandlePlannedDistribution handles GET /<role>-set-generation/distribution.
func (h *Handlers) HandlePlannedDistribution(role dataset.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := h.requestLogger(c, "HandlePlannedDistribution")
		h.servePNG(c, logger, "planned-"+string(role), func(ctx context.Context) ([]byte, error) {
			return h.svc.lc.PlotPlanned(ctx, role)
		})
	}
}

// HandlePlannedExport handles GET /<role>-set-generation/xport.
//
// Response:
//
//	200 OK: the planned sample as a comma separated measurement template
//	409 Conflict: No sample planned
func (h *Handlers) HandlePlannedExport(role dataset.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		var buf bytes.Buffer
		if err := h.svc.lc.WritePlannedTemplate(role, &buf); err != nil {
			abortWithError(c, h.requestLogger(c, "HandlePlannedExport"), err)
			return
		}
		c.Data(http.StatusOK, contentTypeTXT, buf.Bytes())
	}
}

// HandlePlannedReset handles GET /<role>-set-generation/reset.
func (h *Handlers) HandlePlannedReset(role dataset.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.svc.lc.ResetPlanned(role); err != nil {
			abortWithError(c, h.requestLogger(c, "HandlePlannedReset"), err)
			return
		}
		c.String(http.StatusOK, "ok")
	}
}

// HandlePlannedSummary handles GET /<role>-set-generation/summary.
//
// Response:
//
//	200 OK: SummaryResponse
//	409 Conflict: No sample planned
func (h *Handlers) HandlePlannedSummary(role dataset.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := h.requestLogger(c, "HandlePlannedSummary")
		cols, err := h.svc.lc.PlannedSummary(role)
		if err != nil {
			abortWithError(c, logger, err)
			return
		}
		cfg, err := h.svc.lc.PlannedConfig(role)
		if err != nil {
			abortWithError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, SummaryResponse{Config: cfg, Columns: cols})
	}
}

// =============================================================================
// Sample uploads
// =============================================================================

type loadFunc func(ctx context.Context, path string, opts ...dataset.LoadOption) (dataset.Table, error)

// handleLoad stages the upload, hands it to load and removes it again.
func (h *Handlers) handleLoad(c *gin.Context, handler string, load loadFunc) {
	logger := h.requestLogger(c, handler)

	up, err := h.stage(c)
	if err != nil {
		abortWithError(c, logger, err)
		return
	}
	defer up.Remove()

	tbl, err := load(c.Request.Context(), up.Path, dataset.WithDisplayName(up.Name))
	if err != nil {
		abortWithError(c, logger, err)
		return
	}
	logger.Info("Sample loaded", "file", up.Name, "rows", len(tbl.Rows))
	c.JSON(http.StatusOK, tbl)
}

// HandleLoadTraining handles POST /training-data/load.
//
// Description:
//
//	Clears the session and loads the uploaded training sample.
//
// Request Body:
//
//	multipart/form-data with field "file"
//
// Response:
//
//	200 OK: dataset.Table
//	400 Bad Request: Missing file, too few rows or formatted numbers
func (h *Handlers) HandleLoadTraining(c *gin.Context) {
	h.handleLoad(c, "HandleLoadTraining", h.svc.lc.LoadTrainingSample)
}

// HandleLoadTest handles POST /test-data/load.
//
// Response:
//
//	200 OK: dataset.Table
//	409 Conflict: No model loaded
//	422 Unprocessable Entity: Sample outside the model's domain
func (h *Handlers) HandleLoadTest(c *gin.Context) {
	h.handleLoad(c, "HandleLoadTest", h.svc.lc.LoadTestSample)
}

// HandleLoadCritical handles POST /critical-data/load.
func (h *Handlers) HandleLoadCritical(c *gin.Context) {
	h.handleLoad(c, "HandleLoadCritical", h.svc.lc.LoadCriticalSample)
}

// HandleIsLoaded answers an isloaded endpoint from has.
func (h *Handlers) HandleIsLoaded(has func() bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, IsLoadedResponse{IsLoaded: has()})
	}
}

// HandleClear resets the whole session.
func (h *Handlers) HandleClear(c *gin.Context) {
	h.svc.lc.Clear()
	h.requestLogger(c, "HandleClear").Info("Session cleared")
	c.String(http.StatusOK, "ok")
}

// HandleResetTest handles GET /test-data/reset.
func (h *Handlers) HandleResetTest(c *gin.Context) {
	h.svc.lc.ResetTestSample()
	c.String(http.StatusOK, "ok")
}

// HandleResetCritical handles GET /critical-data/reset.
func (h *Handlers) HandleResetCritical(c *gin.Context) {
	h.svc.lc.ResetCriticalSample()
	c.String(http.StatusOK, "ok")
}

// =============================================================================
// Model creation
// =============================================================================

// HandleCreate handles POST /analysis-creation/create.
//
// Response:
//
//	200 OK: {"Acceptance criteria": "Pass"|"Fail", "Normalized RMS error": "12.3 < 25%"}
//	409 Conflict: No sample loaded
//	500 Internal Server Error: Fitting failed
func (h *Handlers) HandleCreate(c *gin.Context) {
	logger := h.requestLogger(c, "HandleCreate")
	ctx := c.Request.Context()

	gf, err := h.svc.lc.CreateModel(ctx)
	if err != nil {
		abortWithError(c, logger, err)
		return
	}
	logger.Info("Model created", "accept", gf.Accept, "pass", gf.Pass(), "nrmse", gf.NRMSE)
	h.svc.recordVerdict(ctx, logger, report.StageCreation, gf.Accept, gf.Accept && gf.Pass())
	c.JSON(http.StatusOK, gf.Summary())
}

// HandleExportModel handles POST /analysis-creation/xport.
//
// Request Body:
//
//	engine.ModelMetadata
//
// Response:
//
//	200 OK: lifecycle.ModelExport
//	400 Bad Request: Missing metadata fields
//	409 Conflict: No model has been created
func (h *Handlers) HandleExportModel(c *gin.Context) {
	logger := h.requestLogger(c, "HandleExportModel")

	var md engine.ModelMetadata
	if err := c.ShouldBindJSON(&md); err != nil {
		abortInvalid(c, logger, "Invalid model metadata", err)
		return
	}
	doc, err := h.svc.lc.ExportModel(md)
	if err != nil {
		abortWithError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// HandleLoadModel handles POST /model/load.
//
// Response:
//
//	200 OK: engine.ModelMetadata with the uploaded file name
//	400 Bad Request: Not an exported model
func (h *Handlers) HandleLoadModel(c *gin.Context) {
	logger := h.requestLogger(c, "HandleLoadModel")

	data, name, err := h.readUpload(c)
	if err != nil {
		abortWithError(c, logger, err)
		return
	}
	md, err := h.svc.lc.LoadModel(c.Request.Context(), data, name)
	if err != nil {
		abortWithError(c, logger, err)
		return
	}
	logger.Info("Model loaded", "file", name, "system", md.SystemName)
	c.JSON(http.StatusOK, md)
}

// =============================================================================
// Confirmation and verification
// =============================================================================

// HandleConfirm handles GET /confirm-model/confirm.
//
// Response:
//
//	200 OK: {"Acceptance criteria", "Normality", "QQ location", "QQ scale"}
//	409 Conflict: No model or no test sample
func (h *Handlers) HandleConfirm(c *gin.Context) {
	logger := h.requestLogger(c, "HandleConfirm")
	ctx := c.Request.Context()

	out, err := h.svc.lc.Confirm(ctx)
	if err != nil {
		abortWithError(c, logger, err)
		return
	}
	passed := true
	for _, v := range out {
		passed = passed && v == lifecycle.PassFail(true)
	}
	logger.Info("Model confirmed", "passed", passed)
	h.svc.recordVerdict(ctx, logger, report.StageConfirmation, out[lifecycle.KeyAcceptance] == lifecycle.PassFail(true), passed)
	c.JSON(http.StatusOK, out)
}

// HandleSearch handles POST /search-space/search.
//
// Request Body:
//
//	SearchRequest (optional)
//
// Response:
//
//	200 OK: dataset.Table of critical points
//	409 Conflict: No model loaded
func (h *Handlers) HandleSearch(c *gin.Context) {
	logger := h.requestLogger(c, "HandleSearch")

	var req SearchRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			abortInvalid(c, logger, "Invalid search parameters", err)
			return
		}
	}
	tbl, err := h.svc.lc.ExploreSpace(c.Request.Context(), req.Iterations)
	if err != nil {
		abortWithError(c, logger, err)
		return
	}
	logger.Info("Critical region explored", "points", len(tbl.Rows))
	c.JSON(http.StatusOK, tbl)
}

// HandleCriticalExport handles GET /search-space/xport.
func (h *Handlers) HandleCriticalExport(c *gin.Context) {
	var buf bytes.Buffer
	if err := h.svc.lc.WriteCriticalCSV(&buf); err != nil {
		abortWithError(c, h.requestLogger(c, "HandleCriticalExport"), err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="critical-sample.csv"`)
	c.Data(http.StatusOK, contentTypeCSV, buf.Bytes())
}

// HandleVerify handles GET /verify/results.
//
// Response:
//
//	200 OK: {"Acceptance criteria": "Pass"|"Fail"}
//	409 Conflict: No model, or critical points not measured yet
func (h *Handlers) HandleVerify(c *gin.Context) {
	logger := h.requestLogger(c, "HandleVerify")
	ctx := c.Request.Context()

	out, err := h.svc.lc.Verify()
	if err != nil {
		abortWithError(c, logger, err)
		return
	}
	accepted := out[lifecycle.KeyAcceptance] == lifecycle.PassFail(true)
	h.svc.recordVerdict(ctx, logger, report.StageVerification, accepted, accepted)
	c.JSON(http.StatusOK, out)
}

// =============================================================================
// Plots and reports
// =============================================================================

// HandleModelPlot serves a model-level plot.
func (h *Handlers) HandleModelPlot(kind engine.PlotKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := h.requestLogger(c, "HandleModelPlot").With("plot", kind)
		h.servePNG(c, logger, "model-"+string(kind), func(ctx context.Context) ([]byte, error) {
			return h.svc.lc.PlotModel(ctx, kind)
		})
	}
}

// HandleSamplePlot serves a plot of an analysis sample.
func (h *Handlers) HandleSamplePlot(role dataset.Role, kind engine.PlotKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := h.requestLogger(c, "HandleSamplePlot").With("role", role, "plot", kind)
		h.servePNG(c, logger, string(role)+"-"+string(kind), func(ctx context.Context) ([]byte, error) {
			return h.svc.lc.PlotSample(ctx, role, kind)
		})
	}
}

// servePNG renders or fetches a plot for the current session generation.
// The web client appends a timestamp query to defeat browser caching; it
// plays no part in the cache key.
func (h *Handlers) servePNG(c *gin.Context, logger *slog.Logger, name string, render func(context.Context) ([]byte, error)) {
	gen := h.svc.lc.Generation()
	png, err := h.svc.artifact(c.Request.Context(), "png", gen, name, render)
	if err != nil {
		abortWithError(c, logger, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, contentTypePNG, png)
}

// HandleReport serves the PDF report of stage.
//
// Description:
//
//	Reports are rendered from a snapshot of the session and cached for
//	its generation. A fresh render is archived to the configured sink; an
//	archive failure is logged and does not fail the request.
//
// Response:
//
//	200 OK: application/pdf
//	409 Conflict: The session lacks what the stage reports on
//	500 Internal Server Error: Typesetting failed
func (h *Handlers) HandleReport(stage report.Stage) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := h.requestLogger(c, "HandleReport").With("stage", stage.String())
		snap := h.svc.lc.Snapshot()

		pdf, err := h.svc.artifact(c.Request.Context(), "pdf", snap.Generation, stage.String(), func(ctx context.Context) ([]byte, error) {
			pdf, err := h.svc.assembler.Render(ctx, stage, snap)
			if err != nil {
				return nil, err
			}
			loc, err := report.Archive(ctx, h.svc.cfg.Sink, stage, h.svc.cfg.Now(), pdf)
			switch {
			case err != nil:
				logger.Warn("Failed to archive report", "error", err)
			case loc != "":
				logger.Info("Report archived", "location", loc)
			}
			return pdf, nil
		})
		if err != nil {
			abortWithError(c, logger, err)
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf(`inline; filename="%s-report.pdf"`, stage))
		c.Data(http.StatusOK, contentTypePDF, pdf)
	}
}

// =============================================================================
// Service endpoints
// =============================================================================

// HandleMeta handles GET /meta.
func (h *Handlers) HandleMeta(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), metaTimeout)
	defer cancel()

	kernel, err := h.svc.cfg.Engine.Info(ctx)
	if err != nil {
		h.requestLogger(c, "HandleMeta").Warn("Engine metadata unavailable", "error", err)
		kernel = map[string]string{}
	}
	c.JSON(http.StatusOK, MetaResponse{
		ProjectName: ServiceName,
		Version:     h.svc.cfg.Version,
		Summary:     ServiceSummary,
		KernelMeta:  kernel,
	})
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Version: h.svc.cfg.Version})
}

// HandleMetrics handles GET /metrics. The OpenTelemetry Prometheus
// exporter and the service collectors share the default registry.
func (h *Handlers) HandleMetrics(c *gin.Context) {
	handler := telemetry.MetricsHandler()
	if handler == nil {
		handler = promhttp.Handler()
	}
	handler.ServeHTTP(c.Writer, c.Request)
}
