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
	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/iec62209/services/sar/dataset"
	"github.com/AleutianAI/iec62209/services/sar/engine"
	"github.com/AleutianAI/iec62209/services/sar/report"
)

// RegisterRoutes registers every validation route with the router.
//
// Description:
//
//	One group per workflow screen of the web client. Endpoints that call
//	the analysis engine for a fit, a search or a report are rate limited.
//
// Sample planning (training and test):
//
//	POST /training-set-generation/generate - Plan a training sample
//	GET  /training-set-generation/data - Planned sample as JSON
//	GET  /training-set-generation/distribution - Distribution plot (PNG)
//	GET  /training-set-generation/xport - Measurement template (text)
//	GET  /training-set-generation/reset - Drop the planned sample
//	GET  /training-set-generation/summary - Column statistics
//	(the same under /test-set-generation)
//
// Model creation:
//
//	POST /training-data/load - Upload a training sample (multipart "file")
//	GET  /training-data/isloaded, GET /training-data/reset
//	POST /analysis-creation/create - Fit the model, test goodness of fit
//	GET  /analysis-creation/variogram|goodfit|deviations|marginals - Plots
//	POST /analysis-creation/xport - Export the model with metadata
//	GET  /analysis-creation/reset - Clear the session
//	GET  /analysis-creation/pdf - Creation report
//	POST /model/load, GET /model/isloaded, GET /model/reset
//
// Model confirmation:
//
//	POST /test-data/load, GET /test-data/isloaded, GET /test-data/reset
//	GET  /confirm-model/confirm - Residual tests
//	GET  /confirm-model/qqplot|deviations|semivariogram - Plots
//	GET  /confirm-model/pdf - Confirmation report
//
// Critical data space search:
//
//	POST /search-space/search - Explore the critical region
//	GET  /search-space/xport - Critical sample as CSV
//	GET  /search-space/distribution - Distribution plot
//	POST /critical-data/load, GET /critical-data/isloaded, GET /critical-data/reset
//	GET  /verify/results - Acceptance of the measured critical sample
//	GET  /verify/deviations - Deviation plot
//	GET  /verify/pdf - Verification report
//
// Service:
//
//	GET /meta, GET /health, GET /metrics
func RegisterRoutes(r gin.IRouter, h *Handlers) {
	limited := rateLimit(h.svc.limiter)

	for _, role := range []dataset.Role{dataset.RoleTraining, dataset.RoleTest} {
		g := r.Group("/" + string(role) + "-set-generation")
		g.POST("/generate", limited, h.HandleGenerate(role))
		g.GET("/data", h.HandlePlannedData(role))
		g.GET("/distribution", h.HandlePlannedDistribution(role))
		g.GET("/xport", h.HandlePlannedExport(role))
		g.GET("/reset", h.HandlePlannedReset(role))
		g.GET("/summary", h.HandlePlannedSummary(role))
	}

	training := r.Group("/training-data")
	training.POST("/load", h.HandleLoadTraining)
	training.GET("/isloaded", h.HandleIsLoaded(h.svc.lc.HasTrainingSample))
	training.GET("/reset", h.HandleClear)

	creation := r.Group("/analysis-creation")
	creation.POST("/create", limited, h.HandleCreate)
	creation.GET("/variogram", h.HandleModelPlot(engine.PlotVariogram))
	creation.GET("/goodfit", h.HandleModelPlot(engine.PlotGoodfit))
	creation.GET("/deviations", h.HandleSamplePlot(dataset.RoleTraining, engine.PlotDeviations))
	creation.GET("/marginals", h.HandleSamplePlot(dataset.RoleTraining, engine.PlotMarginals))
	creation.POST("/xport", h.HandleExportModel)
	creation.GET("/reset", h.HandleClear)
	creation.GET("/pdf", limited, h.HandleReport(report.StageCreation))

	model := r.Group("/model")
	model.POST("/load", h.HandleLoadModel)
	model.GET("/isloaded", h.HandleIsLoaded(h.svc.lc.HasModel))
	model.GET("/reset", h.HandleClear)

	test := r.Group("/test-data")
	test.POST("/load", h.HandleLoadTest)
	test.GET("/isloaded", h.HandleIsLoaded(h.svc.lc.HasTestSample))
	test.GET("/reset", h.HandleResetTest)

	confirm := r.Group("/confirm-model")
	confirm.GET("/confirm", limited, h.HandleConfirm)
	confirm.GET("/qqplot", h.HandleModelPlot(engine.PlotResiduals))
	confirm.GET("/deviations", h.HandleSamplePlot(dataset.RoleTest, engine.PlotDeviations))
	confirm.GET("/semivariogram", h.HandleModelPlot(engine.PlotVariogram))
	confirm.GET("/pdf", limited, h.HandleReport(report.StageConfirmation))

	search := r.Group("/search-space")
	search.POST("/search", limited, h.HandleSearch)
	search.GET("/xport", h.HandleCriticalExport)
	search.GET("/distribution", h.HandleSamplePlot(dataset.RoleCritical, engine.PlotDistribution))

	critical := r.Group("/critical-data")
	critical.POST("/load", h.HandleLoadCritical)
	critical.GET("/isloaded", h.HandleIsLoaded(h.svc.lc.HasCriticalSample))
	critical.GET("/reset", h.HandleResetCritical)

	verify := r.Group("/verify")
	verify.GET("/results", h.HandleVerify)
	verify.GET("/deviations", h.HandleSamplePlot(dataset.RoleCritical, engine.PlotDeviations))
	verify.GET("/pdf", limited, h.HandleReport(report.StageVerification))

	r.GET("/meta", h.HandleMeta)
	r.GET("/health", h.HandleHealth)
	r.GET("/metrics", h.HandleMetrics)
}
