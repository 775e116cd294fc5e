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
	"github.com/AleutianAI/iec62209/services/sar/dataset"
	"github.com/AleutianAI/iec62209/services/sar/engine"
)

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code, e.g. "PRECONDITION_FAILED".
	Code string `json:"code,omitempty"`
}

// IsLoadedResponse answers the isloaded endpoints.
type IsLoadedResponse struct {
	IsLoaded bool `json:"isloaded"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// MetaResponse is the response for GET /meta.
type MetaResponse struct {
	ProjectName string `json:"project_name"`
	Version     string `json:"version"`
	Summary     string `json:"summary"`

	// KernelMeta is the analysis engine's package metadata. Empty when the
	// engine cannot be reached.
	KernelMeta map[string]string `json:"kernel_meta"`
}

// SummaryResponse is the response for GET /<role>-set-generation/summary.
type SummaryResponse struct {
	Config  engine.SampleConfig     `json:"config"`
	Columns []dataset.ColumnSummary `json:"columns"`
}

// SearchRequest is the optional body of POST /search-space/search.
type SearchRequest struct {
	// Iterations of the critical-region search. Zero means the default.
	Iterations int `json:"iterations" binding:"gte=0,lte=20"`
}
