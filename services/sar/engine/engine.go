// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine is the boundary to the geostatistical analysis engine.
//
// The engine generates samples, fits variogram-based interpolation models,
// scores them, and renders diagnostic plots. None of that is computed in
// this repository: Engine is the contract, Client talks to the engine
// sidecar over HTTP, and enginetest.Fake stands in for it in tests.
//
// # Ownership
//
// Samples and models passed to an Engine method are borrowed for the
// duration of the call only. Implementations must not retain or mutate
// them; results are always fresh values owned by the caller.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Op names an engine operation. Used for spans, metrics and fault
// injection in tests.
type Op string

const (
	OpGenerate  Op = "generate"
	OpLoad      Op = "load"
	OpDeviation Op = "deviation"
	OpFit       Op = "fit"
	OpGoodfit   Op = "goodfit"
	OpResiduals Op = "residuals"
	OpResTests  Op = "residual_tests"
	OpExplore   Op = "explore"
	OpContains  Op = "contains"
	OpDecode    Op = "decode"
	OpPlot      Op = "plot"
	OpInfo      Op = "info"
)

// Engine is the analysis engine contract.
type Engine interface {
	// GenerateSample synthesizes cfg.SampleSize points within the
	// configured frequency range and half-extents xmax, ymax.
	GenerateSample(ctx context.Context, cfg SampleConfig, xmax, ymax float64) (*Sample, error)

	// LoadMeasuredSample parses a measurement file.
	LoadMeasuredSample(ctx context.Context, path string) (*Sample, error)

	// AddDeviation derives the signed deviation and permissible error
	// columns for the averaging mass (e.g. "10g").
	AddDeviation(ctx context.Context, s *Sample, mass string) (*Sample, error)

	// Fit builds a model from a training sample.
	Fit(ctx context.Context, s *Sample) (*Model, error)

	// GoodnessOfFit scores the model's variogram fit.
	GoodnessOfFit(ctx context.Context, m *Model) (GoodFit, error)

	// ComputeResiduals evaluates the model against a test sample.
	ComputeResiduals(ctx context.Context, m *Model, test *Sample) (Residuals, error)

	// ResidualTests runs the normality and QQ tests on residuals.
	ResidualTests(ctx context.Context, r Residuals) (ResidualStats, error)

	// ExploreCriticalRegion searches for points likely to exceed the
	// permissible error. The result carries "pass", "err" and "sard10g".
	ExploreCriticalRegion(ctx context.Context, m *Model, iters int) (*Sample, error)

	// Contains reports whether s lies within the model's fitted domain.
	Contains(ctx context.Context, m *Model, s *Sample) (bool, error)

	// DecodeModel restores a model from its JSON serialization.
	DecodeModel(ctx context.Context, raw json.RawMessage) (*Model, error)

	// Plot renders a figure as PNG bytes.
	Plot(ctx context.Context, kind PlotKind, in PlotInput) ([]byte, error)

	// Info returns the engine's package metadata.
	Info(ctx context.Context) (map[string]string, error)
}

// =============================================================================
// Errors
// =============================================================================

// ErrUnavailable indicates the engine could not be reached.
var ErrUnavailable = errors.New("analysis engine unavailable")

// Error is a failure reported by the engine itself.
type Error struct {
	Op      Op
	Status  int
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("engine %s failed (status %d): %s", e.Op, e.Status, e.Message)
	}
	return fmt.Sprintf("engine %s failed: %s", e.Op, e.Message)
}
