// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Column names
// =============================================================================

// Well-known sample columns.
const (
	ColumnID        = "no."
	ColumnDeviation = "sard10g" // signed deviation, 10g averaging mass
	ColumnMPE       = "mpe10g"  // maximum permissible error, 10g
	ColumnSAR       = "sar10g"
	ColumnSAR1g     = "sar_1g"
	ColumnUncert    = "u10g"
	ColumnErr       = "err"
	ColumnPass      = "pass"
)

// CriticalXVar is the fixed predictor schema of a critical sample upload.
var CriticalXVar = []string{
	"frequency", "power", "par", "bandwidth", "distance", "angle", "x", "y",
}

// CriticalZVar is the response variable of a critical sample upload.
var CriticalZVar = []string{ColumnDeviation}

// =============================================================================
// SampleConfig
// =============================================================================

// SampleConfig holds the parameters of a generated sample.
type SampleConfig struct {
	FRangeMin  int `json:"fRangeMin" validate:"gte=0"`
	FRangeMax  int `json:"fRangeMax" validate:"gtfield=FRangeMin"`
	MeasAreaX  int `json:"measAreaX" validate:"gte=0"`
	MeasAreaY  int `json:"measAreaY" validate:"gte=0"`
	SampleSize int `json:"sampleSize" validate:"gte=0,lte=100000"`
}

// DefaultSampleConfig returns the 300 to 6000 MHz range with no area and
// no requested size.
func DefaultSampleConfig() SampleConfig {
	return SampleConfig{FRangeMin: 300, FRangeMax: 6000}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the struct tags of c.
func (c SampleConfig) Validate() error {
	return validate.Struct(c)
}

// =============================================================================
// ModelMetadata
// =============================================================================

// ModelMetadata describes the measurement system a model belongs to. It is
// pure data carried alongside a model for export and reporting.
type ModelMetadata struct {
	Filename           string `json:"filename"`
	SystemName         string `json:"systemName" validate:"required"`
	Manufacturer       string `json:"manufacturer"`
	PhantomType        string `json:"phantomType" validate:"required"`
	HardwareVersion    string `json:"hardwareVersion" validate:"required"`
	SoftwareVersion    string `json:"softwareVersion" validate:"required"`
	AcceptanceCriteria string `json:"acceptanceCriteria"`
	NormalizedRMSError string `json:"normalizedRMSError"`
	ModelAreaX         string `json:"modelAreaX,omitempty"`
	ModelAreaY         string `json:"modelAreaY,omitempty"`
}

// Validate checks the required fields of m.
func (m ModelMetadata) Validate() error {
	return validate.Struct(m)
}

// =============================================================================
// Sample
// =============================================================================

// Sample is the engine-native table of measurement or generated points.
//
// # Description
//
// Columns are unique and every row has len(Columns) cells. Cells are
// float64 for numeric values and string for categorical ones (antenna,
// modulation). XVar and ZVar name the predictor and response columns the
// engine fits against. XMax and YMax are the half-extents of the
// measurement area.
//
// # Thread Safety
//
// Not safe for concurrent mutation. Owners hand out Clone()s.
type Sample struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
	XVar    []string `json:"xvar,omitempty"`
	ZVar    []string `json:"zvar,omitempty"`
	XMax    float64  `json:"xmax"`
	YMax    float64  `json:"ymax"`
}

// Len returns the number of rows.
func (s *Sample) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Rows)
}

// Clone returns a deep copy of s.
func (s *Sample) Clone() *Sample {
	if s == nil {
		return nil
	}
	out := &Sample{
		Columns: append([]string(nil), s.Columns...),
		Rows:    make([][]any, len(s.Rows)),
		XVar:    append([]string(nil), s.XVar...),
		ZVar:    append([]string(nil), s.ZVar...),
		XMax:    s.XMax,
		YMax:    s.YMax,
	}
	for i, row := range s.Rows {
		out.Rows[i] = append([]any(nil), row...)
	}
	return out
}

// ColumnIndex returns the position of name, or -1.
func (s *Sample) ColumnIndex(name string) int {
	for i, c := range s.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// AddColumn appends a column holding value in every row. An existing
// column of the same name is overwritten in place.
func (s *Sample) AddColumn(name string, value any) {
	if idx := s.ColumnIndex(name); idx >= 0 {
		for _, row := range s.Rows {
			row[idx] = value
		}
		return
	}
	s.Columns = append(s.Columns, name)
	for i := range s.Rows {
		s.Rows[i] = append(s.Rows[i], value)
	}
}

// DropColumn removes name and reports whether it existed.
func (s *Sample) DropColumn(name string) bool {
	idx := s.ColumnIndex(name)
	if idx < 0 {
		return false
	}
	s.Columns = append(s.Columns[:idx:idx], s.Columns[idx+1:]...)
	for i, row := range s.Rows {
		s.Rows[i] = append(row[:idx:idx], row[idx+1:]...)
	}
	return true
}

// Filter keeps only the rows for which keep returns true.
func (s *Sample) Filter(keep func(row []any) bool) {
	kept := s.Rows[:0]
	for _, row := range s.Rows {
		if keep(row) {
			kept = append(kept, row)
		}
	}
	s.Rows = kept
}

// Validate checks that columns are unique and every row is aligned.
func (s *Sample) Validate() error {
	if s == nil {
		return fmt.Errorf("sample is nil")
	}
	seen := make(map[string]struct{}, len(s.Columns))
	for _, c := range s.Columns {
		if _, dup := seen[c]; dup {
			return fmt.Errorf("duplicate column %q", c)
		}
		seen[c] = struct{}{}
	}
	for i, row := range s.Rows {
		if len(row) != len(s.Columns) {
			return fmt.Errorf("row %d has %d values, want %d", i, len(row), len(s.Columns))
		}
	}
	return nil
}

// ToFloat converts a cell to float64. Strings are parsed; anything else
// that is not a number reports ok=false.
func ToFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		n, err := x.Float64()
		return n, err == nil
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return n, err == nil
	default:
		return math.NaN(), false
	}
}

// =============================================================================
// Model and statistics
// =============================================================================

// Model is a fitted spatial interpolation model.
//
// Raw is the engine's own JSON serialization and is treated as opaque.
// Sample is the training sample the engine embedded in the model.
type Model struct {
	Raw    json.RawMessage `json:"model"`
	Sample *Sample         `json:"sample,omitempty"`
}

// GoodFit is the engine's fit-quality verdict.
type GoodFit struct {
	Pass  bool    `json:"pass"`
	NRMSE float64 `json:"nrmse"`
}

// Residuals are the normalized residuals of a model against a test sample.
type Residuals struct {
	Values []float64 `json:"values"`
}

// Len returns the number of residuals.
func (r Residuals) Len() int { return len(r.Values) }

// Thresholds of the residual tests.
const (
	NormalityMinP   = 0.05
	QQLocationMin   = -1.0
	QQLocationMax   = 1.0
	QQScaleMin      = 0.5
	QQScaleMax      = 1.5
	NRMSEPassCutoff = 0.25
)

// ResidualStats holds the Shapiro-Wilk p-value and the QQ location and
// scale of a residual collection.
type ResidualStats struct {
	PValue   float64 `json:"pvalue"`
	Location float64 `json:"location"`
	Scale    float64 `json:"scale"`
}

// NormalityOK reports p >= 0.05.
func (r ResidualStats) NormalityOK() bool { return r.PValue >= NormalityMinP }

// LocationOK reports location within [-1, 1].
func (r ResidualStats) LocationOK() bool {
	return r.Location >= QQLocationMin && r.Location <= QQLocationMax
}

// ScaleOK reports scale within [0.5, 1.5].
func (r ResidualStats) ScaleOK() bool {
	return r.Scale >= QQScaleMin && r.Scale <= QQScaleMax
}

// =============================================================================
// Plots
// =============================================================================

// PlotKind selects an engine plot.
type PlotKind string

const (
	PlotDistribution PlotKind = "distribution"
	PlotDeviations   PlotKind = "deviations"
	PlotMarginals    PlotKind = "marginals"
	PlotVariogram    PlotKind = "variogram"
	PlotGoodfit      PlotKind = "goodfit"
	PlotResiduals    PlotKind = "residuals"
)

// PlotInput carries the handles a plot needs. Unused fields stay nil.
type PlotInput struct {
	Sample    *Sample    `json:"sample,omitempty"`
	Model     *Model     `json:"model,omitempty"`
	Residuals *Residuals `json:"residuals,omitempty"`
}
