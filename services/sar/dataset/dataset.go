// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dataset holds one measurement sample (training, test or
// critical) as a table plus the engine-native sample it was built from.
//
// # Description
//
// A DataSet starts empty. Generate and LoadFromFile replace its contents
// wholesale; AddColumns is the only in-place mutation. Every replacing
// operation builds the new contents off to the side and swaps them in only
// on success, so a failed call leaves the DataSet unchanged.
//
// Presence is tracked by an explicit flag: a DataSet can be present with
// zero rows (an exploration that found no critical points), which is
// different from never having been loaded.
//
// # Thread Safety
//
// DataSet is not safe for concurrent use. The lifecycle package serializes
// access.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/iec62209/services/sar/engine"
	"github.com/AleutianAI/iec62209/services/sar/sarerr"
)

// Role names which sample a DataSet holds.
type Role string

const (
	RoleTraining Role = "training"
	RoleTest     Role = "test"
	RoleCritical Role = "critical"
)

// DeviationMass is the averaging mass used for derived deviation columns.
const DeviationMass = "10g"

// Table is the JSON view of a DataSet.
type Table struct {
	Headings []string `json:"headings"`
	Rows     [][]any  `json:"rows"`
}

// DataSet is one sample in tabular form.
type DataSet struct {
	role     Role
	headings []string
	rows     [][]any
	config   engine.SampleConfig
	sample   *engine.Sample
	present  bool
}

// New returns an empty DataSet for role.
func New(role Role) *DataSet {
	return &DataSet{role: role, config: engine.DefaultSampleConfig()}
}

// FromSample builds a present DataSet from an engine sample.
//
// # Description
//
// The table mirrors the sample's columns and rows. The configuration is
// derived from the sample: measurement area is twice the half-extents and
// the sample size is the row count. The DataSet takes ownership of s.
//
// # Outputs
//
//   - error: GenerationError "Empty or ill-formed data" when s has no
//     columns or misaligned rows.
func FromSample(role Role, s *engine.Sample) (*DataSet, error) {
	const op = "dataset.FromSample"
	if s == nil || len(s.Columns) == 0 {
		return nil, sarerr.New(sarerr.ErrGeneration, op, "Empty or ill-formed data")
	}
	if err := s.Validate(); err != nil {
		return nil, sarerr.Wrap(sarerr.ErrGeneration, op, "Empty or ill-formed data", err)
	}

	d := New(role)
	d.sample = s
	d.headings = append([]string(nil), s.Columns...)
	d.rows = copyRows(s.Rows)
	d.config.MeasAreaX = int(math.Round(2 * s.XMax))
	d.config.MeasAreaY = int(math.Round(2 * s.YMax))
	d.config.SampleSize = len(d.rows)
	d.present = true
	return d, nil
}

// Role returns the sample role.
func (d *DataSet) Role() Role { return d.role }

// IsPresent reports whether the DataSet was generated or loaded since the
// last Clear. It does not depend on the row count.
func (d *DataSet) IsPresent() bool { return d.present }

// Len returns the number of rows.
func (d *DataSet) Len() int { return len(d.rows) }

// Config returns the generation configuration.
func (d *DataSet) Config() engine.SampleConfig { return d.config }

// Headings returns a copy of the column names.
func (d *DataSet) Headings() []string { return append([]string(nil), d.headings...) }

// Table returns a deep copy of headings and rows.
func (d *DataSet) Table() Table {
	headings := d.Headings()
	if headings == nil {
		headings = []string{}
	}
	return Table{Headings: headings, Rows: copyRows(d.rows)}
}

// Sample returns a copy of the engine sample, or nil when absent.
func (d *DataSet) Sample() *engine.Sample { return d.sample.Clone() }

// Clone returns a deep copy of d.
func (d *DataSet) Clone() *DataSet {
	return &DataSet{
		role:     d.role,
		headings: d.Headings(),
		rows:     copyRows(d.rows),
		config:   d.config,
		sample:   d.sample.Clone(),
		present:  d.present,
	}
}

// Clear resets d to empty.
func (d *DataSet) Clear() {
	*d = *New(d.role)
}

// Column returns the values of the named column and whether it exists.
func (d *DataSet) Column(name string) ([]any, bool) {
	idx := indexOf(d.headings, name)
	if idx < 0 {
		return nil, false
	}
	out := make([]any, len(d.rows))
	for i, row := range d.rows {
		out[i] = row[idx]
	}
	return out, true
}

// =============================================================================
// Generate
// =============================================================================

// Generate asks the engine for a new sample and replaces d's contents.
//
// # Description
//
// The engine is asked for cfg.SampleSize points within half the measured
// area. A "no." id column numbered from 1 is prepended to the table when
// the engine does not supply one.
//
// # Outputs
//
//   - error: ParseError for an invalid cfg. GenerationError when the engine
//     fails or returns a malformed, empty or wrongly sized sample. d is
//     unchanged on error.
func (d *DataSet) Generate(ctx context.Context, eng engine.Engine, cfg engine.SampleConfig) error {
	const op = "dataset.Generate"
	if err := cfg.Validate(); err != nil {
		return sarerr.Wrap(sarerr.ErrParse, op, "invalid sample configuration", err)
	}

	s, err := eng.GenerateSample(ctx, cfg, 0.5*float64(cfg.MeasAreaX), 0.5*float64(cfg.MeasAreaY))
	if err != nil {
		return sarerr.Wrap(sarerr.ErrGeneration, op, "The analysis engine raised an exception", err)
	}
	if s == nil || len(s.Columns) == 0 || s.Len() == 0 {
		return sarerr.New(sarerr.ErrGeneration, op, "Invalid sample generated: empty result")
	}
	if err := s.Validate(); err != nil {
		return sarerr.Wrap(sarerr.ErrGeneration, op, "Invalid sample generated", err)
	}
	if s.Len() != cfg.SampleSize {
		return sarerr.New(sarerr.ErrGeneration, op,
			fmt.Sprintf("Invalid sample generated: %d rows, requested %d", s.Len(), cfg.SampleSize))
	}

	next := New(d.role)
	next.sample = s
	next.config = cfg
	next.present = true
	if indexOf(s.Columns, engine.ColumnID) >= 0 {
		next.headings = append([]string(nil), s.Columns...)
		next.rows = copyRows(s.Rows)
	} else {
		next.headings = append([]string{engine.ColumnID}, s.Columns...)
		next.rows = make([][]any, len(s.Rows))
		for i, row := range s.Rows {
			next.rows[i] = append([]any{float64(i + 1)}, row...)
		}
	}

	*d = *next
	return nil
}

// =============================================================================
// LoadFromFile
// =============================================================================

type loadOptions struct {
	displayName string
	xvar, zvar  []string
}

// LoadOption customizes LoadFromFile.
type LoadOption func(*loadOptions)

// WithDisplayName sets the file name used in error messages. Uploads are
// staged under random names, so handlers pass the client's file name.
func WithDisplayName(name string) LoadOption {
	return func(o *loadOptions) { o.displayName = name }
}

// WithSchema fixes the predictor and response variables of the sample.
func WithSchema(xvar, zvar []string) LoadOption {
	return func(o *loadOptions) {
		o.xvar = append([]string(nil), xvar...)
		o.zvar = append([]string(nil), zvar...)
	}
}

// LoadFromFile parses a measurement file and replaces d's contents.
//
// # Description
//
// The file is pre-scanned locally (at least two data rows, no formatted
// numbers), parsed by the engine, and extended with the 10g signed
// deviation and permissible error columns.
//
// # Outputs
//
//   - error: ParseError for short or badly formatted input, IoError when the
//     file cannot be read or the engine cannot be reached. d is unchanged
//     on error.
func (d *DataSet) LoadFromFile(ctx context.Context, eng engine.Engine, path string, opts ...LoadOption) error {
	const op = "dataset.LoadFromFile"
	o := loadOptions{displayName: filepath.Base(path)}
	for _, opt := range opts {
		opt(&o)
	}

	if err := prescan(path, o.displayName); err != nil {
		return err
	}

	measured, err := eng.LoadMeasuredSample(ctx, path)
	if err != nil {
		return classifyLoadError(op, o.displayName, err)
	}
	withDev, err := eng.AddDeviation(ctx, measured, DeviationMass)
	if err != nil {
		return classifyLoadError(op, o.displayName, err)
	}
	if withDev == nil || withDev.Len() == 0 {
		return sarerr.New(sarerr.ErrParse, op,
			fmt.Sprintf("Failed to load data, or %s is empty", o.displayName))
	}
	if o.xvar != nil {
		for _, col := range append(append([]string(nil), o.xvar...), o.zvar...) {
			if withDev.ColumnIndex(col) < 0 {
				return sarerr.New(sarerr.ErrParse, op, fmt.Sprintf("%s is missing column '%s'", o.displayName, col))
			}
		}
		withDev.XVar, withDev.ZVar = o.xvar, o.zvar
	}

	next, err := FromSample(d.role, withDev)
	if err != nil {
		return sarerr.Wrap(sarerr.ErrParse, op, fmt.Sprintf("Failed to load data, or %s is empty", o.displayName), err)
	}
	*d = *next
	return nil
}

// formatHints mark an engine message about a value it could not convert.
var formatHints = []string{"type", "convert", "format", "invalid literal", "could not parse"}

// classifyLoadError maps an engine load failure. Only a rejected request
// (4xx) or a conversion problem gets the formatted-numbers hint; any other
// engine failure keeps the engine's own message.
func classifyLoadError(op, name string, err error) error {
	var engErr *engine.Error
	switch {
	case errors.Is(err, engine.ErrUnavailable), errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission):
		return sarerr.Wrap(sarerr.ErrIO, op, fmt.Sprintf("could not read %s", name), err)
	case errors.As(err, &engErr) && isFormatProblem(engErr):
		return sarerr.Wrap(sarerr.ErrParse, op, MsgFormattedNumbers, err)
	default:
		return sarerr.Wrap(sarerr.ErrParse, op, fmt.Sprintf("Failed to load %s", name), err)
	}
}

func isFormatProblem(e *engine.Error) bool {
	if e.Status >= 400 && e.Status < 500 {
		return true
	}
	msg := strings.ToLower(e.Message)
	for _, hint := range formatHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

// =============================================================================
// AddColumns
// =============================================================================

// AddColumns appends one zero-valued column per name to the table and to
// the engine sample.
//
// # Outputs
//
//   - error: NotLoadedError "Sample data not present" when d has no sample,
//     ParseError when a name already exists. d is unchanged on error.
func (d *DataSet) AddColumns(names []string) error {
	const op = "dataset.AddColumns"
	if !d.present || d.sample == nil {
		return sarerr.NotLoaded(op, "Sample data not present")
	}
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, dup := seen[name]; dup || indexOf(d.headings, name) >= 0 || d.sample.ColumnIndex(name) >= 0 {
			return sarerr.New(sarerr.ErrParse, op, fmt.Sprintf("column '%s' already exists", name))
		}
		seen[name] = struct{}{}
	}

	for _, name := range names {
		d.headings = append(d.headings, name)
		for i := range d.rows {
			d.rows[i] = append(d.rows[i], 0.0)
		}
		d.sample.AddColumn(name, 0.0)
	}
	return nil
}

// =============================================================================
// Plots
// =============================================================================

// Plot renders one of the sample plots through the engine.
//
// # Outputs
//
//   - []byte: PNG bytes.
//   - error: NotLoadedError "Sample not loaded" when d has no sample.
func (d *DataSet) Plot(ctx context.Context, eng engine.Engine, kind engine.PlotKind) ([]byte, error) {
	const op = "dataset.Plot"
	if d.sample == nil {
		return nil, sarerr.NotLoaded(op, "Sample not loaded")
	}
	switch kind {
	case engine.PlotDistribution, engine.PlotDeviations, engine.PlotMarginals:
	default:
		return nil, sarerr.New(sarerr.ErrParse, op, fmt.Sprintf("unsupported sample plot %q", kind))
	}
	png, err := eng.Plot(ctx, kind, engine.PlotInput{Sample: d.sample.Clone()})
	if err != nil {
		return nil, sarerr.Wrap(sarerr.ErrIO, op, fmt.Sprintf("failed to render %s plot", kind), err)
	}
	return png, nil
}

// PlotDistribution renders the sample distribution plot.
func (d *DataSet) PlotDistribution(ctx context.Context, eng engine.Engine) ([]byte, error) {
	return d.Plot(ctx, eng, engine.PlotDistribution)
}

// PlotDeviations renders the deviations plot.
func (d *DataSet) PlotDeviations(ctx context.Context, eng engine.Engine) ([]byte, error) {
	return d.Plot(ctx, eng, engine.PlotDeviations)
}

// PlotMarginals renders the marginals plot.
func (d *DataSet) PlotMarginals(ctx context.Context, eng engine.Engine) ([]byte, error) {
	return d.Plot(ctx, eng, engine.PlotMarginals)
}

// =============================================================================
// Helpers
// =============================================================================

func indexOf(list []string, name string) int {
	for i, v := range list {
		if v == name {
			return i
		}
	}
	return -1
}

func copyRows(rows [][]any) [][]any {
	out := make([][]any, len(rows))
	for i, row := range rows {
		out[i] = append([]any(nil), row...)
	}
	return out
}
