// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lifecycle

import (
	"context"
	"fmt"
	"io"

	"github.com/AleutianAI/iec62209/services/sar/dataset"
	"github.com/AleutianAI/iec62209/services/sar/engine"
	"github.com/AleutianAI/iec62209/services/sar/sarerr"
)

// Generation screens: the operator plans a training or test sample, plots
// its distribution and downloads it as a measurement template. These sets
// are independent of the analysis sets.

func (l *Lifecycle) plannedLocked(op string, role dataset.Role) (*dataset.DataSet, error) {
	ds, ok := l.planned[role]
	if !ok {
		return nil, sarerr.New(sarerr.ErrParse, op, fmt.Sprintf("cannot generate a %s sample", role))
	}
	return ds, nil
}

// Generate plans a new sample for role (training or test).
func (l *Lifecycle) Generate(ctx context.Context, role dataset.Role, cfg engine.SampleConfig) (tbl dataset.Table, err error) {
	const op = "lifecycle.Generate"
	defer func() { l.done("generate", err) }()
	l.mu.Lock()
	defer l.mu.Unlock()

	ds, err := l.plannedLocked(op, role)
	if err != nil {
		return dataset.Table{}, err
	}
	if err := ds.Generate(ctx, l.eng, cfg); err != nil {
		return dataset.Table{}, err
	}
	l.bump()
	return ds.Table(), nil
}

// ResetPlanned clears the planned sample of role.
func (l *Lifecycle) ResetPlanned(role dataset.Role) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	ds, err := l.plannedLocked("lifecycle.ResetPlanned", role)
	if err != nil {
		return err
	}
	ds.Clear()
	l.bump()
	return nil
}

// PlannedTable returns the planned sample of role.
func (l *Lifecycle) PlannedTable(role dataset.Role) (dataset.Table, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ds, err := l.plannedLocked("lifecycle.PlannedTable", role)
	if err != nil {
		return dataset.Table{}, err
	}
	return ds.Table(), nil
}

// PlannedConfig returns the configuration the planned sample was generated
// with.
func (l *Lifecycle) PlannedConfig(role dataset.Role) (engine.SampleConfig, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ds, err := l.plannedLocked("lifecycle.PlannedConfig", role)
	if err != nil {
		return engine.SampleConfig{}, err
	}
	return ds.Config(), nil
}

// PlannedSummary returns column statistics of the planned sample.
func (l *Lifecycle) PlannedSummary(role dataset.Role) ([]dataset.ColumnSummary, error) {
	const op = "lifecycle.PlannedSummary"
	l.mu.RLock()
	defer l.mu.RUnlock()
	ds, err := l.plannedLocked(op, role)
	if err != nil {
		return nil, err
	}
	if !ds.IsPresent() {
		return nil, sarerr.NotLoaded(op, "Sample data not present")
	}
	return ds.Summary(), nil
}

// PlotPlanned renders the distribution of the planned sample.
func (l *Lifecycle) PlotPlanned(ctx context.Context, role dataset.Role) ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ds, err := l.plannedLocked("lifecycle.PlotPlanned", role)
	if err != nil {
		return nil, err
	}
	return ds.PlotDistribution(ctx, l.eng)
}

// WritePlannedTemplate writes the planned sample as a measurement
// template.
func (l *Lifecycle) WritePlannedTemplate(role dataset.Role, w io.Writer) error {
	const op = "lifecycle.WritePlannedTemplate"
	l.mu.RLock()
	defer l.mu.RUnlock()
	ds, err := l.plannedLocked(op, role)
	if err != nil {
		return err
	}
	if !ds.IsPresent() {
		return sarerr.NotLoaded(op, "Sample data not present")
	}
	if err := ds.WriteMeasurementTemplate(w); err != nil {
		return sarerr.Wrap(sarerr.ErrIO, op, "could not write sample", err)
	}
	return nil
}
