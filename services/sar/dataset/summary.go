// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dataset

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/AleutianAI/iec62209/services/sar/engine"
)

// ColumnSummary describes one numeric column.
type ColumnSummary struct {
	Name   string  `json:"name"`
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
}

// Summary returns statistics for every fully numeric column, in heading
// order. The id column and columns holding any non-numeric cell are
// skipped. StdDev is 0 for fewer than two rows.
func (d *DataSet) Summary() []ColumnSummary {
	out := []ColumnSummary{}
	if len(d.rows) == 0 {
		return out
	}

	values := make([]float64, len(d.rows))
	for col, name := range d.headings {
		if name == engine.ColumnID || !d.numericColumn(col, values) {
			continue
		}
		s := ColumnSummary{
			Name:  name,
			Count: len(values),
			Min:   floats.Min(values),
			Max:   floats.Max(values),
		}
		if len(values) > 1 {
			s.Mean, s.StdDev = stat.MeanStdDev(values, nil)
		} else {
			s.Mean = values[0]
		}
		out = append(out, s)
	}
	return out
}

// numericColumn fills dst with column col and reports whether every cell
// was numeric.
func (d *DataSet) numericColumn(col int, dst []float64) bool {
	for i, row := range d.rows {
		v, ok := engine.ToFloat(row[col])
		if !ok {
			return false
		}
		dst[i] = v
	}
	return true
}
