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
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/AleutianAI/iec62209/services/sar/engine"
	"github.com/AleutianAI/iec62209/services/sar/sarerr"
)

// MsgFormattedNumbers is shown when a measurement file holds formatted
// numbers the engine cannot parse.
const MsgFormattedNumbers = "Please make sure that numbers are not formatted (e.g. to percentages)"

// minDataRows is the smallest measurement file accepted.
const minDataRows = 2

// numericColumns are the measurement columns that must hold plain numbers.
// Headers are compared lower-cased and trimmed.
var numericColumns = map[string]struct{}{
	"no.": {}, "frequency": {}, "power": {}, "par": {}, "bandwidth": {},
	"distance": {}, "angle": {}, "x": {}, "y": {},
	"sar1g": {}, "sar10g": {}, "sar_1g": {}, "sar_10g": {},
	"u1g": {}, "u10g": {}, "u_1g": {}, "u_10g": {},
	"sard10g": {}, "mpe10g": {}, "err": {}, "pass": {},
}

// prescan rejects measurement files the engine would choke on.
//
// # Description
//
// Reads the header and counts non-blank data rows. Any cell ending in "%"
// and any non-numeric value in a known numeric column fails with the
// formatted-numbers message. Fewer than two data rows fail as empty.
func prescan(path, name string) error {
	const op = "dataset.LoadFromFile"
	f, err := os.Open(path)
	if err != nil {
		return sarerr.Wrap(sarerr.ErrIO, op, fmt.Sprintf("could not read %s", name), err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return sarerr.New(sarerr.ErrParse, op, fmt.Sprintf("Failed to load data, or %s is empty", name))
	}
	if err != nil {
		return sarerr.Wrap(sarerr.ErrParse, op, fmt.Sprintf("%s is not a valid CSV file", name), err)
	}
	numeric := make([]bool, len(header))
	for i, h := range header {
		_, numeric[i] = numericColumns[strings.ToLower(strings.TrimSpace(h))]
	}

	rows := 0
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return sarerr.Wrap(sarerr.ErrParse, op, fmt.Sprintf("%s is not a valid CSV file", name), err)
		}
		if isBlank(rec) {
			continue
		}
		rows++
		for i, cell := range rec {
			cell = strings.TrimSpace(cell)
			if strings.HasSuffix(cell, "%") {
				return sarerr.New(sarerr.ErrParse, op, MsgFormattedNumbers)
			}
			if i < len(numeric) && numeric[i] && cell != "" {
				if _, perr := strconv.ParseFloat(cell, 64); perr != nil {
					return sarerr.New(sarerr.ErrParse, op, MsgFormattedNumbers)
				}
			}
		}
	}

	if rows < minDataRows {
		return sarerr.New(sarerr.ErrParse, op,
			fmt.Sprintf("Failed to load data, or %s is empty: at least %d data rows are required", name, minDataRows))
	}
	return nil
}

func isBlank(rec []string) bool {
	for _, cell := range rec {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// =============================================================================
// Export
// =============================================================================

// WriteCSV writes headings and rows to w.
func (d *DataSet) WriteCSV(w io.Writer) error {
	return writeTable(w, d.headings, d.rows, nil)
}

// ExportCSV writes the table to path. The file is written next to its
// destination and renamed into place.
//
// # Outputs
//
//   - error: NotLoadedError when d is empty, IoError on write failure.
func (d *DataSet) ExportCSV(path string) error {
	const op = "dataset.ExportCSV"
	if !d.present {
		return sarerr.NotLoaded(op, "Sample data not present")
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".export-*.csv")
	if err != nil {
		return sarerr.Wrap(sarerr.ErrIO, op, fmt.Sprintf("could not write %s", path), err)
	}
	defer os.Remove(tmp.Name())

	if err := d.WriteCSV(tmp); err != nil {
		tmp.Close()
		return sarerr.Wrap(sarerr.ErrIO, op, fmt.Sprintf("could not write %s", path), err)
	}
	if err := tmp.Close(); err != nil {
		return sarerr.Wrap(sarerr.ErrIO, op, fmt.Sprintf("could not write %s", path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return sarerr.Wrap(sarerr.ErrIO, op, fmt.Sprintf("could not write %s", path), err)
	}
	return nil
}

// WriteMeasurementTemplate writes the table as a measurement template: when
// the sample carries no SAR column, zero-filled sar10g and u10g columns are
// appended so the file can be filled in at the bench. d is not modified.
func (d *DataSet) WriteMeasurementTemplate(w io.Writer) error {
	var extra []string
	if indexOf(d.headings, engine.ColumnSAR1g) < 0 && indexOf(d.headings, engine.ColumnSAR) < 0 {
		extra = []string{engine.ColumnSAR, engine.ColumnUncert}
	}
	return writeTable(w, d.headings, d.rows, extra)
}

func writeTable(w io.Writer, headings []string, rows [][]any, extra []string) error {
	cw := csv.NewWriter(w)
	header := append(append([]string(nil), headings...), extra...)
	if err := cw.Write(header); err != nil {
		return err
	}
	rec := make([]string, len(header))
	for _, row := range rows {
		for i, v := range row {
			rec[i] = FormatCell(v)
		}
		for i := range extra {
			rec[len(row)+i] = "0"
		}
		if err := cw.Write(rec[:len(row)+len(extra)]); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// FormatCell renders a table cell. Numbers use the shortest exact form.
func FormatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		if f, ok := engine.ToFloat(x); ok {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return fmt.Sprint(x)
	}
}
