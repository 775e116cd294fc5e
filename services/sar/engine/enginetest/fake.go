// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package enginetest provides a deterministic in-process engine.Engine for
// tests.
package enginetest

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/AleutianAI/iec62209/services/sar/engine"
)

// GeneratedColumns are the columns of a fake generated sample.
var GeneratedColumns = []string{
	"antenna", "frequency", "power", "modulation", "par", "bandwidth",
	"distance", "angle", "x", "y",
}

// Fake implements engine.Engine without any statistics.
//
// Knobs are plain fields; set them before use. Fail injects an error for
// an operation. Calls counts invocations per operation.
type Fake struct {
	// Fail makes the named operation return the error.
	Fail map[engine.Op]error

	// GoodFit is returned by GoodnessOfFit. Default: pass, nrmse 0.1.
	GoodFit *engine.GoodFit

	// Stats is returned by ResidualTests. Default: all tests pass.
	Stats *engine.ResidualStats

	// CriticalPass lists the pass probabilities of explored points.
	CriticalPass []float64

	// Covers overrides Contains when non-nil.
	Covers *bool

	// GenerateHook replaces GenerateSample when set.
	GenerateHook func(cfg engine.SampleConfig) (*engine.Sample, error)

	mu    sync.Mutex
	calls map[engine.Op]int
}

var _ engine.Engine = (*Fake)(nil)

// New returns a Fake with default knobs.
func New() *Fake {
	return &Fake{
		Fail:         map[engine.Op]error{},
		CriticalPass: []float64{0.005, 0.2, 0.6, 0.01, 0.9},
	}
}

// Calls returns how many times op was invoked.
func (f *Fake) Calls(op engine.Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *Fake) enter(op engine.Op) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[engine.Op]int{}
	}
	f.calls[op]++
	if err := f.Fail[op]; err != nil {
		return err
	}
	return nil
}

// GenerateSample spreads points evenly over the frequency range and area.
func (f *Fake) GenerateSample(_ context.Context, cfg engine.SampleConfig, xmax, ymax float64) (*engine.Sample, error) {
	if err := f.enter(engine.OpGenerate); err != nil {
		return nil, err
	}
	if f.GenerateHook != nil {
		return f.GenerateHook(cfg)
	}

	s := &engine.Sample{
		Columns: append([]string(nil), GeneratedColumns...),
		Rows:    make([][]any, 0, cfg.SampleSize),
		XVar:    append([]string(nil), engine.CriticalXVar...),
		XMax:    xmax,
		YMax:    ymax,
	}
	n := cfg.SampleSize
	for i := 0; i < n; i++ {
		t := 0.0
		if n > 1 {
			t = float64(i) / float64(n-1)
		}
		freq := float64(cfg.FRangeMin) + t*float64(cfg.FRangeMax-cfg.FRangeMin)
		s.Rows = append(s.Rows, []any{
			fmt.Sprintf("D%.0f", freq), freq, 10.0 + t*10, "CW", 0.0, 0.0,
			5.0 + t*20, 90.0 * t, -xmax + 2*xmax*t, ymax - 2*ymax*t,
		})
	}
	return s, nil
}

// LoadMeasuredSample parses a comma separated file. Numeric cells become
// float64; a percent-formatted cell is rejected the way the engine does.
func (f *Fake) LoadMeasuredSample(_ context.Context, path string) (*engine.Sample, error) {
	if err := f.enter(engine.OpLoad); err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return &engine.Sample{}, nil
	}

	s := &engine.Sample{Columns: records[0]}
	xi, yi := s.ColumnIndex("x"), s.ColumnIndex("y")
	for _, rec := range records[1:] {
		row := make([]any, len(rec))
		for i, cell := range rec {
			if strings.HasSuffix(cell, "%") {
				return nil, &engine.Error{Op: engine.OpLoad, Status: 422, Message: fmt.Sprintf("unsupported operand type for cell %q", cell)}
			}
			if v, err := strconv.ParseFloat(cell, 64); err == nil {
				row[i] = v
			} else {
				row[i] = cell
			}
		}
		if xi >= 0 {
			if v, ok := engine.ToFloat(row[xi]); ok {
				s.XMax = math.Max(s.XMax, math.Abs(v))
			}
		}
		if yi >= 0 {
			if v, ok := engine.ToFloat(row[yi]); ok {
				s.YMax = math.Max(s.YMax, math.Abs(v))
			}
		}
		s.Rows = append(s.Rows, row)
	}
	return s, nil
}

// AddDeviation keeps existing deviation columns and otherwise appends
// sard10g=0 and mpe10g=1.
func (f *Fake) AddDeviation(_ context.Context, s *engine.Sample, mass string) (*engine.Sample, error) {
	if err := f.enter(engine.OpDeviation); err != nil {
		return nil, err
	}
	out := s.Clone()
	if out.ColumnIndex("sard"+mass) < 0 {
		out.AddColumn("sard"+mass, 0.0)
	}
	if out.ColumnIndex("mpe"+mass) < 0 {
		out.AddColumn("mpe"+mass, 1.0)
	}
	out.ZVar = []string{"sard" + mass}
	return out, nil
}

type fakeModel struct {
	Kind   string         `json:"kind"`
	Sample *engine.Sample `json:"sample"`
}

// Fit embeds the training sample in the model JSON.
func (f *Fake) Fit(_ context.Context, s *engine.Sample) (*engine.Model, error) {
	if err := f.enter(engine.OpFit); err != nil {
		return nil, err
	}
	if s.Len() == 0 {
		return nil, fmt.Errorf("cannot fit an empty sample")
	}
	raw, err := json.Marshal(fakeModel{Kind: "fake", Sample: s})
	if err != nil {
		return nil, err
	}
	return &engine.Model{Raw: raw, Sample: s.Clone()}, nil
}

// GoodnessOfFit returns the GoodFit knob.
func (f *Fake) GoodnessOfFit(_ context.Context, _ *engine.Model) (engine.GoodFit, error) {
	if err := f.enter(engine.OpGoodfit); err != nil {
		return engine.GoodFit{}, err
	}
	if f.GoodFit != nil {
		return *f.GoodFit, nil
	}
	return engine.GoodFit{Pass: true, NRMSE: 0.1}, nil
}

// ComputeResiduals returns the test sample's deviation column.
func (f *Fake) ComputeResiduals(_ context.Context, _ *engine.Model, test *engine.Sample) (engine.Residuals, error) {
	if err := f.enter(engine.OpResiduals); err != nil {
		return engine.Residuals{}, err
	}
	if test == nil {
		return engine.Residuals{}, fmt.Errorf("no test sample")
	}
	idx := test.ColumnIndex(engine.ColumnDeviation)
	values := make([]float64, 0, test.Len())
	for _, row := range test.Rows {
		v := 0.0
		if idx >= 0 {
			v, _ = engine.ToFloat(row[idx])
		}
		values = append(values, v)
	}
	return engine.Residuals{Values: values}, nil
}

// ResidualTests returns the Stats knob.
func (f *Fake) ResidualTests(_ context.Context, _ engine.Residuals) (engine.ResidualStats, error) {
	if err := f.enter(engine.OpResTests); err != nil {
		return engine.ResidualStats{}, err
	}
	if f.Stats != nil {
		return *f.Stats, nil
	}
	return engine.ResidualStats{PValue: 0.4, Location: 0.1, Scale: 1.0}, nil
}

// ExploreCriticalRegion emits one point per CriticalPass entry.
func (f *Fake) ExploreCriticalRegion(_ context.Context, m *engine.Model, _ int) (*engine.Sample, error) {
	if err := f.enter(engine.OpExplore); err != nil {
		return nil, err
	}
	s := &engine.Sample{
		Columns: []string{
			"antenna", "frequency", "power", "modulation", "par", "bandwidth",
			"distance", "angle", "x", "y", engine.ColumnMPE, engine.ColumnDeviation,
			engine.ColumnErr, engine.ColumnPass,
		},
		XVar: append([]string(nil), engine.CriticalXVar...),
		ZVar: append([]string(nil), engine.CriticalZVar...),
	}
	if m != nil && m.Sample != nil {
		s.XMax, s.YMax = m.Sample.XMax, m.Sample.YMax
	}
	for i, p := range f.CriticalPass {
		freq := 900.0 + 100*float64(i)
		s.Rows = append(s.Rows, []any{
			fmt.Sprintf("D%.0f", freq), freq, 20.0, "CW", 0.0, 0.0,
			5.0, 0.0, 0.0, 0.0, 1.0, 0.5, 0.1, p,
		})
	}
	return s, nil
}

// Contains compares the sample's half-extents with the model's.
func (f *Fake) Contains(_ context.Context, m *engine.Model, s *engine.Sample) (bool, error) {
	if err := f.enter(engine.OpContains); err != nil {
		return false, err
	}
	if f.Covers != nil {
		return *f.Covers, nil
	}
	if m == nil || m.Sample == nil || s == nil {
		return false, nil
	}
	return s.XMax <= m.Sample.XMax && s.YMax <= m.Sample.YMax, nil
}

// DecodeModel reverses Fit's serialization.
func (f *Fake) DecodeModel(_ context.Context, raw json.RawMessage) (*engine.Model, error) {
	if err := f.enter(engine.OpDecode); err != nil {
		return nil, err
	}
	var fm fakeModel
	if err := json.Unmarshal(raw, &fm); err != nil {
		return nil, err
	}
	if fm.Kind != "fake" || fm.Sample == nil {
		return nil, fmt.Errorf("not a model")
	}
	return &engine.Model{Raw: append(json.RawMessage(nil), raw...), Sample: fm.Sample}, nil
}

// Plot returns a tiny PNG whose color depends on the kind.
func (f *Fake) Plot(_ context.Context, kind engine.PlotKind, _ engine.PlotInput) ([]byte, error) {
	if err := f.enter(engine.OpPlot); err != nil {
		return nil, err
	}
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	shade := uint8(len(kind) * 16)
	for x := 0; x < 2; x++ {
		for y := 0; y < 2; y++ {
			img.Set(x, y, color.RGBA{R: shade, G: 128, B: 255 - shade, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Info returns fixed package metadata.
func (f *Fake) Info(_ context.Context) (map[string]string, error) {
	if err := f.enter(engine.OpInfo); err != nil {
		return nil, err
	}
	return map[string]string{"Name": "iec62209", "Version": "0.0.0-fake"}, nil
}
