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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleFixture() *Sample {
	return &Sample{
		Columns: []string{"antenna", "x", "sard10g", "err", "pass"},
		Rows: [][]any{
			{"D900", 1.0, 0.2, 0.1, 0.5},
			{"D1800", -2.0, -0.4, 0.2, 0.001},
		},
		XMax: 50,
		YMax: 25,
	}
}

func TestSample_CloneIsDeep(t *testing.T) {
	s := sampleFixture()
	c := s.Clone()
	c.Rows[0][1] = 99.0
	c.Columns[0] = "renamed"

	assert.Equal(t, 1.0, s.Rows[0][1])
	assert.Equal(t, "antenna", s.Columns[0])
	assert.Nil(t, (*Sample)(nil).Clone())
}

func TestSample_AddAndDropColumn(t *testing.T) {
	s := sampleFixture()

	s.AddColumn("u10g", 0.0)
	require.Equal(t, 6, len(s.Columns))
	for _, row := range s.Rows {
		assert.Len(t, row, 6)
		assert.Equal(t, 0.0, row[5])
	}

	s.AddColumn("x", 7.0)
	assert.Equal(t, 6, len(s.Columns), "existing column is overwritten, not duplicated")
	assert.Equal(t, 7.0, s.Rows[1][1])

	assert.True(t, s.DropColumn("err"))
	assert.False(t, s.DropColumn("err"))
	assert.Equal(t, []string{"antenna", "x", "sard10g", "pass", "u10g"}, s.Columns)
	assert.Equal(t, []any{"D900", 7.0, 0.2, 0.5, 0.0}, s.Rows[0])
	require.NoError(t, s.Validate())
}

func TestSample_Filter(t *testing.T) {
	s := sampleFixture()
	pass := s.ColumnIndex(ColumnPass)
	s.Filter(func(row []any) bool {
		v, _ := ToFloat(row[pass])
		return v > 0.01
	})
	require.Equal(t, 1, s.Len())
	assert.Equal(t, "D900", s.Rows[0][0])
}

func TestSample_Validate(t *testing.T) {
	assert.Error(t, (&Sample{Columns: []string{"a", "a"}}).Validate())
	assert.Error(t, (&Sample{Columns: []string{"a", "b"}, Rows: [][]any{{1.0}}}).Validate())
	assert.Error(t, (*Sample)(nil).Validate())
	assert.NoError(t, (&Sample{Columns: []string{"a"}}).Validate())
}

func TestToFloat(t *testing.T) {
	tests := []struct {
		in     any
		want   float64
		wantOK bool
	}{
		{1.5, 1.5, true},
		{3, 3, true},
		{json.Number("2.25"), 2.25, true},
		{" 4 ", 4, true},
		{"12%", 0, false},
		{nil, 0, false},
	}
	for _, tt := range tests {
		got, ok := ToFloat(tt.in)
		assert.Equal(t, tt.wantOK, ok, "ToFloat(%v)", tt.in)
		if tt.wantOK {
			assert.Equal(t, tt.want, got)
		}
	}
}

func TestResidualStats_Thresholds(t *testing.T) {
	tests := []struct {
		name               string
		stats              ResidualStats
		normal, loc, scale bool
	}{
		{"all pass", ResidualStats{PValue: 0.3, Location: 0.2, Scale: 1.1}, true, true, true},
		{"boundaries pass", ResidualStats{PValue: 0.05, Location: -1, Scale: 1.5}, true, true, true},
		{"all fail", ResidualStats{PValue: 0.01, Location: 1.2, Scale: 0.4}, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.normal, tt.stats.NormalityOK())
			assert.Equal(t, tt.loc, tt.stats.LocationOK())
			assert.Equal(t, tt.scale, tt.stats.ScaleOK())
		})
	}
}

func TestSampleConfig_Validate(t *testing.T) {
	cfg := DefaultSampleConfig()
	cfg.SampleSize = 50
	cfg.MeasAreaX, cfg.MeasAreaY = 120, 80
	assert.NoError(t, cfg.Validate())

	cfg.FRangeMax = 100
	assert.Error(t, cfg.Validate(), "max below min")

	cfg = DefaultSampleConfig()
	cfg.SampleSize = -1
	assert.Error(t, cfg.Validate())
}

func TestModelMetadata_Validate(t *testing.T) {
	md := ModelMetadata{
		SystemName:      "cSAR3D",
		PhantomType:     "flat",
		HardwareVersion: "1.0",
		SoftwareVersion: "2.1",
	}
	assert.NoError(t, md.Validate())

	md.SystemName = ""
	assert.Error(t, md.Validate())
}
