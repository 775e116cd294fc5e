// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Icon.Render Tests
// =============================================================================

func TestIcon_Render(t *testing.T) {
	for _, icon := range []Icon{IconSuccess, IconWarning, IconError} {
		assert.Contains(t, icon.Render(), string(icon))
	}
	assert.Equal(t, "•", IconBullet.Render())
}

// =============================================================================
// Printer Tests
// =============================================================================

func TestPrinter_Plain(t *testing.T) {
	tests := []struct {
		name  string
		print func(p *Printer)
		want  string
	}{
		{"success", func(p *Printer) { p.Success("model accepted") }, "OK: model accepted\n"},
		{"warning", func(p *Printer) { p.Warning("no archive") }, "WARN: no archive\n"},
		{"error", func(p *Printer) { p.Error("engine down") }, "ERROR: engine down\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.print(NewPlainPrinter(&buf))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestPrinter_BoxPlain(t *testing.T) {
	var buf bytes.Buffer
	p := NewPlainPrinter(&buf)
	p.Box("iec62209", []Field{
		{Label: "Listening", Value: ":8080"},
		{Label: "Engine", Value: "http://localhost:8000"},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "iec62209", lines[0])
	assert.Equal(t, "Listening: :8080", lines[1])
	assert.Equal(t, "Engine: http://localhost:8000", lines[2])
}

func TestPrinter_BoxStyled(t *testing.T) {
	var buf bytes.Buffer
	p := &Printer{w: &buf}
	p.Box("iec62209", []Field{{Label: "Engine", Value: "http://localhost:8000"}})

	out := buf.String()
	assert.Contains(t, out, "iec62209")
	assert.Contains(t, out, "http://localhost:8000")
	assert.Contains(t, out, "╭")
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, IsTerminal(nil))

	f, err := os.CreateTemp(t.TempDir(), "out")
	require.NoError(t, err)
	defer f.Close()
	assert.False(t, IsTerminal(f))
	assert.True(t, NewPrinter(f).Plain())
}
