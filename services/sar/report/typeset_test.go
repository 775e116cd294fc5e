// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/iec62209/services/sar/sarerr"
)

// stubLaTeX writes a shell script that behaves like pdflatex: it counts its
// invocations in the working directory and asks for a rerun until the
// count reaches converge.
func stubLaTeX(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub typesetter is a shell script")
	}
	path := filepath.Join(t.TempDir(), "pdflatex")
	script := "#!/bin/sh\n" +
		"test -f main.tex || exit 3\n" +
		"n=$(cat runs 2>/dev/null || echo 0)\n" +
		"n=$((n+1))\n" +
		"echo $n > runs\n" +
		body
	require.NoError(t, os.WriteFile(path, []byte(script), 0o700))
	return path
}

func testDocument() *Document {
	return &Document{
		Stage: StageCreation,
		Main:  []byte(`\documentclass{article}\begin{document}x\end{document}`),
		Files: map[string][]byte{"variogram.png": {0x89, 'P', 'N', 'G'}},
	}
}

func TestPDFLaTeX_RerunsUntilConverged(t *testing.T) {
	bin := stubLaTeX(t, `
test -f variogram.png || exit 4
if [ "$n" -lt 3 ]; then echo "LaTeX Warning: Label(s) may have changed. Rerun to get cross-references right."; fi
printf '%%PDF-1.4 run %s' "$n" > main.pdf
`)
	scratch := t.TempDir()
	var runs int
	p := &PDFLaTeX{Binary: bin, TempDir: scratch, Observe: func(n int, _ time.Duration, _ error) { runs = n }}

	pdf, err := p.Typeset(context.Background(), testDocument())
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 run 3", string(pdf))
	assert.Equal(t, 3, runs)

	entries, err := os.ReadDir(scratch)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch directory must be removed")
}

func TestPDFLaTeX_NonZeroExitWithPDF(t *testing.T) {
	bin := stubLaTeX(t, `
printf '%%PDF-1.4' > main.pdf
exit 1
`)
	pdf, err := (&PDFLaTeX{Binary: bin}).Typeset(context.Background(), testDocument())
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(pdf))
}

func TestPDFLaTeX_Failures(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		maxRuns int
		timeout time.Duration
	}{
		{"rerun cap", "echo Rerun\nprintf x > main.pdf\n", 2, 0},
		{"no pdf", "exit 1\n", 0, 0},
		{"timeout", "exec sleep 5\n", 0, 200 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scratch := t.TempDir()
			var observed error
			p := &PDFLaTeX{
				Binary:  stubLaTeX(t, tt.body),
				MaxRuns: tt.maxRuns,
				Timeout: tt.timeout,
				TempDir: scratch,
				Observe: func(_ int, _ time.Duration, err error) { observed = err },
			}

			_, err := p.Typeset(context.Background(), testDocument())
			require.Error(t, err)
			assert.ErrorIs(t, err, sarerr.ErrIO)
			assert.Equal(t, err, observed)

			entries, rerr := os.ReadDir(scratch)
			require.NoError(t, rerr)
			assert.Empty(t, entries)
		})
	}
}

func TestPDFLaTeX_MissingBinary(t *testing.T) {
	p := &PDFLaTeX{Binary: filepath.Join(t.TempDir(), "does-not-exist")}
	_, err := p.Typeset(context.Background(), testDocument())
	require.Error(t, err)
	assert.ErrorIs(t, err, sarerr.ErrIO)
}

func TestPDFLaTeX_EmptyDocument(t *testing.T) {
	_, err := (&PDFLaTeX{}).Typeset(context.Background(), &Document{})
	assert.ErrorIs(t, err, sarerr.ErrIO)
}

func TestPDFLaTeX_RejectsNestedFileNames(t *testing.T) {
	doc := testDocument()
	doc.Files = map[string][]byte{"../evil.png": nil}
	_, err := (&PDFLaTeX{Binary: "true"}).Typeset(context.Background(), doc)
	assert.ErrorIs(t, err, sarerr.ErrIO)
}
