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
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/AleutianAI/iec62209/services/sar/sarerr"
)

// Typesetter turns a Document into PDF bytes.
type Typesetter interface {
	Typeset(ctx context.Context, doc *Document) ([]byte, error)
}

const (
	// DefaultMaxRuns caps the number of pdflatex passes.
	DefaultMaxRuns = 5

	// DefaultTypesetTimeout bounds a whole typesetting job.
	DefaultTypesetTimeout = 2 * time.Minute

	rerunMarker = "Rerun"
)

// PDFLaTeX typesets documents by running pdflatex in a scratch directory.
//
// # Description
//
// Each job writes main.tex and the figures into a fresh temporary
// directory, runs the binary in non-interactive mode, and repeats while
// the output asks for a rerun (cross references, longtable widths). The
// directory is removed when the job ends, whatever the outcome.
//
// # Thread Safety
//
// Safe for concurrent use. Jobs share no files.
type PDFLaTeX struct {
	// Binary defaults to "pdflatex" on PATH.
	Binary string

	// MaxRuns defaults to DefaultMaxRuns.
	MaxRuns int

	// Timeout defaults to DefaultTypesetTimeout.
	Timeout time.Duration

	// TempDir is the parent of scratch directories. Empty means os.TempDir().
	TempDir string

	Logger *slog.Logger

	// Observe, when set, receives the number of passes and the outcome of
	// every job.
	Observe func(runs int, elapsed time.Duration, err error)
}

// Typeset implements Typesetter.
//
// # Outputs
//
//   - []byte: the contents of main.pdf.
//   - error: IoError when the binary cannot be started, the job times out,
//     the rerun cap is reached, or no PDF was produced.
func (p *PDFLaTeX) Typeset(ctx context.Context, doc *Document) (pdf []byte, err error) {
	const op = "report.Typeset"
	start := time.Now()
	runs := 0
	defer func() {
		if p.Observe != nil {
			p.Observe(runs, time.Since(start), err)
		}
	}()

	if doc == nil || len(doc.Main) == 0 {
		return nil, sarerr.New(sarerr.ErrIO, op, "empty report document")
	}

	dir, err := os.MkdirTemp(p.TempDir, "iec62209-report-")
	if err != nil {
		return nil, sarerr.Wrap(sarerr.ErrIO, op, "failed to create scratch directory", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			p.logger().Warn("failed to remove scratch directory", "dir", dir, "error", rmErr)
		}
	}()

	if err := writeDocument(dir, doc); err != nil {
		return nil, sarerr.Wrap(sarerr.ErrIO, op, "failed to write report sources", err)
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTypesetTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	maxRuns := p.MaxRuns
	if maxRuns <= 0 {
		maxRuns = DefaultMaxRuns
	}

	for {
		runs++
		out, runErr := p.run(ctx, dir)
		if ctx.Err() != nil {
			return nil, sarerr.Wrap(sarerr.ErrIO, op, "typesetting timed out", ctx.Err())
		}
		if runErr != nil {
			var exitErr *exec.ExitError
			if !errors.As(runErr, &exitErr) {
				return nil, sarerr.Wrap(sarerr.ErrIO, op, "failed to run typesetter", runErr)
			}
			// pdflatex exits non-zero on recoverable warnings; the PDF check
			// below decides.
			p.logger().Debug("typesetter exited with status", "code", exitErr.ExitCode(), "run", runs)
		}
		if !strings.Contains(out, rerunMarker) {
			break
		}
		if runs >= maxRuns {
			return nil, sarerr.New(sarerr.ErrIO, op,
				fmt.Sprintf("typesetting did not converge after %d runs", runs))
		}
	}

	pdf, err = os.ReadFile(filepath.Join(dir, strings.TrimSuffix(MainFile, ".tex")+".pdf"))
	if err != nil {
		return nil, sarerr.Wrap(sarerr.ErrIO, op, "typesetter produced no PDF", err)
	}
	p.logger().Info("report typeset", "stage", doc.Stage.String(), "runs", runs, "bytes", len(pdf))
	return pdf, nil
}

func (p *PDFLaTeX) run(ctx context.Context, dir string) (string, error) {
	bin := p.Binary
	if bin == "" {
		bin = "pdflatex"
	}
	cmd := exec.CommandContext(ctx, bin, "-interaction=nonstopmode", MainFile)
	cmd.Dir = dir
	cmd.WaitDelay = time.Second
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.String(), err
}

func (p *PDFLaTeX) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func writeDocument(dir string, doc *Document) error {
	if err := os.WriteFile(filepath.Join(dir, MainFile), doc.Main, 0o600); err != nil {
		return err
	}
	for name, data := range doc.Files {
		if name != filepath.Base(name) {
			return fmt.Errorf("invalid report file name %q", name)
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o600); err != nil {
			return err
		}
	}
	return nil
}
