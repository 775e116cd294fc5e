// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package report renders the compliance reports of the three validation
// stages as LaTeX and typesets them to PDF.
//
// # Description
//
// The Assembler turns a lifecycle.Snapshot into a Document (main.tex plus
// figure files). A Typesetter turns the Document into PDF bytes, and a Sink
// optionally archives the result.
package report

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
	"time"

	"github.com/AleutianAI/iec62209/services/sar/engine"
	"github.com/AleutianAI/iec62209/services/sar/lifecycle"
	"github.com/AleutianAI/iec62209/services/sar/sarerr"
)

// MainFile is the name of the generated LaTeX source.
const MainFile = "main.tex"

// Document is a report ready to be typeset.
type Document struct {
	Stage Stage

	// Main is the LaTeX source of MainFile.
	Main []byte

	// Files are auxiliary files (figures) keyed by base name.
	Files map[string][]byte
}

const mainTemplate = `\documentclass[a4paper,11pt]{article}
\usepackage[T1]{fontenc}
\usepackage[utf8]{inputenc}
\usepackage{geometry}
\usepackage{graphicx}
\usepackage{longtable}
\usepackage{float}
\geometry{margin=2cm}
\title{<<.Title>>}
\date{<<.Date>>}
\begin{document}
\maketitle

<<.Summary>>

<<range .Sections>>\section{<<.Title>>}<<if .Label>>\label{<<.Label>>}<<end>>
<<range .Body>><<.>>

<<end>><<end>>\end{document}
`

var mainTmpl = template.Must(template.New(MainFile).Delims("<<", ">>").Parse(mainTemplate))

type page struct {
	Title    string
	Date     string
	Summary  string
	Sections []section
}

type section struct {
	Title string
	Label string
	Body  []string
}

// =============================================================================
// Assembler
// =============================================================================

// Assembler builds report documents.
type Assembler struct {
	// Engine renders figures. Reports carry no figures when nil.
	Engine engine.Engine

	// Typesetter is used by Render.
	Typesetter Typesetter

	// Now defaults to time.Now.
	Now func() time.Time
}

// Render builds the document for stage and typesets it.
func (a *Assembler) Render(ctx context.Context, stage Stage, snap lifecycle.Snapshot) ([]byte, error) {
	if a.Typesetter == nil {
		return nil, sarerr.New(sarerr.ErrIO, "report.Render", "no typesetter configured")
	}
	doc, err := a.Build(ctx, stage, snap)
	if err != nil {
		return nil, err
	}
	return a.Typesetter.Typeset(ctx, doc)
}

// Build renders main.tex and the figures for stage.
//
// # Outputs
//
//   - error: PreconditionError when the snapshot lacks what the stage
//     reports on; ParseError when a sample table cannot be rendered;
//     IoError when a figure cannot be rendered.
func (a *Assembler) Build(ctx context.Context, stage Stage, snap lifecycle.Snapshot) (*Document, error) {
	const op = "report.Build"
	if !snap.HasModel {
		return nil, sarerr.Precondition(op, lifecycle.MsgNoModel)
	}
	md := engine.ModelMetadata{}
	if snap.Metadata != nil {
		md = *snap.Metadata
	}

	doc := &Document{Stage: stage, Files: map[string][]byte{}}
	p := page{Title: stage.Title(), Date: a.now().Format("2 January 2006")}
	system := section{Title: "Measurement system", Body: []string{MetadataTable(md)}}
	params := SampleParametersTable(snap.Training.Config(), md, stage)

	var err error
	switch stage {
	case StageCreation:
		err = a.creation(ctx, doc, &p, snap, system, params)
	case StageConfirmation:
		err = a.confirmation(ctx, doc, &p, snap, system, params)
	case StageVerification:
		err = a.verification(ctx, doc, &p, snap, system, params)
	default:
		err = sarerr.New(sarerr.ErrParse, op, fmt.Sprintf("unknown report stage %d", int(stage)))
	}
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := mainTmpl.Execute(&buf, p); err != nil {
		return nil, sarerr.Wrap(sarerr.ErrIO, op, "could not render report source", err)
	}
	doc.Main = buf.Bytes()
	return doc, nil
}

func (a *Assembler) creation(ctx context.Context, doc *Document, p *page, snap lifecycle.Snapshot, system section, params string) error {
	const op = "report.Build"
	if snap.GoodFit == nil {
		return sarerr.Precondition(op, "Goodness of fit has not been computed")
	}
	gf := *snap.GoodFit
	samples, err := SampleTable(snap.Training, StageCreation)
	if err != nil {
		return err
	}

	fitting := section{Title: "Model fitting", Body: []string{ModelFittingTable(gf)}}
	if fig, err := a.figure(ctx, doc, engine.PlotVariogram, engine.PlotInput{Model: snap.Model},
		"Empirical and fitted semi-variogram of the training data."); err != nil {
		return err
	} else if fig != "" {
		fitting.Body = append(fitting.Body, fig)
	}

	p.Summary = OneLineSummary(gf.Accept && gf.Pass(), StageCreation)
	p.Sections = []section{
		system,
		{Title: "Summary", Body: []string{CreationSummaryTable(gf), params}},
		{Title: "Acceptance criteria", Label: "subsec:acceptance_criteria", Body: []string{SampleAcceptanceTable(gf.Accept)}},
		fitting,
		{Title: "Training data", Body: []string{samples}},
	}
	return nil
}

func (a *Assembler) confirmation(ctx context.Context, doc *Document, p *page, snap lifecycle.Snapshot, system section, params string) error {
	const op = "report.Build"
	if snap.Stats == nil {
		return sarerr.Precondition(op, lifecycle.MsgNoResiduals)
	}
	st := *snap.Stats
	accept, err := lifecycle.AcceptanceCriteria(snap.Test)
	if err != nil {
		return err
	}
	samples, err := SampleTable(snap.Test, StageConfirmation)
	if err != nil {
		return err
	}

	similarity := section{Title: "Similarity", Body: []string{SimilarityTable(st)}}
	res := snap.Residuals
	if fig, err := a.figure(ctx, doc, engine.PlotResiduals, engine.PlotInput{Residuals: &res},
		"QQ plot of the normalized residuals."); err != nil {
		return err
	} else if fig != "" {
		similarity.Body = append(similarity.Body, fig)
	}
	testData := section{Title: "Test data", Body: []string{samples}}
	if fig, err := a.figure(ctx, doc, engine.PlotDeviations, engine.PlotInput{Sample: snap.Test.Sample()},
		"Deviations of the test configurations."); err != nil {
		return err
	} else if fig != "" {
		testData.Body = append(testData.Body, fig)
	}

	success := accept && st.NormalityOK() && st.LocationOK() && st.ScaleOK()
	p.Summary = OneLineSummary(success, StageConfirmation)
	p.Sections = []section{
		system,
		{Title: "Summary", Body: []string{ConfirmationSummaryTable(accept, st), params}},
		{Title: "Acceptance criteria", Label: "subsec:acceptance_criteria", Body: []string{SampleAcceptanceTable(accept)}},
		{Title: "Normality", Body: []string{NormalityTable(st)}},
		similarity,
		testData,
	}
	return nil
}

func (a *Assembler) verification(ctx context.Context, doc *Document, p *page, snap lifecycle.Snapshot, system section, params string) error {
	const op = "report.Build"
	if snap.Critical == nil || !snap.Critical.IsPresent() {
		return sarerr.NotLoaded(op, "Critical sample not loaded")
	}
	accept, err := lifecycle.AcceptanceCriteria(snap.Critical)
	if err != nil {
		return err
	}
	samples, err := SampleTable(snap.Critical, StageVerification)
	if err != nil {
		return err
	}

	critical := section{Title: "Critical data", Body: []string{samples}}
	if snap.Critical.Len() > 0 {
		if fig, err := a.figure(ctx, doc, engine.PlotDeviations, engine.PlotInput{Sample: snap.Critical.Sample()},
			"Deviations of the critical configurations."); err != nil {
			return err
		} else if fig != "" {
			critical.Body = append(critical.Body, fig)
		}
	}

	p.Summary = OneLineSummary(accept, StageVerification)
	p.Sections = []section{
		system,
		{Title: "Summary", Body: []string{VerificationSummaryTable(accept), params, CriticalOutcomeTable(snap.Critical.Len())}},
		{Title: "Acceptance criteria", Label: "subsec:acceptance_criteria", Body: []string{SampleAcceptanceTable(accept)}},
		critical,
	}
	return nil
}

// figure renders a plot into doc.Files and returns the LaTeX that includes
// it, or "" when no engine is configured.
func (a *Assembler) figure(ctx context.Context, doc *Document, kind engine.PlotKind, in engine.PlotInput, caption string) (string, error) {
	if a.Engine == nil {
		return "", nil
	}
	png, err := a.Engine.Plot(ctx, kind, in)
	if err != nil {
		return "", sarerr.Wrap(sarerr.ErrIO, "report.figure", fmt.Sprintf("failed to render %s plot", kind), err)
	}
	name := string(kind) + ".png"
	doc.Files[name] = png
	return `\begin{figure}[H]\centering` + "\n" +
		`\includegraphics[width=0.8\textwidth]{` + name + `}` + "\n" +
		`\caption{` + caption + `}` + "\n" +
		`\end{figure}`, nil
}

func (a *Assembler) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// filename returns the archive name of a rendered report.
func filename(stage Stage, t time.Time) string {
	return fmt.Sprintf("%s-report-%s.pdf", stage, t.UTC().Format("20060102T150405Z"))
}
