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
	"fmt"
	"math"
	"strings"

	"github.com/AleutianAI/iec62209/services/sar/dataset"
	"github.com/AleutianAI/iec62209/services/sar/engine"
	"github.com/AleutianAI/iec62209/services/sar/lifecycle"
	"github.com/AleutianAI/iec62209/services/sar/sarerr"
)

// =============================================================================
// Stage
// =============================================================================

// Stage selects which report is produced.
type Stage int

const (
	StageCreation Stage = iota
	StageConfirmation
	StageVerification
)

// String returns the stage name used in file names.
func (s Stage) String() string {
	switch s {
	case StageCreation:
		return "creation"
	case StageConfirmation:
		return "confirmation"
	case StageVerification:
		return "verification"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Title is the report heading.
func (s Stage) Title() string {
	switch s {
	case StageCreation:
		return "GPI Model Creation Report"
	case StageConfirmation:
		return "GPI Model Confirmation Report"
	default:
		return "Critical Data Space Search Report"
	}
}

// =============================================================================
// LaTeX helpers
// =============================================================================

var latexEscaper = strings.NewReplacer(
	`\`, `\textbackslash{}`,
	`&`, `\&`,
	`%`, `\%`,
	`$`, `\$`,
	`#`, `\#`,
	`_`, `\_`,
	`{`, `\{`,
	`}`, `\}`,
	`~`, `\textasciitilde{}`,
	`^`, `\textasciicircum{}`,
)

// Escape quotes LaTeX special characters in user-supplied text.
func Escape(s string) string { return latexEscaper.Replace(s) }

func table(colspec string, rows []string, caption, label string) string {
	var b strings.Builder
	b.WriteString(`\begin{table}[ht]\centering` + "\n")
	b.WriteString(`\begin{tabular}{` + colspec + `}\hline` + "\n")
	for _, r := range rows {
		b.WriteString(r + "\n")
	}
	b.WriteString(`\end{tabular}` + "\n")
	b.WriteString(`\caption{` + caption + `}` + "\n")
	b.WriteString(`\label{` + label + `}` + "\n")
	b.WriteString(`\end{table}`)
	return b.String()
}

const resultHeader = `\textbf{Test} & \textbf{Success Criterion} & \textbf{Outcome} & \textbf{Pass / Fail} \\\hline`

const acceptanceCriterion = `$\Delta SAR \in [-U, +O]$`

// =============================================================================
// Summary lines and tables
// =============================================================================

// OneLineSummary is the bold verdict sentence at the top of a report.
func OneLineSummary(success bool, stage Stage) string {
	var b strings.Builder
	b.WriteString(`\textbf{\textit{The SAR measurement system described in Table~\ref{tab:system} `)
	if success {
		b.WriteString("successfully completed")
	} else {
		b.WriteString("failed to complete")
	}
	switch stage {
	case StageCreation:
		b.WriteString(` the GPI model creation step.}}`)
	case StageConfirmation:
		b.WriteString(` the GPI model confirmation step.}}`)
	default:
		b.WriteString(` the critical data space search.`)
		if success {
			b.WriteString(` In combination with the model confirmation step, the system can therefore be considered successfully validated.`)
		}
		b.WriteString(`}}`)
	}
	return b.String()
}

// MetadataTable lists the measurement system.
func MetadataTable(md engine.ModelMetadata) string {
	row := func(k, v string) string { return k + ` & {` + Escape(v) + `} \\\hline` }
	return table(`|l|c|`, []string{
		row("Measurement system name", md.SystemName),
		row("Manufacturer", md.Manufacturer),
		row("Phantom type", md.PhantomType),
		row("Hardware version", md.HardwareVersion),
		row("Software version", md.SoftwareVersion),
	}, `Measurement system analyzed in this report.`, `tab:system`)
}

func nrmseRow(gf lifecycle.GoodFit) string {
	return fmt.Sprintf(`Model fitting & $nrmse < $ 25~\%%  & %.1f~\%%   & \textbf{%s} \\\hline`,
		gf.NRMSE*100, lifecycle.PassFail(gf.Pass()))
}

// CreationSummaryTable summarizes data acceptance and fit quality.
func CreationSummaryTable(gf lifecycle.GoodFit) string {
	return table(`|l|c|c|c|`, []string{
		resultHeader,
		`Acceptance of data & ` + acceptanceCriterion + ` & See Table~\ref{tab:acceptance}& \textbf{` +
			lifecycle.PassFail(gf.Accept) + `} \\\hline`,
		nrmseRow(gf),
	}, `Summary of the GPI Model creation outcomes for the measurement system described in Table~\ref{tab:system}.`,
		`tab:summary`)
}

func similarityRows(st engine.ResidualStats) string {
	return fmt.Sprintf(`Similarity & location $\in$ [-1, 1] & %.3f & \textbf{%s} \\\cline{2-4} & scale $\in$ [0.5, 1.5] & %.3f & \textbf{%s} \\\hline`,
		st.Location, lifecycle.PassFail(st.LocationOK()), st.Scale, lifecycle.PassFail(st.ScaleOK()))
}

// ConfirmationSummaryTable summarizes the confirmation tests.
func ConfirmationSummaryTable(accepted bool, st engine.ResidualStats) string {
	return table(`|l|c|c|c|`, []string{
		resultHeader,
		`Acceptance of data & ` + acceptanceCriterion + ` & See Table~\ref{tab:test}& \textbf{` +
			lifecycle.PassFail(accepted) + `} \\\hline`,
		fmt.Sprintf(`Normality & $p \ge$ 0.05 & %.3f& \textbf{%s} \\\hline`, st.PValue, lifecycle.PassFail(st.NormalityOK())),
		similarityRows(st),
	}, `Summary of the GPI Model confirmation outcomes for the measurement system described in Table~\ref{tab:system}.`,
		`tab:summary`)
}

// VerificationSummaryTable summarizes the critical data space search.
func VerificationSummaryTable(accepted bool) string {
	return table(`|l|c|c|c|`, []string{
		`\textbf{Test} & \textbf{Success Criterion} & \textbf{Outcomes} & \textbf{Pass / Fail} \\\hline`,
		`Acceptance of data & ` + acceptanceCriterion + ` & See Section~\ref{subsec:acceptance_criteria} & \textbf{` +
			lifecycle.PassFail(accepted) + `} \\\hline`,
	}, `Summary of the critical data space search outcomes for the measurement system described in Table~\ref{tab:system}.`,
		`tab:summary`)
}

// SampleParametersTable lists the parameter space covered. The training
// size row is omitted at verification.
func SampleParametersTable(cfg engine.SampleConfig, md engine.ModelMetadata, stage Stage) string {
	areaX, areaY := md.ModelAreaX, md.ModelAreaY
	if areaX == "" {
		areaX = fmt.Sprint(cfg.MeasAreaX)
	}
	if areaY == "" {
		areaY = fmt.Sprint(cfg.MeasAreaY)
	}
	rows := []string{
		`\textbf{Parameter} & \textbf{Value} \\\hline`,
		`Measurement area: $x$,$y$ (mm) & ` + Escape(areaX) + `, ` + Escape(areaY) + ` \\\hline`,
		fmt.Sprintf(`Frequency range (MHz) & %d -- %d\\\hline`, cfg.FRangeMin, cfg.FRangeMax),
	}
	if stage != StageVerification {
		rows = append(rows, fmt.Sprintf(`Size of training data & %d \\\hline`, cfg.SampleSize))
	}

	var scope string
	switch stage {
	case StageCreation:
		scope = "relevant"
	case StageConfirmation:
		scope = "confirmed"
	default:
		scope = "critically examined"
	}
	return table(`|l|c|`, rows,
		`Range of the exposure parameter space covered by the test configurations. The GPI model can therefore be considered to be `+
			scope+` within this range.`, `tab:params`)
}

// CriticalOutcomeTable reports the number of critical cases found.
func CriticalOutcomeTable(cases int) string {
	return table(`|l|c|`, []string{
		`\textbf{Parameter} & \textbf{Value} \\\hline`,
		`Minimum failure risk & 5\% \\\hline`,
		fmt.Sprintf(`Number of critical cases & %d\\\hline`, cases),
	}, `Outcome of the critical data space search.`, `tab:outcome_critical`)
}

// SampleAcceptanceTable reports the acceptance criterion.
func SampleAcceptanceTable(accepted bool) string {
	return table(`|l|c|c|c|`, []string{
		resultHeader,
		`Acceptance of data & ` + acceptanceCriterion + ` & See Table~\ref{tab:test}& ` +
			lifecycle.PassFail(accepted) + ` \\\hline`,
	}, `Result for the acceptance criterion.`, `tab:acceptance`)
}

// ModelFittingTable reports the variogram fit quality.
func ModelFittingTable(gf lifecycle.GoodFit) string {
	return table(`|l|c|c|c|`, []string{resultHeader, nrmseRow(gf)},
		`Quantification (normalized mean squared error) of the semi-variogram fitting quality, which affects the GPI model quality.`,
		`tab:nrmse`)
}

// NormalityTable reports the normality test as a percentage.
func NormalityTable(st engine.ResidualStats) string {
	return table(`|l|c|c|c|`, []string{
		`\textbf{Test} & \textbf{Specification} & \textbf{Value} & \textbf{Pass / Fail} \\\hline`,
		fmt.Sprintf(`Normality & $p \ge$ 5\,\%% & %.1f\,\%% & \textbf{%s} \\\hline`,
			st.PValue*100, lifecycle.PassFail(st.NormalityOK())),
	}, `Summary results of the \textit{GPI Model Confirmation} step for the measurement system described in Table~\ref{tab:system}.`,
		`tab:normality`)
}

// SimilarityTable reports the QQ location and scale.
func SimilarityTable(st engine.ResidualStats) string {
	return table(`|l|c|c|c|`, []string{resultHeader, similarityRows(st)},
		`Summary of the GPI model confirmation results for the measurement system described in Table~\ref{tab:system}.`,
		`tab:qq`)
}

// =============================================================================
// Sample table
// =============================================================================

// sampleColumns are the columns of the long sample table, in order.
var sampleColumns = []string{
	"antenna", "power", "modulation", "par", "bandwidth", "distance", "angle",
	"x", "y", engine.ColumnSAR, engine.ColumnUncert, engine.ColumnDeviation, engine.ColumnMPE,
}

const sampleTableHead = `&	$P_f$	&		&	PAPR	&	BW	&	$s$	&	$\theta$	&	$x$	&	$y$	&	$SAR$	&	$u_{s}$	&	$\Delta SAR$	&	$mpe$	&	Pass \\`

func sampleCaption(stage Stage) string {
	switch stage {
	case StageCreation:
		return "Training Data Set for 10-gram average SAR"
	case StageConfirmation:
		return "Test configurations and measurement outcomes for 10-gram average SAR"
	default:
		return "Critical Configurations and Measurement Outcomes for 10-gram average SAR"
	}
}

// SampleTable renders every row of ds as a longtable with a Y/N mark for
// the acceptance criterion.
//
// # Outputs
//
//   - error: ParseError "Dataset must contain '<col>'" for a missing
//     column or non-numeric value.
func SampleTable(ds *dataset.DataSet, stage Stage) (string, error) {
	const op = "report.SampleTable"
	tbl := ds.Table()
	idx := make([]int, len(sampleColumns))
	for i, col := range sampleColumns {
		idx[i] = -1
		for j, h := range tbl.Headings {
			if h == col {
				idx[i] = j
				break
			}
		}
		if idx[i] < 0 {
			return "", sarerr.New(sarerr.ErrParse, op, fmt.Sprintf("Dataset must contain '%s'", col))
		}
	}

	caption := sampleCaption(stage)
	lines := []string{
		`\begin{center}`,
		`\begin{longtable}{|l|c|c|c|c|c|c|c|c|c|c|c|c|c|}`,
		`\caption{` + caption + `.} \label{tab:test} \\\hline`,
		sampleTableHead,
		`ant.	&	(dB)	&	Mod	&	(dB)	&	(MHz)	&	(mm)	&	(°)	&	(mm)	&	(mm)	&	(W/kg)	&	(\%)	&	(dB)	&	(dB)	&	?	\\\hline`,
		`\endfirsthead`,
		`\multicolumn{14}{c}`,
		`{{\tablename\ \thetable{} ` + caption + ` -- continued from previous page}} \\\hline`,
		sampleTableHead,
		`antenna	&	(dB)	&	Mod	&	(dB)	&	(MHz)	&	(mm)	&	(°)	&	(mm)	&	(mm)	&	(W/kg)	&	(\%)	&	(dB)	&	(dB)	&	?	\\\hline`,
		`\endhead`,
		`\hline \multicolumn{14}{|r|}{{Continued on next page}} \\ \hline`,
		`\endfoot`,
		`\hline`,
		`\endlastfoot`,
	}

	for n, row := range tbl.Rows {
		num := make([]float64, len(idx))
		for i, j := range idx {
			if i < 3 {
				// antenna, power and modulation are printed as is
				continue
			}
			v, ok := engine.ToFloat(row[j])
			if !ok {
				return "", sarerr.New(sarerr.ErrParse, op,
					fmt.Sprintf("row %d: '%s' is not a number", n+1, sampleColumns[i]))
			}
			num[i] = v
		}
		mark := "Y"
		if math.Abs(num[11]) > num[12] {
			mark = "N"
		}
		lines = append(lines, fmt.Sprintf(
			`{%s} & %s & %s & %.2f & %.1f & %.0f & %.0f & %.0f & %.0f & %.3f & %.0f & %.1f & %.1f & %s \\\hline`,
			Escape(dataset.FormatCell(row[idx[0]])),
			Escape(dataset.FormatCell(row[idx[1]])),
			Escape(dataset.FormatCell(row[idx[2]])),
			num[3], num[4], num[5], num[6], num[7], num[8], num[9], 100*num[10], num[11], num[12], mark))
	}

	lines = append(lines, `\end{longtable}`, `\end{center}`)
	return strings.Join(lines, "\n"), nil
}
