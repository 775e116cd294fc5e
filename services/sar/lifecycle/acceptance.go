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
	"errors"
	"fmt"
	"math"

	"github.com/AleutianAI/iec62209/services/sar/dataset"
	"github.com/AleutianAI/iec62209/services/sar/engine"
	"github.com/AleutianAI/iec62209/services/sar/sarerr"
)

// Keys of the presentation maps.
const (
	KeyAcceptance = "Acceptance criteria"
	KeyNRMSE      = "Normalized RMS error"
	KeyNormality  = "Normality"
	KeyQQLocation = "QQ location"
	KeyQQScale    = "QQ scale"
)

var errMissingColumns = errors.New("missing deviation columns")

// PassFail renders a verdict.
func PassFail(ok bool) string {
	if ok {
		return "Pass"
	}
	return "Fail"
}

// AcceptanceCriteria reports whether |sard10g| <= mpe10g holds for every
// row of ds. It is vacuously true for an empty or absent set.
//
// # Outputs
//
//   - error: ParseError when ds has rows but lacks either column or holds a
//     non-numeric value in one.
func AcceptanceCriteria(ds *dataset.DataSet) (bool, error) {
	const op = "lifecycle.AcceptanceCriteria"
	if ds == nil || ds.Len() == 0 {
		return true, nil
	}
	sard, okS := ds.Column(engine.ColumnDeviation)
	mpe, okM := ds.Column(engine.ColumnMPE)
	if !okS || !okM {
		return false, sarerr.Wrap(sarerr.ErrParse, op,
			fmt.Sprintf("sample must contain '%s' and '%s'", engine.ColumnDeviation, engine.ColumnMPE), errMissingColumns)
	}
	for i := range sard {
		d, ok1 := engine.ToFloat(sard[i])
		m, ok2 := engine.ToFloat(mpe[i])
		if !ok1 || !ok2 {
			return false, sarerr.New(sarerr.ErrParse, op, fmt.Sprintf("row %d has a non-numeric deviation", i+1))
		}
		if math.Abs(d) > m {
			return false, nil
		}
	}
	return true, nil
}

// =============================================================================
// GoodFit
// =============================================================================

// GoodFit is the stored outcome of GoodfitTest.
type GoodFit struct {
	// Accept is the data acceptance of the training set.
	Accept bool `json:"accept"`

	// NRMSE is the normalized RMS error of the variogram fit.
	NRMSE float64 `json:"nrmse"`
}

// Pass reports NRMSE below the 25% threshold. It is the only fit-quality
// verdict; the JSON summary and the report both read it.
func (g GoodFit) Pass() bool { return g.NRMSE < engine.NRMSEPassCutoff }

// NRMSEText renders the error as a percentage against the threshold,
// e.g. "12.3 < 25%".
func (g GoodFit) NRMSEText() string {
	cmp := "> 25%"
	if g.Pass() {
		cmp = "< 25%"
	}
	return fmt.Sprintf("%.1f %s", g.NRMSE*100, cmp)
}

// Summary is the JSON presentation of g.
func (g GoodFit) Summary() map[string]string {
	return map[string]string{
		KeyAcceptance: PassFail(g.Accept),
		KeyNRMSE:      g.NRMSEText(),
	}
}

// ConfirmSummary is the JSON presentation of a confirmation.
func ConfirmSummary(accept bool, stats engine.ResidualStats) map[string]string {
	return map[string]string{
		KeyAcceptance: PassFail(accept),
		KeyNormality:  PassFail(stats.NormalityOK()),
		KeyQQLocation: PassFail(stats.LocationOK()),
		KeyQQScale:    PassFail(stats.ScaleOK()),
	}
}
