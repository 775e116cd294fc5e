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
	"github.com/AleutianAI/iec62209/services/sar/dataset"
	"github.com/AleutianAI/iec62209/services/sar/engine"
)

// Snapshot is a point-in-time copy of the session. It shares nothing with
// the Lifecycle and may be used without locking.
type Snapshot struct {
	Generation uint64

	Training *dataset.DataSet
	Test     *dataset.DataSet
	Critical *dataset.DataSet

	HasModel bool
	Model    *engine.Model

	// Metadata is nil until set or exported.
	Metadata *engine.ModelMetadata

	// GoodFit is nil until GoodfitTest ran.
	GoodFit *GoodFit

	// Stats is nil until ResidualsTest ran.
	Stats *engine.ResidualStats

	Residuals engine.Residuals
}

// Snapshot copies the current session.
func (l *Lifecycle) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	snap := Snapshot{
		Generation: l.Generation(),
		Training:   l.training.Clone(),
		Test:       l.test.Clone(),
		Critical:   l.critical.Clone(),
		HasModel:   l.model != nil,
		Residuals:  engine.Residuals{Values: append([]float64(nil), l.residuals.Values...)},
	}
	if l.model != nil {
		snap.Model = &engine.Model{
			Raw:    append([]byte(nil), l.model.Raw...),
			Sample: l.model.Sample.Clone(),
		}
	}
	if l.metadata != nil {
		md := *l.metadata
		snap.Metadata = &md
	}
	if l.goodfit != nil {
		gf := *l.goodfit
		snap.GoodFit = &gf
	}
	if l.stats != nil {
		st := *l.stats
		snap.Stats = &st
	}
	return snap
}
