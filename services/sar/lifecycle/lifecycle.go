// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lifecycle coordinates the current samples and the fitted model.
//
// # Description
//
// A Lifecycle is the analysis session: it owns the training, test and
// critical DataSets, the fitted model, its metadata, the last goodness of
// fit and the last residuals. It gates which operations are legal:
//
//	EMPTY -> HAS_TRAINING_SAMPLE -> HAS_MODEL -> {test sample, goodfit,
//	                                              residuals, critical sample}
//
// The four states after HAS_MODEL are independent flags.
//
// Every operation runs under the session mutex and builds its result off to
// the side; state is swapped in only when the whole operation succeeded.
// Clear always succeeds.
//
// The generation screens work on their own pair of DataSets so that
// planning a sample never disturbs the analysis in progress.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Mutating operations hold the
// write lock for their whole duration, including engine calls.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/AleutianAI/iec62209/services/sar/dataset"
	"github.com/AleutianAI/iec62209/services/sar/engine"
	"github.com/AleutianAI/iec62209/services/sar/sarerr"
)

// User-facing messages of precondition failures.
const (
	MsgNoSample           = "no sample loaded"
	MsgNoModel            = "No model loaded"
	MsgNoModelCreated     = "no model has been created"
	MsgNoTestSample       = "No test sample loaded"
	MsgNoResiduals        = "Residuals have not been calculated"
	MsgNotCovered         = "The test sample is outside the domain of the model"
	MsgCriticalUnmeasured = "Critical sample has not been measured: load the critical data first"
)

// DefaultExploreIters is the number of critical-region search iterations.
const DefaultExploreIters = 3

// CriticalPassThreshold is the pass probability at or below which explored
// points are discarded.
const CriticalPassThreshold = 0.01

// =============================================================================
// Configuration
// =============================================================================

// Config configures a Lifecycle.
type Config struct {
	// Engine is required.
	Engine engine.Engine

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Observe, when set, is called after every operation with its name and
	// outcome.
	Observe func(op string, err error)
}

// =============================================================================
// Lifecycle
// =============================================================================

// Lifecycle is the analysis session.
type Lifecycle struct {
	mu  sync.RWMutex
	eng engine.Engine

	logger  *slog.Logger
	observe func(op string, err error)

	training *dataset.DataSet
	test     *dataset.DataSet
	critical *dataset.DataSet

	// planned holds the generation-screen sets, keyed by role.
	planned map[dataset.Role]*dataset.DataSet

	hasInit   bool
	hasTest   bool
	model     *engine.Model
	metadata  *engine.ModelMetadata
	goodfit   *GoodFit
	residuals engine.Residuals
	stats     *engine.ResidualStats

	generation atomic.Uint64
}

// New creates an empty Lifecycle.
//
// # Outputs
//
//   - error: non-nil when cfg.Engine is nil.
func New(cfg Config) (*Lifecycle, error) {
	if cfg.Engine == nil {
		return nil, errors.New("lifecycle: engine is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	l := &Lifecycle{
		eng:     cfg.Engine,
		logger:  cfg.Logger.With("component", "lifecycle"),
		observe: cfg.Observe,
		planned: map[dataset.Role]*dataset.DataSet{
			dataset.RoleTraining: dataset.New(dataset.RoleTraining),
			dataset.RoleTest:     dataset.New(dataset.RoleTest),
		},
	}
	l.resetLocked()
	return l, nil
}

// Generation returns a counter that changes whenever session state does.
// Rendered artifacts are cached under it.
func (l *Lifecycle) Generation() uint64 { return l.generation.Load() }

func (l *Lifecycle) bump() { l.generation.Add(1) }

func (l *Lifecycle) done(op string, err error) {
	if err != nil {
		l.logger.Warn("operation failed", "op", op, "error", err)
	} else {
		l.logger.Debug("operation complete", "op", op)
	}
	if l.observe != nil {
		l.observe(op, err)
	}
}

// resetLocked empties the analysis state. Caller holds the write lock.
func (l *Lifecycle) resetLocked() {
	l.training = dataset.New(dataset.RoleTraining)
	l.test = dataset.New(dataset.RoleTest)
	l.critical = dataset.New(dataset.RoleCritical)
	l.hasInit = false
	l.hasTest = false
	l.model = nil
	l.metadata = nil
	l.goodfit = nil
	l.residuals = engine.Residuals{}
	l.stats = nil
	l.bump()
}

// Clear resets every DataSet and every derived result. It always succeeds.
// The generation-screen sets are left alone.
func (l *Lifecycle) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetLocked()
	l.done("clear", nil)
}

// =============================================================================
// State queries
// =============================================================================

// HasTrainingSample reports whether a training sample is registered.
func (l *Lifecycle) HasTrainingSample() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.hasInit
}

// HasTestSample reports whether a test sample is registered.
func (l *Lifecycle) HasTestSample() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.hasTest
}

// HasModel reports whether a model exists.
func (l *Lifecycle) HasModel() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.model != nil
}

// HasCriticalSample reports whether the critical set is present, including
// an explored set with no critical points.
func (l *Lifecycle) HasCriticalSample() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.critical.IsPresent()
}

// Table returns the table of an analysis set.
func (l *Lifecycle) Table(role dataset.Role) (dataset.Table, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ds, err := l.setLocked(role)
	if err != nil {
		return dataset.Table{}, err
	}
	return ds.Table(), nil
}

func (l *Lifecycle) setLocked(role dataset.Role) (*dataset.DataSet, error) {
	switch role {
	case dataset.RoleTraining:
		return l.training, nil
	case dataset.RoleTest:
		return l.test, nil
	case dataset.RoleCritical:
		return l.critical, nil
	default:
		return nil, sarerr.New(sarerr.ErrParse, "lifecycle.set", fmt.Sprintf("unknown sample role %q", role))
	}
}

func (l *Lifecycle) requireModelLocked(op string) error {
	if l.model == nil {
		return sarerr.Precondition(op, MsgNoModel)
	}
	return nil
}

// =============================================================================
// Training sample and model
// =============================================================================

// LoadTrainingSample clears the session and loads a training sample.
//
// # Description
//
// EMPTY -> HAS_TRAINING_SAMPLE. The session is cleared first, so a failed
// load leaves it EMPTY.
//
// # Outputs
//
//   - dataset.Table: the loaded table.
//   - error: the load error of dataset.LoadFromFile.
func (l *Lifecycle) LoadTrainingSample(ctx context.Context, path string, opts ...dataset.LoadOption) (tbl dataset.Table, err error) {
	defer func() { l.done("load_training_sample", err) }()
	l.mu.Lock()
	defer l.mu.Unlock()

	l.resetLocked()
	ds := dataset.New(dataset.RoleTraining)
	if err := ds.LoadFromFile(ctx, l.eng, path, opts...); err != nil {
		return dataset.Table{}, err
	}
	l.training = ds
	l.hasInit = true
	l.bump()
	return ds.Table(), nil
}

// MakeModel fits a model to the training sample.
//
// # Outputs
//
//   - error: PreconditionError "no sample loaded" without a training sample;
//     FitError when the engine fails.
func (l *Lifecycle) MakeModel(ctx context.Context) (err error) {
	const op = "lifecycle.MakeModel"
	defer func() { l.done("make_model", err) }()
	l.mu.Lock()
	defer l.mu.Unlock()

	m, err := l.fitLocked(ctx, op)
	if err != nil {
		return err
	}
	l.setModelLocked(m)
	l.bump()
	return nil
}

// GoodfitTest scores the model and the training data.
//
// # Description
//
// Accept is the data acceptance of the training set. NRMSE comes from the
// engine's fit-quality statistic and decides Pass against the 25%
// threshold. The result is stored for the report.
//
// # Outputs
//
//   - error: PreconditionError "No model loaded"; FitError on engine failure.
func (l *Lifecycle) GoodfitTest(ctx context.Context) (gf GoodFit, err error) {
	const op = "lifecycle.GoodfitTest"
	defer func() { l.done("goodfit_test", err) }()
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireModelLocked(op); err != nil {
		return GoodFit{}, err
	}
	gf, err = l.goodfitLocked(ctx, op, l.model)
	if err != nil {
		return GoodFit{}, err
	}
	l.goodfit = &gf
	l.bump()
	return gf, nil
}

// CreateModel fits the model and returns its goodness of fit.
//
// # Description
//
// Both steps run under one lock and commit together: when either fails the
// previous model and its goodness of fit are left as they were.
//
// # Outputs
//
//   - error: the errors of MakeModel and GoodfitTest.
func (l *Lifecycle) CreateModel(ctx context.Context) (gf GoodFit, err error) {
	const op = "lifecycle.CreateModel"
	defer func() { l.done("create_model", err) }()
	l.mu.Lock()
	defer l.mu.Unlock()

	m, err := l.fitLocked(ctx, op)
	if err != nil {
		return GoodFit{}, err
	}
	gf, err = l.goodfitLocked(ctx, op, m)
	if err != nil {
		return GoodFit{}, err
	}
	l.setModelLocked(m)
	l.goodfit = &gf
	l.bump()
	return gf, nil
}

func (l *Lifecycle) fitLocked(ctx context.Context, op string) (*engine.Model, error) {
	if !l.hasInit {
		return nil, sarerr.Precondition(op, MsgNoSample)
	}
	m, err := l.eng.Fit(ctx, l.training.Sample())
	if err != nil {
		return nil, engineFailure(sarerr.ErrFit, op, "model fitting failed", err)
	}
	if m == nil {
		return nil, sarerr.New(sarerr.ErrFit, op, "model fitting failed: engine returned no model")
	}
	return m, nil
}

func (l *Lifecycle) goodfitLocked(ctx context.Context, op string, m *engine.Model) (GoodFit, error) {
	accept, err := AcceptanceCriteria(l.training)
	if err != nil {
		return GoodFit{}, err
	}
	res, err := l.eng.GoodnessOfFit(ctx, m)
	if err != nil {
		return GoodFit{}, engineFailure(sarerr.ErrFit, op, "goodness of fit failed", err)
	}
	gf := GoodFit{Accept: accept, NRMSE: res.NRMSE}
	if res.Pass != gf.Pass() {
		l.logger.Warn("engine fit verdict disagrees with the NRMSE threshold",
			"engine_pass", res.Pass, "nrmse", res.NRMSE)
	}
	return gf, nil
}

// setModelLocked installs m and drops everything derived from the old model.
func (l *Lifecycle) setModelLocked(m *engine.Model) {
	l.model = m
	l.metadata = nil
	l.goodfit = nil
	l.residuals = engine.Residuals{}
	l.stats = nil
}

// =============================================================================
// Test sample and residuals
// =============================================================================

// LoadTestSample loads a confirmation sample and checks it lies within the
// model's fitted domain.
//
// # Outputs
//
//   - error: PreconditionError "No model loaded"; the load error of
//     dataset.LoadFromFile; DomainError when the model does not cover the
//     sample, in which case the test set is cleared. A failed domain check
//     leaves the previous test set in place.
func (l *Lifecycle) LoadTestSample(ctx context.Context, path string, opts ...dataset.LoadOption) (tbl dataset.Table, err error) {
	const op = "lifecycle.LoadTestSample"
	defer func() { l.done("load_test_sample", err) }()
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireModelLocked(op); err != nil {
		return dataset.Table{}, err
	}
	ds := dataset.New(dataset.RoleTest)
	if err := ds.LoadFromFile(ctx, l.eng, path, opts...); err != nil {
		return dataset.Table{}, err
	}

	covered, err := l.eng.Contains(ctx, l.model, ds.Sample())
	if err != nil {
		return dataset.Table{}, engineFailure(sarerr.ErrDomain, op, "domain check failed", err)
	}
	if !covered {
		l.test = dataset.New(dataset.RoleTest)
		l.hasTest = false
		l.residuals = engine.Residuals{}
		l.stats = nil
		l.bump()
		return dataset.Table{}, sarerr.New(sarerr.ErrDomain, op, MsgNotCovered)
	}

	l.test = ds
	l.hasTest = true
	l.residuals = engine.Residuals{}
	l.stats = nil
	l.bump()
	return ds.Table(), nil
}

// ResetTestSample drops the test sample and the residuals derived from it.
func (l *Lifecycle) ResetTestSample() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.test = dataset.New(dataset.RoleTest)
	l.hasTest = false
	l.residuals = engine.Residuals{}
	l.stats = nil
	l.bump()
	l.done("reset_test_sample", nil)
}

// ComputeResiduals evaluates the model against the test sample.
//
// # Outputs
//
//   - error: PreconditionError without a model or a test sample; FitError
//     on engine failure.
func (l *Lifecycle) ComputeResiduals(ctx context.Context) (err error) {
	defer func() { l.done("compute_residuals", err) }()
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.computeResidualsLocked(ctx)
}

func (l *Lifecycle) computeResidualsLocked(ctx context.Context) error {
	const op = "lifecycle.ComputeResiduals"
	if err := l.requireModelLocked(op); err != nil {
		return err
	}
	if !l.hasTest {
		return sarerr.Precondition(op, MsgNoTestSample)
	}
	r, err := l.eng.ComputeResiduals(ctx, l.model, l.test.Sample())
	if err != nil {
		return engineFailure(sarerr.ErrFit, op, "residual computation failed", err)
	}
	l.residuals = engine.Residuals{Values: append([]float64(nil), r.Values...)}
	l.stats = nil
	l.bump()
	return nil
}

// ResidualsTest runs the normality and QQ tests on the stored residuals.
//
// # Outputs
//
//   - error: PreconditionError "Residuals have not been calculated" when no
//     residuals exist; FitError on engine failure.
func (l *Lifecycle) ResidualsTest(ctx context.Context) (stats engine.ResidualStats, err error) {
	defer func() { l.done("residuals_test", err) }()
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.residualsTestLocked(ctx)
}

func (l *Lifecycle) residualsTestLocked(ctx context.Context) (engine.ResidualStats, error) {
	const op = "lifecycle.ResidualsTest"
	if err := l.requireModelLocked(op); err != nil {
		return engine.ResidualStats{}, err
	}
	if l.residuals.Len() == 0 {
		return engine.ResidualStats{}, sarerr.Precondition(op, MsgNoResiduals)
	}
	stats, err := l.eng.ResidualTests(ctx, l.residuals)
	if err != nil {
		return engine.ResidualStats{}, engineFailure(sarerr.ErrFit, op, "residual tests failed", err)
	}
	l.stats = &stats
	l.bump()
	return stats, nil
}

// Confirm computes residuals, tests them and reports each criterion as
// "Pass" or "Fail".
func (l *Lifecycle) Confirm(ctx context.Context) (out map[string]string, err error) {
	defer func() { l.done("confirm", err) }()
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.computeResidualsLocked(ctx); err != nil {
		return nil, err
	}
	stats, err := l.residualsTestLocked(ctx)
	if err != nil {
		return nil, err
	}
	accept, err := AcceptanceCriteria(l.test)
	if err != nil {
		return nil, err
	}
	return ConfirmSummary(accept, stats), nil
}

// =============================================================================
// Critical samples
// =============================================================================

// ExploreSpace searches the model for critical points and replaces the
// critical set with them.
//
// # Description
//
// Points with pass probability at or below 0.01 are dropped and pass is
// rescaled to a percentage. The working columns sard10g and err are
// removed and zero-valued sar10g and u10g columns are appended for the
// bench operator to fill in. iters <= 0 means DefaultExploreIters.
func (l *Lifecycle) ExploreSpace(ctx context.Context, iters int) (tbl dataset.Table, err error) {
	const op = "lifecycle.ExploreSpace"
	defer func() { l.done("explore_space", err) }()
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireModelLocked(op); err != nil {
		return dataset.Table{}, err
	}
	if iters <= 0 {
		iters = DefaultExploreIters
	}
	s, err := l.eng.ExploreCriticalRegion(ctx, l.model, iters)
	if err != nil {
		return dataset.Table{}, engineFailure(sarerr.ErrFit, op, "critical region search failed", err)
	}
	if s == nil {
		return dataset.Table{}, sarerr.New(sarerr.ErrFit, op, "critical region search returned no sample")
	}
	pass := s.ColumnIndex(engine.ColumnPass)
	if pass < 0 {
		return dataset.Table{}, sarerr.New(sarerr.ErrFit, op, "critical region search returned no 'pass' column")
	}

	s.Filter(func(row []any) bool {
		v, ok := engine.ToFloat(row[pass])
		return ok && v > CriticalPassThreshold
	})
	for _, row := range s.Rows {
		v, _ := engine.ToFloat(row[pass])
		row[pass] = v * 100
	}
	s.DropColumn(engine.ColumnDeviation)
	s.DropColumn(engine.ColumnErr)

	ds, err := dataset.FromSample(dataset.RoleCritical, s)
	if err != nil {
		return dataset.Table{}, err
	}
	if err := ds.AddColumns([]string{engine.ColumnSAR, engine.ColumnUncert}); err != nil {
		return dataset.Table{}, err
	}

	l.critical = ds
	l.bump()
	return ds.Table(), nil
}

// LoadCriticalSample loads measured critical points with the fixed
// predictor schema.
func (l *Lifecycle) LoadCriticalSample(ctx context.Context, path string, opts ...dataset.LoadOption) (tbl dataset.Table, err error) {
	const op = "lifecycle.LoadCriticalSample"
	defer func() { l.done("load_critical_sample", err) }()
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireModelLocked(op); err != nil {
		return dataset.Table{}, err
	}
	ds := dataset.New(dataset.RoleCritical)
	opts = append(opts, dataset.WithSchema(engine.CriticalXVar, engine.CriticalZVar))
	if err := ds.LoadFromFile(ctx, l.eng, path, opts...); err != nil {
		return dataset.Table{}, err
	}
	l.critical = ds
	l.bump()
	return ds.Table(), nil
}

// ResetCriticalSample drops the critical set.
func (l *Lifecycle) ResetCriticalSample() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.critical = dataset.New(dataset.RoleCritical)
	l.bump()
	l.done("reset_critical_sample", nil)
}

// Verify reports the acceptance criteria of the critical set.
//
// # Outputs
//
//   - map: {"Acceptance criteria": "Pass"|"Fail"}.
//   - error: PreconditionError without a model, or when the critical set
//     holds explored points that have not been measured yet.
func (l *Lifecycle) Verify() (out map[string]string, err error) {
	const op = "lifecycle.Verify"
	defer func() { l.done("verify", err) }()
	l.mu.RLock()
	defer l.mu.RUnlock()

	if err := l.requireModelLocked(op); err != nil {
		return nil, err
	}
	accept, err := AcceptanceCriteria(l.critical)
	if err != nil {
		if errors.Is(err, errMissingColumns) {
			return nil, sarerr.Wrap(sarerr.ErrPrecondition, op, MsgCriticalUnmeasured, err)
		}
		return nil, err
	}
	return map[string]string{KeyAcceptance: PassFail(accept)}, nil
}

// WriteCriticalCSV writes the critical set as CSV.
func (l *Lifecycle) WriteCriticalCSV(w io.Writer) error {
	const op = "lifecycle.WriteCriticalCSV"
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.critical.IsPresent() {
		return sarerr.NotLoaded(op, "Sample data not present")
	}
	if err := l.critical.WriteCSV(w); err != nil {
		return sarerr.Wrap(sarerr.ErrIO, op, "could not write critical sample", err)
	}
	return nil
}

// =============================================================================
// Plots
// =============================================================================

// PlotModel renders a model-level plot: variogram and goodfit need a
// model, residuals (the QQ plot) needs computed residuals.
func (l *Lifecycle) PlotModel(ctx context.Context, kind engine.PlotKind) ([]byte, error) {
	const op = "lifecycle.PlotModel"
	l.mu.RLock()
	defer l.mu.RUnlock()

	in := engine.PlotInput{}
	switch kind {
	case engine.PlotVariogram, engine.PlotGoodfit:
		if err := l.requireModelLocked(op); err != nil {
			return nil, err
		}
		in.Model = l.model
	case engine.PlotResiduals:
		if l.residuals.Len() == 0 {
			return nil, sarerr.Precondition(op, MsgNoResiduals)
		}
		r := engine.Residuals{Values: append([]float64(nil), l.residuals.Values...)}
		in.Residuals = &r
	default:
		return nil, sarerr.New(sarerr.ErrParse, op, fmt.Sprintf("unsupported model plot %q", kind))
	}

	png, err := l.eng.Plot(ctx, kind, in)
	if err != nil {
		return nil, engineFailure(sarerr.ErrIO, op, fmt.Sprintf("failed to render %s plot", kind), err)
	}
	return png, nil
}

// PlotSample renders a sample plot of an analysis set. A model is
// required, as every page that shows these plots follows model creation.
func (l *Lifecycle) PlotSample(ctx context.Context, role dataset.Role, kind engine.PlotKind) ([]byte, error) {
	const op = "lifecycle.PlotSample"
	l.mu.RLock()
	defer l.mu.RUnlock()

	if err := l.requireModelLocked(op); err != nil {
		return nil, err
	}
	ds, err := l.setLocked(role)
	if err != nil {
		return nil, err
	}
	return ds.Plot(ctx, l.eng, kind)
}

// =============================================================================
// Model export and import
// =============================================================================

// ModelExport is the JSON document of an exported model.
type ModelExport struct {
	Metadata engine.ModelMetadata `json:"metadata"`
	Model    json.RawMessage      `json:"model"`
}

// SetMetadata attaches md to the model.
func (l *Lifecycle) SetMetadata(md engine.ModelMetadata) error {
	const op = "lifecycle.SetMetadata"
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.requireModelLocked(op); err != nil {
		return err
	}
	l.metadata = &md
	l.bump()
	return nil
}

// Metadata returns the model's metadata.
func (l *Lifecycle) Metadata() (engine.ModelMetadata, error) {
	const op = "lifecycle.Metadata"
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.requireModelLocked(op); err != nil {
		return engine.ModelMetadata{}, err
	}
	if l.metadata == nil {
		return engine.ModelMetadata{}, nil
	}
	return *l.metadata, nil
}

// ExportModel attaches md to the model and returns the exportable
// document.
//
// # Outputs
//
//   - error: PreconditionError "no model has been created"; ParseError when
//     md lacks required fields.
func (l *Lifecycle) ExportModel(md engine.ModelMetadata) (doc ModelExport, err error) {
	const op = "lifecycle.ExportModel"
	defer func() { l.done("export_model", err) }()
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.model == nil {
		return ModelExport{}, sarerr.Precondition(op, MsgNoModelCreated)
	}
	if err := md.Validate(); err != nil {
		return ModelExport{}, sarerr.Wrap(sarerr.ErrParse, op, "invalid model metadata", err)
	}
	l.metadata = &md
	l.bump()
	return ModelExport{Metadata: md, Model: append(json.RawMessage(nil), l.model.Raw...)}, nil
}

// LoadModel restores a previously exported model.
//
// # Description
//
// The session is cleared, the model decoded by the engine and the training
// set rebuilt from the sample embedded in the model. The metadata filename
// is set to filename.
//
// # Outputs
//
//   - error: ParseError "Failed to load model from <filename>" when the
//     document lacks metadata or model, or the engine cannot decode it. The
//     session is untouched on error.
func (l *Lifecycle) LoadModel(ctx context.Context, data []byte, filename string) (md engine.ModelMetadata, err error) {
	const op = "lifecycle.LoadModel"
	defer func() { l.done("load_model", err) }()
	failed := fmt.Sprintf("Failed to load model from %s", filename)

	var doc struct {
		Metadata *engine.ModelMetadata `json:"metadata"`
		Model    json.RawMessage       `json:"model"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return engine.ModelMetadata{}, sarerr.Wrap(sarerr.ErrParse, op, failed, err)
	}
	if doc.Metadata == nil || len(doc.Model) == 0 || string(doc.Model) == "null" {
		return engine.ModelMetadata{}, sarerr.New(sarerr.ErrParse, op, failed)
	}
	md = *doc.Metadata
	md.Filename = filename
	if err := md.Validate(); err != nil {
		return engine.ModelMetadata{}, sarerr.Wrap(sarerr.ErrParse, op, failed, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	m, err := l.eng.DecodeModel(ctx, doc.Model)
	if err != nil {
		return engine.ModelMetadata{}, engineFailure(sarerr.ErrParse, op, failed, err)
	}
	if m == nil || m.Sample == nil {
		return engine.ModelMetadata{}, sarerr.New(sarerr.ErrParse, op, failed+": model carries no sample")
	}
	training, err := dataset.FromSample(dataset.RoleTraining, m.Sample.Clone())
	if err != nil {
		return engine.ModelMetadata{}, sarerr.Wrap(sarerr.ErrParse, op, failed, err)
	}

	l.resetLocked()
	l.training = training
	l.hasInit = true
	l.model = m
	l.metadata = &md
	l.bump()
	return md, nil
}

// =============================================================================
// Helpers
// =============================================================================

// engineFailure classifies an engine error. Unreachable engines are IO
// failures regardless of the operation.
func engineFailure(kind error, op, msg string, err error) error {
	if errors.Is(err, engine.ErrUnavailable) {
		return sarerr.Wrap(sarerr.ErrIO, op, msg, err)
	}
	return sarerr.Wrap(kind, op, msg, err)
}
