// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/iec62209/services/sar/cache"
	"github.com/AleutianAI/iec62209/services/sar/dataset"
	"github.com/AleutianAI/iec62209/services/sar/engine"
	"github.com/AleutianAI/iec62209/services/sar/engine/enginetest"
	"github.com/AleutianAI/iec62209/services/sar/lifecycle"
	"github.com/AleutianAI/iec62209/services/sar/outcomes"
	"github.com/AleutianAI/iec62209/services/sar/report"
	"github.com/AleutianAI/iec62209/services/sar/sarerr"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const trainingCSV = `antenna,frequency,power,modulation,par,bandwidth,distance,angle,x,y,sar10g,u10g,sard10g,mpe10g
D900,900,20,CW,0,0,5,0,40,-30,1.2,0.2,0.4,1.1
D1800,1800,17,CW,0,0,10,90,-35,25,0.8,0.2,-0.6,1.0
D2450,2450,15,QPSK,3.5,5,15,45,10,10,0.5,0.25,0.1,1.2
`

const testCSV = `antenna,frequency,power,modulation,par,bandwidth,distance,angle,x,y,sar10g,u10g,sard10g,mpe10g
D900,900,20,CW,0,0,5,0,20,-10,1.2,0.2,0.3,1.1
D1800,1800,17,CW,0,0,10,90,-15,5,0.8,0.2,-0.2,1.0
`

const wideTestCSV = `frequency,x,y,sard10g,mpe10g
900,400,-10,0.3,1.1
1800,-15,5,-0.2,1.0
`

const percentCSV = `frequency,x,y,sard10g,mpe10g
900,10,10,4%,1.1
1800,-10,5,-0.2,1.0
`

// =============================================================================
// Fixtures
// =============================================================================

type stubTypesetter struct {
	calls atomic.Int32
}

func (s *stubTypesetter) Typeset(_ context.Context, doc *report.Document) ([]byte, error) {
	s.calls.Add(1)
	return append([]byte("%PDF-1.5\n%"), doc.Stage.String()...), nil
}

type captureRecorder struct {
	mu  sync.Mutex
	got []outcomes.Outcome
}

func (r *captureRecorder) Record(_ context.Context, o outcomes.Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, o)
	return nil
}

func (r *captureRecorder) Close() {}

func (r *captureRecorder) outcomes() []outcomes.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]outcomes.Outcome(nil), r.got...)
}

type testServer struct {
	router   *gin.Engine
	fake     *enginetest.Fake
	typeset  *stubTypesetter
	recorder *captureRecorder
	archive  string
	staging  string
}

func newTestServer(t *testing.T, mutate func(*ServiceConfig)) *testServer {
	t.Helper()
	store, err := cache.Open(cache.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ts := &testServer{
		fake:     enginetest.New(),
		typeset:  &stubTypesetter{},
		recorder: &captureRecorder{},
		archive:  t.TempDir(),
		staging:  t.TempDir(),
	}
	sink, err := report.NewFileSink(ts.archive)
	require.NoError(t, err)

	cfg := ServiceConfig{
		Engine:     ts.fake,
		Typesetter: ts.typeset,
		Cache:      store,
		Sink:       sink,
		Recorder:   ts.recorder,
		StagingDir: ts.staging,
		Version:    "1.2.3",
		Now:        func() time.Time { return time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC) },
	}
	if mutate != nil {
		mutate(&cfg)
	}
	svc, err := NewService(cfg)
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	ts.router = NewRouter(svc)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	return ts.do(t, http.MethodGet, path, nil, "")
}

func (ts *testServer) postJSON(t *testing.T, path string, v any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	return ts.do(t, http.MethodPost, path, bytes.NewReader(body), "application/json")
}

func (ts *testServer) upload(t *testing.T, path, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(uploadField, filename)
	require.NoError(t, err)
	_, err = io.WriteString(fw, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return ts.do(t, http.MethodPost, path, &buf, mw.FormDataContentType())
}

// withModel loads the training sample and creates the model.
func (ts *testServer) withModel(t *testing.T) {
	t.Helper()
	w := ts.upload(t, "/training-data/load", "training.csv", trainingCSV)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = ts.do(t, http.MethodPost, "/analysis-creation/create", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func stagingEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "staged uploads must be removed")
}

// =============================================================================
// Service endpoints
// =============================================================================

func TestHandleHealth(t *testing.T) {
	ts := newTestServer(t, nil)
	w := ts.get(t, "/health")

	assert.Equal(t, http.StatusOK, w.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, HealthResponse{Status: "healthy", Version: "1.2.3"}, resp)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestHandleMeta(t *testing.T) {
	t.Run("engine reachable", func(t *testing.T) {
		ts := newTestServer(t, nil)
		w := ts.get(t, "/meta")
		require.Equal(t, http.StatusOK, w.Code)

		var resp MetaResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, ServiceName, resp.ProjectName)
		assert.Equal(t, "1.2.3", resp.Version)
		assert.Equal(t, "iec62209", resp.KernelMeta["Name"])
	})

	t.Run("engine unreachable", func(t *testing.T) {
		ts := newTestServer(t, nil)
		ts.fake.Fail[engine.OpInfo] = engine.ErrUnavailable
		w := ts.get(t, "/meta")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"kernel_meta":{}`)
	})
}

func TestHandleMetrics(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.get(t, "/health")
	w := ts.get(t, "/metrics")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "iec62209_http_requests_total")
}

func TestRequestID(t *testing.T) {
	ts := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/training-data/isloaded", nil)
	req.Header.Set("X-Request-ID", "bench-42")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	assert.Equal(t, "bench-42", w.Header().Get("X-Request-ID"))

	w = ts.get(t, "/training-data/isloaded")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

// =============================================================================
// Sample planning
// =============================================================================

func TestSamplePlanning(t *testing.T) {
	for _, prefix := range []string{"/training-set-generation", "/test-set-generation"} {
		t.Run(prefix, func(t *testing.T) {
			ts := newTestServer(t, nil)

			w := ts.get(t, prefix+"/xport")
			assert.Equal(t, http.StatusConflict, w.Code)
			assert.Equal(t, "NOT_LOADED", decodeError(t, w).Code)

			w = ts.postJSON(t, prefix+"/generate", engine.SampleConfig{
				FRangeMin: 300, FRangeMax: 6000, MeasAreaX: 120, MeasAreaY: 80, SampleSize: 5,
			})
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			var tbl dataset.Table
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tbl))
			assert.Len(t, tbl.Rows, 5)
			assert.Equal(t, engine.ColumnID, tbl.Headings[0])

			w = ts.get(t, prefix+"/data")
			require.Equal(t, http.StatusOK, w.Code)
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tbl))
			assert.Len(t, tbl.Rows, 5)

			w = ts.get(t, prefix+"/xport")
			require.Equal(t, http.StatusOK, w.Code)
			assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain"))
			lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
			assert.Len(t, lines, 6)

			w = ts.get(t, prefix+"/summary")
			require.Equal(t, http.StatusOK, w.Code)
			var sum SummaryResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sum))
			assert.Equal(t, 5, sum.Config.SampleSize)
			assert.NotEmpty(t, sum.Columns)

			w = ts.get(t, prefix+"/distribution")
			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, contentTypePNG, w.Header().Get("Content-Type"))

			w = ts.get(t, prefix+"/reset")
			require.Equal(t, http.StatusOK, w.Code)
			w = ts.get(t, prefix+"/data")
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tbl))
			assert.Empty(t, tbl.Rows)
		})
	}
}

func TestHandleGenerate_Invalid(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/training-set-generation/generate", strings.NewReader("{"), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, codeInvalidRequest, decodeError(t, w).Code)

	w = ts.postJSON(t, "/training-set-generation/generate", map[string]int{"fRangeMin": 6000, "fRangeMax": 300})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "PARSE_ERROR", decodeError(t, w).Code)
}

// =============================================================================
// Model creation
// =============================================================================

func TestModelCreation(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.get(t, "/training-data/isloaded")
	assert.JSONEq(t, `{"isloaded":false}`, w.Body.String())

	w = ts.upload(t, "/training-data/load", "training.csv", trainingCSV)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var tbl dataset.Table
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tbl))
	assert.Len(t, tbl.Rows, 3)
	stagingEmpty(t, ts.staging)

	w = ts.get(t, "/training-data/isloaded")
	assert.JSONEq(t, `{"isloaded":true}`, w.Body.String())

	w = ts.do(t, http.MethodPost, "/analysis-creation/create", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"Acceptance criteria":"Pass","Normalized RMS error":"10.0 < 25%"}`, w.Body.String())

	got := ts.recorder.outcomes()
	require.Len(t, got, 1)
	assert.Equal(t, "creation", got[0].Stage)
	assert.True(t, got[0].Passed)
	assert.Equal(t, 3, got[0].Samples)
	require.NotNil(t, got[0].NRMSE)
	assert.InDelta(t, 0.1, *got[0].NRMSE, 1e-9)

	for _, path := range []string{
		"/analysis-creation/variogram", "/analysis-creation/goodfit",
		"/analysis-creation/deviations", "/analysis-creation/marginals",
	} {
		w = ts.get(t, path+"?timestamp=1710408600")
		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.Equal(t, contentTypePNG, w.Header().Get("Content-Type"), path)
	}
}

func TestHandleCreate_Errors(t *testing.T) {
	t.Run("no sample", func(t *testing.T) {
		ts := newTestServer(t, nil)
		w := ts.do(t, http.MethodPost, "/analysis-creation/create", nil, "")
		assert.Equal(t, http.StatusConflict, w.Code)
		resp := decodeError(t, w)
		assert.Equal(t, "PRECONDITION_FAILED", resp.Code)
		assert.Equal(t, lifecycle.MsgNoSample, resp.Error)
	})

	t.Run("engine unavailable", func(t *testing.T) {
		ts := newTestServer(t, nil)
		w := ts.upload(t, "/training-data/load", "training.csv", trainingCSV)
		require.Equal(t, http.StatusOK, w.Code)

		ts.fake.Fail[engine.OpFit] = fmt.Errorf("%w: connection refused", engine.ErrUnavailable)
		w = ts.do(t, http.MethodPost, "/analysis-creation/create", nil, "")
		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.Equal(t, codeUnavailable, decodeError(t, w).Code)
	})

	t.Run("fit failure", func(t *testing.T) {
		ts := newTestServer(t, nil)
		w := ts.upload(t, "/training-data/load", "training.csv", trainingCSV)
		require.Equal(t, http.StatusOK, w.Code)

		ts.fake.Fail[engine.OpFit] = &engine.Error{Op: engine.OpFit, Status: 500, Message: "singular matrix"}
		w = ts.do(t, http.MethodPost, "/analysis-creation/create", nil, "")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "FIT_ERROR", decodeError(t, w).Code)
	})
}

func TestHandleLoadTraining_Errors(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.upload(t, "/training-data/load", "bench.csv", percentCSV)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, "PARSE_ERROR", resp.Code)
	assert.Contains(t, resp.Error, dataset.MsgFormattedNumbers)
	stagingEmpty(t, ts.staging)

	w = ts.do(t, http.MethodPost, "/training-data/load", strings.NewReader("x"), "text/plain")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.get(t, "/training-data/isloaded")
	assert.JSONEq(t, `{"isloaded":false}`, w.Body.String())
}

func TestModelExportAndLoad(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.postJSON(t, "/analysis-creation/xport", map[string]string{"systemName": "cSAR3D"})
	assert.Equal(t, http.StatusConflict, w.Code, "no model yet")

	ts.withModel(t)

	w = ts.postJSON(t, "/analysis-creation/xport", map[string]string{"systemName": "cSAR3D"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "incomplete metadata")

	md := engine.ModelMetadata{
		SystemName:      "cSAR3D",
		PhantomType:     "Flat HSL",
		HardwareVersion: "SD C00 F01 AC",
		SoftwareVersion: "V5.2.0",
	}
	w = ts.postJSON(t, "/analysis-creation/xport", md)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	exported := w.Body.String()

	w = ts.get(t, "/model/reset")
	require.Equal(t, http.StatusOK, w.Code)
	w = ts.get(t, "/model/isloaded")
	assert.JSONEq(t, `{"isloaded":false}`, w.Body.String())

	w = ts.upload(t, "/model/load", "bench.json", exported)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var loaded engine.ModelMetadata
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &loaded))
	assert.Equal(t, "bench.json", loaded.Filename)
	assert.Equal(t, "cSAR3D", loaded.SystemName)

	w = ts.get(t, "/model/isloaded")
	assert.JSONEq(t, `{"isloaded":true}`, w.Body.String())
	w = ts.get(t, "/training-data/isloaded")
	assert.JSONEq(t, `{"isloaded":true}`, w.Body.String())

	w = ts.upload(t, "/model/load", "broken.json", `{"metadata":{}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeError(t, w).Error, "Failed to load model from broken.json")
}

// =============================================================================
// Confirmation and verification
// =============================================================================

func TestModelConfirmation(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.withModel(t)

	w := ts.get(t, "/confirm-model/confirm")
	assert.Equal(t, http.StatusConflict, w.Code, "no test sample")

	w = ts.upload(t, "/test-data/load", "wide.csv", wideTestCSV)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "DOMAIN_ERROR", decodeError(t, w).Code)

	w = ts.upload(t, "/test-data/load", "test.csv", testCSV)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = ts.get(t, "/test-data/isloaded")
	assert.JSONEq(t, `{"isloaded":true}`, w.Body.String())

	w = ts.get(t, "/confirm-model/qqplot")
	assert.Equal(t, http.StatusConflict, w.Code, "residuals not computed")

	w = ts.get(t, "/confirm-model/confirm")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"Acceptance criteria":"Pass","Normality":"Pass","QQ location":"Pass","QQ scale":"Pass"}`, w.Body.String())

	for _, path := range []string{"/confirm-model/qqplot", "/confirm-model/deviations", "/confirm-model/semivariogram"} {
		w = ts.get(t, path)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	got := ts.recorder.outcomes()
	require.Len(t, got, 2)
	assert.Equal(t, "confirmation", got[1].Stage)
	assert.True(t, got[1].Passed)
	require.NotNil(t, got[1].PValue)
	assert.InDelta(t, 0.4, *got[1].PValue, 1e-9)

	w = ts.get(t, "/test-data/reset")
	require.Equal(t, http.StatusOK, w.Code)
	w = ts.get(t, "/test-data/isloaded")
	assert.JSONEq(t, `{"isloaded":false}`, w.Body.String())
}

func TestCriticalSearchAndVerification(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/search-space/search", nil, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	ts.withModel(t)

	w = ts.do(t, http.MethodPost, "/search-space/search", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var tbl dataset.Table
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tbl))
	assert.Len(t, tbl.Rows, 3, "points at or below 1% pass probability are dropped")

	w = ts.postJSON(t, "/search-space/search", SearchRequest{Iterations: 99})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.get(t, "/search-space/xport")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, contentTypeCSV, w.Header().Get("Content-Type"))
	assert.Len(t, strings.Split(strings.TrimSpace(w.Body.String()), "\n"), 4)

	w = ts.get(t, "/critical-data/isloaded")
	assert.JSONEq(t, `{"isloaded":true}`, w.Body.String())

	w = ts.get(t, "/verify/results")
	assert.Equal(t, http.StatusConflict, w.Code, "explored points are not measured yet")

	w = ts.upload(t, "/critical-data/load", "critical.csv", trainingCSV)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.get(t, "/verify/results")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"Acceptance criteria":"Pass"}`, w.Body.String())

	w = ts.get(t, "/verify/deviations")
	assert.Equal(t, http.StatusOK, w.Code)

	got := ts.recorder.outcomes()
	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, "verification", last.Stage)
	assert.Equal(t, 3, last.Samples)

	w = ts.get(t, "/critical-data/reset")
	require.Equal(t, http.StatusOK, w.Code)
	w = ts.get(t, "/critical-data/isloaded")
	assert.JSONEq(t, `{"isloaded":false}`, w.Body.String())
}

// =============================================================================
// Plots, reports and caching
// =============================================================================

func TestPlots_AreCachedPerGeneration(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.withModel(t)

	before := ts.fake.Calls(engine.OpPlot)
	ts.get(t, "/analysis-creation/variogram")
	ts.get(t, "/analysis-creation/variogram")
	assert.Equal(t, before+1, ts.fake.Calls(engine.OpPlot))

	w := ts.do(t, http.MethodPost, "/analysis-creation/create", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	ts.get(t, "/analysis-creation/variogram")
	assert.Equal(t, before+2, ts.fake.Calls(engine.OpPlot), "a new model invalidates the plot")
}

func TestHandleReport(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.get(t, "/analysis-creation/pdf")
	assert.Equal(t, http.StatusConflict, w.Code, "no model")

	ts.withModel(t)

	w = ts.get(t, "/analysis-creation/pdf")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, contentTypePDF, w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF")))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "creation-report.pdf")

	w = ts.get(t, "/analysis-creation/pdf")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int32(1), ts.typeset.calls.Load(), "the second request is served from the cache")

	entries, err := os.ReadDir(ts.archive)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "creation-report-20250314T093000Z.pdf", entries[0].Name())

	w = ts.get(t, "/confirm-model/pdf")
	assert.Equal(t, http.StatusConflict, w.Code, "residuals not computed")
}

func TestHandleReport_NoTypesetter(t *testing.T) {
	ts := newTestServer(t, func(cfg *ServiceConfig) { cfg.Typesetter = nil })
	ts.withModel(t)

	w := ts.get(t, "/analysis-creation/pdf")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "IO_ERROR", decodeError(t, w).Code)
}

// =============================================================================
// Rate limiting and error mapping
// =============================================================================

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, func(cfg *ServiceConfig) {
		cfg.RateLimit = rate.Limit(0.001)
		cfg.Burst = 1
	})

	w := ts.do(t, http.MethodPost, "/analysis-creation/create", nil, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, http.MethodPost, "/analysis-creation/create", nil, "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, codeRateLimited, decodeError(t, w).Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	w = ts.get(t, "/training-data/isloaded")
	assert.Equal(t, http.StatusOK, w.Code, "cheap endpoints are not limited")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"precondition", sarerr.Precondition("op", "No model loaded"), http.StatusConflict},
		{"not loaded", sarerr.NotLoaded("op", "Sample not loaded"), http.StatusConflict},
		{"parse", sarerr.New(sarerr.ErrParse, "op", "bad"), http.StatusBadRequest},
		{"domain", sarerr.New(sarerr.ErrDomain, "op", "outside"), http.StatusUnprocessableEntity},
		{"generation", sarerr.New(sarerr.ErrGeneration, "op", "empty"), http.StatusInternalServerError},
		{"fit", sarerr.New(sarerr.ErrFit, "op", "failed"), http.StatusInternalServerError},
		{"io", sarerr.New(sarerr.ErrIO, "op", "failed"), http.StatusInternalServerError},
		{"unavailable wins", sarerr.Wrap(sarerr.ErrIO, "op", "failed", engine.ErrUnavailable), http.StatusBadGateway},
		{"unclassified", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestNewService_RequiresEngine(t *testing.T) {
	_, err := NewService(ServiceConfig{})
	assert.Error(t, err)
}
