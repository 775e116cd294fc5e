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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/iec62209/services/sar/telemetry"
)

const tracerName = "iec62209.engine"

// maxErrorBody caps how much of an error response is read into a message.
const maxErrorBody = 4096

// =============================================================================
// Configuration
// =============================================================================

// ClientConfig configures the sidecar client.
type ClientConfig struct {
	// BaseURL of the engine sidecar, e.g. "http://iec62209-engine:8000".
	BaseURL string

	// Timeout bounds every call. Default: 2 minutes (fits can be slow).
	Timeout time.Duration

	// HTTPClient overrides the transport. Default: a client with Timeout.
	HTTPClient *http.Client

	// Observe, when set, is called after every call with its latency.
	Observe func(op Op, elapsed time.Duration, err error)
}

func applyClientDefaults(cfg *ClientConfig) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8000"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
}

// =============================================================================
// Client
// =============================================================================

// Client is the HTTP implementation of Engine.
//
// # Description
//
// Each Engine method maps to one JSON POST under /v1/ on the sidecar.
// Plots come back as image/png. Every call runs in its own span; transport
// failures wrap ErrUnavailable and non-2xx responses become *Error.
//
// # Thread Safety
//
// Safe for concurrent use.
type Client struct {
	cfg ClientConfig
}

var _ Engine = (*Client)(nil)

// NewClient creates a sidecar client.
func NewClient(cfg ClientConfig) *Client {
	applyClientDefaults(&cfg)
	return &Client{cfg: cfg}
}

type generateRequest struct {
	Config SampleConfig `json:"config"`
	XMax   float64      `json:"xmax"`
	YMax   float64      `json:"ymax"`
}

// GenerateSample implements Engine.
func (c *Client) GenerateSample(ctx context.Context, cfg SampleConfig, xmax, ymax float64) (*Sample, error) {
	var out Sample
	err := c.call(ctx, OpGenerate, "/v1/sample/generate", generateRequest{Config: cfg, XMax: xmax, YMax: ymax}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// LoadMeasuredSample implements Engine. The file is uploaded as text/csv
// so the sidecar does not need access to the local filesystem.
func (c *Client) LoadMeasuredSample(ctx context.Context, path string) (*Sample, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read measurement file: %w", err)
	}

	var out Sample
	err = c.roundTrip(ctx, OpLoad, "/v1/sample/parse", "text/csv", data,
		map[string]string{"X-Filename": filepath.Base(path)},
		func(body io.Reader) error { return json.NewDecoder(body).Decode(&out) })
	if err != nil {
		return nil, err
	}
	return &out, nil
}

type deviationRequest struct {
	Sample *Sample `json:"sample"`
	Mass   string  `json:"mass"`
}

// AddDeviation implements Engine.
func (c *Client) AddDeviation(ctx context.Context, s *Sample, mass string) (*Sample, error) {
	var out Sample
	if err := c.call(ctx, OpDeviation, "/v1/sample/deviation", deviationRequest{Sample: s, Mass: mass}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type sampleRequest struct {
	Sample *Sample `json:"sample"`
}

// Fit implements Engine.
func (c *Client) Fit(ctx context.Context, s *Sample) (*Model, error) {
	var out Model
	if err := c.call(ctx, OpFit, "/v1/model/fit", sampleRequest{Sample: s}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type modelRequest struct {
	Model  json.RawMessage `json:"model"`
	Sample *Sample         `json:"sample,omitempty"`
	Iters  int             `json:"iters,omitempty"`
}

// GoodnessOfFit implements Engine.
func (c *Client) GoodnessOfFit(ctx context.Context, m *Model) (GoodFit, error) {
	var out GoodFit
	err := c.call(ctx, OpGoodfit, "/v1/model/goodfit", modelRequest{Model: m.Raw}, &out)
	return out, err
}

// ComputeResiduals implements Engine.
func (c *Client) ComputeResiduals(ctx context.Context, m *Model, test *Sample) (Residuals, error) {
	var out Residuals
	err := c.call(ctx, OpResiduals, "/v1/model/residuals", modelRequest{Model: m.Raw, Sample: test}, &out)
	return out, err
}

// ResidualTests implements Engine.
func (c *Client) ResidualTests(ctx context.Context, r Residuals) (ResidualStats, error) {
	var out ResidualStats
	err := c.call(ctx, OpResTests, "/v1/residuals/tests", r, &out)
	return out, err
}

// ExploreCriticalRegion implements Engine.
func (c *Client) ExploreCriticalRegion(ctx context.Context, m *Model, iters int) (*Sample, error) {
	var out Sample
	if err := c.call(ctx, OpExplore, "/v1/model/explore", modelRequest{Model: m.Raw, Iters: iters}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Contains implements Engine.
func (c *Client) Contains(ctx context.Context, m *Model, s *Sample) (bool, error) {
	var out struct {
		Contains bool `json:"contains"`
	}
	err := c.call(ctx, OpContains, "/v1/model/contains", modelRequest{Model: m.Raw, Sample: s}, &out)
	return out.Contains, err
}

// DecodeModel implements Engine.
func (c *Client) DecodeModel(ctx context.Context, raw json.RawMessage) (*Model, error) {
	var out Model
	if err := c.call(ctx, OpDecode, "/v1/model/decode", modelRequest{Model: raw}, &out); err != nil {
		return nil, err
	}
	if len(out.Raw) == 0 {
		out.Raw = raw
	}
	return &out, nil
}

// Plot implements Engine.
func (c *Client) Plot(ctx context.Context, kind PlotKind, in PlotInput) ([]byte, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode plot input: %w", err)
	}
	var png []byte
	err = c.roundTrip(ctx, OpPlot, "/v1/plot/"+string(kind), "application/json", payload, nil,
		func(body io.Reader) error {
			b, readErr := io.ReadAll(body)
			png = b
			return readErr
		})
	if err != nil {
		return nil, err
	}
	return png, nil
}

// Info implements Engine.
func (c *Client) Info(ctx context.Context) (map[string]string, error) {
	out := map[string]string{}
	err := c.roundTrip(ctx, OpInfo, "/v1/info", "", nil, nil,
		func(body io.Reader) error { return json.NewDecoder(body).Decode(&out) })
	return out, err
}

// =============================================================================
// Transport
// =============================================================================

// call POSTs in as JSON and decodes the JSON response into out.
func (c *Client) call(ctx context.Context, op Op, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", op, err)
	}
	return c.roundTrip(ctx, op, path, "application/json", payload, nil,
		func(body io.Reader) error { return json.NewDecoder(body).Decode(out) })
}

// roundTrip performs one traced request. A nil payload issues a GET.
func (c *Client) roundTrip(
	ctx context.Context,
	op Op,
	path, contentType string,
	payload []byte,
	headers map[string]string,
	decode func(io.Reader) error,
) (err error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "engine."+string(op))
	span.SetAttributes(attribute.String("engine.op", string(op)), attribute.String("engine.path", path))
	start := time.Now()
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
		if c.cfg.Observe != nil {
			c.cfg.Observe(op, time.Since(start), err)
		}
	}()

	method := http.MethodPost
	var body io.Reader
	if payload == nil {
		method = http.MethodGet
	} else {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	telemetry.InjectContext(ctx, req.Header)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Op: op, Status: resp.StatusCode, Message: readErrorMessage(resp.Body)}
	}
	if err := decode(resp.Body); err != nil {
		return &Error{Op: op, Status: resp.StatusCode, Message: "malformed response: " + err.Error()}
	}
	return nil
}

// readErrorMessage extracts {"error"|"detail"|"message"} from a JSON body
// or falls back to the raw text.
func readErrorMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var body map[string]any
	if json.Unmarshal(raw, &body) == nil {
		for _, key := range []string{"error", "detail", "message"} {
			if v, ok := body[key].(string); ok && v != "" {
				return v
			}
		}
	}
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		return "no error details"
	}
	return msg
}
