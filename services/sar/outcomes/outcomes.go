// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package outcomes keeps a history of validation verdicts so a lab can
// chart how a measurement system performs across campaigns.
package outcomes

import (
	"context"
	"time"

	"github.com/google/uuid"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement is the InfluxDB measurement outcomes are written to.
const Measurement = "validation_outcomes"

// Outcome is one verdict of a validation stage.
type Outcome struct {
	ID    string
	Stage string

	SystemName  string
	PhantomType string

	// Accepted is the data acceptance criterion.
	Accepted bool

	// Passed is the overall verdict of the stage.
	Passed bool

	Samples int

	// Stage specific statistics; nil when not applicable.
	NRMSE    *float64
	PValue   *float64
	Location *float64
	Scale    *float64

	Time time.Time
}

// Recorder stores outcomes.
type Recorder interface {
	Record(ctx context.Context, o Outcome) error
	Close()
}

// New fills the identity fields of an outcome.
func New(stage string, now time.Time) Outcome {
	return Outcome{ID: uuid.NewString(), Stage: stage, Time: now}
}

// Noop discards outcomes. It is the default when no InfluxDB is configured.
type Noop struct{}

// Record implements Recorder.
func (Noop) Record(context.Context, Outcome) error { return nil }

// Close implements Recorder.
func (Noop) Close() {}

// =============================================================================
// InfluxDB
// =============================================================================

// InfluxConfig locates the outcome bucket.
type InfluxConfig struct {
	URL    string `yaml:"url" validate:"omitempty,url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// Enabled reports whether an InfluxDB URL is configured.
func (c InfluxConfig) Enabled() bool { return c.URL != "" }

// Influx writes outcomes to InfluxDB with the blocking write API.
type Influx struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

// NewInflux creates the client. No connection is made until the first
// write.
func NewInflux(cfg InfluxConfig) *Influx {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Influx{client: client, writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket)}
}

// Record implements Recorder.
func (s *Influx) Record(ctx context.Context, o Outcome) error {
	return s.writeAPI.WritePoint(ctx, point(o))
}

// Close implements Recorder.
func (s *Influx) Close() {
	s.client.Close()
}

func point(o Outcome) *write.Point {
	p := influxdb2.NewPointWithMeasurement(Measurement).
		AddTag("stage", o.Stage).
		AddField("id", o.ID).
		AddField("accepted", o.Accepted).
		AddField("passed", o.Passed).
		AddField("samples", o.Samples).
		SetTime(o.Time)
	// Empty tag values are invalid line protocol.
	if o.SystemName != "" {
		p.AddTag("system", o.SystemName)
	}
	if o.PhantomType != "" {
		p.AddTag("phantom", o.PhantomType)
	}
	for name, v := range map[string]*float64{
		"nrmse": o.NRMSE, "pvalue": o.PValue, "location": o.Location, "scale": o.Scale,
	} {
		if v != nil {
			p.AddField(name, *v)
		}
	}
	return p
}
