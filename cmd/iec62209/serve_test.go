// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/iec62209/services/sar/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Folders.Output = t.TempDir()
	cfg.Folders.Input = t.TempDir()
	cfg.Telemetry.MetricExporter = "none"
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildApp_Defaults(t *testing.T) {
	cfg := testConfig(t)
	a, err := buildApp(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.gc, "an in-memory cache has no value log to collect")

	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"healthy"`)

	w = httptest.NewRecorder()
	a.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/training-data/isloaded", nil))
	assert.JSONEq(t, `{"isloaded":false}`, w.Body.String())
}

func TestBuildApp_OnDiskCacheRunsGC(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Dir = t.TempDir()

	a, err := buildApp(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	defer a.Close()
	assert.NotNil(t, a.gc)
}

func TestBuildApp_CacheDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Disabled = true

	a, err := buildApp(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	assert.Nil(t, a.gc)
	assert.NoError(t, a.Close())
	assert.NoError(t, a.Close(), "Close must be idempotent")
}

func TestBuildApp_EngineDown(t *testing.T) {
	engineSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer engineSrv.Close()

	cfg := testConfig(t)
	cfg.Engine.URL = engineSrv.URL

	a, err := buildApp(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	defer a.Close()

	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/meta", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"kernel_meta":{}`)
}

func TestApp_ServeStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	a, err := buildApp(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	defer a.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- a.serve(ctx, config.ServerConfig{Addr: addr, ShutdownTimeout: time.Second})
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestBannerFields(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		reports string
		cache   string
		outcome string
	}{
		{
			name:    "defaults",
			mutate:  func(c *config.Config) {},
			reports: "not archived",
			cache:   "in memory",
			outcome: "off",
		},
		{
			name: "folder archive and disk cache",
			mutate: func(c *config.Config) {
				c.Folders.Output = "/srv/reports"
				c.Cache.Dir = "/var/cache/iec62209"
			},
			reports: "/srv/reports",
			cache:   "/var/cache/iec62209",
			outcome: "off",
		},
		{
			name: "bucket wins over folder",
			mutate: func(c *config.Config) {
				c.Folders.Output = "/srv/reports"
				c.Archive.Bucket = "bench-reports"
				c.Archive.Prefix = "lab1"
				c.Cache.Disabled = true
				c.Outcomes.URL = "http://influx:8086"
			},
			reports: "gs://bench-reports/lab1",
			cache:   "disabled",
			outcome: "http://influx:8086",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			fields := bannerFields(cfg)

			got := map[string]string{}
			for _, f := range fields {
				got[f.Label] = f.Value
			}
			assert.Equal(t, ":8080", got["Listening"])
			assert.Equal(t, tt.reports, got["Reports"])
			assert.Equal(t, tt.cache, got["Cache"])
			assert.Equal(t, tt.outcome, got["Outcomes"])
		})
	}
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"version"})
	defer rootCmd.SetArgs(nil)

	require.NoError(t, rootCmd.Execute())
	assert.True(t, strings.HasPrefix(buf.String(), "iec62209 "+version+" "))
}

func TestServeCommand_BadConfig(t *testing.T) {
	rootCmd.SetOut(io.Discard)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs([]string{"serve", "--config", "/nonexistent/iec62209.yaml"})
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read the config file")
}
