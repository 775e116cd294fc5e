// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the service configuration.
//
// Values are resolved in three layers: built-in defaults, an optional YAML
// file, then environment variables. The result is validated before use.
//
// Environment variables:
//
//	IEC62209_ADDR          listen address
//	IEC62209_ENGINE_URL    analysis engine sidecar URL
//	IEC62209_PDFLATEX      typesetter binary
//	IEC62209_CACHE_DIR     artifact cache directory
//	IEC62209_LOG_LEVEL     debug, info, warn or error
//	INPUT_FOLDER           folder uploads are staged in
//	OUTPUT_FOLDER          folder reports are archived to
//	LOG_FOLDER             folder for JSON log files
//	GCS_BUCKET             bucket reports are archived to
//	GOOGLE_APPLICATION_CREDENTIALS  service account key for GCS_BUCKET
//	INFLUXDB_URL, INFLUXDB_TOKEN, INFLUXDB_ORG, INFLUXDB_BUCKET
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/iec62209/services/sar/outcomes"
	"github.com/AleutianAI/iec62209/services/sar/telemetry"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func init() {
	_ = validate.RegisterValidation("writable", validateWritable)
}

// validateWritable checks that a directory accepts new files.
func validateWritable(fl validator.FieldLevel) bool {
	dir := fl.Field().String()
	if dir == "" {
		return true
	}
	f, err := os.CreateTemp(dir, ".iec62209-probe-")
	if err != nil {
		return false
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return true
}

// =============================================================================
// Sections
// =============================================================================

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required,hostname_port"`

	// MaxUploadBytes bounds multipart uploads.
	MaxUploadBytes int64 `yaml:"max_upload_bytes" validate:"gt=0"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

// EngineConfig locates the analysis engine sidecar.
type EngineConfig struct {
	URL     string        `yaml:"url" validate:"required,url"`
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
}

// ReportConfig configures PDF typesetting.
type ReportConfig struct {
	Binary  string        `yaml:"binary" validate:"required"`
	MaxRuns int           `yaml:"max_runs" validate:"gte=1,lte=20"`
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
}

// FoldersConfig names the service folders. Each must exist when set.
type FoldersConfig struct {
	Input  string `yaml:"input" validate:"omitempty,dir"`
	Output string `yaml:"output" validate:"omitempty,dir,writable"`
	Log    string `yaml:"log" validate:"omitempty,dir"`
}

// CacheConfig configures the artifact cache.
type CacheConfig struct {
	// Dir holds the BadgerDB files. Empty keeps the cache in memory.
	Dir string        `yaml:"dir"`
	TTL time.Duration `yaml:"ttl" validate:"gte=0"`

	// Disabled turns caching off entirely.
	Disabled bool `yaml:"disabled"`
}

// RateLimitConfig limits compute-heavy endpoints. RPS 0 disables limiting.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" validate:"gte=0"`
	Burst int     `yaml:"burst" validate:"gte=0"`
}

// ArchiveConfig configures the GCS report archive.
type ArchiveConfig struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	CredentialsFile string `yaml:"credentials_file" validate:"omitempty,file"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
}

// =============================================================================
// Config
// =============================================================================

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig          `yaml:"server"`
	Engine    EngineConfig          `yaml:"engine"`
	Report    ReportConfig          `yaml:"report"`
	Folders   FoldersConfig         `yaml:"folders"`
	Cache     CacheConfig           `yaml:"cache"`
	RateLimit RateLimitConfig       `yaml:"rate_limit"`
	Archive   ArchiveConfig         `yaml:"archive"`
	Outcomes  outcomes.InfluxConfig `yaml:"outcomes"`
	Telemetry telemetry.Config      `yaml:"telemetry"`
	Log       LogConfig             `yaml:"log"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			MaxUploadBytes:  32 << 20,
			ShutdownTimeout: 15 * time.Second,
		},
		Engine: EngineConfig{
			URL:     "http://localhost:8000",
			Timeout: 2 * time.Minute,
		},
		Report: ReportConfig{
			Binary:  "pdflatex",
			MaxRuns: 5,
			Timeout: 2 * time.Minute,
		},
		Cache: CacheConfig{TTL: 30 * time.Minute},
		RateLimit: RateLimitConfig{
			RPS:   2,
			Burst: 4,
		},
		Telemetry: telemetry.DefaultConfig(),
		Log:       LogConfig{Level: "info"},
	}
}

// Load resolves the configuration.
//
// # Description
//
// Starts from Default, overlays the YAML file at path when path is not
// empty, applies environment overrides and validates the result.
//
// # Outputs
//
//   - Config: the resolved configuration.
//   - error: read, parse or validation failure.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read the config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse the config file %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid configuration: %s failed %q", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// applyEnv overrides cfg from the environment.
func applyEnv(cfg *Config) error {
	cfg.Server.Addr = getEnvOr("IEC62209_ADDR", cfg.Server.Addr)
	cfg.Engine.URL = getEnvOr("IEC62209_ENGINE_URL", cfg.Engine.URL)
	cfg.Report.Binary = getEnvOr("IEC62209_PDFLATEX", cfg.Report.Binary)
	cfg.Cache.Dir = getEnvOr("IEC62209_CACHE_DIR", cfg.Cache.Dir)
	cfg.Log.Level = getEnvOr("IEC62209_LOG_LEVEL", cfg.Log.Level)

	cfg.Folders.Input = getEnvOr("INPUT_FOLDER", cfg.Folders.Input)
	cfg.Folders.Output = getEnvOr("OUTPUT_FOLDER", cfg.Folders.Output)
	cfg.Folders.Log = getEnvOr("LOG_FOLDER", cfg.Folders.Log)

	cfg.Archive.Bucket = getEnvOr("GCS_BUCKET", cfg.Archive.Bucket)
	cfg.Archive.CredentialsFile = getEnvOr("GOOGLE_APPLICATION_CREDENTIALS", cfg.Archive.CredentialsFile)

	cfg.Outcomes.URL = getEnvOr("INFLUXDB_URL", cfg.Outcomes.URL)
	cfg.Outcomes.Token = getEnvOr("INFLUXDB_TOKEN", cfg.Outcomes.Token)
	cfg.Outcomes.Org = getEnvOr("INFLUXDB_ORG", cfg.Outcomes.Org)
	cfg.Outcomes.Bucket = getEnvOr("INFLUXDB_BUCKET", cfg.Outcomes.Bucket)

	if v := os.Getenv("IEC62209_RATE_LIMIT_RPS"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("IEC62209_RATE_LIMIT_RPS: %w", err)
		}
		cfg.RateLimit.RPS = rps
	}
	return nil
}

func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
