// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command iec62209 runs the IEC 62209 SAR model validation service.
//
// Usage:
//
//	iec62209 serve
//	iec62209 serve --config /etc/iec62209/config.yaml --port 9090
//	iec62209 version
//
// With the analysis engine on another host:
//
//	IEC62209_ENGINE_URL=http://iec62209-engine:8000 iec62209 serve
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/health
//
//	# Upload a training sample and build the model
//	curl -F file=@training.csv http://localhost:8080/training-data/load
//	curl -X POST http://localhost:8080/analysis-creation/create
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/iec62209/pkg/ux"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	configPath string
	port       int

	rootCmd = &cobra.Command{
		Use:   "iec62209",
		Short: "IEC 62209 SAR measurement system validation service",
		Long: `iec62209 serves the model validation workflow of IEC 62209-3:
sample planning, model creation, model confirmation and critical
data space search, with PDF reports for each stage.`,
		SilenceUsage: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP service",
		RunE:  runServe, // Defined in serve.go
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run:   runVersion, // Defined in version.go
	}
)

func init() {
	serveCmd.Flags().StringVarP(&configPath, "config", "c", os.Getenv("IEC62209_CONFIG"), "Path to a YAML config file")
	serveCmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (overrides server.addr)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		ux.NewPrinter(os.Stderr).Error(err.Error())
		os.Exit(1)
	}
}
