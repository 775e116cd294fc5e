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
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// Sink archives rendered reports.
type Sink interface {
	// Store writes pdf under name and returns where it was stored.
	Store(ctx context.Context, name string, pdf []byte) (string, error)
}

// Archive stores pdf under a timestamped name derived from stage.
func Archive(ctx context.Context, sink Sink, stage Stage, at time.Time, pdf []byte) (string, error) {
	if sink == nil {
		return "", nil
	}
	return sink.Store(ctx, filename(stage, at), pdf)
}

// =============================================================================
// Local directory
// =============================================================================

// FileSink writes reports into a local directory.
type FileSink struct {
	Dir string
}

// NewFileSink creates dir if needed.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create report directory %s: %w", dir, err)
	}
	return &FileSink{Dir: dir}, nil
}

// Store implements Sink.
func (s *FileSink) Store(_ context.Context, name string, pdf []byte) (string, error) {
	if name != filepath.Base(name) || name == "." || name == "" {
		return "", fmt.Errorf("invalid report name %q", name)
	}
	dst := filepath.Join(s.Dir, name)
	if err := os.WriteFile(dst, pdf, 0o640); err != nil {
		return "", fmt.Errorf("failed to write report %s: %w", dst, err)
	}
	return dst, nil
}

// =============================================================================
// Google Cloud Storage
// =============================================================================

// GCSSink uploads reports to a bucket.
type GCSSink struct {
	client *storage.Client
	Bucket string
	Prefix string
}

// NewGCSSink opens a storage client. credentialsFile may be empty to use
// application default credentials.
func NewGCSSink(ctx context.Context, bucket, prefix, credentialsFile string) (*GCSSink, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		if _, err := os.Stat(credentialsFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s", credentialsFile)
		}
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &GCSSink{client: client, Bucket: bucket, Prefix: prefix}, nil
}

// Store implements Sink.
func (s *GCSSink) Store(ctx context.Context, name string, pdf []byte) (string, error) {
	object := path.Join(s.Prefix, name)
	w := s.client.Bucket(s.Bucket).Object(object).NewWriter(ctx)
	w.ContentType = "application/pdf"
	w.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := io.Copy(w, bytes.NewReader(pdf)); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to upload report to GCS object %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close GCS writer for %s: %w", object, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.Bucket, object), nil
}

// Close releases the storage client.
func (s *GCSSink) Close() error {
	return s.client.Close()
}
