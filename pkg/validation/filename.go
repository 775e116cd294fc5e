// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for client-supplied
// names.
//
// Uploaded file names are echoed in error messages, stored in exported
// model metadata and used in response headers. These validators keep them
// to a single printable path element.
package validation

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// MaxFileNameLength is the longest accepted file name, in bytes.
const MaxFileNameLength = 255

// fileNamePattern matches printable names without path separators, quotes
// or control characters.
var fileNamePattern = regexp.MustCompile(`^[^/\\"\x00-\x1f\x7f]+$`)

// ValidateFileName validates an uploaded file name.
//
// Valid names:
//   - 1-255 bytes
//   - no path separators (/ or \)
//   - no double quotes or control characters
//   - not "." or ".."
//
// Example:
//
//	if err := validation.ValidateFileName(name); err != nil {
//	    return fmt.Errorf("invalid upload: %w", err)
//	}
//	// Safe to use in a Content-Disposition header
func ValidateFileName(name string) error {
	if name == "" {
		return fmt.Errorf("file name cannot be empty")
	}
	if len(name) > MaxFileNameLength {
		return fmt.Errorf("file name is longer than %d bytes", MaxFileNameLength)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("invalid file name: %q", name)
	}
	if !fileNamePattern.MatchString(name) {
		return fmt.Errorf("invalid file name: %q (separators, quotes and control characters are not allowed)", name)
	}
	return nil
}

// SanitizeFileName reduces a client path to its last element and validates
// it. Browsers on Windows may send a full path with backslashes.
//
//	safe, err := validation.SanitizeFileName(`C:\bench\training.csv`)
//	// safe == "training.csv"
func SanitizeFileName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if i := strings.LastIndex(name, `\`); i >= 0 {
		name = name[i+1:]
	}
	if name != "" {
		name = path.Base(name)
	}
	if err := ValidateFileName(name); err != nil {
		return "", err
	}
	return name, nil
}
