// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sarerr

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Message(t *testing.T) {
	assert.Equal(t, "no sample loaded", Precondition("op", "no sample loaded").Error())
	assert.Equal(t, "not loaded", New(ErrNotLoaded, "op", "").Error())
	assert.Equal(t, "write failed: file does not exist",
		Wrap(ErrIO, "op", "write failed", fs.ErrNotExist).Error())
}

func TestError_IsKindAndCause(t *testing.T) {
	err := fmt.Errorf("handler: %w", Wrap(ErrIO, "dataset.ExportCSV", "write failed", fs.ErrPermission))

	assert.True(t, errors.Is(err, ErrIO))
	assert.True(t, errors.Is(err, fs.ErrPermission))
	assert.False(t, errors.Is(err, ErrParse))
	assert.Equal(t, ErrIO, Kind(err))
}

func TestKind_Unclassified(t *testing.T) {
	assert.Nil(t, Kind(errors.New("plain")))
	assert.Nil(t, Kind(nil))
}

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{Precondition("op", "x"), "PRECONDITION_FAILED"},
		{New(ErrParse, "op", "x"), "PARSE_ERROR"},
		{New(ErrGeneration, "op", "x"), "GENERATION_ERROR"},
		{New(ErrDomain, "op", "x"), "DOMAIN_ERROR"},
		{New(ErrFit, "op", "x"), "FIT_ERROR"},
		{fmt.Errorf("wrapped: %w", New(ErrIO, "op", "x")), "IO_ERROR"},
		{NotLoaded("op", "x"), "NOT_LOADED"},
		{errors.New("plain"), "INTERNAL"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Code(tt.err))
		})
	}
}
