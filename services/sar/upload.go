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
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/iec62209/pkg/validation"
	"github.com/AleutianAI/iec62209/services/sar/sarerr"
)

// uploadField is the multipart field every upload endpoint reads.
const uploadField = "file"

// stagedUpload is an uploaded file written to the staging folder.
type stagedUpload struct {
	// Path is the staged copy, named with a random UUID.
	Path string

	// Name is the client's file name, used in messages.
	Name string
}

// Remove deletes the staged copy.
func (u stagedUpload) Remove() {
	_ = os.Remove(u.Path)
}

// formFile reads the upload field, bounded by the configured size, and
// returns it with the sanitized client file name.
func (h *Handlers) formFile(c *gin.Context) (*multipart.FileHeader, string, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.svc.cfg.MaxUploadBytes)
	fh, err := c.FormFile(uploadField)
	if err != nil {
		return nil, "", sarerr.Wrap(sarerr.ErrParse, "sar.upload", "There was an error uploading the file", err)
	}
	name, err := validation.SanitizeFileName(fh.Filename)
	if err != nil {
		return nil, "", sarerr.Wrap(sarerr.ErrParse, "sar.upload", "There was an error uploading the file", err)
	}
	return fh, name, nil
}

// stage copies the upload to a uniquely named file in the staging
// folder. The caller must Remove it on every path.
//
// # Outputs
//
//   - stagedUpload: the staged file.
//   - error: ParseError when the request carries no file, IoError when the
//     copy cannot be written.
func (h *Handlers) stage(c *gin.Context) (stagedUpload, error) {
	const op = "sar.stage"
	fh, name, err := h.formFile(c)
	if err != nil {
		return stagedUpload{}, err
	}
	path := filepath.Join(h.svc.cfg.StagingDir, uuid.NewString()+filepath.Ext(name))

	src, err := fh.Open()
	if err != nil {
		return stagedUpload{}, sarerr.Wrap(sarerr.ErrIO, op, "could not open upload", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return stagedUpload{}, sarerr.Wrap(sarerr.ErrIO, op, "could not stage upload", err)
	}
	_, copyErr := io.Copy(dst, src)
	closeErr := dst.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(path)
		return stagedUpload{}, sarerr.Wrap(sarerr.ErrIO, op, fmt.Sprintf("could not stage %s", name), firstErr(copyErr, closeErr))
	}
	return stagedUpload{Path: path, Name: name}, nil
}

// readUpload returns the uploaded bytes and the client's file name
// without staging.
func (h *Handlers) readUpload(c *gin.Context) ([]byte, string, error) {
	fh, name, err := h.formFile(c)
	if err != nil {
		return nil, "", err
	}
	f, err := fh.Open()
	if err != nil {
		return nil, "", sarerr.Wrap(sarerr.ErrIO, "sar.readUpload", "could not open upload", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, "", sarerr.Wrap(sarerr.ErrIO, "sar.readUpload", "could not read upload", err)
	}
	return data, name, nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
