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
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/iec62209/services/sar/engine"
	"github.com/AleutianAI/iec62209/services/sar/sarerr"
)

// Codes for failures raised by the HTTP layer itself.
const (
	codeInvalidRequest = "INVALID_REQUEST"
	codeUnavailable    = "ENGINE_UNAVAILABLE"
	codeRateLimited    = "RATE_LIMITED"
)

// statusFor maps a classified error to an HTTP status.
//
// An unreachable engine is reported as 502 whatever the operation
// classified it as.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, sarerr.ErrPrecondition), errors.Is(err, sarerr.ErrNotLoaded):
		return http.StatusConflict
	case errors.Is(err, sarerr.ErrParse):
		return http.StatusBadRequest
	case errors.Is(err, sarerr.ErrDomain):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// codeFor returns the error code of err.
func codeFor(err error) string {
	if errors.Is(err, engine.ErrUnavailable) {
		return codeUnavailable
	}
	return sarerr.Code(err)
}

// abortWithError writes the error response for err. Server-side failures
// are logged at error level, client mistakes at warn.
func abortWithError(c *gin.Context, logger *slog.Logger, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", "status", status, "error", err)
	} else {
		logger.Warn("Request rejected", "status", status, "error", err)
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Error: err.Error(), Code: codeFor(err)})
}

// abortInvalid writes a 400 for a malformed request.
func abortInvalid(c *gin.Context, logger *slog.Logger, msg string, err error) {
	logger.Warn(msg, "error", err)
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: msg, Code: codeInvalidRequest})
}
