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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/iec62209/services/sar/observability"
	"github.com/AleutianAI/iec62209/services/sar/telemetry"
)

// getOrCreateRequestID gets or creates a request ID.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

// requestIDKey is the gin context key of the request ID.
const requestIDKey = "request_id"

// requestID assigns every request an ID before the handler runs.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(requestIDKey, getOrCreateRequestID(c))
		c.Next()
	}
}

// requestLogger returns a logger carrying the request ID, the handler
// name and the trace of the request.
func (h *Handlers) requestLogger(c *gin.Context, handler string) *slog.Logger {
	id := c.GetString(requestIDKey)
	if id == "" {
		id = getOrCreateRequestID(c)
	}
	logger := h.svc.logger.With("request_id", id, "handler", handler)
	return telemetry.LoggerWithTrace(c.Request.Context(), logger)
}

// rateLimit rejects requests beyond the limiter's budget with 429. A nil
// limiter admits everything.
func rateLimit(limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil || limiter.Allow() {
			c.Next()
			return
		}
		observability.ObserveRateLimited(c.FullPath())
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
			Error: "Too many requests, retry shortly",
			Code:  codeRateLimited,
		})
	}
}
