// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package quill

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Handlers adapts the Service to gin.
type Handlers struct {
	svc *Service
}

// NewHandlers creates the handler set.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ExecuteRequest is the inbound body for execute-request and compile.
type ExecuteRequest struct {
	// Request is the free-form natural-language prompt.
	Request string `json:"request" binding:"required"`
}

func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetHeader("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}

// HandleExecuteRequest compiles a prompt and runs it against the
// target system.
//
// Description:
//
//	Compilation always yields a structurally valid qualification (in
//	non-strict mode); execution failures degrade to a diagnostic in
//	the response rather than an error status.
//
// Request Body:
//
//	ExecuteRequest (request required)
//
// Response:
//
//	200 OK: format.Response
//	400 Bad Request: Missing or malformed body
//	502 Bad Gateway: Strict-mode compilation failure
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleExecuteRequest(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleExecuteRequest")

	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "request field is required",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	resp, err := h.svc.Execute(c.Request.Context(), req.Request)
	if err != nil {
		logger.Error("compilation failed", slog.Any("error", err))
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error: err.Error(),
			Code:  "COMPILE_FAILED",
		})
		return
	}

	logger.Info("request executed",
		slog.String("strategy", resp.Strategy),
		slog.String("endpoint", resp.Endpoint),
		slog.Int("count", resp.Count))
	c.JSON(http.StatusOK, resp)
}

// HandleCompile compiles a prompt without executing it.
//
// Response:
//
//	200 OK: qualification, strategy, diagnostics
//	400 Bad Request: Missing or malformed body
//	502 Bad Gateway: Strict-mode compilation failure
func (h *Handlers) HandleCompile(c *gin.Context) {
	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "request field is required",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	result, err := h.svc.Compile(c.Request.Context(), req.Request)
	if err != nil {
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error: err.Error(),
			Code:  "COMPILE_FAILED",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"qualification": result.Payload,
		"strategy":      result.Strategy,
		"included_ids":  result.IncludedIDs,
		"diagnostics":   result.Diagnostics,
	})
}

// HandleHistory lists recent journal entries.
//
// Query Parameters:
//
//	limit - maximum entries to return (default 25)
//
// Response:
//
//	200 OK: {entries: [...]}
//	503 Service Unavailable: Journaling not configured
func (h *Handlers) HandleHistory(c *gin.Context) {
	if !h.svc.HistoryEnabled() {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "history journaling not configured",
			Code:  "HISTORY_NOT_AVAILABLE",
		})
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	entries, err := h.svc.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "HISTORY_READ_FAILED",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// examplePrompts are shown by the examples endpoint so callers can see
// the phrasing the compiler understands.
var examplePrompts = []string{
	"Show me all open tickets",
	"high priority incidents from last week",
	"requests assigned to John Doe",
	"urgent unresolved tickets created today",
	"tickets tagged with \"network\" and \"vpn\"",
	"everything except closed requests",
	"INC-1042",
}

// HandleExamples lists example prompts.
func (h *Handlers) HandleExamples(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"examples": examplePrompts})
}

// HandleEndpoints lists the detectable target endpoints and the
// keywords that select them.
func (h *Handlers) HandleEndpoints(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"endpoints": h.svc.Endpoints()})
}

// HandleHealth is the liveness check.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleReady is the readiness check.
func (h *Handlers) HandleReady(c *gin.Context) {
	if err := h.svc.Ready(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"ready":  false,
			"reason": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true})
}
