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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all Quill routes with the router.
//
// Description:
//
//	Registers all /v1/quill/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Core Endpoints:
//
//	POST /v1/quill/execute-request - Compile a prompt and run the query
//	POST /v1/quill/compile - Compile a prompt without executing
//
// Discovery Endpoints:
//
//	GET  /v1/quill/examples - Example prompts
//	GET  /v1/quill/endpoints - Detectable target endpoints
//	GET  /v1/quill/history - Recent compilation journal entries
//
// Health Endpoints:
//
//	GET  /v1/quill/health - Health check
//	GET  /v1/quill/ready - Readiness check
//
// Example:
//
//	service, _ := quill.NewService(ctx, quill.DefaultServiceConfig())
//	handlers := quill.NewHandlers(service)
//
//	v1 := router.Group("/v1")
//	quill.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	quill := rg.Group("/quill")
	{
		// Compilation and execution
		quill.POST("/execute-request", handlers.HandleExecuteRequest)
		quill.POST("/compile", handlers.HandleCompile)

		// Discovery
		quill.GET("/examples", handlers.HandleExamples)
		quill.GET("/endpoints", handlers.HandleEndpoints)
		quill.GET("/history", handlers.HandleHistory)

		// Health checks
		quill.GET("/health", handlers.HandleHealth)
		quill.GET("/ready", handlers.HandleReady)
	}
}
