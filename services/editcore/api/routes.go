// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RegisterRoutes registers the edit endpoints under rg.
//
//	GET  /health
//	POST /edits/preview
//	POST /edits/apply
//	POST /edits/recover
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	rg.GET("/health", handlers.HandleHealth)

	edits := rg.Group("/edits")
	{
		edits.POST("/preview", handlers.HandlePreview)
		edits.POST("/apply", handlers.HandleApply)
		edits.POST("/recover", handlers.HandleRecover)
	}
}

// NewRouter builds the engine router with recovery and OpenTelemetry
// middleware. A non-nil metrics handler is served at /metrics.
func NewRouter(handlers *Handlers, metrics http.Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("editcore"))

	RegisterRoutes(router.Group("/v1"), handlers)
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}
	return router
}
