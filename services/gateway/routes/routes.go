// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routes wires the gateway's HTTP surface: the MCP endpoint, health
// and metrics, and the v1 pipeline administration API.
package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/ModelForge/services/gateway/config"
	"github.com/AleutianAI/ModelForge/services/gateway/mcp"
	"github.com/AleutianAI/ModelForge/services/gateway/pipeline"
)

// SetupRoutes mounts every gateway route on router.
//
// # Inputs
//
//   - router: the gin engine to mount on.
//   - cfg: gateway configuration; cfg.MCPPath places the MCP endpoint.
//   - server: the MCP server (POST + SSE + session delete).
//   - pipelineStore: workspace pipeline store for the v1 admin API; nil
//     disables those routes.
//   - gatherer: prometheus registry backing /metrics; nil falls back to the
//     default registry.
func SetupRoutes(router *gin.Engine, cfg *config.Config, server *mcp.Server,
	pipelineStore *pipeline.Store, gatherer prometheus.Gatherer) {

	router.GET("/health", healthCheck(cfg))

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	server.Register(router, cfg.MCPPath)

	if pipelineStore != nil {
		v1 := router.Group("/v1/workspaces/:workspace")
		{
			v1.POST("/projects", registerProject(pipelineStore))
			v1.POST("/folders", createFolder(pipelineStore))
			v1.POST("/jobs", submitJob(pipelineStore))
			v1.POST("/jobs/claim", claimJob(pipelineStore))
			v1.GET("/jobs/:jobId", getJob(pipelineStore))
			v1.POST("/jobs/:jobId/complete", completeJob(pipelineStore))
			v1.POST("/jobs/:jobId/fail", failJob(pipelineStore))
			v1.GET("/events", listEvents(pipelineStore))
		}
	}
}

func healthCheck(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"version": cfg.PluginVersion,
		})
	}
}
