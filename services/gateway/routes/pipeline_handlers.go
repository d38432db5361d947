// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/ModelForge/services/gateway/pipeline"
)

// pipelineStatus maps store errors onto HTTP status codes.
func pipelineStatus(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrJobNotRunning):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrLockTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(pipelineStatus(err), gin.H{"error": err.Error()})
}

func registerProject(store *pipeline.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var rec pipeline.ProjectRecord
		if err := c.ShouldBindJSON(&rec); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := store.RegisterProject(c.Request.Context(), c.Param("workspace"), rec); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": rec.ID})
	}
}

func createFolder(store *pipeline.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Name     string `json:"name"`
			ParentID string `json:"parentId"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		folder, err := store.CreateFolder(c.Request.Context(), c.Param("workspace"), body.Name, body.ParentID)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, folder)
	}
}

func submitJob(store *pipeline.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var spec pipeline.JobSpec
		if err := c.ShouldBindJSON(&spec); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		job, err := store.SubmitJob(c.Request.Context(), c.Param("workspace"), spec)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, job)
	}
}

func claimJob(store *pipeline.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			WorkerID string `json:"workerId"`
		}
		if err := c.ShouldBindJSON(&body); err != nil || body.WorkerID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "workerId is required"})
			return
		}
		job, err := store.ClaimJob(c.Request.Context(), c.Param("workspace"), body.WorkerID)
		if err != nil {
			fail(c, err)
			return
		}
		if job == nil {
			// Nothing runnable; the worker should poll again later.
			c.Status(http.StatusNoContent)
			return
		}
		c.JSON(http.StatusOK, job)
	}
}

func getJob(store *pipeline.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, err := store.GetJob(c.Request.Context(), c.Param("workspace"), c.Param("jobId"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, job)
	}
}

func completeJob(store *pipeline.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Result json.RawMessage `json:"result"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		err := store.CompleteJob(c.Request.Context(), c.Param("workspace"), c.Param("jobId"), body.Result)
		if err != nil {
			fail(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func failJob(store *pipeline.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Reason string `json:"reason"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		err := store.FailJob(c.Request.Context(), c.Param("workspace"), c.Param("jobId"), body.Reason)
		if err != nil {
			fail(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func listEvents(store *pipeline.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		since, _ := strconv.ParseUint(c.DefaultQuery("since", "0"), 10, 64)
		var events []pipeline.Event
		var err error
		if projectID := c.Query("projectId"); projectID != "" {
			events, err = store.ProjectEventsSince(c.Request.Context(), c.Param("workspace"), projectID, since)
		} else {
			events, err = store.EventsSince(c.Request.Context(), c.Param("workspace"), since)
		}
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"events": events})
	}
}
