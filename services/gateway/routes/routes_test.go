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
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ModelForge/services/gateway/config"
	"github.com/AleutianAI/ModelForge/services/gateway/dispatch"
	"github.com/AleutianAI/ModelForge/services/gateway/editor"
	"github.com/AleutianAI/ModelForge/services/gateway/mcp"
	"github.com/AleutianAI/ModelForge/services/gateway/observability"
	"github.com/AleutianAI/ModelForge/services/gateway/pipeline"
	"github.com/AleutianAI/ModelForge/services/gateway/project"
	"github.com/AleutianAI/ModelForge/services/gateway/registry"
	"github.com/AleutianAI/ModelForge/services/gateway/session"
	"github.com/AleutianAI/ModelForge/services/gateway/storage/badgerstore"
	"github.com/AleutianAI/ModelForge/services/gateway/trace"
	"github.com/AleutianAI/ModelForge/services/gateway/usecase"
)

type testEnv struct {
	router *gin.Engine
	cfg    *config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	t.Setenv("MODELFORGE_CONFIG", "")

	cfg, err := config.Load("")
	require.NoError(t, err)

	reg, err := registry.New(cfg.Limits)
	require.NoError(t, err)

	mem := editor.NewMemory()
	tmp, err := editor.NewDirTmpStore(t.TempDir())
	require.NoError(t, err)
	services := usecase.New(mem, mem, mem, nil, tmp, project.NewRevisionStore(cfg.RevisionHistory), cfg, nil)

	promReg := prometheus.NewRegistry()
	metrics := observability.New(promReg)

	store := trace.NewStore(cfg.Trace.MaxEntries, cfg.Trace.MaxBytes)
	recorder := trace.NewRecorder(store, cfg.PluginVersion, "memory", nil)
	dispatcher := dispatch.New(reg, services, recorder, metrics, cfg.AutoRetry, nil)

	sessions := session.NewStore(cfg.Session, metrics, nil)
	t.Cleanup(sessions.Stop)

	server := mcp.NewServer(cfg, reg, dispatcher, sessions, services, store, nil)
	t.Cleanup(server.Close)

	persistence, err := badgerstore.Open(badgerstore.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = persistence.Close() })
	pipelineStore := pipeline.NewStore(persistence, cfg.Pipeline, nil)

	router := gin.New()
	SetupRoutes(router, cfg, server, pipelineStore, promReg)
	return &testEnv{router: router, cfg: cfg}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok"`)
}

func TestMetricsEndpoint(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMCPEndpointMounted(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, http.MethodPost, e.cfg.MCPPath, map[string]any{
		"jsonrpc": "2.0", "id": 1, "method": "ping",
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("Mcp-Session-Id"))
}

func TestJobAdministrationFlow(t *testing.T) {
	e := newTestEnv(t)
	base := "/v1/workspaces/ws1"

	w := e.do(t, http.MethodPost, base+"/projects", map[string]any{
		"id": "p1", "name": "robot", "formatId": "bedrock",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodPost, base+"/jobs", map[string]any{"kind": "export", "projectId": "p1"})
	require.Equal(t, http.StatusCreated, w.Code)
	var job pipeline.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Equal(t, pipeline.JobQueued, job.State)

	w = e.do(t, http.MethodPost, base+"/jobs/claim", map[string]any{"workerId": "worker-a"})
	require.Equal(t, http.StatusOK, w.Code)
	var claimed pipeline.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &claimed))
	assert.Equal(t, job.ID, claimed.ID)

	// Queue drained: claim answers 204.
	w = e.do(t, http.MethodPost, base+"/jobs/claim", map[string]any{"workerId": "worker-b"})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = e.do(t, http.MethodPost, base+"/jobs/"+job.ID+"/complete", map[string]any{
		"result": map[string]any{"artifacts": 2},
	})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = e.do(t, http.MethodGet, base+"/jobs/"+job.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), pipeline.JobCompleted)

	w = e.do(t, http.MethodGet, base+"/events?since=0", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var events struct {
		Events []pipeline.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	assert.GreaterOrEqual(t, len(events.Events), 3)
}

func TestUnknownJobIs404(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, http.MethodGet, "/v1/workspaces/ws1/jobs/job_missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCompleteWithoutClaimConflicts(t *testing.T) {
	e := newTestEnv(t)
	base := "/v1/workspaces/ws1"

	w := e.do(t, http.MethodPost, base+"/jobs", map[string]any{"kind": "export"})
	require.Equal(t, http.StatusCreated, w.Code)
	var job pipeline.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))

	w = e.do(t, http.MethodPost, base+"/jobs/"+job.ID+"/complete", map[string]any{})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestFolderParentMustExist(t *testing.T) {
	e := newTestEnv(t)
	base := "/v1/workspaces/ws1"

	w := e.do(t, http.MethodPost, base+"/folders", map[string]any{"name": "models"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = e.do(t, http.MethodPost, base+"/folders", map[string]any{
		"name": "orphan", "parentId": "folder_missing",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
