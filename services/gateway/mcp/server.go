// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package mcp implements the Model Context Protocol endpoint: JSON-RPC 2.0
// over HTTP POST (single and batch), an SSE stream per session with a
// keep-alive heartbeat, and session teardown over DELETE.
//
// Sessions are implicit: initialize creates one and every response echoes the
// Mcp-Session-Id header. Protocol version negotiation prefers the newest
// mutually supported version.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/ModelForge/services/gateway/config"
	"github.com/AleutianAI/ModelForge/services/gateway/dispatch"
	"github.com/AleutianAI/ModelForge/services/gateway/registry"
	"github.com/AleutianAI/ModelForge/services/gateway/session"
	"github.com/AleutianAI/ModelForge/services/gateway/tool"
	"github.com/AleutianAI/ModelForge/services/gateway/trace"
	"github.com/AleutianAI/ModelForge/services/gateway/usecase"
)

// SessionHeader carries the session id on requests and responses.
const SessionHeader = "Mcp-Session-Id"

// ProtocolHeader carries the negotiated protocol version. Requests against an
// established session must match its pinned version; responses echo it.
const ProtocolHeader = "Mcp-Protocol-Version"

// supportedVersions is newest-first; negotiation picks the client's version
// when listed, else the newest.
var supportedVersions = []string{"2025-11-25", "2025-06-18", "2024-11-05"}

// Resource URIs the gateway serves.
const (
	resourceProjectState = "modelforge://project/state"
	resourceTraceLog     = "modelforge://trace/log"
)

// Server is the MCP endpoint.
type Server struct {
	cfg        *config.Config
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	sessions   *session.Store
	services   *usecase.Services
	traceStore *trace.Store
	log        *slog.Logger

	// OnShutdown is invoked (once, asynchronously) when a client calls the
	// shutdown method. Wired to the process shutdown in main.
	OnShutdown func()

	done chan struct{}
}

// NewServer wires the MCP endpoint.
func NewServer(cfg *config.Config, reg *registry.Registry, dispatcher *dispatch.Dispatcher,
	sessions *session.Store, services *usecase.Services, traceStore *trace.Store,
	log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		cfg:        cfg,
		registry:   reg,
		dispatcher: dispatcher,
		sessions:   sessions,
		services:   services,
		traceStore: traceStore,
		log:        log,
		done:       make(chan struct{}),
	}
}

// Close terminates all open SSE streams.
func (s *Server) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// Register mounts the endpoint on router at path.
func (s *Server) Register(router gin.IRouter, path string) {
	router.POST(path, s.handlePost)
	router.GET(path, s.handleSSE)
	router.DELETE(path, s.handleDelete)
}

// ===========================================================================
// POST: JSON-RPC
// ===========================================================================

func (s *Server) handlePost(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(nil, codeParseError, "unreadable body", nil))
		return
	}

	established := c.GetHeader(SessionHeader) != ""
	sess, ok := s.resolveSession(c)
	if !ok {
		return
	}
	c.Header(SessionHeader, sess.ID)
	if established && !s.checkProtocolVersion(c, sess) {
		return
	}

	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		var reqs []request
		if err := json.Unmarshal(body, &reqs); err != nil || len(reqs) == 0 {
			c.JSON(http.StatusBadRequest, errorResponse(nil, codeParseError, "malformed batch", nil))
			return
		}
		var out []response
		for i := range reqs {
			if resp := s.handleRequest(c, sess, &reqs[i]); resp != nil {
				out = append(out, *resp)
			}
		}
		c.Header(ProtocolHeader, sess.ProtocolVersion)
		if len(out) == 0 {
			c.Status(http.StatusAccepted)
			return
		}
		c.JSON(http.StatusOK, out)
		return
	}

	var req request
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(nil, codeParseError, "malformed request", nil))
		return
	}
	resp := s.handleRequest(c, sess, &req)
	// Initialize may have re-pinned the version; echo after handling.
	c.Header(ProtocolHeader, sess.ProtocolVersion)
	if resp == nil {
		c.Status(http.StatusAccepted)
		return
	}
	c.JSON(http.StatusOK, *resp)
}

// checkProtocolVersion enforces the pinned version on established sessions.
// A request without the header is accepted for older clients; a request with
// the wrong version is refused.
func (s *Server) checkProtocolVersion(c *gin.Context, sess *session.Session) bool {
	got := c.GetHeader(ProtocolHeader)
	if got != "" && got != sess.ProtocolVersion {
		c.JSON(http.StatusBadRequest, errorResponse(nil, codeInvalidRequest,
			fmt.Sprintf("session is pinned to protocol %s, request carried %s", sess.ProtocolVersion, got),
			map[string]any{"code": dataProtocolMismatch}))
		return false
	}
	c.Header(ProtocolHeader, sess.ProtocolVersion)
	return true
}

// resolveSession loads the session named by the request header, or creates an
// implicit one when the header is absent.
func (s *Server) resolveSession(c *gin.Context) (*session.Session, bool) {
	id := c.GetHeader(SessionHeader)
	if id == "" {
		return s.sessions.Create(supportedVersions[0]), true
	}
	sess, err := s.sessions.Get(id)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(nil, codeInvalidRequest, "session expired or unknown",
			map[string]any{"code": dataSessionExpired}))
		return nil, false
	}
	return sess, true
}

func (s *Server) handleRequest(c *gin.Context, sess *session.Session, req *request) *response {
	if req.JSONRPC != "2.0" {
		return respond(req, errorResponse(req.ID, codeInvalidRequest, "jsonrpc must be \"2.0\"", nil))
	}
	switch req.Method {
	case "initialize":
		return respond(req, s.initialize(sess, req))
	case "notifications/initialized":
		return nil
	case "ping":
		return respond(req, resultResponse(req.ID, map[string]any{}))
	case "shutdown":
		if s.OnShutdown != nil {
			go s.OnShutdown()
		}
		return respond(req, resultResponse(req.ID, map[string]any{}))
	case "tools/list":
		return respond(req, s.toolsList(req))
	case "tools/call":
		return respond(req, s.toolsCall(c, req))
	case "resources/list":
		return respond(req, s.resourcesList(req))
	case "resources/read":
		return respond(req, s.resourcesRead(c, req))
	case "resources/templates/list":
		return respond(req, s.resourceTemplates(req))
	default:
		return respond(req, errorResponse(req.ID, codeMethodNotFound, "unknown method "+req.Method, nil))
	}
}

// respond drops responses to notifications.
func respond(req *request, resp response) *response {
	if req.notification() {
		return nil
	}
	return &resp
}

// ===========================================================================
// Methods
// ===========================================================================

type initializeParams struct {
	ProtocolVersion string `json:"protocolVersion"`
	ClientInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"clientInfo"`
}

func (s *Server) initialize(sess *session.Session, req *request) response {
	var params initializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, codeInvalidParams, "malformed initialize params", nil)
		}
	}
	version := negotiateVersion(params.ProtocolVersion)
	if version == "" {
		return errorResponse(req.ID, codeInvalidParams,
			fmt.Sprintf("protocol version %q is not supported", params.ProtocolVersion),
			map[string]any{"code": dataProtocolMismatch, "supported": supportedVersions})
	}
	sess.ProtocolVersion = version

	formats, err := s.services.Formats.List(context.Background())
	if err != nil {
		s.log.Warn("format listing failed during initialize", "error", err)
	}
	return resultResponse(req.ID, map[string]any{
		"protocolVersion": version,
		"capabilities": map[string]any{
			"tools":     map[string]any{"listChanged": false},
			"resources": map[string]any{"listChanged": false},
		},
		"serverInfo": map[string]any{
			"name":    "modelforge-gateway",
			"version": s.cfg.PluginVersion,
		},
		"gateway": registry.BuildCapabilities(s.cfg, s.registry, formats),
	})
}

// negotiateVersion returns the version to pin, or "" when the client demands
// one the gateway does not speak. An empty client version takes the newest.
func negotiateVersion(client string) string {
	if client == "" {
		return supportedVersions[0]
	}
	for _, v := range supportedVersions {
		if v == client {
			return v
		}
	}
	// Anything newer than our newest downgrades; anything else is a mismatch.
	if client > supportedVersions[0] {
		return supportedVersions[0]
	}
	return ""
}

func (s *Server) toolsList(req *request) response {
	defs := s.registry.List()
	tools := make([]map[string]any, len(defs))
	for i, d := range defs {
		tools[i] = map[string]any{
			"name":        d.Name,
			"title":       d.Title,
			"description": d.Description,
			"inputSchema": d.InputSchema,
		}
	}
	return resultResponse(req.ID, map[string]any{
		"tools":        tools,
		"registryHash": s.registry.Hash(),
	})
}

type toolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (s *Server) toolsCall(c *gin.Context, req *request) response {
	var params toolsCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return errorResponse(req.ID, codeInvalidParams, "tools/call needs a tool name", nil)
	}
	resp := s.dispatcher.Call(c.Request.Context(), params.Name, params.Arguments, "tool")
	return resultResponse(req.ID, callToolResult(resp))
}

// callToolResult shapes the internal envelope into the MCP result. The
// envelope's ok field stays authoritative inside structuredContent; isError
// mirrors it for clients that only look at the MCP surface.
func callToolResult(resp *tool.Response) map[string]any {
	structured := map[string]any{"ok": resp.OK}
	if resp.OK {
		structured["data"] = resp.Data
	} else {
		structured["error"] = resp.Error
	}
	if len(resp.NextActions) > 0 {
		structured["nextActions"] = resp.NextActions
	}

	content := make([]tool.ContentBlock, 0, len(resp.Content)+1)
	if encoded, err := json.Marshal(structured); err == nil {
		content = append(content, tool.TextBlock(string(encoded)))
	}
	content = append(content, resp.Content...)

	return map[string]any{
		"content":           content,
		"structuredContent": structured,
		"isError":           !resp.OK,
	}
}

func (s *Server) resourcesList(req *request) response {
	return resultResponse(req.ID, map[string]any{
		"resources": []map[string]any{
			{
				"uri":         resourceProjectState,
				"name":        "Project State",
				"description": "Full snapshot of the open project.",
				"mimeType":    "application/json",
			},
			{
				"uri":         resourceTraceLog,
				"name":        "Trace Log",
				"description": "NDJSON trace of recent tool calls.",
				"mimeType":    "application/x-ndjson",
			},
		},
	})
}

func (s *Server) resourceTemplates(req *request) response {
	return resultResponse(req.ID, map[string]any{
		"resourceTemplates": []map[string]any{
			{
				"uriTemplate": "modelforge://texture/{textureId}",
				"name":        "Texture Pixels",
				"description": "PNG pixels of one texture.",
				"mimeType":    "image/png",
			},
		},
	})
}

type resourcesReadParams struct {
	URI string `json:"uri"`
}

func (s *Server) resourcesRead(c *gin.Context, req *request) response {
	var params resourcesReadParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.URI == "" {
		return errorResponse(req.ID, codeInvalidParams, "resources/read needs a uri", nil)
	}
	switch {
	case params.URI == resourceProjectState:
		resp := s.dispatcher.Call(c.Request.Context(), "get_project_state",
			json.RawMessage(`{"detail":"full"}`), "resource")
		encoded, err := json.Marshal(resp)
		if err != nil {
			return errorResponse(req.ID, codeInternalError, "state serialization failed", nil)
		}
		return resultResponse(req.ID, resourceContents(params.URI, "application/json", string(encoded)))

	case params.URI == resourceTraceLog:
		var sb strings.Builder
		for _, rec := range s.traceStore.Snapshot() {
			line, err := json.Marshal(rec)
			if err != nil {
				continue
			}
			sb.Write(line)
			sb.WriteByte('\n')
		}
		return resultResponse(req.ID, resourceContents(params.URI, "application/x-ndjson", sb.String()))

	case strings.HasPrefix(params.URI, "modelforge://texture/"):
		texID := strings.TrimPrefix(params.URI, "modelforge://texture/")
		args, _ := json.Marshal(map[string]any{"textureId": texID})
		resp := s.dispatcher.Call(c.Request.Context(), "read_texture", args, "resource")
		if !resp.OK {
			return errorResponse(req.ID, codeInvalidParams, resp.Error.Message, resp.Error)
		}
		if len(resp.Content) == 0 {
			return errorResponse(req.ID, codeInternalError, "texture produced no image", nil)
		}
		block := resp.Content[0]
		return resultResponse(req.ID, map[string]any{
			"contents": []map[string]any{{
				"uri":      params.URI,
				"mimeType": block.MimeType,
				"blob":     block.Data,
			}},
		})

	default:
		return errorResponse(req.ID, codeInvalidParams, "unknown resource "+params.URI, nil)
	}
}

func resourceContents(uri, mimeType, text string) map[string]any {
	return map[string]any{
		"contents": []map[string]any{{
			"uri":      uri,
			"mimeType": mimeType,
			"text":     text,
		}},
	}
}

// ===========================================================================
// SSE
// ===========================================================================

func (s *Server) handleSSE(c *gin.Context) {
	if !strings.Contains(c.GetHeader("Accept"), "text/event-stream") {
		c.JSON(http.StatusNotAcceptable, gin.H{"error": "Accept must include text/event-stream"})
		return
	}
	id := c.GetHeader(SessionHeader)
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing " + SessionHeader + " header"})
		return
	}
	sess, err := s.sessions.Get(id)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session expired or unknown", "code": dataSessionExpired})
		return
	}
	if !s.checkProtocolVersion(c, sess) {
		return
	}
	conn, err := s.sessions.OpenSSE(id)
	if err != nil {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error": gin.H{"message": dataTooManySSE, "detail": err.Error()},
		})
		return
	}
	defer s.sessions.CloseSSE(conn)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header(SessionHeader, id)
	c.Writer.Flush()

	ticker := time.NewTicker(s.cfg.Session.KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := fmt.Fprint(c.Writer, ": keep-alive\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		case msg := <-conn.Messages():
			if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", msg.Event, msg.Data); err != nil {
				return
			}
			c.Writer.Flush()
		case <-conn.Closed():
			// Session teardown. Drain anything queued (the final close
			// event in particular) before ending the stream.
			for {
				select {
				case msg := <-conn.Messages():
					fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", msg.Event, msg.Data)
				default:
					c.Writer.Flush()
					return
				}
			}
		case <-c.Request.Context().Done():
			return
		case <-s.done:
			return
		}
	}
}

// ===========================================================================
// DELETE
// ===========================================================================

func (s *Server) handleDelete(c *gin.Context) {
	id := c.GetHeader(SessionHeader)
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing " + SessionHeader + " header"})
		return
	}
	s.sessions.Delete(id)
	c.Status(http.StatusNoContent)
}
