// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dispatch routes validated tool calls to the use-case services.
//
// # Description
//
// Every call runs the same pipeline: resolve the tool, validate the payload
// against its schema, apply the revision guard, execute, decorate the
// response (image blocks, next actions), attach state and diff, normalize
// the error shape, and record a trace step. Stateful retry-class tools are
// re-executed once after a revision mismatch when a newer revision exists.
//
// Thread Safety:
//
//	Dispatcher is read-only after New and safe for concurrent use; mutating
//	tools are serialized by the per-call mutex so concurrent sessions cannot
//	interleave edits.
package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/ModelForge/services/gateway/observability"
	"github.com/AleutianAI/ModelForge/services/gateway/project"
	"github.com/AleutianAI/ModelForge/services/gateway/registry"
	"github.com/AleutianAI/ModelForge/services/gateway/schema"
	"github.com/AleutianAI/ModelForge/services/gateway/tool"
	"github.com/AleutianAI/ModelForge/services/gateway/trace"
	"github.com/AleutianAI/ModelForge/services/gateway/usecase"
)

// Dispatcher executes tool calls end to end.
type Dispatcher struct {
	registry  *registry.Registry
	services  *usecase.Services
	handlers  map[string]Handler
	recorder  *trace.Recorder
	metrics   *observability.Metrics
	autoRetry bool
	log       *slog.Logger

	// editMu serializes stateful tools; the Editor port is not reentrant.
	editMu sync.Mutex
}

// New wires the dispatcher. recorder and metrics may be nil.
func New(reg *registry.Registry, services *usecase.Services, recorder *trace.Recorder,
	metrics *observability.Metrics, autoRetry bool, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		registry:  reg,
		services:  services,
		handlers:  Handlers(services),
		recorder:  recorder,
		metrics:   metrics,
		autoRetry: autoRetry,
		log:       log,
	}
}

// envelope is the cross-cutting part of every tool payload.
type envelope struct {
	IfRevision   string
	IncludeState bool
	IncludeDiff  bool
	HasState     bool
	HasDiff      bool
}

// Call runs one tool call. route labels the transport for tracing ("tool"
// for MCP tools/call, "resource" for resource reads).
func (d *Dispatcher) Call(ctx context.Context, name string, args json.RawMessage, route string) *tool.Response {
	start := time.Now()
	resp := d.dispatch(ctx, name, args)
	normalize(resp)

	code := "ok"
	if !resp.OK {
		code = string(resp.Error.Code)
	}
	d.metrics.ObserveToolCall(name, code, time.Since(start).Seconds())
	if d.recorder != nil {
		d.recorder.Record(name, args, resp, trace.StepContext{
			Route: route,
			State: resp.Data["state"],
			Diff:  resp.Data["diff"],
		})
	}
	return resp
}

func (d *Dispatcher) dispatch(ctx context.Context, name string, args json.RawMessage) *tool.Response {
	// Resolve.
	def := d.registry.Get(name)
	if def == nil {
		return tool.Fail(tool.CodeInvalidPayload, "unknown tool "+name,
			map[string]any{"reason": tool.ReasonUnknownTool})
	}
	handler := d.handlers[name]
	if handler == nil {
		return tool.Fail(tool.CodeNotImplemented, "tool "+name+" has no handler", nil)
	}

	// Validate against the registered schema.
	generic, fail := decodeGeneric(args)
	if fail != nil {
		return fail
	}
	if verr := schema.Validate(def.InputSchema, generic); verr != nil {
		return tool.Fail(tool.CodeInvalidPayload, verr.Message,
			map[string]any{"reason": "schema_violation", "path": verr.Path})
	}
	env := readEnvelope(generic)

	if !def.Stateful() {
		resp := handler(ctx, args)
		d.decorate(name, args, resp)
		return resp
	}

	d.editMu.Lock()
	defer d.editMu.Unlock()

	// Revision guard.
	baseRevision := ""
	if env.IfRevision != "" || def.RequiresRevision {
		current, _, err := d.services.CurrentRevision(ctx)
		if err == nil {
			baseRevision = current
		}
		if def.RequiresRevision && env.IfRevision == "" {
			return tool.Fail(tool.CodeRevisionMissing, "ifRevision is required for "+name,
				map[string]any{"current": baseRevision})
		}
		if env.IfRevision != "" && baseRevision != "" && env.IfRevision != baseRevision {
			if !(d.autoRetry && def.Kind == registry.KindStatefulRetry) {
				return tool.Fail(tool.CodeRevisionMismatch, "project revision has moved",
					map[string]any{"expected": env.IfRevision, "current": baseRevision})
			}
			// A newer revision exists: retry once against it.
			d.metrics.ObserveRetry()
			d.log.Debug("revision mismatch, retrying once", "tool", name,
				"expected", env.IfRevision, "current", baseRevision)
			resp := handler(ctx, args)
			if resp.OK {
				resp.Data["retried"] = true
			}
			d.decorate(name, args, resp)
			d.attach(ctx, def, env, baseRevision, resp)
			return resp
		}
	}

	resp := handler(ctx, args)
	d.decorate(name, args, resp)
	d.attach(ctx, def, env, baseRevision, resp)
	return resp
}

// attach adds {revision, state?, diff?} when asked for (or when the tool
// defaults them on): into the response data on success, into error.details on
// failure so a failed call still tells the agent where the project stands.
func (d *Dispatcher) attach(ctx context.Context, def *registry.Definition, env envelope, baseRevision string, resp *tool.Response) {
	wantState := def.AttachStateDefault
	if env.HasState {
		wantState = env.IncludeState
	}
	wantDiff := def.AttachDiffDefault
	if env.HasDiff {
		wantDiff = env.IncludeDiff
	}
	if !wantState && !wantDiff {
		return
	}
	current, snap, err := d.services.CurrentRevision(ctx)
	if err != nil {
		d.log.Warn("state attachment skipped", "tool", def.Name, "error", err)
		return
	}

	target := resp.Data
	if !resp.OK {
		if resp.Error == nil {
			return
		}
		if resp.Error.Details == nil {
			resp.Error.Details = map[string]any{}
		}
		target = resp.Error.Details
		target["revision"] = current
	}

	if wantState {
		target["state"] = snap
	}
	if wantDiff {
		var base *project.Snapshot
		if env.IfRevision != "" {
			base = d.services.Revisions.Get(env.IfRevision)
		}
		if base == nil && baseRevision != "" {
			base = d.services.Revisions.Get(baseRevision)
		}
		diff, err := project.Diff(base, snap, true)
		if err != nil {
			d.log.Warn("diff attachment skipped", "tool", def.Name, "error", err)
			return
		}
		target["diff"] = diff
	}
}

// normalize guarantees every error carries a non-empty details.reason.
func normalize(resp *tool.Response) {
	if resp.OK || resp.Error == nil {
		return
	}
	if resp.Error.Details == nil {
		resp.Error.Details = map[string]any{}
	}
	if r, _ := resp.Error.Details["reason"].(string); r == "" {
		resp.Error.Details["reason"] = string(resp.Error.Code)
	}
}

func decodeGeneric(raw json.RawMessage) (any, *tool.Response) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, tool.Fail(tool.CodeInvalidPayload, "arguments are not valid JSON", nil)
	}
	return generic, nil
}

func readEnvelope(generic any) envelope {
	env := envelope{}
	obj, ok := generic.(map[string]any)
	if !ok {
		return env
	}
	if v, ok := obj["ifRevision"].(string); ok {
		env.IfRevision = v
	}
	if v, ok := obj["includeState"].(bool); ok {
		env.IncludeState = v
		env.HasState = true
	}
	if v, ok := obj["includeDiff"].(bool); ok {
		env.IncludeDiff = v
		env.HasDiff = true
	}
	return env
}
