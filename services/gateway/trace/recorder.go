// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package trace

import (
	"encoding/json"
	"log/slog"
	"time"
)

// StepContext carries the optional attachments for one recorded step.
type StepContext struct {
	Route string
	State any
	Diff  any
	Usage any
}

// Recorder materializes trace steps into a Store.
//
// # Description
//
// On construction the recorder emits the header record. Record marshals the
// payload, response and attachments; marshal failures are logged and the
// offending attachment dropped rather than losing the step.
type Recorder struct {
	store    *Store
	onAppend func()
}

// NewRecorder emits the header into store and returns the recorder.
// onAppend, when non-nil, is invoked after every appended step (the flush
// scheduler hooks in here).
func NewRecorder(store *Store, pluginVersion, engineVersion string, onAppend func()) *Recorder {
	store.Append(Record{
		Kind:          KindHeader,
		SchemaVersion: SchemaVersion,
		PluginVersion: pluginVersion,
		EngineVersion: engineVersion,
		StartedAt:     time.Now().UnixMilli(),
	})
	return &Recorder{store: store, onAppend: onAppend}
}

// Record appends a step for one tool call.
func (r *Recorder) Record(op string, payload, response any, ctx StepContext) {
	route := ctx.Route
	if route == "" {
		route = "tool"
	}
	rec := Record{
		Kind:     KindStep,
		TS:       time.Now().UnixMilli(),
		Route:    route,
		Op:       op,
		Payload:  marshalAttachment(op, "payload", payload),
		Response: marshalAttachment(op, "response", response),
		State:    marshalAttachment(op, "state", ctx.State),
		Diff:     marshalAttachment(op, "diff", ctx.Diff),
		Usage:    marshalAttachment(op, "usage", ctx.Usage),
	}
	r.store.Append(rec)
	if r.onAppend != nil {
		r.onAppend()
	}
}

func marshalAttachment(op, field string, v any) json.RawMessage {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		slog.Warn("trace attachment dropped", "op", op, "field", field, "error", err)
		return nil
	}
	return raw
}
