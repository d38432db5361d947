// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package usecase implements the Project, Model, Texture, Animation, Export,
// Render and Validation services. Every mutating operation follows the same
// shape: validate ids and invariants against the current snapshot, mutate
// through the Editor port, re-read, re-hash, and answer with the new
// revision.
//
// Thread Safety:
//
//	Services hold no mutable state of their own; the Editor port is not
//	reentrant and the dispatcher serializes mutating calls per workspace.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/AleutianAI/ModelForge/services/gateway/config"
	"github.com/AleutianAI/ModelForge/services/gateway/ports"
	"github.com/AleutianAI/ModelForge/services/gateway/project"
	"github.com/AleutianAI/ModelForge/services/gateway/tool"
)

// Services bundles the use-case operations over the adapter ports.
type Services struct {
	Editor    ports.Editor
	Snapshots ports.SnapshotProvider
	Formats   ports.Formats
	Exporter  ports.Exporter
	Tmp       ports.TmpStore
	Revisions *project.RevisionStore

	Limits         config.Limits
	CodecAllowList []string
	// ExportPolicy is "strict" or "best_effort".
	ExportPolicy string

	Log *slog.Logger
}

// New wires the services. Exporter may be nil when no native codec runner is
// configured.
func New(editor ports.Editor, snapshots ports.SnapshotProvider, formats ports.Formats,
	exporter ports.Exporter, tmp ports.TmpStore, revisions *project.RevisionStore,
	cfg *config.Config, log *slog.Logger) *Services {
	if log == nil {
		log = slog.Default()
	}
	return &Services{
		Editor:         editor,
		Snapshots:      snapshots,
		Formats:        formats,
		Exporter:       exporter,
		Tmp:            tmp,
		Revisions:      revisions,
		Limits:         cfg.Limits,
		CodecAllowList: cfg.CodecAllowList,
		ExportPolicy:   cfg.ExportPolicy,
		Log:            log,
	}
}

// CurrentRevision reads the snapshot and returns its tracked revision. The
// dispatcher's revision guard and auto-retry both go through here.
func (s *Services) CurrentRevision(ctx context.Context) (string, *project.Snapshot, error) {
	snap, err := s.Snapshots.Current(ctx)
	if err != nil {
		return "", nil, err
	}
	rev, err := s.Revisions.Track(snap)
	if err != nil {
		return "", nil, err
	}
	snap.Revision = rev
	return rev, snap, nil
}

// commit re-reads the snapshot after a mutation, tracks the new revision and
// builds the success payload with extra merged in.
func (s *Services) commit(ctx context.Context, extra map[string]any) *tool.Response {
	rev, _, err := s.CurrentRevision(ctx)
	if err != nil {
		return s.portFailure("read back snapshot", err)
	}
	data := map[string]any{"revision": rev}
	for k, v := range extra {
		data[k] = v
	}
	return tool.OK(data)
}

// portFailure maps adapter errors onto tool error codes.
func (s *Services) portFailure(op string, err error) *tool.Response {
	var dialog *ports.DialogInputError
	switch {
	case errors.As(err, &dialog):
		return tool.Fail(tool.CodeInvalidState, "project dialog input required", map[string]any{
			"reason": tool.ReasonDialogInputRequired,
			"fields": dialog.Fields,
		})
	case errors.Is(err, ports.ErrNotFound):
		return tool.Fail(tool.CodeInvalidState, err.Error(), map[string]any{"reason": "not_found"})
	case errors.Is(err, ports.ErrNotImplemented):
		return tool.Fail(tool.CodeNotImplemented, err.Error(), nil)
	case errors.Is(err, ports.ErrUnsupportedFormat):
		return tool.Fail(tool.CodeUnsupportedFormat, err.Error(), nil)
	default:
		s.Log.Error("adapter call failed", "op", op, "error", err)
		return tool.Fail(tool.CodeIOError, fmt.Sprintf("%s: %v", op, err), nil)
	}
}

// requireName trims and checks a user-supplied name.
func requireName(name, what string) (string, *tool.Response) {
	trimmed, ok := project.NormalizeName(name)
	if !ok {
		return "", tool.Fail(tool.CodeInvalidState, fmt.Sprintf("%s name must not be blank", what),
			map[string]any{"reason": "blank_name"})
	}
	return trimmed, nil
}

// newID mints an element id with a short random suffix.
func newID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// vec3Of converts a JSON array payload field.
func vec3Of(v []float64) project.Vec3 {
	var out project.Vec3
	copy(out[:], v)
	return out
}
