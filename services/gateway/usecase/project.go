// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package usecase

import (
	"context"
	"errors"

	"github.com/AleutianAI/ModelForge/services/gateway/ports"
	"github.com/AleutianAI/ModelForge/services/gateway/tool"
)

// EnsureProjectParams is the ensure_project payload.
type EnsureProjectParams struct {
	Name              string            `json:"name"`
	FormatID          string            `json:"formatId"`
	TextureResolution *[2]int           `json:"textureResolution,omitempty"`
	UVPixelsPerBlock  *int              `json:"uvPixelsPerBlock,omitempty"`
	DialogValues      map[string]string `json:"dialogValues,omitempty"`
}

// EnsureProject opens or creates a project matching the params.
func (s *Services) EnsureProject(ctx context.Context, p EnsureProjectParams) *tool.Response {
	name, fail := requireName(p.Name, "project")
	if fail != nil {
		return fail
	}
	created, err := s.Editor.EnsureProject(ctx, ports.ProjectSpec{
		Name:              name,
		FormatID:          p.FormatID,
		TextureResolution: p.TextureResolution,
		UVPixelsPerBlock:  p.UVPixelsPerBlock,
		DialogValues:      p.DialogValues,
	})
	if err != nil {
		return s.portFailure("ensure project", err)
	}
	return s.commit(ctx, map[string]any{"created": created})
}

// GetProjectStateParams is the get_project_state payload.
type GetProjectStateParams struct {
	Detail string `json:"detail,omitempty"`
}

// GetProjectState reads the current snapshot (or a summary).
//
// # Description
//
// detail "summary" (the default) returns header fields plus element counts;
// "full" embeds the whole snapshot. When no project is open the response is
// still ok with open:false, so agents can probe before ensure_project.
func (s *Services) GetProjectState(ctx context.Context, p GetProjectStateParams) *tool.Response {
	rev, snap, err := s.CurrentRevision(ctx)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return tool.OK(map[string]any{"open": false})
		}
		return s.portFailure("read snapshot", err)
	}

	data := map[string]any{
		"open":     true,
		"revision": rev,
		"id":       snap.ID,
		"name":     snap.Name,
		"formatId": snap.FormatID,
		"counts": map[string]any{
			"bones":      len(snap.Bones),
			"cubes":      len(snap.Cubes),
			"meshes":     len(snap.Meshes),
			"textures":   len(snap.Textures),
			"animations": len(snap.Animations),
		},
	}
	if p.Detail == "full" {
		data["state"] = snap
	}
	return tool.OK(data)
}

// ListFormats enumerates the engine's formats.
func (s *Services) ListFormats(ctx context.Context) *tool.Response {
	formats, err := s.Formats.List(ctx)
	if err != nil {
		return s.portFailure("list formats", err)
	}
	return tool.OK(map[string]any{"formats": formats})
}
