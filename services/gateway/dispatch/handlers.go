// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/AleutianAI/ModelForge/services/gateway/tool"
	"github.com/AleutianAI/ModelForge/services/gateway/usecase"
)

// Handler executes one tool against already schema-validated arguments.
type Handler func(ctx context.Context, raw json.RawMessage) *tool.Response

// decode unmarshals raw into params. Envelope fields (ifRevision,
// includeState, includeDiff) are simply not present on the param structs.
func decode[P any](raw json.RawMessage, params *P) *tool.Response {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, params); err != nil {
		return tool.Fail(tool.CodeInvalidPayload, fmt.Sprintf("malformed arguments: %v", err), nil)
	}
	return nil
}

func handler[P any](fn func(context.Context, P) *tool.Response) Handler {
	return func(ctx context.Context, raw json.RawMessage) *tool.Response {
		var params P
		if fail := decode(raw, &params); fail != nil {
			return fail
		}
		return fn(ctx, params)
	}
}

// Handlers binds every registered tool to its use-case operation.
func Handlers(s *usecase.Services) map[string]Handler {
	return map[string]Handler{
		"ensure_project":    handler(s.EnsureProject),
		"get_project_state": handler(s.GetProjectState),
		"list_formats": func(ctx context.Context, _ json.RawMessage) *tool.Response {
			return s.ListFormats(ctx)
		},
		"validate_model": func(ctx context.Context, _ json.RawMessage) *tool.Response {
			return s.ValidateModel(ctx)
		},
		"render_preview":    handler(s.RenderPreview),
		"export":            handler(s.Export),
		"preflight_texture": handler(s.PreflightTexture),
		"add_bone":          handler(s.AddBone),
		"update_bone":       handler(s.UpdateBone),
		"add_cube":          handler(s.AddCube),
		"update_cube":       handler(s.UpdateCube),
		"add_mesh":          handler(s.AddMesh),
		"remove_node":       handler(s.RemoveNode),
		"create_texture":    handler(s.CreateTexture),
		"assign_texture":    handler(s.AssignTexture),
		"paint_faces":       handler(s.PaintFaces),
		"set_face_uv":       handler(s.SetFaceUV),
		"read_texture":      handler(s.ReadTexture),
		"create_animation":  handler(s.CreateAnimation),
		"set_keyframes":     handler(s.SetKeyframes),
	}
}
