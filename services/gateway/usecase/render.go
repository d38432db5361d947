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
	"encoding/base64"
	"fmt"

	"github.com/AleutianAI/ModelForge/services/gateway/ports"
	"github.com/AleutianAI/ModelForge/services/gateway/tool"
)

// RenderPreviewParams is the render_preview payload.
type RenderPreviewParams struct {
	Angles []float64 `json:"angles,omitempty"`
	Width  int       `json:"width,omitempty"`
	Height int       `json:"height,omitempty"`
}

// RenderPreview rasterizes preview frames of the current model. The
// dispatcher converts each frame's dataUri into an MCP image block.
func (s *Services) RenderPreview(ctx context.Context, p RenderPreviewParams) *tool.Response {
	req := ports.RenderRequest{Angles: p.Angles, Width: p.Width, Height: p.Height}
	if len(req.Angles) == 0 {
		req.Angles = []float64{45}
	}
	if req.Width <= 0 {
		req.Width = 512
	}
	if req.Height <= 0 {
		req.Height = 512
	}
	frames, err := s.Editor.RenderPreview(ctx, req)
	if err != nil {
		return s.portFailure("render preview", err)
	}
	out := make([]map[string]any, len(frames))
	for i, f := range frames {
		b64 := base64.StdEncoding.EncodeToString(f.Data)
		out[i] = map[string]any{
			"angle":    f.Angle,
			"mimeType": f.MimeType,
			"dataUri":  fmt.Sprintf("data:%s;base64,%s", f.MimeType, b64),
		}
	}
	return tool.OK(map[string]any{
		"frames": out,
		"width":  req.Width,
		"height": req.Height,
	})
}
