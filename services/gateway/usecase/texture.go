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
	"github.com/AleutianAI/ModelForge/services/gateway/project"
	"github.com/AleutianAI/ModelForge/services/gateway/tool"
)

// CreateTextureParams is the create_texture payload.
type CreateTextureParams struct {
	Name   string `json:"name"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// CreateTexture creates a blank texture slot. Dimensions must be positive and
// within the configured texture size limit; names and ids stay unique.
func (s *Services) CreateTexture(ctx context.Context, p CreateTextureParams) *tool.Response {
	name, fail := requireName(p.Name, "texture")
	if fail != nil {
		return fail
	}
	if p.Width <= 0 || p.Height <= 0 {
		return tool.Fail(tool.CodeInvalidState, "texture dimensions must be positive",
			map[string]any{"reason": "bad_dimensions"})
	}
	if p.Width > s.Limits.MaxTextureSize || p.Height > s.Limits.MaxTextureSize {
		return tool.Fail(tool.CodeInvalidState,
			fmt.Sprintf("texture exceeds limit %d", s.Limits.MaxTextureSize),
			map[string]any{"reason": "texture_limit", "maxTextureSize": s.Limits.MaxTextureSize})
	}
	_, snap, err := s.CurrentRevision(ctx)
	if err != nil {
		return s.portFailure("read snapshot", err)
	}
	if snap.TextureByName(name) != nil {
		return tool.Fail(tool.CodeInvalidState, fmt.Sprintf("texture %q already exists", name),
			map[string]any{"reason": "duplicate_name"})
	}
	tex := project.Texture{ID: newID("tex"), Name: name, Width: p.Width, Height: p.Height}
	if err := s.Editor.CreateTexture(ctx, tex); err != nil {
		return s.portFailure("create texture", err)
	}
	return s.commit(ctx, map[string]any{"id": tex.ID})
}

// AssignTextureParams is the assign_texture payload.
type AssignTextureParams struct {
	CubeID    string   `json:"cubeId"`
	TextureID string   `json:"textureId"`
	Faces     []string `json:"faces,omitempty"`
}

// AssignTexture binds a texture to cube faces (all six when faces is empty).
func (s *Services) AssignTexture(ctx context.Context, p AssignTextureParams) *tool.Response {
	_, snap, err := s.CurrentRevision(ctx)
	if err != nil {
		return s.portFailure("read snapshot", err)
	}
	if snap.CubeByID(p.CubeID) == nil {
		return tool.Fail(tool.CodeInvalidState, fmt.Sprintf("cube %q does not exist", p.CubeID),
			map[string]any{"reason": "not_found"})
	}
	if snap.TextureByID(p.TextureID) == nil {
		return tool.Fail(tool.CodeInvalidState, fmt.Sprintf("texture %q does not exist", p.TextureID),
			map[string]any{"reason": "not_found"})
	}
	for _, face := range p.Faces {
		if !project.ValidFaceName(face) {
			return tool.Fail(tool.CodeInvalidState, fmt.Sprintf("unknown face %q", face),
				map[string]any{"reason": "bad_face"})
		}
	}
	if err := s.Editor.AssignTexture(ctx, p.CubeID, p.Faces, p.TextureID); err != nil {
		return s.portFailure("assign texture", err)
	}
	return s.commit(ctx, nil)
}

// PaintOpParams is one fill rectangle.
type PaintOpParams struct {
	X     int    `json:"x"`
	Y     int    `json:"y"`
	W     int    `json:"w"`
	H     int    `json:"h"`
	Color string `json:"color"`
}

// PaintFacesParams is the paint_faces payload.
type PaintFacesParams struct {
	TextureID string          `json:"textureId"`
	Ops       []PaintOpParams `json:"ops"`
}

// PaintFaces fills texture rectangles with solid colors.
func (s *Services) PaintFaces(ctx context.Context, p PaintFacesParams) *tool.Response {
	if len(p.Ops) == 0 {
		return tool.Fail(tool.CodeNoChange, "no paint operations supplied", nil)
	}
	_, snap, err := s.CurrentRevision(ctx)
	if err != nil {
		return s.portFailure("read snapshot", err)
	}
	tex := snap.TextureByID(p.TextureID)
	if tex == nil {
		return tool.Fail(tool.CodeInvalidState, fmt.Sprintf("texture %q does not exist", p.TextureID),
			map[string]any{"reason": "not_found"})
	}
	ops := make([]ports.PaintOp, len(p.Ops))
	for i, op := range p.Ops {
		if op.W <= 0 || op.H <= 0 {
			return tool.Fail(tool.CodeInvalidState, "paint rectangle must have positive size",
				map[string]any{"reason": "bad_dimensions"})
		}
		ops[i] = ports.PaintOp{X: op.X, Y: op.Y, W: op.W, H: op.H, Color: op.Color}
	}
	if err := s.Editor.PaintFaces(ctx, p.TextureID, ops); err != nil {
		return s.portFailure("paint faces", err)
	}
	return s.commit(ctx, map[string]any{"painted": len(ops)})
}

// SetFaceUVParams is the set_face_uv payload.
type SetFaceUVParams struct {
	CubeID   string    `json:"cubeId"`
	Face     string    `json:"face"`
	UV       []float64 `json:"uv"`
	Rotation int       `json:"rotation,omitempty"`
}

// SetFaceUV sets the UV rectangle of one cube face.
func (s *Services) SetFaceUV(ctx context.Context, p SetFaceUVParams) *tool.Response {
	if !project.ValidFaceName(p.Face) {
		return tool.Fail(tool.CodeInvalidState, fmt.Sprintf("unknown face %q", p.Face),
			map[string]any{"reason": "bad_face"})
	}
	_, snap, err := s.CurrentRevision(ctx)
	if err != nil {
		return s.portFailure("read snapshot", err)
	}
	if snap.CubeByID(p.CubeID) == nil {
		return tool.Fail(tool.CodeInvalidState, fmt.Sprintf("cube %q does not exist", p.CubeID),
			map[string]any{"reason": "not_found"})
	}
	var uv project.UVRect
	copy(uv[:], p.UV)
	if err := s.Editor.SetFaceUV(ctx, p.CubeID, p.Face, uv, p.Rotation); err != nil {
		return s.portFailure("set face uv", err)
	}
	return s.commit(ctx, nil)
}

// ReadTextureParams is the read_texture payload.
type ReadTextureParams struct {
	TextureID string `json:"textureId"`
}

// ReadTexture reads back a texture's pixels. The dispatcher converts the
// returned dataUri into an MCP image block.
func (s *Services) ReadTexture(ctx context.Context, p ReadTextureParams) *tool.Response {
	img, err := s.Editor.ReadTexturePixels(ctx, p.TextureID)
	if err != nil {
		return s.portFailure("read texture", err)
	}
	b64 := base64.StdEncoding.EncodeToString(img.Data)
	return tool.OK(map[string]any{
		"textureId": p.TextureID,
		"width":     img.Width,
		"height":    img.Height,
		"mimeType":  img.MimeType,
		"dataUri":   fmt.Sprintf("data:%s;base64,%s", img.MimeType, b64),
	})
}

// PreflightTextureParams is the preflight_texture payload.
type PreflightTextureParams struct {
	TextureID string `json:"textureId"`
}

// PreflightTexture checks a texture before painting: dimensions against
// limits, and which cube faces reference it.
func (s *Services) PreflightTexture(ctx context.Context, p PreflightTextureParams) *tool.Response {
	_, snap, err := s.CurrentRevision(ctx)
	if err != nil {
		return s.portFailure("read snapshot", err)
	}
	tex := snap.TextureByID(p.TextureID)
	if tex == nil {
		return tool.Fail(tool.CodeInvalidState, fmt.Sprintf("texture %q does not exist", p.TextureID),
			map[string]any{"reason": "not_found"})
	}
	var boundFaces []map[string]any
	for _, c := range snap.Cubes {
		for _, face := range project.FaceNames {
			if f, ok := c.Faces[face]; ok && f.TextureID == tex.ID {
				boundFaces = append(boundFaces, map[string]any{"cubeId": c.ID, "face": face})
			}
		}
	}
	powerOfTwo := tex.Width > 0 && (tex.Width&(tex.Width-1)) == 0 &&
		tex.Height > 0 && (tex.Height&(tex.Height-1)) == 0
	return tool.OK(map[string]any{
		"textureId":  tex.ID,
		"width":      tex.Width,
		"height":     tex.Height,
		"powerOfTwo": powerOfTwo,
		"boundFaces": boundFaces,
	})
}
