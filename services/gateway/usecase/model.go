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
	"fmt"

	"github.com/AleutianAI/ModelForge/services/gateway/ports"
	"github.com/AleutianAI/ModelForge/services/gateway/project"
	"github.com/AleutianAI/ModelForge/services/gateway/tool"
)

// AddBoneParams is the add_bone payload.
type AddBoneParams struct {
	Name     string    `json:"name"`
	ParentID string    `json:"parentId,omitempty"`
	Pivot    []float64 `json:"pivot,omitempty"`
	Rotation []float64 `json:"rotation,omitempty"`
}

// AddBone adds a bone to the rig.
func (s *Services) AddBone(ctx context.Context, p AddBoneParams) *tool.Response {
	name, fail := requireName(p.Name, "bone")
	if fail != nil {
		return fail
	}
	_, snap, err := s.CurrentRevision(ctx)
	if err != nil {
		return s.portFailure("read snapshot", err)
	}
	if snap.BoneByName(name) != nil {
		return tool.Fail(tool.CodeInvalidState, fmt.Sprintf("bone %q already exists", name),
			map[string]any{"reason": "duplicate_name"})
	}
	if p.ParentID != "" && snap.BoneByID(p.ParentID) == nil {
		return tool.Fail(tool.CodeInvalidState, fmt.Sprintf("parent bone %q does not exist", p.ParentID),
			map[string]any{"reason": "not_found"})
	}
	bone := project.Bone{
		ID:       newID("bone"),
		Name:     name,
		ParentID: p.ParentID,
		Pivot:    vec3Of(p.Pivot),
		Rotation: vec3Of(p.Rotation),
	}
	if err := s.Editor.AddBone(ctx, bone); err != nil {
		return s.portFailure("add bone", err)
	}
	return s.commit(ctx, map[string]any{"id": bone.ID})
}

// UpdateBoneParams is the update_bone payload.
type UpdateBoneParams struct {
	ID       string     `json:"id"`
	Name     *string    `json:"name,omitempty"`
	ParentID *string    `json:"parentId,omitempty"`
	Pivot    *[]float64 `json:"pivot,omitempty"`
	Rotation *[]float64 `json:"rotation,omitempty"`
}

// UpdateBone patches a bone. Re-parenting under the bone's own subtree is
// rejected before the edit reaches the engine.
func (s *Services) UpdateBone(ctx context.Context, p UpdateBoneParams) *tool.Response {
	_, snap, err := s.CurrentRevision(ctx)
	if err != nil {
		return s.portFailure("read snapshot", err)
	}
	if snap.BoneByID(p.ID) == nil {
		return tool.Fail(tool.CodeInvalidState, fmt.Sprintf("bone %q does not exist", p.ID),
			map[string]any{"reason": "not_found"})
	}
	patch := ports.BonePatch{}
	if p.Name != nil {
		name, fail := requireName(*p.Name, "bone")
		if fail != nil {
			return fail
		}
		if existing := snap.BoneByName(name); existing != nil && existing.ID != p.ID {
			return tool.Fail(tool.CodeInvalidState, fmt.Sprintf("bone %q already exists", name),
				map[string]any{"reason": "duplicate_name"})
		}
		patch.Name = &name
	}
	if p.ParentID != nil {
		parent := *p.ParentID
		if parent != "" {
			if snap.BoneByID(parent) == nil {
				return tool.Fail(tool.CodeInvalidState, fmt.Sprintf("parent bone %q does not exist", parent),
					map[string]any{"reason": "not_found"})
			}
			if snap.IsDescendantBone(p.ID, parent) {
				return tool.Fail(tool.CodeInvalidState, "cannot parent a bone to its own descendant",
					map[string]any{"reason": tool.ReasonBoneDescendant})
			}
		}
		patch.ParentID = &parent
	}
	if p.Pivot != nil {
		v := vec3Of(*p.Pivot)
		patch.Pivot = &v
	}
	if p.Rotation != nil {
		v := vec3Of(*p.Rotation)
		patch.Rotation = &v
	}
	if err := s.Editor.UpdateBone(ctx, p.ID, patch); err != nil {
		return s.portFailure("update bone", err)
	}
	return s.commit(ctx, map[string]any{"id": p.ID})
}

// AddCubeParams is the add_cube payload.
type AddCubeParams struct {
	Name     string    `json:"name"`
	BoneID   string    `json:"boneId,omitempty"`
	From     []float64 `json:"from"`
	To       []float64 `json:"to"`
	Origin   []float64 `json:"origin,omitempty"`
	Rotation []float64 `json:"rotation,omitempty"`
	Inflate  float64   `json:"inflate,omitempty"`
}

// AddCube adds a cube, enforcing the cube-count limit.
func (s *Services) AddCube(ctx context.Context, p AddCubeParams) *tool.Response {
	name, fail := requireName(p.Name, "cube")
	if fail != nil {
		return fail
	}
	_, snap, err := s.CurrentRevision(ctx)
	if err != nil {
		return s.portFailure("read snapshot", err)
	}
	if len(snap.Cubes) >= s.Limits.MaxCubes {
		return tool.Fail(tool.CodeInvalidState,
			fmt.Sprintf("cube limit reached (%d)", s.Limits.MaxCubes),
			map[string]any{"reason": "cube_limit", "maxCubes": s.Limits.MaxCubes})
	}
	if p.BoneID != "" && snap.BoneByID(p.BoneID) == nil {
		return tool.Fail(tool.CodeInvalidState, fmt.Sprintf("bone %q does not exist", p.BoneID),
			map[string]any{"reason": "not_found"})
	}
	cube := project.Cube{
		ID:       newID("cube"),
		Name:     name,
		BoneID:   p.BoneID,
		From:     vec3Of(p.From),
		To:       vec3Of(p.To),
		Origin:   vec3Of(p.Origin),
		Rotation: vec3Of(p.Rotation),
		Inflate:  p.Inflate,
	}
	if err := s.Editor.AddCube(ctx, cube); err != nil {
		return s.portFailure("add cube", err)
	}
	return s.commit(ctx, map[string]any{"id": cube.ID})
}

// UpdateCubeParams is the update_cube payload.
type UpdateCubeParams struct {
	ID       string     `json:"id"`
	Name     *string    `json:"name,omitempty"`
	BoneID   *string    `json:"boneId,omitempty"`
	From     *[]float64 `json:"from,omitempty"`
	To       *[]float64 `json:"to,omitempty"`
	Origin   *[]float64 `json:"origin,omitempty"`
	Rotation *[]float64 `json:"rotation,omitempty"`
	Inflate  *float64   `json:"inflate,omitempty"`
}

// UpdateCube patches a cube's geometry or parenting.
func (s *Services) UpdateCube(ctx context.Context, p UpdateCubeParams) *tool.Response {
	_, snap, err := s.CurrentRevision(ctx)
	if err != nil {
		return s.portFailure("read snapshot", err)
	}
	target := snap.CubeByID(p.ID)
	if target == nil {
		// Agents frequently address cubes by name; accept that too.
		target = snap.CubeByName(p.ID)
	}
	if target == nil {
		return tool.Fail(tool.CodeInvalidState, fmt.Sprintf("cube %q does not exist", p.ID),
			map[string]any{"reason": "not_found"})
	}
	patch := ports.CubePatch{}
	if p.Name != nil {
		name, fail := requireName(*p.Name, "cube")
		if fail != nil {
			return fail
		}
		patch.Name = &name
	}
	if p.BoneID != nil {
		if *p.BoneID != "" && snap.BoneByID(*p.BoneID) == nil {
			return tool.Fail(tool.CodeInvalidState, fmt.Sprintf("bone %q does not exist", *p.BoneID),
				map[string]any{"reason": "not_found"})
		}
		patch.BoneID = p.BoneID
	}
	if p.From != nil {
		v := vec3Of(*p.From)
		patch.From = &v
	}
	if p.To != nil {
		v := vec3Of(*p.To)
		patch.To = &v
	}
	if p.Origin != nil {
		v := vec3Of(*p.Origin)
		patch.Origin = &v
	}
	if p.Rotation != nil {
		v := vec3Of(*p.Rotation)
		patch.Rotation = &v
	}
	if p.Inflate != nil {
		patch.Inflate = p.Inflate
	}
	if err := s.Editor.UpdateCube(ctx, target.ID, patch); err != nil {
		return s.portFailure("update cube", err)
	}
	return s.commit(ctx, map[string]any{"id": target.ID})
}

// AddMeshParams is the add_mesh payload.
type AddMeshParams struct {
	Name     string               `json:"name"`
	BoneID   string               `json:"boneId,omitempty"`
	Vertices map[string][]float64 `json:"vertices"`
	Faces    []struct {
		Vertices  []string `json:"vertices"`
		TextureID string   `json:"textureId,omitempty"`
	} `json:"faces,omitempty"`
}

// AddMesh adds a free-form mesh.
func (s *Services) AddMesh(ctx context.Context, p AddMeshParams) *tool.Response {
	name, fail := requireName(p.Name, "mesh")
	if fail != nil {
		return fail
	}
	_, snap, err := s.CurrentRevision(ctx)
	if err != nil {
		return s.portFailure("read snapshot", err)
	}
	if p.BoneID != "" && snap.BoneByID(p.BoneID) == nil {
		return tool.Fail(tool.CodeInvalidState, fmt.Sprintf("bone %q does not exist", p.BoneID),
			map[string]any{"reason": "not_found"})
	}
	mesh := project.Mesh{
		ID:       newID("mesh"),
		Name:     name,
		BoneID:   p.BoneID,
		Vertices: make(map[string]project.Vec3, len(p.Vertices)),
	}
	for key, coords := range p.Vertices {
		mesh.Vertices[key] = vec3Of(coords)
	}
	for _, f := range p.Faces {
		for _, key := range f.Vertices {
			if _, ok := mesh.Vertices[key]; !ok {
				return tool.Fail(tool.CodeInvalidState,
					fmt.Sprintf("mesh face references missing vertex %q", key),
					map[string]any{"reason": "not_found"})
			}
		}
		mesh.Faces = append(mesh.Faces, project.MeshFace{VertexKeys: f.Vertices, TextureID: f.TextureID})
	}
	if err := s.Editor.AddMesh(ctx, mesh); err != nil {
		return s.portFailure("add mesh", err)
	}
	return s.commit(ctx, map[string]any{"id": mesh.ID})
}

// RemoveNodeParams is the remove_node payload.
type RemoveNodeParams struct {
	ID string `json:"id"`
}

// RemoveNode deletes a bone, cube or mesh by id.
func (s *Services) RemoveNode(ctx context.Context, p RemoveNodeParams) *tool.Response {
	_, snap, err := s.CurrentRevision(ctx)
	if err != nil {
		return s.portFailure("read snapshot", err)
	}
	if snap.BoneByID(p.ID) == nil && snap.CubeByID(p.ID) == nil {
		found := false
		for i := range snap.Meshes {
			if snap.Meshes[i].ID == p.ID {
				found = true
				break
			}
		}
		if !found {
			return tool.Fail(tool.CodeInvalidState, fmt.Sprintf("node %q does not exist", p.ID),
				map[string]any{"reason": "not_found"})
		}
	}
	if err := s.Editor.RemoveNode(ctx, p.ID); err != nil {
		return s.portFailure("remove node", err)
	}
	return s.commit(ctx, map[string]any{"id": p.ID, "removed": true})
}
