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
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/ModelForge/services/gateway/ports"
	"github.com/AleutianAI/ModelForge/services/gateway/project"
	"github.com/AleutianAI/ModelForge/services/gateway/tool"
)

// ExportParams is the export payload.
type ExportParams struct {
	FormatID string `json:"formatId"`
	// CodecID selects a native codec when formatId is "native_codec".
	CodecID string `json:"codecId,omitempty"`
	// BaseName overrides the artifact base name; defaults to the project name.
	BaseName string `json:"baseName,omitempty"`
}

// Export serializes the current project to one of the known formats.
//
// # Description
//
// Internal formats (bedrock, java_block) are written by the built-in codec.
// "gltf" is also written internally, as a glTF container plus the geometry
// and animation sidecars. "native_codec" dispatches to the Exporter port and
// honors the codec allow-list. Under the best_effort policy a codec that
// reports not-implemented or unsupported-format falls back to the internal
// glTF writer; the caller still gets artifacts, with the codec's error
// surfaced as a warning.
func (s *Services) Export(ctx context.Context, p ExportParams) *tool.Response {
	_, snap, err := s.CurrentRevision(ctx)
	if err != nil {
		return s.portFailure("read snapshot", err)
	}
	base := strings.TrimSpace(p.BaseName)
	if base == "" {
		base = sanitizeBaseName(snap.Name)
	}

	var result *ports.ExportResult
	switch p.FormatID {
	case "bedrock", "java_block", "gltf":
		result, err = s.exportInternal(ctx, snap, p.FormatID, base)
	case "native_codec":
		result, err = s.exportNative(ctx, snap, p.CodecID, base)
	case "":
		return tool.Fail(tool.CodeInvalidPayload, "formatId is required", nil)
	default:
		return tool.Fail(tool.CodeUnsupportedFormat, fmt.Sprintf("unknown format %q", p.FormatID), nil)
	}
	if err != nil {
		if s.ExportPolicy == "best_effort" &&
			(errors.Is(err, ports.ErrNotImplemented) || errors.Is(err, ports.ErrUnsupportedFormat)) {
			s.Log.Warn("export degraded to internal writer",
				"formatId", p.FormatID, "codecId", p.CodecID, "error", err)
			fallback, ferr := s.exportInternal(ctx, snap, "gltf", base)
			if ferr != nil {
				return s.portFailure("export", ferr)
			}
			return tool.OK(map[string]any{
				"formatId":  "gltf",
				"artifacts": fallback.Artifacts,
				"warnings":  append([]string{err.Error()}, fallback.Warnings...),
			})
		}
		return s.portFailure("export", err)
	}

	return tool.OK(map[string]any{
		"formatId":  p.FormatID,
		"artifacts": result.Artifacts,
		"warnings":  result.Warnings,
	})
}

// exportNative runs an allow-listed native codec through the Exporter port.
func (s *Services) exportNative(ctx context.Context, snap *project.Snapshot, codecID, base string) (*ports.ExportResult, error) {
	if codecID == "" {
		return nil, fmt.Errorf("codecId is required for native_codec: %w", ports.ErrUnsupportedFormat)
	}
	allowed := false
	for _, id := range s.CodecAllowList {
		if id == codecID {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("codec %q is not allow-listed: %w", codecID, ports.ErrUnsupportedFormat)
	}
	if s.Exporter == nil {
		return nil, fmt.Errorf("no native codec runner configured: %w", ports.ErrNotImplemented)
	}
	return s.Exporter.Export(ctx, ports.ExportRequest{
		Snapshot: snap,
		FormatID: "native_codec",
		CodecID:  codecID,
		BaseName: base,
	})
}

// exportInternal writes the built-in codecs through the TmpStore.
func (s *Services) exportInternal(ctx context.Context, snap *project.Snapshot, formatID, base string) (*ports.ExportResult, error) {
	type file struct {
		name string
		data []byte
	}
	var files []file
	var warnings []string

	switch formatID {
	case "bedrock":
		geo, err := encodeBedrockGeometry(snap)
		if err != nil {
			return nil, err
		}
		files = append(files, file{base + ".geo.json", geo})
		if len(snap.Animations) > 0 {
			anim, err := encodeBedrockAnimations(snap)
			if err != nil {
				return nil, err
			}
			files = append(files, file{base + ".animation.json", anim})
		}
	case "java_block":
		if len(snap.Animations) > 0 {
			warnings = append(warnings, "java_block does not carry animations; clips were skipped")
		}
		model, err := encodeJavaBlockModel(snap)
		if err != nil {
			return nil, err
		}
		files = append(files, file{base + ".json", model})
	case "gltf":
		geo, err := encodeBedrockGeometry(snap)
		if err != nil {
			return nil, err
		}
		files = append(files, file{base + ".geo.json", geo})
		if len(snap.Animations) > 0 {
			anim, err := encodeBedrockAnimations(snap)
			if err != nil {
				return nil, err
			}
			files = append(files, file{base + ".animation.json", anim})
		}
		gltf, err := encodeGLTF(snap)
		if err != nil {
			return nil, err
		}
		files = append(files, file{base + ".gltf", gltf})
	}

	result := &ports.ExportResult{Warnings: warnings}
	for _, f := range files {
		path, err := s.Tmp.Put(ctx, f.name, f.data)
		if err != nil {
			return nil, err
		}
		result.Artifacts = append(result.Artifacts, ports.ExportArtifact{Path: path, Bytes: len(f.data)})
	}
	return result, nil
}

// sanitizeBaseName makes a project name safe as a file base name.
func sanitizeBaseName(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		return "model"
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return strings.Trim(b.String(), "_")
}

// encodeBedrockGeometry writes the entity geometry document.
func encodeBedrockGeometry(snap *project.Snapshot) ([]byte, error) {
	texW, texH := 16, 16
	if snap.TextureResolution != nil {
		texW, texH = snap.TextureResolution[0], snap.TextureResolution[1]
	} else if len(snap.Textures) > 0 {
		texW, texH = snap.Textures[0].Width, snap.Textures[0].Height
	}

	boneNames := make(map[string]string, len(snap.Bones))
	for _, b := range snap.Bones {
		boneNames[b.ID] = b.Name
	}

	bones := make([]map[string]any, 0, len(snap.Bones)+1)
	for _, b := range snap.Bones {
		entry := map[string]any{
			"name":  b.Name,
			"pivot": b.Pivot,
		}
		if b.ParentID != "" {
			entry["parent"] = boneNames[b.ParentID]
		}
		if b.Rotation != (project.Vec3{}) {
			entry["rotation"] = b.Rotation
		}
		var cubes []map[string]any
		for _, c := range snap.Cubes {
			if c.BoneID != b.ID {
				continue
			}
			cubes = append(cubes, encodeBedrockCube(c))
		}
		if cubes != nil {
			entry["cubes"] = cubes
		}
		bones = append(bones, entry)
	}
	// Free cubes go under a synthetic root so the document stays loadable.
	var free []map[string]any
	for _, c := range snap.Cubes {
		if c.BoneID == "" {
			free = append(free, encodeBedrockCube(c))
		}
	}
	if free != nil {
		bones = append(bones, map[string]any{
			"name":  "root",
			"pivot": project.Vec3{},
			"cubes": free,
		})
	}

	doc := map[string]any{
		"format_version": "1.12.0",
		"minecraft:geometry": []map[string]any{{
			"description": map[string]any{
				"identifier":          "geometry." + sanitizeBaseName(snap.Name),
				"texture_width":       texW,
				"texture_height":      texH,
				"visible_bounds_width": 2,
				"visible_bounds_height": 2,
			},
			"bones": bones,
		}},
	}
	return json.MarshalIndent(doc, "", "  ")
}

func encodeBedrockCube(c project.Cube) map[string]any {
	size := project.Vec3{c.To[0] - c.From[0], c.To[1] - c.From[1], c.To[2] - c.From[2]}
	cube := map[string]any{
		"origin": c.From,
		"size":   size,
	}
	if c.Inflate != 0 {
		cube["inflate"] = c.Inflate
	}
	if c.Rotation != (project.Vec3{}) {
		cube["rotation"] = c.Rotation
		cube["pivot"] = c.Origin
	}
	if len(c.Faces) > 0 {
		uv := make(map[string]any, len(c.Faces))
		for _, face := range project.FaceNames {
			f, ok := c.Faces[face]
			if !ok {
				continue
			}
			uv[face] = map[string]any{
				"uv":      [2]float64{f.UV[0], f.UV[1]},
				"uv_size": [2]float64{f.UV[2] - f.UV[0], f.UV[3] - f.UV[1]},
			}
		}
		cube["uv"] = uv
	}
	return cube
}

// encodeBedrockAnimations writes the clip document keyed by animation name.
func encodeBedrockAnimations(snap *project.Snapshot) ([]byte, error) {
	boneNames := make(map[string]string, len(snap.Bones))
	for _, b := range snap.Bones {
		boneNames[b.ID] = b.Name
	}
	anims := make(map[string]any, len(snap.Animations))
	for _, a := range snap.Animations {
		bones := map[string]any{}
		for _, ch := range a.Channels {
			name := boneNames[ch.BoneID]
			if name == "" {
				name = ch.BoneID
			}
			entry, _ := bones[name].(map[string]any)
			if entry == nil {
				entry = map[string]any{}
			}
			keys := make(map[string]any, len(ch.Keys))
			for _, k := range ch.Keys {
				keys[fmt.Sprintf("%g", k.Time)] = k.Value
			}
			entry[ch.Kind] = keys
			bones[name] = entry
		}
		anims["animation."+sanitizeBaseName(a.Name)] = map[string]any{
			"loop":             a.Loop,
			"animation_length": a.Length,
			"bones":            bones,
		}
	}
	doc := map[string]any{
		"format_version": "1.8.0",
		"animations":     anims,
	}
	return json.MarshalIndent(doc, "", "  ")
}

// encodeJavaBlockModel writes the block model document. Java block models
// have no rig; cube geometry flattens into elements.
func encodeJavaBlockModel(snap *project.Snapshot) ([]byte, error) {
	textures := map[string]string{}
	texKeys := make(map[string]string, len(snap.Textures))
	for i, t := range snap.Textures {
		key := fmt.Sprintf("%d", i)
		textures[key] = sanitizeBaseName(t.Name)
		texKeys[t.ID] = "#" + key
	}
	elements := make([]map[string]any, 0, len(snap.Cubes))
	for _, c := range snap.Cubes {
		el := map[string]any{
			"from": c.From,
			"to":   c.To,
		}
		if c.Rotation != (project.Vec3{}) {
			// Java block rotation is single-axis; pick the dominant one.
			axis, angle := dominantAxis(c.Rotation)
			el["rotation"] = map[string]any{
				"origin": c.Origin,
				"axis":   axis,
				"angle":  angle,
			}
		}
		if len(c.Faces) > 0 {
			faces := map[string]any{}
			for _, face := range project.FaceNames {
				f, ok := c.Faces[face]
				if !ok {
					continue
				}
				fd := map[string]any{"uv": f.UV}
				if ref, ok := texKeys[f.TextureID]; ok {
					fd["texture"] = ref
				}
				if f.Rotation != 0 {
					fd["rotation"] = f.Rotation
				}
				faces[face] = fd
			}
			el["faces"] = faces
		}
		elements = append(elements, el)
	}
	doc := map[string]any{
		"credit":   "Made with ModelForge",
		"textures": textures,
		"elements": elements,
	}
	return json.MarshalIndent(doc, "", "  ")
}

// dominantAxis picks the axis with the largest rotation magnitude.
func dominantAxis(r project.Vec3) (string, float64) {
	axis, angle := "y", r[1]
	if abs(r[0]) > abs(angle) {
		axis, angle = "x", r[0]
	}
	if abs(r[2]) > abs(angle) {
		axis, angle = "z", r[2]
	}
	return axis, angle
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// encodeGLTF writes a minimal glTF 2.0 container: one node per bone with the
// hierarchy preserved. Mesh payloads live in the sidecar geometry document.
func encodeGLTF(snap *project.Snapshot) ([]byte, error) {
	idx := make(map[string]int, len(snap.Bones))
	for i, b := range snap.Bones {
		idx[b.ID] = i
	}
	nodes := make([]map[string]any, len(snap.Bones))
	var roots []int
	children := make(map[int][]int)
	for i, b := range snap.Bones {
		nodes[i] = map[string]any{
			"name":        b.Name,
			"translation": [3]float64{b.Pivot[0], b.Pivot[1], b.Pivot[2]},
		}
		if b.ParentID == "" {
			roots = append(roots, i)
		} else if p, ok := idx[b.ParentID]; ok {
			children[p] = append(children[p], i)
		} else {
			roots = append(roots, i)
		}
	}
	for p, cs := range children {
		nodes[p]["children"] = cs
	}
	doc := map[string]any{
		"asset": map[string]any{
			"version":   "2.0",
			"generator": "ModelForge",
		},
		"scene":  0,
		"scenes": []map[string]any{{"nodes": roots}},
		"nodes":  nodes,
	}
	return json.MarshalIndent(doc, "", "  ")
}
