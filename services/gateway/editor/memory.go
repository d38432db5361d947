// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package editor provides the in-memory reference adapter for the Editor,
// SnapshotProvider and Formats ports. It lets the gateway run standalone
// (development, tests, CI) without a live engine bridge; a real Blockbench
// adapter replaces it in production wiring.
//
// The adapter applies mutations verbatim. Domain invariants (cycle checks,
// limits, uniqueness) are the use-case services' job; the adapter only
// rejects references to elements that do not exist.
//
// Thread Safety:
//
//	Safe for concurrent use; all state is guarded by one mutex. The
//	dispatcher serializes mutating calls anyway, per the port contract.
package editor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"strings"
	"sync"

	"github.com/AleutianAI/ModelForge/services/gateway/ports"
	"github.com/AleutianAI/ModelForge/services/gateway/project"
)

// builtinFormats is the format table the reference adapter reports.
var builtinFormats = []ports.FormatInfo{
	{ID: "bedrock", Name: "Bedrock Entity", Internal: true, Suffix: ".geo.json"},
	{ID: "java_block", Name: "Java Block/Item", Internal: true, Suffix: ".json"},
	{ID: "gltf", Name: "glTF 2.0", Internal: false, Suffix: ".gltf"},
	{ID: "native_codec", Name: "Native Codec", Internal: false, Suffix: ""},
}

// Memory is the in-memory engine adapter.
type Memory struct {
	mu     sync.Mutex
	snap   *project.Snapshot
	pixels map[string]*image.RGBA
	// RequireDialog forces EnsureProject to demand dialog values until they
	// are supplied; used to exercise the dialog next-action flow.
	RequireDialog []string
}

// NewMemory returns an adapter with no open project.
func NewMemory() *Memory {
	return &Memory{pixels: make(map[string]*image.RGBA)}
}

// Current implements ports.SnapshotProvider.
func (m *Memory) Current(ctx context.Context) (*project.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap == nil {
		return nil, fmt.Errorf("no open project: %w", ports.ErrNotFound)
	}
	return m.snap.Clone(), nil
}

// EnsureProject implements ports.Editor.
func (m *Memory) EnsureProject(ctx context.Context, spec ports.ProjectSpec) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.RequireDialog) > 0 {
		var missing []string
		for _, field := range m.RequireDialog {
			if spec.DialogValues[field] == "" {
				missing = append(missing, field)
			}
		}
		if len(missing) > 0 {
			return false, &ports.DialogInputError{Fields: missing}
		}
	}

	if m.snap != nil && m.snap.FormatID == spec.FormatID {
		if spec.Name != "" && m.snap.Name != spec.Name {
			m.snap.Name = spec.Name
		}
		return false, nil
	}
	m.snap = &project.Snapshot{
		ID:                fmt.Sprintf("proj_%s", strings.ReplaceAll(strings.ToLower(spec.Name), " ", "_")),
		Name:              spec.Name,
		FormatID:          spec.FormatID,
		TextureResolution: spec.TextureResolution,
		UVPixelsPerBlock:  spec.UVPixelsPerBlock,
		Bones:             []project.Bone{},
		Cubes:             []project.Cube{},
		Meshes:            []project.Mesh{},
		Textures:          []project.Texture{},
		Animations:        []project.AnimationClip{},
	}
	m.pixels = make(map[string]*image.RGBA)
	return true, nil
}

func (m *Memory) withProject(fn func(*project.Snapshot) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap == nil {
		return fmt.Errorf("no open project: %w", ports.ErrNotFound)
	}
	return fn(m.snap)
}

// AddBone implements ports.Editor.
func (m *Memory) AddBone(ctx context.Context, bone project.Bone) error {
	return m.withProject(func(s *project.Snapshot) error {
		if bone.ParentID != "" && s.BoneByID(bone.ParentID) == nil {
			return fmt.Errorf("parent bone %q: %w", bone.ParentID, ports.ErrNotFound)
		}
		s.Bones = append(s.Bones, bone)
		return nil
	})
}

// UpdateBone implements ports.Editor.
func (m *Memory) UpdateBone(ctx context.Context, id string, patch ports.BonePatch) error {
	return m.withProject(func(s *project.Snapshot) error {
		b := s.BoneByID(id)
		if b == nil {
			return fmt.Errorf("bone %q: %w", id, ports.ErrNotFound)
		}
		if patch.Name != nil {
			b.Name = *patch.Name
		}
		if patch.ParentID != nil {
			b.ParentID = *patch.ParentID
		}
		if patch.Pivot != nil {
			b.Pivot = *patch.Pivot
		}
		if patch.Rotation != nil {
			b.Rotation = *patch.Rotation
		}
		return nil
	})
}

// AddCube implements ports.Editor.
func (m *Memory) AddCube(ctx context.Context, cube project.Cube) error {
	return m.withProject(func(s *project.Snapshot) error {
		if cube.BoneID != "" && s.BoneByID(cube.BoneID) == nil {
			return fmt.Errorf("bone %q: %w", cube.BoneID, ports.ErrNotFound)
		}
		s.Cubes = append(s.Cubes, cube)
		return nil
	})
}

// UpdateCube implements ports.Editor.
func (m *Memory) UpdateCube(ctx context.Context, id string, patch ports.CubePatch) error {
	return m.withProject(func(s *project.Snapshot) error {
		c := s.CubeByID(id)
		if c == nil {
			return fmt.Errorf("cube %q: %w", id, ports.ErrNotFound)
		}
		if patch.Name != nil {
			c.Name = *patch.Name
		}
		if patch.BoneID != nil {
			if *patch.BoneID != "" && s.BoneByID(*patch.BoneID) == nil {
				return fmt.Errorf("bone %q: %w", *patch.BoneID, ports.ErrNotFound)
			}
			c.BoneID = *patch.BoneID
		}
		if patch.From != nil {
			c.From = *patch.From
		}
		if patch.To != nil {
			c.To = *patch.To
		}
		if patch.Origin != nil {
			c.Origin = *patch.Origin
		}
		if patch.Rotation != nil {
			c.Rotation = *patch.Rotation
		}
		if patch.Inflate != nil {
			c.Inflate = *patch.Inflate
		}
		return nil
	})
}

// AddMesh implements ports.Editor.
func (m *Memory) AddMesh(ctx context.Context, mesh project.Mesh) error {
	return m.withProject(func(s *project.Snapshot) error {
		if mesh.BoneID != "" && s.BoneByID(mesh.BoneID) == nil {
			return fmt.Errorf("bone %q: %w", mesh.BoneID, ports.ErrNotFound)
		}
		s.Meshes = append(s.Meshes, mesh)
		return nil
	})
}

// RemoveNode implements ports.Editor.
func (m *Memory) RemoveNode(ctx context.Context, id string) error {
	return m.withProject(func(s *project.Snapshot) error {
		for i, b := range s.Bones {
			if b.ID == id {
				s.Bones = append(s.Bones[:i], s.Bones[i+1:]...)
				for j := range s.Bones {
					if s.Bones[j].ParentID == id {
						s.Bones[j].ParentID = ""
					}
				}
				for j := range s.Cubes {
					if s.Cubes[j].BoneID == id {
						s.Cubes[j].BoneID = ""
					}
				}
				return nil
			}
		}
		for i, c := range s.Cubes {
			if c.ID == id {
				s.Cubes = append(s.Cubes[:i], s.Cubes[i+1:]...)
				return nil
			}
		}
		for i, msh := range s.Meshes {
			if msh.ID == id {
				s.Meshes = append(s.Meshes[:i], s.Meshes[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("node %q: %w", id, ports.ErrNotFound)
	})
}

// CreateTexture implements ports.Editor.
func (m *Memory) CreateTexture(ctx context.Context, tex project.Texture) error {
	return m.withProject(func(s *project.Snapshot) error {
		s.Textures = append(s.Textures, tex)
		m.pixels[tex.ID] = image.NewRGBA(image.Rect(0, 0, tex.Width, tex.Height))
		return nil
	})
}

// AssignTexture implements ports.Editor.
func (m *Memory) AssignTexture(ctx context.Context, cubeID string, faces []string, textureID string) error {
	return m.withProject(func(s *project.Snapshot) error {
		c := s.CubeByID(cubeID)
		if c == nil {
			return fmt.Errorf("cube %q: %w", cubeID, ports.ErrNotFound)
		}
		if s.TextureByID(textureID) == nil {
			return fmt.Errorf("texture %q: %w", textureID, ports.ErrNotFound)
		}
		if len(faces) == 0 {
			faces = project.FaceNames
		}
		if c.Faces == nil {
			c.Faces = make(map[string]project.Face, len(faces))
		}
		for _, face := range faces {
			f := c.Faces[face]
			f.TextureID = textureID
			c.Faces[face] = f
		}
		return nil
	})
}

// PaintFaces implements ports.Editor.
func (m *Memory) PaintFaces(ctx context.Context, textureID string, ops []ports.PaintOp) error {
	return m.withProject(func(s *project.Snapshot) error {
		img, ok := m.pixels[textureID]
		if !ok {
			return fmt.Errorf("texture %q: %w", textureID, ports.ErrNotFound)
		}
		for _, op := range ops {
			col, err := parseHexColor(op.Color)
			if err != nil {
				return err
			}
			for y := op.Y; y < op.Y+op.H; y++ {
				for x := op.X; x < op.X+op.W; x++ {
					if image.Pt(x, y).In(img.Rect) {
						img.SetRGBA(x, y, col)
					}
				}
			}
		}
		return nil
	})
}

// SetFaceUV implements ports.Editor.
func (m *Memory) SetFaceUV(ctx context.Context, cubeID, face string, uv project.UVRect, rotation int) error {
	return m.withProject(func(s *project.Snapshot) error {
		c := s.CubeByID(cubeID)
		if c == nil {
			return fmt.Errorf("cube %q: %w", cubeID, ports.ErrNotFound)
		}
		if c.Faces == nil {
			c.Faces = make(map[string]project.Face, 1)
		}
		f := c.Faces[face]
		f.UV = uv
		f.Rotation = rotation
		c.Faces[face] = f
		return nil
	})
}

// ReadTexturePixels implements ports.Editor.
func (m *Memory) ReadTexturePixels(ctx context.Context, textureID string) (*ports.TextureImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap == nil {
		return nil, fmt.Errorf("no open project: %w", ports.ErrNotFound)
	}
	img, ok := m.pixels[textureID]
	if !ok {
		return nil, fmt.Errorf("texture %q: %w", textureID, ports.ErrNotFound)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode texture %q: %w", textureID, err)
	}
	return &ports.TextureImage{
		MimeType: "image/png",
		Data:     buf.Bytes(),
		Width:    img.Rect.Dx(),
		Height:   img.Rect.Dy(),
	}, nil
}

// CreateAnimation implements ports.Editor.
func (m *Memory) CreateAnimation(ctx context.Context, clip project.AnimationClip) error {
	return m.withProject(func(s *project.Snapshot) error {
		s.Animations = append(s.Animations, clip)
		return nil
	})
}

// SetKeyframes implements ports.Editor.
func (m *Memory) SetKeyframes(ctx context.Context, animationID string, channel project.Channel) error {
	return m.withProject(func(s *project.Snapshot) error {
		clip := s.AnimationByID(animationID)
		if clip == nil {
			return fmt.Errorf("animation %q: %w", animationID, ports.ErrNotFound)
		}
		for i, ch := range clip.Channels {
			if ch.BoneID == channel.BoneID && ch.Kind == channel.Kind {
				clip.Channels[i] = channel
				return nil
			}
		}
		clip.Channels = append(clip.Channels, channel)
		return nil
	})
}

// RenderPreview implements ports.Editor. The reference adapter draws a flat
// orthographic footprint of the cubes, which is enough for agents to sanity
// check proportions.
func (m *Memory) RenderPreview(ctx context.Context, req ports.RenderRequest) ([]ports.Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap == nil {
		return nil, fmt.Errorf("no open project: %w", ports.ErrNotFound)
	}
	width, height := req.Width, req.Height
	if width <= 0 {
		width = 256
	}
	if height <= 0 {
		height = 256
	}
	angles := req.Angles
	if len(angles) == 0 {
		angles = []float64{0}
	}

	frames := make([]ports.Frame, 0, len(angles))
	for _, angle := range angles {
		img := image.NewRGBA(image.Rect(0, 0, width, height))
		bg := color.RGBA{R: 24, G: 26, B: 30, A: 255}
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				img.SetRGBA(x, y, bg)
			}
		}
		rad := angle * math.Pi / 180
		sin, cos := math.Sin(rad), math.Cos(rad)
		fill := color.RGBA{R: 200, G: 180, B: 120, A: 255}
		for _, c := range m.snap.Cubes {
			// Project the rotated xz footprint, y up.
			x1 := c.From[0]*cos - c.From[2]*sin
			x2 := c.To[0]*cos - c.To[2]*sin
			drawBox(img, x1, c.From[1], x2, c.To[1], width, height, fill)
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode preview frame: %w", err)
		}
		frames = append(frames, ports.Frame{Angle: angle, MimeType: "image/png", Data: buf.Bytes()})
	}
	return frames, nil
}

// List implements ports.Formats.
func (m *Memory) List(ctx context.Context) ([]ports.FormatInfo, error) {
	out := make([]ports.FormatInfo, len(builtinFormats))
	copy(out, builtinFormats)
	return out, nil
}

func drawBox(img *image.RGBA, x1, y1, x2, y2 float64, width, height int, col color.RGBA) {
	// Model units are ~[-16, 32]; map onto the frame with a fixed scale.
	scale := float64(width) / 64.0
	toPx := func(v float64) int { return int(v*scale) + width/2 }
	toPy := func(v float64) int { return height/2 - int(v*scale) }
	minX, maxX := toPx(math.Min(x1, x2)), toPx(math.Max(x1, x2))
	minY, maxY := toPy(math.Max(y1, y2)), toPy(math.Min(y1, y2))
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			if image.Pt(x, y).In(img.Rect) {
				img.SetRGBA(x, y, col)
			}
		}
	}
}

func parseHexColor(s string) (color.RGBA, error) {
	s = strings.TrimPrefix(s, "#")
	var c color.RGBA
	c.A = 255
	switch len(s) {
	case 8:
		if _, err := fmt.Sscanf(s, "%02x%02x%02x%02x", &c.R, &c.G, &c.B, &c.A); err != nil {
			return c, fmt.Errorf("invalid color %q", s)
		}
	case 6:
		if _, err := fmt.Sscanf(s, "%02x%02x%02x", &c.R, &c.G, &c.B); err != nil {
			return c, fmt.Errorf("invalid color %q", s)
		}
	default:
		return c, fmt.Errorf("invalid color %q", s)
	}
	return c, nil
}
