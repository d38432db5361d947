// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package project defines the authoritative in-memory model of an authoring
// project: bones, cubes, meshes, textures and animation clips, plus the
// revision machinery (canonical hashing, revision cache) and the structural
// diff engine used for snapshot comparison.
//
// A Snapshot is a value: services read one through the Snapshot port, mutate
// through the Editor port, then re-read and re-hash. Nothing in this package
// performs I/O.
//
// Thread Safety:
//
//	Snapshot values are plain data and are not synchronized. RevisionStore
//	is safe for concurrent use.
package project

import (
	"fmt"
	"strings"
)

// Face names for cubes. The order is stable and used wherever faces are
// enumerated deterministically.
var FaceNames = []string{"north", "east", "south", "west", "up", "down"}

// Vec3 is an xyz triple. Used for positions, pivots and euler rotations.
type Vec3 [3]float64

// UVRect is a texture-space rectangle [x1, y1, x2, y2] in pixels.
type UVRect [4]float64

// Face is one textured side of a cube.
type Face struct {
	// TextureID references a Texture in the same snapshot, or "" when the
	// face is unbound.
	TextureID string `json:"textureId,omitempty"`
	UV        UVRect `json:"uv"`
	Rotation  int    `json:"rotation,omitempty"`
}

// Bone is a node in the rig hierarchy.
type Bone struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parentId,omitempty"`
	Pivot    Vec3   `json:"pivot"`
	Rotation Vec3   `json:"rotation"`
}

// Cube is an axis-aligned box parented to a bone (or free when BoneID is "").
type Cube struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	BoneID   string          `json:"boneId,omitempty"`
	From     Vec3            `json:"from"`
	To       Vec3            `json:"to"`
	Origin   Vec3            `json:"origin"`
	Rotation Vec3            `json:"rotation"`
	Inflate  float64         `json:"inflate,omitempty"`
	Faces    map[string]Face `json:"faces,omitempty"`
}

// MeshFace is a polygon over named mesh vertices.
type MeshFace struct {
	VertexKeys []string `json:"vertices"`
	TextureID  string   `json:"textureId,omitempty"`
}

// Mesh is a free-form polygon mesh.
type Mesh struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	BoneID   string          `json:"boneId,omitempty"`
	Vertices map[string]Vec3 `json:"vertices"`
	Faces    []MeshFace      `json:"faces,omitempty"`
}

// Texture is an image slot. Pixel data lives behind the Editor port; the
// snapshot only carries identity and dimensions.
type Texture struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Keyframe is a single channel key.
type Keyframe struct {
	Time          float64 `json:"time"`
	Value         Vec3    `json:"value"`
	Interpolation string  `json:"interpolation,omitempty"`
}

// Channel animates one property of one bone.
type Channel struct {
	BoneID string `json:"boneId"`
	// Kind is one of rotation, position, scale.
	Kind string     `json:"kind"`
	Keys []Keyframe `json:"keys"`
}

// AnimationClip is a named animation with per-bone channels.
type AnimationClip struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Length   float64   `json:"length"`
	Loop     bool      `json:"loop,omitempty"`
	Channels []Channel `json:"channels,omitempty"`
}

// Snapshot is the full logical state of a project at a point in time.
//
// # Description
//
// Snapshots hold ordered sequences; insertion order is meaningful and is the
// order diff results are reported in. The Revision field is derived (it is
// excluded from the canonical form that produces it) and may be empty on
// snapshots that have not been hashed yet.
type Snapshot struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	FormatID          string          `json:"formatId"`
	TextureResolution *[2]int         `json:"textureResolution,omitempty"`
	UVPixelsPerBlock  *int            `json:"uvPixelsPerBlock,omitempty"`
	Revision          string          `json:"revision,omitempty"`
	Bones             []Bone          `json:"bones"`
	Cubes             []Cube          `json:"cubes"`
	Meshes            []Mesh          `json:"meshes"`
	Textures          []Texture       `json:"textures"`
	Animations        []AnimationClip `json:"animations"`
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := *s
	if s.TextureResolution != nil {
		res := *s.TextureResolution
		out.TextureResolution = &res
	}
	if s.UVPixelsPerBlock != nil {
		ppb := *s.UVPixelsPerBlock
		out.UVPixelsPerBlock = &ppb
	}
	out.Bones = append([]Bone(nil), s.Bones...)
	out.Cubes = make([]Cube, len(s.Cubes))
	for i, c := range s.Cubes {
		cc := c
		if c.Faces != nil {
			cc.Faces = make(map[string]Face, len(c.Faces))
			for k, f := range c.Faces {
				cc.Faces[k] = f
			}
		}
		out.Cubes[i] = cc
	}
	out.Meshes = make([]Mesh, len(s.Meshes))
	for i, m := range s.Meshes {
		mm := m
		if m.Vertices != nil {
			mm.Vertices = make(map[string]Vec3, len(m.Vertices))
			for k, v := range m.Vertices {
				mm.Vertices[k] = v
			}
		}
		mm.Faces = append([]MeshFace(nil), m.Faces...)
		out.Meshes[i] = mm
	}
	out.Textures = append([]Texture(nil), s.Textures...)
	out.Animations = make([]AnimationClip, len(s.Animations))
	for i, a := range s.Animations {
		aa := a
		aa.Channels = make([]Channel, len(a.Channels))
		for j, ch := range a.Channels {
			cc := ch
			cc.Keys = append([]Keyframe(nil), ch.Keys...)
			aa.Channels[j] = cc
		}
		out.Animations[i] = aa
	}
	return &out
}

// BoneByID returns the bone with the given id, or nil.
func (s *Snapshot) BoneByID(id string) *Bone {
	for i := range s.Bones {
		if s.Bones[i].ID == id {
			return &s.Bones[i]
		}
	}
	return nil
}

// BoneByName returns the first bone with the given name, or nil.
func (s *Snapshot) BoneByName(name string) *Bone {
	for i := range s.Bones {
		if s.Bones[i].Name == name {
			return &s.Bones[i]
		}
	}
	return nil
}

// CubeByID returns the cube with the given id, or nil.
func (s *Snapshot) CubeByID(id string) *Cube {
	for i := range s.Cubes {
		if s.Cubes[i].ID == id {
			return &s.Cubes[i]
		}
	}
	return nil
}

// CubeByName returns the first cube with the given name, or nil.
func (s *Snapshot) CubeByName(name string) *Cube {
	for i := range s.Cubes {
		if s.Cubes[i].Name == name {
			return &s.Cubes[i]
		}
	}
	return nil
}

// TextureByID returns the texture with the given id, or nil.
func (s *Snapshot) TextureByID(id string) *Texture {
	for i := range s.Textures {
		if s.Textures[i].ID == id {
			return &s.Textures[i]
		}
	}
	return nil
}

// TextureByName returns the first texture with the given name, or nil.
func (s *Snapshot) TextureByName(name string) *Texture {
	for i := range s.Textures {
		if s.Textures[i].Name == name {
			return &s.Textures[i]
		}
	}
	return nil
}

// AnimationByID returns the clip with the given id, or nil.
func (s *Snapshot) AnimationByID(id string) *AnimationClip {
	for i := range s.Animations {
		if s.Animations[i].ID == id {
			return &s.Animations[i]
		}
	}
	return nil
}

// IsDescendantBone reports whether candidateID is boneID itself or a
// descendant of boneID in the parent chain.
//
// # Description
//
// Walks candidate's parent chain upward. Used to reject re-parenting a bone
// underneath its own subtree, which would create a cycle. The walk is bounded
// by the bone count so a corrupted parent chain cannot loop forever.
func (s *Snapshot) IsDescendantBone(boneID, candidateID string) bool {
	if boneID == candidateID {
		return true
	}
	cur := s.BoneByID(candidateID)
	for steps := 0; cur != nil && steps <= len(s.Bones); steps++ {
		if cur.ParentID == "" {
			return false
		}
		if cur.ParentID == boneID {
			return true
		}
		cur = s.BoneByID(cur.ParentID)
	}
	return false
}

// Validate checks the structural invariants of the snapshot.
//
// # Description
//
// Verifies, in order:
//   - every cube's boneId references an existing bone or is empty,
//   - every bound face texture references an existing texture id,
//   - texture ids and names are each unique,
//   - bone parent chains are acyclic,
//   - animation channel keys are strictly increasing and within [0, length].
//
// # Outputs
//
//   - []string: human-readable violations, empty when the snapshot is valid.
func (s *Snapshot) Validate() []string {
	var problems []string

	boneIDs := make(map[string]bool, len(s.Bones))
	for _, b := range s.Bones {
		boneIDs[b.ID] = true
	}
	for _, b := range s.Bones {
		if b.ParentID != "" && !boneIDs[b.ParentID] {
			problems = append(problems, fmt.Sprintf("bone %q: parent %q does not exist", b.Name, b.ParentID))
		}
	}
	for _, b := range s.Bones {
		if b.ParentID != "" && s.IsDescendantBone(b.ID, b.ParentID) {
			problems = append(problems, fmt.Sprintf("bone %q: parent chain forms a cycle", b.Name))
		}
	}

	texIDs := make(map[string]bool, len(s.Textures))
	texNames := make(map[string]bool, len(s.Textures))
	for _, t := range s.Textures {
		if texIDs[t.ID] {
			problems = append(problems, fmt.Sprintf("texture id %q: duplicate", t.ID))
		}
		texIDs[t.ID] = true
		if texNames[t.Name] {
			problems = append(problems, fmt.Sprintf("texture name %q: duplicate", t.Name))
		}
		texNames[t.Name] = true
	}

	for _, c := range s.Cubes {
		if c.BoneID != "" && !boneIDs[c.BoneID] {
			problems = append(problems, fmt.Sprintf("cube %q: bone %q does not exist", c.Name, c.BoneID))
		}
		for _, face := range FaceNames {
			f, ok := c.Faces[face]
			if !ok || f.TextureID == "" {
				continue
			}
			if !texIDs[f.TextureID] {
				problems = append(problems, fmt.Sprintf("cube %q: face %s references missing texture %q", c.Name, face, f.TextureID))
			}
		}
	}

	for _, m := range s.Meshes {
		if m.BoneID != "" && !boneIDs[m.BoneID] {
			problems = append(problems, fmt.Sprintf("mesh %q: bone %q does not exist", m.Name, m.BoneID))
		}
	}

	for _, a := range s.Animations {
		for _, ch := range a.Channels {
			prev := -1.0
			for _, k := range ch.Keys {
				if k.Time < 0 || k.Time > a.Length {
					problems = append(problems, fmt.Sprintf("animation %q: %s key at %g outside [0, %g]", a.Name, ch.Kind, k.Time, a.Length))
				}
				if k.Time <= prev {
					problems = append(problems, fmt.Sprintf("animation %q: %s keys not strictly increasing at %g", a.Name, ch.Kind, k.Time))
				}
				prev = k.Time
			}
		}
	}

	return problems
}

// ValidFaceName reports whether name is one of the six cube faces.
func ValidFaceName(name string) bool {
	for _, f := range FaceNames {
		if f == name {
			return true
		}
	}
	return false
}

// NormalizeName trims whitespace and reports whether the result is usable as
// an element name.
func NormalizeName(name string) (string, bool) {
	trimmed := strings.TrimSpace(name)
	return trimmed, trimmed != ""
}
