// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ports declares the boundary interfaces the gateway core consumes:
// Editor, Snapshot, Formats, Exporter, TmpStore and Persistence. Concrete
// engine adapters (the Blockbench bridge, codec runners) live outside the
// core and implement these.
//
// All blocking operations take a context.Context. Errors cross the boundary
// either as the sentinel errors below or wrapping them.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/AleutianAI/ModelForge/services/gateway/project"
)

// Sentinel errors adapters use to signal well-known conditions. Services map
// these onto tool error codes.
var (
	// ErrNotFound signals a referenced element does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotImplemented signals the adapter does not support the operation.
	ErrNotImplemented = errors.New("not implemented")

	// ErrUnsupportedFormat signals the adapter cannot serve the requested format.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrConflict signals an optimistic-concurrency write lost the race.
	ErrConflict = errors.New("revision conflict")

	// ErrCASUnsupported signals the persistence backend cannot do
	// compare-and-swap writes. Callers downgrade to blind saves.
	ErrCASUnsupported = errors.New("compare-and-swap unsupported")
)

// DialogInputError is returned by Editor.EnsureProject when the engine needs
// user-supplied dialog values (for example a project name prompt) before a
// project can be created.
type DialogInputError struct {
	// Fields lists the dialog field names the adapter requires.
	Fields []string
}

// Error implements error.
func (e *DialogInputError) Error() string {
	return "adapter project dialog input required"
}

// ProjectSpec describes the project ensure_project asks the engine for.
type ProjectSpec struct {
	Name              string
	FormatID          string
	TextureResolution *[2]int
	UVPixelsPerBlock  *int
	// DialogValues carries user answers for a previously reported
	// DialogInputError, keyed by field name.
	DialogValues map[string]string
}

// BonePatch is a partial bone update; nil fields are left unchanged.
type BonePatch struct {
	Name     *string
	ParentID *string
	Pivot    *project.Vec3
	Rotation *project.Vec3
}

// CubePatch is a partial cube update; nil fields are left unchanged.
type CubePatch struct {
	Name     *string
	BoneID   *string
	From     *project.Vec3
	To       *project.Vec3
	Origin   *project.Vec3
	Rotation *project.Vec3
	Inflate  *float64
}

// PaintOp fills a rectangle of a texture with a solid color.
type PaintOp struct {
	X, Y, W, H int
	// Color is a #rrggbb or #rrggbbaa hex string.
	Color string
}

// TextureImage is encoded pixel data read back from the engine.
type TextureImage struct {
	MimeType string
	Data     []byte
	Width    int
	Height   int
}

// RenderRequest asks the engine for preview frames of the current model.
type RenderRequest struct {
	// Angles are horizontal camera angles in degrees; one frame per angle.
	Angles []float64
	Width  int
	Height int
}

// Frame is one rendered preview image.
type Frame struct {
	Angle    float64
	MimeType string
	Data     []byte
}

// SnapshotProvider reads the engine's current project state.
type SnapshotProvider interface {
	// Current returns the full logical state of the active project, or
	// ErrNotFound when no project is open.
	Current(ctx context.Context) (*project.Snapshot, error)
}

// Editor applies mutations to the active project. Implementations are NOT
// reentrant; the dispatcher serializes calls per workspace.
type Editor interface {
	// EnsureProject opens or creates a project matching spec. Returns true
	// when a new project was created. May return *DialogInputError.
	EnsureProject(ctx context.Context, spec ProjectSpec) (bool, error)

	AddBone(ctx context.Context, bone project.Bone) error
	UpdateBone(ctx context.Context, id string, patch BonePatch) error
	AddCube(ctx context.Context, cube project.Cube) error
	UpdateCube(ctx context.Context, id string, patch CubePatch) error
	AddMesh(ctx context.Context, mesh project.Mesh) error

	// RemoveNode deletes a bone, cube or mesh by id. Removing a bone drops
	// its descendants' parent references, not the descendants themselves.
	RemoveNode(ctx context.Context, id string) error

	CreateTexture(ctx context.Context, tex project.Texture) error
	AssignTexture(ctx context.Context, cubeID string, faces []string, textureID string) error
	PaintFaces(ctx context.Context, textureID string, ops []PaintOp) error
	SetFaceUV(ctx context.Context, cubeID, face string, uv project.UVRect, rotation int) error
	ReadTexturePixels(ctx context.Context, textureID string) (*TextureImage, error)

	CreateAnimation(ctx context.Context, clip project.AnimationClip) error
	// SetKeyframes replaces the matching (boneId, kind) channel of a clip.
	SetKeyframes(ctx context.Context, animationID string, channel project.Channel) error

	// RenderPreview rasterizes preview frames of the current model.
	RenderPreview(ctx context.Context, req RenderRequest) ([]Frame, error)
}

// FormatInfo describes one export/authoring format the engine knows.
type FormatInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// Internal formats are written by the gateway's built-in codec.
	Internal bool `json:"internal"`
	// Suffix is the primary artifact suffix, e.g. ".geo.json".
	Suffix string `json:"suffix"`
}

// Formats enumerates the formats the active engine supports.
type Formats interface {
	List(ctx context.Context) ([]FormatInfo, error)
}

// ExportRequest asks a codec to serialize the snapshot.
type ExportRequest struct {
	Snapshot *project.Snapshot
	FormatID string
	// CodecID selects a native codec; empty for internal codecs.
	CodecID string
	// BaseName is the artifact name without suffix.
	BaseName string
}

// ExportArtifact is one file produced by an export.
type ExportArtifact struct {
	Path  string `json:"path"`
	Bytes int    `json:"bytes"`
}

// ExportResult is what a codec produced.
type ExportResult struct {
	Artifacts []ExportArtifact `json:"artifacts"`
	Warnings  []string         `json:"warnings,omitempty"`
}

// Exporter runs a native export codec. The internal codec path lives in the
// use-case layer; this port is only consulted for native codecs.
type Exporter interface {
	Export(ctx context.Context, req ExportRequest) (*ExportResult, error)
}

// TmpStore writes derived artifacts (exports, flushed trace logs) to the
// workspace's scratch area and returns the resulting path.
type TmpStore interface {
	Put(ctx context.Context, name string, data []byte) (string, error)
}

// Scope identifies a persisted document.
type Scope struct {
	TenantID  string `json:"tenantId"`
	ProjectID string `json:"projectId"`
}

// Record is one persisted document with its content revision.
type Record struct {
	Scope     Scope     `json:"scope"`
	Revision  string    `json:"revision"`
	State     []byte    `json:"state"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Persistence stores pipeline documents. Implementations that cannot provide
// compare-and-swap return ErrCASUnsupported from SaveIfRevision and the core
// downgrades to blind saves (logged once at startup).
type Persistence interface {
	// Load returns the record for scope, or nil when absent.
	Load(ctx context.Context, scope Scope) (*Record, error)

	// Save writes the record unconditionally.
	Save(ctx context.Context, rec *Record) error

	// SaveIfRevision writes rec only when the stored revision equals
	// expected ("" means "must not exist"). Returns ErrConflict on mismatch.
	SaveIfRevision(ctx context.Context, rec *Record, expected string) error

	// Delete removes the record for scope. Deleting a missing record is not
	// an error.
	Delete(ctx context.Context, scope Scope) error

	// SupportsCAS reports whether SaveIfRevision is honored atomically.
	SupportsCAS() bool
}
