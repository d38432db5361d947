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
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ModelForge/services/gateway/ports"
	"github.com/AleutianAI/ModelForge/services/gateway/tool"
)

// codecFunc adapts a function to ports.Exporter.
type codecFunc func(ctx context.Context, req ports.ExportRequest) (*ports.ExportResult, error)

func (f codecFunc) Export(ctx context.Context, req ports.ExportRequest) (*ports.ExportResult, error) {
	return f(ctx, req)
}

func buildSmallModel(t *testing.T, s *Services) {
	t.Helper()
	ctx := context.Background()
	boneID := addBone(t, s, "body", "")
	resp := s.AddCube(ctx, AddCubeParams{
		Name: "torso", BoneID: boneID,
		From: []float64{-4, 0, -2}, To: []float64{4, 12, 2},
	})
	require.True(t, resp.OK)
	resp = s.CreateAnimation(ctx, CreateAnimationParams{Name: "walk", Length: 1})
	require.True(t, resp.OK)
}

func TestExportBedrockWritesArtifacts(t *testing.T) {
	s, _ := newTestServices(t)
	openProject(t, s)
	buildSmallModel(t, s)

	resp := s.Export(context.Background(), ExportParams{FormatID: "bedrock"})
	require.True(t, resp.OK, "export: %+v", resp.Error)

	artifacts := resp.Data["artifacts"].([]ports.ExportArtifact)
	require.Len(t, artifacts, 2)
	assert.True(t, strings.HasSuffix(artifacts[0].Path, ".geo.json"))
	assert.True(t, strings.HasSuffix(artifacts[1].Path, ".animation.json"))

	raw, err := os.ReadFile(artifacts[0].Path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "1.12.0", doc["format_version"])
	geos := doc["minecraft:geometry"].([]any)
	require.Len(t, geos, 1)
	desc := geos[0].(map[string]any)["description"].(map[string]any)
	assert.Equal(t, "geometry.robot", desc["identifier"])
}

func TestExportJavaBlockWarnsAboutAnimations(t *testing.T) {
	s, _ := newTestServices(t)
	openProject(t, s)
	buildSmallModel(t, s)

	resp := s.Export(context.Background(), ExportParams{FormatID: "java_block"})
	require.True(t, resp.OK)

	warnings := resp.Data["warnings"].([]string)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "animations")

	artifacts := resp.Data["artifacts"].([]ports.ExportArtifact)
	require.Len(t, artifacts, 1)
	raw, err := os.ReadFile(artifacts[0].Path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Len(t, doc["elements"], 1)
}

func TestExportGLTFIncludesContainer(t *testing.T) {
	s, _ := newTestServices(t)
	openProject(t, s)
	buildSmallModel(t, s)

	resp := s.Export(context.Background(), ExportParams{FormatID: "gltf"})
	require.True(t, resp.OK)

	artifacts := resp.Data["artifacts"].([]ports.ExportArtifact)
	require.Len(t, artifacts, 3)
	last := artifacts[len(artifacts)-1]
	assert.True(t, strings.HasSuffix(last.Path, ".gltf"))

	raw, err := os.ReadFile(last.Path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	asset := doc["asset"].(map[string]any)
	assert.Equal(t, "2.0", asset["version"])
}

func TestExportNativeCodecAllowList(t *testing.T) {
	s, _ := newTestServices(t)
	openProject(t, s)
	called := false
	s.Exporter = codecFunc(func(ctx context.Context, req ports.ExportRequest) (*ports.ExportResult, error) {
		called = true
		assert.Equal(t, "gecko_geo", req.CodecID)
		return &ports.ExportResult{
			Artifacts: []ports.ExportArtifact{{Path: "/tmp/out.geo.json", Bytes: 42}},
		}, nil
	})

	resp := s.Export(context.Background(), ExportParams{FormatID: "native_codec", CodecID: "gecko_geo"})
	require.True(t, resp.OK)
	assert.True(t, called)
}

func TestExportNativeCodecRejected(t *testing.T) {
	s, _ := newTestServices(t)
	openProject(t, s)
	s.ExportPolicy = "strict"

	resp := s.Export(context.Background(), ExportParams{FormatID: "native_codec", CodecID: "evil_codec"})
	require.False(t, resp.OK)
	assert.Equal(t, tool.CodeUnsupportedFormat, resp.Error.Code)
}

func TestExportBestEffortFallsBackToInternalWriter(t *testing.T) {
	s, _ := newTestServices(t)
	openProject(t, s)
	buildSmallModel(t, s)
	s.ExportPolicy = "best_effort"
	s.Exporter = codecFunc(func(ctx context.Context, req ports.ExportRequest) (*ports.ExportResult, error) {
		return nil, ports.ErrNotImplemented
	})

	resp := s.Export(context.Background(), ExportParams{FormatID: "native_codec", CodecID: "gecko_anim"})
	require.True(t, resp.OK)

	// The codec's failure becomes a warning and the internal writer still
	// produces the artifacts.
	warnings := resp.Data["warnings"].([]string)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "not implemented")

	assert.Equal(t, "gltf", resp.Data["formatId"])
	artifacts := resp.Data["artifacts"].([]ports.ExportArtifact)
	require.NotEmpty(t, artifacts)
	last := artifacts[len(artifacts)-1]
	assert.True(t, strings.HasSuffix(last.Path, ".gltf"))
}

func TestExportStrictSurfacesCodecFailure(t *testing.T) {
	s, _ := newTestServices(t)
	openProject(t, s)
	s.ExportPolicy = "strict"
	s.Exporter = codecFunc(func(ctx context.Context, req ports.ExportRequest) (*ports.ExportResult, error) {
		return nil, ports.ErrNotImplemented
	})

	resp := s.Export(context.Background(), ExportParams{FormatID: "native_codec", CodecID: "gecko_anim"})
	require.False(t, resp.OK)
	assert.Equal(t, tool.CodeNotImplemented, resp.Error.Code)
}

func TestExportUnknownFormat(t *testing.T) {
	s, _ := newTestServices(t)
	openProject(t, s)

	resp := s.Export(context.Background(), ExportParams{FormatID: "obj"})
	require.False(t, resp.OK)
	assert.Equal(t, tool.CodeUnsupportedFormat, resp.Error.Code)
}
