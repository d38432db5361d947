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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ModelForge/services/gateway/config"
	"github.com/AleutianAI/ModelForge/services/gateway/editor"
	"github.com/AleutianAI/ModelForge/services/gateway/ports"
	"github.com/AleutianAI/ModelForge/services/gateway/project"
	"github.com/AleutianAI/ModelForge/services/gateway/tool"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("MODELFORGE_CONFIG", "")
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func newTestServices(t *testing.T) (*Services, *editor.Memory) {
	t.Helper()
	cfg := testConfig(t)
	mem := editor.NewMemory()
	tmp, err := editor.NewDirTmpStore(t.TempDir())
	require.NoError(t, err)
	revs := project.NewRevisionStore(cfg.RevisionHistory)
	return New(mem, mem, mem, nil, tmp, revs, cfg, nil), mem
}

func openProject(t *testing.T, s *Services) string {
	t.Helper()
	resp := s.EnsureProject(context.Background(), EnsureProjectParams{Name: "robot", FormatID: "bedrock"})
	require.True(t, resp.OK, "ensure_project: %+v", resp.Error)
	return resp.Data["revision"].(string)
}

func addBone(t *testing.T, s *Services, name, parentID string) string {
	t.Helper()
	resp := s.AddBone(context.Background(), AddBoneParams{Name: name, ParentID: parentID})
	require.True(t, resp.OK, "add_bone %s: %+v", name, resp.Error)
	return resp.Data["id"].(string)
}

func TestEnsureProjectCreatesAndReopens(t *testing.T) {
	s, _ := newTestServices(t)
	ctx := context.Background()

	resp := s.EnsureProject(ctx, EnsureProjectParams{Name: "robot", FormatID: "bedrock"})
	require.True(t, resp.OK)
	assert.Equal(t, true, resp.Data["created"])
	rev1 := resp.Data["revision"].(string)
	assert.Len(t, rev1, 64)

	// Same format: reopened, not recreated, and the revision is stable.
	resp = s.EnsureProject(ctx, EnsureProjectParams{Name: "robot", FormatID: "bedrock"})
	require.True(t, resp.OK)
	assert.Equal(t, false, resp.Data["created"])
	assert.Equal(t, rev1, resp.Data["revision"])
}

func TestEnsureProjectDialogFlow(t *testing.T) {
	s, mem := newTestServices(t)
	mem.RequireDialog = []string{"parent"}
	ctx := context.Background()

	resp := s.EnsureProject(ctx, EnsureProjectParams{Name: "robot", FormatID: "bedrock"})
	require.False(t, resp.OK)
	assert.Equal(t, tool.CodeInvalidState, resp.Error.Code)
	assert.Equal(t, tool.ReasonDialogInputRequired, resp.Error.Reason())
	assert.Equal(t, []string{"parent"}, resp.Error.Details["fields"])

	resp = s.EnsureProject(ctx, EnsureProjectParams{
		Name:         "robot",
		FormatID:     "bedrock",
		DialogValues: map[string]string{"parent": "minecraft:pig"},
	})
	require.True(t, resp.OK)
	assert.Equal(t, true, resp.Data["created"])
}

func TestGetProjectStateNoProject(t *testing.T) {
	s, _ := newTestServices(t)

	resp := s.GetProjectState(context.Background(), GetProjectStateParams{})
	require.True(t, resp.OK)
	assert.Equal(t, false, resp.Data["open"])
}

func TestGetProjectStateDetail(t *testing.T) {
	s, _ := newTestServices(t)
	openProject(t, s)
	addBone(t, s, "body", "")

	resp := s.GetProjectState(context.Background(), GetProjectStateParams{})
	require.True(t, resp.OK)
	assert.Equal(t, true, resp.Data["open"])
	counts := resp.Data["counts"].(map[string]any)
	assert.Equal(t, 1, counts["bones"])
	assert.Nil(t, resp.Data["state"])

	resp = s.GetProjectState(context.Background(), GetProjectStateParams{Detail: "full"})
	require.True(t, resp.OK)
	assert.NotNil(t, resp.Data["state"])
}

func TestAddBoneRejectsDuplicateName(t *testing.T) {
	s, _ := newTestServices(t)
	openProject(t, s)
	addBone(t, s, "body", "")

	resp := s.AddBone(context.Background(), AddBoneParams{Name: "body"})
	require.False(t, resp.OK)
	assert.Equal(t, tool.CodeInvalidState, resp.Error.Code)
	assert.Equal(t, "duplicate_name", resp.Error.Reason())
}

func TestAddBoneRejectsBlankName(t *testing.T) {
	s, _ := newTestServices(t)
	openProject(t, s)

	resp := s.AddBone(context.Background(), AddBoneParams{Name: "   "})
	require.False(t, resp.OK)
	assert.Equal(t, "blank_name", resp.Error.Reason())
}

func TestUpdateBoneRejectsDescendantParent(t *testing.T) {
	s, _ := newTestServices(t)
	openProject(t, s)
	root := addBone(t, s, "root", "")
	child := addBone(t, s, "child", root)
	grandchild := addBone(t, s, "grandchild", child)

	resp := s.UpdateBone(context.Background(), UpdateBoneParams{ID: root, ParentID: &grandchild})
	require.False(t, resp.OK)
	assert.Equal(t, tool.CodeInvalidState, resp.Error.Code)
	assert.Equal(t, tool.ReasonBoneDescendant, resp.Error.Reason())
}

func TestAddCubeEnforcesLimit(t *testing.T) {
	s, _ := newTestServices(t)
	s.Limits.MaxCubes = 2
	openProject(t, s)
	ctx := context.Background()

	for _, name := range []string{"head", "torso"} {
		resp := s.AddCube(ctx, AddCubeParams{Name: name, From: []float64{0, 0, 0}, To: []float64{1, 1, 1}})
		require.True(t, resp.OK)
	}
	resp := s.AddCube(ctx, AddCubeParams{Name: "overflow", From: []float64{0, 0, 0}, To: []float64{1, 1, 1}})
	require.False(t, resp.OK)
	assert.Equal(t, "cube_limit", resp.Error.Reason())
}

func TestUpdateCubeByName(t *testing.T) {
	s, _ := newTestServices(t)
	openProject(t, s)
	ctx := context.Background()

	resp := s.AddCube(ctx, AddCubeParams{Name: "torso", From: []float64{0, 0, 0}, To: []float64{8, 8, 8}})
	require.True(t, resp.OK)
	id := resp.Data["id"].(string)

	inflate := 0.5
	resp = s.UpdateCube(ctx, UpdateCubeParams{ID: "torso", Inflate: &inflate})
	require.True(t, resp.OK)
	assert.Equal(t, id, resp.Data["id"])
}

func TestRemoveNodeUnknownID(t *testing.T) {
	s, _ := newTestServices(t)
	openProject(t, s)

	resp := s.RemoveNode(context.Background(), RemoveNodeParams{ID: "nope"})
	require.False(t, resp.OK)
	assert.Equal(t, "not_found", resp.Error.Reason())
}

func TestMutationsAdvanceRevision(t *testing.T) {
	s, _ := newTestServices(t)
	rev0 := openProject(t, s)

	resp := s.AddBone(context.Background(), AddBoneParams{Name: "body"})
	require.True(t, resp.OK)
	rev1 := resp.Data["revision"].(string)
	assert.NotEqual(t, rev0, rev1)
}

func TestCreateTextureValidatesDimensions(t *testing.T) {
	s, _ := newTestServices(t)
	openProject(t, s)
	ctx := context.Background()

	resp := s.CreateTexture(ctx, CreateTextureParams{Name: "skin", Width: 0, Height: 16})
	require.False(t, resp.OK)
	assert.Equal(t, "bad_dimensions", resp.Error.Reason())

	resp = s.CreateTexture(ctx, CreateTextureParams{Name: "skin", Width: 16, Height: s.Limits.MaxTextureSize + 1})
	require.False(t, resp.OK)
	assert.Equal(t, "texture_limit", resp.Error.Reason())

	resp = s.CreateTexture(ctx, CreateTextureParams{Name: "skin", Width: 16, Height: 16})
	require.True(t, resp.OK)
}

func TestPaintFacesEmptyOpsIsNoChange(t *testing.T) {
	s, _ := newTestServices(t)
	openProject(t, s)

	resp := s.PaintFaces(context.Background(), PaintFacesParams{TextureID: "tex_x"})
	require.False(t, resp.OK)
	assert.Equal(t, tool.CodeNoChange, resp.Error.Code)
}

func TestReadTextureReturnsDataURI(t *testing.T) {
	s, _ := newTestServices(t)
	openProject(t, s)
	ctx := context.Background()

	resp := s.CreateTexture(ctx, CreateTextureParams{Name: "skin", Width: 8, Height: 8})
	require.True(t, resp.OK)
	texID := resp.Data["id"].(string)

	resp = s.PaintFaces(ctx, PaintFacesParams{
		TextureID: texID,
		Ops:       []PaintOpParams{{X: 0, Y: 0, W: 8, H: 8, Color: "#ff0000"}},
	})
	require.True(t, resp.OK)

	resp = s.ReadTexture(ctx, ReadTextureParams{TextureID: texID})
	require.True(t, resp.OK)
	uri := resp.Data["dataUri"].(string)
	assert.True(t, strings.HasPrefix(uri, "data:image/png;base64,"), "got %q", uri)
	assert.Equal(t, 8, resp.Data["width"])
}

func TestPreflightTextureReportsBindings(t *testing.T) {
	s, _ := newTestServices(t)
	openProject(t, s)
	ctx := context.Background()

	resp := s.CreateTexture(ctx, CreateTextureParams{Name: "skin", Width: 16, Height: 16})
	require.True(t, resp.OK)
	texID := resp.Data["id"].(string)

	resp = s.AddCube(ctx, AddCubeParams{Name: "torso", From: []float64{0, 0, 0}, To: []float64{8, 8, 8}})
	require.True(t, resp.OK)
	cubeID := resp.Data["id"].(string)

	resp = s.AssignTexture(ctx, AssignTextureParams{CubeID: cubeID, TextureID: texID, Faces: []string{"north"}})
	require.True(t, resp.OK)

	resp = s.PreflightTexture(ctx, PreflightTextureParams{TextureID: texID})
	require.True(t, resp.OK)
	assert.Equal(t, true, resp.Data["powerOfTwo"])
	bound := resp.Data["boundFaces"].([]map[string]any)
	require.Len(t, bound, 1)
	assert.Equal(t, "north", bound[0]["face"])
}

func TestSetKeyframesOrderingAndRange(t *testing.T) {
	s, _ := newTestServices(t)
	openProject(t, s)
	ctx := context.Background()
	boneID := addBone(t, s, "body", "")

	resp := s.CreateAnimation(ctx, CreateAnimationParams{Name: "walk", Length: 1.0, Loop: true})
	require.True(t, resp.OK)
	animID := resp.Data["id"].(string)

	resp = s.SetKeyframes(ctx, SetKeyframesParams{
		AnimationID: animID, BoneID: boneID, Kind: "rotation",
		Keys: []KeyframeParams{{Time: 0.5}, {Time: 0.25}},
	})
	require.False(t, resp.OK)
	assert.Equal(t, "keys_not_increasing", resp.Error.Reason())

	resp = s.SetKeyframes(ctx, SetKeyframesParams{
		AnimationID: animID, BoneID: boneID, Kind: "rotation",
		Keys: []KeyframeParams{{Time: 0.5}, {Time: 1.5}},
	})
	require.False(t, resp.OK)
	assert.Equal(t, "key_out_of_range", resp.Error.Reason())

	resp = s.SetKeyframes(ctx, SetKeyframesParams{
		AnimationID: animID, BoneID: boneID, Kind: "rotation",
		Keys: []KeyframeParams{{Time: 0, Value: []float64{0, 0, 0}}, {Time: 1, Value: []float64{0, 90, 0}}},
	})
	require.True(t, resp.OK)
	assert.Equal(t, 2, resp.Data["keys"])
}

func TestCreateAnimationLengthLimit(t *testing.T) {
	s, _ := newTestServices(t)
	openProject(t, s)

	resp := s.CreateAnimation(context.Background(), CreateAnimationParams{
		Name: "epic", Length: s.Limits.MaxAnimationSeconds + 1,
	})
	require.False(t, resp.OK)
	assert.Equal(t, "bad_length", resp.Error.Reason())
}

func TestValidateModelReportsProblems(t *testing.T) {
	s, mem := newTestServices(t)
	openProject(t, s)
	ctx := context.Background()

	resp := s.ValidateModel(ctx)
	require.True(t, resp.OK)
	assert.Equal(t, true, resp.Data["valid"])

	// Slip a malformed clip in behind the services' invariant checks; the
	// adapter applies it verbatim.
	require.NoError(t, mem.CreateAnimation(ctx, project.AnimationClip{
		ID: "anim_bad", Name: "bad", Length: 1,
		Channels: []project.Channel{{
			BoneID: "bone_missing", Kind: "rotation",
			Keys: []project.Keyframe{{Time: 2}},
		}},
	}))

	resp = s.ValidateModel(ctx)
	require.True(t, resp.OK)
	assert.Equal(t, false, resp.Data["valid"])
	problems := resp.Data["problems"].([]string)
	assert.NotEmpty(t, problems)
}

func TestListFormats(t *testing.T) {
	s, _ := newTestServices(t)

	resp := s.ListFormats(context.Background())
	require.True(t, resp.OK)
	formats := resp.Data["formats"].([]ports.FormatInfo)
	ids := make([]string, len(formats))
	for i, f := range formats {
		ids[i] = f.ID
	}
	assert.Contains(t, ids, "bedrock")
	assert.Contains(t, ids, "native_codec")
}
