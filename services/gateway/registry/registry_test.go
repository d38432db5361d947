// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

import (
	"testing"

	"github.com/AleutianAI/ModelForge/services/gateway/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLimits() config.Limits {
	return config.Limits{MaxCubes: 512, MaxTextureSize: 1024, MaxAnimationSeconds: 60}
}

func TestNew_HashIsStable(t *testing.T) {
	r1, err := New(testLimits())
	require.NoError(t, err)
	r2, err := New(testLimits())
	require.NoError(t, err)

	assert.Equal(t, r1.Hash(), r2.Hash())
	assert.Len(t, r1.Hash(), 64)
}

func TestNew_AllToolsResolvable(t *testing.T) {
	r, err := New(testLimits())
	require.NoError(t, err)

	for _, d := range r.List() {
		got := r.Get(d.Name)
		require.NotNil(t, got, "tool %s", d.Name)
		assert.NotNil(t, got.InputSchema, "tool %s must carry a schema", d.Name)
		assert.NotEmpty(t, got.Title)
	}
	assert.Nil(t, r.Get("no_such_tool"))
}

func TestClassification(t *testing.T) {
	r, err := New(testLimits())
	require.NoError(t, err)

	assert.Equal(t, KindReadOnly, r.Get("get_project_state").Kind)
	assert.Equal(t, KindReadOnly, r.Get("export").Kind)
	assert.Equal(t, KindStateful, r.Get("ensure_project").Kind)
	assert.Equal(t, KindStatefulRetry, r.Get("add_cube").Kind)
	assert.True(t, r.Get("add_cube").RequiresRevision)
	assert.False(t, r.Get("get_project_state").RequiresRevision)
}

func TestBuildCapabilities(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	r, err := New(cfg.Limits)
	require.NoError(t, err)

	caps := BuildCapabilities(cfg, r, nil)
	assert.Equal(t, cfg.PluginVersion, caps.PluginVersion)
	assert.Equal(t, r.Hash(), caps.ToolRegistry.Hash)
	assert.Equal(t, r.Count(), caps.ToolRegistry.Count)
	assert.Equal(t, cfg.Limits.MaxCubes, caps.Limits.MaxCubes)
	assert.True(t, caps.Authoring)
}
