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

	"github.com/AleutianAI/ModelForge/services/gateway/project"
	"github.com/AleutianAI/ModelForge/services/gateway/tool"
)

// CreateAnimationParams is the create_animation payload.
type CreateAnimationParams struct {
	Name   string  `json:"name"`
	Length float64 `json:"length"`
	Loop   bool    `json:"loop,omitempty"`
}

// CreateAnimation creates an empty clip, bounded by the animation length
// limit.
func (s *Services) CreateAnimation(ctx context.Context, p CreateAnimationParams) *tool.Response {
	name, fail := requireName(p.Name, "animation")
	if fail != nil {
		return fail
	}
	if p.Length <= 0 || p.Length > s.Limits.MaxAnimationSeconds {
		return tool.Fail(tool.CodeInvalidState,
			fmt.Sprintf("animation length must be in (0, %g]", s.Limits.MaxAnimationSeconds),
			map[string]any{"reason": "bad_length", "maxAnimationSeconds": s.Limits.MaxAnimationSeconds})
	}
	_, snap, err := s.CurrentRevision(ctx)
	if err != nil {
		return s.portFailure("read snapshot", err)
	}
	for i := range snap.Animations {
		if snap.Animations[i].Name == name {
			return tool.Fail(tool.CodeInvalidState, fmt.Sprintf("animation %q already exists", name),
				map[string]any{"reason": "duplicate_name"})
		}
	}
	clip := project.AnimationClip{ID: newID("anim"), Name: name, Length: p.Length, Loop: p.Loop}
	if err := s.Editor.CreateAnimation(ctx, clip); err != nil {
		return s.portFailure("create animation", err)
	}
	return s.commit(ctx, map[string]any{"id": clip.ID})
}

// KeyframeParams is one channel key in a set_keyframes payload.
type KeyframeParams struct {
	Time          float64   `json:"time"`
	Value         []float64 `json:"value"`
	Interpolation string    `json:"interpolation,omitempty"`
}

// SetKeyframesParams is the set_keyframes payload.
type SetKeyframesParams struct {
	AnimationID string           `json:"animationId"`
	BoneID      string           `json:"boneId"`
	Kind        string           `json:"kind"`
	Keys        []KeyframeParams `json:"keys"`
}

// SetKeyframes replaces one (boneId, kind) channel of a clip. Keys must be
// strictly increasing in time and inside [0, clip.length]; the check happens
// before the edit reaches the engine.
func (s *Services) SetKeyframes(ctx context.Context, p SetKeyframesParams) *tool.Response {
	_, snap, err := s.CurrentRevision(ctx)
	if err != nil {
		return s.portFailure("read snapshot", err)
	}
	clip := snap.AnimationByID(p.AnimationID)
	if clip == nil {
		return tool.Fail(tool.CodeInvalidState, fmt.Sprintf("animation %q does not exist", p.AnimationID),
			map[string]any{"reason": "not_found"})
	}
	if snap.BoneByID(p.BoneID) == nil {
		return tool.Fail(tool.CodeInvalidState, fmt.Sprintf("bone %q does not exist", p.BoneID),
			map[string]any{"reason": "not_found"})
	}
	prev := -1.0
	keys := make([]project.Keyframe, len(p.Keys))
	for i, k := range p.Keys {
		if k.Time < 0 || k.Time > clip.Length {
			return tool.Fail(tool.CodeInvalidState,
				fmt.Sprintf("keyframe time %g outside [0, %g]", k.Time, clip.Length),
				map[string]any{"reason": "key_out_of_range"})
		}
		if k.Time <= prev {
			return tool.Fail(tool.CodeInvalidState,
				fmt.Sprintf("keyframe times must be strictly increasing (at %g)", k.Time),
				map[string]any{"reason": "keys_not_increasing"})
		}
		prev = k.Time
		keys[i] = project.Keyframe{Time: k.Time, Value: vec3Of(k.Value), Interpolation: k.Interpolation}
	}
	channel := project.Channel{BoneID: p.BoneID, Kind: p.Kind, Keys: keys}
	if err := s.Editor.SetKeyframes(ctx, p.AnimationID, channel); err != nil {
		return s.portFailure("set keyframes", err)
	}
	return s.commit(ctx, map[string]any{"animationId": p.AnimationID, "keys": len(keys)})
}
