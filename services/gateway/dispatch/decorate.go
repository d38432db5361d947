// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dispatch

import (
	"encoding/json"
	"strings"

	"github.com/AleutianAI/ModelForge/services/gateway/tool"
)

// decorate applies the per-tool response families: image blocks for pixel
// tools, next-action hints for guidance tools, and the dialog flow for
// ensure_project.
func (d *Dispatcher) decorate(name string, args json.RawMessage, resp *tool.Response) {
	switch name {
	case "read_texture":
		decorateImage(resp, resp.Data)
	case "render_preview":
		decorateFrames(resp)
	case "preflight_texture":
		decoratePreflight(resp)
	case "set_face_uv":
		decorateSetFaceUV(resp)
	case "ensure_project":
		decorateEnsureProject(args, resp)
	}
}

// splitDataURI separates "data:<mime>;base64,<data>" into its parts.
func splitDataURI(uri string) (mime, b64 string, ok bool) {
	if !strings.HasPrefix(uri, "data:") {
		return "", "", false
	}
	rest := strings.TrimPrefix(uri, "data:")
	sep := strings.Index(rest, ";base64,")
	if sep < 0 {
		return "", "", false
	}
	return rest[:sep], rest[sep+len(";base64,"):], true
}

// decorateImage lifts a dataUri field into an MCP image content block and
// strips the raw base64 from the structured payload.
func decorateImage(resp *tool.Response, holder map[string]any) {
	if !resp.OK {
		return
	}
	uri, _ := holder["dataUri"].(string)
	mime, b64, ok := splitDataURI(uri)
	if !ok {
		return
	}
	resp.Content = append(resp.Content, tool.ImageBlock(b64, mime))
	delete(holder, "dataUri")
}

// decorateFrames does the same for every render_preview frame.
func decorateFrames(resp *tool.Response) {
	if !resp.OK {
		return
	}
	frames, _ := resp.Data["frames"].([]map[string]any)
	for _, frame := range frames {
		decorateImage(resp, frame)
	}
}

// decoratePreflight suggests the natural follow-up calls after a texture
// preflight.
func decoratePreflight(resp *tool.Response) {
	if !resp.OK {
		return
	}
	texID, _ := resp.Data["textureId"].(string)
	resp.NextActions = append(resp.NextActions,
		tool.NextAction{
			Kind:   "call-tool",
			Tool:   "paint_faces",
			Args:   map[string]any{"textureId": texID},
			Prompt: "Paint the texture now that its dimensions are confirmed.",
		},
		tool.NextAction{
			Kind:   "call-tool",
			Tool:   "read_texture",
			Args:   map[string]any{"textureId": texID},
			Prompt: "Inspect the current pixels before painting over them.",
		},
	)
}

// decorateSetFaceUV nudges the agent to verify the mapping it just changed.
func decorateSetFaceUV(resp *tool.Response) {
	if !resp.OK {
		return
	}
	resp.NextActions = append(resp.NextActions, tool.NextAction{
		Kind:   "call-tool",
		Tool:   "render_preview",
		Prompt: "Render a preview to verify the new UV mapping.",
	})
}

// decorateEnsureProject turns a dialog-input failure into the guided
// three-step flow: fetch the current project state for a fresh revision, ask
// the user for the missing fields, then re-call ensure_project with the
// answers spliced in.
func decorateEnsureProject(args json.RawMessage, resp *tool.Response) {
	if resp.OK || resp.Error == nil || resp.Error.Reason() != tool.ReasonDialogInputRequired {
		return
	}
	fields := dialogFields(resp.Error)

	var original map[string]any
	_ = json.Unmarshal(args, &original)
	retryArgs := map[string]any{}
	for _, key := range []string{"name", "formatId", "textureResolution", "uvPixelsPerBlock"} {
		if v, ok := original[key]; ok {
			retryArgs[key] = v
		}
	}
	dialogValues := map[string]any{}
	for _, f := range fields {
		dialogValues[f] = map[string]any{"$ref": tool.Ref{Kind: "user", Field: f}}
	}
	retryArgs["dialogValues"] = dialogValues

	resp.NextActions = append(resp.NextActions,
		tool.NextAction{
			Kind:   "read-resource",
			URI:    "modelforge://project/state",
			Prompt: "Fetch the current state for a fresh revision before retrying.",
		},
		tool.NextAction{
			Kind:   "ask-user",
			Fields: fields,
			Prompt: "The engine needs these project dialog values before it can create the project.",
		},
		tool.NextAction{
			Kind: "call-tool",
			Tool: "ensure_project",
			Args: retryArgs,
		},
	)
}

func dialogFields(err *tool.Error) []string {
	raw, ok := err.Details["fields"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, f := range v {
			if s, ok := f.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
