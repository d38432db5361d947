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
	"github.com/AleutianAI/ModelForge/services/gateway/config"
	"github.com/AleutianAI/ModelForge/services/gateway/schema"
)

// Common schema fragments.

func vec3() *schema.Schema {
	n := 3
	return &schema.Schema{Type: "array", Items: schema.Number(), MinItems: &n, MaxItems: &n}
}

func uvRect() *schema.Schema {
	n := 4
	return &schema.Schema{Type: "array", Items: schema.Number(), MinItems: &n, MaxItems: &n}
}

func faceEnum() *schema.Schema {
	return schema.Enum("north", "east", "south", "west", "up", "down")
}

// stateFlags are accepted on every tool payload.
func withStateFlags(props map[string]*schema.Schema) map[string]*schema.Schema {
	props["includeState"] = schema.Boolean()
	props["includeDiff"] = schema.Boolean()
	return props
}

func withRevision(props map[string]*schema.Schema) map[string]*schema.Schema {
	props["ifRevision"] = schema.String()
	return withStateFlags(props)
}

// toolTable is the fixed tool list. High-level tools first, then the
// low-level authoring tools. Order is stable; it feeds the registry hash.
func toolTable(limits config.Limits) []Definition {
	return []Definition{
		{
			Name:        "ensure_project",
			Title:       "Ensure Project",
			Description: "Open or create a project with the given name and format.",
			Kind:        KindStateful,
			InputSchema: schema.Object(withStateFlags(map[string]*schema.Schema{
				"name":              schema.String(),
				"formatId":          schema.String(),
				"textureResolution": uvTwo(),
				"uvPixelsPerBlock":  schema.Integer(),
				"dialogValues":      schema.OpenObject(nil),
			}), "name", "formatId"),
			AttachStateDefault: true,
		},
		{
			Name:        "get_project_state",
			Title:       "Get Project State",
			Description: "Read the current project snapshot or its summary.",
			Kind:        KindReadOnly,
			InputSchema: schema.Object(withStateFlags(map[string]*schema.Schema{
				"detail": schema.Enum("summary", "full"),
			})),
		},
		{
			Name:        "list_formats",
			Title:       "List Formats",
			Description: "Enumerate authoring and export formats the engine supports.",
			Kind:        KindReadOnly,
			InputSchema: schema.Object(withStateFlags(map[string]*schema.Schema{})),
		},
		{
			Name:        "validate_model",
			Title:       "Validate Model",
			Description: "Check the snapshot against structural invariants.",
			Kind:        KindReadOnly,
			InputSchema: schema.Object(withStateFlags(map[string]*schema.Schema{})),
		},
		{
			Name:        "render_preview",
			Title:       "Render Preview",
			Description: "Rasterize preview frames of the current model.",
			Kind:        KindReadOnly,
			InputSchema: schema.Object(withStateFlags(map[string]*schema.Schema{
				"angles": schema.Array(schema.Number()),
				"width":  schema.Integer(),
				"height": schema.Integer(),
			})),
		},
		{
			Name:        "export",
			Title:       "Export Model",
			Description: "Serialize the model to a format, via internal or native codec.",
			Kind:        KindReadOnly,
			InputSchema: schema.Object(withStateFlags(map[string]*schema.Schema{
				"formatId": schema.String(),
				"codecId":  schema.String(),
				"baseName": schema.String(),
			}), "formatId"),
		},
		{
			Name:        "preflight_texture",
			Title:       "Preflight Texture",
			Description: "Check texture dimensions and UV coverage before painting.",
			Kind:        KindReadOnly,
			InputSchema: schema.Object(withStateFlags(map[string]*schema.Schema{
				"textureId": schema.String(),
			}), "textureId"),
		},
		{
			Name:        "add_bone",
			Title:       "Add Bone",
			Description: "Add a bone to the rig.",
			Kind:        KindStatefulRetry,
			InputSchema: schema.Object(withRevision(map[string]*schema.Schema{
				"name":     schema.String(),
				"parentId": schema.String(),
				"pivot":    vec3(),
				"rotation": vec3(),
			}), "name"),
			RequiresRevision: true,
		},
		{
			Name:        "update_bone",
			Title:       "Update Bone",
			Description: "Patch a bone's name, parent, pivot or rotation.",
			Kind:        KindStatefulRetry,
			InputSchema: schema.Object(withRevision(map[string]*schema.Schema{
				"id":       schema.String(),
				"name":     schema.String(),
				"parentId": schema.String(),
				"pivot":    vec3(),
				"rotation": vec3(),
			}), "id"),
			RequiresRevision: true,
		},
		{
			Name:        "add_cube",
			Title:       "Add Cube",
			Description: "Add a cube, optionally parented to a bone.",
			Kind:        KindStatefulRetry,
			InputSchema: schema.Object(withRevision(map[string]*schema.Schema{
				"name":     schema.String(),
				"boneId":   schema.String(),
				"from":     vec3(),
				"to":       vec3(),
				"origin":   vec3(),
				"rotation": vec3(),
				"inflate":  schema.Number(),
			}), "name", "from", "to"),
			RequiresRevision:  true,
			AttachDiffDefault: true,
		},
		{
			Name:        "update_cube",
			Title:       "Update Cube",
			Description: "Patch a cube's geometry or parenting.",
			Kind:        KindStatefulRetry,
			InputSchema: schema.Object(withRevision(map[string]*schema.Schema{
				"id":       schema.String(),
				"name":     schema.String(),
				"boneId":   schema.String(),
				"from":     vec3(),
				"to":       vec3(),
				"origin":   vec3(),
				"rotation": vec3(),
				"inflate":  schema.Number(),
			}), "id"),
			RequiresRevision: true,
		},
		{
			Name:        "add_mesh",
			Title:       "Add Mesh",
			Description: "Add a free-form polygon mesh.",
			Kind:        KindStatefulRetry,
			InputSchema: schema.Object(withRevision(map[string]*schema.Schema{
				"name":     schema.String(),
				"boneId":   schema.String(),
				"vertices": schema.OpenObject(nil),
				"faces": schema.Array(schema.Object(map[string]*schema.Schema{
					"vertices":  schema.Array(schema.String()),
					"textureId": schema.String(),
				}, "vertices")),
			}), "name", "vertices"),
			RequiresRevision: true,
		},
		{
			Name:        "remove_node",
			Title:       "Remove Node",
			Description: "Remove a bone, cube or mesh by id.",
			Kind:        KindStatefulRetry,
			InputSchema: schema.Object(withRevision(map[string]*schema.Schema{
				"id": schema.String(),
			}), "id"),
			RequiresRevision: true,
		},
		{
			Name:        "create_texture",
			Title:       "Create Texture",
			Description: "Create a blank texture slot.",
			Kind:        KindStatefulRetry,
			InputSchema: schema.Object(withRevision(map[string]*schema.Schema{
				"name":   schema.String(),
				"width":  schema.Integer(),
				"height": schema.Integer(),
			}), "name", "width", "height"),
			RequiresRevision: true,
		},
		{
			Name:        "assign_texture",
			Title:       "Assign Texture",
			Description: "Bind a texture to cube faces.",
			Kind:        KindStatefulRetry,
			InputSchema: schema.Object(withRevision(map[string]*schema.Schema{
				"cubeId":    schema.String(),
				"textureId": schema.String(),
				"faces":     schema.Array(faceEnum()),
			}), "cubeId", "textureId"),
			RequiresRevision: true,
		},
		{
			Name:        "paint_faces",
			Title:       "Paint Faces",
			Description: "Fill texture rectangles with solid colors.",
			Kind:        KindStatefulRetry,
			InputSchema: schema.Object(withRevision(map[string]*schema.Schema{
				"textureId": schema.String(),
				"ops": schema.Array(schema.Object(map[string]*schema.Schema{
					"x":     schema.Integer(),
					"y":     schema.Integer(),
					"w":     schema.Integer(),
					"h":     schema.Integer(),
					"color": schema.String(),
				}, "x", "y", "w", "h", "color")),
			}), "textureId", "ops"),
			RequiresRevision: true,
		},
		{
			Name:        "set_face_uv",
			Title:       "Set Face UV",
			Description: "Set the UV rectangle of one cube face.",
			Kind:        KindStatefulRetry,
			InputSchema: schema.Object(withRevision(map[string]*schema.Schema{
				"cubeId":   schema.String(),
				"face":     faceEnum(),
				"uv":       uvRect(),
				"rotation": schema.Integer(),
			}), "cubeId", "face", "uv"),
			RequiresRevision: true,
		},
		{
			Name:        "read_texture",
			Title:       "Read Texture",
			Description: "Read back a texture's pixels as an image block.",
			Kind:        KindReadOnly,
			InputSchema: schema.Object(withStateFlags(map[string]*schema.Schema{
				"textureId": schema.String(),
			}), "textureId"),
		},
		{
			Name:        "create_animation",
			Title:       "Create Animation",
			Description: "Create an animation clip.",
			Kind:        KindStatefulRetry,
			InputSchema: schema.Object(withRevision(map[string]*schema.Schema{
				"name":   schema.String(),
				"length": schema.Number(),
				"loop":   schema.Boolean(),
			}), "name", "length"),
			RequiresRevision: true,
		},
		{
			Name:        "set_keyframes",
			Title:       "Set Keyframes",
			Description: "Replace one channel of an animation clip.",
			Kind:        KindStatefulRetry,
			InputSchema: schema.Object(withRevision(map[string]*schema.Schema{
				"animationId": schema.String(),
				"boneId":      schema.String(),
				"kind":        schema.Enum("rotation", "position", "scale"),
				"keys": schema.Array(schema.Object(map[string]*schema.Schema{
					"time":          schema.Number(),
					"value":         vec3(),
					"interpolation": schema.Enum("linear", "smooth", "step"),
				}, "time", "value")),
			}), "animationId", "boneId", "kind", "keys"),
			RequiresRevision: true,
		},
	}
}

func uvTwo() *schema.Schema {
	n := 2
	return &schema.Schema{Type: "array", Items: schema.Integer(), MinItems: &n, MaxItems: &n}
}
