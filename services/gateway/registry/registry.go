// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package registry holds the fixed table of tool definitions the gateway
// exposes over MCP, plus the content hash agents use to cache schemas.
//
// The registry is immutable after New; its hash is computed once over the
// canonical [{name, inputSchema}] array and advertised in capabilities.
//
// Thread Safety:
//
//	Registry is read-only after construction and safe for concurrent use.
package registry

import (
	"fmt"

	"github.com/AleutianAI/ModelForge/services/gateway/config"
	"github.com/AleutianAI/ModelForge/services/gateway/ports"
	"github.com/AleutianAI/ModelForge/services/gateway/project"
	"github.com/AleutianAI/ModelForge/services/gateway/schema"
)

// Kind classifies how the dispatcher treats a tool.
type Kind int

const (
	// KindReadOnly tools never mutate project state.
	KindReadOnly Kind = iota
	// KindStateful tools mutate state; the revision guard applies.
	KindStateful
	// KindStatefulRetry tools mutate state and participate in auto-retry on
	// revision mismatch.
	KindStatefulRetry
)

// Definition is one tool the gateway exposes.
type Definition struct {
	Name        string
	Title       string
	Description string
	InputSchema *schema.Schema
	Kind        Kind
	// RequiresRevision makes ifRevision mandatory on the payload.
	RequiresRevision bool
	// AttachStateDefault attaches {revision, state} to responses even when
	// the payload does not ask for it.
	AttachStateDefault bool
	// AttachDiffDefault attaches a diff-since-last-revision by default.
	AttachDiffDefault bool
}

// Stateful reports whether the tool mutates project state.
func (d *Definition) Stateful() bool { return d.Kind != KindReadOnly }

// Registry is the immutable tool table.
type Registry struct {
	defs   []Definition
	byName map[string]*Definition
	hash   string
}

// New builds the registry from the static tool table, sized by limits.
//
// # Outputs
//
//   - *Registry: ready registry.
//   - error: non-nil if a tool schema fails canonical serialization (a
//     programming error surfaced at startup, not at call time).
func New(limits config.Limits) (*Registry, error) {
	defs := toolTable(limits)
	r := &Registry{
		defs:   defs,
		byName: make(map[string]*Definition, len(defs)),
	}
	type hashEntry struct {
		Name        string         `json:"name"`
		InputSchema *schema.Schema `json:"inputSchema"`
	}
	entries := make([]hashEntry, 0, len(defs))
	for i := range defs {
		d := &r.defs[i]
		if _, dup := r.byName[d.Name]; dup {
			return nil, fmt.Errorf("duplicate tool %q", d.Name)
		}
		r.byName[d.Name] = d
		entries = append(entries, hashEntry{Name: d.Name, InputSchema: d.InputSchema})
	}
	canonical, err := project.CanonicalJSON(entries)
	if err != nil {
		return nil, fmt.Errorf("hash tool registry: %w", err)
	}
	r.hash = project.HashBytes(canonical)
	return r, nil
}

// Get returns the definition for name, or nil.
func (r *Registry) Get(name string) *Definition { return r.byName[name] }

// List returns the definitions in table order.
func (r *Registry) List() []Definition {
	out := make([]Definition, len(r.defs))
	copy(out, r.defs)
	return out
}

// Hash returns the registry content hash (hex SHA-256).
func (r *Registry) Hash() string { return r.hash }

// Count returns the number of tools.
func (r *Registry) Count() int { return len(r.defs) }

// Capabilities is the negotiation payload advertised on initialize.
type Capabilities struct {
	PluginVersion     string             `json:"pluginVersion"`
	ToolSchemaVersion string             `json:"toolSchemaVersion"`
	ToolRegistry      RegistryInfo       `json:"toolRegistry"`
	EngineVersion     string             `json:"engineVersion,omitempty"`
	Authoring         bool               `json:"authoring"`
	Formats           []ports.FormatInfo `json:"formats"`
	Limits            config.Limits      `json:"limits"`
	Preview           bool               `json:"preview,omitempty"`
	Guidance          bool               `json:"guidance,omitempty"`
}

// RegistryInfo is the registry summary inside Capabilities.
type RegistryInfo struct {
	Hash  string `json:"hash"`
	Count int    `json:"count"`
}

// BuildCapabilities assembles the capabilities payload.
func BuildCapabilities(cfg *config.Config, r *Registry, formats []ports.FormatInfo) Capabilities {
	return Capabilities{
		PluginVersion:     cfg.PluginVersion,
		ToolSchemaVersion: cfg.ToolSchemaVersion,
		ToolRegistry:      RegistryInfo{Hash: r.Hash(), Count: r.Count()},
		Authoring:         true,
		Formats:           formats,
		Limits:            cfg.Limits,
		Preview:           true,
		Guidance:          true,
	}
}
