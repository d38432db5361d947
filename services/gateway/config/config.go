// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads gateway configuration: embedded YAML defaults, an
// optional config file, then environment overrides, validated with
// go-playground/validator.
//
// Thread Safety:
//
//	Config values are read-only after Load; safe to share.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// MaxYAMLFileSize caps config files at 1MB to avoid loading junk.
const MaxYAMLFileSize = 1024 * 1024

//go:embed defaults.yaml
var defaultsYAML []byte

// Limits bounds the model the gateway will author.
type Limits struct {
	MaxCubes            int     `yaml:"max_cubes" json:"maxCubes" validate:"gte=1"`
	MaxTextureSize      int     `yaml:"max_texture_size" json:"maxTextureSize" validate:"gte=1"`
	MaxAnimationSeconds float64 `yaml:"max_animation_seconds" json:"maxAnimationSeconds" validate:"gt=0"`
}

// SessionConfig controls session lifecycle and SSE fan-out.
type SessionConfig struct {
	TTL               time.Duration `yaml:"ttl" validate:"gt=0"`
	PruneInterval     time.Duration `yaml:"prune_interval" validate:"gt=0"`
	MaxSSEConnections int           `yaml:"max_sse_connections" validate:"gte=1"`
	KeepAliveInterval time.Duration `yaml:"keepalive_interval" validate:"gt=0"`
}

// TraceConfig controls the NDJSON trace recorder.
type TraceConfig struct {
	MaxEntries    int           `yaml:"max_entries" validate:"gte=1"`
	MaxBytes      int           `yaml:"max_bytes" validate:"gte=0"`
	FlushEvery    int           `yaml:"flush_every" validate:"gte=1"`
	FlushInterval time.Duration `yaml:"flush_interval" validate:"gt=0"`
	FilePath      string        `yaml:"file_path"`
}

// PipelineConfig controls the persistent workspace store and job queue.
type PipelineConfig struct {
	TenantID        string        `yaml:"tenant_id" validate:"required"`
	LockTTL         time.Duration `yaml:"lock_ttl" validate:"gt=0"`
	LockRetry       time.Duration `yaml:"lock_retry" validate:"gt=0"`
	LockTimeout     time.Duration `yaml:"lock_timeout" validate:"gt=0"`
	DefaultLeaseMS  int64         `yaml:"default_lease_ms" validate:"gte=5000"`
	DefaultAttempts int           `yaml:"default_attempts" validate:"gte=1,lte=10"`
	DataDir         string        `yaml:"data_dir"`
}

// Config is the full gateway configuration.
type Config struct {
	ListenAddr        string         `yaml:"listen_addr" validate:"required"`
	MCPPath           string         `yaml:"mcp_path" validate:"required,startswith=/"`
	PluginVersion     string         `yaml:"plugin_version" validate:"required"`
	ToolSchemaVersion string         `yaml:"tool_schema_version" validate:"required,datetime=2006-01-02"`
	ExportPolicy      string         `yaml:"export_policy" validate:"oneof=strict best_effort"`
	AutoRetry         bool           `yaml:"auto_retry"`
	RevisionHistory   int            `yaml:"revision_history" validate:"gte=1"`
	TmpDir            string         `yaml:"tmp_dir"`
	LogDir            string         `yaml:"log_dir"`
	CodecAllowList    []string       `yaml:"codec_allow_list"`
	Limits            Limits         `yaml:"limits"`
	Session           SessionConfig  `yaml:"session"`
	Trace             TraceConfig    `yaml:"trace"`
	Pipeline          PipelineConfig `yaml:"pipeline"`
}

// Load builds the configuration: embedded defaults, optional file at path
// (skipped when path is ""), then env overrides, then validation.
//
// # Inputs
//
//   - path: optional YAML file path; "" uses MODELFORGE_CONFIG or defaults only.
//
// # Outputs
//
//   - *Config: validated configuration.
//   - error: non-nil on unreadable file, malformed YAML or invalid values.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parse embedded defaults: %w", err)
	}

	if path == "" {
		path = os.Getenv("MODELFORGE_CONFIG")
	}
	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		if info.Size() > MaxYAMLFileSize {
			return nil, fmt.Errorf("config file %s exceeds %d bytes", path, MaxYAMLFileSize)
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnv overlays MODELFORGE_* environment variables on cfg.
func applyEnv(cfg *Config) {
	if v := os.Getenv("MODELFORGE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("MODELFORGE_MCP_PATH"); v != "" {
		cfg.MCPPath = v
	}
	if v := os.Getenv("MODELFORGE_TENANT_ID"); v != "" {
		cfg.Pipeline.TenantID = v
	}
	if v := os.Getenv("MODELFORGE_DATA_DIR"); v != "" {
		cfg.Pipeline.DataDir = v
	}
	if v := os.Getenv("MODELFORGE_TMP_DIR"); v != "" {
		cfg.TmpDir = v
	}
	if v := os.Getenv("MODELFORGE_LOG_DIR"); v != "" {
		cfg.LogDir = v
	}
	if v := os.Getenv("MODELFORGE_EXPORT_POLICY"); v != "" {
		cfg.ExportPolicy = v
	}
	if v := os.Getenv("MODELFORGE_AUTO_RETRY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.AutoRetry = b
		}
	}
	if v := os.Getenv("MODELFORGE_SESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Session.TTL = d
		}
	}
	if v := os.Getenv("MODELFORGE_MAX_CUBES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limits.MaxCubes = n
		}
	}
}
