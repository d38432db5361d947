// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "INFO", LevelInfo.String())
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "UNKNOWN", Level(42).String())
}

func TestFileLoggingWritesJSON(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{
		Level:   LevelInfo,
		LogDir:  dir,
		Service: "gateway",
		Quiet:   true,
	})

	logger.Info("tool dispatched", "tool", "add_cube")
	require.NoError(t, logger.Close())

	name := "gateway_" + time.Now().Format("2006-01-02") + ".log"
	raw, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)

	var line map[string]any
	require.NoError(t, json.Unmarshal(raw, &line))
	assert.Equal(t, "tool dispatched", line["msg"])
	assert.Equal(t, "add_cube", line["tool"])
	assert.Equal(t, "gateway", line["service"])
}

func TestLevelFilterDropsDebug(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{
		Level:   LevelWarn,
		LogDir:  dir,
		Service: "gateway",
		Quiet:   true,
	})

	logger.Debug("hidden")
	logger.Info("also hidden")
	logger.Warn("visible")
	require.NoError(t, logger.Close())

	name := "gateway_" + time.Now().Format("2006-01-02") + ".log"
	raw, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "hidden")
	assert.Contains(t, string(raw), "visible")
}

func TestWithAddsAttributes(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{
		Level:   LevelInfo,
		LogDir:  dir,
		Service: "gateway",
		Quiet:   true,
	})

	child := logger.With("session", "abc123")
	child.Info("request handled")
	require.NoError(t, logger.Close())

	name := "gateway_" + time.Now().Format("2006-01-02") + ".log"
	raw, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "abc123")
}

func TestDefaultServiceNameForFiles(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{Level: LevelInfo, LogDir: dir, Quiet: true})
	logger.Info("ping")
	require.NoError(t, logger.Close())

	name := "modelforge_" + time.Now().Format("2006-01-02") + ".log"
	_, err := os.Stat(filepath.Join(dir, name))
	assert.NoError(t, err)
}

func TestExporterReceivesEntries(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{
		Level:    LevelInfo,
		Service:  "gateway",
		Quiet:    true,
		Exporter: exporter,
	})

	logger.Info("export started", "formatId", "bedrock")
	logger.Error("export failed", "error", "disk full")

	// Export runs asynchronously.
	require.Eventually(t, func() bool {
		return len(exporter.Entries()) == 2
	}, time.Second, 10*time.Millisecond)

	entries := exporter.Entries()
	assert.Equal(t, "export started", entries[0].Message)
	assert.Equal(t, LevelInfo, entries[0].Level)
	assert.Equal(t, "gateway", entries[0].Service)
	assert.Equal(t, "bedrock", entries[0].Attrs["formatId"])
	assert.Equal(t, LevelError, entries[1].Level)

	require.NoError(t, logger.Close())
}

func TestExporterRespectsLevelFilter(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{
		Level:    LevelError,
		Service:  "gateway",
		Quiet:    true,
		Exporter: exporter,
	})

	logger.Info("quiet")
	logger.Error("loud")

	require.Eventually(t, func() bool {
		return len(exporter.Entries()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "loud", exporter.Entries()[0].Message)
	require.NoError(t, logger.Close())
}

func TestSlogAccessor(t *testing.T) {
	logger := New(Config{Quiet: true})
	require.NotNil(t, logger.Slog())
	// Must not panic when used directly.
	logger.Slog().Info("direct slog usage")
	require.NoError(t, logger.Close())
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".modelforge/logs"), expandPath("~/.modelforge/logs"))
	assert.Equal(t, "/var/log/modelforge", expandPath("/var/log/modelforge"))
	assert.Equal(t, "relative/logs", expandPath("relative/logs"))
}

func TestArgsToMap(t *testing.T) {
	m := argsToMap([]any{"tool", "paint_faces", "ops", 4, 99, "dangling-key-ignored"})
	assert.Equal(t, "paint_faces", m["tool"])
	assert.Equal(t, 4, m["ops"])
	assert.Len(t, m, 2)
}

func TestNopExporter(t *testing.T) {
	var e NopExporter
	ctx := context.Background()
	assert.NoError(t, e.Export(ctx, LogEntry{}))
	assert.NoError(t, e.Flush(ctx))
	assert.NoError(t, e.Close())
}
