// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package editor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DirTmpStore implements ports.TmpStore over a scratch directory.
type DirTmpStore struct {
	dir string
}

// NewDirTmpStore creates the scratch directory if needed.
func NewDirTmpStore(dir string) (*DirTmpStore, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "modelforge")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create tmp store dir %s: %w", dir, err)
	}
	return &DirTmpStore{dir: dir}, nil
}

// Dir returns the scratch directory path.
func (t *DirTmpStore) Dir() string { return t.dir }

// Put implements ports.TmpStore. The name is sanitized; path traversal out of
// the scratch directory is rejected.
func (t *DirTmpStore) Put(ctx context.Context, name string, data []byte) (string, error) {
	clean := filepath.Clean(name)
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}
	path := filepath.Join(t.dir, clean)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact %s: %w", clean, err)
	}
	return path, nil
}
