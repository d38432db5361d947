// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badgerstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ModelForge/services/gateway/ports"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func record(project, revision, body string) *ports.Record {
	return &ports.Record{
		Scope:    ports.Scope{TenantID: "tenant-a", ProjectID: project},
		Revision: revision,
		State:    []byte(body),
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, record("doc1", "rev1", `{"n":1}`)))

	got, err := s.Load(ctx, ports.Scope{TenantID: "tenant-a", ProjectID: "doc1"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "rev1", got.Revision)
	assert.JSONEq(t, `{"n":1}`, string(got.State))
}

func TestLoadMissingReturnsNil(t *testing.T) {
	s := newTestStore(t)

	got, err := s.Load(context.Background(), ports.Scope{TenantID: "tenant-a", ProjectID: "absent"})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestTenantsAreIsolated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := record("doc1", "rev1", `{}`)
	require.NoError(t, s.Save(ctx, rec))

	got, err := s.Load(ctx, ports.Scope{TenantID: "tenant-b", ProjectID: "doc1"})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSaveIfRevisionGuards(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// "" means the document must not exist yet.
	require.NoError(t, s.SaveIfRevision(ctx, record("doc1", "rev1", `{"n":1}`), ""))

	// Creating again with "" conflicts.
	err := s.SaveIfRevision(ctx, record("doc1", "rev1b", `{"n":9}`), "")
	assert.ErrorIs(t, err, ports.ErrConflict)

	// Stale expected revision conflicts.
	err = s.SaveIfRevision(ctx, record("doc1", "rev2", `{"n":2}`), "rev0")
	assert.ErrorIs(t, err, ports.ErrConflict)

	// Matching expected revision succeeds.
	require.NoError(t, s.SaveIfRevision(ctx, record("doc1", "rev2", `{"n":2}`), "rev1"))

	got, err := s.Load(ctx, ports.Scope{TenantID: "tenant-a", ProjectID: "doc1"})
	require.NoError(t, err)
	assert.Equal(t, "rev2", got.Revision)
}

func TestSaveIfRevisionOnMissingWithExpected(t *testing.T) {
	s := newTestStore(t)

	err := s.SaveIfRevision(context.Background(), record("ghost", "rev1", `{}`), "rev0")
	assert.ErrorIs(t, err, ports.ErrConflict)
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	scope := ports.Scope{TenantID: "tenant-a", ProjectID: "doc1"}

	require.NoError(t, s.Save(ctx, record("doc1", "rev1", `{}`)))
	require.NoError(t, s.Delete(ctx, scope))

	got, err := s.Load(ctx, scope)
	require.NoError(t, err)
	assert.Nil(t, got)

	// Deleting again is not an error.
	assert.NoError(t, s.Delete(ctx, scope))
}

func TestSupportsCAS(t *testing.T) {
	s := newTestStore(t)
	assert.True(t, s.SupportsCAS())
}

func TestCancelledContextRejected(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Load(ctx, ports.Scope{TenantID: "tenant-a", ProjectID: "doc1"})
	assert.Error(t, err)
	assert.Error(t, s.Save(ctx, record("doc1", "rev1", `{}`)))
}

func TestPersistentReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	cfg := DefaultConfig(dir)
	cfg.SyncWrites = false
	cfg.GCInterval = 0

	s, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, record("doc1", "rev1", `{"kept":true}`)))
	require.NoError(t, s.Close())

	s, err = Open(cfg)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Load(ctx, ports.Scope{TenantID: "tenant-a", ProjectID: "doc1"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.JSONEq(t, `{"kept":true}`, string(got.State))
}
