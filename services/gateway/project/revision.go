// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package project

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// DefaultRevisionHistory is the number of past snapshots kept for diff-base
// lookup.
const DefaultRevisionHistory = 5

// CanonicalJSON renders v as deterministic JSON: object keys sorted, no
// insignificant whitespace.
//
// # Description
//
// Marshals v with encoding/json, decodes into generic values and re-marshals.
// Go maps marshal with sorted keys, so the round trip yields a canonical
// byte form that is stable under struct field order and formatting. Numbers
// survive as json.Number to avoid float re-encoding drift.
//
// # Inputs
//
//   - v: any JSON-serializable value.
//
// # Outputs
//
//   - []byte: canonical JSON bytes.
//   - error: non-nil if v cannot be marshaled.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical marshal: %w", err)
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonical decode: %w", err)
	}
	out, err := json.Marshal(sortValue(generic))
	if err != nil {
		return nil, fmt.Errorf("canonical re-marshal: %w", err)
	}
	return out, nil
}

// sortValue normalizes generic JSON values. Maps already marshal with sorted
// keys; this pass exists so nested containers are rebuilt with the same
// generic types regardless of the decoder's choices.
func sortValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(t))
		for _, k := range keys {
			out[k] = sortValue(t[k])
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = sortValue(e)
		}
		return out
	default:
		return v
	}
}

// HashSnapshot computes the revision of a snapshot: hex SHA-256 over its
// canonical JSON with the derived Revision field blanked.
func HashSnapshot(s *Snapshot) (string, error) {
	if s == nil {
		return "", fmt.Errorf("hash: nil snapshot")
	}
	clone := *s
	clone.Revision = ""
	canonical, err := CanonicalJSON(&clone)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// HashBytes computes a hex SHA-256 over raw bytes. Shared by the registry
// and pipeline store so every content hash in the gateway reads the same way.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// RevisionStore keeps the most recent (revision → snapshot) pairs for
// diff-base lookup.
//
// # Description
//
// A small FIFO cache: once more than maxEntries revisions are tracked, the
// oldest entry is evicted. Tracking the same revision twice is a no-op, so a
// read-only tool call does not churn the history.
//
// # Thread Safety
//
// Safe for concurrent use.
type RevisionStore struct {
	mu         sync.Mutex
	maxEntries int
	order      []string
	entries    map[string]*Snapshot
}

// NewRevisionStore creates a store keeping up to maxEntries revisions.
// Values < 1 fall back to DefaultRevisionHistory.
func NewRevisionStore(maxEntries int) *RevisionStore {
	if maxEntries < 1 {
		maxEntries = DefaultRevisionHistory
	}
	return &RevisionStore{
		maxEntries: maxEntries,
		entries:    make(map[string]*Snapshot, maxEntries),
	}
}

// Hash computes the revision of a snapshot without inserting it.
func (r *RevisionStore) Hash(s *Snapshot) (string, error) {
	return HashSnapshot(s)
}

// Track computes the snapshot's revision and records the pair. No-op when the
// revision is already tracked.
func (r *RevisionStore) Track(s *Snapshot) (string, error) {
	rev, err := HashSnapshot(s)
	if err != nil {
		return "", err
	}
	r.Remember(s, rev)
	return rev, nil
}

// Remember records a (revision → snapshot) pair without recomputing the hash.
func (r *RevisionStore) Remember(s *Snapshot, revision string) {
	if s == nil || revision == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[revision]; ok {
		return
	}
	stored := s.Clone()
	stored.Revision = revision
	r.entries[revision] = stored
	r.order = append(r.order, revision)
	for len(r.order) > r.maxEntries {
		evicted := r.order[0]
		r.order = r.order[1:]
		delete(r.entries, evicted)
	}
}

// Get returns the cached snapshot for a revision, or nil when unknown.
func (r *RevisionStore) Get(revision string) *Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok := r.entries[revision]
	if !ok {
		return nil
	}
	return snap.Clone()
}

// Len returns the number of tracked revisions.
func (r *RevisionStore) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}
