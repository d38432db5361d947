// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package trace records every tool call as an NDJSON trace: a bounded ring
// store, a recorder that materializes step records with optional state and
// diff attachments, and a flush scheduler that drains the ring to disk.
//
// Thread Safety:
//
//	Store is internally synchronized. Recorder and FlushScheduler are safe
//	for concurrent use.
package trace

import (
	"encoding/json"
	"sync"
)

// Record kinds.
const (
	KindHeader = "header"
	KindStep   = "step"
)

// SchemaVersion is the trace wire format version.
const SchemaVersion = 1

// DefaultMaxEntries bounds the ring when no cap is configured.
const DefaultMaxEntries = 2000

// Record is one NDJSON trace line.
type Record struct {
	Kind string `json:"kind"`

	// Header fields.
	SchemaVersion int    `json:"schemaVersion,omitempty"`
	PluginVersion string `json:"pluginVersion,omitempty"`
	EngineVersion string `json:"engineVersion,omitempty"`
	StartedAt     int64  `json:"startedAt,omitempty"`

	// Step fields.
	Seq      uint64          `json:"seq,omitempty"`
	TS       int64           `json:"ts,omitempty"`
	Route    string          `json:"route,omitempty"`
	Op       string          `json:"op,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
	State    json.RawMessage `json:"state,omitempty"`
	Diff     json.RawMessage `json:"diff,omitempty"`
	Usage    json.RawMessage `json:"usage,omitempty"`
}

// entry pairs a record with its encoded size so the byte cap is cheap to
// maintain.
type entry struct {
	rec  Record
	size int
}

// Store is the bounded trace ring.
//
// # Description
//
// Appends drop the oldest entries until both caps hold: maxEntries (always
// enforced) and maxBytes (only when > 0). Entries carry a monotonically
// increasing sequence number that survives eviction, so flushing tracks
// position by seq rather than index.
type Store struct {
	mu         sync.Mutex
	maxEntries int
	maxBytes   int
	entries    []entry
	totalBytes int
	nextSeq    uint64
	flushedSeq uint64
}

// NewStore creates a ring with the given caps. maxEntries < 1 falls back to
// DefaultMaxEntries; maxBytes <= 0 disables the byte cap.
func NewStore(maxEntries, maxBytes int) *Store {
	if maxEntries < 1 {
		maxEntries = DefaultMaxEntries
	}
	return &Store{maxEntries: maxEntries, maxBytes: maxBytes, nextSeq: 1}
}

// Append adds a record, assigning its sequence number, and evicts the oldest
// entries until the caps hold. Returns the assigned seq.
func (s *Store) Append(rec Record) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.Kind == KindStep {
		rec.Seq = s.nextSeq
	}
	seq := s.nextSeq
	s.nextSeq++

	encoded, err := json.Marshal(rec)
	size := len(encoded) + 1 // newline
	if err != nil {
		size = 0
	}
	s.entries = append(s.entries, entry{rec: rec, size: size})
	s.totalBytes += size

	for len(s.entries) > s.maxEntries || (s.maxBytes > 0 && s.totalBytes > s.maxBytes && len(s.entries) > 1) {
		s.totalBytes -= s.entries[0].size
		s.entries = s.entries[1:]
	}
	return seq
}

// Len returns the number of retained records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Bytes returns the retained NDJSON byte total.
func (s *Store) Bytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalBytes
}

// Snapshot returns all retained records oldest-first.
func (s *Store) Snapshot() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.rec
	}
	return out
}

// Unflushed returns retained records not yet marked flushed, oldest-first,
// with the seq high-water mark to pass to MarkFlushed.
func (s *Store) Unflushed() ([]Record, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	high := s.flushedSeq
	for _, e := range s.entries {
		seq := e.rec.Seq
		if e.rec.Kind == KindHeader {
			// Headers carry no seq; flush them exactly once by treating an
			// unflushed store as starting from zero.
			if s.flushedSeq == 0 {
				out = append(out, e.rec)
			}
			continue
		}
		if seq > s.flushedSeq {
			out = append(out, e.rec)
			if seq > high {
				high = seq
			}
		}
	}
	if s.flushedSeq == 0 && high == 0 {
		high = 1 // header-only flush still advances the mark
	}
	return out, high
}

// MarkFlushed advances the flush high-water mark.
func (s *Store) MarkFlushed(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq > s.flushedSeq {
		s.flushedSeq = seq
	}
}
