// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package trace

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_EntryCapEvictsOldest(t *testing.T) {
	store := NewStore(3, 0)
	for i := 0; i < 5; i++ {
		store.Append(Record{Kind: KindStep, Op: fmt.Sprintf("op_%d", i)})
	}

	records := store.Snapshot()
	require.Len(t, records, 3)
	assert.Equal(t, "op_2", records[0].Op)
	assert.Equal(t, "op_4", records[2].Op)
}

func TestStore_ByteCapHolds(t *testing.T) {
	store := NewStore(1000, 600)
	for i := 0; i < 20; i++ {
		store.Append(Record{Kind: KindStep, Op: "paint_faces", Payload: json.RawMessage(`{"pad":"0123456789012345678901234567890123456789"}`)})
	}
	assert.LessOrEqual(t, store.Bytes(), 600)
	assert.GreaterOrEqual(t, store.Len(), 1, "at least one entry is always retained")
}

func TestStore_SeqMonotonicAcrossEviction(t *testing.T) {
	store := NewStore(2, 0)
	for i := 0; i < 4; i++ {
		store.Append(Record{Kind: KindStep, Op: "add_cube"})
	}
	records := store.Snapshot()
	require.Len(t, records, 2)
	assert.Greater(t, records[1].Seq, records[0].Seq)
}

func TestRecorder_EmitsHeaderFirst(t *testing.T) {
	store := NewStore(10, 0)
	rec := NewRecorder(store, "1.4.0", "4.12.0", nil)
	rec.Record("get_project_state", map[string]any{"detail": "summary"}, map[string]any{"ok": true}, StepContext{})

	records := store.Snapshot()
	require.Len(t, records, 2)
	assert.Equal(t, KindHeader, records[0].Kind)
	assert.Equal(t, SchemaVersion, records[0].SchemaVersion)
	assert.Equal(t, "1.4.0", records[0].PluginVersion)
	assert.Equal(t, KindStep, records[1].Kind)
	assert.Equal(t, "tool", records[1].Route)
	assert.Equal(t, "get_project_state", records[1].Op)
	assert.NotZero(t, records[1].TS)
}

func TestRecorder_AttachesStateAndDiff(t *testing.T) {
	store := NewStore(10, 0)
	rec := NewRecorder(store, "1.4.0", "", nil)
	rec.Record("add_cube", nil, map[string]any{"ok": true}, StepContext{
		State: map[string]any{"revision": "abc"},
		Diff:  map[string]any{"counts": map[string]any{}},
	})

	step := store.Snapshot()[1]
	assert.JSONEq(t, `{"revision":"abc"}`, string(step.State))
	assert.NotNil(t, step.Diff)
	assert.Nil(t, step.Usage)
}

func TestFileWriter_WritesNDJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace", "log.ndjson")
	w, err := NewFileWriter(path)
	require.NoError(t, err)

	require.NoError(t, w.Flush([]Record{
		{Kind: KindHeader, SchemaVersion: 1},
		{Kind: KindStep, Seq: 1, Op: "add_bone"},
	}))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	scanner := bufio.NewScanner(f)
	var lines []Record
	for scanner.Scan() {
		var r Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		lines = append(lines, r)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, KindHeader, lines[0].Kind)
	assert.Equal(t, "add_bone", lines[1].Op)
}

type countingWriter struct {
	mu       sync.Mutex
	count    int
	failWith error
}

func (w *countingWriter) Flush(records []Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failWith != nil {
		return w.failWith
	}
	w.count += len(records)
	return nil
}

func (w *countingWriter) total() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

func TestFlushScheduler_FlushesAfterNAppends(t *testing.T) {
	store := NewStore(100, 0)
	w := &countingWriter{}
	sched := NewFlushScheduler(store, w, 3, time.Hour)
	rec := NewRecorder(store, "1.4.0", "", sched.OnAppend)

	rec.Record("add_bone", nil, nil, StepContext{})
	rec.Record("add_cube", nil, nil, StepContext{})
	assert.Zero(t, w.total(), "below threshold, nothing flushed")

	rec.Record("add_mesh", nil, nil, StepContext{})
	assert.Equal(t, 4, w.total(), "header + three steps flushed at threshold")
}

func TestFlushScheduler_FlushNowIsIncremental(t *testing.T) {
	store := NewStore(100, 0)
	w := &countingWriter{}
	sched := NewFlushScheduler(store, w, 100, time.Hour)
	rec := NewRecorder(store, "1.4.0", "", sched.OnAppend)

	rec.Record("add_bone", nil, nil, StepContext{})
	require.NoError(t, sched.FlushNow(true))
	first := w.total()

	rec.Record("add_cube", nil, nil, StepContext{})
	require.NoError(t, sched.FlushNow(true))

	assert.Equal(t, first+1, w.total(), "second flush writes only the new step")
}

func TestFlushScheduler_ForceReturnsError(t *testing.T) {
	store := NewStore(100, 0)
	w := &countingWriter{failWith: errors.New("disk full")}
	sched := NewFlushScheduler(store, w, 100, time.Hour)
	NewRecorder(store, "1.4.0", "", sched.OnAppend)

	assert.NoError(t, sched.FlushNow(false), "background flush swallows errors")
	err := sched.FlushNow(true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestFlushScheduler_StopForcesFinalFlush(t *testing.T) {
	store := NewStore(100, 0)
	w := &countingWriter{}
	sched := NewFlushScheduler(store, w, 100, time.Hour)
	rec := NewRecorder(store, "1.4.0", "", sched.OnAppend)
	rec.Record("export", nil, nil, StepContext{})

	sched.Start()
	sched.Stop()
	assert.Equal(t, 2, w.total())
}
