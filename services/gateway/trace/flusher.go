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
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Writer drains trace records to a sink.
type Writer interface {
	// Flush appends the given records; partial writes must not be retried
	// by the writer (the scheduler owns retry policy, which is: none).
	Flush(records []Record) error
}

// FileWriter appends NDJSON lines to a single file.
type FileWriter struct {
	mu   sync.Mutex
	path string
}

// NewFileWriter creates parent directories eagerly so the first flush cannot
// fail on a missing path.
func NewFileWriter(path string) (*FileWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create trace dir: %w", err)
	}
	return &FileWriter{path: path}, nil
}

// Flush implements Writer.
func (w *FileWriter) Flush(records []Record) error {
	if len(records) == 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open trace log: %w", err)
	}
	defer f.Close()
	for _, rec := range records {
		line, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode trace record: %w", err)
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("write trace log: %w", err)
		}
	}
	return nil
}

// FlushScheduler drains the store to a Writer after every N appends or when
// the flush interval elapses, whichever comes first.
//
// # Description
//
// Uses the ticker + done channel pattern. Flush errors are deduplicated by
// their "code:message" key and logged at most once per distinct key, so a
// wedged disk does not flood the log. FlushNow(force=true) is called on
// shutdown and is allowed to fail with a single warning.
//
// # Thread Safety
//
// Safe for concurrent use.
type FlushScheduler struct {
	store      *Store
	writer     Writer
	flushEvery int
	interval   time.Duration

	// OnFlush, when set, is invoked after each successful flush with the
	// number of records written. Wired to the flush counter metric in main.
	OnFlush func(records int)

	mu           sync.Mutex
	appendCount  int
	seenErrors   map[string]bool
	done         chan struct{}
	running      bool
	flushedCount int
}

// NewFlushScheduler wires a scheduler; call Start to begin the timer.
func NewFlushScheduler(store *Store, writer Writer, flushEvery int, interval time.Duration) *FlushScheduler {
	if flushEvery < 1 {
		flushEvery = 1
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &FlushScheduler{
		store:      store,
		writer:     writer,
		flushEvery: flushEvery,
		interval:   interval,
		seenErrors: make(map[string]bool),
	}
}

// Start launches the interval timer. Idempotent.
func (f *FlushScheduler) Start() {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return
	}
	f.running = true
	f.done = make(chan struct{})
	done := f.done
	f.mu.Unlock()

	go func() {
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				f.FlushNow(false)
			}
		}
	}()
}

// Stop halts the timer and forces a final flush.
func (f *FlushScheduler) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	f.running = false
	close(f.done)
	f.mu.Unlock()

	if err := f.FlushNow(true); err != nil {
		slog.Warn("final trace flush failed", "error", err)
	}
}

// OnAppend is the recorder hook: counts appends and flushes when the
// per-append threshold is reached.
func (f *FlushScheduler) OnAppend() {
	f.mu.Lock()
	f.appendCount++
	due := f.appendCount >= f.flushEvery
	if due {
		f.appendCount = 0
	}
	f.mu.Unlock()
	if due {
		f.FlushNow(false)
	}
}

// FlushNow drains unflushed records immediately.
//
// # Inputs
//
//   - force: when true the error (if any) is returned; when false errors are
//     swallowed after dedup logging so background flushes stay quiet.
func (f *FlushScheduler) FlushNow(force bool) error {
	if f.writer == nil {
		return nil
	}
	records, high := f.store.Unflushed()
	if len(records) == 0 {
		return nil
	}
	err := f.writer.Flush(records)
	if err == nil {
		f.store.MarkFlushed(high)
		f.mu.Lock()
		f.flushedCount += len(records)
		f.mu.Unlock()
		if f.OnFlush != nil {
			f.OnFlush(len(records))
		}
		return nil
	}

	key := fmt.Sprintf("io_error:%s", err.Error())
	f.mu.Lock()
	seen := f.seenErrors[key]
	f.seenErrors[key] = true
	f.mu.Unlock()
	if !seen {
		slog.Warn("trace flush failed", "error", err)
	}
	if force {
		return err
	}
	return nil
}

// FlushedCount returns how many records were successfully flushed (test hook).
func (f *FlushScheduler) FlushedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushedCount
}
