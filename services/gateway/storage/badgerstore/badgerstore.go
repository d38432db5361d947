// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badgerstore implements the gateway Persistence port on BadgerDB.
//
// BadgerDB gives the gateway low-latency embedded storage for pipeline
// documents (workspace state, locks) without an external database. Records
// are stored as JSON under tenant-scoped keys; compare-and-swap is provided
// by Badger's serializable read-write transactions, so SupportsCAS reports
// true and the pipeline's revision guard is honored atomically.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/ModelForge/services/gateway/ports"
)

// keyPrefix namespaces gateway documents inside the shared database.
const keyPrefix = "mf/doc/"

// Config holds configuration for the badger-backed store.
type Config struct {
	// Path is the directory for database files. Required unless InMemory.
	Path string

	// InMemory enables in-memory mode (no disk persistence). For tests.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives Badger's internal log lines. Nil disables them.
	Logger *slog.Logger

	// GCInterval is how often to run value log garbage collection.
	// Zero disables GC.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum ratio of discardable data before GC.
	GCDiscardRatio float64
}

// DefaultConfig returns production defaults: durable writes and a
// five-minute GC cycle.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a test configuration: no disk I/O, no GC.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store is a ports.Persistence backed by an embedded BadgerDB.
//
// # Thread Safety
//
// Safe for concurrent use; Badger transactions provide isolation.
type Store struct {
	db     *badger.DB
	logger *slog.Logger

	gcTicker *time.Ticker
	done     chan struct{}
	wg       sync.WaitGroup

	closeOnce sync.Once
}

// Open opens the store with the given configuration.
//
// # Description
//
// Opens (or creates) a BadgerDB at cfg.Path, or in memory when cfg.InMemory
// is set, and starts the value log GC loop when GCInterval is positive.
// The caller must Close() the returned store.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: cfg.Logger,
		done:   make(chan struct{}),
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gcTicker = time.NewTicker(cfg.GCInterval)
		s.wg.Add(1)
		go s.runGC(cfg.GCDiscardRatio)
	}
	return s, nil
}

// Close stops the GC loop and closes the database. Safe to call twice.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.gcTicker != nil {
			s.gcTicker.Stop()
		}
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *Store) runGC(ratio float64) {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case <-s.gcTicker.C:
			// ErrNoRewrite means nothing needed collecting.
			err := s.db.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				if s.logger != nil {
					s.logger.Warn("badger value log GC error", "error", err)
				}
			}
		}
	}
}

func docKey(scope ports.Scope) []byte {
	return []byte(keyPrefix + scope.TenantID + "/" + scope.ProjectID)
}

// readRecord loads and decodes a record inside txn; nil when absent.
func readRecord(txn *badger.Txn, scope ports.Scope) (*ports.Record, error) {
	item, err := txn.Get(docKey(scope))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", scope.TenantID, scope.ProjectID, err)
	}
	var rec ports.Record
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	if err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", scope.TenantID, scope.ProjectID, err)
	}
	return &rec, nil
}

func writeRecord(txn *badger.Txn, rec *ports.Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return txn.Set(docKey(rec.Scope), raw)
}

// Load implements ports.Persistence.
func (s *Store) Load(ctx context.Context, scope ports.Scope) (*ports.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rec *ports.Record
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = readRecord(txn, scope)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Save implements ports.Persistence with an unconditional write.
func (s *Store) Save(ctx context.Context, rec *ports.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return writeRecord(txn, rec)
	})
}

// SaveIfRevision implements ports.Persistence.
//
// # Description
//
// The revision check and the write happen inside one read-write transaction;
// Badger aborts the commit when a concurrent writer touched the key, so the
// guard holds across goroutines and processes sharing the database. Both a
// revision mismatch and a commit-time conflict surface as ports.ErrConflict.
func (s *Store) SaveIfRevision(ctx context.Context, rec *ports.Record, expected string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		existing, err := readRecord(txn, rec.Scope)
		if err != nil {
			return err
		}
		switch {
		case existing == nil && expected != "":
			return ports.ErrConflict
		case existing != nil && existing.Revision != expected:
			return ports.ErrConflict
		}
		return writeRecord(txn, rec)
	})
	if errors.Is(err, badger.ErrConflict) {
		return ports.ErrConflict
	}
	return err
}

// Delete implements ports.Persistence. Missing records are not an error.
func (s *Store) Delete(ctx context.Context, scope ports.Scope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(docKey(scope))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	return err
}

// SupportsCAS reports true: SaveIfRevision is transactional.
func (s *Store) SupportsCAS() bool { return true }
