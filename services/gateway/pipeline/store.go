// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/ModelForge/services/gateway/config"
	"github.com/AleutianAI/ModelForge/services/gateway/observability"
	"github.com/AleutianAI/ModelForge/services/gateway/ports"
	"github.com/AleutianAI/ModelForge/services/gateway/project"
)

var (
	// ErrLockTimeout signals the workspace lock could not be acquired within
	// the configured window. Maps to persistent_lock_timeout.
	ErrLockTimeout = errors.New("workspace lock timeout")

	// ErrConflict signals a revision-guarded save lost the race. Maps to
	// persistent_conflict.
	ErrConflict = errors.New("pipeline state conflict")
)

// lockDoc is the lock document body.
type lockDoc struct {
	Owner     string `json:"owner"`
	ExpiresAt int64  `json:"expiresAt"` // unix millis
}

// Store persists pipeline state through the Persistence port.
//
// # Description
//
// Every mutation runs under a cross-process lock document with a short TTL,
// then writes the state document with a revision guard (compare-and-swap on
// the content hash). Backends that cannot CAS are downgraded to blind saves;
// the downgrade is logged once at startup.
//
// # Thread Safety
//
// Safe for concurrent use. In-process callers additionally serialize on mu so
// the lock document is not contended from within one process.
type Store struct {
	persistence ports.Persistence
	cfg         config.PipelineConfig
	log         *slog.Logger
	owner       string
	metrics     *observability.Metrics
	now         func() time.Time
	sleep       func(time.Duration)

	mu sync.Mutex
	// revisions memoizes the last stored revision per workspace so a
	// conflicting writer is detected even when the backend cannot CAS.
	revisions map[string]string
	// states caches the last decoded document per workspace keyed by its
	// stored revision, so a read that finds the same revision skips the
	// JSON decode. Guarded by mu.
	states map[string]*stateMemo
}

type stateMemo struct {
	revision string
	state    *State
}

// NewStore wires the pipeline store.
func NewStore(p ports.Persistence, cfg config.PipelineConfig, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	if !p.SupportsCAS() {
		log.Warn("persistence backend lacks compare-and-swap; pipeline saves are not race-safe across processes")
	}
	return &Store{
		persistence: p,
		cfg:         cfg,
		log:         log,
		owner:       uuid.NewString(),
		now:         time.Now,
		sleep:       time.Sleep,
		revisions:   make(map[string]string),
		states:      make(map[string]*stateMemo),
	}
}

func (s *Store) scope(key string) ports.Scope {
	return ports.Scope{TenantID: s.cfg.TenantID, ProjectID: key}
}

// SetMetrics enables the job-state gauges. A nil Metrics is a no-op.
func (s *Store) SetMetrics(m *observability.Metrics) {
	s.metrics = m
}

// publishJobMetrics pushes current queue depths. Gauges aggregate across
// workspaces, so the last updated workspace wins per state; good enough for
// a single-workspace local gateway.
func (s *Store) publishJobMetrics(state *State) {
	if s.metrics == nil {
		return
	}
	counts := map[string]int{
		JobQueued:    0,
		JobRunning:   0,
		JobCompleted: 0,
		JobFailed:    0,
	}
	for _, job := range state.Jobs {
		counts[job.State]++
	}
	for jobState, n := range counts {
		s.metrics.SetJobs(jobState, n)
	}
}

// ===========================================================================
// Locking
// ===========================================================================

// acquireLock takes the workspace lock document, retrying until the timeout.
func (s *Store) acquireLock(ctx context.Context, workspace string) error {
	scope := s.scope(lockKeyPrefix + workspace)
	deadline := s.now().Add(s.cfg.LockTimeout)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := s.persistence.Load(ctx, scope)
		if err != nil {
			return fmt.Errorf("load lock: %w", err)
		}

		expected := ""
		held := false
		if rec != nil {
			var doc lockDoc
			if err := json.Unmarshal(rec.State, &doc); err == nil && doc.ExpiresAt > s.now().UnixMilli() {
				held = true
			}
			expected = rec.Revision
		}

		if !held {
			if err := s.writeLock(ctx, scope, expected); err == nil {
				return nil
			} else if !errors.Is(err, ports.ErrConflict) && !errors.Is(err, ports.ErrCASUnsupported) {
				return err
			}
			// Lost the race (or no CAS): fall through to retry.
		}

		if s.now().After(deadline) {
			return fmt.Errorf("workspace %q: %w", workspace, ErrLockTimeout)
		}
		s.sleep(s.cfg.LockRetry)
	}
}

func (s *Store) writeLock(ctx context.Context, scope ports.Scope, expected string) error {
	doc := lockDoc{Owner: s.owner, ExpiresAt: s.now().Add(s.cfg.LockTTL).UnixMilli()}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal lock: %w", err)
	}
	rec := &ports.Record{
		Scope:     scope,
		Revision:  project.HashBytes(raw),
		State:     raw,
		CreatedAt: s.now(),
		UpdatedAt: s.now(),
	}
	err = s.persistence.SaveIfRevision(ctx, rec, expected)
	if errors.Is(err, ports.ErrCASUnsupported) {
		return s.persistence.Save(ctx, rec)
	}
	return err
}

// releaseExpiredLock clears a lock document whose TTL has passed so a crashed
// writer cannot wedge readers until the full lock timeout. The clear is
// revision-guarded: a lock refreshed by its live owner in the meantime has a
// new revision and is left alone.
func (s *Store) releaseExpiredLock(ctx context.Context, workspace string) {
	scope := s.scope(lockKeyPrefix + workspace)
	rec, err := s.persistence.Load(ctx, scope)
	if err != nil || rec == nil {
		return
	}
	var doc lockDoc
	if err := json.Unmarshal(rec.State, &doc); err == nil && doc.ExpiresAt > s.now().UnixMilli() {
		return
	}
	raw, err := json.Marshal(lockDoc{})
	if err != nil {
		return
	}
	release := &ports.Record{
		Scope:     scope,
		Revision:  project.HashBytes(raw),
		State:     raw,
		CreatedAt: s.now(),
		UpdatedAt: s.now(),
	}
	err = s.persistence.SaveIfRevision(ctx, release, rec.Revision)
	if err != nil && !errors.Is(err, ports.ErrConflict) && !errors.Is(err, ports.ErrCASUnsupported) {
		s.log.Warn("expired lock release failed", "workspace", workspace, "error", err)
	}
}

// releaseLock frees the lock only while still owned; an expired lock taken
// over by another process is left alone.
func (s *Store) releaseLock(ctx context.Context, workspace string) {
	scope := s.scope(lockKeyPrefix + workspace)
	rec, err := s.persistence.Load(ctx, scope)
	if err != nil || rec == nil {
		return
	}
	var doc lockDoc
	if err := json.Unmarshal(rec.State, &doc); err != nil || doc.Owner != s.owner {
		return
	}
	if err := s.persistence.Delete(ctx, scope); err != nil {
		s.log.Warn("lock release failed", "workspace", workspace, "error", err)
	}
}

// ===========================================================================
// State document
// ===========================================================================

// load reads the workspace state, migrating legacy documents. Returns the
// state and the stored revision ("" when the document is new).
func (s *Store) load(ctx context.Context, workspace string) (*State, string, error) {
	rec, err := s.persistence.Load(ctx, s.scope(stateKeyPrefix+workspace))
	if err != nil {
		return nil, "", fmt.Errorf("load pipeline state: %w", err)
	}
	if rec == nil {
		// First open: adopt a legacy document when one exists.
		for _, prefix := range []string{stateKeyPrefixV2, stateKeyPrefixV1} {
			legacy, err := s.persistence.Load(ctx, s.scope(prefix+workspace))
			if err != nil {
				return nil, "", fmt.Errorf("load legacy pipeline state: %w", err)
			}
			if legacy == nil {
				continue
			}
			state := newState()
			if err := json.Unmarshal(legacy.State, state); err != nil {
				return nil, "", fmt.Errorf("decode legacy pipeline state: %w", err)
			}
			if err := state.migrate(); err != nil {
				return nil, "", err
			}
			s.log.Info("migrated legacy pipeline state", "workspace", workspace, "from", prefix)
			return state, "", nil
		}
		return newState(), "", nil
	}

	if memo, ok := s.states[workspace]; ok && memo.revision == rec.Revision {
		return memo.state, rec.Revision, nil
	}

	state := newState()
	if err := json.Unmarshal(rec.State, state); err != nil {
		return nil, "", fmt.Errorf("decode pipeline state: %w", err)
	}
	if err := state.migrate(); err != nil {
		return nil, "", err
	}
	s.states[workspace] = &stateMemo{revision: rec.Revision, state: state}
	return state, rec.Revision, nil
}

// save writes state with a revision guard against expected.
func (s *Store) save(ctx context.Context, workspace string, state *State, expected string) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal pipeline state: %w", err)
	}
	canonical, err := project.CanonicalJSON(json.RawMessage(raw))
	if err != nil {
		return fmt.Errorf("canonicalize pipeline state: %w", err)
	}
	rec := &ports.Record{
		Scope:     s.scope(stateKeyPrefix + workspace),
		Revision:  project.HashBytes(canonical),
		State:     raw,
		CreatedAt: s.now(),
		UpdatedAt: s.now(),
	}

	err = s.persistence.SaveIfRevision(ctx, rec, expected)
	switch {
	case errors.Is(err, ports.ErrConflict):
		return fmt.Errorf("workspace %q: %w", workspace, ErrConflict)
	case errors.Is(err, ports.ErrCASUnsupported):
		// Downgraded path: detect conflicts via the in-process memo.
		if memo, ok := s.revisions[workspace]; ok && expected != "" && memo != expected {
			return fmt.Errorf("workspace %q: %w", workspace, ErrConflict)
		}
		if err := s.persistence.Save(ctx, rec); err != nil {
			return fmt.Errorf("save pipeline state: %w", err)
		}
	case err != nil:
		return fmt.Errorf("save pipeline state: %w", err)
	}
	s.revisions[workspace] = rec.Revision
	s.states[workspace] = &stateMemo{revision: rec.Revision, state: state}
	return nil
}

// Update runs fn over the workspace state under the cross-process lock and
// persists the result with a revision guard.
func (s *Store) Update(ctx context.Context, workspace string, fn func(*State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.acquireLock(ctx, workspace); err != nil {
		return err
	}
	defer s.releaseLock(ctx, workspace)

	state, revision, err := s.load(ctx, workspace)
	if err != nil {
		return err
	}
	if err := fn(state); err != nil {
		// fn may have mutated the memoized document; drop the memo so the
		// next read decodes the stored bytes again.
		delete(s.states, workspace)
		return err
	}
	if err := s.save(ctx, workspace, state, revision); err != nil {
		delete(s.states, workspace)
		return err
	}
	s.publishJobMetrics(state)
	return nil
}

// View runs fn over the workspace state. The state handed to fn is shared
// with the read memo; fn must not mutate it. Reads also clear any expired
// cross-process lock so a crashed writer cannot wedge the workspace.
func (s *Store) View(ctx context.Context, workspace string, fn func(*State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseExpiredLock(ctx, workspace)
	state, _, err := s.load(ctx, workspace)
	if err != nil {
		return err
	}
	return fn(state)
}
