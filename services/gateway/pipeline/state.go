// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline persists per-workspace authoring pipeline state: project
// registrations, folders, a lease-based job queue and an append-only event
// log, all inside one versioned document guarded by a cross-process lock.
package pipeline

import (
	"encoding/json"
	"fmt"
	"time"
)

// StateVersion is the current document schema version.
const StateVersion = 3

// Document key prefixes. The workspace name completes the key.
const (
	stateKeyPrefix = "pipeline-state-v3:"
	lockKeyPrefix  = "pipeline-lock-v3:"

	// Legacy prefixes read once for migration.
	stateKeyPrefixV2 = "pipeline-state-v2:"
	stateKeyPrefixV1 = "pipeline-state-v1:"
)

// Job states.
const (
	JobQueued    = "queued"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// Event kinds.
const (
	EventProjectRegistered = "project_registered"
	EventFolderCreated     = "folder_created"
	EventJobSubmitted      = "job_submitted"
	EventJobClaimed        = "job_claimed"
	EventJobCompleted      = "job_completed"
	EventJobFailed         = "job_failed"
	EventJobLeaseExpired   = "job_lease_expired"
	EventJobDeadLettered   = "job_dead_lettered"
)

// ProjectRecord registers one authored project in the workspace.
type ProjectRecord struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	FormatID  string    `json:"formatId"`
	FolderID  string    `json:"folderId,omitempty"`
	Revision  string    `json:"revision,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Folder groups projects.
type Folder struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ParentID  string    `json:"parentId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Job is one unit of asynchronous work (an export run, a batch paint).
type Job struct {
	ID        string          `json:"id"`
	ProjectID string          `json:"projectId,omitempty"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`

	State       string `json:"status"`
	Attempts    int    `json:"attemptCount"`
	MaxAttempts int    `json:"maxAttempts"`
	LeaseMS     int64  `json:"leaseMs"`

	// WorkerID owns the current lease while running.
	WorkerID string `json:"workerId,omitempty"`
	// LeaseExpiresAt is unix millis; zero while not running.
	LeaseExpiresAt int64 `json:"leaseExpiresAt,omitempty"`
	// NotBefore delays a requeued job for its backoff window (unix millis).
	NotBefore int64 `json:"nextRetryAt,omitempty"`

	Result    json.RawMessage `json:"result,omitempty"`
	LastError string          `json:"error,omitempty"`

	// DeadLetter marks a failed job that exhausted its attempts. Dead-lettered
	// jobs stay in the queue document for inspection; they are never claimed.
	DeadLetter bool `json:"deadLetter,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Event is one append-only log entry. Seq is monotonic per workspace.
type Event struct {
	Seq       uint64          `json:"seq"`
	TS        time.Time       `json:"ts"`
	Kind      string          `json:"kind"`
	JobID     string          `json:"jobId,omitempty"`
	ProjectID string          `json:"projectId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// State is the whole per-workspace pipeline document.
type State struct {
	Version  int                       `json:"version"`
	Projects map[string]*ProjectRecord `json:"projects"`
	Folders  map[string]*Folder        `json:"folders"`
	Jobs     map[string]*Job           `json:"jobs"`
	// JobOrder preserves submission order; Jobs alone is an unordered map.
	JobOrder []string `json:"jobOrder"`
	// LegacyDeadLetter is read only to migrate documents that kept exhausted
	// jobs in a separate list; folded back into Jobs by migrate.
	LegacyDeadLetter []*Job  `json:"deadLetter,omitempty"`
	Events           []Event `json:"events"`
	NextSeq          uint64  `json:"nextSeq"`
}

// newState returns an empty v3 document.
func newState() *State {
	return &State{
		Version:  StateVersion,
		Projects: make(map[string]*ProjectRecord),
		Folders:  make(map[string]*Folder),
		Jobs:     make(map[string]*Job),
		NextSeq:  1,
	}
}

// migrate upgrades a decoded document to v3 in place.
//
// # Description
//
// v1 documents predate the job queue; v2 documents predate the event log.
// Migration fills the missing sections and bumps the version; nothing is
// dropped. Unknown future versions are refused so two gateway builds cannot
// fight over one document.
func (s *State) migrate() error {
	if s.Version > StateVersion {
		return fmt.Errorf("pipeline state version %d is newer than supported %d", s.Version, StateVersion)
	}
	if s.Projects == nil {
		s.Projects = make(map[string]*ProjectRecord)
	}
	if s.Folders == nil {
		s.Folders = make(map[string]*Folder)
	}
	if s.Jobs == nil {
		s.Jobs = make(map[string]*Job)
	}
	if s.NextSeq == 0 {
		s.NextSeq = 1
	}
	for _, job := range s.LegacyDeadLetter {
		job.State = JobFailed
		job.DeadLetter = true
		if _, ok := s.Jobs[job.ID]; !ok {
			s.Jobs[job.ID] = job
			s.JobOrder = append(s.JobOrder, job.ID)
		}
	}
	s.LegacyDeadLetter = nil
	s.Version = StateVersion
	return nil
}

// appendEvent appends one log entry and advances the sequence.
func (s *State) appendEvent(now time.Time, kind, jobID, projectID string, data json.RawMessage) Event {
	ev := Event{
		Seq:       s.NextSeq,
		TS:        now,
		Kind:      kind,
		JobID:     jobID,
		ProjectID: projectID,
		Data:      data,
	}
	s.NextSeq++
	s.Events = append(s.Events, ev)
	return ev
}

// EventsSince returns events with Seq > seq, oldest first.
func (s *State) EventsSince(seq uint64) []Event {
	var out []Event
	for _, ev := range s.Events {
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
