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
	"time"

	"github.com/google/uuid"
)

// Lease and attempt bounds.
const (
	MinLeaseMS      = 5000
	MaxAttemptLimit = 10

	// backoffBase is the first retry delay; each further attempt doubles it
	// up to backoffCap.
	backoffBase = 100 * time.Millisecond
	backoffCap  = 30 * time.Second
)

// ErrJobNotFound signals an unknown job id.
var ErrJobNotFound = errors.New("job not found")

// ErrJobNotRunning signals a completion or failure report for a job that
// holds no lease.
var ErrJobNotRunning = errors.New("job is not running")

// JobSpec describes a job to submit.
type JobSpec struct {
	ProjectID   string          `json:"projectId,omitempty"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	MaxAttempts int             `json:"maxAttempts,omitempty"`
	LeaseMS     int64           `json:"leaseMs,omitempty"`
}

// Backoff returns the delay before retry attempt n (1-based).
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := backoffBase << (attempt - 1)
	if d > backoffCap || d <= 0 {
		return backoffCap
	}
	return d
}

// SubmitJob enqueues a job.
func (s *Store) SubmitJob(ctx context.Context, workspace string, spec JobSpec) (*Job, error) {
	if spec.Kind == "" {
		return nil, fmt.Errorf("job kind is required")
	}
	if spec.MaxAttempts == 0 {
		spec.MaxAttempts = s.cfg.DefaultAttempts
	}
	if spec.MaxAttempts < 1 || spec.MaxAttempts > MaxAttemptLimit {
		return nil, fmt.Errorf("maxAttempts must be in [1, %d]", MaxAttemptLimit)
	}
	if spec.LeaseMS == 0 {
		spec.LeaseMS = s.cfg.DefaultLeaseMS
	}
	if spec.LeaseMS < MinLeaseMS {
		return nil, fmt.Errorf("leaseMs must be at least %d", MinLeaseMS)
	}

	var job *Job
	err := s.Update(ctx, workspace, func(state *State) error {
		now := s.now()
		job = &Job{
			ID:          "job_" + uuid.NewString(),
			ProjectID:   spec.ProjectID,
			Kind:        spec.Kind,
			Payload:     spec.Payload,
			State:       JobQueued,
			MaxAttempts: spec.MaxAttempts,
			LeaseMS:     spec.LeaseMS,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		state.Jobs[job.ID] = job
		state.JobOrder = append(state.JobOrder, job.ID)
		state.appendEvent(now, EventJobSubmitted, job.ID, spec.ProjectID, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ClaimJob leases the oldest runnable queued job to workerID. Returns nil
// when nothing is runnable. Expired leases are swept first: their jobs go
// straight back to queued and can be claimed in this same call.
func (s *Store) ClaimJob(ctx context.Context, workspace, workerID string) (*Job, error) {
	var claimed *Job
	err := s.Update(ctx, workspace, func(state *State) error {
		now := s.now()
		s.sweepLeases(state, now)

		for _, id := range state.JobOrder {
			job, ok := state.Jobs[id]
			if !ok || job.State != JobQueued {
				continue
			}
			if job.NotBefore > now.UnixMilli() {
				continue
			}
			job.State = JobRunning
			job.Attempts++
			job.WorkerID = workerID
			job.LeaseExpiresAt = now.UnixMilli() + job.LeaseMS
			job.NotBefore = 0
			job.UpdatedAt = now
			state.appendEvent(now, EventJobClaimed, job.ID, job.ProjectID, nil)
			snapshot := *job
			claimed = &snapshot
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// CompleteJob finishes a running job with its result.
func (s *Store) CompleteJob(ctx context.Context, workspace, jobID string, result json.RawMessage) error {
	return s.Update(ctx, workspace, func(state *State) error {
		job, ok := state.Jobs[jobID]
		if !ok {
			return fmt.Errorf("job %q: %w", jobID, ErrJobNotFound)
		}
		if job.State != JobRunning {
			return fmt.Errorf("job %q in state %s: %w", jobID, job.State, ErrJobNotRunning)
		}
		now := s.now()
		job.State = JobCompleted
		job.Result = result
		job.WorkerID = ""
		job.LeaseExpiresAt = 0
		job.UpdatedAt = now
		state.appendEvent(now, EventJobCompleted, job.ID, job.ProjectID, result)
		return nil
	})
}

// FailJob reports a running job's failure. With attempts left the job is
// requeued after its backoff window; otherwise it is dead-lettered.
func (s *Store) FailJob(ctx context.Context, workspace, jobID, reason string) error {
	return s.Update(ctx, workspace, func(state *State) error {
		job, ok := state.Jobs[jobID]
		if !ok {
			return fmt.Errorf("job %q: %w", jobID, ErrJobNotFound)
		}
		if job.State != JobRunning {
			return fmt.Errorf("job %q in state %s: %w", jobID, job.State, ErrJobNotRunning)
		}
		s.failLocked(state, job, reason, s.now())
		return nil
	})
}

// failLocked applies failure bookkeeping for a worker-reported failure.
func (s *Store) failLocked(state *State, job *Job, reason string, now time.Time) {
	job.LastError = reason
	job.WorkerID = ""
	job.LeaseExpiresAt = 0
	job.UpdatedAt = now

	if job.Attempts >= job.MaxAttempts {
		job.State = JobFailed
		job.DeadLetter = true
		state.appendEvent(now, EventJobDeadLettered, job.ID, job.ProjectID, nil)
		return
	}
	job.State = JobQueued
	job.NotBefore = now.Add(Backoff(job.Attempts)).UnixMilli()
	state.appendEvent(now, EventJobFailed, job.ID, job.ProjectID, nil)
}

// sweepLeases returns running jobs whose lease expired to the queue. The
// attempt count is preserved (the next claim increments it again), no backoff
// window applies, and the sweep never dead-letters: only a worker-reported
// failure can exhaust attempts.
func (s *Store) sweepLeases(state *State, now time.Time) {
	for _, id := range state.JobOrder {
		job, ok := state.Jobs[id]
		if !ok || job.State != JobRunning {
			continue
		}
		if job.LeaseExpiresAt > now.UnixMilli() {
			continue
		}
		job.State = JobQueued
		job.WorkerID = ""
		job.LeaseExpiresAt = 0
		job.NotBefore = 0
		job.LastError = "lease expired"
		job.UpdatedAt = now
		state.appendEvent(now, EventJobLeaseExpired, job.ID, job.ProjectID, nil)
	}
}

// GetJob returns a copy of one job. Dead-lettered jobs remain readable.
func (s *Store) GetJob(ctx context.Context, workspace, jobID string) (*Job, error) {
	var found *Job
	err := s.View(ctx, workspace, func(state *State) error {
		if job, ok := state.Jobs[jobID]; ok {
			snapshot := *job
			found = &snapshot
			return nil
		}
		return fmt.Errorf("job %q: %w", jobID, ErrJobNotFound)
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// EventsSince returns workspace events with Seq > seq.
func (s *Store) EventsSince(ctx context.Context, workspace string, seq uint64) ([]Event, error) {
	var out []Event
	err := s.View(ctx, workspace, func(state *State) error {
		out = state.EventsSince(seq)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ProjectEventsSince returns events for one project with Seq > seq.
func (s *Store) ProjectEventsSince(ctx context.Context, workspace, projectID string, seq uint64) ([]Event, error) {
	all, err := s.EventsSince(ctx, workspace, seq)
	if err != nil {
		return nil, err
	}
	var out []Event
	for _, ev := range all {
		if ev.ProjectID == projectID {
			out = append(out, ev)
		}
	}
	return out, nil
}

// RegisterProject upserts a project registration in the workspace.
func (s *Store) RegisterProject(ctx context.Context, workspace string, rec ProjectRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("project id is required")
	}
	return s.Update(ctx, workspace, func(state *State) error {
		now := s.now()
		existing, ok := state.Projects[rec.ID]
		if ok {
			rec.CreatedAt = existing.CreatedAt
		} else {
			rec.CreatedAt = now
			state.appendEvent(now, EventProjectRegistered, "", rec.ID, nil)
		}
		rec.UpdatedAt = now
		state.Projects[rec.ID] = &rec
		return nil
	})
}

// CreateFolder adds a folder to the workspace.
func (s *Store) CreateFolder(ctx context.Context, workspace, name, parentID string) (*Folder, error) {
	if name == "" {
		return nil, fmt.Errorf("folder name is required")
	}
	var folder *Folder
	err := s.Update(ctx, workspace, func(state *State) error {
		if parentID != "" {
			if _, ok := state.Folders[parentID]; !ok {
				return fmt.Errorf("parent folder %q does not exist", parentID)
			}
		}
		now := s.now()
		folder = &Folder{
			ID:        "folder_" + uuid.NewString(),
			Name:      name,
			ParentID:  parentID,
			CreatedAt: now,
		}
		state.Folders[folder.ID] = folder
		state.appendEvent(now, EventFolderCreated, "", "", nil)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return folder, nil
}
