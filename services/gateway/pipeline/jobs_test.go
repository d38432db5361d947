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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClockedStore(t *testing.T) (*Store, *time.Time) {
	t.Helper()
	s := newTestStore(newMemPersistence(true))
	now := time.Now().Truncate(time.Millisecond)
	s.now = func() time.Time { return now }
	return s, &now
}

func TestJobLifecycle(t *testing.T) {
	s, _ := newClockedStore(t)
	ctx := context.Background()

	job, err := s.SubmitJob(ctx, "ws1", JobSpec{Kind: "export", ProjectID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, JobQueued, job.State)
	assert.Equal(t, 3, job.MaxAttempts)
	assert.Equal(t, int64(30000), job.LeaseMS)

	claimed, err := s.ClaimJob(ctx, "ws1", "worker-a")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, job.ID, claimed.ID)
	assert.Equal(t, JobRunning, claimed.State)
	assert.Equal(t, 1, claimed.Attempts)
	assert.Equal(t, "worker-a", claimed.WorkerID)

	// Nothing else to claim.
	second, err := s.ClaimJob(ctx, "ws1", "worker-b")
	require.NoError(t, err)
	assert.Nil(t, second)

	result := json.RawMessage(`{"artifacts":1}`)
	require.NoError(t, s.CompleteJob(ctx, "ws1", job.ID, result))

	done, err := s.GetJob(ctx, "ws1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, done.State)
	assert.JSONEq(t, string(result), string(done.Result))
}

func TestJobValidation(t *testing.T) {
	s, _ := newClockedStore(t)
	ctx := context.Background()

	_, err := s.SubmitJob(ctx, "ws1", JobSpec{})
	assert.Error(t, err)

	_, err = s.SubmitJob(ctx, "ws1", JobSpec{Kind: "export", MaxAttempts: 11})
	assert.Error(t, err)

	_, err = s.SubmitJob(ctx, "ws1", JobSpec{Kind: "export", LeaseMS: 100})
	assert.Error(t, err)
}

func TestFailRequeuesWithBackoff(t *testing.T) {
	s, now := newClockedStore(t)
	ctx := context.Background()

	job, err := s.SubmitJob(ctx, "ws1", JobSpec{Kind: "export"})
	require.NoError(t, err)
	claimed, err := s.ClaimJob(ctx, "ws1", "worker-a")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	require.NoError(t, s.FailJob(ctx, "ws1", job.ID, "codec crashed"))

	queued, err := s.GetJob(ctx, "ws1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobQueued, queued.State)
	assert.Equal(t, "codec crashed", queued.LastError)
	assert.Equal(t, now.Add(Backoff(1)).UnixMilli(), queued.NotBefore)

	// Inside the backoff window the job is not claimable.
	reclaimed, err := s.ClaimJob(ctx, "ws1", "worker-a")
	require.NoError(t, err)
	assert.Nil(t, reclaimed)

	*now = now.Add(Backoff(1) + time.Millisecond)
	reclaimed, err = s.ClaimJob(ctx, "ws1", "worker-a")
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
	assert.Equal(t, 2, reclaimed.Attempts)
}

func TestDeadLetterAfterMaxAttempts(t *testing.T) {
	s, now := newClockedStore(t)
	ctx := context.Background()

	job, err := s.SubmitJob(ctx, "ws1", JobSpec{Kind: "export", MaxAttempts: 2})
	require.NoError(t, err)

	for attempt := 1; attempt <= 2; attempt++ {
		*now = now.Add(time.Minute)
		claimed, err := s.ClaimJob(ctx, "ws1", "worker-a")
		require.NoError(t, err)
		require.NotNil(t, claimed, "attempt %d", attempt)
		require.NoError(t, s.FailJob(ctx, "ws1", job.ID, "boom"))
	}

	dead, err := s.GetJob(ctx, "ws1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobFailed, dead.State)
	assert.True(t, dead.DeadLetter)
	assert.Equal(t, "boom", dead.LastError)

	// Dead-lettered jobs stay in the document but are never claimable.
	*now = now.Add(time.Minute)
	claimed, err := s.ClaimJob(ctx, "ws1", "worker-a")
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestJobWireNames(t *testing.T) {
	now := time.Now()
	raw, err := json.Marshal(&Job{
		ID:          "job_1",
		Kind:        "export",
		State:       JobFailed,
		Attempts:    3,
		MaxAttempts: 3,
		LeaseMS:     5000,
		NotBefore:   now.UnixMilli(),
		LastError:   "boom",
		DeadLetter:  true,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "failed", doc["status"])
	assert.Equal(t, float64(3), doc["attemptCount"])
	assert.Equal(t, true, doc["deadLetter"])
	assert.Equal(t, "boom", doc["error"])
	assert.Contains(t, doc, "nextRetryAt")
	assert.NotContains(t, doc, "state")
	assert.NotContains(t, doc, "attempts")
	assert.NotContains(t, doc, "notBefore")
	assert.NotContains(t, doc, "lastError")
}

func TestMigrateFoldsDeadLetterList(t *testing.T) {
	state := newState()
	state.LegacyDeadLetter = []*Job{{ID: "job_old", Kind: "export", Attempts: 3, MaxAttempts: 3}}
	require.NoError(t, state.migrate())

	require.Contains(t, state.Jobs, "job_old")
	assert.Contains(t, state.JobOrder, "job_old")
	assert.Equal(t, JobFailed, state.Jobs["job_old"].State)
	assert.True(t, state.Jobs["job_old"].DeadLetter)
	assert.Nil(t, state.LegacyDeadLetter)
}

func TestLeaseExpirySweep(t *testing.T) {
	s, now := newClockedStore(t)
	ctx := context.Background()

	job, err := s.SubmitJob(ctx, "ws1", JobSpec{Kind: "export", LeaseMS: 5000})
	require.NoError(t, err)
	claimed, err := s.ClaimJob(ctx, "ws1", "worker-a")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	// Worker vanishes; after the lease window another claim sweeps the job
	// back into the queue and takes it over.
	*now = now.Add(6 * time.Second)
	reclaimed, err := s.ClaimJob(ctx, "ws1", "worker-b")
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
	assert.Equal(t, job.ID, reclaimed.ID)
	assert.Equal(t, "worker-b", reclaimed.WorkerID)
	assert.Equal(t, 2, reclaimed.Attempts)

	// Expiry alone never exhausts a job: each sweep requeues it with no
	// backoff window, and only a worker-reported failure can dead-letter.
	for i := 0; i < 3; i++ {
		*now = now.Add(6 * time.Second)
		again, err := s.ClaimJob(ctx, "ws1", "worker-c")
		require.NoError(t, err)
		require.NotNil(t, again)
	}
	got, err := s.GetJob(ctx, "ws1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobRunning, got.State)
	assert.Equal(t, 5, got.Attempts)
	assert.False(t, got.DeadLetter)

	events, err := s.EventsSince(ctx, "ws1", 0)
	require.NoError(t, err)
	kinds := make([]string, len(events))
	for i, ev := range events {
		kinds[i] = ev.Kind
	}
	assert.Contains(t, kinds, EventJobLeaseExpired)
}

func TestCompleteRequiresRunningJob(t *testing.T) {
	s, _ := newClockedStore(t)
	ctx := context.Background()

	job, err := s.SubmitJob(ctx, "ws1", JobSpec{Kind: "export"})
	require.NoError(t, err)

	err = s.CompleteJob(ctx, "ws1", job.ID, nil)
	assert.ErrorIs(t, err, ErrJobNotRunning)

	err = s.CompleteJob(ctx, "ws1", "job_missing", nil)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestEventSequenceIsMonotonic(t *testing.T) {
	s, _ := newClockedStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.SubmitJob(ctx, "ws1", JobSpec{Kind: "export"})
		require.NoError(t, err)
	}

	events, err := s.EventsSince(ctx, "ws1", 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, ev := range events {
		assert.Equal(t, uint64(i+1), ev.Seq)
	}

	tail, err := s.EventsSince(ctx, "ws1", 2)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, uint64(3), tail[0].Seq)
}

func TestProjectEventsSinceFilters(t *testing.T) {
	s, _ := newClockedStore(t)
	ctx := context.Background()

	_, err := s.SubmitJob(ctx, "ws1", JobSpec{Kind: "export", ProjectID: "p1"})
	require.NoError(t, err)
	_, err = s.SubmitJob(ctx, "ws1", JobSpec{Kind: "export", ProjectID: "p2"})
	require.NoError(t, err)

	events, err := s.ProjectEventsSince(ctx, "ws1", "p1", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "p1", events[0].ProjectID)
}

func TestBackoffCurve(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, Backoff(1))
	assert.Equal(t, 200*time.Millisecond, Backoff(2))
	assert.Equal(t, 800*time.Millisecond, Backoff(4))
	assert.Equal(t, 12800*time.Millisecond, Backoff(8))
	assert.Equal(t, 30*time.Second, Backoff(10))
	assert.Equal(t, 30*time.Second, Backoff(100))
}
