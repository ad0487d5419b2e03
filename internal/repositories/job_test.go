package repositories_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/D0NMEGA/MoltGrid/internal/db"
	"github.com/D0NMEGA/MoltGrid/internal/repositories"
)

func submitJob(t *testing.T, repo repositories.JobRepository, agentID, queue, payload string, priority, maxAttempts int) *db.Job {
	t.Helper()

	job := &db.Job{
		AgentID:     agentID,
		QueueName:   queue,
		Payload:     payload,
		Priority:    priority,
		Status:      db.JobStatusPending,
		MaxAttempts: maxAttempts,
	}
	require.NoError(t, repo.Create(context.Background(), job))
	return job
}

func TestJobClaimOrdersByPriorityDesc(t *testing.T) {
	repo := repositories.NewJobRepository(newTestDB(t))
	ctx := context.Background()

	submitJob(t, repo, "agent_a", "work", "low", 1, 3)
	submitJob(t, repo, "agent_a", "work", "high", 10, 3)
	submitJob(t, repo, "agent_a", "work", "mid", 5, 3)

	var got []string
	for i := 0; i < 3; i++ {
		job, err := repo.Claim(ctx, "agent_a", "work", 5*time.Minute)
		require.NoError(t, err)
		got = append(got, job.Payload)
	}
	assert.Equal(t, []string{"high", "mid", "low"}, got)
}

func TestJobClaimFIFOWithinPriority(t *testing.T) {
	repo := repositories.NewJobRepository(newTestDB(t))
	ctx := context.Background()

	first := submitJob(t, repo, "agent_a", "work", "first", 5, 3)
	submitJob(t, repo, "agent_a", "work", "second", 5, 3)

	job, err := repo.Claim(ctx, "agent_a", "work", 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, first.JobID, job.JobID)
}

func TestJobClaimScope(t *testing.T) {
	repo := repositories.NewJobRepository(newTestDB(t))
	ctx := context.Background()

	submitJob(t, repo, "agent_a", "work", "a-job", 5, 3)

	// Without a queue name agent_b only sees its own backlog, which is empty.
	_, err := repo.Claim(ctx, "agent_b", "", 5*time.Minute)
	assert.ErrorIs(t, err, repositories.ErrNotFound)

	// Naming the queue opens it to any claimer.
	job, err := repo.Claim(ctx, "agent_b", "work", 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "a-job", job.Payload)
	assert.Equal(t, "agent_b", job.ClaimedBy)
	assert.Equal(t, 1, job.Attempts)
	require.NotNil(t, job.VisibilityDeadline)
}

func TestJobClaimEmptyQueue(t *testing.T) {
	repo := repositories.NewJobRepository(newTestDB(t))

	_, err := repo.Claim(context.Background(), "agent_a", "work", 5*time.Minute)
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestJobCompleteGuards(t *testing.T) {
	repo := repositories.NewJobRepository(newTestDB(t))
	ctx := context.Background()

	pending := submitJob(t, repo, "agent_a", "work", "p", 5, 3)

	// A job nobody claimed cannot be completed.
	_, err := repo.Complete(ctx, pending.JobID, "agent_a", "done")
	assert.ErrorIs(t, err, repositories.ErrNotFound)

	claimed, err := repo.Claim(ctx, "agent_a", "work", 5*time.Minute)
	require.NoError(t, err)

	// Only the claimer may complete.
	_, err = repo.Complete(ctx, claimed.JobID, "agent_b", "done")
	assert.ErrorIs(t, err, repositories.ErrNotFound)

	job, err := repo.Complete(ctx, claimed.JobID, "agent_a", "done")
	require.NoError(t, err)
	assert.Equal(t, db.JobStatusCompleted, job.Status)
	assert.Equal(t, "done", job.Result)
	require.NotNil(t, job.CompletedAt)
	assert.Nil(t, job.VisibilityDeadline)

	// Completing twice fails: the job is no longer claimed.
	_, err = repo.Complete(ctx, claimed.JobID, "agent_a", "again")
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestJobFailRetriesThenDeadLetters(t *testing.T) {
	repo := repositories.NewJobRepository(newTestDB(t))
	ctx := context.Background()

	submitted := submitJob(t, repo, "agent_a", "work", "flaky", 5, 2)

	claimed, err := repo.Claim(ctx, "agent_a", "work", 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, claimed.Attempts)

	job, willRetry, err := repo.Fail(ctx, claimed.JobID, "agent_a", "boom")
	require.NoError(t, err)
	assert.True(t, willRetry)
	assert.Equal(t, db.JobStatusPending, job.Status)
	assert.Equal(t, "boom", job.Error)
	assert.Empty(t, job.ClaimedBy)
	assert.Nil(t, job.ClaimedAt)

	claimed, err = repo.Claim(ctx, "agent_a", "work", 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, claimed.Attempts)

	job, willRetry, err = repo.Fail(ctx, claimed.JobID, "agent_a", "boom again")
	require.NoError(t, err)
	assert.False(t, willRetry)
	assert.Equal(t, db.JobStatusDead, job.Status)
	// Dead jobs keep the last claimer on record.
	assert.Equal(t, "agent_a", job.ClaimedBy)
	require.NotNil(t, job.ClaimedAt)

	dead, err := repo.ListDead(ctx, "agent_a", "")
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, submitted.JobID, dead[0].JobID)
}

func TestJobFailRequiresClaimer(t *testing.T) {
	repo := repositories.NewJobRepository(newTestDB(t))
	ctx := context.Background()

	submitJob(t, repo, "agent_a", "work", "p", 5, 3)
	claimed, err := repo.Claim(ctx, "agent_a", "work", 5*time.Minute)
	require.NoError(t, err)

	_, _, err = repo.Fail(ctx, claimed.JobID, "agent_b", "not mine")
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestJobReplayResurrectsDeadJob(t *testing.T) {
	repo := repositories.NewJobRepository(newTestDB(t))
	ctx := context.Background()

	submitted := submitJob(t, repo, "agent_a", "work", "doomed", 5, 1)

	claimed, err := repo.Claim(ctx, "agent_a", "work", 5*time.Minute)
	require.NoError(t, err)
	_, willRetry, err := repo.Fail(ctx, claimed.JobID, "agent_a", "fatal")
	require.NoError(t, err)
	require.False(t, willRetry)

	// Replay is submitter-only.
	_, err = repo.Replay(ctx, submitted.JobID, "agent_b")
	assert.ErrorIs(t, err, repositories.ErrNotFound)

	job, err := repo.Replay(ctx, submitted.JobID, "agent_a")
	require.NoError(t, err)
	assert.Equal(t, db.JobStatusPending, job.Status)
	assert.Equal(t, 0, job.Attempts)
	assert.Empty(t, job.Error)
	assert.Empty(t, job.ClaimedBy)

	// The replayed job claims like a fresh one.
	reclaimed, err := repo.Claim(ctx, "agent_a", "work", 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, submitted.JobID, reclaimed.JobID)
	assert.Equal(t, 1, reclaimed.Attempts)

	// Replaying a non-dead job is refused.
	_, err = repo.Replay(ctx, submitted.JobID, "agent_a")
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestJobSweepExpiredRequeues(t *testing.T) {
	repo := repositories.NewJobRepository(newTestDB(t))
	ctx := context.Background()

	submitJob(t, repo, "agent_a", "work", "slow", 5, 3)

	// A negative visibility puts the deadline in the past immediately.
	claimed, err := repo.Claim(ctx, "agent_a", "work", -time.Second)
	require.NoError(t, err)

	swept, err := repo.SweepExpired(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, swept, 1)
	assert.Equal(t, claimed.JobID, swept[0].JobID)
	assert.Equal(t, db.JobStatusPending, swept[0].Status)
	assert.Equal(t, "visibility timeout", swept[0].Error)
	assert.Empty(t, swept[0].ClaimedBy)

	// Attempts survive the sweep so the retry budget keeps counting down.
	assert.Equal(t, 1, swept[0].Attempts)

	// Nothing left to sweep.
	swept, err = repo.SweepExpired(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, swept)
}

func TestJobSweepExpiredDeadLettersExhaustedJob(t *testing.T) {
	repo := repositories.NewJobRepository(newTestDB(t))
	ctx := context.Background()

	submitJob(t, repo, "agent_a", "work", "one-shot", 5, 1)

	_, err := repo.Claim(ctx, "agent_a", "work", -time.Second)
	require.NoError(t, err)

	swept, err := repo.SweepExpired(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, swept, 1)
	assert.Equal(t, db.JobStatusDead, swept[0].Status)
	assert.Equal(t, "agent_a", swept[0].ClaimedBy)
}

func TestJobListFilters(t *testing.T) {
	repo := repositories.NewJobRepository(newTestDB(t))
	ctx := context.Background()

	submitJob(t, repo, "agent_a", "alpha", "a1", 5, 3)
	submitJob(t, repo, "agent_a", "beta", "b1", 5, 3)
	submitJob(t, repo, "agent_b", "alpha", "other", 5, 3)

	jobs, err := repo.List(ctx, "agent_a", "", "")
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	jobs, err = repo.List(ctx, "agent_a", "alpha", "")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "a1", jobs[0].Payload)

	jobs, err = repo.List(ctx, "agent_a", "", db.JobStatusPending)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	jobs, err = repo.List(ctx, "agent_a", "", db.JobStatusCompleted)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestJobCountForAgent(t *testing.T) {
	repo := repositories.NewJobRepository(newTestDB(t))
	ctx := context.Background()

	submitJob(t, repo, "agent_a", "work", "p1", 5, 3)
	submitJob(t, repo, "agent_a", "work", "p2", 5, 3)

	claimed, err := repo.Claim(ctx, "agent_a", "work", 5*time.Minute)
	require.NoError(t, err)
	_, err = repo.Complete(ctx, claimed.JobID, "agent_a", "ok")
	require.NoError(t, err)

	total, err := repo.CountForAgent(ctx, "agent_a", "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	completed, err := repo.CountForAgent(ctx, "agent_a", db.JobStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, int64(1), completed)
}
