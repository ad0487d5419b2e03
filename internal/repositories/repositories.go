package repositories

import (
	"context"
	"time"

	"github.com/D0NMEGA/MoltGrid/internal/db"
)

// -----------------------------------------------------------------------------
// AgentRepository
// -----------------------------------------------------------------------------

type AgentRepository interface {
	Create(ctx context.Context, agent *db.Agent) error
	GetByID(ctx context.Context, agentID string) (*db.Agent, error)

	// GetByKeyHash resolves the agent owning a presented API key. The hash is
	// the unique index, so authentication is one read.
	GetByKeyHash(ctx context.Context, hash string) (*db.Agent, error)

	Update(ctx context.Context, agent *db.Agent) error
	UpdateHeartbeat(ctx context.Context, agentID, status string, metadata db.Document, at time.Time) error
	Exists(ctx context.Context, agentID string) (bool, error)

	// ListPublic returns agents with public=true. A non-empty capability
	// restricts the result to agents advertising it (case-sensitive match).
	ListPublic(ctx context.Context, capability string) ([]db.Agent, error)
}

// -----------------------------------------------------------------------------
// MemoryRepository
// -----------------------------------------------------------------------------

type MemoryRepository interface {
	// Set upserts an entry. An existing live row keeps its created_at and
	// refreshes value, updated_at and expires_at; an expired row is replaced
	// wholesale. Returns the stored row.
	Set(ctx context.Context, entry *db.MemoryEntry) (*db.MemoryEntry, error)

	Get(ctx context.Context, agentID, namespace, key string) (*db.MemoryEntry, error)
	List(ctx context.Context, agentID, namespace, prefix string) ([]db.MemoryEntry, error)
	Delete(ctx context.Context, agentID, namespace, key string) error
	CountForAgent(ctx context.Context, agentID string) (int64, error)
}

// -----------------------------------------------------------------------------
// SharedMemoryRepository
// -----------------------------------------------------------------------------

type SharedMemoryRepository interface {
	// Set upserts an entry. Updates keep the original owner_agent_id.
	Set(ctx context.Context, entry *db.SharedMemoryEntry) (*db.SharedMemoryEntry, error)

	Get(ctx context.Context, namespace, key string) (*db.SharedMemoryEntry, error)
	List(ctx context.Context, namespace, prefix string) ([]db.SharedMemoryEntry, error)

	// ListNamespaces returns the distinct namespaces holding at least one
	// non-expired key.
	ListNamespaces(ctx context.Context) ([]string, error)

	// Delete removes the entry only when ownerAgentID matches; absent,
	// expired and foreign-owned rows are all ErrNotFound so a non-owner
	// cannot probe for existence.
	Delete(ctx context.Context, namespace, key, ownerAgentID string) error

	Count(ctx context.Context) (int64, error)
}

// -----------------------------------------------------------------------------
// MessageRepository
// -----------------------------------------------------------------------------

type MessageRepository interface {
	Create(ctx context.Context, message *db.Message) error

	// Inbox returns messages addressed to toAgent ordered by created_at
	// ascending. A non-empty channel filters to it; unreadOnly drops rows
	// with read_at set.
	Inbox(ctx context.Context, toAgent, channel string, unreadOnly bool) ([]db.Message, error)

	// MarkRead stamps read_at on a message addressed to toAgent. Repeat calls
	// succeed and keep the first timestamp. Messages addressed to anyone else
	// are ErrNotFound.
	MarkRead(ctx context.Context, messageID, toAgent string, at time.Time) error

	CountReceived(ctx context.Context, toAgent string) (int64, error)
	CountUnread(ctx context.Context, toAgent string) (int64, error)
}

// -----------------------------------------------------------------------------
// JobRepository
// -----------------------------------------------------------------------------

type JobRepository interface {
	Create(ctx context.Context, job *db.Job) error

	// GetForAgent returns a job only to its submitter.
	GetForAgent(ctx context.Context, jobID, agentID string) (*db.Job, error)

	// List returns the caller's submitted jobs, optionally filtered by queue
	// and status, newest first.
	List(ctx context.Context, agentID, queueName, status string) ([]db.Job, error)
	ListDead(ctx context.Context, agentID, queueName string) ([]db.Job, error)

	// Claim atomically pops the best pending job: priority descending, then
	// created_at ascending. With a queueName any agent's jobs in that queue
	// are eligible; without one only jobs submitted by claimerID are. The
	// winner transitions to claimed with attempts+1 and a visibility
	// deadline. ErrNotFound means nothing is claimable.
	Claim(ctx context.Context, claimerID, queueName string, visibility time.Duration) (*db.Job, error)

	// Complete finishes a job the caller currently claims. The guard
	// (status=claimed, claimed_by=caller) failing is ErrNotFound.
	Complete(ctx context.Context, jobID, claimerID, result string) (*db.Job, error)

	// Fail records a failed attempt for a job the caller currently claims.
	// With attempts left the job returns to pending (claim fields cleared);
	// otherwise it goes dead. The second return reports whether the job is
	// claimable again.
	Fail(ctx context.Context, jobID, claimerID, reason string) (*db.Job, bool, error)

	// Replay resets a dead job owned by the submitter back to pending with
	// attempts=0 and claim, result and error fields cleared.
	Replay(ctx context.Context, jobID, agentID string) (*db.Job, error)

	// SweepExpired pushes every claimed job whose visibility deadline has
	// passed through the fail rule with error "visibility timeout", and
	// returns the transitioned jobs.
	SweepExpired(ctx context.Context, now time.Time) ([]db.Job, error)

	CountForAgent(ctx context.Context, agentID, status string) (int64, error)
}

// -----------------------------------------------------------------------------
// ScheduleRepository
// -----------------------------------------------------------------------------

type ScheduleRepository interface {
	Create(ctx context.Context, task *db.ScheduledTask) error
	GetForAgent(ctx context.Context, taskID, agentID string) (*db.ScheduledTask, error)
	ListForAgent(ctx context.Context, agentID string) ([]db.ScheduledTask, error)

	// SetEnabled toggles a task owned by agentID. nextRunAt, when non-nil,
	// moves the task's next fire time (used on re-enable so the task does not
	// fire immediately for every instant it spent disabled).
	SetEnabled(ctx context.Context, taskID, agentID string, enabled bool, nextRunAt *time.Time) (*db.ScheduledTask, error)

	Delete(ctx context.Context, taskID, agentID string) error

	// Due returns enabled tasks with next_run_at at or before now.
	Due(ctx context.Context, now time.Time) ([]db.ScheduledTask, error)

	// AdvanceRun claims one fire of a due task: it moves next_run_at forward
	// and stamps last_run_at, guarded on the task still being due, and
	// reports whether this caller won the fire.
	AdvanceRun(ctx context.Context, taskID string, firedAt, nextRunAt time.Time) (bool, error)

	CountEnabled(ctx context.Context) (int64, error)
	CountEnabledForAgent(ctx context.Context, agentID string) (int64, error)
}

// -----------------------------------------------------------------------------
// WebhookRepository
// -----------------------------------------------------------------------------

type WebhookRepository interface {
	Create(ctx context.Context, webhook *db.Webhook) error
	ListForAgent(ctx context.Context, agentID string) ([]db.Webhook, error)
	Delete(ctx context.Context, webhookID, agentID string) error

	// ListActiveForEvent returns the agent's active webhooks subscribed to
	// eventType.
	ListActiveForEvent(ctx context.Context, agentID, eventType string) ([]db.Webhook, error)

	CountActive(ctx context.Context) (int64, error)
	CountActiveForAgent(ctx context.Context, agentID string) (int64, error)
}

// -----------------------------------------------------------------------------
// RateLimitRepository
// -----------------------------------------------------------------------------

type RateLimitRepository interface {
	// Increment bumps the counter for (agentID, windowStart) and returns the
	// post-increment count, creating the window at 1 when absent.
	Increment(ctx context.Context, agentID string, windowStart int64) (int64, error)

	// Sweep drops windows strictly older than before.
	Sweep(ctx context.Context, before int64) error
}
