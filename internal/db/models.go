package db

import (
	"time"

	"gorm.io/gorm"

	"github.com/D0NMEGA/MoltGrid/internal/ids"
)

// Job status values. The transition graph is enforced by the repository layer
// with conditional updates: pending -> claimed -> completed | pending | dead.
// Terminal states (completed, dead) are only left via explicit replay.
const (
	JobStatusPending   = "pending"
	JobStatusClaimed   = "claimed"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusDead      = "dead"
)

// DefaultNamespace scopes memory keys when the caller does not name one.
const DefaultNamespace = "default"

// -----------------------------------------------------------------------------
// Agents
// -----------------------------------------------------------------------------

// Agent is a registered tenant of the backplane. The raw API key is returned
// exactly once at registration; only its SHA-256 hex digest is stored, and the
// digest doubles as the unique lookup index for authentication.
type Agent struct {
	AgentID       string     `gorm:"type:text;primaryKey"`
	Name          string     `gorm:"not null"`
	APIKeyHash    string     `gorm:"not null;uniqueIndex"`
	Description   string     `gorm:"not null"`
	Capabilities  StringList `gorm:"type:text"`
	Public        bool       `gorm:"not null"`
	Status        string     `gorm:"not null"` // freeform, e.g. "online", "offline"
	Metadata      Document   `gorm:"type:text"`
	LastHeartbeat *time.Time
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

// BeforeCreate assigns a tagged ID when none is set.
func (a *Agent) BeforeCreate(tx *gorm.DB) error {
	if a.AgentID == "" {
		a.AgentID = ids.NewAgentID()
	}
	return nil
}

// -----------------------------------------------------------------------------
// Memory
// -----------------------------------------------------------------------------

// MemoryEntry is a private key-value row scoped to one agent and namespace.
// A row with ExpiresAt at or before now is logically absent: reads, lists and
// deletes treat it exactly like a missing row.
type MemoryEntry struct {
	AgentID   string `gorm:"type:text;primaryKey"`
	Namespace string `gorm:"type:text;primaryKey"`
	Key       string `gorm:"type:text;primaryKey"`
	Value     string `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
	ExpiresAt *time.Time `gorm:"index"`
}

// SharedMemoryEntry is a key-value row readable by every agent. Writes upsert
// and keep the original OwnerAgentID; only the owner may delete, and a
// non-owner delete is reported as not found so existence does not leak.
type SharedMemoryEntry struct {
	Namespace    string `gorm:"type:text;primaryKey"`
	Key          string `gorm:"type:text;primaryKey"`
	Value        string `gorm:"not null"`
	OwnerAgentID string `gorm:"not null;index"`
	Description  string `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
	ExpiresAt    *time.Time `gorm:"index"`
}

// -----------------------------------------------------------------------------
// Relay
// -----------------------------------------------------------------------------

// Message is a directed message persisted before any live push. ReadAt doubles
// as the read flag; the unread inbox filters on ReadAt IS NULL.
type Message struct {
	MessageID string `gorm:"type:text;primaryKey"`
	FromAgent string `gorm:"not null;index"`
	ToAgent   string `gorm:"not null;index"`
	Channel   string `gorm:"not null"`
	Payload   string `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	ReadAt    *time.Time
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.MessageID == "" {
		m.MessageID = ids.NewMessageID()
	}
	return nil
}

// -----------------------------------------------------------------------------
// Jobs
// -----------------------------------------------------------------------------

// Job is one unit of background work. AgentID is the submitter and stays the
// owner for listing and webhook delivery; ClaimedBy is whichever agent popped
// it. Attempts counts claims, so a job claimed and failed max_attempts times
// is dead. VisibilityDeadline guards against claimers that vanish: the
// scheduler sweep pushes expired claims back through the fail ladder.
type Job struct {
	JobID              string `gorm:"type:text;primaryKey"`
	AgentID            string `gorm:"not null;index"`
	QueueName          string `gorm:"not null;index"`
	Payload            string `gorm:"not null"`
	Priority           int    `gorm:"not null"`
	Status             string `gorm:"not null;index"`
	Attempts           int    `gorm:"not null"`
	MaxAttempts        int    `gorm:"not null"`
	ClaimedBy          string `gorm:"not null"`
	ClaimedAt          *time.Time
	VisibilityDeadline *time.Time
	CompletedAt        *time.Time
	Result             string `gorm:"not null"`
	Error              string `gorm:"not null"`
	CreatedAt          time.Time `gorm:"not null"`
	UpdatedAt          time.Time `gorm:"not null"`
}

func (j *Job) BeforeCreate(tx *gorm.DB) error {
	if j.JobID == "" {
		j.JobID = ids.NewJobID()
	}
	return nil
}

// -----------------------------------------------------------------------------
// Schedules
// -----------------------------------------------------------------------------

// ScheduledTask owns a 5-field cron expression and the job template it
// enqueues. NextRunAt is always strictly in the future after a fire or an
// edit, which is what makes the tick idempotent: a second tick in the same
// instant finds nothing due.
type ScheduledTask struct {
	TaskID      string `gorm:"type:text;primaryKey"`
	AgentID     string `gorm:"not null;index"`
	CronExpr    string `gorm:"not null"`
	Payload     string `gorm:"not null"`
	QueueName   string `gorm:"not null"`
	Priority    int    `gorm:"not null"`
	MaxAttempts int    `gorm:"not null"`
	Enabled     bool   `gorm:"not null"`
	NextRunAt   time.Time `gorm:"not null;index"`
	LastRunAt   *time.Time
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (s *ScheduledTask) BeforeCreate(tx *gorm.DB) error {
	if s.TaskID == "" {
		s.TaskID = ids.NewScheduleID()
	}
	return nil
}

// -----------------------------------------------------------------------------
// Webhooks
// -----------------------------------------------------------------------------

// Webhook is a per-agent event subscription. EventTypes is restricted to the
// closed event set at the API boundary. Secret, when set, keys the
// HMAC-SHA256 signature attached to deliveries.
type Webhook struct {
	WebhookID  string     `gorm:"type:text;primaryKey"`
	AgentID    string     `gorm:"not null;index"`
	URL        string     `gorm:"not null"`
	EventTypes StringList `gorm:"type:text;not null"`
	Secret     string     `gorm:"not null"`
	Active     bool       `gorm:"not null"`
	CreatedAt  time.Time  `gorm:"not null"`
}

func (w *Webhook) BeforeCreate(tx *gorm.DB) error {
	if w.WebhookID == "" {
		w.WebhookID = ids.NewWebhookID()
	}
	return nil
}

// -----------------------------------------------------------------------------
// Rate limiting
// -----------------------------------------------------------------------------

// RateWindow is one minute-bucket of the fixed-window rate counter.
// WindowStart is unix seconds divided by 60. Old windows are swept lazily.
type RateWindow struct {
	AgentID     string `gorm:"type:text;primaryKey"`
	WindowStart int64  `gorm:"primaryKey;autoIncrement:false"`
	Count       int64  `gorm:"not null"`
}

// TableName keeps the table name used by the original schema.
func (RateWindow) TableName() string { return "rate_limits" }
