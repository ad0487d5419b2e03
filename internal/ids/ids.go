// Package ids generates the tagged identifiers used across MoltGrid.
//
// Entity IDs are UUIDv7 hex behind a stable prefix (agent_, job_, msg_, wh_,
// sched_) so they remain opaque to clients but sort by creation time in the
// store. API keys are 32 random bytes hex-encoded behind the af_ prefix; only
// their SHA-256 digest is ever persisted.
package ids

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

const (
	AgentPrefix    = "agent_"
	APIKeyPrefix   = "af_"
	JobPrefix      = "job_"
	MessagePrefix  = "msg_"
	WebhookPrefix  = "wh_"
	SchedulePrefix = "sched_"
)

// newTagged returns prefix + 32 hex chars of a UUIDv7. UUIDv7 embeds a
// millisecond timestamp in its high bits, so IDs generated later compare
// greater, which keeps equal-priority queue scans stable.
func newTagged(prefix string) string {
	u, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the random source does; fall back to v4
		// rather than propagating an error through every constructor.
		u = uuid.New()
	}
	return prefix + hex.EncodeToString(u[:])
}

func NewAgentID() string    { return newTagged(AgentPrefix) }
func NewJobID() string      { return newTagged(JobPrefix) }
func NewMessageID() string  { return newTagged(MessagePrefix) }
func NewWebhookID() string  { return newTagged(WebhookPrefix) }
func NewScheduleID() string { return newTagged(SchedulePrefix) }

// NewAPIKey returns a fresh cleartext API key. The caller must hand it to the
// registering agent exactly once; the server stores only HashAPIKey of it.
func NewAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("ids: failed to generate api key: %w", err)
	}
	return APIKeyPrefix + hex.EncodeToString(buf), nil
}

// HashAPIKey returns the hex SHA-256 digest of a cleartext key. The digest is
// the stored credential and the unique lookup index, so authentication is a
// single indexed read.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
