package fanout

// Event types agents may subscribe webhooks to. The set is closed; webhook
// registration rejects anything else.
const (
	EventMessageReceived = "message.received"
	EventJobCompleted    = "job.completed"
	EventJobFailed       = "job.failed"
)

// EventTypes lists every subscribable event type.
func EventTypes() []string {
	return []string{EventMessageReceived, EventJobCompleted, EventJobFailed}
}

// ValidEventType reports whether s names a subscribable event type.
func ValidEventType(s string) bool {
	switch s {
	case EventMessageReceived, EventJobCompleted, EventJobFailed:
		return true
	}
	return false
}
