// Package websocket implements the push socket surface: a hub of live
// connections keyed by agent, plus per-connection read and write pumps. It
// uses gorilla/websocket under the hood. Inbound frames are relay sends
// (persisted before any acknowledgement); outbound traffic is frame replies
// and pushed events.
package websocket

import (
	"context"

	"github.com/D0NMEGA/MoltGrid/internal/db"
)

// Sender persists an inbound frame as a relay message. Implemented by the
// relay service; declared here so the hub does not depend on it directly.
type Sender interface {
	Send(ctx context.Context, fromAgent, toAgent, channel, payload string) (*db.Message, error)
}

// sendFrame is an inbound client frame requesting a relay send.
//
//	{"to_agent":"agent_...","channel":"tasks","payload":"..."}
type sendFrame struct {
	ToAgent string `json:"to_agent"`
	Channel string `json:"channel"`
	Payload string `json:"payload"`
}

// deliveredReply acknowledges a persisted send on the same socket.
func deliveredReply(messageID string) map[string]interface{} {
	return map[string]interface{}{
		"status":     "delivered",
		"message_id": messageID,
	}
}

// errorReply reports a rejected frame on the same socket.
func errorReply(msg string) map[string]interface{} {
	return map[string]interface{}{"error": msg}
}
