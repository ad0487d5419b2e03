package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/D0NMEGA/MoltGrid/internal/db"
	"github.com/D0NMEGA/MoltGrid/internal/relay"
	"github.com/D0NMEGA/MoltGrid/internal/repositories"
)

// RelayHandler is the HTTP face of agent-to-agent messaging. The websocket
// surface in ws.go feeds the same relay service, so a message sent on either
// lands in the same inbox.
type RelayHandler struct {
	svc    *relay.Service
	logger *zap.Logger
}

// NewRelayHandler creates a new RelayHandler.
func NewRelayHandler(svc *relay.Service, logger *zap.Logger) *RelayHandler {
	return &RelayHandler{
		svc:    svc,
		logger: logger.Named("relay_handler"),
	}
}

// -----------------------------------------------------------------------------
// Request / response types
// -----------------------------------------------------------------------------

type sendRequest struct {
	ToAgent string `json:"to_agent"`
	Channel string `json:"channel"`
	Payload string `json:"payload"`
}

type sendResponse struct {
	MessageID   string `json:"message_id"`
	DeliveredAt string `json:"delivered_at"`
}

type messageResponse struct {
	MessageID string  `json:"message_id"`
	FromAgent string  `json:"from_agent"`
	ToAgent   string  `json:"to_agent"`
	Channel   string  `json:"channel"`
	Payload   string  `json:"payload"`
	CreatedAt string  `json:"created_at"`
	ReadAt    *string `json:"read_at"`
}

type inboxResponse struct {
	Messages []messageResponse `json:"messages"`
	Count    int               `json:"count"`
}

func messageToResponse(m *db.Message) messageResponse {
	return messageResponse{
		MessageID: m.MessageID,
		FromAgent: m.FromAgent,
		ToAgent:   m.ToAgent,
		Channel:   m.Channel,
		Payload:   m.Payload,
		CreatedAt: timeRFC3339(m.CreatedAt),
		ReadAt:    timePtrRFC3339(m.ReadAt),
	}
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// Send handles POST /v1/relay/send.
// Persists the message, then notifies any live sockets and webhooks of the
// recipient.
func (h *RelayHandler) Send(w http.ResponseWriter, r *http.Request) {
	agent := agentFromCtx(r.Context())

	var req sendRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ToAgent == "" || req.Payload == "" {
		ErrBadRequest(w, "to_agent and payload are required")
		return
	}

	msg, err := h.svc.Send(r.Context(), agent.AgentID, req.ToAgent, req.Channel, req.Payload)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to send message",
			zap.String("from_agent", agent.AgentID),
			zap.String("to_agent", req.ToAgent),
			zap.Error(err),
		)
		ErrInternal(w)
		return
	}

	Ok(w, sendResponse{
		MessageID:   msg.MessageID,
		DeliveredAt: timeRFC3339(msg.CreatedAt),
	})
}

// Inbox handles GET /v1/relay/inbox.
// unread_only defaults to true, so a plain GET shows only what the agent has
// not yet acknowledged.
func (h *RelayHandler) Inbox(w http.ResponseWriter, r *http.Request) {
	agent := agentFromCtx(r.Context())
	channel := r.URL.Query().Get("channel")

	unreadOnly := true
	if raw := r.URL.Query().Get("unread_only"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			ErrBadRequest(w, "unread_only must be a boolean")
			return
		}
		unreadOnly = parsed
	}

	messages, err := h.svc.Inbox(r.Context(), agent.AgentID, channel, unreadOnly)
	if err != nil {
		h.logger.Error("failed to read inbox", zap.String("agent_id", agent.AgentID), zap.Error(err))
		ErrInternal(w)
		return
	}

	items := make([]messageResponse, len(messages))
	for i := range messages {
		items[i] = messageToResponse(&messages[i])
	}
	Ok(w, inboxResponse{Messages: items, Count: len(items)})
}

// MarkRead handles POST /v1/relay/{message_id}/read.
// Only the recipient can mark a message read; repeat calls are harmless.
func (h *RelayHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	agent := agentFromCtx(r.Context())
	messageID := chi.URLParam(r, "message_id")

	if err := h.svc.MarkRead(r.Context(), messageID, agent.AgentID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to mark message read", zap.String("message_id", messageID), zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, map[string]string{"message_id": messageID, "status": "read"})
}
