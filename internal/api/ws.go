package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/D0NMEGA/MoltGrid/internal/identity"
	"github.com/D0NMEGA/MoltGrid/internal/relay"
	"github.com/D0NMEGA/MoltGrid/internal/websocket"
)

// WSHandler handles the WebSocket upgrade endpoint GET /v1/relay/ws.
// Authentication uses the api_key query parameter instead of the X-API-Key
// header, since not every WebSocket client can set custom headers on the
// upgrade request. The key is validated before the upgrade, so a bad key is a
// plain HTTP 401 and never becomes a socket.
//
// Example connection URL:
//
//	ws://host/v1/relay/ws?api_key=af_...
type WSHandler struct {
	hub      *websocket.Hub
	relay    *relay.Service
	identity *identity.Service
	logger   *zap.Logger
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(hub *websocket.Hub, relaySvc *relay.Service, ident *identity.Service, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		hub:      hub,
		relay:    relaySvc,
		identity: ident,
		logger:   logger.Named("ws_handler"),
	}
}

// Serve handles GET /v1/relay/ws.
// It authenticates the request, upgrades the connection, and starts the
// client read/write pumps. The handler blocks until the connection closes,
// which is the normal shape for WebSocket handlers.
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	apiKey := r.URL.Query().Get("api_key")
	if apiKey == "" {
		ErrUnauthorized(w)
		return
	}

	agent, err := h.identity.Authenticate(r.Context(), apiKey)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidKey):
			ErrUnauthorized(w)
		case errors.Is(err, identity.ErrRateLimited):
			ErrRateLimited(w)
		default:
			h.logger.Error("ws: authentication failed", zap.Error(err))
			ErrInternal(w)
		}
		return
	}

	client, err := websocket.NewClient(h.hub, h.relay, w, r, agent.AgentID, h.logger)
	if err != nil {
		// The upgrader has already written its own error response.
		h.logger.Warn("ws: upgrade failed",
			zap.String("agent_id", agent.AgentID),
			zap.Error(err),
		)
		return
	}

	h.logger.Info("ws: agent connected",
		zap.String("agent_id", agent.AgentID),
		zap.String("remote_addr", r.RemoteAddr),
	)

	// Run blocks until the connection closes. readPump and writePump handle
	// cleanup and hub unregistration internally.
	client.Run()

	h.logger.Info("ws: agent disconnected",
		zap.String("agent_id", agent.AgentID),
		zap.String("remote_addr", r.RemoteAddr),
	)
}
