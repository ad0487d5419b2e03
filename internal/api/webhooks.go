package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/D0NMEGA/MoltGrid/internal/db"
	"github.com/D0NMEGA/MoltGrid/internal/fanout"
	"github.com/D0NMEGA/MoltGrid/internal/repositories"
)

// WebhookHandler manages per-agent event subscriptions. Delivery itself lives
// in internal/fanout; this handler only maintains the subscription rows.
type WebhookHandler struct {
	webhooks repositories.WebhookRepository
	logger   *zap.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(webhooks repositories.WebhookRepository, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		webhooks: webhooks,
		logger:   logger.Named("webhook_handler"),
	}
}

// -----------------------------------------------------------------------------
// Request / response types
// -----------------------------------------------------------------------------

type createWebhookRequest struct {
	URL        string   `json:"url"`
	EventTypes []string `json:"event_types"`
	Secret     string   `json:"secret"`
}

// webhookResponse never carries the secret; it is write-only after creation.
type webhookResponse struct {
	WebhookID  string   `json:"webhook_id"`
	URL        string   `json:"url"`
	EventTypes []string `json:"event_types"`
	Active     bool     `json:"active"`
	HasSecret  bool     `json:"has_secret"`
	CreatedAt  string   `json:"created_at"`
}

type listWebhooksResponse struct {
	Webhooks []webhookResponse `json:"webhooks"`
	Count    int               `json:"count"`
}

func webhookToResponse(wh *db.Webhook) webhookResponse {
	return webhookResponse{
		WebhookID:  wh.WebhookID,
		URL:        wh.URL,
		EventTypes: wh.EventTypes,
		Active:     wh.Active,
		HasSecret:  wh.Secret != "",
		CreatedAt:  timeRFC3339(wh.CreatedAt),
	}
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// Create handles POST /v1/webhooks.
// Every requested event type must come from the closed event set.
func (h *WebhookHandler) Create(w http.ResponseWriter, r *http.Request) {
	agent := agentFromCtx(r.Context())

	var req createWebhookRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.URL == "" {
		ErrBadRequest(w, "url is required")
		return
	}
	if len(req.EventTypes) == 0 {
		ErrBadRequest(w, "event_types is required")
		return
	}
	for _, eventType := range req.EventTypes {
		if !fanout.ValidEventType(eventType) {
			ErrBadRequest(w, fmt.Sprintf("unknown event type %q", eventType))
			return
		}
	}

	webhook := &db.Webhook{
		AgentID:    agent.AgentID,
		URL:        req.URL,
		EventTypes: db.StringList(req.EventTypes),
		Secret:     req.Secret,
		Active:     true,
	}

	if err := h.webhooks.Create(r.Context(), webhook); err != nil {
		h.logger.Error("failed to create webhook", zap.String("agent_id", agent.AgentID), zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, webhookToResponse(webhook))
}

// List handles GET /v1/webhooks.
func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	agent := agentFromCtx(r.Context())

	webhooks, err := h.webhooks.ListForAgent(r.Context(), agent.AgentID)
	if err != nil {
		h.logger.Error("failed to list webhooks", zap.String("agent_id", agent.AgentID), zap.Error(err))
		ErrInternal(w)
		return
	}

	items := make([]webhookResponse, len(webhooks))
	for i := range webhooks {
		items[i] = webhookToResponse(&webhooks[i])
	}
	Ok(w, listWebhooksResponse{Webhooks: items, Count: len(items)})
}

// Delete handles DELETE /v1/webhooks/{webhook_id}.
func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	agent := agentFromCtx(r.Context())
	webhookID := chi.URLParam(r, "webhook_id")

	if err := h.webhooks.Delete(r.Context(), webhookID, agent.AgentID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to delete webhook", zap.String("webhook_id", webhookID), zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, map[string]string{"deleted": webhookID})
}
