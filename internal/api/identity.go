package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/D0NMEGA/MoltGrid/internal/db"
	"github.com/D0NMEGA/MoltGrid/internal/identity"
	"github.com/D0NMEGA/MoltGrid/internal/repositories"
)

// IdentityHandler covers registration, heartbeats and the per-agent stats
// rollup. Registration is the only unauthenticated write on the whole surface.
type IdentityHandler struct {
	svc       *identity.Service
	stats     StatsSources
	startedAt time.Time
	logger    *zap.Logger
}

// StatsSources are the repositories the stats rollup counts across. The
// handler only ever reads counts from them.
type StatsSources struct {
	Memory    repositories.MemoryRepository
	Shared    repositories.SharedMemoryRepository
	Messages  repositories.MessageRepository
	Jobs      repositories.JobRepository
	Schedules repositories.ScheduleRepository
	Webhooks  repositories.WebhookRepository
}

// NewIdentityHandler creates a new IdentityHandler.
func NewIdentityHandler(svc *identity.Service, stats StatsSources, startedAt time.Time, logger *zap.Logger) *IdentityHandler {
	return &IdentityHandler{
		svc:       svc,
		stats:     stats,
		startedAt: startedAt,
		logger:    logger.Named("identity_handler"),
	}
}

// -----------------------------------------------------------------------------
// Request / response types
// -----------------------------------------------------------------------------

type registerRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// registerResponse is the only place the cleartext API key ever appears.
type registerResponse struct {
	AgentID string `json:"agent_id"`
	APIKey  string `json:"api_key"`
	Message string `json:"message"`
}

type heartbeatRequest struct {
	Status   string      `json:"status"`
	Metadata db.Document `json:"metadata"`
}

type heartbeatResponse struct {
	AgentID       string  `json:"agent_id"`
	Status        string  `json:"status"`
	LastHeartbeat *string `json:"last_heartbeat"`
}

type statsResponse struct {
	AgentID          string `json:"agent_id"`
	Name             string `json:"name"`
	Status           string `json:"status"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
	MemoryKeys       int64  `json:"memory_keys"`
	SharedMemoryKeys int64  `json:"shared_memory_keys"`
	ActiveWebhooks   int64  `json:"active_webhooks"`
	ActiveSchedules  int64  `json:"active_schedules"`
	PendingJobs      int64  `json:"pending_jobs"`
	JobsCompleted    int64  `json:"jobs_completed"`
	MessagesReceived int64  `json:"messages_received"`
	UnreadMessages   int64  `json:"unread_messages"`
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// Register handles POST /v1/register.
// The body is optional; a bare POST registers an anonymous agent with the
// default name.
func (h *IdentityHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}

	agent, key, err := h.svc.Register(r.Context(), req.Name, req.Description)
	if err != nil {
		h.logger.Error("failed to register agent", zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, registerResponse{
		AgentID: agent.AgentID,
		APIKey:  key,
		Message: "Registration successful. Store your API key safely; it will not be shown again.",
	})
}

// Heartbeat handles POST /v1/heartbeat.
// The body is optional; an empty heartbeat just marks the agent online.
func (h *IdentityHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	agent := agentFromCtx(r.Context())

	var req heartbeatRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}

	updated, err := h.svc.Heartbeat(r.Context(), agent.AgentID, req.Status, req.Metadata)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to record heartbeat", zap.String("agent_id", agent.AgentID), zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, heartbeatResponse{
		AgentID:       updated.AgentID,
		Status:        updated.Status,
		LastHeartbeat: timePtrRFC3339(updated.LastHeartbeat),
	})
}

// Stats handles GET /v1/stats.
// Everything except shared_memory_keys is scoped to the calling agent; the
// shared pool is a single global count since every agent can read all of it.
func (h *IdentityHandler) Stats(w http.ResponseWriter, r *http.Request) {
	agent := agentFromCtx(r.Context())

	resp, err := h.collectStats(r.Context(), agent.AgentID)
	if err != nil {
		h.logger.Error("failed to collect stats", zap.String("agent_id", agent.AgentID), zap.Error(err))
		ErrInternal(w)
		return
	}

	resp.AgentID = agent.AgentID
	resp.Name = agent.Name
	resp.Status = agent.Status
	resp.UptimeSeconds = int64(time.Since(h.startedAt).Seconds())

	Ok(w, resp)
}

// -----------------------------------------------------------------------------
// Internal helpers
// -----------------------------------------------------------------------------

// collectStats gathers the count columns of the stats response. The counts are
// independent reads, so the first failing one aborts the rollup.
func (h *IdentityHandler) collectStats(ctx context.Context, agentID string) (*statsResponse, error) {
	resp := &statsResponse{}
	var err error

	if resp.MemoryKeys, err = h.stats.Memory.CountForAgent(ctx, agentID); err != nil {
		return nil, err
	}
	if resp.SharedMemoryKeys, err = h.stats.Shared.Count(ctx); err != nil {
		return nil, err
	}
	if resp.ActiveWebhooks, err = h.stats.Webhooks.CountActiveForAgent(ctx, agentID); err != nil {
		return nil, err
	}
	if resp.ActiveSchedules, err = h.stats.Schedules.CountEnabledForAgent(ctx, agentID); err != nil {
		return nil, err
	}
	if resp.PendingJobs, err = h.stats.Jobs.CountForAgent(ctx, agentID, db.JobStatusPending); err != nil {
		return nil, err
	}
	if resp.JobsCompleted, err = h.stats.Jobs.CountForAgent(ctx, agentID, db.JobStatusCompleted); err != nil {
		return nil, err
	}
	if resp.MessagesReceived, err = h.stats.Messages.CountReceived(ctx, agentID); err != nil {
		return nil, err
	}
	if resp.UnreadMessages, err = h.stats.Messages.CountUnread(ctx, agentID); err != nil {
		return nil, err
	}

	return resp, nil
}
