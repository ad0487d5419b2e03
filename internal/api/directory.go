package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/D0NMEGA/MoltGrid/internal/db"
	"github.com/D0NMEGA/MoltGrid/internal/repositories"
)

// DirectoryHandler serves agent discovery. Listing is world-readable and only
// ever exposes agents that opted in with public=true; the /me pair lets the
// caller read and edit its own profile.
type DirectoryHandler struct {
	agents repositories.AgentRepository
	logger *zap.Logger
}

// NewDirectoryHandler creates a new DirectoryHandler.
func NewDirectoryHandler(agents repositories.AgentRepository, logger *zap.Logger) *DirectoryHandler {
	return &DirectoryHandler{
		agents: agents,
		logger: logger.Named("directory_handler"),
	}
}

// -----------------------------------------------------------------------------
// Request / response types
// -----------------------------------------------------------------------------

// updateProfileRequest is a partial update: nil fields keep their current
// value, so `{"public": false}` does not wipe the description.
type updateProfileRequest struct {
	Description  *string   `json:"description"`
	Capabilities *[]string `json:"capabilities"`
	Public       *bool     `json:"public"`
}

type agentProfileResponse struct {
	AgentID       string   `json:"agent_id"`
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	Capabilities  []string `json:"capabilities"`
	Public        bool     `json:"public"`
	Status        string   `json:"status"`
	LastHeartbeat *string  `json:"last_heartbeat"`
	CreatedAt     string   `json:"created_at"`
	UpdatedAt     string   `json:"updated_at"`
}

type listAgentsResponse struct {
	Agents []agentProfileResponse `json:"agents"`
	Count  int                    `json:"count"`
}

func agentToProfileResponse(a *db.Agent) agentProfileResponse {
	capabilities := a.Capabilities
	if capabilities == nil {
		capabilities = db.StringList{}
	}
	return agentProfileResponse{
		AgentID:       a.AgentID,
		Name:          a.Name,
		Description:   a.Description,
		Capabilities:  capabilities,
		Public:        a.Public,
		Status:        a.Status,
		LastHeartbeat: timePtrRFC3339(a.LastHeartbeat),
		CreatedAt:     timeRFC3339(a.CreatedAt),
		UpdatedAt:     timeRFC3339(a.UpdatedAt),
	}
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// List handles GET /v1/directory.
// No authentication required. An optional capability query parameter narrows
// the listing to agents advertising it.
func (h *DirectoryHandler) List(w http.ResponseWriter, r *http.Request) {
	capability := r.URL.Query().Get("capability")

	agents, err := h.agents.ListPublic(r.Context(), capability)
	if err != nil {
		h.logger.Error("failed to list directory", zap.Error(err))
		ErrInternal(w)
		return
	}

	items := make([]agentProfileResponse, len(agents))
	for i := range agents {
		items[i] = agentToProfileResponse(&agents[i])
	}
	Ok(w, listAgentsResponse{Agents: items, Count: len(items)})
}

// Me handles GET /v1/directory/me.
func (h *DirectoryHandler) Me(w http.ResponseWriter, r *http.Request) {
	agent := agentFromCtx(r.Context())
	Ok(w, agentToProfileResponse(agent))
}

// UpdateMe handles PUT /v1/directory/me.
// Applies the non-nil request fields to the caller's profile and returns the
// stored result.
func (h *DirectoryHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	agent := agentFromCtx(r.Context())

	var req updateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.Description != nil {
		agent.Description = *req.Description
	}
	if req.Capabilities != nil {
		agent.Capabilities = db.StringList(*req.Capabilities)
	}
	if req.Public != nil {
		agent.Public = *req.Public
	}

	if err := h.agents.Update(r.Context(), agent); err != nil {
		h.logger.Error("failed to update profile", zap.String("agent_id", agent.AgentID), zap.Error(err))
		ErrInternal(w)
		return
	}

	// Re-read so updated_at reflects this write.
	updated, err := h.agents.GetByID(r.Context(), agent.AgentID)
	if err != nil {
		h.logger.Error("failed to reload profile", zap.String("agent_id", agent.AgentID), zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, agentToProfileResponse(updated))
}
