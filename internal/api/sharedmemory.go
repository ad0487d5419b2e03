package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/D0NMEGA/MoltGrid/internal/db"
	"github.com/D0NMEGA/MoltGrid/internal/repositories"
)

// SharedMemoryHandler serves the cross-agent key-value pool: world-readable,
// owner-deletable. Writes keep the original owner so a later writer cannot
// hijack deletion rights.
type SharedMemoryHandler struct {
	repo   repositories.SharedMemoryRepository
	logger *zap.Logger
}

// NewSharedMemoryHandler creates a new SharedMemoryHandler.
func NewSharedMemoryHandler(repo repositories.SharedMemoryRepository, logger *zap.Logger) *SharedMemoryHandler {
	return &SharedMemoryHandler{
		repo:   repo,
		logger: logger.Named("shared_memory_handler"),
	}
}

// -----------------------------------------------------------------------------
// Request / response types
// -----------------------------------------------------------------------------

type setSharedMemoryRequest struct {
	Namespace   string `json:"namespace"`
	Key         string `json:"key"`
	Value       string `json:"value"`
	Description string `json:"description"`
	TTLSeconds  *int   `json:"ttl_seconds"`
}

type sharedEntryResponse struct {
	Namespace    string  `json:"namespace"`
	Key          string  `json:"key"`
	Value        string  `json:"value"`
	OwnerAgentID string  `json:"owner_agent_id"`
	Description  string  `json:"description"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
	ExpiresAt    *string `json:"expires_at"`
}

type listSharedResponse struct {
	Entries []sharedEntryResponse `json:"entries"`
	Count   int                   `json:"count"`
}

type listNamespacesResponse struct {
	Namespaces []string `json:"namespaces"`
	Count      int      `json:"count"`
}

func sharedEntryToResponse(e *db.SharedMemoryEntry) sharedEntryResponse {
	return sharedEntryResponse{
		Namespace:    e.Namespace,
		Key:          e.Key,
		Value:        e.Value,
		OwnerAgentID: e.OwnerAgentID,
		Description:  e.Description,
		CreatedAt:    timeRFC3339(e.CreatedAt),
		UpdatedAt:    timeRFC3339(e.UpdatedAt),
		ExpiresAt:    timePtrRFC3339(e.ExpiresAt),
	}
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// Set handles POST /v1/shared-memory.
// Anyone may write; an update to an existing live key keeps the original
// owner_agent_id.
func (h *SharedMemoryHandler) Set(w http.ResponseWriter, r *http.Request) {
	agent := agentFromCtx(r.Context())

	var req setSharedMemoryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Key == "" {
		ErrBadRequest(w, "key is required")
		return
	}
	if req.TTLSeconds != nil && *req.TTLSeconds < minTTLSeconds {
		ErrBadRequest(w, "ttl_seconds must be at least 60")
		return
	}

	entry := &db.SharedMemoryEntry{
		Namespace:    namespaceOrDefault(req.Namespace),
		Key:          req.Key,
		Value:        req.Value,
		OwnerAgentID: agent.AgentID,
		Description:  req.Description,
		ExpiresAt:    expiryFromTTL(req.TTLSeconds),
	}

	stored, err := h.repo.Set(r.Context(), entry)
	if err != nil {
		h.logger.Error("failed to set shared entry",
			zap.String("namespace", entry.Namespace),
			zap.String("key", req.Key),
			zap.Error(err),
		)
		ErrInternal(w)
		return
	}

	Ok(w, sharedEntryToResponse(stored))
}

// ListNamespaces handles GET /v1/shared-memory.
// Returns the distinct namespaces currently holding at least one live key.
func (h *SharedMemoryHandler) ListNamespaces(w http.ResponseWriter, r *http.Request) {
	namespaces, err := h.repo.ListNamespaces(r.Context())
	if err != nil {
		h.logger.Error("failed to list shared namespaces", zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, listNamespacesResponse{Namespaces: namespaces, Count: len(namespaces)})
}

// List handles GET /v1/shared-memory/{namespace}.
func (h *SharedMemoryHandler) List(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")
	prefix := r.URL.Query().Get("prefix")

	entries, err := h.repo.List(r.Context(), namespace, prefix)
	if err != nil {
		h.logger.Error("failed to list shared entries", zap.String("namespace", namespace), zap.Error(err))
		ErrInternal(w)
		return
	}

	items := make([]sharedEntryResponse, len(entries))
	for i := range entries {
		items[i] = sharedEntryToResponse(&entries[i])
	}
	Ok(w, listSharedResponse{Entries: items, Count: len(items)})
}

// Get handles GET /v1/shared-memory/{namespace}/{key}.
func (h *SharedMemoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")
	key := chi.URLParam(r, "key")

	entry, err := h.repo.Get(r.Context(), namespace, key)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to get shared entry", zap.String("key", key), zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, sharedEntryToResponse(entry))
}

// Delete handles DELETE /v1/shared-memory/{namespace}/{key}.
// Only the owner may delete; for anyone else the key simply does not exist.
func (h *SharedMemoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	agent := agentFromCtx(r.Context())
	namespace := chi.URLParam(r, "namespace")
	key := chi.URLParam(r, "key")

	if err := h.repo.Delete(r.Context(), namespace, key, agent.AgentID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to delete shared entry", zap.String("key", key), zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, map[string]string{"deleted": key, "namespace": namespace})
}
