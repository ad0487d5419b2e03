package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/D0NMEGA/MoltGrid/internal/db"
	"github.com/D0NMEGA/MoltGrid/internal/repositories"
)

// minTTLSeconds is the shortest accepted expiry for memory writes.
const minTTLSeconds = 60

// MemoryHandler serves the per-agent private key-value store. Every row it
// touches is scoped to the authenticated agent.
type MemoryHandler struct {
	repo   repositories.MemoryRepository
	logger *zap.Logger
}

// NewMemoryHandler creates a new MemoryHandler.
func NewMemoryHandler(repo repositories.MemoryRepository, logger *zap.Logger) *MemoryHandler {
	return &MemoryHandler{
		repo:   repo,
		logger: logger.Named("memory_handler"),
	}
}

// -----------------------------------------------------------------------------
// Request / response types
// -----------------------------------------------------------------------------

type setMemoryRequest struct {
	Key        string `json:"key"`
	Value      string `json:"value"`
	Namespace  string `json:"namespace"`
	TTLSeconds *int   `json:"ttl_seconds"`
}

type memoryEntryResponse struct {
	Key       string  `json:"key"`
	Value     string  `json:"value"`
	Namespace string  `json:"namespace"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
	ExpiresAt *string `json:"expires_at"`
}

type listMemoryResponse struct {
	Entries []memoryEntryResponse `json:"entries"`
	Count   int                   `json:"count"`
}

func memoryEntryToResponse(e *db.MemoryEntry) memoryEntryResponse {
	return memoryEntryResponse{
		Key:       e.Key,
		Value:     e.Value,
		Namespace: e.Namespace,
		CreatedAt: timeRFC3339(e.CreatedAt),
		UpdatedAt: timeRFC3339(e.UpdatedAt),
		ExpiresAt: timePtrRFC3339(e.ExpiresAt),
	}
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// Set handles POST /v1/memory.
// Upserts a key in the caller's store: an existing live row keeps created_at
// and refreshes everything else.
func (h *MemoryHandler) Set(w http.ResponseWriter, r *http.Request) {
	agent := agentFromCtx(r.Context())

	var req setMemoryRequest
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

	entry := &db.MemoryEntry{
		AgentID:   agent.AgentID,
		Namespace: namespaceOrDefault(req.Namespace),
		Key:       req.Key,
		Value:     req.Value,
		ExpiresAt: expiryFromTTL(req.TTLSeconds),
	}

	stored, err := h.repo.Set(r.Context(), entry)
	if err != nil {
		h.logger.Error("failed to set memory entry",
			zap.String("agent_id", agent.AgentID),
			zap.String("key", req.Key),
			zap.Error(err),
		)
		ErrInternal(w)
		return
	}

	Ok(w, memoryEntryToResponse(stored))
}

// Get handles GET /v1/memory/{key}.
func (h *MemoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	agent := agentFromCtx(r.Context())
	key := chi.URLParam(r, "key")
	namespace := namespaceOrDefault(r.URL.Query().Get("namespace"))

	entry, err := h.repo.Get(r.Context(), agent.AgentID, namespace, key)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to get memory entry", zap.String("key", key), zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, memoryEntryToResponse(entry))
}

// List handles GET /v1/memory.
// Lists the caller's keys in one namespace, optionally restricted to a key
// prefix.
func (h *MemoryHandler) List(w http.ResponseWriter, r *http.Request) {
	agent := agentFromCtx(r.Context())
	namespace := namespaceOrDefault(r.URL.Query().Get("namespace"))
	prefix := r.URL.Query().Get("prefix")

	entries, err := h.repo.List(r.Context(), agent.AgentID, namespace, prefix)
	if err != nil {
		h.logger.Error("failed to list memory entries", zap.String("agent_id", agent.AgentID), zap.Error(err))
		ErrInternal(w)
		return
	}

	items := make([]memoryEntryResponse, len(entries))
	for i := range entries {
		items[i] = memoryEntryToResponse(&entries[i])
	}
	Ok(w, listMemoryResponse{Entries: items, Count: len(items)})
}

// Delete handles DELETE /v1/memory/{key}.
// Deleting an absent or already expired key is a 404.
func (h *MemoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	agent := agentFromCtx(r.Context())
	key := chi.URLParam(r, "key")
	namespace := namespaceOrDefault(r.URL.Query().Get("namespace"))

	if err := h.repo.Delete(r.Context(), agent.AgentID, namespace, key); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to delete memory entry", zap.String("key", key), zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, map[string]string{"deleted": key, "namespace": namespace})
}

// -----------------------------------------------------------------------------
// Internal helpers
// -----------------------------------------------------------------------------

func namespaceOrDefault(namespace string) string {
	if namespace == "" {
		return db.DefaultNamespace
	}
	return namespace
}

// expiryFromTTL converts an optional TTL into an absolute deadline. Callers
// validate the floor before this point.
func expiryFromTTL(ttlSeconds *int) *time.Time {
	if ttlSeconds == nil {
		return nil
	}
	expires := time.Now().UTC().Add(time.Duration(*ttlSeconds) * time.Second)
	return &expires
}
