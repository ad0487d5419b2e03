package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/D0NMEGA/MoltGrid/internal/db"
	"github.com/D0NMEGA/MoltGrid/internal/repositories"
	"github.com/D0NMEGA/MoltGrid/internal/scheduler"
)

// ScheduleHandler manages cron-driven job templates. The scheduler tick in
// internal/scheduler reads the same table and turns due tasks into queue jobs.
type ScheduleHandler struct {
	schedules repositories.ScheduleRepository
	logger    *zap.Logger
}

// NewScheduleHandler creates a new ScheduleHandler.
func NewScheduleHandler(schedules repositories.ScheduleRepository, logger *zap.Logger) *ScheduleHandler {
	return &ScheduleHandler{
		schedules: schedules,
		logger:    logger.Named("schedule_handler"),
	}
}

// -----------------------------------------------------------------------------
// Request / response types
// -----------------------------------------------------------------------------

type createScheduleRequest struct {
	CronExpr    string `json:"cron_expr"`
	Payload     string `json:"payload"`
	QueueName   string `json:"queue_name"`
	Priority    *int   `json:"priority"`
	MaxAttempts *int   `json:"max_attempts"`
}

type scheduleResponse struct {
	TaskID      string  `json:"task_id"`
	CronExpr    string  `json:"cron_expr"`
	Payload     string  `json:"payload"`
	QueueName   string  `json:"queue_name"`
	Priority    int     `json:"priority"`
	MaxAttempts int     `json:"max_attempts"`
	Enabled     bool    `json:"enabled"`
	NextRunAt   string  `json:"next_run_at"`
	LastRunAt   *string `json:"last_run_at"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

type listSchedulesResponse struct {
	Schedules []scheduleResponse `json:"schedules"`
	Count     int                `json:"count"`
}

func scheduleToResponse(t *db.ScheduledTask) scheduleResponse {
	return scheduleResponse{
		TaskID:      t.TaskID,
		CronExpr:    t.CronExpr,
		Payload:     t.Payload,
		QueueName:   t.QueueName,
		Priority:    t.Priority,
		MaxAttempts: t.MaxAttempts,
		Enabled:     t.Enabled,
		NextRunAt:   timeRFC3339(t.NextRunAt),
		LastRunAt:   timePtrRFC3339(t.LastRunAt),
		CreatedAt:   timeRFC3339(t.CreatedAt),
		UpdatedAt:   timeRFC3339(t.UpdatedAt),
	}
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// Create handles POST /v1/schedules.
// Validates the 5-field cron expression and seeds next_run_at with the first
// future match. New tasks start enabled.
func (h *ScheduleHandler) Create(w http.ResponseWriter, r *http.Request) {
	agent := agentFromCtx(r.Context())

	var req createScheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.CronExpr == "" {
		ErrBadRequest(w, "cron_expr is required")
		return
	}

	next, err := scheduler.NextRun(req.CronExpr, time.Now().UTC())
	if err != nil {
		ErrBadRequest(w, "invalid cron expression")
		return
	}

	task := &db.ScheduledTask{
		AgentID:     agent.AgentID,
		CronExpr:    req.CronExpr,
		Payload:     req.Payload,
		QueueName:   req.QueueName,
		Priority:    defaultPriority,
		MaxAttempts: defaultMaxAttempts,
		Enabled:     true,
		NextRunAt:   next,
	}
	if task.QueueName == "" {
		task.QueueName = defaultQueueName
	}
	if req.Priority != nil {
		task.Priority = *req.Priority
	}
	if req.MaxAttempts != nil {
		if *req.MaxAttempts < 1 {
			ErrBadRequest(w, "max_attempts must be at least 1")
			return
		}
		task.MaxAttempts = *req.MaxAttempts
	}

	if err := h.schedules.Create(r.Context(), task); err != nil {
		h.logger.Error("failed to create schedule", zap.String("agent_id", agent.AgentID), zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, scheduleToResponse(task))
}

// List handles GET /v1/schedules.
func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	agent := agentFromCtx(r.Context())

	tasks, err := h.schedules.ListForAgent(r.Context(), agent.AgentID)
	if err != nil {
		h.logger.Error("failed to list schedules", zap.String("agent_id", agent.AgentID), zap.Error(err))
		ErrInternal(w)
		return
	}

	items := make([]scheduleResponse, len(tasks))
	for i := range tasks {
		items[i] = scheduleToResponse(&tasks[i])
	}
	Ok(w, listSchedulesResponse{Schedules: items, Count: len(items)})
}

// Get handles GET /v1/schedules/{task_id}.
func (h *ScheduleHandler) Get(w http.ResponseWriter, r *http.Request) {
	agent := agentFromCtx(r.Context())
	taskID := chi.URLParam(r, "task_id")

	task, err := h.schedules.GetForAgent(r.Context(), taskID, agent.AgentID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to get schedule", zap.String("task_id", taskID), zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, scheduleToResponse(task))
}

// Toggle handles PATCH /v1/schedules/{task_id}.
// The enabled flag travels as a query parameter. Re-enabling recomputes
// next_run_at from now, so a task disabled past its fire time does not fire
// immediately for every instant it sat disabled.
func (h *ScheduleHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	agent := agentFromCtx(r.Context())
	taskID := chi.URLParam(r, "task_id")

	raw := r.URL.Query().Get("enabled")
	if raw == "" {
		ErrBadRequest(w, "enabled query parameter is required")
		return
	}
	enabled, err := strconv.ParseBool(raw)
	if err != nil {
		ErrBadRequest(w, "enabled must be a boolean")
		return
	}

	var nextRunAt *time.Time
	if enabled {
		task, err := h.schedules.GetForAgent(r.Context(), taskID, agent.AgentID)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				ErrNotFound(w)
				return
			}
			h.logger.Error("failed to get schedule", zap.String("task_id", taskID), zap.Error(err))
			ErrInternal(w)
			return
		}
		next, err := scheduler.NextRun(task.CronExpr, time.Now().UTC())
		if err != nil {
			h.logger.Error("stored cron expression no longer parses",
				zap.String("task_id", taskID),
				zap.String("cron_expr", task.CronExpr),
				zap.Error(err),
			)
			ErrInternal(w)
			return
		}
		nextRunAt = &next
	}

	updated, err := h.schedules.SetEnabled(r.Context(), taskID, agent.AgentID, enabled, nextRunAt)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to toggle schedule", zap.String("task_id", taskID), zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, scheduleToResponse(updated))
}

// Delete handles DELETE /v1/schedules/{task_id}.
func (h *ScheduleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	agent := agentFromCtx(r.Context())
	taskID := chi.URLParam(r, "task_id")

	if err := h.schedules.Delete(r.Context(), taskID, agent.AgentID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to delete schedule", zap.String("task_id", taskID), zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, map[string]string{"deleted": taskID})
}
