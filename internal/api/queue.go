package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/D0NMEGA/MoltGrid/internal/db"
	"github.com/D0NMEGA/MoltGrid/internal/fanout"
	"github.com/D0NMEGA/MoltGrid/internal/metrics"
	"github.com/D0NMEGA/MoltGrid/internal/repositories"
)

// Defaults applied when a submit or schedule creation omits the field.
const (
	defaultQueueName   = "default"
	defaultPriority    = 5
	defaultMaxAttempts = 3
)

// QueueHandler serves the priority job queue. Submitters own their jobs for
// listing and events; claimers may be any agent working the named queue.
type QueueHandler struct {
	jobs       repositories.JobRepository
	events     *fanout.Service
	visibility time.Duration
	logger     *zap.Logger
}

// NewQueueHandler creates a new QueueHandler.
func NewQueueHandler(jobs repositories.JobRepository, events *fanout.Service, visibility time.Duration, logger *zap.Logger) *QueueHandler {
	return &QueueHandler{
		jobs:       jobs,
		events:     events,
		visibility: visibility,
		logger:     logger.Named("queue_handler"),
	}
}

// -----------------------------------------------------------------------------
// Request / response types
// -----------------------------------------------------------------------------

type submitJobRequest struct {
	Payload     string `json:"payload"`
	QueueName   string `json:"queue_name"`
	Priority    *int   `json:"priority"`
	MaxAttempts *int   `json:"max_attempts"`
}

type jobResponse struct {
	JobID              string  `json:"job_id"`
	AgentID            string  `json:"agent_id"`
	QueueName          string  `json:"queue_name"`
	Payload            string  `json:"payload"`
	Priority           int     `json:"priority"`
	Status             string  `json:"status"`
	Attempts           int     `json:"attempts"`
	MaxAttempts        int     `json:"max_attempts"`
	ClaimedBy          string  `json:"claimed_by,omitempty"`
	ClaimedAt          *string `json:"claimed_at"`
	VisibilityDeadline *string `json:"visibility_deadline"`
	CompletedAt        *string `json:"completed_at"`
	Result             string  `json:"result,omitempty"`
	Error              string  `json:"error,omitempty"`
	CreatedAt          string  `json:"created_at"`
	UpdatedAt          string  `json:"updated_at"`
}

type listJobsResponse struct {
	Jobs  []jobResponse `json:"jobs"`
	Count int           `json:"count"`
}

func jobToResponse(j *db.Job) jobResponse {
	return jobResponse{
		JobID:              j.JobID,
		AgentID:            j.AgentID,
		QueueName:          j.QueueName,
		Payload:            j.Payload,
		Priority:           j.Priority,
		Status:             j.Status,
		Attempts:           j.Attempts,
		MaxAttempts:        j.MaxAttempts,
		ClaimedBy:          j.ClaimedBy,
		ClaimedAt:          timePtrRFC3339(j.ClaimedAt),
		VisibilityDeadline: timePtrRFC3339(j.VisibilityDeadline),
		CompletedAt:        timePtrRFC3339(j.CompletedAt),
		Result:             j.Result,
		Error:              j.Error,
		CreatedAt:          timeRFC3339(j.CreatedAt),
		UpdatedAt:          timeRFC3339(j.UpdatedAt),
	}
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// Submit handles POST /v1/queue/submit.
func (h *QueueHandler) Submit(w http.ResponseWriter, r *http.Request) {
	agent := agentFromCtx(r.Context())

	var req submitJobRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	job := &db.Job{
		AgentID:     agent.AgentID,
		QueueName:   req.QueueName,
		Payload:     req.Payload,
		Priority:    defaultPriority,
		Status:      db.JobStatusPending,
		MaxAttempts: defaultMaxAttempts,
	}
	if job.QueueName == "" {
		job.QueueName = defaultQueueName
	}
	if req.Priority != nil {
		job.Priority = *req.Priority
	}
	if req.MaxAttempts != nil {
		if *req.MaxAttempts < 1 {
			ErrBadRequest(w, "max_attempts must be at least 1")
			return
		}
		job.MaxAttempts = *req.MaxAttempts
	}

	if err := h.jobs.Create(r.Context(), job); err != nil {
		h.logger.Error("failed to submit job", zap.String("agent_id", agent.AgentID), zap.Error(err))
		ErrInternal(w)
		return
	}

	metrics.JobsSubmittedTotal.Inc()
	Ok(w, jobToResponse(job))
}

// Claim handles POST /v1/queue/claim.
// With a queue_name query parameter any agent's pending jobs in that queue
// are claimable; without one the caller works through its own submissions.
// An empty queue is a 200 with {"status":"empty"}, not an error.
func (h *QueueHandler) Claim(w http.ResponseWriter, r *http.Request) {
	agent := agentFromCtx(r.Context())
	queueName := r.URL.Query().Get("queue_name")

	job, err := h.jobs.Claim(r.Context(), agent.AgentID, queueName, h.visibility)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			Ok(w, map[string]string{"status": "empty"})
			return
		}
		h.logger.Error("failed to claim job", zap.String("agent_id", agent.AgentID), zap.Error(err))
		ErrInternal(w)
		return
	}

	metrics.JobsClaimedTotal.Inc()
	Ok(w, jobToResponse(job))
}

// List handles GET /v1/queue.
// Scoped to jobs the caller submitted, with optional queue_name and status
// filters.
func (h *QueueHandler) List(w http.ResponseWriter, r *http.Request) {
	agent := agentFromCtx(r.Context())
	queueName := r.URL.Query().Get("queue_name")
	status := r.URL.Query().Get("status")

	jobs, err := h.jobs.List(r.Context(), agent.AgentID, queueName, status)
	if err != nil {
		h.logger.Error("failed to list jobs", zap.String("agent_id", agent.AgentID), zap.Error(err))
		ErrInternal(w)
		return
	}

	h.writeJobList(w, jobs)
}

// DeadLetter handles GET /v1/queue/dead-letter.
func (h *QueueHandler) DeadLetter(w http.ResponseWriter, r *http.Request) {
	agent := agentFromCtx(r.Context())
	queueName := r.URL.Query().Get("queue_name")

	jobs, err := h.jobs.ListDead(r.Context(), agent.AgentID, queueName)
	if err != nil {
		h.logger.Error("failed to list dead letter", zap.String("agent_id", agent.AgentID), zap.Error(err))
		ErrInternal(w)
		return
	}

	h.writeJobList(w, jobs)
}

// Get handles GET /v1/queue/{job_id}.
// Only the submitter can read a job's state.
func (h *QueueHandler) Get(w http.ResponseWriter, r *http.Request) {
	agent := agentFromCtx(r.Context())
	jobID := chi.URLParam(r, "job_id")

	job, err := h.jobs.GetForAgent(r.Context(), jobID, agent.AgentID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to get job", zap.String("job_id", jobID), zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, jobToResponse(job))
}

// Complete handles POST /v1/queue/{job_id}/complete.
// The result travels as a query parameter. Only the current claimer can
// complete, and the submitter's job.completed webhooks fire afterwards.
func (h *QueueHandler) Complete(w http.ResponseWriter, r *http.Request) {
	agent := agentFromCtx(r.Context())
	jobID := chi.URLParam(r, "job_id")
	result := r.URL.Query().Get("result")

	job, err := h.jobs.Complete(r.Context(), jobID, agent.AgentID, result)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to complete job", zap.String("job_id", jobID), zap.Error(err))
		ErrInternal(w)
		return
	}

	metrics.JobsCompletedTotal.Inc()
	h.events.JobCompleted(r.Context(), job)
	Ok(w, jobToResponse(job))
}

// Fail handles POST /v1/queue/{job_id}/fail.
// The reason travels as a query parameter. A job with attempts left returns
// to pending; a spent one goes dead. Either way job.failed fires for the
// submitter with the distinction in the body.
func (h *QueueHandler) Fail(w http.ResponseWriter, r *http.Request) {
	agent := agentFromCtx(r.Context())
	jobID := chi.URLParam(r, "job_id")
	reason := r.URL.Query().Get("reason")

	job, willRetry, err := h.jobs.Fail(r.Context(), jobID, agent.AgentID, reason)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to fail job", zap.String("job_id", jobID), zap.Error(err))
		ErrInternal(w)
		return
	}

	outcome := "dead"
	if willRetry {
		outcome = "retry"
	}
	metrics.JobsFailedTotal.WithLabelValues(outcome).Inc()
	h.events.JobFailed(r.Context(), job, willRetry)
	Ok(w, jobToResponse(job))
}

// Replay handles POST /v1/queue/{job_id}/replay.
// Resurrects one of the caller's dead jobs with a fresh attempt budget.
// Emits no event.
func (h *QueueHandler) Replay(w http.ResponseWriter, r *http.Request) {
	agent := agentFromCtx(r.Context())
	jobID := chi.URLParam(r, "job_id")

	job, err := h.jobs.Replay(r.Context(), jobID, agent.AgentID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to replay job", zap.String("job_id", jobID), zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, jobToResponse(job))
}

// -----------------------------------------------------------------------------
// Internal helpers
// -----------------------------------------------------------------------------

func (h *QueueHandler) writeJobList(w http.ResponseWriter, jobs []db.Job) {
	items := make([]jobResponse, len(jobs))
	for i := range jobs {
		items[i] = jobToResponse(&jobs[i])
	}
	Ok(w, listJobsResponse{Jobs: items, Count: len(items)})
}
