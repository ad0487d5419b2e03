// Package fanout delivers MoltGrid events to the agents they concern, over
// registered webhooks and live push sockets.
package fanout

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/D0NMEGA/MoltGrid/internal/db"
	"github.com/D0NMEGA/MoltGrid/internal/repositories"
)

// Pusher delivers an event payload to every live socket of an agent. The
// websocket hub implements it; a nil Pusher disables socket push.
type Pusher interface {
	Push(agentID string, payload interface{})
}

// envelope is the JSON body POSTed to webhook URLs.
type envelope struct {
	Event     string                 `json:"event"`
	AgentID   string                 `json:"agent_id"`
	Timestamp string                 `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Service fans events out to their audience. Callers use the typed methods
// (MessageReceived, JobCompleted, JobFailed) so event payloads stay
// consistent across the codebase. Fan-out never fails the calling operation:
// errors are logged and counted at this boundary.
type Service struct {
	webhooks   repositories.WebhookRepository
	hub        Pusher
	dispatcher *dispatcher
	log        *zap.Logger
}

// Config holds the dependencies required to build a fanout Service.
type Config struct {
	Webhooks repositories.WebhookRepository
	Hub      Pusher
	Workers  int
	Logger   *zap.Logger
}

func NewService(cfg Config) *Service {
	log := cfg.Logger.Named("fanout")
	return &Service{
		webhooks:   cfg.Webhooks,
		hub:        cfg.Hub,
		dispatcher: newDispatcher(cfg.Workers, log),
		log:        log,
	}
}

// SetHub wires the push hub after construction. The hub needs the relay
// service, which needs this service, so the cycle is closed here.
func (s *Service) SetHub(hub Pusher) {
	s.hub = hub
}

// Shutdown drains queued deliveries and stops the worker pool.
func (s *Service) Shutdown() {
	s.dispatcher.shutdown()
}

// MessageReceived announces a freshly persisted message to its recipient.
func (s *Service) MessageReceived(ctx context.Context, msg *db.Message) {
	createdAt := msg.CreatedAt.UTC().Format(time.RFC3339)
	if s.hub != nil {
		s.hub.Push(msg.ToAgent, map[string]interface{}{
			"event":      EventMessageReceived,
			"message_id": msg.MessageID,
			"from_agent": msg.FromAgent,
			"channel":    msg.Channel,
			"payload":    msg.Payload,
			"created_at": createdAt,
		})
	}
	s.emit(ctx, msg.ToAgent, EventMessageReceived, map[string]interface{}{
		"message_id": msg.MessageID,
		"from_agent": msg.FromAgent,
		"channel":    msg.Channel,
		"payload":    msg.Payload,
		"created_at": createdAt,
	})
}

// JobCompleted announces a finished job to its submitter.
func (s *Service) JobCompleted(ctx context.Context, job *db.Job) {
	data := map[string]interface{}{
		"job_id":     job.JobID,
		"queue_name": job.QueueName,
		"result":     job.Result,
		"claimed_by": job.ClaimedBy,
	}
	if job.CompletedAt != nil {
		data["completed_at"] = job.CompletedAt.UTC().Format(time.RFC3339)
	}
	s.emit(ctx, job.AgentID, EventJobCompleted, data)
}

// JobFailed announces a failed attempt to the job's submitter. willRetry
// distinguishes a requeue from the move to the dead letter queue.
func (s *Service) JobFailed(ctx context.Context, job *db.Job, willRetry bool) {
	s.emit(ctx, job.AgentID, EventJobFailed, map[string]interface{}{
		"job_id":     job.JobID,
		"queue_name": job.QueueName,
		"error":      job.Error,
		"attempts":   job.Attempts,
		"will_retry": willRetry,
	})
}

// emit queues one delivery per active matching webhook of the audience agent.
func (s *Service) emit(ctx context.Context, agentID, event string, data map[string]interface{}) {
	hooks, err := s.webhooks.ListActiveForEvent(ctx, agentID, event)
	if err != nil {
		s.log.Warn("webhook lookup failed",
			zap.String("agent_id", agentID),
			zap.String("event", event),
			zap.Error(err))
		return
	}
	if len(hooks) == 0 {
		return
	}

	body, err := json.Marshal(envelope{
		Event:     event,
		AgentID:   agentID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	})
	if err != nil {
		s.log.Error("event marshal failed",
			zap.String("event", event),
			zap.Error(err))
		return
	}

	for _, wh := range hooks {
		s.dispatcher.enqueue(delivery{
			webhookID: wh.WebhookID,
			url:       wh.URL,
			secret:    wh.Secret,
			event:     event,
			body:      body,
		})
	}
}
