// Package relay implements directed agent-to-agent messaging: persist to the
// recipient's inbox first, then announce over push channels.
package relay

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/D0NMEGA/MoltGrid/internal/db"
	"github.com/D0NMEGA/MoltGrid/internal/fanout"
	"github.com/D0NMEGA/MoltGrid/internal/metrics"
	"github.com/D0NMEGA/MoltGrid/internal/repositories"
)

// DefaultChannel is used when a sender does not name one.
const DefaultChannel = "default"

type Service struct {
	agents   repositories.AgentRepository
	messages repositories.MessageRepository
	events   *fanout.Service
	log      *zap.Logger
}

func NewService(agents repositories.AgentRepository, messages repositories.MessageRepository, events *fanout.Service, log *zap.Logger) *Service {
	return &Service{
		agents:   agents,
		messages: messages,
		events:   events,
		log:      log,
	}
}

// Send persists a message to the recipient's inbox and announces it. The
// message exists before any notification fires, so a crash between the two
// loses only the push, never the message. Unknown recipients are
// repositories.ErrNotFound.
func (s *Service) Send(ctx context.Context, fromAgent, toAgent, channel, payload string) (*db.Message, error) {
	if channel == "" {
		channel = DefaultChannel
	}

	ok, err := s.agents.Exists(ctx, toAgent)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, repositories.ErrNotFound
	}

	msg := &db.Message{
		FromAgent: fromAgent,
		ToAgent:   toAgent,
		Channel:   channel,
		Payload:   payload,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, err
	}

	metrics.MessagesSentTotal.Inc()
	s.log.Debug("message delivered",
		zap.String("message_id", msg.MessageID),
		zap.String("from_agent", fromAgent),
		zap.String("to_agent", toAgent),
		zap.String("channel", channel))

	s.events.MessageReceived(ctx, msg)
	return msg, nil
}

// Inbox returns the recipient's messages, oldest first.
func (s *Service) Inbox(ctx context.Context, toAgent, channel string, unreadOnly bool) ([]db.Message, error) {
	return s.messages.Inbox(ctx, toAgent, channel, unreadOnly)
}

// MarkRead acknowledges a message addressed to toAgent. Idempotent; the
// first read timestamp wins.
func (s *Service) MarkRead(ctx context.Context, messageID, toAgent string) error {
	return s.messages.MarkRead(ctx, messageID, toAgent, time.Now().UTC())
}
