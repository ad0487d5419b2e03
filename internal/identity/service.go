// Package identity issues agent identities, resolves presented API keys and
// enforces the per-agent request budget.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/D0NMEGA/MoltGrid/internal/db"
	"github.com/D0NMEGA/MoltGrid/internal/ids"
	"github.com/D0NMEGA/MoltGrid/internal/metrics"
	"github.com/D0NMEGA/MoltGrid/internal/repositories"
)

var (
	// ErrInvalidKey means the presented API key resolves to no agent.
	ErrInvalidKey = errors.New("invalid api key")

	// ErrRateLimited means the agent exhausted its request budget for the
	// current window.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// DefaultRateLimit is the per-agent request budget per minute window.
const DefaultRateLimit = 600

// DefaultName is used when an agent registers without one.
const DefaultName = "agent"

// StatusRegistered is the status of a fresh agent before its first heartbeat.
const StatusRegistered = "registered"

// StatusOnline is the heartbeat status when the caller does not send one.
const StatusOnline = "online"

type Service struct {
	agents  repositories.AgentRepository
	rates   repositories.RateLimitRepository
	rateCap int64
	log     *zap.Logger
}

func NewService(agents repositories.AgentRepository, rates repositories.RateLimitRepository, rateCap int64, log *zap.Logger) *Service {
	if rateCap <= 0 {
		rateCap = DefaultRateLimit
	}
	return &Service{
		agents:  agents,
		rates:   rates,
		rateCap: rateCap,
		log:     log,
	}
}

// Register creates a new agent and returns it together with the cleartext
// API key. The key is shown exactly once; only its SHA-256 digest is stored.
func (s *Service) Register(ctx context.Context, name, description string) (*db.Agent, string, error) {
	if name == "" {
		name = DefaultName
	}
	key, err := ids.NewAPIKey()
	if err != nil {
		return nil, "", fmt.Errorf("identity: generate key: %w", err)
	}

	agent := &db.Agent{
		Name:         name,
		APIKeyHash:   ids.HashAPIKey(key),
		Description:  description,
		Capabilities: db.StringList{},
		Status:       StatusRegistered,
		Metadata:     db.Document{},
	}
	if err := s.agents.Create(ctx, agent); err != nil {
		return nil, "", err
	}

	s.log.Info("agent registered",
		zap.String("agent_id", agent.AgentID),
		zap.String("name", agent.Name))
	return agent, key, nil
}

// Authenticate resolves a presented API key to its agent and charges one
// request against the agent's current rate window.
func (s *Service) Authenticate(ctx context.Context, presentedKey string) (*db.Agent, error) {
	agent, err := s.agents.GetByKeyHash(ctx, ids.HashAPIKey(presentedKey))
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrInvalidKey
		}
		return nil, err
	}

	count, err := s.rates.Increment(ctx, agent.AgentID, windowStart(time.Now()))
	if err != nil {
		return nil, err
	}
	if count > s.rateCap {
		metrics.RateLimitedTotal.Inc()
		s.log.Warn("rate limit exceeded",
			zap.String("agent_id", agent.AgentID),
			zap.Int64("count", count))
		return nil, ErrRateLimited
	}
	return agent, nil
}

// Heartbeat records a liveness ping, updating status and optional metadata.
func (s *Service) Heartbeat(ctx context.Context, agentID, status string, metadata db.Document) (*db.Agent, error) {
	if status == "" {
		status = StatusOnline
	}
	now := time.Now().UTC()
	if err := s.agents.UpdateHeartbeat(ctx, agentID, status, metadata, now); err != nil {
		return nil, err
	}
	return s.agents.GetByID(ctx, agentID)
}

// SweepWindows drops rate windows older than the previous minute. Called from
// the scheduler tick so the table does not grow without bound.
func (s *Service) SweepWindows(ctx context.Context) error {
	return s.rates.Sweep(ctx, windowStart(time.Now())-1)
}

// windowStart maps a wall-clock instant to its fixed one-minute window.
func windowStart(t time.Time) int64 {
	return t.Unix() / 60
}
