package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/D0NMEGA/MoltGrid/internal/db"
)

type gormAgentRepository struct {
	db *gorm.DB
}

// NewAgentRepository creates a GORM-backed agent repository.
func NewAgentRepository(gdb *gorm.DB) AgentRepository {
	return &gormAgentRepository{db: gdb}
}

func (r *gormAgentRepository) Create(ctx context.Context, agent *db.Agent) error {
	if err := r.db.WithContext(ctx).Create(agent).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrConflict
		}
		return fmt.Errorf("agents: create: %w", err)
	}
	return nil
}

func (r *gormAgentRepository) GetByID(ctx context.Context, agentID string) (*db.Agent, error) {
	var agent db.Agent
	err := r.db.WithContext(ctx).
		Where("agent_id = ?", agentID).
		First(&agent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("agents: get %s: %w", agentID, err)
	}
	return &agent, nil
}

func (r *gormAgentRepository) GetByKeyHash(ctx context.Context, hash string) (*db.Agent, error) {
	var agent db.Agent
	err := r.db.WithContext(ctx).
		Where("api_key_hash = ?", hash).
		First(&agent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("agents: get by key hash: %w", err)
	}
	return &agent, nil
}

func (r *gormAgentRepository) Update(ctx context.Context, agent *db.Agent) error {
	result := r.db.WithContext(ctx).
		Model(&db.Agent{}).
		Where("agent_id = ?", agent.AgentID).
		Updates(map[string]interface{}{
			"name":         agent.Name,
			"description":  agent.Description,
			"capabilities": agent.Capabilities,
			"public":       agent.Public,
			"metadata":     agent.Metadata,
			"updated_at":   time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("agents: update %s: %w", agent.AgentID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormAgentRepository) UpdateHeartbeat(ctx context.Context, agentID, status string, metadata db.Document, at time.Time) error {
	updates := map[string]interface{}{
		"status":         status,
		"last_heartbeat": at,
		"updated_at":     at,
	}
	if metadata != nil {
		updates["metadata"] = metadata
	}
	result := r.db.WithContext(ctx).
		Model(&db.Agent{}).
		Where("agent_id = ?", agentID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("agents: heartbeat %s: %w", agentID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormAgentRepository) Exists(ctx context.Context, agentID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&db.Agent{}).
		Where("agent_id = ?", agentID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("agents: exists %s: %w", agentID, err)
	}
	return count > 0, nil
}

func (r *gormAgentRepository) ListPublic(ctx context.Context, capability string) ([]db.Agent, error) {
	var agents []db.Agent
	err := r.db.WithContext(ctx).
		Where("public = ?", true).
		Order("name ASC, agent_id ASC").
		Find(&agents).Error
	if err != nil {
		return nil, fmt.Errorf("agents: list public: %w", err)
	}
	if capability == "" {
		return agents, nil
	}
	// Capability match is done here rather than in SQL: the column holds a
	// JSON array and LIKE patterns over it would false-positive on
	// substrings.
	filtered := agents[:0]
	for _, a := range agents {
		if a.Capabilities.Contains(capability) {
			filtered = append(filtered, a)
		}
	}
	return filtered, nil
}
