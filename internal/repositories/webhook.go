package repositories

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/D0NMEGA/MoltGrid/internal/db"
)

type gormWebhookRepository struct {
	db *gorm.DB
}

// NewWebhookRepository creates a GORM-backed webhook repository.
func NewWebhookRepository(gdb *gorm.DB) WebhookRepository {
	return &gormWebhookRepository{db: gdb}
}

func (r *gormWebhookRepository) Create(ctx context.Context, webhook *db.Webhook) error {
	if err := r.db.WithContext(ctx).Create(webhook).Error; err != nil {
		return fmt.Errorf("webhooks: create: %w", err)
	}
	return nil
}

func (r *gormWebhookRepository) ListForAgent(ctx context.Context, agentID string) ([]db.Webhook, error) {
	var webhooks []db.Webhook
	err := r.db.WithContext(ctx).
		Where("agent_id = ?", agentID).
		Order("created_at DESC, webhook_id DESC").
		Find(&webhooks).Error
	if err != nil {
		return nil, fmt.Errorf("webhooks: list: %w", err)
	}
	return webhooks, nil
}

func (r *gormWebhookRepository) Delete(ctx context.Context, webhookID, agentID string) error {
	res := r.db.WithContext(ctx).
		Where("webhook_id = ? AND agent_id = ?", webhookID, agentID).
		Delete(&db.Webhook{})
	if res.Error != nil {
		return fmt.Errorf("webhooks: delete %s: %w", webhookID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormWebhookRepository) ListActiveForEvent(ctx context.Context, agentID, eventType string) ([]db.Webhook, error) {
	var webhooks []db.Webhook
	err := r.db.WithContext(ctx).
		Where("agent_id = ? AND active = ?", agentID, true).
		Find(&webhooks).Error
	if err != nil {
		return nil, fmt.Errorf("webhooks: list for event: %w", err)
	}
	// Subscription match happens here; event_types is a JSON array column.
	matched := webhooks[:0]
	for _, wh := range webhooks {
		if wh.EventTypes.Contains(eventType) {
			matched = append(matched, wh)
		}
	}
	return matched, nil
}

func (r *gormWebhookRepository) CountActive(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&db.Webhook{}).
		Where("active = ?", true).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("webhooks: count active: %w", err)
	}
	return count, nil
}

func (r *gormWebhookRepository) CountActiveForAgent(ctx context.Context, agentID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&db.Webhook{}).
		Where("agent_id = ? AND active = ?", agentID, true).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("webhooks: count active: %w", err)
	}
	return count, nil
}
