package repositories

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/D0NMEGA/MoltGrid/internal/db"
)

type gormMessageRepository struct {
	db *gorm.DB
}

// NewMessageRepository creates a GORM-backed message repository.
func NewMessageRepository(gdb *gorm.DB) MessageRepository {
	return &gormMessageRepository{db: gdb}
}

func (r *gormMessageRepository) Create(ctx context.Context, message *db.Message) error {
	if err := r.db.WithContext(ctx).Create(message).Error; err != nil {
		return fmt.Errorf("messages: create: %w", err)
	}
	return nil
}

func (r *gormMessageRepository) Inbox(ctx context.Context, toAgent, channel string, unreadOnly bool) ([]db.Message, error) {
	var messages []db.Message
	q := r.db.WithContext(ctx).Where("to_agent = ?", toAgent)
	if channel != "" {
		q = q.Where("channel = ?", channel)
	}
	if unreadOnly {
		q = q.Where("read_at IS NULL")
	}
	err := q.Order("created_at ASC, message_id ASC").Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("messages: inbox %s: %w", toAgent, err)
	}
	return messages, nil
}

func (r *gormMessageRepository) MarkRead(ctx context.Context, messageID, toAgent string, at time.Time) error {
	// COALESCE keeps the first read timestamp, so repeated acks succeed
	// without moving it.
	result := r.db.WithContext(ctx).
		Model(&db.Message{}).
		Where("message_id = ? AND to_agent = ?", messageID, toAgent).
		Update("read_at", gorm.Expr("COALESCE(read_at, ?)", at))
	if result.Error != nil {
		return fmt.Errorf("messages: mark read %s: %w", messageID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormMessageRepository) CountReceived(ctx context.Context, toAgent string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&db.Message{}).
		Where("to_agent = ?", toAgent).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("messages: count received: %w", err)
	}
	return count, nil
}

func (r *gormMessageRepository) CountUnread(ctx context.Context, toAgent string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&db.Message{}).
		Where("to_agent = ? AND read_at IS NULL", toAgent).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("messages: count unread: %w", err)
	}
	return count, nil
}
