package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/D0NMEGA/MoltGrid/internal/db"
)

type gormMemoryRepository struct {
	db *gorm.DB
}

// NewMemoryRepository creates a GORM-backed private memory repository.
func NewMemoryRepository(gdb *gorm.DB) MemoryRepository {
	return &gormMemoryRepository{db: gdb}
}

func (r *gormMemoryRepository) Set(ctx context.Context, entry *db.MemoryEntry) (*db.MemoryEntry, error) {
	now := time.Now().UTC()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing db.MemoryEntry
		err := tx.Where("agent_id = ? AND namespace = ? AND key = ?", entry.AgentID, entry.Namespace, entry.Key).
			First(&existing).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err == nil {
			if !expired(existing.ExpiresAt, now) {
				return tx.Model(&db.MemoryEntry{}).
					Where("agent_id = ? AND namespace = ? AND key = ?", entry.AgentID, entry.Namespace, entry.Key).
					Updates(map[string]interface{}{
						"value":      entry.Value,
						"updated_at": now,
						"expires_at": entry.ExpiresAt,
					}).Error
			}
			// An expired row is logically absent. Replace it so created_at
			// reflects this write, not the dead one.
			if err := tx.Where("agent_id = ? AND namespace = ? AND key = ?", entry.AgentID, entry.Namespace, entry.Key).
				Delete(&db.MemoryEntry{}).Error; err != nil {
				return err
			}
		}
		entry.CreatedAt = now
		entry.UpdatedAt = now
		return tx.Create(entry).Error
	})
	if err != nil {
		return nil, fmt.Errorf("memory: set %s/%s: %w", entry.Namespace, entry.Key, err)
	}
	return r.Get(ctx, entry.AgentID, entry.Namespace, entry.Key)
}

func (r *gormMemoryRepository) Get(ctx context.Context, agentID, namespace, key string) (*db.MemoryEntry, error) {
	var entry db.MemoryEntry
	err := r.db.WithContext(ctx).
		Where("agent_id = ? AND namespace = ? AND key = ?", agentID, namespace, key).
		Where("expires_at IS NULL OR expires_at > ?", time.Now().UTC()).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("memory: get %s/%s: %w", namespace, key, err)
	}
	return &entry, nil
}

func (r *gormMemoryRepository) List(ctx context.Context, agentID, namespace, prefix string) ([]db.MemoryEntry, error) {
	var entries []db.MemoryEntry
	q := r.db.WithContext(ctx).
		Where("agent_id = ? AND namespace = ?", agentID, namespace).
		Where("expires_at IS NULL OR expires_at > ?", time.Now().UTC())
	if prefix != "" {
		q = q.Where("key LIKE ? ESCAPE '\\'", likePrefix(prefix))
	}
	if err := q.Order("key ASC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("memory: list %s: %w", namespace, err)
	}
	return entries, nil
}

func (r *gormMemoryRepository) Delete(ctx context.Context, agentID, namespace, key string) error {
	result := r.db.WithContext(ctx).
		Where("agent_id = ? AND namespace = ? AND key = ?", agentID, namespace, key).
		Where("expires_at IS NULL OR expires_at > ?", time.Now().UTC()).
		Delete(&db.MemoryEntry{})
	if result.Error != nil {
		return fmt.Errorf("memory: delete %s/%s: %w", namespace, key, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormMemoryRepository) CountForAgent(ctx context.Context, agentID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&db.MemoryEntry{}).
		Where("agent_id = ?", agentID).
		Where("expires_at IS NULL OR expires_at > ?", time.Now().UTC()).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("memory: count: %w", err)
	}
	return count, nil
}

// expired reports whether a TTL deadline has passed. A nil deadline never
// expires.
func expired(t *time.Time, now time.Time) bool {
	return t != nil && !t.After(now)
}

// likePrefix turns a literal prefix into a LIKE pattern, escaping the LIKE
// metacharacters so keys containing % or _ match literally.
func likePrefix(prefix string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(prefix) + "%"
}
