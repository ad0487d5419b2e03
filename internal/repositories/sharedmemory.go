package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/D0NMEGA/MoltGrid/internal/db"
)

type gormSharedMemoryRepository struct {
	db *gorm.DB
}

// NewSharedMemoryRepository creates a GORM-backed shared memory repository.
func NewSharedMemoryRepository(gdb *gorm.DB) SharedMemoryRepository {
	return &gormSharedMemoryRepository{db: gdb}
}

func (r *gormSharedMemoryRepository) Set(ctx context.Context, entry *db.SharedMemoryEntry) (*db.SharedMemoryEntry, error) {
	now := time.Now().UTC()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing db.SharedMemoryEntry
		err := tx.Where("namespace = ? AND key = ?", entry.Namespace, entry.Key).
			First(&existing).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err == nil {
			if !expired(existing.ExpiresAt, now) {
				// Live keys keep their original owner no matter who writes.
				return tx.Model(&db.SharedMemoryEntry{}).
					Where("namespace = ? AND key = ?", entry.Namespace, entry.Key).
					Updates(map[string]interface{}{
						"value":       entry.Value,
						"description": entry.Description,
						"updated_at":  now,
						"expires_at":  entry.ExpiresAt,
					}).Error
			}
			if err := tx.Where("namespace = ? AND key = ?", entry.Namespace, entry.Key).
				Delete(&db.SharedMemoryEntry{}).Error; err != nil {
				return err
			}
		}
		entry.CreatedAt = now
		entry.UpdatedAt = now
		return tx.Create(entry).Error
	})
	if err != nil {
		return nil, fmt.Errorf("shared memory: set %s/%s: %w", entry.Namespace, entry.Key, err)
	}
	return r.Get(ctx, entry.Namespace, entry.Key)
}

func (r *gormSharedMemoryRepository) Get(ctx context.Context, namespace, key string) (*db.SharedMemoryEntry, error) {
	var entry db.SharedMemoryEntry
	err := r.db.WithContext(ctx).
		Where("namespace = ? AND key = ?", namespace, key).
		Where("expires_at IS NULL OR expires_at > ?", time.Now().UTC()).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("shared memory: get %s/%s: %w", namespace, key, err)
	}
	return &entry, nil
}

func (r *gormSharedMemoryRepository) List(ctx context.Context, namespace, prefix string) ([]db.SharedMemoryEntry, error) {
	var entries []db.SharedMemoryEntry
	q := r.db.WithContext(ctx).
		Where("namespace = ?", namespace).
		Where("expires_at IS NULL OR expires_at > ?", time.Now().UTC())
	if prefix != "" {
		q = q.Where("key LIKE ? ESCAPE '\\'", likePrefix(prefix))
	}
	if err := q.Order("key ASC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("shared memory: list %s: %w", namespace, err)
	}
	return entries, nil
}

func (r *gormSharedMemoryRepository) ListNamespaces(ctx context.Context) ([]string, error) {
	var namespaces []string
	err := r.db.WithContext(ctx).
		Model(&db.SharedMemoryEntry{}).
		Distinct("namespace").
		Where("expires_at IS NULL OR expires_at > ?", time.Now().UTC()).
		Order("namespace ASC").
		Pluck("namespace", &namespaces).Error
	if err != nil {
		return nil, fmt.Errorf("shared memory: list namespaces: %w", err)
	}
	return namespaces, nil
}

func (r *gormSharedMemoryRepository) Delete(ctx context.Context, namespace, key, ownerAgentID string) error {
	// One guarded delete covers absent, expired and foreign-owned keys alike,
	// so the caller cannot tell which case it hit.
	result := r.db.WithContext(ctx).
		Where("namespace = ? AND key = ? AND owner_agent_id = ?", namespace, key, ownerAgentID).
		Where("expires_at IS NULL OR expires_at > ?", time.Now().UTC()).
		Delete(&db.SharedMemoryEntry{})
	if result.Error != nil {
		return fmt.Errorf("shared memory: delete %s/%s: %w", namespace, key, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormSharedMemoryRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&db.SharedMemoryEntry{}).
		Where("expires_at IS NULL OR expires_at > ?", time.Now().UTC()).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("shared memory: count: %w", err)
	}
	return count, nil
}
