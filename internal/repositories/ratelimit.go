package repositories

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/D0NMEGA/MoltGrid/internal/db"
)

type gormRateLimitRepository struct {
	db *gorm.DB
}

// NewRateLimitRepository creates a GORM-backed rate limit repository.
func NewRateLimitRepository(gdb *gorm.DB) RateLimitRepository {
	return &gormRateLimitRepository{db: gdb}
}

func (r *gormRateLimitRepository) Increment(ctx context.Context, agentID string, windowStart int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		window := db.RateWindow{AgentID: agentID, WindowStart: windowStart, Count: 1}
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "agent_id"}, {Name: "window_start"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"count": gorm.Expr("rate_limits.count + 1"),
			}),
		}).Create(&window).Error
		if err != nil {
			return err
		}

		var current db.RateWindow
		if err := tx.Where("agent_id = ? AND window_start = ?", agentID, windowStart).
			First(&current).Error; err != nil {
			return err
		}
		count = current.Count
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("rate limits: increment %s: %w", agentID, err)
	}
	return count, nil
}

func (r *gormRateLimitRepository) Sweep(ctx context.Context, before int64) error {
	err := r.db.WithContext(ctx).
		Where("window_start < ?", before).
		Delete(&db.RateWindow{}).Error
	if err != nil {
		return fmt.Errorf("rate limits: sweep: %w", err)
	}
	return nil
}
