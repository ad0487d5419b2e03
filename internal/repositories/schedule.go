package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/D0NMEGA/MoltGrid/internal/db"
)

type gormScheduleRepository struct {
	db *gorm.DB
}

// NewScheduleRepository creates a GORM-backed schedule repository.
func NewScheduleRepository(gdb *gorm.DB) ScheduleRepository {
	return &gormScheduleRepository{db: gdb}
}

func (r *gormScheduleRepository) Create(ctx context.Context, task *db.ScheduledTask) error {
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("schedules: create: %w", err)
	}
	return nil
}

func (r *gormScheduleRepository) GetForAgent(ctx context.Context, taskID, agentID string) (*db.ScheduledTask, error) {
	var task db.ScheduledTask
	err := r.db.WithContext(ctx).
		Where("task_id = ? AND agent_id = ?", taskID, agentID).
		First(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("schedules: get %s: %w", taskID, err)
	}
	return &task, nil
}

func (r *gormScheduleRepository) ListForAgent(ctx context.Context, agentID string) ([]db.ScheduledTask, error) {
	var tasks []db.ScheduledTask
	err := r.db.WithContext(ctx).
		Where("agent_id = ?", agentID).
		Order("created_at DESC, task_id DESC").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("schedules: list: %w", err)
	}
	return tasks, nil
}

func (r *gormScheduleRepository) SetEnabled(ctx context.Context, taskID, agentID string, enabled bool, nextRunAt *time.Time) (*db.ScheduledTask, error) {
	updates := map[string]interface{}{
		"enabled":    enabled,
		"updated_at": time.Now().UTC(),
	}
	if nextRunAt != nil {
		updates["next_run_at"] = *nextRunAt
	}
	res := r.db.WithContext(ctx).
		Model(&db.ScheduledTask{}).
		Where("task_id = ? AND agent_id = ?", taskID, agentID).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("schedules: set enabled %s: %w", taskID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return r.GetForAgent(ctx, taskID, agentID)
}

func (r *gormScheduleRepository) Delete(ctx context.Context, taskID, agentID string) error {
	res := r.db.WithContext(ctx).
		Where("task_id = ? AND agent_id = ?", taskID, agentID).
		Delete(&db.ScheduledTask{})
	if res.Error != nil {
		return fmt.Errorf("schedules: delete %s: %w", taskID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormScheduleRepository) Due(ctx context.Context, now time.Time) ([]db.ScheduledTask, error) {
	var tasks []db.ScheduledTask
	err := r.db.WithContext(ctx).
		Where("enabled = ? AND next_run_at <= ?", true, now).
		Order("next_run_at ASC, task_id ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("schedules: due: %w", err)
	}
	return tasks, nil
}

func (r *gormScheduleRepository) AdvanceRun(ctx context.Context, taskID string, firedAt, nextRunAt time.Time) (bool, error) {
	// Guarded on the task still being due so concurrent tickers fire each
	// occurrence once.
	res := r.db.WithContext(ctx).
		Model(&db.ScheduledTask{}).
		Where("task_id = ? AND enabled = ? AND next_run_at <= ?", taskID, true, firedAt).
		Updates(map[string]interface{}{
			"last_run_at": firedAt,
			"next_run_at": nextRunAt,
			"updated_at":  firedAt,
		})
	if res.Error != nil {
		return false, fmt.Errorf("schedules: advance %s: %w", taskID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *gormScheduleRepository) CountEnabled(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&db.ScheduledTask{}).
		Where("enabled = ?", true).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("schedules: count enabled: %w", err)
	}
	return count, nil
}

func (r *gormScheduleRepository) CountEnabledForAgent(ctx context.Context, agentID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&db.ScheduledTask{}).
		Where("agent_id = ? AND enabled = ?", agentID, true).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("schedules: count enabled: %w", err)
	}
	return count, nil
}
