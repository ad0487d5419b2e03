package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/D0NMEGA/MoltGrid/internal/db"
)

// claimRetries bounds how many candidates a single Claim call will race for
// before reporting the queue empty.
const claimRetries = 3

// visibilityTimeoutReason is recorded on jobs the sweeper reclaims from
// claimers that went silent.
const visibilityTimeoutReason = "visibility timeout"

type gormJobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a GORM-backed job repository.
func NewJobRepository(gdb *gorm.DB) JobRepository {
	return &gormJobRepository{db: gdb}
}

func (r *gormJobRepository) Create(ctx context.Context, job *db.Job) error {
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("jobs: create: %w", err)
	}
	return nil
}

func (r *gormJobRepository) GetForAgent(ctx context.Context, jobID, agentID string) (*db.Job, error) {
	var job db.Job
	err := r.db.WithContext(ctx).
		Where("job_id = ? AND agent_id = ?", jobID, agentID).
		First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("jobs: get %s: %w", jobID, err)
	}
	return &job, nil
}

func (r *gormJobRepository) List(ctx context.Context, agentID, queueName, status string) ([]db.Job, error) {
	var jobs []db.Job
	q := r.db.WithContext(ctx).Where("agent_id = ?", agentID)
	if queueName != "" {
		q = q.Where("queue_name = ?", queueName)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Order("created_at DESC, job_id DESC").Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("jobs: list: %w", err)
	}
	return jobs, nil
}

func (r *gormJobRepository) ListDead(ctx context.Context, agentID, queueName string) ([]db.Job, error) {
	var jobs []db.Job
	q := r.db.WithContext(ctx).
		Where("agent_id = ? AND status = ?", agentID, db.JobStatusDead)
	if queueName != "" {
		q = q.Where("queue_name = ?", queueName)
	}
	err := q.Order("updated_at DESC, job_id DESC").Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("jobs: list dead: %w", err)
	}
	return jobs, nil
}

func (r *gormJobRepository) Claim(ctx context.Context, claimerID, queueName string, visibility time.Duration) (*db.Job, error) {
	now := time.Now().UTC()
	deadline := now.Add(visibility)

	var claimed *db.Job
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := 0; i < claimRetries; i++ {
			var candidate db.Job
			q := tx.Where("status = ?", db.JobStatusPending)
			if queueName != "" {
				q = q.Where("queue_name = ?", queueName)
			} else {
				// Without a queue the claimer only works its own backlog.
				q = q.Where("agent_id = ?", claimerID)
			}
			err := q.Order("priority DESC, created_at ASC, job_id ASC").
				First(&candidate).Error
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrNotFound
				}
				return err
			}

			// The guarded update decides the race: whoever flips the status
			// off pending first owns the job.
			result := tx.Model(&db.Job{}).
				Where("job_id = ? AND status = ?", candidate.JobID, db.JobStatusPending).
				Updates(map[string]interface{}{
					"status":              db.JobStatusClaimed,
					"claimed_by":          claimerID,
					"claimed_at":          now,
					"visibility_deadline": deadline,
					"attempts":            gorm.Expr("attempts + 1"),
					"updated_at":          now,
				})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 1 {
				var job db.Job
				if err := tx.Where("job_id = ?", candidate.JobID).First(&job).Error; err != nil {
					return err
				}
				claimed = &job
				return nil
			}
			// Lost the candidate to a concurrent claimer, try the next one.
		}
		return ErrNotFound
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("jobs: claim: %w", err)
	}
	return claimed, nil
}

func (r *gormJobRepository) Complete(ctx context.Context, jobID, claimerID, result string) (*db.Job, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).
		Model(&db.Job{}).
		Where("job_id = ? AND status = ? AND claimed_by = ?", jobID, db.JobStatusClaimed, claimerID).
		Updates(map[string]interface{}{
			"status":              db.JobStatusCompleted,
			"result":              result,
			"completed_at":        now,
			"visibility_deadline": nil,
			"updated_at":          now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("jobs: complete %s: %w", jobID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}

	var job db.Job
	if err := r.db.WithContext(ctx).Where("job_id = ?", jobID).First(&job).Error; err != nil {
		return nil, fmt.Errorf("jobs: complete %s: reload: %w", jobID, err)
	}
	return &job, nil
}

func (r *gormJobRepository) Fail(ctx context.Context, jobID, claimerID, reason string) (*db.Job, bool, error) {
	now := time.Now().UTC()

	var failed *db.Job
	var willRetry bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job db.Job
		err := tx.Where("job_id = ? AND status = ? AND claimed_by = ?", jobID, db.JobStatusClaimed, claimerID).
			First(&job).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		willRetry = job.Attempts < job.MaxAttempts
		updates := map[string]interface{}{
			"error":               reason,
			"visibility_deadline": nil,
			"updated_at":          now,
		}
		if willRetry {
			updates["status"] = db.JobStatusPending
			updates["claimed_by"] = ""
			updates["claimed_at"] = nil
		} else {
			// Dead jobs keep claimed_by and claimed_at as a record of the
			// last attempt.
			updates["status"] = db.JobStatusDead
		}

		res := tx.Model(&db.Job{}).
			Where("job_id = ? AND status = ? AND claimed_by = ?", jobID, db.JobStatusClaimed, claimerID).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}

		if err := tx.Where("job_id = ?", jobID).First(&job).Error; err != nil {
			return err
		}
		failed = &job
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, false, ErrNotFound
		}
		return nil, false, fmt.Errorf("jobs: fail %s: %w", jobID, err)
	}
	return failed, willRetry, nil
}

func (r *gormJobRepository) Replay(ctx context.Context, jobID, agentID string) (*db.Job, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).
		Model(&db.Job{}).
		Where("job_id = ? AND agent_id = ? AND status = ?", jobID, agentID, db.JobStatusDead).
		Updates(map[string]interface{}{
			"status":              db.JobStatusPending,
			"attempts":            0,
			"claimed_by":          "",
			"claimed_at":          nil,
			"visibility_deadline": nil,
			"completed_at":        nil,
			"result":              "",
			"error":               "",
			"updated_at":          now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("jobs: replay %s: %w", jobID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}

	var job db.Job
	if err := r.db.WithContext(ctx).Where("job_id = ?", jobID).First(&job).Error; err != nil {
		return nil, fmt.Errorf("jobs: replay %s: reload: %w", jobID, err)
	}
	return &job, nil
}

func (r *gormJobRepository) SweepExpired(ctx context.Context, now time.Time) ([]db.Job, error) {
	var candidates []db.Job
	err := r.db.WithContext(ctx).
		Where("status = ? AND visibility_deadline IS NOT NULL AND visibility_deadline <= ?", db.JobStatusClaimed, now).
		Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("jobs: sweep: %w", err)
	}

	swept := make([]db.Job, 0, len(candidates))
	for _, job := range candidates {
		willRetry := job.Attempts < job.MaxAttempts
		updates := map[string]interface{}{
			"error":               visibilityTimeoutReason,
			"visibility_deadline": nil,
			"updated_at":          now,
		}
		if willRetry {
			updates["status"] = db.JobStatusPending
			updates["claimed_by"] = ""
			updates["claimed_at"] = nil
		} else {
			updates["status"] = db.JobStatusDead
		}

		// Guarded on the deadline still being stale: a complete, fail or
		// reclaim that slipped in since the read wins over the sweep.
		res := r.db.WithContext(ctx).
			Model(&db.Job{}).
			Where("job_id = ? AND status = ? AND visibility_deadline <= ?", job.JobID, db.JobStatusClaimed, now).
			Updates(updates)
		if res.Error != nil {
			return swept, fmt.Errorf("jobs: sweep %s: %w", job.JobID, res.Error)
		}
		if res.RowsAffected == 0 {
			continue
		}

		var reloaded db.Job
		if err := r.db.WithContext(ctx).Where("job_id = ?", job.JobID).First(&reloaded).Error; err != nil {
			return swept, fmt.Errorf("jobs: sweep %s: reload: %w", job.JobID, err)
		}
		swept = append(swept, reloaded)
	}
	return swept, nil
}

func (r *gormJobRepository) CountForAgent(ctx context.Context, agentID, status string) (int64, error) {
	var count int64
	q := r.db.WithContext(ctx).
		Model(&db.Job{}).
		Where("agent_id = ?", agentID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("jobs: count: %w", err)
	}
	return count, nil
}
