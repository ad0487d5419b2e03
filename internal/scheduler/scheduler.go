// Package scheduler drives MoltGrid's time-based work. A single periodic tick
// (gocron, singleton mode so ticks never overlap) does three things:
//
//  1. Fires due scheduled tasks into the job queue. Tasks live in the
//     database with a precomputed next_run_at; firing is guarded by a
//     conditional update so each occurrence enqueues exactly one job even
//     with concurrent tickers.
//  2. Reclaims claimed jobs whose visibility deadline has passed, pushing
//     them through the fail rule and announcing job.failed.
//  3. Prunes rate limit windows that can no longer be charged.
//
// Cron expressions are standard 5-field (minute hour dom month dow), parsed
// with robfig/cron. Next run times are always computed strictly after the
// reference instant, so a task never refires for the same occurrence.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/D0NMEGA/MoltGrid/internal/db"
	"github.com/D0NMEGA/MoltGrid/internal/fanout"
	"github.com/D0NMEGA/MoltGrid/internal/identity"
	"github.com/D0NMEGA/MoltGrid/internal/metrics"
	"github.com/D0NMEGA/MoltGrid/internal/repositories"
)

const (
	// DefaultTickInterval is how often the scheduler wakes when no interval
	// is configured.
	DefaultTickInterval = 5 * time.Second

	// MaxTickInterval caps the configurable interval. A minute-resolution
	// cron surface cannot tolerate a sparser tick.
	MaxTickInterval = time.Minute

	// tickTimeout bounds the database work of one tick.
	tickTimeout = 30 * time.Second
)

// cronParser accepts standard 5-field expressions, no seconds field and no
// descriptors.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron validates a 5-field cron expression.
func ParseCron(expr string) error {
	_, err := cronParser.Parse(expr)
	return err
}

// NextRun computes the first fire time of expr strictly after from.
func NextRun(expr string, from time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(from), nil
}

// Scheduler owns the periodic tick. The zero value is not usable; create
// instances with New.
type Scheduler struct {
	cron      gocron.Scheduler
	schedules repositories.ScheduleRepository
	jobs      repositories.JobRepository
	ident     *identity.Service
	events    *fanout.Service
	interval  time.Duration
	logger    *zap.Logger
}

// New creates a Scheduler ticking at interval. Call Start to begin.
func New(
	schedules repositories.ScheduleRepository,
	jobs repositories.JobRepository,
	ident *identity.Service,
	events *fanout.Service,
	interval time.Duration,
	logger *zap.Logger,
) (*Scheduler, error) {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	if interval > MaxTickInterval {
		return nil, fmt.Errorf("scheduler: tick interval %s exceeds the %s ceiling", interval, MaxTickInterval)
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	return &Scheduler{
		cron:      s,
		schedules: schedules,
		jobs:      jobs,
		ident:     ident,
		events:    events,
		interval:  interval,
		logger:    logger.Named("scheduler"),
	}, nil
}

// Start registers the tick job and starts the underlying gocron scheduler.
// Called once at server startup, after the database is ready.
func (s *Scheduler) Start() error {
	_, err := s.cron.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
			defer cancel()
			s.Tick(ctx)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("scheduler: register tick: %w", err)
	}

	s.cron.Start()
	s.logger.Info("scheduler started", zap.Duration("tick_interval", s.interval))
	return nil
}

// Stop gracefully shuts down the underlying gocron scheduler, waiting for a
// running tick to finish.
func (s *Scheduler) Stop() error {
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("scheduler shutdown error: %w", err)
	}
	s.logger.Info("scheduler stopped")
	return nil
}

// Tick runs one scheduler pass. gocron invokes it on the configured interval;
// it can also be driven directly.
func (s *Scheduler) Tick(ctx context.Context) {
	s.fireDue(ctx)
	s.sweepVisibility(ctx)
	s.sweepRateWindows(ctx)
}

// fireDue enqueues one job per due occurrence of every enabled task.
func (s *Scheduler) fireDue(ctx context.Context) {
	now := time.Now().UTC()
	due, err := s.schedules.Due(ctx, now)
	if err != nil {
		s.logger.Error("due task query failed", zap.Error(err))
		return
	}

	for i := range due {
		task := &due[i]

		next, err := NextRun(task.CronExpr, now)
		if err != nil {
			// The expression cannot advance, so the row would stay due on
			// every tick. Disable it instead of wedging the loop.
			s.logger.Error("invalid cron expression, disabling task",
				zap.String("task_id", task.TaskID),
				zap.String("cron_expr", task.CronExpr),
				zap.Error(err))
			if _, derr := s.schedules.SetEnabled(ctx, task.TaskID, task.AgentID, false, nil); derr != nil {
				s.logger.Error("failed to disable task",
					zap.String("task_id", task.TaskID),
					zap.Error(derr))
			}
			continue
		}

		won, err := s.schedules.AdvanceRun(ctx, task.TaskID, now, next)
		if err != nil {
			s.logger.Error("task advance failed",
				zap.String("task_id", task.TaskID),
				zap.Error(err))
			continue
		}
		if !won {
			// Another ticker took this occurrence.
			continue
		}

		job := &db.Job{
			AgentID:     task.AgentID,
			QueueName:   task.QueueName,
			Payload:     task.Payload,
			Priority:    task.Priority,
			Status:      db.JobStatusPending,
			MaxAttempts: task.MaxAttempts,
		}
		if err := s.jobs.Create(ctx, job); err != nil {
			s.logger.Error("scheduled job enqueue failed",
				zap.String("task_id", task.TaskID),
				zap.Error(err))
			continue
		}

		metrics.SchedulesFiredTotal.Inc()
		metrics.JobsSubmittedTotal.Inc()
		s.logger.Info("scheduled task fired",
			zap.String("task_id", task.TaskID),
			zap.String("job_id", job.JobID),
			zap.String("queue_name", task.QueueName),
			zap.Time("next_run_at", next))
	}
}

// sweepVisibility reclaims claimed jobs whose deadline has passed and
// announces the failed attempts.
func (s *Scheduler) sweepVisibility(ctx context.Context) {
	swept, err := s.jobs.SweepExpired(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Error("visibility sweep failed", zap.Error(err))
	}

	for i := range swept {
		job := &swept[i]
		metrics.JobsSweptTotal.Inc()

		willRetry := job.Status == db.JobStatusPending
		s.events.JobFailed(ctx, job, willRetry)
		s.logger.Warn("visibility timeout, job reclaimed",
			zap.String("job_id", job.JobID),
			zap.String("queue_name", job.QueueName),
			zap.Int("attempts", job.Attempts),
			zap.Bool("will_retry", willRetry))
	}
}

// sweepRateWindows drops rate windows too old to be charged again.
func (s *Scheduler) sweepRateWindows(ctx context.Context) {
	if err := s.ident.SweepWindows(ctx); err != nil {
		s.logger.Warn("rate window sweep failed", zap.Error(err))
	}
}
