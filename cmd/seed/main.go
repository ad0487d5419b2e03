// Package main implements a one-shot seed command that registers demo agents
// directly in the MoltGrid database and prints their API keys. It lives
// inside the server module so it can access internal/* packages.
//
// Usage:
//
//	go run ./cmd/seed --agents 3 --schedule "*/5 * * * *"
//
// Environment variables:
//
//	MOLTGRID_DB_DSN  SQLite file path or Postgres DSN (default: ./moltgrid.db)
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/D0NMEGA/MoltGrid/internal/db"
	"github.com/D0NMEGA/MoltGrid/internal/identity"
	"github.com/D0NMEGA/MoltGrid/internal/repositories"
	"github.com/D0NMEGA/MoltGrid/internal/scheduler"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// ─── Flags ────────────────────────────────────────────────────────────────

	count := flag.Int("agents", 2, "Number of demo agents to register")
	namePrefix := flag.String("name-prefix", "demo", "Agent name prefix")
	cronExpr := flag.String("schedule", "", "Optional cron expression; creates one schedule owned by the first agent")
	queueName := flag.String("queue", "default", "Queue the optional schedule submits to")
	driver := flag.String("db-driver", envOrDefault("MOLTGRID_DB_DRIVER", "sqlite"), "Database driver (sqlite or postgres)")
	flag.Parse()

	if *count < 1 {
		return fmt.Errorf("--agents must be at least 1")
	}
	if *cronExpr != "" {
		if err := scheduler.ParseCron(*cronExpr); err != nil {
			return fmt.Errorf("invalid --schedule expression: %w", err)
		}
	}

	// ─── Config ───────────────────────────────────────────────────────────────

	dsn := envOrDefault("MOLTGRID_DB_DSN", "./moltgrid.db")

	// ─── Database ─────────────────────────────────────────────────────────────

	logger, _ := zap.NewDevelopment()

	database, err := db.New(db.Config{
		Driver:   *driver,
		DSN:      dsn,
		Logger:   logger,
		LogLevel: gormlogger.Silent, // suppress GORM query logs in seed output
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := database.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	// ─── Register agents ──────────────────────────────────────────────────────

	agents := repositories.NewAgentRepository(database)
	rates := repositories.NewRateLimitRepository(database)
	ident := identity.NewService(agents, rates, identity.DefaultRateLimit, logger)

	ctx := context.Background()
	firstAgentID := ""

	for i := 1; i <= *count; i++ {
		name := fmt.Sprintf("%s-%d", *namePrefix, i)
		agent, key, err := ident.Register(ctx, name, "seeded for local development")
		if err != nil {
			return fmt.Errorf("register agent %q: %w", name, err)
		}
		if firstAgentID == "" {
			firstAgentID = agent.AgentID
		}

		fmt.Printf("✓ Agent registered\n")
		fmt.Printf("  ID:      %s\n", agent.AgentID)
		fmt.Printf("  Name:    %s\n", agent.Name)
		fmt.Printf("  API key: %s\n", key)
	}

	// ─── Optional schedule ────────────────────────────────────────────────────

	if *cronExpr != "" {
		schedules := repositories.NewScheduleRepository(database)

		next, err := scheduler.NextRun(*cronExpr, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("compute next run: %w", err)
		}

		task := &db.ScheduledTask{
			AgentID:     firstAgentID,
			CronExpr:    *cronExpr,
			Payload:     "seeded schedule",
			QueueName:   *queueName,
			Priority:    5,
			MaxAttempts: 3,
			Enabled:     true,
			NextRunAt:   next,
		}
		if err := schedules.Create(ctx, task); err != nil {
			return fmt.Errorf("create schedule: %w", err)
		}

		fmt.Printf("✓ Schedule created\n")
		fmt.Printf("  ID:       %s\n", task.TaskID)
		fmt.Printf("  Cron:     %s\n", task.CronExpr)
		fmt.Printf("  Queue:    %s\n", task.QueueName)
		fmt.Printf("  Next run: %s\n", task.NextRunAt.Format(time.RFC3339))
	}

	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
