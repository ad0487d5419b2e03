package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/D0NMEGA/MoltGrid/internal/api"
	"github.com/D0NMEGA/MoltGrid/internal/db"
	"github.com/D0NMEGA/MoltGrid/internal/fanout"
	"github.com/D0NMEGA/MoltGrid/internal/identity"
	"github.com/D0NMEGA/MoltGrid/internal/relay"
	"github.com/D0NMEGA/MoltGrid/internal/repositories"
	"github.com/D0NMEGA/MoltGrid/internal/scheduler"
	"github.com/D0NMEGA/MoltGrid/internal/websocket"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type config struct {
	listen       string
	dbDriver     string
	dbDSN        string
	logLevel     string
	rateLimit    int64
	visibility   time.Duration
	tickInterval time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config{}

	root := &cobra.Command{
		Use:   "moltgrid-server",
		Short: "MoltGrid coordination server for autonomous agents",
		Long: `MoltGrid server is the shared backplane a fleet of agents coordinates
through. It exposes a REST API plus a WebSocket relay, and runs the
cron scheduler, the job queue sweeps and the webhook fan-out.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.listen, "listen", envOrDefault("MOLTGRID_LISTEN", ":8000"), "HTTP listen address")
	root.PersistentFlags().StringVar(&cfg.dbDriver, "db-driver", envOrDefault("MOLTGRID_DB_DRIVER", "sqlite"), "Database driver (sqlite or postgres)")
	// AGENTFORGE_DB is honored as a fallback so deployments predating the
	// rename keep their database without config changes.
	root.PersistentFlags().StringVar(&cfg.dbDSN, "db-dsn", envOrDefault("MOLTGRID_DB_DSN", envOrDefault("AGENTFORGE_DB", "./moltgrid.db")), "Database DSN or file path for SQLite")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("MOLTGRID_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	root.PersistentFlags().Int64Var(&cfg.rateLimit, "rate-limit", envInt64OrDefault("MOLTGRID_RATE_LIMIT", identity.DefaultRateLimit), "Authenticated requests allowed per agent per minute")
	root.PersistentFlags().DurationVar(&cfg.visibility, "visibility-timeout", envDurationOrDefault("MOLTGRID_VISIBILITY_TIMEOUT", 5*time.Minute), "How long a claimed job stays reserved before the sweeper recycles it")
	root.PersistentFlags().DurationVar(&cfg.tickInterval, "tick-interval", envDurationOrDefault("MOLTGRID_TICK_INTERVAL", scheduler.DefaultTickInterval), "Scheduler tick interval (at most 1m)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("moltgrid-server %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting moltgrid server",
		zap.String("version", version),
		zap.String("listen", cfg.listen),
		zap.String("db_driver", cfg.dbDriver),
		zap.Int64("rate_limit", cfg.rateLimit),
		zap.Duration("visibility_timeout", cfg.visibility),
		zap.Duration("tick_interval", cfg.tickInterval),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- Database ---
	database, err := db.New(db.Config{
		Driver: cfg.dbDriver,
		DSN:    cfg.dbDSN,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if sqlDB, dbErr := database.DB(); dbErr == nil {
			sqlDB.Close() //nolint:errcheck
		}
	}()

	// --- Repositories ---
	agents := repositories.NewAgentRepository(database)
	memory := repositories.NewMemoryRepository(database)
	shared := repositories.NewSharedMemoryRepository(database)
	messages := repositories.NewMessageRepository(database)
	jobs := repositories.NewJobRepository(database)
	schedules := repositories.NewScheduleRepository(database)
	webhooks := repositories.NewWebhookRepository(database)
	rates := repositories.NewRateLimitRepository(database)

	// --- Services ---
	ident := identity.NewService(agents, rates, cfg.rateLimit, logger)
	events := fanout.NewService(fanout.Config{
		Webhooks: webhooks,
		Logger:   logger,
	})
	relaySvc := relay.NewService(agents, messages, events, logger)

	hub := websocket.NewHub()
	go hub.Run(ctx)
	// The hub pushes events but the relay behind the sockets emits them, so
	// the hub is attached once both sides exist.
	events.SetHub(hub)

	sched, err := scheduler.New(schedules, jobs, ident, events, cfg.tickInterval, logger)
	if err != nil {
		return err
	}
	if err := sched.Start(); err != nil {
		return err
	}

	// --- HTTP ---
	router := api.NewRouter(api.RouterConfig{
		Identity:   ident,
		Relay:      relaySvc,
		Events:     events,
		Hub:        hub,
		Logger:     logger,
		Agents:     agents,
		Memory:     memory,
		Shared:     shared,
		Messages:   messages,
		Jobs:       jobs,
		Schedules:  schedules,
		Webhooks:   webhooks,
		Visibility: cfg.visibility,
		StartedAt:  time.Now().UTC(),
	})

	srv := &http.Server{
		Addr:              cfg.listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.listen))
		if serveErr := srv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
	}()

	select {
	case serveErr := <-errCh:
		return fmt.Errorf("http server failed: %w", serveErr)
	case <-ctx.Done():
	}

	logger.Info("shutting down moltgrid server")

	// Stop accepting requests first, then the tick loop, then drain any
	// webhook deliveries still in flight.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown did not finish cleanly", zap.Error(err))
	}
	if err := sched.Stop(); err != nil {
		logger.Warn("scheduler stop", zap.Error(err))
	}
	events.Shutdown()

	return nil
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt64OrDefault(key string, defaultVal int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return defaultVal
}

func envDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
