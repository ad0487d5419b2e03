package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/D0NMEGA/MoltGrid/internal/fanout"
	"github.com/D0NMEGA/MoltGrid/internal/identity"
	"github.com/D0NMEGA/MoltGrid/internal/metrics"
	"github.com/D0NMEGA/MoltGrid/internal/relay"
	"github.com/D0NMEGA/MoltGrid/internal/repositories"
	"github.com/D0NMEGA/MoltGrid/internal/websocket"
)

// RouterConfig holds all dependencies needed to build the HTTP router.
// It is populated in main.go after all components are initialized and
// passed to NewRouter as a single struct to keep the constructor signature
// manageable as the number of dependencies grows.
type RouterConfig struct {
	Identity *identity.Service
	Relay    *relay.Service
	Events   *fanout.Service
	Hub      *websocket.Hub
	Logger   *zap.Logger

	// Repositories used directly by handlers that do not need service-layer logic.
	Agents    repositories.AgentRepository
	Memory    repositories.MemoryRepository
	Shared    repositories.SharedMemoryRepository
	Messages  repositories.MessageRepository
	Jobs      repositories.JobRepository
	Schedules repositories.ScheduleRepository
	Webhooks  repositories.WebhookRepository

	// Visibility is how long a claimed job stays reserved before the sweeper
	// recycles it back through the retry ladder.
	Visibility time.Duration

	// StartedAt feeds the uptime figure in per-agent stats.
	StartedAt time.Time
}

// NewRouter builds and returns the fully configured Chi router.
// The agent-facing surface lives under /v1; the root document and the
// Prometheus endpoint sit outside it.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// --- Global middleware ---
	// RequestID generates a unique ID for each request, used in logs and
	// response headers for tracing.
	r.Use(middleware.RequestID)

	// RealIP extracts the real client IP from X-Forwarded-For or X-Real-IP
	// headers when the server runs behind a reverse proxy.
	r.Use(middleware.RealIP)

	// RequestLogger logs every request with method, path, status and latency.
	r.Use(RequestLogger(cfg.Logger))

	// HTTPMiddleware records request counts and latencies per route pattern.
	// It sits outside Recoverer so a recovered panic is still counted as a 500.
	r.Use(metrics.HTTPMiddleware)

	// Recoverer catches panics in handlers, logs them, and returns a 500
	// instead of crashing the server.
	r.Use(middleware.Recoverer)

	// --- Initialize handlers ---
	identityHandler := NewIdentityHandler(cfg.Identity, StatsSources{
		Memory:    cfg.Memory,
		Shared:    cfg.Shared,
		Messages:  cfg.Messages,
		Jobs:      cfg.Jobs,
		Schedules: cfg.Schedules,
		Webhooks:  cfg.Webhooks,
	}, cfg.StartedAt, cfg.Logger)
	memoryHandler := NewMemoryHandler(cfg.Memory, cfg.Logger)
	sharedHandler := NewSharedMemoryHandler(cfg.Shared, cfg.Logger)
	directoryHandler := NewDirectoryHandler(cfg.Agents, cfg.Logger)
	relayHandler := NewRelayHandler(cfg.Relay, cfg.Logger)
	queueHandler := NewQueueHandler(cfg.Jobs, cfg.Events, cfg.Visibility, cfg.Logger)
	scheduleHandler := NewScheduleHandler(cfg.Schedules, cfg.Logger)
	webhookHandler := NewWebhookHandler(cfg.Webhooks, cfg.Logger)
	textHandler := NewTextHandler(cfg.Logger)
	systemHandler := NewSystemHandler(cfg.Webhooks, cfg.Schedules, cfg.Hub, cfg.Logger)
	wsHandler := NewWSHandler(cfg.Hub, cfg.Relay, cfg.Identity, cfg.Logger)

	r.Get("/", systemHandler.Root)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {

		// --- Public routes (no API key required) ---
		r.Group(func(r chi.Router) {
			r.Post("/register", identityHandler.Register)
			r.Get("/health", systemHandler.Health)

			// The directory listing is world-readable so agents can discover
			// peers before they hold a key of their own.
			r.Get("/directory", directoryHandler.List)

			// The websocket authenticates itself via an api_key query
			// parameter before the upgrade, not via the X-API-Key header.
			r.Get("/relay/ws", wsHandler.Serve)
		})

		// --- Authenticated routes (valid X-API-Key required) ---
		r.Group(func(r chi.Router) {
			r.Use(Authenticate(cfg.Identity))

			// Identity
			r.Post("/heartbeat", identityHandler.Heartbeat)
			r.Get("/stats", identityHandler.Stats)

			// Private memory
			r.Post("/memory", memoryHandler.Set)
			r.Get("/memory", memoryHandler.List)
			r.Get("/memory/{key}", memoryHandler.Get)
			r.Delete("/memory/{key}", memoryHandler.Delete)

			// Shared memory
			r.Post("/shared-memory", sharedHandler.Set)
			r.Get("/shared-memory", sharedHandler.ListNamespaces)
			r.Get("/shared-memory/{namespace}", sharedHandler.List)
			r.Get("/shared-memory/{namespace}/{key}", sharedHandler.Get)
			r.Delete("/shared-memory/{namespace}/{key}", sharedHandler.Delete)

			// Directory profile
			r.Get("/directory/me", directoryHandler.Me)
			r.Put("/directory/me", directoryHandler.UpdateMe)

			// Relay
			r.Post("/relay/send", relayHandler.Send)
			r.Get("/relay/inbox", relayHandler.Inbox)
			r.Post("/relay/{message_id}/read", relayHandler.MarkRead)

			// Job queue. Static segments win over the job_id wildcard in chi,
			// so dead-letter does not shadow GET /queue/{job_id}.
			r.Post("/queue/submit", queueHandler.Submit)
			r.Post("/queue/claim", queueHandler.Claim)
			r.Get("/queue", queueHandler.List)
			r.Get("/queue/dead-letter", queueHandler.DeadLetter)
			r.Get("/queue/{job_id}", queueHandler.Get)
			r.Post("/queue/{job_id}/complete", queueHandler.Complete)
			r.Post("/queue/{job_id}/fail", queueHandler.Fail)
			r.Post("/queue/{job_id}/replay", queueHandler.Replay)

			// Schedules
			r.Post("/schedules", scheduleHandler.Create)
			r.Get("/schedules", scheduleHandler.List)
			r.Get("/schedules/{task_id}", scheduleHandler.Get)
			r.Patch("/schedules/{task_id}", scheduleHandler.Toggle)
			r.Delete("/schedules/{task_id}", scheduleHandler.Delete)

			// Webhooks
			r.Post("/webhooks", webhookHandler.Create)
			r.Get("/webhooks", webhookHandler.List)
			r.Delete("/webhooks/{webhook_id}", webhookHandler.Delete)

			// Text utilities
			r.Post("/text/process", textHandler.Process)
		})
	})

	return r
}
