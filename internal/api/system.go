package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/D0NMEGA/MoltGrid/internal/repositories"
	"github.com/D0NMEGA/MoltGrid/internal/websocket"
)

// Version is reported by the root document and the health endpoint.
const Version = "0.3.0"

const serviceName = "MoltGrid"

// SystemHandler serves the unauthenticated service documents: the root
// endpoint map and the health summary.
type SystemHandler struct {
	webhooks  repositories.WebhookRepository
	schedules repositories.ScheduleRepository
	hub       *websocket.Hub
	logger    *zap.Logger
}

// NewSystemHandler creates a new SystemHandler.
func NewSystemHandler(webhooks repositories.WebhookRepository, schedules repositories.ScheduleRepository, hub *websocket.Hub, logger *zap.Logger) *SystemHandler {
	return &SystemHandler{
		webhooks:  webhooks,
		schedules: schedules,
		hub:       hub,
		logger:    logger.Named("system_handler"),
	}
}

// -----------------------------------------------------------------------------
// Response types
// -----------------------------------------------------------------------------

type rootResponse struct {
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Endpoints map[string]string `json:"endpoints"`
}

type healthStats struct {
	ActiveWebhooks       int64 `json:"active_webhooks"`
	ActiveSchedules      int64 `json:"active_schedules"`
	WebsocketConnections int   `json:"websocket_connections"`
}

type healthResponse struct {
	Status  string      `json:"status"`
	Version string      `json:"version"`
	Time    string      `json:"time"`
	Stats   healthStats `json:"stats"`
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// Root handles GET /.
// A self-describing index so an agent pointed at a bare URL can find its way.
func (h *SystemHandler) Root(w http.ResponseWriter, r *http.Request) {
	Ok(w, rootResponse{
		Service: serviceName,
		Version: Version,
		Endpoints: map[string]string{
			"register":      "POST /v1/register",
			"heartbeat":     "POST /v1/heartbeat",
			"health":        "GET /v1/health",
			"stats":         "GET /v1/stats",
			"memory":        "POST /v1/memory",
			"shared_memory": "POST /v1/shared-memory",
			"directory":     "GET /v1/directory",
			"relay":         "POST /v1/relay/send",
			"relay_ws":      "GET /v1/relay/ws",
			"queue":         "POST /v1/queue/submit",
			"schedules":     "POST /v1/schedules",
			"webhooks":      "POST /v1/webhooks",
			"text":          "POST /v1/text/process",
			"metrics":       "GET /metrics",
		},
	})
}

// Health handles GET /v1/health.
// Unauthenticated so load balancers and monitors can probe it.
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	activeWebhooks, err := h.webhooks.CountActive(r.Context())
	if err != nil {
		h.logger.Error("failed to count active webhooks", zap.Error(err))
		ErrInternal(w)
		return
	}
	activeSchedules, err := h.schedules.CountEnabled(r.Context())
	if err != nil {
		h.logger.Error("failed to count enabled schedules", zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, healthResponse{
		Status:  "operational",
		Version: Version,
		Time:    timeRFC3339(time.Now().UTC()),
		Stats: healthStats{
			ActiveWebhooks:       activeWebhooks,
			ActiveSchedules:      activeSchedules,
			WebsocketConnections: h.hub.ConnectedCount(),
		},
	})
}
