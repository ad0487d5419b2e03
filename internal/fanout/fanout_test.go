package fanout_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/D0NMEGA/MoltGrid/internal/db"
	"github.com/D0NMEGA/MoltGrid/internal/fanout"
	"github.com/D0NMEGA/MoltGrid/internal/repositories"
)

type capturedDelivery struct {
	body        []byte
	signature   string
	contentType string
	userAgent   string
}

// webhookReceiver is an httptest endpoint recording every POST it gets.
type webhookReceiver struct {
	ts *httptest.Server

	mu        sync.Mutex
	delivered []capturedDelivery
}

func newWebhookReceiver(t *testing.T) *webhookReceiver {
	t.Helper()

	rec := &webhookReceiver{}
	rec.ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		rec.mu.Lock()
		rec.delivered = append(rec.delivered, capturedDelivery{
			body:        body,
			signature:   r.Header.Get("X-Signature"),
			contentType: r.Header.Get("Content-Type"),
			userAgent:   r.Header.Get("User-Agent"),
		})
		rec.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(rec.ts.Close)
	return rec
}

func (r *webhookReceiver) deliveries() []capturedDelivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]capturedDelivery, len(r.delivered))
	copy(out, r.delivered)
	return out
}

func newWebhookRepo(t *testing.T) repositories.WebhookRepository {
	t.Helper()

	gdb, err := db.New(db.Config{
		Driver:   "sqlite",
		DSN:      filepath.Join(t.TempDir(), "test.db"),
		Logger:   zap.NewNop(),
		LogLevel: gormlogger.Silent,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, err := gdb.DB()
		if err == nil {
			_ = sqlDB.Close()
		}
	})
	return repositories.NewWebhookRepository(gdb)
}

func TestJobCompletedDeliversSignedWebhook(t *testing.T) {
	rec := newWebhookReceiver(t)
	webhooks := newWebhookRepo(t)
	ctx := context.Background()

	require.NoError(t, webhooks.Create(ctx, &db.Webhook{
		AgentID:    "agent_a",
		URL:        rec.ts.URL,
		EventTypes: db.StringList{fanout.EventJobCompleted},
		Secret:     "hunter2",
		Active:     true,
	}))

	svc := fanout.NewService(fanout.Config{Webhooks: webhooks, Logger: zap.NewNop()})

	completedAt := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	svc.JobCompleted(ctx, &db.Job{
		JobID:       "job_1",
		AgentID:     "agent_a",
		QueueName:   "work",
		Result:      "42",
		ClaimedBy:   "agent_b",
		CompletedAt: &completedAt,
	})

	// Shutdown drains the queue, so afterwards the delivery is final.
	svc.Shutdown()

	deliveries := rec.deliveries()
	require.Len(t, deliveries, 1)
	d := deliveries[0]

	assert.Equal(t, "application/json", d.contentType)
	assert.Equal(t, "MoltGrid-Webhook/1.0", d.userAgent)

	mac := hmac.New(sha256.New, []byte("hunter2"))
	mac.Write(d.body)
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), d.signature)

	var envelope struct {
		Event     string                 `json:"event"`
		AgentID   string                 `json:"agent_id"`
		Timestamp string                 `json:"timestamp"`
		Data      map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(d.body, &envelope))
	assert.Equal(t, "job.completed", envelope.Event)
	assert.Equal(t, "agent_a", envelope.AgentID)
	assert.NotEmpty(t, envelope.Timestamp)
	assert.Equal(t, "job_1", envelope.Data["job_id"])
	assert.Equal(t, "work", envelope.Data["queue_name"])
	assert.Equal(t, "42", envelope.Data["result"])
	assert.Equal(t, "agent_b", envelope.Data["claimed_by"])
	assert.Equal(t, "2025-06-01T10:00:00Z", envelope.Data["completed_at"])
}

func TestEmitSkipsNonSubscribedAndInactive(t *testing.T) {
	rec := newWebhookReceiver(t)
	webhooks := newWebhookRepo(t)
	ctx := context.Background()

	// Subscribed to a different event.
	require.NoError(t, webhooks.Create(ctx, &db.Webhook{
		AgentID:    "agent_a",
		URL:        rec.ts.URL,
		EventTypes: db.StringList{fanout.EventMessageReceived},
		Active:     true,
	}))
	// Matching event but inactive.
	require.NoError(t, webhooks.Create(ctx, &db.Webhook{
		AgentID:    "agent_a",
		URL:        rec.ts.URL,
		EventTypes: db.StringList{fanout.EventJobFailed},
		Active:     false,
	}))

	svc := fanout.NewService(fanout.Config{Webhooks: webhooks, Logger: zap.NewNop()})
	svc.JobFailed(ctx, &db.Job{JobID: "job_1", AgentID: "agent_a", QueueName: "work", Error: "boom", Attempts: 1}, true)
	svc.Shutdown()

	assert.Empty(t, rec.deliveries())
}

func TestJobFailedCarriesRetryFlag(t *testing.T) {
	rec := newWebhookReceiver(t)
	webhooks := newWebhookRepo(t)
	ctx := context.Background()

	require.NoError(t, webhooks.Create(ctx, &db.Webhook{
		AgentID:    "agent_a",
		URL:        rec.ts.URL,
		EventTypes: db.StringList{fanout.EventJobFailed},
		Active:     true,
	}))

	svc := fanout.NewService(fanout.Config{Webhooks: webhooks, Logger: zap.NewNop()})
	svc.JobFailed(ctx, &db.Job{JobID: "job_1", AgentID: "agent_a", QueueName: "work", Error: "boom", Attempts: 2}, false)
	svc.Shutdown()

	deliveries := rec.deliveries()
	require.Len(t, deliveries, 1)

	var envelope struct {
		Event string                 `json:"event"`
		Data  map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(deliveries[0].body, &envelope))
	assert.Equal(t, "job.failed", envelope.Event)
	assert.Equal(t, "boom", envelope.Data["error"])
	assert.Equal(t, float64(2), envelope.Data["attempts"])
	assert.Equal(t, false, envelope.Data["will_retry"])

	// No secret registered, no signature header.
	assert.Empty(t, deliveries[0].signature)
}

// fakePusher records socket pushes instead of delivering them.
type fakePusher struct {
	mu     sync.Mutex
	pushes []struct {
		agentID string
		payload interface{}
	}
}

func (p *fakePusher) Push(agentID string, payload interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushes = append(p.pushes, struct {
		agentID string
		payload interface{}
	}{agentID, payload})
}

func TestMessageReceivedPushesToHub(t *testing.T) {
	webhooks := newWebhookRepo(t)
	pusher := &fakePusher{}

	svc := fanout.NewService(fanout.Config{Webhooks: webhooks, Hub: pusher, Logger: zap.NewNop()})
	defer svc.Shutdown()

	created := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	svc.MessageReceived(context.Background(), &db.Message{
		MessageID: "msg_1",
		FromAgent: "agent_a",
		ToAgent:   "agent_b",
		Channel:   "alerts",
		Payload:   "fire",
		CreatedAt: created,
	})

	pusher.mu.Lock()
	defer pusher.mu.Unlock()
	require.Len(t, pusher.pushes, 1)
	assert.Equal(t, "agent_b", pusher.pushes[0].agentID)

	frame, ok := pusher.pushes[0].payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "message.received", frame["event"])
	assert.Equal(t, "msg_1", frame["message_id"])
	assert.Equal(t, "agent_a", frame["from_agent"])
	assert.Equal(t, "alerts", frame["channel"])
	assert.Equal(t, "fire", frame["payload"])
	assert.Equal(t, "2025-06-01T10:00:00Z", frame["created_at"])
}

func TestValidEventType(t *testing.T) {
	tests := []struct {
		event string
		want  bool
	}{
		{"message.received", true},
		{"job.completed", true},
		{"job.failed", true},
		{"job.started", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, fanout.ValidEventType(tt.event), tt.event)
	}
	assert.Len(t, fanout.EventTypes(), 3)
}
