package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/D0NMEGA/MoltGrid/internal/api"
	"github.com/D0NMEGA/MoltGrid/internal/db"
	"github.com/D0NMEGA/MoltGrid/internal/fanout"
	"github.com/D0NMEGA/MoltGrid/internal/identity"
	"github.com/D0NMEGA/MoltGrid/internal/relay"
	"github.com/D0NMEGA/MoltGrid/internal/repositories"
	"github.com/D0NMEGA/MoltGrid/internal/websocket"
)

// testServer wires the full service stack onto an httptest server, backed by
// a throwaway sqlite file.
type testServer struct {
	ts  *httptest.Server
	hub *websocket.Hub
}

func newTestServer(t *testing.T) *testServer {
	return newTestServerWithRateCap(t, 0)
}

func newTestServerWithRateCap(t *testing.T, rateCap int64) *testServer {
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

	logger := zap.NewNop()
	agents := repositories.NewAgentRepository(gdb)
	memory := repositories.NewMemoryRepository(gdb)
	shared := repositories.NewSharedMemoryRepository(gdb)
	messages := repositories.NewMessageRepository(gdb)
	jobs := repositories.NewJobRepository(gdb)
	schedules := repositories.NewScheduleRepository(gdb)
	webhooks := repositories.NewWebhookRepository(gdb)
	rates := repositories.NewRateLimitRepository(gdb)

	ident := identity.NewService(agents, rates, rateCap, logger)
	events := fanout.NewService(fanout.Config{Webhooks: webhooks, Logger: logger})
	t.Cleanup(events.Shutdown)

	hub := websocket.NewHub()
	events.SetHub(hub)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	relaySvc := relay.NewService(agents, messages, events, logger)

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
		Visibility: 5 * time.Minute,
		StartedAt:  time.Now(),
	})

	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return &testServer{ts: ts, hub: hub}
}

// do issues one request and decodes the JSON body into a generic map.
func (s *testServer) do(t *testing.T, method, path, apiKey string, body interface{}) (int, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, s.ts.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := s.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var out map[string]interface{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), "body: %s", raw)
	}
	return resp.StatusCode, out
}

func (s *testServer) register(t *testing.T, name string) (agentID, apiKey string) {
	t.Helper()

	status, body := s.do(t, http.MethodPost, "/v1/register", "", map[string]string{"name": name})
	require.Equal(t, http.StatusOK, status)

	agentID, _ = body["agent_id"].(string)
	apiKey, _ = body["api_key"].(string)
	require.NotEmpty(t, agentID)
	require.NotEmpty(t, apiKey)
	return agentID, apiKey
}

// errorCode digs the machine-readable code out of an error envelope.
func errorCode(t *testing.T, body map[string]interface{}) string {
	t.Helper()

	errObj, ok := body["error"].(map[string]interface{})
	require.True(t, ok, "expected error envelope, got %v", body)
	code, _ := errObj["code"].(string)
	return code
}

func errorMessage(t *testing.T, body map[string]interface{}) string {
	t.Helper()

	errObj, ok := body["error"].(map[string]interface{})
	require.True(t, ok, "expected error envelope, got %v", body)
	msg, _ := errObj["message"].(string)
	return msg
}

// -----------------------------------------------------------------------------
// Registration and authentication
// -----------------------------------------------------------------------------

func TestRegister(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodPost, "/v1/register", "", map[string]string{
		"name":        "worker-1",
		"description": "crunches numbers",
	})
	require.Equal(t, http.StatusOK, status)

	agentID, _ := body["agent_id"].(string)
	apiKey, _ := body["api_key"].(string)
	assert.True(t, strings.HasPrefix(agentID, "agent_"), agentID)
	assert.True(t, strings.HasPrefix(apiKey, "af_"), apiKey)
	assert.Contains(t, body["message"], "Store your API key")
}

func TestAuthenticationLadder(t *testing.T) {
	s := newTestServer(t)
	_, key := s.register(t, "worker-1")

	// No key at all.
	status, body := s.do(t, http.MethodGet, "/v1/stats", "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "validation_error", errorCode(t, body))
	assert.Equal(t, "missing X-API-Key header", errorMessage(t, body))

	// A key that resolves to nothing.
	status, body = s.do(t, http.MethodGet, "/v1/stats", "af_"+strings.Repeat("0", 64), nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", errorCode(t, body))
	assert.Equal(t, "invalid API key", errorMessage(t, body))

	// The real thing.
	status, _ = s.do(t, http.MethodGet, "/v1/stats", key, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestRateLimitReturns429(t *testing.T) {
	s := newTestServerWithRateCap(t, 3)
	_, key := s.register(t, "chatty")

	for i := 0; i < 3; i++ {
		status, _ := s.do(t, http.MethodGet, "/v1/stats", key, nil)
		require.Equal(t, http.StatusOK, status)
	}

	status, body := s.do(t, http.MethodGet, "/v1/stats", key, nil)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "rate_limited", errorCode(t, body))
}

func TestHeartbeat(t *testing.T) {
	s := newTestServer(t)
	agentID, key := s.register(t, "worker-1")

	// A bare heartbeat marks the agent online.
	status, body := s.do(t, http.MethodPost, "/v1/heartbeat", key, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, agentID, body["agent_id"])
	assert.Equal(t, "online", body["status"])
	assert.NotNil(t, body["last_heartbeat"])

	status, body = s.do(t, http.MethodPost, "/v1/heartbeat", key, map[string]interface{}{
		"status":   "busy",
		"metadata": map[string]interface{}{"queue_depth": 12},
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "busy", body["status"])

	status, body = s.do(t, http.MethodGet, "/v1/directory/me", key, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "busy", body["status"])
}

func TestStatsRollup(t *testing.T) {
	s := newTestServer(t)
	agentID, key := s.register(t, "worker-1")
	_, otherKey := s.register(t, "worker-2")

	status, body := s.do(t, http.MethodPost, "/v1/memory", key, map[string]string{
		"key": "color", "value": "blue",
	})
	require.Equal(t, http.StatusOK, status)

	status, _ = s.do(t, http.MethodPost, "/v1/queue/submit", key, map[string]string{
		"payload": "work",
	})
	require.Equal(t, http.StatusOK, status)

	status, _ = s.do(t, http.MethodPost, "/v1/relay/send", otherKey, map[string]string{
		"to_agent": agentID, "payload": "hello",
	})
	require.Equal(t, http.StatusOK, status)

	status, body = s.do(t, http.MethodGet, "/v1/stats", key, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, agentID, body["agent_id"])
	assert.Equal(t, "worker-1", body["name"])
	assert.Equal(t, float64(1), body["memory_keys"])
	assert.Equal(t, float64(1), body["pending_jobs"])
	assert.Equal(t, float64(1), body["messages_received"])
	assert.Equal(t, float64(1), body["unread_messages"])
	assert.Equal(t, float64(0), body["jobs_completed"])
	assert.GreaterOrEqual(t, body["uptime_seconds"], float64(0))
}

// -----------------------------------------------------------------------------
// System surface
// -----------------------------------------------------------------------------

func TestRootDocument(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "MoltGrid", body["service"])
	assert.Equal(t, "0.3.0", body["version"])

	endpoints, ok := body["endpoints"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "GET /v1/relay/ws", endpoints["relay_ws"])
	assert.Equal(t, "POST /v1/queue/submit", endpoints["queue"])
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodGet, "/v1/health", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "operational", body["status"])
	assert.Equal(t, "0.3.0", body["version"])

	stats, ok := body["stats"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(0), stats["active_webhooks"])
	assert.Equal(t, float64(0), stats["active_schedules"])
	assert.Equal(t, float64(0), stats["websocket_connections"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	resp, err := s.ts.Client().Get(s.ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "moltgrid_")
}

// -----------------------------------------------------------------------------
// Text utilities
// -----------------------------------------------------------------------------

func TestTextProcess(t *testing.T) {
	s := newTestServer(t)
	_, key := s.register(t, "worker-1")

	status, body := s.do(t, http.MethodPost, "/v1/text/process", key, map[string]string{
		"operation": "word_count",
		"text":      "the quick brown fox",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "word_count", body["operation"])
	result, ok := body["result"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(4), result["word_count"])

	status, body = s.do(t, http.MethodPost, "/v1/text/process", key, map[string]string{
		"operation": "hash_sha256",
		"text":      "hello",
	})
	require.Equal(t, http.StatusOK, status)
	result = body["result"].(map[string]interface{})
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", result["hash"])

	status, body = s.do(t, http.MethodPost, "/v1/text/process", key, map[string]string{
		"operation": "shout",
		"text":      "hello",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "bad_request", errorCode(t, body))
}

// -----------------------------------------------------------------------------
// Push socket through the full router
// -----------------------------------------------------------------------------

func TestWebSocketPushAndSend(t *testing.T) {
	s := newTestServer(t)
	senderID, senderKey := s.register(t, "sender")
	receiverID, receiverKey := s.register(t, "receiver")

	wsURL := "ws" + strings.TrimPrefix(s.ts.URL, "http") + "/v1/relay/ws?api_key=" + receiverKey
	conn, resp, err := gws.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool {
		return s.hub.ConnectedCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// An HTTP send to the receiver lands on its socket.
	status, _ := s.do(t, http.MethodPost, "/v1/relay/send", senderKey, map[string]string{
		"to_agent": receiverID,
		"channel":  "tasks",
		"payload":  "over the wire",
	})
	require.Equal(t, http.StatusOK, status)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame map[string]interface{}
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "message.received", frame["event"])
	assert.Equal(t, senderID, frame["from_agent"])
	assert.Equal(t, "tasks", frame["channel"])
	assert.Equal(t, "over the wire", frame["payload"])
	assert.NotEmpty(t, frame["message_id"])

	// An inbound socket frame persists like an HTTP send.
	require.NoError(t, conn.WriteJSON(map[string]string{
		"to_agent": senderID,
		"payload":  "reply by socket",
	}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var reply map[string]interface{}
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "delivered", reply["status"])
	assert.NotEmpty(t, reply["message_id"])

	status, body := s.do(t, http.MethodGet, "/v1/relay/inbox", senderKey, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["count"])
}

func TestWebSocketRejectsBadKey(t *testing.T) {
	s := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(s.ts.URL, "http") + "/v1/relay/ws?api_key=af_" + strings.Repeat("0", 64)
	conn, resp, err := gws.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		resp.Body.Close()
	}
	if conn != nil {
		conn.Close()
	}

	// No key at all is refused the same way.
	wsURL = "ws" + strings.TrimPrefix(s.ts.URL, "http") + "/v1/relay/ws"
	conn, resp, err = gws.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		resp.Body.Close()
	}
	if conn != nil {
		conn.Close()
	}
}
