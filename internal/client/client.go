// Package client is a typed Go client for the MoltGrid HTTP API. The CLI in
// cmd/moltgrid is its main consumer, but it works as a library for any agent
// written in Go. Methods cover the surface an agent needs day to day:
// registration, heartbeats, memory, the job queue, the relay and health.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL targets a locally running server.
const DefaultBaseURL = "http://localhost:8000"

const requestTimeout = 30 * time.Second

// Client talks to one MoltGrid server on behalf of one agent.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

// New creates a Client. An empty baseURL falls back to DefaultBaseURL; an
// empty apiKey is fine for the unauthenticated calls (Register, Health).
func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: requestTimeout},
	}
}

// APIError is a non-2xx response decoded from the server's error envelope.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("moltgrid: %s (%s, http %d)", e.Message, e.Code, e.StatusCode)
}

// -----------------------------------------------------------------------------
// Response types
// -----------------------------------------------------------------------------

type RegisterResult struct {
	AgentID string `json:"agent_id"`
	APIKey  string `json:"api_key"`
	Message string `json:"message"`
}

type Heartbeat struct {
	AgentID       string  `json:"agent_id"`
	Status        string  `json:"status"`
	LastHeartbeat *string `json:"last_heartbeat"`
}

type Stats struct {
	AgentID          string `json:"agent_id"`
	Name             string `json:"name"`
	Status           string `json:"status"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
	MemoryKeys       int64  `json:"memory_keys"`
	SharedMemoryKeys int64  `json:"shared_memory_keys"`
	ActiveWebhooks   int64  `json:"active_webhooks"`
	ActiveSchedules  int64  `json:"active_schedules"`
	PendingJobs      int64  `json:"pending_jobs"`
	JobsCompleted    int64  `json:"jobs_completed"`
	MessagesReceived int64  `json:"messages_received"`
	UnreadMessages   int64  `json:"unread_messages"`
}

type HealthStats struct {
	ActiveWebhooks       int64 `json:"active_webhooks"`
	ActiveSchedules      int64 `json:"active_schedules"`
	WebsocketConnections int   `json:"websocket_connections"`
}

type Health struct {
	Status  string      `json:"status"`
	Version string      `json:"version"`
	Time    string      `json:"time"`
	Stats   HealthStats `json:"stats"`
}

type MemoryEntry struct {
	Key       string  `json:"key"`
	Value     string  `json:"value"`
	Namespace string  `json:"namespace"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
	ExpiresAt *string `json:"expires_at"`
}

type Job struct {
	JobID       string `json:"job_id"`
	AgentID     string `json:"agent_id"`
	QueueName   string `json:"queue_name"`
	Payload     string `json:"payload"`
	Priority    int    `json:"priority"`
	Status      string `json:"status"`
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"max_attempts"`
	ClaimedBy   string `json:"claimed_by"`
	Result      string `json:"result"`
	Error       string `json:"error"`
	CreatedAt   string `json:"created_at"`
}

type Message struct {
	MessageID string  `json:"message_id"`
	FromAgent string  `json:"from_agent"`
	ToAgent   string  `json:"to_agent"`
	Channel   string  `json:"channel"`
	Payload   string  `json:"payload"`
	CreatedAt string  `json:"created_at"`
	ReadAt    *string `json:"read_at"`
}

type SendResult struct {
	MessageID   string `json:"message_id"`
	DeliveredAt string `json:"delivered_at"`
}

// -----------------------------------------------------------------------------
// Identity
// -----------------------------------------------------------------------------

// Register creates a new agent. No API key is required; the result carries
// the one and only copy of the new key.
func (c *Client) Register(ctx context.Context, name, description string) (*RegisterResult, error) {
	body := map[string]string{"name": name, "description": description}
	var out RegisterResult
	if err := c.do(ctx, http.MethodPost, "/v1/register", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendHeartbeat marks the agent alive. An empty status means online.
func (c *Client) SendHeartbeat(ctx context.Context, status string) (*Heartbeat, error) {
	body := map[string]string{}
	if status != "" {
		body["status"] = status
	}
	var out Heartbeat
	if err := c.do(ctx, http.MethodPost, "/v1/heartbeat", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetStats returns the caller's resource rollup.
func (c *Client) GetStats(ctx context.Context) (*Stats, error) {
	var out Stats
	if err := c.do(ctx, http.MethodGet, "/v1/stats", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetHealth probes the server. No API key required.
func (c *Client) GetHealth(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.do(ctx, http.MethodGet, "/v1/health", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// -----------------------------------------------------------------------------
// Memory
// -----------------------------------------------------------------------------

// MemorySet stores a key. ttlSeconds of zero means no expiry; positive values
// must be at least 60 or the server rejects the write.
func (c *Client) MemorySet(ctx context.Context, key, value, namespace string, ttlSeconds int) (*MemoryEntry, error) {
	body := map[string]interface{}{"key": key, "value": value}
	if namespace != "" {
		body["namespace"] = namespace
	}
	if ttlSeconds > 0 {
		body["ttl_seconds"] = ttlSeconds
	}
	var out MemoryEntry
	if err := c.do(ctx, http.MethodPost, "/v1/memory", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) MemoryGet(ctx context.Context, key, namespace string) (*MemoryEntry, error) {
	var out MemoryEntry
	if err := c.do(ctx, http.MethodGet, "/v1/memory/"+url.PathEscape(key), namespaceQuery(namespace), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) MemoryList(ctx context.Context, namespace, prefix string) ([]MemoryEntry, error) {
	query := namespaceQuery(namespace)
	if prefix != "" {
		if query == nil {
			query = url.Values{}
		}
		query.Set("prefix", prefix)
	}
	var out struct {
		Entries []MemoryEntry `json:"entries"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/memory", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

func (c *Client) MemoryDelete(ctx context.Context, key, namespace string) error {
	return c.do(ctx, http.MethodDelete, "/v1/memory/"+url.PathEscape(key), namespaceQuery(namespace), nil, nil)
}

// -----------------------------------------------------------------------------
// Job queue
// -----------------------------------------------------------------------------

// QueueSubmit enqueues a job. Zero or negative priority and maxAttempts are
// omitted so the server defaults (5 and 3) apply.
func (c *Client) QueueSubmit(ctx context.Context, payload, queueName string, priority, maxAttempts int) (*Job, error) {
	body := map[string]interface{}{"payload": payload}
	if queueName != "" {
		body["queue_name"] = queueName
	}
	if priority > 0 {
		body["priority"] = priority
	}
	if maxAttempts > 0 {
		body["max_attempts"] = maxAttempts
	}
	var out Job
	if err := c.do(ctx, http.MethodPost, "/v1/queue/submit", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// QueueClaim pops the best pending job. A nil Job with nil error means the
// queue is empty.
func (c *Client) QueueClaim(ctx context.Context, queueName string) (*Job, error) {
	var query url.Values
	if queueName != "" {
		query = url.Values{"queue_name": {queueName}}
	}
	var out Job
	if err := c.do(ctx, http.MethodPost, "/v1/queue/claim", query, nil, &out); err != nil {
		return nil, err
	}
	if out.JobID == "" {
		return nil, nil
	}
	return &out, nil
}

func (c *Client) QueueComplete(ctx context.Context, jobID, result string) (*Job, error) {
	var query url.Values
	if result != "" {
		query = url.Values{"result": {result}}
	}
	var out Job
	if err := c.do(ctx, http.MethodPost, "/v1/queue/"+url.PathEscape(jobID)+"/complete", query, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) QueueFail(ctx context.Context, jobID, reason string) (*Job, error) {
	var query url.Values
	if reason != "" {
		query = url.Values{"reason": {reason}}
	}
	var out Job
	if err := c.do(ctx, http.MethodPost, "/v1/queue/"+url.PathEscape(jobID)+"/fail", query, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) QueueList(ctx context.Context, queueName, status string) ([]Job, error) {
	query := url.Values{}
	if queueName != "" {
		query.Set("queue_name", queueName)
	}
	if status != "" {
		query.Set("status", status)
	}
	var out struct {
		Jobs []Job `json:"jobs"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/queue", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

func (c *Client) QueueDeadLetter(ctx context.Context, queueName string) ([]Job, error) {
	var query url.Values
	if queueName != "" {
		query = url.Values{"queue_name": {queueName}}
	}
	var out struct {
		Jobs []Job `json:"jobs"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/queue/dead-letter", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

func (c *Client) QueueReplay(ctx context.Context, jobID string) (*Job, error) {
	var out Job
	if err := c.do(ctx, http.MethodPost, "/v1/queue/"+url.PathEscape(jobID)+"/replay", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// -----------------------------------------------------------------------------
// Relay
// -----------------------------------------------------------------------------

func (c *Client) SendMessage(ctx context.Context, toAgent, payload, channel string) (*SendResult, error) {
	body := map[string]string{"to_agent": toAgent, "payload": payload}
	if channel != "" {
		body["channel"] = channel
	}
	var out SendResult
	if err := c.do(ctx, http.MethodPost, "/v1/relay/send", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetInbox(ctx context.Context, channel string, unreadOnly bool) ([]Message, error) {
	query := url.Values{"unread_only": {strconv.FormatBool(unreadOnly)}}
	if channel != "" {
		query.Set("channel", channel)
	}
	var out struct {
		Messages []Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/relay/inbox", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	return c.do(ctx, http.MethodPost, "/v1/relay/"+url.PathEscape(messageID)+"/read", nil, nil, nil)
}

// -----------------------------------------------------------------------------
// Internal helpers
// -----------------------------------------------------------------------------

// do runs one request. body (when non-nil) is JSON-encoded; out (when
// non-nil) receives the decoded 2xx response. Non-2xx statuses come back as
// *APIError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("client: failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("client: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: failed to decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Message = envelope.Error.Message
		apiErr.Code = envelope.Error.Code
	}
	return apiErr
}

func namespaceQuery(namespace string) url.Values {
	if namespace == "" {
		return nil
	}
	return url.Values{"namespace": {namespace}}
}
