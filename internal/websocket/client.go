package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/D0NMEGA/MoltGrid/internal/repositories"
)

const (
	// writeWait is the maximum time allowed to write a message to the peer.
	// If the write does not complete within this window the connection is
	// closed, so a stalled client cannot block the writePump.
	writeWait = 10 * time.Second

	// pongWait is how long the server waits for a pong reply after sending
	// a ping. The connection is closed if no pong arrives in time.
	pongWait = 60 * time.Second

	// pingPeriod is how often the server sends a ping frame to the client.
	// Must be less than pongWait so the client has time to reply.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum inbound frame size in bytes. Frames
	// carry relay payloads, so the limit matches the HTTP body cap order of
	// magnitude rather than a control-frame-only budget.
	maxMessageSize = 64 << 10

	// sendBufferSize is the capacity of the per-client outbound channel.
	// When it fills the client is considered too slow and is disconnected.
	sendBufferSize = 32

	// sendTimeout bounds the database work for one inbound frame.
	sendTimeout = 10 * time.Second
)

// upgrader performs the HTTP to WebSocket protocol upgrade. CheckOrigin
// always returns true; the callers are headless agents, not browsers, and
// authentication happens via the api_key query parameter before the upgrade.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is a single connected push socket. Each client runs two goroutines:
// readPump (inbound frames, pong handling, disconnect detection) and
// writePump (serialises replies and pushed events onto the wire).
//
// The send channel is the handoff point between Hub.Push and the writePump.
// It is closed by the hub when the client is unregistered, which causes
// writePump to drain and exit cleanly.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	agentID string
	sender  Sender

	// send is the outbound buffer. The hub and handleFrame write here;
	// writePump reads and forwards to the wire.
	send chan interface{}

	logger *zap.Logger
}

// NewClient upgrades the HTTP connection and builds a client bound to the
// authenticated agent. Returns an error if the handshake is not a valid
// WebSocket upgrade.
func NewClient(hub *Hub, sender Sender, w http.ResponseWriter, r *http.Request, agentID string, logger *zap.Logger) (*Client, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	c := &Client{
		hub:     hub,
		conn:    conn,
		agentID: agentID,
		sender:  sender,
		send:    make(chan interface{}, sendBufferSize),
		logger: logger.With(
			zap.String("agent_id", agentID),
			zap.String("remote_addr", r.RemoteAddr)),
	}
	return c, nil
}

// Run registers the client with the hub and starts the pumps. It blocks until
// the connection closes.
func (c *Client) Run() {
	c.hub.Subscribe(c)

	// writePump runs in its own goroutine because it blocks on the send
	// channel and the wire write. readPump runs on the current goroutine.
	go c.writePump()
	c.readPump()
}

// readPump reads inbound frames, treats each as a relay send, and resets the
// read deadline on every pong. When the loop exits the client is unregistered
// from the hub.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unsubscribe(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("ws: failed to set read deadline", zap.Error(err))
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				c.logger.Warn("ws: unexpected close", zap.Error(err))
			}
			return
		}
		c.handleFrame(raw)
	}
}

// handleFrame persists one inbound frame through the relay and answers on
// the same socket. Invalid frames are answered with an error and nothing is
// persisted.
func (c *Client) handleFrame(raw []byte) {
	var frame sendFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.reply(errorReply("malformed frame"))
		return
	}
	if frame.ToAgent == "" || frame.Payload == "" {
		c.reply(errorReply("to_agent and payload are required"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	msg, err := c.sender.Send(ctx, c.agentID, frame.ToAgent, frame.Channel, frame.Payload)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			c.reply(errorReply("recipient not found"))
			return
		}
		c.logger.Error("ws: send failed", zap.Error(err))
		c.reply(errorReply("internal error"))
		return
	}
	c.reply(deliveredReply(msg.MessageID))
}

// reply queues payload for the writePump without blocking. A full buffer
// means the peer stopped reading its own replies; drop and let the keepalive
// machinery collect the connection.
func (c *Client) reply(payload interface{}) {
	select {
	case c.send <- payload:
	default:
		c.logger.Warn("ws: send buffer full, dropping reply")
	}
}

// writePump forwards queued payloads to the wire and sends periodic pings.
// It is the only goroutine that writes to conn; gorilla/websocket connections
// are not safe for concurrent writes.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("ws: failed to set write deadline", zap.Error(err))
				return
			}

			if !ok {
				// The hub closed the channel; send a close frame and exit.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(payload); err != nil {
				c.logger.Warn("ws: write error", zap.Error(err))
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("ws: failed to set write deadline", zap.Error(err))
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
