package websocket

import (
	"sync"

	"github.com/D0NMEGA/MoltGrid/internal/metrics"
)

// Hub is the registry of live push sockets, keyed by agent. An agent may hold
// any number of concurrent sockets; a push goes to all of them.
//
// # Design: single-writer event loop
//
// All mutations to the registry (register, unregister) are serialised through
// a single goroutine, the Run loop, via channels. Push is the one exception:
// it holds a read-lock for the shortest possible time to copy the target set,
// then sends outside the lock so a slow client cannot stall the event loop.
type Hub struct {
	// agents maps agent_id to that agent's connected clients. clients is the
	// flat set of everything connected. Both maps are always updated together.
	agents  map[string]map[*Client]struct{}
	clients map[*Client]struct{}

	// mu protects agents and clients during Push, which reads them from
	// outside the Run goroutine. Register and unregister writes happen
	// exclusively inside Run.
	mu sync.RWMutex

	// register receives clients that have completed the WebSocket upgrade.
	register chan *Client

	// unregister receives clients that have disconnected or stopped keeping
	// up with their send buffer.
	unregister chan *Client

	// stopped is closed when the Run loop exits.
	stopped chan struct{}
}

// NewHub creates an idle Hub. Call Run in a goroutine to start it.
func NewHub() *Hub {
	return &Hub{
		agents:     make(map[string]map[*Client]struct{}),
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		stopped:    make(chan struct{}),
	}
}

// Run starts the hub's event loop. It must be called exactly once, in its own
// goroutine. It exits when ctx is cancelled during server shutdown.
//
//	go hub.Run(ctx)
func (h *Hub) Run(ctx interface{ Done() <-chan struct{} }) {
	defer close(h.stopped)

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			if h.agents[client.agentID] == nil {
				h.agents[client.agentID] = make(map[*Client]struct{})
			}
			h.agents[client.agentID][client] = struct{}{}
			h.mu.Unlock()
			metrics.WSConnectionsActive.Inc()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				delete(h.agents[client.agentID], client)
				if len(h.agents[client.agentID]) == 0 {
					delete(h.agents, client.agentID)
				}
				// Signal the client's writePump to drain and exit.
				close(client.send)
				metrics.WSConnectionsActive.Dec()
			}
			h.mu.Unlock()

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
			}
			h.clients = make(map[*Client]struct{})
			h.agents = make(map[string]map[*Client]struct{})
			h.mu.Unlock()
			metrics.WSConnectionsActive.Set(0)
			return
		}
	}
}

// Push sends payload to every live socket of agentID. Safe to call from any
// goroutine. Clients whose send buffer is full are disconnected so a slow
// consumer cannot hold up the rest.
func (h *Hub) Push(agentID string, payload interface{}) {
	h.mu.RLock()
	targets := h.agents[agentID]
	clients := make([]*Client, 0, len(targets))
	for c := range targets {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- payload:
		default:
			h.unregister <- c
		}
	}
}

// Subscribe registers client with the hub. Called by the upgrade handler
// after authentication.
func (h *Hub) Subscribe(client *Client) {
	h.register <- client
}

// Unsubscribe removes client from the hub. Called by the client's readPump
// when the connection closes.
func (h *Hub) Unsubscribe(client *Client) {
	h.unregister <- client
}

// ConnectedCount returns the number of connected sockets. Used by the health
// endpoint.
func (h *Hub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
