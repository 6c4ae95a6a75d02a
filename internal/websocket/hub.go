// Package websocket streams dashboard state and notifications to connected
// browsers.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"bilancio/internal/notify"
)

const (
	TypeDashboard    = "dashboard"
	TypeNotification = "notification"
)

// Message is one frame sent to clients.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub maintains the set of active clients and broadcasts messages. The last
// dashboard is replayed to clients that connect later.
type Hub struct {
	mu        sync.RWMutex
	clients   map[*Client]struct{}
	dashboard []byte
	logger    *slog.Logger
}

var _ notify.Notifier = (*Hub)(nil)

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	last := h.dashboard
	h.mu.Unlock()
	if last != nil {
		c.enqueue(last)
	}
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

// Broadcast sends a message to all connected clients.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast", "type", msg.Type, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if msg.Type == TypeDashboard {
		h.dashboard = data
	}
	for c := range h.clients {
		c.enqueue(data)
	}
}

// Notify forwards a notification event to every client.
func (h *Hub) Notify(_ context.Context, e notify.Event) error {
	h.Broadcast(Message{Type: TypeNotification, Data: e})
	return nil
}

// Follow broadcasts every value received from updates until the channel is
// closed.
func Follow[T any](h *Hub, updates <-chan T) {
	for v := range updates {
		h.Broadcast(Message{Type: TypeDashboard, Data: v})
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
