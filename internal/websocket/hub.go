package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Message types pushed to presentation clients.
const (
	TypePreferencesUpdated = "preferences_updated"
	TypeUnreadCount        = "unread_count"
	TypePendingCount       = "pending_count"
	TypeConnectivity       = "connectivity"
)

// Message is a real-time update sent to connected clients.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func NewMessage(typ string, data any) Message {
	return Message{Type: typ, Data: data}
}

// Hub maintains the set of active WebSocket clients and broadcasts messages.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger.With("component", "websocket"),
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Broadcast sends a message to all connected clients.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "type", msg.Type, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		offer(c, data)
	}
}

// Send delivers a message to one client if it is still registered.
func (h *Hub) Send(c *Client, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal message", "type", msg.Type, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; ok {
		offer(c, data)
	}
}

// offer drops the message when the client's buffer is full rather than
// blocking the sender.
func offer(c *Client, data []byte) {
	select {
	case c.send <- data:
	default:
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
