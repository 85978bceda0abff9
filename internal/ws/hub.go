package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"candyscope/internal/pipeline"
)

// TopicLive carries rendered live ticks and session status changes
const TopicLive = "live"

// client is one connection with its outbound queue
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub manages WebSocket connections per topic. Broadcasts never block:
// messages for a client whose queue is full are dropped.
type Hub struct {
	clients map[string]map[*client]bool
	mu      sync.RWMutex
	logger  *zap.SugaredLogger
}

// NewHub creates a new hub
func NewHub(logger *zap.SugaredLogger) *Hub {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Hub{
		clients: make(map[string]map[*client]bool),
		logger:  logger.Named("ws"),
	}
}

func (h *Hub) register(topic string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[topic] == nil {
		h.clients[topic] = make(map[*client]bool)
	}
	h.clients[topic][c] = true
	h.logger.Infow("client registered", "topic", topic, "total", len(h.clients[topic]))
}

func (h *Hub) unregister(topic string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.clients[topic]; ok {
		if _, ok := conns[c]; !ok {
			return
		}
		delete(conns, c)
		close(c.send)
		if len(conns) == 0 {
			delete(h.clients, topic)
		}
		h.logger.Infow("client unregistered", "topic", topic)
	}
}

// HasClients returns true if any client listens on topic
func (h *Hub) HasClients(topic string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic]) > 0
}

// ClientCount returns the total number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, conns := range h.clients {
		count += len(conns)
	}
	return count
}

// Broadcast queues message for every client on topic
func (h *Hub) Broadcast(topic string, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients[topic] {
		select {
		case c.send <- message:
		default:
		}
	}
}

// BroadcastJSON marshals v and broadcasts it on topic
func (h *Hub) BroadcastJSON(topic string, v any) {
	if !h.HasClients(topic) {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Errorw("marshal message", "error", err)
		return
	}
	h.Broadcast(topic, data)
}

// OnTickResult implements pipeline.TickResultHandler
func (h *Hub) OnTickResult(result *pipeline.TickResult) {
	if result == nil || !h.HasClients(TopicLive) {
		return
	}
	h.BroadcastJSON(TopicLive, NewTickMessage(result))
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for topic, conns := range h.clients {
		for c := range conns {
			close(c.send)
		}
		delete(h.clients, topic)
	}
}

var _ pipeline.TickResultHandler = (*Hub)(nil)
