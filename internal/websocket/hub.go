// Package websocket pushes live affiliate activity to dashboard clients.
package websocket

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin enforcement belongs to the platform gateway in front of
		// this service.
		return true
	},
}

// Hub tracks connected dashboard clients and fans broadcasts out to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu        sync.RWMutex
	startedAt time.Time
	logger    *zap.SugaredLogger
}

func NewHub(logger *zap.SugaredLogger) *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		startedAt:  time.Now(),
		logger:     logger,
	}
}

// Run is the hub's main loop. Call it once, in its own goroutine.
func (h *Hub) Run() {
	heartbeatTicker := time.NewTicker(pingPeriod)
	defer heartbeatTicker.Stop()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Infow("dashboard client connected", "client_id", client.ID, "total", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Infow("dashboard client disconnected", "client_id", client.ID, "total", count)

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow consumer, drop it.
					go func(c *Client) {
						h.unregister <- c
					}(client)
				}
			}
			h.mu.RUnlock()

		case <-heartbeatTicker.C:
			h.sendHeartbeat()
		}
	}
}

func (h *Hub) sendHeartbeat() {
	count := h.ClientCount()
	if count == 0 {
		return
	}

	msg := NewMessage(TypeHeartbeat, "ping", HeartbeatData{
		ServerTime:  time.Now().UTC(),
		ClientCount: count,
	})
	if data, err := msg.ToJSON(); err == nil {
		h.Broadcast(data)
	}
}

// Broadcast queues a raw frame for every client. Frames are dropped rather
// than blocking ledger work when the channel is full.
func (h *Hub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warnw("broadcast channel full, message dropped")
	}
}

// BroadcastEvent wraps data in a timestamped message and broadcasts it.
func (h *Hub) BroadcastEvent(msgType, event string, data interface{}) error {
	msg := NewMessage(msgType, event, data)
	frame, err := msg.ToJSON()
	if err != nil {
		return err
	}
	h.Broadcast(frame)
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWs upgrades an HTTP request into a hub subscription.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(h, conn, uuid.New().String()[:8])
	h.register <- client

	welcome := NewMessage(TypeHealth, "connected", map[string]interface{}{
		"client_id":   client.ID,
		"server_time": time.Now().UTC(),
	})
	if data, err := welcome.ToJSON(); err == nil {
		client.send <- data
	}

	go client.WritePump()
	go client.ReadPump()
}

// Stats reports hub state for the health endpoint.
func (h *Hub) Stats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return map[string]interface{}{
		"client_count": len(h.clients),
		"started_at":   h.startedAt,
		"uptime":       time.Since(h.startedAt).String(),
	}
}
