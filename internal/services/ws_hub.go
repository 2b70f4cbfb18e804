package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"mood-pulse-backend/internal/config"
	"mood-pulse-backend/internal/metrics"
	"mood-pulse-backend/internal/models"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ErrHubClosed is returned by Register after the hub has shut down
var ErrHubClosed = errors.New("websocket hub closed")

const maxInboundMessageSize = 1024

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// WSHub fans pulse events out to anonymous viewers
type WSHub struct {
	mu           sync.RWMutex
	connections  map[string]*wsClient
	closed       bool
	sendBuffer   int
	writeTimeout time.Duration
	pingInterval time.Duration
}

// NewWSHub creates a new WebSocket hub
func NewWSHub(cfg config.BroadcastConfig) *WSHub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 32
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	return &WSHub{
		connections:  make(map[string]*wsClient),
		sendBuffer:   cfg.SendBuffer,
		writeTimeout: cfg.WriteTimeout,
		pingInterval: cfg.PingInterval,
	}
}

// pongWait is how long a viewer may stay silent before its connection is dropped
func (h *WSHub) pongWait() time.Duration {
	return h.pingInterval * 10 / 9
}

// Register adds a viewer connection and starts its writer. The caller must
// run the read loop and call Unregister when it ends.
func (h *WSHub) Register(conn *websocket.Conn) (string, error) {
	c := &wsClient{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, h.sendBuffer),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return "", ErrHubClosed
	}
	h.connections[c.id] = c
	count := len(h.connections)
	h.mu.Unlock()

	metrics.WebSocketClients.Set(float64(count))
	go h.writePump(c)

	conn.SetReadLimit(maxInboundMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(h.pongWait())); err != nil {
		h.Unregister(c.id)
		return "", err
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.pongWait()))
	})

	log.Info().Str("conn_id", c.id).Int("viewers", count).Msg("WebSocket viewer registered")
	return c.id, nil
}

// Unregister removes a viewer; its writer closes the connection. Safe to call twice.
func (h *WSHub) Unregister(id string) {
	h.mu.Lock()
	c, exists := h.connections[id]
	if exists {
		delete(h.connections, id)
		close(c.send)
	}
	count := len(h.connections)
	h.mu.Unlock()

	if exists {
		metrics.WebSocketClients.Set(float64(count))
		log.Info().Str("conn_id", id).Int("viewers", count).Msg("WebSocket viewer unregistered")
	}
}

// Publish marshals message once and queues it for every viewer.
// Viewers whose buffer is full miss this message.
func (h *WSHub) Publish(message WSMessage) {
	if message.Timestamp == 0 {
		message.Timestamp = time.Now().UnixMilli()
	}
	data, err := json.Marshal(message)
	if err != nil {
		log.Error().Err(err).Str("type", message.Type).Msg("Failed to marshal message")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, c := range h.connections {
		select {
		case c.send <- data:
		default:
			metrics.BroadcastDropped.Inc()
			log.Debug().Str("conn_id", id).Str("type", message.Type).Msg("Viewer buffer full, message dropped")
		}
	}
}

// PulseCreated pushes a new pulse to viewers
func (h *WSHub) PulseCreated(pulse models.PulseDTO) {
	h.Publish(WSMessage{Type: "pulse_created", Data: pulse})
}

// PulseDeleted tells viewers to drop a pin
func (h *WSHub) PulseDeleted(id string) {
	h.Publish(WSMessage{Type: "pulse_deleted", Data: map[string]string{"id": id}})
}

// Count returns the number of connected viewers
func (h *WSHub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Serve blocks until ctx is cancelled, then disconnects every viewer
func (h *WSHub) Serve(ctx context.Context) error {
	<-ctx.Done()

	h.mu.Lock()
	h.closed = true
	for id, c := range h.connections {
		delete(h.connections, id)
		close(c.send)
	}
	h.mu.Unlock()

	metrics.WebSocketClients.Set(0)
	log.Info().Msg("WebSocket hub stopped")
	return ctx.Err()
}

// String implements fmt.Stringer for supervisor logging
func (h *WSHub) String() string {
	return "websocket-hub"
}

func (h *WSHub) writePump(c *wsClient) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("conn_id", c.id).Msg("Failed to send message")
				h.Unregister(c.id)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.Unregister(c.id)
				return
			}
		}
	}
}
