package handlers

import (
	"net/http"

	"mood-pulse-backend/internal/services"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler streams pulse events to anonymous viewers
type WebSocketHandler struct {
	hub      *services.WSHub
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates a new WebSocket handler. An empty allowedOrigins
// or a "*" entry accepts any origin.
func NewWebSocketHandler(hub *services.WSHub, allowedOrigins []string) *WebSocketHandler {
	return &WebSocketHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// HandleWebSocket handles GET /ws
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	connID, err := h.hub.Register(conn)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to register WebSocket connection")
		_ = conn.Close()
		return
	}
	defer h.hub.Unregister(connID)

	// Viewers only listen; inbound frames are drained so pongs and close are processed.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("conn_id", connID).Msg("WebSocket error")
			}
			return
		}
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
