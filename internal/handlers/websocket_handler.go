package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/truetrek/agent/internal/bridge"
	"github.com/truetrek/agent/internal/observability"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The agent listens on loopback only
		return true
	},
}

// WebSocketHandler upgrades bridge connections
type WebSocketHandler struct {
	hub *bridge.Hub
}

// NewWebSocketHandler creates a new WebSocketHandler
func NewWebSocketHandler(hub *bridge.Hub) *WebSocketHandler {
	return &WebSocketHandler{hub: hub}
}

// HandleConnection upgrades HTTP to WebSocket and manages the connection
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		observability.WithField("error", err.Error()).Warn("WebSocket upgrade failed")
		return
	}

	session := h.hub.NewSession(uuid.New().String(), conn)

	// Start the write pump in a goroutine
	go session.WritePump()

	// Run the read pump (blocks until connection closes)
	session.ReadPump()
}
