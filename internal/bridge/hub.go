package bridge

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/truetrek/agent/internal/models"
	"github.com/truetrek/agent/internal/observability"
	"github.com/truetrek/agent/internal/services"
)

// Frame is the envelope for everything the hub sends to connected clients
type Frame struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// Frame types
const (
	FrameEvent   = "event"
	FrameMessage = "message"
	FrameError   = "error"
)

// Session represents one connected bridge client (the capture UI badge or
// the cache proxy).
type Session struct {
	ID         string
	Conn       *websocket.Conn
	Send       chan []byte
	hub        *Hub
	writeMu    sync.Mutex
	closedOnce sync.Once
}

// Hub fans sync status events out to connected WebSocket clients and routes
// inbound control messages. Trigger messages start a queue drain;
// force-activate is forwarded to every client so the cache proxy can swap
// generations.
type Hub struct {
	clients    map[*Session]bool
	register   chan *Session
	unregister chan *Session
	broadcast  chan []byte
	mu         sync.RWMutex

	// OnTrigger is invoked once per received trigger message
	OnTrigger func(kind models.Kind)
}

// NewHub creates a hub wired to the event bus: every published event is
// broadcast to all connected clients as an event frame.
func NewHub(bus *services.EventBus) *Hub {
	h := &Hub{
		clients:    make(map[*Session]bool),
		register:   make(chan *Session),
		unregister: make(chan *Session),
		broadcast:  make(chan []byte, 256),
	}

	bus.Subscribe(func(evt models.Event) {
		h.Broadcast(Frame{Type: FrameEvent, Payload: evt})
	})

	return h
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case session := <-h.register:
			h.mu.Lock()
			h.clients[session] = true
			h.mu.Unlock()
			observability.WithField("session_id", session.ID).Info("Bridge client connected")

		case session := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[session]; ok {
				delete(h.clients, session)
				close(session.Send)
			}
			h.mu.Unlock()
			observability.WithField("session_id", session.ID).Info("Bridge client disconnected")

		case msg := <-h.broadcast:
			h.mu.RLock()
			for session := range h.clients {
				select {
				case session.Send <- msg:
				default:
					// Client buffer full, close connection
					go func(s *Session) {
						h.unregister <- s
					}(session)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast sends a frame to every connected client
func (h *Hub) Broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		observability.WithField("error", err.Error()).Error("Failed to marshal bridge frame")
		return
	}
	h.broadcast <- data
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// NewSession creates a session bound to this hub and registers it
func (h *Hub) NewSession(id string, conn *websocket.Conn) *Session {
	session := &Session{
		ID:   id,
		Conn: conn,
		Send: make(chan []byte, 256),
		hub:  h,
	}
	h.register <- session
	return session
}

// HandleInbound routes one raw inbound frame. Trigger messages start a
// drain, force-activate is rebroadcast, and unknown kinds earn the sender
// an error frame.
func (h *Hub) HandleInbound(session *Session, data []byte) {
	msg, err := models.DecodeMessage(data)
	if err != nil {
		var unknown *models.UnknownMessageError
		if errors.As(err, &unknown) {
			observability.WithFields(map[string]interface{}{
				"session_id": session.ID,
				"kind":       unknown.Kind,
			}).Warn("Rejected bridge message with unknown kind")
		}
		session.sendFrame(Frame{Type: FrameError, Payload: err.Error()})
		return
	}

	switch msg.Kind {
	case models.MsgTriggerPhotoSync:
		if h.OnTrigger != nil {
			h.OnTrigger(models.KindPhoto)
		}
	case models.MsgTriggerCommentSync:
		if h.OnTrigger != nil {
			h.OnTrigger(models.KindComment)
		}
	case models.MsgForceActivate:
		observability.WithField("cache.generation", msg.Generation).Info("Forwarding force-activate")
		h.Broadcast(Frame{Type: FrameMessage, Payload: msg})
	}
}

// Session methods

// sendFrame queues a frame for this session only
func (s *Session) sendFrame(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	select {
	case s.Send <- data:
	default:
	}
}

// Close closes the session connection
func (s *Session) Close() {
	s.closedOnce.Do(func() {
		s.hub.unregister <- s
		s.Conn.Close()
	})
}

// WritePump pumps queued frames to the websocket connection
func (s *Session) WritePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		s.Close()
	}()

	for {
		select {
		case message, ok := <-s.Send:
			s.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				s.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			s.writeMu.Lock()
			err := s.Conn.WriteMessage(websocket.TextMessage, message)
			s.writeMu.Unlock()

			if err != nil {
				return
			}

		case <-ticker.C:
			s.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadPump pumps inbound control messages into the hub
func (s *Session) ReadPump() {
	defer s.Close()

	s.Conn.SetReadLimit(64 * 1024)
	s.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	s.Conn.SetPongHandler(func(string) error {
		s.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				observability.WithField("error", err.Error()).Warn("Bridge read error")
			}
			break
		}
		s.hub.HandleInbound(s, message)
	}
}
