package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/truetrek/agent/internal/models"
	"github.com/truetrek/agent/internal/observability"
)

const (
	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
)

// ErrNotConnected is returned when a send is attempted while the bridge is down
var ErrNotConnected = errors.New("bridge not connected")

// Client is the cache proxy's side of the bridge. It keeps a connection to
// the agent's hub, reconnecting with capped backoff, and surfaces
// force-activate messages to the proxy.
type Client struct {
	url  string
	mu   sync.Mutex
	conn *websocket.Conn

	// OnForceActivate is invoked with the generation token of each
	// force-activate message received from the hub.
	OnForceActivate func(generation string)

	// OnEvent receives every event frame broadcast by the hub
	OnEvent func(evt models.Event)
}

// NewClient creates a bridge client for the given agent WebSocket URL
func NewClient(url string) *Client {
	return &Client{url: url}
}

// Run dials the hub and processes frames until the context is cancelled,
// redialing on every disconnect.
func (c *Client) Run(ctx context.Context) {
	backoff := reconnectBase

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err != nil {
			observability.WithFields(map[string]interface{}{
				"url":   c.url,
				"error": err.Error(),
			}).Warn("Bridge dial failed, retrying")

			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > reconnectMax {
				backoff = reconnectMax
			}
			continue
		}

		backoff = reconnectBase
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		observability.WithField("url", c.url).Info("Bridge connected")

		c.readLoop(ctx, conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}
}

// readLoop consumes frames until the connection drops or ctx is cancelled
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		c.handleFrame(data)
	}
}

// handleFrame dispatches one frame from the hub
func (c *Client) handleFrame(data []byte) {
	var frame struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		observability.WithField("error", err.Error()).Warn("Malformed bridge frame")
		return
	}

	switch frame.Type {
	case FrameMessage:
		msg, err := models.DecodeMessage(frame.Payload)
		if err != nil {
			observability.WithField("error", err.Error()).Warn("Undecodable bridge message")
			return
		}
		if msg.Kind == models.MsgForceActivate && c.OnForceActivate != nil {
			c.OnForceActivate(msg.Generation)
		}

	case FrameEvent:
		if c.OnEvent == nil {
			return
		}
		var evt models.Event
		if err := json.Unmarshal(frame.Payload, &evt); err != nil {
			return
		}
		c.OnEvent(evt)

	case FrameError:
		observability.WithField("detail", string(frame.Payload)).Warn("Bridge rejected a message")
	}
}

// SendTrigger asks the agent to start a drain for the given kind
func (c *Client) SendTrigger(kind models.Kind) error {
	var msg models.Message
	switch kind {
	case models.KindPhoto:
		msg = models.Message{Kind: models.MsgTriggerPhotoSync}
	case models.KindComment:
		msg = models.Message{Kind: models.MsgTriggerCommentSync}
	default:
		return models.ErrUnknownKind
	}
	return c.send(msg.Encode())
}

// send writes one frame if currently connected
func (c *Client) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
