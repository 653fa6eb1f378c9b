package models

import (
	"encoding/json"
	"fmt"
)

// MessageKind is the closed set of cross-context control messages exchanged
// between the agent and the cache proxy over the bridge.
type MessageKind string

const (
	MsgTriggerPhotoSync   MessageKind = "trigger-photo-sync"
	MsgTriggerCommentSync MessageKind = "trigger-comment-sync"
	MsgForceActivate      MessageKind = "force-activate"
)

// Message is a control frame on the bridge. Generation is only set for
// force-activate.
type Message struct {
	Kind       MessageKind `json:"kind"`
	Generation string      `json:"generation,omitempty"`
}

// UnknownMessageError is returned when a bridge frame carries a kind outside
// the supported set. Unknown kinds are rejected, never silently dropped.
type UnknownMessageError struct {
	Kind string
}

func (e *UnknownMessageError) Error() string {
	return fmt.Sprintf("unknown bridge message kind %q", e.Kind)
}

// DecodeMessage parses and validates a bridge control frame
func DecodeMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("malformed bridge message: %w", err)
	}
	switch msg.Kind {
	case MsgTriggerPhotoSync, MsgTriggerCommentSync:
		return &msg, nil
	case MsgForceActivate:
		if msg.Generation == "" {
			return nil, fmt.Errorf("force-activate requires a generation")
		}
		return &msg, nil
	default:
		return nil, &UnknownMessageError{Kind: string(msg.Kind)}
	}
}

// Encode serializes the message for the wire
func (m *Message) Encode() []byte {
	data, _ := json.Marshal(m)
	return data
}
