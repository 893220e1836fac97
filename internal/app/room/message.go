/*
Package room implements the per-room presence and game-state actor.

This file defines the WebSocket message envelopes exchanged with clients, their payloads,
and the helpers used to build outbound messages.
*/
package room

import (
	"encoding/json"
	"fmt"
	"time"

	"roomsync/internal/app/user"
)

// MessageType identifies the payload carried by an envelope.
type MessageType string

// Inbound message types (client -> server).
const (
	TypeHeartbeat MessageType = "heartbeat"
	TypeMouse     MessageType = "mouse"
	TypeAction    MessageType = "action"
	TypeLeave     MessageType = "leave"
)

// Outbound message types (server -> client).
const (
	TypeInit     MessageType = "init"
	TypeSnapshot MessageType = "snapshot"
	TypeError    MessageType = "error"
)

// InboundMessage is the envelope of every client message. Payload is decoded once the
// type is known.
type InboundMessage struct {
	Type    MessageType     `json:"type" validate:"required"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message is the envelope of every server message.
type Message struct {
	Type MessageType `json:"type"`

	// Room is the room key the message belongs to.
	Room string `json:"room"`

	// Timestamp is the server time in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`

	Payload any `json:"payload,omitempty"`
}

// HeartbeatPayload binds the sending connection to UserID and refreshes its liveness.
type HeartbeatPayload struct {
	UserID string `json:"userId" validate:"required,max=128"`
}

// MousePayload reports a pointer position. Timestamp is informational; the server stamps
// accepted positions with its own receive time.
type MousePayload struct {
	X         *float64 `json:"x" validate:"required"`
	Y         *float64 `json:"y" validate:"required"`
	Timestamp int64    `json:"timestamp,omitempty"`
}

// SnapshotPayload is the full list of visible users.
type SnapshotPayload struct {
	Users []user.User `json:"users"`
	Count int         `json:"count"`
}

// InitPayload is sent once to a connection when it becomes bound.
type InitPayload struct {
	Self           user.User   `json:"self"`
	Users          []user.User `json:"users"`
	Count          int         `json:"count"`
	MaxConnections int         `json:"maxConnections"`
	Variant        Variant     `json:"variant"`
}

// ErrorPayload mirrors errs.CustomError on the socket.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// encodeMessage wraps payload in an envelope stamped with now and marshals it.
func encodeMessage(msgType MessageType, roomKey string, now time.Time, payload any) ([]byte, error) {
	msg := Message{
		Type:      msgType,
		Room:      roomKey,
		Timestamp: now.UnixMilli(),
		Payload:   payload,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s message: %w", msgType, err)
	}

	return data, nil
}
