// Package domain contains the wire-level data types of the relay, no logic.
package domain

import (
	"encoding/json"
	"time"
)

type (
	ConnectionID string
	ProjectID    string
	UserID       string
)

// MessageType discriminates envelopes on the wire. The vocabulary is closed;
// the relay logs and ignores anything else.
type MessageType string

const (
	TypeConnectionEstablished MessageType = "connection-established"
	TypeSetUser               MessageType = "set-user"
	TypeJoinRoom              MessageType = "join-room"
	TypeLeaveRoom             MessageType = "leave-room"
	TypeTaskCreate            MessageType = "task-create"
	TypeTaskUpdate            MessageType = "task-update"
	TypeTaskDelete            MessageType = "task-delete"
	TypeCommentCreate         MessageType = "comment-create"
	TypeCommentUpdate         MessageType = "comment-update"
	TypeCommentDelete         MessageType = "comment-delete"
	TypeProjectUpdate         MessageType = "project-update"
	TypePresence              MessageType = "presence"
	TypeError                 MessageType = "error"

	// Application-level liveness pair, answered by the socket gateway.
	TypePing MessageType = "ping"
	TypePong MessageType = "pong"
)

// IsContent reports whether t is a mutation notification that should be
// fanned out to the room rather than handled by the relay itself.
func (t MessageType) IsContent() bool {
	switch t {
	case TypeTaskCreate, TypeTaskUpdate, TypeTaskDelete,
		TypeCommentCreate, TypeCommentUpdate, TypeCommentDelete,
		TypeProjectUpdate:
		return true
	}
	return false
}

// Envelope is the unit exchanged over both ingestion paths. The payload is
// opaque to the relay and forwarded verbatim. Envelopes are never mutated
// after construction.
type Envelope struct {
	Type        MessageType     `json:"type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	ProjectID   ProjectID       `json:"projectId,omitempty"`
	OperationID string          `json:"operationId,omitempty"`
	Timestamp   int64           `json:"timestamp,omitempty"`
	UserID      UserID          `json:"userId,omitempty"`
}

// NowMillis is the timestamp format used on the wire.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
