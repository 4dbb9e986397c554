// Package ws defines the wire contract between a participant's connection
// and the engine, plus the client wrapper that carries it over a WebSocket.
// The message schema is transport-agnostic; nothing outside this package
// and the API layer touches gorilla directly.
package ws

import (
	"time"

	"github.com/quillshare/collab-engine/internal/ot"
	"github.com/quillshare/collab-engine/internal/presence"
)

// MessageType identifies the kind of protocol message.
type MessageType string

const (
	// Client to server messages.
	MessageTypeJoin      MessageType = "join"      // enter a room (or re-sync)
	MessageTypeOperation MessageType = "operation" // submit an edit
	MessageTypePresence  MessageType = "presence"  // update own cursor/selection
	MessageTypeLeave     MessageType = "leave"     // leave the current room

	// Server to client messages.
	MessageTypeSync             MessageType = "sync"              // full document state
	MessageTypeAck              MessageType = "ack"               // own operation accepted
	MessageTypeOperationApplied MessageType = "operation_applied" // someone else's edit
	MessageTypePresenceDelta    MessageType = "presence_delta"    // presence change
	MessageTypeError            MessageType = "error"             // request failed
)

// PresenceDelta actions.
const (
	PresenceActionJoin   = "join"
	PresenceActionLeave  = "leave"
	PresenceActionUpdate = "update"
)

// Message is the envelope for all protocol communication.
type Message struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload,omitempty"`
}

// JoinPayload enters (or re-syncs) a room for a project file.
type JoinPayload struct {
	ProjectID string `json:"projectId"`
	FileID    string `json:"fileId"`
}

// SyncPayload is the resynchronization primitive: full content, revision,
// and presence list. A reconnecting client recovers from this alone,
// without replaying history.
type SyncPayload struct {
	RoomID       string              `json:"roomId"`
	Content      string              `json:"content"`
	Revision     int                 `json:"revision"`
	Participants []presence.Presence `json:"participants"`
}

// OperationPayload is a client-submitted edit.
type OperationPayload struct {
	RoomID       string `json:"roomId"`
	OpID         string `json:"opId,omitempty"` // client-chosen, echoed in the ack
	Kind         string `json:"kind"`
	Position     int    `json:"position"`
	Length       int    `json:"length,omitempty"`
	Content      string `json:"content,omitempty"`
	BaseRevision int    `json:"baseRevision"`
}

// AckPayload confirms the author's operation was accepted.
type AckPayload struct {
	RoomID   string `json:"roomId"`
	OpID     string `json:"opId"`
	Revision int    `json:"revision"`
}

// WireOperation is an accepted operation as broadcast to other clients.
type WireOperation struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Position  int       `json:"position"`
	Length    int       `json:"length,omitempty"`
	Content   string    `json:"content,omitempty"`
	Author    string    `json:"author"`
	Revision  int       `json:"revision"`
	Timestamp time.Time `json:"timestamp"`
}

// OperationAppliedPayload pushes an accepted operation to other clients.
type OperationAppliedPayload struct {
	RoomID      string        `json:"roomId"`
	Operation   WireOperation `json:"operation"`
	NewRevision int           `json:"newRevision"`
}

// PresencePayload is a client's partial presence update.
type PresencePayload struct {
	RoomID string `json:"roomId"`
	presence.Update
}

// PresenceDeltaPayload pushes a presence change to other clients.
type PresenceDeltaPayload struct {
	RoomID      string            `json:"roomId"`
	Participant presence.Presence `json:"participant"`
	Action      string            `json:"action"` // join|leave|update
}

// LeavePayload leaves a room.
type LeavePayload struct {
	RoomID string `json:"roomId"`
}

// ErrorPayload reports a failure to the client.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrorCodeAccessDenied         = "access_denied"
	ErrorCodeNotFound             = "not_found"
	ErrorCodeNotInRoom            = "not_in_room"
	ErrorCodeConflictUnresolvable = "conflict_unresolvable"
	ErrorCodeStorageUnavailable   = "storage_unavailable"
	ErrorCodeRoomDegraded         = "room_degraded"
	ErrorCodeInvalidMessage       = "invalid_message"
	ErrorCodeInternalError        = "internal_error"
)

// ToWire converts an accepted operation for broadcast.
func ToWire(op ot.Operation) WireOperation {
	return WireOperation{
		ID:        op.ID,
		Kind:      op.Kind.String(),
		Position:  op.Position,
		Length:    op.Length,
		Content:   op.Content,
		Author:    op.Author,
		Revision:  op.Revision,
		Timestamp: op.Timestamp,
	}
}

// ToOperation converts a client payload into an engine operation. The
// author is taken from the authenticated connection, never the payload.
func (p OperationPayload) ToOperation(author string) (ot.Operation, error) {
	kind, err := ot.ParseKind(p.Kind)
	if err != nil {
		return ot.Operation{}, err
	}

	return ot.Operation{
		ID:           p.OpID,
		Kind:         kind,
		Position:     p.Position,
		Length:       p.Length,
		Content:      p.Content,
		Author:       author,
		BaseRevision: p.BaseRevision,
		Timestamp:    time.Now(),
	}, nil
}
