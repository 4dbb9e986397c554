package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/quillshare/collab-engine/internal/auth"
	"github.com/quillshare/collab-engine/internal/docstore"
	"github.com/quillshare/collab-engine/internal/presence"
	"github.com/quillshare/collab-engine/internal/room"
	"github.com/quillshare/collab-engine/internal/ws"
)

// gorillaConn adapts a gorilla connection to the ws.Conn interface.
type gorillaConn struct {
	*websocket.Conn
}

func (g gorillaConn) Ping(deadline time.Time) error {
	return g.WriteControl(websocket.PingMessage, nil, deadline)
}

// handleWebSocket handles GET /ws. The connection speaks the room
// protocol: the client sends join first, then operations and presence
// updates for the joined room.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	participantID := ParticipantIDFromContext(r.Context())
	displayName := DisplayNameFromContext(r.Context())

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("api: websocket upgrade: %v", err)

		return
	}

	connectionID := uuid.New().String()
	client := ws.NewClient(connectionID, participantID, displayName, gorillaConn{Conn: conn}, s.queueSize)

	go client.WritePump(s.heartbeat)

	// Liveness: the read deadline advances on every pong.
	readWait := 2 * s.heartbeat
	_ = client.SetReadDeadline(time.Now().Add(readWait))
	client.SetPongHandler(func(string) error {
		return client.SetReadDeadline(time.Now().Add(readWait))
	})

	defer func() {
		s.registry.LeaveConnection(connectionID)
		_ = client.Close()
	}()

	s.serveClient(r.Context(), client, connectionID, participantID, displayName)
}

// serveClient runs the read loop until the connection drops.
func (s *Server) serveClient(ctx context.Context, client *ws.Client, connectionID, participantID, displayName string) {
	var current *room.Room

	for {
		msg, err := client.Receive()
		if err != nil {
			return
		}

		switch msg.Type {
		case ws.MessageTypeJoin:
			payload, ok := msg.Payload.(ws.JoinPayload)
			if !ok {
				_ = client.SendError(ws.ErrorCodeInvalidMessage, "invalid join payload")

				continue
			}

			current = s.handleJoin(ctx, client, connectionID, participantID, displayName, payload)
		case ws.MessageTypeOperation:
			payload, ok := msg.Payload.(ws.OperationPayload)
			if !ok {
				_ = client.SendError(ws.ErrorCodeInvalidMessage, "invalid operation payload")

				continue
			}

			s.handleOperation(client, current, participantID, payload)
		case ws.MessageTypePresence:
			payload, ok := msg.Payload.(ws.PresencePayload)
			if !ok {
				_ = client.SendError(ws.ErrorCodeInvalidMessage, "invalid presence payload")

				continue
			}

			s.handlePresence(client, current, participantID, payload)
		case ws.MessageTypeLeave:
			if current != nil {
				s.registry.LeaveRoom(current.ID(), participantID)
				current = nil
			}
		default:
			_ = client.SendError(ws.ErrorCodeInvalidMessage, "unexpected message type")
		}
	}
}

// handleJoin admits the participant and pushes the sync snapshot. Returns
// the joined room, or nil on failure.
func (s *Server) handleJoin(ctx context.Context, client *ws.Client, connectionID, participantID, displayName string, payload ws.JoinPayload) *room.Room {
	p := presence.Presence{
		ParticipantID: participantID,
		DisplayName:   displayName,
	}

	rm, snapshot, err := s.registry.JoinRoom(ctx, connectionID, p, payload.ProjectID, payload.FileID, client)
	if err != nil {
		sendRoomError(client, err)

		return nil
	}

	_ = client.Send(ws.Message{
		Type: ws.MessageTypeSync,
		Payload: ws.SyncPayload{
			RoomID:       snapshot.RoomID,
			Content:      snapshot.Content,
			Revision:     snapshot.Revision,
			Participants: snapshot.Participants,
		},
	})

	return rm
}

// handleOperation submits an edit to the current room and acks it.
func (s *Server) handleOperation(client *ws.Client, current *room.Room, participantID string, payload ws.OperationPayload) {
	if current == nil {
		_ = client.SendError(ws.ErrorCodeNotInRoom, "join a room first")

		return
	}

	op, err := payload.ToOperation(participantID)
	if err != nil {
		_ = client.SendError(ws.ErrorCodeInvalidMessage, err.Error())

		return
	}

	applied, err := current.ProcessOperation(participantID, op)
	if err != nil {
		sendRoomError(client, err)

		return
	}

	_ = client.Send(ws.Message{
		Type: ws.MessageTypeAck,
		Payload: ws.AckPayload{
			RoomID:   current.ID(),
			OpID:     applied.ID,
			Revision: applied.Revision,
		},
	})
}

// handlePresence merges a partial presence update into the current room.
func (s *Server) handlePresence(client *ws.Client, current *room.Room, participantID string, payload ws.PresencePayload) {
	if current == nil {
		_ = client.SendError(ws.ErrorCodeNotInRoom, "join a room first")

		return
	}

	if _, err := current.UpdatePresence(participantID, payload.Update); err != nil {
		sendRoomError(client, err)
	}
}

// sendRoomError maps engine errors to protocol error codes.
func sendRoomError(client *ws.Client, err error) {
	switch {
	case errors.Is(err, auth.ErrAccessDenied):
		_ = client.SendError(ws.ErrorCodeAccessDenied, "access denied")
	case errors.Is(err, docstore.ErrFileNotFound):
		_ = client.SendError(ws.ErrorCodeNotFound, "file not found")
	case errors.Is(err, room.ErrNotInRoom):
		_ = client.SendError(ws.ErrorCodeNotInRoom, "not in room")
	case errors.Is(err, room.ErrConflictUnresolvable):
		_ = client.SendError(ws.ErrorCodeConflictUnresolvable, "conflict unresolvable, re-sync required")
	case errors.Is(err, room.ErrRoomDegraded):
		_ = client.SendError(ws.ErrorCodeRoomDegraded, "room degraded, try again later")
	case errors.Is(err, room.ErrStorageUnavailable):
		_ = client.SendError(ws.ErrorCodeStorageUnavailable, "storage unavailable, operation not applied")
	default:
		_ = client.SendError(ws.ErrorCodeInternalError, "internal error")
	}
}
