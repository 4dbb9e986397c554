package ws

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"
)

// ErrSendQueueFull is returned when a client's outbound queue overflows.
// The message is dropped; a client that falls this far behind must re-sync.
var ErrSendQueueFull = errors.New("send queue full")

// ErrClientClosed is returned when sending to a closed client.
var ErrClientClosed = errors.New("client closed")

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	WriteJSON(v any) error
	ReadJSON(v any) error
	Close() error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Ping(deadline time.Time) error
}

// Client represents one participant connection. Outbound messages go
// through a buffered queue drained by WritePump, so Send never blocks —
// which is what lets rooms hand a Client directly to their broadcast path.
type Client struct {
	ID            string
	ParticipantID string
	DisplayName   string

	conn Conn
	out  chan Message

	closeOnce sync.Once
	done      chan struct{}
}

// NewClient creates a client wrapper with the given outbound queue size.
func NewClient(id, participantID, displayName string, conn Conn, queueSize int) *Client {
	if queueSize <= 0 {
		queueSize = 64
	}

	return &Client{
		ID:            id,
		ParticipantID: participantID,
		DisplayName:   displayName,
		conn:          conn,
		out:           make(chan Message, queueSize),
		done:          make(chan struct{}),
	}
}

// Send enqueues a message for delivery. It never blocks: a full queue
// drops the message and returns ErrSendQueueFull.
func (c *Client) Send(msg Message) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.out <- msg:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// SendError sends an error message to the client.
func (c *Client) SendError(code, message string) error {
	return c.Send(Message{
		Type: MessageTypeError,
		Payload: ErrorPayload{
			Code:    code,
			Message: message,
		},
	})
}

// WritePump drains the outbound queue onto the connection and emits
// liveness pings. It returns when the client is closed or a write fails.
// Run it in its own goroutine, one per client.
func (c *Client) WritePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.out:
			if err := c.conn.WriteJSON(msg); err != nil {
				log.Printf("ws: write to client %s failed: %v", c.ID, err)

				return
			}
		case <-ticker.C:
			if err := c.conn.Ping(time.Now().Add(pingInterval / 2)); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// Receive reads and decodes the next client message. The payload is parsed
// into the concrete type for the message's Type.
func (c *Client) Receive() (Message, error) {
	var raw struct {
		Type    MessageType     `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}

	if err := c.conn.ReadJSON(&raw); err != nil {
		return Message{}, err
	}

	msg := Message{Type: raw.Type}

	switch raw.Type {
	case MessageTypeJoin:
		var payload JoinPayload
		if err := json.Unmarshal(raw.Payload, &payload); err != nil {
			return Message{}, err
		}

		msg.Payload = payload
	case MessageTypeOperation:
		var payload OperationPayload
		if err := json.Unmarshal(raw.Payload, &payload); err != nil {
			return Message{}, err
		}

		msg.Payload = payload
	case MessageTypePresence:
		var payload PresencePayload
		if err := json.Unmarshal(raw.Payload, &payload); err != nil {
			return Message{}, err
		}

		msg.Payload = payload
	case MessageTypeLeave:
		var payload LeavePayload
		if err := json.Unmarshal(raw.Payload, &payload); err != nil {
			return Message{}, err
		}

		msg.Payload = payload
	default:
		// Server-to-client types are not expected inbound; keep the raw
		// payload so the caller can reject the message.
		msg.Payload = raw.Payload
	}

	return msg, nil
}

// SetReadDeadline forwards to the connection.
func (c *Client) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// SetPongHandler forwards to the connection.
func (c *Client) SetPongHandler(h func(string) error) {
	c.conn.SetPongHandler(h)
}

// Close shuts down the client and its connection. Safe to call repeatedly.
func (c *Client) Close() error {
	var err error

	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})

	return err
}
