package realtime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/matchlink/internal/model"
)

// EventType tags every envelope exchanged over a realtime socket.
type EventType string

const (
	// Message events
	EventMessageNew    EventType = "message_new"
	EventMessageRead   EventType = "message_read"
	EventMessageTyping EventType = "message_typing"

	// User status events
	EventUserOnline        EventType = "user_online"
	EventUserOffline       EventType = "user_offline"
	EventUserAway          EventType = "user_away"
	EventUserStatusInitial EventType = "user_status_initial"

	// Connection events
	EventConnectionRequest  EventType = "connection_request"
	EventConnectionAccepted EventType = "connection_accepted"
	EventConnectionDropped  EventType = "connection_dropped"

	// System events
	EventError EventType = "error"
	EventPing  EventType = "ping"
	EventPong  EventType = "pong"
)

// Envelope is the JSON frame shared by every channel.
type Envelope struct {
	Type      EventType       `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	MessageID string          `json:"message_id"`
}

// NewEnvelope stamps data with the current time and a fresh message ID.
func NewEnvelope(eventType EventType, data any) (Envelope, error) {
	env := Envelope{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		MessageID: uuid.NewString(),
	}
	if data == nil {
		return env, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	env.Data = raw
	return env, nil
}

// Encode marshals the envelope for a text frame.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s envelope has no data", e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// DecodeFrame splits a text frame into envelopes. Servers batch queued
// envelopes into one frame separated by newlines. Lines that fail to decode
// are reported in errs and do not affect the others.
func DecodeFrame(frame []byte) (envs []Envelope, errs []error) {
	for _, line := range bytes.Split(frame, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			errs = append(errs, fmt.Errorf("decode envelope: %w", err))
			continue
		}
		if env.Type == "" {
			errs = append(errs, fmt.Errorf("decode envelope: missing type"))
			continue
		}
		envs = append(envs, env)
	}
	return envs, errs
}

// MessageEvent announces a new message in a connection.
type MessageEvent struct {
	Message      model.Message `json:"message"`
	ConnectionID string        `json:"connection_id"`
	SenderID     string        `json:"sender_id"`
	ReceiverID   string        `json:"receiver_id"`
}

// MessageReadEvent is a read receipt. An empty MessageID covers every
// message in the connection.
type MessageReadEvent struct {
	MessageID    string    `json:"message_id,omitempty"`
	ConnectionID string    `json:"connection_id"`
	ReadBy       string    `json:"read_by"`
	ReadAt       time.Time `json:"read_at"`
}

// TypingEvent carries a typing indicator.
type TypingEvent struct {
	ConnectionID string    `json:"connection_id"`
	UserID       string    `json:"user_id"`
	IsTyping     bool      `json:"is_typing"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Status is a user's presence.
type Status string

// Presence values.
const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusAway    Status = "away"
)

// UserStatusEvent reports a presence change.
type UserStatusEvent struct {
	UserID       string    `json:"user_id"`
	Status       Status    `json:"status"`
	LastActivity time.Time `json:"last_activity"`
}

// Connection request actions.
const (
	RequestNew      = "new"
	RequestAccepted = "accepted"
	RequestDeclined = "declined"
)

// ConnectionRequestEvent reports activity on a connection request.
type ConnectionRequestEvent struct {
	Request model.ConnectionRequest `json:"request"`
	Action  string                  `json:"action"`
}

// Connection actions.
const (
	ConnectionEstablished = "established"
	ConnectionDropped     = "dropped"
)

// ConnectionEvent reports a connection being established or dropped.
type ConnectionEvent struct {
	Connection model.Connection `json:"connection"`
	Action     string           `json:"action"`
}

// ErrorEvent is a server-side error pushed over a socket.
type ErrorEvent struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// StatusEventType maps a presence value to the event that announces it.
func StatusEventType(s Status) EventType {
	switch s {
	case StatusOffline:
		return EventUserOffline
	case StatusAway:
		return EventUserAway
	default:
		return EventUserOnline
	}
}
