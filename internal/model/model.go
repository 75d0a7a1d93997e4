// Package model defines the domain records shared by the REST client, the
// realtime layer, and the local message cache.
package model

import (
	"strings"
	"time"
)

// MessageType is the kind of content a message carries.
type MessageType string

// Message types returned by the API.
const (
	MessageText  MessageType = "text"
	MessageMedia MessageType = "media"
	MessageMixed MessageType = "mixed"
)

// TempIDPrefix marks optimistic messages that the server has not confirmed.
const TempIDPrefix = "temp-"

// User is the subset of a profile the messaging layer needs.
type User struct {
	ID                string `json:"id"`
	Email             string `json:"email,omitempty"`
	FirstName         string `json:"first_name"`
	LastName          string `json:"last_name"`
	ProfileCompletion int    `json:"profile_completion"`
}

// DisplayName returns the first name, falling back to a placeholder.
func (u *User) DisplayName(fallback string) string {
	if u == nil || strings.TrimSpace(u.FirstName) == "" {
		return fallback
	}
	return u.FirstName
}

// Message is a direct message inside a connection.
type Message struct {
	ID           string      `json:"id"`
	ConnectionID string      `json:"connection_id"`
	SenderID     string      `json:"sender_id"`
	ReceiverID   string      `json:"receiver_id"`
	Type         MessageType `json:"type"`
	Content      *string     `json:"content,omitempty"`
	MediaURL     *string     `json:"media_url,omitempty"`
	MediaType    *string     `json:"media_type,omitempty"`
	IsRead       bool        `json:"is_read"`
	CreatedAt    time.Time   `json:"created_at"`
	ReadAt       *time.Time  `json:"read_at,omitempty"`
	Sender       *User       `json:"sender,omitempty"`
	Receiver     *User       `json:"receiver,omitempty"`

	// Sending is set on optimistic messages until the server list replaces them.
	Sending bool `json:"sending,omitempty"`
}

// Text returns the message content or an empty string.
func (m Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// IsTemp reports whether the message is an unconfirmed optimistic insert.
func (m Message) IsTemp() bool {
	return strings.HasPrefix(m.ID, TempIDPrefix)
}

// Connection is a mutual match between two users.
type Connection struct {
	ID          string    `json:"id"`
	UserAID     string    `json:"user_a_id"`
	UserBID     string    `json:"user_b_id"`
	Status      string    `json:"status"`
	ConnectedAt time.Time `json:"connected_at"`
	UserA       *User     `json:"user_a,omitempty"`
	UserB       *User     `json:"user_b,omitempty"`
}

// Other returns the participant that is not userID.
func (c Connection) Other(userID string) *User {
	if c.UserAID == userID {
		return c.UserB
	}
	return c.UserA
}

// ConnectionRequest is a pending request to connect.
type ConnectionRequest struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Status     string    `json:"status"`
	Message    *string   `json:"message,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	Sender     *User     `json:"sender,omitempty"`
	Receiver   *User     `json:"receiver,omitempty"`
}

// ChatListItem summarises one conversation in the inbox.
type ChatListItem struct {
	ConnectionID     string    `json:"connection_id"`
	OtherUser        *User     `json:"other_user"`
	LastMessage      *Message  `json:"last_message,omitempty"`
	UnreadCount      int       `json:"unread_count"`
	LastActivity     time.Time `json:"last_activity"`
	ConnectionStatus string    `json:"connection_status"`
}
