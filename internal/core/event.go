package core

import (
	"time"

	"github.com/dwellchat/dwellchat-server/internal/store"
)

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventConnected confirms a successful handshake to the new connection.
	EventConnected EventKind = iota
	// EventMessageReceived delivers a message to conversation participants.
	EventMessageReceived
	// EventMessageSent acknowledges a send to the originating connection only.
	EventMessageSent
	// EventMessageError reports a pipeline failure to the originating connection.
	EventMessageError
	// EventMessageRead tells participants that a user read the conversation.
	EventMessageRead
	// EventUserOnline announces a user's first live connection.
	EventUserOnline
	// EventUserOffline announces a user's last connection going away.
	EventUserOffline
	// EventConversationJoined confirms a room join to the requesting connection.
	EventConversationJoined
	// EventTyping relays a typing indicator to room members.
	EventTyping
)

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind           EventKind
	ConversationID string
	UserID         string
	DisplayName    string
	ConnectionID   string
	IsTyping       bool
	At             time.Time
	Message        *store.Message
	Conversation   *store.Conversation
	Error          *CoreError
}
