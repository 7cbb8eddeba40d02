package core

import "github.com/dwellchat/dwellchat-server/internal/store"

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandJoinConversation subscribes the connection to a conversation room.
	CommandJoinConversation CommandKind = iota
	// CommandLeaveConversation unsubscribes the connection from a room.
	CommandLeaveConversation
	// CommandSendMessage submits a message through the pipeline.
	CommandSendMessage
	// CommandMarkRead marks the conversation's unread messages as read.
	CommandMarkRead
	// CommandTyping relays an ephemeral typing indicator.
	CommandTyping
)

// SendRequest carries a message submission.
type SendRequest struct {
	ConversationID string
	ReceiverID     string
	Content        string
	Attachments    []store.Attachment
	Scope          store.Scope
}

// Command represents an action requested by a client.
type Command struct {
	Kind           CommandKind
	ConversationID string
	Send           SendRequest
	IsTyping       bool
}
