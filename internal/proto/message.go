package proto

import (
	"encoding/json"
	"time"
)

// Inbound is the envelope for frames coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	InboundTypeJoin   = "join:conversation"
	InboundTypeLeave  = "leave:conversation"
	InboundTypeSend   = "message:send"
	InboundTypeRead   = "message:read"
	InboundTypeTyping = "message:typing"

	OutboundTypeConnected          = "socket:connected"
	OutboundTypeMessageReceived    = "message:received"
	OutboundTypeMessageSent        = "message:sent"
	OutboundTypeMessageError       = "message:error"
	OutboundTypeMessageRead        = "message:read"
	OutboundTypeUserOnline         = "user:online"
	OutboundTypeUserOffline        = "user:offline"
	OutboundTypeConversationJoined = "conversation:joined"
	OutboundTypeTyping             = "message:typing"
)

// JoinData subscribes the connection to a conversation's live events.
type JoinData struct {
	ConversationID string `json:"conversationId"`
}

// AttachmentData describes one file attached to a message.
type AttachmentData struct {
	Filename   string `json:"filename"`
	StorageRef string `json:"storageRef"`
	Size       int64  `json:"size"`
	MimeType   string `json:"mimeType"`
}

// SendData carries a new message. Either conversationId or receiverId must be
// set; unit/building/request scope the conversation when it is created on the
// fly.
type SendData struct {
	ConversationID string           `json:"conversationId"`
	ReceiverID     string           `json:"receiverId"`
	Content        string           `json:"content"`
	Attachments    []AttachmentData `json:"attachments,omitempty"`
	Unit           string           `json:"unit,omitempty"`
	Building       string           `json:"building,omitempty"`
	Request        string           `json:"request,omitempty"`
}

// ReadData marks every unread message in the conversation as read.
type ReadData struct {
	ConversationID string `json:"conversationId"`
}

// TypingData toggles the ephemeral typing indicator.
type TypingData struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

// Outbound is the envelope for frames sent to the client.
type Outbound struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// ConnectedData confirms the handshake.
type ConnectedData struct {
	UserID       string    `json:"userId"`
	ConnectionID string    `json:"connectionId"`
	Timestamp    time.Time `json:"timestamp"`
}

// MessageData is the wire shape of a persisted message.
type MessageData struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversationId"`
	SenderID       string           `json:"senderId"`
	ReceiverID     string           `json:"receiverId,omitempty"`
	Content        string           `json:"content"`
	Attachments    []AttachmentData `json:"attachments,omitempty"`
	Status         string           `json:"status"`
	IsRead         bool             `json:"isRead"`
	ReadAt         *time.Time       `json:"readAt,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
}

// ConversationData is the wire shape of a conversation, with the unread
// counter of every participant.
type ConversationData struct {
	ID            string         `json:"id"`
	Kind          string         `json:"kind"`
	Participants  []string       `json:"participants"`
	Unit          string         `json:"unit,omitempty"`
	Building      string         `json:"building,omitempty"`
	Request       string         `json:"request,omitempty"`
	LastMessageID string         `json:"lastMessageId,omitempty"`
	LastMessageAt *time.Time     `json:"lastMessageAt,omitempty"`
	UnreadCount   map[string]int `json:"unreadCount"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// MessageEnvelope pairs a message with its refreshed conversation so the
// client can update list previews and badges in one hop.
type MessageEnvelope struct {
	Message      *MessageData      `json:"message"`
	Conversation *ConversationData `json:"conversation,omitempty"`
}

// ReadEventData announces that a user has read a conversation.
type ReadEventData struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// PresenceData announces a user coming online or going offline.
type PresenceData struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
}

// JoinedData confirms a join.
type JoinedData struct {
	ConversationID string `json:"conversationId"`
}

// TypingEventData relays a typing indicator to conversation members.
type TypingEventData struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

// ErrorData describes a failed operation.
type ErrorData struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
