package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a conversation or message does not exist.
var ErrNotFound = errors.New("not found")

// ConversationKind defines what a conversation is scoped to.
type ConversationKind string

const (
	KindDirect   ConversationKind = "direct"
	KindGroup    ConversationKind = "group"
	KindUnit     ConversationKind = "unit"
	KindBuilding ConversationKind = "building"
)

// MessageStatus tracks delivery state. Transitions are monotonic and never regress.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// Scope carries optional foreign keys into the rest of the platform.
// They are stored and echoed but never resolved here.
type Scope struct {
	UnitID     *string
	BuildingID *string
	RequestID  *string
}

// Conversation is a persisted grouping of participants plus delivery metadata.
type Conversation struct {
	ID            string
	Kind          ConversationKind
	Participants  []string
	Scope         Scope
	LastMessageID *string
	LastMessageAt *time.Time
	UnreadCount   map[string]int
	ArchivedBy    map[string]time.Time
	CreatedAt     time.Time
}

// HasParticipant reports whether userID belongs to the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Attachment is file metadata carried by a message. The bytes live in the
// platform's object storage; storageRef is opaque here.
type Attachment struct {
	Filename   string
	StorageRef string
	Size       int64
	MimeType   string
}

// Message is a persisted chat message.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	ReceiverID     *string // direct conversations only
	Content        string
	Attachments    []Attachment
	Status         MessageStatus
	IsRead         bool
	ReadAt         *time.Time
	CreatedAt      time.Time
}

// ConversationStore handles conversation persistence.
type ConversationStore interface {
	// FindOrCreateDirect returns the unique direct conversation for the pair,
	// creating it if absent. Safe under concurrent calls for the same pair.
	// Scope hints apply only when the conversation is created.
	FindOrCreateDirect(ctx context.Context, userA, userB string, scope Scope) (*Conversation, error)

	// CreateConversation creates a group/unit/building conversation.
	CreateConversation(ctx context.Context, kind ConversationKind, participants []string, scope Scope) (*Conversation, error)

	// GetConversation retrieves a conversation by ID, including unread counts
	// and archive marks. Returns ErrNotFound when absent.
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// ListConversations lists a user's conversations, newest activity first.
	ListConversations(ctx context.Context, userID string) ([]*Conversation, error)

	// IncrementUnread adds one to every participant's unread counter except
	// exceptUserID. The increment happens in SQL, never read-modify-write.
	IncrementUnread(ctx context.Context, conversationID, exceptUserID string) error

	// ResetUnread zeroes the unread counter for one participant.
	ResetUnread(ctx context.Context, conversationID, userID string) error

	// TouchLastMessage updates the last-message pointer. The stored timestamp
	// never goes backwards; server time wins over caller-supplied values.
	TouchLastMessage(ctx context.Context, conversationID, messageID string, at time.Time) error

	// ArchiveConversation soft-hides the conversation for one participant.
	// Delivery and unread bookkeeping are unaffected.
	ArchiveConversation(ctx context.Context, conversationID, userID string, at time.Time) error

	// UnarchiveConversation removes the participant's archive mark.
	UnarchiveConversation(ctx context.Context, conversationID, userID string) error
}

// MessageStore handles message persistence.
type MessageStore interface {
	// CreateMessage persists a message and its attachments. CreatedAt is
	// clamped so it never precedes the conversation's last message; the
	// effective value is written back into msg.
	CreateMessage(ctx context.Context, msg *Message) error

	// GetMessage retrieves a message by ID. Returns ErrNotFound when absent.
	GetMessage(ctx context.Context, id string) (*Message, error)

	// ListMessages retrieves messages with pagination, oldest first. If before
	// is provided, only messages created strictly earlier are returned.
	ListMessages(ctx context.Context, conversationID string, limit int, before *time.Time) ([]*Message, error)

	// MarkMessagesRead transitions every unread message not sent by readerID
	// to read status and returns how many rows changed. Already-read messages
	// are untouched, so repeated calls are no-ops.
	MarkMessagesRead(ctx context.Context, conversationID, readerID string, at time.Time) (int64, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	ConversationStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
