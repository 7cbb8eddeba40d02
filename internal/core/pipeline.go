package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dwellchat/dwellchat-server/internal/store"
	"github.com/dwellchat/dwellchat-server/internal/utils"
)

// MessagePipeline runs a submitted message through
// validate -> resolve conversation -> persist -> fan out -> acknowledge.
// Every failure is reported to the originating connection only; no broadcast
// happens unless persistence succeeded.
type MessagePipeline struct {
	store          store.Store
	rooms          *RoomManager
	presence       *PresenceRegistry
	log            *zerolog.Logger
	persistTimeout time.Duration
	now            func() time.Time

	mu        sync.Mutex
	convLocks map[string]*convLock
}

// convLock serializes persist and fan-out for one conversation. Refcounted so
// idle conversations do not pin an entry forever.
type convLock struct {
	mu   sync.Mutex
	refs int
}

// NewMessagePipeline constructs the pipeline.
func NewMessagePipeline(st store.Store, rooms *RoomManager, presence *PresenceRegistry, logger *zerolog.Logger, persistTimeout time.Duration) *MessagePipeline {
	return &MessagePipeline{
		store:          st,
		rooms:          rooms,
		presence:       presence,
		log:            logger,
		persistTimeout: persistTimeout,
		now:            time.Now,
		convLocks:      make(map[string]*convLock),
	}
}

// lockConversation takes the conversation's pipeline lock and returns the
// release func. Persist and broadcast happen under this lock, so every
// participant observes messages of one conversation in persistence order even
// when senders race on different connections.
func (p *MessagePipeline) lockConversation(conversationID string) func() {
	p.mu.Lock()
	l := p.convLocks[conversationID]
	if l == nil {
		l = &convLock{}
		p.convLocks[conversationID] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.convLocks, conversationID)
		}
		p.mu.Unlock()
	}
}

// Submit processes one send from the given connection. Persistence is detached
// from the connection context: a disconnect mid-send only costs the sender its
// acknowledgment, the message still reaches the other participants.
func (p *MessagePipeline) Submit(ctx context.Context, sender *Client, req SendRequest) {
	// validating
	content := strings.TrimSpace(req.Content)
	if content == "" && len(req.Attachments) == 0 {
		p.fail(sender, ErrCodeEmptyMessage, "message content is empty")
		return
	}
	if req.ConversationID == "" && req.ReceiverID == "" {
		p.fail(sender, ErrCodeMissingTarget, "conversationId or receiverId is required")
		return
	}
	if req.ConversationID == "" && req.ReceiverID == sender.UserID {
		p.fail(sender, ErrCodeBadRequest, "cannot open a direct conversation with yourself")
		return
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.persistTimeout)
	defer cancel()

	// resolving-conversation
	conv, cerr := p.resolveConversation(pctx, sender, req)
	if cerr != nil {
		p.fail(sender, cerr.Code, cerr.Message)
		return
	}

	// Steps below run under the conversation's pipeline lock: broadcast order
	// must match persistence order across racing senders.
	unlock := p.lockConversation(conv.ID)
	defer unlock()

	// persisting
	msg := &store.Message{
		ID:             utils.NewID(),
		ConversationID: conv.ID,
		SenderID:       sender.UserID,
		ReceiverID:     directReceiver(conv, sender.UserID),
		Content:        content,
		Attachments:    req.Attachments,
		Status:         store.StatusSent,
		CreatedAt:      p.now(),
	}
	if err := p.persist(pctx, conv, msg); err != nil {
		p.log.Error().Err(err).
			Str("conversation_id", conv.ID).
			Str("sender_id", sender.UserID).
			Msg("message persistence failed")
		p.fail(sender, ErrCodePersistenceError, "failed to persist message")
		return
	}

	// Reload so the broadcast carries fresh unread counts and last-message pointers.
	conv, err := p.store.GetConversation(pctx, conv.ID)
	if err != nil {
		p.log.Error().Err(err).Str("conversation_id", msg.ConversationID).Msg("reload conversation failed")
		p.fail(sender, ErrCodePersistenceError, "failed to load conversation")
		return
	}

	// fanning-out: the sender's own devices are joined on demand so the room
	// exists even before any explicit join command.
	for _, conn := range p.presence.ConnectionsFor(sender.UserID) {
		p.rooms.Join(conv.ID, conn)
	}
	p.rooms.Broadcast(pctx, conv.ID, conv.Participants, &Event{
		Kind:           EventMessageReceived,
		ConversationID: conv.ID,
		Message:        msg,
		Conversation:   conv,
	}, sender)

	// acknowledged
	sender.Deliver(&Event{
		Kind:           EventMessageSent,
		ConversationID: conv.ID,
		Message:        msg,
		Conversation:   conv,
	})
}

func (p *MessagePipeline) resolveConversation(ctx context.Context, sender *Client, req SendRequest) (*store.Conversation, *CoreError) {
	if req.ConversationID != "" {
		conv, err := p.store.GetConversation(ctx, req.ConversationID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, coreError(ErrCodeConversationNotFound, "conversation not found")
			}
			p.log.Error().Err(err).Str("conversation_id", req.ConversationID).Msg("load conversation failed")
			return nil, coreError(ErrCodePersistenceError, "failed to load conversation")
		}
		if !conv.HasParticipant(sender.UserID) {
			return nil, coreError(ErrCodeNotAParticipant, "sender is not a participant")
		}
		return conv, nil
	}

	conv, err := p.store.FindOrCreateDirect(ctx, sender.UserID, req.ReceiverID, req.Scope)
	if err != nil {
		p.log.Error().Err(err).Str("receiver_id", req.ReceiverID).Msg("find or create direct failed")
		return nil, coreError(ErrCodePersistenceError, "failed to resolve conversation")
	}
	return conv, nil
}

func (p *MessagePipeline) persist(ctx context.Context, conv *store.Conversation, msg *store.Message) error {
	if err := p.store.CreateMessage(ctx, msg); err != nil {
		return err
	}
	if err := p.store.TouchLastMessage(ctx, conv.ID, msg.ID, msg.CreatedAt); err != nil {
		return err
	}
	return p.store.IncrementUnread(ctx, conv.ID, msg.SenderID)
}

func (p *MessagePipeline) fail(sender *Client, code, msg string) {
	sender.Deliver(&Event{
		Kind:  EventMessageError,
		Error: coreError(code, msg),
	})
}

// directReceiver returns the other participant of a direct conversation, nil
// for group conversations where membership implies the receivers.
func directReceiver(conv *store.Conversation, senderID string) *string {
	if conv.Kind != store.KindDirect {
		return nil
	}
	for _, participant := range conv.Participants {
		if participant != senderID {
			receiver := participant
			return &receiver
		}
	}
	return nil
}
