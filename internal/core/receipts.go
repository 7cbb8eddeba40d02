package core

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/dwellchat/dwellchat-server/internal/store"
)

// ReadReceiptSynchronizer marks messages read, resets the reader's unread
// counter and notifies the other participants.
type ReadReceiptSynchronizer struct {
	store          store.Store
	rooms          *RoomManager
	log            *zerolog.Logger
	persistTimeout time.Duration
	now            func() time.Time
}

// NewReadReceiptSynchronizer constructs the synchronizer.
func NewReadReceiptSynchronizer(st store.Store, rooms *RoomManager, logger *zerolog.Logger, persistTimeout time.Duration) *ReadReceiptSynchronizer {
	return &ReadReceiptSynchronizer{
		store:          st,
		rooms:          rooms,
		log:            logger,
		persistTimeout: persistTimeout,
		now:            time.Now,
	}
}

// MarkRead transitions the reader's unread messages to read and broadcasts a
// single read event for the conversation. Calling it again is a no-op beyond
// the first effective call.
func (r *ReadReceiptSynchronizer) MarkRead(ctx context.Context, reader *Client, conversationID string) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.persistTimeout)
	defer cancel()

	conv, err := r.store.GetConversation(pctx, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			r.fail(reader, ErrCodeConversationNotFound, "conversation not found")
			return
		}
		r.log.Error().Err(err).Str("conversation_id", conversationID).Msg("load conversation failed")
		r.fail(reader, ErrCodePersistenceError, "failed to load conversation")
		return
	}
	if !conv.HasParticipant(reader.UserID) {
		r.fail(reader, ErrCodeNotAParticipant, "reader is not a participant")
		return
	}

	updated, err := r.store.MarkMessagesRead(pctx, conversationID, reader.UserID, r.now())
	if err != nil {
		r.log.Error().Err(err).Str("conversation_id", conversationID).Msg("mark messages read failed")
		r.fail(reader, ErrCodePersistenceError, "failed to mark messages read")
		return
	}
	if err := r.store.ResetUnread(pctx, conversationID, reader.UserID); err != nil {
		r.log.Error().Err(err).Str("conversation_id", conversationID).Msg("reset unread failed")
		r.fail(reader, ErrCodePersistenceError, "failed to reset unread count")
		return
	}

	r.log.Debug().
		Str("conversation_id", conversationID).
		Str("reader_id", reader.UserID).
		Int64("updated", updated).
		Msg("messages marked read")

	// One event for the whole conversation, not one per message.
	r.rooms.Broadcast(pctx, conversationID, conv.Participants, &Event{
		Kind:           EventMessageRead,
		ConversationID: conversationID,
		UserID:         reader.UserID,
	}, nil)
}

func (r *ReadReceiptSynchronizer) fail(reader *Client, code, msg string) {
	reader.Deliver(&Event{
		Kind:  EventMessageError,
		Error: coreError(code, msg),
	})
}
