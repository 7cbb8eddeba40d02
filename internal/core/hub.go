package core

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/dwellchat/dwellchat-server/internal/store"
)

// Hub coordinates connections, presence, rooms and the message pipeline.
// Components are constructor-injected once at startup; handlers never reach
// for globals.
type Hub struct {
	presence *PresenceRegistry
	rooms    *RoomManager
	pipeline *MessagePipeline
	receipts *ReadReceiptSynchronizer
	store    store.Store
	log      *zerolog.Logger

	persistTimeout time.Duration
	now            func() time.Time
}

// NewHub wires the realtime components around the given store.
func NewHub(st store.Store, logger *zerolog.Logger, persistTimeout time.Duration) *Hub {
	if persistTimeout <= 0 {
		persistTimeout = 3 * time.Second
	}
	presence := NewPresenceRegistry()
	rooms := NewRoomManager(presence, logger)
	return &Hub{
		presence:       presence,
		rooms:          rooms,
		pipeline:       NewMessagePipeline(st, rooms, presence, logger, persistTimeout),
		receipts:       NewReadReceiptSynchronizer(st, rooms, logger, persistTimeout),
		store:          st,
		log:            logger,
		persistTimeout: persistTimeout,
		now:            time.Now,
	}
}

// Rooms exposes the room manager for bridge wiring.
func (h *Hub) Rooms() *RoomManager {
	return h.rooms
}

// Presence exposes the presence registry.
func (h *Hub) Presence() *PresenceRegistry {
	return h.presence
}

// Run blocks until the context is cancelled, then closes every live
// connection. Presence self-heals as clients reconnect.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	for _, c := range h.presence.All() {
		c.Close()
	}
}

// RegisterClient makes an authenticated connection live: it joins the
// per-user room, confirms the handshake, announces presence if this is the
// user's first connection and starts the per-connection command pump.
// Commands of one connection are processed in arrival order; commands from
// different connections interleave freely.
func (h *Hub) RegisterClient(c *Client) {
	first := h.presence.Register(c)
	h.rooms.Join(UserRoom(c.UserID), c)

	c.Deliver(&Event{
		Kind:         EventConnected,
		UserID:       c.UserID,
		ConnectionID: c.ID,
		At:           h.now(),
	})

	if first {
		h.broadcastPresence(&Event{
			Kind:        EventUserOnline,
			UserID:      c.UserID,
			DisplayName: c.Name,
		}, c.UserID)
	}

	h.log.Debug().Str("user_id", c.UserID).Str("connection_id", c.ID).Msg("connection registered")
	go h.pump(c)
}

// UnregisterClient cleans up after a disconnect. Cleanup is unconditional and
// never user-visible as an error.
func (h *Hub) UnregisterClient(c *Client) {
	c.Close()
	h.rooms.LeaveAll(c)
	last := h.presence.Unregister(c)
	if last {
		h.broadcastPresence(&Event{
			Kind:   EventUserOffline,
			UserID: c.UserID,
		}, c.UserID)
	}
	h.log.Debug().Str("user_id", c.UserID).Str("connection_id", c.ID).Msg("connection unregistered")
}

func (h *Hub) broadcastPresence(ev *Event, aboutUserID string) {
	for _, peer := range h.presence.All() {
		if peer.UserID == aboutUserID {
			continue
		}
		peer.Deliver(ev)
	}
}

func (h *Hub) pump(c *Client) {
	for {
		select {
		case <-c.Done():
			return
		case cmd := <-c.Commands:
			if cmd == nil {
				return
			}
			h.dispatch(c, cmd)
		}
	}
}

func (h *Hub) dispatch(c *Client, cmd *Command) {
	ctx := context.Background()

	switch cmd.Kind {
	case CommandJoinConversation:
		h.joinConversation(ctx, c, cmd.ConversationID)
	case CommandLeaveConversation:
		h.rooms.Leave(cmd.ConversationID, c)
	case CommandSendMessage:
		h.pipeline.Submit(ctx, c, cmd.Send)
	case CommandMarkRead:
		h.receipts.MarkRead(ctx, c, cmd.ConversationID)
	case CommandTyping:
		// Ephemeral, not persisted, room members only.
		h.rooms.BroadcastRoom(cmd.ConversationID, &Event{
			Kind:           EventTyping,
			ConversationID: cmd.ConversationID,
			UserID:         c.UserID,
			IsTyping:       cmd.IsTyping,
		}, c)
	default:
		c.Deliver(&Event{
			Kind:  EventMessageError,
			Error: coreError(ErrCodeBadRequest, "unknown command"),
		})
	}
}

func (h *Hub) joinConversation(ctx context.Context, c *Client, conversationID string) {
	pctx, cancel := context.WithTimeout(ctx, h.persistTimeout)
	defer cancel()

	conv, err := h.store.GetConversation(pctx, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.Deliver(&Event{
				Kind:  EventMessageError,
				Error: coreError(ErrCodeConversationNotFound, "conversation not found"),
			})
			return
		}
		h.log.Error().Err(err).Str("conversation_id", conversationID).Msg("load conversation failed")
		c.Deliver(&Event{
			Kind:  EventMessageError,
			Error: coreError(ErrCodePersistenceError, "failed to load conversation"),
		})
		return
	}
	if !conv.HasParticipant(c.UserID) {
		c.Deliver(&Event{
			Kind:  EventMessageError,
			Error: coreError(ErrCodeNotAParticipant, "not a participant of this conversation"),
		})
		return
	}

	h.rooms.Join(conversationID, c)
	c.Deliver(&Event{
		Kind:           EventConversationJoined,
		ConversationID: conversationID,
	})
}
