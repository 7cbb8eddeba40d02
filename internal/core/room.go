package core

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// BridgePublisher pushes a broadcast to other server processes. The substrate
// (redis pub/sub) is an implementation detail of Broadcast.
type BridgePublisher interface {
	Publish(ctx context.Context, conversationID string, participants []string, ev *Event) error
}

// UserRoom is the private per-user room every connection auto-joins for
// out-of-band notifications.
func UserRoom(userID string) string {
	return "user:" + userID
}

// RoomManager maps a conversation ID to the live connections subscribed to its
// events. Membership is ephemeral; clients re-join after reconnect.
type RoomManager struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}

	presence *PresenceRegistry
	bridge   BridgePublisher
	log      *zerolog.Logger
}

// NewRoomManager constructs a room manager backed by the presence index.
func NewRoomManager(presence *PresenceRegistry, logger *zerolog.Logger) *RoomManager {
	return &RoomManager{
		rooms:    make(map[string]map[*Client]struct{}),
		presence: presence,
		log:      logger,
	}
}

// SetBridge attaches the cross-process broadcast substrate.
func (r *RoomManager) SetBridge(b BridgePublisher) {
	r.mu.Lock()
	r.bridge = b
	r.mu.Unlock()
}

// Join adds the connection to the room. Joining twice is a no-op.
// Returns true if the connection was newly added.
func (r *RoomManager) Join(roomID string, c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	room := r.rooms[roomID]
	if room == nil {
		room = make(map[*Client]struct{})
		r.rooms[roomID] = room
	}
	if _, exists := room[c]; exists {
		return false
	}
	room[c] = struct{}{}
	return true
}

// Leave removes the connection from the room. Leaving a non-member is a no-op.
func (r *RoomManager) Leave(roomID string, c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(roomID, c)
}

func (r *RoomManager) leaveLocked(roomID string, c *Client) bool {
	room := r.rooms[roomID]
	if room == nil {
		return false
	}
	if _, exists := room[c]; !exists {
		return false
	}
	delete(room, c)
	if len(room) == 0 {
		delete(r.rooms, roomID)
	}
	return true
}

// LeaveAll removes the connection from every room. Called on disconnect.
func (r *RoomManager) LeaveAll(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for roomID := range r.rooms {
		r.leaveLocked(roomID, c)
	}
}

// IsMember reports whether the connection is joined to the room.
func (r *RoomManager) IsMember(roomID string, c *Client) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[roomID][c]
	return ok
}

// Broadcast delivers the event to every room member and, for each
// conversation participant, to any of their connections that have not joined
// the room yet. That closes the gap where a user's second device receives
// pushes for a conversation it never explicitly joined. When a bridge is
// attached the event is also published for other server processes.
func (r *RoomManager) Broadcast(ctx context.Context, conversationID string, participants []string, ev *Event, exclude *Client) {
	r.mu.RLock()
	bridge := r.bridge
	r.mu.RUnlock()

	if bridge != nil {
		if err := bridge.Publish(ctx, conversationID, participants, ev); err != nil {
			r.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("bridge publish failed")
		}
	}

	r.deliverLocal(conversationID, participants, ev, exclude)
}

// DeliverRemote delivers an event that arrived over the bridge to local
// connections only; it is never re-published.
func (r *RoomManager) DeliverRemote(conversationID string, participants []string, ev *Event) {
	r.deliverLocal(conversationID, participants, ev, nil)
}

func (r *RoomManager) deliverLocal(conversationID string, participants []string, ev *Event, exclude *Client) {
	delivered := make(map[*Client]struct{})

	r.mu.RLock()
	members := make([]*Client, 0, len(r.rooms[conversationID]))
	for c := range r.rooms[conversationID] {
		members = append(members, c)
	}
	r.mu.RUnlock()

	for _, c := range members {
		if c == exclude {
			continue
		}
		delivered[c] = struct{}{}
		c.Deliver(ev)
	}

	for _, userID := range participants {
		for _, c := range r.presence.ConnectionsFor(userID) {
			if c == exclude {
				continue
			}
			if _, done := delivered[c]; done {
				continue
			}
			delivered[c] = struct{}{}
			c.Deliver(ev)
		}
	}
}

// BroadcastRoom delivers the event to current room members only. Used for
// ephemeral traffic (typing) that is not worth a participant lookup.
func (r *RoomManager) BroadcastRoom(roomID string, ev *Event, exclude *Client) {
	r.mu.RLock()
	members := make([]*Client, 0, len(r.rooms[roomID]))
	for c := range r.rooms[roomID] {
		members = append(members, c)
	}
	r.mu.RUnlock()

	for _, c := range members {
		if c == exclude {
			continue
		}
		c.Deliver(ev)
	}
}
