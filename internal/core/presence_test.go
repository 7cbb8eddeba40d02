package core

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dwellchat/dwellchat-server/internal/log"
)

func TestPresenceRegisterTracksFirstAndLast(t *testing.T) {
	p := NewPresenceRegistry()

	phone := newTestClient("c1", "alice")
	laptop := newTestClient("c2", "alice")

	require.True(t, p.Register(phone))
	require.False(t, p.Register(laptop))
	require.True(t, p.Online("alice"))
	require.Len(t, p.ConnectionsFor("alice"), 2)

	require.False(t, p.Unregister(phone))
	require.True(t, p.Online("alice"))
	require.True(t, p.Unregister(laptop))
	require.False(t, p.Online("alice"))
	require.Empty(t, p.ConnectionsFor("alice"))
}

func TestPresenceUnregisterUnknownConnection(t *testing.T) {
	p := NewPresenceRegistry()

	stranger := newTestClient("c1", "ghost")
	require.False(t, p.Unregister(stranger))
}

func TestRoomJoinLeaveIdempotent(t *testing.T) {
	p := NewPresenceRegistry()
	r := NewRoomManager(p, log.Nop())

	c := newTestClient("c1", "alice")
	require.True(t, r.Join("conv-1", c))
	require.False(t, r.Join("conv-1", c))
	require.True(t, r.IsMember("conv-1", c))

	require.True(t, r.Leave("conv-1", c))
	require.False(t, r.Leave("conv-1", c))
	require.False(t, r.IsMember("conv-1", c))
}

func TestRoomBroadcastReachesUnjoinedConnections(t *testing.T) {
	p := NewPresenceRegistry()
	r := NewRoomManager(p, log.Nop())

	joined := newTestClient("c1", "alice")
	unjoined := newTestClient("c2", "alice")
	p.Register(joined)
	p.Register(unjoined)
	r.Join("conv-1", joined)

	r.Broadcast(t.Context(), "conv-1", []string{"alice"}, &Event{Kind: EventMessageReceived}, nil)

	mustEvent(t, joined.Events, EventMessageReceived)
	mustEvent(t, unjoined.Events, EventMessageReceived)

	// Each connection gets the event once, not once per membership source.
	neverEvent(t, joined.Events, EventMessageReceived)
}

func TestRoomLeaveAllDropsEveryMembership(t *testing.T) {
	p := NewPresenceRegistry()
	r := NewRoomManager(p, log.Nop())

	c := newTestClient("c1", "alice")
	r.Join("conv-1", c)
	r.Join("conv-2", c)

	r.LeaveAll(c)
	require.False(t, r.IsMember("conv-1", c))
	require.False(t, r.IsMember("conv-2", c))
}
