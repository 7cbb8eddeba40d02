package core

import "sync"

// PresenceRegistry owns the user -> live connections index. The raw map is
// never exposed; callers go through the accessors so register/unregister can
// keep the index consistent under concurrent connects and disconnects.
type PresenceRegistry struct {
	mu     sync.RWMutex
	byUser map[string]map[*Client]struct{}
}

// NewPresenceRegistry constructs an empty registry.
func NewPresenceRegistry() *PresenceRegistry {
	return &PresenceRegistry{
		byUser: make(map[string]map[*Client]struct{}),
	}
}

// Register adds the connection to its user's set. Returns true if this is the
// user's first live connection (the online edge).
func (p *PresenceRegistry) Register(c *Client) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	conns := p.byUser[c.UserID]
	if conns == nil {
		conns = make(map[*Client]struct{})
		p.byUser[c.UserID] = conns
	}
	first := len(conns) == 0
	conns[c] = struct{}{}
	return first
}

// Unregister removes the connection. Returns true if the user now has no live
// connections (the offline edge). Unknown connections are a no-op.
func (p *PresenceRegistry) Unregister(c *Client) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	conns := p.byUser[c.UserID]
	if conns == nil {
		return false
	}
	if _, ok := conns[c]; !ok {
		return false
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(p.byUser, c.UserID)
		return true
	}
	return false
}

// ConnectionsFor returns every live connection of the user, covering all of
// their devices.
func (p *PresenceRegistry) ConnectionsFor(userID string) []*Client {
	p.mu.RLock()
	defer p.mu.RUnlock()

	conns := p.byUser[userID]
	if len(conns) == 0 {
		return nil
	}
	out := make([]*Client, 0, len(conns))
	for c := range conns {
		out = append(out, c)
	}
	return out
}

// Online reports whether the user has at least one live connection.
func (p *PresenceRegistry) Online(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byUser[userID]) > 0
}

// All returns every live connection across all users.
func (p *PresenceRegistry) All() []*Client {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []*Client
	for _, conns := range p.byUser {
		for c := range conns {
			out = append(out, c)
		}
	}
	return out
}
