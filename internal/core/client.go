package core

import (
	"sync"

	"github.com/dwellchat/dwellchat-server/internal/auth"
)

// Client is one live connection of a user. A user with several devices has
// several clients at once.
type Client struct {
	ID     string
	UserID string
	Name   string
	Role   string

	Commands chan *Command
	Events   chan *Event

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a client for a verified identity.
func NewClient(id string, identity *auth.Identity, buffer int) *Client {
	if buffer <= 0 {
		buffer = 8
	}
	return &Client{
		ID:       id,
		UserID:   identity.UserID,
		Name:     identity.DisplayName,
		Role:     identity.Role,
		Commands: make(chan *Command, buffer),
		Events:   make(chan *Event, buffer),
		done:     make(chan struct{}),
	}
}

// Deliver enqueues an event for the connection's write loop. Returns false if
// the connection is gone or the buffer is full (slow consumers are dropped,
// never blocked on).
func (c *Client) Deliver(ev *Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Events <- ev:
		return true
	default:
		return false
	}
}

// Close marks the connection dead. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Done is closed when the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}
