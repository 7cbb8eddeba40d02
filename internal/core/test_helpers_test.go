package core

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/dwellchat/dwellchat-server/internal/auth"
	"github.com/dwellchat/dwellchat-server/internal/log"
	"github.com/dwellchat/dwellchat-server/internal/store"
	"github.com/dwellchat/dwellchat-server/internal/utils"
)

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev != nil && ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("expected event kind %v not received", kind)
			return nil
		}
	}
}

// neverEvent drains the channel briefly and fails if the kind shows up.
func neverEvent(t *testing.T, ch <-chan *Event, kind EventKind) {
	t.Helper()

	timeout := time.After(150 * time.Millisecond)
	for {
		select {
		case ev := <-ch:
			if ev != nil && ev.Kind == kind {
				t.Fatalf("unexpected event kind %v received: %+v", kind, ev)
			}
		case <-timeout:
			return
		}
	}
}

func newTestHub(t *testing.T) (*Hub, *memStore) {
	t.Helper()

	st := newMemStore()
	hub := NewHub(st, log.Nop(), time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub, st
}

func newTestClient(connID, userID string) *Client {
	return NewClient(connID, &auth.Identity{
		UserID:      userID,
		DisplayName: userID,
		Role:        "resident",
	}, 64)
}

// memStore is an in-memory store.Store used to exercise the realtime layer
// without a database file.
type memStore struct {
	mu     sync.Mutex
	convs  map[string]*store.Conversation
	direct map[string]string
	msgs   map[string][]*store.Message

	// failCreateMessage, when set, makes CreateMessage fail once.
	failCreateMessage error
	// unreadGate, when set, stalls the next IncrementUnread call until the
	// channel is closed. Lets tests hold one send mid-persist.
	unreadGate chan struct{}
}

func newMemStore() *memStore {
	return &memStore{
		convs:  make(map[string]*store.Conversation),
		direct: make(map[string]string),
		msgs:   make(map[string][]*store.Message),
	}
}

func directKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "direct:" + a + ":" + b
}

func (m *memStore) FindOrCreateDirect(_ context.Context, userA, userB string, scope store.Scope) (*store.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := directKey(userA, userB)
	if id, ok := m.direct[key]; ok {
		return cloneConversation(m.convs[id]), nil
	}

	conv := &store.Conversation{
		ID:           utils.NewID(),
		Kind:         store.KindDirect,
		Participants: []string{userA, userB},
		Scope:        scope,
		UnreadCount:  map[string]int{userA: 0, userB: 0},
		ArchivedBy:   make(map[string]time.Time),
		CreatedAt:    time.Now(),
	}
	m.convs[conv.ID] = conv
	m.direct[key] = conv.ID
	return cloneConversation(conv), nil
}

func (m *memStore) CreateConversation(_ context.Context, kind store.ConversationKind, participants []string, scope store.Scope) (*store.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv := &store.Conversation{
		ID:           utils.NewID(),
		Kind:         kind,
		Participants: append([]string(nil), participants...),
		Scope:        scope,
		UnreadCount:  make(map[string]int, len(participants)),
		ArchivedBy:   make(map[string]time.Time),
		CreatedAt:    time.Now(),
	}
	for _, p := range participants {
		conv.UnreadCount[p] = 0
	}
	m.convs[conv.ID] = conv
	return cloneConversation(conv), nil
}

func (m *memStore) GetConversation(_ context.Context, id string) (*store.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.convs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneConversation(conv), nil
}

func (m *memStore) ListConversations(_ context.Context, userID string) ([]*store.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*store.Conversation
	for _, conv := range m.convs {
		if conv.HasParticipant(userID) {
			out = append(out, cloneConversation(conv))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return activityTime(out[i]).After(activityTime(out[j]))
	})
	return out, nil
}

func activityTime(conv *store.Conversation) time.Time {
	if conv.LastMessageAt != nil {
		return *conv.LastMessageAt
	}
	return conv.CreatedAt
}

func (m *memStore) IncrementUnread(_ context.Context, conversationID, exceptUserID string) error {
	m.mu.Lock()
	gate := m.unreadGate
	m.unreadGate = nil
	m.mu.Unlock()
	if gate != nil {
		<-gate
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.convs[conversationID]
	if !ok {
		return store.ErrNotFound
	}
	for _, p := range conv.Participants {
		if p != exceptUserID {
			conv.UnreadCount[p]++
		}
	}
	return nil
}

func (m *memStore) ResetUnread(_ context.Context, conversationID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.convs[conversationID]
	if !ok {
		return store.ErrNotFound
	}
	conv.UnreadCount[userID] = 0
	return nil
}

func (m *memStore) TouchLastMessage(_ context.Context, conversationID, messageID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.convs[conversationID]
	if !ok {
		return store.ErrNotFound
	}
	conv.LastMessageID = &messageID
	if conv.LastMessageAt == nil || conv.LastMessageAt.Before(at) {
		conv.LastMessageAt = &at
	}
	return nil
}

func (m *memStore) ArchiveConversation(_ context.Context, conversationID, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.convs[conversationID]
	if !ok {
		return store.ErrNotFound
	}
	conv.ArchivedBy[userID] = at
	return nil
}

func (m *memStore) UnarchiveConversation(_ context.Context, conversationID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.convs[conversationID]
	if !ok {
		return store.ErrNotFound
	}
	delete(conv.ArchivedBy, userID)
	return nil
}

func (m *memStore) CreateMessage(_ context.Context, msg *store.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failCreateMessage; err != nil {
		m.failCreateMessage = nil
		return err
	}

	conv, ok := m.convs[msg.ConversationID]
	if !ok {
		return store.ErrNotFound
	}
	if conv.LastMessageAt != nil && msg.CreatedAt.Before(*conv.LastMessageAt) {
		msg.CreatedAt = *conv.LastMessageAt
	}

	stored := *msg
	m.msgs[msg.ConversationID] = append(m.msgs[msg.ConversationID], &stored)
	return nil
}

func (m *memStore) GetMessage(_ context.Context, id string) (*store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, msgs := range m.msgs {
		for _, msg := range msgs {
			if msg.ID == id {
				copied := *msg
				return &copied, nil
			}
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) ListMessages(_ context.Context, conversationID string, limit int, before *time.Time) ([]*store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*store.Message
	for _, msg := range m.msgs[conversationID] {
		if before != nil && !msg.CreatedAt.Before(*before) {
			continue
		}
		copied := *msg
		out = append(out, &copied)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *memStore) MarkMessagesRead(_ context.Context, conversationID, readerID string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var updated int64
	for _, msg := range m.msgs[conversationID] {
		if msg.SenderID == readerID || msg.IsRead {
			continue
		}
		msg.IsRead = true
		msg.Status = store.StatusRead
		readAt := at
		msg.ReadAt = &readAt
		updated++
	}
	return updated, nil
}

func (m *memStore) Close() error { return nil }

func cloneConversation(conv *store.Conversation) *store.Conversation {
	copied := *conv
	copied.Participants = append([]string(nil), conv.Participants...)
	copied.UnreadCount = make(map[string]int, len(conv.UnreadCount))
	for k, v := range conv.UnreadCount {
		copied.UnreadCount[k] = v
	}
	copied.ArchivedBy = make(map[string]time.Time, len(conv.ArchivedBy))
	for k, v := range conv.ArchivedBy {
		copied.ArchivedBy[k] = v
	}
	return &copied
}

var _ store.Store = (*memStore)(nil)
