package sqlite

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dwellchat/dwellchat-server/internal/store"
	"github.com/dwellchat/dwellchat-server/internal/utils"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newMessage(convID, senderID, content string, at time.Time) *store.Message {
	return &store.Message{
		ID:             utils.NewID(),
		ConversationID: convID,
		SenderID:       senderID,
		Content:        content,
		Status:         store.StatusSent,
		CreatedAt:      at,
	}
}

func TestFindOrCreateDirectIsUniquePerPair(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.FindOrCreateDirect(ctx, "alice", "bob", store.Scope{})
	require.NoError(t, err)
	require.Equal(t, store.KindDirect, first.Kind)
	require.ElementsMatch(t, []string{"alice", "bob"}, first.Participants)

	// Same pair in reverse order resolves to the same conversation.
	second, err := s.FindOrCreateDirect(ctx, "bob", "alice", store.Scope{})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	// A different pair gets its own conversation.
	other, err := s.FindOrCreateDirect(ctx, "alice", "carol", store.Scope{})
	require.NoError(t, err)
	require.NotEqual(t, first.ID, other.ID)

	// A user cannot hold a direct conversation with themselves.
	_, err = s.FindOrCreateDirect(ctx, "alice", "alice", store.Scope{})
	require.Error(t, err)
}

func TestFindOrCreateDirectConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const callers = 16
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conv, err := s.FindOrCreateDirect(ctx, "alice", "bob", store.Scope{})
			if err != nil {
				t.Errorf("find or create: %v", err)
				return
			}
			ids[i] = conv.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		require.Equal(t, ids[0], id)
	}

	convs, err := s.ListConversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, convs, 1)
}

func TestDirectScopeAppliedOnlyAtCreation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	unit := "unit-12"
	created, err := s.FindOrCreateDirect(ctx, "alice", "bob", store.Scope{UnitID: &unit})
	require.NoError(t, err)
	require.NotNil(t, created.Scope.UnitID)
	require.Equal(t, "unit-12", *created.Scope.UnitID)

	otherUnit := "unit-99"
	found, err := s.FindOrCreateDirect(ctx, "alice", "bob", store.Scope{UnitID: &otherUnit})
	require.NoError(t, err)
	require.Equal(t, created.ID, found.ID)
	require.Equal(t, "unit-12", *found.Scope.UnitID)
}

func TestCreateConversationDeduplicatesParticipants(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, store.KindGroup, []string{"alice", "bob", "alice", "carol"}, store.Scope{})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"alice", "bob", "carol"}, conv.Participants)

	_, err = s.CreateConversation(ctx, store.KindGroup, []string{"alice"}, store.Scope{})
	require.Error(t, err)
}

func TestGetConversationNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetConversation(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestUnreadCountsGrowAndReset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, store.KindGroup, []string{"alice", "bob", "carol"}, store.Scope{})
	require.NoError(t, err)

	for range 3 {
		require.NoError(t, s.IncrementUnread(ctx, conv.ID, "alice"))
	}
	require.NoError(t, s.IncrementUnread(ctx, conv.ID, "bob"))

	conv, err = s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Equal(t, 1, conv.UnreadCount["alice"])
	require.Equal(t, 3, conv.UnreadCount["bob"])
	require.Equal(t, 4, conv.UnreadCount["carol"])

	require.NoError(t, s.ResetUnread(ctx, conv.ID, "carol"))
	conv, err = s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Equal(t, 0, conv.UnreadCount["carol"])
	require.Equal(t, 3, conv.UnreadCount["bob"])
}

func TestConcurrentUnreadIncrementsNeverLost(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.FindOrCreateDirect(ctx, "alice", "bob", store.Scope{})
	require.NoError(t, err)

	const sends = 32
	var wg sync.WaitGroup
	for range sends {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.IncrementUnread(ctx, conv.ID, "alice"); err != nil {
				t.Errorf("increment unread: %v", err)
			}
		}()
	}
	wg.Wait()

	conv, err = s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Equal(t, sends, conv.UnreadCount["bob"])
	require.Equal(t, 0, conv.UnreadCount["alice"])
}

func TestMarkMessagesReadIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.FindOrCreateDirect(ctx, "alice", "bob", store.Scope{})
	require.NoError(t, err)

	now := time.Now()
	for i := range 3 {
		require.NoError(t, s.CreateMessage(ctx, newMessage(conv.ID, "alice", "msg", now.Add(time.Duration(i)*time.Second))))
	}
	// Bob's own message must not be touched by his read.
	require.NoError(t, s.CreateMessage(ctx, newMessage(conv.ID, "bob", "mine", now.Add(5*time.Second))))

	updated, err := s.MarkMessagesRead(ctx, conv.ID, "bob", time.Now())
	require.NoError(t, err)
	require.EqualValues(t, 3, updated)

	updated, err = s.MarkMessagesRead(ctx, conv.ID, "bob", time.Now())
	require.NoError(t, err)
	require.Zero(t, updated)

	msgs, err := s.ListMessages(ctx, conv.ID, 10, nil)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	for _, msg := range msgs {
		if msg.SenderID == "alice" {
			require.True(t, msg.IsRead)
			require.Equal(t, store.StatusRead, msg.Status)
			require.NotNil(t, msg.ReadAt)
		} else {
			require.False(t, msg.IsRead)
		}
	}
}

func TestCreateMessageClampsTimestamp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.FindOrCreateDirect(ctx, "alice", "bob", store.Scope{})
	require.NoError(t, err)

	base := time.Now().Round(time.Millisecond)
	first := newMessage(conv.ID, "alice", "first", base)
	require.NoError(t, s.CreateMessage(ctx, first))
	require.NoError(t, s.TouchLastMessage(ctx, conv.ID, first.ID, first.CreatedAt))

	// A message arriving with an earlier timestamp never sorts before the
	// conversation's latest message.
	late := newMessage(conv.ID, "bob", "late", base.Add(-time.Minute))
	require.NoError(t, s.CreateMessage(ctx, late))
	require.False(t, late.CreatedAt.Before(first.CreatedAt))

	msgs, err := s.ListMessages(ctx, conv.ID, 10, nil)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "first", msgs[0].Content)
	require.Equal(t, "late", msgs[1].Content)
}

func TestTouchLastMessageNeverRegresses(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.FindOrCreateDirect(ctx, "alice", "bob", store.Scope{})
	require.NoError(t, err)

	newer := time.Now().Round(time.Millisecond)
	older := newer.Add(-time.Hour)

	require.NoError(t, s.TouchLastMessage(ctx, conv.ID, "m1", newer))
	require.NoError(t, s.TouchLastMessage(ctx, conv.ID, "m2", older))

	conv, err = s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, conv.LastMessageAt)
	require.True(t, conv.LastMessageAt.Equal(newer))
	// The pointer still moves to the newest write.
	require.Equal(t, "m2", *conv.LastMessageID)

	require.ErrorIs(t, s.TouchLastMessage(ctx, "missing", "m3", newer), store.ErrNotFound)
}

func TestListMessagesPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.FindOrCreateDirect(ctx, "alice", "bob", store.Scope{})
	require.NoError(t, err)

	base := time.Now().Round(time.Millisecond)
	contents := []string{"m0", "m1", "m2", "m3", "m4", "m5"}
	for i, content := range contents {
		require.NoError(t, s.CreateMessage(ctx, newMessage(conv.ID, "alice", content, base.Add(time.Duration(i)*time.Second))))
	}

	// Latest page, chronological inside the page.
	page, err := s.ListMessages(ctx, conv.ID, 3, nil)
	require.NoError(t, err)
	require.Len(t, page, 3)
	require.Equal(t, "m3", page[0].Content)
	require.Equal(t, "m5", page[2].Content)

	// Page backwards from the oldest message of the previous page.
	cursor := page[0].CreatedAt
	page, err = s.ListMessages(ctx, conv.ID, 3, &cursor)
	require.NoError(t, err)
	require.Len(t, page, 3)
	require.Equal(t, "m0", page[0].Content)
	require.Equal(t, "m2", page[2].Content)
}

func TestMessageAttachmentsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.FindOrCreateDirect(ctx, "alice", "bob", store.Scope{})
	require.NoError(t, err)

	msg := newMessage(conv.ID, "alice", "see attached", time.Now())
	msg.Attachments = []store.Attachment{
		{Filename: "lease.pdf", StorageRef: "s3://bucket/lease.pdf", Size: 12345, MimeType: "application/pdf"},
		{Filename: "photo.jpg", StorageRef: "s3://bucket/photo.jpg", Size: 54321, MimeType: "image/jpeg"},
	}
	require.NoError(t, s.CreateMessage(ctx, msg))

	got, err := s.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	require.Len(t, got.Attachments, 2)
	require.Equal(t, "lease.pdf", got.Attachments[0].Filename)
	require.Equal(t, "photo.jpg", got.Attachments[1].Filename)
}

func TestArchiveLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.FindOrCreateDirect(ctx, "alice", "bob", store.Scope{})
	require.NoError(t, err)

	require.NoError(t, s.ArchiveConversation(ctx, conv.ID, "alice", time.Now()))

	conv, err = s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	_, aliceArchived := conv.ArchivedBy["alice"]
	_, bobArchived := conv.ArchivedBy["bob"]
	require.True(t, aliceArchived)
	require.False(t, bobArchived)

	require.NoError(t, s.UnarchiveConversation(ctx, conv.ID, "alice"))
	conv, err = s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Empty(t, conv.ArchivedBy)

	require.ErrorIs(t, s.ArchiveConversation(ctx, conv.ID, "stranger", time.Now()), store.ErrNotFound)
}

func TestListConversationsOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older, err := s.FindOrCreateDirect(ctx, "alice", "bob", store.Scope{})
	require.NoError(t, err)
	newer, err := s.FindOrCreateDirect(ctx, "alice", "carol", store.Scope{})
	require.NoError(t, err)

	// Activity in the older conversation moves it to the front.
	require.NoError(t, s.TouchLastMessage(ctx, older.ID, "m1", time.Now().Add(time.Hour)))

	convs, err := s.ListConversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, convs, 2)
	require.Equal(t, older.ID, convs[0].ID)
	require.Equal(t, newer.ID, convs[1].ID)
}
