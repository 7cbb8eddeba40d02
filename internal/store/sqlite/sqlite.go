package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dwellchat/dwellchat-server/internal/store"
	"github.com/dwellchat/dwellchat-server/internal/utils"
)

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Set connection pool limits
	db.SetMaxOpenConns(1) // SQLite works best with single connection
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// NewWithSetup creates a new SQLite store and runs a setup function after the
// schema is applied. Useful for tests to seed fixtures.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	s, err := New(dbPath)
	if err != nil {
		return nil, err
	}

	if setup != nil {
		if err := setup(s.db); err != nil {
			s.db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// directKey normalizes a pair of user IDs into the unique key for their direct
// conversation, independent of argument order.
func directKey(userA, userB string) string {
	pair := []string{userA, userB}
	sort.Strings(pair)
	return "direct:" + pair[0] + ":" + pair[1]
}

// ==== ConversationStore implementation ====

// FindOrCreateDirect returns the unique direct conversation for the pair,
// creating it if absent. A concurrent duplicate insert loses on the UNIQUE
// direct_key constraint and re-reads the winner's row.
func (s *SQLiteStore) FindOrCreateDirect(ctx context.Context, userA, userB string, scope store.Scope) (*store.Conversation, error) {
	if userA == userB {
		return nil, fmt.Errorf("direct conversation needs two distinct participants")
	}
	key := directKey(userA, userB)

	conv, err := s.getConversationByDirectKey(ctx, key)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("check existing conversation: %w", err)
	}

	id := utils.NewID()
	if err := s.insertConversation(ctx, id, store.KindDirect, &key, []string{userA, userB}, scope); err != nil {
		if isUniqueViolation(err) {
			// Lost the create race; the winner's row is authoritative.
			return s.getConversationByDirectKey(ctx, key)
		}
		return nil, err
	}

	return s.GetConversation(ctx, id)
}

// CreateConversation creates a group/unit/building conversation.
func (s *SQLiteStore) CreateConversation(ctx context.Context, kind store.ConversationKind, participants []string, scope store.Scope) (*store.Conversation, error) {
	if len(participants) < 2 {
		return nil, fmt.Errorf("conversation needs at least two participants")
	}

	id := utils.NewID()
	if err := s.insertConversation(ctx, id, kind, nil, participants, scope); err != nil {
		return nil, err
	}

	return s.GetConversation(ctx, id)
}

func (s *SQLiteStore) insertConversation(ctx context.Context, id string, kind store.ConversationKind, key *string, participants []string, scope store.Scope) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `
		INSERT INTO conversations (id, kind, direct_key, unit_id, building_id, request_id)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, query, id, string(kind), key, scope.UnitID, scope.BuildingID, scope.RequestID); err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}

	memberQuery := `
		INSERT INTO conversation_participants (conversation_id, user_id)
		VALUES (?, ?)
	`
	seen := make(map[string]struct{}, len(participants))
	for _, userID := range participants {
		if _, dup := seen[userID]; dup {
			continue
		}
		seen[userID] = struct{}{}
		if _, err := tx.ExecContext(ctx, memberQuery, id, userID); err != nil {
			return fmt.Errorf("insert participant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// GetConversation retrieves a conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	return s.getConversationWhere(ctx, "id = ?", id)
}

func (s *SQLiteStore) getConversationByDirectKey(ctx context.Context, key string) (*store.Conversation, error) {
	return s.getConversationWhere(ctx, "direct_key = ?", key)
}

func (s *SQLiteStore) getConversationWhere(ctx context.Context, where string, arg any) (*store.Conversation, error) {
	query := `
		SELECT id, kind, unit_id, building_id, request_id, last_message_id, last_message_at, created_at
		FROM conversations
		WHERE ` + where
	var conv store.Conversation
	var unitID, buildingID, requestID, lastMessageID sql.NullString
	var lastMessageAt sql.NullTime
	var kind string
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&conv.ID,
		&kind,
		&unitID,
		&buildingID,
		&requestID,
		&lastMessageID,
		&lastMessageAt,
		&conv.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("conversation: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query conversation: %w", err)
	}

	conv.Kind = store.ConversationKind(kind)
	if unitID.Valid {
		conv.Scope.UnitID = &unitID.String
	}
	if buildingID.Valid {
		conv.Scope.BuildingID = &buildingID.String
	}
	if requestID.Valid {
		conv.Scope.RequestID = &requestID.String
	}
	if lastMessageID.Valid {
		conv.LastMessageID = &lastMessageID.String
	}
	if lastMessageAt.Valid {
		conv.LastMessageAt = &lastMessageAt.Time
	}

	if err := s.loadParticipants(ctx, &conv); err != nil {
		return nil, err
	}

	return &conv, nil
}

func (s *SQLiteStore) loadParticipants(ctx context.Context, conv *store.Conversation) error {
	query := `
		SELECT user_id, unread_count, archived_at
		FROM conversation_participants
		WHERE conversation_id = ?
		ORDER BY joined_at ASC, user_id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, conv.ID)
	if err != nil {
		return fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	conv.Participants = nil
	conv.UnreadCount = make(map[string]int)
	conv.ArchivedBy = make(map[string]time.Time)
	for rows.Next() {
		var userID string
		var unread int
		var archivedAt sql.NullTime
		if err := rows.Scan(&userID, &unread, &archivedAt); err != nil {
			return fmt.Errorf("scan participant: %w", err)
		}
		conv.Participants = append(conv.Participants, userID)
		conv.UnreadCount[userID] = unread
		if archivedAt.Valid {
			conv.ArchivedBy[userID] = archivedAt.Time
		}
	}

	return rows.Err()
}

// ListConversations lists a user's conversations, newest activity first.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID string) ([]*store.Conversation, error) {
	query := `
		SELECT c.id
		FROM conversations c
		JOIN conversation_participants cp ON c.id = cp.conversation_id
		WHERE cp.user_id = ?
		ORDER BY COALESCE(c.last_message_at, c.created_at) DESC
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan conversation id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	conversations := make([]*store.Conversation, 0, len(ids))
	for _, id := range ids {
		conv, err := s.GetConversation(ctx, id)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, conv)
	}

	return conversations, nil
}

// IncrementUnread adds one to every participant's unread counter except
// exceptUserID. The increment is a single SQL statement so concurrent sends
// never lose updates.
func (s *SQLiteStore) IncrementUnread(ctx context.Context, conversationID, exceptUserID string) error {
	query := `
		UPDATE conversation_participants
		SET unread_count = unread_count + 1
		WHERE conversation_id = ? AND user_id <> ?
	`
	if _, err := s.db.ExecContext(ctx, query, conversationID, exceptUserID); err != nil {
		return fmt.Errorf("increment unread: %w", err)
	}
	return nil
}

// ResetUnread zeroes the unread counter for one participant.
func (s *SQLiteStore) ResetUnread(ctx context.Context, conversationID, userID string) error {
	query := `
		UPDATE conversation_participants
		SET unread_count = 0
		WHERE conversation_id = ? AND user_id = ?
	`
	if _, err := s.db.ExecContext(ctx, query, conversationID, userID); err != nil {
		return fmt.Errorf("reset unread: %w", err)
	}
	return nil
}

// TouchLastMessage updates the last-message pointer. The stored timestamp never
// goes backwards.
func (s *SQLiteStore) TouchLastMessage(ctx context.Context, conversationID, messageID string, at time.Time) error {
	query := `
		UPDATE conversations
		SET last_message_id = ?,
		    last_message_at = CASE
		        WHEN last_message_at IS NULL OR last_message_at < ? THEN ?
		        ELSE last_message_at
		    END
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query, messageID, at, at, conversationID)
	if err != nil {
		return fmt.Errorf("touch last message: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("conversation: %w", store.ErrNotFound)
	}
	return nil
}

// ArchiveConversation soft-hides the conversation for one participant.
func (s *SQLiteStore) ArchiveConversation(ctx context.Context, conversationID, userID string, at time.Time) error {
	query := `
		UPDATE conversation_participants
		SET archived_at = ?
		WHERE conversation_id = ? AND user_id = ?
	`
	result, err := s.db.ExecContext(ctx, query, at, conversationID, userID)
	if err != nil {
		return fmt.Errorf("archive conversation: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("participant: %w", store.ErrNotFound)
	}
	return nil
}

// UnarchiveConversation removes the participant's archive mark.
func (s *SQLiteStore) UnarchiveConversation(ctx context.Context, conversationID, userID string) error {
	query := `
		UPDATE conversation_participants
		SET archived_at = NULL
		WHERE conversation_id = ? AND user_id = ?
	`
	if _, err := s.db.ExecContext(ctx, query, conversationID, userID); err != nil {
		return fmt.Errorf("unarchive conversation: %w", err)
	}
	return nil
}

// ==== MessageStore implementation ====

// CreateMessage persists a message and its attachments. CreatedAt is clamped
// inside the transaction so it never precedes the conversation's last message;
// the effective value is written back into msg.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *store.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var lastMessageAt sql.NullTime
	err = tx.QueryRowContext(ctx,
		`SELECT last_message_at FROM conversations WHERE id = ?`,
		msg.ConversationID,
	).Scan(&lastMessageAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("conversation: %w", store.ErrNotFound)
		}
		return fmt.Errorf("query last message time: %w", err)
	}

	if lastMessageAt.Valid && msg.CreatedAt.Before(lastMessageAt.Time) {
		msg.CreatedAt = lastMessageAt.Time
	}

	query := `
		INSERT INTO messages (id, conversation_id, sender_id, receiver_id, content, status, is_read, read_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, query,
		msg.ID,
		msg.ConversationID,
		msg.SenderID,
		msg.ReceiverID,
		msg.Content,
		string(msg.Status),
		msg.IsRead,
		msg.ReadAt,
		msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	attachmentQuery := `
		INSERT INTO message_attachments (message_id, position, filename, storage_ref, size, mime_type)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	for i, att := range msg.Attachments {
		if _, err := tx.ExecContext(ctx, attachmentQuery, msg.ID, i, att.Filename, att.StorageRef, att.Size, att.MimeType); err != nil {
			return fmt.Errorf("insert attachment: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*store.Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, receiver_id, content, status, is_read, read_at, created_at
		FROM messages
		WHERE id = ?
	`
	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query message: %w", err)
	}

	if err := s.loadAttachments(ctx, msg); err != nil {
		return nil, err
	}

	return msg, nil
}

// ListMessages retrieves messages with pagination, oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int, before *time.Time) ([]*store.Message, error) {
	var query string
	var args []any

	if before != nil {
		query = `
			SELECT id, conversation_id, sender_id, receiver_id, content, status, is_read, read_at, created_at
			FROM messages
			WHERE conversation_id = ? AND created_at < ?
			ORDER BY created_at DESC, rowid DESC
			LIMIT ?
		`
		args = []any{conversationID, *before, limit}
	} else {
		query = `
			SELECT id, conversation_id, sender_id, receiver_id, content, status, is_read, read_at, created_at
			FROM messages
			WHERE conversation_id = ?
			ORDER BY created_at DESC, rowid DESC
			LIMIT ?
		`
		args = []any{conversationID, limit}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, msg := range messages {
		if err := s.loadAttachments(ctx, msg); err != nil {
			return nil, err
		}
	}

	// Reverse to get chronological order
	for i := range len(messages) / 2 {
		messages[i], messages[len(messages)-1-i] = messages[len(messages)-1-i], messages[i]
	}

	return messages, nil
}

// MarkMessagesRead transitions every unread message not sent by readerID to
// read status. Repeated calls match zero rows and are no-ops.
func (s *SQLiteStore) MarkMessagesRead(ctx context.Context, conversationID, readerID string, at time.Time) (int64, error) {
	query := `
		UPDATE messages
		SET status = ?, is_read = 1, read_at = ?
		WHERE conversation_id = ? AND sender_id <> ? AND is_read = 0
	`
	result, err := s.db.ExecContext(ctx, query, string(store.StatusRead), at, conversationID, readerID)
	if err != nil {
		return 0, fmt.Errorf("mark messages read: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return rowsAffected, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*store.Message, error) {
	var msg store.Message
	var receiverID sql.NullString
	var status string
	var readAt sql.NullTime
	err := row.Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.SenderID,
		&receiverID,
		&msg.Content,
		&status,
		&msg.IsRead,
		&readAt,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	msg.Status = store.MessageStatus(status)
	if receiverID.Valid {
		msg.ReceiverID = &receiverID.String
	}
	if readAt.Valid {
		msg.ReadAt = &readAt.Time
	}

	return &msg, nil
}

func (s *SQLiteStore) loadAttachments(ctx context.Context, msg *store.Message) error {
	query := `
		SELECT filename, storage_ref, size, mime_type
		FROM message_attachments
		WHERE message_id = ?
		ORDER BY position ASC
	`
	rows, err := s.db.QueryContext(ctx, query, msg.ID)
	if err != nil {
		return fmt.Errorf("query attachments: %w", err)
	}
	defer rows.Close()

	msg.Attachments = nil
	for rows.Next() {
		var att store.Attachment
		if err := rows.Scan(&att.Filename, &att.StorageRef, &att.Size, &att.MimeType); err != nil {
			return fmt.Errorf("scan attachment: %w", err)
		}
		msg.Attachments = append(msg.Attachments, att)
	}

	return rows.Err()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Ensure SQLiteStore implements store.Store
var _ store.Store = (*SQLiteStore)(nil)
