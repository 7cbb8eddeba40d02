package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/dwellchat/dwellchat-server/internal/store"
)

const (
	defaultMessagePageSize = 50
	maxMessagePageSize     = 200
)

// ErrorResponse is the JSON body for failed requests.
type ErrorResponse struct {
	Error string `json:"error"`
}

// AttachmentResponse mirrors one message attachment.
type AttachmentResponse struct {
	Filename   string `json:"filename"`
	StorageRef string `json:"storage_ref"`
	Size       int64  `json:"size"`
	MimeType   string `json:"mime_type"`
}

// MessageResponse is the REST shape of a message.
type MessageResponse struct {
	ID             string               `json:"id"`
	ConversationID string               `json:"conversation_id"`
	SenderID       string               `json:"sender_id"`
	ReceiverID     string               `json:"receiver_id,omitempty"`
	Content        string               `json:"content"`
	Attachments    []AttachmentResponse `json:"attachments,omitempty"`
	Status         string               `json:"status"`
	IsRead         bool                 `json:"is_read"`
	ReadAt         *time.Time           `json:"read_at,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
}

// ConversationResponse is the REST shape of a conversation. unread_count is
// the caller's own counter; archived reflects the caller's archive mark.
type ConversationResponse struct {
	ID            string     `json:"id"`
	Kind          string     `json:"kind"`
	Participants  []string   `json:"participants"`
	Unit          string     `json:"unit_id,omitempty"`
	Building      string     `json:"building_id,omitempty"`
	Request       string     `json:"request_id,omitempty"`
	LastMessageID string     `json:"last_message_id,omitempty"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	UnreadCount   int        `json:"unread_count"`
	Archived      bool       `json:"archived"`
	CreatedAt     time.Time  `json:"created_at"`
}

// CreateDirectRequest asks for the unique direct conversation with a peer.
type CreateDirectRequest struct {
	ReceiverID string `json:"receiver_id" binding:"required"`
	Unit       string `json:"unit_id"`
	Building   string `json:"building_id"`
	Request    string `json:"request_id"`
}

// CreateConversationRequest creates a group, unit or building conversation.
type CreateConversationRequest struct {
	Kind         string   `json:"kind" binding:"required"`
	Participants []string `json:"participants" binding:"required"`
	Unit         string   `json:"unit_id"`
	Building     string   `json:"building_id"`
	Request      string   `json:"request_id"`
}

// ConversationHandlers serves the conversation REST surface.
type ConversationHandlers struct {
	store store.Store
	log   *zerolog.Logger
}

// NewConversationHandlers builds the handler set.
func NewConversationHandlers(st store.Store, logger *zerolog.Logger) *ConversationHandlers {
	return &ConversationHandlers{store: st, log: logger}
}

// Register mounts the routes on an authenticated group.
func (h *ConversationHandlers) Register(api *gin.RouterGroup) {
	api.POST("/conversations/direct", h.CreateDirect)
	api.POST("/conversations", h.CreateConversation)
	api.GET("/conversations", h.ListConversations)
	api.GET("/conversations/:id", h.GetConversation)
	api.GET("/conversations/:id/messages", h.ListMessages)
	api.POST("/conversations/:id/archive", h.Archive)
	api.DELETE("/conversations/:id/archive", h.Unarchive)
}

// CreateDirect finds or creates the unique direct conversation between the
// caller and the receiver.
func (h *ConversationHandlers) CreateDirect(c *gin.Context) {
	userID := c.GetString(ContextKeyUserID)

	var req CreateDirectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "receiver_id is required"})
		return
	}
	if req.ReceiverID == userID {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "cannot open a direct conversation with yourself"})
		return
	}

	conv, err := h.store.FindOrCreateDirect(c.Request.Context(), userID, req.ReceiverID, scopeFromStrings(req.Unit, req.Building, req.Request))
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("find or create direct failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to create conversation"})
		return
	}

	c.JSON(http.StatusOK, conversationResponse(conv, userID))
}

// CreateConversation creates a multi-participant conversation. The caller is
// always included.
func (h *ConversationHandlers) CreateConversation(c *gin.Context) {
	userID := c.GetString(ContextKeyUserID)

	var req CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "kind and participants are required"})
		return
	}

	kind := store.ConversationKind(req.Kind)
	switch kind {
	case store.KindGroup, store.KindUnit, store.KindBuilding:
	default:
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "kind must be group, unit or building"})
		return
	}

	participants := append([]string{userID}, req.Participants...)
	conv, err := h.store.CreateConversation(c.Request.Context(), kind, participants, scopeFromStrings(req.Unit, req.Building, req.Request))
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("create conversation failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to create conversation"})
		return
	}

	c.JSON(http.StatusCreated, conversationResponse(conv, userID))
}

// ListConversations returns the caller's conversations, newest activity first.
// Archived conversations are skipped unless ?include_archived=true.
func (h *ConversationHandlers) ListConversations(c *gin.Context) {
	userID := c.GetString(ContextKeyUserID)
	includeArchived := c.Query("include_archived") == "true"

	convs, err := h.store.ListConversations(c.Request.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("list conversations failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to list conversations"})
		return
	}

	out := make([]ConversationResponse, 0, len(convs))
	for _, conv := range convs {
		if _, archived := conv.ArchivedBy[userID]; archived && !includeArchived {
			continue
		}
		out = append(out, conversationResponse(conv, userID))
	}

	c.JSON(http.StatusOK, gin.H{"conversations": out})
}

// GetConversation returns a single conversation the caller participates in.
func (h *ConversationHandlers) GetConversation(c *gin.Context) {
	conv, userID, ok := h.loadForParticipant(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, conversationResponse(conv, userID))
}

// ListMessages pages through a conversation's history, oldest first within the
// page. ?before= takes an RFC 3339 timestamp cursor.
func (h *ConversationHandlers) ListMessages(c *gin.Context) {
	conv, _, ok := h.loadForParticipant(c)
	if !ok {
		return
	}

	limit := defaultMessagePageSize
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = min(parsed, maxMessagePageSize)
	}

	var before *time.Time
	if raw := c.Query("before"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "before must be an RFC 3339 timestamp"})
			return
		}
		before = &parsed
	}

	msgs, err := h.store.ListMessages(c.Request.Context(), conv.ID, limit, before)
	if err != nil {
		h.log.Error().Err(err).Str("conversation_id", conv.ID).Msg("list messages failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to list messages"})
		return
	}

	out := make([]MessageResponse, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, messageResponse(msg))
	}

	c.JSON(http.StatusOK, gin.H{"messages": out})
}

// Archive soft-hides the conversation for the caller only.
func (h *ConversationHandlers) Archive(c *gin.Context) {
	conv, userID, ok := h.loadForParticipant(c)
	if !ok {
		return
	}
	if err := h.store.ArchiveConversation(c.Request.Context(), conv.ID, userID, time.Now()); err != nil {
		h.log.Error().Err(err).Str("conversation_id", conv.ID).Msg("archive failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to archive conversation"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Unarchive removes the caller's archive mark.
func (h *ConversationHandlers) Unarchive(c *gin.Context) {
	conv, userID, ok := h.loadForParticipant(c)
	if !ok {
		return
	}
	if err := h.store.UnarchiveConversation(c.Request.Context(), conv.ID, userID); err != nil {
		h.log.Error().Err(err).Str("conversation_id", conv.ID).Msg("unarchive failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to unarchive conversation"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ConversationHandlers) loadForParticipant(c *gin.Context) (*store.Conversation, string, bool) {
	userID := c.GetString(ContextKeyUserID)
	conv, err := h.store.GetConversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "conversation not found"})
			return nil, "", false
		}
		h.log.Error().Err(err).Str("conversation_id", c.Param("id")).Msg("load conversation failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to load conversation"})
		return nil, "", false
	}
	if !conv.HasParticipant(userID) {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "not a participant of this conversation"})
		return nil, "", false
	}
	return conv, userID, true
}

func conversationResponse(conv *store.Conversation, userID string) ConversationResponse {
	resp := ConversationResponse{
		ID:            conv.ID,
		Kind:          string(conv.Kind),
		Participants:  conv.Participants,
		LastMessageAt: conv.LastMessageAt,
		UnreadCount:   conv.UnreadCount[userID],
		CreatedAt:     conv.CreatedAt,
	}
	if conv.LastMessageID != nil {
		resp.LastMessageID = *conv.LastMessageID
	}
	if conv.Scope.UnitID != nil {
		resp.Unit = *conv.Scope.UnitID
	}
	if conv.Scope.BuildingID != nil {
		resp.Building = *conv.Scope.BuildingID
	}
	if conv.Scope.RequestID != nil {
		resp.Request = *conv.Scope.RequestID
	}
	_, resp.Archived = conv.ArchivedBy[userID]
	return resp
}

func messageResponse(msg *store.Message) MessageResponse {
	resp := MessageResponse{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		Status:         string(msg.Status),
		IsRead:         msg.IsRead,
		ReadAt:         msg.ReadAt,
		CreatedAt:      msg.CreatedAt,
	}
	if msg.ReceiverID != nil {
		resp.ReceiverID = *msg.ReceiverID
	}
	for _, a := range msg.Attachments {
		resp.Attachments = append(resp.Attachments, AttachmentResponse{
			Filename:   a.Filename,
			StorageRef: a.StorageRef,
			Size:       a.Size,
			MimeType:   a.MimeType,
		})
	}
	return resp
}

func scopeFromStrings(unit, building, request string) store.Scope {
	var scope store.Scope
	if unit != "" {
		scope.UnitID = &unit
	}
	if building != "" {
		scope.BuildingID = &building
	}
	if request != "" {
		scope.RequestID = &request
	}
	return scope
}
