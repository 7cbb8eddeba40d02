package http

import (
	"encoding/json"

	"github.com/dwellchat/dwellchat-server/internal/core"
	"github.com/dwellchat/dwellchat-server/internal/proto"
	"github.com/dwellchat/dwellchat-server/internal/store"
)

func inboundToCommand(inbound proto.Inbound) (*core.Command, *proto.ErrorData) {
	switch inbound.Type {
	case proto.InboundTypeJoin:
		var join proto.JoinData
		if err := json.Unmarshal(inbound.Data, &join); err != nil {
			return nil, badFrame("malformed join payload")
		}
		if join.ConversationID == "" {
			return nil, badFrame("conversationId is required")
		}
		return &core.Command{
			Kind:           core.CommandJoinConversation,
			ConversationID: join.ConversationID,
		}, nil
	case proto.InboundTypeLeave:
		var leave proto.JoinData
		if err := json.Unmarshal(inbound.Data, &leave); err != nil {
			return nil, badFrame("malformed leave payload")
		}
		if leave.ConversationID == "" {
			return nil, badFrame("conversationId is required")
		}
		return &core.Command{
			Kind:           core.CommandLeaveConversation,
			ConversationID: leave.ConversationID,
		}, nil
	case proto.InboundTypeSend:
		var send proto.SendData
		if err := json.Unmarshal(inbound.Data, &send); err != nil {
			return nil, badFrame("malformed send payload")
		}
		return &core.Command{
			Kind: core.CommandSendMessage,
			Send: core.SendRequest{
				ConversationID: send.ConversationID,
				ReceiverID:     send.ReceiverID,
				Content:        send.Content,
				Attachments:    attachmentsFromProto(send.Attachments),
				Scope:          scopeFromSend(send),
			},
		}, nil
	case proto.InboundTypeRead:
		var read proto.ReadData
		if err := json.Unmarshal(inbound.Data, &read); err != nil {
			return nil, badFrame("malformed read payload")
		}
		if read.ConversationID == "" {
			return nil, badFrame("conversationId is required")
		}
		return &core.Command{
			Kind:           core.CommandMarkRead,
			ConversationID: read.ConversationID,
		}, nil
	case proto.InboundTypeTyping:
		var typing proto.TypingData
		if err := json.Unmarshal(inbound.Data, &typing); err != nil {
			return nil, badFrame("malformed typing payload")
		}
		if typing.ConversationID == "" {
			return nil, badFrame("conversationId is required")
		}
		return &core.Command{
			Kind:           core.CommandTyping,
			ConversationID: typing.ConversationID,
			IsTyping:       typing.IsTyping,
		}, nil
	default:
		return nil, badFrame("unknown message type")
	}
}

func badFrame(msg string) *proto.ErrorData {
	return &proto.ErrorData{Code: core.ErrCodeBadRequest, Msg: msg}
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventConnected:
		return proto.Outbound{
			Type: proto.OutboundTypeConnected,
			Data: proto.ConnectedData{
				UserID:       event.UserID,
				ConnectionID: event.ConnectionID,
				Timestamp:    event.At,
			},
		}
	case core.EventMessageReceived:
		return proto.Outbound{
			Type: proto.OutboundTypeMessageReceived,
			Data: messageEnvelope(event),
		}
	case core.EventMessageSent:
		return proto.Outbound{
			Type: proto.OutboundTypeMessageSent,
			Data: messageEnvelope(event),
		}
	case core.EventMessageRead:
		return proto.Outbound{
			Type: proto.OutboundTypeMessageRead,
			Data: proto.ReadEventData{
				ConversationID: event.ConversationID,
				UserID:         event.UserID,
			},
		}
	case core.EventUserOnline:
		return proto.Outbound{
			Type: proto.OutboundTypeUserOnline,
			Data: proto.PresenceData{UserID: event.UserID, DisplayName: event.DisplayName},
		}
	case core.EventUserOffline:
		return proto.Outbound{
			Type: proto.OutboundTypeUserOffline,
			Data: proto.PresenceData{UserID: event.UserID, DisplayName: event.DisplayName},
		}
	case core.EventConversationJoined:
		return proto.Outbound{
			Type: proto.OutboundTypeConversationJoined,
			Data: proto.JoinedData{ConversationID: event.ConversationID},
		}
	case core.EventTyping:
		return proto.Outbound{
			Type: proto.OutboundTypeTyping,
			Data: proto.TypingEventData{
				ConversationID: event.ConversationID,
				UserID:         event.UserID,
				IsTyping:       event.IsTyping,
			},
		}
	case core.EventMessageError:
		if event.Error == nil {
			return proto.Outbound{
				Type: proto.OutboundTypeMessageError,
				Data: proto.ErrorData{Code: "unknown", Msg: "unknown error"},
			}
		}
		return proto.Outbound{
			Type: proto.OutboundTypeMessageError,
			Data: proto.ErrorData{Code: event.Error.Code, Msg: event.Error.Message},
		}
	default:
		return proto.Outbound{Type: proto.OutboundTypeMessageError, Data: proto.ErrorData{Code: "unknown", Msg: "unhandled event"}}
	}
}

func messageEnvelope(event *core.Event) proto.MessageEnvelope {
	return proto.MessageEnvelope{
		Message:      messageToProto(event.Message),
		Conversation: conversationToProto(event.Conversation),
	}
}

func messageToProto(msg *store.Message) *proto.MessageData {
	if msg == nil {
		return nil
	}
	data := &proto.MessageData{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		Attachments:    attachmentsToProto(msg.Attachments),
		Status:         string(msg.Status),
		IsRead:         msg.IsRead,
		ReadAt:         msg.ReadAt,
		CreatedAt:      msg.CreatedAt,
	}
	if msg.ReceiverID != nil {
		data.ReceiverID = *msg.ReceiverID
	}
	return data
}

func conversationToProto(conv *store.Conversation) *proto.ConversationData {
	if conv == nil {
		return nil
	}
	data := &proto.ConversationData{
		ID:            conv.ID,
		Kind:          string(conv.Kind),
		Participants:  conv.Participants,
		LastMessageAt: conv.LastMessageAt,
		UnreadCount:   conv.UnreadCount,
		CreatedAt:     conv.CreatedAt,
	}
	if conv.LastMessageID != nil {
		data.LastMessageID = *conv.LastMessageID
	}
	if conv.Scope.UnitID != nil {
		data.Unit = *conv.Scope.UnitID
	}
	if conv.Scope.BuildingID != nil {
		data.Building = *conv.Scope.BuildingID
	}
	if conv.Scope.RequestID != nil {
		data.Request = *conv.Scope.RequestID
	}
	return data
}

func attachmentsFromProto(in []proto.AttachmentData) []store.Attachment {
	if len(in) == 0 {
		return nil
	}
	out := make([]store.Attachment, 0, len(in))
	for _, a := range in {
		out = append(out, store.Attachment{
			Filename:   a.Filename,
			StorageRef: a.StorageRef,
			Size:       a.Size,
			MimeType:   a.MimeType,
		})
	}
	return out
}

func attachmentsToProto(in []store.Attachment) []proto.AttachmentData {
	if len(in) == 0 {
		return nil
	}
	out := make([]proto.AttachmentData, 0, len(in))
	for _, a := range in {
		out = append(out, proto.AttachmentData{
			Filename:   a.Filename,
			StorageRef: a.StorageRef,
			Size:       a.Size,
			MimeType:   a.MimeType,
		})
	}
	return out
}

func scopeFromSend(send proto.SendData) store.Scope {
	var scope store.Scope
	if send.Unit != "" {
		unit := send.Unit
		scope.UnitID = &unit
	}
	if send.Building != "" {
		building := send.Building
		scope.BuildingID = &building
	}
	if send.Request != "" {
		request := send.Request
		scope.RequestID = &request
	}
	return scope
}
