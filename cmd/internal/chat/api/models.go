package chatapi

import (
	"time"

	"lostfound/cmd/internal/chat"
	v1 "lostfound/shared/contracts/realtime/v1"
)

type sendMessageRequest struct {
	ReceiverID     string `json:"receiverId"`
	ItemID         string `json:"itemId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	Content        string `json:"content"`
}

type conversationResponse struct {
	ID            string       `json:"id"`
	Item          chat.ItemRef `json:"item"`
	Participants  []string     `json:"participants"`
	OtherUser     chat.UserRef `json:"otherUser"`
	LastMessageAt *time.Time   `json:"lastMessageAt"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

type conversationSummaryResponse struct {
	conversationResponse
	LastMessage *v1.MessagePayload `json:"lastMessage"`
	UnreadCount int                `json:"unreadCount"`
}

type listConversationsResponse struct {
	Conversations []conversationSummaryResponse `json:"conversations"`
}

type conversationDetailResponse struct {
	Conversation conversationResponse `json:"conversation"`
	Messages     []v1.MessagePayload  `json:"messages"`
	Pagination   chat.PageMeta        `json:"pagination"`
}

type messageResponse struct {
	Message v1.MessagePayload `json:"message"`
}

type unreadCountResponse struct {
	Count int `json:"count"`
}

func toConversationResponse(c chat.Conversation, item chat.ItemRef, other chat.UserRef) conversationResponse {
	return conversationResponse{
		ID:            c.ID,
		Item:          item,
		Participants:  []string{c.Participants[0], c.Participants[1]},
		OtherUser:     other,
		LastMessageAt: c.LastMessageAt,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

func toSummaryResponse(s chat.ConversationSummary) conversationSummaryResponse {
	out := conversationSummaryResponse{
		conversationResponse: toConversationResponse(s.Conversation, s.Item, s.Other),
		UnreadCount:          s.UnreadCount,
	}
	if s.LastMessage != nil {
		w := s.LastMessage.Wire()
		out.LastMessage = &w
	}
	return out
}

func toDetailResponse(d chat.ConversationDetail) conversationDetailResponse {
	msgs := make([]v1.MessagePayload, 0, len(d.Messages))
	for _, m := range d.Messages {
		msgs = append(msgs, m.Wire())
	}
	return conversationDetailResponse{
		Conversation: toConversationResponse(d.Conversation, d.Item, d.Other),
		Messages:     msgs,
		Pagination:   d.Meta,
	}
}
