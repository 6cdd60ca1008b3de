package chat

import (
	"context"
	"time"
)

// ConversationStore persists conversations.
//
// Requirements:
//   - At most one conversation per (item, participant pair)
//   - RecordMessage never moves the last-message pointer backwards
//   - DeletedBy only ever holds participants
type ConversationStore interface {
	// FindOrCreate returns the conversation for (ItemID, Participants), creating it if absent.
	FindOrCreate(ctx context.Context, in FindOrCreateInput) (conv Conversation, created bool, err error)
	GetConversation(ctx context.Context, id string) (Conversation, error)
	// ListForUser returns conversations the user participates in and has not hidden.
	ListForUser(ctx context.Context, userID string) ([]Conversation, error)
	// RecordMessage advances the last-message pointer and clears both participants from DeletedBy.
	RecordMessage(ctx context.Context, m Message) error
	// Hide adds userID to DeletedBy. Hiding twice is a no-op.
	Hide(ctx context.Context, conversationID, userID string) error
}

// FindOrCreateInput describes a find-or-create request.
type FindOrCreateInput struct {
	ItemID       string
	Participants [2]string
	Now          time.Time
}

// MessageStore persists and queries messages.
//
// Requirements:
//   - Monotonic seq per conversation, assigned at append time
//   - CreatedAt never decreases as seq increases within a conversation
//   - Read transitions false -> true once; ReadAt is never overwritten
type MessageStore interface {
	Append(ctx context.Context, in AppendInput) (Message, error)
	GetMessage(ctx context.Context, id string) (Message, error)
	List(ctx context.Context, conversationID string, page Page) (ListResult, error)
	// MarkRead marks one message read. changed is false when it was already read.
	MarkRead(ctx context.Context, messageID string, at time.Time) (m Message, changed bool, err error)
	// MarkConversationRead marks every unread message addressed to readerID read in one batch
	// and returns the ids it transitioned.
	MarkConversationRead(ctx context.Context, conversationID, readerID string, at time.Time) ([]string, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	UnreadByConversation(ctx context.Context, userID string, conversationIDs []string) (map[string]int, error)
	LatestByConversation(ctx context.Context, conversationIDs []string) (map[string]Message, error)
}

// AppendInput describes a message append. ID, Seq and CreatedAt are assigned by the store.
type AppendInput struct {
	ConversationID string
	SenderID       string
	ReceiverID     string
	Content        string
	Now            time.Time
}

// ListResult is a window of messages ordered by seq ASC.
type ListResult struct {
	Messages []Message
	Total    int
	HasMore  bool
}
