package chat

import (
	"math"
	"strings"
	"time"
	"unicode/utf8"

	v1 "lostfound/shared/contracts/realtime/v1"
)

const (
	// MaxContentChars bounds message content, counted in runes after trimming.
	MaxContentChars = 4000

	DefaultPageLimit = 50
	MaxPageLimit     = 200
)

// Conversation is a two-party thread about one item.
type Conversation struct {
	ID     string
	ItemID string
	// Participants is kept sorted so the pair is order-independent.
	Participants  [2]string
	LastMessageID string
	LastMessageAt *time.Time
	LastSeq       int64
	DeletedBy     []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasParticipant reports whether userID is one of the two participants.
func (c Conversation) HasParticipant(userID string) bool {
	return userID != "" && (c.Participants[0] == userID || c.Participants[1] == userID)
}

// Other returns the participant that is not userID.
func (c Conversation) Other(userID string) string {
	if c.Participants[0] == userID {
		return c.Participants[1]
	}
	return c.Participants[0]
}

// HiddenFor reports whether userID soft-deleted the conversation.
func (c Conversation) HiddenFor(userID string) bool {
	for _, id := range c.DeletedBy {
		if id == userID {
			return true
		}
	}
	return false
}

// Message is one entry of a conversation log. Only Read and ReadAt ever change.
type Message struct {
	ID             string
	ConversationID string
	Seq            int64
	SenderID       string
	ReceiverID     string
	Content        string
	Read           bool
	ReadAt         *time.Time
	CreatedAt      time.Time
}

// Wire returns the client-facing shape shared by the HTTP API and the push channel.
func (m Message) Wire() v1.MessagePayload {
	return v1.MessagePayload{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		Content:        m.Content,
		Read:           m.Read,
		ReadAt:         m.ReadAt,
		CreatedAt:      m.CreatedAt,
		Seq:            m.Seq,
	}
}

// UserRef is the display profile of a participant.
type UserRef struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// ItemRef is the listing a conversation is about.
type ItemRef struct {
	ID       string `json:"id"`
	Title    string `json:"title,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`
	Status   string `json:"status,omitempty"`
}

// ConversationSummary is one row of a user's inbox.
type ConversationSummary struct {
	Conversation Conversation
	Item         ItemRef
	Other        UserRef
	LastMessage  *Message
	UnreadCount  int
}

// Page selects a window of a conversation's messages.
//
// Page 1 is the newest window. AfterSeq, when set, switches to incremental mode and
// returns messages with seq greater than it, oldest first.
type Page struct {
	Page     int
	Limit    int
	AfterSeq *int64
}

// Normalize applies defaults and bounds.
func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	// (Page-1)*Limit is the window offset and must not overflow.
	if maxPage := math.MaxInt / p.Limit; p.Page > maxPage {
		p.Page = maxPage
	}
	return p
}

// PageMeta describes the window returned by GetConversation.
type PageMeta struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	HasMore bool `json:"hasMore"`
}

// ConversationDetail is the result of GetConversation. Messages are ordered oldest to newest.
type ConversationDetail struct {
	Conversation Conversation
	Item         ItemRef
	Other        UserRef
	Messages     []Message
	Meta         PageMeta
	// MarkedRead lists the messages this fetch transitioned to read.
	MarkedRead []string
}

// SendInput describes a SendMessage request.
type SendInput struct {
	SenderID       string
	ReceiverID     string
	ItemID         string
	ConversationID string
	Content        string
}

// NormalizeContent trims content and enforces the non-empty and length bounds.
func NormalizeContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", ValidationError{Field: "content", Reason: "message required"}
	}
	if utf8.RuneCountInString(content) > MaxContentChars {
		return "", ValidationError{Field: "content", Reason: "message too long"}
	}
	return content, nil
}

// NewParticipants validates and orders a participant pair.
func NewParticipants(a, b string) ([2]string, error) {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return [2]string{}, ValidationError{Field: "participants", Reason: "exactly two participants required"}
	}
	if a == b {
		return [2]string{}, ValidationError{Field: "participants", Reason: "participants must be distinct"}
	}
	if b < a {
		a, b = b, a
	}
	return [2]string{a, b}, nil
}
