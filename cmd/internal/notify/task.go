package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"lostfound/cmd/internal/chat"

	"github.com/hibiken/asynq"
)

// TaskMessageNotify is the asynq task type for new-message emails.
const TaskMessageNotify = "chat:message_notify"

const previewRunes = 140

// MessageNotifyPayload is the JSON payload of a TaskMessageNotify task.
type MessageNotifyPayload struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	ItemID         string    `json:"itemId"`
	SenderID       string    `json:"senderId"`
	ReceiverID     string    `json:"receiverId"`
	Preview        string    `json:"preview"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Validate checks the fields the worker relies on.
func (p MessageNotifyPayload) Validate() error {
	switch {
	case strings.TrimSpace(p.MessageID) == "":
		return errors.New("missing messageId")
	case strings.TrimSpace(p.ConversationID) == "":
		return errors.New("missing conversationId")
	case strings.TrimSpace(p.ReceiverID) == "":
		return errors.New("missing receiverId")
	}
	return nil
}

// PayloadFor builds the task payload of m.
func PayloadFor(m chat.Message, conv chat.Conversation) MessageNotifyPayload {
	return MessageNotifyPayload{
		MessageID:      m.ID,
		ConversationID: m.ConversationID,
		ItemID:         conv.ItemID,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		Preview:        preview(m.Content),
		CreatedAt:      m.CreatedAt,
	}
}

// NewMessageNotifyTask encodes p as an asynq task.
func NewMessageNotifyTask(p MessageNotifyPayload) (*asynq.Task, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("notify: %w", err)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("notify: marshal payload: %w", err)
	}
	return asynq.NewTask(TaskMessageNotify, raw), nil
}

// DecodeMessageNotify reads the payload of a TaskMessageNotify task.
func DecodeMessageNotify(t *asynq.Task) (MessageNotifyPayload, error) {
	var p MessageNotifyPayload
	if t == nil {
		return p, errors.New("notify: nil task")
	}
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("notify: decode payload: %w", err)
	}
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("notify: %w", err)
	}
	return p, nil
}

func preview(content string) string {
	content = strings.TrimSpace(content)
	if utf8.RuneCountInString(content) <= previewRunes {
		return content
	}
	r := []rune(content)
	return string(r[:previewRunes-1]) + "…"
}
