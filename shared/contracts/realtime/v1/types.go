// Package v1 defines the lostfound chat push protocol v1 contract.
//
// It is shared between the server and Go clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is the WebSocket subprotocol negotiated by the gateway.
const Subprotocol = "lostfound.chat.v1"

// Type constants (wire-stable).
const (
	// TypeRegister binds the connection to its user room (client -> server).
	TypeRegister = "register"
	// TypeRegistered acknowledges a register (server -> client).
	TypeRegistered = "registered"

	// TypeJoinConversation makes a conversation room the connection's open room (client -> server).
	TypeJoinConversation = "join_conversation"
	// TypeJoined acknowledges a join (server -> client).
	TypeJoined = "joined"
	// TypeLeaveConversation leaves a conversation room (client -> server).
	TypeLeaveConversation = "leave_conversation"
	// TypeLeft acknowledges a leave (server -> client).
	TypeLeft = "left"

	// TypeTyping and TypeStopTyping are relayed to the other members of a conversation room.
	TypeTyping     = "typing"
	TypeStopTyping = "stop_typing"

	// TypeReceiveMessage delivers a newly persisted message (server -> client).
	TypeReceiveMessage = "receive_message"
	// TypeMessagesRead delivers a read receipt (server -> client).
	TypeMessagesRead = "messages_read"

	TypePing = "ping"
	TypePong = "pong"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	ConvID  string          `json:"conversationId,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeRegister,
		TypeRegistered,
		TypeJoinConversation,
		TypeJoined,
		TypeLeaveConversation,
		TypeLeft,
		TypeTyping,
		TypeStopTyping,
		TypeReceiveMessage,
		TypeMessagesRead,
		TypePing,
		TypePong,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// NewEnvelope marshals payload into a v1 envelope stamped with ts.
// A nil payload produces an envelope without a payload field.
func NewEnvelope(typ, convID string, ts time.Time, payload any) (Envelope, error) {
	env := Envelope{
		V:      Version,
		Type:   typ,
		ConvID: convID,
		TS:     ts.UTC(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", typ, err)
		}
		env.Payload = raw
	}
	return env, nil
}

// DecodePayload unmarshals the envelope payload into dst.
func (e Envelope) DecodePayload(dst any) error {
	if len(e.Payload) == 0 {
		return errors.New("missing field: payload")
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("invalid %s payload: %w", e.Type, err)
	}
	return nil
}

// ---- Payloads ----

// RegisterPayload names the user whose personal room the connection joins.
type RegisterPayload struct {
	UserID string `json:"userId"`
}

// RegisteredPayload confirms the personal room and returns the connection session id.
type RegisteredPayload struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
	Room      string `json:"room"`
}

// ConversationRefPayload is used by join_conversation and leave_conversation.
type ConversationRefPayload struct {
	ConversationID string `json:"conversationId"`
}

// RoomPayload confirms a join or leave.
type RoomPayload struct {
	ConversationID string `json:"conversationId"`
	Room           string `json:"room"`
}

// TypingPayload is relayed for typing and stop_typing.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// MessagePayload is the client-facing shape of a persisted message.
type MessagePayload struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversationId"`
	SenderID       string     `json:"senderId"`
	ReceiverID     string     `json:"receiverId"`
	Content        string     `json:"content"`
	Read           bool       `json:"read"`
	ReadAt         *time.Time `json:"readAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	Seq            int64      `json:"seq"`
}

// MessagesReadPayload reports that ReaderID read MessageIDs in a conversation.
type MessagesReadPayload struct {
	ConversationID string    `json:"conversationId"`
	ReaderID       string    `json:"readerId"`
	MessageIDs     []string  `json:"messageIds"`
	ReadAt         time.Time `json:"readAt"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
