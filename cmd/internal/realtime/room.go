package realtime

import (
	"strings"

	v1 "lostfound/shared/contracts/realtime/v1"
)

const (
	userRoomPrefix         = "user_"
	conversationRoomPrefix = "conversation_"
)

// UserRoom is the personal room every registered connection of userID joins.
func UserRoom(userID string) string { return userRoomPrefix + userID }

// ConversationRoom is the room of connections that have conversationID open.
func ConversationRoom(conversationID string) string { return conversationRoomPrefix + conversationID }

// IsConversationRoom reports whether name is a conversation room and returns its conversation id.
func IsConversationRoom(name string) (string, bool) {
	if !strings.HasPrefix(name, conversationRoomPrefix) {
		return "", false
	}
	return strings.TrimPrefix(name, conversationRoomPrefix), true
}

// Room is an in-memory membership set. Callers hold Hub.mu.
type Room struct {
	Name    string
	members map[string]*Client
}

func newRoom(name string) *Room {
	return &Room{Name: name, members: make(map[string]*Client)}
}

func (r *Room) join(c *Client) { r.members[c.SessionID] = c }

func (r *Room) leave(sessionID string) { delete(r.members, sessionID) }

func (r *Room) empty() bool { return len(r.members) == 0 }

// broadcast offers env to every member except the except session.
// Non-blocking: members with a full queue or shutting down are counted as dropped.
func (r *Room) broadcast(env v1.Envelope, except string) (delivered, dropped int) {
	for sid, m := range r.members {
		if sid == except || m == nil {
			continue
		}
		if m.offer(env) {
			delivered++
		} else {
			dropped++
		}
	}
	return delivered, dropped
}
