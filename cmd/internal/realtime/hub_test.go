package realtime

import (
	"io"
	"log/slog"
	"testing"
	"time"

	v1 "lostfound/shared/contracts/realtime/v1"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustEnvelope(t *testing.T, typ, convID string, payload any) v1.Envelope {
	t.Helper()
	env, err := v1.NewEnvelope(typ, convID, time.Now().UTC(), payload)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	return env
}

func drain(c *Client) []v1.Envelope {
	var out []v1.Envelope
	for {
		select {
		case env := <-c.Send:
			out = append(out, env)
		default:
			return out
		}
	}
}

func TestHub_RegisterJoinsPersonalRoom(t *testing.T) {
	h := NewHub(discardLogger(), nil)
	c := NewClient("1", "s1", 8)

	if room := h.Register(c, "1"); room != "user_1" {
		t.Fatalf("expected user_1, got %q", room)
	}
	h.Register(c, "1")
	if n := h.Members("user_1"); n != 1 {
		t.Fatalf("expected 1 member after double register, got %d", n)
	}
	if !h.Registered(c) {
		t.Fatalf("expected client to be registered")
	}
}

func TestHub_SwitchConversationLeavesPrevious(t *testing.T) {
	h := NewHub(discardLogger(), nil)
	c := NewClient("1", "s1", 8)
	h.Register(c, "1")

	if prev := h.SwitchConversation(c, "a"); prev != "" {
		t.Fatalf("expected no previous conversation, got %q", prev)
	}
	if prev := h.SwitchConversation(c, "b"); prev != "a" {
		t.Fatalf("expected previous a, got %q", prev)
	}

	if n := h.Members(ConversationRoom("a")); n != 0 {
		t.Fatalf("expected room a to be empty, got %d", n)
	}
	if n := h.Members(ConversationRoom("b")); n != 1 {
		t.Fatalf("expected 1 member in room b, got %d", n)
	}
	if got := h.CurrentConversation(c); got != "b" {
		t.Fatalf("expected current b, got %q", got)
	}

	// Stale traffic for a must not reach the client.
	h.Deliver([]string{ConversationRoom("a")}, mustEnvelope(t, v1.TypeTyping, "a", nil), "")
	if got := drain(c); len(got) != 0 {
		t.Fatalf("expected no delivery for left room, got %d", len(got))
	}
}

func TestHub_LeaveConversationIgnoresOtherIDs(t *testing.T) {
	h := NewHub(discardLogger(), nil)
	c := NewClient("1", "s1", 8)
	h.SwitchConversation(c, "a")

	if h.LeaveConversation(c, "b") {
		t.Fatalf("leaving a conversation that is not open must be a no-op")
	}
	if !h.LeaveConversation(c, "a") {
		t.Fatalf("expected leave of open conversation to succeed")
	}
	if h.CurrentConversation(c) != "" {
		t.Fatalf("expected no open conversation")
	}
	if h.RoomCount() != 0 {
		t.Fatalf("expected empty room to be collected, got %d rooms", h.RoomCount())
	}
}

func TestHub_DeliverSkipsExceptAndCountsPerRoom(t *testing.T) {
	h := NewHub(discardLogger(), nil)
	a := NewClient("1", "s1", 8)
	b := NewClient("2", "s2", 8)
	h.Register(a, "1")
	h.Register(b, "2")
	h.SwitchConversation(a, "c1")
	h.SwitchConversation(b, "c1")

	env := mustEnvelope(t, v1.TypeTyping, "c1", nil)
	delivered, dropped := h.Deliver([]string{ConversationRoom("c1")}, env, "s1")
	if delivered != 1 || dropped != 0 {
		t.Fatalf("expected 1 delivered 0 dropped, got %d %d", delivered, dropped)
	}
	if got := drain(a); len(got) != 0 {
		t.Fatalf("sender session must not receive its own relay")
	}
	if got := drain(b); len(got) != 1 {
		t.Fatalf("expected 1 envelope for b, got %d", len(got))
	}

	// A connection in both the conversation room and its user room gets one copy per room.
	rooms := []string{ConversationRoom("c1"), UserRoom("1"), UserRoom("2"), UserRoom("2")}
	delivered, _ = h.Deliver(rooms, mustEnvelope(t, v1.TypeReceiveMessage, "c1", nil), "")
	if delivered != 4 {
		t.Fatalf("expected 4 deliveries, got %d", delivered)
	}
	if got := drain(b); len(got) != 2 {
		t.Fatalf("expected 2 copies for b, got %d", len(got))
	}
}

func TestHub_DeliverDropsWhenQueueFull(t *testing.T) {
	h := NewHub(discardLogger(), nil)
	c := NewClient("1", "s1", 1)
	h.Register(c, "1")

	env := mustEnvelope(t, v1.TypePong, "", nil)
	h.Deliver([]string{"user_1"}, env, "")
	_, dropped := h.Deliver([]string{"user_1"}, env, "")
	if dropped != 1 {
		t.Fatalf("expected 1 drop on full queue, got %d", dropped)
	}
}

func TestHub_DisconnectRemovesFromAllRooms(t *testing.T) {
	h := NewHub(discardLogger(), nil)
	c := NewClient("1", "s1", 8)
	h.Register(c, "1")
	h.SwitchConversation(c, "c1")

	h.Disconnect(c)

	if h.RoomCount() != 0 {
		t.Fatalf("expected no rooms after disconnect, got %d", h.RoomCount())
	}
	select {
	case <-c.Done():
	default:
		t.Fatalf("expected client to be closed")
	}
	if c.offer(mustEnvelope(t, v1.TypePong, "", nil)) {
		t.Fatalf("closed client must not accept envelopes")
	}
}

func TestRoomNames(t *testing.T) {
	if id, ok := IsConversationRoom(ConversationRoom("abc")); !ok || id != "abc" {
		t.Fatalf("expected conversation room abc, got %q %v", id, ok)
	}
	if _, ok := IsConversationRoom(UserRoom("abc")); ok {
		t.Fatalf("user room must not parse as conversation room")
	}
}

func TestHub_DisconnectAllReachesUnregisteredClients(t *testing.T) {
	h := NewHub(discardLogger(), nil)
	registered := NewClient("1", "s1", 8)
	anonymous := NewClient("2", "s2", 8)
	h.Attach(registered)
	h.Attach(anonymous)
	h.Register(registered, "1")

	if n := h.DisconnectAll(); n != 2 {
		t.Fatalf("expected 2 disconnects, got %d", n)
	}
	for _, c := range []*Client{registered, anonymous} {
		select {
		case <-c.Done():
		default:
			t.Fatalf("client %s not closed", c.SessionID)
		}
	}
	if h.Connections() != 0 || h.RoomCount() != 0 {
		t.Fatalf("expected empty hub, got %d conns %d rooms", h.Connections(), h.RoomCount())
	}
}
