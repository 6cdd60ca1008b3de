package realtime

import (
	"log/slog"
	"sync"

	v1 "lostfound/shared/contracts/realtime/v1"
)

// Hub owns room membership for the connections of this process.
//
// All membership changes and deliveries go through mu, so a delivery observes a
// conversation switch either entirely before or entirely after it.
type Hub struct {
	log     *slog.Logger
	metrics *Metrics

	mu    sync.RWMutex
	rooms map[string]*Room
	conns map[*Client]struct{}
}

// NewHub constructs a Hub instance. metrics may be nil.
func NewHub(log *slog.Logger, metrics *Metrics) *Hub {
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Hub{
		log:     log,
		metrics: metrics,
		rooms:   make(map[string]*Room),
		conns:   make(map[*Client]struct{}),
	}
}

// Attach tracks c until Disconnect so DisconnectAll can reach connections that never registered.
func (h *Hub) Attach(c *Client) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
}

// Register joins c to the personal room of userID and returns the room name.
// Registering again for the same user is a no-op.
func (h *Hub) Register(c *Client, userID string) string {
	room := UserRoom(userID)

	h.mu.Lock()
	defer h.mu.Unlock()

	if c.userRoom == room {
		return room
	}
	if c.userRoom != "" {
		h.leaveLocked(c, c.userRoom)
	}
	h.joinLocked(c, room)
	c.userRoom = room

	h.log.Info("realtime.room.join", "room", room, "session_id", c.SessionID)
	return room
}

// SwitchConversation makes conversationID the open conversation of c.
// The previous conversation room is left before the new one is joined, in one step.
// It returns the previous conversation id, or "".
func (h *Hub) SwitchConversation(c *Client, conversationID string) string {
	room := ConversationRoom(conversationID)

	h.mu.Lock()
	defer h.mu.Unlock()

	prev := c.convID
	if c.convRoom == room {
		return prev
	}
	if c.convRoom != "" {
		h.leaveLocked(c, c.convRoom)
	}
	h.joinLocked(c, room)
	c.convRoom = room
	c.convID = conversationID

	h.log.Info("realtime.conversation.switch", "session_id", c.SessionID, "from", prev, "to", conversationID)
	return prev
}

// LeaveConversation leaves conversationID if it is the open conversation of c.
func (h *Hub) LeaveConversation(c *Client, conversationID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.convID == "" || c.convID != conversationID {
		return false
	}
	h.leaveLocked(c, c.convRoom)
	c.convRoom, c.convID = "", ""

	h.log.Info("realtime.conversation.leave", "session_id", c.SessionID, "conversation_id", conversationID)
	return true
}

// CurrentConversation returns the open conversation of c, or "".
func (h *Hub) CurrentConversation(c *Client) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return c.convID
}

// Registered reports whether c joined its personal room.
func (h *Hub) Registered(c *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return c.userRoom != ""
}

// Disconnect removes c from every room and closes it.
func (h *Hub) Disconnect(c *Client) {
	h.mu.Lock()
	if c.convRoom != "" {
		h.leaveLocked(c, c.convRoom)
	}
	if c.userRoom != "" {
		h.leaveLocked(c, c.userRoom)
	}
	c.convRoom, c.convID, c.userRoom = "", "", ""
	delete(h.conns, c)
	h.mu.Unlock()

	c.Close()
}

// DisconnectAll disconnects every attached client. Used on server shutdown.
func (h *Hub) DisconnectAll() int {
	h.mu.RLock()
	all := make([]*Client, 0, len(h.conns))
	for c := range h.conns {
		all = append(all, c)
	}
	h.mu.RUnlock()

	for _, c := range all {
		h.Disconnect(c)
	}
	return len(all)
}

// Connections returns the number of attached clients.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Deliver offers env to the members of each room, skipping the except session.
// A connection in several of the rooms receives one copy per room.
func (h *Hub) Deliver(rooms []string, env v1.Envelope, except string) (delivered, dropped int) {
	h.mu.RLock()
	seen := make(map[string]struct{}, len(rooms))
	for _, name := range rooms {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if r := h.rooms[name]; r != nil {
			d, x := r.broadcast(env, except)
			delivered += d
			dropped += x
		}
	}
	h.mu.RUnlock()

	h.metrics.Deliveries.Add(float64(delivered))
	if dropped > 0 {
		h.metrics.Drops.Add(float64(dropped))
		h.log.Warn("realtime.fanout.drop", "type", env.Type, "conversation_id", env.ConvID, "dropped", dropped)
	}
	return delivered, dropped
}

// Members returns the number of connections in room.
func (h *Hub) Members(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if r := h.rooms[room]; r != nil {
		return len(r.members)
	}
	return 0
}

// RoomCount returns the number of non-empty rooms.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

func (h *Hub) joinLocked(c *Client, name string) {
	r := h.rooms[name]
	if r == nil {
		r = newRoom(name)
		h.rooms[name] = r
		h.metrics.Rooms.Inc()
	}
	r.join(c)
}

func (h *Hub) leaveLocked(c *Client, name string) {
	r := h.rooms[name]
	if r == nil {
		return
	}
	r.leave(c.SessionID)
	if r.empty() {
		delete(h.rooms, name)
		h.metrics.Rooms.Dec()
	}
}
