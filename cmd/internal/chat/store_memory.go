package chat

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"lostfound/cmd/identity/ids"
)

// MemoryStore is a dev-only ConversationStore and MessageStore used when no database is configured.
type MemoryStore struct {
	mu       sync.Mutex
	convs    map[string]*Conversation
	byPair   map[pairKey]string
	msgs     map[string]*Message
	byConv   map[string][]*Message // ordered by seq
	seqClock map[string]time.Time  // last assigned createdAt per conversation
}

type pairKey struct {
	item string
	a, b string
}

var (
	_ ConversationStore = (*MemoryStore)(nil)
	_ MessageStore      = (*MemoryStore)(nil)
)

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		convs:    make(map[string]*Conversation),
		byPair:   make(map[pairKey]string),
		msgs:     make(map[string]*Message),
		byConv:   make(map[string][]*Message),
		seqClock: make(map[string]time.Time),
	}
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) FindOrCreate(ctx context.Context, in FindOrCreateInput) (Conversation, bool, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, false, err
	}
	if in.ItemID == "" {
		return Conversation{}, false, ValidationError{Field: "itemId", Reason: "required"}
	}
	pair, err := NewParticipants(in.Participants[0], in.Participants[1])
	if err != nil {
		return Conversation{}, false, err
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey{item: in.ItemID, a: pair[0], b: pair[1]}
	if id, ok := s.byPair[key]; ok {
		return cloneConversation(s.convs[id]), false, nil
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return Conversation{}, false, err
	}
	c := &Conversation{
		ID:           id,
		ItemID:       in.ItemID,
		Participants: pair,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.convs[id] = c
	s.byPair[key] = id
	return cloneConversation(c), true, nil
}

func (s *MemoryStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[id]
	if !ok {
		return Conversation{}, NotFoundError{Resource: "conversation", ID: id}
	}
	return cloneConversation(c), nil
}

func (s *MemoryStore) ListForUser(ctx context.Context, userID string) ([]Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	out := make([]Conversation, 0, 8)
	for _, c := range s.convs {
		if c.HasParticipant(userID) && !c.HiddenFor(userID) {
			out = append(out, cloneConversation(c))
		}
	}
	s.mu.Unlock()

	SortConversations(out)
	return out, nil
}

func (s *MemoryStore) RecordMessage(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[m.ConversationID]
	if !ok {
		return NotFoundError{Resource: "conversation", ID: m.ConversationID}
	}
	if m.Seq > c.LastSeq {
		at := m.CreatedAt
		c.LastMessageID = m.ID
		c.LastMessageAt = &at
		c.LastSeq = m.Seq
	}
	c.DeletedBy = nil
	if m.CreatedAt.After(c.UpdatedAt) {
		c.UpdatedAt = m.CreatedAt
	}
	return nil
}

func (s *MemoryStore) Hide(ctx context.Context, conversationID, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[conversationID]
	if !ok {
		return NotFoundError{Resource: "conversation", ID: conversationID}
	}
	if !c.HasParticipant(userID) {
		return ForbiddenError{Reason: "not a participant"}
	}
	if !c.HiddenFor(userID) {
		c.DeletedBy = append(c.DeletedBy, userID)
	}
	return nil
}

func (s *MemoryStore) Append(ctx context.Context, in AppendInput) (Message, error) {
	if in.ConversationID == "" || in.SenderID == "" || in.ReceiverID == "" {
		return Message{}, errors.New("chat: invalid append input")
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[in.ConversationID]
	if !ok {
		return Message{}, NotFoundError{Resource: "conversation", ID: in.ConversationID}
	}

	if last := s.seqClock[c.ID]; now.Before(last) {
		now = last
	}
	s.seqClock[c.ID] = now

	id, err := ids.NewULID(now)
	if err != nil {
		return Message{}, err
	}
	log := s.byConv[c.ID]
	m := &Message{
		ID:             id,
		ConversationID: c.ID,
		Seq:            int64(len(log)) + 1,
		SenderID:       in.SenderID,
		ReceiverID:     in.ReceiverID,
		Content:        in.Content,
		CreatedAt:      now,
	}
	s.msgs[id] = m
	s.byConv[c.ID] = append(log, m)
	return *m, nil
}

func (s *MemoryStore) GetMessage(ctx context.Context, id string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.msgs[id]
	if !ok {
		return Message{}, NotFoundError{Resource: "message", ID: id}
	}
	return cloneMessage(m), nil
}

// List returns a window ordered by seq ASC. See Page for window selection.
func (s *MemoryStore) List(ctx context.Context, conversationID string, page Page) (ListResult, error) {
	if conversationID == "" {
		return ListResult{}, errors.New("chat: missing conversation id")
	}
	if err := ctx.Err(); err != nil {
		return ListResult{}, err
	}
	page = page.Normalize()

	s.mu.Lock()
	log := s.byConv[conversationID]
	snap := make([]Message, 0, len(log))
	for _, m := range log {
		snap = append(snap, cloneMessage(m))
	}
	s.mu.Unlock()

	total := len(snap)
	if page.AfterSeq != nil {
		after := *page.AfterSeq
		start := sort.Search(total, func(i int) bool { return snap[i].Seq > after })
		end := start + page.Limit
		if end > total {
			end = total
		}
		return ListResult{Messages: snap[start:end], Total: total, HasMore: end < total}, nil
	}

	end := total - (page.Page-1)*page.Limit
	if end <= 0 {
		return ListResult{Messages: []Message{}, Total: total, HasMore: false}, nil
	}
	start := end - page.Limit
	if start < 0 {
		start = 0
	}
	return ListResult{Messages: snap[start:end], Total: total, HasMore: start > 0}, nil
}

func (s *MemoryStore) MarkRead(ctx context.Context, messageID string, at time.Time) (Message, bool, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.msgs[messageID]
	if !ok {
		return Message{}, false, NotFoundError{Resource: "message", ID: messageID}
	}
	if m.Read {
		return cloneMessage(m), false, nil
	}
	readAt := at
	m.Read = true
	m.ReadAt = &readAt
	return cloneMessage(m), true, nil
}

func (s *MemoryStore) MarkConversationRead(ctx context.Context, conversationID, readerID string, at time.Time) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed []string
	for _, m := range s.byConv[conversationID] {
		if m.ReceiverID != readerID || m.Read {
			continue
		}
		readAt := at
		m.Read = true
		m.ReadAt = &readAt
		changed = append(changed, m.ID)
	}
	return changed, nil
}

func (s *MemoryStore) UnreadCount(ctx context.Context, userID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, m := range s.msgs {
		if m.ReceiverID == userID && !m.Read {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) UnreadByConversation(ctx context.Context, userID string, conversationIDs []string) (map[string]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]int, len(conversationIDs))
	for _, id := range conversationIDs {
		for _, m := range s.byConv[id] {
			if m.ReceiverID == userID && !m.Read {
				out[id]++
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) LatestByConversation(ctx context.Context, conversationIDs []string) (map[string]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]Message, len(conversationIDs))
	for _, id := range conversationIDs {
		if log := s.byConv[id]; len(log) > 0 {
			out[id] = cloneMessage(log[len(log)-1])
		}
	}
	return out, nil
}

// SortConversations orders by last activity DESC, then UpdatedAt DESC, then ID DESC.
// Conversations without a last message sort last.
func SortConversations(cs []Conversation) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		switch {
		case a.LastMessageAt != nil && b.LastMessageAt == nil:
			return true
		case a.LastMessageAt == nil && b.LastMessageAt != nil:
			return false
		case a.LastMessageAt != nil && !a.LastMessageAt.Equal(*b.LastMessageAt):
			return a.LastMessageAt.After(*b.LastMessageAt)
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID > b.ID
	})
}

func cloneConversation(c *Conversation) Conversation {
	out := *c
	if c.LastMessageAt != nil {
		at := *c.LastMessageAt
		out.LastMessageAt = &at
	}
	out.DeletedBy = append([]string(nil), c.DeletedBy...)
	return out
}

func cloneMessage(m *Message) Message {
	out := *m
	if m.ReadAt != nil {
		at := *m.ReadAt
		out.ReadAt = &at
	}
	return out
}
