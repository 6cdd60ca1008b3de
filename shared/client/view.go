package client

import (
	"sort"
	"sync"
	"time"

	v1 "lostfound/shared/contracts/realtime/v1"
)

// Message is the wire shape of a persisted message.
type Message = v1.MessagePayload

// DefaultTypingTTL is how long a remote typing indicator stays visible without a refresh.
const DefaultTypingTTL = 2 * time.Second

// PushResult reports what ApplyPush did with a pushed message.
type PushResult int

const (
	// PushIgnored: the message is for another conversation and not addressed to the local user.
	PushIgnored PushResult = iota
	// PushMerged: the message was added to the open conversation.
	PushMerged
	// PushDuplicate: the message was already known.
	PushDuplicate
	// PushCountedUnread: the global unread counter was incremented.
	PushCountedUnread
)

// View is the local state of one signed-in user. It is safe for concurrent use.
type View struct {
	mu sync.Mutex

	userID    string
	typingTTL time.Duration

	convID   string
	messages []Message
	index    map[string]int

	unread  int
	counted map[string]struct{}

	typing map[string]time.Time
}

// NewView returns an empty view for userID.
func NewView(userID string) *View {
	return &View{
		userID:    userID,
		typingTTL: DefaultTypingTTL,
		index:     make(map[string]int),
		counted:   make(map[string]struct{}),
		typing:    make(map[string]time.Time),
	}
}

// UserID returns the local user.
func (v *View) UserID() string { return v.userID }

// Open makes convID the open conversation and clears the message list and typing state.
func (v *View) Open(convID string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.convID = convID
	v.messages = nil
	v.index = make(map[string]int)
	v.typing = make(map[string]time.Time)
}

// OpenConversation returns the open conversation id, or "" if none.
func (v *View) OpenConversation() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.convID
}

// ApplyPush merges a pushed message.
//
// A message of the open conversation is keyed-merged into the list. Otherwise a message
// addressed to the local user bumps the unread counter, once per message id.
func (v *View) ApplyPush(m Message) PushResult {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.convID != "" && m.ConversationID == v.convID {
		if _, ok := v.index[m.ID]; ok {
			return PushDuplicate
		}
		v.messages = append(v.messages, m)
		v.resortLocked()
		// The sender stopped typing once the message landed.
		delete(v.typing, m.SenderID)
		return PushMerged
	}

	if m.ReceiverID != v.userID || m.Read {
		return PushIgnored
	}
	if _, ok := v.counted[m.ID]; ok {
		return PushDuplicate
	}
	v.counted[m.ID] = struct{}{}
	v.unread++
	return PushCountedUnread
}

// MergePull merges a history pull for convID into the list.
//
// The result is the union of pulled and local messages keyed by id; pulled copies win,
// except that a message already read locally stays read.
// Merging the same pull twice leaves the list unchanged. A pull for a conversation that
// is no longer open is dropped and false is returned.
func (v *View) MergePull(convID string, pulled []Message) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if convID == "" || convID != v.convID {
		return false
	}
	for _, m := range pulled {
		if m.ConversationID != convID {
			continue
		}
		if i, ok := v.index[m.ID]; ok {
			// Read state only moves forward; a receipt may have landed while the pull was in flight.
			if local := v.messages[i]; local.Read && !m.Read {
				m.Read, m.ReadAt = true, local.ReadAt
			}
			v.messages[i] = m
			continue
		}
		v.index[m.ID] = len(v.messages)
		v.messages = append(v.messages, m)
	}
	v.resortLocked()
	return true
}

// Add merges a message the local user just sent. Equivalent to a single-message pull.
func (v *View) Add(m Message) bool {
	return v.MergePull(m.ConversationID, []Message{m})
}

// ApplyRead marks the listed messages of the open conversation read.
func (v *View) ApplyRead(r v1.MessagesReadPayload) int {
	v.mu.Lock()
	defer v.mu.Unlock()

	if r.ConversationID != v.convID {
		return 0
	}
	n := 0
	for _, id := range r.MessageIDs {
		i, ok := v.index[id]
		if !ok || v.messages[i].Read {
			continue
		}
		at := r.ReadAt
		v.messages[i].Read = true
		v.messages[i].ReadAt = &at
		n++
	}
	return n
}

// Messages returns a copy of the open conversation ordered by createdAt, seq, id.
func (v *View) Messages() []Message {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]Message, len(v.messages))
	copy(out, v.messages)
	return out
}

// MaxSeq returns the highest seq in the open conversation, or 0.
func (v *View) MaxSeq() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()

	var hi int64
	for _, m := range v.messages {
		if m.Seq > hi {
			hi = m.Seq
		}
	}
	return hi
}

// ContiguousSeq returns the highest seq reachable from the lowest local seq without a
// gap, or 0 for an empty list. Seqs are assigned without holes, so a gap means a push
// was missed and everything after it must be pulled again.
func (v *View) ContiguousSeq() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()

	seqs := make([]int64, 0, len(v.messages))
	for _, m := range v.messages {
		seqs = append(seqs, m.Seq)
	}
	if len(seqs) == 0 {
		return 0
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

	run := seqs[0]
	for _, s := range seqs[1:] {
		if s != run+1 {
			break
		}
		run = s
	}
	return run
}

// Unread returns the global unread counter.
func (v *View) Unread() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.unread
}

// SetUnread replaces the unread counter with the server's authoritative value.
func (v *View) SetUnread(n int) {
	if n < 0 {
		n = 0
	}
	v.mu.Lock()
	v.unread = n
	v.mu.Unlock()
}

// SetTyping records a remote typing indicator for the open conversation.
func (v *View) SetTyping(p v1.TypingPayload, on bool, now time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if p.ConversationID != v.convID || p.UserID == "" || p.UserID == v.userID {
		return
	}
	if on {
		v.typing[p.UserID] = now.Add(v.typingTTL)
		return
	}
	delete(v.typing, p.UserID)
}

// TypingUsers returns the users currently typing in the open conversation. Expired
// indicators are dropped.
func (v *View) TypingUsers(now time.Time) []string {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]string, 0, len(v.typing))
	for uid, exp := range v.typing {
		if !now.Before(exp) {
			delete(v.typing, uid)
			continue
		}
		out = append(out, uid)
	}
	sort.Strings(out)
	return out
}

func (v *View) resortLocked() {
	sort.SliceStable(v.messages, func(i, j int) bool {
		return lessMessage(v.messages[i], v.messages[j])
	})
	v.index = make(map[string]int, len(v.messages))
	for i, m := range v.messages {
		v.index[m.ID] = i
	}
}

func lessMessage(a, b Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	if a.Seq != b.Seq {
		return a.Seq < b.Seq
	}
	return a.ID < b.ID
}
