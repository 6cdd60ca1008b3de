package chat

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestNewParticipants(t *testing.T) {
	p, err := NewParticipants("b", "a")
	if err != nil || p != [2]string{"a", "b"} {
		t.Fatalf("NewParticipants=%v,%v", p, err)
	}
	for _, pair := range [][2]string{{"a", "a"}, {"", "b"}, {"a", " "}} {
		if _, err := NewParticipants(pair[0], pair[1]); !IsValidation(err) {
			t.Fatalf("NewParticipants(%q,%q) err=%v want validation", pair[0], pair[1], err)
		}
	}
}

func TestMemoryStore_FindOrCreateUniqueUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	const n = 32
	idsCh := make(chan string, n)
	var created int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pair := [2]string{"1", "2"}
			if i%2 == 0 {
				pair = [2]string{"2", "1"}
			}
			c, isNew, err := s.FindOrCreate(ctx, FindOrCreateInput{ItemID: "42", Participants: pair})
			if err != nil {
				t.Errorf("FindOrCreate: %v", err)
				return
			}
			if isNew {
				mu.Lock()
				created++
				mu.Unlock()
			}
			idsCh <- c.ID
		}(i)
	}
	wg.Wait()
	close(idsCh)

	first := ""
	for id := range idsCh {
		if first == "" {
			first = id
		}
		if id != first {
			t.Fatalf("duplicate conversations: %s vs %s", id, first)
		}
	}
	if created != 1 {
		t.Fatalf("created=%d want 1", created)
	}
}

func TestMemoryStore_FindOrCreateRejectsBadPairs(t *testing.T) {
	s := NewMemoryStore()
	if _, _, err := s.FindOrCreate(context.Background(), FindOrCreateInput{ItemID: "42", Participants: [2]string{"1", "1"}}); !IsValidation(err) {
		t.Fatalf("err=%v want validation", err)
	}
}

func TestMemoryStore_CreatedAtNeverDecreases(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	c, _, _ := s.FindOrCreate(ctx, FindOrCreateInput{ItemID: "42", Participants: [2]string{"1", "2"}})

	t0 := time.Date(2026, 1, 1, 0, 0, 10, 0, time.UTC)
	a, err := s.Append(ctx, AppendInput{ConversationID: c.ID, SenderID: "1", ReceiverID: "2", Content: "a", Now: t0})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	// Skewed clock behind the previous append.
	b, err := s.Append(ctx, AppendInput{ConversationID: c.ID, SenderID: "2", ReceiverID: "1", Content: "b", Now: t0.Add(-time.Second)})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if b.Seq != a.Seq+1 || b.CreatedAt.Before(a.CreatedAt) {
		t.Fatalf("a=%+v b=%+v", a, b)
	}
}

func TestMemoryStore_RecordMessageNeverMovesBackwards(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	c, _, _ := s.FindOrCreate(ctx, FindOrCreateInput{ItemID: "42", Participants: [2]string{"1", "2"}})
	a, _ := s.Append(ctx, AppendInput{ConversationID: c.ID, SenderID: "1", ReceiverID: "2", Content: "a"})
	b, _ := s.Append(ctx, AppendInput{ConversationID: c.ID, SenderID: "1", ReceiverID: "2", Content: "b"})

	if err := s.RecordMessage(ctx, b); err != nil {
		t.Fatalf("RecordMessage: %v", err)
	}
	if err := s.RecordMessage(ctx, a); err != nil {
		t.Fatalf("RecordMessage: %v", err)
	}
	got, _ := s.GetConversation(ctx, c.ID)
	if got.LastMessageID != b.ID || got.LastSeq != b.Seq {
		t.Fatalf("pointer moved backwards: %+v", got)
	}
}

func TestMemoryStore_MarkConversationReadOnlyReceiver(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	c, _, _ := s.FindOrCreate(ctx, FindOrCreateInput{ItemID: "42", Participants: [2]string{"1", "2"}})
	toTwo, _ := s.Append(ctx, AppendInput{ConversationID: c.ID, SenderID: "1", ReceiverID: "2", Content: "a"})
	toOne, _ := s.Append(ctx, AppendInput{ConversationID: c.ID, SenderID: "2", ReceiverID: "1", Content: "b"})

	now := time.Now().UTC()
	changed, err := s.MarkConversationRead(ctx, c.ID, "2", now)
	if err != nil || len(changed) != 1 || changed[0] != toTwo.ID {
		t.Fatalf("changed=%v err=%v", changed, err)
	}
	again, _ := s.MarkConversationRead(ctx, c.ID, "2", now.Add(time.Hour))
	if len(again) != 0 {
		t.Fatalf("second batch changed %v", again)
	}
	m, _ := s.GetMessage(ctx, toOne.ID)
	if m.Read {
		t.Fatalf("message to 1 must stay unread")
	}
	m, _ = s.GetMessage(ctx, toTwo.ID)
	if !m.ReadAt.Equal(now) {
		t.Fatalf("readAt overwritten: %v", m.ReadAt)
	}

	counts, _ := s.UnreadByConversation(ctx, "1", []string{c.ID, "other"})
	if counts[c.ID] != 1 || counts["other"] != 0 {
		t.Fatalf("counts=%v", counts)
	}
}
