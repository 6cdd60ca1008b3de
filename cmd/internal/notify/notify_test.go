package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"lostfound/cmd/internal/chat"

	"github.com/hibiken/asynq"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type captureSender struct {
	sent []Email
	err  error
}

func (s *captureSender) Send(_ context.Context, e Email) error {
	s.sent = append(s.sent, e)
	return s.err
}

type namedDirectory map[string]string

func (d namedDirectory) LookupUser(_ context.Context, id string) (chat.UserRef, error) {
	return chat.UserRef{ID: id, DisplayName: d[id]}, nil
}

type titledCatalog map[string]string

func (c titledCatalog) LookupItem(_ context.Context, id string) (chat.ItemRef, error) {
	return chat.ItemRef{ID: id, Title: c[id]}, nil
}

func sampleMessage() (chat.Message, chat.Conversation) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	conv := chat.Conversation{ID: "c1", ItemID: "42", Participants: [2]string{"1", "2"}}
	m := chat.Message{
		ID:             "m1",
		ConversationID: "c1",
		Seq:            1,
		SenderID:       "1",
		ReceiverID:     "2",
		Content:        "Is this still available?",
		CreatedAt:      now,
	}
	return m, conv
}

func TestHandler_RendersEmailForReceiver(t *testing.T) {
	m, conv := sampleMessage()
	task, err := NewMessageNotifyTask(PayloadFor(m, conv))
	if err != nil {
		t.Fatalf("NewMessageNotifyTask: %v", err)
	}
	if task.Type() != TaskMessageNotify {
		t.Fatalf("unexpected task type %q", task.Type())
	}

	sender := &captureSender{}
	h := NewHandler(discardLogger(), sender, namedDirectory{"1": "Ana"}, titledCatalog{"42": "Blue backpack"})
	if err := h.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 email, got %d", len(sender.sent))
	}
	e := sender.sent[0]
	if e.ToUserID != "2" {
		t.Fatalf("email must go to the receiver, got %q", e.ToUserID)
	}
	if e.Subject != "Ana sent you a message about Blue backpack" {
		t.Fatalf("unexpected subject %q", e.Subject)
	}
	if e.Body != "Is this still available?" {
		t.Fatalf("unexpected body %q", e.Body)
	}
}

func TestHandler_MalformedPayloadSkipsRetry(t *testing.T) {
	h := NewHandler(discardLogger(), &captureSender{}, nil, nil)

	err := h.ProcessTask(context.Background(), asynq.NewTask(TaskMessageNotify, []byte(`{"messageId":""}`)))
	if err == nil {
		t.Fatalf("expected error for invalid payload")
	}
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}

func TestHandler_SendFailureIsRetried(t *testing.T) {
	m, conv := sampleMessage()
	task, err := NewMessageNotifyTask(PayloadFor(m, conv))
	if err != nil {
		t.Fatalf("NewMessageNotifyTask: %v", err)
	}
	boom := errors.New("smtp down")
	h := NewHandler(discardLogger(), &captureSender{err: boom}, nil, nil)

	err = h.ProcessTask(context.Background(), task)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped send error, got %v", err)
	}
	if errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("transient failures must stay retryable")
	}
}

func TestPreviewTruncatesLongContent(t *testing.T) {
	long := strings.Repeat("é", previewRunes+10)
	got := preview(long)
	if n := len([]rune(got)); n != previewRunes {
		t.Fatalf("expected %d runes, got %d", previewRunes, n)
	}
	if !strings.HasSuffix(got, "…") {
		t.Fatalf("expected ellipsis, got %q", got)
	}
	if preview("  short  ") != "short" {
		t.Fatalf("short content must be trimmed and kept")
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config: %v", err)
	}
	cfg.Mode = ModeAsynq
	if err := cfg.Validate(); err == nil {
		t.Fatalf("asynq mode without redis must fail")
	}
	cfg.RedisURL = "redis://localhost:6379/0"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("asynq mode with redis: %v", err)
	}
	cfg.Mode = "carrier-pigeon"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("unknown mode must fail")
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("LOSTFOUND_NOTIFY_MODE", "ASYNQ")
	t.Setenv("LOSTFOUND_REDIS_URL", "redis://localhost:6379/1")
	t.Setenv("LOSTFOUND_NOTIFY_QUEUES", "chat=6, low=1,=3")
	t.Setenv("LOSTFOUND_NOTIFY_MAX_RETRY", "2")

	cfg := LoadConfigFromEnv()
	if cfg.Mode != ModeAsynq || cfg.RedisURL == "" || cfg.MaxRetry != 2 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if len(cfg.Queues) != 2 || cfg.Queues["chat"] != 6 || cfg.Queues["low"] != 1 {
		t.Fatalf("unexpected queues: %v", cfg.Queues)
	}
}
