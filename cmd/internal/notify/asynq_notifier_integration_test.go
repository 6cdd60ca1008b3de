package notify

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"
)

func TestAsynqNotifier_EnqueueIsIdempotentPerMessage(t *testing.T) {
	redisURL := strings.TrimSpace(os.Getenv("LOSTFOUND_TEST_REDIS_URL"))
	if redisURL == "" {
		t.Skip("LOSTFOUND_TEST_REDIS_URL not set")
	}

	cfg := DefaultConfig()
	cfg.Mode = ModeAsynq
	cfg.RedisURL = redisURL
	cfg.Queue = "lostfound_test_" + time.Now().UTC().Format("150405.000000")

	n, err := NewAsynqNotifier(discardLogger(), cfg)
	if err != nil {
		t.Fatalf("NewAsynqNotifier: %v", err)
	}
	defer func() { _ = n.Close() }()

	m, conv := sampleMessage()
	m.ID = "m-" + cfg.Queue

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.NotifyMessage(ctx, m, conv); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := n.NotifyMessage(ctx, m, conv); err != nil {
		t.Fatalf("duplicate enqueue must be accepted: %v", err)
	}

	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		t.Fatalf("ParseRedisURI: %v", err)
	}
	insp := asynq.NewInspector(opt)
	defer func() { _ = insp.Close() }()
	defer func() { _, _ = insp.DeleteAllPendingTasks(cfg.Queue) }()

	info, err := insp.GetTaskInfo(cfg.Queue, m.ID)
	if err != nil {
		t.Fatalf("GetTaskInfo: %v", err)
	}
	if info.Type != TaskMessageNotify {
		t.Fatalf("unexpected task type %q", info.Type)
	}
	tasks, err := insp.ListPendingTasks(cfg.Queue)
	if err != nil {
		t.Fatalf("ListPendingTasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected exactly one pending task, got %d", len(tasks))
	}
}
