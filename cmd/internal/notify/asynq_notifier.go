package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"lostfound/cmd/internal/chat"

	"github.com/hibiken/asynq"
)

// AsynqNotifier enqueues one TaskMessageNotify per message. It implements chat.Notifier.
//
// The message id doubles as the asynq task id, so a retried enqueue of the same message
// is accepted once.
type AsynqNotifier struct {
	log      *slog.Logger
	client   *asynq.Client
	queue    string
	maxRetry int
	cfg      Config
}

var _ chat.Notifier = (*AsynqNotifier)(nil)

// NewAsynqNotifier connects to cfg.RedisURL.
func NewAsynqNotifier(log *slog.Logger, cfg Config) (*AsynqNotifier, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("notify: redis url required")
	}
	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("notify: parse redis url: %w", err)
	}
	return &AsynqNotifier{
		log:      log,
		client:   asynq.NewClient(opt),
		queue:    cfg.Queue,
		maxRetry: cfg.MaxRetry,
		cfg:      cfg,
	}, nil
}

func (n *AsynqNotifier) NotifyMessage(ctx context.Context, m chat.Message, conv chat.Conversation) error {
	task, err := NewMessageNotifyTask(PayloadFor(m, conv))
	if err != nil {
		return err
	}
	info, err := n.client.EnqueueContext(ctx, task,
		asynq.Queue(n.queue),
		asynq.MaxRetry(n.maxRetry),
		asynq.Timeout(n.cfg.Timeout),
		asynq.TaskID(m.ID),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		n.log.Debug("notify.enqueue.duplicate", "message_id", m.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("notify: enqueue %s: %w", m.ID, err)
	}
	n.log.Debug("notify.enqueue.ok", "message_id", m.ID, "task_id", info.ID, "queue", info.Queue)
	return nil
}

// Close releases the Redis connection.
func (n *AsynqNotifier) Close() error {
	if n == nil || n.client == nil {
		return nil
	}
	return n.client.Close()
}
