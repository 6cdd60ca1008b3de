package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"lostfound/cmd/internal/chat"

	"github.com/hibiken/asynq"
)

// Handler renders TaskMessageNotify tasks into emails.
type Handler struct {
	log       *slog.Logger
	sender    EmailSender
	directory chat.Directory
	catalog   chat.Catalog
}

// NewHandler constructs a Handler. Nil collaborators fall back to the static defaults.
func NewHandler(log *slog.Logger, sender EmailSender, directory chat.Directory, catalog chat.Catalog) *Handler {
	if log == nil {
		log = slog.Default()
	}
	if sender == nil {
		sender = LogEmailSender{Log: log}
	}
	if directory == nil {
		directory = chat.StaticDirectory{}
	}
	if catalog == nil {
		catalog = chat.StaticCatalog{}
	}
	return &Handler{log: log, sender: sender, directory: directory, catalog: catalog}
}

// ProcessTask implements asynq.Handler.
func (h *Handler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	p, err := DecodeMessageNotify(t)
	if err != nil {
		// A malformed payload never becomes valid.
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	sender, err := h.directory.LookupUser(ctx, p.SenderID)
	if err != nil {
		return fmt.Errorf("notify: lookup sender %s: %w", p.SenderID, err)
	}
	item, err := h.catalog.LookupItem(ctx, p.ItemID)
	if err != nil {
		return fmt.Errorf("notify: lookup item %s: %w", p.ItemID, err)
	}

	if err := h.sender.Send(ctx, render(p, sender, item)); err != nil {
		return fmt.Errorf("notify: send email for %s: %w", p.MessageID, err)
	}
	h.log.Info("notify.email.sent", "message_id", p.MessageID, "receiver_id", p.ReceiverID)
	return nil
}

func render(p MessageNotifyPayload, sender chat.UserRef, item chat.ItemRef) Email {
	from := strings.TrimSpace(sender.DisplayName)
	if from == "" {
		from = "Someone"
	}
	about := strings.TrimSpace(item.Title)
	if about == "" {
		about = "your item"
	}
	return Email{
		ToUserID: p.ReceiverID,
		Subject:  fmt.Sprintf("%s sent you a message about %s", from, about),
		Body:     p.Preview,
	}
}

// Worker runs an asynq server consuming notification tasks.
type Worker struct {
	log    *slog.Logger
	server *asynq.Server
	mux    *asynq.ServeMux
}

// NewWorker builds the asynq server for cfg and registers h.
func NewWorker(log *slog.Logger, cfg Config, h *Handler) (*Worker, error) {
	if log == nil {
		log = slog.Default()
	}
	if h == nil {
		return nil, errors.New("notify: nil handler")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("notify: worker requires LOSTFOUND_REDIS_URL")
	}
	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("notify: parse redis url: %w", err)
	}
	queues := cfg.Queues
	if len(queues) == 0 {
		queues = map[string]int{cfg.Queue: 1}
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 10
	}

	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      queues,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Warn("notify.task.fail", "type", task.Type(), "err", err)
		}),
	})
	mux := asynq.NewServeMux()
	mux.Handle(TaskMessageNotify, h)

	return &Worker{log: log, server: srv, mux: mux}, nil
}

// Run starts the server and blocks until ctx is canceled, then shuts down gracefully.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("notify: start worker: %w", err)
	}
	w.log.Info("notify.worker.start")
	<-ctx.Done()
	w.server.Shutdown()
	w.log.Info("notify.worker.stop")
	return nil
}
