package notify

import (
	"context"
	"log/slog"
)

// Email is a rendered notification addressed to a user id; the sender resolves the address.
type Email struct {
	ToUserID string
	Subject  string
	Body     string
}

// EmailSender delivers rendered emails.
type EmailSender interface {
	Send(ctx context.Context, e Email) error
}

// LogEmailSender writes emails to the log instead of sending them.
type LogEmailSender struct {
	Log *slog.Logger
}

func (s LogEmailSender) Send(_ context.Context, e Email) error {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("notify.email.logged", "to_user_id", e.ToUserID, "subject", e.Subject)
	return nil
}

// NoopEmailSender drops every email.
type NoopEmailSender struct{}

func (NoopEmailSender) Send(context.Context, Email) error { return nil }
