package chat

import (
	"context"
	"log/slog"
	"time"
)

// Publisher fans persisted state changes out to live connections.
// Implementations must not block on delivery; errors are logged by the caller and dropped.
type Publisher interface {
	PublishMessage(ctx context.Context, m Message) error
	PublishRead(ctx context.Context, r ReadReceipt) error
}

// ReadReceipt reports messages a reader transitioned to read.
type ReadReceipt struct {
	ConversationID string
	ReaderID       string
	// SenderID is the counterpart whose personal room receives the receipt.
	SenderID   string
	MessageIDs []string
	ReadAt     time.Time
}

// Notifier triggers out-of-band notifications (email) for a new message.
type Notifier interface {
	NotifyMessage(ctx context.Context, m Message, conv Conversation) error
}

// Directory resolves user ids to display profiles.
type Directory interface {
	LookupUser(ctx context.Context, userID string) (UserRef, error)
}

// Catalog resolves item ids to listing references.
type Catalog interface {
	LookupItem(ctx context.Context, itemID string) (ItemRef, error)
}

// NoopPublisher drops every event.
type NoopPublisher struct{}

func (NoopPublisher) PublishMessage(context.Context, Message) error  { return nil }
func (NoopPublisher) PublishRead(context.Context, ReadReceipt) error { return nil }

// NoopNotifier disables the notification trigger.
type NoopNotifier struct{}

func (NoopNotifier) NotifyMessage(context.Context, Message, Conversation) error { return nil }

// LogNotifier records the notification trigger instead of sending mail.
type LogNotifier struct {
	Log *slog.Logger
}

func (n LogNotifier) NotifyMessage(_ context.Context, m Message, conv Conversation) error {
	if n.Log != nil {
		n.Log.Info("chat.notify.skipped",
			"message_id", m.ID,
			"conversation_id", conv.ID,
			"receiver_id", m.ReceiverID,
			"item_id", conv.ItemID,
		)
	}
	return nil
}

// StaticDirectory returns bare references carrying only the id.
type StaticDirectory struct{}

func (StaticDirectory) LookupUser(_ context.Context, userID string) (UserRef, error) {
	return UserRef{ID: userID}, nil
}

// StaticCatalog returns bare references carrying only the id.
type StaticCatalog struct{}

func (StaticCatalog) LookupItem(_ context.Context, itemID string) (ItemRef, error) {
	return ItemRef{ID: itemID}, nil
}
