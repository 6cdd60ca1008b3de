package realtime

import (
	"context"
	"log/slog"
	"time"

	"lostfound/cmd/internal/chat"
	v1 "lostfound/shared/contracts/realtime/v1"
)

// Fanout publishes persisted chat events to rooms. It implements chat.Publisher.
//
// A new message goes to the conversation room and to both participants' personal rooms.
// Connections in more than one of those rooms receive duplicates and dedupe by message id.
type Fanout struct {
	log    *slog.Logger
	broker Broker
	now    func() time.Time
}

var _ chat.Publisher = (*Fanout)(nil)

// NewFanout constructs a Fanout over broker.
func NewFanout(log *slog.Logger, broker Broker) *Fanout {
	if log == nil {
		log = slog.Default()
	}
	return &Fanout{log: log, broker: broker, now: func() time.Time { return time.Now().UTC() }}
}

func (f *Fanout) PublishMessage(ctx context.Context, m chat.Message) error {
	env, err := f.envelope(v1.TypeReceiveMessage, m.ConversationID, m.Wire())
	if err != nil {
		return err
	}
	return f.broker.Publish(ctx, Delivery{
		Rooms:    MessageRooms(m),
		Envelope: env,
	})
}

func (f *Fanout) PublishRead(ctx context.Context, r chat.ReadReceipt) error {
	env, err := f.envelope(v1.TypeMessagesRead, r.ConversationID, v1.MessagesReadPayload{
		ConversationID: r.ConversationID,
		ReaderID:       r.ReaderID,
		MessageIDs:     r.MessageIDs,
		ReadAt:         r.ReadAt,
	})
	if err != nil {
		return err
	}
	return f.broker.Publish(ctx, Delivery{
		Rooms:    []string{ConversationRoom(r.ConversationID), UserRoom(r.SenderID), UserRoom(r.ReaderID)},
		Envelope: env,
	})
}

func (f *Fanout) envelope(typ, convID string, payload any) (v1.Envelope, error) {
	now := f.now()
	env, err := v1.NewEnvelope(typ, convID, now, payload)
	if err != nil {
		return v1.Envelope{}, err
	}
	env.ID = NewEnvelopeID(now)
	return env, nil
}

// MessageRooms returns the rooms a new message is delivered to.
func MessageRooms(m chat.Message) []string {
	return []string{
		ConversationRoom(m.ConversationID),
		UserRoom(m.SenderID),
		UserRoom(m.ReceiverID),
	}
}
