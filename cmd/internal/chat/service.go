package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

const defaultNotifyTimeout = 10 * time.Second

// Service is the history service: the request/response side of messaging.
type Service struct {
	log           *slog.Logger
	conversations ConversationStore
	messages      MessageStore
	publisher     Publisher
	notifier      Notifier
	directory     Directory
	catalog       Catalog
	now           func() time.Time
	notifyTimeout time.Duration
}

// Option configures the Service.
type Option func(*Service) error

// WithLogger sets the service logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) error {
		if log != nil {
			s.log = log
		}
		return nil
	}
}

// WithPublisher sets the realtime fan-out target.
func WithPublisher(p Publisher) Option {
	return func(s *Service) error {
		if p == nil {
			return errors.New("chat: nil publisher")
		}
		s.publisher = p
		return nil
	}
}

// WithNotifier sets the email notification trigger.
func WithNotifier(n Notifier) Option {
	return func(s *Service) error {
		if n == nil {
			return errors.New("chat: nil notifier")
		}
		s.notifier = n
		return nil
	}
}

// WithDirectory sets the user profile resolver.
func WithDirectory(d Directory) Option {
	return func(s *Service) error {
		if d == nil {
			return errors.New("chat: nil directory")
		}
		s.directory = d
		return nil
	}
}

// WithCatalog sets the item resolver.
func WithCatalog(c Catalog) Option {
	return func(s *Service) error {
		if c == nil {
			return errors.New("chat: nil catalog")
		}
		s.catalog = c
		return nil
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) error {
		if now == nil {
			return errors.New("chat: nil clock")
		}
		s.now = now
		return nil
	}
}

// NewService constructs a Service. Collaborators default to no-op implementations.
func NewService(conversations ConversationStore, messages MessageStore, opts ...Option) (*Service, error) {
	if conversations == nil || messages == nil {
		return nil, errors.New("chat: nil store")
	}
	s := &Service{
		log:           slog.Default(),
		conversations: conversations,
		messages:      messages,
		publisher:     NoopPublisher{},
		directory:     StaticDirectory{},
		catalog:       StaticCatalog{},
		now:           func() time.Time { return time.Now().UTC() },
		notifyTimeout: defaultNotifyTimeout,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.notifier == nil {
		s.notifier = LogNotifier{Log: s.log}
	}
	return s, nil
}

// clock truncates to microseconds so memory and Postgres timestamps compare equal.
func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// ListConversations returns the user's visible conversations, most recently active first.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]ConversationSummary, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ValidationError{Field: "userId", Reason: "required"}
	}

	convs, err := s.conversations.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(convs) == 0 {
		return []ConversationSummary{}, nil
	}

	convIDs := make([]string, len(convs))
	for i, c := range convs {
		convIDs[i] = c.ID
	}
	latest, err := s.messages.LatestByConversation(ctx, convIDs)
	if err != nil {
		return nil, err
	}
	unread, err := s.messages.UnreadByConversation(ctx, userID, convIDs)
	if err != nil {
		return nil, err
	}

	// The message log wins over a stale denormalized pointer.
	healed := false
	for i := range convs {
		m, ok := latest[convs[i].ID]
		if !ok || m.Seq <= convs[i].LastSeq {
			continue
		}
		at := m.CreatedAt
		convs[i].LastMessageID = m.ID
		convs[i].LastMessageAt = &at
		convs[i].LastSeq = m.Seq
		healed = true
		s.log.Debug("chat.conversation.pointer_stale", "conversation_id", convs[i].ID, "seq", m.Seq)
	}
	if healed {
		SortConversations(convs)
	}

	out := make([]ConversationSummary, 0, len(convs))
	for _, c := range convs {
		sum := ConversationSummary{
			Conversation: c,
			Item:         s.lookupItem(ctx, c.ItemID),
			Other:        s.lookupUser(ctx, c.Other(userID)),
			UnreadCount:  unread[c.ID],
		}
		if m, ok := latest[c.ID]; ok {
			sum.LastMessage = &m
		}
		out = append(out, sum)
	}
	return out, nil
}

// GetConversation marks the caller's unread messages read, then returns one page of history.
func (s *Service) GetConversation(ctx context.Context, conversationID, userID string, page Page) (ConversationDetail, error) {
	if strings.TrimSpace(conversationID) == "" {
		return ConversationDetail{}, ValidationError{Field: "conversationId", Reason: "required"}
	}
	conv, err := s.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return ConversationDetail{}, err
	}
	if !conv.HasParticipant(userID) {
		return ConversationDetail{}, ForbiddenError{Reason: "not a participant"}
	}

	now := s.clock()
	marked, err := s.messages.MarkConversationRead(ctx, conv.ID, userID, now)
	if err != nil {
		return ConversationDetail{}, err
	}
	if len(marked) > 0 {
		s.publishRead(ctx, ReadReceipt{
			ConversationID: conv.ID,
			ReaderID:       userID,
			SenderID:       conv.Other(userID),
			MessageIDs:     marked,
			ReadAt:         now,
		})
	}

	page = page.Normalize()
	res, err := s.messages.List(ctx, conv.ID, page)
	if err != nil {
		return ConversationDetail{}, err
	}

	return ConversationDetail{
		Conversation: conv,
		Item:         s.lookupItem(ctx, conv.ItemID),
		Other:        s.lookupUser(ctx, conv.Other(userID)),
		Messages:     res.Messages,
		Meta: PageMeta{
			Page:    page.Page,
			Limit:   page.Limit,
			Total:   res.Total,
			HasMore: res.HasMore,
		},
		MarkedRead: marked,
	}, nil
}

// SendMessage persists a message, then fans it out. Fan-out and notification never fail the send.
func (s *Service) SendMessage(ctx context.Context, in SendInput) (Message, error) {
	senderID := strings.TrimSpace(in.SenderID)
	receiverID := strings.TrimSpace(in.ReceiverID)
	convID := strings.TrimSpace(in.ConversationID)
	itemID := strings.TrimSpace(in.ItemID)

	if senderID == "" {
		return Message{}, ValidationError{Field: "senderId", Reason: "required"}
	}
	if receiverID == "" {
		return Message{}, ValidationError{Field: "receiverId", Reason: "required"}
	}
	if senderID == receiverID {
		return Message{}, ValidationError{Field: "receiverId", Reason: "cannot message yourself"}
	}
	if convID == "" && itemID == "" {
		return Message{}, ValidationError{Field: "itemId", Reason: "required without conversationId"}
	}
	content, err := NormalizeContent(in.Content)
	if err != nil {
		return Message{}, err
	}

	now := s.clock()

	var conv Conversation
	if convID != "" {
		conv, err = s.conversations.GetConversation(ctx, convID)
		if err != nil {
			return Message{}, err
		}
		if !conv.HasParticipant(senderID) {
			return Message{}, ForbiddenError{Reason: "not a participant"}
		}
		if conv.Other(senderID) != receiverID {
			return Message{}, ValidationError{Field: "receiverId", Reason: "not the other participant"}
		}
		if itemID != "" && itemID != conv.ItemID {
			return Message{}, ValidationError{Field: "itemId", Reason: "does not match conversation"}
		}
	} else {
		var created bool
		conv, created, err = s.conversations.FindOrCreate(ctx, FindOrCreateInput{
			ItemID:       itemID,
			Participants: [2]string{senderID, receiverID},
			Now:          now,
		})
		if err != nil {
			return Message{}, err
		}
		if created {
			s.log.Info("chat.conversation.created", "conversation_id", conv.ID, "item_id", conv.ItemID)
		}
	}

	msg, err := s.messages.Append(ctx, AppendInput{
		ConversationID: conv.ID,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Content:        content,
		Now:            now,
	})
	if err != nil {
		return Message{}, err
	}

	// The message is durable from here on.
	if err := s.conversations.RecordMessage(ctx, msg); err != nil {
		s.log.Warn("chat.conversation.record.fail", "conversation_id", conv.ID, "message_id", msg.ID, "err", err)
	}
	s.log.Info("chat.message.sent", "conversation_id", conv.ID, "message_id", msg.ID, "seq", msg.Seq)

	if err := s.publisher.PublishMessage(ctx, msg); err != nil {
		s.log.Warn("chat.publish.fail", "conversation_id", conv.ID, "message_id", msg.ID, "err", err)
	}
	s.notifyAsync(ctx, msg, conv)

	return msg, nil
}

// MarkAsRead marks one message read for its receiver. Re-marking is a no-op.
func (s *Service) MarkAsRead(ctx context.Context, messageID, userID string) (Message, error) {
	if strings.TrimSpace(messageID) == "" {
		return Message{}, ValidationError{Field: "messageId", Reason: "required"}
	}
	m, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return Message{}, err
	}
	if m.ReceiverID != userID {
		return Message{}, ForbiddenError{Reason: "only the receiver can mark a message read"}
	}
	if m.Read {
		return m, nil
	}

	m, changed, err := s.messages.MarkRead(ctx, messageID, s.clock())
	if err != nil {
		return Message{}, err
	}
	if changed {
		s.publishRead(ctx, ReadReceipt{
			ConversationID: m.ConversationID,
			ReaderID:       userID,
			SenderID:       m.SenderID,
			MessageIDs:     []string{m.ID},
			ReadAt:         *m.ReadAt,
		})
	}
	return m, nil
}

// DeleteConversation hides the conversation for userID only. Messages are kept.
func (s *Service) DeleteConversation(ctx context.Context, conversationID, userID string) error {
	if strings.TrimSpace(conversationID) == "" {
		return ValidationError{Field: "conversationId", Reason: "required"}
	}
	conv, err := s.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(userID) {
		return ForbiddenError{Reason: "not a participant"}
	}
	if err := s.conversations.Hide(ctx, conv.ID, userID); err != nil {
		return err
	}
	s.log.Info("chat.conversation.hidden", "conversation_id", conv.ID, "user_id", userID)
	return nil
}

// UnreadCount counts unread messages addressed to userID across all conversations, hidden or not.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, ValidationError{Field: "userId", Reason: "required"}
	}
	return s.messages.UnreadCount(ctx, userID)
}

// IsParticipant reports whether userID may join or type into conversationID.
func (s *Service) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	conv, err := s.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return conv.HasParticipant(userID), nil
}

func (s *Service) publishRead(ctx context.Context, r ReadReceipt) {
	if err := s.publisher.PublishRead(ctx, r); err != nil {
		s.log.Warn("chat.publish_read.fail", "conversation_id", r.ConversationID, "err", err)
	}
}

func (s *Service) notifyAsync(ctx context.Context, m Message, conv Conversation) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
	go func() {
		defer cancel()
		if err := s.notifier.NotifyMessage(ctx, m, conv); err != nil {
			s.log.Warn("chat.notify.fail", "message_id", m.ID, "err", err)
		}
	}()
}

func (s *Service) lookupUser(ctx context.Context, userID string) UserRef {
	u, err := s.directory.LookupUser(ctx, userID)
	if err != nil {
		s.log.Debug("chat.directory.lookup.fail", "user_id", userID, "err", err)
		return UserRef{ID: userID}
	}
	return u
}

func (s *Service) lookupItem(ctx context.Context, itemID string) ItemRef {
	it, err := s.catalog.LookupItem(ctx, itemID)
	if err != nil {
		s.log.Debug("chat.catalog.lookup.fail", "item_id", itemID, "err", err)
		return ItemRef{ID: itemID}
	}
	return it
}
