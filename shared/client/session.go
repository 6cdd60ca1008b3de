package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	v1 "lostfound/shared/contracts/realtime/v1"

	"github.com/google/uuid"
)

// ErrNotConnected is returned when an event needs the push channel and none is up.
var ErrNotConnected = errors.New("client: not connected")

// History is the pull side a Session needs.
type History interface {
	GetConversation(ctx context.Context, convID string, q PageQuery) (ConversationDetail, error)
	SendMessage(ctx context.Context, req SendRequest) (Message, error)
	UnreadCount(ctx context.Context) (int, error)
}

var _ History = (*HTTPHistory)(nil)

// SessionConfig tunes a Session. Zero values take defaults.
type SessionConfig struct {
	// TypingIdle is the idle interval after which stop_typing is sent.
	TypingIdle time.Duration
	// PageLimit is the window size used when opening a conversation.
	PageLimit int

	ReconnectMin time.Duration
	ReconnectMax time.Duration

	Log *slog.Logger
	Now func() time.Time

	// OnEnvelope, if set, is called after each inbound envelope has been applied to the view.
	OnEnvelope func(v1.Envelope)
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.TypingIdle <= 0 {
		c.TypingIdle = 2 * time.Second
	}
	if c.PageLimit <= 0 {
		c.PageLimit = 50
	}
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = 500 * time.Millisecond
	}
	if c.ReconnectMax < c.ReconnectMin {
		c.ReconnectMax = 15 * time.Second
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// maxCatchUpPages bounds the incremental pulls made after a reconnect.
const maxCatchUpPages = 20

// Session keeps a View in sync with the server for one user.
//
// Room membership follows the open conversation: switching leaves the previous room
// before joining the next one, and a reconnect re-registers, re-joins and re-pulls.
type Session struct {
	cfg     SessionConfig
	log     *slog.Logger
	view    *View
	dial    Dialer
	history History

	// navMu serializes conversation switches and reconnect resyncs.
	navMu sync.Mutex
	open  string

	connMu sync.Mutex
	conn   Transport

	typingMu     sync.Mutex
	typingConv   string
	typingSentAt time.Time
	typingGen    uint64
	typingTimer  *time.Timer
}

// NewSession builds a session for view.UserID().
func NewSession(view *View, dial Dialer, history History, cfg SessionConfig) (*Session, error) {
	if view == nil || view.UserID() == "" {
		return nil, errors.New("client: session requires a view with a user id")
	}
	if dial == nil || history == nil {
		return nil, errors.New("client: session requires a dialer and a history client")
	}
	cfg = cfg.withDefaults()
	return &Session{
		cfg:     cfg,
		log:     cfg.Log.With("user_id", view.UserID()),
		view:    view,
		dial:    dial,
		history: history,
	}, nil
}

// View returns the session's view.
func (s *Session) View() *View { return s.view }

// Connected reports whether the push channel is up.
func (s *Session) Connected() bool {
	return s.currentConn() != nil
}

// Run connects and keeps reconnecting until ctx is canceled.
func (s *Session) Run(ctx context.Context) error {
	backoff := s.cfg.ReconnectMin
	for {
		t, err := s.dial(ctx)
		if err == nil {
			backoff = s.cfg.ReconnectMin
			err = s.serve(ctx, t)
		}
		if ctx.Err() != nil {
			return nil
		}
		s.log.Warn("client.disconnected", "err", err, "retry_in", backoff)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		backoff *= 2
		if backoff > s.cfg.ReconnectMax {
			backoff = s.cfg.ReconnectMax
		}
	}
}

func (s *Session) serve(ctx context.Context, t Transport) error {
	defer func() { _ = t.Close() }()

	if err := s.resync(ctx, t); err != nil {
		return err
	}
	defer s.setConn(nil)

	for {
		env, err := t.Recv(ctx)
		if err != nil {
			return err
		}
		s.dispatch(env)
	}
}

// resync restores membership on a fresh transport and pulls what was missed.
func (s *Session) resync(ctx context.Context, t Transport) error {
	s.navMu.Lock()
	defer s.navMu.Unlock()

	if err := t.Send(ctx, s.envelope(v1.TypeRegister, "", v1.RegisterPayload{UserID: s.view.UserID()})); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	if s.open != "" {
		if err := t.Send(ctx, s.envelope(v1.TypeJoinConversation, s.open, v1.ConversationRefPayload{ConversationID: s.open})); err != nil {
			return fmt.Errorf("rejoin: %w", err)
		}
	}
	s.setConn(t)
	s.log.Info("client.connected", "conversation_id", s.open)

	if s.open != "" {
		if err := s.catchUp(ctx, s.open); err != nil {
			s.log.Warn("client.catch_up.fail", "conversation_id", s.open, "err", err)
		}
	}
	s.refreshUnread(ctx)
	return nil
}

// catchUp pulls messages after the last seq the local list holds without a gap, so pushes
// dropped before the disconnect are recovered too. With an empty list it pulls the newest
// window instead.
func (s *Session) catchUp(ctx context.Context, convID string) error {
	after := s.view.ContiguousSeq()
	if after == 0 {
		return s.pullFirstPage(ctx, convID)
	}
	for i := 0; i < maxCatchUpPages; i++ {
		d, err := s.history.GetConversation(ctx, convID, PageQuery{Limit: s.cfg.PageLimit, AfterSeq: after})
		if err != nil {
			return err
		}
		if !s.view.MergePull(convID, d.Messages) || len(d.Messages) == 0 || !d.Pagination.HasMore {
			return nil
		}
		next := s.view.ContiguousSeq()
		if next <= after {
			return nil
		}
		after = next
	}
	return nil
}

func (s *Session) pullFirstPage(ctx context.Context, convID string) error {
	d, err := s.history.GetConversation(ctx, convID, PageQuery{Page: 1, Limit: s.cfg.PageLimit})
	if err != nil {
		return err
	}
	s.view.MergePull(convID, d.Messages)
	return nil
}

func (s *Session) refreshUnread(ctx context.Context) {
	n, err := s.history.UnreadCount(ctx)
	if err != nil {
		s.log.Warn("client.unread_count.fail", "err", err)
		return
	}
	s.view.SetUnread(n)
}

// Open switches the open conversation to convID.
//
// The previous room is left, the list is cleared, the new room is joined and the newest
// window is pulled. If leaving fails the transport is dropped and the join happens
// on reconnect instead.
func (s *Session) Open(ctx context.Context, convID string) error {
	if convID == "" {
		return errors.New("client: empty conversation id")
	}

	s.navMu.Lock()
	defer s.navMu.Unlock()

	s.StopTyping(ctx)

	prev := s.open
	t := s.currentConn()
	if t != nil && prev != "" && prev != convID {
		if err := t.Send(ctx, s.envelope(v1.TypeLeaveConversation, prev, v1.ConversationRefPayload{ConversationID: prev})); err != nil {
			s.log.Warn("client.leave.fail", "conversation_id", prev, "err", err)
			s.dropConn(t)
			t = nil
		}
	}

	// The view switches before the join so pushes for convID are merged, not counted unread.
	s.open = convID
	s.view.Open(convID)

	if t != nil {
		if err := t.Send(ctx, s.envelope(v1.TypeJoinConversation, convID, v1.ConversationRefPayload{ConversationID: convID})); err != nil {
			s.log.Warn("client.join.fail", "conversation_id", convID, "err", err)
			s.dropConn(t)
		}
	}

	if err := s.pullFirstPage(ctx, convID); err != nil {
		return fmt.Errorf("open %s: %w", convID, err)
	}
	s.refreshUnread(ctx)
	return nil
}

// CloseConversation leaves the open conversation room and clears the list.
func (s *Session) CloseConversation(ctx context.Context) {
	s.navMu.Lock()
	defer s.navMu.Unlock()

	if s.open == "" {
		return
	}
	s.StopTyping(ctx)
	if t := s.currentConn(); t != nil {
		if err := t.Send(ctx, s.envelope(v1.TypeLeaveConversation, s.open, v1.ConversationRefPayload{ConversationID: s.open})); err != nil {
			s.log.Warn("client.leave.fail", "conversation_id", s.open, "err", err)
			s.dropConn(t)
		}
	}
	s.open = ""
	s.view.Open("")
}

// Send posts a message and merges the persisted copy. The later push of the same
// message is deduplicated by id.
func (s *Session) Send(ctx context.Context, req SendRequest) (Message, error) {
	m, err := s.history.SendMessage(ctx, req)
	if err != nil {
		return Message{}, err
	}
	s.StopTyping(ctx)
	s.view.Add(m)
	return m, nil
}

// Typing records a keystroke in the open conversation. typing is sent on the first
// keystroke and refreshed while the user keeps typing; stop_typing follows after
// TypingIdle without keystrokes.
func (s *Session) Typing(ctx context.Context) error {
	conv := s.view.OpenConversation()
	if conv == "" {
		return nil
	}

	s.typingMu.Lock()
	defer s.typingMu.Unlock()

	now := s.cfg.Now()
	if s.typingConv != conv || now.Sub(s.typingSentAt) >= DefaultTypingTTL/2 {
		if s.typingConv != "" && s.typingConv != conv {
			_ = s.sendLocked(ctx, v1.TypeStopTyping, s.typingConv)
		}
		if err := s.sendLocked(ctx, v1.TypeTyping, conv); err != nil {
			return err
		}
		s.typingConv = conv
		s.typingSentAt = now
	}

	s.typingGen++
	gen := s.typingGen
	if s.typingTimer != nil {
		s.typingTimer.Stop()
	}
	s.typingTimer = time.AfterFunc(s.cfg.TypingIdle, func() {
		s.typingMu.Lock()
		defer s.typingMu.Unlock()
		if s.typingGen != gen {
			return
		}
		s.stopTypingLocked(context.Background())
	})
	return nil
}

// StopTyping sends stop_typing if a typing indicator is active.
func (s *Session) StopTyping(ctx context.Context) {
	s.typingMu.Lock()
	defer s.typingMu.Unlock()
	s.stopTypingLocked(ctx)
}

func (s *Session) stopTypingLocked(ctx context.Context) {
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	s.typingGen++
	if s.typingConv == "" {
		return
	}
	conv := s.typingConv
	s.typingConv = ""
	s.typingSentAt = time.Time{}
	if err := s.sendLocked(ctx, v1.TypeStopTyping, conv); err != nil && !errors.Is(err, ErrNotConnected) {
		s.log.Debug("client.stop_typing.fail", "conversation_id", conv, "err", err)
	}
}

func (s *Session) sendLocked(ctx context.Context, typ, conv string) error {
	t := s.currentConn()
	if t == nil {
		return ErrNotConnected
	}
	return t.Send(ctx, s.envelope(typ, conv, v1.TypingPayload{ConversationID: conv, UserID: s.view.UserID()}))
}

func (s *Session) dispatch(env v1.Envelope) {
	switch env.Type {
	case v1.TypeReceiveMessage:
		var m Message
		if err := env.DecodePayload(&m); err != nil {
			s.log.Warn("client.decode.fail", "type", env.Type, "err", err)
			return
		}
		res := s.view.ApplyPush(m)
		s.log.Debug("client.message.push", "message_id", m.ID, "conversation_id", m.ConversationID, "result", int(res))

	case v1.TypeMessagesRead:
		var p v1.MessagesReadPayload
		if err := env.DecodePayload(&p); err != nil {
			s.log.Warn("client.decode.fail", "type", env.Type, "err", err)
			return
		}
		s.view.ApplyRead(p)

	case v1.TypeTyping, v1.TypeStopTyping:
		var p v1.TypingPayload
		if err := env.DecodePayload(&p); err != nil {
			s.log.Warn("client.decode.fail", "type", env.Type, "err", err)
			return
		}
		s.view.SetTyping(p, env.Type == v1.TypeTyping, s.cfg.Now())

	case v1.TypeError:
		var p v1.ErrorPayload
		_ = env.DecodePayload(&p)
		s.log.Warn("client.server_error", "code", p.Code, "message", p.Message)

	default:
		s.log.Debug("client.event", "type", env.Type, "conversation_id", env.ConvID)
	}

	if s.cfg.OnEnvelope != nil {
		s.cfg.OnEnvelope(env)
	}
}

func (s *Session) envelope(typ, convID string, payload any) v1.Envelope {
	env, err := v1.NewEnvelope(typ, convID, s.cfg.Now(), payload)
	if err != nil {
		// Payloads are fixed structs of strings; marshal cannot fail.
		panic(err)
	}
	env.ID = uuid.NewString()
	return env
}

func (s *Session) currentConn() Transport {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.conn
}

func (s *Session) setConn(t Transport) {
	s.connMu.Lock()
	s.conn = t
	s.connMu.Unlock()
}

// dropConn closes t so the read loop fails and Run reconnects.
func (s *Session) dropConn(t Transport) {
	s.connMu.Lock()
	if s.conn == t {
		s.conn = nil
	}
	s.connMu.Unlock()
	_ = t.Close()
}
