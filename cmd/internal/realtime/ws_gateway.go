// Package realtime contains the chat push channel: rooms, fan-out, and the websocket gateway.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"lostfound/cmd/internal/auth"
	v1 "lostfound/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const (
	wsCloseGrace      = 1 * time.Second
	wsMaxPingFailures = 3
	wsAuthzTimeout    = 3 * time.Second
)

// Membership is the authorization boundary for conversation rooms.
type Membership interface {
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
}

// WSGateway is the WebSocket entrypoint of the push channel.
//
// It enforces origin policy, authentication, subprotocol selection, rate limits and
// heartbeats, and routes validated envelopes to the Hub and Broker.
type WSGateway struct {
	log     *slog.Logger
	hub     *Hub
	broker  Broker
	authn   auth.Authenticator
	members Membership
	cfg     GatewayConfig

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string
}

// NewWSGateway constructs a gateway.
func NewWSGateway(log *slog.Logger, hub *Hub, broker Broker, authn auth.Authenticator, members Membership, cfg GatewayConfig) (*WSGateway, error) {
	if hub == nil || broker == nil || authn == nil || members == nil {
		return nil, errors.New("realtime: gateway requires hub, broker, authenticator and membership")
	}
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &WSGateway{
		log:            log,
		hub:            hub,
		broker:         broker,
		authn:          authn,
		members:        members,
		cfg:            cfg,
		originPatterns: deriveOriginPatternsFromAllowedOrigins(cfg.AllowedOrigins),
	}, nil
}

// Shutdown disconnects every live session. Hijacked connections are not closed by http.Server.Shutdown.
func (g *WSGateway) Shutdown() {
	if n := g.hub.DisconnectAll(); n > 0 {
		g.log.Info("ws.shutdown", "sessions", n)
	}
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs the realtime loop.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	userID, err := g.authn.Authenticate(r)
	if err != nil {
		g.log.Info("ws.reject.auth", "err", err, "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	client := NewClient(userID, NewSessionID(), g.cfg.SendQueueSize)
	sessionID := client.SessionID
	g.hub.Attach(client)
	g.hub.metrics.Connections.Inc()
	defer g.hub.metrics.Connections.Dec()
	g.log.Info("ws.connect", "session_id", sessionID, "user_id", userID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once

	// shutdown is idempotent. Room removal happens before client.Close so broadcasters
	// never hold a member that is being torn down.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.hub.Disconnect(client)
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				// Disconnected by the hub (server shutdown) or by shutdown below.
				shutdown(websocket.StatusGoingAway, "going away")
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
					g.log.Info("ws.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.cfg.HeartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "session_id", sessionID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(ctx, client, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "session_id", sessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			g.trySendError(ctx, client, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, client, "bad_envelope", err.Error())
			continue readLoop
		}
		g.hub.metrics.InboundEvents.WithLabelValues(env.Type).Inc()

		switch env.Type {
		case v1.TypeRegister:
			if err := g.onRegister(ctx, client, env); err != nil {
				g.trySendError(ctx, client, "register_failed", err.Error())
			}

		case v1.TypeJoinConversation:
			if err := g.onJoin(ctx, client, env); err != nil {
				g.trySendError(ctx, client, "join_failed", err.Error())
			}

		case v1.TypeLeaveConversation:
			if err := g.onLeave(ctx, client, env); err != nil {
				g.trySendError(ctx, client, "leave_failed", err.Error())
			}

		case v1.TypeTyping, v1.TypeStopTyping:
			if err := g.onTyping(ctx, client, env); err != nil {
				g.trySendError(ctx, client, "typing_failed", err.Error())
			}

		case v1.TypePing:
			pong, _ := g.newEnvelope(v1.TypePong, "", nil)
			_ = g.enqueue(ctx, client, pong)

		default:
			g.trySendError(ctx, client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
	g.log.Info("ws.disconnect", "session_id", sessionID, "user_id", userID)
}

// ---- handlers ----

func (g *WSGateway) onRegister(ctx context.Context, client *Client, env v1.Envelope) error {
	var p v1.RegisterPayload
	if len(env.Payload) > 0 {
		if err := env.DecodePayload(&p); err != nil {
			return err
		}
	}
	uid := strings.TrimSpace(p.UserID)
	if uid != "" && uid != client.UserID {
		return errors.New("userId does not match authenticated user")
	}

	room := g.hub.Register(client, client.UserID)

	ack, err := g.newEnvelope(v1.TypeRegistered, "", v1.RegisteredPayload{
		UserID:    client.UserID,
		SessionID: client.SessionID,
		Room:      room,
	})
	if err != nil {
		return err
	}
	if !g.enqueue(ctx, client, ack) {
		return errors.New("backpressure: registered")
	}
	return nil
}

func (g *WSGateway) onJoin(ctx context.Context, client *Client, env v1.Envelope) error {
	convID, err := conversationRef(env)
	if err != nil {
		return err
	}

	authzCtx, cancel := context.WithTimeout(ctx, wsAuthzTimeout)
	ok, err := g.members.IsParticipant(authzCtx, convID, client.UserID)
	cancel()
	if err != nil {
		g.log.Warn("ws.join.authz.fail", "session_id", client.SessionID, "conversation_id", convID, "err", err)
		return errors.New("membership check failed")
	}
	if !ok {
		return errors.New("not a participant")
	}

	g.hub.SwitchConversation(client, convID)

	ack, err := g.newEnvelope(v1.TypeJoined, convID, v1.RoomPayload{
		ConversationID: convID,
		Room:           ConversationRoom(convID),
	})
	if err != nil {
		return err
	}
	if !g.enqueue(ctx, client, ack) {
		return errors.New("backpressure: joined")
	}
	return nil
}

func (g *WSGateway) onLeave(ctx context.Context, client *Client, env v1.Envelope) error {
	convID, err := conversationRef(env)
	if err != nil {
		return err
	}
	g.hub.LeaveConversation(client, convID)

	ack, err := g.newEnvelope(v1.TypeLeft, convID, v1.RoomPayload{
		ConversationID: convID,
		Room:           ConversationRoom(convID),
	})
	if err != nil {
		return err
	}
	if !g.enqueue(ctx, client, ack) {
		return errors.New("backpressure: left")
	}
	return nil
}

// onTyping relays typing state to the other members of the open conversation. Nothing is stored.
func (g *WSGateway) onTyping(ctx context.Context, client *Client, env v1.Envelope) error {
	var p v1.TypingPayload
	if err := env.DecodePayload(&p); err != nil {
		return err
	}
	convID := strings.TrimSpace(p.ConversationID)
	if convID == "" {
		convID = strings.TrimSpace(env.ConvID)
	}
	if convID == "" {
		return errors.New("missing conversationId")
	}
	if g.hub.CurrentConversation(client) != convID {
		return errors.New("join the conversation first")
	}

	relay, err := g.newEnvelope(env.Type, convID, v1.TypingPayload{
		ConversationID: convID,
		UserID:         client.UserID,
	})
	if err != nil {
		return err
	}
	return g.broker.Publish(ctx, Delivery{
		Rooms:    []string{ConversationRoom(convID)},
		Except:   client.SessionID,
		Envelope: relay,
	})
}

func conversationRef(env v1.Envelope) (string, error) {
	var p v1.ConversationRefPayload
	if len(env.Payload) > 0 {
		if err := env.DecodePayload(&p); err != nil {
			return "", err
		}
	}
	convID := strings.TrimSpace(p.ConversationID)
	if convID == "" {
		convID = strings.TrimSpace(env.ConvID)
	}
	if convID == "" {
		return "", errors.New("missing conversationId")
	}
	return convID, nil
}

// ---- send helpers ----

func (g *WSGateway) newEnvelope(typ, convID string, payload any) (v1.Envelope, error) {
	now := time.Now().UTC()
	env, err := v1.NewEnvelope(typ, convID, now, payload)
	if err != nil {
		return v1.Envelope{}, err
	}
	env.ID = NewEnvelopeID(now)
	return env, nil
}

func (g *WSGateway) trySendError(ctx context.Context, client *Client, code, msg string) {
	env, err := g.newEnvelope(v1.TypeError, "", v1.ErrorPayload{Code: code, Message: msg})
	if err != nil {
		return
	}
	_ = g.enqueue(ctx, client, env)
}

func (g *WSGateway) enqueue(ctx context.Context, client *Client, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	default:
	}
	return client.offer(env)
}

// ---- envelope IO ----

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return readErrBadJSON
	}
	s := err.Error()
	if strings.Contains(s, "unexpected end of JSON input") || strings.Contains(s, "invalid character") {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			return nil
		}
		if origin == a {
			return nil
		}
		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// deriveOriginPatternsFromAllowedOrigins keeps websocket.Accept's origin check in agreement
// with enforceOrigin: only hosts extracted from the allowlist are accepted.
func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		if strings.TrimSpace(a) == "*" {
			return []string{"*"}
		}
		h := originHostOnly(a)
		if h == "" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
