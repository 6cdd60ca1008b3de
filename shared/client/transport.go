package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	v1 "lostfound/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const maxFrameBytes = 1 << 20

// Transport carries envelopes between a Session and the server.
type Transport interface {
	Send(ctx context.Context, env v1.Envelope) error
	Recv(ctx context.Context) (v1.Envelope, error)
	Close() error
}

// Dialer opens a new Transport. Session calls it again after every disconnect.
type Dialer func(ctx context.Context) (Transport, error)

// DialConfig configures WebSocket dialing.
type DialConfig struct {
	URL    string
	Origin string
	// Token is sent as a bearer token when set.
	Token string
	// UserID is sent as X-User-ID when set (header auth mode).
	UserID string
	HTTP   *http.Client
}

// WSTransport is a Transport over a coder/websocket connection.
type WSTransport struct {
	conn *websocket.Conn
}

// DialWS connects to the push channel and checks the negotiated subprotocol.
func DialWS(ctx context.Context, cfg DialConfig) (*WSTransport, error) {
	h := http.Header{}
	if strings.TrimSpace(cfg.Origin) != "" {
		h.Set("Origin", cfg.Origin)
	}
	if cfg.Token != "" {
		h.Set("Authorization", "Bearer "+cfg.Token)
	}
	if cfg.UserID != "" {
		h.Set(HeaderUserID, cfg.UserID)
	}

	conn, resp, err := websocket.Dial(ctx, cfg.URL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
		HTTPClient:   cfg.HTTP,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}
	if got := conn.Subprotocol(); got != v1.Subprotocol {
		_ = conn.Close(websocket.StatusProtocolError, "unsupported subprotocol")
		return nil, fmt.Errorf("subprotocol mismatch: got=%q want=%q", got, v1.Subprotocol)
	}
	conn.SetReadLimit(maxFrameBytes)
	return &WSTransport{conn: conn}, nil
}

// WSDialer returns a Dialer bound to cfg.
func WSDialer(cfg DialConfig) Dialer {
	return func(ctx context.Context) (Transport, error) {
		return DialWS(ctx, cfg)
	}
}

func (t *WSTransport) Send(ctx context.Context, env v1.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return t.conn.Write(ctx, websocket.MessageText, b)
}

func (t *WSTransport) Recv(ctx context.Context) (v1.Envelope, error) {
	mt, data, err := t.conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText {
		return v1.Envelope{}, errors.New("unexpected binary frame")
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, fmt.Errorf("bad json: %w", err)
	}
	if err := env.Validate(); err != nil {
		return v1.Envelope{}, fmt.Errorf("bad envelope: %w", err)
	}
	return env, nil
}

func (t *WSTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "bye")
}
