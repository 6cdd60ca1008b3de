// Package main provides a CI-friendly smoke test for lostfound chat.
//
// It validates:
//   - handshake + subprotocol selection
//   - register on the personal room
//   - unread push for a message outside the open conversation
//   - open conversation (leave-before-join, read-on-fetch)
//   - push into the open conversation, deduplicated by id
//
// The server must run with LOSTFOUND_AUTH_MODE=header.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"lostfound/shared/client"
	v1 "lostfound/shared/contracts/realtime/v1"
)

func main() {
	var (
		baseURL  = flag.String("url", "http://127.0.0.1:8080", "HTTP base URL")
		origin   = flag.String("origin", "http://localhost", "Origin header for the WebSocket handshake")
		sender   = flag.String("sender", "smoke-alice", "sending user id")
		receiver = flag.String("receiver", "smoke-bob", "receiving user id")
		item     = flag.String("item", "smoke-item", "item id the conversation is about")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	wsURL, err := toWSURL(*baseURL)
	if err != nil {
		fatalf("invalid -url: %v", err)
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registered := make(chan struct{}, 1)
	bobHistory := &client.HTTPHistory{BaseURL: *baseURL, UserID: *receiver}
	bob, err := client.NewSession(client.NewView(*receiver),
		client.WSDialer(client.DialConfig{URL: wsURL, Origin: *origin, UserID: *receiver}),
		bobHistory,
		client.SessionConfig{Log: log, OnEnvelope: func(env v1.Envelope) {
			if env.Type == v1.TypeRegistered {
				select {
				case registered <- struct{}{}:
				default:
				}
			}
		}},
	)
	if err != nil {
		fatalf("session: %v", err)
	}
	go func() { _ = bob.Run(ctx) }()

	select {
	case <-registered:
	case <-time.After(*timeout):
		fatalf("receiver never registered")
	}

	alice := &client.HTTPHistory{BaseURL: *baseURL, UserID: *sender}
	view := bob.View()
	before := view.Unread()

	first := mustSend(ctx, alice, client.SendRequest{ReceiverID: *receiver, ItemID: *item, Content: "Is this still available?"}, *timeout)
	waitFor(*timeout, "unread push", func() bool { return view.Unread() > before })

	stepCtx, stepCancel := context.WithTimeout(ctx, *timeout)
	if err := bob.Open(stepCtx, first.ConversationID); err != nil {
		fatalf("open: %v", err)
	}
	stepCancel()
	if !contains(view.Messages(), first.ID) {
		fatalf("opened conversation missing message %s", first.ID)
	}

	second := mustSend(ctx, alice, client.SendRequest{ReceiverID: *receiver, ConversationID: first.ConversationID, Content: "I can meet today"}, *timeout)
	waitFor(*timeout, "push into open conversation", func() bool { return contains(view.Messages(), second.ID) })

	time.Sleep(500 * time.Millisecond)
	seen := 0
	for _, m := range view.Messages() {
		if m.ID == second.ID {
			seen++
		}
	}
	if seen != 1 {
		fatalf("dedupe: message %s present %d times", second.ID, seen)
	}

	fmt.Printf("OK: conversation_id=%s messages=%d unread=%d\n", first.ConversationID, len(view.Messages()), view.Unread())
}

func mustSend(parent context.Context, h *client.HTTPHistory, req client.SendRequest, timeout time.Duration) client.Message {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	m, err := h.SendMessage(ctx, req)
	if err != nil {
		fatalf("send: %v", err)
	}
	return m
}

func waitFor(timeout time.Duration, what string, cond func() bool) {
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			fatalf("timeout waiting for %s", what)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func contains(ms []client.Message, id string) bool {
	for _, m := range ms {
		if m.ID == id {
			return true
		}
	}
	return false
}

func toWSURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", errors.New("missing host")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
