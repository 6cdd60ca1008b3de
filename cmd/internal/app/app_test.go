package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"lostfound/cmd/internal/auth"
	chatapi "lostfound/cmd/internal/chat/api"
	"lostfound/cmd/internal/notify"
	"lostfound/cmd/internal/realtime"
)

func TestRuntimeBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "explicit localhost", in: "127.0.0.1:8080", want: "http://127.0.0.1:8080"},
		{name: "bind all v4", in: "0.0.0.0:8080", want: "http://127.0.0.1:8080"},
		{name: "bind all v6", in: "[::]:9090", want: "http://127.0.0.1:9090"},
		{name: "ipv6 host", in: "[2001:db8::1]:9090", want: "http://[2001:db8::1]:9090"},
		{name: "port only", in: ":8080", want: "http://127.0.0.1:8080"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := runtimeBaseURL(tc.in)
			if got != tc.want {
				t.Fatalf("runtimeBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
			}
		})
	}
}

func TestWSBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "http://127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
		{in: "https://lostfound.example.com", want: "wss://lostfound.example.com"},
		{in: "127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
	}

	for _, tc := range cases {
		got := wsBaseURL(tc.in)
		if got != tc.want {
			t.Fatalf("wsBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func newTestApp(t *testing.T) *App {
	t.Helper()

	cfg := Config{
		HTTPAddr:        "127.0.0.1:0",
		LogLevel:        "error",
		AllowHeaderAuth: true,
		Auth:            auth.Config{Mode: auth.ModeHeader},
		WS:              realtime.DefaultGatewayConfig(),
		API:             chatapi.DefaultConfig(),
		Notify:          notify.Config{Mode: notify.ModeOff},
	}
	cfg.WS.DevInsecure = true

	a, err := New(context.Background(), cfg, newLoggerTo(io.Discard, "error", "json", false))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestApp_HealthAndReady(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(newTestApp(t).Handler())
	defer srv.Close()

	for _, path := range []string{"/healthz", "/readyz"} {
		res, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		_ = res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status=%d want=200", path, res.StatusCode)
		}
		if res.Header.Get(HeaderRequestID) == "" {
			t.Fatalf("GET %s missing %s", path, HeaderRequestID)
		}
	}
}

func TestApp_ReadyRequiresDB(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	a.cfg.ReadinessRequireDB = true

	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d want=503", rr.Code)
	}
}

func TestApp_ChatRoutesWired(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(newTestApp(t).Handler())
	defer srv.Close()

	body := `{"receiverId":"bob","itemId":"item-1","content":"found your keys"}`
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/messages", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(auth.HeaderUserID, "alice")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /messages: %v", err)
	}
	_ = res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("POST /messages status=%d want=201", res.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/messages/unread-count", nil)
	req.Header.Set(auth.HeaderUserID, "bob")
	res, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET unread-count: %v", err)
	}
	defer res.Body.Close()

	var out struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Count != 1 {
		t.Fatalf("unread count=%d want=1", out.Count)
	}
}

func TestApp_UnauthenticatedRejected(t *testing.T) {
	t.Parallel()

	rr := httptest.NewRecorder()
	newTestApp(t).Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/conversations", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d want=401", rr.Code)
	}
}
