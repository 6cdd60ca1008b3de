package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"lostfound/cmd/internal/auth"
	"lostfound/cmd/internal/chat"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, cfg Config) *httptest.Server {
	t.Helper()
	store := chat.NewMemoryStore()
	svc, err := chat.NewService(store, store, chat.WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	h, err := NewHandler(discardLogger(), svc, auth.HeaderAuthenticator{}, cfg)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	mux := http.NewServeMux()
	h.Register(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func doRequest(t *testing.T, ts *httptest.Server, method, path, userID string, body any) *http.Response {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(raw)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, method, ts.URL+path, rdr)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if userID != "" {
		req.Header.Set(auth.HeaderUserID, userID)
	}
	if rdr != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func mustStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected status %d, got %d: %s", want, resp.StatusCode, string(b))
	}
}

func mustDecode(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func sendFirstMessage(t *testing.T, ts *httptest.Server) messageResponse {
	t.Helper()
	resp := doRequest(t, ts, http.MethodPost, "/messages", "1", sendMessageRequest{
		ReceiverID: "2",
		ItemID:     "42",
		Content:    "Is this still available?",
	})
	mustStatus(t, resp, http.StatusCreated)
	var out messageResponse
	mustDecode(t, resp, &out)
	return out
}

func unreadCount(t *testing.T, ts *httptest.Server, userID string) int {
	t.Helper()
	resp := doRequest(t, ts, http.MethodGet, "/messages/unread-count", userID, nil)
	mustStatus(t, resp, http.StatusOK)
	var out unreadCountResponse
	mustDecode(t, resp, &out)
	return out.Count
}

func listConversations(t *testing.T, ts *httptest.Server, userID string) listConversationsResponse {
	t.Helper()
	resp := doRequest(t, ts, http.MethodGet, "/conversations", userID, nil)
	mustStatus(t, resp, http.StatusOK)
	var out listConversationsResponse
	mustDecode(t, resp, &out)
	return out
}

func TestHandler_RequiresAuthentication(t *testing.T) {
	ts := newTestServer(t, DefaultConfig())

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/conversations"},
		{http.MethodGet, "/conversations/abc"},
		{http.MethodDelete, "/conversations/abc"},
		{http.MethodPost, "/messages"},
		{http.MethodPut, "/messages/abc/read"},
		{http.MethodGet, "/messages/unread-count"},
	} {
		resp := doRequest(t, ts, tc.method, tc.path, "", nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401, got %d", tc.method, tc.path, resp.StatusCode)
		}
	}
}

func TestHandler_NewConversationFlow(t *testing.T) {
	ts := newTestServer(t, DefaultConfig())

	sent := sendFirstMessage(t, ts)
	if sent.Message.SenderID != "1" || sent.Message.ReceiverID != "2" || sent.Message.Read {
		t.Fatalf("unexpected message: %+v", sent.Message)
	}
	if sent.Message.Seq != 1 {
		t.Fatalf("expected seq 1, got %d", sent.Message.Seq)
	}

	list := listConversations(t, ts, "2")
	if len(list.Conversations) != 1 {
		t.Fatalf("expected 1 conversation for receiver, got %d", len(list.Conversations))
	}
	c := list.Conversations[0]
	if c.ID != sent.Message.ConversationID || c.Item.ID != "42" || c.OtherUser.ID != "1" {
		t.Fatalf("unexpected summary: %+v", c)
	}
	if c.UnreadCount != 1 || c.LastMessage == nil || c.LastMessage.ID != sent.Message.ID {
		t.Fatalf("unexpected summary counters: %+v", c)
	}
	if n := unreadCount(t, ts, "2"); n != 1 {
		t.Fatalf("expected unread 1 for receiver, got %d", n)
	}
	if n := unreadCount(t, ts, "1"); n != 0 {
		t.Fatalf("expected unread 0 for sender, got %d", n)
	}
}

func TestHandler_ReadOnFetch(t *testing.T) {
	ts := newTestServer(t, DefaultConfig())
	sent := sendFirstMessage(t, ts)

	resp := doRequest(t, ts, http.MethodGet, "/conversations/"+sent.Message.ConversationID+"?page=1&limit=20", "2", nil)
	mustStatus(t, resp, http.StatusOK)
	var detail conversationDetailResponse
	mustDecode(t, resp, &detail)

	if len(detail.Messages) != 1 || !detail.Messages[0].Read || detail.Messages[0].ReadAt == nil {
		t.Fatalf("expected the fetched message to be read: %+v", detail.Messages)
	}
	if detail.Pagination.Total != 1 || detail.Pagination.Limit != 20 || detail.Pagination.HasMore {
		t.Fatalf("unexpected pagination: %+v", detail.Pagination)
	}
	if n := unreadCount(t, ts, "2"); n != 0 {
		t.Fatalf("expected unread 0 after fetch, got %d", n)
	}
}

func TestHandler_ForbiddenReadMark(t *testing.T) {
	ts := newTestServer(t, DefaultConfig())
	sent := sendFirstMessage(t, ts)

	resp := doRequest(t, ts, http.MethodPut, "/messages/"+sent.Message.ID+"/read", "1", nil)
	mustStatus(t, resp, http.StatusForbidden)

	resp = doRequest(t, ts, http.MethodPut, "/messages/"+sent.Message.ID+"/read", "2", nil)
	mustStatus(t, resp, http.StatusOK)
	var out messageResponse
	mustDecode(t, resp, &out)
	if !out.Message.Read {
		t.Fatalf("expected message to be read")
	}

	// Second mark is a no-op success.
	resp = doRequest(t, ts, http.MethodPut, "/messages/"+sent.Message.ID+"/read", "2", nil)
	mustStatus(t, resp, http.StatusOK)
}

func TestHandler_SoftDeleteAndResurrection(t *testing.T) {
	ts := newTestServer(t, DefaultConfig())
	sent := sendFirstMessage(t, ts)
	convID := sent.Message.ConversationID

	resp := doRequest(t, ts, http.MethodDelete, "/conversations/"+convID, "2", nil)
	mustStatus(t, resp, http.StatusNoContent)

	if got := listConversations(t, ts, "2"); len(got.Conversations) != 0 {
		t.Fatalf("expected hidden conversation, got %d", len(got.Conversations))
	}
	if got := listConversations(t, ts, "1"); len(got.Conversations) != 1 {
		t.Fatalf("hide must be per-user, got %d for the other participant", len(got.Conversations))
	}

	resp = doRequest(t, ts, http.MethodPost, "/messages", "1", sendMessageRequest{
		ReceiverID:     "2",
		ConversationID: convID,
		Content:        "Still there?",
	})
	mustStatus(t, resp, http.StatusCreated)

	got := listConversations(t, ts, "2")
	if len(got.Conversations) != 1 || got.Conversations[0].ID != convID {
		t.Fatalf("expected conversation to reappear, got %+v", got.Conversations)
	}
}

func TestHandler_ErrorMapping(t *testing.T) {
	ts := newTestServer(t, DefaultConfig())
	sent := sendFirstMessage(t, ts)

	tests := []struct {
		name      string
		method    string
		path      string
		user      string
		body      any
		wantCode  int
		wantError string
		wantField string
	}{
		{"empty content", http.MethodPost, "/messages", "1", sendMessageRequest{ReceiverID: "2", ItemID: "42", Content: "   "}, 400, "validation_failed", "content"},
		{"self message", http.MethodPost, "/messages", "1", sendMessageRequest{ReceiverID: "1", ItemID: "42", Content: "hi"}, 400, "validation_failed", "receiverId"},
		{"unknown field", http.MethodPost, "/messages", "1", `{"receiverId":"2","itemId":"42","content":"hi","extra":1}`, 400, "invalid_json", ""},
		{"trailing data", http.MethodPost, "/messages", "1", `{"receiverId":"2","itemId":"42","content":"hi"} {}`, 400, "invalid_json", ""},
		{"unknown conversation", http.MethodGet, "/conversations/nope", "1", nil, 404, "not_found", ""},
		{"outsider fetch", http.MethodGet, "/conversations/" + sent.Message.ConversationID, "3", nil, 403, "forbidden", ""},
		{"outsider delete", http.MethodDelete, "/conversations/" + sent.Message.ConversationID, "3", nil, 403, "forbidden", ""},
		{"unknown message", http.MethodPut, "/messages/nope/read", "2", nil, 404, "not_found", ""},
		{"bad page", http.MethodGet, "/conversations/" + sent.Message.ConversationID + "?page=zero", "1", nil, 400, "validation_failed", "page"},
		{"bad after_seq", http.MethodGet, "/conversations/" + sent.Message.ConversationID + "?after_seq=-1", "1", nil, 400, "validation_failed", "after_seq"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := doRequest(t, ts, tc.method, tc.path, tc.user, tc.body)
			mustStatus(t, resp, tc.wantCode)
			var out errorResponse
			mustDecode(t, resp, &out)
			if out.Error.Code != tc.wantError {
				t.Fatalf("expected code %q, got %q", tc.wantError, out.Error.Code)
			}
			if out.Error.Field != tc.wantField {
				t.Fatalf("expected field %q, got %q", tc.wantField, out.Error.Field)
			}
		})
	}
}

func TestHandler_AfterSeqReturnsOnlyNewer(t *testing.T) {
	ts := newTestServer(t, DefaultConfig())
	sent := sendFirstMessage(t, ts)
	convID := sent.Message.ConversationID

	for _, content := range []string{"second", "third"} {
		resp := doRequest(t, ts, http.MethodPost, "/messages", "2", sendMessageRequest{
			ReceiverID:     "1",
			ConversationID: convID,
			Content:        content,
		})
		mustStatus(t, resp, http.StatusCreated)
	}

	resp := doRequest(t, ts, http.MethodGet, "/conversations/"+convID+"?after_seq=1", "1", nil)
	mustStatus(t, resp, http.StatusOK)
	var detail conversationDetailResponse
	mustDecode(t, resp, &detail)
	if len(detail.Messages) != 2 || detail.Messages[0].Content != "second" || detail.Messages[1].Content != "third" {
		t.Fatalf("unexpected incremental window: %+v", detail.Messages)
	}
}

func TestHandler_SendRateLimited(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SendRateMax = 1
	ts := newTestServer(t, cfg)

	sendFirstMessage(t, ts)
	resp := doRequest(t, ts, http.MethodPost, "/messages", "1", sendMessageRequest{
		ReceiverID: "2",
		ItemID:     "42",
		Content:    "again",
	})
	mustStatus(t, resp, http.StatusTooManyRequests)
	if resp.Header.Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}

	// Limits are per user.
	resp = doRequest(t, ts, http.MethodPost, "/messages", "2", sendMessageRequest{
		ReceiverID: "1",
		ItemID:     "42",
		Content:    "yes it is",
	})
	mustStatus(t, resp, http.StatusCreated)
}

func TestSendLimiter_Window(t *testing.T) {
	l := newSendLimiter(2, time.Minute)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if ok, _ := l.allow("1", base); !ok {
		t.Fatalf("first send should pass")
	}
	if ok, _ := l.allow("1", base.Add(time.Second)); !ok {
		t.Fatalf("second send should pass")
	}
	ok, retry := l.allow("1", base.Add(2*time.Second))
	if ok {
		t.Fatalf("third send should be limited")
	}
	if retry != 58*time.Second {
		t.Fatalf("expected retry 58s, got %v", retry)
	}
	if ok, _ := l.allow("1", base.Add(61*time.Second)); !ok {
		t.Fatalf("send after window should pass")
	}
}
