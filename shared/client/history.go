package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HeaderUserID is read by servers running in header auth mode.
const HeaderUserID = "X-User-ID"

// ItemRef is the listing a conversation is about.
type ItemRef struct {
	ID       string `json:"id"`
	Title    string `json:"title,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`
	Status   string `json:"status,omitempty"`
}

// UserRef is a participant profile.
type UserRef struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// Conversation is a two-party thread about one item.
type Conversation struct {
	ID            string     `json:"id"`
	Item          ItemRef    `json:"item"`
	Participants  []string   `json:"participants"`
	OtherUser     UserRef    `json:"otherUser"`
	LastMessageAt *time.Time `json:"lastMessageAt"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// ConversationSummary is one row of the conversation list.
type ConversationSummary struct {
	Conversation
	LastMessage *Message `json:"lastMessage"`
	UnreadCount int      `json:"unreadCount"`
}

// PageMeta describes a returned message window.
type PageMeta struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	HasMore bool `json:"hasMore"`
}

// ConversationDetail is a conversation with one window of its messages, oldest first.
type ConversationDetail struct {
	Conversation Conversation `json:"conversation"`
	Messages     []Message    `json:"messages"`
	Pagination   PageMeta     `json:"pagination"`
}

// PageQuery selects a message window. AfterSeq > 0 switches to incremental mode.
type PageQuery struct {
	Page     int
	Limit    int
	AfterSeq int64
}

// SendRequest is the body of POST /messages.
type SendRequest struct {
	ReceiverID     string `json:"receiverId"`
	ItemID         string `json:"itemId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	Content        string `json:"content"`
}

// APIError is a non-2xx response of the chat API.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (e *APIError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("chat api: %d %s: %s (field %s)", e.Status, e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("chat api: %d %s: %s", e.Status, e.Code, e.Message)
}

// HTTPHistory calls the chat HTTP API on behalf of one user.
type HTTPHistory struct {
	BaseURL string
	// Token is sent as a bearer token when set.
	Token string
	// UserID is sent as X-User-ID when set (header auth mode).
	UserID string
	HTTP   *http.Client
}

// ListConversations returns the caller's visible conversations, most recent first.
func (h *HTTPHistory) ListConversations(ctx context.Context) ([]ConversationSummary, error) {
	var out struct {
		Conversations []ConversationSummary `json:"conversations"`
	}
	if err := h.do(ctx, http.MethodGet, "/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

// GetConversation fetches one message window. The server marks the caller's unread messages read.
func (h *HTTPHistory) GetConversation(ctx context.Context, convID string, q PageQuery) (ConversationDetail, error) {
	v := url.Values{}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.AfterSeq > 0 {
		v.Set("after_seq", strconv.FormatInt(q.AfterSeq, 10))
	}
	path := "/conversations/" + url.PathEscape(convID)
	if len(v) > 0 {
		path += "?" + v.Encode()
	}

	var out ConversationDetail
	if err := h.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return ConversationDetail{}, err
	}
	return out, nil
}

// SendMessage posts a message and returns the persisted copy.
func (h *HTTPHistory) SendMessage(ctx context.Context, req SendRequest) (Message, error) {
	var out struct {
		Message Message `json:"message"`
	}
	if err := h.do(ctx, http.MethodPost, "/messages", req, &out); err != nil {
		return Message{}, err
	}
	return out.Message, nil
}

// MarkAsRead marks one message read. Only the receiver may do so.
func (h *HTTPHistory) MarkAsRead(ctx context.Context, msgID string) (Message, error) {
	var out struct {
		Message Message `json:"message"`
	}
	if err := h.do(ctx, http.MethodPut, "/messages/"+url.PathEscape(msgID)+"/read", nil, &out); err != nil {
		return Message{}, err
	}
	return out.Message, nil
}

// UnreadCount returns the caller's unread messages across all conversations.
func (h *HTTPHistory) UnreadCount(ctx context.Context) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := h.do(ctx, http.MethodGet, "/messages/unread-count", nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// DeleteConversation hides a conversation for the caller only.
func (h *HTTPHistory) DeleteConversation(ctx context.Context, convID string) error {
	return h.do(ctx, http.MethodDelete, "/conversations/"+url.PathEscape(convID), nil, nil)
}

func (h *HTTPHistory) do(ctx context.Context, method, path string, body, dst any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(h.BaseURL, "/")+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if h.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.Token)
	}
	if h.UserID != "" {
		req.Header.Set(HeaderUserID, h.UserID)
	}

	hc := h.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	res, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		return decodeAPIError(res)
	}
	if dst == nil || res.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeAPIError(res *http.Response) error {
	apiErr := &APIError{Status: res.StatusCode}
	var env struct {
		Error *APIError `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err := json.Unmarshal(raw, &env); err == nil && env.Error != nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Field = env.Error.Field
	} else {
		apiErr.Code = "http_error"
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return apiErr
}

// IsStatus reports whether err is an APIError with the given HTTP status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}
