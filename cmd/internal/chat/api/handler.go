// Package chatapi is the HTTP surface of the history service.
package chatapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"lostfound/cmd/internal/auth"
	"lostfound/cmd/internal/chat"
)

// History is the part of chat.Service the HTTP API drives.
type History interface {
	ListConversations(ctx context.Context, userID string) ([]chat.ConversationSummary, error)
	GetConversation(ctx context.Context, conversationID, userID string, page chat.Page) (chat.ConversationDetail, error)
	SendMessage(ctx context.Context, in chat.SendInput) (chat.Message, error)
	MarkAsRead(ctx context.Context, messageID, userID string) (chat.Message, error)
	DeleteConversation(ctx context.Context, conversationID, userID string) error
	UnreadCount(ctx context.Context, userID string) (int, error)
}

var _ History = (*chat.Service)(nil)

// Handler wires HTTP chat endpoints to the history service.
type Handler struct {
	log     *slog.Logger
	cfg     Config
	history History
	authn   auth.Authenticator
	limiter *sendLimiter
	now     func() time.Time
}

// NewHandler constructs a chat Handler.
func NewHandler(log *slog.Logger, history History, authn auth.Authenticator, cfg Config) (*Handler, error) {
	if history == nil {
		return nil, errors.New("chatapi: nil history service")
	}
	if authn == nil {
		return nil, errors.New("chatapi: nil authenticator")
	}
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Handler{
		log:     log,
		cfg:     cfg,
		history: history,
		authn:   authn,
		limiter: newSendLimiter(cfg.SendRateMax, cfg.SendRateWindow),
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Register wires chat routes onto the provided mux. Every route requires authentication.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.Handle("GET /conversations", h.authed(h.handleListConversations))
	mux.Handle("GET /conversations/{id}", h.authed(h.handleGetConversation))
	mux.Handle("DELETE /conversations/{id}", h.authed(h.handleDeleteConversation))
	mux.Handle("POST /messages", h.authed(h.handleSendMessage))
	mux.Handle("PUT /messages/{id}/read", h.authed(h.handleMarkAsRead))
	mux.Handle("GET /messages/unread-count", h.authed(h.handleUnreadCount))
}

func (h *Handler) authed(fn http.HandlerFunc) http.Handler {
	return auth.Require(h.authn, h.unauthorized, fn)
}

func (h *Handler) unauthorized(w http.ResponseWriter, r *http.Request, err error) {
	h.log.Info("chatapi.auth.reject", "path", r.URL.Path, "err", err)
	writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
}

// ---- handlers ----

func (h *Handler) handleListConversations(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFrom(r.Context())

	list, err := h.history.ListConversations(r.Context(), uid)
	if err != nil {
		writeChatError(w, h.log, "list_conversations", err)
		return
	}
	out := listConversationsResponse{Conversations: make([]conversationSummaryResponse, 0, len(list))}
	for _, s := range list {
		out.Conversations = append(out.Conversations, toSummaryResponse(s))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFrom(r.Context())

	page, err := parsePage(r)
	if err != nil {
		writeChatError(w, h.log, "get_conversation", err)
		return
	}
	detail, err := h.history.GetConversation(r.Context(), r.PathValue("id"), uid, page)
	if err != nil {
		writeChatError(w, h.log, "get_conversation", err)
		return
	}
	writeJSON(w, http.StatusOK, toDetailResponse(detail))
}

func (h *Handler) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFrom(r.Context())

	if err := h.history.DeleteConversation(r.Context(), r.PathValue("id"), uid); err != nil {
		writeChatError(w, h.log, "delete_conversation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFrom(r.Context())

	var req sendMessageRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}

	if ok, retry := h.limiter.allow(uid, h.now()); !ok {
		h.log.Info("chatapi.send.rate_limited", "user_id", uid)
		writeRateLimited(w, retry)
		return
	}

	msg, err := h.history.SendMessage(r.Context(), chat.SendInput{
		SenderID:       uid,
		ReceiverID:     req.ReceiverID,
		ItemID:         req.ItemID,
		ConversationID: req.ConversationID,
		Content:        req.Content,
	})
	if err != nil {
		writeChatError(w, h.log, "send_message", err)
		return
	}
	writeJSON(w, http.StatusCreated, messageResponse{Message: msg.Wire()})
}

func (h *Handler) handleMarkAsRead(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFrom(r.Context())

	msg, err := h.history.MarkAsRead(r.Context(), r.PathValue("id"), uid)
	if err != nil {
		writeChatError(w, h.log, "mark_as_read", err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msg.Wire()})
}

func (h *Handler) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFrom(r.Context())

	n, err := h.history.UnreadCount(r.Context(), uid)
	if err != nil {
		writeChatError(w, h.log, "unread_count", err)
		return
	}
	writeJSON(w, http.StatusOK, unreadCountResponse{Count: n})
}

// parsePage reads page, limit and after_seq. Missing values fall back to the service defaults.
func parsePage(r *http.Request) (chat.Page, error) {
	q := r.URL.Query()
	var p chat.Page

	if v := strings.TrimSpace(q.Get("page")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return chat.Page{}, chat.ValidationError{Field: "page", Reason: "must be a positive integer"}
		}
		p.Page = n
	}
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return chat.Page{}, chat.ValidationError{Field: "limit", Reason: "must be a positive integer"}
		}
		p.Limit = n
	}
	if v := strings.TrimSpace(q.Get("after_seq")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return chat.Page{}, chat.ValidationError{Field: "after_seq", Reason: "must be a non-negative integer"}
		}
		p.AfterSeq = &n
	}
	return p, nil
}
