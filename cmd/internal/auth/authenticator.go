package auth

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// HeaderUserID is the header trusted in ModeHeader.
const HeaderUserID = "X-User-ID"

// Authenticator resolves the authenticated user id of a request.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// TokenAuthenticator authenticates bearer tokens with a TokenManager.
type TokenAuthenticator struct {
	Tokens *TokenManager
	Now    func() time.Time
}

func (a TokenAuthenticator) Authenticate(r *http.Request) (string, error) {
	tok := bearerToken(r)
	if tok == "" {
		return "", ErrUnauthenticated
	}
	now := time.Now().UTC()
	if a.Now != nil {
		now = a.Now()
	}
	claims, err := a.Tokens.Verify(tok, now)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}

// HeaderAuthenticator trusts X-User-ID (or ?user_id= for websocket handshakes from browsers).
type HeaderAuthenticator struct{}

func (HeaderAuthenticator) Authenticate(r *http.Request) (string, error) {
	uid := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if uid == "" {
		uid = strings.TrimSpace(r.URL.Query().Get("user_id"))
	}
	if uid == "" {
		return "", ErrUnauthenticated
	}
	return uid, nil
}

// New builds the Authenticator selected by cfg.Mode.
func New(cfg Config) (Authenticator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Mode == ModeHeader {
		return HeaderAuthenticator{}, nil
	}
	tm, err := NewTokenManager(cfg)
	if err != nil {
		return nil, err
	}
	return TokenAuthenticator{Tokens: tm}, nil
}

// bearerToken reads "Authorization: Bearer <t>", falling back to ?access_token= because
// browsers cannot set headers on websocket handshakes.
func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

type ctxKey struct{}

// WithUserID returns a context carrying the authenticated user id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// UserIDFrom returns the authenticated user id stored by Require.
func UserIDFrom(ctx context.Context) (string, bool) {
	uid, ok := ctx.Value(ctxKey{}).(string)
	return uid, ok && uid != ""
}

// Require rejects unauthenticated requests via onFail and stores the user id in the request context.
func Require(a Authenticator, onFail func(http.ResponseWriter, *http.Request, error), next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid, err := a.Authenticate(r)
		if err != nil {
			onFail(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), uid)))
	})
}
