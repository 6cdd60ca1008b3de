package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func mustTokenManager(t *testing.T) (*TokenManager, string) {
	t.Helper()
	secretHex, publicHex := GenerateKeyHex()
	cfg := DefaultConfig()
	cfg.PasetoV4SecretKeyHex = secretHex
	tm, err := NewTokenManager(cfg)
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}
	if tm.PublicKeyHex() != publicHex {
		t.Fatalf("public key mismatch")
	}
	return tm, publicHex
}

func TestTokenManager_IssueVerify(t *testing.T) {
	tm, publicHex := mustTokenManager(t)
	now := time.Now().UTC()

	tok, exp, err := tm.Issue("user-1", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !exp.After(now) {
		t.Fatalf("exp=%v not after now", exp)
	}

	claims, err := tm.Verify(tok, now)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != "user-1" || claims.Issuer != "lostfound" {
		t.Fatalf("claims=%+v", claims)
	}

	// A verify-only manager accepts the same token but cannot issue.
	cfg := DefaultConfig()
	cfg.PasetoV4PublicKeyHex = publicHex
	verifier, err := NewTokenManager(cfg)
	if err != nil {
		t.Fatalf("NewTokenManager verify-only: %v", err)
	}
	if _, err := verifier.Verify(tok, now); err != nil {
		t.Fatalf("verify-only Verify: %v", err)
	}
	if _, _, err := verifier.Issue("user-1", now); !errors.Is(err, ErrConfig) {
		t.Fatalf("verify-only Issue err=%v want ErrConfig", err)
	}

	if _, err := tm.Verify(tok, now.Add(time.Hour)); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token err=%v", err)
	}
	if _, err := tm.Verify(tok+"x", now); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("tampered token err=%v", err)
	}
}

func TestTokenManager_RejectsOtherIssuer(t *testing.T) {
	secretHex, _ := GenerateKeyHex()
	cfg := DefaultConfig()
	cfg.PasetoV4SecretKeyHex = secretHex
	cfg.Issuer = "someone-else"
	other, err := NewTokenManager(cfg)
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}
	tok, _, _ := other.Issue("u", time.Now().UTC())

	cfg.Issuer = "lostfound"
	tm, _ := NewTokenManager(cfg)
	if _, err := tm.Verify(tok, time.Now().UTC()); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err=%v want ErrInvalidToken", err)
	}
}

func TestTokenAuthenticator(t *testing.T) {
	tm, _ := mustTokenManager(t)
	a := TokenAuthenticator{Tokens: tm}
	tok, _, _ := tm.Issue("42", time.Now().UTC())

	r := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	if _, err := a.Authenticate(r); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("missing token err=%v", err)
	}

	r.Header.Set("Authorization", "Bearer "+tok)
	if uid, err := a.Authenticate(r); err != nil || uid != "42" {
		t.Fatalf("header token uid=%q err=%v", uid, err)
	}

	ws := httptest.NewRequest(http.MethodGet, "/ws?access_token="+tok, nil)
	if uid, err := a.Authenticate(ws); err != nil || uid != "42" {
		t.Fatalf("query token uid=%q err=%v", uid, err)
	}

	bad := httptest.NewRequest(http.MethodGet, "/", nil)
	bad.Header.Set("Authorization", "Basic abc")
	if _, err := a.Authenticate(bad); err == nil {
		t.Fatalf("expected error for non-bearer scheme")
	}
}

func TestRequire(t *testing.T) {
	var got string
	h := Require(HeaderAuthenticator{}, func(w http.ResponseWriter, _ *http.Request, _ error) {
		w.WriteHeader(http.StatusUnauthorized)
	}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = UserIDFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d want 401", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderUserID, "7")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent || got != "7" {
		t.Fatalf("status=%d uid=%q", rr.Code, got)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); !errors.Is(err, ErrConfig) {
		t.Fatalf("paseto without keys err=%v", err)
	}
	cfg.Mode = ModeHeader
	if err := cfg.Validate(); err != nil {
		t.Fatalf("header mode: %v", err)
	}
	cfg.Mode = "magic"
	if err := cfg.Validate(); !errors.Is(err, ErrConfig) {
		t.Fatalf("unknown mode err=%v", err)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	secretHex, _ := GenerateKeyHex()
	t.Setenv("LOSTFOUND_AUTH_MODE", "paseto")
	t.Setenv("LOSTFOUND_PASETO_V4_SECRET_KEY_HEX", secretHex)
	t.Setenv("LOSTFOUND_AUTH_ACCESS_TTL", "5m")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.AccessTokenTTL != 5*time.Minute || cfg.PasetoV4SecretKeyHex != secretHex {
		t.Fatalf("cfg=%+v", cfg)
	}

	t.Setenv("LOSTFOUND_AUTH_ACCESS_TTL", "nope")
	if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
		t.Fatalf("bad ttl err=%v", err)
	}
}
