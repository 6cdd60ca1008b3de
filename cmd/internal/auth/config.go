package auth

import (
	"os"
	"strings"
	"time"
)

const (
	// ModePaseto verifies PASETO v4.public bearer tokens.
	ModePaseto = "paseto"
	// ModeHeader trusts the X-User-ID header. Development only.
	ModeHeader = "header"
)

// Config defines runtime configuration for request authentication.
type Config struct {
	Mode string

	// Issuer is the expected "iss" claim.
	Issuer string

	// AccessTokenTTL is used when this process issues tokens (dev tooling).
	AccessTokenTTL time.Duration

	// ClockSkew is the allowed time skew during token validation.
	ClockSkew time.Duration

	// Exactly one of the keys is needed to verify; the secret key also allows issuing.
	PasetoV4SecretKeyHex string
	PasetoV4PublicKeyHex string
}

// DefaultConfig returns a configuration suitable for development.
func DefaultConfig() Config {
	return Config{
		Mode:           ModePaseto,
		Issuer:         "lostfound",
		AccessTokenTTL: 15 * time.Minute,
		ClockSkew:      30 * time.Second,
	}
}

// LoadConfigFromEnv loads auth configuration from environment variables.
//
// Optional:
//   - LOSTFOUND_AUTH_MODE (paseto|header)
//   - LOSTFOUND_AUTH_ISSUER
//   - LOSTFOUND_AUTH_ACCESS_TTL
//   - LOSTFOUND_AUTH_CLOCK_SKEW
//   - LOSTFOUND_PASETO_V4_SECRET_KEY_HEX
//   - LOSTFOUND_PASETO_V4_PUBLIC_KEY_HEX
//
// In paseto mode one of the two keys is required. Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.ToLower(strings.TrimSpace(os.Getenv("LOSTFOUND_AUTH_MODE"))); v != "" {
		cfg.Mode = v
	}
	if v := strings.TrimSpace(os.Getenv("LOSTFOUND_AUTH_ISSUER")); v != "" {
		cfg.Issuer = v
	}
	if v := os.Getenv("LOSTFOUND_AUTH_ACCESS_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.AccessTokenTTL = d
	}
	if v := os.Getenv("LOSTFOUND_AUTH_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}
	cfg.PasetoV4SecretKeyHex = strings.TrimSpace(os.Getenv("LOSTFOUND_PASETO_V4_SECRET_KEY_HEX"))
	cfg.PasetoV4PublicKeyHex = strings.TrimSpace(os.Getenv("LOSTFOUND_PASETO_V4_PUBLIC_KEY_HEX"))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks mode and key presence.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeHeader:
		return nil
	case ModePaseto:
		if c.PasetoV4SecretKeyHex == "" && c.PasetoV4PublicKeyHex == "" {
			return ErrConfig
		}
		if c.Issuer == "" || c.AccessTokenTTL <= 0 {
			return ErrConfig
		}
		return nil
	default:
		return ErrConfig
	}
}
