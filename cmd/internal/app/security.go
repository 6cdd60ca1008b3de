package app

import (
	"errors"

	"lostfound/cmd/internal/auth"
)

// ValidateSecurityConfig enforces the startup security policy.
//
// Fail-fast: a process that would trust client-supplied identities refuses to start
// unless that was asked for explicitly.
func ValidateSecurityConfig(cfg Config) error {
	if cfg.Auth.Mode == auth.ModeHeader && !cfg.AllowHeaderAuth {
		return errors.New("security policy: LOSTFOUND_AUTH_MODE=header requires LOSTFOUND_ALLOW_HEADER_AUTH=true")
	}
	if cfg.WS.DevInsecure && !cfg.AllowHeaderAuth {
		return errors.New("security policy: LOSTFOUND_WS_DEV_INSECURE=true is only allowed in development (LOSTFOUND_ALLOW_HEADER_AUTH=true)")
	}
	if cfg.CORSAllowCredentials {
		for _, o := range cfg.CORSAllowedOrigins {
			if o == "*" {
				return errors.New("security policy: CORS credentials cannot be combined with a wildcard origin")
			}
		}
	}
	return nil
}
