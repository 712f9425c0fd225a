package app

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"studytracker/cmd/internal/auth/access"
)

// ValidateSecurityConfig enforces the startup security policy. It fails fast rather
// than letting the relay accept connections it cannot authenticate.
func ValidateSecurityConfig(cfg Config) error {
	if err := cfg.Auth.Validate(); err != nil {
		switch cfg.Auth.Format {
		case access.FormatJWT:
			return fmt.Errorf("security policy: TRACKER_JWT_SECRET must be at least %d bytes: %w", access.MinJWTSecretBytes, err)
		case access.FormatPaseto:
			return fmt.Errorf("security policy: TRACKER_PASETO_V4_PUBLIC_KEY_HEX or TRACKER_PASETO_V4_SECRET_KEY_HEX is required: %w", err)
		default:
			return fmt.Errorf("security policy: unsupported token format %q: %w", cfg.Auth.Format, err)
		}
	}

	if cfg.Auth.CheckSession && strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("security policy: TRACKER_AUTH_CHECK_SESSION=true requires TRACKER_DATABASE_URL")
	}

	if !cfg.IsProduction() {
		return nil
	}
	if cfg.Gateway.DevInsecure {
		return errors.New("security policy: TRACKER_WS_DEV_INSECURE is not allowed in production")
	}
	if slices.Contains(cfg.Gateway.AllowedOrigins, "*") {
		return errors.New("security policy: wildcard TRACKER_WS_ALLOWED_ORIGINS is not allowed in production")
	}
	return nil
}
