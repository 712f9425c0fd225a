package access

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// TokenFormat selects the access token format.
type TokenFormat string

const (
	// FormatPaseto is PASETO v4.public (Ed25519).
	FormatPaseto TokenFormat = "paseto"
	// FormatJWT is JWT signed with HS256.
	FormatJWT TokenFormat = "jwt"
)

// MinJWTSecretBytes is the minimum HS256 secret length.
const MinJWTSecretBytes = 32

// Config defines runtime configuration for token verification.
type Config struct {
	Format TokenFormat

	// Issuer is matched against the "iss" claim. Empty disables the check for JWT.
	Issuer string

	// AccessTokenTTL is only used when issuing (tests, dev tooling).
	AccessTokenTTL time.Duration

	// ClockSkew is tolerated on time-based claims.
	ClockSkew time.Duration

	// PasetoV4PublicKeyHex verifies v4.public tokens.
	PasetoV4PublicKeyHex string
	// PasetoV4SecretKeyHex is optional; when set the public key is derived from it
	// and the manager can also issue tokens.
	PasetoV4SecretKeyHex string

	// JWTSecret is the shared HS256 secret.
	JWTSecret string

	// CheckSession enables the server-authoritative session lookup (requires a database).
	CheckSession bool
}

// DefaultConfig returns a development-friendly configuration without keys.
func DefaultConfig() Config {
	return Config{
		Format:         FormatPaseto,
		Issuer:         "studytracker",
		AccessTokenTTL: 15 * time.Minute,
		ClockSkew:      30 * time.Second,
	}
}

// LoadConfigFromEnv loads access configuration from environment variables.
//
// Optional:
//   - TRACKER_AUTH_TOKEN_FORMAT (paseto|jwt)
//   - TRACKER_AUTH_ISSUER
//   - TRACKER_AUTH_ACCESS_TTL
//   - TRACKER_AUTH_CLOCK_SKEW
//   - TRACKER_AUTH_CHECK_SESSION
//
// Keys (one is required for the selected format):
//   - TRACKER_PASETO_V4_PUBLIC_KEY_HEX or TRACKER_PASETO_V4_SECRET_KEY_HEX
//   - TRACKER_JWT_SECRET (>= 32 bytes)
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("TRACKER_AUTH_TOKEN_FORMAT")); v != "" {
		switch TokenFormat(strings.ToLower(v)) {
		case FormatPaseto:
			cfg.Format = FormatPaseto
		case FormatJWT:
			cfg.Format = FormatJWT
		default:
			return Config{}, ErrConfig
		}
	}

	if v, ok := os.LookupEnv("TRACKER_AUTH_ISSUER"); ok {
		cfg.Issuer = strings.TrimSpace(v)
	}

	if v := os.Getenv("TRACKER_AUTH_ACCESS_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.AccessTokenTTL = d
	}

	if v := os.Getenv("TRACKER_AUTH_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	if v := os.Getenv("TRACKER_AUTH_CHECK_SESSION"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, ErrConfig
		}
		cfg.CheckSession = b
	}

	cfg.PasetoV4PublicKeyHex = strings.TrimSpace(os.Getenv("TRACKER_PASETO_V4_PUBLIC_KEY_HEX"))
	cfg.PasetoV4SecretKeyHex = strings.TrimSpace(os.Getenv("TRACKER_PASETO_V4_SECRET_KEY_HEX"))
	cfg.JWTSecret = strings.TrimSpace(os.Getenv("TRACKER_JWT_SECRET"))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the selected format has usable key material.
func (c Config) Validate() error {
	switch c.Format {
	case FormatPaseto:
		if c.PasetoV4PublicKeyHex == "" && c.PasetoV4SecretKeyHex == "" {
			return ErrConfig
		}
	case FormatJWT:
		// Measured in bytes: the secret is used as raw key material.
		if len(c.JWTSecret) < MinJWTSecretBytes {
			return ErrConfig
		}
	default:
		return ErrConfig
	}
	return nil
}
