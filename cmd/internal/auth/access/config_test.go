package access

import (
	"strings"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

func clearAccessEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"TRACKER_AUTH_TOKEN_FORMAT",
		"TRACKER_AUTH_ACCESS_TTL",
		"TRACKER_AUTH_CLOCK_SKEW",
		"TRACKER_AUTH_CHECK_SESSION",
		"TRACKER_PASETO_V4_PUBLIC_KEY_HEX",
		"TRACKER_PASETO_V4_SECRET_KEY_HEX",
		"TRACKER_JWT_SECRET",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadConfigFromEnv_MissingPasetoKey(t *testing.T) {
	clearAccessEnv(t)
	_, err := LoadConfigFromEnv()
	if err != ErrConfig {
		t.Fatalf("expected ErrConfig on missing key, got %v", err)
	}
}

func TestLoadConfigFromEnv_PublicKeyOnly(t *testing.T) {
	clearAccessEnv(t)
	secret := paseto.NewV4AsymmetricSecretKey()
	t.Setenv("TRACKER_PASETO_V4_PUBLIC_KEY_HEX", secret.Public().ExportHex())

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Format != FormatPaseto {
		t.Fatalf("format mismatch: %q", cfg.Format)
	}
	if cfg.CheckSession {
		t.Fatalf("session check must default to false")
	}
}

func TestLoadConfigFromEnv_InvalidValues(t *testing.T) {
	secret := paseto.NewV4AsymmetricSecretKey()

	cases := []struct {
		name string
		key  string
		val  string
	}{
		{name: "unknown format", key: "TRACKER_AUTH_TOKEN_FORMAT", val: "saml"},
		{name: "negative ttl", key: "TRACKER_AUTH_ACCESS_TTL", val: "-5m"},
		{name: "bad skew", key: "TRACKER_AUTH_CLOCK_SKEW", val: "soon"},
		{name: "bad bool", key: "TRACKER_AUTH_CHECK_SESSION", val: "maybe"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearAccessEnv(t)
			t.Setenv("TRACKER_PASETO_V4_SECRET_KEY_HEX", secret.ExportHex())
			t.Setenv(tc.key, tc.val)
			if _, err := LoadConfigFromEnv(); err != ErrConfig {
				t.Fatalf("expected ErrConfig, got %v", err)
			}
		})
	}
}

func TestLoadConfigFromEnv_JWTSecretTooShort(t *testing.T) {
	clearAccessEnv(t)
	t.Setenv("TRACKER_AUTH_TOKEN_FORMAT", "jwt")
	t.Setenv("TRACKER_JWT_SECRET", "short")
	if _, err := LoadConfigFromEnv(); err != ErrConfig {
		t.Fatalf("expected ErrConfig for short secret, got %v", err)
	}
}

func TestLoadConfigFromEnv_ValidJWT(t *testing.T) {
	clearAccessEnv(t)
	t.Setenv("TRACKER_AUTH_TOKEN_FORMAT", "JWT")
	t.Setenv("TRACKER_JWT_SECRET", strings.Repeat("k", MinJWTSecretBytes))
	t.Setenv("TRACKER_AUTH_ISSUER", "tracker-test")
	t.Setenv("TRACKER_AUTH_ACCESS_TTL", "10m")
	t.Setenv("TRACKER_AUTH_CLOCK_SKEW", "20s")
	t.Setenv("TRACKER_AUTH_CHECK_SESSION", "true")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Format != FormatJWT {
		t.Fatalf("format mismatch: %q", cfg.Format)
	}
	if cfg.Issuer != "tracker-test" {
		t.Fatalf("issuer mismatch: %q", cfg.Issuer)
	}
	if cfg.AccessTokenTTL != 10*time.Minute {
		t.Fatalf("ttl mismatch: %v", cfg.AccessTokenTTL)
	}
	if cfg.ClockSkew != 20*time.Second {
		t.Fatalf("skew mismatch: %v", cfg.ClockSkew)
	}
	if !cfg.CheckSession {
		t.Fatalf("expected session check enabled")
	}
}
