package app

import (
	"strings"
	"testing"
	"time"

	"studytracker/cmd/internal/auth/access"
	"studytracker/cmd/internal/backplane"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("TRACKER_TEST_STR", "  value  ")
	t.Setenv("TRACKER_TEST_BLANK", "   ")
	t.Setenv("TRACKER_TEST_BOOL", "true")
	t.Setenv("TRACKER_TEST_BOOL_BAD", "maybe")
	t.Setenv("TRACKER_TEST_INT", "42")
	t.Setenv("TRACKER_TEST_INT_NEG", "-1")
	t.Setenv("TRACKER_TEST_INT32_BIG", "99999999999")
	t.Setenv("TRACKER_TEST_DUR", "3s")
	t.Setenv("TRACKER_TEST_DUR_ZERO", "0s")

	if got := EnvString("TRACKER_TEST_STR", "def"); got != "value" {
		t.Fatalf("EnvString=%q", got)
	}
	if got := EnvString("TRACKER_TEST_BLANK", "def"); got != "def" {
		t.Fatalf("EnvString blank=%q", got)
	}
	if !EnvBool("TRACKER_TEST_BOOL", false) || !EnvBool("TRACKER_TEST_BOOL_BAD", true) {
		t.Fatalf("EnvBool mismatch")
	}
	if got := EnvInt("TRACKER_TEST_INT", 1); got != 42 {
		t.Fatalf("EnvInt=%d", got)
	}
	if got := EnvInt("TRACKER_TEST_INT_NEG", 7); got != 7 {
		t.Fatalf("EnvInt negative=%d", got)
	}
	if got := EnvInt32("TRACKER_TEST_INT32_BIG", 5); got != 5 {
		t.Fatalf("EnvInt32 overflow=%d", got)
	}
	if got := EnvDuration("TRACKER_TEST_DUR", time.Second); got != 3*time.Second {
		t.Fatalf("EnvDuration=%v", got)
	}
	if got := EnvDuration("TRACKER_TEST_DUR_ZERO", time.Second); got != time.Second {
		t.Fatalf("EnvDuration zero=%v", got)
	}
}

func setAuthEnv(t *testing.T) {
	t.Helper()
	t.Setenv("TRACKER_AUTH_TOKEN_FORMAT", "jwt")
	t.Setenv("TRACKER_JWT_SECRET", strings.Repeat("s", access.MinJWTSecretBytes))
	t.Setenv("TRACKER_PASETO_V4_PUBLIC_KEY_HEX", "")
	t.Setenv("TRACKER_PASETO_V4_SECRET_KEY_HEX", "")
	t.Setenv("TRACKER_AUTH_CHECK_SESSION", "")
}

func TestLoadConfig(t *testing.T) {
	setAuthEnv(t)
	t.Setenv("TRACKER_ENV", "production")
	t.Setenv("TRACKER_HTTP_ADDR", "127.0.0.1:9000")
	t.Setenv("TRACKER_LOG_FORMAT", "pretty")
	t.Setenv("TRACKER_DB_MAX_CONNS", "not-a-number")
	t.Setenv("TRACKER_BACKPLANE", "nats")
	t.Setenv("TRACKER_NATS_EMBEDDED", "true")
	t.Setenv("TRACKER_NATS_SUBJECT", "tracker.test")
	t.Setenv("TRACKER_REDIS_DB", "3")
	t.Setenv("TRACKER_INSTANCE_ID", "node-a")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if !cfg.IsProduction() {
		t.Fatalf("expected production")
	}
	if cfg.HTTPAddr != "127.0.0.1:9000" || cfg.LogFormat != "pretty" {
		t.Fatalf("server config mismatch: %+v", cfg)
	}
	if cfg.DBMaxConns != 10 || cfg.DBSchema != "tracker" {
		t.Fatalf("db defaults mismatch: max=%d schema=%q", cfg.DBMaxConns, cfg.DBSchema)
	}
	if cfg.Auth.Format != access.FormatJWT {
		t.Fatalf("auth format=%q", cfg.Auth.Format)
	}
	if cfg.Backplane.Kind != backplane.KindNATS || !cfg.Backplane.NATSEmbedded || cfg.Backplane.NATS.Subject != "tracker.test" {
		t.Fatalf("backplane config mismatch: %+v", cfg.Backplane)
	}
	if cfg.Backplane.Redis.DB != 3 || cfg.Backplane.Redis.Channel != backplane.DefaultRedisChannel {
		t.Fatalf("redis config mismatch: %+v", cfg.Backplane.Redis)
	}
	if cfg.InstanceID != "node-a" {
		t.Fatalf("instance id=%q", cfg.InstanceID)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Run("unknown backplane", func(t *testing.T) {
		setAuthEnv(t)
		t.Setenv("TRACKER_BACKPLANE", "kafka")
		if _, err := LoadConfig(); err == nil {
			t.Fatalf("expected error for unknown backplane")
		}
	})

	t.Run("missing key", func(t *testing.T) {
		setAuthEnv(t)
		t.Setenv("TRACKER_JWT_SECRET", "")
		t.Setenv("TRACKER_BACKPLANE", "")
		if _, err := LoadConfig(); err == nil || !strings.Contains(err.Error(), "auth config") {
			t.Fatalf("expected auth config error, got %v", err)
		}
	})
}
