package relay

import (
	"net/http/httptest"
	"reflect"
	"testing"
	"time"
)

func TestLoadGatewayConfigFromEnv(t *testing.T) {
	t.Setenv("TRACKER_WS_ORIGIN_REQUIRED", "false")
	t.Setenv("TRACKER_WS_ALLOWED_ORIGINS", " https://app.example.com , http://localhost:5173 ")
	t.Setenv("TRACKER_WS_SEND_QUEUE", "64")
	t.Setenv("TRACKER_WS_WRITE_TIMEOUT", "bogus")
	t.Setenv("TRACKER_WS_READ_IDLE_TIMEOUT", "90s")
	t.Setenv("TRACKER_WS_RATE_EVENTS", "-1")

	cfg := LoadGatewayConfigFromEnv()

	if cfg.OriginRequired {
		t.Fatalf("expected origin not required")
	}
	want := []string{"https://app.example.com", "http://localhost:5173"}
	if !reflect.DeepEqual(cfg.AllowedOrigins, want) {
		t.Fatalf("allowed origins mismatch: %v", cfg.AllowedOrigins)
	}
	if cfg.SendQueueSize != 64 {
		t.Fatalf("send queue mismatch: %d", cfg.SendQueueSize)
	}
	if cfg.WriteTimeout != wsDefaultWriteTimeout {
		t.Fatalf("invalid duration must fall back to default, got %v", cfg.WriteTimeout)
	}
	if cfg.ReadIdleTimeout != 90*time.Second {
		t.Fatalf("read idle mismatch: %v", cfg.ReadIdleTimeout)
	}
	if cfg.RateEvents != rateLimitEvents {
		t.Fatalf("invalid int must fall back to default, got %d", cfg.RateEvents)
	}
}

func TestCheckOrigin(t *testing.T) {
	t.Parallel()

	allowed := []string{"http://localhost", "https://app.example.com"}

	cases := []struct {
		name     string
		origin   string
		required bool
		allowed  []string
		ok       bool
	}{
		{name: "missing optional", origin: "", required: false, allowed: allowed, ok: true},
		{name: "missing required", origin: "", required: true, allowed: allowed, ok: false},
		{name: "exact", origin: "https://app.example.com", required: true, allowed: allowed, ok: true},
		{name: "host match other port", origin: "http://localhost:5173", required: true, allowed: allowed, ok: true},
		{name: "host case", origin: "HTTPS://APP.EXAMPLE.COM", required: true, allowed: allowed, ok: true},
		{name: "foreign", origin: "https://evil.example", required: true, allowed: allowed, ok: false},
		{name: "empty allowlist", origin: "http://localhost", required: true, allowed: nil, ok: false},
		{name: "wildcard", origin: "https://anything.example", required: true, allowed: []string{"*"}, ok: true},
	}

	for _, tc := range cases {
		r := httptest.NewRequest("GET", "/ws", nil)
		if tc.origin != "" {
			r.Header.Set("Origin", tc.origin)
		}
		err := checkOrigin(r, tc.required, tc.allowed)
		if (err == nil) != tc.ok {
			t.Fatalf("%s: err=%v ok=%v", tc.name, err, tc.ok)
		}
	}
}

func TestOriginPatterns(t *testing.T) {
	t.Parallel()

	got := originPatterns([]string{"http://localhost:3000", "http://127.0.0.1", "localhost", "https://App.Example.com", ""})
	want := []string{"127.0.0.1", "app.example.com", "localhost"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("patterns mismatch: %v", got)
	}
}
