package relay

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	wsDefaultSendQueueSize = 256
	wsDefaultWriteTimeout  = 5 * time.Second

	// Origin is required by default and only localhost is allowed (secure-by-default for dev).
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// GatewayConfig tunes the WebSocket gateway.
type GatewayConfig struct {
	// DevInsecure disables websocket.Accept's own origin verification. Dev only.
	DevInsecure    bool
	OriginRequired bool
	AllowedOrigins []string

	SendQueueSize int
	WriteTimeout  time.Duration
	// ReadIdleTimeout closes connections that send nothing for this long.
	// Zero disables it: listening-only devices are expected to be silent,
	// and liveness is covered by the heartbeat.
	ReadIdleTimeout time.Duration

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	RateEvents int
	RateWindow time.Duration
}

// DefaultGatewayConfig returns secure defaults.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		OriginRequired:    wsDefaultOriginRequired,
		AllowedOrigins:    splitCSV(wsDefaultAllowedOrigins),
		SendQueueSize:     wsDefaultSendQueueSize,
		WriteTimeout:      wsDefaultWriteTimeout,
		HeartbeatInterval: heartbeatInterval,
		HeartbeatTimeout:  heartbeatTimeout,
		RateEvents:        rateLimitEvents,
		RateWindow:        rateLimitWindow,
	}
}

// LoadGatewayConfigFromEnv reads TRACKER_WS_* variables over the defaults.
// Invalid values fall back to the default.
func LoadGatewayConfigFromEnv() GatewayConfig {
	def := DefaultGatewayConfig()
	return GatewayConfig{
		DevInsecure:       envBoolWS("TRACKER_WS_DEV_INSECURE", false),
		OriginRequired:    envBoolWS("TRACKER_WS_ORIGIN_REQUIRED", def.OriginRequired),
		AllowedOrigins:    envCSVWS("TRACKER_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins),
		SendQueueSize:     envIntWS("TRACKER_WS_SEND_QUEUE", def.SendQueueSize),
		WriteTimeout:      envDurationWS("TRACKER_WS_WRITE_TIMEOUT", def.WriteTimeout),
		ReadIdleTimeout:   envDurationWS("TRACKER_WS_READ_IDLE_TIMEOUT", def.ReadIdleTimeout),
		HeartbeatInterval: envDurationWS("TRACKER_WS_HEARTBEAT_INTERVAL", def.HeartbeatInterval),
		HeartbeatTimeout:  envDurationWS("TRACKER_WS_HEARTBEAT_TIMEOUT", def.HeartbeatTimeout),
		RateEvents:        envIntWS("TRACKER_WS_RATE_EVENTS", def.RateEvents),
		RateWindow:        envDurationWS("TRACKER_WS_RATE_WINDOW", def.RateWindow),
	}
}

func (c GatewayConfig) withDefaults() GatewayConfig {
	def := DefaultGatewayConfig()
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = def.SendQueueSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = def.RateEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = def.RateWindow
	}
	return c
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return def
	}
	return d
}

func envCSVWS(key, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	return splitCSV(raw)
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
