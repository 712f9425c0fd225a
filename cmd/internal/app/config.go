package app

import (
	"fmt"
	"time"

	"studytracker/cmd/internal/auth/access"
	"studytracker/cmd/internal/backplane"
	"studytracker/cmd/internal/relay"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	// Env is "development" or "production"; production tightens security checks.
	Env string

	HTTPAddr  string
	LogLevel  string
	LogFormat string // json|pretty
	LogColor  bool

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	ShutdownTimeout   time.Duration

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	DBSchema    string

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	InstanceID string

	Auth      access.Config
	Gateway   relay.GatewayConfig
	Backplane backplane.Config
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() (Config, error) {
	authCfg, err := access.LoadConfigFromEnv()
	if err != nil {
		return Config{}, fmt.Errorf("auth config: %w", err)
	}

	kind, err := backplane.ParseKind(EnvString("TRACKER_BACKPLANE", "none"))
	if err != nil {
		return Config{}, err
	}

	return Config{
		Env: EnvString("TRACKER_ENV", "development"),

		HTTPAddr:  EnvString("TRACKER_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("TRACKER_LOG_LEVEL", "info"),
		LogFormat: EnvString("TRACKER_LOG_FORMAT", "json"),
		LogColor:  EnvBool("TRACKER_LOG_COLOR", true) && EnvString("NO_COLOR", "") == "",

		ReadHeaderTimeout: EnvDuration("TRACKER_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("TRACKER_HTTP_READ_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("TRACKER_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("TRACKER_HTTP_MAX_HEADER_BYTES", 1<<20),
		ShutdownTimeout:   EnvDuration("TRACKER_SHUTDOWN_TIMEOUT", 10*time.Second),

		DatabaseURL: EnvString("TRACKER_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("TRACKER_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("TRACKER_DB_MIN_CONNS", 0),
		DBSchema:    EnvString("TRACKER_DB_SCHEMA", "tracker"),

		ReadinessRequireDB: EnvBool("TRACKER_READINESS_REQUIRE_DB", false),

		InstanceID: EnvString("TRACKER_INSTANCE_ID", ""),

		Auth:    authCfg,
		Gateway: relay.LoadGatewayConfigFromEnv(),
		Backplane: backplane.Config{
			Kind: kind,
			Redis: backplane.RedisConfig{
				Addr:     EnvString("TRACKER_REDIS_ADDR", "127.0.0.1:6379"),
				Password: EnvString("TRACKER_REDIS_PASSWORD", ""),
				DB:       EnvInt("TRACKER_REDIS_DB", 0),
				Channel:  EnvString("TRACKER_REDIS_CHANNEL", backplane.DefaultRedisChannel),
			},
			NATS: backplane.NATSConfig{
				URL:     EnvString("TRACKER_NATS_URL", "nats://127.0.0.1:4222"),
				Subject: EnvString("TRACKER_NATS_SUBJECT", backplane.DefaultNATSSubject),
			},
			NATSEmbedded: EnvBool("TRACKER_NATS_EMBEDDED", false),
		},
	}, nil
}

// IsProduction reports whether production policy applies.
func (c Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}
