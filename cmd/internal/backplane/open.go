package backplane

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"studytracker/cmd/internal/relay"
)

// Kind selects a backplane implementation.
type Kind string

const (
	KindNone   Kind = "none"
	KindMemory Kind = "memory"
	KindRedis  Kind = "redis"
	KindNATS   Kind = "nats"
)

// ParseKind parses TRACKER_BACKPLANE. Empty means none.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "", KindNone:
		return KindNone, nil
	case KindMemory, KindRedis, KindNATS:
		return k, nil
	default:
		return "", fmt.Errorf("backplane: unknown kind %q", s)
	}
}

// Config selects and configures the backplane.
type Config struct {
	Kind  Kind
	Redis RedisConfig
	NATS  NATSConfig
	// NATSEmbedded starts an in-process NATS server and connects to it.
	NATSEmbedded bool
}

// Open builds the configured backplane. KindNone returns (nil, nil).
func Open(ctx context.Context, cfg Config, log *slog.Logger) (relay.Backplane, error) {
	switch cfg.Kind {
	case "", KindNone:
		return nil, nil
	case KindMemory:
		return NewMemoryBus().Backplane(), nil
	case KindRedis:
		return NewRedis(ctx, cfg.Redis, log)
	case KindNATS:
		if !cfg.NATSEmbedded {
			return NewNATS(cfg.NATS, log)
		}
		srv, err := StartEmbeddedNATS("127.0.0.1", -1)
		if err != nil {
			return nil, err
		}
		natsCfg := cfg.NATS
		natsCfg.URL = srv.ClientURL()
		n, err := NewNATS(natsCfg, log)
		if err != nil {
			srv.Shutdown()
			return nil, err
		}
		return &embeddedNATSBackplane{NATS: n, srv: srv}, nil
	default:
		return nil, fmt.Errorf("backplane: unknown kind %q", cfg.Kind)
	}
}

type embeddedNATSBackplane struct {
	*NATS
	srv *EmbeddedNATS
}

func (b *embeddedNATSBackplane) Close() error {
	err := b.NATS.Close()
	b.srv.Shutdown()
	return err
}
