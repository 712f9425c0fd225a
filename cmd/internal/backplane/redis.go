package backplane

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"studytracker/cmd/internal/relay"
)

// DefaultRedisChannel is the pub/sub channel used when none is configured.
const DefaultRedisChannel = "studytracker:relay:v1"

// RedisConfig configures the Redis pub/sub backplane.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// Redis is a relay.Backplane over Redis PUBLISH/SUBSCRIBE.
type Redis struct {
	client     *redis.Client
	channel    string
	log        *slog.Logger
	ownsClient bool
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg RedisConfig, log *slog.Logger) (*Redis, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, errors.New("backplane: redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("backplane: redis ping: %w", err)
	}

	r := NewRedisFromClient(client, cfg.Channel, log)
	r.ownsClient = true
	return r, nil
}

// NewRedisFromClient wraps an existing client. The caller keeps ownership of it.
func NewRedisFromClient(client *redis.Client, channel string, log *slog.Logger) *Redis {
	if channel = strings.TrimSpace(channel); channel == "" {
		channel = DefaultRedisChannel
	}
	if log == nil {
		log = slog.Default()
	}
	return &Redis{client: client, channel: channel, log: log}
}

// Publish sends m on the channel.
func (r *Redis) Publish(ctx context.Context, m relay.Message) error {
	b, err := Encode(m)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, b).Err()
}

// Subscribe delivers messages to h until ctx is done.
// go-redis re-subscribes on its own after reconnects.
func (r *Redis) Subscribe(ctx context.Context, h func(relay.Message)) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer func() { _ = sub.Close() }()

	// Wait for the subscription confirmation so no message published after
	// Subscribe returns control is missed.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("backplane: redis subscribe: %w", err)
	}
	r.log.Info("backplane.redis.subscribed", "channel", r.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return ErrClosed
			}
			m, err := Decode([]byte(msg.Payload))
			if err != nil {
				r.log.Warn("backplane.redis.decode.fail", "err", err)
				continue
			}
			h(m)
		}
	}
}

// Ping checks connectivity (used by readiness).
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the client when this backplane created it.
func (r *Redis) Close() error {
	if !r.ownsClient {
		return nil
	}
	return r.client.Close()
}
