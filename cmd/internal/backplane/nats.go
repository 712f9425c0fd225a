package backplane

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"studytracker/cmd/internal/relay"
)

// DefaultNATSSubject is the subject used when none is configured.
const DefaultNATSSubject = "studytracker.relay.v1"

// NATSConfig configures the NATS core pub/sub backplane.
type NATSConfig struct {
	URL     string
	Subject string
	// Name identifies this client in NATS monitoring.
	Name string
}

// NATS is a relay.Backplane over NATS core subjects (no JetStream: delivery is
// at-most-once by contract).
type NATS struct {
	nc      *nats.Conn
	subject string
	log     *slog.Logger
}

// NewNATS connects to NATS. Connection failures are retried in the background.
func NewNATS(cfg NATSConfig, log *slog.Logger) (*NATS, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		url = nats.DefaultURL
	}
	subject := strings.TrimSpace(cfg.Subject)
	if subject == "" {
		subject = DefaultNATSSubject
	}
	if log == nil {
		log = slog.Default()
	}
	name := cfg.Name
	if name == "" {
		name = "studytracker-relay"
	}

	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("backplane.nats.disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("backplane.nats.reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("backplane: nats connect: %w", err)
	}
	return &NATS{nc: nc, subject: subject, log: log}, nil
}

// Publish sends m on the subject.
func (n *NATS) Publish(ctx context.Context, m relay.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := Encode(m)
	if err != nil {
		return err
	}
	return n.nc.Publish(n.subject, b)
}

// Subscribe delivers messages to h until ctx is done. The callback runs on a
// single goroutine per subscription, preserving publish order.
func (n *NATS) Subscribe(ctx context.Context, h func(relay.Message)) error {
	sub, err := n.nc.Subscribe(n.subject, func(msg *nats.Msg) {
		m, err := Decode(msg.Data)
		if err != nil {
			n.log.Warn("backplane.nats.decode.fail", "err", err)
			return
		}
		h(m)
	})
	if err != nil {
		return fmt.Errorf("backplane: nats subscribe: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()
	_ = sub.SetPendingLimits(1_000_000, 64*1024*1024)

	// Round-trip so the server has registered interest before we log readiness.
	if err := n.nc.FlushWithContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		n.log.Warn("backplane.nats.flush.fail", "err", err)
	}
	n.log.Info("backplane.nats.subscribed", "subject", n.subject)

	<-ctx.Done()
	return ctx.Err()
}

// Ping reports whether the connection is currently up.
func (n *NATS) Ping(context.Context) error {
	if !n.nc.IsConnected() {
		return errors.New("backplane: nats not connected")
	}
	return nil
}

// Close drains the connection.
func (n *NATS) Close() error {
	if n.nc.IsClosed() {
		return nil
	}
	return n.nc.Drain()
}
