package relay

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/coder/websocket"
	"github.com/goccy/go-json"

	"studytracker/cmd/internal/ids"
	v1 "studytracker/shared/contracts/relay/v1"
)

// Notifier is the boundary used by the REST layer after a committed mutation.
// It reaches every live connection of userID; there is no origin connection.
// Notify only enqueues: it never waits on a client socket or on the backplane.
type Notifier interface {
	Notify(ctx context.Context, userID, name string, payload []byte) error
}

// Message is one lifecycle event crossing server instances.
type Message struct {
	Instance     string `json:"instance"`
	UserID       string `json:"user_id"`
	OriginConnID string `json:"origin_conn_id,omitempty"`
	Name         string `json:"name"`
	// Raw JSON payload; carried as bytes so it survives the hop unmodified.
	Payload []byte `json:"payload,omitempty"`
}

// Backplane carries events between relay instances.
type Backplane interface {
	Publish(ctx context.Context, m Message) error
	// Subscribe delivers messages to h until ctx is done or the transport fails.
	Subscribe(ctx context.Context, h func(Message)) error
	Close() error
}

// Relay fans lifecycle events out to a user's connections.
//
// Delivery to each sibling is a non-blocking enqueue onto that sibling's send
// queue, drained by its own writer goroutine. A sibling whose queue is full is
// dropped from its group and closed; the remaining siblings are unaffected.
type Relay struct {
	log        *slog.Logger
	reg        *Registry
	metrics    *Metrics
	backplane  Backplane
	instanceID string

	// outbox feeds the backplane publisher started by Run. Nil without a backplane.
	outbox chan Message
}

var _ Notifier = (*Relay)(nil)

// Option configures a Relay.
type Option func(*Relay)

// WithLogger sets the relay logger.
func WithLogger(log *slog.Logger) Option {
	return func(r *Relay) {
		if log != nil {
			r.log = log
		}
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

// WithBackplane enables cross-instance fan-out.
func WithBackplane(b Backplane) Option {
	return func(r *Relay) { r.backplane = b }
}

// WithInstanceID overrides the generated instance id.
func WithInstanceID(id string) Option {
	return func(r *Relay) {
		if id = strings.TrimSpace(id); id != "" {
			r.instanceID = id
		}
	}
}

// New constructs a Relay over reg. A nil reg gets a fresh Registry.
func New(reg *Registry, opts ...Option) *Relay {
	if reg == nil {
		reg = NewRegistry()
	}
	r := &Relay{
		log: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})),
		reg: reg,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.instanceID == "" {
		r.instanceID = ids.MustULID(timeNow())
	}
	if r.backplane != nil {
		r.outbox = make(chan Message, backplaneOutboxSize)
	}
	return r
}

// Registry returns the underlying registry.
func (r *Relay) Registry() *Registry { return r.reg }

// InstanceID identifies this process on the backplane.
func (r *Relay) InstanceID() string { return r.instanceID }

// Admit adds c to its user's group.
func (r *Relay) Admit(c *Conn) error {
	if c == nil {
		return ErrNilConnection
	}
	added, err := r.reg.Admit(c.UserID, c)
	if err != nil {
		return err
	}
	if added {
		r.metrics.admitted()
		r.metrics.observeRegistry(r.reg)
		r.log.Info("relay.admit", "conn_id", c.ID, "user_id", c.UserID)
	}
	return nil
}

// Remove deletes c from its user's group. Safe to call more than once.
func (r *Relay) Remove(c *Conn) {
	if c == nil {
		return
	}
	if r.reg.Remove(c.UserID, c) {
		r.metrics.removed()
		r.metrics.observeRegistry(r.reg)
		r.log.Info("relay.remove", "conn_id", c.ID, "user_id", c.UserID)
	}
}

// Publish delivers ev from origin to every other live connection of the same user,
// then queues it for the backplane. It returns the number of local deliveries.
func (r *Relay) Publish(ctx context.Context, origin *Conn, ev v1.Event) int {
	if origin == nil || ev == nil {
		return 0
	}
	r.metrics.event(ev.Kind().String(), SourceClient)

	n := r.fanOut(origin.UserID, origin.ID, v1.EncodeEvent(ev))
	r.forward(origin.UserID, origin.ID, ev)
	return n
}

// Notify delivers a lifecycle event to all live connections of userID.
// Unrecognized names are rejected with an error wrapping v1.ErrUnknownEventKind.
func (r *Relay) Notify(ctx context.Context, userID, name string, payload []byte) error {
	if strings.TrimSpace(userID) == "" {
		return ErrEmptyUser
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	ev, err := v1.NewEvent(name, json.RawMessage(payload))
	if err != nil {
		r.metrics.rejected(rejectCode(err))
		return err
	}
	r.metrics.event(ev.Kind().String(), SourceNotify)

	r.fanOut(userID, "", v1.EncodeEvent(ev))
	r.forward(userID, "", ev)
	return nil
}

// HandleRemote fans out a message received from another instance.
// Messages published by this instance are ignored.
func (r *Relay) HandleRemote(m Message) {
	if m.Instance == r.instanceID || m.UserID == "" {
		return
	}
	ev, err := v1.NewEvent(m.Name, json.RawMessage(m.Payload))
	if err != nil {
		r.log.Warn("relay.remote.reject", "instance", m.Instance, "user_id", m.UserID, "event", m.Name, "err", err)
		return
	}
	r.metrics.event(ev.Kind().String(), SourceRemote)
	r.fanOut(m.UserID, m.OriginConnID, v1.EncodeEvent(ev))
}

// Run publishes queued events to the backplane and consumes it until ctx is
// done. Without a backplane it just waits.
func (r *Relay) Run(ctx context.Context) error {
	if r.backplane == nil {
		<-ctx.Done()
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	publisherDone := make(chan struct{})
	go func() {
		defer close(publisherDone)
		r.publishLoop(runCtx)
	}()
	defer func() {
		cancel()
		<-publisherDone
	}()

	r.log.Info("relay.backplane.subscribe", "instance", r.instanceID)
	err := r.backplane.Subscribe(runCtx, r.HandleRemote)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// publishLoop drains the outbox in order, one publish at a time.
func (r *Relay) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-r.outbox:
			pctx, cancel := context.WithTimeout(ctx, backplanePublishTimeout)
			err := r.backplane.Publish(pctx, m)
			cancel()
			if err != nil {
				r.metrics.backplaneFailed()
				r.log.Warn("relay.backplane.publish.fail", "user_id", m.UserID, "event", m.Name, "err", err)
			}
		}
	}
}

// CloseAll closes every live connection with code. Each connection's handler
// still runs its own Remove.
func (r *Relay) CloseAll(code websocket.StatusCode, reason string) int {
	all := r.reg.All()
	for _, c := range all {
		c.CloseWith(code, reason)
	}
	return len(all)
}

func (r *Relay) fanOut(userID, exceptConnID string, frame []byte) int {
	delivered := 0
	for _, c := range r.reg.MembersOf(userID) {
		if c.ID == exceptConnID {
			continue
		}
		switch c.offer(frame) {
		case offerOK:
			delivered++
		case offerFull:
			r.drop(c, "queue_full")
		case offerClosed:
			// Shutting down; its handler removes it.
		}
	}
	r.metrics.delivered(delivered)
	return delivered
}

func (r *Relay) drop(c *Conn, reason string) {
	r.metrics.dropped(reason)
	r.log.Warn("relay.drop", "conn_id", c.ID, "user_id", c.UserID, "reason", reason)

	// Remove before Close so no later fan-out sees the dead connection.
	r.Remove(c)
	c.CloseWith(websocket.StatusTryAgainLater, "send queue full")
}

// forward queues ev for the backplane without blocking. A full outbox loses
// the event for remote instances only; local delivery already happened.
func (r *Relay) forward(userID, originConnID string, ev v1.Event) {
	if r.outbox == nil {
		return
	}
	m := Message{
		Instance:     r.instanceID,
		UserID:       userID,
		OriginConnID: originConnID,
		Name:         ev.Kind().String(),
		Payload:      []byte(ev.Payload()),
	}
	select {
	case r.outbox <- m:
	default:
		r.metrics.backplaneFailed()
		r.log.Warn("relay.backplane.outbox_full", "user_id", userID, "event", m.Name)
	}
}

// rejectCode maps an event decoding error to its wire error code.
func rejectCode(err error) string {
	if errors.Is(err, v1.ErrUnknownEventKind) {
		return v1.CodeUnknownEvent
	}
	return v1.CodeBadEnvelope
}
