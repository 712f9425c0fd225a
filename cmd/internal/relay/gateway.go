package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"

	"studytracker/cmd/internal/auth/access"
	v1 "studytracker/shared/contracts/relay/v1"
)

const (
	wsCloseGrace      = 1 * time.Second
	wsMaxPingFailures = 3
)

// Authenticator verifies the handshake credential. *access.Service implements it.
type Authenticator interface {
	ValidateAccessToken(ctx context.Context, token string, now time.Time) (access.Claims, error)
}

// Gateway is the WebSocket entrypoint for the relay.
//
// It enforces origin policy and authentication before the upgrade, negotiates the
// subprotocol, then runs one writer, one heartbeat and one reader per connection.
// The connection is removed from its group on every exit path.
type Gateway struct {
	log     *slog.Logger
	relay   *Relay
	auth    Authenticator
	metrics *Metrics
	cfg     GatewayConfig

	originPatterns []string

	mu      sync.Mutex
	closing bool
	active  sync.WaitGroup
}

// NewGateway constructs a gateway. auth is required.
func NewGateway(log *slog.Logger, relay *Relay, auth Authenticator, metrics *Metrics, cfg GatewayConfig) *Gateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if relay == nil {
		relay = New(nil, WithLogger(log), WithMetrics(metrics))
	}
	cfg = cfg.withDefaults()
	return &Gateway{
		log:            log,
		relay:          relay,
		auth:           auth,
		metrics:        metrics,
		cfg:            cfg,
		originPatterns: originPatterns(cfg.AllowedOrigins),
	}
}

// ServeHTTP authenticates, upgrades and serves one connection.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := checkOrigin(r, g.cfg.OriginRequired, g.cfg.AllowedOrigins); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	// Tracked from here so Shutdown also waits for handshakes still in flight.
	if !g.track() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer g.active.Done()

	// Authentication happens before any Conn exists.
	claims, err := g.authenticate(r)
	if err != nil {
		reason := access.Reason(err)
		g.metrics.authRejected(reason)
		if access.IsUnauthorized(err) {
			g.log.Info("ws.reject.auth", "reason", reason, "remote", r.RemoteAddr)
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		g.log.Error("ws.auth.fail", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	g.serve(r.Context(), conn, claims)
}

// Shutdown stops accepting connections, closes live ones with going-away, and
// waits for their handlers to finish or ctx to expire.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closing = true
	g.mu.Unlock()

	n := g.relay.CloseAll(websocket.StatusGoingAway, "server shutdown")
	g.log.Info("ws.shutdown", "connections", n)

	done := make(chan struct{})
	go func() {
		g.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gateway) isClosing() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closing
}

func (g *Gateway) track() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closing {
		return false
	}
	g.active.Add(1)
	return true
}

func (g *Gateway) authenticate(r *http.Request) (access.Claims, error) {
	if g.auth == nil {
		return access.Claims{}, access.ErrConfig
	}
	token, err := access.BearerFromRequest(r)
	if err != nil {
		return access.Claims{}, err
	}
	return g.auth.ValidateAccessToken(r.Context(), token, timeNow())
}

func (g *Gateway) serve(parent context.Context, conn *websocket.Conn, claims access.Claims) {
	c, err := NewConn(claims.UserID, g.cfg.SendQueueSize, timeNow())
	if err != nil {
		g.log.Error("ws.conn.fail", "user_id", claims.UserID, "err", err)
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	if err := g.relay.Admit(c); err != nil {
		g.log.Error("ws.admit.fail", "conn_id", c.ID, "user_id", c.UserID, "err", err)
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	defer g.relay.Remove(c)

	// CloseAll may have run between the upgrade and Admit.
	if g.isClosing() {
		c.CloseWith(websocket.StatusGoingAway, "server shutdown")
	}

	log := g.log.With("conn_id", c.ID, "user_id", c.UserID)

	var closeOnce sync.Once

	// shutdown is idempotent. The status recorded first on c wins, so a drop by
	// the relay or a server shutdown is what the peer sees.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.relay.Remove(c)
			c.CloseWith(code, reason)
			code, reason = c.CloseStatus()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.Done():
				shutdown(c.CloseStatus())
				return
			case frame := <-c.Send():
				if err := writeFrame(ctx, conn, frame, g.cfg.WriteTimeout); err != nil {
					log.Info("ws.write.fail", "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusGoingAway, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.cfg.HeartbeatInterval)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err == nil {
					failures = 0
					continue
				}
				failures++
				log.Info("ws.ping.fail", "failures", failures, "err", err)
				if failures >= wsMaxPingFailures {
					shutdown(websocket.StatusGoingAway, "heartbeat failed")
					return
				}
			}
		}
	}()

	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

readLoop:
	for {
		data, err := g.readFrame(ctx, conn)
		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
			case readErrConnClosed:
				shutdown(websocket.StatusGoingAway, "conn closed")
			default:
				log.Info("ws.read.fail", "err", err)
				shutdown(websocket.StatusGoingAway, "read failed")
			}
			break readLoop
		}

		if !rl.Allow(timeNow()) {
			g.reject(c, v1.CodeRateLimited, "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		env, err := v1.DecodeEnvelope(data)
		if err != nil {
			g.reject(c, v1.CodeBadEnvelope, err.Error())
			continue
		}

		if env.IsControl() {
			g.onControl(c, env)
			continue
		}

		ev, err := v1.EventFromEnvelope(env)
		if err != nil {
			// The connection stays open: one bad frame does not end the session.
			log.Info("ws.event.reject", "event", env.Name, "err", err)
			g.reject(c, rejectCode(err), err.Error())
			continue
		}
		g.relay.Publish(ctx, c, ev)
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

func (g *Gateway) onControl(c *Conn, env v1.Envelope) {
	if env.Name != v1.NameHello {
		g.reject(c, v1.CodeUnknownEvent, "control frame not accepted from clients: "+env.Name)
		return
	}
	frame, err := v1.EncodeControl(v1.NameHelloAck, v1.HelloAckPayload{ConnID: c.ID, UserID: c.UserID})
	if err != nil {
		g.log.Error("ws.hello.encode.fail", "conn_id", c.ID, "err", err)
		return
	}
	_ = c.offer(frame)
}

// reject answers the originating client only. Best effort: a full queue drops it.
func (g *Gateway) reject(c *Conn, code, msg string) {
	g.metrics.rejected(code)
	frame, err := v1.EncodeControl(v1.NameError, v1.ErrorPayload{Code: code, Message: msg})
	if err != nil {
		return
	}
	_ = c.offer(frame)
}

// ---- frame IO ----

func (g *Gateway) readFrame(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	if g.cfg.ReadIdleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		defer cancel()
	}
	_, data, err := conn.Read(ctx)
	return data, err
}

func writeFrame(parent context.Context, conn *websocket.Conn, frame []byte, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, frame)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	switch {
	case websocket.CloseStatus(err) != -1:
		return readErrClose
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return readErrCtxDone
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.EOF):
		return readErrConnClosed
	default:
		return readErrUnknown
	}
}
