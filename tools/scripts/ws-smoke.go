// Package main provides a CI-friendly WebSocket smoke test for the study tracker relay.
//
// Two devices connect with the same bearer token and it validates:
//   - handshake + subprotocol selection
//   - hello/hello_ack on both devices (same user, distinct connections)
//   - a lifecycle event from A reaches B byte-for-byte
//   - A never receives its own event
//   - the relay works in the other direction
//   - unknown event names are rejected without closing the connection
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/goccy/go-json"

	v1 "studytracker/shared/contracts/relay/v1"
)

const maxReadBytes = 1 << 20 // 1MiB

type frame struct {
	raw string
	env v1.Envelope
}

type smokeClient struct {
	name   string
	conn   *websocket.Conn
	connID string
	userID string

	inbox chan frame
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		token   = flag.String("token", os.Getenv("TRACKER_SMOKE_TOKEN"), "Bearer access token shared by both devices")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}
	if strings.TrimSpace(*token) == "" {
		fatalf("missing -token (or TRACKER_SMOKE_TOKEN)")
	}

	root := context.Background()

	a := mustConnect(root, "A", *wsURL, *origin, *token, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", *wsURL, *origin, *token, *timeout)
	defer closeWS(b.conn)

	if a.userID != b.userID {
		fatalf("devices resolved to different users: A=%q B=%q", a.userID, b.userID)
	}
	if a.connID == b.connID {
		fatalf("devices share a connection id: %q", a.connID)
	}
	if *verbose {
		fmt.Printf("connected: user=%s A=%s B=%s origin=%q\n", a.userID, a.connID, b.connID, *origin)
	}

	nonce := time.Now().UnixNano()

	// Irregular whitespace checks that the payload is relayed untouched.
	start := fmt.Sprintf(`{"name":"session_start","payload":{ "session_id" : "smoke-%d",  "topic":"smoke" }}`, nonce)
	mustWriteRaw(root, a.conn, start, *timeout)
	if got := b.mustReadUntilName(root, v1.NameSessionStart, *timeout); got.raw != start {
		fatalf("relayed frame mismatch: got=%s want=%s", got.raw, start)
	}
	mustAssertQuiet(root, a, *timeout)

	progress := fmt.Sprintf(`{"name":"progress_update","payload":{"topic":"smoke","pct":%d}}`, nonce%100)
	mustWriteRaw(root, b.conn, progress, *timeout)
	if got := a.mustReadUntilName(root, v1.NameProgressUpdate, *timeout); got.raw != progress {
		fatalf("relayed frame mismatch: got=%s want=%s", got.raw, progress)
	}
	mustAssertQuiet(root, b, *timeout)

	mustWriteRaw(root, a.conn, `{"name":"session_paused","payload":{}}`, *timeout)
	rejected := a.mustReadUntilName(root, v1.NameError, *timeout)
	var ep v1.ErrorPayload
	if err := json.Unmarshal(rejected.env.Payload, &ep); err != nil {
		fatalf("unmarshal error payload: %v", err)
	}
	if ep.Code != v1.CodeUnknownEvent {
		fatalf("unknown event error code=%q want=%q", ep.Code, v1.CodeUnknownEvent)
	}
	mustAssertQuiet(root, a, *timeout)
	mustAssertQuiet(root, b, *timeout)

	fmt.Printf("OK: user=%s A=%s B=%s\n", a.userID, a.connID, b.connID)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, wsURL, origin, token string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}
	h.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		fatalf("connect %s: status=%d: %v", name, status, err)
	}

	if got := conn.Subprotocol(); got != v1.Subprotocol {
		fatalf("subprotocol mismatch (%s): got=%q want=%q", name, got, v1.Subprotocol)
	}

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan frame, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	ack := c.mustHello(parent, stepTimeout)
	if strings.TrimSpace(ack.ConnID) == "" || strings.TrimSpace(ack.UserID) == "" {
		fatalf("hello_ack missing conn_id/user_id (%s)", name)
	}
	c.connID = ack.ConnID
	c.userID = ack.UserID

	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				c.fail(err)
				return
			}
			if mt != websocket.MessageText {
				c.fail(fmt.Errorf("unsupported message type: %v", mt))
				return
			}

			env, err := v1.DecodeEnvelope(data)
			if err != nil {
				c.fail(err)
				return
			}

			select {
			case c.inbox <- frame{raw: string(data), env: env}:
			default:
				c.fail(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

func (c *smokeClient) fail(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

func (c *smokeClient) mustHello(parent context.Context, stepTimeout time.Duration) v1.HelloAckPayload {
	mustWriteRaw(parent, c.conn, `{"name":"hello"}`, stepTimeout)
	got := c.mustReadUntilName(parent, v1.NameHelloAck, stepTimeout)

	var ack v1.HelloAckPayload
	if err := json.Unmarshal(got.env.Payload, &ack); err != nil {
		fatalf("unmarshal hello_ack payload (%s): %v", c.name, err)
	}
	return ack
}

// mustAssertQuiet sends hello and requires hello_ack to be the very next frame,
// proving nothing else was queued for c.
func mustAssertQuiet(parent context.Context, c *smokeClient, stepTimeout time.Duration) {
	mustWriteRaw(parent, c.conn, `{"name":"hello"}`, stepTimeout)
	got := c.mustNext(parent, stepTimeout)
	if got.env.Name != v1.NameHelloAck {
		fatalf("unexpected frame (%s): %s", c.name, got.raw)
	}
}

func (c *smokeClient) mustNext(parent context.Context, stepTimeout time.Duration) frame {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	select {
	case <-ctx.Done():
		fatalf("timeout waiting for frame (%s): %v", c.name, ctx.Err())
	case err := <-c.errCh:
		fatalf("connection error (%s): %v", c.name, err)
	case f, ok := <-c.inbox:
		if !ok {
			fatalf("connection closed (%s)", c.name)
		}
		return f
	}
	return frame{}
}

func (c *smokeClient) mustReadUntilName(parent context.Context, want string, stepTimeout time.Duration) frame {
	f := c.mustNext(parent, stepTimeout)
	if f.env.Name == want {
		return f
	}
	if f.env.Name == v1.NameError {
		var ep v1.ErrorPayload
		_ = json.Unmarshal(f.env.Payload, &ep)
		fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
	}
	fatalf("unexpected frame (%s): got=%q want=%q", c.name, f.env.Name, want)
	return frame{}
}

func mustWriteRaw(parent context.Context, conn *websocket.Conn, raw string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	if err := conn.Write(ctx, websocket.MessageText, []byte(raw)); err != nil {
		fatalf("write failed: %v", err)
	}
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
