package backplane

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"studytracker/cmd/internal/relay"
	v1 "studytracker/shared/contracts/relay/v1"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// wireRelays starts two relay instances joined by their backplanes.
func wireRelays(t *testing.T, bpA, bpB relay.Backplane) (*relay.Relay, *relay.Relay) {
	t.Helper()

	ra := relay.New(nil, relay.WithLogger(discardLogger()), relay.WithBackplane(bpA), relay.WithInstanceID("inst-a"))
	rb := relay.New(nil, relay.WithLogger(discardLogger()), relay.WithBackplane(bpB), relay.WithInstanceID("inst-b"))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = ra.Run(ctx) }()
	go func() { _ = rb.Run(ctx) }()
	return ra, rb
}

func admitConn(t *testing.T, r *relay.Relay, userID string) *relay.Conn {
	t.Helper()
	c, err := relay.NewConn(userID, 256, time.Now().UTC())
	if err != nil {
		t.Fatalf("NewConn: %v", err)
	}
	if err := r.Admit(c); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	return c
}

// publishUntilDelivered republishes until the remote side is subscribed and
// delivers, then returns the first frame seen by dst.
func publishUntilDelivered(t *testing.T, from *relay.Relay, origin *relay.Conn, ev v1.Event, dst *relay.Conn) string {
	t.Helper()

	deadline := time.After(10 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	from.Publish(context.Background(), origin, ev)
	for {
		select {
		case f := <-dst.Send():
			return string(f)
		case <-tick.C:
			from.Publish(context.Background(), origin, ev)
		case <-deadline:
			t.Fatalf("event never crossed the backplane")
			return ""
		}
	}
}

func assertCrossInstance(t *testing.T, ra, rb *relay.Relay) {
	t.Helper()

	a := admitConn(t, ra, "alice")
	b := admitConn(t, rb, "alice")
	bob := admitConn(t, rb, "bob")

	ev, err := v1.NewEvent(v1.NameProgressUpdate, json.RawMessage(`{"topic": "graphs", "percent": 40}`))
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}

	got := publishUntilDelivered(t, ra, a, ev, b)
	want := `{"name":"progress_update","payload":{"topic": "graphs", "percent": 40}}`
	if got != want {
		t.Fatalf("remote frame mismatch:\n got=%s\nwant=%s", got, want)
	}

	select {
	case f := <-bob.Send():
		t.Fatalf("bob must not receive alice's events, got %s", f)
	default:
	}
}

func TestCodec(t *testing.T) {
	t.Parallel()

	in := relay.Message{
		Instance:     "inst-a",
		UserID:       "alice",
		OriginConnID: "01HZX",
		Name:         v1.NameSessionStart,
		Payload:      []byte(`{ "a" : [1, 2] }`),
	}
	b, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if string(out.Payload) != string(in.Payload) || out.Instance != in.Instance || out.OriginConnID != in.OriginConnID {
		t.Fatalf("message mismatch: %+v", out)
	}

	for _, bad := range []string{`nope`, `{}`, `{"instance":"x","user_id":"u"}`} {
		if _, err := Decode([]byte(bad)); !errors.Is(err, ErrBadMessage) {
			t.Fatalf("Decode(%s): expected ErrBadMessage, got %v", bad, err)
		}
	}
}

func TestParseKind(t *testing.T) {
	t.Parallel()

	cases := map[string]Kind{"": KindNone, "none": KindNone, "Redis": KindRedis, " nats ": KindNATS, "memory": KindMemory}
	for in, want := range cases {
		got, err := ParseKind(in)
		if err != nil || got != want {
			t.Fatalf("ParseKind(%q)=%q err=%v want=%q", in, got, err, want)
		}
	}
	if _, err := ParseKind("kafka"); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestOpen_None(t *testing.T) {
	t.Parallel()

	bp, err := Open(context.Background(), Config{Kind: KindNone}, discardLogger())
	if err != nil || bp != nil {
		t.Fatalf("expected nil backplane, got %v err=%v", bp, err)
	}
}

func TestMemoryBus_CrossInstance(t *testing.T) {
	t.Parallel()

	bus := NewMemoryBus()
	ra, rb := wireRelays(t, bus.Backplane(), bus.Backplane())
	assertCrossInstance(t, ra, rb)
}

func TestNATS_CrossInstance(t *testing.T) {
	t.Parallel()

	srv, err := StartEmbeddedNATS("127.0.0.1", -1)
	if err != nil {
		t.Fatalf("StartEmbeddedNATS: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	cfg := NATSConfig{URL: srv.ClientURL(), Subject: "test.relay." + t.Name()}
	na, err := NewNATS(cfg, discardLogger())
	if err != nil {
		t.Fatalf("NewNATS a: %v", err)
	}
	nb, err := NewNATS(cfg, discardLogger())
	if err != nil {
		t.Fatalf("NewNATS b: %v", err)
	}
	t.Cleanup(func() {
		_ = na.Close()
		_ = nb.Close()
	})

	if err := na.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	ra, rb := wireRelays(t, na, nb)
	assertCrossInstance(t, ra, rb)
}

func TestOpen_EmbeddedNATS(t *testing.T) {
	t.Parallel()

	bp, err := Open(context.Background(), Config{Kind: KindNATS, NATSEmbedded: true}, discardLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = bp.Close() }()

	got := make(chan relay.Message, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = bp.Subscribe(ctx, func(m relay.Message) {
			select {
			case got <- m:
			default:
			}
		})
	}()

	msg := relay.Message{Instance: "x", UserID: "alice", Name: v1.NameSessionComplete, Payload: []byte(`{}`)}
	deadline := time.After(10 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		if err := bp.Publish(ctx, msg); err != nil {
			t.Fatalf("Publish: %v", err)
		}
		select {
		case m := <-got:
			if m.UserID != "alice" || m.Name != v1.NameSessionComplete {
				t.Fatalf("message mismatch: %+v", m)
			}
			return
		case <-tick.C:
		case <-deadline:
			t.Fatalf("no message received")
		}
	}
}

func TestRedis_CrossInstance(t *testing.T) {
	t.Parallel()

	addr := os.Getenv("TRACKER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TRACKER_TEST_REDIS_ADDR is not set; skipping Redis integration test")
	}

	cfg := RedisConfig{Addr: addr, Channel: "test:relay:" + t.Name()}
	ctx := context.Background()

	ra, err := NewRedis(ctx, cfg, discardLogger())
	if err != nil {
		t.Fatalf("NewRedis a: %v", err)
	}
	rb, err := NewRedis(ctx, cfg, discardLogger())
	if err != nil {
		t.Fatalf("NewRedis b: %v", err)
	}
	t.Cleanup(func() {
		_ = ra.Close()
		_ = rb.Close()
	})

	relayA, relayB := wireRelays(t, ra, rb)
	assertCrossInstance(t, relayA, relayB)
}

func TestNewRedis_RequiresAddr(t *testing.T) {
	t.Parallel()

	if _, err := NewRedis(context.Background(), RedisConfig{}, discardLogger()); err == nil {
		t.Fatalf("expected error for empty address")
	}
}
