package relay

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"studytracker/cmd/internal/ids"
)

var (
	// ErrNilConnection is returned when a nil *Conn is passed to the registry.
	ErrNilConnection = errors.New("relay: nil connection")
	// ErrEmptyUser is returned for a blank user id.
	ErrEmptyUser = errors.New("relay: empty user id")
	// ErrUserMismatch is returned when a connection is admitted under a user it does not belong to.
	ErrUserMismatch = errors.New("relay: connection belongs to another user")
	// ErrConnClosed is returned when admitting a connection that already disconnected.
	ErrConnClosed = errors.New("relay: connection closed")
)

// ConnState is the lifecycle state of a Conn. Disconnected is terminal.
type ConnState uint32

const (
	StateConnecting ConnState = iota
	StateAdmitted
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAdmitted:
		return "admitted"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

var timeNow = func() time.Time { return time.Now().UTC() }

const (
	defaultSendQueueSize = 256
	minSendQueueSize     = 8
)

// Conn is one live client connection as seen by the relay.
//
// The send queue is never closed: fan-out may still hold a pointer after the
// connection is torn down, and a send on a closed channel would panic.
type Conn struct {
	ID        string
	UserID    string
	CreatedAt time.Time

	send chan []byte
	done chan struct{}

	state     atomic.Uint32
	closeOnce sync.Once

	// Set once, before done is closed.
	closeCode   websocket.StatusCode
	closeReason string
}

// NewConn allocates a Conn in the Connecting state with a fresh ULID.
func NewConn(userID string, sendQueueSize int, now time.Time) (*Conn, error) {
	if userID == "" {
		return nil, ErrEmptyUser
	}
	if now.IsZero() {
		now = timeNow()
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return nil, err
	}

	if sendQueueSize <= 0 {
		sendQueueSize = defaultSendQueueSize
	}
	if sendQueueSize < minSendQueueSize {
		sendQueueSize = minSendQueueSize
	}

	return &Conn{
		ID:        id,
		UserID:    userID,
		CreatedAt: now,
		send:      make(chan []byte, sendQueueSize),
		done:      make(chan struct{}),
	}, nil
}

// State returns the current lifecycle state.
func (c *Conn) State() ConnState {
	return ConnState(c.state.Load())
}

// Send returns the outbound frame queue drained by the connection's writer.
func (c *Conn) Send() <-chan []byte {
	return c.send
}

// Done is closed once the connection is shutting down.
func (c *Conn) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close marks the connection disconnected (idempotent).
func (c *Conn) Close() {
	c.CloseWith(websocket.StatusNormalClosure, "bye")
}

// CloseWith is Close with the status the transport should report to the peer.
// Only the first call's status is kept.
func (c *Conn) CloseWith(code websocket.StatusCode, reason string) {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		c.state.Store(uint32(StateDisconnected))
		close(c.done)
	})
}

// CloseStatus reports the status recorded by the first CloseWith.
// It is only meaningful after Done is closed.
func (c *Conn) CloseStatus() (websocket.StatusCode, string) {
	select {
	case <-c.done:
		return c.closeCode, c.closeReason
	default:
		return websocket.StatusNormalClosure, ""
	}
}

func (c *Conn) markAdmitted() bool {
	return c.state.CompareAndSwap(uint32(StateConnecting), uint32(StateAdmitted))
}

type offerResult uint8

const (
	offerOK offerResult = iota
	offerClosed
	offerFull
)

// offer enqueues frame without blocking.
func (c *Conn) offer(frame []byte) offerResult {
	select {
	case <-c.done:
		return offerClosed
	default:
	}

	select {
	case c.send <- frame:
		return offerOK
	default:
		return offerFull
	}
}
