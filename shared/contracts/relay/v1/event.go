package v1

import (
	"bytes"
	"strconv"

	"github.com/goccy/go-json"
)

// Lifecycle event names (wire-stable).
const (
	NameSessionStart    = "session_start"
	NameSessionComplete = "session_complete"
	NameProgressUpdate  = "progress_update"
)

// Kind enumerates the lifecycle event kinds.
type Kind uint8

const (
	KindSessionStart Kind = iota + 1
	KindSessionComplete
	KindProgressUpdate
)

// Kinds lists every recognized kind in wire order.
func Kinds() []Kind {
	return []Kind{KindSessionStart, KindSessionComplete, KindProgressUpdate}
}

// String returns the wire name.
func (k Kind) String() string {
	switch k {
	case KindSessionStart:
		return NameSessionStart
	case KindSessionComplete:
		return NameSessionComplete
	case KindProgressUpdate:
		return NameProgressUpdate
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Event is one lifecycle event. Implementations are closed to this package,
// so a type switch over SessionStart, SessionComplete and ProgressUpdate is exhaustive.
//
//sumtype:decl
type Event interface {
	Kind() Kind
	// Payload returns the payload bytes exactly as received.
	Payload() json.RawMessage

	isEvent()
}

// SessionStart is emitted when a study session begins.
type SessionStart struct{ payload json.RawMessage }

// SessionComplete is emitted when a study session is marked complete.
type SessionComplete struct{ payload json.RawMessage }

// ProgressUpdate is emitted when topic progress changes.
type ProgressUpdate struct{ payload json.RawMessage }

func (SessionStart) Kind() Kind    { return KindSessionStart }
func (SessionComplete) Kind() Kind { return KindSessionComplete }
func (ProgressUpdate) Kind() Kind  { return KindProgressUpdate }

func (e SessionStart) Payload() json.RawMessage    { return e.payload }
func (e SessionComplete) Payload() json.RawMessage { return e.payload }
func (e ProgressUpdate) Payload() json.RawMessage  { return e.payload }

func (SessionStart) isEvent()    {}
func (SessionComplete) isEvent() {}
func (ProgressUpdate) isEvent()  {}

// NewEvent builds an Event from a wire name and opaque payload.
// The name is checked first: unrecognized names always return an
// UnknownEventError, whatever the payload.
func NewEvent(name string, payload json.RawMessage) (Event, error) {
	var ev Event
	switch name {
	case NameSessionStart:
		ev = SessionStart{payload: payload}
	case NameSessionComplete:
		ev = SessionComplete{payload: payload}
	case NameProgressUpdate:
		ev = ProgressUpdate{payload: payload}
	default:
		return nil, UnknownEventError{Name: name}
	}
	if len(payload) > 0 && !json.Valid(payload) {
		return nil, ErrBadEnvelope
	}
	return ev, nil
}

// EventFromEnvelope is NewEvent applied to a decoded envelope.
func EventFromEnvelope(env Envelope) (Event, error) {
	return NewEvent(env.Name, env.Payload)
}

// EncodeEvent renders the outbound frame for ev. The payload bytes are copied
// verbatim; a missing payload is rendered as null.
func EncodeEvent(ev Event) []byte {
	name := ev.Kind().String()
	payload := ev.Payload()

	var b bytes.Buffer
	b.Grow(len(`{"name":"","payload":}`) + len(name) + len(payload) + 4)
	b.WriteString(`{"name":`)
	b.WriteString(strconv.Quote(name))
	b.WriteString(`,"payload":`)
	if len(payload) == 0 {
		b.WriteString("null")
	} else {
		b.Write(payload)
	}
	b.WriteByte('}')
	return b.Bytes()
}
