// Package v1 defines the study tracker relay protocol v1 contract.
//
// Frames are JSON objects of the form {"name": ..., "payload": ...}.
// Lifecycle events are relayed unmodified; control frames (hello, hello_ack, error)
// are exchanged only between one client and the server.
package v1

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// Subprotocol is the WebSocket subprotocol negotiated at handshake.
const Subprotocol = "studytracker.relay.v1"

// Control frame names (wire-stable).
const (
	// NameHello is an optional client request for connection metadata.
	NameHello = "hello"
	// NameHelloAck answers hello with the server-assigned connection id.
	NameHelloAck = "hello_ack"
	// NameError reports a rejected frame to the originating client only.
	NameError = "error"
)

// Error codes carried by ErrorPayload.
const (
	CodeBadEnvelope  = "bad_envelope"
	CodeUnknownEvent = "unknown_event"
	CodeRateLimited  = "rate_limited"
)

var (
	// ErrBadEnvelope is returned for frames that are not a JSON object with a name.
	ErrBadEnvelope = errors.New("bad envelope")

	// ErrUnknownEventKind is returned for event names outside the recognized kinds.
	ErrUnknownEventKind = errors.New("unknown event kind")
)

// UnknownEventError carries the rejected name.
type UnknownEventError struct {
	Name string
}

func (e UnknownEventError) Error() string {
	return fmt.Sprintf("%v: %q", ErrUnknownEventKind, e.Name)
}

func (e UnknownEventError) Unwrap() error { return ErrUnknownEventKind }

// Envelope is the canonical wire wrapper.
type Envelope struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DecodeEnvelope parses one inbound frame.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Validate performs structural validation. It does not check the name against known kinds.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("%w: missing field: name", ErrBadEnvelope)
	}
	return nil
}

// IsControl reports whether the envelope is a control frame rather than a lifecycle event.
func (e Envelope) IsControl() bool {
	switch e.Name {
	case NameHello, NameHelloAck, NameError:
		return true
	default:
		return false
	}
}

// ---- Control payloads ----

// HelloAckPayload identifies the connection to its own client.
type HelloAckPayload struct {
	ConnID string `json:"conn_id"`
	UserID string `json:"user_id"`
}

// ErrorPayload is sent to the originating client when a frame is rejected.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EncodeControl marshals a control frame.
func EncodeControl(name string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Name: name, Payload: raw})
}
