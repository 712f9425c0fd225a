package backplane

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"studytracker/cmd/internal/relay"
)

var (
	// ErrBadMessage is returned when a backplane message cannot be decoded.
	ErrBadMessage = errors.New("backplane: bad message")
	// ErrClosed is returned by Subscribe when the transport is closed underneath it.
	ErrClosed = errors.New("backplane: closed")
)

// Encode marshals m for the wire. The payload travels base64-encoded, which
// keeps its bytes intact.
func Encode(m relay.Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode unmarshals a wire message and checks the routing fields.
func Decode(data []byte) (relay.Message, error) {
	var m relay.Message
	if err := json.Unmarshal(data, &m); err != nil {
		return relay.Message{}, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	if m.Instance == "" || m.UserID == "" || m.Name == "" {
		return relay.Message{}, fmt.Errorf("%w: missing routing fields", ErrBadMessage)
	}
	return m, nil
}
