// Package backplane carries relay events between server instances.
//
// Each implementation satisfies relay.Backplane. Messages are published with the
// origin instance id; every instance (including the publisher) receives them and
// the relay discards its own.
package backplane
