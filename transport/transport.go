// Package transport defines the provider contract a broadcast session is built on.
//
// A Provider creates a Context bound to a broker address. The Context links to
// the broker in the background and signals readiness once. After it is ready it
// hands out directional sockets: a PubSocket that writes raw payloads and a
// SubSocket that delivers raw inbound payloads to registered handlers. Both are
// bound to a named channel with Connect.
//
// The contract is deliberately byte-oriented. Encoding is the caller's concern.
//
// Three providers ship with the module:
//   - memory: in-process, for tests and single-binary deployments
//   - postgres: LISTEN/NOTIFY via pgx
//   - redis: PUBLISH/SUBSCRIBE via go-redis
package transport

import (
	"context"
	"errors"
)

// Kind is the direction of a socket.
type Kind string

const (
	// PUB sockets write to a channel.
	PUB Kind = "PUB"
	// SUB sockets receive from a channel.
	SUB Kind = "SUB"
)

// Common errors.
var (
	// ErrClosed is returned when a closed context or socket is used.
	ErrClosed = errors.New("transport: closed")

	// ErrNotReady is returned when sockets are requested before the context is ready.
	ErrNotReady = errors.New("transport: context not ready")

	// ErrNotConnected is returned when a socket is used before Connect.
	ErrNotConnected = errors.New("transport: socket not connected")

	// ErrAlreadyConnected is returned when Connect is called twice on a socket.
	ErrAlreadyConnected = errors.New("transport: socket already connected")

	// ErrPayloadTooLarge is returned when a payload exceeds the provider limit.
	ErrPayloadTooLarge = errors.New("transport: payload too large")
)

// Provider creates connection contexts.
type Provider interface {
	// NewContext constructs a context for the broker at addr. It must not block
	// on the network: linking happens in the background and is reported through
	// the context's Ready channel.
	NewContext(addr string) (Context, error)
}

// Context is a provider session that gates socket creation.
type Context interface {
	// Ready is closed exactly once, when the broker link is established or has
	// failed. Err reports which.
	Ready() <-chan struct{}

	// Err returns the link error after Ready is closed, nil otherwise.
	Err() error

	// PubSocket returns a new publish socket. Only valid once ready.
	PubSocket() (PubSocket, error)

	// SubSocket returns a new subscribe socket. Only valid once ready.
	SubSocket() (SubSocket, error)

	// Close releases the broker link. Sockets created from the context stop
	// working.
	Close() error
}

// Socket is the part shared by both directions.
type Socket interface {
	// Connect binds the socket to a channel. It returns once the binding is
	// in effect on the broker.
	Connect(ctx context.Context, channel string) error

	// Close releases the socket. It does not wait for broker acknowledgement.
	Close() error
}

// PubSocket writes payloads to its channel.
type PubSocket interface {
	Socket

	// Write publishes p. Delivery is fire-and-forget.
	Write(ctx context.Context, p []byte) error
}

// SubSocket delivers payloads published to its channel.
type SubSocket interface {
	Socket

	// OnData adds a handler called for every inbound payload. Handlers run on
	// the provider's delivery goroutine, one payload at a time.
	OnData(fn func(p []byte))

	// RemoveAllDataListeners removes every handler added with OnData.
	RemoveAllDataListeners()
}
