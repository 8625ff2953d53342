package pubsub

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by Disconnect, Subscribe, Unsubscribe and
	// Publish when the session is not connected.
	ErrNotConnected = errors.New("pubsub: not connected")

	// ErrNotSerializable is matched by errors from Publish when the value cannot
	// be encoded.
	ErrNotSerializable = errors.New("pubsub: value is not serializable")

	// ErrMalformedMessage is matched by errors reported for inbound payloads
	// that cannot be decoded.
	ErrMalformedMessage = errors.New("pubsub: malformed message")

	// ErrEmptyChannel is returned by New when the channel name is empty.
	ErrEmptyChannel = errors.New("pubsub: channel name is empty")
)

// NotSerializableError wraps the encoder error for a Publish value.
type NotSerializableError struct {
	Err error
}

func (e *NotSerializableError) Error() string {
	return fmt.Sprintf("%s: %v", ErrNotSerializable, e.Err)
}

func (e *NotSerializableError) Unwrap() error { return e.Err }

func (e *NotSerializableError) Is(target error) bool { return target == ErrNotSerializable }

// MalformedMessageError describes one inbound payload that failed to decode.
// It is delivered to error listeners; the subscription stays active.
type MalformedMessageError struct {
	Channel string
	Payload []byte
	Err     error
}

func (e *MalformedMessageError) Error() string {
	return fmt.Sprintf("%s on channel %q: %v", ErrMalformedMessage, e.Channel, e.Err)
}

func (e *MalformedMessageError) Unwrap() error { return e.Err }

func (e *MalformedMessageError) Is(target error) bool { return target == ErrMalformedMessage }
