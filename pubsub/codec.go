package pubsub

import (
	"encoding/json"
	"fmt"
)

// encode returns the wire form of v: one complete JSON document.
func encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &NotSerializableError{Err: err}
	}
	return data, nil
}

// decode parses one inbound payload into maps, slices and scalars.
func decode(p []byte) (any, error) {
	var v any
	if err := json.Unmarshal(p, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// As converts a decoded data value into T.
// Values already of type T are returned as is; anything else goes through a
// JSON round trip, so struct tags apply.
//
// Example:
//
//	s.OnData(func(v any) {
//		order, err := pubsub.As[Order](v)
//		...
//	})
func As[T any](v any) (T, error) {
	var zero T

	// Direct type match
	if t, ok := v.(T); ok {
		return t, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return zero, fmt.Errorf("pubsub: re-encode %T: %w", v, err)
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return zero, fmt.Errorf("pubsub: decode into %T: %w", out, err)
	}
	return out, nil
}
