// Package pubsub provides a broadcast channel session over a message-queue
// transport.
//
// A Session binds to one named channel. After Connect it holds a publish socket
// and a subscribe socket on that channel: every value passed to Publish is
// JSON-encoded and written to the channel, and while subscribed every message
// on the channel is decoded and handed to the session's data listeners.
//
// The transport is pluggable (see package transport). Delivery guarantees are
// whatever the transport gives: at most once per connected subscriber, no
// ordering across publishers, no durability.
//
//	s, err := pubsub.New("orders", "mem://local", memory.New())
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//
//	s.OnData(func(v any) { fmt.Println(v) })
//
//	if err := s.Connect(ctx); err != nil {
//		return err
//	}
//	s.Subscribe()
//	s.Publish(ctx, map[string]any{"id": 42})
package pubsub
