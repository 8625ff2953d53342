package pubsub_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erlorenz/go-broadcast/pubsub"
	"github.com/erlorenz/go-broadcast/transport/memory"
)

func TestBroadcastOverMemory(t *testing.T) {
	t.Parallel()

	broker := memory.New()
	t.Cleanup(func() { broker.Close() })

	const addr = "memory://test"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	publisher, err := pubsub.New("orders", addr, broker)
	require.NoError(t, err)
	t.Cleanup(func() { publisher.Close() })
	require.NoError(t, publisher.Connect(ctx))

	const listeners = 3
	received := make([]chan any, listeners)
	for i := range listeners {
		s, err := pubsub.New("orders", addr, broker)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })

		ch := make(chan any, 10)
		s.OnData(func(v any) { ch <- v })
		received[i] = ch

		require.NoError(t, s.Connect(ctx))
		require.NoError(t, s.Subscribe())
	}

	// One subscriber per listener session, plus the publisher's own SUB socket
	require.Equal(t, listeners+1, broker.Subscribers(addr, "orders"))

	require.NoError(t, publisher.Publish(ctx, map[string]any{"id": 42}))

	for i, ch := range received {
		select {
		case v := <-ch:
			assert.Equal(t, map[string]any{"id": 42.0}, v, "listener %d", i)
		case <-time.After(time.Second):
			t.Fatalf("listener %d: timeout waiting for message", i)
		}
	}
}

func TestBroadcastOverMemory_Order(t *testing.T) {
	t.Parallel()

	broker := memory.New()
	t.Cleanup(func() { broker.Close() })

	ctx := context.Background()

	s, err := pubsub.New("ticks", "memory://order", broker)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ch := make(chan any, 100)
	s.OnData(func(v any) { ch <- v })

	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.Subscribe())

	for i := range 50 {
		require.NoError(t, s.Publish(ctx, i))
	}

	for i := range 50 {
		select {
		case v := <-ch:
			require.Equal(t, float64(i), v)
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for message %d", i)
		}
	}
}

func TestBroadcastOverMemory_Unsubscribe(t *testing.T) {
	t.Parallel()

	broker := memory.New()
	t.Cleanup(func() { broker.Close() })

	ctx := context.Background()
	const addr = "memory://unsub"

	pub, err := pubsub.New("news", addr, broker)
	require.NoError(t, err)
	t.Cleanup(func() { pub.Close() })
	require.NoError(t, pub.Connect(ctx))

	sub, err := pubsub.New("news", addr, broker)
	require.NoError(t, err)
	t.Cleanup(func() { sub.Close() })

	ch := make(chan any, 10)
	sub.OnData(func(v any) { ch <- v })
	require.NoError(t, sub.Connect(ctx))
	require.NoError(t, sub.Subscribe())
	require.NoError(t, sub.Unsubscribe())

	require.NoError(t, pub.Publish(ctx, "ignored"))

	select {
	case v := <-ch:
		t.Fatalf("unexpected message after unsubscribe: %v", v)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, sub.Subscribe())
	require.NoError(t, pub.Publish(ctx, "delivered"))

	select {
	case v := <-ch:
		assert.Equal(t, "delivered", v)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message after resubscribe")
	}
}

func Example() {
	broker := memory.New()
	defer broker.Close()

	s, err := pubsub.New("orders", "memory://example", broker)
	if err != nil {
		panic(err)
	}
	defer s.Close()

	done := make(chan struct{})
	s.OnData(func(v any) {
		fmt.Println(v)
		close(done)
	})

	ctx := context.Background()
	if err := s.Connect(ctx); err != nil {
		panic(err)
	}
	if err := s.Subscribe(); err != nil {
		panic(err)
	}
	if err := s.Publish(ctx, map[string]any{"id": 42}); err != nil {
		panic(err)
	}
	<-done

	// Output: map[id:42]
}
