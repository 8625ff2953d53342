// Package transporttest runs a common test suite against any transport.Provider.
package transporttest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/erlorenz/go-broadcast/transport"
)

// Timeout bounds every wait in the suite.
var Timeout = 5 * time.Second

var seq atomic.Int64

// Factory returns a provider and the broker address to hand to NewContext.
type Factory func(t *testing.T) (transport.Provider, string)

// RunProviderTests runs the suite. Each subtest gets a fresh provider.
func RunProviderTests(t *testing.T, factory Factory) {
	t.Helper()

	tests := []struct {
		name string
		test func(t *testing.T, p transport.Provider, addr string)
	}{
		{"ReadyOnce", testReadyOnce},
		{"SingleSubscriber", testSingleSubscriber},
		{"MultipleSubscribers", testMultipleSubscribers},
		{"MultipleChannels", testMultipleChannels},
		{"RemoveAllDataListeners", testRemoveAllDataListeners},
		{"WriteBeforeConnect", testWriteBeforeConnect},
		{"WriteAfterClose", testWriteAfterClose},
		{"OrderFromSinglePublisher", testOrderFromSinglePublisher},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, addr := factory(t)
			tt.test(t, p, addr)
		})
	}
}

// Channel returns a channel name unique to this process run.
func Channel(prefix string) string {
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano()%1_000_000, seq.Add(1))
}

// ReadyContext creates a context and waits for it to become ready.
func ReadyContext(t *testing.T, p transport.Provider, addr string) transport.Context {
	t.Helper()

	c, err := p.NewContext(addr)
	if err != nil {
		t.Fatalf("NewContext failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	select {
	case <-c.Ready():
	case <-time.After(Timeout):
		t.Fatal("Timeout waiting for context to become ready")
	}
	if err := c.Err(); err != nil {
		t.Fatalf("context link failed: %v", err)
	}
	return c
}

func connectPub(t *testing.T, c transport.Context, channel string) transport.PubSocket {
	t.Helper()

	s, err := c.PubSocket()
	if err != nil {
		t.Fatalf("PubSocket failed: %v", err)
	}
	if err := s.Connect(context.Background(), channel); err != nil {
		t.Fatalf("pub Connect failed: %v", err)
	}
	return s
}

func connectSub(t *testing.T, c transport.Context, channel string, received chan<- []byte) transport.SubSocket {
	t.Helper()

	s, err := c.SubSocket()
	if err != nil {
		t.Fatalf("SubSocket failed: %v", err)
	}
	s.OnData(func(p []byte) {
		received <- p
	})
	if err := s.Connect(context.Background(), channel); err != nil {
		t.Fatalf("sub Connect failed: %v", err)
	}
	return s
}

func expect(t *testing.T, received <-chan []byte, want string) {
	t.Helper()

	select {
	case msg := <-received:
		if string(msg) != want {
			t.Errorf("Expected %q, got %q", want, msg)
		}
	case <-time.After(Timeout):
		t.Fatalf("Timeout waiting for %q", want)
	}
}

func expectNothing(t *testing.T, received <-chan []byte) {
	t.Helper()

	select {
	case msg := <-received:
		t.Errorf("Expected no message, got %q", msg)
	case <-time.After(200 * time.Millisecond):
	}
}

func testReadyOnce(t *testing.T, p transport.Provider, addr string) {
	c := ReadyContext(t, p, addr)

	// A second receive must not block: the channel stays closed
	select {
	case <-c.Ready():
	default:
		t.Fatal("Ready channel was not closed")
	}
}

func testSingleSubscriber(t *testing.T, p transport.Provider, addr string) {
	c := ReadyContext(t, p, addr)
	channel := Channel("single")
	received := make(chan []byte, 1)

	connectSub(t, c, channel, received)
	pub := connectPub(t, c, channel)

	if err := pub.Write(context.Background(), []byte("hello")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	expect(t, received, "hello")
}

func testMultipleSubscribers(t *testing.T, p transport.Provider, addr string) {
	channel := Channel("multi")
	var chans []chan []byte

	for range 3 {
		c := ReadyContext(t, p, addr)
		ch := make(chan []byte, 1)
		connectSub(t, c, channel, ch)
		chans = append(chans, ch)
	}

	pub := connectPub(t, ReadyContext(t, p, addr), channel)
	if err := pub.Write(context.Background(), []byte("broadcast")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	for _, ch := range chans {
		expect(t, ch, "broadcast")
	}
}

func testMultipleChannels(t *testing.T, p transport.Provider, addr string) {
	c := ReadyContext(t, p, addr)
	channelA, channelB := Channel("chan_a"), Channel("chan_b")
	receivedA := make(chan []byte, 1)
	receivedB := make(chan []byte, 1)

	connectSub(t, c, channelA, receivedA)
	connectSub(t, c, channelB, receivedB)

	pubA := connectPub(t, c, channelA)
	if err := pubA.Write(context.Background(), []byte("message-a")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	expect(t, receivedA, "message-a")
	expectNothing(t, receivedB)
}

func testRemoveAllDataListeners(t *testing.T, p transport.Provider, addr string) {
	c := ReadyContext(t, p, addr)
	channel := Channel("remove")
	received := make(chan []byte, 10)

	sub := connectSub(t, c, channel, received)
	pub := connectPub(t, c, channel)

	pub.Write(context.Background(), []byte("message-1"))
	expect(t, received, "message-1")

	sub.RemoveAllDataListeners()

	pub.Write(context.Background(), []byte("message-2"))
	expectNothing(t, received)
}

func testWriteBeforeConnect(t *testing.T, p transport.Provider, addr string) {
	c := ReadyContext(t, p, addr)

	pub, err := c.PubSocket()
	if err != nil {
		t.Fatalf("PubSocket failed: %v", err)
	}
	defer pub.Close()

	err = pub.Write(context.Background(), []byte("hello"))
	if !errors.Is(err, transport.ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
}

func testWriteAfterClose(t *testing.T, p transport.Provider, addr string) {
	c := ReadyContext(t, p, addr)
	pub := connectPub(t, c, Channel("closed"))

	if err := pub.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	err := pub.Write(context.Background(), []byte("hello"))
	if !errors.Is(err, transport.ErrClosed) {
		t.Errorf("Expected ErrClosed after Close, got %v", err)
	}

	// Double close should not panic
	if err := pub.Close(); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("Expected ErrClosed on double close, got %v", err)
	}
}

func testOrderFromSinglePublisher(t *testing.T, p transport.Provider, addr string) {
	c := ReadyContext(t, p, addr)
	channel := Channel("order")
	received := make(chan []byte, 20)

	connectSub(t, c, channel, received)
	pub := connectPub(t, c, channel)

	for i := range 10 {
		if err := pub.Write(context.Background(), fmt.Appendf(nil, "m%d", i)); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	for i := range 10 {
		expect(t, received, fmt.Sprintf("m%d", i))
	}
}
