// Package memory is an in-process transport.Provider.
//
// A Broker plays the role of the message queue. Contexts created with the same
// address share channels; different addresses are isolated from each other.
// Messages are not persisted and are lost if no subscriber is connected.
package memory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/eapache/queue"
	"github.com/google/uuid"

	"github.com/erlorenz/go-broadcast/transport"
)

// Broker is a simple in-memory message queue. It's suitable for single-process
// applications, testing, and development.
type Broker struct {
	mu     sync.RWMutex
	subs   map[string][]*subSocket
	closed bool
	logger *slog.Logger
}

// Option configures a Broker.
type Option func(*Broker)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broker) {
		b.logger = logger
	}
}

// New creates a new in-memory broker.
func New(opts ...Option) *Broker {
	b := &Broker{
		subs:   make(map[string][]*subSocket),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewContext implements transport.Provider. The context becomes ready on a
// separate goroutine, mirroring a network link.
func (b *Broker) NewContext(addr string) (transport.Context, error) {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()

	if closed {
		return nil, transport.ErrClosed
	}

	c := &memContext{
		broker: b,
		addr:   addr,
		ready:  transport.NewReadySignal(),
	}
	go c.ready.Fire(nil)

	return c, nil
}

// Subscribers returns the number of connected subscribe sockets on a channel.
func (b *Broker) Subscribers(addr, channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.subs[topicKey(addr, channel)])
}

// Close disconnects every subscribe socket and prevents new contexts.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return transport.ErrClosed
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[string][]*subSocket)
	b.mu.Unlock()

	for _, list := range subs {
		for _, s := range list {
			s.stop()
		}
	}
	return nil
}

// publish fans payload out to every subscriber of the topic.
// If no subscribers exist, the message is dropped.
func (b *Broker) publish(key string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return transport.ErrClosed
	}

	for _, s := range b.subs[key] {
		// Copy payload so the publisher can reuse its buffer
		payloadCopy := make([]byte, len(payload))
		copy(payloadCopy, payload)
		s.enqueue(payloadCopy)
	}
	return nil
}

func (b *Broker) addSubscriber(key string, s *subSocket) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return transport.ErrClosed
	}
	b.subs[key] = append(b.subs[key], s)
	return nil
}

func (b *Broker) removeSubscriber(key string, target *subSocket) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[key]
	for i, s := range subs {
		if s == target {
			b.subs[key] = append(subs[:i], subs[i+1:]...)
			break
		}
	}

	// Clean up empty topic
	if len(b.subs[key]) == 0 {
		delete(b.subs, key)
	}
}

func topicKey(addr, channel string) string {
	return addr + "#" + channel
}

// memContext is the transport.Context of a Broker.
type memContext struct {
	broker  *Broker
	addr    string
	ready   *transport.ReadySignal
	mu      sync.Mutex
	closed  bool
	sockets []transport.Socket
}

func (c *memContext) Ready() <-chan struct{} { return c.ready.Ready() }
func (c *memContext) Err() error             { return c.ready.Err() }

func (c *memContext) PubSocket() (transport.PubSocket, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	s := &pubSocket{ctx: c, id: uuid.NewString()}
	c.track(s)
	return s, nil
}

func (c *memContext) SubSocket() (transport.SubSocket, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	s := newSubSocket(c)
	c.track(s)
	return s, nil
}

func (c *memContext) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return transport.ErrClosed
	}
	c.closed = true
	sockets := c.sockets
	c.sockets = nil
	c.mu.Unlock()

	for _, s := range sockets {
		s.Close()
	}
	return nil
}

func (c *memContext) check() error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return transport.ErrClosed
	}
	if !c.ready.Fired() {
		return transport.ErrNotReady
	}
	return nil
}

func (c *memContext) track(s transport.Socket) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sockets = append(c.sockets, s)
}

// pubSocket writes to a Broker topic.
type pubSocket struct {
	ctx    *memContext
	id     string
	mu     sync.RWMutex
	key    string
	closed bool
}

func (s *pubSocket) Connect(ctx context.Context, channel string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return transport.ErrClosed
	}
	if s.key != "" {
		return transport.ErrAlreadyConnected
	}
	s.key = topicKey(s.ctx.addr, channel)

	s.ctx.broker.logger.Debug("memory: pub socket connected",
		"socket_id", s.id, "addr", s.ctx.addr, "channel", channel)
	return nil
}

func (s *pubSocket) Write(ctx context.Context, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	key, closed := s.key, s.closed
	s.mu.RUnlock()

	if closed {
		return transport.ErrClosed
	}
	if key == "" {
		return transport.ErrNotConnected
	}
	return s.ctx.broker.publish(key, p)
}

func (s *pubSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return transport.ErrClosed
	}
	s.closed = true
	return nil
}

// subSocket buffers inbound payloads in an unbounded FIFO and delivers them
// to its listeners from a single goroutine, so order is kept per socket.
type subSocket struct {
	ctx       *memContext
	id        string
	listeners transport.Listeners

	mu     sync.Mutex
	cond   *sync.Cond
	inbox  *queue.Queue
	key    string
	closed bool
}

func newSubSocket(c *memContext) *subSocket {
	s := &subSocket{
		ctx:   c,
		id:    uuid.NewString(),
		inbox: queue.New(),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *subSocket) Connect(ctx context.Context, channel string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return transport.ErrClosed
	}
	if s.key != "" {
		s.mu.Unlock()
		return transport.ErrAlreadyConnected
	}
	s.key = topicKey(s.ctx.addr, channel)
	s.mu.Unlock()

	if err := s.ctx.broker.addSubscriber(s.key, s); err != nil {
		return err
	}

	go s.run()

	s.ctx.broker.logger.Debug("memory: sub socket connected",
		"socket_id", s.id, "addr", s.ctx.addr, "channel", channel)
	return nil
}

func (s *subSocket) OnData(fn func([]byte)) {
	s.listeners.Add(fn)
}

func (s *subSocket) RemoveAllDataListeners() {
	s.listeners.RemoveAll()
}

func (s *subSocket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return transport.ErrClosed
	}
	key := s.key
	s.mu.Unlock()

	if key != "" {
		s.ctx.broker.removeSubscriber(key, s)
	}
	s.stop()
	return nil
}

func (s *subSocket) enqueue(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.inbox.Add(p)
	s.cond.Signal()
}

func (s *subSocket) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.cond.Broadcast()
}

func (s *subSocket) run() {
	for {
		s.mu.Lock()
		for s.inbox.Length() == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		p := s.inbox.Remove().([]byte)
		s.mu.Unlock()

		s.listeners.Dispatch(p)
	}
}
