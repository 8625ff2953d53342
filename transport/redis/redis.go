// Package redis is a transport.Provider backed by Redis PUBLISH/SUBSCRIBE.
//
// Redis pub/sub is fire-and-forget: a message reaches the sockets subscribed at
// the moment it is published and nothing is retained.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/erlorenz/go-broadcast/transport"
)

var (
	// ErrEmptyAddress is returned when no address and no client are given.
	ErrEmptyAddress = errors.New("redis: empty connection URL")
	// ErrNotReachable is the link error when every ping attempt failed.
	ErrNotReachable = errors.New("redis: server did not become ready")
)

// Config contains configuration options for the Redis provider.
type Config struct {
	// Client is shared by every context when set; the address passed to
	// NewContext is then ignored and the client is never closed by the provider.
	Client redis.UniversalClient
	// RetryAttempts is the number of pings before the link fails. Defaults to 3.
	RetryAttempts int
	// RetryInterval is the wait between pings. Defaults to 1s.
	RetryInterval time.Duration
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Provider creates Redis contexts.
type Provider struct {
	cfg Config
}

// New creates a new Redis provider.
func New(cfg Config) *Provider {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Provider{cfg: cfg}
}

// NewContext implements transport.Provider. addr is a redis:// or rediss:// URL.
func (p *Provider) NewContext(addr string) (transport.Context, error) {
	c := &redisContext{
		ready:  transport.NewReadySignal(),
		logger: p.cfg.Logger,
		client: p.cfg.Client,
	}

	if c.client == nil {
		if addr == "" {
			return nil, ErrEmptyAddress
		}
		opts, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("redis: parse address: %w", err)
		}
		c.client = redis.NewClient(opts)
		c.ownsClient = true
	}

	linkCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.link(linkCtx, p.cfg.RetryAttempts, p.cfg.RetryInterval)

	return c, nil
}

type redisContext struct {
	ready      *transport.ReadySignal
	logger     *slog.Logger
	client     redis.UniversalClient
	ownsClient bool
	cancel     context.CancelFunc

	mu      sync.Mutex
	closed  bool
	sockets []transport.Socket
}

// link pings until the server answers or the attempts run out.
func (c *redisContext) link(ctx context.Context, attempts int, interval time.Duration) {
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = c.client.Ping(ctx).Err()
		if lastErr == nil {
			c.ready.Fire(nil)
			return
		}
		c.logger.Debug("redis: ping failed", "attempt", attempt, "error", lastErr)

		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			c.ready.Fire(ctx.Err())
			return
		case <-time.After(interval):
		}
	}
	c.ready.Fire(fmt.Errorf("%w: %w", ErrNotReachable, lastErr))
}

func (c *redisContext) Ready() <-chan struct{} { return c.ready.Ready() }
func (c *redisContext) Err() error             { return c.ready.Err() }

func (c *redisContext) PubSocket() (transport.PubSocket, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	s := &pubSocket{client: c.client}
	c.track(s)
	return s, nil
}

func (c *redisContext) SubSocket() (transport.SubSocket, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	s := &subSocket{client: c.client, logger: c.logger}
	c.track(s)
	return s, nil
}

// Close closes every socket and, unless the client was shared, the client.
func (c *redisContext) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return transport.ErrClosed
	}
	c.closed = true
	sockets := c.sockets
	c.sockets = nil
	c.mu.Unlock()

	c.cancel()
	for _, s := range sockets {
		s.Close()
	}
	if c.ownsClient {
		return c.client.Close()
	}
	return nil
}

func (c *redisContext) check() error {
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

func (c *redisContext) track(s transport.Socket) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sockets = append(c.sockets, s)
}

// pubSocket publishes with PUBLISH.
type pubSocket struct {
	client  redis.UniversalClient
	mu      sync.RWMutex
	channel string
	closed  bool
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
	if s.channel != "" {
		return transport.ErrAlreadyConnected
	}
	s.channel = channel
	return nil
}

func (s *pubSocket) Write(ctx context.Context, p []byte) error {
	s.mu.RLock()
	channel, closed := s.channel, s.closed
	s.mu.RUnlock()

	if closed {
		return transport.ErrClosed
	}
	if channel == "" {
		return transport.ErrNotConnected
	}

	if err := s.client.Publish(ctx, channel, p).Err(); err != nil {
		return fmt.Errorf("redis: publish to %s: %w", channel, err)
	}
	return nil
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

// subSocket owns one *redis.PubSub.
type subSocket struct {
	client    redis.UniversalClient
	logger    *slog.Logger
	listeners transport.Listeners

	mu     sync.Mutex
	ps     *redis.PubSub
	closed bool
}

// Connect subscribes and waits for the server's confirmation.
func (s *subSocket) Connect(ctx context.Context, channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return transport.ErrClosed
	}
	if s.ps != nil {
		return transport.ErrAlreadyConnected
	}

	ps := s.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return fmt.Errorf("redis: subscribe to %s: %w", channel, err)
	}
	s.ps = ps

	go s.receive(ps.Channel(), channel)

	return nil
}

// receive dispatches messages until the PubSub is closed.
func (s *subSocket) receive(msgs <-chan *redis.Message, channel string) {
	for msg := range msgs {
		s.listeners.Dispatch([]byte(msg.Payload))
	}
	s.logger.Debug("redis: subscription ended", "channel", channel)
}

func (s *subSocket) OnData(fn func([]byte)) {
	s.listeners.Add(fn)
}

func (s *subSocket) RemoveAllDataListeners() {
	s.listeners.RemoveAll()
}

func (s *subSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return transport.ErrClosed
	}
	s.closed = true
	s.listeners.RemoveAll()
	if s.ps != nil {
		return s.ps.Close()
	}
	return nil
}
