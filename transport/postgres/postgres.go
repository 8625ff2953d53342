// Package postgres is a transport.Provider that uses PostgreSQL's LISTEN/NOTIFY.
//
// It is suitable for multi-process deployments where every participant can
// reach the same database. It provides no durability: notifications are lost
// if no socket is listening.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/erlorenz/go-broadcast/transport"
)

// MaxPayload is PostgreSQL's NOTIFY payload limit in bytes.
const MaxPayload = 8000

// Provider creates LISTEN/NOTIFY contexts.
type Provider struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Option configures a Provider.
type Option func(*Provider)

// WithPool makes every context share pool instead of opening its own from the
// address. The pool must remain open for the lifetime of the provider and is
// never closed by it.
func WithPool(pool *pgxpool.Pool) Option {
	return func(p *Provider) {
		p.pool = pool
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// New creates a new Postgres provider.
func New(opts ...Option) *Provider {
	p := &Provider{logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewContext implements transport.Provider. addr is a PostgreSQL connection
// string; it is parsed immediately, but the pool is opened and pinged in the
// background.
func (p *Provider) NewContext(addr string) (transport.Context, error) {
	c := &pgContext{
		ready:  transport.NewReadySignal(),
		logger: p.logger,
	}
	linkCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	if p.pool != nil {
		c.pool = p.pool
		go c.ping(linkCtx)
		return c, nil
	}

	cfg, err := pgxpool.ParseConfig(addr)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("postgres: parse address: %w", err)
	}
	c.ownsPool = true
	go c.link(linkCtx, cfg)

	return c, nil
}

// pgContext owns (or borrows) a pool for its sockets.
type pgContext struct {
	ready    *transport.ReadySignal
	logger   *slog.Logger
	cancel   context.CancelFunc
	mu       sync.Mutex
	pool     *pgxpool.Pool
	ownsPool bool
	closed   bool
	sockets  []transport.Socket
}

func (c *pgContext) link(ctx context.Context, cfg *pgxpool.Config) {
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		c.ready.Fire(fmt.Errorf("postgres: open pool: %w", err))
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		pool.Close()
		c.ready.Fire(transport.ErrClosed)
		return
	}
	c.pool = pool
	c.mu.Unlock()

	c.ping(ctx)
}

func (c *pgContext) ping(ctx context.Context) {
	c.mu.Lock()
	pool := c.pool
	c.mu.Unlock()

	if err := pool.Ping(ctx); err != nil {
		c.ready.Fire(fmt.Errorf("postgres: ping: %w", err))
		return
	}
	c.ready.Fire(nil)
}

func (c *pgContext) Ready() <-chan struct{} { return c.ready.Ready() }
func (c *pgContext) Err() error             { return c.ready.Err() }

func (c *pgContext) PubSocket() (transport.PubSocket, error) {
	pool, err := c.checkedPool()
	if err != nil {
		return nil, err
	}
	s := &pubSocket{pool: pool}
	c.track(s)
	return s, nil
}

func (c *pgContext) SubSocket() (transport.SubSocket, error) {
	pool, err := c.checkedPool()
	if err != nil {
		return nil, err
	}
	s := &subSocket{pool: pool, logger: c.logger}
	c.track(s)
	return s, nil
}

// Close closes every socket and, unless the pool was shared, the pool.
func (c *pgContext) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return transport.ErrClosed
	}
	c.closed = true
	sockets := c.sockets
	c.sockets = nil
	pool := c.pool
	c.mu.Unlock()

	c.cancel()
	for _, s := range sockets {
		s.Close()
	}
	if pool != nil && c.ownsPool {
		pool.Close()
	}
	return nil
}

func (c *pgContext) checkedPool() (*pgxpool.Pool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, transport.ErrClosed
	}
	if !c.ready.Fired() {
		return nil, transport.ErrNotReady
	}
	return c.pool, nil
}

func (c *pgContext) track(s transport.Socket) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sockets = append(c.sockets, s)
}

// pubSocket sends notifications with pg_notify.
type pubSocket struct {
	pool    *pgxpool.Pool
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

// Write sends p as the notification payload.
// Note: PostgreSQL NOTIFY payload is limited to 8000 bytes
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
	if len(p) > MaxPayload {
		return fmt.Errorf("postgres: %d bytes exceeds NOTIFY limit of %d: %w", len(p), MaxPayload, transport.ErrPayloadTooLarge)
	}

	_, err := s.pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, string(p))
	return err
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

// subSocket holds a dedicated pooled connection in LISTEN mode.
type subSocket struct {
	pool      *pgxpool.Pool
	logger    *slog.Logger
	listeners transport.Listeners

	mu      sync.Mutex
	channel string
	cancel  context.CancelFunc
	closed  bool
}

// Connect acquires a connection, issues LISTEN and starts the notification loop.
// It returns after LISTEN has completed.
func (s *subSocket) Connect(ctx context.Context, channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return transport.ErrClosed
	}
	if s.channel != "" {
		return transport.ErrAlreadyConnected
	}

	// Acquire a connection from the pool for listening
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("postgres: acquire listener: %w", err)
	}

	_, err = conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize())
	if err != nil {
		conn.Release()
		return fmt.Errorf("postgres: listen %q: %w", channel, err)
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	s.channel = channel
	s.cancel = cancel

	go s.listen(listenCtx, conn)

	return nil
}

// listen waits for notifications and dispatches them in arrival order.
func (s *subSocket) listen(ctx context.Context, conn *pgxpool.Conn) {
	defer s.release(conn)

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				s.logger.Warn("postgres: listener stopped", "channel", s.channel, "error", err)
			}
			return
		}
		s.listeners.Dispatch([]byte(notification.Payload))
	}
}

// release stops listening before the connection goes back to the pool.
func (s *subSocket) release(conn *pgxpool.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := conn.Exec(ctx, "UNLISTEN *"); err != nil {
		// Don't hand a listening connection back to the pool
		conn.Hijack().Close(ctx)
		return
	}
	conn.Release()
}

func (s *subSocket) OnData(fn func([]byte)) {
	s.listeners.Add(fn)
}

func (s *subSocket) RemoveAllDataListeners() {
	s.listeners.RemoveAll()
}

// Close stops the notification loop. The connection is released in the
// background.
func (s *subSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return transport.ErrClosed
	}
	s.closed = true
	s.listeners.RemoveAll()
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}
