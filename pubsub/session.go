package pubsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/erlorenz/go-broadcast/transport"
)

// Session is a connection to one broadcast channel.
//
// It owns exactly one transport context, created by New and released by Close,
// and while connected one publish socket and one subscribe socket. State
// transitions are serialized, so a Session may be shared between goroutines.
type Session struct {
	id      string
	channel string
	addr    string
	conn    transport.Context
	logger  *slog.Logger

	mu        sync.Mutex
	connected bool
	readySeen bool
	listening bool
	pub       transport.PubSocket
	sub       transport.SubSocket

	data registry[any]
	errs registry[error]
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithID overrides the generated session ID used in logs.
func WithID(id string) Option {
	return func(s *Session) {
		s.id = id
	}
}

// New creates a disconnected session for channel. The transport context for
// addr is created immediately; it links to the broker in the background.
func New(channel, addr string, provider transport.Provider, opts ...Option) (*Session, error) {
	if channel == "" {
		return nil, ErrEmptyChannel
	}

	s := &Session{
		id:      uuid.NewString(),
		channel: channel,
		addr:    addr,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("session_id", s.id, "channel", channel)

	conn, err := provider.NewContext(addr)
	if err != nil {
		return nil, fmt.Errorf("pubsub: create transport context: %w", err)
	}
	s.conn = conn

	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Channel returns the channel name both sockets are bound to.
func (s *Session) Channel() string { return s.channel }

// Connected reports whether the session is connected.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.connected
}

// Listening reports whether inbound messages are being delivered.
func (s *Session) Listening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.listening
}

// Connect waits for the transport context to become ready, then creates a
// publish and a subscribe socket and connects both to the channel. Both socket
// connects run concurrently and must both succeed.
//
// Connect on a connected session returns nil without touching the transport.
// The session imposes no timeout: if the transport never becomes ready,
// Connect blocks until ctx is done. While Connect waits, other state changes
// on the session wait too.
//
// If a socket cannot be created or connected, sockets already created are
// closed and the session stays disconnected.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}

	select {
	case <-s.conn.Ready():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := s.conn.Err(); err != nil {
		return fmt.Errorf("pubsub: transport link to %s: %w", s.addr, err)
	}
	if !s.readySeen {
		s.readySeen = true
		s.logger.Debug("transport ready", "addr", s.addr)
	}

	// connected is set before sockets are requested
	s.connected = true

	pub, err := s.conn.PubSocket()
	if err != nil {
		s.connected = false
		return fmt.Errorf("pubsub: create %s socket: %w", transport.PUB, err)
	}
	sub, err := s.conn.SubSocket()
	if err != nil {
		pub.Close()
		s.connected = false
		return fmt.Errorf("pubsub: create %s socket: %w", transport.SUB, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := pub.Connect(gctx, s.channel); err != nil {
			return fmt.Errorf("pubsub: connect %s socket: %w", transport.PUB, err)
		}
		return nil
	})
	g.Go(func() error {
		if err := sub.Connect(gctx, s.channel); err != nil {
			return fmt.Errorf("pubsub: connect %s socket: %w", transport.SUB, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		pub.Close()
		sub.Close()
		s.connected = false
		s.logger.Warn("connect failed", "error", err)
		return err
	}

	s.pub, s.sub = pub, sub
	s.connected = true
	s.logger.Info("connected")

	return nil
}

// Disconnect closes both sockets and marks the session disconnected. It does
// not wait for the broker to acknowledge the close. Close errors are returned
// joined, but the session is disconnected either way.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return ErrNotConnected
	}
	return s.disconnectLocked()
}

func (s *Session) disconnectLocked() error {
	pub, sub := s.pub, s.sub
	s.pub, s.sub = nil, nil
	s.connected = false

	if s.listening {
		sub.RemoveAllDataListeners()
		s.listening = false
	}

	err := errors.Join(pub.Close(), sub.Close())
	if err != nil {
		s.logger.Warn("disconnected with errors", "error", err)
		return fmt.Errorf("pubsub: close sockets: %w", err)
	}
	s.logger.Info("disconnected")
	return nil
}

// Subscribe starts delivering inbound messages to data listeners. Calling it
// again while subscribed is a no-op; handlers are never stacked.
func (s *Session) Subscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return ErrNotConnected
	}
	if s.listening {
		return nil
	}

	s.sub.OnData(s.handle)
	s.listening = true
	s.logger.Debug("subscribed")

	return nil
}

// Unsubscribe stops delivery by removing every handler from the subscribe
// socket. Without a prior Subscribe it is a no-op that still succeeds.
func (s *Session) Unsubscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return ErrNotConnected
	}

	s.sub.RemoveAllDataListeners()
	s.listening = false
	s.logger.Debug("unsubscribed")

	return nil
}

// Publish encodes v as JSON and writes it to the channel. It returns once the
// write is issued; it does not wait for any subscriber.
//
// Values that JSON cannot represent (channels, funcs, NaN, cycles) fail with
// an error matching ErrNotSerializable and nothing is written.
func (s *Session) Publish(ctx context.Context, v any) error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	pub := s.pub
	s.mu.Unlock()

	data, err := encode(v)
	if err != nil {
		return err
	}

	if err := pub.Write(ctx, data); err != nil {
		return fmt.Errorf("pubsub: publish to %s: %w", s.channel, err)
	}
	return nil
}

// OnData registers fn to receive every decoded inbound value while the session
// is subscribed. Listeners run synchronously on the transport's delivery
// goroutine and never with the session's lock held. The returned func removes
// the listener.
func (s *Session) OnData(fn func(v any)) (remove func()) {
	return s.data.add(fn)
}

// OnError registers fn to receive per-message errors, currently
// *MalformedMessageError. The returned func removes the listener.
func (s *Session) OnError(fn func(err error)) (remove func()) {
	return s.errs.add(fn)
}

// RemoveDataListeners removes every listener registered with OnData.
func (s *Session) RemoveDataListeners() {
	s.data.clear()
}

// Close disconnects if needed and releases the transport context. A closed
// session cannot connect again.
func (s *Session) Close() error {
	s.mu.Lock()
	var disconnectErr error
	if s.connected {
		disconnectErr = s.disconnectLocked()
	}
	s.mu.Unlock()

	s.data.clear()
	s.errs.clear()

	if err := s.conn.Close(); err != nil && !errors.Is(err, transport.ErrClosed) {
		return errors.Join(disconnectErr, fmt.Errorf("pubsub: close transport context: %w", err))
	}
	return disconnectErr
}

// handle is the subscribe socket's data handler.
func (s *Session) handle(p []byte) {
	v, err := decode(p)
	if err != nil {
		merr := &MalformedMessageError{Channel: s.channel, Payload: p, Err: err}
		s.logger.Warn("dropping malformed message", "error", err, "bytes", len(p))
		s.errs.emit(merr)
		return
	}
	s.data.emit(v)
}
