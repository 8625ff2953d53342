package pubsub_test

import (
	"context"
	"sync"

	"github.com/erlorenz/go-broadcast/transport"
)

// fakeProvider records every interaction, in the spirit of call-count stubs.
type fakeProvider struct {
	ctx   *fakeContext
	addrs []string
	err   error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{ctx: newFakeContext()}
}

func (p *fakeProvider) NewContext(addr string) (transport.Context, error) {
	p.addrs = append(p.addrs, addr)
	if p.err != nil {
		return nil, p.err
	}
	return p.ctx, nil
}

type fakeContext struct {
	ready    chan struct{}
	readyErr error

	mu         sync.Mutex
	readyCalls int
	pubs       []*fakeSocket
	subs       []*fakeSocket
	closes     int

	// Hooks applied to sockets as they are created.
	pubErr, subErr               error
	pubConnectErr, subConnectErr error
	pubConnectGate               chan struct{}
	writeErr                     error
}

func newFakeContext() *fakeContext {
	return &fakeContext{ready: make(chan struct{})}
}

// fire closes the ready channel with err as the link result.
func (c *fakeContext) fire(err error) {
	c.readyErr = err
	close(c.ready)
}

func (c *fakeContext) Ready() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.readyCalls++
	return c.ready
}

func (c *fakeContext) Err() error { return c.readyErr }

func (c *fakeContext) PubSocket() (transport.PubSocket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pubErr != nil {
		return nil, c.pubErr
	}
	s := &fakeSocket{kind: transport.PUB, connectErr: c.pubConnectErr, gate: c.pubConnectGate, writeErr: c.writeErr}
	c.pubs = append(c.pubs, s)
	return s, nil
}

func (c *fakeContext) SubSocket() (transport.SubSocket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.subErr != nil {
		return nil, c.subErr
	}
	s := &fakeSocket{kind: transport.SUB, connectErr: c.subConnectErr}
	c.subs = append(c.subs, s)
	return s, nil
}

func (c *fakeContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closes++
	if c.closes > 1 {
		return transport.ErrClosed
	}
	return nil
}

func (c *fakeContext) sockets() (pubs, subs []*fakeSocket) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]*fakeSocket(nil), c.pubs...), append([]*fakeSocket(nil), c.subs...)
}

func (c *fakeContext) socketCount() int {
	pubs, subs := c.sockets()
	return len(pubs) + len(subs)
}

func (c *fakeContext) readyCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.readyCalls
}

type fakeSocket struct {
	kind       transport.Kind
	connectErr error
	writeErr   error
	gate       chan struct{}

	mu        sync.Mutex
	connects  []string
	closes    int
	writes    [][]byte
	onData    int
	removeAll int
	handlers  []func([]byte)
}

func (s *fakeSocket) Connect(ctx context.Context, channel string) error {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.connects = append(s.connects, channel)
	return s.connectErr
}

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closes++
	return nil
}

func (s *fakeSocket) Write(ctx context.Context, p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writeErr != nil {
		return s.writeErr
	}
	s.writes = append(s.writes, append([]byte(nil), p...))
	return nil
}

func (s *fakeSocket) OnData(fn func([]byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.onData++
	s.handlers = append(s.handlers, fn)
}

func (s *fakeSocket) RemoveAllDataListeners() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeAll++
	s.handlers = nil
}

// deliver plays the provider pushing p to the socket.
func (s *fakeSocket) deliver(p string) {
	s.mu.Lock()
	handlers := append([]func([]byte){}, s.handlers...)
	s.mu.Unlock()

	for _, fn := range handlers {
		fn([]byte(p))
	}
}

func (s *fakeSocket) stats() (connects []string, closes int, writes [][]byte, onData, removeAll int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.connects...), s.closes, append([][]byte(nil), s.writes...), s.onData, s.removeAll
}
