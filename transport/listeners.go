package transport

import "sync"

// Listeners is a handler registry for SubSocket implementations.
// The zero value is ready to use.
type Listeners struct {
	mu       sync.RWMutex
	handlers []func([]byte)
}

// Add registers fn.
func (l *Listeners) Add(fn func([]byte)) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.handlers = append(l.handlers, fn)
}

// RemoveAll drops every registered handler.
func (l *Listeners) RemoveAll() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.handlers = nil
}

// Len returns the number of registered handlers.
func (l *Listeners) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.handlers)
}

// Dispatch calls every handler with its own copy of p.
// Handlers are called outside the lock so they may add or remove handlers.
func (l *Listeners) Dispatch(p []byte) {
	l.mu.RLock()
	handlers := make([]func([]byte), len(l.handlers))
	copy(handlers, l.handlers)
	l.mu.RUnlock()

	for _, fn := range handlers {
		// Copy payload so handlers can't mutate each other's view
		payloadCopy := make([]byte, len(p))
		copy(payloadCopy, p)
		fn(payloadCopy)
	}
}
