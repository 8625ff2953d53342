package transport

import "sync"

// ReadySignal implements the Ready/Err half of Context.
// Only the first call to Fire has an effect.
type ReadySignal struct {
	once sync.Once
	ch   chan struct{}
	mu   sync.RWMutex
	err  error
}

// NewReadySignal returns an unfired signal.
func NewReadySignal() *ReadySignal {
	return &ReadySignal{ch: make(chan struct{})}
}

// Fire records err and closes the Ready channel. Later calls are no-ops.
func (r *ReadySignal) Fire(err error) {
	r.once.Do(func() {
		r.mu.Lock()
		r.err = err
		r.mu.Unlock()
		close(r.ch)
	})
}

// Ready returns the channel closed by the first Fire.
func (r *ReadySignal) Ready() <-chan struct{} {
	return r.ch
}

// Err returns the error passed to the first Fire.
func (r *ReadySignal) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.err
}

// Fired reports whether the signal has fired successfully.
func (r *ReadySignal) Fired() bool {
	select {
	case <-r.ch:
		return r.Err() == nil
	default:
		return false
	}
}
