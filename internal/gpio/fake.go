package gpio

import (
	"errors"
	"sync"
)

// FakeEdgeSource is a test double that delivers edges on demand.
type FakeEdgeSource struct {
	mu      sync.Mutex
	handler func()

	// Closed tracks if Close was called
	Closed bool

	// WatchError, if set, will be returned by Watch()
	WatchError error
}

// NewFakeEdgeSource creates a FakeEdgeSource with no handler attached.
func NewFakeEdgeSource() *FakeEdgeSource {
	return &FakeEdgeSource{}
}

// Watch records the handler.
func (f *FakeEdgeSource) Watch(handler func()) error {
	if f.WatchError != nil {
		return f.WatchError
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handler != nil {
		return errors.New("gpio: already watching")
	}
	f.handler = handler
	return nil
}

// Emit delivers n edges to the handler. Edges emitted before Watch or after
// Close are dropped, as they would be on real hardware.
func (f *FakeEdgeSource) Emit(n int) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h == nil {
		return
	}
	for range n {
		h()
	}
}

// Close detaches the handler.
func (f *FakeEdgeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = nil
	f.Closed = true
	return nil
}
