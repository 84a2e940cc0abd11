//go:build !linux

package gpio

import (
	"errors"
	"time"
)

// RealEdgeSource is not available on non-Linux platforms.
type RealEdgeSource struct{}

// NewRealEdgeSource returns a source whose Watch always fails on non-Linux platforms.
func NewRealEdgeSource(chip string, pin int, edge Edge, debounce time.Duration) *RealEdgeSource {
	return &RealEdgeSource{}
}

// Watch is not implemented on non-Linux platforms.
func (s *RealEdgeSource) Watch(handler func()) error {
	return errors.New("gpio: not supported on this platform (requires Linux)")
}

// Close is not implemented on non-Linux platforms.
func (s *RealEdgeSource) Close() error {
	return nil
}
