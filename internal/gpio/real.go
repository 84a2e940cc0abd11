//go:build linux

package gpio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// RealEdgeSource watches a GPIO line for edges using the Linux GPIO character device.
type RealEdgeSource struct {
	chipName string
	pin      int
	edge     Edge
	debounce time.Duration

	mu   sync.Mutex
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// NewRealEdgeSource prepares an edge source for the given chip and BCM pin.
// The line is not requested until Watch is called.
func NewRealEdgeSource(chip string, pin int, edge Edge, debounce time.Duration) *RealEdgeSource {
	if chip == "" {
		chip = DefaultChip
	}
	return &RealEdgeSource{
		chipName: chip,
		pin:      pin,
		edge:     edge,
		debounce: debounce,
	}
}

// Watch requests the line with edge detection and calls handler for every
// matching edge event.
func (s *RealEdgeSource) Watch(handler func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.line != nil {
		return errors.New("gpio: already watching")
	}

	chip, err := gpiocdev.NewChip(s.chipName, gpiocdev.WithConsumer("centrifuge"))
	if err != nil {
		return fmt.Errorf("open gpio chip: %w", err)
	}

	// The sensor has an open-collector output, so pull the line up and count
	// the edges the magnet produces.
	opts := []gpiocdev.LineReqOption{
		gpiocdev.WithPullUp,
		gpiocdev.WithEventHandler(func(gpiocdev.LineEvent) { handler() }),
		edgeOption(s.edge),
	}
	if s.debounce > 0 {
		opts = append(opts, gpiocdev.WithDebounce(s.debounce))
	}

	line, err := chip.RequestLine(s.pin, opts...)
	if err != nil {
		chip.Close()
		return fmt.Errorf("request sense pin %d: %w", s.pin, err)
	}

	s.chip = chip
	s.line = line
	return nil
}

func edgeOption(e Edge) gpiocdev.LineReqOption {
	switch e {
	case EdgeFalling:
		return gpiocdev.WithFallingEdge
	case EdgeBoth:
		return gpiocdev.WithBothEdges
	default:
		return gpiocdev.WithRisingEdge
	}
}

// Close releases GPIO resources.
// Reconfigures the pin to a plain input with pull-down (matching Pi boot
// defaults) before closing so the next boot sees a quiet line.
func (s *RealEdgeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.line != nil {
		if err := s.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure sense pin: %w", err))
		}
		if err := s.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sense pin: %w", err))
		}
		s.line = nil
	}
	if s.chip != nil {
		if err := s.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		s.chip = nil
	}
	return errors.Join(errs...)
}
