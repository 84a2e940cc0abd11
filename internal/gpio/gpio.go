// Package gpio delivers sensor edges from the hall/reed pickup to a handler.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import "fmt"

// EdgeSource subscribes a handler to a hardware edge event.
type EdgeSource interface {
	// Watch starts delivering edges. The handler is called once per edge
	// from the source's own goroutine and must not block; its only job is
	// to bump a pulse counter.
	Watch(handler func()) error

	// Close stops delivering edges and releases GPIO resources.
	Close() error
}

// Edge selects which signal transitions count as a pulse.
type Edge string

const (
	EdgeRising  Edge = "rising"
	EdgeFalling Edge = "falling"
	EdgeBoth    Edge = "both"
)

// ParseEdge validates an edge name from configuration.
func ParseEdge(s string) (Edge, error) {
	switch Edge(s) {
	case EdgeRising, EdgeFalling, EdgeBoth:
		return Edge(s), nil
	case "":
		return EdgeRising, nil
	}
	return "", fmt.Errorf("gpio: unknown edge %q", s)
}

// Pin definitions (BCM numbering)
const (
	DefaultChip     = "gpiochip0"
	DefaultPinSense = 17 // hall sensor output
)
