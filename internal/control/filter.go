package control

// MovingAverage is a fixed-capacity rolling mean.
// Not safe for concurrent use.
type MovingAverage struct {
	buf    []float64
	cursor int // next write position
	filled int
}

// NewMovingAverage creates a filter over the last n values. n < 1 is treated as 1.
func NewMovingAverage(n int) *MovingAverage {
	if n < 1 {
		n = 1
	}
	return &MovingAverage{buf: make([]float64, n)}
}

// Push adds v and returns the mean of the valid slots.
// Before warm-up only the values seen so far contribute.
func (m *MovingAverage) Push(v float64) float64 {
	m.buf[m.cursor] = v
	m.cursor = (m.cursor + 1) % len(m.buf)
	if m.filled < len(m.buf) {
		m.filled++
	}
	return m.Value()
}

// Value returns the current mean, or 0 before the first Push.
// The sum is recomputed each call so long runs do not accumulate drift.
func (m *MovingAverage) Value() float64 {
	if m.filled == 0 {
		return 0
	}
	var sum float64
	for i := range m.filled {
		sum += m.buf[i]
	}
	return sum / float64(m.filled)
}

// Len returns the number of valid slots.
func (m *MovingAverage) Len() int {
	return m.filled
}

// Cap returns the window size.
func (m *MovingAverage) Cap() int {
	return len(m.buf)
}

// Reset discards all values.
func (m *MovingAverage) Reset() {
	for i := range m.buf {
		m.buf[i] = 0
	}
	m.cursor = 0
	m.filled = 0
}
