// Package pulse counts sensor edges between control ticks.
//
// The counter is written from the GPIO event goroutine and drained by the
// control loop. Both sides only use atomic operations, so neither ever blocks
// and the control loop never observes a partially updated count.
package pulse

import "sync/atomic"

// Counter is a concurrency-safe pulse counter with fetch-and-clear reads.
// The zero value is ready to use.
type Counter struct {
	pending atomic.Uint32
	total   atomic.Uint64
}

// Increment records one edge. Safe to call from any goroutine at any rate.
func (c *Counter) Increment() {
	c.pending.Add(1)
	c.total.Add(1)
}

// ReadAndReset returns the pulses seen since the previous call and clears
// the count in a single atomic swap. An edge that lands during the swap is
// attributed to either this window or the next, never lost.
func (c *Counter) ReadAndReset() uint32 {
	return c.pending.Swap(0)
}

// Total returns the number of pulses counted since creation.
func (c *Counter) Total() uint64 {
	return c.total.Load()
}
