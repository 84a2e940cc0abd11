package actuator

import "sync"

// FakeActuator records every call for testing.
type FakeActuator struct {
	mu       sync.Mutex
	Commands []int
	Disables int
	Closed   bool
	SetError error
}

// NewFakeActuator creates a new FakeActuator.
func NewFakeActuator() *FakeActuator {
	return &FakeActuator{}
}

// Set records cmd, clamped at zero.
func (f *FakeActuator) Set(cmd int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil {
		return f.SetError
	}
	f.Commands = append(f.Commands, max(cmd, 0))
	return nil
}

// Disable records a disable.
func (f *FakeActuator) Disable() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Disables++
	return nil
}

// Close marks the fake closed.
func (f *FakeActuator) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// Last returns the most recent command, or 0 if none was set.
func (f *FakeActuator) Last() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Commands) == 0 {
		return 0
	}
	return f.Commands[len(f.Commands)-1]
}

// DisableCount returns how many times Disable was called.
func (f *FakeActuator) DisableCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Disables
}

// fakeDriver records duty and frequency writes for PWM tests.
type fakeDriver struct {
	duties []float64
	freq   int
	closed bool
	err    error
}

func (d *fakeDriver) SetFrequencyHz(hz int) error {
	d.freq = hz
	return d.err
}

func (d *fakeDriver) SetDutyPercent(p float64) error {
	if d.err != nil {
		return d.err
	}
	d.duties = append(d.duties, p)
	return nil
}

func (d *fakeDriver) Close() error {
	d.closed = true
	return nil
}
