// Package sim models a centrifuge motor and its hall pickup so the daemon
// can run, and be tested, without hardware.
//
// Motor implements both actuator.Actuator (it receives drive commands) and
// gpio.EdgeSource (it emits one edge per simulated pulse).
package sim

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"
)

// Config describes the simulated rig.
type Config struct {
	MaxRPM       float64       // steady-state speed at full drive
	TimeConstant time.Duration // first-order spin-up time constant
	PulsesPerRev int
	OutputMax    int
	Step         time.Duration // integration step when running freely
	Noise        float64       // relative speed noise, 0 disables
}

// DefaultConfig is a small benchtop centrifuge.
func DefaultConfig() Config {
	return Config{
		MaxRPM:       4000,
		TimeConstant: 800 * time.Millisecond,
		PulsesPerRev: 2,
		OutputMax:    255,
		Step:         2 * time.Millisecond,
	}
}

// Motor is a first-order DC motor:
//
//	d(rpm)/dt = (MaxRPM*cmd/OutputMax - rpm) / TimeConstant
type Motor struct {
	cfg Config

	mu      sync.Mutex
	cmd     int
	rpm     float64
	phase   float64 // fractional pulses not yet emitted
	handler func()
	rng     *rand.Rand

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMotor creates a stopped motor.
func NewMotor(cfg Config) *Motor {
	d := DefaultConfig()
	if cfg.MaxRPM <= 0 {
		cfg.MaxRPM = d.MaxRPM
	}
	if cfg.TimeConstant <= 0 {
		cfg.TimeConstant = d.TimeConstant
	}
	if cfg.PulsesPerRev <= 0 {
		cfg.PulsesPerRev = d.PulsesPerRev
	}
	if cfg.OutputMax <= 0 {
		cfg.OutputMax = d.OutputMax
	}
	if cfg.Step <= 0 {
		cfg.Step = d.Step
	}
	return &Motor{cfg: cfg, rng: rand.New(rand.NewSource(1))}
}

// Set applies a drive command, clamped to [0, OutputMax].
func (m *Motor) Set(cmd int) error {
	m.mu.Lock()
	m.cmd = min(max(cmd, 0), m.cfg.OutputMax)
	m.mu.Unlock()
	return nil
}

// Disable removes drive; the rotor coasts down.
func (m *Motor) Disable() error {
	return m.Set(0)
}

// Command returns the current drive command.
func (m *Motor) Command() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cmd
}

// RPM returns the true rotor speed.
func (m *Motor) RPM() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rpm
}

// Advance integrates the model over dt, calls the edge handler once per
// pulse produced, and returns the pulse count. Tests drive the motor with
// Advance directly; Watch calls it from a ticker.
func (m *Motor) Advance(dt time.Duration) int {
	if dt <= 0 {
		return 0
	}
	m.mu.Lock()
	steady := m.cfg.MaxRPM * float64(m.cmd) / float64(m.cfg.OutputMax)
	alpha := 1 - math.Exp(-dt.Seconds()/m.cfg.TimeConstant.Seconds())
	m.rpm += alpha * (steady - m.rpm)
	if m.cfg.Noise > 0 {
		m.rpm *= 1 + m.cfg.Noise*(m.rng.Float64()*2-1)
	}
	if m.rpm < 0 {
		m.rpm = 0
	}

	m.phase += m.rpm / 60 * float64(m.cfg.PulsesPerRev) * dt.Seconds()
	n := int(m.phase)
	m.phase -= float64(n)
	h := m.handler
	m.mu.Unlock()

	if h != nil {
		for range n {
			h()
		}
	}
	return n
}

// Watch registers the edge handler and starts free-running the model in
// real time.
func (m *Motor) Watch(handler func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return errors.New("sim: already watching")
	}
	m.handler = handler

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(ctx, m.done)
	return nil
}

// Attach registers the edge handler without starting the free-running
// goroutine. Use with Advance.
func (m *Motor) Attach(handler func()) {
	m.mu.Lock()
	m.handler = handler
	m.mu.Unlock()
}

func (m *Motor) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.cfg.Step)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			m.Advance(t.Sub(last))
			last = t
		}
	}
}

// Close stops drive and the free-running goroutine. It satisfies both the
// actuator and edge source interfaces, so it may be called twice.
func (m *Motor) Close() error {
	m.mu.Lock()
	m.cmd = 0
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}
