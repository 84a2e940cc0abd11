// Package actuator drives the motor with a bounded integer command.
// The real implementations use Linux sysfs PWM or a GPIO line.
// The fake implementation allows testing without hardware.
package actuator

import (
	"fmt"
	"sync"
)

// Actuator accepts commands in [0, max] and an explicit disable.
type Actuator interface {
	// Set drives the motor. Values outside [0, max] are clamped.
	Set(cmd int) error

	// Disable forces the output to zero.
	Disable() error

	// Close disables the output and releases hardware resources.
	Close() error
}

// Driver is the minimal interface a PWM/GPIO backend provides.
// Duty is expressed in percent (0..100).
// Close should be best-effort and leave the motor stopped.
type Driver interface {
	SetFrequencyHz(hz int) error
	SetDutyPercent(p float64) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Kind        string // "pwm" or "gpio"
	PWMBase     string // sysfs root, normally /sys/class/pwm
	PWMChip     int    // -1 picks the first chip with channels
	PWMChannel  int
	FrequencyHz int
	GPIOChip    string
	GPIOPin     int
	OutputMax   int
}

var (
	openSysfsFn = openSysfs
	openGPIOFn  = openGPIO
)

// Open builds the actuator described by cfg.
func Open(cfg Config) (*PWM, error) {
	var drv Driver
	var err error
	switch cfg.Kind {
	case "pwm":
		drv, err = openSysfsFn(cfg.PWMBase, cfg.PWMChip, cfg.PWMChannel)
	case "gpio":
		drv, err = openGPIOFn(cfg.GPIOChip, cfg.GPIOPin)
	default:
		return nil, fmt.Errorf("actuator: unknown kind %q", cfg.Kind)
	}
	if err != nil {
		return nil, err
	}
	if cfg.FrequencyHz > 0 {
		if err := drv.SetFrequencyHz(cfg.FrequencyHz); err != nil {
			drv.Close()
			return nil, fmt.Errorf("actuator: set frequency: %w", err)
		}
	}
	return NewPWM(drv, cfg.OutputMax), nil
}

// PWM maps integer commands onto a Driver's duty cycle.
type PWM struct {
	mu   sync.Mutex
	drv  Driver
	max  int
	last int
}

// NewPWM wraps drv so that command max is 100% duty.
func NewPWM(drv Driver, max int) *PWM {
	if max <= 0 {
		max = 255
	}
	return &PWM{drv: drv, max: max}
}

// Set clamps cmd to [0, max] and writes the matching duty cycle.
// Repeated identical commands are not rewritten.
func (p *PWM) Set(cmd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cmd = min(max(cmd, 0), p.max)
	if cmd == p.last {
		return nil
	}
	if err := p.drv.SetDutyPercent(float64(cmd) * 100 / float64(p.max)); err != nil {
		return fmt.Errorf("actuator: set duty: %w", err)
	}
	p.last = cmd
	return nil
}

// Disable writes 0% duty unconditionally.
func (p *PWM) Disable() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.drv.SetDutyPercent(0); err != nil {
		return fmt.Errorf("actuator: disable: %w", err)
	}
	p.last = 0
	return nil
}

// Last returns the last command written.
func (p *PWM) Last() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Close stops the motor and closes the driver.
func (p *PWM) Close() error {
	disableErr := p.Disable()

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.drv.Close(); err != nil {
		return fmt.Errorf("actuator: close: %w", err)
	}
	return disableErr
}
