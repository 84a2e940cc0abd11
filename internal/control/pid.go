package control

import (
	"math"
	"time"

	"go.einride.tech/pid"
)

// Gains are the fixed PID coefficients.
type Gains struct {
	Kp float64
	Ki float64
	Kd float64
}

// PID turns speed error into a bounded integer actuator command.
//
// The error, integral and derivative terms are computed by pid.Controller:
//
//	error      = target - measured
//	integral  += error * dt
//	derivative = (error - previousError) / dt
//
// PID adds rounding and clamping to [0, max] on top of the raw signal.
// Not safe for concurrent use.
type PID struct {
	ctrl pid.Controller
	max  int
}

// NewPID creates a controller whose output is clamped to [0, max].
func NewPID(g Gains, max int) *PID {
	return &PID{
		ctrl: pid.Controller{
			Config: pid.ControllerConfig{
				ProportionalGain: g.Kp,
				IntegralGain:     g.Ki,
				DerivativeGain:   g.Kd,
			},
		},
		max: max,
	}
}

// Step advances the controller by dt and returns the clamped command.
// dt must be positive.
func (p *PID) Step(target, measured float64, dt time.Duration) int {
	p.ctrl.Update(pid.ControllerInput{
		ReferenceSignal:  target,
		ActualSignal:     measured,
		SamplingInterval: dt,
	})
	return clampOutput(p.ctrl.State.ControlSignal, p.max)
}

// Signal returns the unclamped control signal from the last Step.
func (p *PID) Signal() float64 {
	return p.ctrl.State.ControlSignal
}

// Reset zeroes the integral and previous error so the next Step behaves
// like the first Step of a fresh controller.
func (p *PID) Reset() {
	p.ctrl.State = pid.ControllerState{}
}

func clampOutput(raw float64, max int) int {
	if math.IsNaN(raw) {
		return 0
	}
	r := math.Round(raw)
	if r <= 0 {
		return 0
	}
	if r >= float64(max) {
		return max
	}
	return int(r)
}
