package control

import (
	"fmt"
	"time"
)

// Estimator converts pulse counts over a time window into rpm.
type Estimator struct {
	pulsesPerRev float64
}

// NewEstimator creates an Estimator for a sensor producing pulsesPerRev edges
// per rotation. A non-positive value is a configuration error.
func NewEstimator(pulsesPerRev int) (*Estimator, error) {
	if pulsesPerRev <= 0 {
		return nil, fmt.Errorf("control: pulses per revolution must be > 0, got %d", pulsesPerRev)
	}
	return &Estimator{pulsesPerRev: float64(pulsesPerRev)}, nil
}

// Estimate returns rpm = (pulses / ppr) * (60000 / elapsedMillis).
// elapsed must be positive; the tick loop guarantees this.
func (e *Estimator) Estimate(pulses uint32, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		panic(fmt.Sprintf("control: non-positive sample window %v", elapsed))
	}
	ms := float64(elapsed) / float64(time.Millisecond)
	return (float64(pulses) / e.pulsesPerRev) * (60000 / ms)
}
