package control

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/xid"
)

// ErrInvalidCommand is returned by Apply for commands that must not change
// the session (negative or non-finite target, timed run without a duration).
var ErrInvalidCommand = errors.New("control: invalid command")

// Config holds the constants fixed at startup.
type Config struct {
	Period       time.Duration // sampling period
	PulsesPerRev int
	Gains        Gains
	OutputMax    int
	FilterWindow int
	// StallAfter is how long a running session may see no pulses before a
	// single STALL warning is emitted. 0 disables the check.
	StallAfter time.Duration
}

// Validate rejects configurations that would make a tick divide by zero or
// produce an empty output range.
func (c Config) Validate() error {
	if c.Period <= 0 {
		return fmt.Errorf("control: sampling period must be > 0, got %v", c.Period)
	}
	if c.PulsesPerRev <= 0 {
		return fmt.Errorf("control: pulses per revolution must be > 0, got %d", c.PulsesPerRev)
	}
	if c.OutputMax <= 0 {
		return fmt.Errorf("control: output max must be > 0, got %d", c.OutputMax)
	}
	if c.FilterWindow <= 0 {
		return fmt.Errorf("control: filter window must be > 0, got %d", c.FilterWindow)
	}
	if c.StallAfter < 0 {
		return fmt.Errorf("control: stall_after must be >= 0, got %v", c.StallAfter)
	}
	return nil
}

// Controller runs the per-tick pipeline (estimate, filter, PID) and the
// session state machine. It owns all control state; only the pulse count
// it is fed lives elsewhere.
//
// Not safe for concurrent use. The run loop is the only caller.
type Controller struct {
	cfg     Config
	est     *Estimator
	filter  *MovingAverage
	pid     *PID
	session Session

	lastTick      time.Time
	lastPulseAt   time.Time
	stallReported bool

	lastSample Sample
	counts     Counts

	// NewID returns the identifier for a new session.
	NewID func() string
}

// New creates a Controller. start is the time of the first sampling window.
func New(cfg Config, start time.Time) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	est, err := NewEstimator(cfg.PulsesPerRev)
	if err != nil {
		return nil, err
	}
	return &Controller{
		cfg:      cfg,
		est:      est,
		filter:   NewMovingAverage(cfg.FilterWindow),
		pid:      NewPID(cfg.Gains, cfg.OutputMax),
		lastTick: start,
		NewID:    func() string { return xid.New().String() },
	}, nil
}

// Apply feeds one decoded command into the session state machine.
// Accepted commands always produce one ACK event. A timed session whose
// deadline passed since the last tick is completed first, so its COMPLETE
// precedes the ACK. Invalid commands return ErrInvalidCommand and leave
// every piece of state untouched.
func (c *Controller) Apply(cmd Command, now time.Time) (Output, error) {
	if err := validateCommand(cmd); err != nil {
		c.counts.Rejected++
		return Output{}, err
	}

	var out Output
	if c.session.expired(now) {
		out = c.complete(now)
	}
	ack := len(out.Events)
	out.Events = append(out.Events, c.event(EventAck, now, cmd.Target))

	switch {
	case cmd.Target == 0:
		if c.session.Running() {
			rec := c.session.finish(now, EventStop)
			c.counts.Stopped++
			out.Finished = &rec
			out.Events = append(out.Events, Event{
				Timestamp: now,
				Type:      EventStop,
				SessionID: rec.ID,
				Target:    rec.Target,
			})
		}
		// Re-disable even when already idle so a stop always reaches the motor.
		c.pid.Reset()
		out.Disable = true

	case !c.session.Running():
		c.session.start(c.NewID(), cmd, now)
		c.pid.Reset()
		c.stallReported = false
		c.lastPulseAt = now
		c.lastSample = Sample{}
		c.counts.Started++
		out.Events = append(out.Events, c.event(EventStart, now, cmd.Target))

	default:
		// A target change while running is a continuous adjustment; the
		// accumulated integral carries over.
		c.session.adjust(cmd, now)
		out.Events = append(out.Events, c.event(EventAdjust, now, cmd.Target))
	}

	// The ACK names the session the command acted on.
	out.Events[ack].SessionID = c.session.id
	out.Events[ack].Deadline = c.session.deadline
	if !c.session.Running() && out.Finished != nil {
		out.Events[ack].SessionID = out.Finished.ID
	}
	out.Running = c.session.Running()
	return out, nil
}

// complete ends a timed session at its deadline.
func (c *Controller) complete(now time.Time) Output {
	rec := c.session.finish(now, EventComplete)
	c.pid.Reset()
	c.counts.Completed++
	return Output{
		Disable:  true,
		Finished: &rec,
		Events: []Event{{
			Timestamp: now,
			Type:      EventComplete,
			SessionID: rec.ID,
			Target:    rec.Target,
		}},
	}
}

func validateCommand(cmd Command) error {
	switch {
	case math.IsNaN(cmd.Target) || math.IsInf(cmd.Target, 0):
		return fmt.Errorf("%w: target %v", ErrInvalidCommand, cmd.Target)
	case cmd.Target < 0:
		return fmt.Errorf("%w: negative target %v", ErrInvalidCommand, cmd.Target)
	case cmd.Timed && cmd.Target > 0 && cmd.Duration <= 0:
		return fmt.Errorf("%w: timed run needs a positive duration, got %v", ErrInvalidCommand, cmd.Duration)
	case !cmd.Timed && cmd.Duration != 0:
		return fmt.Errorf("%w: duration without timed flag", ErrInvalidCommand)
	}
	return nil
}

// Tick runs one control cycle for the pulses counted since the previous tick.
// The estimate and filter run every tick so the filter is warm when a
// session starts; the PID and actuator are only engaged while running.
func (c *Controller) Tick(pulses uint32, now time.Time) Output {
	window := now.Sub(c.lastTick)
	if window <= 0 {
		// The ticker guarantees spacing; a clock step must not divide by zero.
		window = c.cfg.Period
	}
	c.lastTick = now

	raw := c.est.Estimate(pulses, window)
	filtered := c.filter.Push(raw)
	if pulses > 0 {
		c.lastPulseAt = now
	}

	if !c.session.Running() {
		return Output{}
	}

	if c.session.expired(now) {
		return c.complete(now)
	}

	target := c.session.target
	drive := c.pid.Step(target, filtered, window)

	s := Sample{
		Timestamp: now,
		RawRPM:    raw,
		Filtered:  filtered,
		Target:    target,
		Output:    drive,
		ErrorPct:  errorPercent(target, filtered),
	}
	c.lastSample = s

	out := Output{Running: true, Drive: drive, Sample: s}

	if c.cfg.StallAfter > 0 && !c.stallReported && now.Sub(c.lastPulseAt) >= c.cfg.StallAfter {
		c.stallReported = true
		out.Events = append(out.Events, c.event(EventStall, now, target))
	}
	return out
}

func errorPercent(target, measured float64) float64 {
	if target == 0 {
		return 0
	}
	return math.Abs(target-measured) / target * 100
}

func (c *Controller) event(t EventType, now time.Time, target float64) Event {
	return Event{
		Timestamp: now,
		Type:      t,
		SessionID: c.session.id,
		Target:    target,
		Deadline:  c.session.deadline,
	}
}

// State returns the session state.
func (c *Controller) State() State {
	return c.session.State()
}

// Target returns the active target, or 0 when idle.
func (c *Controller) Target() float64 {
	return c.session.target
}

// SessionID returns the identifier of the active session, or "" when idle.
func (c *Controller) SessionID() string {
	return c.session.id
}

// Deadline returns the automatic stop time, or the zero time when untimed or idle.
func (c *Controller) Deadline() time.Time {
	return c.session.deadline
}

// Remaining returns the time left before the automatic stop, or 0 when untimed or idle.
func (c *Controller) Remaining(now time.Time) time.Duration {
	if c.session.deadline.IsZero() {
		return 0
	}
	if d := c.session.deadline.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Filtered returns the latest filtered rpm, tracked whether or not a session is running.
func (c *Controller) Filtered() float64 {
	return c.filter.Value()
}

// LastSample returns the most recent running sample.
func (c *Controller) LastSample() Sample {
	return c.lastSample
}

// CountsSnapshot returns a copy of the transition counters.
func (c *Controller) CountsSnapshot() Counts {
	return c.counts
}
