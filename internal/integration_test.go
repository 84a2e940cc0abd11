package internal

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/centrifuge/internal/control"
	"github.com/sweeney/centrifuge/internal/link"
	"github.com/sweeney/centrifuge/internal/mqtt"
	"github.com/sweeney/centrifuge/internal/pulse"
	"github.com/sweeney/centrifuge/internal/sim"
	"github.com/sweeney/centrifuge/internal/status"
)

const period = 100 * time.Millisecond

// rig is the closed loop with a simulated motor in place of the hardware,
// stepped by hand instead of by a ticker.
type rig struct {
	now     time.Time
	motor   *sim.Motor
	counter *pulse.Counter
	ctrl    *control.Controller
	pub     *mqtt.FakePublisher
	tracker *status.Tracker
	lines   []string
}

func newRig(t *testing.T) *rig {
	t.Helper()
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	ctrl, err := control.New(control.Config{
		Period:       period,
		PulsesPerRev: 2,
		Gains:        control.Gains{Kp: 0.05, Ki: 0.1},
		OutputMax:    255,
		FilterWindow: 5,
		StallAfter:   3 * time.Second,
	}, start)
	require.NoError(t, err)

	r := &rig{
		now: start,
		motor: sim.NewMotor(sim.Config{
			MaxRPM:       3000,
			TimeConstant: 500 * time.Millisecond,
			PulsesPerRev: 2,
			OutputMax:    255,
		}),
		counter: &pulse.Counter{},
		ctrl:    ctrl,
		pub:     mqtt.NewFakePublisher(),
		tracker: status.NewTracker(start, status.Config{}),
	}
	r.motor.Attach(r.counter.Increment)
	return r
}

func (r *rig) command(t *testing.T, line string) {
	t.Helper()
	cmd, err := link.Decode(line)
	require.NoError(t, err)
	out, err := r.ctrl.Apply(cmd, r.now)
	require.NoError(t, err)
	r.lines = append(r.lines, link.FormatAck(cmd))
	r.apply(out)
}

// step advances the motor by one period and runs one control tick.
func (r *rig) step() control.Output {
	r.motor.Advance(period)
	r.now = r.now.Add(period)

	out := r.ctrl.Tick(r.counter.ReadAndReset(), r.now)
	if out.Running {
		r.motor.Set(out.Drive)
		r.pub.PublishSample(out.Sample)
		r.tracker.AddSample(out.Sample)
		r.lines = append(r.lines, link.FormatStatus(out.Sample))
	}
	r.apply(out)
	return out
}

func (r *rig) apply(out control.Output) {
	if out.Disable {
		r.motor.Disable()
	}
	for _, e := range out.Events {
		r.pub.PublishEvent(e)
		if e.Type == control.EventComplete {
			r.lines = append(r.lines, link.DoneLine)
		}
	}
	if out.Finished != nil {
		r.tracker.AddSession(*out.Finished)
	}
}

func (r *rig) run(d time.Duration) {
	for range int(d / period) {
		r.step()
	}
}

func TestClosedLoopConvergesToTarget(t *testing.T) {
	r := newRig(t)
	r.command(t, "1500")
	r.run(20 * time.Second)

	// Average the last ten seconds; single windows are quantised to 300 rpm.
	var sum float64
	const n = 100
	for range n {
		out := r.step()
		require.True(t, out.Running)
		sum += out.Sample.Filtered
	}
	mean := sum / n

	assert.InDelta(t, 1500, mean, 45, "filtered mean within 3% of target")
	assert.InDelta(t, 1500, r.motor.RPM(), 75, "rotor speed within 5% of target")
	assert.Equal(t, []control.EventType{control.EventAck, control.EventStart}, r.pub.EventTypes(),
		"a spinning rotor never raises a stall warning")

	last := r.pub.Samples[len(r.pub.Samples)-1]
	assert.GreaterOrEqual(t, last.Output, 0)
	assert.LessOrEqual(t, last.Output, 255)
}

func TestClosedLoopTimedRunCompletesAndSpinsDown(t *testing.T) {
	r := newRig(t)
	r.command(t, "1500 rpm for 10 seconds")
	require.Equal(t, control.StateRunning, r.ctrl.State())

	r.run(10 * time.Second)
	assert.Equal(t, control.StateIdle, r.ctrl.State())

	types := r.pub.EventTypes()
	completes := 0
	for _, typ := range types {
		if typ == control.EventComplete {
			completes++
		}
	}
	assert.Equal(t, 1, completes, "exactly one COMPLETE")
	assert.Equal(t, link.DoneLine, r.lines[len(r.lines)-1])
	assert.Equal(t, "ACK 1500 10", r.lines[0])

	r.run(5 * time.Second)
	assert.Equal(t, 0, r.motor.Command())
	assert.Less(t, r.motor.RPM(), 1.0, "motor coasts to a stop once disabled")
	assert.Len(t, r.pub.EventTypes(), len(types), "idle ticks emit nothing")

	snap := r.tracker.Snapshot()
	require.Len(t, snap.Sessions, 1)
	assert.Equal(t, control.EventComplete, snap.Sessions[0].Reason)
	assert.Equal(t, 10*time.Second, snap.Sessions[0].EndedAt.Sub(snap.Sessions[0].StartedAt))
}

func TestClosedLoopStatusLinesParseBack(t *testing.T) {
	r := newRig(t)
	r.command(t, "2000")
	r.run(5 * time.Second)

	var parsed int
	for _, line := range r.lines {
		s, ok := link.ParseStatusLine(line)
		if !ok {
			continue
		}
		parsed++
		assert.Equal(t, 2000.0, s.Set)
		assert.GreaterOrEqual(t, s.PWM, 0)
		assert.LessOrEqual(t, s.PWM, 255)
	}
	assert.Equal(t, 50, parsed)

	var hist status.HistoryJSON
	require.NoError(t, json.Unmarshal(status.FormatHistory(r.tracker.History(), r.now), &hist))
	assert.Len(t, hist.Samples, 50)
}

func TestClosedLoopStallWarning(t *testing.T) {
	r := newRig(t)
	// Disconnect the sensor: the rotor spins but no edge reaches the counter.
	r.motor.Attach(nil)
	r.command(t, "1200")
	r.run(5 * time.Second)

	var stalls int
	for _, typ := range r.pub.EventTypes() {
		if typ == control.EventStall {
			stalls++
		}
	}
	assert.Equal(t, 1, stalls, "one STALL per session")
	assert.Equal(t, control.StateRunning, r.ctrl.State(), "a stall never stops the session")

	// With no feedback the controller saturates.
	last := r.pub.Samples[len(r.pub.Samples)-1]
	assert.Equal(t, 255, last.Output)
	assert.Zero(t, last.Filtered)
	assert.False(t, math.IsNaN(last.ErrorPct))
}

func TestClosedLoopStopMidRun(t *testing.T) {
	r := newRig(t)
	r.command(t, "2500")
	r.run(3 * time.Second)
	r.command(t, "stop")
	r.run(4 * time.Second)

	assert.Equal(t, control.StateIdle, r.ctrl.State())
	assert.Less(t, r.motor.RPM(), 10.0)
	assert.Equal(t, []control.EventType{
		control.EventAck, control.EventStart, control.EventAck, control.EventStop,
	}, r.pub.EventTypes())
	assert.NotContains(t, r.lines, link.DoneLine)

	counts := r.ctrl.CountsSnapshot()
	assert.Equal(t, 1, counts.Started)
	assert.Equal(t, 1, counts.Stopped)
	assert.Zero(t, counts.Completed)
}
