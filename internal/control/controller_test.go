package control

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		Period:       100 * time.Millisecond,
		PulsesPerRev: 2,
		Gains:        Gains{Kp: 0.05, Ki: 0.02, Kd: 0.001},
		OutputMax:    255,
		FilterWindow: 5,
	}
}

// integralOnly makes the PID output equal to its accumulated integral so
// tests can observe whether state was reset.
func integralOnly() Config {
	cfg := testConfig()
	cfg.Gains = Gains{Ki: 1}
	cfg.OutputMax = 1_000_000
	return cfg
}

func newTestController(t *testing.T, cfg Config) *Controller {
	t.Helper()
	c, err := New(cfg, t0)
	require.NoError(t, err)
	n := 0
	c.NewID = func() string {
		n++
		return fmt.Sprintf("s%d", n)
	}
	return c
}

func eventTypes(events []Event) []EventType {
	var out []EventType
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

func TestNewRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero period", func(c *Config) { c.Period = 0 }},
		{"zero ppr", func(c *Config) { c.PulsesPerRev = 0 }},
		{"zero output max", func(c *Config) { c.OutputMax = 0 }},
		{"zero window", func(c *Config) { c.FilterWindow = 0 }},
		{"negative stall", func(c *Config) { c.StallAfter = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			_, err := New(cfg, t0)
			assert.Error(t, err)
		})
	}
}

func TestIdleTickDoesNotDrive(t *testing.T) {
	c := newTestController(t, testConfig())

	out := c.Tick(10, t0.Add(100*time.Millisecond))
	assert.False(t, out.Running)
	assert.False(t, out.Disable)
	assert.Empty(t, out.Events)
	assert.Equal(t, StateIdle, c.State())

	// The filter still tracks the spinning-down rotor while idle.
	assert.Equal(t, 3000.0, c.Filtered())
}

func TestStartFromIdle(t *testing.T) {
	c := newTestController(t, testConfig())

	out, err := c.Apply(SetTarget(1500), t0)
	require.NoError(t, err)

	assert.Equal(t, []EventType{EventAck, EventStart}, eventTypes(out.Events))
	assert.Equal(t, "s1", out.Events[0].SessionID)
	assert.True(t, out.Running)
	assert.False(t, out.Disable)
	assert.Equal(t, StateRunning, c.State())
	assert.Equal(t, 1500.0, c.Target())
	assert.True(t, c.Deadline().IsZero(), "untimed run has no deadline")

	tick := c.Tick(0, t0.Add(100*time.Millisecond))
	assert.True(t, tick.Running)
	assert.Greater(t, tick.Drive, 0)
	assert.Equal(t, 1500.0, tick.Sample.Target)
	assert.Equal(t, 100.0, tick.Sample.ErrorPct)
}

func TestTimedStartArmsDeadline(t *testing.T) {
	c := newTestController(t, testConfig())

	out, err := c.Apply(SetTargetWithDuration(1500, 10), t0)
	require.NoError(t, err)

	assert.Equal(t, []EventType{EventAck, EventStart}, eventTypes(out.Events))
	assert.Equal(t, t0.Add(10*time.Second), c.Deadline())
	assert.Equal(t, t0.Add(10*time.Second), out.Events[0].Deadline)
	assert.Equal(t, 4*time.Second, c.Remaining(t0.Add(6*time.Second)))
}

func TestTimedRunCompletesExactlyOnce(t *testing.T) {
	c := newTestController(t, testConfig())
	_, err := c.Apply(SetTargetWithDuration(1500, 10), t0)
	require.NoError(t, err)

	var completes []Event
	var disables int
	var finished []*SessionRecord
	var lastRunning time.Time

	for i := 1; i <= 120; i++ {
		now := t0.Add(time.Duration(i) * 100 * time.Millisecond)
		out := c.Tick(20, now)
		for _, e := range out.Events {
			if e.Type == EventComplete {
				completes = append(completes, e)
			}
		}
		if out.Disable {
			disables++
		}
		if out.Finished != nil {
			finished = append(finished, out.Finished)
		}
		if out.Running {
			lastRunning = now
		}
	}

	require.Len(t, completes, 1)
	assert.Equal(t, t0.Add(10*time.Second), completes[0].Timestamp)
	assert.Equal(t, "s1", completes[0].SessionID)
	assert.Equal(t, 1, disables)
	require.Len(t, finished, 1)
	assert.Equal(t, EventComplete, finished[0].Reason)
	assert.Equal(t, t0, finished[0].StartedAt)
	assert.Equal(t, t0.Add(9900*time.Millisecond), lastRunning)
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, 1, c.CountsSnapshot().Completed)
	assert.Equal(t, time.Duration(0), c.Remaining(t0.Add(11*time.Second)))
}

func TestCommandAfterDeadlineCompletesFirst(t *testing.T) {
	c := newTestController(t, testConfig())
	_, err := c.Apply(SetTargetWithDuration(1500, 10), t0)
	require.NoError(t, err)
	for i := 1; i < 100; i++ {
		out := c.Tick(20, t0.Add(time.Duration(i)*100*time.Millisecond))
		require.True(t, out.Running)
	}

	// Deadline passed at t0+10s; the next tick has not happened yet.
	late := t0.Add(10*time.Second + 20*time.Millisecond)
	out, err := c.Apply(SetTarget(1600), late)
	require.NoError(t, err)

	assert.Equal(t, []EventType{EventComplete, EventAck, EventStart}, eventTypes(out.Events))
	assert.Equal(t, "s1", out.Events[0].SessionID)
	assert.Equal(t, "s2", out.Events[1].SessionID)
	assert.Equal(t, "s2", out.Events[2].SessionID)
	assert.True(t, out.Disable)
	assert.True(t, out.Running)
	require.NotNil(t, out.Finished)
	assert.Equal(t, EventComplete, out.Finished.Reason)
	assert.Equal(t, "s1", out.Finished.ID)
	assert.Equal(t, late, out.Finished.EndedAt)
	assert.True(t, c.Deadline().IsZero(), "the new session is untimed")

	completes := 0
	for i := 1; i <= 100; i++ {
		out := c.Tick(20, late.Add(time.Duration(i)*100*time.Millisecond))
		for _, e := range out.Events {
			if e.Type == EventComplete {
				completes++
			}
		}
	}
	assert.Zero(t, completes)
	assert.Equal(t, StateRunning, c.State())

	counts := c.CountsSnapshot()
	assert.Equal(t, 1, counts.Completed)
	assert.Equal(t, 2, counts.Started)
}

func TestStopAfterDeadlineCompletes(t *testing.T) {
	c := newTestController(t, testConfig())
	_, err := c.Apply(SetTargetWithDuration(1500, 1), t0)
	require.NoError(t, err)

	out, err := c.Apply(SetTarget(0), t0.Add(1500*time.Millisecond))
	require.NoError(t, err)

	assert.Equal(t, []EventType{EventComplete, EventAck}, eventTypes(out.Events))
	assert.Equal(t, "s1", out.Events[1].SessionID)
	require.NotNil(t, out.Finished)
	assert.Equal(t, EventComplete, out.Finished.Reason)
	assert.True(t, out.Disable)
	assert.False(t, out.Running)

	counts := c.CountsSnapshot()
	assert.Equal(t, 1, counts.Completed)
	assert.Zero(t, counts.Stopped)
}

func TestExplicitStopResetsPID(t *testing.T) {
	c := newTestController(t, integralOnly())
	_, err := c.Apply(SetTarget(1000), t0)
	require.NoError(t, err)

	out := c.Tick(0, t0.Add(100*time.Millisecond))
	assert.Equal(t, 100, out.Drive)

	out, err = c.Apply(SetTarget(0), t0.Add(150*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, []EventType{EventAck, EventStop}, eventTypes(out.Events))
	assert.True(t, out.Disable)
	assert.False(t, out.Running)
	require.NotNil(t, out.Finished)
	assert.Equal(t, EventStop, out.Finished.Reason)
	assert.Equal(t, "s1", out.Events[0].SessionID)
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, 0.0, c.pid.Signal())

	// Idle ticks never drive.
	out = c.Tick(0, t0.Add(200*time.Millisecond))
	assert.False(t, out.Running)

	// A restart begins from a clean integral.
	_, err = c.Apply(SetTarget(1000), t0.Add(250*time.Millisecond))
	require.NoError(t, err)
	out = c.Tick(0, t0.Add(300*time.Millisecond))
	assert.Equal(t, 100, out.Drive)
	assert.Equal(t, "s2", c.SessionID())
}

func TestTargetChangeKeepsIntegral(t *testing.T) {
	c := newTestController(t, integralOnly())
	_, err := c.Apply(SetTarget(1000), t0)
	require.NoError(t, err)

	out := c.Tick(0, t0.Add(100*time.Millisecond))
	assert.Equal(t, 100, out.Drive)

	out, err = c.Apply(SetTarget(2000), t0.Add(150*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, []EventType{EventAck, EventAdjust}, eventTypes(out.Events))
	assert.Nil(t, out.Finished)
	assert.False(t, out.Disable)

	out = c.Tick(0, t0.Add(200*time.Millisecond))
	// 100 carried over + 2000 * 0.1
	assert.Equal(t, 300, out.Drive)
	assert.Equal(t, "s1", c.SessionID(), "adjustment keeps the session")
	assert.Equal(t, 1, c.CountsSnapshot().Started)
}

func TestAdjustReplacesDeadline(t *testing.T) {
	c := newTestController(t, testConfig())
	_, err := c.Apply(SetTargetWithDuration(1500, 10), t0)
	require.NoError(t, err)

	_, err = c.Apply(SetTargetWithDuration(1800, 5), t0.Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, t0.Add(7*time.Second), c.Deadline())

	// An untimed adjustment turns the run into an open-ended one.
	_, err = c.Apply(SetTarget(1700), t0.Add(3*time.Second))
	require.NoError(t, err)
	assert.True(t, c.Deadline().IsZero())

	out := c.Tick(0, t0.Add(8*time.Second))
	assert.True(t, out.Running)
	assert.Empty(t, out.Events)
}

func TestStopWhileIdleIsAcknowledged(t *testing.T) {
	c := newTestController(t, testConfig())

	out, err := c.Apply(SetTarget(0), t0)
	require.NoError(t, err)
	assert.Equal(t, []EventType{EventAck}, eventTypes(out.Events))
	assert.True(t, out.Disable)
	assert.Nil(t, out.Finished)
	assert.Equal(t, 0, c.CountsSnapshot().Stopped)
}

func TestTimedStopCommand(t *testing.T) {
	c := newTestController(t, testConfig())
	_, err := c.Apply(SetTargetWithDuration(1500, 10), t0)
	require.NoError(t, err)

	// rpm 0 with a duration is still a stop.
	out, err := c.Apply(SetTargetWithDuration(0, 5), t0.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, []EventType{EventAck, EventStop}, eventTypes(out.Events))
	assert.Equal(t, StateIdle, c.State())
}

func TestInvalidCommandsLeaveStateUnchanged(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
	}{
		{"negative", SetTarget(-5)},
		{"nan", SetTarget(math.NaN())},
		{"inf", SetTarget(math.Inf(1))},
		{"timed zero seconds", SetTargetWithDuration(1500, 0)},
		{"timed negative seconds", SetTargetWithDuration(1500, -3)},
		{"untimed with duration", Command{Target: 1500, Duration: time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestController(t, integralOnly())
			_, err := c.Apply(SetTarget(1000), t0)
			require.NoError(t, err)
			c.Tick(0, t0.Add(100*time.Millisecond))

			out, err := c.Apply(tt.cmd, t0.Add(150*time.Millisecond))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidCommand))
			assert.Empty(t, out.Events, "rejected commands are not acknowledged")
			assert.Equal(t, StateRunning, c.State())
			assert.Equal(t, 1000.0, c.Target())
			assert.Equal(t, 1, c.CountsSnapshot().Rejected)

			// Integral untouched: 100 + 1000*0.1
			out = c.Tick(0, t0.Add(200*time.Millisecond))
			assert.Equal(t, 200, out.Drive)
		})
	}
}

func TestTickUsesMeasuredWindow(t *testing.T) {
	c := newTestController(t, testConfig())
	_, err := c.Apply(SetTarget(3000), t0)
	require.NoError(t, err)

	// A late tick (200ms) with 20 pulses is still 3000 rpm.
	out := c.Tick(20, t0.Add(200*time.Millisecond))
	assert.Equal(t, 3000.0, out.Sample.RawRPM)
	assert.Equal(t, 0.0, out.Sample.ErrorPct)
}

func TestTickWithNonAdvancingClockUsesPeriod(t *testing.T) {
	c := newTestController(t, testConfig())
	_, err := c.Apply(SetTarget(3000), t0)
	require.NoError(t, err)

	out := c.Tick(10, t0) // same instant as start
	assert.Equal(t, 3000.0, out.Sample.RawRPM)
}

func TestStallWarning(t *testing.T) {
	cfg := testConfig()
	cfg.StallAfter = time.Second
	c := newTestController(t, cfg)
	_, err := c.Apply(SetTarget(1500), t0)
	require.NoError(t, err)

	var stalls int
	for i := 1; i <= 30; i++ {
		out := c.Tick(0, t0.Add(time.Duration(i)*100*time.Millisecond))
		for _, e := range out.Events {
			if e.Type == EventStall {
				stalls++
				assert.Equal(t, t0.Add(time.Second), e.Timestamp)
			}
		}
		assert.True(t, out.Running, "a stall never stops the session")
	}
	assert.Equal(t, 1, stalls)
}

func TestNoStallWhilePulsing(t *testing.T) {
	cfg := testConfig()
	cfg.StallAfter = 500 * time.Millisecond
	c := newTestController(t, cfg)
	_, err := c.Apply(SetTarget(1500), t0)
	require.NoError(t, err)

	for i := 1; i <= 30; i++ {
		out := c.Tick(3, t0.Add(time.Duration(i)*100*time.Millisecond))
		assert.Empty(t, out.Events)
	}
}

func TestLastSample(t *testing.T) {
	c := newTestController(t, testConfig())
	_, err := c.Apply(SetTarget(1500), t0)
	require.NoError(t, err)

	now := t0.Add(100 * time.Millisecond)
	out := c.Tick(10, now)
	assert.Equal(t, out.Sample, c.LastSample())
	assert.Equal(t, now, c.LastSample().Timestamp)
	assert.InDelta(t, 100.0, c.LastSample().ErrorPct, 1e-9) // 3000 vs 1500
}

func TestLastSampleClearedOnStart(t *testing.T) {
	c := newTestController(t, testConfig())
	_, err := c.Apply(SetTarget(1500), t0)
	require.NoError(t, err)
	c.Tick(10, t0.Add(100*time.Millisecond))
	require.NotZero(t, c.LastSample())

	_, err = c.Apply(SetTarget(0), t0.Add(200*time.Millisecond))
	require.NoError(t, err)
	_, err = c.Apply(SetTarget(800), t0.Add(300*time.Millisecond))
	require.NoError(t, err)

	assert.Zero(t, c.LastSample(), "no reading from the previous session before the first tick")
}
