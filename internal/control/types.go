// Package control contains the pure speed-control logic for the centrifuge.
// This package has NO hardware dependencies (no GPIO, PWM, serial, MQTT or time.Sleep).
// Time is always injectable via time.Time parameters.
package control

import "time"

// State represents the session state.
type State string

const (
	StateIdle    State = "IDLE"
	StateRunning State = "RUNNING"
)

// Command is a decoded request from the command interface.
// Target 0 means stop. Duration 0 means the session runs until stopped.
type Command struct {
	Target   float64       // rpm
	Duration time.Duration // 0 = untimed
	Timed    bool          // set when the sender supplied a duration
}

// SetTarget builds an untimed command.
func SetTarget(rpm float64) Command {
	return Command{Target: rpm}
}

// SetTargetWithDuration builds a command that arms an automatic stop.
func SetTargetWithDuration(rpm float64, seconds int) Command {
	return Command{Target: rpm, Duration: time.Duration(seconds) * time.Second, Timed: true}
}

// EventType identifies a session event.
type EventType string

const (
	EventAck      EventType = "ACK"
	EventStart    EventType = "START"
	EventAdjust   EventType = "ADJUST"
	EventStop     EventType = "STOP"
	EventComplete EventType = "COMPLETE"
	EventStall    EventType = "STALL"
)

// Event is a session-level notification to be published.
type Event struct {
	Timestamp time.Time
	Type      EventType
	SessionID string
	Target    float64
	Deadline  time.Time // zero when untimed
}

// Sample is the per-tick status while a session is running.
type Sample struct {
	Timestamp time.Time
	RawRPM    float64
	Filtered  float64
	Target    float64
	Output    int
	ErrorPct  float64
}

// Output is the result of one control tick.
type Output struct {
	// Running reports whether the actuator should be driven with Drive.
	Running bool
	Drive   int
	// Disable is set on the tick that returned the session to idle.
	Disable bool
	// Sample is valid only when Running is true.
	Sample Sample
	Events []Event
	// Finished is set when the session ended during this call.
	Finished *SessionRecord
}

// Counts tracks the number of session transitions since startup.
type Counts struct {
	Started   int
	Stopped   int
	Completed int
	Rejected  int
}

// SessionRecord describes a finished session.
type SessionRecord struct {
	ID        string
	Target    float64
	StartedAt time.Time
	EndedAt   time.Time
	Reason    EventType // EventStop or EventComplete
}
