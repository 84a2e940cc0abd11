package control

import "time"

// Session tracks whether a run is active, its target and optional deadline.
type Session struct {
	state     State
	id        string
	target    float64
	startedAt time.Time
	deadline  time.Time // zero when untimed
}

// Running reports whether a run is active.
func (s *Session) Running() bool {
	return s.state == StateRunning
}

// State returns the current state.
func (s *Session) State() State {
	if s.state == "" {
		return StateIdle
	}
	return s.state
}

// start moves Idle -> Running.
func (s *Session) start(id string, cmd Command, now time.Time) {
	s.state = StateRunning
	s.id = id
	s.target = cmd.Target
	s.startedAt = now
	s.deadline = deadlineFor(cmd, now)
}

// adjust replaces the target of a running session. A timed command
// re-arms the deadline from now; an untimed one clears it.
func (s *Session) adjust(cmd Command, now time.Time) {
	s.target = cmd.Target
	s.deadline = deadlineFor(cmd, now)
}

// finish moves Running -> Idle and returns the record of the ended run.
func (s *Session) finish(now time.Time, reason EventType) SessionRecord {
	rec := SessionRecord{
		ID:        s.id,
		Target:    s.target,
		StartedAt: s.startedAt,
		EndedAt:   now,
		Reason:    reason,
	}
	*s = Session{state: StateIdle}
	return rec
}

// expired reports whether a timed run has reached its deadline.
func (s *Session) expired(now time.Time) bool {
	return s.Running() && !s.deadline.IsZero() && !now.Before(s.deadline)
}

func deadlineFor(cmd Command, now time.Time) time.Time {
	if !cmd.Timed || cmd.Duration <= 0 {
		return time.Time{}
	}
	return now.Add(cmd.Duration)
}
