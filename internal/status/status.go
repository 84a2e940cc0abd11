// Package status provides a thread-safe status tracker for the centrifuge daemon.
// It is written by the run loop and read by HTTP handlers and MQTT lifecycle events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/centrifuge/internal/control"
)

// HistoryWindow is how far back the sample history reaches.
const HistoryWindow = 60 * time.Second

// MaxSessions is the number of finished sessions kept for display.
const MaxSessions = 20

// NetworkInfo contains network state as reported by pi-helper.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// ProcessInfo is the daemon's own resource usage.
type ProcessInfo struct {
	CPUPercent float64
	RSSBytes   uint64
}

// Config contains daemon configuration for display.
type Config struct {
	PeriodMs     int64
	PulsesPerRev int
	Kp           float64
	Ki           float64
	Kd           float64
	OutputMax    int
	FilterWindow int
	Actuator     string
	Serial       string
	Broker       string
	HTTPAddr     string
	HeartbeatMs  int64
}

// Reading is what the run loop reports after every tick or command.
type Reading struct {
	State       control.State
	SessionID   string
	Target      float64
	Deadline    time.Time
	Filtered    float64
	Sample      control.Sample // last running sample; zero when idle
	Counts      control.Counts
	PulsesTotal uint64
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Reading
	Remaining     time.Duration
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Process       *ProcessInfo
	Sessions      []control.SessionRecord // newest first
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Running reports whether a session is active.
func (s Snapshot) Running() bool {
	return s.State == control.StateRunning
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu       sync.RWMutex
	snap     Snapshot
	history  []control.Sample
	sessions []control.SessionRecord

	// now is replaced in tests.
	now func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			Reading:   Reading{State: control.StateIdle},
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// Update replaces the controller reading.
func (t *Tracker) Update(r Reading) {
	t.mu.Lock()
	t.snap.Reading = r
	t.mu.Unlock()
}

// AddSample appends a running sample to the history and drops entries
// older than HistoryWindow relative to it.
func (t *Tracker) AddSample(s control.Sample) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.history = append(t.history, s)
	cutoff := s.Timestamp.Add(-HistoryWindow)
	i := 0
	for i < len(t.history) && t.history[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		t.history = append(t.history[:0], t.history[i:]...)
	}
}

// History returns a copy of the samples within the history window, oldest first.
func (t *Tracker) History() []control.Sample {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]control.Sample, len(t.history))
	copy(out, t.history)
	return out
}

// AddSession records a finished session, keeping the newest MaxSessions.
func (t *Tracker) AddSession(rec control.SessionRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions = append([]control.SessionRecord{rec}, t.sessions...)
	if len(t.sessions) > MaxSessions {
		t.sessions = t.sessions[:MaxSessions]
	}
}

// SetSessions replaces the session list, e.g. with rows loaded at startup.
// recs must be newest first.
func (t *Tracker) SetSessions(recs []control.SessionRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(recs) > MaxSessions {
		recs = recs[:MaxSessions]
	}
	t.sessions = append([]control.SessionRecord(nil), recs...)
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// SetProcess sets the process resource usage.
func (t *Tracker) SetProcess(info *ProcessInfo) {
	t.mu.Lock()
	t.snap.Process = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// Now is the time of the call; Remaining counts down to the deadline.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Sessions = append([]control.SessionRecord(nil), t.sessions...)
	t.mu.RUnlock()

	s.Now = t.now()
	if !s.Deadline.IsZero() {
		if d := s.Deadline.Sub(s.Now); d > 0 {
			s.Remaining = d
		}
	}
	return s
}
