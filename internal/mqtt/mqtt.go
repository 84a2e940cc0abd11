// Package mqtt publishes controller samples and session events, and accepts
// commands on a subscription, with an abstraction for testing.
package mqtt

import (
	"encoding/json"
	"math"
	"time"

	"github.com/sweeney/centrifuge/internal/control"
)

// DefaultTopicPrefix roots every topic the daemon uses.
const DefaultTopicPrefix = "lab/centrifuge"

// Topics holds the fully qualified topic names.
type Topics struct {
	Sample  string // per-tick samples while running
	Events  string // session events
	System  string // lifecycle (retained)
	Command string // inbound commands
}

// NewTopics derives the topic set from a prefix.
func NewTopics(prefix string) Topics {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{
		Sample:  prefix + "/sample",
		Events:  prefix + "/events",
		System:  prefix + "/system",
		Command: prefix + "/command",
	}
}

// Publisher publishes controller output to MQTT.
type Publisher interface {
	// PublishSample sends one running sample. Samples are not buffered
	// while disconnected; a stale speed reading is worthless.
	PublishSample(s control.Sample) error

	// PublishEvent sends a session event.
	// Returns error if publishing fails (should not crash the process).
	PublishEvent(e control.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (startup, shutdown, reconnect).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "RECONNECTED"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// SamplePayload is the JSON envelope of a sample message.
type SamplePayload struct {
	Sample SampleInner `json:"sample"`
}

// SampleInner holds one tick's readings.
type SampleInner struct {
	Timestamp string  `json:"timestamp"`
	RPM       float64 `json:"rpm"`
	Filtered  float64 `json:"filtered_rpm"`
	Target    float64 `json:"target_rpm"`
	Output    int     `json:"output"`
	ErrorPct  float64 `json:"error_pct"`
}

// FormatSamplePayload creates the JSON payload for a sample.
func FormatSamplePayload(s control.Sample) ([]byte, error) {
	return json.Marshal(SamplePayload{
		Sample: SampleInner{
			Timestamp: s.Timestamp.UTC().Format(time.RFC3339Nano),
			RPM:       round2(s.RawRPM),
			Filtered:  round2(s.Filtered),
			Target:    s.Target,
			Output:    s.Output,
			ErrorPct:  round2(s.ErrorPct),
		},
	})
}

// EventPayload is the JSON envelope of a session event.
type EventPayload struct {
	Session SessionInner `json:"session"`
}

// SessionInner contains the session event details.
type SessionInner struct {
	Timestamp string  `json:"timestamp"`
	Event     string  `json:"event"`
	ID        string  `json:"id,omitempty"`
	Target    float64 `json:"target_rpm"`
	Deadline  string  `json:"deadline,omitempty"`
}

// FormatEventPayload creates the JSON payload for a session event.
func FormatEventPayload(e control.Event) ([]byte, error) {
	inner := SessionInner{
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
		Event:     string(e.Type),
		ID:        e.SessionID,
		Target:    e.Target,
	}
	if !e.Deadline.IsZero() {
		inner.Deadline = e.Deadline.UTC().Format(time.RFC3339)
	}
	return json.Marshal(EventPayload{Session: inner})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}
	return json.Marshal(SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	})
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Discard is a Publisher that drops everything. Used when no broker is configured.
var Discard Publisher = discard{}

type discard struct{}

func (discard) PublishSample(control.Sample) error { return nil }
func (discard) PublishEvent(control.Event) error   { return nil }
func (discard) PublishSystem(SystemEvent) error    { return nil }
func (discard) Close() error                       { return nil }
func (discard) IsConnected() bool                  { return false }
