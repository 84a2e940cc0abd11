package mqtt

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/centrifuge/internal/control"
)

var ts = time.Date(2026, 2, 2, 22, 18, 12, 0, time.UTC)

func TestNewTopics(t *testing.T) {
	topics := NewTopics("")
	assert.Equal(t, "lab/centrifuge/sample", topics.Sample)
	assert.Equal(t, "lab/centrifuge/events", topics.Events)
	assert.Equal(t, "lab/centrifuge/system", topics.System)
	assert.Equal(t, "lab/centrifuge/command", topics.Command)

	assert.Equal(t, "bench/2/command", NewTopics("bench/2").Command)
}

func TestFormatSamplePayloadExactJSON(t *testing.T) {
	payload, err := FormatSamplePayload(control.Sample{
		Timestamp: ts,
		RawRPM:    1498.2049,
		Filtered:  1490.001,
		Target:    1500,
		Output:    143,
		ErrorPct:  0.66666,
	})
	require.NoError(t, err)

	expected := `{"sample":{"timestamp":"2026-02-02T22:18:12Z","rpm":1498.2,"filtered_rpm":1490,"target_rpm":1500,"output":143,"error_pct":0.67}}`
	assert.JSONEq(t, expected, string(payload))
}

func TestFormatEventPayload(t *testing.T) {
	tests := []struct {
		name     string
		event    control.Event
		expected string
	}{
		{
			name:     "untimed start",
			event:    control.Event{Timestamp: ts, Type: control.EventStart, SessionID: "s1", Target: 1500},
			expected: `{"session":{"timestamp":"2026-02-02T22:18:12Z","event":"START","id":"s1","target_rpm":1500}}`,
		},
		{
			name: "timed ack",
			event: control.Event{Timestamp: ts, Type: control.EventAck, SessionID: "s1", Target: 1500,
				Deadline: ts.Add(10 * time.Second)},
			expected: `{"session":{"timestamp":"2026-02-02T22:18:12Z","event":"ACK","id":"s1","target_rpm":1500,"deadline":"2026-02-02T22:18:22Z"}}`,
		},
		{
			name:     "idle stop ack",
			event:    control.Event{Timestamp: ts, Type: control.EventAck},
			expected: `{"session":{"timestamp":"2026-02-02T22:18:12Z","event":"ACK","target_rpm":0}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := FormatEventPayload(tt.event)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(payload))
		})
	}
}

func TestFormatEventPayloadTimezoneConversion(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	payload, err := FormatEventPayload(control.Event{
		Timestamp: time.Date(2026, 2, 2, 17, 18, 12, 0, loc),
		Type:      control.EventComplete,
	})
	require.NoError(t, err)

	var parsed EventPayload
	require.NoError(t, json.Unmarshal(payload, &parsed))
	assert.Equal(t, "2026-02-02T22:18:12Z", parsed.Session.Timestamp)
}

func TestWillPayloadFormat(t *testing.T) {
	payload, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Date(2026, 2, 10, 8, 30, 0, 0, time.UTC),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})
	require.NoError(t, err)
	assert.Equal(t, `{"system":{"timestamp":"2026-02-10T08:30:00Z","event":"SHUTDOWN","reason":"MQTT_DISCONNECT"}}`, string(payload))
}

func TestFormatSystemPayloadOmitsEmptyReason(t *testing.T) {
	payload, err := FormatSystemPayload(SystemEvent{Timestamp: ts, Event: "RECONNECTED"})
	require.NoError(t, err)
	assert.NotContains(t, string(payload), "reason")
}

func TestFormatSystemPayloadRawPassthrough(t *testing.T) {
	raw := []byte(`{"status":{"event":"STARTUP"}}`)
	payload, err := FormatSystemPayload(SystemEvent{Event: "STARTUP", RawPayload: raw})
	require.NoError(t, err)
	assert.Equal(t, raw, payload)
}

func TestFakePublisher(t *testing.T) {
	f := NewFakePublisher()
	var p Publisher = f

	require.NoError(t, p.PublishSample(control.Sample{Target: 1500}))
	require.NoError(t, p.PublishEvent(control.Event{Timestamp: ts, Type: control.EventAck}))
	require.NoError(t, p.PublishEvent(control.Event{Timestamp: ts, Type: control.EventStart}))
	require.NoError(t, p.PublishSystem(SystemEvent{Timestamp: ts, Event: "STARTUP", Retained: true}))

	assert.Len(t, f.Samples, 1)
	assert.Equal(t, []control.EventType{control.EventAck, control.EventStart}, f.EventTypes())
	assert.Len(t, f.EventPayloads, 2)
	require.Len(t, f.SystemEvents, 1)
	assert.True(t, f.SystemEvents[0].Retained)

	require.NoError(t, p.Close())
	assert.True(t, f.Closed)
}

func TestFakePublisherErrors(t *testing.T) {
	f := NewFakePublisher()
	f.PublishError = errors.New("broker down")
	f.PublishSystemError = errors.New("system down")

	assert.Error(t, f.PublishSample(control.Sample{}))
	assert.Error(t, f.PublishEvent(control.Event{}))
	assert.Error(t, f.PublishSystem(SystemEvent{}))
	assert.Empty(t, f.Samples)
	assert.Empty(t, f.Events)
	assert.Empty(t, f.SystemEvents)
}

func TestFakePublisherReset(t *testing.T) {
	f := NewFakePublisher()
	f.Connected = true
	require.NoError(t, f.PublishEvent(control.Event{Type: control.EventStop}))
	require.NoError(t, f.Close())

	f.Reset()
	assert.Empty(t, f.Events)
	assert.False(t, f.Closed)
	assert.False(t, f.IsConnected())

	require.NoError(t, f.PublishEvent(control.Event{Type: control.EventStart}))
	assert.Len(t, f.Events, 1)
}

func TestDiscard(t *testing.T) {
	require.NoError(t, Discard.PublishSample(control.Sample{}))
	require.NoError(t, Discard.PublishEvent(control.Event{}))
	require.NoError(t, Discard.PublishSystem(SystemEvent{}))
	require.NoError(t, Discard.Close())
	cs, ok := Discard.(ConnectionStatus)
	require.True(t, ok)
	assert.False(t, cs.IsConnected())
}
