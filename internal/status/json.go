package status

import (
	"encoding/json"
	"math"
	"time"

	"github.com/sweeney/centrifuge/internal/control"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	State         string       `json:"state"`
	Session       *SessionJSON `json:"session,omitempty"`
	FilteredRPM   float64      `json:"filtered_rpm"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	PulsesTotal   uint64       `json:"pulses_total"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Counts        CountsJSON   `json:"session_counts"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Process       *ProcessJSON `json:"process,omitempty"`
	Recent        []RecordJSON `json:"recent_sessions,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// SessionJSON describes the active session.
type SessionJSON struct {
	ID               string  `json:"id"`
	Target           float64 `json:"target_rpm"`
	RPM              float64 `json:"rpm"`
	Output           int     `json:"output"`
	ErrorPct         float64 `json:"error_pct"`
	Deadline         string  `json:"deadline,omitempty"`
	RemainingSeconds *int64  `json:"remaining_seconds,omitempty"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of session transition counts.
type CountsJSON struct {
	Started   int `json:"started"`
	Stopped   int `json:"stopped"`
	Completed int `json:"completed"`
	Rejected  int `json:"rejected"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ProcessJSON is the JSON representation of process usage.
type ProcessJSON struct {
	CPUPercent float64 `json:"cpu_percent"`
	RSSBytes   uint64  `json:"rss_bytes"`
}

// RecordJSON is one finished session.
type RecordJSON struct {
	ID        string  `json:"id"`
	Target    float64 `json:"target_rpm"`
	StartedAt string  `json:"started_at"`
	EndedAt   string  `json:"ended_at"`
	Reason    string  `json:"reason"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PeriodMs     int64   `json:"period_ms"`
	PulsesPerRev int     `json:"pulses_per_rev"`
	Kp           float64 `json:"kp"`
	Ki           float64 `json:"ki"`
	Kd           float64 `json:"kd"`
	OutputMax    int     `json:"output_max"`
	FilterWindow int     `json:"filter_window"`
	Actuator     string  `json:"actuator"`
	Serial       string  `json:"serial,omitempty"`
	Broker       string  `json:"broker,omitempty"`
	HTTPAddr     string  `json:"http_addr"`
	HeartbeatMs  int64   `json:"heartbeat_ms"`
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		State:         string(snap.State),
		FilteredRPM:   round2(snap.Filtered),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		PulsesTotal:   snap.PulsesTotal,
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Started:   snap.Counts.Started,
			Stopped:   snap.Counts.Stopped,
			Completed: snap.Counts.Completed,
			Rejected:  snap.Counts.Rejected,
		},
		Config: ConfigJSON{
			PeriodMs:     snap.Config.PeriodMs,
			PulsesPerRev: snap.Config.PulsesPerRev,
			Kp:           snap.Config.Kp,
			Ki:           snap.Config.Ki,
			Kd:           snap.Config.Kd,
			OutputMax:    snap.Config.OutputMax,
			FilterWindow: snap.Config.FilterWindow,
			Actuator:     snap.Config.Actuator,
			Serial:       snap.Config.Serial,
			Broker:       snap.Config.Broker,
			HTTPAddr:     snap.Config.HTTPAddr,
			HeartbeatMs:  snap.Config.HeartbeatMs,
		},
	}
	if inner.State == "" {
		inner.State = string(control.StateIdle)
	}

	if snap.Running() {
		s := &SessionJSON{
			ID:       snap.SessionID,
			Target:   snap.Target,
			RPM:      round2(snap.Sample.RawRPM),
			Output:   snap.Sample.Output,
			ErrorPct: round2(snap.Sample.ErrorPct),
		}
		if !snap.Deadline.IsZero() {
			s.Deadline = snap.Deadline.UTC().Format(time.RFC3339)
			rem := int64(math.Ceil(snap.Remaining.Seconds()))
			s.RemainingSeconds = &rem
		}
		inner.Session = s
	}

	for _, r := range snap.Sessions {
		inner.Recent = append(inner.Recent, RecordJSON{
			ID:        r.ID,
			Target:    r.Target,
			StartedAt: r.StartedAt.UTC().Format(time.RFC3339),
			EndedAt:   r.EndedAt.UTC().Format(time.RFC3339),
			Reason:    string(r.Reason),
		})
	}
	return inner
}

func buildExtras(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	if snap.Process != nil {
		inner.Process = &ProcessJSON{
			CPUPercent: round2(snap.Process.CPUPercent),
			RSSBytes:   snap.Process.RSSBytes,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildExtras(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
// The recent session list is left out to keep retained messages small.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	inner.Recent = nil
	buildExtras(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

// HistoryJSON is the envelope of the trailing sample window.
type HistoryJSON struct {
	WindowSeconds int           `json:"window_seconds"`
	Samples       []HistoryItem `json:"samples"`
}

// HistoryItem is one plotted point. Age is seconds before the response time
// (negative), matching a trailing-window plot.
type HistoryItem struct {
	Age      float64 `json:"t"`
	RPM      float64 `json:"rpm"`
	MA       float64 `json:"ma"`
	Set      float64 `json:"set"`
	PWM      int     `json:"pwm"`
	ErrorPct float64 `json:"err_pct"`
}

// FormatHistory renders samples relative to now.
func FormatHistory(samples []control.Sample, now time.Time) []byte {
	h := HistoryJSON{
		WindowSeconds: int(HistoryWindow / time.Second),
		Samples:       make([]HistoryItem, 0, len(samples)),
	}
	for _, s := range samples {
		h.Samples = append(h.Samples, HistoryItem{
			Age:      round2(s.Timestamp.Sub(now).Seconds()),
			RPM:      round2(s.RawRPM),
			MA:       round2(s.Filtered),
			Set:      s.Target,
			PWM:      s.Output,
			ErrorPct: round2(s.ErrorPct),
		})
	}
	data, _ := json.Marshal(h)
	return data
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
