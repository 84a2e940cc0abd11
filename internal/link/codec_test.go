package link

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/centrifuge/internal/control"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		line string
		want control.Command
	}{
		{"plain", "1500", control.SetTarget(1500)},
		{"plain with newline", "1500\r\n", control.SetTarget(1500)},
		{"fractional", "1234.5", control.SetTarget(1234.5)},
		{"stop", "0", control.SetTarget(0)},
		{"stop word", "Stop", control.SetTarget(0)},
		{"comma", "1500,30", control.SetTargetWithDuration(1500, 30)},
		{"comma space", "1500, 30", control.SetTargetWithDuration(1500, 30)},
		{"space", "1500 30", control.SetTargetWithDuration(1500, 30)},
		{"negative passes through", "-5", control.SetTarget(-5)},
		{"zero duration passes through", "1500,0", control.SetTargetWithDuration(1500, 0)},
		{"words minutes", "1500 rpm for 2 minutes", control.SetTargetWithDuration(1500, 120)},
		{"words seconds", "3000 rpm 30 seconds", control.SetTargetWithDuration(3000, 30)},
		{"words short units", "set it to 2000rpm for 1 min", control.SetTargetWithDuration(2000, 60)},
		{"words untimed", "spin at 800 RPM", control.SetTarget(800)},
		{"rpm suffix only", "1500 rpm", control.SetTarget(1500)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode("   ")
	assert.ErrorIs(t, err, ErrEmpty)

	for _, line := range []string{"hello", "NaN", "inf", "1500,30,5", "fast please", "1500,abc"} {
		_, err := Decode(line)
		assert.ErrorIs(t, err, ErrMalformed, "line %q", line)
		assert.False(t, errors.Is(err, ErrEmpty))
	}
}

func TestDecodeRejectsOverflowingDuration(t *testing.T) {
	for _, line := range []string{
		"1500,18446744074",
		"1500 -18446744074",
		"1500 rpm for 307445734 minutes",
		"1500 rpm for 9223372037 seconds",
	} {
		_, err := Decode(line)
		assert.ErrorIs(t, err, ErrMalformed, "line %q", line)
	}

	// The longest representable durations still decode.
	cmd, err := Decode("1500,9223372036")
	require.NoError(t, err)
	assert.Positive(t, cmd.Duration)

	cmd, err = Decode("1500 rpm for 153722867 minutes")
	require.NoError(t, err)
	assert.Equal(t, 153722867*time.Minute, cmd.Duration)

	_, ok := ParseAck("ACK 1500 18446744074")
	assert.False(t, ok)
}

func TestEncodeRoundTrip(t *testing.T) {
	for _, cmd := range []control.Command{
		control.SetTarget(1500),
		control.SetTarget(0),
		control.SetTargetWithDuration(2500.5, 90),
	} {
		got, err := Decode(Encode(cmd))
		require.NoError(t, err)
		assert.Equal(t, cmd, got)
	}
	assert.Equal(t, "1500,30", Encode(control.SetTargetWithDuration(1500, 30)))
}

func TestAck(t *testing.T) {
	assert.Equal(t, "ACK 1500 30", FormatAck(control.SetTargetWithDuration(1500, 30)))
	assert.Equal(t, "ACK 0 0", FormatAck(control.SetTarget(0)))

	cmd, ok := ParseAck("ACK 1500 30")
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, cmd.Duration)
	assert.Equal(t, 1500.0, cmd.Target)

	cmd, ok = ParseAck("ACK 900 0")
	require.True(t, ok)
	assert.False(t, cmd.Timed)

	_, ok = ParseAck("RPM: 1.00")
	assert.False(t, ok)
}

func TestFormatStatus(t *testing.T) {
	line := FormatStatus(control.Sample{
		RawRPM:   1498.2,
		Filtered: 1490,
		Target:   1500,
		Output:   143,
		ErrorPct: 0.6667,
	})
	assert.Equal(t, "RPM: 1498.20   MA: 1490.00   Set: 1500.00   PWM: 143   %Err: 0.67", line)
}

func TestParseStatusLine(t *testing.T) {
	st, ok := ParseStatusLine("RPM: 123.45   MA: 120.00   Set: 1500.00   PWM: 200   %Err: 92.00")
	require.True(t, ok)
	assert.Equal(t, Status{RPM: 123.45, MA: 120, Set: 1500, PWM: 200, ErrorPct: 92}, st)

	_, ok = ParseStatusLine(DoneLine)
	assert.False(t, ok)
	_, ok = ParseStatusLine("RPM: x MA: 1 Set: 1 PWM: 1 %Err: 1")
	assert.False(t, ok)
}

func TestStatusLineRoundTrip(t *testing.T) {
	s := control.Sample{RawRPM: 3000, Filtered: 2950.5, Target: 3000, Output: 255, ErrorPct: 1.65}
	st, ok := ParseStatusLine(FormatStatus(s))
	require.True(t, ok)
	assert.Equal(t, 255, st.PWM)
	assert.InDelta(t, 2950.5, st.MA, 0.001)
	assert.InDelta(t, 1.65, st.ErrorPct, 0.001)
}
