// Package link is the line-oriented command and status protocol spoken over
// the serial port (and reused by MQTT and HTTP command sources).
//
// Host to controller, one command per line:
//
//	1500           run at 1500 rpm until told otherwise
//	1500,30        run at 1500 rpm for 30 s
//	1500 30        same as above
//	0              stop
//	1500 rpm for 2 minutes
//
// Controller to host:
//
//	ACK 1500 30
//	RPM: 1498.20   MA: 1490.00   Set: 1500.00   PWM: 143   %Err: 0.67
//	DONE
package link

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sweeney/centrifuge/internal/control"
)

var (
	// ErrEmpty is returned for blank lines. Callers usually ignore it.
	ErrEmpty = errors.New("link: empty command")
	// ErrMalformed is returned when no command could be recognised.
	ErrMalformed = errors.New("link: malformed command")
)

var (
	rpmWord  = regexp.MustCompile(`(?i)(-?\d+(?:\.\d+)?)\s*rpm`)
	timeWord = regexp.MustCompile(`(?i)(\d+)\s*(minutes?|mins?|seconds?|secs?)\b`)
	stopWord = regexp.MustCompile(`(?i)^\s*(stop|off|halt)\s*$`)

	statusLine = regexp.MustCompile(
		`RPM:\s*([-\d.]+)\s+MA:\s*([-\d.]+)\s+Set:\s*([-\d.]+)\s+PWM:\s*([-\d]+)\s+%Err:\s*([-\d.]+)`)
	ackLine = regexp.MustCompile(`^ACK\s+([-\d.]+)\s+(\d+)$`)
)

// maxSeconds is the longest duration a time.Duration can hold.
const maxSeconds = math.MaxInt64 / int64(time.Second)

// DoneLine is written when a timed session reaches its deadline.
const DoneLine = "DONE"

// Decode turns one input line into a command. It does not judge whether the
// command is acceptable (negative rpm, zero duration); the controller does.
func Decode(line string) (control.Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return control.Command{}, ErrEmpty
	}
	if stopWord.MatchString(line) {
		return control.SetTarget(0), nil
	}

	fields := strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	switch len(fields) {
	case 1:
		if rpm, err := parseRPM(fields[0]); err == nil {
			return control.SetTarget(rpm), nil
		}
	case 2:
		rpm, err1 := parseRPM(fields[0])
		secs, err2 := strconv.Atoi(fields[1])
		if err1 == nil && err2 == nil {
			if !validSeconds(secs, 1) {
				return control.Command{}, fmt.Errorf("%w: duration %q", ErrMalformed, fields[1])
			}
			return control.SetTargetWithDuration(rpm, secs), nil
		}
	}

	return decodeWords(line)
}

func decodeWords(line string) (control.Command, error) {
	m := rpmWord.FindStringSubmatch(line)
	if m == nil {
		return control.Command{}, fmt.Errorf("%w: %q", ErrMalformed, line)
	}
	rpm, err := parseRPM(m[1])
	if err != nil {
		return control.Command{}, fmt.Errorf("%w: %q", ErrMalformed, line)
	}

	t := timeWord.FindStringSubmatch(line)
	if t == nil {
		return control.SetTarget(rpm), nil
	}
	secs, err := strconv.Atoi(t[1])
	if err != nil {
		return control.Command{}, fmt.Errorf("%w: duration %q", ErrMalformed, t[1])
	}
	unit := 1
	if strings.HasPrefix(strings.ToLower(t[2]), "min") {
		unit = 60
	}
	if !validSeconds(secs, unit) {
		return control.Command{}, fmt.Errorf("%w: duration %q", ErrMalformed, t[0])
	}
	return control.SetTargetWithDuration(rpm, secs*unit), nil
}

// validSeconds reports whether n units of unit seconds fit in a time.Duration.
func validSeconds(n, unit int) bool {
	limit := maxSeconds / int64(unit)
	return int64(n) <= limit && int64(n) >= -limit
}

func parseRPM(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not a finite number: %s", s)
	}
	return v, nil
}

// Encode is the inverse of Decode for the canonical forms.
func Encode(cmd control.Command) string {
	if cmd.Timed {
		return fmt.Sprintf("%s,%d", formatRPM(cmd.Target), int(cmd.Duration/time.Second))
	}
	return formatRPM(cmd.Target)
}

// FormatAck acknowledges an accepted command. Untimed commands report 0 seconds.
func FormatAck(cmd control.Command) string {
	return fmt.Sprintf("ACK %s %d", formatRPM(cmd.Target), int(cmd.Duration/time.Second))
}

// ParseAck reads back an ACK line.
func ParseAck(line string) (control.Command, bool) {
	m := ackLine.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return control.Command{}, false
	}
	rpm, err := parseRPM(m[1])
	if err != nil {
		return control.Command{}, false
	}
	secs, err := strconv.Atoi(m[2])
	if err != nil || !validSeconds(secs, 1) {
		return control.Command{}, false
	}
	if secs == 0 {
		return control.SetTarget(rpm), true
	}
	return control.SetTargetWithDuration(rpm, secs), true
}

func formatRPM(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Status is one parsed status line.
type Status struct {
	RPM      float64
	MA       float64
	Set      float64
	PWM      int
	ErrorPct float64
}

// FormatStatus renders a running sample as a status line.
func FormatStatus(s control.Sample) string {
	return fmt.Sprintf("RPM: %.2f   MA: %.2f   Set: %.2f   PWM: %d   %%Err: %.2f",
		s.RawRPM, s.Filtered, s.Target, s.Output, s.ErrorPct)
}

// ParseStatusLine extracts the fields of a status line. Lines of any other
// kind return false.
func ParseStatusLine(line string) (Status, bool) {
	m := statusLine.FindStringSubmatch(line)
	if m == nil {
		return Status{}, false
	}
	var st Status
	var err error
	if st.RPM, err = strconv.ParseFloat(m[1], 64); err != nil {
		return Status{}, false
	}
	if st.MA, err = strconv.ParseFloat(m[2], 64); err != nil {
		return Status{}, false
	}
	if st.Set, err = strconv.ParseFloat(m[3], 64); err != nil {
		return Status{}, false
	}
	if st.PWM, err = strconv.Atoi(m[4]); err != nil {
		return Status{}, false
	}
	if st.ErrorPct, err = strconv.ParseFloat(m[5], 64); err != nil {
		return Status{}, false
	}
	return st, true
}
