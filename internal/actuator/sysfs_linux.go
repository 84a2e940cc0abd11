//go:build linux

package actuator

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultSysfsBase is where the kernel exposes PWM chips.
const DefaultSysfsBase = "/sys/class/pwm"

// defaultPeriodNS is used when a duty cycle is written before any frequency (1 kHz).
const defaultPeriodNS = 1_000_000

// sysfsChannel is one exported channel under /sys/class/pwm/pwmchipN/pwmM.
// On a Raspberry Pi the channel needs `dtoverlay=pwm,pin=18,func=2`.
type sysfsChannel struct {
	dir    string
	period uint64 // ns
	duty   uint64 // ns
	on     bool
}

func openSysfs(base string, chip, channel int) (Driver, error) {
	if base == "" {
		base = DefaultSysfsBase
	}
	chipDir, err := pwmChip(base, chip)
	if err != nil {
		return nil, err
	}
	dir, err := export(chipDir, channel)
	if err != nil {
		return nil, err
	}

	ch := &sysfsChannel{dir: dir}
	// Output stays off until the first duty cycle is written.
	if err := ch.write("enable", 0); err != nil {
		return nil, fmt.Errorf("actuator: disable pwm: %w", err)
	}
	return ch, nil
}

// pwmChip resolves pwmchip<chip>. A negative chip selects the first chip
// reporting at least one channel in npwm.
func pwmChip(base string, chip int) (string, error) {
	if chip >= 0 {
		dir := filepath.Join(base, "pwmchip"+strconv.Itoa(chip))
		if _, err := os.Stat(dir); err != nil {
			return "", fmt.Errorf("actuator: %w", err)
		}
		return dir, nil
	}

	matches, err := filepath.Glob(filepath.Join(base, "pwmchip*"))
	if err != nil {
		return "", fmt.Errorf("actuator: %w", err)
	}
	for _, dir := range matches {
		b, err := os.ReadFile(filepath.Join(dir, "npwm"))
		if err != nil {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimSpace(string(b))); err == nil && n > 0 {
			return dir, nil
		}
	}
	return "", fmt.Errorf("actuator: no pwm chip with channels under %s", base)
}

// export makes pwm<channel> appear under chipDir and returns its path.
// The kernel creates the directory asynchronously.
func export(chipDir string, channel int) (string, error) {
	dir := filepath.Join(chipDir, "pwm"+strconv.Itoa(channel))
	if exists(dir) {
		return dir, nil
	}
	err := sysfsWrite(filepath.Join(chipDir, "export"), strconv.Itoa(channel))
	for range 50 {
		if exists(dir) {
			return dir, nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		return "", fmt.Errorf("actuator: export pwm%d: %w", channel, err)
	}
	return "", fmt.Errorf("actuator: %s did not appear after export", dir)
}

func (c *sysfsChannel) SetFrequencyHz(hz int) error {
	if hz <= 0 {
		return fmt.Errorf("actuator: invalid frequency %d", hz)
	}
	period := max(uint64(1_000_000_000/hz), 1)

	// The kernel rejects a period shorter than the current duty cycle.
	if c.duty > period {
		if err := c.write("duty_cycle", 0); err != nil {
			return err
		}
		c.duty = 0
	}
	if err := c.write("period", period); err != nil {
		return err
	}
	c.period = period
	return nil
}

func (c *sysfsChannel) SetDutyPercent(p float64) error {
	if c.period == 0 {
		if err := c.write("period", defaultPeriodNS); err != nil {
			return err
		}
		c.period = defaultPeriodNS
	}

	p = math.Min(math.Max(p, 0), 100)
	duty := min(uint64(math.Round(float64(c.period)*p/100)), c.period)
	if err := c.write("duty_cycle", duty); err != nil {
		return err
	}
	c.duty = duty

	if !c.on {
		if err := c.write("enable", 1); err != nil {
			return err
		}
		c.on = true
	}
	return nil
}

// Close zeroes the duty cycle and disables the channel, reporting both errors.
func (c *sysfsChannel) Close() error {
	dutyErr := c.write("duty_cycle", 0)
	enableErr := c.write("enable", 0)
	c.duty, c.on = 0, false
	return errors.Join(dutyErr, enableErr)
}

func (c *sysfsChannel) write(attr string, v uint64) error {
	return sysfsWrite(filepath.Join(c.dir, attr), strconv.FormatUint(v, 10))
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// sysfsWrite writes one attribute. Freshly exported nodes are briefly
// unwritable until udev fixes their ownership, so permission and
// not-found errors are retried for up to two seconds.
func sysfsWrite(path, value string) error {
	var err error
	for range 80 {
		if err = writeAttr(path, value); err == nil || !transient(err) {
			return err
		}
		time.Sleep(25 * time.Millisecond)
	}
	return err
}

// writeAttr opens without O_CREATE or O_TRUNC, which sysfs rejects.
func writeAttr(path, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	_, werr := f.WriteString(value + "\n")
	return errors.Join(werr, f.Close())
}

func transient(err error) bool {
	return errors.Is(err, unix.EACCES) || errors.Is(err, unix.EPERM) || errors.Is(err, unix.ENOENT)
}
