//go:build !linux

package actuator

import "errors"

// DefaultSysfsBase is where the kernel exposes PWM chips.
const DefaultSysfsBase = "/sys/class/pwm"

func openSysfs(base string, chip, channel int) (Driver, error) {
	return nil, errors.New("actuator: pwm unsupported on this platform (requires Linux)")
}

func openGPIO(chip string, pin int) (Driver, error) {
	return nil, errors.New("actuator: gpio unsupported on this platform (requires Linux)")
}
