//go:build linux

package actuator

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// gpioSwitch drives a motor relay or MOSFET gate as a digital output.
// Any duty > 0 is ON, 0 is OFF. Useful on boards without a free PWM channel.
type gpioSwitch struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

func openGPIO(chip string, pin int) (Driver, error) {
	if pin <= 0 {
		return nil, fmt.Errorf("actuator: invalid gpio pin %d", pin)
	}
	if chip == "" {
		chip = "gpiochip0"
	}
	c, err := gpiocdev.NewChip(chip)
	if err != nil {
		return nil, fmt.Errorf("actuator: open gpio chip: %w", err)
	}
	line, err := c.RequestLine(pin, gpiocdev.AsOutput(0), gpiocdev.WithConsumer("centrifuge-motor"))
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("actuator: request gpio %d: %w", pin, err)
	}
	return &gpioSwitch{chip: c, line: line}, nil
}

func (g *gpioSwitch) SetFrequencyHz(hz int) error {
	// A digital output has no frequency.
	return nil
}

func (g *gpioSwitch) SetDutyPercent(p float64) error {
	v := 0
	if p > 0 {
		v = 1
	}
	return g.line.SetValue(v)
}

func (g *gpioSwitch) Close() error {
	if g.line == nil {
		return nil
	}
	_ = g.line.SetValue(0)
	err := g.line.Close()
	g.line = nil
	if g.chip != nil {
		_ = g.chip.Close()
		g.chip = nil
	}
	return err
}
