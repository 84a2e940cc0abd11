// Package config loads the daemon configuration from YAML.
//
// Configuration is read once at startup and never written back.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/centrifuge/internal/actuator"
	"github.com/sweeney/centrifuge/internal/control"
	"github.com/sweeney/centrifuge/internal/gpio"
	"github.com/sweeney/centrifuge/internal/sim"
	"github.com/sweeney/centrifuge/internal/status"
)

// DefaultPath is where the daemon looks for its configuration.
const DefaultPath = "/etc/centrifuge/config.yaml"

// Config represents the daemon configuration.
type Config struct {
	Sensor   SensorConfig   `yaml:"sensor"`
	Control  ControlConfig  `yaml:"control"`
	Actuator ActuatorConfig `yaml:"actuator"`
	Serial   SerialConfig   `yaml:"serial"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	HTTP     HTTPConfig     `yaml:"http"`
	History  HistoryConfig  `yaml:"history"`
	Sim      SimConfig      `yaml:"sim"`
	EnvFile  string         `yaml:"env_file"` // pi-helper network env file, empty to skip
}

// SensorConfig selects the hall/reed pickup line.
type SensorConfig struct {
	Chip     string        `yaml:"chip"`
	Pin      int           `yaml:"pin"`
	Edge     string        `yaml:"edge"`     // rising, falling or both
	Debounce time.Duration `yaml:"debounce"` // 0 disables kernel debounce
}

// ControlConfig holds the loop constants.
type ControlConfig struct {
	Period       time.Duration `yaml:"period"`
	PulsesPerRev int           `yaml:"pulses_per_rev"`
	Kp           float64       `yaml:"kp"`
	Ki           float64       `yaml:"ki"`
	Kd           float64       `yaml:"kd"`
	OutputMax    int           `yaml:"output_max"`
	FilterWindow int           `yaml:"filter_window"`
	StallAfter   time.Duration `yaml:"stall_after"` // 0 disables the stall warning
}

// ActuatorConfig selects the motor driver.
type ActuatorConfig struct {
	Kind        string `yaml:"kind"` // pwm, gpio or sim
	PWMBase     string `yaml:"pwm_base"`
	PWMChip     int    `yaml:"pwm_chip"` // -1 = first chip with channels
	PWMChannel  int    `yaml:"pwm_channel"`
	FrequencyHz int    `yaml:"frequency_hz"`
	GPIOChip    string `yaml:"gpio_chip"`
	GPIOPin     int    `yaml:"gpio_pin"`
}

// SerialConfig configures the host link.
type SerialConfig struct {
	Port string `yaml:"port"` // empty disables the serial command source
	Baud int    `yaml:"baud"`
}

// MQTTConfig configures the broker connection.
type MQTTConfig struct {
	Broker      string        `yaml:"broker"` // empty disables MQTT
	ClientID    string        `yaml:"client_id"`
	TopicPrefix string        `yaml:"topic_prefix"`
	BufferSize  int           `yaml:"buffer_size"`
	Heartbeat   time.Duration `yaml:"heartbeat"` // 0 disables
}

// HTTPConfig configures the dashboard.
type HTTPConfig struct {
	Addr     string `yaml:"addr"` // empty disables the HTTP server
	Commands bool   `yaml:"commands"`
}

// HistoryConfig configures the session log.
type HistoryConfig struct {
	Path string `yaml:"path"` // empty disables the session log
}

// SimConfig tunes the simulated rig used when actuator.kind is sim.
type SimConfig struct {
	MaxRPM       float64       `yaml:"max_rpm"`
	TimeConstant time.Duration `yaml:"time_constant"`
	Noise        float64       `yaml:"noise"`
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Sensor: SensorConfig{
			Chip: gpio.DefaultChip,
			Pin:  gpio.DefaultPinSense,
			Edge: string(gpio.EdgeRising),
		},
		Control: ControlConfig{
			Period:       100 * time.Millisecond,
			PulsesPerRev: 2,
			Kp:           0.05,
			Ki:           0.1,
			Kd:           0,
			OutputMax:    255,
			FilterWindow: 5,
			StallAfter:   3 * time.Second,
		},
		Actuator: ActuatorConfig{
			Kind:        "pwm",
			PWMBase:     actuator.DefaultSysfsBase,
			PWMChip:     -1,
			PWMChannel:  0,
			FrequencyHz: 20000,
			GPIOChip:    gpio.DefaultChip,
			GPIOPin:     18,
		},
		Serial: SerialConfig{
			Baud: 115200,
		},
		MQTT: MQTTConfig{
			ClientID:    "centrifuge",
			TopicPrefix: "lab/centrifuge",
			BufferSize:  256,
			Heartbeat:   15 * time.Minute,
		},
		HTTP: HTTPConfig{
			Addr:     ":80",
			Commands: true,
		},
		Sim: SimConfig{
			MaxRPM:       4000,
			TimeConstant: 800 * time.Millisecond,
		},
		EnvFile: "/run/pi-helper.env",
	}
}

// Load loads configuration from a YAML file on top of Default. A missing
// file is not an error.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if err := c.ControlConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := gpio.ParseEdge(c.Sensor.Edge); err != nil {
		errs = append(errs, err)
	}
	if c.Sensor.Debounce < 0 {
		errs = append(errs, fmt.Errorf("sensor: debounce must be >= 0, got %v", c.Sensor.Debounce))
	}
	switch c.Actuator.Kind {
	case "pwm", "gpio":
		if c.Sensor.Pin <= 0 {
			errs = append(errs, fmt.Errorf("sensor: invalid pin %d", c.Sensor.Pin))
		}
	case "sim":
	default:
		errs = append(errs, fmt.Errorf("actuator: unknown kind %q (want pwm, gpio or sim)", c.Actuator.Kind))
	}
	if c.Actuator.Kind == "pwm" && c.Actuator.FrequencyHz <= 0 {
		errs = append(errs, fmt.Errorf("actuator: frequency_hz must be > 0, got %d", c.Actuator.FrequencyHz))
	}
	if c.MQTT.Heartbeat < 0 {
		errs = append(errs, fmt.Errorf("mqtt: heartbeat must be >= 0, got %v", c.MQTT.Heartbeat))
	}
	if c.Serial.Port != "" && c.Serial.Baud <= 0 {
		errs = append(errs, fmt.Errorf("serial: baud must be > 0, got %d", c.Serial.Baud))
	}
	return errors.Join(errs...)
}

// ControlConfig converts the loop constants for the controller.
func (c *Config) ControlConfig() control.Config {
	return control.Config{
		Period:       c.Control.Period,
		PulsesPerRev: c.Control.PulsesPerRev,
		Gains:        control.Gains{Kp: c.Control.Kp, Ki: c.Control.Ki, Kd: c.Control.Kd},
		OutputMax:    c.Control.OutputMax,
		FilterWindow: c.Control.FilterWindow,
		StallAfter:   c.Control.StallAfter,
	}
}

// ActuatorConfig converts the driver settings.
func (c *Config) ActuatorConfig() actuator.Config {
	return actuator.Config{
		Kind:        c.Actuator.Kind,
		PWMBase:     c.Actuator.PWMBase,
		PWMChip:     c.Actuator.PWMChip,
		PWMChannel:  c.Actuator.PWMChannel,
		FrequencyHz: c.Actuator.FrequencyHz,
		GPIOChip:    c.Actuator.GPIOChip,
		GPIOPin:     c.Actuator.GPIOPin,
		OutputMax:   c.Control.OutputMax,
	}
}

// SimConfig converts the simulated rig settings.
func (c *Config) SimConfig() sim.Config {
	return sim.Config{
		MaxRPM:       c.Sim.MaxRPM,
		TimeConstant: c.Sim.TimeConstant,
		PulsesPerRev: c.Control.PulsesPerRev,
		OutputMax:    c.Control.OutputMax,
		Noise:        c.Sim.Noise,
	}
}

// StatusConfig is the subset shown on the dashboard.
func (c *Config) StatusConfig() status.Config {
	return status.Config{
		PeriodMs:     c.Control.Period.Milliseconds(),
		PulsesPerRev: c.Control.PulsesPerRev,
		Kp:           c.Control.Kp,
		Ki:           c.Control.Ki,
		Kd:           c.Control.Kd,
		OutputMax:    c.Control.OutputMax,
		FilterWindow: c.Control.FilterWindow,
		Actuator:     c.Actuator.Kind,
		Serial:       c.Serial.Port,
		Broker:       c.MQTT.Broker,
		HTTPAddr:     c.HTTP.Addr,
		HeartbeatMs:  c.MQTT.Heartbeat.Milliseconds(),
	}
}
