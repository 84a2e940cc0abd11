// Command centrifuge regulates a centrifuge motor to a commanded speed and
// reports progress over serial, MQTT and HTTP.
package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/sweeney/centrifuge/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		atexit.Exit(1)
	}
	atexit.Exit(0)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "centrifuge",
		Short: "Closed-loop speed controller for a centrifuge motor",
		Long: `centrifuge counts hall sensor pulses, estimates rotor speed and drives ` +
			`the motor through PWM to hold a commanded rpm, optionally for a fixed time.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringP("config", "c", config.DefaultPath, "Path to the YAML configuration file")

	root.AddCommand(newRunCmd(), newSendCmd(), newConfigCmd())
	return root
}

// loadConfig reads --config and applies the overrides shared by run and config.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("serial") {
		cfg.Serial.Port, _ = flags.GetString("serial")
	}
	if flags.Changed("broker") {
		cfg.MQTT.Broker, _ = flags.GetString("broker")
	}
	if flags.Changed("http") {
		cfg.HTTP.Addr, _ = flags.GetString("http")
	}
	if sim, _ := flags.GetBool("sim"); sim {
		cfg.Actuator.Kind = "sim"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func addOverrideFlags(cmd *cobra.Command) {
	cmd.Flags().String("serial", "", "Serial port for host commands (empty to disable)")
	cmd.Flags().String("broker", "", "MQTT broker address (empty to disable)")
	cmd.Flags().String("http", "", "HTTP status address (empty to disable)")
	cmd.Flags().Bool("sim", false, "Drive a simulated motor instead of hardware")
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			data, err := cfg.Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	addOverrideFlags(cmd)
	return cmd
}

