package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/sweeney/centrifuge/internal/actuator"
	"github.com/sweeney/centrifuge/internal/config"
	"github.com/sweeney/centrifuge/internal/control"
	"github.com/sweeney/centrifuge/internal/gpio"
	"github.com/sweeney/centrifuge/internal/history"
	"github.com/sweeney/centrifuge/internal/link"
	"github.com/sweeney/centrifuge/internal/mqtt"
	"github.com/sweeney/centrifuge/internal/pulse"
	"github.com/sweeney/centrifuge/internal/sim"
	"github.com/sweeney/centrifuge/internal/status"
	"github.com/sweeney/centrifuge/internal/web"
)

// commandQueue is how many decoded commands may wait for the run loop.
const commandQueue = 16

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the speed controller",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := run(cfg); err != nil {
				atexit.Fatalf("fatal: %v", err)
			}
			return nil
		},
	}
	addOverrideFlags(cmd)
	return cmd
}

// hardware opens the pickup and the motor driver. In sim mode both are the
// same model.
func hardware(cfg *config.Config) (gpio.EdgeSource, actuator.Actuator, error) {
	if cfg.Actuator.Kind == "sim" {
		m := sim.NewMotor(cfg.SimConfig())
		return m, m, nil
	}

	edge, err := gpio.ParseEdge(cfg.Sensor.Edge)
	if err != nil {
		return nil, nil, err
	}
	act, err := actuator.Open(cfg.ActuatorConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("init actuator: %w", err)
	}
	src := gpio.NewRealEdgeSource(cfg.Sensor.Chip, cfg.Sensor.Pin, edge, cfg.Sensor.Debounce)
	return src, act, nil
}

func run(cfg *config.Config) error {
	start := time.Now()
	ctrl, err := control.New(cfg.ControlConfig(), start)
	if err != nil {
		return err
	}

	src, act, err := hardware(cfg)
	if err != nil {
		return err
	}
	// Registered first so it runs even if a later step calls atexit.Fatalf.
	atexit.Register(func() {
		if err := act.Disable(); err != nil {
			log.Printf("actuator: disable on exit: %v", err)
		}
		if err := act.Close(); err != nil {
			log.Printf("actuator: close: %v", err)
		}
	})
	if err := act.Disable(); err != nil {
		return fmt.Errorf("init actuator: %w", err)
	}

	var counter pulse.Counter
	if err := src.Watch(counter.Increment); err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer src.Close()

	commands := make(chan control.Command, commandQueue)

	var publisher mqtt.Publisher = mqtt.Discard
	var mqttStatus mqtt.ConnectionStatus = mqtt.Discard.(mqtt.ConnectionStatus)
	if cfg.MQTT.Broker != "" {
		p, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			BufferSize:  cfg.MQTT.BufferSize,
			OnCommand: func(c control.Command) {
				select {
				case commands <- c:
				default:
					log.Printf("mqtt: command queue full, dropping %s", link.Encode(c))
				}
			},
		})
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer p.Close()
		publisher, mqttStatus = p, p
	}

	tracker := status.NewTracker(start, cfg.StatusConfig())
	if net := readNetworkInfo(cfg.EnvFile); net != nil {
		tracker.SetNetwork(net)
	}

	var recorder sessionRecorder
	if cfg.History.Path != "" {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			return fmt.Errorf("init history: %w", err)
		}
		atexit.Register(func() {
			if err := store.Close(); err != nil {
				log.Printf("history: close: %v", err)
			}
		})
		recent, err := store.Recent(status.MaxSessions)
		if err != nil {
			log.Printf("history: load recent sessions: %v", err)
		}
		tracker.SetSessions(recent)
		recorder = store
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reply := func(string) {}
	if cfg.Serial.Port != "" {
		port, err := link.Open(cfg.Serial.Port, cfg.Serial.Baud)
		if err != nil {
			return fmt.Errorf("init serial: %w", err)
		}
		defer port.Close()
		go func() {
			if err := port.ReadCommands(ctx, commands); err != nil && ctx.Err() == nil {
				log.Printf("serial: reader stopped: %v", err)
			}
		}()
		reply = func(line string) {
			if err := port.WriteLine(line); err != nil {
				log.Printf("serial: write: %v", err)
			}
		}
		log.Printf("serial command link on %s at %d baud", port.Name(), cfg.Serial.Baud)
	}

	if cfg.HTTP.Addr != "" {
		var webCommands chan<- control.Command
		if cfg.HTTP.Commands {
			webCommands = commands
		}
		srv := web.New(cfg.HTTP.Addr, tracker, webCommands)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", cfg.HTTP.Addr)
	}

	if proc, err := status.ReadProcessInfo(); err == nil {
		tracker.SetProcess(proc)
	}
	tracker.SetMQTTConnected(mqttStatus.IsConnected())
	snap := tracker.Snapshot()
	startup := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startup); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	log.Printf("started: period=%v ppr=%d kp=%g ki=%g kd=%g max=%d window=%d actuator=%s",
		cfg.Control.Period, cfg.Control.PulsesPerRev, cfg.Control.Kp, cfg.Control.Ki, cfg.Control.Kd,
		cfg.Control.OutputMax, cfg.Control.FilterWindow, cfg.Actuator.Kind)

	ticker := time.NewTicker(cfg.Control.Period)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(loopDeps{
		ctrl:       ctrl,
		counter:    &counter,
		act:        act,
		publisher:  publisher,
		mqttStatus: mqttStatus,
		tracker:    tracker,
		history:    recorder,
		reply:      reply,
		heartbeat:  cfg.MQTT.Heartbeat,
		envFile:    cfg.EnvFile,
		now:        time.Now,
		tick:       ticker.C,
		commands:   commands,
		sig:        sigCh,
	})
}

// pulseSource is the read side of pulse.Counter.
type pulseSource interface {
	ReadAndReset() uint32
	Total() uint64
}

// sessionRecorder persists finished sessions.
type sessionRecorder interface {
	Record(rec control.SessionRecord) error
}

type loopDeps struct {
	ctrl       *control.Controller
	counter    pulseSource
	act        actuator.Actuator
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus // may be nil
	tracker    *status.Tracker       // may be nil
	history    sessionRecorder       // may be nil
	reply      func(line string)     // may be nil
	heartbeat  time.Duration         // 0 disables
	envFile    string
	now        func() time.Time
	tick       <-chan time.Time
	commands   <-chan control.Command
	sig        <-chan os.Signal
}

// runLoop owns the controller. Edge callbacks only touch the counter;
// everything else happens here, one event at a time.
func runLoop(d loopDeps) error {
	reply := d.reply
	if reply == nil {
		reply = func(string) {}
	}
	lastHeartbeat := d.now()

	for {
		select {
		case s := <-d.sig:
			log.Printf("received %v, shutting down", s)
			if err := d.act.Disable(); err != nil {
				log.Printf("actuator: disable: %v", err)
			}
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			event := mqtt.SystemEvent{
				Timestamp: d.now(),
				Event:     "SHUTDOWN",
				Reason:    signalName,
				Retained:  true,
			}
			if d.tracker != nil {
				update(d)
				event.RawPayload = status.FormatStatusEvent(d.tracker.Snapshot(), "SHUTDOWN", signalName)
			}
			if err := d.publisher.PublishSystem(event); err != nil {
				log.Printf("failed to publish shutdown event: %v", err)
			} else {
				log.Printf("published shutdown event")
			}
			return nil

		case cmd := <-d.commands:
			t := d.now()
			out, err := d.ctrl.Apply(cmd, t)
			if err != nil {
				log.Printf("command rejected: %v", err)
				update(d)
				continue
			}
			log.Printf("command: %s -> %s", link.Encode(cmd), d.ctrl.State())
			handleOutput(d, out, reply, link.FormatAck(cmd))
			update(d)

		case <-d.tick:
			t := d.now()
			out := d.ctrl.Tick(d.counter.ReadAndReset(), t)
			if out.Running {
				if err := d.act.Set(out.Drive); err != nil {
					log.Printf("actuator: set %d: %v", out.Drive, err)
				}
				if err := d.publisher.PublishSample(out.Sample); err != nil {
					log.Printf("sample publish error: %v", err)
				}
				reply(link.FormatStatus(out.Sample))
				if d.tracker != nil {
					d.tracker.AddSample(out.Sample)
				}
			}
			handleOutput(d, out, reply, "")

			if d.heartbeat > 0 && t.Sub(lastHeartbeat) >= d.heartbeat {
				lastHeartbeat = t
				sendHeartbeat(d, t)
			}
			update(d)
		}
	}
}

// handleOutput applies the parts of an Output shared by commands and ticks:
// the disable signal, events and the finished session.
// The ACK line goes out in event order, after any DONE for a session the
// command found already expired.
func handleOutput(d loopDeps, out control.Output, reply func(string), ack string) {
	if out.Disable {
		if err := d.act.Disable(); err != nil {
			log.Printf("actuator: disable: %v", err)
		}
	}
	for _, e := range out.Events {
		switch e.Type {
		case control.EventAck:
			if ack != "" {
				reply(ack)
			}
		case control.EventComplete:
			log.Printf("event: %s session=%s target=%.0f", e.Type, e.SessionID, e.Target)
			reply(link.DoneLine)
		default:
			log.Printf("event: %s session=%s target=%.0f", e.Type, e.SessionID, e.Target)
		}
		if err := d.publisher.PublishEvent(e); err != nil {
			log.Printf("publish error: %v", err)
		}
	}
	if rec := out.Finished; rec != nil {
		if d.tracker != nil {
			d.tracker.AddSession(*rec)
		}
		if d.history != nil {
			if err := d.history.Record(*rec); err != nil {
				log.Printf("history: record %s: %v", rec.ID, err)
			}
		}
	}
}

func sendHeartbeat(d loopDeps, t time.Time) {
	counts := d.ctrl.CountsSnapshot()
	log.Printf("heartbeat: state=%s started=%d stopped=%d completed=%d rejected=%d pulses=%d",
		d.ctrl.State(), counts.Started, counts.Stopped, counts.Completed, counts.Rejected, d.counter.Total())

	event := mqtt.SystemEvent{Timestamp: t, Event: "HEARTBEAT"}
	if d.tracker != nil {
		if net := readNetworkInfo(d.envFile); net != nil {
			d.tracker.SetNetwork(net)
		}
		if proc, err := status.ReadProcessInfo(); err == nil {
			d.tracker.SetProcess(proc)
		}
		update(d)
		event.RawPayload = status.FormatStatusEvent(d.tracker.Snapshot(), "HEARTBEAT", "")
	}
	if err := d.publisher.PublishSystem(event); err != nil {
		log.Printf("heartbeat publish error: %v", err)
	}
}

// update pushes controller state to the tracker for HTTP and lifecycle events.
func update(d loopDeps) {
	if d.tracker == nil {
		return
	}
	var sample control.Sample
	if d.ctrl.State() == control.StateRunning {
		sample = d.ctrl.LastSample()
	}
	d.tracker.Update(status.Reading{
		State:       d.ctrl.State(),
		SessionID:   d.ctrl.SessionID(),
		Target:      d.ctrl.Target(),
		Deadline:    d.ctrl.Deadline(),
		Filtered:    d.ctrl.Filtered(),
		Sample:      sample,
		Counts:      d.ctrl.CountsSnapshot(),
		PulsesTotal: d.counter.Total(),
	})
	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
}
