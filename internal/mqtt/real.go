package mqtt

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/centrifuge/internal/control"
	"github.com/sweeney/centrifuge/internal/link"
)

// DefaultBufferSize is how many events are kept while disconnected.
const DefaultBufferSize = 256

// Options configures a RealPublisher.
type Options struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	BufferSize  int
	// OnCommand, if set, receives commands decoded from the command topic.
	// It is called from the paho router goroutine and must not block.
	OnCommand func(control.Command)
}

// RealPublisher publishes to an actual MQTT broker.
type RealPublisher struct {
	client paho.Client
	topics Topics
	onCmd  func(control.Command)

	mu  sync.Mutex
	buf *ringBuffer
}

// NewRealPublisher creates a publisher connected to the given broker.
// The broker receives a retained SHUTDOWN/MQTT_DISCONNECT will so that
// dashboards notice an unclean exit.
func NewRealPublisher(opts Options) (*RealPublisher, error) {
	if opts.ClientID == "" {
		opts.ClientID = "centrifuge"
	}
	if opts.BufferSize == 0 {
		opts.BufferSize = DefaultBufferSize
	}

	p := &RealPublisher{
		topics: NewTopics(opts.TopicPrefix),
		onCmd:  opts.OnCommand,
		buf:    newRingBuffer(opts.BufferSize),
	}

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	co := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetBinaryWill(p.topics.System, will, 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		})

	p.client = paho.NewClient(co)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

// onConnect runs on the first connect and after every reconnect.
func (p *RealPublisher) onConnect(c paho.Client) {
	if p.onCmd != nil {
		c.Subscribe(p.topics.Command, 1, func(_ paho.Client, m paho.Message) {
			p.handleCommand(m.Payload())
		})
	}
	p.flush()
}

func (p *RealPublisher) handleCommand(payload []byte) {
	cmd, err := link.Decode(string(payload))
	if err != nil {
		if !errors.Is(err, link.ErrEmpty) {
			log.Printf("mqtt: dropping command %q: %v", payload, err)
		}
		return
	}
	p.onCmd(cmd)
}

// flush replays messages buffered while offline.
func (p *RealPublisher) flush() {
	p.mu.Lock()
	msgs, dropped := p.buf.drain()
	p.mu.Unlock()

	if len(msgs) == 0 && dropped == 0 {
		return
	}
	log.Printf("mqtt: replaying %d buffered messages (%d dropped)", len(msgs), dropped)
	for _, m := range msgs {
		// Fire and forget; a failure here will be retried by paho's own store.
		p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	}
}

// IsConnected reports whether the client currently has a broker connection.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// PublishSample sends a running sample (QoS 0, dropped when offline).
func (p *RealPublisher) PublishSample(s control.Sample) error {
	payload, err := FormatSamplePayload(s)
	if err != nil {
		return fmt.Errorf("format sample payload: %w", err)
	}
	if !p.IsConnected() {
		return nil
	}
	return p.publish(bufferedMsg{topic: p.topics.Sample, payload: payload})
}

// PublishEvent sends a session event (QoS 1, buffered when offline).
func (p *RealPublisher) PublishEvent(e control.Event) error {
	payload, err := FormatEventPayload(e)
	if err != nil {
		return fmt.Errorf("format event payload: %w", err)
	}
	return p.sendOrBuffer(bufferedMsg{topic: p.topics.Events, payload: payload, qos: 1})
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.sendOrBuffer(bufferedMsg{topic: p.topics.System, payload: payload, qos: 1, retained: event.Retained})
}

func (p *RealPublisher) sendOrBuffer(m bufferedMsg) error {
	if !p.IsConnected() {
		p.mu.Lock()
		p.buf.push(m)
		p.mu.Unlock()
		return nil
	}
	return p.publish(m)
}

func (p *RealPublisher) publish(m bufferedMsg) error {
	token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s timeout", m.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", m.topic, err)
	}
	return nil
}

// Buffered returns the number of messages waiting for a reconnect.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.len()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
