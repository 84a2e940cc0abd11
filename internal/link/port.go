package link

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"go.bug.st/serial"

	"github.com/sweeney/centrifuge/internal/control"
)

// DefaultBaudRate matches the host tool.
const DefaultBaudRate = 115200

// Port is a line-oriented connection to the host.
type Port struct {
	rwc  io.ReadWriteCloser
	name string

	wmu    sync.Mutex
	closed bool
}

// Open opens a serial device in 8N1 mode.
func Open(name string, baud int) (*Port, error) {
	if baud == 0 {
		baud = DefaultBaudRate
	}
	p, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("link: open %s: %w", name, err)
	}
	return &Port{rwc: p, name: name}, nil
}

// NewPort wraps an already open stream, e.g. a pipe in tests.
func NewPort(rwc io.ReadWriteCloser, name string) *Port {
	return &Port{rwc: rwc, name: name}
}

// Ports lists the serial devices present on the system.
func Ports() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("link: list ports: %w", err)
	}
	return ports, nil
}

// Name returns the device name.
func (p *Port) Name() string {
	return p.name
}

// WriteLine writes s followed by a newline. Safe for concurrent use.
func (p *Port) WriteLine(s string) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	if p.closed {
		return errors.New("link: port closed")
	}
	if _, err := io.WriteString(p.rwc, s+"\n"); err != nil {
		return fmt.Errorf("link: write %s: %w", p.name, err)
	}
	return nil
}

// ReadLines calls fn for every non-blank line until the stream ends or ctx
// is cancelled. Cancellation is only noticed between lines, so callers
// should Close the port to unblock a pending read.
func (p *Port) ReadLines(ctx context.Context, fn func(line string)) error {
	scanner := bufio.NewScanner(p.rwc)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fn(line)
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("link: read %s: %w", p.name, err)
	}
	return nil
}

// ReadCommands decodes each line and sends the result on out. Malformed
// lines are logged and dropped. A full channel blocks the reader, which in
// turn applies backpressure to the host.
func (p *Port) ReadCommands(ctx context.Context, out chan<- control.Command) error {
	return p.ReadLines(ctx, func(line string) {
		cmd, err := Decode(line)
		if err != nil {
			if !errors.Is(err, ErrEmpty) {
				log.Printf("serial: dropping %q: %v", line, err)
			}
			return
		}
		select {
		case out <- cmd:
		case <-ctx.Done():
		}
	})
}

// Close closes the underlying stream, unblocking any reader.
func (p *Port) Close() error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.rwc.Close()
}
