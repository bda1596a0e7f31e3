// Package peripheral implements the capture, extraction, card reader and
// lock capabilities the gate engine consumes.
package peripheral

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"
)

// pollReadTimeout bounds each read Poll makes, so a poll never stalls the
// card poller for longer than this.
const pollReadTimeout = 5 * time.Millisecond

var ErrNoSerialPort = errors.New("no serial port found")

// Port is the subset of serial.Port the device uses.
type Port interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
	ResetOutputBuffer() error
}

type SerialConfig struct {
	// Port is the device path.  Empty means autodetect.
	Port        string
	Products    []string // product-name substrings preferred by autodetect
	Baud        int
	BootDelay   time.Duration
	OpenCommand string
}

// SerialDevice is the microcontroller that carries both the card reader and
// the lock relay.  Card lines are read from it and the open command is
// written to it; one mutex serializes both directions.
type SerialDevice struct {
	mu      sync.Mutex
	port    Port
	name    string
	openCmd []byte
	pending []byte
	lines   []string
	logger  *zap.Logger
}

// NewSerialDevice wraps an already open port.
func NewSerialDevice(port Port, name, openCommand string, logger *zap.Logger) *SerialDevice {
	if openCommand == "" {
		openCommand = "OPEN"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SerialDevice{
		port:    port,
		name:    name,
		openCmd: []byte(strings.TrimRight(openCommand, "\r\n") + "\n"),
		logger:  logger,
	}
}

// OpenSerial opens the configured port, or the first Arduino/USB port when
// none is configured, and waits out the board's reset after opening.
func OpenSerial(ctx context.Context, cfg SerialConfig, logger *zap.Logger) (*SerialDevice, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	name := cfg.Port
	if name == "" {
		ports, err := enumerator.GetDetailedPortsList()
		if err != nil {
			return nil, fmt.Errorf("enumerate serial ports: %w", err)
		}
		if name = PickPort(ports, cfg.Products); name == "" {
			return nil, ErrNoSerialPort
		}
		logger.Info("serial port autodetected", zap.String("port", name))
	}

	baud := cfg.Baud
	if baud <= 0 {
		baud = 9600
	}
	p, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	if err := p.SetReadTimeout(pollReadTimeout); err != nil {
		p.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", name, err)
	}

	if cfg.BootDelay > 0 {
		t := time.NewTimer(cfg.BootDelay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			p.Close()
			return nil, ctx.Err()
		}
	}

	logger.Info("serial device ready", zap.String("port", name), zap.Int("baud", baud))
	return NewSerialDevice(p, name, cfg.OpenCommand, logger), nil
}

// PickPort chooses the first port whose product name contains one of
// products (case-insensitive), then any USB serial port.
func PickPort(ports []*enumerator.PortDetails, products []string) string {
	for _, want := range products {
		want = strings.ToLower(want)
		for _, p := range ports {
			if want != "" && strings.Contains(strings.ToLower(p.Product), want) {
				return p.Name
			}
		}
	}
	for _, p := range ports {
		if p.IsUSB {
			return p.Name
		}
	}
	return ""
}

func (d *SerialDevice) Name() string { return d.name }

// Poll returns the next complete line read from the device, trimmed.
func (d *SerialDevice) Poll() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.lines) == 0 {
		d.fill()
	}
	if len(d.lines) == 0 {
		return "", false
	}
	line := d.lines[0]
	d.lines = d.lines[1:]
	return line, true
}

// fill reads whatever the port has and splits it into lines.  Caller holds
// d.mu.
func (d *SerialDevice) fill() {
	buf := make([]byte, 256)
	n, err := d.port.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		d.logger.Warn("serial read failed", zap.String("port", d.name), zap.Error(err))
		return
	}
	d.pending = append(d.pending, buf[:n]...)

	for {
		i := bytes.IndexByte(d.pending, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSpace(string(d.pending[:i]))
		d.pending = d.pending[i+1:]
		if line != "" {
			d.lines = append(d.lines, line)
		}
	}
}

// ResetBuffers drops buffered input on both sides of the port.
func (d *SerialDevice) ResetBuffers() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending = nil
	d.lines = nil
	if err := d.port.ResetInputBuffer(); err != nil {
		d.logger.Warn("serial input reset failed", zap.Error(err))
	}
	if err := d.port.ResetOutputBuffer(); err != nil {
		d.logger.Warn("serial output reset failed", zap.Error(err))
	}
}

func (d *SerialDevice) Present() bool { return true }

// Open writes the open command.  The relay does not acknowledge.
func (d *SerialDevice) Open(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.port.Write(d.openCmd); err != nil {
		return fmt.Errorf("write open command to %s: %w", d.name, err)
	}
	return nil
}

func (d *SerialDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.port.Close()
}
