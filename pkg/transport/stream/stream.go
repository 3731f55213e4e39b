// Package stream implements the classical serial/RFCOMM connection backend:
// a thin wrapper over an OS byte-stream device, with no framing or decoding
// of its own. All protocol awareness lives above this package.
package stream

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/obd2diag/elmcore/pkg/transport"
)

// DefaultBaudDirect is the default baud rate for a direct USB/serial ELM327
// adapter.
const DefaultBaudDirect = 38400

// DefaultBaudRFCOMM is the default baud rate used when the adapter is bound
// through an RFCOMM virtual serial port rather than a direct USB cable.
const DefaultBaudRFCOMM = 115200

// pollInterval is the per-read timeout set on the serial port: ReadUntil
// repeats such short reads while accumulating toward its terminator, and
// Read makes a single one when nothing is buffered.
const pollInterval = 5 * time.Millisecond

// Connection is a transport.Connection backed by an OS serial device (a
// direct USB/TTL adapter, or an RFCOMM virtual port bound to a Bluetooth
// classic SPP device).
type Connection struct {
	device   string
	baudRate int

	mu     sync.Mutex
	port   serial.Port
	open   bool
	buf    bytes.Buffer // bytes read from the device but not yet consumed
	readMu sync.Mutex
}

// New constructs a stream.Connection for device (e.g. "/dev/ttyUSB0",
// "COM3", or an RFCOMM-bound path). baudRate of 0 selects
// DefaultBaudDirect.
func New(device string, baudRate int) *Connection {
	if baudRate == 0 {
		baudRate = DefaultBaudDirect
	}
	return &Connection{device: device, baudRate: baudRate}
}

func (c *Connection) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open {
		return nil
	}

	mode := &serial.Mode{BaudRate: c.baudRate}
	port, err := serial.Open(c.device, mode)
	if err != nil {
		return &transport.IoError{Op: "open " + c.device, Err: err}
	}
	// Short per-read timeout: ReadUntil drives its own deadline loop on top
	// of this (Read makes a single attempt), matching the AEM/Zeitronix wideband drivers' use of
	// a small fixed read timeout rather than blocking reads.
	if err := port.SetReadTimeout(pollInterval); err != nil {
		port.Close()
		return &transport.IoError{Op: "set read timeout", Err: err}
	}

	c.port = port
	c.open = true
	c.buf.Reset()
	return nil
}

func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return nil
	}
	c.open = false
	err := c.port.Close()
	c.port = nil
	if err != nil {
		return &transport.IoError{Op: "close", Err: err}
	}
	return nil
}

func (c *Connection) Write(p []byte) error {
	c.mu.Lock()
	port, open := c.port, c.open
	c.mu.Unlock()
	if !open {
		return &transport.NotOpenError{Op: "write"}
	}

	written := 0
	for written < len(p) {
		n, err := port.Write(p[written:])
		if err != nil {
			return &transport.IoError{Op: "write", Err: err}
		}
		if n == 0 {
			return &transport.IoError{Op: "write", Err: fmt.Errorf("zero-byte write, device may be gone")}
		}
		written += n
	}
	return nil
}

// fillOnce drains whatever the device currently has into c.buf, without
// blocking longer than the device's configured read timeout. go.bug.st/serial
// returns (0, nil) on a read-timeout with no data available, so an empty
// read is not itself an error here — it just means "nothing yet".
func (c *Connection) fillOnce() error {
	c.mu.Lock()
	port, open := c.port, c.open
	c.mu.Unlock()
	if !open {
		return &transport.NotOpenError{Op: "read"}
	}

	tmp := make([]byte, 256)
	n, err := port.Read(tmp)
	if err != nil {
		return &transport.IoError{Op: "read", Err: err}
	}
	if n > 0 {
		c.readMu.Lock()
		c.buf.Write(tmp[:n])
		c.readMu.Unlock()
	}
	return nil
}

func (c *Connection) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	c.readMu.Lock()
	if c.buf.Len() > 0 {
		n, _ := c.buf.Read(p)
		c.readMu.Unlock()
		return n, nil
	}
	c.readMu.Unlock()

	if err := c.fillOnce(); err != nil {
		return 0, err
	}

	c.readMu.Lock()
	defer c.readMu.Unlock()
	if c.buf.Len() == 0 {
		return 0, &transport.TimeoutError{Op: "read"}
	}
	n, _ := c.buf.Read(p)
	return n, nil
}

// pollSleep is slept between empty fillOnce attempts inside ReadUntil so the
// loop does not spin while waiting on ctx or new bytes.
const pollSleep = 3 * time.Millisecond

func (c *Connection) ReadUntil(ctx context.Context, terminator []byte) ([]byte, error) {
	start := time.Now()
	for {
		c.readMu.Lock()
		if idx := bytes.Index(c.buf.Bytes(), terminator); idx >= 0 {
			n := idx + len(terminator)
			out := make([]byte, n)
			copy(out, c.buf.Bytes()[:n])
			c.buf.Next(n)
			c.readMu.Unlock()
			return out, nil
		}
		c.readMu.Unlock()

		select {
		case <-ctx.Done():
			return nil, &transport.TimeoutError{Op: "read_until", Waited: time.Since(start)}
		default:
		}

		if err := c.fillOnce(); err != nil {
			return nil, err
		}

		c.readMu.Lock()
		empty := c.buf.Len() == 0
		c.readMu.Unlock()
		if empty {
			time.Sleep(pollSleep)
		}
	}
}

func (c *Connection) FlushInput() error {
	c.mu.Lock()
	port, open := c.port, c.open
	c.mu.Unlock()
	if !open {
		return &transport.NotOpenError{Op: "flush_input"}
	}

	c.readMu.Lock()
	c.buf.Reset()
	c.readMu.Unlock()

	if err := port.ResetInputBuffer(); err != nil {
		return &transport.IoError{Op: "flush_input", Err: err}
	}
	return nil
}
