// Package mock provides a scripted transport.Connection backend driven by a
// command->response lookup table, for exercising the ELM327 engine and
// ISO-TP reassembly without real hardware.
package mock

import (
	"bytes"
	"context"
	"strings"
	"sync"

	"github.com/obd2diag/elmcore/pkg/transport"
)

// Fixture is the command->response table a mock Connection is scripted
// from. Keys are the ASCII command with the trailing '\r' stripped (e.g.
// "ATZ", "220101"); values are the exact bytes the adapter would have sent
// back, including the trailing prompt byte.
type Fixture map[string][]byte

// DefaultUnknownResponse is returned for any command not present in the
// fixture table, mirroring a real ELM327 answering an unrecognized command
// with "?".
var DefaultUnknownResponse = []byte("?\r\r>")

// Connection is a transport.Connection backed by a Fixture. Writes are
// matched against the table; the looked-up response is queued for the next
// ReadUntil/Read. No real I/O, no delays, fully deterministic.
type Connection struct {
	fixture Fixture

	mu       sync.Mutex
	open     bool
	pending  bytes.Buffer
	CallLog  []string // commands seen, in order, for assertions in tests
}

// New constructs a mock Connection scripted from fixture. A nil fixture is
// equivalent to an empty one: every command gets DefaultUnknownResponse.
func New(fixture Fixture) *Connection {
	if fixture == nil {
		fixture = Fixture{}
	}
	return &Connection{fixture: fixture}
}

func (c *Connection) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = true
	c.pending.Reset()
	return nil
}

func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	return nil
}

// Write accepts a CR-terminated command, looks it up in the fixture table,
// and queues the scripted response for the next read.
func (c *Connection) Write(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return &transport.NotOpenError{Op: "write"}
	}

	cmd := strings.TrimRight(string(p), "\r\n")
	c.CallLog = append(c.CallLog, cmd)

	resp, ok := c.fixture[cmd]
	if !ok {
		resp = DefaultUnknownResponse
	}
	c.pending.Write(resp)
	return nil
}

func (c *Connection) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return 0, &transport.NotOpenError{Op: "read"}
	}
	if c.pending.Len() == 0 {
		return 0, &transport.TimeoutError{Op: "read"}
	}
	return c.pending.Read(p)
}

func (c *Connection) ReadUntil(ctx context.Context, terminator []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return nil, &transport.NotOpenError{Op: "read_until"}
	}

	idx := bytes.Index(c.pending.Bytes(), terminator)
	if idx < 0 {
		return nil, &transport.TimeoutError{Op: "read_until"}
	}
	n := idx + len(terminator)
	out := make([]byte, n)
	copy(out, c.pending.Bytes()[:n])
	c.pending.Next(n)
	return out, nil
}

func (c *Connection) FlushInput() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return &transport.NotOpenError{Op: "flush_input"}
	}
	c.pending.Reset()
	return nil
}
