package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/obd2diag/elmcore/pkg/transport"
)

// Recorder wraps a real transport.Connection and captures every
// command/response exchange into a Fixture, so a live adapter session can
// later be replayed through a mock Connection without hardware. It relies
// on the same command/response discipline elm327.Engine drives every
// transport with: one Write per command, followed by exactly one ReadUntil
// for that command's full response.
type Recorder struct {
	conn transport.Connection

	mu      sync.Mutex
	fixture Fixture
	pending string
}

// NewRecorder wraps conn, which the caller still owns and must Open/Close.
func NewRecorder(conn transport.Connection) *Recorder {
	return &Recorder{conn: conn, fixture: Fixture{}}
}

func (r *Recorder) Open(ctx context.Context) error { return r.conn.Open(ctx) }
func (r *Recorder) Close() error                   { return r.conn.Close() }
func (r *Recorder) FlushInput() error              { return r.conn.FlushInput() }
func (r *Recorder) Read(p []byte) (int, error)     { return r.conn.Read(p) }

func (r *Recorder) Write(p []byte) error {
	r.mu.Lock()
	r.pending = strings.TrimRight(string(p), "\r\n")
	r.mu.Unlock()
	return r.conn.Write(p)
}

func (r *Recorder) ReadUntil(ctx context.Context, terminator []byte) ([]byte, error) {
	raw, err := r.conn.ReadUntil(ctx, terminator)
	if err != nil {
		return raw, err
	}

	r.mu.Lock()
	if r.pending != "" {
		r.fixture[r.pending] = append([]byte(nil), raw...)
		r.pending = ""
	}
	r.mu.Unlock()
	return raw, nil
}

// Fixture returns a snapshot of everything captured so far.
func (r *Recorder) Fixture() Fixture {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(Fixture, len(r.fixture))
	for k, v := range r.fixture {
		out[k] = v
	}
	return out
}

// Save writes the captured fixture to path with SaveFixture, for replay
// later via LoadFixture and mock.New.
func (r *Recorder) Save(path string) error {
	return SaveFixture(path, r.Fixture())
}
