// Package elm327 drives an ELM327-class OBD-II adapter over a
// transport.Connection: the initialization handshake, command I/O, response
// tokenizing, UDS request/response framing, and an optional tester-present
// keep-alive.
package elm327

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/obd2diag/elmcore/pkg/isotp"
	"github.com/obd2diag/elmcore/pkg/transport"
)

// initCommands is the exact sequence spec.md §4.5.1 requires, in order.
// ATH1 is mandatory: without it the response parser cannot strip the CAN ID
// prefix from each frame.
var initCommands = []string{"ATZ", "ATE0", "ATL0", "ATS0", "ATH1", "ATSP0"}

const promptByte = '>'

var promptTerminator = []byte{promptByte}

// Engine drives one adapter connection. It is safe for concurrent use: all
// command I/O and header state is serialized through cmdMu.
type Engine struct {
	conn transport.Connection

	cmdMu          sync.Mutex
	echoDisabled   bool
	activeHeader   string // 3 hex digits, "" until the first send_uds_message
	commandTimeout time.Duration

	testerMu   sync.Mutex
	testerStop chan struct{}
	testerDone chan struct{}
}

// New wraps conn. commandTimeout bounds every ReadUntil call; pass 0 for a
// reasonable default (2s), which is generous for a BLE round trip.
func New(conn transport.Connection, commandTimeout time.Duration) *Engine {
	if commandTimeout <= 0 {
		commandTimeout = 2 * time.Second
	}
	return &Engine{conn: conn, commandTimeout: commandTimeout}
}

// Initialize runs the adapter reset/configuration handshake (spec.md
// §4.5.1). Each command is attempted up to 3 times in all when writing it or
// reading its response fails, since a freshly-opened BLE link sometimes
// drops the first write; an unexpected response text is not retried.
func (e *Engine) Initialize(ctx context.Context) error {
	e.cmdMu.Lock()
	defer e.cmdMu.Unlock()

	for _, cmd := range initCommands {
		resp, err := retry.DoWithData(func() (string, error) {
			return e.sendCommandLocked(ctx, cmd, cmd == "ATE0")
		},
			retry.Context(ctx),
			retry.Attempts(3),
			retry.Delay(100*time.Millisecond),
			retry.DelayType(retry.FixedDelay),
			retry.LastErrorOnly(true),
		)
		if err != nil {
			return fmt.Errorf("elm327: initialize: %s: %w", cmd, err)
		}
		// ATZ's reset banner ("ELM327 v1.5") is neither OK nor an error and
		// is deliberately ignored; every other command must answer OK.
		if cmd != "ATZ" && resp != "OK" {
			return fmt.Errorf("elm327: initialize: %s: unexpected response %q", cmd, resp)
		}
		if cmd == "ATE0" {
			e.echoDisabled = true
		}
	}
	return nil
}

// SendCommand writes cmd (an AT command or a bare hex UDS request) and
// returns the adapter's response text with the trailing prompt and
// surrounding whitespace stripped. It does not interpret the response.
func (e *Engine) SendCommand(ctx context.Context, cmd string) (string, error) {
	e.cmdMu.Lock()
	defer e.cmdMu.Unlock()
	return e.sendCommandLocked(ctx, cmd, false)
}

// sendCommandLocked assumes cmdMu is already held. expectEcho is used only
// during initialization, before echoDisabled becomes true, to strip the
// adapter's echo of the command from its own response.
func (e *Engine) sendCommandLocked(ctx context.Context, cmd string, expectEcho bool) (string, error) {
	log.Printf("elm327: -> %s", cmd)
	if err := e.conn.Write([]byte(cmd + "\r")); err != nil {
		return "", fmt.Errorf("elm327: write %q: %w", cmd, err)
	}

	readCtx, cancel := context.WithTimeout(ctx, e.commandTimeout)
	defer cancel()
	raw, err := e.conn.ReadUntil(readCtx, promptTerminator)
	if err != nil {
		log.Printf("elm327: <- %s: %v", cmd, err)
		return "", fmt.Errorf("elm327: read response to %q: %w", cmd, err)
	}

	text := strings.TrimRight(string(raw), string(promptByte))
	text = strings.TrimSpace(text)
	if expectEcho || !e.echoDisabled {
		text = strings.TrimPrefix(text, cmd)
		text = strings.TrimSpace(text)
	}
	log.Printf("elm327: <- %s", text)
	return text, nil
}

// SendUDSMessage implements spec.md §4.5.3: switches the active CAN header
// if needed, transmits service||data as a single hex string, reassembles
// the ISO-TP response, and validates the positive-response convention.
func (e *Engine) SendUDSMessage(ctx context.Context, targetCANID uint16, service byte, data []byte) (*UDSResponse, error) {
	e.cmdMu.Lock()
	defer e.cmdMu.Unlock()

	header := fmt.Sprintf("%03X", targetCANID)
	if header != e.activeHeader {
		resp, err := e.sendCommandLocked(ctx, "ATSH "+header, false)
		if err != nil {
			return nil, fmt.Errorf("elm327: set header %s: %w", header, err)
		}
		if resp != "OK" {
			return nil, fmt.Errorf("elm327: set header %s: unexpected response %q", header, resp)
		}
		e.activeHeader = header
	}

	request := hex.EncodeToString(append([]byte{service}, data...))
	resp, err := e.sendCommandLocked(ctx, request, false)
	if err != nil {
		return nil, err
	}

	frameHexes, err := parseResponseFrames(resp, request)
	if err != nil {
		return nil, err
	}

	payload, err := isotp.ParseFrames(frameHexes)
	if err != nil {
		return nil, fmt.Errorf("elm327: reassemble response to service 0x%02X: %w", service, err)
	}

	return decodeUDSResponse(service, payload)
}

// UDSResponse is the reassembled, validated result of one UDS transaction.
type UDSResponse struct {
	ServiceEcho    byte
	DataIdentifier *uint16 // set only for services 0x22/0x62
	Payload        []byte
}

func decodeUDSResponse(requestService byte, payload []byte) (*UDSResponse, error) {
	if len(payload) == 0 {
		return nil, &ProtocolError{Want: requestService | 0x40, Got: 0}
	}

	if payload[0] == 0x7F {
		if len(payload) < 3 {
			return nil, &ProtocolError{Want: requestService | 0x40, Got: payload[0]}
		}
		return nil, &NegativeResponseError{Service: payload[1], NRC: payload[2]}
	}

	want := requestService | 0x40
	if payload[0] != want {
		return nil, &ProtocolError{Want: want, Got: payload[0]}
	}

	resp := &UDSResponse{ServiceEcho: payload[0]}
	rest := payload[1:]

	if requestService == 0x22 || requestService == 0x62 {
		if len(rest) < 2 {
			return nil, &ProtocolError{Want: want, Got: payload[0]}
		}
		did := uint16(rest[0])<<8 | uint16(rest[1])
		resp.DataIdentifier = &did
		rest = rest[2:]
	}

	resp.Payload = rest
	return resp, nil
}

// StartTesterPresent begins a background task sending UDS service 0x3E
// sub-function 0x00 to the active header every period, per spec.md §4.5.5.
// A tick that cannot acquire the command lock immediately is skipped, not
// queued: tester-present is idempotent keep-alive, not a guaranteed send.
func (e *Engine) StartTesterPresent(period time.Duration) {
	e.testerMu.Lock()
	defer e.testerMu.Unlock()
	if e.testerStop != nil {
		return // already running
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	e.testerStop = stop
	e.testerDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				e.tickTesterPresent()
			}
		}
	}()
}

// StopTesterPresent stops the background task synchronously: it does not
// return until the task is observably quiesced.
func (e *Engine) StopTesterPresent() {
	e.testerMu.Lock()
	stop, done := e.testerStop, e.testerDone
	e.testerStop, e.testerDone = nil, nil
	e.testerMu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (e *Engine) tickTesterPresent() {
	if !e.cmdMu.TryLock() {
		return // contention with a foreground call: skip, don't queue
	}
	defer e.cmdMu.Unlock()

	if e.activeHeader == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.commandTimeout)
	defer cancel()

	if _, err := e.sendCommandLocked(ctx, "3E00", false); err != nil {
		// IoError during tester-present does not kill the foreground
		// engine; it only surfaces here.
		log.Printf("elm327: tester-present tick failed: %v", err)
	}
}
