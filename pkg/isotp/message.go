package isotp

import "fmt"

// Message accumulates ISO-TP frames, in arrival order, into a single UDS
// payload. It evolves through explicit transitions (AddFrame) rather than
// subclassing: a closed state machine over the four frame kinds.
type Message struct {
	expectedLength int
	haveExpected   bool
	buffer         []byte
	nextSequence   int // starts at 1 after a First frame, wraps mod 16
	complete       bool
}

// NewMessage returns an empty accumulator ready to receive frames for one
// UDS transaction.
func NewMessage() *Message {
	return &Message{nextSequence: 1}
}

// Complete reports whether enough Consecutive frames have arrived (or a
// Single frame was already the whole message) to finalize Payload.
func (m *Message) Complete() bool { return m.complete }

// AddFrame feeds one decoded frame into the reassembly state machine.
//
// Rules (spec.md §4.4, §8):
//   - A Single or First frame must be the first frame added; a Consecutive
//     frame before either is a ParseError.
//   - Consecutive frames must arrive in order 1, 2, ..., 15, 0, 1, ...; a
//     gap, duplicate, or misorder is a ParseError and no partial payload is
//     returned.
//   - Once len(buffer) >= expectedLength, the buffer is truncated to
//     expectedLength and the message is complete — CAN zero-pads the final
//     frame to 8 bytes, so the declared length is authoritative over the
//     frame's raw size.
func (m *Message) AddFrame(f *Frame) error {
	if m.complete {
		return &ParseError{Reason: "message already complete"}
	}

	switch f.Kind {
	case KindSingle:
		if m.haveExpected {
			return &ParseError{Reason: "single frame received after reassembly already started"}
		}
		m.buffer = append([]byte(nil), f.SingleData...)
		m.expectedLength = f.SingleLength
		m.haveExpected = true
		m.complete = true
		return nil

	case KindFirst:
		if m.haveExpected {
			return &ParseError{Reason: "first frame received but message already started"}
		}
		m.buffer = append([]byte(nil), f.FirstData...)
		m.expectedLength = f.TotalLength
		m.haveExpected = true
		m.nextSequence = 1
		if len(m.buffer) >= m.expectedLength {
			m.buffer = m.buffer[:m.expectedLength]
			m.complete = true
		}
		return nil

	case KindConsecutive:
		if !m.haveExpected {
			return &ParseError{Reason: "consecutive frame received before any first frame"}
		}
		if f.Sequence != m.nextSequence {
			return &ParseError{Reason: "sequence mismatch"}
		}
		m.buffer = append(m.buffer, f.ConsecutiveData...)
		m.nextSequence = (m.nextSequence + 1) % 16
		if len(m.buffer) >= m.expectedLength {
			m.buffer = m.buffer[:m.expectedLength]
			m.complete = true
		}
		return nil

	case KindFlowControl:
		// Parsed but not acted upon: the adapter manages flow control
		// transparently. See spec.md §4.4 step 2 and §9.
		return nil

	default:
		return &ParseError{Reason: "unknown frame kind"}
	}
}

// Payload returns the reassembled, length-truncated message. It is only
// meaningful once Complete() is true.
func (m *Message) Payload() []byte { return m.buffer }

// IncompleteMessageError reports that all input frames were consumed but
// fewer than expectedLength bytes were assembled.
type IncompleteMessageError struct {
	Expected int
	Got      int
}

func (e *IncompleteMessageError) Error() string {
	return fmt.Sprintf("isotp: incomplete message: got %d of %d expected bytes", e.Got, e.Expected)
}
