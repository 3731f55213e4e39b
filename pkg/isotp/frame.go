// Package isotp implements the ISO 15765-2 (ISO-TP) segmentation and
// reassembly of CAN frame payloads into a single UDS message.
package isotp

import "fmt"

// FrameKind is the closed set of ISO-TP PCI types, the high nibble of byte
// 0 of every frame.
type FrameKind uint8

const (
	KindSingle      FrameKind = 0x0
	KindFirst       FrameKind = 0x1
	KindConsecutive FrameKind = 0x2
	KindFlowControl FrameKind = 0x3
)

// Frame is a tagged variant over the four ISO-TP PCI types. Exactly one of
// the Single/First/Consecutive/FlowControl fields is meaningful, selected
// by Kind.
type Frame struct {
	Kind FrameKind

	// Single frame fields.
	SingleLength int // n in [1,7]
	SingleData   []byte

	// First frame fields.
	TotalLength int // N in [8,4095]
	FirstData   []byte // 6 bytes for a full 8-byte frame, fewer for a shorter one

	// Consecutive frame fields.
	Sequence int // s in [0,15]
	ConsecutiveData []byte // up to 7 bytes

	// Flow control fields (parsed, never acted on: the adapter manages
	// flow control transparently).
	FlowStatus byte
	BlockSize  byte
	SepTime    byte
}

// ParseError reports malformed ISO-TP frame bytes.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string { return "isotp: parse error: " + e.Reason }

// ParseFrame decodes a single ISO-TP frame from data, the CAN frame's data
// field with any CAN-ID prefix already stripped by the caller.
func ParseFrame(data []byte) (*Frame, error) {
	if len(data) == 0 {
		return nil, &ParseError{Reason: "empty frame"}
	}

	pci := data[0] >> 4
	switch FrameKind(pci) {
	case KindSingle:
		n := int(data[0] & 0x0F)
		if n < 1 || n > 7 {
			return nil, &ParseError{Reason: fmt.Sprintf("single frame length %d out of range [1,7]", n)}
		}
		// A frame that carries fewer data bytes than n declares yields the
		// bytes it does carry.
		end := 1 + n
		if end > len(data) {
			end = len(data)
		}
		return &Frame{Kind: KindSingle, SingleLength: n, SingleData: data[1:end]}, nil

	case KindFirst:
		if len(data) < 2 {
			return nil, &ParseError{Reason: "first frame shorter than 2 bytes"}
		}
		total := (int(data[0]&0x0F) << 8) | int(data[1])
		if total < 8 || total > 4095 {
			return nil, &ParseError{Reason: fmt.Sprintf("first frame total length %d out of range [8,4095]", total)}
		}
		end := len(data)
		if end > 8 {
			end = 8
		}
		return &Frame{Kind: KindFirst, TotalLength: total, FirstData: data[2:end]}, nil

	case KindConsecutive:
		seq := int(data[0] & 0x0F)
		end := len(data)
		if end > 8 {
			end = 8
		}
		return &Frame{Kind: KindConsecutive, Sequence: seq, ConsecutiveData: data[1:end]}, nil

	case KindFlowControl:
		f := &Frame{Kind: KindFlowControl}
		f.FlowStatus = data[0] & 0x0F
		if len(data) > 1 {
			f.BlockSize = data[1]
		}
		if len(data) > 2 {
			f.SepTime = data[2]
		}
		return f, nil

	default:
		return nil, &ParseError{Reason: fmt.Sprintf("unknown PCI type 0x%X", pci)}
	}
}
