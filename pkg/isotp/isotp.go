package isotp

import (
	"encoding/hex"
	"fmt"
)

// ParseFrames decodes frames — each a hex string representing one CAN
// frame's data payload, CAN ID already stripped — and reassembles them into
// a single UDS payload. This is the public surface named by spec.md §4.4.
func ParseFrames(frames []string) ([]byte, error) {
	msg := NewMessage()

	for i, hexStr := range frames {
		raw, err := hex.DecodeString(hexStr)
		if err != nil {
			return nil, &ParseError{Reason: fmt.Sprintf("frame %d: invalid hex: %v", i, err)}
		}

		frame, err := ParseFrame(raw)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}

		if err := msg.AddFrame(frame); err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}

		if msg.Complete() {
			break
		}
	}

	if !msg.Complete() {
		return nil, &IncompleteMessageError{Expected: msg.expectedLength, Got: len(msg.buffer)}
	}
	return msg.Payload(), nil
}

// ChunkPayload splits payload into the hex strings of the CAN frames that
// would carry it over ISO-TP: a Single frame if it fits in 7 bytes,
// otherwise a First frame followed by as many Consecutive frames as
// needed. It is the inverse of ParseFrames, used to build test fixtures
// and to drive the round-trip invariant in spec.md §8.
func ChunkPayload(payload []byte) ([]string, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("isotp: cannot chunk empty payload")
	}
	if len(payload) > 4095 {
		return nil, fmt.Errorf("isotp: payload length %d exceeds First-frame limit 4095", len(payload))
	}

	if len(payload) <= 7 {
		frame := make([]byte, 1+len(payload))
		frame[0] = byte(KindSingle)<<4 | byte(len(payload))
		copy(frame[1:], payload)
		return []string{hex.EncodeToString(frame)}, nil
	}

	var frames []string

	first := make([]byte, 8)
	first[0] = byte(KindFirst)<<4 | byte(len(payload)>>8)
	first[1] = byte(len(payload))
	n := copy(first[2:], payload)
	frames = append(frames, hex.EncodeToString(first))

	seq := 1
	for off := n; off < len(payload); {
		chunk := make([]byte, 0, 8)
		chunk = append(chunk, byte(KindConsecutive)<<4|byte(seq&0x0F))
		end := off + 7
		if end > len(payload) {
			end = len(payload)
		}
		chunk = append(chunk, payload[off:end]...)
		frames = append(frames, hex.EncodeToString(chunk))
		off = end
		seq = (seq + 1) % 16
	}

	return frames, nil
}
