package meshcore

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// EncodeFrame wraps a command payload in host → node framing.
//
// Parameters:
//   - payload: Command code followed by its arguments
//
// Returns:
//   - []byte: '<' | u16le length | payload
//   - error: If the payload is empty or exceeds the frame limit
func EncodeFrame(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedFrame)
	}
	if len(payload) > maxFrameSize {
		return nil, fmt.Errorf("%w: payload of %d bytes exceeds %d", ErrMalformedFrame, len(payload), maxFrameSize)
	}

	frame := make([]byte, 3+len(payload))
	frame[0] = frameOutbound
	binary.LittleEndian.PutUint16(frame[1:3], uint16(len(payload))) //nolint:gosec // bounded above
	copy(frame[3:], payload)
	return frame, nil
}

// ReadFrame reads the next node → host frame from r and returns its payload.
//
// Bytes preceding the '>' marker are discarded, which lets the reader
// resynchronise after boot chatter on a serial line. A length field of zero
// or above the frame limit is treated as noise and scanning resumes.
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	var header [2]byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != frameInbound {
			continue
		}

		if _, err := io.ReadFull(r, header[:]); err != nil {
			return nil, err
		}
		size := int(binary.LittleEndian.Uint16(header[:]))
		if size == 0 || size > maxFrameSize {
			continue
		}

		payload := make([]byte, size)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
		return payload, nil
	}
}
