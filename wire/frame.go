// Package wire implements the length-prefixed binary protocol spoken between
// the server and its clients.
//
// Every frame is [code: 1 byte][length: 4 bytes big-endian][payload]. The
// code byte is an Op on requests and a Status on responses. The codec is
// stateless: encoding and decoding never touch shared state, and malformed
// input always produces a ProtocolError rather than a panic.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// WriteFrame writes one frame with the given code byte and payload.
func WriteFrame(w io.Writer, code byte, payload []byte) error {
	var header [frameHeaderSize]byte
	header[0] = code
	if len(payload) > math32 {
		return fmt.Errorf("wire: payload too large: %d bytes", len(payload))
	}
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

const math32 = 1<<32 - 1

// ReadFrame reads one frame, enforcing maxSize on the payload length.
// A maxSize of 0 applies DefaultMaxFrameSize. I/O errors, including a peer
// closing mid-frame, are returned as-is and mean the connection is done; an
// oversized length is returned as a ProtocolError because the stream can no
// longer be trusted to be frame-aligned.
func ReadFrame(r io.Reader, maxSize uint32) (code byte, payload []byte, err error) {
	if maxSize == 0 {
		maxSize = DefaultMaxFrameSize
	}
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}
	length := binary.BigEndian.Uint32(header[1:])
	if length > maxSize {
		return 0, nil, &ProtocolError{
			Message: fmt.Sprintf("frame of %d bytes exceeds limit of %d", length, maxSize),
		}
	}
	if length == 0 {
		return header[0], nil, nil
	}
	payload = make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return header[0], payload, nil
}
