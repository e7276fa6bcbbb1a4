package remote

import (
	"encoding/binary"
	"fmt"
	"io"
)

// frame types distinguish a data payload from an ack on the wire between
// this process and the hpws helper. The framing itself — a type byte plus
// a 4-byte big-endian length prefix — is this implementation's own choice:
// spec.md §4.K treats the hpws contract as opaque (read/write/ack over
// byte payloads), it does not mandate a specific wire framing.
const (
	frameTypeData byte = 0
	frameTypeAck  byte = 1
)

const maxFrameBytes = 8 * 1024 * 1024

func writeFrame(w io.Writer, typ byte, payload []byte) error {
	header := make([]byte, 5)
	header[0] = typ
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("remote: write frame header: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("remote: write frame payload: %w", err)
	}
	return nil
}

func readFrame(r io.Reader) (byte, []byte, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	n := binary.BigEndian.Uint32(header[1:])
	if n > maxFrameBytes {
		return 0, nil, fmt.Errorf("remote: frame of %d bytes exceeds max %d", n, maxFrameBytes)
	}
	if n == 0 {
		return header[0], nil, nil
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return header[0], payload, nil
}
