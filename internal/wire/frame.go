package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame payload.
const MaxFrameSize = 16 << 20

// ErrFrameTooLarge is returned when a frame header announces more than the allowed payload.
var ErrFrameTooLarge = errors.New("wire: frame too large") //nolint:gochecknoglobals // sentinel error

const headerSize = 4

// WriteFrame writes payload prefixed by its big-endian uint32 length.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("wire.WriteFrame: %d bytes: %w", len(payload), ErrFrameTooLarge)
	}

	buf := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload))) //nolint:gosec // bounded above
	copy(buf[headerSize:], payload)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("wire.WriteFrame: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame. A max of zero means MaxFrameSize.
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = MaxFrameSize
	}

	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("wire.ReadFrame: header: %w", err)
	}

	n := binary.BigEndian.Uint32(hdr[:])
	if uint64(n) > uint64(maxSize) {
		return nil, fmt.Errorf("wire.ReadFrame: %d bytes: %w", n, ErrFrameTooLarge)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("wire.ReadFrame: payload: %w", err)
	}
	return payload, nil
}

// Join concatenates packets as consecutive frames.
func Join(packets [][]byte) []byte {
	size := 0
	for _, p := range packets {
		size += headerSize + len(p)
	}

	out := make([]byte, 0, size)
	for _, p := range packets {
		out = binary.BigEndian.AppendUint32(out, uint32(len(p))) //nolint:gosec // callers bound packet size
		out = append(out, p...)
	}
	return out
}

// ReadAll reads frames until a clean end of stream.
func ReadAll(r io.Reader, maxSize int) ([][]byte, error) {
	var packets [][]byte
	for {
		p, err := ReadFrame(r, maxSize)
		if errors.Is(err, io.EOF) {
			return packets, nil
		}
		if err != nil {
			return packets, err
		}
		packets = append(packets, p)
	}
}
