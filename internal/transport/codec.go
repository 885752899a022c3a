// Package transport implements the native-messaging wire protocol: JSON
// payloads framed by a 4-byte little-endian length prefix, with the browser's
// 1 MiB cap on host-to-browser messages.
package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// MaxOutboundSize is the browser-imposed cap on a single message sent
	// from the host to the browser.
	MaxOutboundSize = 1 << 20

	// MaxInboundSize bounds inbound frames so a corrupt length prefix can't
	// force an absurd allocation.
	MaxInboundSize = 64 << 20
)

var (
	// ErrMessageTooLarge indicates an outbound payload over MaxOutboundSize.
	ErrMessageTooLarge = errors.New("message exceeds outbound size limit")
	// ErrFrameTooLarge indicates an inbound frame over MaxInboundSize.
	ErrFrameTooLarge = errors.New("frame exceeds inbound size limit")
)

// ReadMessage reads one length-prefixed payload. It returns io.EOF when the
// stream ends cleanly before a frame starts.
func ReadMessage(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("reading frame header: %w", err)
	}

	size := binary.LittleEndian.Uint32(header[:])
	if size > MaxInboundSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("reading frame payload: %w", err)
	}
	return payload, nil
}

// WriteMessage writes one length-prefixed payload.
func WriteMessage(w io.Writer, payload []byte) error {
	if len(payload) > MaxOutboundSize {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(payload))
	}

	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("writing frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("writing frame payload: %w", err)
	}
	return nil
}
