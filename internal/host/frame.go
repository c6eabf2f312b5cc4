package host

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ///////////////////////////////////////////////
// Constants
// ///////////////////////////////////////////////

// Opcode identifies the kind of a collector IPC frame.
type Opcode uint32

const (
	// OpHandshake opens a session and carries a [Hello].
	OpHandshake Opcode = 0
	// OpFrame carries a [Request] or a [Response].
	OpFrame Opcode = 1
	// OpClose ends the session.
	OpClose Opcode = 2

	// frameHeaderSize is a 4-byte little-endian opcode followed by a 4-byte
	// little-endian payload length.
	frameHeaderSize = 8

	// MaxPayloadSize bounds a single frame payload (64 KB).
	MaxPayloadSize = 64 << 10
)

// ErrPayloadTooLarge is returned when a frame payload exceeds MaxPayloadSize.
var ErrPayloadTooLarge = errors.New("payload too large")

// ///////////////////////////////////////////////
// Frame Encoding
// ///////////////////////////////////////////////

// EncodeFrame builds a frame: [4-byte LE opcode][4-byte LE length][payload].
func EncodeFrame(opcode Opcode, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(payload), MaxPayloadSize)
	}
	frame := make([]byte, frameHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(frame[0:4], uint32(opcode))
	binary.LittleEndian.PutUint32(frame[4:8], uint32(len(payload)))
	copy(frame[frameHeaderSize:], payload)
	return frame, nil
}

// DecodeFrame reads a single frame from r.
func DecodeFrame(r io.Reader) (Opcode, []byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, fmt.Errorf("reading frame header: %w", err)
	}

	opcode := Opcode(binary.LittleEndian.Uint32(header[0:4]))
	length := binary.LittleEndian.Uint32(header[4:8])
	if length > MaxPayloadSize {
		return 0, nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, length, MaxPayloadSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("reading frame payload: %w", err)
	}
	return opcode, payload, nil
}

// ///////////////////////////////////////////////
// JSON Messages
// ///////////////////////////////////////////////

// WriteMessage marshals v and writes it as one frame.
func WriteMessage(w io.Writer, opcode Opcode, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}
	frame, err := EncodeFrame(opcode, payload)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// ReadMessage reads one frame and unmarshals its payload into v. A frame
// with an empty payload (such as OpClose) leaves v untouched.
func ReadMessage(r io.Reader, v any) (Opcode, error) {
	opcode, payload, err := DecodeFrame(r)
	if err != nil {
		return 0, err
	}
	if len(payload) == 0 {
		return opcode, nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return opcode, fmt.Errorf("parsing frame payload: %w", err)
	}
	return opcode, nil
}
