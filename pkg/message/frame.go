package message

import (
	"encoding"
	"encoding/binary"
	"fmt"
	"io"
)

// FrameType identifies the message carried in a transport frame.
type FrameType uint8

const (
	FrameStart         FrameType = 0x01
	FrameServiceAuth   FrameType = 0x02
	FramePicoAuth      FrameType = 0x03
	FrameStatus        FrameType = 0x04
	FramePicoReauth    FrameType = 0x05
	FrameServiceReauth FrameType = 0x06

	// FrameError carries an ErrorCode and a UTF-8 error description from the peer.
	FrameError FrameType = 0xFF
)

// ErrorCode classifies the failure reported by a FrameError. It is the first
// payload byte; the rest is the description.
type ErrorCode uint8

const (
	ErrorCodeOther             ErrorCode = 0x00
	ErrorCodeProtocolViolation ErrorCode = 0x01
	ErrorCodeRejected          ErrorCode = 0x02
)

// String returns a human-readable name.
func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeOther:
		return "Other"
	case ErrorCodeProtocolViolation:
		return "ProtocolViolation"
	case ErrorCodeRejected:
		return "Rejected"
	default:
		return fmt.Sprintf("ErrorCode(0x%02x)", uint8(c))
	}
}

// NewErrorFrame builds a FrameError. The description is truncated to
// MaxFieldLength bytes.
func NewErrorFrame(code ErrorCode, text string) Frame {
	if len(text) > MaxFieldLength {
		text = text[:MaxFieldLength]
	}
	payload := make([]byte, 0, 1+len(text))
	payload = append(payload, uint8(code))
	payload = append(payload, text...)
	return Frame{Type: FrameError, Payload: payload}
}

// ErrorDetail splits a FrameError payload. An empty payload or an undefined
// code reads as ErrorCodeOther.
func (f Frame) ErrorDetail() (ErrorCode, string) {
	if len(f.Payload) == 0 {
		return ErrorCodeOther, ""
	}
	code := ErrorCode(f.Payload[0])
	if code > ErrorCodeRejected {
		code = ErrorCodeOther
	}
	return code, string(f.Payload[1:])
}

// Frame sizes.
const (
	// FrameHeaderSize is Type (1) + Length (4).
	FrameHeaderSize = 5

	// MaxFrameSize bounds the payload of a single frame.
	MaxFrameSize = 4 * MaxFieldLength
)

// String returns a human-readable name.
func (t FrameType) String() string {
	switch t {
	case FrameStart:
		return "Start"
	case FrameServiceAuth:
		return "ServiceAuth"
	case FramePicoAuth:
		return "PicoAuth"
	case FrameStatus:
		return "Status"
	case FramePicoReauth:
		return "PicoReauth"
	case FrameServiceReauth:
		return "ServiceReauth"
	case FrameError:
		return "Error"
	default:
		return fmt.Sprintf("FrameType(0x%02x)", uint8(t))
	}
}

// IsValid returns true if the type is a defined value.
func (t FrameType) IsValid() bool {
	return (t >= FrameStart && t <= FrameServiceReauth) || t == FrameError
}

// Frame is one message on the wire: Type (1) || Length (4, big-endian) || Payload.
type Frame struct {
	Type    FrameType
	Payload []byte
}

// NewFrame marshals m into a frame of the given type.
func NewFrame(t FrameType, m encoding.BinaryMarshaler) (Frame, error) {
	payload, err := m.MarshalBinary()
	if err != nil {
		return Frame{}, fmt.Errorf("marshal %s: %w", t, err)
	}
	return Frame{Type: t, Payload: payload}, nil
}

// Decode unmarshals the payload into m after checking the frame type.
func (f Frame) Decode(want FrameType, m encoding.BinaryUnmarshaler) error {
	if f.Type != want {
		return fmt.Errorf("%w: got %s, want %s", ErrUnexpectedFrame, f.Type, want)
	}
	return m.UnmarshalBinary(f.Payload)
}

// Encode returns the wire form of the frame.
func (f Frame) Encode() ([]byte, error) {
	if len(f.Payload) > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(f.Payload))
	}
	buf := make([]byte, FrameHeaderSize+len(f.Payload))
	buf[0] = uint8(f.Type)
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(f.Payload)))
	copy(buf[FrameHeaderSize:], f.Payload)
	return buf, nil
}

// WriteFrame writes f with a single Write call so packet-oriented connections
// carry one frame per packet.
func WriteFrame(w io.Writer, f Frame) error {
	buf, err := f.Encode()
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// ReadFrame reads one frame. r should be buffered when reading from a
// packet-oriented connection.
func ReadFrame(r io.Reader) (Frame, error) {
	var header [FrameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Frame{}, err
	}
	t := FrameType(header[0])
	if !t.IsValid() {
		return Frame{}, fmt.Errorf("%w: 0x%02x", ErrUnknownFrameType, header[0])
	}
	n := binary.BigEndian.Uint32(header[1:5])
	if n > MaxFrameSize {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, err
	}
	return Frame{Type: t, Payload: payload}, nil
}
