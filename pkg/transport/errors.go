package transport

import (
	"errors"

	"github.com/backkem/pico/pkg/handshake"
	"github.com/backkem/pico/pkg/message"
)

// Transport errors.
var (
	// ErrClosed is returned when an operation is attempted on a closed client or server.
	ErrClosed = errors.New("transport: closed")

	// ErrAlreadyStarted is returned when Start is called on a running server.
	ErrAlreadyStarted = errors.New("transport: already started")

	// ErrNoVerifier is returned when a server is configured without a handshake verifier.
	ErrNoVerifier = errors.New("transport: no verifier configured")

	// ErrRemote wraps an error frame sent by the peer.
	ErrRemote = errors.New("transport: remote error")

	// ErrUnsupported is returned by the server for a frame it cannot serve.
	ErrUnsupported = errors.New("transport: unsupported request")
)

// RemoteError is an error frame received from the peer. It matches ErrRemote
// and unwraps to the handshake error its code names, so a protocol violation
// or rejection reported by a remote verifier is not mistaken for an I/O
// failure.
type RemoteError struct {
	Code message.ErrorCode
	Text string
}

func (e *RemoteError) Error() string {
	return ErrRemote.Error() + ": " + e.Text
}

// Is reports whether target is ErrRemote.
func (e *RemoteError) Is(target error) bool {
	return target == ErrRemote
}

// Unwrap returns the handshake error named by Code, or nil.
func (e *RemoteError) Unwrap() error {
	switch e.Code {
	case message.ErrorCodeProtocolViolation:
		return handshake.ErrProtocolViolation
	case message.ErrorCodeRejected:
		return handshake.ErrProverAuthRejected
	}
	return nil
}
