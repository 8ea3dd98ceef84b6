package transport

import (
	"bufio"
	"errors"
	"net"
	"sync"

	"github.com/backkem/pico/pkg/handshake"
	"github.com/backkem/pico/pkg/message"
)

// readBufferSize holds the largest frame, so a frame delivered as one packet
// is never truncated by a short read.
const readBufferSize = message.FrameHeaderSize + message.MaxFrameSize

// frameConn wraps a connection with frame reading and serialized writes.
type frameConn struct {
	conn   net.Conn
	reader *bufio.Reader
	mu     sync.Mutex // Protects writes
}

func newFrameConn(conn net.Conn) *frameConn {
	return &frameConn{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, readBufferSize),
	}
}

func (c *frameConn) read() (message.Frame, error) {
	return message.ReadFrame(c.reader)
}

func (c *frameConn) write(f message.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return message.WriteFrame(c.conn, f)
}

// errorFrame builds a FrameError carrying err's class and text.
func errorFrame(err error) message.Frame {
	return message.NewErrorFrame(errorCode(err), err.Error())
}

// errorCode classifies err for the peer. Requests that fail to decode are
// protocol violations like those the verifier reports itself.
func errorCode(err error) message.ErrorCode {
	switch {
	case errors.Is(err, handshake.ErrProverAuthRejected):
		return message.ErrorCodeRejected
	case errors.Is(err, handshake.ErrProtocolViolation),
		errors.Is(err, message.ErrTruncated),
		errors.Is(err, message.ErrFieldTooLong),
		errors.Is(err, message.ErrTrailingData),
		errors.Is(err, message.ErrUnexpectedFrame),
		errors.Is(err, message.ErrInvalidReauthState),
		errors.Is(err, message.ErrInvalidStatus):
		return message.ErrorCodeProtocolViolation
	}
	return message.ErrorCodeOther
}
