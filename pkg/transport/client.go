package transport

import (
	"context"
	"encoding"
	"net"
	"sync"

	"github.com/backkem/pico/pkg/handshake"
	"github.com/backkem/pico/pkg/message"
	"github.com/backkem/pico/pkg/reauth"
	"github.com/pion/logging"
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Client is the prover's end of a framed connection to a verifier. It
// implements handshake.VerifierChannel and reauth.Channel, so one connection
// carries a handshake and the continuous rounds that follow it.
//
// Requests are serialized: each waits for its reply before the next is sent.
// A request whose context ends before the reply arrives closes the client,
// since the late reply would otherwise be read as the answer to the next one.
type Client struct {
	conn *frameConn
	log  logging.LeveledLogger

	mu     sync.Mutex
	closed bool
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn, config ClientConfig) *Client {
	c := &Client{conn: newFrameConn(conn)}
	if config.LoggerFactory != nil {
		c.log = config.LoggerFactory.NewLogger("transport")
	}
	return c
}

// Dial connects to a verifier over TCP.
func Dial(ctx context.Context, addr string, config ClientConfig) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewClient(conn, config), nil
}

// Start implements handshake.VerifierChannel.
func (c *Client) Start(ctx context.Context, m *message.StartMessage) (*message.EncServiceAuthMessage, error) {
	reply := &message.EncServiceAuthMessage{}
	if err := c.roundTrip(ctx, message.FrameStart, m, message.FrameServiceAuth, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// Authenticate implements handshake.VerifierChannel.
func (c *Client) Authenticate(ctx context.Context, m *message.EncPicoAuthMessage) (*message.EncStatusMessage, error) {
	reply := &message.EncStatusMessage{}
	if err := c.roundTrip(ctx, message.FramePicoAuth, m, message.FrameStatus, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// Reauth implements reauth.Channel.
func (c *Client) Reauth(ctx context.Context, m *message.EncPicoReauthMessage) (*message.EncServiceReauthMessage, error) {
	reply := &message.EncServiceReauthMessage{}
	if err := c.roundTrip(ctx, message.FramePicoReauth, m, message.FrameServiceReauth, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.conn.Close()
}

// LocalAddr returns the local address of the connection.
func (c *Client) LocalAddr() net.Addr {
	return c.conn.conn.LocalAddr()
}

func (c *Client) roundTrip(ctx context.Context, reqType message.FrameType, req encoding.BinaryMarshaler, wantType message.FrameType, reply encoding.BinaryUnmarshaler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	f, err := message.NewFrame(reqType, req)
	if err != nil {
		return err
	}

	type result struct {
		frame message.Frame
		err   error
	}
	done := make(chan result, 1)
	go func() {
		if err := c.conn.write(f); err != nil {
			done <- result{err: err}
			return
		}
		in, err := c.conn.read()
		done <- result{frame: in, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		c.closed = true
		c.conn.conn.Close()
		if c.log != nil {
			c.log.Debugf("%s request abandoned: %v", reqType, ctx.Err())
		}
		return ctx.Err()
	}
	if res.err != nil {
		return res.err
	}

	if res.frame.Type == message.FrameError {
		code, text := res.frame.ErrorDetail()
		return &RemoteError{Code: code, Text: text}
	}
	return res.frame.Decode(wantType, reply)
}

var (
	_ handshake.VerifierChannel = (*Client)(nil)
	_ reauth.Channel            = (*Client)(nil)
)
