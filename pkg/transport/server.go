package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/backkem/pico/pkg/crypto"
	"github.com/backkem/pico/pkg/handshake"
	"github.com/backkem/pico/pkg/message"
	"github.com/backkem/pico/pkg/reauth"
	"github.com/backkem/pico/pkg/session"
	"github.com/pion/logging"
)

// DefaultRequestTimeout bounds the handling of one request.
const DefaultRequestTimeout = 10 * time.Second

// ServerConfig configures the verifier's transport server.
type ServerConfig struct {
	// Listener is an optional pre-existing Listener to use.
	// If nil, a new listener will be created using ListenAddr.
	Listener net.Listener

	// ListenAddr is the address to listen on (e.g., ":7440").
	// Ignored if Listener is provided.
	ListenAddr string

	// Verifier answers handshake frames. Required.
	Verifier *handshake.Verifier

	// Service answers continuous authentication frames and receives every
	// continuous session a handshake establishes. If nil, reauth frames are
	// refused and sessions are not tracked.
	Service *reauth.Service

	// Store, if set, resolves the pairing of an authenticated prover by its
	// commitment and persists new sessions.
	Store session.Store

	// OnSession is called after a successful handshake with the handshake
	// result and a copy of the new session.
	OnSession func(*handshake.Result, *session.Session)

	// RequestTimeout bounds the handling of one request.
	RequestTimeout time.Duration

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Server accepts framed connections from provers and dispatches each request
// to the handshake verifier or the continuous authentication service.
// Requests on one connection are handled in order.
type Server struct {
	config   ServerConfig
	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	log      logging.LeveledLogger

	// Connection tracking
	connsMu sync.Mutex
	conns   map[net.Conn]struct{}

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewServer creates a server. The listener is created immediately so Addr is
// valid before Start.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Verifier == nil {
		return nil, ErrNoVerifier
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = DefaultRequestTimeout
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	s := &Server{
		config:   config,
		listener: config.Listener,
		conns:    make(map[net.Conn]struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("transport")
	}

	if s.listener == nil {
		addr := config.ListenAddr
		if addr == "" {
			addr = ":0"
		}
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, err
		}
		s.listener = listener
	}
	return s, nil
}

// Start begins accepting connections.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	if s.log != nil {
		s.log.Infof("listening on %s", s.listener.Addr())
	}

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop closes the listener and all connections and waits for their handlers.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	s.mu.Unlock()

	if s.log != nil {
		s.log.Info("stopping")
	}

	s.cancel()
	s.listener.Close()

	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()
	return nil
}

// Addr returns the address the server listens on.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// ServeConn serves one connection until it closes or the server stops.
func (s *Server) ServeConn(conn net.Conn) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	s.handleConn(conn)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()

	s.connsMu.Lock()
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()

	defer func() {
		conn.Close()
		s.connsMu.Lock()
		delete(s.conns, conn)
		s.connsMu.Unlock()
	}()

	fc := newFrameConn(conn)
	for {
		in, err := fc.read()
		if err != nil {
			if !errors.Is(err, io.EOF) && s.ctx.Err() == nil && s.log != nil {
				s.log.Debugf("%s: read: %v", conn.RemoteAddr(), err)
			}
			return
		}

		ctx, cancel := context.WithTimeout(s.ctx, s.config.RequestTimeout)
		out := s.dispatch(ctx, in)
		cancel()

		if err := fc.write(out); err != nil {
			if s.log != nil {
				s.log.Debugf("%s: write: %v", conn.RemoteAddr(), err)
			}
			return
		}
	}
}

// dispatch answers one request frame. Failures are answered with an error frame.
func (s *Server) dispatch(ctx context.Context, in message.Frame) message.Frame {
	var (
		out message.Frame
		err error
	)
	switch in.Type {
	case message.FrameStart:
		out, err = s.handleStart(ctx, in)
	case message.FramePicoAuth:
		out, err = s.handlePicoAuth(ctx, in)
	case message.FramePicoReauth:
		out, err = s.handlePicoReauth(ctx, in)
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupported, in.Type)
	}
	if err != nil {
		if s.log != nil {
			s.log.Debugf("%s: %v", in.Type, err)
		}
		return errorFrame(err)
	}
	return out
}

func (s *Server) handleStart(ctx context.Context, in message.Frame) (message.Frame, error) {
	m := &message.StartMessage{}
	if err := in.Decode(message.FrameStart, m); err != nil {
		return message.Frame{}, err
	}
	reply, err := s.config.Verifier.Start(ctx, m)
	if err != nil {
		return message.Frame{}, err
	}
	return message.NewFrame(message.FrameServiceAuth, reply)
}

func (s *Server) handlePicoAuth(ctx context.Context, in message.Frame) (message.Frame, error) {
	m := &message.EncPicoAuthMessage{}
	if err := in.Decode(message.FramePicoAuth, m); err != nil {
		return message.Frame{}, err
	}
	status, result, err := s.config.Verifier.Authenticate(ctx, m)
	if err != nil {
		if status == nil {
			return message.Frame{}, err
		}
		// The prover learns of a rejection from the status alone.
		if s.log != nil {
			s.log.Infof("session %08x: %v", m.SessionID, err)
		}
		return message.NewFrame(message.FrameStatus, status)
	}
	s.establish(result)
	return message.NewFrame(message.FrameStatus, status)
}

func (s *Server) handlePicoReauth(ctx context.Context, in message.Frame) (message.Frame, error) {
	if s.config.Service == nil {
		return message.Frame{}, fmt.Errorf("%w: continuous authentication disabled", ErrUnsupported)
	}
	m := &message.EncPicoReauthMessage{}
	if err := in.Decode(message.FramePicoReauth, m); err != nil {
		return message.Frame{}, err
	}
	reply, err := s.config.Service.Handle(ctx, m)
	if err != nil {
		return message.Frame{}, err
	}
	return message.NewFrame(message.FrameServiceReauth, reply)
}

// establish records the session of a successful handshake and hands a
// continuous one to the service.
func (s *Server) establish(result *handshake.Result) {
	defer result.Wipe()

	var pairingID uint64
	if s.config.Store != nil {
		p, err := session.FindPairing(s.config.Store, func(p *session.Pairing) bool {
			return crypto.CommitmentEqual(p.ProverCommitment, result.PeerCommitment)
		})
		if err == nil {
			pairingID = p.ID
		} else if !errors.Is(err, session.ErrPairingNotFound) && s.log != nil {
			s.log.Warnf("session %08x: find pairing: %v", result.SessionID, err)
		}
	}

	sess := result.NewSession(pairingID, s.config.Clock())
	if s.config.Store != nil {
		if err := s.config.Store.SaveSession(sess); err != nil && s.log != nil {
			s.log.Warnf("session %08x: save: %v", result.SessionID, err)
		}
	}
	snapshot := sess.Clone()

	if result.Continuous && s.config.Service != nil {
		if _, err := s.config.Service.Add(sess); err != nil && s.log != nil {
			s.log.Warnf("session %08x: %v", result.SessionID, err)
		}
	}
	if s.log != nil {
		s.log.Infof("authenticated %s", snapshot)
	}
	if s.config.OnSession != nil {
		s.config.OnSession(result, snapshot)
	}
}
