package reauth

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/backkem/pico/pkg/message"
	"github.com/backkem/pico/pkg/session"
	"github.com/pion/logging"
)

// ServiceConfig configures a Service. Every Verifier it creates shares these
// settings.
type ServiceConfig struct {
	// Scheduler arms liveness timers. Defaults to a TimerScheduler.
	Scheduler Scheduler

	// Timeout is the interval suggested to provers between rounds.
	Timeout time.Duration

	// Grace is added to Timeout before a prover is declared gone.
	Grace time.Duration

	// Listener is notified of state changes of every session.
	Listener Listener

	// Recorder applies state changes to session records.
	Recorder session.Recorder

	// Clock returns the current time. Must agree with Scheduler.
	Clock func() time.Time

	// Rand is the randomness source.
	Rand io.Reader

	// LoggerFactory for creating loggers. Nil disables logging.
	LoggerFactory logging.LoggerFactory
}

// Service is the verifier's table of continuous sessions keyed by session ID.
// It implements Channel, so a prover can talk to an in-process Service
// directly.
type Service struct {
	config ServiceConfig
	log    logging.LeveledLogger

	mu       sync.Mutex
	sessions map[uint32]*Verifier
	closed   bool
}

// NewService creates an empty session table.
func NewService(config ServiceConfig) *Service {
	if config.Scheduler == nil {
		config.Scheduler = NewTimerScheduler()
	}
	s := &Service{
		config:   config,
		sessions: make(map[uint32]*Verifier),
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("reauth")
	}
	return s
}

// Add starts continuous authentication for sess. The Verifier is removed from
// the table once the session terminates.
func (s *Service) Add(sess *session.Session) (*Verifier, error) {
	v, err := NewVerifier(VerifierConfig{
		Session:       sess,
		Scheduler:     s.config.Scheduler,
		Timeout:       s.config.Timeout,
		Grace:         s.config.Grace,
		Listener:      s.config.Listener,
		Recorder:      s.config.Recorder,
		Clock:         s.config.Clock,
		Rand:          s.config.Rand,
		LoggerFactory: s.config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}
	v.onTerminal = s.remove

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if _, ok := s.sessions[sess.RemoteID]; ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %08x", ErrDuplicateSession, sess.RemoteID)
	}
	s.sessions[sess.RemoteID] = v
	s.mu.Unlock()

	if err := v.Start(); err != nil {
		s.remove(v)
		return nil, err
	}
	if s.log != nil {
		s.log.Debugf("added %s", sess)
	}
	return v, nil
}

// Get returns the verifier for a session ID, or nil.
func (s *Service) Get(sessionID uint32) *Verifier {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[sessionID]
}

// Len returns the number of live sessions.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Handle dispatches a prover round to its session.
func (s *Service) Handle(ctx context.Context, m *message.EncPicoReauthMessage) (*message.EncServiceReauthMessage, error) {
	if m == nil {
		return nil, ErrUnknownSession
	}
	v := s.Get(m.SessionID)
	if v == nil {
		return nil, fmt.Errorf("%w: %08x", ErrUnknownSession, m.SessionID)
	}
	return v.Handle(ctx, m)
}

// Reauth implements Channel.
func (s *Service) Reauth(ctx context.Context, m *message.EncPicoReauthMessage) (*message.EncServiceReauthMessage, error) {
	return s.Handle(ctx, m)
}

// Close closes every session without notifying provers.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	verifiers := make([]*Verifier, 0, len(s.sessions))
	for _, v := range s.sessions {
		verifiers = append(verifiers, v)
	}
	s.sessions = make(map[uint32]*Verifier)
	s.mu.Unlock()

	for _, v := range verifiers {
		v.Close()
	}
}

func (s *Service) remove(v *Verifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[v.SessionID()] == v {
		delete(s.sessions, v.SessionID())
	}
}

var _ Channel = (*Service)(nil)
