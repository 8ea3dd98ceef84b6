package reauth

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/backkem/pico/pkg/crypto"
	"github.com/backkem/pico/pkg/message"
	"github.com/backkem/pico/pkg/session"
	"github.com/pion/logging"
)

// VerifierConfig configures a Verifier.
type VerifierConfig struct {
	// Session is the session established by the handshake. Required; the
	// Verifier takes ownership of it.
	Session *session.Session

	// Scheduler arms the liveness timer. Required.
	Scheduler Scheduler

	// Timeout is the interval suggested to the prover between rounds.
	Timeout time.Duration

	// Grace is added to Timeout before the prover is declared gone.
	Grace time.Duration

	// Listener is notified of state changes. Defaults to NopListener.
	Listener Listener

	// Recorder applies state changes to the session record. Defaults to an
	// in-memory session.Tracker.
	Recorder session.Recorder

	// Clock returns the current time. Must agree with Scheduler.
	// Defaults to time.Now.
	Clock func() time.Time

	// Rand is the randomness source. Defaults to crypto/rand.
	Rand io.Reader

	// LoggerFactory for creating loggers. Nil disables logging.
	LoggerFactory logging.LoggerFactory
}

// Validate checks the configuration.
func (c *VerifierConfig) Validate() error {
	if c.Session == nil {
		return fmt.Errorf("%w: Session is required", ErrInvalidConfig)
	}
	if len(c.Session.SecretKey) != crypto.SymmetricKeySize {
		return fmt.Errorf("%w: session key must be %d bytes", ErrInvalidConfig, crypto.SymmetricKeySize)
	}
	if c.Scheduler == nil {
		return fmt.Errorf("%w: Scheduler is required", ErrInvalidConfig)
	}
	if c.Timeout < 0 || c.Timeout > message.MaxTimeout || c.Grace < 0 {
		return fmt.Errorf("%w: timeout out of range", ErrInvalidConfig)
	}
	return nil
}

func (c *VerifierConfig) applyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Grace == 0 {
		c.Grace = DefaultGrace
	}
	if c.Listener == nil {
		c.Listener = NopListener{}
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Recorder == nil {
		c.Recorder = session.NewTracker(session.TrackerConfig{Clock: c.Clock, LoggerFactory: c.LoggerFactory})
	}
	if c.Rand == nil {
		c.Rand = rand.Reader
	}
}

// Verifier runs the verifier side of continuous authentication for one
// session. It answers each prover round and declares the session in error
// when no round arrives within Timeout + Grace.
type Verifier struct {
	config VerifierConfig
	log    logging.LeveledLogger
	actor  *actor

	// Called on the actor goroutine when the session terminates.
	onTerminal func(*Verifier)

	// Owned by the actor goroutine; mu guards reads from other goroutines.
	mu        sync.Mutex
	sess      *session.Session
	ownSeq    crypto.SequenceNumber
	proverSeq crypto.SequenceNumber
	first     bool
	armed     bool
	terminal  bool
	requested message.ReauthState
	lastSeen  time.Time
}

// NewVerifier creates a verifier for an established session.
func NewVerifier(config VerifierConfig) (*Verifier, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	seq, err := crypto.NewSequenceNumber(config.Rand)
	if err != nil {
		return nil, err
	}
	v := &Verifier{
		config:    config,
		actor:     newActor(),
		sess:      config.Session,
		ownSeq:    seq,
		first:     true,
		terminal:  config.Session.Status.IsTerminal(),
		requested: message.ReauthContinue,
	}
	if config.LoggerFactory != nil {
		v.log = config.LoggerFactory.NewLogger("reauth")
	}
	return v, nil
}

// SessionID returns the wire session ID.
func (v *Verifier) SessionID() uint32 {
	return v.config.Session.RemoteID
}

// Start launches the session goroutine and, for an Active session, arms the
// liveness timer for the prover's first round.
func (v *Verifier) Start() error {
	if v.State().IsTerminal() {
		return ErrSessionClosed
	}
	if !v.actor.start() {
		return ErrAlreadyStarted
	}
	return v.actor.call(context.Background(), func() error {
		if v.sess.Status == session.StatusActive {
			v.arm()
		}
		return nil
	})
}

// Fire implements Timed.
func (v *Verifier) Fire() {
	v.actor.tick(v.expire)
}

// Handle answers one prover round.
//
// Messages that fail decryption or sequence verification move the session to
// Error and are answered with ReauthError.
func (v *Verifier) Handle(ctx context.Context, m *message.EncPicoReauthMessage) (*message.EncServiceReauthMessage, error) {
	var reply *message.EncServiceReauthMessage
	err := v.actor.call(ctx, func() error {
		var err error
		reply, err = v.handle(m)
		return err
	})
	return reply, err
}

// Pause requests a pause, delivered with the reply to the next round. It
// has no effect on a session that is already paused.
func (v *Verifier) Pause() error {
	return v.request(message.ReauthPause)
}

// Stop requests a stop, delivered with the reply to the next round. A paused
// prover sends no rounds, so a paused session is closed at once and its next
// round is refused as an unknown session.
func (v *Verifier) Stop() error {
	return v.request(message.ReauthStop)
}

// Close ends the session goroutine without notifying the prover.
func (v *Verifier) Close() {
	v.actor.stop()
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.terminal && v.armed {
		v.config.Scheduler.ClearTimer(v)
		v.armed = false
	}
}

// State returns the session status.
func (v *Verifier) State() session.Status {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.sess.Status
}

// Session returns a copy of the session record.
func (v *Verifier) Session() *session.Session {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.sess.Clone()
}

func (v *Verifier) request(state message.ReauthState) error {
	return v.actor.call(context.Background(), func() error {
		if v.terminal {
			return ErrSessionClosed
		}
		if v.sess.Status == session.StatusPaused {
			if state == message.ReauthStop {
				v.finish(session.EventStopped, session.ErrorNone)
			}
			return nil
		}
		if v.requested != message.ReauthStop {
			v.requested = state
		}
		return nil
	})
}

func (v *Verifier) handle(m *message.EncPicoReauthMessage) (*message.EncServiceReauthMessage, error) {
	if v.terminal {
		return nil, ErrSessionClosed
	}
	if m == nil || m.SessionID != v.sess.RemoteID {
		return nil, ErrUnknownSession
	}

	in, err := m.Decrypt(v.sess.SecretKey)
	if err != nil {
		return v.reject(session.ErrorServiceAuthenticationFailure, err)
	}
	if in.State == message.ReauthError {
		return v.reject(session.ErrorServiceReportedError, fmt.Errorf("prover reported error"))
	}
	if !v.first && !v.proverSeq.VerifyResponse(in.SequenceNumber) {
		return v.reject(session.ErrorServiceAuthenticationFailure, fmt.Errorf("prover sequence number mismatch"))
	}

	seq := v.ownSeq
	if !v.first {
		seq = v.ownSeq.Response()
	}
	v.mu.Lock()
	v.proverSeq = in.SequenceNumber
	v.ownSeq = seq
	v.first = false
	v.mu.Unlock()
	v.lastSeen = v.config.Clock()

	state := message.ReauthContinue
	switch {
	case in.State == message.ReauthStop || v.requested == message.ReauthStop:
		state = message.ReauthStop
	case in.State == message.ReauthPause || v.requested == message.ReauthPause:
		state = message.ReauthPause
	}
	v.requested = message.ReauthContinue

	out := &message.ServiceReauthMessage{
		SessionID:      v.sess.RemoteID,
		State:          state,
		Timeout:        v.config.Timeout,
		SequenceNumber: seq,
	}
	reply, err := out.Encrypt(v.sess.SecretKey)
	if err != nil {
		return nil, err
	}

	switch state {
	case message.ReauthStop:
		v.finish(session.EventStopped, session.ErrorNone)
	case message.ReauthPause:
		if v.armed {
			v.config.Scheduler.ClearTimer(v)
			v.armed = false
		}
		v.transition(session.EventPaused)
	default:
		v.arm()
		if v.sess.Status == session.StatusPaused {
			v.transition(session.EventContinued)
		} else {
			v.transition(session.EventTick)
		}
	}
	return reply, nil
}

// reject answers with ReauthError and fails the session.
func (v *Verifier) reject(cause session.Error, err error) (*message.EncServiceReauthMessage, error) {
	out := &message.ServiceReauthMessage{SessionID: v.sess.RemoteID, State: message.ReauthError}
	reply, encErr := out.Encrypt(v.sess.SecretKey)
	if v.log != nil {
		v.log.Warnf("%s: %s: %v", v.sess, cause, err)
	}
	v.finish(session.EventError, cause)
	if encErr != nil {
		return nil, encErr
	}
	return reply, nil
}

// expire runs on the liveness timer.
func (v *Verifier) expire() {
	if v.terminal || !v.armed || v.sess.Status != session.StatusActive {
		return
	}
	// A round that arrived while this tick was queued re-armed the timer.
	if v.config.Clock().Sub(v.lastSeen) < v.config.Timeout+v.config.Grace {
		return
	}
	v.armed = false
	if v.log != nil {
		v.log.Warnf("%s: no round within %s", v.sess, v.config.Timeout+v.config.Grace)
	}
	v.finish(session.EventError, session.ErrorIOException)
}

func (v *Verifier) arm() {
	if v.lastSeen.IsZero() {
		v.lastSeen = v.config.Clock()
	}
	v.config.Scheduler.SetTimer(v.config.Timeout+v.config.Grace, v)
	v.armed = true
}

func (v *Verifier) transition(ev session.Event) {
	v.mu.Lock()
	err := v.config.Recorder.Record(v.sess, ev, session.ErrorNone)
	v.mu.Unlock()
	if err != nil && v.log != nil {
		v.log.Warnf("%s: record %s: %v", v.sess, ev, err)
	}
	if v.log != nil && ev != session.EventTick {
		v.log.Infof("%s: %s", v.sess, ev)
	}
	notify(v.config.Listener, ev, v.sess)
}

// finish moves the session to a terminal state, clearing its timer once.
func (v *Verifier) finish(ev session.Event, cause session.Error) {
	v.config.Scheduler.ClearTimer(v)
	v.armed = false

	v.mu.Lock()
	v.terminal = true
	v.ownSeq.Wipe()
	v.proverSeq.Wipe()
	err := v.config.Recorder.Record(v.sess, ev, cause)
	v.mu.Unlock()
	if err != nil && v.log != nil {
		v.log.Warnf("%s: record %s: %v", v.sess, ev, err)
	}
	if v.log != nil {
		v.log.Infof("%s: %s", v.sess, ev)
	}
	notify(v.config.Listener, ev, v.sess)
	if v.onTerminal != nil {
		v.onTerminal(v)
	}
	v.actor.shutdown()
}

var _ Timed = (*Verifier)(nil)
