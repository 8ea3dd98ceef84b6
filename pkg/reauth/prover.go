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

// ProverConfig configures a Prover.
type ProverConfig struct {
	// Session is the session established by the handshake. Required; the
	// Prover takes ownership of it.
	Session *session.Session

	// Channel carries rounds to the verifier. Required.
	Channel Channel

	// Scheduler arms the timer between rounds. Required.
	Scheduler Scheduler

	// Listener is notified of state changes. Defaults to NopListener.
	Listener Listener

	// Recorder applies state changes to the session record. Defaults to an
	// in-memory session.Tracker.
	Recorder session.Recorder

	// RequestTimeout bounds one round trip.
	RequestTimeout time.Duration

	// Rand is the randomness source. Defaults to crypto/rand.
	Rand io.Reader

	// LoggerFactory for creating loggers. Nil disables logging.
	LoggerFactory logging.LoggerFactory
}

// Validate checks the configuration.
func (c *ProverConfig) Validate() error {
	if c.Session == nil {
		return fmt.Errorf("%w: Session is required", ErrInvalidConfig)
	}
	if len(c.Session.SecretKey) != crypto.SymmetricKeySize {
		return fmt.Errorf("%w: session key must be %d bytes", ErrInvalidConfig, crypto.SymmetricKeySize)
	}
	if c.Channel == nil {
		return fmt.Errorf("%w: Channel is required", ErrInvalidConfig)
	}
	if c.Scheduler == nil {
		return fmt.Errorf("%w: Scheduler is required", ErrInvalidConfig)
	}
	return nil
}

func (c *ProverConfig) applyDefaults() {
	if c.Listener == nil {
		c.Listener = NopListener{}
	}
	if c.Recorder == nil {
		c.Recorder = session.NewTracker(session.TrackerConfig{LoggerFactory: c.LoggerFactory})
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.Rand == nil {
		c.Rand = rand.Reader
	}
}

// Prover runs the prover side of continuous authentication for one session.
//
// Usage:
//  1. Create with NewProver() from a handshake session
//  2. Call Start(); an Active session runs its first round immediately
//  3. Pause(), Resume() and Stop() drive the session; the Listener observes it
//  4. Call Close() to release the goroutine
type Prover struct {
	config ProverConfig
	log    logging.LeveledLogger
	actor  *actor

	// Owned by the actor goroutine; mu guards reads from other goroutines.
	mu       sync.Mutex
	sess     *session.Session
	ownSeq   crypto.SequenceNumber
	peerSeq  crypto.SequenceNumber
	first    bool
	armed    bool
	stopping bool
	terminal bool
}

// NewProver creates a prover for an established session.
func NewProver(config ProverConfig) (*Prover, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	seq, err := crypto.NewSequenceNumber(config.Rand)
	if err != nil {
		return nil, err
	}
	p := &Prover{
		config:   config,
		actor:    newActor(),
		sess:     config.Session,
		ownSeq:   seq,
		first:    true,
		terminal: config.Session.Status.IsTerminal(),
	}
	if config.LoggerFactory != nil {
		p.log = config.LoggerFactory.NewLogger("reauth")
	}
	return p, nil
}

// Start launches the session goroutine. An Active session runs its first
// round at once; a Paused session waits for Resume.
func (p *Prover) Start() error {
	if p.State().IsTerminal() {
		return ErrSessionClosed
	}
	if !p.actor.start() {
		return ErrAlreadyStarted
	}
	if p.State() == session.StatusActive {
		p.Tick()
	}
	return nil
}

// Fire implements Timed.
func (p *Prover) Fire() {
	p.Tick()
}

// Tick runs a round if the session is Active. Ticks arriving while one is
// queued are coalesced; ticks after termination are ignored.
func (p *Prover) Tick() {
	p.actor.tick(func() {
		if p.terminal || p.sess.Status != session.StatusActive {
			return
		}
		p.armed = false
		p.round(message.ReauthContinue)
	})
}

// Pause asks the verifier to pause the session.
func (p *Prover) Pause() error {
	return p.request(func() error {
		if p.sess.Status == session.StatusPaused {
			return nil
		}
		p.clearTimer()
		p.round(message.ReauthPause)
		return p.result()
	})
}

// Resume asks the verifier to continue a paused session.
func (p *Prover) Resume() error {
	return p.request(func() error {
		if p.sess.Status == session.StatusActive {
			return nil
		}
		p.round(message.ReauthContinue)
		return p.result()
	})
}

// Stop asks the verifier to close the session and closes it locally whatever
// the outcome. The session timer is cleared exactly once.
func (p *Prover) Stop() error {
	return p.request(func() error {
		p.stopping = true
		p.round(message.ReauthStop)
		if !p.terminal {
			p.finish(session.EventStopped, session.ErrorNone)
		}
		return nil
	})
}

// Close ends the session goroutine without notifying the verifier. A
// non-terminal session keeps its state; only its timer is cleared.
func (p *Prover) Close() {
	p.actor.stop()
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.terminal && p.armed {
		p.config.Scheduler.ClearTimer(p)
		p.armed = false
	}
}

// State returns the session status.
func (p *Prover) State() session.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sess.Status
}

// Session returns a copy of the session record.
func (p *Prover) Session() *session.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sess.Clone()
}

func (p *Prover) request(f func() error) error {
	return p.actor.call(context.Background(), func() error {
		if p.terminal {
			return ErrSessionClosed
		}
		return f()
	})
}

// result reports a round that ended the session abnormally.
func (p *Prover) result() error {
	if p.sess.Status == session.StatusError {
		return fmt.Errorf("%w: %s", ErrSessionClosed, p.sess.Error)
	}
	return nil
}

// round runs one exchange carrying state. It runs on the actor goroutine.
func (p *Prover) round(state message.ReauthState) {
	seq := p.ownSeq
	if !p.first {
		seq = p.ownSeq.Response()
	}
	out := &message.PicoReauthMessage{
		SessionID:      p.sess.RemoteID,
		State:          state,
		SequenceNumber: seq,
	}
	enc, err := out.Encrypt(p.sess.SecretKey)
	if err != nil {
		p.fail(session.ErrorIOException, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.config.RequestTimeout)
	reply, err := p.config.Channel.Reauth(ctx, enc)
	cancel()
	if err != nil {
		p.fail(session.ErrorIOException, err)
		return
	}
	if reply == nil || reply.SessionID != p.sess.RemoteID {
		p.fail(session.ErrorServiceAuthenticationFailure, fmt.Errorf("reply for wrong session"))
		return
	}
	in, err := reply.Decrypt(p.sess.SecretKey)
	if err != nil {
		p.fail(session.ErrorServiceAuthenticationFailure, err)
		return
	}
	if in.State == message.ReauthError {
		p.fail(session.ErrorServiceReportedError, fmt.Errorf("verifier reported error"))
		return
	}
	if !p.first && !p.peerSeq.VerifyResponse(in.SequenceNumber) {
		p.fail(session.ErrorServiceAuthenticationFailure, fmt.Errorf("verifier sequence number mismatch"))
		return
	}

	p.mu.Lock()
	p.ownSeq = seq
	p.peerSeq = in.SequenceNumber
	p.first = false
	p.mu.Unlock()

	if state == message.ReauthStop || in.State == message.ReauthStop {
		p.finish(session.EventStopped, session.ErrorNone)
		return
	}
	if in.State == message.ReauthPause {
		p.clearTimer()
		p.transition(session.EventPaused)
		return
	}

	// Continue.
	timeout := in.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	p.config.Scheduler.SetTimer(timeout, p)
	p.armed = true
	if p.sess.Status == session.StatusPaused {
		p.transition(session.EventContinued)
	} else {
		p.transition(session.EventTick)
	}
}

func (p *Prover) transition(ev session.Event) {
	p.mu.Lock()
	err := p.config.Recorder.Record(p.sess, ev, session.ErrorNone)
	p.mu.Unlock()
	if err != nil && p.log != nil {
		p.log.Warnf("%s: record %s: %v", p.sess, ev, err)
	}
	if p.log != nil && ev != session.EventTick {
		p.log.Infof("%s: %s", p.sess, ev)
	}
	notify(p.config.Listener, ev, p.sess)
}

func (p *Prover) fail(cause session.Error, err error) {
	if p.log != nil {
		p.log.Warnf("%s: %s: %v", p.sess, cause, err)
	}
	if p.stopping {
		// A failed stop round still closes the session locally.
		p.finish(session.EventStopped, session.ErrorNone)
		return
	}
	p.finish(session.EventError, cause)
}

// finish moves the session to a terminal state, clearing its timer once.
func (p *Prover) finish(ev session.Event, cause session.Error) {
	p.config.Scheduler.ClearTimer(p)
	p.armed = false

	p.mu.Lock()
	p.terminal = true
	p.ownSeq.Wipe()
	p.peerSeq.Wipe()
	err := p.config.Recorder.Record(p.sess, ev, cause)
	p.mu.Unlock()
	if err != nil && p.log != nil {
		p.log.Warnf("%s: record %s: %v", p.sess, ev, err)
	}
	if p.log != nil {
		p.log.Infof("%s: %s", p.sess, ev)
	}
	notify(p.config.Listener, ev, p.sess)
	p.actor.shutdown()
}

func (p *Prover) clearTimer() {
	if p.armed {
		p.config.Scheduler.ClearTimer(p)
		p.armed = false
	}
}

var _ Timed = (*Prover)(nil)
